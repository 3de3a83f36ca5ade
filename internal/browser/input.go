package browser

import (
	"context"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// clickAt moves the pointer to (x, y) and performs a single left click.
// Coordinates are CSS pixels relative to the viewport.
func clickAt(x, y float64) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithClickCount(1).
			Do(ctx); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).
			WithClickCount(1).
			Do(ctx)
	})
}

// clickable reports whether a resolved element can receive a click at its
// center point.
func clickable(r resolution) bool {
	return r.Count == 1 && r.Visible && r.X >= 0 && r.Y >= 0
}
