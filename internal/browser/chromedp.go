package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	pollInterval  = 100 * time.Millisecond
	outputBufSize = 64 * 1024
)

// ChromedpLauncher starts Chrome through chromedp's exec allocator.
type ChromedpLauncher struct {
	logger *zap.Logger
}

func (l *ChromedpLauncher) Launch(ctx context.Context, opts Options) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := orNop(l.logger).With(zap.String("component", "chromedp"))
	output := newRingBuffer(outputBufSize)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.CombinedOutput(output),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives ctx; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	b := &chromedpBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		opts:        opts,
		output:      output,
		logger:      logger,
	}
	// The first Run allocates the browser and binds it to the context it is
	// given, so it must not run on a derived, cancellable context.
	if err := chromedp.Run(browserCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	logger.Info("browser started",
		zap.Bool("headless", opts.Headless),
		zap.Int("viewport_w", opts.ViewportWidth),
		zap.Int("viewport_h", opts.ViewportHeight))
	return b, nil
}

type chromedpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        Options
	output      *ringBuffer
	logger      *zap.Logger

	mu          sync.Mutex
	pageCancels []context.CancelFunc
	closeOnce   sync.Once
}

func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pageCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	p := &chromedpPage{
		ctx:    pageCtx,
		opts:   b.opts,
		logger: b.logger,
	}
	if err := chromedp.Run(pageCtx, page.SetLifecycleEventsEnabled(true)); err != nil {
		cancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	p.mainFrame = cdp.FrameID(chromedp.FromContext(pageCtx).Target.TargetID)
	chromedp.ListenTarget(pageCtx, p.onEvent)

	b.mu.Lock()
	b.pageCancels = append(b.pageCancels, cancel)
	b.mu.Unlock()
	return p, nil
}

// Output returns the tail of the browser process output.
func (b *chromedpBrowser) Output() string {
	return b.output.String()
}

func (b *chromedpBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.logger.Info("closing browser")
		b.mu.Lock()
		for _, cancel := range b.pageCancels {
			cancel()
		}
		b.pageCancels = nil
		b.mu.Unlock()
		// Cancelling the first chromedp context closes Chrome gracefully;
		// the allocator cancel then waits for the process to exit.
		b.cancel()
		b.allocCancel()
	})
	return nil
}

type chromedpPage struct {
	ctx       context.Context
	opts      Options
	logger    *zap.Logger
	mainFrame cdp.FrameID

	mu       sync.Mutex
	idle     chan struct{}
	armed    bool
	idleDone bool
}

// onEvent tracks main-frame lifecycle events. Only networkIdle events that
// follow an init event of a navigation started by Navigate release waiters.
func (p *chromedpPage) onEvent(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.FrameID != p.mainFrame {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Name {
	case "init":
		if p.idle != nil && !p.idleDone {
			p.armed = true
		}
	case "networkIdle":
		if p.armed && !p.idleDone {
			close(p.idle)
			p.idleDone = true
		}
	}
}

func (p *chromedpPage) AddInitScript(ctx context.Context, source string) error {
	return runWith(ctx, p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	}))
}

// startNavigation discards the idle state of any earlier navigation.
func (p *chromedpPage) startNavigation() {
	p.mu.Lock()
	p.idle = make(chan struct{})
	p.armed = false
	p.idleDone = false
	p.mu.Unlock()
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	p.startNavigation()

	ctx, cancel := withTimeout(ctx, p.opts.NavigationTimeout)
	defer cancel()

	p.logger.Debug("navigating", zap.String("url", url))
	return runWith(ctx, p.ctx, chromedp.Navigate(url))
}

func (p *chromedpPage) WaitForNetworkIdle(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	if idle == nil {
		return errors.New("no navigation started")
	}

	ctx, cancel := withTimeout(ctx, p.opts.NavigationTimeout)
	defer cancel()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chromedpPage) Screenshot(ctx context.Context, path string, fullPage bool) error {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// Quality 100 keeps the capture in PNG format.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := runWith(ctx, p.ctx, action); err != nil {
		return err
	}
	return writeFile(path, buf)
}

func (p *chromedpPage) GetByLabel(label string, exact bool) Locator {
	return &chromedpLocator{page: p, query: labelQuery(label, exact)}
}

func (p *chromedpPage) GetByText(text string, exact bool) Locator {
	return &chromedpLocator{page: p, query: textQuery(text, exact)}
}

func (p *chromedpPage) AccessibilitySnapshot(ctx context.Context) ([]A11yNode, error) {
	var raw json.RawMessage
	if err := runWith(ctx, p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, accessibility.CommandGetFullAXTree, nil, &raw)
	})); err != nil {
		return nil, fmt.Errorf("accessibility tree: %w", err)
	}
	nodes, err := decodeAXTree(raw)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(nodes), nil
}

type chromedpLocator struct {
	page  *chromedpPage
	query elementQuery
}

func (l *chromedpLocator) String() string {
	return l.query.String()
}

func (l *chromedpLocator) resolve(ctx context.Context, op, arg string) (resolution, error) {
	var res resolution
	err := runWith(ctx, l.page.ctx, chromedp.Evaluate(l.query.expression(op, arg), &res))
	return res, err
}

func (l *chromedpLocator) IsVisible(ctx context.Context) (bool, error) {
	res, err := l.resolve(ctx, opVisible, "")
	if err != nil {
		return false, err
	}
	if res.Count == 0 {
		return false, nil
	}
	if err := res.single(l.query); err != nil {
		return false, err
	}
	return res.Visible, nil
}

func (l *chromedpLocator) GetAttribute(ctx context.Context, name string) (string, bool, error) {
	res, err := l.resolve(ctx, opAttr, name)
	if err != nil {
		return "", false, err
	}
	if err := res.single(l.query); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

// Click waits until the element is unique and visible, then clicks its
// center.
func (l *chromedpLocator) Click(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, l.page.opts.ActionTimeout)
	defer cancel()

	resolve := func(ctx context.Context) (resolution, error) {
		return l.resolve(ctx, opPoint, "")
	}
	click := func(ctx context.Context, r resolution) error {
		l.page.logger.Debug("clicking", zap.Stringer("locator", l),
			zap.Float64("x", r.X), zap.Float64("y", r.Y))
		return runWith(ctx, l.page.ctx, clickAt(r.X, r.Y))
	}
	return clickWhenReady(ctx, l.query, pollInterval, resolve, click)
}

// clickWhenReady polls resolve until the element is clickable or ctx ends.
// More than one match fails at once.
func clickWhenReady(ctx context.Context, q elementQuery, interval time.Duration,
	resolve func(context.Context) (resolution, error),
	click func(context.Context, resolution) error,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := resolve(ctx)
		if err == nil {
			if res.Count > 1 {
				return res.single(q)
			}
			if clickable(res) {
				return click(ctx, res)
			}
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = res.single(q)
			}
			if err == nil {
				err = errors.New("element not visible")
			}
			return fmt.Errorf("click %s: %w (%v)", q, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// runWith runs actions on the chromedp context target while honoring the
// cancellation of the caller's ctx.
func runWith(ctx, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
