package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const testFrame = cdp.FrameID("MAIN")

func newTestPage() *chromedpPage {
	return &chromedpPage{
		opts:      Options{NavigationTimeout: time.Second},
		logger:    zap.NewNop(),
		mainFrame: testFrame,
	}
}

func lifecycle(frame cdp.FrameID, name string) *page.EventLifecycleEvent {
	return &page.EventLifecycleEvent{FrameID: frame, Name: name}
}

func idleReleased(p *chromedpPage) bool {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()
	select {
	case <-idle:
		return true
	default:
		return false
	}
}

func TestNetworkIdleGate(t *testing.T) {
	tests := []struct {
		name   string
		events []any
		want   bool
	}{
		{"no events", nil, false},
		{"idle before init", []any{lifecycle(testFrame, "networkIdle")}, false},
		{"init then idle", []any{lifecycle(testFrame, "init"), lifecycle(testFrame, "networkIdle")}, true},
		{"idle from other frame", []any{lifecycle(testFrame, "init"), lifecycle("CHILD", "networkIdle")}, false},
		{"init from other frame", []any{lifecycle("CHILD", "init"), lifecycle(testFrame, "networkIdle")}, false},
		{"other lifecycle names", []any{lifecycle(testFrame, "init"), lifecycle(testFrame, "load"), lifecycle(testFrame, "networkAlmostIdle")}, false},
		{"unrelated event", []any{&page.EventLoadEventFired{}, lifecycle(testFrame, "networkIdle")}, false},
		{"repeated idle", []any{lifecycle(testFrame, "init"), lifecycle(testFrame, "networkIdle"), lifecycle(testFrame, "networkIdle")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPage()
			p.startNavigation()
			for _, ev := range tt.events {
				p.onEvent(ev)
			}
			if got := idleReleased(p); got != tt.want {
				t.Errorf("released = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNetworkIdleGateIgnoresEventsBeforeNavigation(t *testing.T) {
	p := newTestPage()
	// Nothing to release yet; must not panic.
	p.onEvent(lifecycle(testFrame, "init"))
	p.onEvent(lifecycle(testFrame, "networkIdle"))

	p.startNavigation()
	if idleReleased(p) {
		t.Fatal("idle released by events that preceded the navigation")
	}
}

func TestNetworkIdleGateRearmsPerNavigation(t *testing.T) {
	p := newTestPage()
	p.startNavigation()
	p.onEvent(lifecycle(testFrame, "init"))
	p.onEvent(lifecycle(testFrame, "networkIdle"))
	if !idleReleased(p) {
		t.Fatal("first navigation not released")
	}

	p.startNavigation()
	if idleReleased(p) {
		t.Fatal("second navigation inherited the earlier idle state")
	}
	p.onEvent(lifecycle(testFrame, "networkIdle"))
	if idleReleased(p) {
		t.Fatal("second navigation released without its own init")
	}
	p.onEvent(lifecycle(testFrame, "init"))
	p.onEvent(lifecycle(testFrame, "networkIdle"))
	if !idleReleased(p) {
		t.Fatal("second navigation not released")
	}
}

func TestWaitForNetworkIdle(t *testing.T) {
	t.Run("before navigate", func(t *testing.T) {
		p := newTestPage()
		if err := p.WaitForNetworkIdle(context.Background()); err == nil {
			t.Fatal("expected error without a navigation")
		}
	})

	t.Run("released", func(t *testing.T) {
		p := newTestPage()
		p.startNavigation()
		go func() {
			p.onEvent(lifecycle(testFrame, "init"))
			p.onEvent(lifecycle(testFrame, "networkIdle"))
		}()
		if err := p.WaitForNetworkIdle(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("caller timeout", func(t *testing.T) {
		p := newTestPage()
		p.startNavigation()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := p.WaitForNetworkIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("got %v, want DeadlineExceeded", err)
		}
	})

	t.Run("navigation timeout", func(t *testing.T) {
		p := newTestPage()
		p.opts.NavigationTimeout = 20 * time.Millisecond
		p.startNavigation()
		if err := p.WaitForNetworkIdle(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("got %v, want DeadlineExceeded", err)
		}
	})
}

func TestRunWith(t *testing.T) {
	// A plain context is not a chromedp target, so Run fails immediately.
	err := runWith(context.Background(), context.Background())
	if !errors.Is(err, chromedp.ErrInvalidContext) {
		t.Fatalf("got %v, want ErrInvalidContext", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = runWith(ctx, context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want the caller's cancellation", err)
	}
}

func TestClickWhenReady(t *testing.T) {
	q := textQuery("Theory", false)
	ready := resolution{Count: 1, Visible: true, X: 40, Y: 12}

	t.Run("clicks once visible", func(t *testing.T) {
		calls := 0
		resolve := func(context.Context) (resolution, error) {
			calls++
			if calls < 3 {
				return resolution{Count: 1}, nil
			}
			return ready, nil
		}
		var clicked resolution
		click := func(_ context.Context, r resolution) error {
			clicked = r
			return nil
		}
		if err := clickWhenReady(context.Background(), q, time.Millisecond, resolve, click); err != nil {
			t.Fatal(err)
		}
		if calls != 3 || clicked != ready {
			t.Errorf("calls=%d clicked=%+v", calls, clicked)
		}
	})

	t.Run("retries evaluation errors", func(t *testing.T) {
		calls := 0
		resolve := func(context.Context) (resolution, error) {
			calls++
			if calls == 1 {
				return resolution{}, errors.New("execution context was destroyed")
			}
			return ready, nil
		}
		click := func(context.Context, resolution) error { return nil }
		if err := clickWhenReady(context.Background(), q, time.Millisecond, resolve, click); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("strict mode exits at once", func(t *testing.T) {
		calls := 0
		resolve := func(context.Context) (resolution, error) {
			calls++
			return resolution{Count: 2, Visible: true}, nil
		}
		click := func(context.Context, resolution) error {
			t.Fatal("clicked an ambiguous locator")
			return nil
		}
		err := clickWhenReady(context.Background(), q, time.Millisecond, resolve, click)
		if !errors.Is(err, ErrStrictMode) {
			t.Fatalf("got %v, want ErrStrictMode", err)
		}
		if calls != 1 {
			t.Errorf("resolved %d times, want 1", calls)
		}
	})

	t.Run("missing until timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		resolve := func(context.Context) (resolution, error) { return resolution{}, nil }
		click := func(context.Context, resolution) error { return nil }
		err := clickWhenReady(ctx, q, time.Millisecond, resolve, click)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("got %v, want DeadlineExceeded", err)
		}
	})

	t.Run("hidden until timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		resolve := func(context.Context) (resolution, error) { return resolution{Count: 1}, nil }
		click := func(context.Context, resolution) error { return nil }
		err := clickWhenReady(ctx, q, time.Millisecond, resolve, click)
		if err == nil || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("got %v, want DeadlineExceeded", err)
		}
	})

	t.Run("click error is returned", func(t *testing.T) {
		boom := errors.New("target closed")
		resolve := func(context.Context) (resolution, error) { return ready, nil }
		click := func(context.Context, resolution) error { return boom }
		if err := clickWhenReady(context.Background(), q, time.Millisecond, resolve, click); !errors.Is(err, boom) {
			t.Fatalf("got %v, want %v", err, boom)
		}
	})
}
