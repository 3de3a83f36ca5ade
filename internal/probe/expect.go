package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harmoniq/a11yprobe/internal/browser"
)

const (
	defaultExpectTimeout = 5 * time.Second
	expectPollInterval   = 100 * time.Millisecond
)

// ExpectationError reports an expectation that did not hold before its
// timeout.
type ExpectationError struct {
	Locator  string
	Expected string
	Actual   string
	Err      error
}

func (e *ExpectationError) Error() string {
	msg := fmt.Sprintf("expected %s to %s", e.Locator, e.Expected)
	if e.Actual != "" {
		msg += ", got " + e.Actual
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExpectationError) Unwrap() error { return e.Err }

// expecter polls a condition until it holds or the timeout passes.
type expecter struct {
	timeout  time.Duration
	interval time.Duration
}

func newExpecter(timeout time.Duration) expecter {
	if timeout <= 0 {
		timeout = defaultExpectTimeout
	}
	return expecter{timeout: timeout, interval: expectPollInterval}
}

// check evaluates the condition once. actual describes the observed state
// for the error message.
type check func(ctx context.Context) (ok bool, actual string, err error)

func (x expecter) poll(ctx context.Context, loc browser.Locator, expected string, fn check) error {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	ticker := time.NewTicker(x.interval)
	defer ticker.Stop()

	for {
		ok, actual, err := fn(ctx)
		if err == nil && ok {
			return nil
		}
		// A strict mode violation does not resolve by waiting.
		if errors.Is(err, browser.ErrStrictMode) {
			return &ExpectationError{Locator: loc.String(), Expected: expected, Err: err}
		}
		select {
		case <-ctx.Done():
			switch {
			case err != nil:
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				err = fmt.Errorf("timed out after %s", x.timeout)
			default:
				err = ctx.Err()
			}
			return &ExpectationError{Locator: loc.String(), Expected: expected, Actual: actual, Err: err}
		case <-ticker.C:
		}
	}
}

func (x expecter) toBeVisible(ctx context.Context, loc browser.Locator) error {
	return x.poll(ctx, loc, "be visible", func(ctx context.Context) (bool, string, error) {
		visible, err := loc.IsVisible(ctx)
		if err != nil {
			return false, "", err
		}
		if !visible {
			return false, "hidden or missing", nil
		}
		return true, "", nil
	})
}

func (x expecter) toHaveAttribute(ctx context.Context, loc browser.Locator, name, want string) error {
	expected := fmt.Sprintf("have attribute %s=%q", name, want)
	return x.poll(ctx, loc, expected, func(ctx context.Context) (bool, string, error) {
		got, present, err := loc.GetAttribute(ctx, name)
		if err != nil {
			return false, "", err
		}
		if !present {
			return false, name + " absent", nil
		}
		return got == want, fmt.Sprintf("%s=%q", name, got), nil
	})
}
