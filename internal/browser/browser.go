// Package browser drives a headless browser for the accessibility probe.
//
// Two drivers implement the same Launcher/Browser/Page/Locator contract:
// a chromedp driver speaking CDP directly (the default) and a
// playwright-go driver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a locator resolves to no element.
	ErrNotFound = errors.New("element not found")
	// ErrStrictMode is returned when a locator resolves to more than one element.
	ErrStrictMode = errors.New("strict mode violation")
	// ErrUnsupported is returned by drivers that cannot serve an operation.
	ErrUnsupported = errors.New("operation not supported by driver")
)

const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// Options configures a browser launch.
type Options struct {
	Headless          bool
	ExecPath          string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	// ActionTimeout bounds a single locator action such as a click.
	ActionTimeout time.Duration
}

// Launcher starts one browser process per call.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Browser, error)
}

// Browser is a running browser process. Close releases it and every page
// opened from it.
type Browser interface {
	// NewPage opens a page inside a fresh, isolated browsing context.
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

type Page interface {
	// AddInitScript registers source to run in every new document before
	// any page script.
	AddInitScript(ctx context.Context, source string) error
	Navigate(ctx context.Context, url string) error
	// WaitForNetworkIdle blocks until no requests have been in flight for
	// the quiet period.
	WaitForNetworkIdle(ctx context.Context) error
	// Screenshot writes a PNG to path, overwriting any existing file.
	Screenshot(ctx context.Context, path string, fullPage bool) error
	GetByLabel(label string, exact bool) Locator
	GetByText(text string, exact bool) Locator
	// AccessibilitySnapshot returns the flattened accessibility tree.
	AccessibilitySnapshot(ctx context.Context) ([]A11yNode, error)
}

// Locator is a lazy element query. Every call re-resolves it against the
// current document.
type Locator interface {
	String() string
	Click(ctx context.Context) error
	IsVisible(ctx context.Context) (bool, error)
	// GetAttribute returns the attribute value and whether it is present.
	GetAttribute(ctx context.Context, name string) (string, bool, error)
}

// NewLauncher returns the launcher for the named driver.
func NewLauncher(driver string, opts ...LauncherOption) (Launcher, error) {
	lo := launcherOptions{}
	for _, o := range opts {
		o(&lo)
	}
	switch driver {
	case "", DriverChromedp:
		return &ChromedpLauncher{logger: lo.logger}, nil
	case DriverPlaywright:
		return &PlaywrightLauncher{logger: lo.logger}, nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

type LauncherOption func(*launcherOptions)

type launcherOptions struct {
	logger *zap.Logger
}

// WithLogger sets the logger handed to every browser the launcher starts.
func WithLogger(logger *zap.Logger) LauncherOption {
	return func(o *launcherOptions) { o.logger = logger }
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
