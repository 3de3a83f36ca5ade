package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// PlaywrightLauncher starts Chromium through playwright-go. The Playwright
// driver and browsers must already be installed.
type PlaywrightLauncher struct {
	logger *zap.Logger
}

func (l *PlaywrightLauncher) Launch(ctx context.Context, opts Options) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := orNop(l.logger).With(zap.String("component", "playwright"))

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.ExecPath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ExecPath)
	}
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	logger.Info("browser started", zap.Bool("headless", opts.Headless))
	return &playwrightBrowser{pw: pw, browser: browser, opts: opts, logger: logger}, nil
}

type playwrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    Options
	logger  *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (b *playwrightBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: b.opts.ViewportWidth, Height: b.opts.ViewportHeight},
	})
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	pg, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if b.opts.ActionTimeout > 0 {
		pg.SetDefaultTimeout(millis(b.opts.ActionTimeout))
	}
	if b.opts.NavigationTimeout > 0 {
		pg.SetDefaultNavigationTimeout(millis(b.opts.NavigationTimeout))
	}
	return &playwrightPage{page: pg, logger: b.logger}, nil
}

func (b *playwrightBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.logger.Info("closing browser")
		b.closeErr = errors.Join(b.browser.Close(), b.pw.Stop())
	})
	return b.closeErr
}

type playwrightPage struct {
	page   playwright.Page
	logger *zap.Logger
}

func (p *playwrightPage) AddInitScript(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.AddInitScript(playwright.Script{Content: playwright.String(source)})
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.Debug("navigating", zap.String("url", url))
	_, err := p.page.Goto(url)
	return err
}

func (p *playwrightPage) WaitForNetworkIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	})
}

func (p *playwrightPage) Screenshot(ctx context.Context, path string, fullPage bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	return err
}

func (p *playwrightPage) GetByLabel(label string, exact bool) Locator {
	return &playwrightLocator{
		loc:   p.page.GetByLabel(label, playwright.PageGetByLabelOptions{Exact: playwright.Bool(exact)}),
		query: labelQuery(label, exact),
	}
}

func (p *playwrightPage) GetByText(text string, exact bool) Locator {
	return &playwrightLocator{
		loc:   p.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(exact)}),
		query: textQuery(text, exact),
	}
}

func (p *playwrightPage) AccessibilitySnapshot(ctx context.Context) ([]A11yNode, error) {
	return nil, fmt.Errorf("accessibility snapshot: %w", ErrUnsupported)
}

type playwrightLocator struct {
	loc   playwright.Locator
	query elementQuery
}

func (l *playwrightLocator) String() string {
	return l.query.String()
}

func (l *playwrightLocator) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.wrap(l.loc.Click())
}

func (l *playwrightLocator) IsVisible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := l.loc.IsVisible()
	return ok, l.wrap(err)
}

func (l *playwrightLocator) GetAttribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	n, err := l.loc.Count()
	if err != nil {
		return "", false, err
	}
	if err := (resolution{Count: n}).single(l.query); err != nil {
		return "", false, err
	}
	v, err := l.loc.Evaluate("(el, name) => el.getAttribute(name)", name)
	if err != nil {
		return "", false, l.wrap(err)
	}
	s, ok := v.(string)
	return s, ok, nil
}

// wrap maps Playwright's strict mode failure onto ErrStrictMode.
func (l *playwrightLocator) wrap(err error) error {
	if err != nil && strings.Contains(err.Error(), "strict mode violation") {
		return fmt.Errorf("%s: %w: %v", l.query, ErrStrictMode, err)
	}
	return err
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
