// Package probe runs the Studio accessibility check: it loads the Studio
// page in a headless browser with onboarding bypassed, captures a
// screenshot, and verifies the accessible name of the production-tip
// button and the pressed state of the C piano key.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/harmoniq/a11yprobe/internal/browser"
	"github.com/harmoniq/a11yprobe/internal/config"
)

const (
	TipButtonLabel = "Get new production tip"
	TheoryTabText  = "Theory"
	NoteCLabel     = "Note C"

	pressedAttr = "aria-pressed"
)

const (
	tipVerifiedLine   = "Verified: Production Tip button has correct ARIA label"
	pianoVerifiedLine = "Verified: Piano Key (C) exists and has correct attributes"
)

// Probe drives one verification run. It is not safe for concurrent use.
type Probe struct {
	cfg      *config.Config
	launcher browser.Launcher
	out      io.Writer
	logger   *zap.Logger
	expect   expecter
}

// New returns a Probe that prints step confirmations to out.
func New(cfg *config.Config, launcher browser.Launcher, out io.Writer, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{
		cfg:      cfg,
		launcher: launcher,
		out:      out,
		logger:   logger.With(zap.String("component", "probe")),
		expect:   newExpecter(cfg.ExpectTimeout),
	}
}

// Run performs the verification. The browser it launches is closed on
// every return path.
func (p *Probe) Run(ctx context.Context) (err error) {
	b, err := p.launcher.Launch(ctx, launchOptions(p.cfg.Browser))
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err != nil {
			p.logBrowserOutput(b)
		}
		if cerr := b.Close(); cerr != nil {
			p.logger.Warn("close browser", zap.Error(cerr))
		}
	}()

	pg, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("new page: %w", err)
	}
	if p.cfg.SnapshotPath != "" {
		defer p.writeSnapshot(ctx, pg)
	}

	if err := pg.AddInitScript(ctx, onboardingScript(p.cfg.Onboarding)); err != nil {
		return fmt.Errorf("add init script: %w", err)
	}

	p.logger.Info("navigating", zap.String("url", p.cfg.TargetURL))
	if err := pg.Navigate(ctx, p.cfg.TargetURL); err != nil {
		return fmt.Errorf("navigate to %s: %w", p.cfg.TargetURL, err)
	}
	if err := pg.WaitForNetworkIdle(ctx); err != nil {
		return fmt.Errorf("wait for network idle: %w", err)
	}

	if err := pg.Screenshot(ctx, p.cfg.ScreenshotPath, p.cfg.FullPage); err != nil {
		return fmt.Errorf("screenshot %s: %w", p.cfg.ScreenshotPath, err)
	}
	p.logger.Info("screenshot saved", zap.String("path", p.cfg.ScreenshotPath))

	tip := pg.GetByLabel(TipButtonLabel, false)
	if err := p.expect.toBeVisible(ctx, tip); err != nil {
		return err
	}
	fmt.Fprintln(p.out, tipVerifiedLine)

	if err := pg.GetByText(TheoryTabText, false).Click(ctx); err != nil {
		return fmt.Errorf("switch to theory tab: %w", err)
	}

	key := pg.GetByLabel(NoteCLabel, true)
	if err := p.expect.toBeVisible(ctx, key); err != nil {
		return err
	}
	if err := p.expect.toHaveAttribute(ctx, key, pressedAttr, "false"); err != nil {
		return err
	}
	fmt.Fprintln(p.out, pianoVerifiedLine)

	return nil
}

// onboardingScript returns JS that stores the onboarding flag in
// localStorage. Values are JSON-quoted so any key or value is safe.
func onboardingScript(o config.OnboardingConfig) string {
	key, _ := json.Marshal(o.Key)
	value, _ := json.Marshal(o.Value)
	return fmt.Sprintf("localStorage.setItem(%s, %s);", key, value)
}

func launchOptions(c config.BrowserConfig) browser.Options {
	return browser.Options{
		Headless:          c.Headless,
		ExecPath:          c.ExecPath,
		ViewportWidth:     c.ViewportWidth,
		ViewportHeight:    c.ViewportHeight,
		NavigationTimeout: c.NavigationTimeout,
		ActionTimeout:     c.ActionTimeout,
	}
}

// writeSnapshot stores the accessibility tree as text. Failures are logged
// and never change the run result.
func (p *Probe) writeSnapshot(ctx context.Context, pg browser.Page) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	nodes, err := pg.AccessibilitySnapshot(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			p.logger.Info("accessibility snapshot skipped", zap.Error(err))
		} else {
			p.logger.Warn("accessibility snapshot failed", zap.Error(err))
		}
		return
	}
	path := p.cfg.SnapshotPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		p.logger.Warn("accessibility snapshot failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, []byte(browser.FormatSnapshot(nodes)), 0o644); err != nil {
		p.logger.Warn("accessibility snapshot failed", zap.Error(err))
		return
	}
	p.logger.Info("accessibility snapshot saved", zap.String("path", path), zap.Int("nodes", len(nodes)))
}

// logBrowserOutput logs the captured browser process output when the
// driver keeps one.
func (p *Probe) logBrowserOutput(b browser.Browser) {
	o, ok := b.(interface{ Output() string })
	if !ok {
		return
	}
	if out := o.Output(); out != "" {
		p.logger.Debug("browser output", zap.String("tail", out))
	}
}
