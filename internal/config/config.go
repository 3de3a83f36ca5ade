// Package config holds the probe configuration. Defaults reproduce the
// fixed target of the Studio accessibility check; a YAML file and
// A11YPROBE_* environment variables may override them.
package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// PathEnv names the environment variable holding an optional YAML
	// config file path.
	PathEnv = "A11YPROBE_CONFIG"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "A11YPROBE"
)

type Config struct {
	TargetURL      string `yaml:"target_url" env:"TARGET_URL"`
	ScreenshotPath string `yaml:"screenshot_path" env:"SCREENSHOT_PATH"`
	FullPage       bool   `yaml:"full_page" env:"FULL_PAGE"`
	// SnapshotPath receives a text accessibility tree when set.
	SnapshotPath  string        `yaml:"snapshot_path" env:"SNAPSHOT_PATH"`
	ExpectTimeout time.Duration `yaml:"expect_timeout" env:"EXPECT_TIMEOUT"`

	Onboarding OnboardingConfig `yaml:"onboarding" env:"ONBOARDING"`
	Browser    BrowserConfig    `yaml:"browser" env:"BROWSER"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
}

// OnboardingConfig is the localStorage entry that marks onboarding as done
// before the first page load.
type OnboardingConfig struct {
	Key   string `yaml:"key" env:"KEY"`
	Value string `yaml:"value" env:"VALUE"`
}

type BrowserConfig struct {
	// Driver is "chromedp" or "playwright".
	Driver            string        `yaml:"driver" env:"DRIVER"`
	Headless          bool          `yaml:"headless" env:"HEADLESS"`
	ExecPath          string        `yaml:"exec_path" env:"EXEC_PATH"`
	ViewportWidth     int           `yaml:"viewport_width" env:"VIEWPORT_WIDTH"`
	ViewportHeight    int           `yaml:"viewport_height" env:"VIEWPORT_HEIGHT"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" env:"NAVIGATION_TIMEOUT"`
	ActionTimeout     time.Duration `yaml:"action_timeout" env:"ACTION_TIMEOUT"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is console or json.
	Format string `yaml:"format" env:"FORMAT"`
}

func Default() *Config {
	return &Config{
		TargetURL:      "http://localhost:3001/studio",
		ScreenshotPath: "/app/verification/studio_a11y.png",
		FullPage:       true,
		ExpectTimeout:  5 * time.Second,
		Onboarding: OnboardingConfig{
			Key:   "harmoniq-studio-onboarding",
			Value: "true",
		},
		Browser: BrowserConfig{
			Driver:            "chromedp",
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    720,
			NavigationTimeout: 30 * time.Second,
			ActionTimeout:     30 * time.Second,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.TargetURL == "" {
		errs = append(errs, errors.New("target_url is required"))
	}
	if c.ScreenshotPath == "" {
		errs = append(errs, errors.New("screenshot_path is required"))
	}
	if c.ExpectTimeout <= 0 {
		errs = append(errs, errors.New("expect_timeout must be positive"))
	}
	if c.Onboarding.Key == "" {
		errs = append(errs, errors.New("onboarding.key is required"))
	}
	switch c.Browser.Driver {
	case "chromedp", "playwright":
	default:
		errs = append(errs, fmt.Errorf("unknown browser.driver %q", c.Browser.Driver))
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		errs = append(errs, errors.New("browser viewport must be positive"))
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.ActionTimeout <= 0 {
		errs = append(errs, errors.New("browser timeouts must be positive"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
