package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/harmoniq/a11yprobe/internal/browser"
	"github.com/harmoniq/a11yprobe/internal/browser/browsertest"
	"github.com/harmoniq/a11yprobe/internal/config"
)

func useLauncher(t *testing.T, fn func(driver string, opts ...browser.LauncherOption) (browser.Launcher, error)) {
	t.Helper()
	orig := newLauncher
	newLauncher = fn
	t.Cleanup(func() { newLauncher = orig })
}

func useFakeStudio(t *testing.T, page *browsertest.Page) *browsertest.Launcher {
	t.Helper()
	l := browsertest.NewLauncher(page)
	useLauncher(t, func(string, ...browser.LauncherOption) (browser.Launcher, error) {
		return l, nil
	})
	t.Setenv("A11YPROBE_SCREENSHOT_PATH", filepath.Join(t.TempDir(), "studio_a11y.png"))
	t.Setenv("A11YPROBE_EXPECT_TIMEOUT", "200ms")
	return l
}

func TestRun_Success(t *testing.T) {
	l := useFakeStudio(t, browsertest.Studio())

	var stdout, stderr strings.Builder
	code := run(&stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Equal(t,
		"Verified: Production Tip button has correct ARIA label\n"+
			"Verified: Piano Key (C) exists and has correct attributes\n"+
			"SUCCESS: Accessibility verification passed.\n",
		stdout.String())
	assert.Equal(t, 1, l.Browser.Closed())
	// Default log level is warn, so a passing run is quiet.
	assert.Empty(t, stderr.String())
}

func TestRun_AssertionFailure(t *testing.T) {
	page := browsertest.Studio()
	delete(page.Labels, "Note C")
	l := useFakeStudio(t, page)

	var stdout, stderr strings.Builder
	code := run(&stdout, &stderr)

	assert.Equal(t, 1, code)
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Verified: Production Tip button has correct ARIA label", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "FAILURE: expected label \"Note C\" (exact) to be visible"), lines[1])
	assert.NotContains(t, stdout.String(), "SUCCESS")
	assert.Equal(t, 1, l.Browser.Closed())
	assert.Contains(t, stderr.String(), "accessibility probe failed")
}

func TestRun_ConfigError(t *testing.T) {
	useLauncher(t, func(string, ...browser.LauncherOption) (browser.Launcher, error) {
		t.Fatal("launcher must not be built for an invalid config")
		return nil, nil
	})
	t.Setenv(config.PathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	var stdout, stderr strings.Builder
	code := run(&stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "FAILURE: load config file"), stdout.String())
}

func TestRun_UnknownLogLevel(t *testing.T) {
	useFakeStudio(t, browsertest.Studio())
	t.Setenv("A11YPROBE_LOG_LEVEL", "warning")

	var stdout, stderr strings.Builder
	code := run(&stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), `FAILURE: invalid config: unknown log.level "warning"`)
	assert.Empty(t, stderr.String())
}

func TestRun_LauncherError(t *testing.T) {
	useLauncher(t, func(driver string, _ ...browser.LauncherOption) (browser.Launcher, error) {
		assert.Equal(t, "playwright", driver)
		return nil, errors.New("playwright driver not installed")
	})
	t.Setenv("A11YPROBE_BROWSER_DRIVER", "playwright")

	var stdout, stderr strings.Builder
	code := run(&stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Equal(t, "FAILURE: playwright driver not installed\n", stdout.String())
}

func TestRun_JSONLogsCarryRunID(t *testing.T) {
	useFakeStudio(t, browsertest.Studio())
	t.Setenv("A11YPROBE_LOG_LEVEL", "info")
	t.Setenv("A11YPROBE_LOG_FORMAT", "json")

	var stdout, stderr strings.Builder
	require.Equal(t, 0, run(&stdout, &stderr))

	lines := strings.Split(strings.TrimSpace(stderr.String()), "\n")
	require.NotEmpty(t, lines)
	var runID string
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		id, ok := entry["run_id"].(string)
		require.True(t, ok, "entry without run_id: %s", line)
		if runID == "" {
			runID = id
		}
		assert.Equal(t, runID, id)
	}
	assert.Len(t, runID, 36)
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
		warnOn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(config.LogConfig{Level: tt.level, Format: "console"}, &strings.Builder{})
			core := logger.Core()
			assert.Equal(t, tt.debugOn, core.Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.infoOn, core.Enabled(zapcore.InfoLevel))
			assert.Equal(t, tt.warnOn, core.Enabled(zapcore.WarnLevel))
		})
	}
}
