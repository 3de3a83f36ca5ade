// Command a11yprobe verifies the accessibility attributes of the Harmoniq
// Studio page. It prints one line per verified check and exits non-zero on
// the first failure.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/harmoniq/a11yprobe/internal/browser"
	"github.com/harmoniq/a11yprobe/internal/config"
	"github.com/harmoniq/a11yprobe/internal/probe"
)

const successLine = "SUCCESS: Accessibility verification passed."

var newLauncher = browser.NewLauncher

func main() {
	os.Exit(run(os.Stdout, os.Stderr))
}

func run(stdout, stderr io.Writer) int {
	cfg, err := config.NewLoader().WithConfigPath(os.Getenv(config.PathEnv)).Load()
	if err != nil {
		fmt.Fprintf(stdout, "FAILURE: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Log, stderr).With(zap.String("run_id", uuid.NewString()))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher, err := newLauncher(cfg.Browser.Driver, browser.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stdout, "FAILURE: %v\n", err)
		return 1
	}

	logger.Info("starting accessibility probe",
		zap.String("url", cfg.TargetURL),
		zap.String("driver", cfg.Browser.Driver),
	)
	if err := probe.New(cfg, launcher, stdout, logger).Run(ctx); err != nil {
		logger.Error("accessibility probe failed", zap.Error(err))
		fmt.Fprintf(stdout, "FAILURE: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, successLine)
	return 0
}

func newLogger(cfg config.LogConfig, w io.Writer) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller())
}
