package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/mobile-harness/pkg/config"
	"github.com/devicelab-dev/mobile-harness/pkg/harness"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
	"github.com/devicelab-dev/mobile-harness/pkg/telemetry"
)

// loadConfig reads harness.yaml from the workspace and applies global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	workspace := c.String("workspace")
	if workspace == "" {
		workspace = config.CurrentWorkspace()
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := c.String("env"); v != "" {
		cfg.Environment = v
	}
	if v := c.String("device"); v != "" {
		cfg.Device = v
	}
	if v := c.String("config-dir"); v != "" {
		if cfg.ConfigDir, err = filepath.Abs(v); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// initLogging configures the global logger from cfg and --verbose.
func initLogging(c *cli.Context, cfg *config.Config) error {
	lc := logger.Config{
		Path:   cfg.Log.Path,
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}
	if c.Bool("verbose") {
		lc.Console = c.App.ErrWriter
		if lc.Console == nil {
			lc.Console = os.Stderr
		}
		lc.Level = "debug"
		if lc.Format == "" {
			lc.Format = "text"
		}
	}
	return logger.Init(lc)
}

// openHarness loads the workspace and builds the harness.
func openHarness(c *cli.Context, opts ...harness.Option) (*harness.Harness, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := initLogging(c, cfg); err != nil {
		return nil, err
	}
	if c.Bool("trace") {
		w := c.App.ErrWriter
		if w == nil {
			w = os.Stderr
		}
		tp, err := telemetry.NewTracerProvider("mobile-harness", Version, w)
		if err != nil {
			return nil, err
		}
		opts = append(opts, harness.WithTracerProvider(tp))
	}
	if path := c.String("metrics-file"); path != "" {
		opts = append(opts, harness.WithMetricsFile(path))
	}
	return harness.New(cfg, opts...)
}
