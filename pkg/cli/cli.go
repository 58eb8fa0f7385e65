// Package cli provides the command-line interface for mobile-harness.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "env",
		Aliases: []string{"e"},
		Usage:   "Target environment (local, ci, cloud, saucelabs)",
		EnvVars: []string{"HARNESS_ENV"},
	},
	&cli.StringFlag{
		Name:    "device",
		Usage:   "Device catalog entry",
		EnvVars: []string{"HARNESS_DEVICE"},
	},
	&cli.StringFlag{
		Name:    "config-dir",
		Usage:   "Directory holding <env>.toml profiles and devices.yaml",
		EnvVars: []string{"HARNESS_CONFIG_DIR"},
	},
	&cli.StringFlag{
		Name:    "workspace",
		Aliases: []string{"w"},
		Usage:   "Workspace directory containing harness.yaml (default: $HARNESS_HOME, then the nearest parent holding one)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"HARNESS_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "trace",
		Usage: "Print trace spans to stderr",
	},
	&cli.StringFlag{
		Name:    "metrics-file",
		Usage:   "Write Prometheus metrics to this file on exit (textfile collector format)",
		EnvVars: []string{"HARNESS_METRICS_FILE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "harness",
		Usage:   "Mobile UI automation test harness",
		Version: Version,
		Description: `harness resolves environment profiles and device descriptors into
session capabilities, manages per-worker remote sessions and keeps the
failure artifact directories consistent across test groups.

Examples:
  harness --env local --device android_pixel_7 caps
  harness --env ci devices
  harness prepare --group smoke
  harness --env saucelabs doctor
  harness history --limit 50`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			capsCommand,
			devicesCommand,
			prepareCommand,
			doctorCommand,
			historyCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
