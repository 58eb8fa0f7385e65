package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/mobile-harness/pkg/capability"
	"github.com/devicelab-dev/mobile-harness/pkg/config"
	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/history"
	"github.com/devicelab-dev/mobile-harness/pkg/remote"
)

var capsCommand = &cli.Command{
	Name:  "caps",
	Usage: "Print the session capabilities resolved for --env and --device",
	Description: `Resolve the device descriptor and environment profile and print the
merged capabilities as JSON. Unset ${VAR} references are reported as warnings.

Examples:
  harness --env local --device android_pixel_7 caps
  harness --env saucelabs caps --w3c`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "w3c",
			Usage: "Print keys as sent on the wire (appium: vendor prefix)",
		},
	},
	Action: runCaps,
}

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List the device catalog entries for --env",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "Re-list whenever the catalog or a profile changes (Ctrl-C to stop)",
		},
	},
	Action: runDevices,
}

var prepareCommand = &cli.Command{
	Name:  "prepare",
	Usage: "Run the test group start hook once (clears stale artifacts from a previous run)",
	Description: `Intended as a CI pre-step. Clears the screenshot and report directories
unless the run marker names this process, then writes the marker.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "group",
			Usage: "Group name recorded in the report",
			Value: "prepare",
		},
	},
	Action: runPrepare,
}

var doctorCommand = &cli.Command{
	Name:   "doctor",
	Usage:  "Create and destroy one session to verify the environment",
	Action: runDoctor,
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Show recent test outcomes from the history database",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Number of outcomes to show",
			Value: 20,
		},
		&cli.StringFlag{
			Name:  "run",
			Usage: "Show the status summary of one run id",
		},
	},
	Action: runHistory,
}

func runCaps(c *cli.Context) error {
	w := out(c)
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := initLogging(c, cfg); err != nil {
		return err
	}

	warn := func(err error) { printWarn(c.App.ErrWriter, "%v", err) }
	resolver := config.NewResolver(cfg.ConfigDir, config.WithWarningHandler(warn))
	desc, ok := resolver.DeviceDescriptor(cfg.Environment, cfg.Device)
	if !ok {
		printWarn(c.App.ErrWriter, "device %q not found for %s, using default descriptor", cfg.Device, cfg.Environment)
		desc = config.DefaultDescriptor()
	}

	caps, err := capability.NewBuilder(resolver, capability.WithWarningHandler(warn)).Build(cfg.Environment, desc)
	if err != nil {
		return err
	}

	var v interface{} = caps
	if c.Bool("w3c") {
		v = remote.EncodeCapabilities(caps.Map())
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func runDevices(c *cli.Context) error {
	w := out(c)
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := initLogging(c, cfg); err != nil {
		return err
	}

	resolver := config.NewResolver(cfg.ConfigDir)
	printDevices(w, resolver, cfg)
	if !c.Bool("watch") {
		return nil
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reloaded := make(chan string, 1)
	if err := resolver.Watch(ctx, func(name string) {
		select {
		case reloaded <- name:
		default:
		}
	}); err != nil {
		return fmt.Errorf("watch %s: %w", cfg.ConfigDir, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case name := <-reloaded:
			fmt.Fprintf(w, "\n%s%s changed%s\n", color(colorGray), name, color(colorReset))
			printDevices(w, resolver, cfg)
		}
	}
}

func printDevices(w io.Writer, resolver *config.Resolver, cfg *config.Config) {
	names := resolver.AvailableDevices(cfg.Environment)
	if len(names) == 0 {
		fmt.Fprintf(w, "No devices configured for %s in %s\n", cfg.Environment, cfg.ConfigDir)
		return
	}

	fmt.Fprintf(w, "%sDevices for %s%s\n", color(colorBold), cfg.Environment, color(colorReset))
	for _, name := range names {
		desc, _ := resolver.DeviceDescriptor(cfg.Environment, name)
		marker := " "
		if name == cfg.Device {
			marker = "*"
		}
		fmt.Fprintf(w, " %s %-28s %s %s %s(%s)%s\n", marker, name,
			desc.String(config.AttrPlatformName), desc.String(config.AttrPlatformVersion),
			color(colorGray), desc.String(config.AttrDeviceName), color(colorReset))
	}
}

func runPrepare(c *cli.Context) error {
	w := out(c)
	h, err := openHarness(c)
	if err != nil {
		return err
	}
	defer h.Close(c.Context)

	o := h.StartGroup(c.Context, c.String("group"))
	if o.Cleaned {
		printOK(w, "cleanup performed (%s): %d screenshots, %d report files deleted",
			o.Reason, o.Before.Screenshots, o.Before.Results)
	} else {
		printOK(w, "cleanup skipped (%s): %d artifacts preserved", o.Reason, o.Preserved)
	}
	if o.Err != nil {
		printWarn(w, "%v", o.Err)
	}
	fmt.Fprintf(w, "  run id: %s\n", h.Identity().RunID)
	return nil
}

func runDoctor(c *cli.Context) error {
	w := out(c)
	h, err := openHarness(c)
	if err != nil {
		return err
	}
	defer h.Close(c.Context)

	cfg := h.Config()
	printOK(w, "workspace config: env=%s device=%s", cfg.Environment, cfg.Device)

	profile := h.Resolver.Profile(cfg.Environment)
	if profile.Len() == 0 {
		printWarn(w, "profile %s.toml is empty or missing in %s", cfg.Environment, cfg.ConfigDir)
	} else {
		printOK(w, "profile %s: %d keys", cfg.Environment, profile.Len())
	}
	for _, k := range profile.Keys() {
		if v, _ := h.Resolver.Get(k, cfg.Environment); config.IsUnresolved(v) {
			printWarn(w, "%s references an unset variable: %s", k, v)
		}
	}

	t, err := h.Setup(c.Context, "doctor", "doctor", "doctor", "")
	if err != nil {
		h.Teardown(c.Context, t, core.StatusErrored, err)
		printFail(w, "session: %v", err)
		return cli.Exit("environment check failed", 1)
	}
	sessionID, server := t.Session.Session.ID(), t.Session.ServerURL
	h.Teardown(c.Context, t, core.StatusPassed, nil)

	printOK(w, "capabilities: %s %s on %s", t.Caps.String("platformName"), t.Caps.String("platformVersion"), t.Caps.String("deviceName"))
	printOK(w, "session %s created and destroyed via %s", sessionID, server)
	return nil
}

func runHistory(c *cli.Context) error {
	w := out(c)
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if runID := c.String("run"); runID != "" {
		run, ok, err := store.GetRun(c.Context, runID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %s not found", runID)
		}
		cleanup := "skipped"
		if run.Cleaned {
			cleanup = fmt.Sprintf("performed, %d deleted", run.Deleted)
		}
		fmt.Fprintf(w, "%sRun %s%s\n", color(colorBold), run.RunID, color(colorReset))
		fmt.Fprintf(w, "  started: %s  env: %s  cleanup: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"), run.Env, cleanup)

		summary, err := store.Summary(c.Context, runID)
		if err != nil {
			return err
		}
		statuses := make([]string, 0, len(summary))
		for s := range summary {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Fprintf(w, "  %-10s %d\n", s, summary[s])
		}
		return nil
	}

	outcomes, err := store.Recent(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No recorded outcomes")
		return nil
	}

	fmt.Fprintln(w, strings.Repeat("═", 92))
	fmt.Fprintf(w, "  %-19s %-36s %-8s %-6s %10s\n", "Finished", "Test", "Status", "Infra", "Duration")
	fmt.Fprintln(w, strings.Repeat("─", 92))
	for _, o := range outcomes {
		name := o.Group + "." + o.Test
		if len(name) > 36 {
			name = name[:33] + "..."
		}
		statusColor := color(colorGreen)
		if o.Status != core.StatusPassed.String() {
			statusColor = color(colorRed)
		}
		infra := ""
		if o.Infrastructure {
			infra = "yes"
		}
		fmt.Fprintf(w, "  %-19s %-36s %s%-8s%s %-6s %10s\n",
			o.FinishedAt.Format("2006-01-02 15:04:05"), name,
			statusColor, o.Status, color(colorReset), infra, formatDuration(o.Duration))
	}
	fmt.Fprintln(w, strings.Repeat("═", 92))
	return nil
}
