package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func out(c *cli.Context) io.Writer {
	if c.Bool("no-ansi") {
		colorsEnabled = false
	}
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func printOK(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "  %s✓%s %s\n", color(colorGreen), color(colorReset), fmt.Sprintf(format, args...))
}

func printFail(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "  %s✗%s %s\n", color(colorRed), color(colorReset), fmt.Sprintf(format, args...))
}

func printWarn(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "  %s!%s %s\n", color(colorYellow), color(colorReset), fmt.Sprintf(format, args...))
}

// formatDuration formats a duration to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
