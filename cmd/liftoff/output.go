package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kalambet/liftoff/internal/launch"
)

// Listings go to stdout so they can be piped; notices go to stderr.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

const (
	netLayout = "2006-01-02 15:04"
	runLayout = "2006-01-02 15:04:05"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func notice(color, mark, format string, args ...any) {
	fmt.Fprintln(stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { notice(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { notice(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { notice(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatLaunchLine renders one row of `launches list`, favorites starred.
func formatLaunchLine(r launch.Record) string {
	marker := " "
	if r.Favorite {
		marker = colorize(colorYellow, "*")
	}
	return fmt.Sprintf("%s %s  %s  %s  %s",
		marker,
		colorize(colorCyan, shortID(r.ID)),
		r.NET.Local().Format(netLayout),
		r.Name,
		r.Provider,
	)
}

func printLaunch(r launch.Record) {
	fmt.Fprintln(stdout, colorize(colorBold, r.Name))
	field := func(label, format string, args ...any) {
		fmt.Fprintf(stdout, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
	}
	field("ID", "%s", r.ID)
	field("NET", "%s", r.NET.Local().Format(time.RFC1123))
	field("Provider", "%s", r.Provider)
	field("Rocket", "%s", r.Rocket)
	field("Location", "%s", r.Location)
	if r.Status != "" {
		field("Status", "%s", r.Status)
	}
	if r.Probability != nil {
		field("Weather go", "%d%%", *r.Probability)
	}
	var flags []string
	if r.Favorite {
		flags = append(flags, "favorite")
	}
	if r.NotificationsEnabled {
		flags = append(flags, "notifications")
	}
	if len(flags) > 0 {
		field("Flags", "%s", strings.Join(flags, ", "))
	}
	if r.Overview != "" {
		fmt.Fprintf(stdout, "\n%s\n", r.Overview)
	}
	for _, insight := range r.Insights {
		fmt.Fprintf(stdout, "  - %s\n", insight)
	}
}

func describeRun(r runSummary) string {
	var b strings.Builder
	if r.Status == "failed" {
		b.WriteString(colorize(colorRed, "failed"))
		if r.Error != "" {
			b.WriteString(": " + r.Error)
		}
	} else {
		b.WriteString(colorize(colorGreen, r.Status))
		fmt.Fprintf(&b, ", fetched %d, published %d", r.Fetched, r.Published)
	}
	if r.Forced {
		b.WriteString(", forced")
	}
	fmt.Fprintf(&b, ", %dms", r.DurationMs)
	return b.String()
}

func formatRunLine(r runSummary) string {
	return fmt.Sprintf("%s  %s  %s",
		colorize(colorCyan, shortID(r.ID)),
		r.StartedAt.Local().Format(runLayout),
		describeRun(r),
	)
}

// formatBytes uses binary units: 1536 is "1.5 KiB".
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
