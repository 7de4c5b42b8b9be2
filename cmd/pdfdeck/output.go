package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/pdfdeck/internal/job"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// stderr receives every human-facing notice; stdout is kept for data.
var stderr io.Writer = os.Stderr

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

// statusColor picks the color a job status is printed in.
func statusColor(s job.Status) string {
	switch s {
	case job.StatusCompleted:
		return colorGreen
	case job.StatusFailed:
		return colorRed
	case job.StatusProcessing:
		return colorCyan
	}
	return colorYellow
}

// progressBar renders pct (0-100) as a fixed-width bar.
func progressBar(pct int) string {
	const width = 20
	pct = max(0, min(pct, 100))
	filled := pct * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + fmt.Sprintf("] %3d%%", pct)
}

func printProgress(v job.View) {
	fmt.Fprintf(stderr, "  %s %s\n", progressBar(v.Progress), colorize(statusColor(v.Status), string(v.Status)))
}
