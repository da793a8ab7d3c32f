// Package ui provides the terminal output of the ocr-workbench CLI.
package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// Init applies the color setting.
func Init(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// ProgressBar renders workflow progress (0-100) on stderr.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a bar for one workflow.
func NewProgressBar(description string) *ProgressBar {
	bar := progressbar.NewOptions(
		100,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

// Sink returns a progress sink that drives the bar.
func (p *ProgressBar) Sink() domain.ProgressSink {
	return func(pr domain.Progress) {
		p.bar.Describe(pr.Status)
		if pr.Stage == domain.StageError {
			_ = p.bar.Exit()
			fmt.Fprint(os.Stderr, "\n")
			return
		}
		_ = p.bar.Set(pr.Percent)
	}
}

// Spinner shows indeterminate progress.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a spinner with message.
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return &Spinner{spinner: s}
}

func (s *Spinner) Start() { s.spinner.Start() }

func (s *Spinner) Stop() { s.spinner.Stop() }

// Success prints a green check line.
func Success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(os.Stdout, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error prints a red line on stderr.
func Error(format string, args ...any) {
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a yellow line.
func Warning(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(os.Stdout, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational line.
func Info(format string, args ...any) {
	color.New(color.FgCyan).Fprintf(os.Stdout, "ℹ %s\n", fmt.Sprintf(format, args...))
}
