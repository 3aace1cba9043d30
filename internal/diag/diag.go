// Package diag provides colored terminal output and progress reporting for
// the vidtensor-inspect diagnostic tool.
package diag

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// Reporter prints colored, structured diagnostic output to an io.Writer
// (normally os.Stdout).
type Reporter struct {
	w io.Writer
}

// New creates a Reporter writing to w.
func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Section prints a bold cyan section heading.
func (r *Reporter) Section(title string) {
	fmt.Fprintln(r.w, color.New(color.FgCyan, color.Bold).Sprint(title))
}

// Field prints a "label: value" line with the label dimmed and the value in
// the default color.
func (r *Reporter) Field(label string, value any) {
	fmt.Fprintf(r.w, "  %s %v\n", color.New(color.Faint).Sprintf("%-16s", label+":"), value)
}

// Warn prints a yellow warning line.
func (r *Reporter) Warn(format string, args ...any) {
	fmt.Fprintln(r.w, color.YellowString("warning: "+format, args...))
}

// Error prints a red error line.
func (r *Reporter) Error(format string, args ...any) {
	fmt.Fprintln(r.w, color.RedString("error: "+format, args...))
}

// NewProgressBar creates a terminal progress bar for scanning total items,
// labeled with description.
func NewProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
