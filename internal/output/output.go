package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dshills/tenet/internal/review"
)

// Writer writes a report in a specific format.
type Writer interface {
	Write(w io.Writer, report *review.Report) error
}

// Options tunes the human-readable writers.
type Options struct {
	Color bool
	// Width is the wrap width for text output. Zero means 100 columns.
	Width int
}

// GetWriter returns a writer for the specified format.
func GetWriter(format string, opts Options) (Writer, error) {
	switch format {
	case "text":
		return &TextWriter{Color: opts.Color, Width: opts.Width}, nil
	case "json":
		return &JSONWriter{}, nil
	case "markdown":
		return &MarkdownWriter{}, nil
	case "sarif":
		return &SARIFWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteReport writes the report to the specified output (file path or stdout).
// colorMode is auto, always or never; color only ever applies to text
// written to a terminal or when forced.
func WriteReport(report *review.Report, format, outPath, colorMode string) error {
	var w io.Writer
	opts := Options{}
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
		opts.Color = colorMode == "always"
	} else {
		w = os.Stdout
		opts.Color = UseColor(colorMode, os.Stdout)
		opts.Width = terminalWidth(os.Stdout)
	}

	writer, err := GetWriter(format, opts)
	if err != nil {
		return err
	}
	return writer.Write(w, report)
}

// UseColor resolves a color mode against the destination file. NO_COLOR
// disables auto mode.
func UseColor(mode string, f *os.File) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isTerminal(f)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func terminalWidth(f *os.File) int {
	if !isTerminal(f) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w < 40 {
		return 0
	}
	return w
}

// degradedNote says why a run is incomplete.
func degradedNote(s review.Summary) string {
	var parts []string
	if s.UnanalyzedUnits > 0 {
		parts = append(parts, fmt.Sprintf("%d unit(s) not analyzed", s.UnanalyzedUnits))
	}
	if s.EvaluationWarnings > 0 {
		parts = append(parts, fmt.Sprintf("%d rule evaluation(s) failed", s.EvaluationWarnings))
	}
	return strings.Join(parts, " and ") + ", so these results are incomplete"
}
