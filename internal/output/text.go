package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/dshills/tenet/internal/review"
)

const defaultWidth = 100

// TextWriter outputs a human-readable text report.
type TextWriter struct {
	Color bool
	Width int
}

type palette struct {
	err, warn, info, dim, bold *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		err:  color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow, color.Bold),
		info: color.New(color.FgCyan),
		dim:  color.New(color.Faint),
		bold: color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.err, p.warn, p.info, p.dim, p.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) severity(s review.Severity) *color.Color {
	switch s {
	case review.SeverityError:
		return p.err
	case review.SeverityWarn:
		return p.warn
	default:
		return p.info
	}
}

func (t *TextWriter) Write(w io.Writer, report *review.Report) error {
	ew := &errWriter{w: w}
	p := newPalette(t.Color)
	width := t.Width
	if width <= 0 {
		width = defaultWidth
	}
	rule := strings.Repeat("─", min(width, 60))

	s := report.Summary
	ew.printf("%s %s  rules: %d (digest %s)\n",
		p.bold.Sprint(report.Tool), report.Version, report.RuleSet.Rules, shortDigest(report.RuleSet.Digest))
	ew.println(rule)
	ew.printf("Findings: %d total", s.Counts.Total())
	if s.Counts.Total() > 0 {
		ew.printf(" (%d error, %d warn, %d info)", s.Counts.Error, s.Counts.Warn, s.Counts.Info)
	}
	ew.printf("  Score: %d\n", s.TotalScore)
	if s.SuppressedCount > 0 || s.SupersededCount > 0 {
		ew.printf("Suppressed: %d  Superseded: %d\n", s.SuppressedCount, s.SupersededCount)
	}
	ew.println(rule)

	if report.Degraded() {
		ew.printf("\n%s %s\n", p.err.Sprint("Degraded run:"), degradedNote(s))
	}
	if len(report.Findings) == 0 {
		if report.Degraded() {
			ew.println("\nNo findings in the analyzed units.")
		} else {
			ew.println("\nNo findings.")
		}
	}

	// findings stay in report order: by unit, then by span
	unit := ""
	for i, f := range report.Findings {
		if i == 0 || f.SourceUnit != unit {
			unit = f.SourceUnit
			ew.printf("\n%s\n", p.bold.Sprint(unit))
		}
		c := p.severity(f.Severity)
		ew.printf("\n  %s %s  %s  %s  %s\n", severityIcon(f.Severity), c.Sprint(strings.ToUpper(string(f.Severity))),
			f.Location(), p.bold.Sprint(symbolLabel(f)), p.dim.Sprint(f.RuleID))
		for _, line := range wrapText(f.Message, width-6) {
			ew.printf("      %s\n", line)
		}
		if f.Suggestion != "" {
			ew.println("    Suggestion:")
			for _, line := range wrapText(f.Suggestion, width-6) {
				ew.printf("      %s\n", line)
			}
		}
	}

	t.writeUnits(ew, p, report.Units)

	if len(report.Warnings) > 0 {
		ew.printf("\n%s (%d)\n", p.warn.Sprint("Evaluation warnings"), len(report.Warnings))
		for _, wn := range report.Warnings {
			loc := wn.SourceUnit
			if wn.Symbol != "" {
				loc += " " + wn.Symbol
			}
			ew.printf("  %s  %s: %s\n", loc, wn.RuleID, wn.Reason)
		}
	}
	if len(report.Unresolved) > 0 {
		ew.printf("\n%s (%d)\n", p.dim.Sprint("Unresolved references"), len(report.Unresolved))
		for _, u := range report.Unresolved {
			ew.printf("  %s:%s  -> %s\n", u.SourceUnit, u.Span, u.Target)
		}
	}
	if s.UnusedSuppressions > 0 {
		ew.printf("\n%d suppression(s) matched nothing\n", s.UnusedSuppressions)
	}

	return ew.err
}

func (t *TextWriter) writeUnits(ew *errWriter, p palette, units []review.UnitSummary) {
	if len(units) == 0 {
		return
	}
	pathWidth := 0
	for _, u := range units {
		pathWidth = max(pathWidth, runewidth.StringWidth(u.Path))
	}
	pathWidth = min(pathWidth, 60)

	ew.printf("\n%s\n", p.bold.Sprint("Units"))
	for _, u := range units {
		path := runewidth.FillRight(runewidth.Truncate(u.Path, pathWidth, "…"), pathWidth)
		if !u.Analyzed {
			reason := u.Reason
			if reason == "" {
				reason = "not analyzed"
			}
			ew.printf("  %s  %s\n", path, p.err.Sprint("unanalyzed: "+reason))
			continue
		}
		domain := u.Domain
		if domain == "" {
			domain = "-"
		}
		ew.printf("  %s  %-20s score %-4d findings %d\n", path, domain, u.Score, u.Findings)
	}
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

// groupBySeverity keeps report order inside each severity.
func groupBySeverity(findings []review.Finding) map[review.Severity][]review.Finding {
	m := make(map[review.Severity][]review.Finding)
	for _, f := range findings {
		m[f.Severity] = append(m[f.Severity], f)
	}
	return m
}

func symbolLabel(f review.Finding) string {
	if f.Symbol == "" {
		return "(unit)"
	}
	return f.Symbol
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func severityIcon(s review.Severity) string {
	switch s {
	case review.SeverityError:
		return "[!!]"
	case review.SeverityWarn:
		return "[!]"
	case review.SeverityInfo:
		return "[-]"
	default:
		return "[?]"
	}
}

// wrapText breaks text on spaces so no line is wider than width display
// cells, except single words that are wider on their own.
func wrapText(text string, width int) []string {
	if runewidth.StringWidth(text) <= width {
		return []string{text}
	}
	var lines []string
	var current strings.Builder
	cur := 0
	for _, word := range strings.Fields(text) {
		ww := runewidth.StringWidth(word)
		if cur > 0 && cur+ww+1 > width {
			lines = append(lines, current.String())
			current.Reset()
			cur = 0
		}
		if cur > 0 {
			current.WriteString(" ")
			cur++
		}
		current.WriteString(word)
		cur += ww
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
