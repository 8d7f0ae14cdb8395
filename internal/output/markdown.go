package output

import (
	"io"
	"strings"

	"github.com/dshills/tenet/internal/review"
)

// MarkdownWriter outputs a PR-comment-friendly markdown report.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, report *review.Report) error {
	ew := &errWriter{w: w}
	s := report.Summary

	ew.printf("## Tenet Report\n\n")

	ew.printf("| Severity | Count |\n")
	ew.printf("|----------|-------|\n")
	ew.printf("| Error    | %d    |\n", s.Counts.Error)
	ew.printf("| Warn     | %d    |\n", s.Counts.Warn)
	ew.printf("| Info     | %d    |\n", s.Counts.Info)
	ew.printf("| **Total** | **%d** |\n\n", s.Counts.Total())
	ew.printf("**Score:** %d", s.TotalScore)
	if s.SuppressedCount > 0 || s.SupersededCount > 0 {
		ew.printf(" | suppressed %d | superseded %d", s.SuppressedCount, s.SupersededCount)
	}
	ew.printf("\n\n")

	if cats := nonZeroCategories(s.PerCategoryCounts); len(cats) > 0 {
		ew.printf("| Category | Findings |\n")
		ew.printf("|----------|----------|\n")
		for _, c := range cats {
			ew.printf("| %s | %d |\n", c, s.PerCategoryCounts[c])
		}
		ew.printf("\n")
	}

	if report.Degraded() {
		ew.printf("> :warning: **Degraded run:** %s\n\n", degradedNote(s))
	}
	if len(report.Findings) == 0 {
		if report.Degraded() {
			ew.println("No findings in the analyzed units.")
		} else {
			ew.println("No findings. :white_check_mark:")
		}
	}

	grouped := groupBySeverity(report.Findings)
	for _, sev := range review.Severities {
		findings := grouped[sev]
		if len(findings) == 0 {
			continue
		}

		ew.printf("<details>\n<summary>%s %s (%d)</summary>\n\n",
			mdSeverityIcon(sev), strings.ToUpper(string(sev)), len(findings))

		for _, f := range findings {
			ew.printf("### %s\n\n", f.RuleID)
			ew.printf("**`%s`**", f.Location())
			if f.Symbol != "" {
				ew.printf(" | `%s`", f.Symbol)
			}
			ew.printf(" | %s\n\n", f.Category)
			ew.printf("%s\n\n", mdEscape(f.Message))
			if f.Suggestion != "" {
				ew.printf("**Suggestion:**\n\n> %s\n\n", strings.ReplaceAll(mdEscape(f.Suggestion), "\n", "\n> "))
			}
			ew.printf("---\n\n")
		}

		ew.printf("</details>\n\n")
	}

	if s.UnanalyzedUnits > 0 {
		ew.printf("**Unanalyzed units:**\n\n")
		for _, u := range report.Units {
			if !u.Analyzed {
				ew.printf("- `%s`: %s\n", u.Path, mdEscape(u.Reason))
			}
		}
		ew.printf("\n")
	}
	if len(report.Warnings) > 0 {
		ew.printf("<details>\n<summary>Evaluation warnings (%d)</summary>\n\n", len(report.Warnings))
		for _, wn := range report.Warnings {
			ew.printf("- `%s` `%s`: %s\n", wn.SourceUnit, wn.RuleID, mdEscape(wn.Reason))
		}
		ew.printf("\n</details>\n\n")
	}
	if len(report.Unresolved) > 0 {
		ew.printf("*%d unresolved cross-boundary reference(s) were excluded from boundary checks.*\n\n", len(report.Unresolved))
	}

	ew.printf("*%s %s, %d rules, digest `%s`*\n", report.Tool, report.Version, report.RuleSet.Rules, shortDigest(report.RuleSet.Digest))
	return ew.err
}

func nonZeroCategories(counts map[review.Category]int) []review.Category {
	var out []review.Category
	for _, c := range review.Categories {
		if counts[c] > 0 {
			out = append(out, c)
		}
	}
	return out
}

func mdSeverityIcon(s review.Severity) string {
	switch s {
	case review.SeverityError:
		return ":red_circle:"
	case review.SeverityWarn:
		return ":orange_circle:"
	case review.SeverityInfo:
		return ":large_blue_circle:"
	default:
		return ":white_circle:"
	}
}

// mdEscape keeps user text from opening HTML tags or tables.
func mdEscape(s string) string {
	r := strings.NewReplacer("<", "&lt;", ">", "&gt;", "|", "\\|")
	return r.Replace(s)
}

