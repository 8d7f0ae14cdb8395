package resolve

import (
	"sort"

	"github.com/dshills/tenet/internal/review"
)

// Suppression silences findings whose suppression key (or rule id) matches
// Key in SourceUnit, optionally narrowed to Symbol and to findings starting
// at Line.
type Suppression struct {
	Key        string
	SourceUnit string
	Symbol     string
	Line       int
	Reason     string
	// Origin names where the suppression came from: a baseline file path or
	// "inline".
	Origin string
}

// Matches reports whether s applies to f.
func (s Suppression) Matches(f review.Finding) bool {
	if s.SourceUnit != f.SourceUnit {
		return false
	}
	if s.Key != f.RuleID && s.Key != f.SuppressionKey {
		return false
	}
	if s.Symbol != "" && s.Symbol != f.Symbol {
		return false
	}
	return s.Line == 0 || s.Line == f.Span.StartLine
}

// Result is the outcome of resolution.
type Result struct {
	// Findings are the surviving findings: units in first-appearance order,
	// overlap groups by start then end line, and each group in precedence
	// order.
	Findings   []review.Finding
	Suppressed []review.AppliedSuppression
	// Superseded counts findings dropped because a higher-precedence finding
	// claimed the identical span.
	Superseded int
	// Unused lists suppressions that matched nothing.
	Unused []Suppression
}

// Resolve deduplicates, ranks and suppresses candidate findings. It is
// deterministic for a given input and idempotent: resolving its own output
// with the same suppressions changes nothing.
func Resolve(candidates []review.Finding, sups []Suppression) Result {
	var res Result
	used := make([]bool, len(sups))

	for _, unit := range splitByUnit(candidates) {
		for _, group := range overlapGroups(dedup(unit)) {
			sortByPrecedence(group)
			claimed := make(map[review.Span]bool, len(group))
			for _, f := range group {
				if claimed[f.Span] {
					res.Superseded++
					continue
				}
				claimed[f.Span] = true

				if i := firstMatch(sups, f); i >= 0 {
					used[i] = true
					res.Suppressed = append(res.Suppressed, review.AppliedSuppression{
						RuleID:     f.RuleID,
						SourceUnit: f.SourceUnit,
						Symbol:     f.Symbol,
						Span:       f.Span,
						Reason:     sups[i].Reason,
						Origin:     sups[i].Origin,
					})
					continue
				}
				f.Resolved = true
				res.Findings = append(res.Findings, f)
			}
		}
	}

	for i, s := range sups {
		if !used[i] {
			res.Unused = append(res.Unused, s)
		}
	}
	return res
}

func firstMatch(sups []Suppression, f review.Finding) int {
	for i, s := range sups {
		if s.Matches(f) {
			return i
		}
	}
	return -1
}

// splitByUnit groups findings by source unit, keeping the order in which
// units first appear.
func splitByUnit(fs []review.Finding) [][]review.Finding {
	index := make(map[string]int)
	var out [][]review.Finding
	for _, f := range fs {
		i, ok := index[f.SourceUnit]
		if !ok {
			i = len(out)
			index[f.SourceUnit] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], f)
	}
	return out
}

type dedupKey struct {
	rule string
	span review.Span
}

// dedup drops repeats of the same rule on the same span, keeping the first.
func dedup(fs []review.Finding) []review.Finding {
	seen := make(map[dedupKey]bool, len(fs))
	var out []review.Finding
	for _, f := range fs {
		k := dedupKey{f.RuleID, f.Span}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

// overlapGroups sorts by span and partitions into groups of transitively
// overlapping line ranges.
func overlapGroups(fs []review.Finding) [][]review.Finding {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Span.Less(fs[j].Span) })
	var groups [][]review.Finding
	end := 0
	for _, f := range fs {
		if len(groups) > 0 && f.Span.StartLine <= end {
			last := len(groups) - 1
			groups[last] = append(groups[last], f)
			if f.Span.EndLine > end {
				end = f.Span.EndLine
			}
			continue
		}
		groups = append(groups, []review.Finding{f})
		end = f.Span.EndLine
	}
	return groups
}

// sortByPrecedence orders by category precedence, severity (highest first),
// rule id, then span and symbol.
func sortByPrecedence(fs []review.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if ca, cb := review.CategoryRank(a.Category), review.CategoryRank(b.Category); ca != cb {
			return ca > cb
		}
		if sa, sb := review.SeverityRank(a.Severity), review.SeverityRank(b.Severity); sa != sb {
			return sa > sb
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Span != b.Span {
			return a.Span.Less(b.Span)
		}
		return a.Symbol < b.Symbol
	})
}
