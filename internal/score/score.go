// Package score aggregates resolved findings into severity-weighted scores.
package score

import (
	"github.com/dshills/tenet/internal/review"
)

// Weight returns the score contribution of one finding of severity s.
func Weight(s review.Severity) int {
	switch s {
	case review.SeverityError:
		return 9
	case review.SeverityWarn:
		return 3
	case review.SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Aggregate is the scoring of one run.
type Aggregate struct {
	Total int
	// PerUnit is keyed by source unit path.
	PerUnit map[string]int
	// FindingsPerUnit counts resolved findings per unit.
	FindingsPerUnit map[string]int
	// PerCategory has an entry for every category, zero included.
	PerCategory map[review.Category]int
	Counts      review.SeverityCounts
	Highest     review.Severity
}

// Compute scores resolved, non-suppressed findings. It is pure.
func Compute(findings []review.Finding) Aggregate {
	a := Aggregate{
		PerUnit:         make(map[string]int),
		FindingsPerUnit: make(map[string]int),
		PerCategory:     make(map[review.Category]int, len(review.Categories)),
	}
	for _, c := range review.Categories {
		a.PerCategory[c] = 0
	}
	for _, f := range findings {
		w := Weight(f.Severity)
		a.Total += w
		a.PerUnit[f.SourceUnit] += w
		a.FindingsPerUnit[f.SourceUnit]++
		a.PerCategory[f.Category]++
	}
	a.Counts, a.Highest = review.ComputeSeverityCounts(findings)
	return a
}
