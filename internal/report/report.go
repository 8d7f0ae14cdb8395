// Package report projects resolved findings and scores into a review.Report.
//
// Build is pure: the same input always yields a report that marshals to the
// same bytes. Text fields are normalized to Unicode NFC so that equivalent
// spellings in fact files do not produce different reports.
package report

import (
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/dshills/tenet/internal/facts"
	"github.com/dshills/tenet/internal/resolve"
	"github.com/dshills/tenet/internal/review"
	"github.com/dshills/tenet/internal/score"
)

// Input collects everything a report is built from.
type Input struct {
	Tool       string
	Version    string
	RuleSet    review.RuleSetInfo
	Units      []facts.SourceUnit
	Resolution resolve.Result
	Warnings   []review.EvaluationWarning
	Unresolved []review.UnresolvedReference
}

// Build synthesizes the report.
func Build(in Input) *review.Report {
	agg := score.Compute(in.Resolution.Findings)

	r := &review.Report{
		Tool:         in.Tool,
		Version:      in.Version,
		RuleSet:      in.RuleSet,
		Units:        make([]review.UnitSummary, 0, len(in.Units)),
		Findings:     make([]review.Finding, 0, len(in.Resolution.Findings)),
		Suppressions: make([]review.AppliedSuppression, 0, len(in.Resolution.Suppressed)),
		Warnings:     make([]review.EvaluationWarning, 0, len(in.Warnings)),
		Unresolved:   make([]review.UnresolvedReference, 0, len(in.Unresolved)),
	}
	if r.RuleSet.Categories == nil {
		r.RuleSet.Categories = []review.Category{}
	}

	unanalyzed := 0
	for i := range in.Units {
		u := &in.Units[i]
		s := review.UnitSummary{
			Path:     nfc(u.Path),
			Domain:   nfc(u.Domain),
			Analyzed: u.Analyzed(),
			Reason:   nfc(u.Error),
		}
		if s.Analyzed {
			s.Score = agg.PerUnit[u.Path]
			s.Findings = agg.FindingsPerUnit[u.Path]
		} else {
			unanalyzed++
		}
		r.Units = append(r.Units, s)
	}

	for _, f := range in.Resolution.Findings {
		f.SourceUnit = nfc(f.SourceUnit)
		f.Symbol = nfc(f.Symbol)
		f.Message = nfc(f.Message)
		f.Suggestion = nfc(f.Suggestion)
		r.Findings = append(r.Findings, f)
	}
	for _, s := range in.Resolution.Suppressed {
		s.Reason = nfc(s.Reason)
		r.Suppressions = append(r.Suppressions, s)
	}

	for _, w := range in.Warnings {
		w.Reason = nfc(w.Reason)
		r.Warnings = append(r.Warnings, w)
	}
	sort.SliceStable(r.Warnings, func(i, j int) bool {
		a, b := r.Warnings[i], r.Warnings[j]
		if a.SourceUnit != b.SourceUnit {
			return a.SourceUnit < b.SourceUnit
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Symbol < b.Symbol
	})

	r.Unresolved = append(r.Unresolved, in.Unresolved...)

	r.Summary = review.Summary{
		TotalScore:         agg.Total,
		PerCategoryCounts:  agg.PerCategory,
		Counts:             agg.Counts,
		HighestSeverity:    agg.Highest,
		SuppressedCount:    len(in.Resolution.Suppressed),
		SupersededCount:    in.Resolution.Superseded,
		EvaluationWarnings: len(in.Warnings),
		UnresolvedRefs:     len(in.Unresolved),
		UnanalyzedUnits:    unanalyzed,
		UnusedSuppressions: len(in.Resolution.Unused),
	}
	return r
}

func nfc(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}
