package review

import (
	"fmt"
	"strings"
)

// Severity represents the severity level of a finding.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Severities lists every severity, most severe first.
var Severities = []Severity{SeverityError, SeverityWarn, SeverityInfo}

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarn:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ParseSeverity accepts the canonical names case-insensitively, plus
// "warning" as an alias for warn.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	default:
		return "", fmt.Errorf("unknown severity %q (want info, warn or error)", s)
	}
}

// MeetsThreshold returns true if severity is at or above the threshold.
func MeetsThreshold(s Severity, threshold string) bool {
	if threshold == "none" || threshold == "" {
		return false
	}
	t, err := ParseSeverity(threshold)
	if err != nil {
		return false
	}
	return SeverityRank(s) >= SeverityRank(t)
}

// Category represents the family of idiom a rule checks.
type Category string

const (
	CategoryConcurrencyDesign         Category = "ConcurrencyDesign"
	CategoryBoundaryDiscipline        Category = "BoundaryDiscipline"
	CategoryErrorHandlingStyle        Category = "ErrorHandlingStyle"
	CategoryPatternMatchStyle         Category = "PatternMatchStyle"
	CategoryTransformationStyle       Category = "TransformationStyle"
	CategoryTestDesign                Category = "TestDesign"
	CategoryDocumentationCompleteness Category = "DocumentationCompleteness"
)

// Categories lists every category in precedence order: higher-risk
// structural categories first.
var Categories = []Category{
	CategoryConcurrencyDesign,
	CategoryBoundaryDiscipline,
	CategoryErrorHandlingStyle,
	CategoryPatternMatchStyle,
	CategoryTransformationStyle,
	CategoryTestDesign,
	CategoryDocumentationCompleteness,
}

// CategoryRank returns the precedence of a category (higher wins). Unknown
// categories rank 0.
func CategoryRank(c Category) int {
	for i, known := range Categories {
		if known == c {
			return len(Categories) - i
		}
	}
	return 0
}

// ParseCategory matches a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Span is a region of a source unit. Lines are 1-based and inclusive; byte
// offsets are optional and half-open.
type Span struct {
	StartLine int `json:"startLine" yaml:"startLine" msgpack:"sl"`
	EndLine   int `json:"endLine" yaml:"endLine" msgpack:"el"`
	StartByte int `json:"startByte,omitempty" yaml:"startByte,omitempty" msgpack:"sb"`
	EndByte   int `json:"endByte,omitempty" yaml:"endByte,omitempty" msgpack:"eb"`
}

// Overlaps reports whether the two line ranges intersect.
func (s Span) Overlaps(o Span) bool {
	return s.StartLine <= o.EndLine && o.StartLine <= s.EndLine
}

// Less orders spans by start line, end line, then byte offsets.
func (s Span) Less(o Span) bool {
	if s.StartLine != o.StartLine {
		return s.StartLine < o.StartLine
	}
	if s.EndLine != o.EndLine {
		return s.EndLine < o.EndLine
	}
	if s.StartByte != o.StartByte {
		return s.StartByte < o.StartByte
	}
	return s.EndByte < o.EndByte
}

func (s Span) String() string {
	if s.StartLine == s.EndLine {
		return fmt.Sprintf("%d", s.StartLine)
	}
	return fmt.Sprintf("%d-%d", s.StartLine, s.EndLine)
}

// Finding represents one rule firing at one location.
type Finding struct {
	RuleID     string   `json:"ruleId" msgpack:"rule"`
	Category   Category `json:"category" msgpack:"cat"`
	Severity   Severity `json:"severity" msgpack:"sev"`
	SourceUnit string   `json:"sourceUnit" msgpack:"unit"`
	Symbol     string   `json:"symbol,omitempty" msgpack:"sym"`
	Span       Span     `json:"span" msgpack:"span"`
	Message    string   `json:"message" msgpack:"msg"`
	Suggestion string   `json:"suggestion,omitempty" msgpack:"fix"`
	// SuppressionKey is the key suppressions match against; it defaults to
	// the rule id.
	SuppressionKey string `json:"-" msgpack:"skey"`
	Resolved       bool   `json:"-" msgpack:"-"`
}

// Location renders "unit:line" or "unit:start-end".
func (f Finding) Location() string {
	return f.SourceUnit + ":" + f.Span.String()
}

// EvaluationWarning records one (rule, location) pair whose predicate failed.
type EvaluationWarning struct {
	RuleID     string `json:"ruleId" msgpack:"rule"`
	SourceUnit string `json:"sourceUnit" msgpack:"unit"`
	Symbol     string `json:"symbol,omitempty" msgpack:"sym"`
	Reason     string `json:"reason" msgpack:"reason"`
}

// UnresolvedReference is a cross-boundary reference whose target is not in
// the batch.
type UnresolvedReference struct {
	SourceUnit string `json:"sourceUnit"`
	Symbol     string `json:"symbol,omitempty"`
	Target     string `json:"target"`
	Span       Span   `json:"span"`
}

// AppliedSuppression records why a finding was dropped.
type AppliedSuppression struct {
	RuleID     string `json:"ruleId"`
	SourceUnit string `json:"sourceUnit"`
	Symbol     string `json:"symbol,omitempty"`
	Span       Span   `json:"span"`
	Reason     string `json:"reason"`
	Origin     string `json:"origin"`
}

// SeverityCounts holds counts by severity level.
type SeverityCounts struct {
	Info  int `json:"info"`
	Warn  int `json:"warn"`
	Error int `json:"error"`
}

// Total returns the number of counted findings.
func (c SeverityCounts) Total() int {
	return c.Info + c.Warn + c.Error
}

// UnitSummary describes one source unit in the report.
type UnitSummary struct {
	Path     string `json:"path"`
	Domain   string `json:"domain,omitempty"`
	Analyzed bool   `json:"analyzed"`
	// Reason explains why an unanalyzed unit was skipped.
	Reason   string `json:"reason,omitempty"`
	Score    int    `json:"score"`
	Findings int    `json:"findings"`
}

// Summary provides run-level counts and the aggregate score.
type Summary struct {
	TotalScore         int              `json:"totalScore"`
	PerCategoryCounts  map[Category]int `json:"perCategoryCounts"`
	Counts             SeverityCounts   `json:"counts"`
	HighestSeverity    Severity         `json:"highestSeverity,omitempty"`
	SuppressedCount    int              `json:"suppressedCount"`
	SupersededCount    int              `json:"supersededCount"`
	EvaluationWarnings int              `json:"evaluationWarnings"`
	UnresolvedRefs     int              `json:"unresolvedReferences"`
	UnanalyzedUnits    int              `json:"unanalyzedUnits"`
	UnusedSuppressions int              `json:"unusedSuppressions"`
}

// RuleSetInfo identifies the rules used for a run.
type RuleSetInfo struct {
	Digest     string     `json:"digest"`
	Rules      int        `json:"rules"`
	Categories []Category `json:"categories"`
}

// Report is the top-level output structure. It holds no timestamps so that
// two runs over the same input produce identical bytes.
type Report struct {
	Tool         string                `json:"tool"`
	Version      string                `json:"version"`
	RuleSet      RuleSetInfo           `json:"ruleSet"`
	Summary      Summary               `json:"summary"`
	Units        []UnitSummary         `json:"units"`
	Findings     []Finding             `json:"findings"`
	Suppressions []AppliedSuppression  `json:"suppressions"`
	Warnings     []EvaluationWarning   `json:"warnings"`
	Unresolved   []UnresolvedReference `json:"unresolved"`
}

// Degraded reports whether the run skipped any unit or evaluation.
func (r *Report) Degraded() bool {
	return r.Summary.UnanalyzedUnits > 0 || r.Summary.EvaluationWarnings > 0
}

// ComputeSeverityCounts tallies findings by severity and returns the highest
// severity seen.
func ComputeSeverityCounts(findings []Finding) (SeverityCounts, Severity) {
	var c SeverityCounts
	var highest Severity
	for _, f := range findings {
		switch f.Severity {
		case SeverityInfo:
			c.Info++
		case SeverityWarn:
			c.Warn++
		case SeverityError:
			c.Error++
		}
		if SeverityRank(f.Severity) > SeverityRank(highest) {
			highest = f.Severity
		}
	}
	return c, highest
}
