package facts

import (
	"strings"

	"github.com/dshills/tenet/internal/review"
)

// SourceUnit is one analyzable compilation unit as described by the
// front-end. Units are treated as read-only once a batch is linked.
type SourceUnit struct {
	Path    string
	Domain  string
	Span    review.Span
	Facts   []Fact
	Symbols []Symbol
	// Suppressions are inline annotations the front-end found in the unit.
	Suppressions []Suppression
	// Error is set when the front-end could not analyze the unit. Such a unit
	// is reported as unanalyzed, never as clean.
	Error string
	// Source is the fact file the unit was loaded from, if any.
	Source string
}

// Analyzed reports whether the front-end produced facts for the unit.
func (u *SourceUnit) Analyzed() bool {
	return u.Error == ""
}

// Symbol returns the named symbol.
func (u *SourceUnit) Symbol(name string) (*Symbol, bool) {
	for i := range u.Symbols {
		if u.Symbols[i].Name == name {
			return &u.Symbols[i], true
		}
	}
	return nil, false
}

// AllFacts returns the unit's own facts followed by every symbol's effective
// facts, in declaration order.
func (u *SourceUnit) AllFacts() []Fact {
	out := make([]Fact, 0, len(u.Facts))
	out = append(out, u.Facts...)
	for i := range u.Symbols {
		out = append(out, u.Symbols[i].EffectiveFacts()...)
	}
	return out
}

// Symbol is a named function-like entity within a unit.
type Symbol struct {
	Name     string
	Arity    int
	Exported bool
	Span     review.Span
	Clauses  []Clause
	Facts    []Fact
}

// Clause is one clause of a symbol: a pattern shape plus the facts observed
// in its body.
type Clause struct {
	Shape string
	Body  []Fact
}

// EffectiveFacts returns the symbol's own facts followed by every clause body
// fact.
func (s *Symbol) EffectiveFacts() []Fact {
	out := make([]Fact, 0, len(s.Facts))
	out = append(out, s.Facts...)
	for _, c := range s.Clauses {
		out = append(out, c.Body...)
	}
	return out
}

// Suppression silences findings of one rule (or suppression key) in a unit,
// optionally narrowed to a symbol and a start line.
type Suppression struct {
	Rule   string `json:"rule" yaml:"rule" msgpack:"rule"`
	Symbol string `json:"symbol,omitempty" yaml:"symbol,omitempty" msgpack:"sym,omitempty"`
	Line   int    `json:"line,omitempty" yaml:"line,omitempty" msgpack:"line,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty" msgpack:"reason,omitempty"`
}

// SplitTarget splits "unit#symbol" into its parts. A target without '#'
// names a whole unit.
func SplitTarget(target string) (unit, symbol string) {
	if i := strings.LastIndexByte(target, '#'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}
