package rules

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/tenet/internal/review"
)

// ErrRuleNotFound is returned by Registry.Rule for an unknown id.
var ErrRuleNotFound = errors.New("rule not found")

// RuleLoadError reports a rule definition that failed validation. A single
// RuleLoadError aborts the whole load.
type RuleLoadError struct {
	RuleID string
	Source string
	Reason string
}

func (e *RuleLoadError) Error() string {
	var b strings.Builder
	b.WriteString("rule load error")
	if e.Source != "" {
		fmt.Fprintf(&b, " in %s", e.Source)
	}
	if e.RuleID != "" {
		fmt.Fprintf(&b, " (rule %s)", e.RuleID)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

//go:embed builtin.yaml
var builtinYAML []byte

// Builtin returns the definitions of the embedded rule pack.
func Builtin() ([]Definition, error) {
	defs, err := ParseDefinitions(builtinYAML, FormatYAML)
	if err != nil {
		return nil, &RuleLoadError{Source: "builtin", Reason: err.Error()}
	}
	for i := range defs {
		defs[i].Source = "builtin"
	}
	return defs, nil
}

// Registry is an immutable, id-ordered set of rules.
type Registry struct {
	rules  []Rule
	byID   map[string]int
	digest string
}

// NewRegistry validates ids and builds a registry from compiled rules.
func NewRegistry(rs []Rule) (*Registry, error) {
	r := &Registry{
		rules: append([]Rule(nil), rs...),
		byID:  make(map[string]int, len(rs)),
	}
	sort.SliceStable(r.rules, func(i, j int) bool { return r.rules[i].ID < r.rules[j].ID })
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.ID == "" {
			return nil, &RuleLoadError{Reason: "rule id is empty"}
		}
		if _, dup := r.byID[rule.ID]; dup {
			return nil, &RuleLoadError{RuleID: rule.ID, Reason: "duplicate rule id"}
		}
		if rule.Predicate == nil {
			return nil, &RuleLoadError{RuleID: rule.ID, Reason: "rule has no predicate"}
		}
		if rule.Scope == "" {
			rule.Scope = ScopeSymbol
		}
		r.byID[rule.ID] = i
	}
	r.digest = digest(r.rules)
	return r, nil
}

// Build compiles every definition. Either all rules load or none do.
func Build(defs []Definition) (*Registry, error) {
	rs := make([]Rule, 0, len(defs))
	seen := make(map[string]string, len(defs))
	for _, d := range defs {
		if prev, dup := seen[d.ID]; dup && d.ID != "" {
			return nil, &RuleLoadError{RuleID: d.ID, Source: d.Source, Reason: fmt.Sprintf("duplicate rule id (first defined in %s)", prev)}
		}
		seen[d.ID] = d.Source
		rule, err := Compile(d)
		if err != nil {
			return nil, err
		}
		rs = append(rs, rule)
	}
	return NewRegistry(rs)
}

// Load builds a registry from the built-in pack (optionally) followed by the
// given rule files.
func Load(paths []string, includeBuiltin bool) (*Registry, error) {
	var defs []Definition
	if includeBuiltin {
		b, err := Builtin()
		if err != nil {
			return nil, err
		}
		defs = append(defs, b...)
	}
	extra, err := LoadFiles(paths)
	if err != nil {
		return nil, err
	}
	return Build(append(defs, extra...))
}

// Len returns the number of rules.
func (r *Registry) Len() int { return len(r.rules) }

// AllRules returns every rule ordered by id.
func (r *Registry) AllRules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// InCategory returns the rules of one category ordered by id.
func (r *Registry) InCategory(c review.Category) []Rule {
	var out []Rule
	for _, rule := range r.rules {
		if rule.Category == c {
			out = append(out, rule)
		}
	}
	return out
}

// Rule looks up a rule by id.
func (r *Registry) Rule(id string) (Rule, error) {
	i, ok := r.byID[id]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return r.rules[i], nil
}

// Select returns the sub-registry restricted to the given categories (all
// when empty) minus the disabled rule ids. Naming an unknown rule is an
// error.
func (r *Registry) Select(categories []review.Category, disabled []string) (*Registry, error) {
	drop := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
		}
		drop[id] = true
	}
	keep := make(map[review.Category]bool, len(categories))
	for _, c := range categories {
		keep[c] = true
	}
	var out []Rule
	for _, rule := range r.rules {
		if drop[rule.ID] {
			continue
		}
		if len(keep) > 0 && !keep[rule.Category] {
			continue
		}
		out = append(out, rule)
	}
	return NewRegistry(out)
}

// Digest is a stable hash of the rule definitions.
func (r *Registry) Digest() string { return r.digest }

// Categories returns the categories that have at least one rule, in
// precedence order.
func (r *Registry) Categories() []review.Category {
	has := make(map[review.Category]bool)
	for _, rule := range r.rules {
		has[rule.Category] = true
	}
	var out []review.Category
	for _, c := range review.Categories {
		if has[c] {
			out = append(out, c)
		}
	}
	return out
}

func digest(rs []Rule) string {
	h := sha256.New()
	for _, rule := range rs {
		for _, part := range []string{
			rule.ID, string(rule.Category), string(rule.Severity), string(rule.Scope),
			rule.Expression, rule.Message, rule.Fix, rule.SuppressionKey,
		} {
			h.Write([]byte(part))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
