package rules

import (
	"fmt"
	"strings"

	"github.com/dshills/tenet/internal/facts"
	"github.com/dshills/tenet/internal/review"
)

// Scope is the granularity a rule is evaluated at.
type Scope string

const (
	// ScopeSymbol evaluates once per symbol over its effective facts.
	ScopeSymbol Scope = "symbol"
	// ScopeUnit evaluates once per unit over all of its facts.
	ScopeUnit Scope = "unit"
)

// ParseScope accepts "" as ScopeSymbol.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeSymbol:
		return ScopeSymbol, nil
	case ScopeUnit:
		return ScopeUnit, nil
	}
	return "", fmt.Errorf("invalid scope %q (want symbol or unit)", s)
}

// Rule is a compiled, immutable rule.
type Rule struct {
	ID       string
	Category review.Category
	Severity review.Severity
	Scope    Scope
	// Expression is the predicate source. Rules built directly from a Go
	// Predicate leave it empty.
	Expression     string
	Predicate      Predicate
	Message        string
	Fix            string
	SuppressionKey string
	ExampleGood    string
	ExampleBad     string
	Tags           []string
}

// Key returns the name suppressions match against: the rule's suppression
// key when it has one, its id otherwise.
func (r *Rule) Key() string {
	if r.SuppressionKey != "" {
		return r.SuppressionKey
	}
	return r.ID
}

// baseVars are the placeholders every message may use.
var baseVars = []string{"unit", "symbol", "domain", "rule", "arity", "count", "variant"}

// placeholders returns the {name} references in a template in order.
func placeholders(tmpl string) ([]string, error) {
	var names []string
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '{' {
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unclosed placeholder at offset %d", i)
		}
		name := tmpl[i+1 : i+end]
		if name == "" || strings.ContainsAny(name, " {") {
			return nil, fmt.Errorf("bad placeholder %q at offset %d", tmpl[i:i+end+1], i)
		}
		names = append(names, name)
		i += end
	}
	return names, nil
}

// checkTemplate verifies that every placeholder names a base variable or a
// field of one of the given variants.
func checkTemplate(tmpl string, variants []facts.Variant) error {
	names, err := placeholders(tmpl)
	if err != nil {
		return err
	}
	known := make(map[string]bool)
	for _, n := range baseVars {
		known[n] = true
	}
	for _, v := range variants {
		for f := range facts.Schema[v] {
			known[f] = true
		}
	}
	for _, n := range names {
		if !known[n] {
			return fmt.Errorf("unknown placeholder {%s}", n)
		}
	}
	return nil
}

// Render substitutes {name} placeholders from vars. Missing names render
// empty.
func Render(tmpl string, vars map[string]string) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '{' {
			if end := strings.IndexByte(tmpl[i:], '}'); end > 0 {
				b.WriteString(vars[tmpl[i+1:i+end]])
				i += end
				continue
			}
		}
		b.WriteByte(tmpl[i])
	}
	return b.String()
}
