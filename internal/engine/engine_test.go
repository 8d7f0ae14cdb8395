package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/tenet/internal/cache"
	"github.com/dshills/tenet/internal/facts"
	"github.com/dshills/tenet/internal/review"
	"github.com/dshills/tenet/internal/rules"
)

func span(a, b int) review.Span { return review.Span{StartLine: a, EndLine: b} }

func mustBuild(t *testing.T, defs ...rules.Definition) *rules.Registry {
	t.Helper()
	reg, err := rules.Build(defs)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	return reg
}

var singleWriterRule = rules.Definition{
	ID:        "concurrency.single-writer",
	Category:  "ConcurrencyDesign",
	Severity:  "warn",
	Predicate: `ConcurrencyPrimitiveDeclaration{kind == "singleWriterNoReaders" && !hasConcurrentAccessEvidence}`,
	Message:   "{symbol} holds a {kind} primitive",
	Fix:       "thread state through {symbol}",
}

var internalRecordRule = rules.Definition{
	ID:        "boundary.internal-record",
	Category:  "BoundaryDiscipline",
	Severity:  "error",
	Predicate: `CrossBoundaryReference{targetKind == "internalDataRecord" && toDomain != fromDomain}`,
	Message:   "{symbol} reaches into {toDomain}",
}

func TestMatchUnit_SingleWriterWithoutEvidence(t *testing.T) {
	u := facts.SourceUnit{
		Path: "lib/counter.ex",
		Symbols: []facts.Symbol{{
			Name: "start_link",
			Span: span(3, 10),
			Facts: []facts.Fact{facts.ConcurrencyPrimitiveDeclaration{
				Pos:  span(4, 4),
				Kind: "singleWriterNoReaders",
			}},
		}, {
			Name: "shared",
			Facts: []facts.Fact{facts.ConcurrencyPrimitiveDeclaration{
				Pos:                         span(12, 12),
				Kind:                        "singleWriterNoReaders",
				HasConcurrentAccessEvidence: true,
			}},
		}},
	}
	e := New(mustBuild(t, singleWriterRule), Options{})
	res := e.MatchUnit(&u)

	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", res.Warnings)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(res.Findings), res.Findings)
	}
	f := res.Findings[0]
	if f.Severity != review.SeverityWarn || f.Symbol != "start_link" {
		t.Errorf("finding = %+v", f)
	}
	if f.Span != span(4, 4) {
		t.Errorf("Span = %v, want evidence span 4", f.Span)
	}
	if f.Message != "start_link holds a singleWriterNoReaders primitive" {
		t.Errorf("Message = %q", f.Message)
	}
	if f.Suggestion != "thread state through start_link" {
		t.Errorf("Suggestion = %q", f.Suggestion)
	}
	if f.SuppressionKey != singleWriterRule.ID {
		t.Errorf("SuppressionKey = %q", f.SuppressionKey)
	}
}

func TestMatchUnit_CrossDomainRecord(t *testing.T) {
	unit := func(targetKind string, resolved bool) facts.SourceUnit {
		return facts.SourceUnit{
			Path:   "billing/invoice.ex",
			Domain: "Billing",
			Symbols: []facts.Symbol{{Name: "total", Facts: []facts.Fact{facts.CrossBoundaryReference{
				Pos:        span(7, 7),
				FromDomain: "Billing",
				ToDomain:   "Shipping",
				TargetKind: targetKind,
				Resolved:   resolved,
			}}}},
		}
	}
	e := New(mustBuild(t, internalRecordRule), Options{})

	tests := []struct {
		name       string
		targetKind string
		resolved   bool
		want       int
	}{
		{"internal record", "internalDataRecord", true, 1},
		{"public api", "publicApiCall", true, 0},
		{"unresolved reference is ignored", "internalDataRecord", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := unit(tt.targetKind, tt.resolved)
			res := e.MatchUnit(&u)
			if len(res.Findings) != tt.want {
				t.Fatalf("got %d findings, want %d", len(res.Findings), tt.want)
			}
			if tt.want == 1 && res.Findings[0].Severity != review.SeverityError {
				t.Errorf("Severity = %s, want error", res.Findings[0].Severity)
			}
		})
	}
}

func TestMatchUnit_UnitScopeAndFallbackSpan(t *testing.T) {
	u := facts.SourceUnit{
		Path: "lib/docs.ex",
		Span: span(1, 40),
		Facts: []facts.Fact{
			facts.TransformationChain{Pos: span(2, 2), HasAnonymousStep: true},
		},
		Symbols: []facts.Symbol{
			{Name: "pub", Exported: true, Arity: 1, Span: span(5, 9)},
			{Name: "priv", Span: span(11, 12), Facts: []facts.Fact{facts.TransformationChain{Pos: span(11, 11), HasAnonymousStep: true}}},
		},
	}
	reg := mustBuild(t,
		rules.Definition{ID: "docs", Category: "DocumentationCompleteness", Severity: "info",
			Predicate: `exported && none DocumentationPresence{hasDescription}`, Message: "{symbol}/{arity}"},
		rules.Definition{ID: "chains", Category: "TransformationStyle", Severity: "info", Scope: "unit",
			Predicate: `count(TransformationChain{hasAnonymousStep}) >= 2`, Message: "{count} anonymous steps in {unit}"},
	)
	res := New(reg, Options{}).MatchUnit(&u)
	if len(res.Findings) != 2 {
		t.Fatalf("got %d findings, want 2: %+v", len(res.Findings), res.Findings)
	}
	var chains, docs review.Finding
	for _, f := range res.Findings {
		switch f.RuleID {
		case "chains":
			chains = f
		case "docs":
			docs = f
		}
	}
	if chains.Symbol != "" || chains.Span != span(2, 2) || chains.Message != "2 anonymous steps in lib/docs.ex" {
		t.Errorf("unit finding = %+v", chains)
	}
	if docs.Symbol != "pub" || docs.Span != span(5, 9) || docs.Message != "pub/1" {
		t.Errorf("symbol finding without evidence should use the symbol span: %+v", docs)
	}
}

func TestMatchUnit_FaultIsolation(t *testing.T) {
	good, err := rules.Compile(singleWriterRule)
	if err != nil {
		t.Fatal(err)
	}
	panicky := rules.Rule{
		ID: "panics", Category: review.CategoryTestDesign, Severity: review.SeverityInfo,
		Message: "never",
		Predicate: rules.PredicateFunc(func(env rules.Env) (rules.Match, error) {
			panic("malformed fact")
		}),
	}
	failing := rules.Rule{
		ID: "fails", Category: review.CategoryTestDesign, Severity: review.SeverityInfo,
		Message: "never",
		Predicate: rules.PredicateFunc(func(env rules.Env) (rules.Match, error) {
			return rules.Match{}, errors.New("bad input")
		}),
	}
	reg, err := rules.NewRegistry([]rules.Rule{good, panicky, failing})
	if err != nil {
		t.Fatal(err)
	}
	u := facts.SourceUnit{
		Path: "a.ex",
		Symbols: []facts.Symbol{{Name: "s", Facts: []facts.Fact{
			facts.ConcurrencyPrimitiveDeclaration{Pos: span(1, 1), Kind: "singleWriterNoReaders"},
		}}},
	}
	res := New(reg, Options{}).MatchUnit(&u)
	if len(res.Findings) != 1 || res.Findings[0].RuleID != singleWriterRule.ID {
		t.Errorf("healthy rule should still fire: %+v", res.Findings)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("got %d warnings, want 2: %+v", len(res.Warnings), res.Warnings)
	}
	for _, w := range res.Warnings {
		if w.SourceUnit != "a.ex" || w.Symbol != "s" {
			t.Errorf("warning location = %+v", w)
		}
	}
	if !strings.Contains(res.Warnings[0].Reason+res.Warnings[1].Reason, "panicked") {
		t.Errorf("panic not reported: %+v", res.Warnings)
	}
}

func testUnits() []facts.SourceUnit {
	return []facts.SourceUnit{
		{Path: "a.ex", Symbols: []facts.Symbol{{Name: "a", Facts: []facts.Fact{
			facts.ConcurrencyPrimitiveDeclaration{Pos: span(1, 1), Kind: "singleWriterNoReaders"},
		}}}},
		{Path: "broken.ex", Error: "decode failed"},
		{Path: "b.ex", Symbols: []facts.Symbol{{Name: "b", Facts: []facts.Fact{
			facts.ConcurrencyPrimitiveDeclaration{Pos: span(2, 2), Kind: "singleWriterNoReaders"},
		}}}},
	}
}

func TestRun_OrderAndSkips(t *testing.T) {
	e := New(mustBuild(t, singleWriterRule), Options{Workers: 2})
	res, err := e.Run(context.Background(), testUnits())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(res.Units) != 3 {
		t.Fatalf("got %d unit results, want 3", len(res.Units))
	}
	if !res.Units[1].Skipped {
		t.Error("unanalyzed unit should be skipped")
	}
	fs := res.Findings()
	if len(fs) != 2 || fs[0].SourceUnit != "a.ex" || fs[1].SourceUnit != "b.ex" {
		t.Errorf("findings out of unit order: %+v", fs)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(mustBuild(t, singleWriterRule), Options{Workers: 1})
	res, err := e.Run(ctx, testUnits())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Error("cancelled run must not return partial results")
	}
}

func TestRun_CacheRoundTrip(t *testing.T) {
	c, err := cache.New(true, t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	e := New(mustBuild(t, singleWriterRule), Options{Cache: c})
	first, err := e.Run(context.Background(), testUnits())
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Run(context.Background(), testUnits())
	if err != nil {
		t.Fatal(err)
	}
	if second.Units[0].Cached != true || first.Units[0].Cached {
		t.Errorf("expected miss then hit, got %v then %v", first.Units[0].Cached, second.Units[0].Cached)
	}
	a, b := first.Findings(), second.Findings()
	if len(a) != len(b) {
		t.Fatalf("cached run found %d, fresh run %d", len(b), len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("finding %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}

	// a different rule set must not reuse the entries
	other := New(mustBuild(t, singleWriterRule, internalRecordRule), Options{Cache: c})
	third, err := other.Run(context.Background(), testUnits())
	if err != nil {
		t.Fatal(err)
	}
	if third.Units[0].Cached {
		t.Error("cache hit across different rule sets")
	}
}

func TestMatchUnit_UnitLevelFactsReachSymbolRules(t *testing.T) {
	u := facts.SourceUnit{
		Path:   "billing/invoice.ex",
		Domain: "Billing",
		Span:   span(1, 30),
		Facts: []facts.Fact{facts.CrossBoundaryReference{
			Pos:        span(3, 3),
			FromDomain: "Billing",
			ToDomain:   "Shipping",
			TargetKind: "internalDataRecord",
			Resolved:   true,
		}},
		Symbols: []facts.Symbol{{Name: "total", Span: span(10, 20)}},
	}
	res := New(mustBuild(t, internalRecordRule), Options{}).MatchUnit(&u)
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", res.Warnings)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(res.Findings), res.Findings)
	}
	f := res.Findings[0]
	if f.Symbol != "" || f.Span != span(3, 3) {
		t.Errorf("finding location = %q %v, want unit location at line 3", f.Symbol, f.Span)
	}
	if f.Message != "billing/invoice.ex reaches into Shipping" {
		t.Errorf("Message = %q", f.Message)
	}
}

func TestMatchUnit_ArityAtUnitLocation(t *testing.T) {
	u := facts.SourceUnit{
		Path:    "a.ex",
		Facts:   []facts.Fact{facts.TransformationChain{Pos: span(1, 1), StepCount: 3}},
		Symbols: []facts.Symbol{{Name: "f", Arity: 4, Span: span(2, 5)}},
	}
	reg := mustBuild(t, rules.Definition{ID: "wide", Category: "PatternMatchStyle", Severity: "info",
		Predicate: `arity > 3`, Message: "{symbol}/{arity}"})
	res := New(reg, Options{}).MatchUnit(&u)
	if len(res.Warnings) != 0 {
		t.Errorf("arity at the unit location should not warn: %+v", res.Warnings)
	}
	if len(res.Findings) != 1 || res.Findings[0].Symbol != "f" {
		t.Errorf("findings = %+v, want only symbol f", res.Findings)
	}
}
