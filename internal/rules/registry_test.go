package rules

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/dshills/tenet/internal/review"
)

func def(id, cat, sev, pred, msg string) Definition {
	return Definition{ID: id, Category: cat, Severity: sev, Predicate: pred, Message: msg}
}

func TestBuiltinPackLoads(t *testing.T) {
	defs, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin() error: %v", err)
	}
	reg, err := Build(defs)
	if err != nil {
		t.Fatalf("Build(builtin) error: %v", err)
	}
	if reg.Len() != len(defs) {
		t.Errorf("Len() = %d, want %d", reg.Len(), len(defs))
	}
	if got := reg.Categories(); len(got) != len(review.Categories) {
		t.Errorf("builtin pack covers %d categories, want %d", len(got), len(review.Categories))
	}
	for _, r := range reg.AllRules() {
		if r.Message == "" || r.Predicate == nil {
			t.Errorf("rule %s is incomplete", r.ID)
		}
	}
}

func TestBuild_OrderingAndLookup(t *testing.T) {
	reg, err := Build([]Definition{
		def("z.rule", "TestDesign", "warn", `TestCaseShape{hasSleep}`, "sleeps"),
		def("a.rule", "TestDesign", "info", `TestCaseShape{assertionCount == 0}`, "no asserts"),
		def("m.rule", "ConcurrencyDesign", "error", `ConcurrencyPrimitiveDeclaration{}`, "{kind}"),
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	var ids []string
	for _, r := range reg.AllRules() {
		ids = append(ids, r.ID)
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("AllRules not ordered by id: %v", ids)
	}
	if got := reg.InCategory(review.CategoryTestDesign); len(got) != 2 || got[0].ID != "a.rule" {
		t.Errorf("InCategory(TestDesign) = %v", got)
	}
	r, err := reg.Rule("m.rule")
	if err != nil {
		t.Fatalf("Rule(m.rule) error: %v", err)
	}
	if r.Severity != review.SeverityError || r.Scope != ScopeSymbol {
		t.Errorf("m.rule = %+v", r)
	}
	if _, err := reg.Rule("nope"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Rule(nope) error = %v, want ErrRuleNotFound", err)
	}
}

func TestBuild_AllOrNothing(t *testing.T) {
	good := def("good", "TestDesign", "warn", `TestCaseShape{hasSleep}`, "sleeps")
	tests := []struct {
		name   string
		bad    Definition
		wantID string
		want   string
	}{
		{"empty id", def("", "TestDesign", "warn", `true`, "m"), "", "id is empty"},
		{"unknown category", def("r", "Vibes", "warn", `true`, "m"), "r", "unknown category"},
		{"bad severity", def("r", "TestDesign", "fatal", `true`, "m"), "r", "unknown severity"},
		{"bad scope", Definition{ID: "r", Category: "TestDesign", Severity: "warn", Scope: "file", Predicate: `true`, Message: "m"}, "r", "invalid scope"},
		{"empty predicate", def("r", "TestDesign", "warn", ` `, "m"), "r", "predicate is empty"},
		{"bad predicate", def("r", "TestDesign", "warn", `Telepathy{}`, "m"), "r", "unknown fact variant"},
		{"empty message", def("r", "TestDesign", "warn", `true`, ""), "r", "message is empty"},
		{"unknown placeholder", def("r", "TestDesign", "warn", `TestCaseShape{}`, "{stepCount}"), "r", "unknown placeholder"},
		{"duplicate id", def("good", "TestDesign", "info", `true`, "m"), "good", "duplicate rule id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := Build([]Definition{good, tt.bad})
			if reg != nil {
				t.Fatal("Build returned a registry despite an invalid rule")
			}
			var le *RuleLoadError
			if !errors.As(err, &le) {
				t.Fatalf("error = %v, want *RuleLoadError", err)
			}
			if le.RuleID != tt.wantID {
				t.Errorf("RuleID = %q, want %q", le.RuleID, tt.wantID)
			}
			if !strings.Contains(le.Reason, tt.want) {
				t.Errorf("Reason = %q, want it to contain %q", le.Reason, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	reg, err := Build([]Definition{
		def("c.one", "ConcurrencyDesign", "warn", `ConcurrencyPrimitiveDeclaration{}`, "m"),
		def("t.one", "TestDesign", "warn", `TestCaseShape{hasSleep}`, "m"),
		def("t.two", "TestDesign", "info", `TestCaseShape{touchesSharedState}`, "m"),
	})
	if err != nil {
		t.Fatal(err)
	}

	sub, err := reg.Select([]review.Category{review.CategoryTestDesign}, []string{"t.two"})
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if sub.Len() != 1 {
		t.Fatalf("Select kept %d rules, want 1", sub.Len())
	}
	if _, err := sub.Rule("t.one"); err != nil {
		t.Errorf("t.one missing from selection: %v", err)
	}
	if sub.Digest() == reg.Digest() {
		t.Error("sub-registry should have a different digest")
	}

	all, err := reg.Select(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if all.Len() != 3 || all.Digest() != reg.Digest() {
		t.Errorf("empty selector should keep everything")
	}

	if _, err := reg.Select(nil, []string{"ghost"}); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Select with unknown id error = %v, want ErrRuleNotFound", err)
	}
}

func TestDigestStable(t *testing.T) {
	defs := []Definition{
		def("b", "TestDesign", "warn", `TestCaseShape{hasSleep}`, "m"),
		def("a", "TestDesign", "warn", `TestCaseShape{touchesSharedState}`, "m"),
	}
	r1, err := Build(defs)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Build([]Definition{defs[1], defs[0]})
	if err != nil {
		t.Fatal(err)
	}
	if r1.Digest() != r2.Digest() {
		t.Error("digest should not depend on definition order")
	}
	defs[0].Severity = "error"
	r3, err := Build(defs)
	if err != nil {
		t.Fatal(err)
	}
	if r3.Digest() == r1.Digest() {
		t.Error("digest should change when a rule changes")
	}
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"rules.yaml": `rules:
  - id: y.sleep
    category: TestDesign
    severity: warn
    predicate: 'TestCaseShape{hasSleep}'
    message: 'sleeps'
`,
		"rules.toml": `[[rules]]
id = "t.sleep"
category = "TestDesign"
severity = "warn"
predicate = 'TestCaseShape{hasSleep}'
message = "sleeps"
tags = ["tests"]
`,
		"rules.json": `{"rules": [{"id": "j.sleep", "category": "TestDesign", "severity": "warn",
			"predicate": "TestCaseShape{hasSleep}", "message": "sleeps"}]}`,
	}
	var paths []string
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	reg, err := Load(paths, false)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	for _, id := range []string{"y.sleep", "t.sleep", "j.sleep"} {
		if _, err := reg.Rule(id); err != nil {
			t.Errorf("rule %s not loaded: %v", id, err)
		}
	}
	r, _ := reg.Rule("t.sleep")
	if len(r.Tags) != 1 || r.Tags[0] != "tests" {
		t.Errorf("toml tags = %v", r.Tags)
	}

	withBuiltin, err := Load(paths, true)
	if err != nil {
		t.Fatalf("Load with builtin error: %v", err)
	}
	if withBuiltin.Len() <= reg.Len() {
		t.Errorf("builtin rules not included: %d <= %d", withBuiltin.Len(), reg.Len())
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	tests := []struct {
		name string
		path string
	}{
		{"unknown extension", write("rules.ini", "x")},
		{"missing file", filepath.Join(dir, "nope.yaml")},
		{"yaml unknown key", write("typo.yaml", "rules:\n  - id: r\n    predicat: true\n")},
		{"toml unknown key", write("typo.toml", "[[rules]]\nid = \"r\"\npredicat = \"true\"\n")},
		{"json syntax", write("bad.json", "{")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(tt.path)
			var le *RuleLoadError
			if !errors.As(err, &le) {
				t.Fatalf("error = %v, want *RuleLoadError", err)
			}
			if le.Source != tt.path {
				t.Errorf("Source = %q, want %q", le.Source, tt.path)
			}
		})
	}
}

func TestRuleKey(t *testing.T) {
	r := Rule{ID: "a"}
	if r.Key() != "a" {
		t.Errorf("Key() = %q, want id", r.Key())
	}
	r.SuppressionKey = "shared"
	if r.Key() != "shared" {
		t.Errorf("Key() = %q, want suppression key", r.Key())
	}
}
