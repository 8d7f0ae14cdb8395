package facts

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const billingJSON = `{
	"units": [
		{
			"path": "billing/invoice.ex",
			"domain": "Billing",
			"span": {"startLine": 1, "endLine": 80},
			"symbols": [
				{
					"name": "total",
					"arity": 1,
					"exported": true,
					"span": {"startLine": 10, "endLine": 20},
					"facts": [
						{"variant": "CrossBoundaryReference", "span": {"startLine": 12, "endLine": 12},
						 "toDomain": "Shipping", "targetKind": "internalDataRecord", "target": "shipping/parcel.ex#weight"}
					],
					"clauses": [
						{"shape": "[%Invoice{}]", "body": [
							{"variant": "TransformationChain", "span": {"startLine": 14, "endLine": 16}, "stepCount": 4, "hasAnonymousStep": true}
						]}
					]
				}
			]
		},
		{
			"path": "shipping/parcel.ex",
			"domain": "Shipping",
			"symbols": [{"name": "weight", "arity": 1, "span": {"startLine": 3, "endLine": 9}}]
		}
	]
}`

func TestDecode_JSONBatch(t *testing.T) {
	units, err := Decode([]byte(billingJSON), FormatJSON)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	u := units[0]
	if !u.Analyzed() {
		t.Fatalf("unit should be analyzed, got error %q", u.Error)
	}
	if u.Domain != "Billing" {
		t.Errorf("Domain = %q, want Billing", u.Domain)
	}
	sym, ok := u.Symbol("total")
	if !ok {
		t.Fatal("symbol total not found")
	}
	if !sym.Exported || sym.Arity != 1 {
		t.Errorf("symbol = %+v", sym)
	}
	eff := sym.EffectiveFacts()
	if len(eff) != 2 {
		t.Fatalf("EffectiveFacts = %d, want 2", len(eff))
	}
	if eff[0].Variant() != VariantCrossBoundaryRef {
		t.Errorf("eff[0] = %s, want symbol fact first", eff[0].Variant())
	}
	chain, ok := eff[1].(TransformationChain)
	if !ok {
		t.Fatalf("eff[1] is %T, want TransformationChain", eff[1])
	}
	if chain.StepCount != 4 || !chain.HasAnonymousStep {
		t.Errorf("chain = %+v", chain)
	}
	if chain.Span().StartLine != 14 {
		t.Errorf("chain span = %+v", chain.Span())
	}
}

func TestDecode_YAMLSingleUnit(t *testing.T) {
	doc := `
path: workers/pool.ex
domain: Workers
symbols:
  - name: start_link
    arity: 1
    span: {startLine: 5, endLine: 12}
    facts:
      - variant: ConcurrencyPrimitiveDeclaration
        span: {startLine: 6, endLine: 6}
        kind: singleWriterNoReaders
        hasConcurrentAccessEvidence: false
`
	units, err := Decode([]byte(doc), FormatYAML)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	f := units[0].Symbols[0].Facts[0]
	decl, ok := f.(ConcurrencyPrimitiveDeclaration)
	if !ok {
		t.Fatalf("fact is %T", f)
	}
	if decl.Kind != "singleWriterNoReaders" || decl.HasConcurrentAccessEvidence {
		t.Errorf("decl = %+v", decl)
	}
}

func TestDecode_MalformedUnitIsolated(t *testing.T) {
	doc := `{"units": [
		{"path": "a.ex", "facts": [{"variant": "Telepathy"}]},
		{"path": "b.ex", "facts": [{"variant": "ErrorHandlingBlock", "kind": "shrug"}]},
		{"path": "c.ex", "facts": [{"variant": "ValidationPipelineDefinition", "purposeTag": "input"}]}
	]}`
	units, err := Decode([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if units[0].Analyzed() || !strings.Contains(units[0].Error, "Telepathy") {
		t.Errorf("unit a error = %q, want unknown variant", units[0].Error)
	}
	if units[1].Analyzed() || !strings.Contains(units[1].Error, "shrug") {
		t.Errorf("unit b error = %q, want bad kind", units[1].Error)
	}
	if !units[2].Analyzed() {
		t.Errorf("unit c should be analyzed, got %q", units[2].Error)
	}
}

func TestDecode_DuplicateSymbol(t *testing.T) {
	doc := `{"path": "a.ex", "symbols": [{"name": "f"}, {"name": "f"}]}`
	units, err := Decode([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if units[0].Analyzed() {
		t.Error("duplicate symbol should make the unit unanalyzed")
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode([]byte("{not json"), FormatJSON); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := Decode([]byte(`{}`), FormatJSON); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Decode([]byte(`{}`), Format("xml")); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFiles_FrontEndFailureIsPerFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.facts.json")
	bad := filepath.Join(dir, "bad.facts.json")
	if err := os.WriteFile(good, []byte(billingJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := LoadFiles([]string{bad, good, filepath.Join(dir, "missing.facts.json")})
	if err != nil {
		t.Fatalf("LoadFiles error: %v", err)
	}
	if len(b.Units) != 4 {
		t.Fatalf("got %d units, want 4", len(b.Units))
	}
	if b.Units[0].Path != bad || b.Units[0].Analyzed() {
		t.Errorf("first unit should be the failed file, got %+v", b.Units[0])
	}
	if b.Units[3].Analyzed() {
		t.Error("missing file should be unanalyzed")
	}
	if b.Analyzed() != 2 {
		t.Errorf("Analyzed() = %d, want 2", b.Analyzed())
	}
}

func TestLoadFiles_Empty(t *testing.T) {
	if _, err := LoadFiles(nil); err != ErrNoInput {
		t.Errorf("LoadFiles(nil) error = %v, want ErrNoInput", err)
	}
}

func TestLoadFiles_DuplicatePaths(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x.facts.json")
	if err := os.WriteFile(p, []byte(`{"path": "same.ex"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := LoadFiles([]string{p, p})
	if err != nil {
		t.Fatalf("LoadFiles error: %v", err)
	}
	if !b.Units[0].Analyzed() || b.Units[1].Analyzed() {
		t.Errorf("second occurrence should be unanalyzed: %+v", b.Units)
	}
	if b.Units[0].Path != "same.ex" || b.Units[0].Source != p {
		t.Errorf("first occurrence = %q from %q", b.Units[0].Path, b.Units[0].Source)
	}
	if b.Units[1].Path == "same.ex" || !strings.Contains(b.Units[1].Path, "duplicate 1") {
		t.Errorf("repeat should be renamed, got %q", b.Units[1].Path)
	}
	if !strings.Contains(b.Units[1].Error, p) {
		t.Errorf("Error = %q, want it to name the first file", b.Units[1].Error)
	}
}

func TestLink(t *testing.T) {
	doc := `{"units": [
		{"path": "billing/a.ex", "domain": "Billing", "symbols": [{"name": "f", "facts": [
			{"variant": "CrossBoundaryReference", "targetKind": "internalDataRecord", "target": "shipping/b.ex#g"},
			{"variant": "CrossBoundaryReference", "targetKind": "publicApiCall", "target": "ghost.ex#h"},
			{"variant": "CrossBoundaryReference", "targetKind": "publicApiCall", "target": "shipping/b.ex#nope"},
			{"variant": "CrossBoundaryReference", "targetKind": "internalDataRecord", "toDomain": "Shipping"}
		]}]},
		{"path": "shipping/b.ex", "domain": "Shipping", "symbols": [{"name": "g"}]}
	]}`
	units, err := Decode([]byte(doc), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	b := &Batch{Units: units}
	b.Link()

	fs := b.Units[0].Symbols[0].Facts
	ref := fs[0].(CrossBoundaryReference)
	if !ref.Resolved {
		t.Error("reference to existing symbol should resolve")
	}
	if ref.FromDomain != "Billing" || ref.ToDomain != "Shipping" {
		t.Errorf("domains = %q -> %q, want Billing -> Shipping", ref.FromDomain, ref.ToDomain)
	}
	if fs[1].(CrossBoundaryReference).Resolved || fs[2].(CrossBoundaryReference).Resolved {
		t.Error("references to missing targets must stay unresolved")
	}
	if !fs[3].(CrossBoundaryReference).Resolved {
		t.Error("reference with a declared domain and no target should resolve")
	}
	if len(b.Unresolved) != 2 {
		t.Fatalf("Unresolved = %d, want 2", len(b.Unresolved))
	}
	if b.Unresolved[0].Target != "ghost.ex#h" || b.Unresolved[0].Symbol != "f" {
		t.Errorf("Unresolved[0] = %+v", b.Unresolved[0])
	}

	// Linking twice is stable.
	b.Link()
	if len(b.Unresolved) != 2 {
		t.Errorf("second Link changed Unresolved to %d", len(b.Unresolved))
	}
}

func TestPrefixDomains(t *testing.T) {
	p := NewPrefixDomains(map[string]string{
		"lib/billing/":         "Billing",
		"lib/billing/shipping": "Shipping",
		"":                     "Ignored",
	})
	units := []SourceUnit{
		{Path: "lib/billing/invoice.ex"},
		{Path: "lib/billing/shipping/rate.ex"},
		{Path: "lib/other.ex"},
		{Path: "lib/billing/declared.ex", Domain: "Declared"},
	}
	p.ResolveDomains(units)
	want := []string{"Billing", "Shipping", "", "Declared"}
	for i, w := range want {
		if units[i].Domain != w {
			t.Errorf("units[%d].Domain = %q, want %q", i, units[i].Domain, w)
		}
	}
}

func TestEncodeUnit_Deterministic(t *testing.T) {
	units, err := Decode([]byte(billingJSON), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	a, err := EncodeUnit(&units[0])
	if err != nil {
		t.Fatalf("EncodeUnit error: %v", err)
	}
	b, err := EncodeUnit(&units[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("EncodeUnit should be deterministic")
	}
	c, err := EncodeUnit(&units[1])
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, c) {
		t.Error("different units should encode differently")
	}
}

func TestSchemaCoversVariants(t *testing.T) {
	samples := []Fact{
		ConcurrencyPrimitiveDeclaration{},
		CrossBoundaryReference{},
		PatternClauseSet{},
		TransformationChain{},
		ValidationPipelineDefinition{},
		ErrorHandlingBlock{},
		DocumentationPresence{},
		TestCaseShape{},
	}
	if len(samples) != len(Schema) {
		t.Fatalf("Schema has %d variants, samples cover %d", len(Schema), len(samples))
	}
	for _, f := range samples {
		fields, ok := Schema[f.Variant()]
		if !ok {
			t.Errorf("variant %s missing from Schema", f.Variant())
			continue
		}
		for name, kind := range fields {
			v, ok := f.Field(name)
			if !ok {
				t.Errorf("%s.Field(%q) not found", f.Variant(), name)
				continue
			}
			if v.Kind != kind {
				t.Errorf("%s.%s kind = %s, want %s", f.Variant(), name, v.Kind, kind)
			}
		}
		if _, ok := f.Field("bogus"); ok {
			t.Errorf("%s.Field(bogus) should not exist", f.Variant())
		}
	}
}
