package facts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/dshills/tenet/internal/review"
)

// Format is an on-disk fact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks a format from the file extension.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

// wireFact is the flat record the front-end emits for every fact variant.
// Fields that do not belong to the variant are ignored.
type wireFact struct {
	Variant string      `json:"variant" yaml:"variant" msgpack:"v"`
	Span    review.Span `json:"span" yaml:"span" msgpack:"s"`

	Kind                        string `json:"kind,omitempty" yaml:"kind,omitempty" msgpack:"kind,omitempty"`
	HasConcurrentAccessEvidence bool   `json:"hasConcurrentAccessEvidence,omitempty" yaml:"hasConcurrentAccessEvidence,omitempty" msgpack:"hcae,omitempty"`
	FromDomain                  string `json:"fromDomain,omitempty" yaml:"fromDomain,omitempty" msgpack:"from,omitempty"`
	ToDomain                    string `json:"toDomain,omitempty" yaml:"toDomain,omitempty" msgpack:"to,omitempty"`
	TargetKind                  string `json:"targetKind,omitempty" yaml:"targetKind,omitempty" msgpack:"tk,omitempty"`
	Target                      string `json:"target,omitempty" yaml:"target,omitempty" msgpack:"tgt,omitempty"`
	Resolved                    bool   `json:"-" yaml:"-" msgpack:"res,omitempty"`
	ClauseCount                 int    `json:"clauseCount,omitempty" yaml:"clauseCount,omitempty" msgpack:"cc,omitempty"`
	HasCatchAllGuardless        bool   `json:"hasCatchAllGuardless,omitempty" yaml:"hasCatchAllGuardless,omitempty" msgpack:"cag,omitempty"`
	StepCount                   int    `json:"stepCount,omitempty" yaml:"stepCount,omitempty" msgpack:"sc,omitempty"`
	HasAnonymousStep            bool   `json:"hasAnonymousStep,omitempty" yaml:"hasAnonymousStep,omitempty" msgpack:"anon,omitempty"`
	PurposeTag                  string `json:"purposeTag,omitempty" yaml:"purposeTag,omitempty" msgpack:"pt,omitempty"`
	Scope                       string `json:"scope,omitempty" yaml:"scope,omitempty" msgpack:"scope,omitempty"`
	WrapsAnticipatedOnly        bool   `json:"wrapsAnticipatedOnly,omitempty" yaml:"wrapsAnticipatedOnly,omitempty" msgpack:"wao,omitempty"`
	HasSignatureDecl            bool   `json:"hasSignatureDecl,omitempty" yaml:"hasSignatureDecl,omitempty" msgpack:"sig,omitempty"`
	HasDescription              bool   `json:"hasDescription,omitempty" yaml:"hasDescription,omitempty" msgpack:"desc,omitempty"`
	AssertionCount              int    `json:"assertionCount,omitempty" yaml:"assertionCount,omitempty" msgpack:"ac,omitempty"`
	HasSleep                    bool   `json:"hasSleep,omitempty" yaml:"hasSleep,omitempty" msgpack:"sleep,omitempty"`
	TouchesSharedState          bool   `json:"touchesSharedState,omitempty" yaml:"touchesSharedState,omitempty" msgpack:"shared,omitempty"`
}

type wireClause struct {
	Shape string     `json:"shape" yaml:"shape" msgpack:"shape"`
	Body  []wireFact `json:"body,omitempty" yaml:"body,omitempty" msgpack:"body,omitempty"`
}

type wireSymbol struct {
	Name     string       `json:"name" yaml:"name" msgpack:"name"`
	Arity    int          `json:"arity" yaml:"arity" msgpack:"arity"`
	Exported bool         `json:"exported,omitempty" yaml:"exported,omitempty" msgpack:"exp,omitempty"`
	Span     review.Span  `json:"span" yaml:"span" msgpack:"span"`
	Clauses  []wireClause `json:"clauses,omitempty" yaml:"clauses,omitempty" msgpack:"clauses,omitempty"`
	Facts    []wireFact   `json:"facts,omitempty" yaml:"facts,omitempty" msgpack:"facts,omitempty"`
}

type wireUnit struct {
	Path         string        `json:"path" yaml:"path" msgpack:"path"`
	Domain       string        `json:"domain,omitempty" yaml:"domain,omitempty" msgpack:"domain,omitempty"`
	Span         review.Span   `json:"span" yaml:"span" msgpack:"span"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty" msgpack:"err,omitempty"`
	Facts        []wireFact    `json:"facts,omitempty" yaml:"facts,omitempty" msgpack:"facts,omitempty"`
	Symbols      []wireSymbol  `json:"symbols,omitempty" yaml:"symbols,omitempty" msgpack:"symbols,omitempty"`
	Suppressions []Suppression `json:"suppressions,omitempty" yaml:"suppressions,omitempty" msgpack:"supp,omitempty"`
}

// wireFile accepts either {"units": [...]} or a single unit at top level.
type wireFile struct {
	Units    []wireUnit `json:"units" yaml:"units"`
	wireUnit `yaml:",inline"`
}

// Decode parses one fact file. A syntax error fails the whole file; a
// malformed unit inside an otherwise valid file is returned with Error set.
func Decode(data []byte, format Format) ([]SourceUnit, error) {
	var wf wireFile
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("decoding JSON facts: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("decoding YAML facts: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported fact format %q", format)
	}

	wires := wf.Units
	if len(wires) == 0 && wf.Path != "" {
		wires = []wireUnit{wf.wireUnit}
	}
	if len(wires) == 0 {
		return nil, fmt.Errorf("no source units in input")
	}

	units := make([]SourceUnit, 0, len(wires))
	for _, w := range wires {
		units = append(units, w.toUnit())
	}
	return units, nil
}

// EncodeUnit returns a compact, deterministic msgpack encoding of a unit. It
// is used as cache key material.
func EncodeUnit(u *SourceUnit) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(fromUnit(u)); err != nil {
		return nil, fmt.Errorf("encoding unit %s: %w", u.Path, err)
	}
	return buf.Bytes(), nil
}

func (w wireUnit) toUnit() SourceUnit {
	u := SourceUnit{
		Path:         w.Path,
		Domain:       w.Domain,
		Span:         w.Span,
		Suppressions: w.Suppressions,
		Error:        w.Error,
	}
	if u.Path == "" {
		u.Path = "<unnamed>"
		if u.Error == "" {
			u.Error = "source unit has no path"
		}
		return u
	}
	if u.Error != "" {
		return u
	}

	var err error
	if u.Facts, err = toFacts(w.Facts); err != nil {
		u.Facts = nil
		u.Error = err.Error()
		return u
	}
	seen := make(map[string]bool, len(w.Symbols))
	for _, ws := range w.Symbols {
		if seen[ws.Name] {
			u.Symbols = nil
			u.Error = fmt.Sprintf("duplicate symbol %q", ws.Name)
			return u
		}
		seen[ws.Name] = true
		sym, err := ws.toSymbol()
		if err != nil {
			u.Symbols = nil
			u.Error = fmt.Sprintf("symbol %s: %v", ws.Name, err)
			return u
		}
		u.Symbols = append(u.Symbols, sym)
	}
	return u
}

func (w wireSymbol) toSymbol() (Symbol, error) {
	if w.Name == "" {
		return Symbol{}, fmt.Errorf("symbol has no name")
	}
	s := Symbol{
		Name:     w.Name,
		Arity:    w.Arity,
		Exported: w.Exported,
		Span:     w.Span,
	}
	var err error
	if s.Facts, err = toFacts(w.Facts); err != nil {
		return Symbol{}, err
	}
	for i, wc := range w.Clauses {
		body, err := toFacts(wc.Body)
		if err != nil {
			return Symbol{}, fmt.Errorf("clause %d: %w", i, err)
		}
		s.Clauses = append(s.Clauses, Clause{Shape: wc.Shape, Body: body})
	}
	return s, nil
}

func toFacts(ws []wireFact) ([]Fact, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]Fact, 0, len(ws))
	for _, w := range ws {
		f, err := w.toFact()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (w wireFact) toFact() (Fact, error) {
	switch Variant(w.Variant) {
	case VariantConcurrencyPrimitive:
		if w.Kind == "" {
			return nil, fmt.Errorf("%s at line %d has no kind", w.Variant, w.Span.StartLine)
		}
		return ConcurrencyPrimitiveDeclaration{Pos: w.Span, Kind: w.Kind, HasConcurrentAccessEvidence: w.HasConcurrentAccessEvidence}, nil
	case VariantCrossBoundaryRef:
		return CrossBoundaryReference{Pos: w.Span, FromDomain: w.FromDomain, ToDomain: w.ToDomain, TargetKind: w.TargetKind, Target: w.Target, Resolved: w.Resolved}, nil
	case VariantPatternClauseSet:
		if w.ClauseCount < 0 {
			return nil, fmt.Errorf("%s at line %d has negative clauseCount", w.Variant, w.Span.StartLine)
		}
		return PatternClauseSet{Pos: w.Span, ClauseCount: w.ClauseCount, HasCatchAllGuardless: w.HasCatchAllGuardless}, nil
	case VariantTransformationChain:
		if w.StepCount < 0 {
			return nil, fmt.Errorf("%s at line %d has negative stepCount", w.Variant, w.Span.StartLine)
		}
		return TransformationChain{Pos: w.Span, StepCount: w.StepCount, HasAnonymousStep: w.HasAnonymousStep}, nil
	case VariantValidationPipeline:
		return ValidationPipelineDefinition{Pos: w.Span, PurposeTag: w.PurposeTag}, nil
	case VariantErrorHandlingBlock:
		if w.Kind != RecoverExpected && w.Kind != RecoverUnexpected {
			return nil, fmt.Errorf("%s at line %d has kind %q (want %s or %s)",
				w.Variant, w.Span.StartLine, w.Kind, RecoverExpected, RecoverUnexpected)
		}
		return ErrorHandlingBlock{Pos: w.Span, Kind: w.Kind, Scope: w.Scope, WrapsAnticipatedOnly: w.WrapsAnticipatedOnly}, nil
	case VariantDocumentation:
		return DocumentationPresence{Pos: w.Span, HasSignatureDecl: w.HasSignatureDecl, HasDescription: w.HasDescription}, nil
	case VariantTestCaseShape:
		return TestCaseShape{Pos: w.Span, AssertionCount: w.AssertionCount, HasSleep: w.HasSleep, TouchesSharedState: w.TouchesSharedState}, nil
	default:
		return nil, fmt.Errorf("unknown fact variant %q", w.Variant)
	}
}

func fromUnit(u *SourceUnit) wireUnit {
	w := wireUnit{
		Path:         u.Path,
		Domain:       u.Domain,
		Span:         u.Span,
		Error:        u.Error,
		Facts:        fromFacts(u.Facts),
		Suppressions: u.Suppressions,
	}
	for _, s := range u.Symbols {
		ws := wireSymbol{
			Name:     s.Name,
			Arity:    s.Arity,
			Exported: s.Exported,
			Span:     s.Span,
			Facts:    fromFacts(s.Facts),
		}
		for _, c := range s.Clauses {
			ws.Clauses = append(ws.Clauses, wireClause{Shape: c.Shape, Body: fromFacts(c.Body)})
		}
		w.Symbols = append(w.Symbols, ws)
	}
	return w
}

func fromFacts(fs []Fact) []wireFact {
	if len(fs) == 0 {
		return nil
	}
	out := make([]wireFact, 0, len(fs))
	for _, f := range fs {
		w := wireFact{Variant: string(f.Variant()), Span: f.Span()}
		switch v := f.(type) {
		case ConcurrencyPrimitiveDeclaration:
			w.Kind, w.HasConcurrentAccessEvidence = v.Kind, v.HasConcurrentAccessEvidence
		case CrossBoundaryReference:
			w.FromDomain, w.ToDomain, w.TargetKind, w.Target, w.Resolved = v.FromDomain, v.ToDomain, v.TargetKind, v.Target, v.Resolved
		case PatternClauseSet:
			w.ClauseCount, w.HasCatchAllGuardless = v.ClauseCount, v.HasCatchAllGuardless
		case TransformationChain:
			w.StepCount, w.HasAnonymousStep = v.StepCount, v.HasAnonymousStep
		case ValidationPipelineDefinition:
			w.PurposeTag = v.PurposeTag
		case ErrorHandlingBlock:
			w.Kind, w.Scope, w.WrapsAnticipatedOnly = v.Kind, v.Scope, v.WrapsAnticipatedOnly
		case DocumentationPresence:
			w.HasSignatureDecl, w.HasDescription = v.HasSignatureDecl, v.HasDescription
		case TestCaseShape:
			w.AssertionCount, w.HasSleep, w.TouchesSharedState = v.AssertionCount, v.HasSleep, v.TouchesSharedState
		}
		out = append(out, w)
	}
	return out
}
