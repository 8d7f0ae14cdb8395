package facts

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/dshills/tenet/internal/review"
)

// Variant names one member of the closed set of fact kinds.
type Variant string

const (
	VariantConcurrencyPrimitive Variant = "ConcurrencyPrimitiveDeclaration"
	VariantCrossBoundaryRef     Variant = "CrossBoundaryReference"
	VariantPatternClauseSet     Variant = "PatternClauseSet"
	VariantTransformationChain  Variant = "TransformationChain"
	VariantValidationPipeline   Variant = "ValidationPipelineDefinition"
	VariantErrorHandlingBlock   Variant = "ErrorHandlingBlock"
	VariantDocumentation        Variant = "DocumentationPresence"
	VariantTestCaseShape        Variant = "TestCaseShape"
)

// ErrorHandlingBlock kinds.
const (
	RecoverExpected   = "recoverExpected"
	RecoverUnexpected = "recoverUnexpected"
)

// Kind is the type of a fact field.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Schema maps every variant to its fields and their kinds. It is the only
// vocabulary rule predicates may reference.
var Schema = map[Variant]map[string]Kind{
	VariantConcurrencyPrimitive: {
		"kind":                        KindString,
		"hasConcurrentAccessEvidence": KindBool,
	},
	VariantCrossBoundaryRef: {
		"fromDomain": KindString,
		"toDomain":   KindString,
		"targetKind": KindString,
		"target":     KindString,
		"resolved":   KindBool,
	},
	VariantPatternClauseSet: {
		"clauseCount":          KindInt,
		"hasCatchAllGuardless": KindBool,
	},
	VariantTransformationChain: {
		"stepCount":        KindInt,
		"hasAnonymousStep": KindBool,
	},
	VariantValidationPipeline: {
		"purposeTag": KindString,
	},
	VariantErrorHandlingBlock: {
		"kind":                 KindString,
		"scope":                KindString,
		"wrapsAnticipatedOnly": KindBool,
	},
	VariantDocumentation: {
		"hasSignatureDecl": KindBool,
		"hasDescription":   KindBool,
	},
	VariantTestCaseShape: {
		"assertionCount":     KindInt,
		"hasSleep":           KindBool,
		"touchesSharedState": KindBool,
	},
}

// KnownVariant reports whether v is in the closed set.
func KnownVariant(v Variant) bool {
	_, ok := Schema[v]
	return ok
}

// Variants returns the closed set in sorted order.
func Variants() []Variant {
	out := make([]Variant, 0, len(Schema))
	for v := range Schema {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Value is a typed field value.
type Value struct {
	Kind Kind
	Str  string
	Int  int
	Bool bool
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntValue(n int) Value       { return Value{Kind: KindInt, Int: n} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.Itoa(v.Int)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Equal compares two values of the same kind.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindBool:
		return v.Bool == o.Bool
	}
	return false
}

// Less orders two values of the same kind. Booleans are not ordered.
func (v Value) Less(o Value) (bool, error) {
	if v.Kind != o.Kind {
		return false, fmt.Errorf("cannot order %s against %s", v.Kind, o.Kind)
	}
	switch v.Kind {
	case KindString:
		return v.Str < o.Str, nil
	case KindInt:
		return v.Int < o.Int, nil
	default:
		return false, fmt.Errorf("%s values are not ordered", v.Kind)
	}
}

// Fact is an immutable structural observation. The set of implementations
// is closed; see Schema.
type Fact interface {
	Variant() Variant
	Span() review.Span
	// Field returns the named field; ok is false for names outside the
	// variant's schema.
	Field(name string) (Value, bool)
}

// ConcurrencyPrimitiveDeclaration records a declared stateful concurrent
// resource (process, agent, actor, shared table...).
type ConcurrencyPrimitiveDeclaration struct {
	Pos                         review.Span
	Kind                        string
	HasConcurrentAccessEvidence bool
}

func (ConcurrencyPrimitiveDeclaration) Variant() Variant { return VariantConcurrencyPrimitive }
func (f ConcurrencyPrimitiveDeclaration) Span() review.Span { return f.Pos }
func (f ConcurrencyPrimitiveDeclaration) Field(name string) (Value, bool) {
	switch name {
	case "kind":
		return StringValue(f.Kind), true
	case "hasConcurrentAccessEvidence":
		return BoolValue(f.HasConcurrentAccessEvidence), true
	}
	return Value{}, false
}

// CrossBoundaryReference records a reference from one domain into another.
// Target has the form "unitPath#symbol" or "unitPath".
type CrossBoundaryReference struct {
	Pos        review.Span
	FromDomain string
	ToDomain   string
	TargetKind string
	Target     string
	// Resolved is computed when the batch is linked; see Batch.Link.
	Resolved bool
}

func (CrossBoundaryReference) Variant() Variant { return VariantCrossBoundaryRef }
func (f CrossBoundaryReference) Span() review.Span { return f.Pos }
func (f CrossBoundaryReference) Field(name string) (Value, bool) {
	switch name {
	case "fromDomain":
		return StringValue(f.FromDomain), true
	case "toDomain":
		return StringValue(f.ToDomain), true
	case "targetKind":
		return StringValue(f.TargetKind), true
	case "target":
		return StringValue(f.Target), true
	case "resolved":
		return BoolValue(f.Resolved), true
	}
	return Value{}, false
}

// PatternClauseSet summarizes the clauses of a multi-clause function or
// match expression.
type PatternClauseSet struct {
	Pos                  review.Span
	ClauseCount          int
	HasCatchAllGuardless bool
}

func (PatternClauseSet) Variant() Variant { return VariantPatternClauseSet }
func (f PatternClauseSet) Span() review.Span { return f.Pos }
func (f PatternClauseSet) Field(name string) (Value, bool) {
	switch name {
	case "clauseCount":
		return IntValue(f.ClauseCount), true
	case "hasCatchAllGuardless":
		return BoolValue(f.HasCatchAllGuardless), true
	}
	return Value{}, false
}

// TransformationChain summarizes a composed pipeline of transformations.
type TransformationChain struct {
	Pos              review.Span
	StepCount        int
	HasAnonymousStep bool
}

func (TransformationChain) Variant() Variant { return VariantTransformationChain }
func (f TransformationChain) Span() review.Span { return f.Pos }
func (f TransformationChain) Field(name string) (Value, bool) {
	switch name {
	case "stepCount":
		return IntValue(f.StepCount), true
	case "hasAnonymousStep":
		return BoolValue(f.HasAnonymousStep), true
	}
	return Value{}, false
}

// ValidationPipelineDefinition records a data-validation pipeline and the
// purpose it was declared for.
type ValidationPipelineDefinition struct {
	Pos        review.Span
	PurposeTag string
}

func (ValidationPipelineDefinition) Variant() Variant { return VariantValidationPipeline }
func (f ValidationPipelineDefinition) Span() review.Span { return f.Pos }
func (f ValidationPipelineDefinition) Field(name string) (Value, bool) {
	if name == "purposeTag" {
		return StringValue(f.PurposeTag), true
	}
	return Value{}, false
}

// ErrorHandlingBlock is a recover/catch region. Kind is RecoverExpected for
// a caller-facing result encoding of anticipated failures, and
// RecoverUnexpected for a broad catch-all around non-anticipated faults.
type ErrorHandlingBlock struct {
	Pos                  review.Span
	Kind                 string
	Scope                string
	WrapsAnticipatedOnly bool
}

func (ErrorHandlingBlock) Variant() Variant { return VariantErrorHandlingBlock }
func (f ErrorHandlingBlock) Span() review.Span { return f.Pos }
func (f ErrorHandlingBlock) Field(name string) (Value, bool) {
	switch name {
	case "kind":
		return StringValue(f.Kind), true
	case "scope":
		return StringValue(f.Scope), true
	case "wrapsAnticipatedOnly":
		return BoolValue(f.WrapsAnticipatedOnly), true
	}
	return Value{}, false
}

// DocumentationPresence records what documentation a symbol carries.
type DocumentationPresence struct {
	Pos              review.Span
	HasSignatureDecl bool
	HasDescription   bool
}

func (DocumentationPresence) Variant() Variant { return VariantDocumentation }
func (f DocumentationPresence) Span() review.Span { return f.Pos }
func (f DocumentationPresence) Field(name string) (Value, bool) {
	switch name {
	case "hasSignatureDecl":
		return BoolValue(f.HasSignatureDecl), true
	case "hasDescription":
		return BoolValue(f.HasDescription), true
	}
	return Value{}, false
}

// TestCaseShape summarizes the structure of one test case.
type TestCaseShape struct {
	Pos                review.Span
	AssertionCount     int
	HasSleep           bool
	TouchesSharedState bool
}

func (TestCaseShape) Variant() Variant { return VariantTestCaseShape }
func (f TestCaseShape) Span() review.Span { return f.Pos }
func (f TestCaseShape) Field(name string) (Value, bool) {
	switch name {
	case "assertionCount":
		return IntValue(f.AssertionCount), true
	case "hasSleep":
		return BoolValue(f.HasSleep), true
	case "touchesSharedState":
		return BoolValue(f.TouchesSharedState), true
	}
	return Value{}, false
}
