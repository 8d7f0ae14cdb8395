package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"fortio.org/safecast"

	"github.com/dshills/tenet/internal/facts"
	"github.com/dshills/tenet/internal/review"
)

// Env is what a predicate sees for one (rule, location) pair.
type Env struct {
	Unit *facts.SourceUnit
	// Symbol is nil for unit-scoped rules and for symbol-scoped rules
	// evaluated at the unit location.
	Symbol *facts.Symbol
	Facts  []facts.Fact
}

// Match is the result of evaluating a predicate.
type Match struct {
	Fired bool
	// Span is the evidence span; HasSpan is false when the predicate fired
	// without pointing at a particular fact.
	Span    review.Span
	HasSpan bool
	// Vars holds the evidence fact's fields for message rendering.
	Vars map[string]string
}

// Predicate is a pure function from a fact set to a match. Evaluating it
// twice on the same Env must give the same Match.
type Predicate interface {
	Eval(env Env) (Match, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(env Env) (Match, error)

func (f PredicateFunc) Eval(env Env) (Match, error) { return f(env) }

// Expr is a compiled predicate expression.
type Expr struct {
	src      string
	root     node
	variants []facts.Variant
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// Variants returns the fact variants the expression references, sorted.
func (e *Expr) Variants() []facts.Variant { return e.variants }

// Eval implements Predicate.
func (e *Expr) Eval(env Env) (Match, error) {
	ok, ev, err := e.root.eval(&env)
	if err != nil {
		return Match{}, err
	}
	if !ok {
		return Match{}, nil
	}
	m := Match{Fired: true}
	if ev != nil {
		m.Span, m.HasSpan, m.Vars = ev.span, true, ev.vars
	}
	return m, nil
}

// CompileExpr parses and type-checks a predicate for the given scope.
func CompileExpr(src string, scope Scope) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, scope: scope, seen: make(map[facts.Variant]bool)}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
	e := &Expr{src: src, root: root}
	for v := range p.seen {
		e.variants = append(e.variants, v)
	}
	sort.Slice(e.variants, func(i, j int) bool { return e.variants[i] < e.variants[j] })
	return e, nil
}

// --- lexer ---

type tokKind int

const (
	tEOF tokKind = iota
	tIdent
	tString
	tInt
	tOp
	tPunct
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')' || c == '{' || c == '}':
			toks = append(toks, token{tPunct, string(c), i})
			i++
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			s, err := strconv.Unquote(src[i : j+1])
			if err != nil {
				return nil, fmt.Errorf("bad string at offset %d: %w", i, err)
			}
			toks = append(toks, token{tString, s, i})
			i = j + 1
		case c >= '0' && c <= '9', c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			j := i + 1
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			toks = append(toks, token{tInt, src[i:j], i})
			i = j
		case c == '_' || unicode.IsLetter(rune(c)):
			j := i + 1
			for j < len(src) && (src[j] == '_' || unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j]))) {
				j++
			}
			toks = append(toks, token{tIdent, src[i:j], i})
			i = j
		default:
			op := ""
			for _, cand := range []string{"&&", "||", "==", "!=", "<=", ">=", "<", ">", "!"} {
				if strings.HasPrefix(src[i:], cand) {
					op = cand
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			toks = append(toks, token{tOp, op, i})
			i += len(op)
		}
	}
	return append(toks, token{tEOF, "end of expression", len(src)}), nil
}

// --- parser ---

type parser struct {
	toks  []token
	i     int
	scope Scope
	seen  map[facts.Variant]bool
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tEOF {
		p.i++
	}
	return t
}

func (p *parser) is(kind tokKind, text string) bool {
	t := p.peek()
	return t.kind == kind && t.text == text
}

func (p *parser) expect(kind tokKind, text string) error {
	t := p.next()
	if t.kind != kind || t.text != text {
		return fmt.Errorf("expected %q at offset %d, found %q", text, t.pos, t.text)
	}
	return nil
}

func isCmp(t token) bool {
	if t.kind != tOp {
		return false
	}
	switch t.text {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.is(tOp, "||") {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = orNode{l, r}
	}
	return l, nil
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.is(tOp, "&&") {
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = andNode{l, r}
	}
	return l, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.is(tOp, "!") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tPunct:
		if t.text != "(" {
			return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
		}
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tPunct, ")"); err != nil {
			return nil, err
		}
		return x, nil
	case tIdent:
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}

	switch t.text {
	case "true", "false":
		return boolNode(t.text == "true"), nil
	case "any", "none":
		v := p.next()
		if v.kind != tIdent {
			return nil, fmt.Errorf("expected fact variant after %q at offset %d", t.text, v.pos)
		}
		return p.parseExists(v, t.text == "none")
	case "count":
		return p.parseCount()
	case "exported":
		if p.scope == ScopeUnit {
			return nil, fmt.Errorf("%q is only available to symbol-scoped rules", t.text)
		}
		return exportedNode{}, nil
	case "arity", "symbolCount":
		if t.text == "arity" && p.scope == ScopeUnit {
			return nil, fmt.Errorf("%q is only available to symbol-scoped rules", t.text)
		}
		op, n, err := p.parseIntCmp()
		if err != nil {
			return nil, err
		}
		return shapeNode{attr: t.text, op: op, n: n}, nil
	}
	return p.parseExists(t, false)
}

func (p *parser) variant(t token) (facts.Variant, error) {
	v := facts.Variant(t.text)
	if !facts.KnownVariant(v) {
		return "", fmt.Errorf("unknown fact variant %q at offset %d", t.text, t.pos)
	}
	p.seen[v] = true
	return v, nil
}

func (p *parser) parseBody(v facts.Variant) (cond, error) {
	if err := p.expect(tPunct, "{"); err != nil {
		return nil, err
	}
	if p.is(tPunct, "}") {
		p.next()
		return nil, nil
	}
	c, err := p.condOr(v)
	if err != nil {
		return nil, err
	}
	if err := p.expect(tPunct, "}"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseExists(t token, negate bool) (node, error) {
	v, err := p.variant(t)
	if err != nil {
		return nil, err
	}
	c, err := p.parseBody(v)
	if err != nil {
		return nil, err
	}
	return existsNode{variant: v, cond: c, negate: negate}, nil
}

func (p *parser) parseCount() (node, error) {
	if err := p.expect(tPunct, "("); err != nil {
		return nil, err
	}
	t := p.next()
	v, err := p.variant(t)
	if err != nil {
		return nil, err
	}
	c, err := p.parseBody(v)
	if err != nil {
		return nil, err
	}
	if err := p.expect(tPunct, ")"); err != nil {
		return nil, err
	}
	op, n, err := p.parseIntCmp()
	if err != nil {
		return nil, err
	}
	return countNode{variant: v, cond: c, op: op, n: n}, nil
}

func (p *parser) parseIntCmp() (string, int, error) {
	op := p.next()
	if !isCmp(op) {
		return "", 0, fmt.Errorf("expected comparison at offset %d, found %q", op.pos, op.text)
	}
	lit := p.next()
	if lit.kind != tInt {
		return "", 0, fmt.Errorf("expected integer at offset %d, found %q", lit.pos, lit.text)
	}
	n, err := parseInt(lit)
	if err != nil {
		return "", 0, err
	}
	return op.text, n, nil
}

func parseInt(t token) (int, error) {
	n64, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q at offset %d: %w", t.text, t.pos, err)
	}
	n32, err := safecast.Conv[int32](n64)
	if err != nil {
		return 0, fmt.Errorf("integer %q at offset %d is out of range: %w", t.text, t.pos, err)
	}
	return int(n32), nil
}

// --- conditions over one fact ---

func (p *parser) condOr(v facts.Variant) (cond, error) {
	l, err := p.condAnd(v)
	if err != nil {
		return nil, err
	}
	for p.is(tOp, "||") {
		p.next()
		r, err := p.condAnd(v)
		if err != nil {
			return nil, err
		}
		l = condOr{l, r}
	}
	return l, nil
}

func (p *parser) condAnd(v facts.Variant) (cond, error) {
	l, err := p.condUnary(v)
	if err != nil {
		return nil, err
	}
	for p.is(tOp, "&&") {
		p.next()
		r, err := p.condUnary(v)
		if err != nil {
			return nil, err
		}
		l = condAnd{l, r}
	}
	return l, nil
}

func (p *parser) condUnary(v facts.Variant) (cond, error) {
	if p.is(tOp, "!") {
		p.next()
		x, err := p.condUnary(v)
		if err != nil {
			return nil, err
		}
		return condNot{x}, nil
	}
	if p.is(tPunct, "(") {
		p.next()
		x, err := p.condOr(v)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tPunct, ")"); err != nil {
			return nil, err
		}
		return x, nil
	}

	l, err := p.operand(v)
	if err != nil {
		return nil, err
	}
	if !isCmp(p.peek()) {
		if l.kind != facts.KindBool {
			return nil, fmt.Errorf("%s is %s, not a condition", l, l.kind)
		}
		return condTruth{l}, nil
	}
	op := p.next()
	r, err := p.operand(v)
	if err != nil {
		return nil, err
	}
	if l.kind != r.kind {
		return nil, fmt.Errorf("cannot compare %s (%s) with %s (%s) at offset %d", l, l.kind, r, r.kind, op.pos)
	}
	if l.kind == facts.KindBool && op.text != "==" && op.text != "!=" {
		return nil, fmt.Errorf("operator %s is not defined on bool at offset %d", op.text, op.pos)
	}
	return condCmp{op: op.text, l: l, r: r}, nil
}

func (p *parser) operand(v facts.Variant) (operand, error) {
	t := p.next()
	switch t.kind {
	case tString:
		lit := facts.StringValue(t.text)
		return operand{lit: &lit, kind: facts.KindString}, nil
	case tInt:
		n, err := parseInt(t)
		if err != nil {
			return operand{}, err
		}
		lit := facts.IntValue(n)
		return operand{lit: &lit, kind: facts.KindInt}, nil
	case tIdent:
		switch t.text {
		case "true", "false":
			lit := facts.BoolValue(t.text == "true")
			return operand{lit: &lit, kind: facts.KindBool}, nil
		case "domain":
			return operand{field: "domain", kind: facts.KindString}, nil
		}
		kind, ok := facts.Schema[v][t.text]
		if !ok {
			return operand{}, fmt.Errorf("%s has no field %q (offset %d)", v, t.text, t.pos)
		}
		return operand{field: t.text, kind: kind}, nil
	}
	return operand{}, fmt.Errorf("expected field or literal at offset %d, found %q", t.pos, t.text)
}

// --- evaluation ---

type evidence struct {
	span review.Span
	vars map[string]string
}

type node interface {
	eval(env *Env) (bool, *evidence, error)
}

type boolNode bool

func (b boolNode) eval(*Env) (bool, *evidence, error) { return bool(b), nil, nil }

type notNode struct{ x node }

func (n notNode) eval(env *Env) (bool, *evidence, error) {
	ok, _, err := n.x.eval(env)
	return !ok, nil, err
}

type andNode struct{ l, r node }

func (n andNode) eval(env *Env) (bool, *evidence, error) {
	ok, ev, err := n.l.eval(env)
	if err != nil || !ok {
		return false, nil, err
	}
	ok, ev2, err := n.r.eval(env)
	if err != nil || !ok {
		return false, nil, err
	}
	if ev == nil {
		ev = ev2
	}
	return true, ev, nil
}

type orNode struct{ l, r node }

func (n orNode) eval(env *Env) (bool, *evidence, error) {
	ok, ev, err := n.l.eval(env)
	if err != nil {
		return false, nil, err
	}
	if ok {
		return true, ev, nil
	}
	return n.r.eval(env)
}

type existsNode struct {
	variant facts.Variant
	cond    cond
	negate  bool
}

func (n existsNode) eval(env *Env) (bool, *evidence, error) {
	for _, f := range env.Facts {
		if f.Variant() != n.variant {
			continue
		}
		ok, err := holds(n.cond, f, env)
		if err != nil {
			return false, nil, err
		}
		if ok {
			if n.negate {
				return false, nil, nil
			}
			return true, evidenceOf(f, env), nil
		}
	}
	return n.negate, nil, nil
}

type countNode struct {
	variant facts.Variant
	cond    cond
	op      string
	n       int
}

func (n countNode) eval(env *Env) (bool, *evidence, error) {
	count := 0
	var first *evidence
	for _, f := range env.Facts {
		if f.Variant() != n.variant {
			continue
		}
		ok, err := holds(n.cond, f, env)
		if err != nil {
			return false, nil, err
		}
		if ok {
			count++
			if first == nil {
				first = evidenceOf(f, env)
			}
		}
	}
	ok, err := compare(n.op, facts.IntValue(count), facts.IntValue(n.n))
	if err != nil || !ok {
		return false, nil, err
	}
	if first != nil {
		first.vars["count"] = strconv.Itoa(count)
	}
	return true, first, nil
}

type exportedNode struct{}

func (exportedNode) eval(env *Env) (bool, *evidence, error) {
	return env.Symbol != nil && env.Symbol.Exported, nil, nil
}

type shapeNode struct {
	attr string
	op   string
	n    int
}

func (n shapeNode) eval(env *Env) (bool, *evidence, error) {
	var v int
	switch n.attr {
	case "arity":
		// a unit location has no arity
		if env.Symbol == nil {
			return false, nil, nil
		}
		v = env.Symbol.Arity
	case "symbolCount":
		if env.Unit == nil {
			return false, nil, fmt.Errorf("symbolCount evaluated without a unit")
		}
		v = len(env.Unit.Symbols)
	}
	ok, err := compare(n.op, facts.IntValue(v), facts.IntValue(n.n))
	return ok, nil, err
}

func evidenceOf(f facts.Fact, env *Env) *evidence {
	vars := make(map[string]string)
	for name := range facts.Schema[f.Variant()] {
		if v, ok := f.Field(name); ok {
			vars[name] = v.String()
		}
	}
	vars["variant"] = string(f.Variant())
	return &evidence{span: f.Span(), vars: vars}
}

type cond interface {
	holds(f facts.Fact, env *Env) (bool, error)
}

func holds(c cond, f facts.Fact, env *Env) (bool, error) {
	if c == nil {
		return true, nil
	}
	return c.holds(f, env)
}

type condAnd struct{ l, r cond }

func (c condAnd) holds(f facts.Fact, env *Env) (bool, error) {
	ok, err := c.l.holds(f, env)
	if err != nil || !ok {
		return false, err
	}
	return c.r.holds(f, env)
}

type condOr struct{ l, r cond }

func (c condOr) holds(f facts.Fact, env *Env) (bool, error) {
	ok, err := c.l.holds(f, env)
	if err != nil || ok {
		return ok, err
	}
	return c.r.holds(f, env)
}

type condNot struct{ x cond }

func (c condNot) holds(f facts.Fact, env *Env) (bool, error) {
	ok, err := c.x.holds(f, env)
	return !ok, err
}

type condTruth struct{ x operand }

func (c condTruth) holds(f facts.Fact, env *Env) (bool, error) {
	v, err := c.x.value(f, env)
	if err != nil {
		return false, err
	}
	if v.Kind != facts.KindBool {
		return false, fmt.Errorf("%s is %s, not bool", c.x, v.Kind)
	}
	return v.Bool, nil
}

type condCmp struct {
	op   string
	l, r operand
}

func (c condCmp) holds(f facts.Fact, env *Env) (bool, error) {
	a, err := c.l.value(f, env)
	if err != nil {
		return false, err
	}
	b, err := c.r.value(f, env)
	if err != nil {
		return false, err
	}
	return compare(c.op, a, b)
}

type operand struct {
	field string
	lit   *facts.Value
	kind  facts.Kind
}

func (o operand) String() string {
	if o.lit != nil {
		if o.lit.Kind == facts.KindString {
			return strconv.Quote(o.lit.Str)
		}
		return o.lit.String()
	}
	return o.field
}

func (o operand) value(f facts.Fact, env *Env) (facts.Value, error) {
	if o.lit != nil {
		return *o.lit, nil
	}
	if o.field == "domain" {
		if env.Unit == nil {
			return facts.Value{}, fmt.Errorf("domain evaluated without a unit")
		}
		return facts.StringValue(env.Unit.Domain), nil
	}
	v, ok := f.Field(o.field)
	if !ok {
		return facts.Value{}, fmt.Errorf("%s fact has no field %q", f.Variant(), o.field)
	}
	return v, nil
}

func compare(op string, a, b facts.Value) (bool, error) {
	switch op {
	case "==":
		return a.Equal(b), nil
	case "!=":
		return !a.Equal(b), nil
	case "<":
		return a.Less(b)
	case "<=":
		lt, err := a.Less(b)
		return lt || a.Equal(b), err
	case ">":
		return b.Less(a)
	case ">=":
		gt, err := b.Less(a)
		return gt || a.Equal(b), err
	}
	return false, fmt.Errorf("unknown operator %q", op)
}
