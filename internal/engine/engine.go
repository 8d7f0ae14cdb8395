package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/tenet/internal/cache"
	"github.com/dshills/tenet/internal/facts"
	"github.com/dshills/tenet/internal/review"
	"github.com/dshills/tenet/internal/rules"
)

// ResultCache stores matching results per unit. *cache.Cache implements it.
type ResultCache interface {
	Get(key string) (*cache.Payload, bool)
	Put(key string, p *cache.Payload) error
}

// Options configures an Engine.
type Options struct {
	// Workers bounds parallel unit evaluation. Zero means GOMAXPROCS.
	Workers int
	// Cache is optional.
	Cache  ResultCache
	Logger *slog.Logger
}

// UnitResult holds the candidate findings for one unit, before resolution.
type UnitResult struct {
	Findings []review.Finding
	Warnings []review.EvaluationWarning
	// Skipped is true for units the front-end could not analyze.
	Skipped bool
	// Cached is true when the result came from the cache.
	Cached bool
}

// Result is indexed like the input units.
type Result struct {
	Units []UnitResult
}

// Findings returns every candidate finding in unit order.
func (r *Result) Findings() []review.Finding {
	var out []review.Finding
	for _, u := range r.Units {
		out = append(out, u.Findings...)
	}
	return out
}

// Warnings returns every evaluation warning in unit order.
func (r *Result) Warnings() []review.EvaluationWarning {
	var out []review.EvaluationWarning
	for _, u := range r.Units {
		out = append(out, u.Warnings...)
	}
	return out
}

// Engine evaluates a rule registry against source units.
type Engine struct {
	reg  *rules.Registry
	opts Options
	log  *slog.Logger
}

// New creates an Engine.
func New(reg *rules.Registry, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{reg: reg, opts: opts, log: log}
}

// Run evaluates every rule against every analyzed unit. Units are processed
// in parallel; results are stored by index so they do not depend on
// scheduling. If ctx is cancelled, Run returns ctx.Err() and no result.
func (e *Engine) Run(ctx context.Context, units []facts.SourceUnit) (*Result, error) {
	results := make([]UnitResult, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.runUnit(&units[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Units: results}, nil
}

func (e *Engine) runUnit(u *facts.SourceUnit) UnitResult {
	if !u.Analyzed() {
		e.log.Debug("skipping unanalyzed unit", "unit", u.Path, "reason", u.Error)
		return UnitResult{Skipped: true}
	}
	if e.opts.Cache == nil {
		return e.MatchUnit(u)
	}

	enc, err := facts.EncodeUnit(u)
	if err != nil {
		e.log.Debug("unit not cacheable", "unit", u.Path, "error", err)
		return e.MatchUnit(u)
	}
	key := cache.HashKey([]byte(e.reg.Digest()), enc)
	if p, ok := e.opts.Cache.Get(key); ok {
		e.log.Debug("cache hit", "unit", u.Path)
		return UnitResult{Findings: p.Findings, Warnings: p.Warnings, Cached: true}
	}
	res := e.MatchUnit(u)
	if err := e.opts.Cache.Put(key, &cache.Payload{Findings: res.Findings, Warnings: res.Warnings}); err != nil {
		e.log.Warn("cache write failed", "unit", u.Path, "error", err)
	}
	return res
}

// MatchUnit evaluates every rule against one unit. A predicate that fails
// or panics produces an EvaluationWarning for that (rule, location) pair
// and evaluation continues.
//
// Symbol-scoped rules run once per symbol and, when the unit carries facts
// of its own, once more at the unit location over those facts.
func (e *Engine) MatchUnit(u *facts.SourceUnit) UnitResult {
	var res UnitResult
	if !u.Analyzed() {
		res.Skipped = true
		return res
	}

	unitFacts := u.AllFacts()
	for _, rule := range e.reg.AllRules() {
		if rule.Scope == rules.ScopeUnit {
			env := rules.Env{Unit: u, Facts: scoped(rule, unitFacts)}
			e.apply(&res, &rule, u, nil, env)
			continue
		}
		if len(u.Facts) > 0 {
			env := rules.Env{Unit: u, Facts: scoped(rule, u.Facts)}
			e.apply(&res, &rule, u, nil, env)
		}
		for i := range u.Symbols {
			sym := &u.Symbols[i]
			env := rules.Env{Unit: u, Symbol: sym, Facts: scoped(rule, sym.EffectiveFacts())}
			e.apply(&res, &rule, u, sym, env)
		}
	}
	return res
}

func (e *Engine) apply(res *UnitResult, rule *rules.Rule, u *facts.SourceUnit, sym *facts.Symbol, env rules.Env) {
	symName := ""
	if sym != nil {
		symName = sym.Name
	}
	m, err := evaluate(rule.Predicate, env)
	if err != nil {
		e.log.Debug("predicate failed", "rule", rule.ID, "unit", u.Path, "symbol", symName, "error", err)
		res.Warnings = append(res.Warnings, review.EvaluationWarning{
			RuleID:     rule.ID,
			SourceUnit: u.Path,
			Symbol:     symName,
			Reason:     err.Error(),
		})
		return
	}
	if !m.Fired {
		return
	}

	span := u.Span
	if sym != nil {
		span = sym.Span
	}
	if m.HasSpan {
		span = m.Span
	}

	// {symbol} names the unit at a unit location
	label := symName
	if label == "" {
		label = u.Path
	}
	vars := map[string]string{
		"unit":   u.Path,
		"domain": u.Domain,
		"rule":   rule.ID,
		"symbol": label,
	}
	if sym != nil {
		vars["arity"] = strconv.Itoa(sym.Arity)
	}
	for k, v := range m.Vars {
		vars[k] = v
	}

	res.Findings = append(res.Findings, review.Finding{
		RuleID:         rule.ID,
		Category:       rule.Category,
		Severity:       rule.Severity,
		SourceUnit:     u.Path,
		Symbol:         symName,
		Span:           span,
		Message:        rules.Render(rule.Message, vars),
		Suggestion:     rules.Render(rule.Fix, vars),
		SuppressionKey: rule.Key(),
	})
}

func evaluate(p rules.Predicate, env rules.Env) (m rules.Match, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	return p.Eval(env)
}

// scoped returns the facts a rule may see. Boundary rules do not see
// references whose target could not be resolved.
func scoped(rule rules.Rule, fs []facts.Fact) []facts.Fact {
	if rule.Category != review.CategoryBoundaryDiscipline {
		return fs
	}
	out := make([]facts.Fact, 0, len(fs))
	for _, f := range fs {
		if ref, ok := f.(facts.CrossBoundaryReference); ok && !ref.Resolved {
			continue
		}
		out = append(out, f)
	}
	return out
}
