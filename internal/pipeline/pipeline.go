// Package pipeline wires the analysis stages together: domain resolution,
// reference linking, matching, resolution, scoring and report synthesis.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/dshills/tenet/internal/engine"
	"github.com/dshills/tenet/internal/facts"
	"github.com/dshills/tenet/internal/report"
	"github.com/dshills/tenet/internal/resolve"
	"github.com/dshills/tenet/internal/review"
	"github.com/dshills/tenet/internal/rules"
	"github.com/dshills/tenet/internal/suppress"
)

// ToolName is reported in every report.
const ToolName = "tenet"

// Options configures a run.
type Options struct {
	Registry *rules.Registry
	Workers  int
	Cache    engine.ResultCache
	Baseline *suppress.Baseline
	// Domains assigns domains to units that do not declare one.
	Domains facts.DomainResolver
	// OnlyUnits restricts the report to these unit paths. Nil means all.
	// Every unit still takes part in reference linking.
	OnlyUnits map[string]bool
	Version   string
	Logger    *slog.Logger
}

// RunFiles loads fact files and runs the pipeline over them.
func RunFiles(ctx context.Context, paths []string, opts Options) (*review.Report, error) {
	batch, err := facts.LoadFiles(paths)
	if err != nil {
		return nil, err
	}
	return Run(ctx, batch, opts)
}

// Run analyzes a batch. It links the batch in place.
func Run(ctx context.Context, batch *facts.Batch, opts Options) (*review.Report, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if opts.Domains != nil {
		opts.Domains.ResolveDomains(batch.Units)
	}
	batch.Link()

	units, unresolved := batch.Units, batch.Unresolved
	if opts.OnlyUnits != nil {
		units, unresolved = restrict(units, unresolved, opts.OnlyUnits)
	}
	log.Debug("batch linked", "units", len(units), "analyzed", batch.Analyzed(), "unresolved", len(unresolved))

	eng := engine.New(opts.Registry, engine.Options{Workers: opts.Workers, Cache: opts.Cache, Logger: log})
	matched, err := eng.Run(ctx, units)
	if err != nil {
		return nil, err
	}

	sups := append(opts.Baseline.Suppressions(), suppress.Inline(units)...)
	resolved := resolve.Resolve(matched.Findings(), sups)
	log.Debug("findings resolved",
		"candidates", len(matched.Findings()),
		"kept", len(resolved.Findings),
		"suppressed", len(resolved.Suppressed),
		"superseded", resolved.Superseded)

	return report.Build(report.Input{
		Tool:    ToolName,
		Version: opts.Version,
		RuleSet: review.RuleSetInfo{
			Digest:     opts.Registry.Digest(),
			Rules:      opts.Registry.Len(),
			Categories: opts.Registry.Categories(),
		},
		Units:      units,
		Resolution: resolved,
		Warnings:   matched.Warnings(),
		Unresolved: unresolved,
	}), nil
}

func restrict(units []facts.SourceUnit, refs []review.UnresolvedReference, only map[string]bool) ([]facts.SourceUnit, []review.UnresolvedReference) {
	var keptUnits []facts.SourceUnit
	for _, u := range units {
		if only[u.Path] {
			keptUnits = append(keptUnits, u)
		}
	}
	var keptRefs []review.UnresolvedReference
	for _, r := range refs {
		if only[r.SourceUnit] {
			keptRefs = append(keptRefs, r)
		}
	}
	return keptUnits, keptRefs
}
