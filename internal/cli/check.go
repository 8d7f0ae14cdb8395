package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/tenet/internal/config"
	"github.com/dshills/tenet/internal/discover"
	"github.com/dshills/tenet/internal/facts"
	"github.com/dshills/tenet/internal/gitctx"
	"github.com/dshills/tenet/internal/output"
	"github.com/dshills/tenet/internal/pipeline"
	"github.com/dshills/tenet/internal/review"
	"github.com/dshills/tenet/internal/rules"
	"github.com/dshills/tenet/internal/suppress"
)

// Shared analysis flags
var (
	flagRules      []string
	flagCategories []string
	flagDisable    []string
	flagFormat     string
	flagOut        string
	flagFailOn     string
	flagMaxScore   int
	flagBaseline   string
	flagWorkers    int
	flagNoCache    bool
	flagChanged    string
	flagNoBuiltin  bool
	flagColor      string
)

func addAnalysisFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&flagRules, "rules", nil, "Rule file (yaml, toml or json); repeatable")
	cmd.Flags().StringArrayVar(&flagCategories, "category", nil, "Only evaluate rules in this category; repeatable")
	cmd.Flags().StringArrayVar(&flagDisable, "disable", nil, "Disable a rule by id; repeatable")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "Parallel workers (default: number of CPUs)")
	cmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "Bypass the result cache")
	cmd.Flags().StringVar(&flagChanged, "changed", "", "Only report units changed since this git revision")
	cmd.Flags().Lookup("changed").NoOptDefVal = "HEAD"
	cmd.Flags().BoolVar(&flagNoBuiltin, "no-builtin", false, "Do not load the built-in rule pack")
}

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if len(flagRules) > 0 {
		m["rulesFiles"] = strings.Join(flagRules, ",")
	}
	if len(flagCategories) > 0 {
		m["categories"] = strings.Join(flagCategories, ",")
	}
	if len(flagDisable) > 0 {
		m["disabledRules"] = strings.Join(flagDisable, ",")
	}
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagFailOn != "" {
		m["failOn"] = flagFailOn
	}
	if flagMaxScore > 0 {
		m["maxScore"] = strconv.Itoa(flagMaxScore)
	}
	if flagBaseline != "" {
		m["baseline"] = flagBaseline
	}
	if flagWorkers > 0 {
		m["workers"] = strconv.Itoa(flagWorkers)
	}
	if flagNoCache {
		m["cache.enabled"] = "false"
	}
	if flagNoBuiltin {
		m["noBuiltin"] = "true"
	}
	if flagColor != "" {
		m["color"] = flagColor
	}
	return m
}

// loadRegistry loads the built-in pack and rule files, then applies the
// category and disabled-rule selection.
func loadRegistry(cfg config.Config) (*rules.Registry, error) {
	reg, err := rules.Load(cfg.RulesFiles, !cfg.NoBuiltin)
	if err != nil {
		return nil, err
	}
	var cats []review.Category
	for _, c := range cfg.Categories {
		cat, err := review.ParseCategory(c)
		if err != nil {
			return nil, err
		}
		cats = append(cats, cat)
	}
	if len(cats) == 0 && len(cfg.DisabledRules) == 0 {
		return reg, nil
	}
	return reg.Select(cats, cfg.DisabledRules)
}

// registryExitCode maps a registry error to an exit code.
func registryExitCode(err error) int {
	var rle *rules.RuleLoadError
	if errors.As(err, &rle) {
		return ExitRuleLoad
	}
	return ExitUsageError
}

// analysis is everything a check or baseline run needs.
type analysis struct {
	cfg   config.Config
	log   *slog.Logger
	files []string
	opts  pipeline.Options
}

// prepare loads config, rules and inputs. It returns false after recording
// the exit code when something fails.
func prepare(args []string, withBaseline bool) (*analysis, bool) {
	cfg, err := config.Load(buildOverrides())
	if err != nil {
		fail(ExitUsageError, "%v", err)
		return nil, false
	}
	log := newLogger(os.Stderr, cfg.LogLevel)

	reg, err := loadRegistry(cfg)
	if err != nil {
		fail(registryExitCode(err), "%v", err)
		return nil, false
	}
	log.Info("rules loaded", "rules", reg.Len(), "digest", reg.Digest())

	paths := args
	if len(paths) == 0 {
		paths = []string{"."}
	}
	files, err := discover.FactFiles(paths)
	if err != nil {
		fail(ExitFrontEnd, "%v", err)
		return nil, false
	}
	if len(files) == 0 {
		fail(ExitFrontEnd, "no fact files found under %s", strings.Join(paths, ", "))
		return nil, false
	}
	log.Info("inputs discovered", "files", len(files))

	opts := pipeline.Options{
		Registry: reg,
		Workers:  cfg.Workers,
		Version:  version,
		Logger:   log,
	}
	if len(cfg.Domains) > 0 {
		opts.Domains = facts.NewPrefixDomains(cfg.Domains)
	}
	if cfg.Cache.Enabled {
		c, err := newCache(cfg, false)
		if err != nil {
			log.Warn("cache disabled", "error", err)
		} else {
			opts.Cache = c
		}
	}
	if withBaseline && cfg.Baseline != "" {
		b, err := suppress.Load(cfg.Baseline)
		if err != nil {
			fail(ExitRuntimeError, "%v", err)
			return nil, false
		}
		opts.Baseline = b
	}
	if flagChanged != "" {
		only, err := gitctx.ChangedSet(flagChanged)
		if err != nil {
			fail(ExitRuntimeError, "%v", err)
			return nil, false
		}
		log.Info("restricting to changed units", "revision", flagChanged, "files", len(only))
		opts.OnlyUnits = only
	}

	return &analysis{cfg: cfg, log: log, files: files, opts: opts}, true
}

func (a *analysis) run(ctx context.Context) (*review.Report, bool) {
	rep, err := pipeline.RunFiles(ctx, a.files, a.opts)
	if err != nil {
		if errors.Is(err, facts.ErrNoInput) {
			fail(ExitFrontEnd, "%v", err)
		} else {
			fail(ExitRuntimeError, "%v", err)
		}
		return nil, false
	}
	for _, u := range rep.Units {
		if !u.Analyzed {
			a.log.Warn("unit not analyzed", "unit", u.Path, "reason", u.Reason)
		}
	}
	return rep, true
}

// decideExit applies the failure threshold to a finished report.
func decideExit(rep *review.Report, cfg config.Config) int {
	if rep.Summary.UnanalyzedUnits > 0 {
		return ExitFrontEnd
	}
	if cfg.MaxScore > 0 && rep.Summary.TotalScore >= cfg.MaxScore {
		return ExitFindings
	}
	for _, f := range rep.Findings {
		if review.MeetsThreshold(f.Severity, cfg.FailOn) {
			return ExitFindings
		}
	}
	return ExitSuccess
}

var checkCmd = &cobra.Command{
	Use:   "check [paths...]",
	Short: "Check fact files against the rule registry",
	Long: "Check loads fact files (directories are searched for *.facts.json, *.facts.yaml and *.facts.yml), " +
		"evaluates every rule, and writes a report. Exits 1 when findings reach the failure threshold.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ok := prepare(args, true)
		if !ok {
			return nil
		}
		rep, ok := a.run(cmd.Context())
		if !ok {
			return nil
		}
		if err := output.WriteReport(rep, a.cfg.Format, flagOut, a.cfg.Color); err != nil {
			fail(ExitRuntimeError, "writing output: %v", err)
			return nil
		}
		exitCode = decideExit(rep, a.cfg)
		return nil
	},
}

var flagBaselineReason string

var baselineCmd = &cobra.Command{
	Use:   "baseline [paths...]",
	Short: "Record current findings as accepted",
	Long: "Baseline runs a check without the existing baseline and writes every remaining finding " +
		"to a suppression file, so later checks only report new findings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ok := prepare(args, false)
		if !ok {
			return nil
		}
		rep, ok := a.run(cmd.Context())
		if !ok {
			return nil
		}

		out := flagOut
		if out == "" {
			out = a.cfg.Baseline
		}
		if out == "" {
			out = ".tenet-baseline.yaml"
		}
		b := suppress.FromFindings(rep.Findings, flagBaselineReason)
		if err := b.Save(out); err != nil {
			fail(ExitRuntimeError, "%v", err)
			return nil
		}
		fmt.Fprintf(os.Stdout, "Wrote %d suppression(s) to %s\n", len(b.Entries), out)
		if rep.Summary.UnanalyzedUnits > 0 {
			fmt.Fprintf(os.Stderr, "%d unit(s) were not analyzed; the baseline is incomplete\n", rep.Summary.UnanalyzedUnits)
			exitCode = ExitFrontEnd
		}
		return nil
	},
}

func init() {
	addAnalysisFlags(checkCmd)
	addAnalysisFlags(baselineCmd)

	checkCmd.Flags().StringVar(&flagFormat, "format", "", "Output format (text, json, markdown, sarif)")
	checkCmd.Flags().StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	checkCmd.Flags().StringVar(&flagFailOn, "fail-on", "", "Fail on severity threshold (error, warn, info, none)")
	checkCmd.Flags().IntVar(&flagMaxScore, "max-score", 0, "Fail when the total score reaches this value")
	checkCmd.Flags().StringVar(&flagBaseline, "baseline", "", "Suppression baseline file")
	checkCmd.Flags().StringVar(&flagColor, "color", "", "Colorize text output (auto, always, never)")

	baselineCmd.Flags().StringVar(&flagOut, "out", "", "Baseline file to write (default: config baseline or .tenet-baseline.yaml)")
	baselineCmd.Flags().StringVar(&flagBaselineReason, "reason", "accepted in baseline", "Reason recorded on every entry")
}
