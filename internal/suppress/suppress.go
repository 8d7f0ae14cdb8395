// Package suppress reads and writes suppression baselines and collects
// inline suppressions declared in fact files.
//
// A baseline is a YAML file listing findings that are accepted for now:
//
//	version: 1
//	suppressions:
//	  - rule: boundary.internal-record-access
//	    unit: billing/invoice.ex
//	    symbol: total
//	    reason: migrating in Q3
//
// Entries match on rule (or suppression key) and unit, optionally narrowed by
// symbol and start line.
package suppress

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dshills/tenet/internal/facts"
	"github.com/dshills/tenet/internal/resolve"
	"github.com/dshills/tenet/internal/review"
)

// FormatVersion is the baseline file version written by Save.
const FormatVersion = 1

// OriginInline marks suppressions declared inside a fact file.
const OriginInline = "inline"

// Entry is one baseline suppression.
type Entry struct {
	Rule   string `yaml:"rule" json:"rule"`
	Unit   string `yaml:"unit" json:"unit"`
	Symbol string `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Line   int    `yaml:"line,omitempty" json:"line,omitempty"`
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Baseline is the on-disk suppression list.
type Baseline struct {
	Version int     `yaml:"version" json:"version"`
	Entries []Entry `yaml:"suppressions" json:"suppressions"`

	path string
}

// Load reads a baseline file. Returns nil (not an error) if path is empty.
func Load(path string) (*Baseline, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading baseline: %w", err)
	}
	var b Baseline
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing baseline %s: %w", path, err)
	}
	if b.Version > FormatVersion {
		return nil, fmt.Errorf("baseline %s has version %d, this build reads up to %d", path, b.Version, FormatVersion)
	}
	for i, e := range b.Entries {
		if e.Rule == "" || e.Unit == "" {
			return nil, fmt.Errorf("baseline %s: entry %d needs rule and unit", path, i+1)
		}
	}
	b.path = path
	return &b, nil
}

// Save writes the baseline atomically.
func (b *Baseline) Save(path string) error {
	b.Version = FormatVersion
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding baseline: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating baseline directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".baseline-*")
	if err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	b.path = path
	return nil
}

// FromFindings builds a baseline accepting exactly the given findings. Each
// entry is pinned to the finding's start line and narrowed by its symbol, so
// later findings of the same rule elsewhere in the symbol still report.
// Entries are sorted and unique.
func FromFindings(findings []review.Finding, reason string) *Baseline {
	seen := make(map[Entry]bool)
	b := &Baseline{Version: FormatVersion, Entries: []Entry{}}
	for _, f := range findings {
		e := Entry{
			Rule:   f.SuppressionKey,
			Unit:   f.SourceUnit,
			Symbol: f.Symbol,
			Line:   f.Span.StartLine,
			Reason: reason,
		}
		if e.Rule == "" {
			e.Rule = f.RuleID
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		b.Entries = append(b.Entries, e)
	}
	sort.Slice(b.Entries, func(i, j int) bool {
		x, y := b.Entries[i], b.Entries[j]
		if x.Unit != y.Unit {
			return x.Unit < y.Unit
		}
		if x.Rule != y.Rule {
			return x.Rule < y.Rule
		}
		if x.Symbol != y.Symbol {
			return x.Symbol < y.Symbol
		}
		return x.Line < y.Line
	})
	return b
}

// Suppressions converts the baseline for the resolver. Safe on a nil
// receiver.
func (b *Baseline) Suppressions() []resolve.Suppression {
	if b == nil {
		return nil
	}
	origin := b.path
	if origin == "" {
		origin = "baseline"
	}
	out := make([]resolve.Suppression, 0, len(b.Entries))
	for _, e := range b.Entries {
		out = append(out, resolve.Suppression{
			Key:        e.Rule,
			SourceUnit: e.Unit,
			Symbol:     e.Symbol,
			Line:       e.Line,
			Reason:     e.Reason,
			Origin:     origin,
		})
	}
	return out
}

// Inline collects the suppressions declared inside analyzed units.
func Inline(units []facts.SourceUnit) []resolve.Suppression {
	var out []resolve.Suppression
	for i := range units {
		u := &units[i]
		if !u.Analyzed() {
			continue
		}
		for _, s := range u.Suppressions {
			out = append(out, resolve.Suppression{
				Key:        s.Rule,
				SourceUnit: u.Path,
				Symbol:     s.Symbol,
				Line:       s.Line,
				Reason:     s.Reason,
				Origin:     OriginInline,
			})
		}
	}
	return out
}
