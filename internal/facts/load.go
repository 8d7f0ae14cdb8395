package facts

import (
	"errors"
	"fmt"
	"os"

	"github.com/dshills/tenet/internal/review"
)

// FrontEndError reports a fact file the loader could not read or decode.
type FrontEndError struct {
	Path string
	Err  error
}

func (e *FrontEndError) Error() string {
	return fmt.Sprintf("front-end failure for %s: %v", e.Path, e.Err)
}

func (e *FrontEndError) Unwrap() error { return e.Err }

// ErrNoInput is returned when a batch contains no units at all.
var ErrNoInput = errors.New("no source units to analyze")

// Batch is the set of units analyzed together in one run.
type Batch struct {
	Units []SourceUnit
	// Unresolved lists cross-boundary references whose target is not part
	// of the batch. It is filled by Link.
	Unresolved []review.UnresolvedReference
}

// LoadFiles reads fact files in order. A file that cannot be read or decoded
// becomes an unanalyzed unit named by its path; other files still load.
func LoadFiles(paths []string) (*Batch, error) {
	b := &Batch{}
	for _, p := range paths {
		units, err := loadFile(p)
		if err != nil {
			b.Units = append(b.Units, SourceUnit{Path: p, Error: err.Error(), Source: p})
			continue
		}
		for i := range units {
			units[i].Source = p
		}
		b.Units = append(b.Units, units...)
	}
	if len(b.Units) == 0 {
		return nil, ErrNoInput
	}
	markDuplicates(b.Units)
	return b, nil
}

func loadFile(path string) ([]SourceUnit, error) {
	format, ok := FormatForPath(path)
	if !ok {
		return nil, &FrontEndError{Path: path, Err: fmt.Errorf("unrecognized fact file extension")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FrontEndError{Path: path, Err: err}
	}
	units, err := Decode(data, format)
	if err != nil {
		return nil, &FrontEndError{Path: path, Err: err}
	}
	return units, nil
}

// markDuplicates flags every repeat of an already-seen unit path as a
// front-end failure and renames it, so each path appears once in the report
// and the repeat is still listed as unanalyzed.
func markDuplicates(units []SourceUnit) {
	first := make(map[string]string, len(units))
	repeats := make(map[string]int)
	for i := range units {
		u := &units[i]
		src, seen := first[u.Path]
		if !seen {
			first[u.Path] = u.Source
			continue
		}
		repeats[u.Path]++
		u.Error = fmt.Sprintf("duplicate source unit path %s, first loaded from %s", u.Path, src)
		u.Path = fmt.Sprintf("%s (duplicate %d from %s)", u.Path, repeats[u.Path], u.Source)
		u.Facts, u.Symbols, u.Suppressions = nil, nil, nil
	}
}

// Link resolves every CrossBoundaryReference in the batch against the units
// it contains. References whose target is missing, or that name neither a
// target nor a destination domain, stay Resolved=false and are listed in
// b.Unresolved; an empty ToDomain is filled from the target unit's domain. Link must run after any DomainResolver and before matching.
func (b *Batch) Link() {
	domains := make(map[string]string, len(b.Units))
	symbols := make(map[string]bool)
	for i := range b.Units {
		u := &b.Units[i]
		if !u.Analyzed() {
			continue
		}
		domains[u.Path] = u.Domain
		for _, s := range u.Symbols {
			symbols[u.Path+"#"+s.Name] = true
		}
	}

	lookup := func(target string) (string, bool) {
		unit, sym := SplitTarget(target)
		dom, ok := domains[unit]
		if !ok {
			return "", false
		}
		if sym != "" && !symbols[unit+"#"+sym] {
			return "", false
		}
		return dom, true
	}

	b.Unresolved = nil
	for i := range b.Units {
		u := &b.Units[i]
		if !u.Analyzed() {
			continue
		}
		link := func(symbol string, fs []Fact) {
			for j, f := range fs {
				ref, ok := f.(CrossBoundaryReference)
				if !ok {
					continue
				}
				if ref.Target == "" {
					// no target to check; trust a declared domain
					ref.Resolved = ref.ToDomain != ""
				} else {
					dom, found := lookup(ref.Target)
					ref.Resolved = found
					if found && ref.ToDomain == "" {
						ref.ToDomain = dom
					}
				}
				if ref.FromDomain == "" {
					ref.FromDomain = u.Domain
				}
				fs[j] = ref
				if !ref.Resolved {
					b.Unresolved = append(b.Unresolved, review.UnresolvedReference{
						SourceUnit: u.Path,
						Symbol:     symbol,
						Target:     ref.Target,
						Span:       ref.Pos,
					})
				}
			}
		}
		link("", u.Facts)
		for k := range u.Symbols {
			s := &u.Symbols[k]
			link(s.Name, s.Facts)
			for c := range s.Clauses {
				link(s.Name, s.Clauses[c].Body)
			}
		}
	}
}

// Analyzed returns the number of units the front-end produced facts for.
func (b *Batch) Analyzed() int {
	n := 0
	for i := range b.Units {
		if b.Units[i].Analyzed() {
			n++
		}
	}
	return n
}
