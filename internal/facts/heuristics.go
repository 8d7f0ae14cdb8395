package facts

import (
	"sort"
	"strings"
)

// DomainResolver fills in domain membership the front-end could not state
// structurally. It runs before Link and is the only place naming
// conventions may influence facts; the matching engine never guesses.
type DomainResolver interface {
	ResolveDomains(units []SourceUnit)
}

// PrefixDomains assigns a domain to every unit without one by the longest
// path prefix that matches it.
type PrefixDomains struct {
	prefixes []string
	domains  map[string]string
}

// NewPrefixDomains builds a resolver from a prefix → domain table. Empty
// prefixes and domains are ignored.
func NewPrefixDomains(table map[string]string) *PrefixDomains {
	p := &PrefixDomains{domains: make(map[string]string, len(table))}
	for prefix, domain := range table {
		if prefix == "" || domain == "" {
			continue
		}
		p.prefixes = append(p.prefixes, prefix)
		p.domains[prefix] = domain
	}
	// longest first; ties broken lexically so the result is deterministic
	sort.Slice(p.prefixes, func(i, j int) bool {
		if len(p.prefixes[i]) != len(p.prefixes[j]) {
			return len(p.prefixes[i]) > len(p.prefixes[j])
		}
		return p.prefixes[i] < p.prefixes[j]
	})
	return p
}

// DomainFor returns the domain for path, if any prefix matches.
func (p *PrefixDomains) DomainFor(path string) (string, bool) {
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(path, prefix) {
			return p.domains[prefix], true
		}
	}
	return "", false
}

// ResolveDomains implements DomainResolver. Units that already declare a
// domain keep it.
func (p *PrefixDomains) ResolveDomains(units []SourceUnit) {
	if p == nil || len(p.prefixes) == 0 {
		return
	}
	for i := range units {
		if units[i].Domain != "" {
			continue
		}
		if d, ok := p.DomainFor(units[i].Path); ok {
			units[i].Domain = d
		}
	}
}
