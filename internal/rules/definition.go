package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/dshills/tenet/internal/review"
)

// Definition is the on-disk form of a rule.
type Definition struct {
	ID             string   `json:"id" yaml:"id" toml:"id"`
	Category       string   `json:"category" yaml:"category" toml:"category"`
	Severity       string   `json:"severity" yaml:"severity" toml:"severity"`
	Scope          string   `json:"scope,omitempty" yaml:"scope,omitempty" toml:"scope,omitempty"`
	Predicate      string   `json:"predicate" yaml:"predicate" toml:"predicate"`
	Message        string   `json:"message" yaml:"message" toml:"message"`
	Fix            string   `json:"fix,omitempty" yaml:"fix,omitempty" toml:"fix,omitempty"`
	SuppressionKey string   `json:"suppression_key,omitempty" yaml:"suppression_key,omitempty" toml:"suppression_key,omitempty"`
	ExampleGood    string   `json:"example_good,omitempty" yaml:"example_good,omitempty" toml:"example_good,omitempty"`
	ExampleBad     string   `json:"example_bad,omitempty" yaml:"example_bad,omitempty" toml:"example_bad,omitempty"`
	Tags           []string `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`

	// Source is the file the definition came from.
	Source string `json:"-" yaml:"-" toml:"-"`
}

// File is the top level of a rule file.
type File struct {
	Rules []Definition `json:"rules" yaml:"rules" toml:"rules"`
}

// Format is a rule file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatForPath picks the encoding from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported rule file extension %q", filepath.Ext(path))
}

// ParseDefinitions decodes a rule file body. Unknown keys are rejected so a
// misspelled field does not silently drop a predicate.
func ParseDefinitions(data []byte, format Format) ([]Definition, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing toml: unknown key %s", undecoded[0])
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported rule format %q", format)
	}
	return f.Rules, nil
}

// LoadFile reads the definitions in one rule file.
func LoadFile(path string) ([]Definition, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, &RuleLoadError{Source: path, Reason: err.Error()}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RuleLoadError{Source: path, Reason: err.Error()}
	}
	defs, err := ParseDefinitions(data, format)
	if err != nil {
		return nil, &RuleLoadError{Source: path, Reason: err.Error()}
	}
	for i := range defs {
		defs[i].Source = path
	}
	return defs, nil
}

// LoadFiles reads every file in order. The first failure aborts.
func LoadFiles(paths []string) ([]Definition, error) {
	var all []Definition
	for _, p := range paths {
		defs, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, defs...)
	}
	return all, nil
}

// Compile validates a definition and compiles its predicate.
func Compile(def Definition) (Rule, error) {
	fail := func(format string, args ...any) (Rule, error) {
		return Rule{}, &RuleLoadError{RuleID: def.ID, Source: def.Source, Reason: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(def.ID) == "" {
		return fail("rule id is empty")
	}
	cat, err := review.ParseCategory(def.Category)
	if err != nil {
		return fail("%v", err)
	}
	sev, err := review.ParseSeverity(def.Severity)
	if err != nil {
		return fail("%v", err)
	}
	scope, err := ParseScope(def.Scope)
	if err != nil {
		return fail("%v", err)
	}
	if strings.TrimSpace(def.Predicate) == "" {
		return fail("predicate is empty")
	}
	expr, err := CompileExpr(def.Predicate, scope)
	if err != nil {
		return fail("predicate: %v", err)
	}
	if strings.TrimSpace(def.Message) == "" {
		return fail("message is empty")
	}
	if err := checkTemplate(def.Message, expr.Variants()); err != nil {
		return fail("message: %v", err)
	}
	if err := checkTemplate(def.Fix, expr.Variants()); err != nil {
		return fail("fix: %v", err)
	}

	return Rule{
		ID:             def.ID,
		Category:       cat,
		Severity:       sev,
		Scope:          scope,
		Expression:     def.Predicate,
		Predicate:      expr,
		Message:        def.Message,
		Fix:            def.Fix,
		SuppressionKey: def.SuppressionKey,
		ExampleGood:    def.ExampleGood,
		ExampleBad:     def.ExampleBad,
		Tags:           append([]string(nil), def.Tags...),
	}, nil
}
