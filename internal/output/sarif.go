package output

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/dshills/tenet/internal/review"
)

// SARIFWriter outputs findings in SARIF v2.1.0 format.
type SARIFWriter struct{}

func (s *SARIFWriter) Write(w io.Writer, report *review.Report) error {
	sarif := buildSARIF(report)
	data, err := json.MarshalIndent(sarif, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling SARIF: %w", err)
	}
	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing SARIF: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

// SARIF schema types (v2.1.0)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool        sarifTool         `json:"tool"`
	Invocations []sarifInvocation `json:"invocations"`
	Results     []sarifResult     `json:"results"`
	Properties  sarifRunProps     `json:"properties"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version,omitempty"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	ShortDescription sarifMessage        `json:"shortDescription"`
	DefaultConfig    sarifDefaultConfig  `json:"defaultConfiguration"`
	Properties       sarifRuleProperties `json:"properties,omitempty"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifRuleProperties struct {
	Tags []string `json:"tags,omitempty"`
}

type sarifInvocation struct {
	ExecutionSuccessful bool                `json:"executionSuccessful"`
	Notifications       []sarifNotification `json:"toolExecutionNotifications,omitempty"`
}

type sarifNotification struct {
	Level   string       `json:"level"`
	Message sarifMessage `json:"message"`
}

type sarifRunProps struct {
	RuleSetDigest string `json:"ruleSetDigest"`
	TotalScore    int    `json:"totalScore"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Fixes               []sarifFix        `json:"fixes,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
	LogicalLocations []sarifLogical        `json:"logicalLocations,omitempty"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
}

type sarifLogical struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type sarifFix struct {
	Description sarifMessage `json:"description"`
}

func buildSARIF(report *review.Report) sarifLog {
	rulesMap := make(map[string]sarifRule)
	results := make([]sarifResult, 0, len(report.Findings))

	for _, f := range report.Findings {
		if _, ok := rulesMap[f.RuleID]; !ok {
			rulesMap[f.RuleID] = sarifRule{
				ID:               f.RuleID,
				Name:             string(f.Category),
				ShortDescription: sarifMessage{Text: f.RuleID},
				DefaultConfig:    sarifDefaultConfig{Level: severityToLevel(f.Severity)},
				Properties:       sarifRuleProperties{Tags: []string{string(f.Category)}},
			}
		}

		loc := sarifLocation{
			PhysicalLocation: sarifPhysicalLocation{
				ArtifactLocation: sarifArtifactLocation{URI: f.SourceUnit},
				Region:           sarifRegion{StartLine: max(f.Span.StartLine, 1), EndLine: max(f.Span.EndLine, f.Span.StartLine, 1)},
			},
		}
		if f.Symbol != "" {
			loc.LogicalLocations = []sarifLogical{{Name: f.Symbol, Kind: "function"}}
		}

		result := sarifResult{
			RuleID:              f.RuleID,
			Level:               severityToLevel(f.Severity),
			Message:             sarifMessage{Text: f.Message},
			Locations:           []sarifLocation{loc},
			PartialFingerprints: map[string]string{"tenet/v1": fingerprint(f)},
		}
		if f.Suggestion != "" {
			result.Fixes = append(result.Fixes, sarifFix{
				Description: sarifMessage{Text: f.Suggestion},
			})
		}
		results = append(results, result)
	}

	ids := make([]string, 0, len(rulesMap))
	for id := range rulesMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rules := make([]sarifRule, 0, len(ids))
	for _, id := range ids {
		rules = append(rules, rulesMap[id])
	}

	inv := sarifInvocation{ExecutionSuccessful: report.Summary.UnanalyzedUnits == 0}
	for _, u := range report.Units {
		if !u.Analyzed {
			inv.Notifications = append(inv.Notifications, sarifNotification{
				Level:   "error",
				Message: sarifMessage{Text: fmt.Sprintf("%s not analyzed: %s", u.Path, u.Reason)},
			})
		}
	}
	for _, wn := range report.Warnings {
		inv.Notifications = append(inv.Notifications, sarifNotification{
			Level:   "warning",
			Message: sarifMessage{Text: fmt.Sprintf("%s in %s: %s", wn.RuleID, wn.SourceUnit, wn.Reason)},
		})
	}

	return sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:           report.Tool,
						Version:        report.Version,
						InformationURI: "https://github.com/dshills/tenet",
						Rules:          rules,
					},
				},
				Invocations: []sarifInvocation{inv},
				Results:     results,
				Properties: sarifRunProps{
					RuleSetDigest: report.RuleSet.Digest,
					TotalScore:    report.Summary.TotalScore,
				},
			},
		},
	}
}

// severityToLevel maps tenet severity to SARIF level.
func severityToLevel(s review.Severity) string {
	switch s {
	case review.SeverityError:
		return "error"
	case review.SeverityWarn:
		return "warning"
	default:
		return "note"
	}
}

// fingerprint is stable across line shifts inside a symbol.
func fingerprint(f review.Finding) string {
	key := f.RuleID + "\x00" + f.SourceUnit + "\x00" + f.Symbol
	if f.Symbol == "" {
		key += "\x00" + f.Span.String()
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:8])
}
