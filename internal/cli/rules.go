package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/dshills/tenet/internal/config"
	"github.com/dshills/tenet/internal/rules"
)

var flagRulesJSON bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and validate rules",
}

// ruleRegistry loads rules the way check does, honoring config and flags.
func ruleRegistry() (*rules.Registry, bool) {
	cfg, err := config.Load(buildOverrides())
	if err != nil {
		fail(ExitUsageError, "%v", err)
		return nil, false
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		fail(registryExitCode(err), "%v", err)
		return nil, false
	}
	return reg, true
}

type ruleSummary struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Severity string   `json:"severity"`
	Scope    string   `json:"scope"`
	Tags     []string `json:"tags,omitempty"`
}

func writeRuleList(w io.Writer, rs []rules.Rule, asJSON bool) error {
	if asJSON {
		list := make([]ruleSummary, 0, len(rs))
		for _, r := range rs {
			list = append(list, ruleSummary{
				ID:       r.ID,
				Category: string(r.Category),
				Severity: string(r.Severity),
				Scope:    string(r.Scope),
				Tags:     r.Tags,
			})
		}
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	idWidth := len("ID")
	for _, r := range rs {
		idWidth = max(idWidth, runewidth.StringWidth(r.ID))
	}
	if _, err := fmt.Fprintf(w, "%s  %-26s %-5s  %s\n", runewidth.FillRight("ID", idWidth), "CATEGORY", "SEV", "SCOPE"); err != nil {
		return err
	}
	for _, r := range rs {
		if _, err := fmt.Fprintf(w, "%s  %-26s %-5s  %s\n", runewidth.FillRight(r.ID, idWidth), r.Category, r.Severity, r.Scope); err != nil {
			return err
		}
	}
	return nil
}

func writeRuleDetail(w io.Writer, r rules.Rule) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.ID)
	fmt.Fprintf(&b, "  category:  %s\n", r.Category)
	fmt.Fprintf(&b, "  severity:  %s\n", r.Severity)
	fmt.Fprintf(&b, "  scope:     %s\n", r.Scope)
	if r.Expression != "" {
		fmt.Fprintf(&b, "  predicate: %s\n", r.Expression)
	}
	fmt.Fprintf(&b, "  message:   %s\n", r.Message)
	if r.Fix != "" {
		fmt.Fprintf(&b, "  fix:       %s\n", r.Fix)
	}
	if r.SuppressionKey != "" {
		fmt.Fprintf(&b, "  suppress:  %s\n", r.SuppressionKey)
	}
	if len(r.Tags) > 0 {
		fmt.Fprintf(&b, "  tags:      %s\n", strings.Join(r.Tags, ", "))
	}
	if r.ExampleBad != "" {
		fmt.Fprintf(&b, "\n  flagged:\n%s\n", indent(r.ExampleBad, "    "))
	}
	if r.ExampleGood != "" {
		fmt.Fprintf(&b, "\n  preferred:\n%s\n", indent(r.ExampleGood, "    "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules a check would evaluate",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, ok := ruleRegistry()
		if !ok {
			return nil
		}
		if err := writeRuleList(os.Stdout, reg.AllRules(), flagRulesJSON); err != nil {
			fail(ExitRuntimeError, "%v", err)
		}
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one rule in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, ok := ruleRegistry()
		if !ok {
			return nil
		}
		r, err := reg.Rule(args[0])
		if err != nil {
			if errors.Is(err, rules.ErrRuleNotFound) {
				fail(ExitUsageError, "%v", err)
				return nil
			}
			fail(ExitRuntimeError, "%v", err)
			return nil
		}
		if err := writeRuleDetail(os.Stdout, r); err != nil {
			fail(ExitRuntimeError, "%v", err)
		}
		return nil
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <files...>",
	Short: "Validate rule files without running a check",
	Long:  "Validate compiles every rule in the given files, together with the built-in pack unless --no-builtin, and reports the first error.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := rules.Load(args, !flagNoBuiltin)
		if err != nil {
			fail(registryExitCode(err), "%v", err)
			return nil
		}
		fmt.Fprintf(os.Stdout, "OK: %d rules, digest %s\n", reg.Len(), reg.Digest())
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesShowCmd)
	rulesCmd.AddCommand(rulesValidateCmd)

	for _, cmd := range []*cobra.Command{rulesListCmd, rulesShowCmd} {
		cmd.Flags().StringArrayVar(&flagRules, "rules", nil, "Rule file (yaml, toml or json); repeatable")
		cmd.Flags().StringArrayVar(&flagCategories, "category", nil, "Only include this category; repeatable")
		cmd.Flags().BoolVar(&flagNoBuiltin, "no-builtin", false, "Do not load the built-in rule pack")
	}
	rulesListCmd.Flags().BoolVar(&flagRulesJSON, "json", false, "Print the list as JSON")
	rulesValidateCmd.Flags().BoolVar(&flagNoBuiltin, "no-builtin", false, "Validate the files on their own")
}
