package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/tenet/internal/config"
	"github.com/dshills/tenet/internal/gitctx"
	"github.com/dshills/tenet/internal/review"
)

const (
	hookMarkerStart = "# >>> tenet pre-commit hook >>>"
	hookMarkerEnd   = "# <<< tenet pre-commit hook <<<"
	hookShebang     = "#!/bin/sh"
)

var (
	hookFailOn string
	hookFormat string
	hookPaths  string
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Run tenet on changed units before each commit",
}

var hookInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Add the tenet section to the pre-commit hook",
	Long: "Add (or refresh) a marked tenet section in .git/hooks/pre-commit. Other hook content is kept. " +
		"The hook blocks the commit only when findings reach --fail-on; tool errors let the commit through.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if hookFailOn != "none" {
			if _, err := review.ParseSeverity(hookFailOn); err != nil {
				fail(ExitUsageError, "invalid --fail-on %q (want error, warn, info or none)", hookFailOn)
				return nil
			}
		}
		if !slices.Contains(config.Formats, hookFormat) {
			fail(ExitUsageError, "invalid --format %q (want one of %s)", hookFormat, strings.Join(config.Formats, ", "))
			return nil
		}
		path, err := preCommitPath()
		if err != nil {
			fail(ExitRuntimeError, "%v", err)
			return nil
		}
		created, err := installHook(path, generateHookScript(hookFailOn, hookFormat, hookPaths))
		if err != nil {
			fail(ExitRuntimeError, "%v", err)
			return nil
		}
		verb := "Updated"
		if created {
			verb = "Created"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s pre-commit hook at %s\n", verb, path)
		return nil
	},
}

var hookUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the tenet section from the pre-commit hook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := preCommitPath()
		if err != nil {
			fail(ExitRuntimeError, "%v", err)
			return nil
		}
		res, err := uninstallHook(path)
		if err != nil {
			fail(ExitRuntimeError, "%v", err)
			return nil
		}
		out := cmd.OutOrStdout()
		switch res {
		case hookAbsent:
			fmt.Fprintln(out, "No tenet section in the pre-commit hook.")
		case hookDeleted:
			fmt.Fprintf(out, "Deleted %s (nothing else was in it)\n", path)
		case hookTrimmed:
			fmt.Fprintf(out, "Removed the tenet section from %s\n", path)
		}
		return nil
	},
}

func preCommitPath() (string, error) {
	dir, err := gitctx.HooksDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pre-commit"), nil
}

// installHook writes section into the hook at path, replacing an earlier
// tenet section. created reports whether the file is new.
func installHook(path, section string) (created bool, err error) {
	existing, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		created = true
	case err != nil:
		return false, fmt.Errorf("reading hook: %w", err)
	}

	content := hookShebang + "\n" + section
	if strings.TrimSpace(string(existing)) != "" {
		content = replaceHookSection(string(existing), section)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating hooks directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return false, fmt.Errorf("writing hook: %w", err)
	}
	return created, nil
}

type uninstallResult int

const (
	hookAbsent uninstallResult = iota
	hookTrimmed
	hookDeleted
)

// uninstallHook removes the tenet section. A hook left with nothing but a
// shebang is deleted.
func uninstallHook(path string) (uninstallResult, error) {
	existing, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return hookAbsent, nil
	}
	if err != nil {
		return hookAbsent, fmt.Errorf("reading hook: %w", err)
	}
	if _, _, ok := hookSection(string(existing)); !ok {
		return hookAbsent, nil
	}

	rest := removeHookSection(string(existing))
	body := strings.TrimSpace(rest)
	if body == "" || (strings.HasPrefix(body, "#!") && !strings.Contains(body, "\n")) {
		if err := os.Remove(path); err != nil {
			return hookAbsent, fmt.Errorf("removing hook: %w", err)
		}
		return hookDeleted, nil
	}
	if err := os.WriteFile(path, []byte(rest), 0o755); err != nil {
		return hookAbsent, fmt.Errorf("writing hook: %w", err)
	}
	return hookTrimmed, nil
}

// generateHookScript checks only the units changed against HEAD. Exit 1
// blocks the commit; any other failure is reported and lets it through.
func generateHookScript(failOn, format, paths string) string {
	lines := []string{
		hookMarkerStart,
		fmt.Sprintf("tenet check %s --changed HEAD --fail-on %s --format %s", paths, failOn, format),
		"TENET_EXIT=$?",
		"case $TENET_EXIT in",
		"  0) ;;",
		`  1) echo "tenet: findings at or above ` + failOn + `, commit blocked" >&2; exit 1 ;;`,
		`  *) echo "tenet: check did not complete (exit $TENET_EXIT), allowing commit" >&2 ;;`,
		"esac",
		hookMarkerEnd,
	}
	return strings.Join(lines, "\n") + "\n"
}

// hookSection locates the marked block, end included.
func hookSection(s string) (start, end int, ok bool) {
	start = strings.Index(s, hookMarkerStart)
	if start < 0 {
		return 0, 0, false
	}
	n := strings.Index(s[start:], hookMarkerEnd)
	if n < 0 {
		return 0, 0, false
	}
	end = start + n + len(hookMarkerEnd)
	if end < len(s) && s[end] == '\n' {
		end++
	}
	return start, end, true
}

func replaceHookSection(existing, section string) string {
	start, end, ok := hookSection(existing)
	if !ok {
		if existing != "" && !strings.HasSuffix(existing, "\n") {
			existing += "\n"
		}
		return existing + section
	}
	return existing[:start] + section + existing[end:]
}

func removeHookSection(existing string) string {
	start, end, ok := hookSection(existing)
	if !ok {
		return existing
	}
	return existing[:start] + existing[end:]
}

func init() {
	hookCmd.AddCommand(hookInstallCmd, hookUninstallCmd)
	hookInstallCmd.Flags().StringVar(&hookFailOn, "fail-on", "error", "Lowest severity that blocks the commit (error, warn, info, none)")
	hookInstallCmd.Flags().StringVar(&hookFormat, "format", "text", "Report format printed by the hook")
	hookInstallCmd.Flags().StringVar(&hookPaths, "paths", ".", "Fact files or directories the hook checks")
}
