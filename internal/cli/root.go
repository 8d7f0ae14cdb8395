package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "0.1.0"

// Exit codes. When several apply, rule load errors win over front-end
// failures, which win over findings.
const (
	ExitSuccess      = 0
	ExitFindings     = 1
	ExitUsageError   = 2
	ExitRuleLoad     = 3
	ExitFrontEnd     = 4
	ExitRuntimeError = 5
)

var rootCmd = &cobra.Command{
	Use:   "tenet",
	Short: "Rule-based idiom checker over extracted source facts",
	Long:  "Tenet evaluates a registry of idiom rules against structural facts extracted from source units and reports findings with deterministic exit codes.",
}

var flagVerbose int

// Run executes the root command and returns an exit code.
func Run() int {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(baselineCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}

	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

// fail reports an error on stderr and records the exit code.
func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	exitCode = code
}

// newLogger builds the stderr diagnostics logger. -v raises the configured
// level to info, -vv to debug.
func newLogger(w io.Writer, configured string) *slog.Logger {
	level := slog.LevelWarn
	switch configured {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	switch {
	case flagVerbose >= 2:
		level = min(level, slog.LevelDebug)
	case flagVerbose == 1:
		level = min(level, slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print tenet version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "tenet version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "Increase diagnostic logging (-v info, -vv debug)")
}
