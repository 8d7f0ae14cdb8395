// Package cli wires together the Cobra command tree for the tenet binary.
//
// It defines the root command and all subcommands (check, baseline, rules,
// config, cache, hook, version), binds flags, reads configuration, runs the
// analysis pipeline, and returns deterministic exit codes for CI gating.
package cli
