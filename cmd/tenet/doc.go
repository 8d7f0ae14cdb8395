// Tenet is a deterministic, rule-based idiom checker. It reads structural
// facts extracted from source units by a language front-end, evaluates a
// registry of declarative rules against them, and reports findings with a
// weighted score and deterministic exit codes for CI gating and git hooks.
//
// Usage:
//
//	tenet check facts/                    # check every *.facts.json/yaml under facts/
//	tenet check --changed main facts/     # report only units changed since main
//	tenet check --format sarif --out r.sarif facts/
//	tenet baseline --out .tenet-baseline.yaml facts/
//	tenet rules list                      # show the rules a check would evaluate
//	tenet rules validate my-rules.yaml    # compile rule files without checking
//
// Exit codes: 0 clean, 1 findings at or above the threshold, 2 usage error,
// 3 rule load error, 4 front-end failure, 5 runtime error.
package main
