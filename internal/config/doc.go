// Package config loads and merges tenet configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (TENET_FORMAT, TENET_FAIL_ON, TENET_WORKERS, etc.)
//  3. Config file ($XDG_CONFIG_HOME/tenet/config.yaml)
//  4. Built-in defaults
//
// Use [Load] to obtain a merged [Config], [Save] to write one back, and
// [SetField] to update a single key.
package config
