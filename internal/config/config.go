package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/tenet/internal/review"
)

// Formats lists the report formats the output package can write.
var Formats = []string{"text", "json", "markdown", "sarif"}

// Config represents the tenet configuration.
type Config struct {
	Format string `yaml:"format" json:"format"`
	// FailOn is the lowest severity that makes check exit non-zero:
	// error, warn, info or none.
	FailOn string `yaml:"failOn" json:"failOn"`
	// MaxScore, when positive, fails the run once the total score reaches it.
	MaxScore      int      `yaml:"maxScore,omitempty" json:"maxScore,omitempty"`
	RulesFiles    []string `yaml:"rulesFiles,omitempty" json:"rulesFiles,omitempty"`
	Categories    []string `yaml:"categories,omitempty" json:"categories,omitempty"`
	DisabledRules []string `yaml:"disabledRules,omitempty" json:"disabledRules,omitempty"`
	NoBuiltin     bool     `yaml:"noBuiltin,omitempty" json:"noBuiltin,omitempty"`
	Workers       int      `yaml:"workers,omitempty" json:"workers,omitempty"`
	Baseline      string   `yaml:"baseline,omitempty" json:"baseline,omitempty"`
	// Domains maps unit path prefixes to domain names for units whose facts
	// do not declare one.
	Domains  map[string]string `yaml:"domains,omitempty" json:"domains,omitempty"`
	Cache    CacheConfig       `yaml:"cache" json:"cache"`
	Color    string            `yaml:"color" json:"color"`
	LogLevel string            `yaml:"logLevel" json:"logLevel"`
}

// CacheConfig controls caching behavior.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Dir        string `yaml:"dir,omitempty" json:"dir,omitempty"`
	TTLSeconds int    `yaml:"ttlSeconds" json:"ttlSeconds"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Format:   "text",
		FailOn:   "error",
		Color:    "auto",
		LogLevel: "warn",
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 7 * 86400,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory for tenet.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tenet"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "tenet"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "tenet"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "tenet"), nil
	default:
		return filepath.Join(home, ".config", "tenet"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadFile decodes the config file over base. Keys absent from the file
// keep base's value. A missing file returns base unchanged.
func LoadFile(base Config) (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return base, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return base, fmt.Errorf("reading config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to the config file.
func Save(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// The overrides map comes from CLI flags (only flags the user set should be present).
func Load(overrides map[string]string) (Config, error) {
	cfg, err := LoadFile(Default())
	if err != nil {
		return Config{}, err
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := mergeOverrides(&cfg, overrides); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envKeys = map[string]string{
	"TENET_FORMAT":    "format",
	"TENET_FAIL_ON":   "failOn",
	"TENET_MAX_SCORE": "maxScore",
	"TENET_WORKERS":   "workers",
	"TENET_RULES":     "rulesFiles",
	"TENET_BASELINE":  "baseline",
	"TENET_LOG_LEVEL": "logLevel",
	"TENET_COLOR":     "color",
}

func mergeEnv(cfg *Config) error {
	for env, key := range envKeys {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		if err := SetField(cfg, key, v); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	return nil
}

func mergeOverrides(cfg *Config, overrides map[string]string) error {
	for key, v := range overrides {
		if err := SetField(cfg, key, v); err != nil {
			return fmt.Errorf("flag %s: %w", key, err)
		}
	}
	return nil
}

// SetField sets a single config field by key name. Returns error if key is
// unknown or the value does not parse. List values are comma separated;
// "domains.<prefix>" sets one domain mapping.
func SetField(cfg *Config, key, value string) error {
	if prefix, ok := strings.CutPrefix(key, "domains."); ok {
		if prefix == "" {
			return fmt.Errorf("domains key needs a path prefix")
		}
		if cfg.Domains == nil {
			cfg.Domains = make(map[string]string)
		}
		if value == "" {
			delete(cfg.Domains, prefix)
		} else {
			cfg.Domains[prefix] = value
		}
		return nil
	}

	switch key {
	case "format":
		cfg.Format = value
	case "failOn":
		cfg.FailOn = strings.ToLower(value)
	case "maxScore":
		return setInt(&cfg.MaxScore, key, value)
	case "workers":
		return setInt(&cfg.Workers, key, value)
	case "rulesFiles":
		cfg.RulesFiles = splitList(value)
	case "categories":
		cfg.Categories = splitList(value)
	case "disabledRules":
		cfg.DisabledRules = splitList(value)
	case "noBuiltin":
		return setBool(&cfg.NoBuiltin, key, value)
	case "baseline":
		cfg.Baseline = value
	case "cache.enabled":
		return setBool(&cfg.Cache.Enabled, key, value)
	case "cache.dir":
		cfg.Cache.Dir = value
	case "cache.ttlSeconds":
		return setInt(&cfg.Cache.TTLSeconds, key, value)
	case "color":
		cfg.Color = strings.ToLower(value)
	case "logLevel":
		cfg.LogLevel = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// GetField returns a config value by the key names SetField accepts. List
// values are joined with commas.
func GetField(cfg Config, key string) (string, error) {
	if prefix, ok := strings.CutPrefix(key, "domains."); ok {
		if prefix == "" {
			return "", fmt.Errorf("domains key needs a path prefix")
		}
		return cfg.Domains[prefix], nil
	}
	switch key {
	case "format":
		return cfg.Format, nil
	case "failOn":
		return cfg.FailOn, nil
	case "maxScore":
		return strconv.Itoa(cfg.MaxScore), nil
	case "workers":
		return strconv.Itoa(cfg.Workers), nil
	case "rulesFiles":
		return strings.Join(cfg.RulesFiles, ","), nil
	case "categories":
		return strings.Join(cfg.Categories, ","), nil
	case "disabledRules":
		return strings.Join(cfg.DisabledRules, ","), nil
	case "noBuiltin":
		return strconv.FormatBool(cfg.NoBuiltin), nil
	case "baseline":
		return cfg.Baseline, nil
	case "cache.enabled":
		return strconv.FormatBool(cfg.Cache.Enabled), nil
	case "cache.dir":
		return cfg.Cache.Dir, nil
	case "cache.ttlSeconds":
		return strconv.Itoa(cfg.Cache.TTLSeconds), nil
	case "color":
		return cfg.Color, nil
	case "logLevel":
		return cfg.LogLevel, nil
	}
	return "", fmt.Errorf("unknown config key: %s", key)
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if n < 0 {
		return fmt.Errorf("%s must not be negative", key)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s must be true or false: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks enumerated values.
func (c Config) Validate() error {
	if !contains(Formats, c.Format) {
		return fmt.Errorf("invalid format %q (want one of %s)", c.Format, strings.Join(Formats, ", "))
	}
	if c.FailOn != "none" {
		if _, err := review.ParseSeverity(c.FailOn); err != nil {
			return fmt.Errorf("invalid failOn %q (want error, warn, info or none)", c.FailOn)
		}
	}
	if !contains([]string{"auto", "always", "never"}, c.Color) {
		return fmt.Errorf("invalid color %q (want auto, always or never)", c.Color)
	}
	if !contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		return fmt.Errorf("invalid logLevel %q (want debug, info, warn or error)", c.LogLevel)
	}
	for _, cat := range c.Categories {
		if _, err := review.ParseCategory(cat); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
