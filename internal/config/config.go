// ABOUTME: Configuration loading and parsing for coven-storage
// ABOUTME: Supports YAML and TOML files with environment variable expansion, duration parsing and a key schema

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-storage/internal/registry"
	"github.com/2389/coven-storage/internal/tier"
)

// Defaults applied when a field is left empty.
const (
	DefaultMetricsAddr = "localhost:9464"
	DefaultMetricsPath = "/metrics"
	DefaultDebounce    = 250 * time.Millisecond
)

// Config represents the complete coven-storage configuration
type Config struct {
	Tiers    TiersConfig    `yaml:"tiers" toml:"tiers"`
	Registry RegistryConfig `yaml:"registry" toml:"registry"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Watch    WatchConfig    `yaml:"watch" toml:"watch"`
	Keys     []KeyConfig    `yaml:"keys" toml:"keys"`
}

// TiersConfig holds the backing database of each tier and the Shared quota
type TiersConfig struct {
	Shared TierConfig `yaml:"shared" toml:"shared"`
	Local  TierConfig `yaml:"local" toml:"local"`
	// QuotaBytes is the largest serialized {key: value} size Shared accepts
	QuotaBytes int `yaml:"quota_bytes" toml:"quota_bytes"`
}

// TierConfig holds one tier's database location
type TierConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// RegistryConfig holds registry placement
type RegistryConfig struct {
	VersionsTier string `yaml:"versions_tier" toml:"versions_tier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// WatchConfig holds file watcher configuration
type WatchConfig struct {
	Debounce time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	DebounceRaw string `yaml:"debounce" toml:"debounce"`
}

// KeyConfig declares one key of the schema
type KeyConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Tier    string `yaml:"tier" toml:"tier"`
	Version string `yaml:"version" toml:"version"`
	// Default is any YAML/TOML value; it is stored as JSON
	Default any `yaml:"default" toml:"default"`
}

// DefaultJSON returns the key's default value encoded as JSON.
// A missing default encodes as null.
func (k KeyConfig) DefaultJSON() (json.RawMessage, error) {
	raw, err := tier.Marshal(k.Default)
	if err != nil {
		return nil, fmt.Errorf("encoding default for %s: %w", k.Name, err)
	}
	return raw, nil
}

// ParsedTier returns the key's tier policy.
func (k KeyConfig) ParsedTier() tier.Tier {
	t, err := tier.Parse(k.Tier)
	if err != nil {
		return tier.Shared
	}
	return t
}

// Key returns the schema entry for name.
func (c *Config) Key(name string) (KeyConfig, bool) {
	for _, k := range c.Keys {
		if k.Name == name {
			return k, true
		}
	}
	return KeyConfig{}, false
}

// VersionsTier returns the tier holding the version registry.
func (c *Config) VersionsTier() tier.Tier {
	t, err := tier.Parse(c.Registry.VersionsTier)
	if err != nil {
		return tier.Shared
	}
	return t
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Tiers.QuotaBytes == 0 {
		c.Tiers.QuotaBytes = tier.DefaultQuota
	}
	if c.Registry.VersionsTier == "" {
		c.Registry.VersionsTier = tier.Shared.String()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = DefaultDebounce
	}
	for i := range c.Keys {
		if c.Keys[i].Tier == "" {
			c.Keys[i].Tier = tier.Shared.String()
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Tiers.Shared.Path == "" {
		return fmt.Errorf("tiers.shared.path is required")
	}
	if c.Tiers.Local.Path == "" {
		return fmt.Errorf("tiers.local.path is required")
	}
	if c.Tiers.Shared.Path == c.Tiers.Local.Path && c.Tiers.Shared.Path != ":memory:" {
		return fmt.Errorf("tiers.shared.path and tiers.local.path must differ")
	}
	if c.Tiers.QuotaBytes < 0 {
		return fmt.Errorf("tiers.quota_bytes must be positive, got %d", c.Tiers.QuotaBytes)
	}

	if _, err := tier.Parse(c.Registry.VersionsTier); err != nil {
		return fmt.Errorf("registry.versions_tier: %w", err)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce cannot be negative")
	}

	seen := make(map[string]bool, len(c.Keys))
	for i, k := range c.Keys {
		if k.Name == "" {
			return fmt.Errorf("keys[%d].name is required", i)
		}
		if k.Name == registry.OverflowKey || k.Name == registry.VersionsKey {
			return fmt.Errorf("keys[%d].name %q is reserved", i, k.Name)
		}
		if seen[k.Name] {
			return fmt.Errorf("keys[%d].name %q is duplicated", i, k.Name)
		}
		seen[k.Name] = true

		if k.Tier != "" {
			if _, err := tier.Parse(k.Tier); err != nil {
				return fmt.Errorf("keys[%d].tier: %w", i, err)
			}
		}
		if _, err := k.DefaultJSON(); err != nil {
			return fmt.Errorf("keys[%d].default: %w", i, err)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Watch.DebounceRaw != "" {
		d, err := time.ParseDuration(cfg.Watch.DebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing debounce %q: %w", cfg.Watch.DebounceRaw, err)
		}
		cfg.Watch.Debounce = d
	}

	return nil
}
