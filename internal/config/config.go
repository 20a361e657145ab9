package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Handler types
const (
	HandlerStore = "store"
	HandlerLua   = "lua"
)

// Config represents the application configuration
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Handler    HandlerConfig    `yaml:"handler"`
	Manifest   string           `yaml:"manifest"` // Path to the resources manifest
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ReconcilerConfig contains dispatcher settings
type ReconcilerConfig struct {
	Policy       string   `yaml:"policy"`         // fail_fast (default) or continue_on_error
	Workers      int      `yaml:"workers"`        // Parallel resources, 1 = sequential (default: 1)
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Handler operations per second, 0 = unlimited
	Timeout      Duration `yaml:"timeout"`        // Deadline for one reconcile run, 0 = none
}

// LedgerConfig contains lifecycle ledger settings
type LedgerConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// Retention returns the retention period as a duration
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// HandlerConfig selects and configures the resource handler
type HandlerConfig struct {
	Type   string `yaml:"type"`   // store (default) or lua
	Kind   string `yaml:"kind"`   // Record kind of the store handler, default bucket for lua scripts
	Script string `yaml:"script"` // Script path for the lua handler
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse parses configuration from YAML, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./converge.sqlite"
	}
	if cfg.Manifest == "" {
		cfg.Manifest = "resources.yaml"
	}

	// Reconciler defaults
	if cfg.Reconciler.Policy == "" {
		cfg.Reconciler.Policy = "fail_fast"
	}
	if cfg.Reconciler.Workers <= 0 {
		cfg.Reconciler.Workers = 1
	}

	// Ledger defaults
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Handler defaults
	if cfg.Handler.Type == "" {
		cfg.Handler.Type = HandlerStore
	}
	if cfg.Handler.Kind == "" {
		cfg.Handler.Kind = "resource"
	}
}

// Validate checks settings that have no sensible default
func (cfg *Config) Validate() error {
	switch cfg.Reconciler.Policy {
	case "fail_fast", "continue_on_error":
	default:
		return fmt.Errorf("reconciler.policy %q: must be fail_fast or continue_on_error", cfg.Reconciler.Policy)
	}

	if cfg.Reconciler.RateLimitRPS < 0 {
		return fmt.Errorf("reconciler.rate_limit_rps must not be negative")
	}
	if cfg.Ledger.RetentionDays < 0 {
		return fmt.Errorf("ledger.retention_days must not be negative")
	}

	switch cfg.Handler.Type {
	case HandlerStore:
	case HandlerLua:
		if cfg.Handler.Script == "" {
			return fmt.Errorf("handler.script is required for the lua handler")
		}
	default:
		return fmt.Errorf("handler.type %q: must be %s or %s", cfg.Handler.Type, HandlerStore, HandlerLua)
	}

	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// ExpandEnv expands environment variables in the format ${VAR} or ${VAR:default}
func ExpandEnv(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
