// ABOUTME: Configuration loading and parsing for palaver
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/palaver-im/palaver/internal/entity"
)

// Config represents the complete palaver configuration
type Config struct {
	User     UserConfig     `yaml:"user"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Burn     BurnConfig     `yaml:"burn"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// UserConfig identifies the local user the engine runs for
type UserConfig struct {
	ID entity.ID `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IDRaw string `yaml:"id"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds cache pool timing configuration
type CacheConfig struct {
	TTL     time.Duration `yaml:"-"`
	Refresh time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TTLRaw     string `yaml:"ttl"`
	RefreshRaw string `yaml:"refresh"`
}

// BurnConfig holds the burn-after-reading sweep configuration
type BurnConfig struct {
	MaxAge time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	MaxAgeRaw string `yaml:"max_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.User.ID, err = entity.ParseID(cfg.User.IDRaw)
	if err != nil {
		return nil, fmt.Errorf("parsing user.id: %w", err)
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.User.IDRaw == "" {
		return fmt.Errorf("user.id is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}

	if cfg.Cache.RefreshRaw != "" {
		cfg.Cache.Refresh, err = time.ParseDuration(cfg.Cache.RefreshRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.refresh %q: %w", cfg.Cache.RefreshRaw, err)
		}
	}

	if cfg.Burn.MaxAgeRaw != "" {
		cfg.Burn.MaxAge, err = time.ParseDuration(cfg.Burn.MaxAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing burn.max_age %q: %w", cfg.Burn.MaxAgeRaw, err)
		}
	}

	return nil
}
