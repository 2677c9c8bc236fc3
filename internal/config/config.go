// ABOUTME: Configuration loading and parsing for the ghostwire server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ghostwire server configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Listeners []ListenerConfig `yaml:"listeners"`
	Database  DatabaseConfig   `yaml:"database"`
	Auth      AuthConfig       `yaml:"auth"`
	Agents    AgentsConfig     `yaml:"agents"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds the operator API address
type ServerConfig struct {
	APIAddr string `yaml:"api_addr"`
}

// ListenerConfig describes one agent-facing listener started at boot
type ListenerConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds operator authentication configuration.
// OperatorHash is a bcrypt hash; generate one with `ghostwire-server init`.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	Operator     string `yaml:"operator"`
	OperatorHash string `yaml:"operator_hash"`
}

// AgentsConfig holds agent-related timing configuration
type AgentsConfig struct {
	SweepSchedule  string        `yaml:"sweep_schedule"`
	CheckinTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CheckinTimeoutRaw string `yaml:"checkin_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.APIAddr == "" {
		return fmt.Errorf("server.api_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.Operator == "" {
		return fmt.Errorf("auth.operator is required")
	}
	if c.Auth.OperatorHash == "" {
		return fmt.Errorf("auth.operator_hash is required")
	}

	for i, l := range c.Listeners {
		if l.Port <= 0 || l.Port > 65535 {
			return fmt.Errorf("listeners[%d]: port %d is out of range", i, l.Port)
		}
		if (l.CertFile == "") != (l.KeyFile == "") {
			return fmt.Errorf("listeners[%d]: cert_file and key_file must be set together", i)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.CheckinTimeoutRaw != "" {
		cfg.Agents.CheckinTimeout, err = time.ParseDuration(cfg.Agents.CheckinTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing checkin_timeout %q: %w", cfg.Agents.CheckinTimeoutRaw, err)
		}
	}

	return nil
}
