// ABOUTME: Configuration loading and parsing for metricool-mcp.
// ABOUTME: Supports YAML files with environment variable expansion, or pure env loading.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete metricool-mcp configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Metricool MetricoolConfig `yaml:"metricool"`
	Auth      AuthConfig      `yaml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" env:"METRICOOL_MCP_HTTP_ADDR" envDefault:":8383"`
}

// MetricoolConfig holds the upstream API credentials.
// UserID and UserToken must both be set before the server can start.
type MetricoolConfig struct {
	UserID    string `yaml:"user_id" env:"METRICOOL_USER_ID"`
	UserToken string `yaml:"user_token" env:"METRICOOL_USER_TOKEN"`
	BlogID    string `yaml:"blog_id" env:"METRICOOL_BLOG_ID"`
	BaseURL   string `yaml:"base_url" env:"METRICOOL_BASE_URL"`
}

// AuthConfig holds bearer-token gating for multi-tenant deployments
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" env:"METRICOOL_MCP_JWT_SECRET"`
	RequireBearer bool   `yaml:"require_bearer" env:"METRICOOL_MCP_REQUIRE_BEARER"`
	// HeaderCredentials enables the Metricool-User-Id/-Token override
	// headers on initialize, scoping sessions to per-caller accounts.
	HeaderCredentials bool `yaml:"header_credentials" env:"METRICOOL_MCP_HEADER_CREDENTIALS"`
}

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	IdleTimeout time.Duration `yaml:"-" env:"-"`

	// Raw string value for YAML/env unmarshaling
	IdleTimeoutRaw string `yaml:"idle_timeout" env:"METRICOOL_MCP_SESSION_IDLE_TIMEOUT" envDefault:"30m"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" env:"METRICOOL_MCP_TS_ENABLED"`
	Hostname  string `yaml:"hostname" env:"METRICOOL_MCP_TS_HOSTNAME"`
	AuthKey   string `yaml:"auth_key" env:"TS_AUTHKEY"`
	StateDir  string `yaml:"state_dir" env:"METRICOOL_MCP_TS_STATE_DIR"`
	Ephemeral bool   `yaml:"ephemeral" env:"METRICOOL_MCP_TS_EPHEMERAL"`
	Funnel    bool   `yaml:"funnel" env:"METRICOOL_MCP_TS_FUNNEL"` // Enable public Funnel (implies HTTPS)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"METRICOOL_MCP_LOG_LEVEL" envDefault:"info"`
	Format string `yaml:"format" env:"METRICOOL_MCP_LOG_FORMAT" envDefault:"text"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICOOL_MCP_METRICS_ENABLED"`
	Path    string `yaml:"path" env:"METRICOOL_MCP_METRICS_PATH" envDefault:"/metrics"`
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

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a Config from environment variables alone. This is the
// path taken when no config file exists, and the usual one for stdio
// deployments where the MCP client supplies the environment.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

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

// applyDefaults fills the defaults the env path gets from envDefault tags.
func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8383"
	}
	if cfg.Sessions.IdleTimeoutRaw == "" {
		cfg.Sessions.IdleTimeoutRaw = "30m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Credentials are a construction-time requirement, never a per-call error
	if c.Metricool.UserID == "" {
		return fmt.Errorf("metricool.user_id is required (METRICOOL_USER_ID)")
	}
	if c.Metricool.UserToken == "" {
		return fmt.Errorf("metricool.user_token is required (METRICOOL_USER_TOKEN)")
	}

	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Auth.RequireBearer && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes when require_bearer is set")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sessions.IdleTimeoutRaw != "" {
		cfg.Sessions.IdleTimeout, err = time.ParseDuration(cfg.Sessions.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Sessions.IdleTimeoutRaw, err)
		}
	}

	return nil
}
