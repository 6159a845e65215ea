package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for jenkdash.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Jenkins  JenkinsConfig  `yaml:"jenkins"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins"`
	StaticDir   string          `yaml:"static_dir"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains per-IP request limits for each route class.
type RateLimitConfig struct {
	Enabled       bool       `yaml:"enabled"`
	Auth          RouteLimit `yaml:"auth"`
	Public        RouteLimit `yaml:"public"`
	Authenticated RouteLimit `yaml:"authenticated"`
}

// RouteLimit is a requests-per-minute budget.
type RouteLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// JenkinsConfig contains the Jenkins connection settings.
type JenkinsConfig struct {
	URL                string        `yaml:"url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	AutoConnect        bool          `yaml:"auto_connect"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	WatchInterval      time.Duration `yaml:"watch_interval"` // default 30s, negative to disable
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL-specific settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// AuthConfig contains operator authentication settings.
type AuthConfig struct {
	SessionTTL time.Duration    `yaml:"session_ttl"`
	Basic      BasicAuthConfig  `yaml:"basic"`
	GitHub     GitHubAuthConfig `yaml:"github"`
}

// BasicAuthConfig contains basic auth settings.
type BasicAuthConfig struct {
	Enabled bool       `yaml:"enabled"`
	Users   []UserAuth `yaml:"users"`
}

// UserAuth represents a user configured for basic auth.
type UserAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// GitHubAuthConfig contains GitHub OAuth settings.
type GitHubAuthConfig struct {
	Enabled         bool              `yaml:"enabled"`
	ClientID        string            `yaml:"client_id"`
	ClientSecret    string            `yaml:"client_secret"`
	RedirectURL     string            `yaml:"redirect_url"`
	OrgRoleMapping  map[string]string `yaml:"org_role_mapping"`
	UserRoleMapping map[string]string `yaml:"user_role_mapping"`
}

// Enabled reports whether any operator authentication method is on.
func (a AuthConfig) Enabled() bool {
	return a.Basic.Enabled || a.GitHub.Enabled
}

// Load reads and parses configuration from a YAML or TOML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables.
	expanded := []byte(expandEnvVars(string(data)))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		expanded, err = tomlToYAML(expanded)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults.
	applyDefaults(&cfg)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// tomlToYAML re-encodes a TOML document as YAML so both formats share the
// yaml struct tags and duration parsing.
func tomlToYAML(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding toml: %w", err)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encoding toml: %w", err)
	}

	return out, nil
}

// expandEnvVars replaces ${VAR} and $VAR patterns with environment variable values.
func expandEnvVars(s string) string {
	// Match ${VAR} pattern.
	re := regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}

		return match
	})

	// Match $VAR pattern.
	re = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[1:]); ok {
			return val
		}

		return match
	})

	return s
}

// applyDefaults sets default values for unset configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}

	if cfg.Server.RateLimit.Auth.RequestsPerMinute == 0 {
		cfg.Server.RateLimit.Auth.RequestsPerMinute = 10
	}

	if cfg.Server.RateLimit.Public.RequestsPerMinute == 0 {
		cfg.Server.RateLimit.Public.RequestsPerMinute = 60
	}

	if cfg.Server.RateLimit.Authenticated.RequestsPerMinute == 0 {
		cfg.Server.RateLimit.Authenticated.RequestsPerMinute = 300
	}

	cfg.Jenkins.URL = strings.TrimRight(strings.TrimSpace(cfg.Jenkins.URL), "/")

	if cfg.Jenkins.Timeout == 0 {
		cfg.Jenkins.Timeout = 10 * time.Second
	}

	if cfg.Jenkins.WatchInterval == 0 {
		cfg.Jenkins.WatchInterval = 30 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "./jenkdash.db"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}

	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}

	for i := range cfg.Auth.Basic.Users {
		if cfg.Auth.Basic.Users[i].Role == "" {
			cfg.Auth.Basic.Users[i].Role = "readonly"
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Validate database config.
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required when driver is sqlite")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required when driver is postgres")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required when driver is postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	// Validate Jenkins config.
	if c.Jenkins.URL != "" {
		u, err := url.Parse(c.Jenkins.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("jenkins.url must be an absolute http(s) URL: %q", c.Jenkins.URL)
		}
	}

	if c.Jenkins.AutoConnect && c.Jenkins.URL == "" {
		return fmt.Errorf("jenkins.url is required when jenkins.auto_connect is enabled")
	}

	if c.Jenkins.Timeout < 0 {
		return fmt.Errorf("jenkins.timeout must not be negative")
	}

	// Validate auth config.
	if c.Auth.Basic.Enabled {
		seen := make(map[string]bool, len(c.Auth.Basic.Users))

		for _, u := range c.Auth.Basic.Users {
			if u.Username == "" {
				return fmt.Errorf("auth.basic.users: username is required")
			}

			if seen[u.Username] {
				return fmt.Errorf("auth.basic.users: duplicate username %s", u.Username)
			}

			seen[u.Username] = true

			if u.Password == "" {
				return fmt.Errorf("auth.basic.users: password is required for %s", u.Username)
			}

			if !validRole(u.Role) {
				return fmt.Errorf("auth.basic.users: invalid role %q for %s", u.Role, u.Username)
			}
		}
	}

	if c.Auth.GitHub.Enabled {
		if c.Auth.GitHub.ClientID == "" {
			return fmt.Errorf("auth.github.client_id is required when github auth is enabled")
		}

		if c.Auth.GitHub.ClientSecret == "" {
			return fmt.Errorf("auth.github.client_secret is required when github auth is enabled")
		}

		for key, role := range c.Auth.GitHub.OrgRoleMapping {
			if !validRole(role) {
				return fmt.Errorf("auth.github.org_role_mapping: invalid role %q for %s", role, key)
			}
		}

		for key, role := range c.Auth.GitHub.UserRoleMapping {
			if !validRole(role) {
				return fmt.Errorf("auth.github.user_role_mapping: invalid role %q for %s", role, key)
			}
		}
	}

	return nil
}

func validRole(role string) bool {
	return role == "admin" || role == "readonly"
}

// GetDSN returns the database connection string.
func (c *Config) GetDSN() string {
	switch c.Database.Driver {
	case "sqlite":
		return c.Database.SQLite.Path
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Postgres.Host,
			c.Database.Postgres.Port,
			c.Database.Postgres.User,
			c.Database.Postgres.Password,
			c.Database.Postgres.Database,
			c.Database.Postgres.SSLMode,
		)
	default:
		return ""
	}
}

// String returns a sanitized string representation of the config (no secrets).
func (c *Config) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Server: listen=%s static_dir=%s rate_limit=%t\n",
		c.Server.Listen, c.Server.StaticDir, c.Server.RateLimit.Enabled))
	sb.WriteString(fmt.Sprintf("Jenkins: url=%s user=%s auto_connect=%t timeout=%s insecure_skip_verify=%t watch_interval=%s\n",
		c.Jenkins.URL, c.Jenkins.Username, c.Jenkins.AutoConnect, c.Jenkins.Timeout,
		c.Jenkins.InsecureSkipVerify, c.Jenkins.WatchInterval))
	sb.WriteString(fmt.Sprintf("Database: driver=%s\n", c.Database.Driver))
	sb.WriteString(fmt.Sprintf("Auth: basic=%t github=%t session_ttl=%s\n",
		c.Auth.Basic.Enabled, c.Auth.GitHub.Enabled, c.Auth.SessionTTL))

	return sb.String()
}
