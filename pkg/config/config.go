package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read when no explicit path is given.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for auto-dw.
// Values come from an optional YAML file and environment variables; environment
// variables always win. Secrets (PGPASSWORD) are only read from the environment.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"`

	// Database holding the source tables, the auto_dw bookkeeping schema and
	// the generated Data Vault tables.
	Database DatabaseConfig `yaml:"database"`

	Warehouse WarehouseConfig `yaml:"warehouse"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"postgres"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"postgres"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// WarehouseConfig controls where and how the Data Vault is built.
type WarehouseConfig struct {
	// DWSchema is the target schema for hubs and satellites.
	DWSchema string `yaml:"dw_schema" env:"DW_SCHEMA" env-default:"dv"`
	// ConfidenceThreshold is the minimum classifier confidence for a column to be
	// included in a build ("Ready to Deploy").
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD" env-default:"0.8"`
	// MigrateOnStart applies pending auto_dw migrations when the server starts.
	MigrateOnStart bool `yaml:"migrate_on_start" env:"MIGRATE_ON_START" env-default:"true"`
}

// Load reads configuration from path (if it exists) with environment variable overrides.
// A missing file is not an error; configuration then comes from the environment alone.
func Load(path, version string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Warehouse.DWSchema) == "" {
		return fmt.Errorf("warehouse.dw_schema must not be empty")
	}
	if c.Warehouse.ConfidenceThreshold < 0 || c.Warehouse.ConfidenceThreshold > 1 {
		return fmt.Errorf("warehouse.confidence_threshold must be between 0 and 1, got %v", c.Warehouse.ConfidenceThreshold)
	}
	return nil
}

// ConnectionString returns a PostgreSQL URL with user-provided fields escaped.
// Special characters in passwords (@, /, #, ?) would otherwise break URL parsing.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal inside a container
// so a database on the host machine stays reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
