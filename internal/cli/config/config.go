// Package config loads the server configuration from jsonapi.yml and JSONAPI_*
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes the environment variables overriding config keys, e.g.
// JSONAPI_DATABASE_URL for database.url
const EnvPrefix = "JSONAPI"

// Config represents the server configuration
type Config struct {
	Pagination PaginationConfig `mapstructure:"pagination"`
	Include    IncludeConfig    `mapstructure:"include"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// PaginationConfig bounds page[size]
type PaginationConfig struct {
	DefaultSize  int  `mapstructure:"default_size"`
	MaxSize      int  `mapstructure:"max_size"`
	AllowDisable bool `mapstructure:"allow_disable"`
}

// IncludeConfig bounds include paths
type IncludeConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	Host      string `mapstructure:"host"`
	APIPrefix string `mapstructure:"api_prefix"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var drivers = map[string]bool{"sqlite3": true, "pgx": true, "postgres": true}

// Load loads the configuration from jsonapi.yml or jsonapi.yaml in the working
// directory. A missing file leaves the defaults in place.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom loads the configuration file found in dir
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("pagination.default_size", 30)
	v.SetDefault("pagination.max_size", 0)
	v.SetDefault("pagination.allow_disable", true)
	v.SetDefault("include.max_depth", 0)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.url", "file::memory:?cache=shared")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetConfigName("jsonapi")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// QueryConfig returns the limits applied by the query string parser
func (c *Config) QueryConfig() querystring.Config {
	return querystring.Config{
		DefaultPageSize:        c.Pagination.DefaultSize,
		MaxPageSize:            c.Pagination.MaxSize,
		AllowDisablePagination: c.Pagination.AllowDisable,
		MaxIncludeDepth:        c.Include.MaxDepth,
	}
}

// Address returns the host:port the server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Logger builds the zap logger described by the log section
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func validateConfig(cfg *Config) error {
	if cfg.Server.APIPrefix != "" {
		if !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", cfg.Server.APIPrefix)
		}
		if strings.HasSuffix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", cfg.Server.APIPrefix)
		}
	}
	if cfg.Pagination.DefaultSize < 0 {
		return fmt.Errorf("pagination.default_size can't be negative, got: %d", cfg.Pagination.DefaultSize)
	}
	if cfg.Pagination.MaxSize < 0 {
		return fmt.Errorf("pagination.max_size can't be negative, got: %d", cfg.Pagination.MaxSize)
	}
	if cfg.Pagination.MaxSize > 0 && cfg.Pagination.DefaultSize > cfg.Pagination.MaxSize {
		return fmt.Errorf("pagination.default_size (%d) exceeds pagination.max_size (%d)",
			cfg.Pagination.DefaultSize, cfg.Pagination.MaxSize)
	}
	if cfg.Include.MaxDepth < 0 {
		return fmt.Errorf("include.max_depth can't be negative, got: %d", cfg.Include.MaxDepth)
	}
	if !drivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be one of sqlite3, pgx or postgres, got: %s", cfg.Database.Driver)
	}
	return nil
}
