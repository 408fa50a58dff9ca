// Package config loads and validates the bot configuration.
//
// Values come from the environment (HERALD_ prefix) and an optional YAML
// file, layered through viper. Validation is strict: out-of-range values
// are a fatal-config error, the process does not start with them.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the validated configuration envelope.
type Config struct {
	Token string `mapstructure:"token"`

	DBUser string `mapstructure:"db_user"`
	DBPass string `mapstructure:"db_pass"`
	DBHost string `mapstructure:"db_host"`
	DBPort int    `mapstructure:"db_port"`
	DBName string `mapstructure:"db_name"`

	DBPoolSize                int `mapstructure:"db_pool_size"`
	DBTimeoutSeconds          int `mapstructure:"db_timeout"`
	DBCircuitBreakerThreshold int `mapstructure:"db_circuit_breaker_threshold"`

	MaxMemoryMB   int `mapstructure:"max_memory_mb"`
	MaxCPUPercent int `mapstructure:"max_cpu_percent"`

	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`

	TranslationFile string `mapstructure:"translation_file"`

	Debug      bool `mapstructure:"debug"`
	Production bool `mapstructure:"production"`
}

// DBTimeout returns the per-store-call deadline.
func (c *Config) DBTimeout() time.Duration {
	return time.Duration(c.DBTimeoutSeconds) * time.Second
}

// DSN builds the go-sql-driver/mysql connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

var dbNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Load reads configuration from the environment and, when path is
// non-empty, the given file. Defaults are applied before validation.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HERALD")
	v.AutomaticEnv()

	v.SetDefault("db_host", "127.0.0.1")
	v.SetDefault("db_port", 3306)
	v.SetDefault("db_pool_size", 25)
	v.SetDefault("db_timeout", 15)
	v.SetDefault("db_circuit_breaker_threshold", 5)
	v.SetDefault("rate_limit_per_minute", 100)
	v.SetDefault("translation_file", "translations.json")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every recognized option against its documented range.
func (c *Config) Validate() error {
	if len(strings.TrimSpace(c.Token)) < 50 {
		return fmt.Errorf("token: must be at least 50 characters")
	}
	if c.DBUser == "" {
		return fmt.Errorf("db_user: required")
	}
	if c.DBName == "" || len(c.DBName) > 64 || !dbNameRe.MatchString(c.DBName) {
		return fmt.Errorf("db_name: must be 1-64 chars of [A-Za-z0-9_]")
	}
	if c.DBPort <= 0 || c.DBPort > 65535 {
		return fmt.Errorf("db_port: out of range: %d", c.DBPort)
	}
	if c.DBPoolSize < 1 || c.DBPoolSize > 50 {
		return fmt.Errorf("db_pool_size: must be 1-50, got %d", c.DBPoolSize)
	}
	if c.DBTimeoutSeconds < 5 || c.DBTimeoutSeconds > 30 {
		return fmt.Errorf("db_timeout: must be 5-30 seconds, got %d", c.DBTimeoutSeconds)
	}
	if c.DBCircuitBreakerThreshold < 3 || c.DBCircuitBreakerThreshold > 20 {
		return fmt.Errorf("db_circuit_breaker_threshold: must be 3-20, got %d", c.DBCircuitBreakerThreshold)
	}
	if c.RateLimitPerMinute < 10 || c.RateLimitPerMinute > 1000 {
		return fmt.Errorf("rate_limit_per_minute: must be 10-1000, got %d", c.RateLimitPerMinute)
	}
	if c.MaxMemoryMB < 0 || c.MaxCPUPercent < 0 || c.MaxCPUPercent > 100 {
		return fmt.Errorf("resource watermarks out of range")
	}
	return nil
}
