// Package config provides configuration management for preroll using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8390
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultMaxBytes      = 10 * 1024 * 1024 // 10 MiB
	defaultReadahead     = 10 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
	defaultFetchTimeout  = 30 * time.Second
	defaultRetryAttempts = 2
	defaultRetryDelay    = 1 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
}

// ServerConfig holds HTTP server configuration. There is no write timeout
// on purpose: the stream endpoint writes for as long as the client reads.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PrefetchConfig holds prefetch cache configuration.
type PrefetchConfig struct {
	// DefaultMaxBytes is the buffering target applied when a start request
	// carries no explicit max_bytes. Supports human-readable values like
	// "10MB" or raw byte counts.
	DefaultMaxBytes ByteSize `mapstructure:"default_max_bytes"`
	// DefaultReadahead is the readahead duration goal applied when a start
	// request carries no explicit readahead. Accepts "10s" or bare seconds.
	DefaultReadahead Duration `mapstructure:"default_readahead"`
	// PollInterval bounds how quickly workers observe stop/cancel requests
	// and buffering progress.
	PollInterval Duration `mapstructure:"poll_interval"`
}

// FetchConfig holds upstream HTTP client configuration.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"` // open-phase timeout, not body reads
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with PREROLL_ and use underscores
// for nesting. Example: PREROLL_SERVER_PORT=8390.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/preroll")
		v.AddConfigPath("$HOME/.preroll")
	}

	v.SetEnvPrefix("PREROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Viper's default decoder does not consult encoding.TextUnmarshaler, so
	// the ByteSize ("10MB") and Duration ("500ms") forms need explicit hooks.
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Prefetch defaults
	v.SetDefault("prefetch.default_max_bytes", int64(defaultMaxBytes))
	v.SetDefault("prefetch.default_readahead", defaultReadahead)
	v.SetDefault("prefetch.poll_interval", defaultPollInterval)

	// Fetch defaults
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultRetryAttempts)
	v.SetDefault("fetch.retry_delay", defaultRetryDelay)
	v.SetDefault("fetch.user_agent", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Prefetch.DefaultMaxBytes <= 0 {
		return fmt.Errorf("prefetch.default_max_bytes must be positive")
	}
	if c.Prefetch.DefaultReadahead <= 0 {
		return fmt.Errorf("prefetch.default_readahead must be positive")
	}
	if c.Prefetch.PollInterval <= 0 {
		return fmt.Errorf("prefetch.poll_interval must be positive")
	}

	if c.Fetch.RetryAttempts < 0 {
		return fmt.Errorf("fetch.retry_attempts must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
