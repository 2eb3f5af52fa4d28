// Package config provides configuration loading for authd.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the identity service.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the SQLite store.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Token configures bearer token signing and validation.
	Token TokenConfig `yaml:"token" mapstructure:"token"`

	// Security configures the lockout and email-matching policy.
	Security SecurityConfig `yaml:"security" mapstructure:"security"`

	// PasswordReset configures the reset grant lifecycle.
	PasswordReset PasswordResetConfig `yaml:"password_reset" mapstructure:"password_reset"`

	// Audit configures the async audit trail writer.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// DevMode enables development features (debug logging, reset tokens
	// printed to the log).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server listener.
type ServerConfig struct {
	// HTTPAddr is the listen address. Defaults to localhost-only.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required,hostname_port"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// ShutdownTimeout bounds graceful shutdown (e.g. "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// TokenConfig configures the token authority.
type TokenConfig struct {
	// SigningKey is the symmetric HMAC-SHA256 key. Sourced from env in
	// production: AUTHD_TOKEN_SIGNING_KEY.
	SigningKey string `yaml:"signing_key" mapstructure:"signing_key" validate:"required,min=32"`
	// Issuer is embedded in and required of every token.
	Issuer string `yaml:"issuer" mapstructure:"issuer" validate:"required"`
	// Audience is embedded in and required of every token.
	Audience string `yaml:"audience" mapstructure:"audience" validate:"required"`
	// Lifetime is the absolute token lifetime. Defaults to "2h".
	Lifetime string `yaml:"lifetime" mapstructure:"lifetime" validate:"omitempty,duration"`
}

// SecurityConfig configures the lockout and email policy.
type SecurityConfig struct {
	// MaxFailedAttempts is the counter value that triggers a lockout.
	// Defaults to 5.
	MaxFailedAttempts int `yaml:"max_failed_attempts" mapstructure:"max_failed_attempts" validate:"omitempty,min=1"`
	// LockoutDuration is how long a lockout lasts. Defaults to "15m".
	LockoutDuration string `yaml:"lockout_duration" mapstructure:"lockout_duration" validate:"omitempty,duration"`
	// CaseInsensitiveEmails normalizes emails to lower case. Defaults to
	// true.
	CaseInsensitiveEmails *bool `yaml:"case_insensitive_emails" mapstructure:"case_insensitive_emails"`
}

// PasswordResetConfig configures the reset grant lifecycle.
type PasswordResetConfig struct {
	// TokenLifetime is how long a reset grant stays redeemable. Defaults
	// to "30m".
	TokenLifetime string `yaml:"token_lifetime" mapstructure:"token_lifetime" validate:"omitempty,duration"`
	// MinPasswordLength is the minimum accepted password length.
	// Defaults to 8.
	MinPasswordLength int `yaml:"min_password_length" mapstructure:"min_password_length" validate:"omitempty,min=1"`
}

// AuditConfig configures the async audit writer.
type AuditConfig struct {
	// ChannelSize is the buffered channel capacity. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`
	// BatchSize is the number of records per write. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`
	// FlushInterval is the idle flush interval. Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`
	// SendTimeout is the backpressure timeout before a record is
	// dropped. Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless explicitly widened.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./authd.db"
	}

	if c.Token.Issuer == "" {
		c.Token.Issuer = "authd"
	}
	if c.Token.Audience == "" {
		c.Token.Audience = "authd-clients"
	}
	if c.Token.Lifetime == "" {
		c.Token.Lifetime = "2h"
	}

	if c.Security.MaxFailedAttempts == 0 {
		c.Security.MaxFailedAttempts = 5
	}
	if c.Security.LockoutDuration == "" {
		c.Security.LockoutDuration = "15m"
	}
	if c.Security.CaseInsensitiveEmails == nil {
		caseInsensitive := true
		c.Security.CaseInsensitiveEmails = &caseInsensitive
	}

	if c.PasswordReset.TokenLifetime == "" {
		c.PasswordReset.TokenLifetime = "30m"
	}
	if c.PasswordReset.MinPasswordLength == 0 {
		c.PasswordReset.MinPasswordLength = 8
	}

	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
}

// LoadConfig reads the configuration from Viper (file + env), applies
// defaults, and validates it.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration without defaults or validation,
// so CLI flags can override values before the final validation pass.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Duration parses a validated duration field. Call only after Validate;
// panics on malformed input to catch programming errors, not user errors.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("config: invalid duration %q past validation", value))
	}
	return d
}
