// Package config loads and validates the application configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CRM_ prefix (e.g., CRM_REDIS_ADDR
// overrides redis.addr in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The ENCRYPTION_KEY variable has no CRM_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Encryption    EncryptionConfig    `mapstructure:"encryption"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig holds the Redis connection used for persistence and rate
// limiting. When Enabled is false the server runs in demo mode on an
// in-memory store: nothing survives a restart.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// EncryptionConfig holds the field-level encryption material. Key is the
// 32-byte AES key, hex encoded; alternatively Passphrase plus Salt derive
// the key via PBKDF2.
type EncryptionConfig struct {
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
	Iterations int    `mapstructure:"iterations"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit-subsystem configuration
type AuditConfig struct {
	// Webhook configures the operator alert interrupt. Leave URL empty to
	// log alerts locally instead.
	Webhook AuditWebhookConfig `mapstructure:"webhook"`
}

// AuditWebhookConfig holds the alert webhook settings
type AuditWebhookConfig struct {
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	TimeoutSecs int               `mapstructure:"timeout_secs"`
}

// GatewayConfig holds the outbound messaging provider settings.
// Provider is "http" for a real provider or "log" for demo mode, where
// messages are written to the application log instead of delivered.
type GatewayConfig struct {
	Provider    string `mapstructure:"provider"`
	URL         string `mapstructure:"url"`
	APIKey      string `mapstructure:"api_key"`
	From        string `mapstructure:"from"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
}

// NotificationTypeConfig is a startup override for one notification type.
// The runtime table (and its persisted updates) take precedence once the
// scheduler has written configuration to the store.
type NotificationTypeConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	DelayMinutes int  `mapstructure:"delay_minutes"`
}

// NotificationsConfig holds settings for the deferred-notification scheduler
type NotificationsConfig struct {
	// ReapIntervalSeconds is how often the scheduler scans for due
	// notifications (default 30)
	ReapIntervalSeconds int `mapstructure:"reap_interval_seconds"`
	// Types optionally overrides the built-in per-type defaults at startup
	Types map[string]NotificationTypeConfig `mapstructure:"types"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.key_prefix",

		// Encryption
		"encryption.key",
		"encryption.passphrase",
		"encryption.salt",
		"encryption.iterations",

		// Security
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Audit
		"audit.webhook.url",
		"audit.webhook.timeout_secs",

		// Gateway
		"gateway.provider",
		"gateway.url",
		"gateway.api_key",
		"gateway.from",
		"gateway.timeout_secs",

		// Notifications
		"notifications.reap_interval_seconds",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	// The encryption key doubles as a generic secret: honor the unprefixed
	// name secret managers inject.
	if err := v.BindEnv("encryption.key", "ENCRYPTION_KEY"); err != nil {
		return fmt.Errorf("failed to bind ENCRYPTION_KEY: %w", err)
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/meridian")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Encryption.Key = expandEnv(cfg.Encryption.Key)
	cfg.Encryption.Passphrase = expandEnv(cfg.Encryption.Passphrase)
	cfg.Gateway.APIKey = expandEnv(cfg.Gateway.APIKey)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Redis defaults: disabled means in-memory demo mode
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "meridian")

	// Encryption defaults
	v.SetDefault("encryption.iterations", 100000)

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "meridian-crm")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Audit defaults
	v.SetDefault("audit.webhook.timeout_secs", 10)

	// Gateway defaults: demo mode until a provider is configured
	v.SetDefault("gateway.provider", "log")
	v.SetDefault("gateway.timeout_secs", 15)

	// Notifications defaults
	v.SetDefault("notifications.reap_interval_seconds", 30)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate Redis if enabled
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	// Validate encryption material: a raw key and a passphrase are mutually
	// exclusive, and a passphrase needs its salt
	if c.Encryption.Key != "" && c.Encryption.Passphrase != "" {
		return fmt.Errorf("encryption.key and encryption.passphrase are mutually exclusive")
	}
	if c.Encryption.Passphrase != "" && c.Encryption.Salt == "" {
		return fmt.Errorf("encryption.salt is required when encryption.passphrase is set")
	}

	// Validate gateway provider
	switch c.Gateway.Provider {
	case "log":
	case "http":
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway.url is required when gateway.provider is http")
		}
		if c.Gateway.From == "" {
			return fmt.Errorf("gateway.from is required when gateway.provider is http")
		}
	default:
		return fmt.Errorf("invalid gateway provider: %s (must be http or log)", c.Gateway.Provider)
	}

	// Validate rate limiting
	if c.Security.RateLimiting.Enabled {
		if c.Security.RateLimiting.RequestsPerMinute < 1 {
			return fmt.Errorf("security.rate_limiting.requests_per_minute must be positive")
		}
		if c.Security.RateLimiting.Burst < 0 {
			return fmt.Errorf("security.rate_limiting.burst must not be negative")
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate notifications
	if c.Notifications.ReapIntervalSeconds < 1 {
		return fmt.Errorf("notifications.reap_interval_seconds must be positive")
	}

	return nil
}
