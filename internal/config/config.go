package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the payment engine. It is loaded
// once at process start and treated as immutable afterwards; services
// receive the values they need instead of reading globals ad hoc.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Payments PaymentsConfig `mapstructure:"payments"`

	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration for the gateway health cache.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds the domain event publisher configuration.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// PaymentsConfig holds the payment domain configuration.
type PaymentsConfig struct {
	DefaultGateway string                   `mapstructure:"default_gateway"`
	Gateways       map[string]GatewayConfig `mapstructure:"gateways"`
}

// GatewayConfig holds one provider's settings: credentials, sandbox
// flag, timeouts and feature flags. Feature flags restrict what the
// integration advertises; an empty list means the provider defaults.
type GatewayConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Sandbox       bool          `mapstructure:"sandbox"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Features      []string      `mapstructure:"features"`
}

// IsProduction reports whether the process runs with production
// configuration. Webhook verification can never be bypassed when this
// is true.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from config.yaml (working directory or
// /etc/payment-engine) with PAYMENT_-prefixed environment overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/payment-engine")

	v.SetEnvPrefix("PAYMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults may be enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Payments.DefaultGateway == "" {
		return nil, fmt.Errorf("payments.default_gateway is required")
	}
	if _, ok := cfg.Payments.Gateways[cfg.Payments.DefaultGateway]; !ok {
		return nil, fmt.Errorf("default gateway %q has no configuration", cfg.Payments.DefaultGateway)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", "8092")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "payment_engine")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)

	v.SetDefault("payments.default_gateway", "asaas")
	v.SetDefault("payments.gateways.asaas.enabled", true)
	v.SetDefault("payments.gateways.asaas.sandbox", true)
	v.SetDefault("payments.gateways.asaas.timeout", 30*time.Second)
	v.SetDefault("payments.gateways.asaas.max_retries", 2)
}
