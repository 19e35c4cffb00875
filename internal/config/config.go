package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	GreenAPI GreenAPIConfig `yaml:"greenapi"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Sender   SenderConfig   `yaml:"sender"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, allowing an environment override
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL runs
// the process against in-memory stores.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the optional Redis used for leases and rate windows.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AMQPConfig holds RabbitMQ settings for the send queue. An empty URL uses
// the in-process queue.
type AMQPConfig struct {
	URL             string `yaml:"url"`
	Exchange        string `yaml:"exchange"`
	Queue           string `yaml:"queue"`
	RoutingKey      string `yaml:"routing_key"`
	Prefetch        int    `yaml:"prefetch"`
	PublishPoolSize int    `yaml:"publish_pool_size"`
	RetryTTLSeconds int    `yaml:"retry_ttl_seconds"`
	MaxDeliveries   int    `yaml:"max_deliveries"`
}

// RetryTTL returns how long a rejected job waits in the retry queue.
func (c AMQPConfig) RetryTTL() time.Duration {
	return time.Duration(c.RetryTTLSeconds) * time.Second
}

// GreenAPIConfig holds gateway HTTP settings shared by all tenants.
type GreenAPIConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c GreenAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatchConfig controls the campaign tick loop.
type DispatchConfig struct {
	TickIntervalSeconds  int `yaml:"tick_interval_seconds"`
	MaxBatch             int `yaml:"max_batch"`
	LeaseTTLSeconds      int `yaml:"lease_ttl_seconds"`
	IneligibleGraceHours int `yaml:"ineligible_grace_hours"`
	Concurrency          int `yaml:"concurrency"`
}

// TickInterval returns the dispatch period.
func (c DispatchConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// LeaseTTL returns the per-campaign lease hold bound.
func (c DispatchConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// IneligibleGrace returns how long a tenant may stay unable to send before
// its running campaigns are failed.
func (c DispatchConfig) IneligibleGrace() time.Duration {
	return time.Duration(c.IneligibleGraceHours) * time.Hour
}

// SenderConfig controls the send workers and their retry policy.
type SenderConfig struct {
	Workers          int `yaml:"workers"`
	MaxAttempts      int `yaml:"max_attempts"`
	BaseDelayMs      int `yaml:"base_delay_ms"`
	MaxDelayMs       int `yaml:"max_delay_ms"`
	ClaimTTLSeconds  int `yaml:"claim_ttl_seconds"`
	GatewayPerMinute int `yaml:"gateway_per_minute"`
}

// BaseDelay returns the first retry backoff.
func (c SenderConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap.
func (c SenderConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// ClaimTTL returns how long a worker holds a message before others may retry it.
func (c SenderConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

// RecoveryConfig controls the stale-message republisher.
type RecoveryConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	StaleAgeSeconds int `yaml:"stale_age_seconds"`
}

// Interval returns the recovery scan period.
func (c RecoveryConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StaleAge returns how old a queued message must be before it is republished.
func (c RecoveryConfig) StaleAge() time.Duration {
	return time.Duration(c.StaleAgeSeconds) * time.Second
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "wa.dispatch"
	}
	if cfg.AMQP.Queue == "" {
		cfg.AMQP.Queue = "wa.send"
	}
	if cfg.AMQP.RoutingKey == "" {
		cfg.AMQP.RoutingKey = "message.send"
	}
	if cfg.AMQP.Prefetch == 0 {
		cfg.AMQP.Prefetch = 10
	}
	if cfg.AMQP.PublishPoolSize == 0 {
		cfg.AMQP.PublishPoolSize = 8
	}
	if cfg.AMQP.RetryTTLSeconds == 0 {
		cfg.AMQP.RetryTTLSeconds = 30
	}
	if cfg.AMQP.MaxDeliveries == 0 {
		cfg.AMQP.MaxDeliveries = 5
	}
	if cfg.GreenAPI.BaseURL == "" {
		cfg.GreenAPI.BaseURL = "https://api.green-api.com"
	}
	if cfg.GreenAPI.TimeoutSeconds == 0 {
		cfg.GreenAPI.TimeoutSeconds = 30
	}
	if cfg.Dispatch.TickIntervalSeconds == 0 {
		cfg.Dispatch.TickIntervalSeconds = 60
	}
	if cfg.Dispatch.MaxBatch == 0 {
		cfg.Dispatch.MaxBatch = 500
	}
	if cfg.Dispatch.LeaseTTLSeconds == 0 {
		cfg.Dispatch.LeaseTTLSeconds = 120
	}
	if cfg.Dispatch.IneligibleGraceHours == 0 {
		cfg.Dispatch.IneligibleGraceHours = 72
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 4
	}
	if cfg.Sender.Workers == 0 {
		cfg.Sender.Workers = 4
	}
	if cfg.Sender.MaxAttempts == 0 {
		cfg.Sender.MaxAttempts = 3
	}
	if cfg.Sender.BaseDelayMs == 0 {
		cfg.Sender.BaseDelayMs = 1000
	}
	if cfg.Sender.MaxDelayMs == 0 {
		cfg.Sender.MaxDelayMs = 60000
	}
	if cfg.Sender.ClaimTTLSeconds == 0 {
		cfg.Sender.ClaimTTLSeconds = 300
	}
	if cfg.Recovery.IntervalSeconds == 0 {
		cfg.Recovery.IntervalSeconds = 120
	}
	if cfg.Recovery.StaleAgeSeconds == 0 {
		cfg.Recovery.StaleAgeSeconds = 600
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads config from file and overrides with environment variables.
// A missing file is not an error; defaults are used instead.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
	}
	if v := os.Getenv("GREEN_API_BASE_URL"); v != "" {
		cfg.GreenAPI.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DISPATCH_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.TickIntervalSeconds = n
		}
	}
	return cfg, nil
}
