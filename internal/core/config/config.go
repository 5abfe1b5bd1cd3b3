package config

import (
	"time"

	redisclient "github.com/regbridge/subtrack/internal/infra/redis"
	"github.com/regbridge/subtrack/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Database      postgres.Config     `yaml:"database"`
	Redis         redisclient.Config  `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
	Registry      RegistryConfig      `yaml:"registry"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Rules         RulesConfig         `yaml:"rules"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RegistryConfig holds submission registry and sweep settings.
type RegistryConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	TimeoutSweep     time.Duration `yaml:"timeout_sweep_interval"`
	ArchiveSweep     time.Duration `yaml:"archive_sweep_interval"`
	RetentionPeriod  time.Duration `yaml:"retention_period"`
	EventBufferSize  int           `yaml:"event_buffer_size"`
	UrgentTimeout    time.Duration `yaml:"urgent_timeout"`
	HighTimeout      time.Duration `yaml:"high_timeout"`
}

// TimeoutFor returns the SLA window for a priority.
func (c RegistryConfig) TimeoutFor(priority string) time.Duration {
	switch priority {
	case "urgent":
		if c.UrgentTimeout > 0 {
			return c.UrgentTimeout
		}
	case "high":
		if c.HighTimeout > 0 {
			return c.HighTimeout
		}
	}
	return c.DefaultTimeout
}

// DeliveryConfig holds reliable delivery engine settings.
type DeliveryConfig struct {
	Workers           int           `yaml:"workers"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	DispatchInterval  time.Duration `yaml:"dispatch_interval"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BatchSize         int           `yaml:"batch_size"`
	UserAgent         string        `yaml:"user_agent"`
}

// NotificationsConfig holds per-channel provider endpoints.
type NotificationsConfig struct {
	Email ProviderConfig `yaml:"email"`
	SMS   ProviderConfig `yaml:"sms"`
	Chat  ProviderConfig `yaml:"chat"`
}

// ProviderConfig holds settings for a channel provider API.
type ProviderConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

// RulesConfig points at optional classification rule files merged over the
// built-in rule families.
type RulesConfig struct {
	Dir string `yaml:"dir"`
}
