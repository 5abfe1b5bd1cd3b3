package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Registry.MaxRetries == 0 {
		cfg.Registry.MaxRetries = 3
	}
	if cfg.Registry.DefaultTimeout == 0 {
		cfg.Registry.DefaultTimeout = 24 * time.Hour
	}
	if cfg.Registry.TimeoutSweep == 0 {
		cfg.Registry.TimeoutSweep = 60 * time.Second
	}
	if cfg.Registry.ArchiveSweep == 0 {
		cfg.Registry.ArchiveSweep = time.Hour
	}
	if cfg.Registry.RetentionPeriod == 0 {
		cfg.Registry.RetentionPeriod = 30 * 24 * time.Hour
	}
	if cfg.Registry.EventBufferSize == 0 {
		cfg.Registry.EventBufferSize = 256
	}

	if cfg.Delivery.Workers == 0 {
		cfg.Delivery.Workers = 50
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = 5
	}
	if cfg.Delivery.BaseBackoff == 0 {
		cfg.Delivery.BaseBackoff = 2 * time.Second
	}
	if cfg.Delivery.BackoffMultiplier == 0 {
		cfg.Delivery.BackoffMultiplier = 2.0
	}
	if cfg.Delivery.MaxBackoff == 0 {
		cfg.Delivery.MaxBackoff = 10 * time.Minute
	}
	if cfg.Delivery.RequestTimeout == 0 {
		cfg.Delivery.RequestTimeout = 30 * time.Second
	}
	if cfg.Delivery.DispatchInterval == 0 {
		cfg.Delivery.DispatchInterval = time.Second
	}
	if cfg.Delivery.RetryInterval == 0 {
		cfg.Delivery.RetryInterval = 5 * time.Second
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 100
	}
	if cfg.Delivery.UserAgent == "" {
		cfg.Delivery.UserAgent = "subtrack/1.0"
	}
}
