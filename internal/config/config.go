package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Batch.MaxItems == 0 {
		cfg.Batch.MaxItems = DefaultBatchMaxItems
	}
	if cfg.Batch.MaxLatency == 0 {
		cfg.Batch.MaxLatency = DefaultBatchMaxLatency
	}
	if cfg.Upstream.Transport == "" {
		cfg.Upstream.Transport = DefaultTransport
	}
	if cfg.Upstream.Name == "" {
		cfg.Upstream.Name = "upstream"
	}
	if cfg.Upstream.HealthCheckInterval == 0 {
		cfg.Upstream.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.Cache != nil {
		if cfg.Cache.TTL == 0 {
			cfg.Cache.TTL = DefaultCacheTTL
		}
		if cfg.Cache.Size == 0 {
			cfg.Cache.Size = DefaultCacheSize
		}
	}
	if cfg.RateLimit != nil && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = DefaultRateLimitBurst
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	// Zeroes were already mapped to defaults; only negatives remain invalid.
	if cfg.Batch.MaxItems < 0 {
		return errors.New("batch.maxItems must not be negative")
	}
	if cfg.Batch.MaxLatency < 0 {
		return errors.New("batch.maxLatency must not be negative")
	}

	switch cfg.Upstream.Transport {
	case TransportHTTP:
		if cfg.Upstream.RPCURL == "" {
			return errors.New("upstream.rpcUrl is required for http transport")
		}
	case TransportWS:
		if cfg.Upstream.WSURL == "" {
			return errors.New("upstream.wsUrl is required for ws transport")
		}
	default:
		return fmt.Errorf("unknown upstream.transport '%s'", cfg.Upstream.Transport)
	}

	if cfg.IsCacheEnabled() && len(cfg.Cache.Methods) == 0 {
		return errors.New("cache.methods is required when cache is enabled")
	}
	if cfg.IsRateLimitEnabled() && cfg.RateLimit.RPS <= 0 {
		return errors.New("rateLimit.rps must be positive when rate limiting is enabled")
	}

	return nil
}
