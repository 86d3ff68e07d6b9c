package config

import "time"

// Transport selects how batches reach the upstream
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportWS   Transport = "ws"
)

// Config represents the main configuration structure
type Config struct {
	Host           string           `json:"host"`
	Port           int              `json:"port"`
	LogLevel       string           `json:"logLevel"`
	MaxBodySize    int64            `json:"maxBodySize"`
	RequestTimeout int              `json:"requestTimeout"` // ms
	Batch          BatchConfig      `json:"batch"`
	Upstream       UpstreamConfig   `json:"upstream"`
	Cache          *CacheConfig     `json:"cache,omitempty"`
	RateLimit      *RateLimitConfig `json:"rateLimit,omitempty"`
}

// BatchConfig controls the batching policy
type BatchConfig struct {
	MaxItems   int `json:"maxItems"`
	MaxLatency int `json:"maxLatency"` // ms - measured from the first item of a batch
}

// UpstreamConfig represents the upstream node the relay forwards to
type UpstreamConfig struct {
	Name                string    `json:"name"`
	RPCURL              string    `json:"rpcUrl"`
	WSURL               string    `json:"wsUrl"`
	Transport           Transport `json:"transport"`
	HealthCheckInterval int       `json:"healthCheckInterval"` // ms - 0 disables probing
}

// CacheConfig represents response cache configuration
type CacheConfig struct {
	Enabled bool     `json:"enabled"`
	TTL     int      `json:"ttl"`     // seconds
	Size    int      `json:"size"`    // number of entries
	Methods []string `json:"methods"` // methods eligible for caching
}

// RateLimitConfig limits how fast clients may hit the RPC endpoint
type RateLimitConfig struct {
	Enabled bool    `json:"enabled"`
	RPS     float64 `json:"rps"`
	Burst   int     `json:"burst"`
}

// Default values
const (
	DefaultHost                = "localhost"
	DefaultPort                = 8545
	DefaultLogLevel            = "info"
	DefaultMaxBodySize         = int64(0) // 0 means no limit
	DefaultRequestTimeout      = 5000     // ms
	DefaultBatchMaxItems       = 32
	DefaultBatchMaxLatency     = 25 // ms
	DefaultTransport           = TransportHTTP
	DefaultHealthCheckInterval = 10000 // ms
	DefaultCacheTTL            = 30    // s
	DefaultCacheSize           = 10000
	DefaultRateLimitBurst      = 100
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetMaxLatencyDuration returns the batch latency bound as time.Duration
func (c *BatchConfig) GetMaxLatencyDuration() time.Duration {
	return time.Duration(c.MaxLatency) * time.Millisecond
}

// GetHealthCheckIntervalDuration returns the probe interval as time.Duration
func (c *UpstreamConfig) GetHealthCheckIntervalDuration() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Millisecond
}

// GetTTLDuration returns the cache TTL as time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// IsCacheEnabled returns true if cache is configured and enabled
func (c *Config) IsCacheEnabled() bool {
	return c.Cache != nil && c.Cache.Enabled
}

// IsRateLimitEnabled returns true if rate limiting is configured and enabled
func (c *Config) IsRateLimitEnabled() bool {
	return c.RateLimit != nil && c.RateLimit.Enabled
}
