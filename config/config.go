// Package config provides configuration types and loading for the user cache.
package config

import (
	"time"

	"github.com/avdeyev/workline-usercache/observability"
)

// Default configuration values.
const (
	// DefaultUserTTL is the default time-to-live for cached user entries.
	DefaultUserTTL = 15 * time.Minute

	// DefaultOpTimeout is the ceiling for a single backing-store operation.
	// A blocking, unbounded backing-store call would turn an optional cache
	// into a hard dependency, so every call is cut off at this ceiling.
	DefaultOpTimeout = 2 * time.Second

	// DefaultLocalMaxEntries bounds the in-process fallback cache.
	DefaultLocalMaxEntries = 4096

	// DefaultLocalSweepInterval is how often expired fallback entries are swept.
	DefaultLocalSweepInterval = time.Minute

	// DefaultRedisPoolSize is the default connection pool size.
	DefaultRedisPoolSize = 10

	// DefaultRedisConnectTimeout is the default dial timeout.
	DefaultRedisConnectTimeout = 5 * time.Second

	// DefaultRedisReadTimeout is the default read timeout.
	DefaultRedisReadTimeout = 3 * time.Second

	// DefaultRedisWriteTimeout is the default write timeout.
	DefaultRedisWriteTimeout = 3 * time.Second

	// DefaultRedisKeyPrefix is prepended to every backing-store key.
	DefaultRedisKeyPrefix = "workline:"

	// DefaultBreakerFailureThreshold is the number of consecutive backend
	// failures that opens the circuit.
	DefaultBreakerFailureThreshold = 5

	// DefaultBreakerOpenTimeout is how long the circuit stays open before
	// probing the backend again.
	DefaultBreakerOpenTimeout = 30 * time.Second

	// DefaultKeyNamespace is the namespace for user entity keys.
	DefaultKeyNamespace = "user"
)

// Config is the root configuration for the user cache subsystem.
type Config struct {
	// Cache configures the cache facade and its stores.
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// UserCache configures the typed user layer.
	UserCache UserCacheConfig `yaml:"userCache" json:"userCache"`

	// Log configures structured logging.
	Log observability.LogConfig `yaml:"log" json:"log"`
}

// CacheConfig configures the cache facade.
type CacheConfig struct {
	// Enabled indicates whether the backing store is used. When false the
	// facade serves exclusively from the local fallback cache.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Redis contains backing-store configuration.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// Local contains local fallback cache configuration.
	Local LocalConfig `yaml:"local,omitempty" json:"local,omitempty"`

	// OpTimeout is the fixed ceiling for a single backing-store operation.
	OpTimeout Duration `yaml:"opTimeout,omitempty" json:"opTimeout,omitempty"`

	// Breaker configures the circuit breaker guarding the backing store.
	Breaker BreakerConfig `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// RedisConfig contains backing-store connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Format: redis://[user:password@]host:port[/db]
	URL string `yaml:"url" json:"url"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`

	// ConnectTimeout is the timeout for establishing connections.
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`

	// KeyPrefix is a prefix added to all backing-store keys.
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`

	// TTLJitter is the maximum percentage of jitter added to TTL values
	// (0.0 to 1.0). For example, 0.1 means ±10% jitter. Default is 0.
	TTLJitter float64 `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`
}

// LocalConfig contains local fallback cache configuration.
type LocalConfig struct {
	// MaxEntries bounds the number of entries held in process. When the bound
	// is exceeded the oldest-inserted entries are evicted first.
	MaxEntries int `yaml:"maxEntries,omitempty" json:"maxEntries,omitempty"`

	// SweepInterval is how often expired entries are swept in the background.
	SweepInterval Duration `yaml:"sweepInterval,omitempty" json:"sweepInterval,omitempty"`
}

// BreakerConfig configures the circuit breaker guarding the backing store.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty"`

	// OpenTimeout is how long the circuit stays open before a probe.
	OpenTimeout Duration `yaml:"openTimeout,omitempty" json:"openTimeout,omitempty"`
}

// UserCacheConfig configures the typed user layer.
type UserCacheConfig struct {
	// TTL is the time-to-live for cached user entries. TTL is the backstop
	// against missed invalidations; no entry outlives it.
	TTL Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// KeyNamespace is the namespace for user entity keys (e.g. "user"
	// yields "user:id:42").
	KeyNamespace string `yaml:"keyNamespace,omitempty" json:"keyNamespace,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Cache:     *DefaultCacheConfig(),
		UserCache: *DefaultUserCacheConfig(),
		Log:       observability.DefaultLogConfig(),
	}
}

// DefaultCacheConfig returns default cache facade configuration.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:   false,
		Local:     LocalConfig{MaxEntries: DefaultLocalMaxEntries, SweepInterval: Duration(DefaultLocalSweepInterval)},
		OpTimeout: Duration(DefaultOpTimeout),
		Breaker: BreakerConfig{
			FailureThreshold: DefaultBreakerFailureThreshold,
			OpenTimeout:      Duration(DefaultBreakerOpenTimeout),
		},
	}
}

// DefaultRedisConfig returns default backing-store configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		PoolSize:       DefaultRedisPoolSize,
		ConnectTimeout: Duration(DefaultRedisConnectTimeout),
		ReadTimeout:    Duration(DefaultRedisReadTimeout),
		WriteTimeout:   Duration(DefaultRedisWriteTimeout),
		KeyPrefix:      DefaultRedisKeyPrefix,
	}
}

// DefaultUserCacheConfig returns default user layer configuration.
func DefaultUserCacheConfig() *UserCacheConfig {
	return &UserCacheConfig{
		TTL:          Duration(DefaultUserTTL),
		KeyNamespace: DefaultKeyNamespace,
	}
}

// GetOpTimeout returns the effective backing-store operation ceiling.
func (cc *CacheConfig) GetOpTimeout() time.Duration {
	if cc == nil || cc.OpTimeout <= 0 {
		return DefaultOpTimeout
	}
	return cc.OpTimeout.Duration()
}

// GetMaxEntries returns the effective local cache bound.
func (lc LocalConfig) GetMaxEntries() int {
	if lc.MaxEntries <= 0 {
		return DefaultLocalMaxEntries
	}
	return lc.MaxEntries
}

// GetSweepInterval returns the effective sweep interval.
func (lc LocalConfig) GetSweepInterval() time.Duration {
	if lc.SweepInterval <= 0 {
		return DefaultLocalSweepInterval
	}
	return lc.SweepInterval.Duration()
}

// GetFailureThreshold returns the effective breaker failure threshold.
func (bc BreakerConfig) GetFailureThreshold() int {
	if bc.FailureThreshold <= 0 {
		return DefaultBreakerFailureThreshold
	}
	return bc.FailureThreshold
}

// GetOpenTimeout returns the effective breaker open timeout.
func (bc BreakerConfig) GetOpenTimeout() time.Duration {
	if bc.OpenTimeout <= 0 {
		return DefaultBreakerOpenTimeout
	}
	return bc.OpenTimeout.Duration()
}

// GetTTL returns the effective user entry TTL.
func (uc *UserCacheConfig) GetTTL() time.Duration {
	if uc == nil || uc.TTL <= 0 {
		return DefaultUserTTL
	}
	return uc.TTL.Duration()
}

// GetKeyNamespace returns the effective key namespace.
func (uc *UserCacheConfig) GetKeyNamespace() string {
	if uc == nil || uc.KeyNamespace == "" {
		return DefaultKeyNamespace
	}
	return uc.KeyNamespace
}

// IsEmpty returns true if the RedisConfig has no meaningful configuration.
func (rc *RedisConfig) IsEmpty() bool {
	return rc == nil || rc.URL == ""
}
