package cache

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avdeyev/workline-usercache/config"
	"github.com/avdeyev/workline-usercache/internal/retry"
	"github.com/avdeyev/workline-usercache/observability"
)

// tracerName is the OpenTelemetry tracer name for cache operations.
const tracerName = "workline/usercache"

// storeRetryConfig returns the retry configuration for backing-store
// operations. The whole retry sequence runs inside the per-operation timeout.
func storeRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     2,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError checks if the error is retryable (network/connection
// errors). Misses and context expiry are terminal.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// redisStore is the backing-store client. Every operation is bounded by a
// fixed-ceiling timeout; exceeding it surfaces an error for the facade to
// degrade on, never a hang.
type redisStore struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string
	opTimeout time.Duration
	ttlJitter float64
}

// newRedisStore creates a backing-store client. An unreachable store at
// construction time is logged but not fatal: the facade must be able to start
// degraded and pick the store up when it recovers.
func newRedisStore(
	cfg *config.RedisConfig, opTimeout time.Duration, logger observability.Logger,
) (*redisStore, error) {
	if cfg.IsEmpty() {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.New("invalid redis URL: " + err.Error())
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}

	client := redis.NewClient(opts)

	s := &redisStore{
		logger:    logger,
		client:    client,
		keyPrefix: resolveKeyPrefix(cfg.KeyPrefix),
		opTimeout: opTimeout,
		ttlJitter: cfg.TTLJitter,
	}

	if _, err := s.Ping(context.Background()); err != nil {
		logger.Warn("backing store unreachable at startup, starting degraded",
			observability.Error(err))
	}

	logger.Info("redis store initialized",
		observability.String("keyPrefix", s.keyPrefix),
		observability.Duration("opTimeout", opTimeout),
		observability.Float64("ttlJitter", s.ttlJitter))

	return s, nil
}

// resolveKeyPrefix returns the key prefix, defaulting if empty.
func resolveKeyPrefix(prefix string) string {
	if prefix == "" {
		return config.DefaultRedisKeyPrefix
	}
	return prefix
}

// applyTTLJitter adds random jitter to a TTL value so that entries written
// together do not all expire together.
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // G404: TTL jitter does not require cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}

// Get retrieves a value from the backing store.
func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("redis", "get").
			Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	fullKey := s.keyPrefix + key

	var result []byte

	err := retry.Do(ctx, storeRetryConfig(), func() error {
		val, getErr := s.client.Get(ctx, fullKey).Bytes()
		if getErr == nil {
			result = val
		}
		return getErr
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.logger.Debug("retrying redis get",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		GetMetrics().hitsTotal.WithLabelValues("redis").Inc()
		span.SetAttributes(
			attribute.Bool("cache.hit", true),
			attribute.Int("cache.value_size", len(result)),
		)
		s.logger.Debug("cache hit",
			observability.String("key", key),
			observability.Int("size", len(result)))
		return result, nil
	}

	if errors.Is(err, redis.Nil) {
		GetMetrics().missesTotal.WithLabelValues("redis").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	GetMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	s.logger.Error("redis get failed",
		observability.String("key", key),
		observability.Error(err))
	return nil, err
}

// Set stores a value in the backing store.
func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("redis", "set").
			Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	ttl = applyTTLJitter(ttl, s.ttlJitter)
	fullKey := s.keyPrefix + key

	err := retry.Do(ctx, storeRetryConfig(), func() error {
		return s.client.Set(ctx, fullKey, value, ttl).Err()
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.logger.Debug("retrying redis set",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		s.logger.Debug("cache set",
			observability.String("key", key),
			observability.Duration("ttl", ttl),
			observability.Int("size", len(value)))
		return nil
	}

	GetMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	s.logger.Error("redis set failed",
		observability.String("key", key),
		observability.Error(err))
	return err
}

// Delete removes a value from the backing store.
func (s *redisStore) Delete(ctx context.Context, key string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Delete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("redis", "delete").
			Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	fullKey := s.keyPrefix + key

	err := retry.Do(ctx, storeRetryConfig(), func() error {
		return s.client.Del(ctx, fullKey).Err()
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.logger.Debug("retrying redis delete",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		s.logger.Debug("cache deleted",
			observability.String("key", key))
		return nil
	}

	GetMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	s.logger.Error("redis delete failed",
		observability.String("key", key),
		observability.Error(err))
	return err
}

// Ping performs a round-trip probe against the backing store and returns the
// measured latency.
func (s *redisStore) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	start := time.Now()
	err := s.client.Ping(ctx).Err()
	latency := time.Since(start)

	GetMetrics().operationDuration.WithLabelValues("redis", "ping").
		Observe(latency.Seconds())

	if err != nil {
		GetMetrics().errorsTotal.WithLabelValues("redis", "ping").Inc()
		return latency, err
	}
	return latency, nil
}

// Close closes the backing-store connection.
func (s *redisStore) Close() error {
	s.logger.Info("redis store closing")
	return s.client.Close()
}
