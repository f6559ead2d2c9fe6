package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeyev/workline-usercache/config"
	"github.com/avdeyev/workline-usercache/observability"
)

// setupMiniRedis creates a miniredis server for testing.
func setupMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return mr
}

func newTestRedisStore(t *testing.T, mr *miniredis.Miniredis) *redisStore {
	t.Helper()

	s, err := newRedisStore(&config.RedisConfig{
		URL:       "redis://" + mr.Addr(),
		KeyPrefix: "test:",
	}, 2*time.Second, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestNewRedisStore(t *testing.T) {
	mr := setupMiniRedis(t)

	tests := []struct {
		name      string
		cfg       *config.RedisConfig
		expectErr bool
	}{
		{
			name:      "valid config",
			cfg:       &config.RedisConfig{URL: "redis://" + mr.Addr()},
			expectErr: false,
		},
		{
			name: "with pool and timeouts",
			cfg: &config.RedisConfig{
				URL:            "redis://" + mr.Addr(),
				PoolSize:       10,
				ConnectTimeout: config.Duration(5 * time.Second),
				ReadTimeout:    config.Duration(3 * time.Second),
				WriteTimeout:   config.Duration(3 * time.Second),
			},
			expectErr: false,
		},
		{
			name:      "empty URL",
			cfg:       &config.RedisConfig{},
			expectErr: true,
		},
		{
			name:      "invalid URL",
			cfg:       &config.RedisConfig{URL: "http://not-redis"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newRedisStore(tt.cfg, 2*time.Second, observability.NopLogger())
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			_ = s.Close()
		})
	}
}

func TestNewRedisStoreUnreachableStartsDegraded(t *testing.T) {
	// An unreachable backend must not prevent construction.
	s, err := newRedisStore(&config.RedisConfig{
		URL: "redis://127.0.0.1:1", // nothing listens here
	}, 200*time.Millisecond, observability.NopLogger())
	require.NoError(t, err)
	_ = s.Close()
}

func TestRedisStoreSetGet(t *testing.T) {
	mr := setupMiniRedis(t)
	s := newTestRedisStore(t, mr)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))

	value, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	// Key prefix is applied on the wire.
	assert.True(t, mr.Exists("test:k1"))
}

func TestRedisStoreMiss(t *testing.T) {
	mr := setupMiniRedis(t)
	s := newTestRedisStore(t, mr)

	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreTTL(t *testing.T) {
	mr := setupMiniRedis(t)
	s := newTestRedisStore(t, mr)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))

	// miniredis requires explicit clock advancement for expiry.
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreDelete(t *testing.T) {
	mr := setupMiniRedis(t)
	s := newTestRedisStore(t, mr)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k1"))

	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.Delete(ctx, "absent"))
}

func TestRedisStoreGetFailsFastWhenDown(t *testing.T) {
	mr := setupMiniRedis(t)
	s := newTestRedisStore(t, mr)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))

	mr.Close()

	start := time.Now()
	_, err := s.Get(ctx, "k1")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	// The operation must be bounded by the fixed ceiling, retries included.
	assert.Less(t, elapsed, 2500*time.Millisecond)
}

func TestRedisStorePing(t *testing.T) {
	mr := setupMiniRedis(t)
	s := newTestRedisStore(t, mr)

	latency, err := s.Ping(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, time.Duration(0))

	mr.Close()

	_, err = s.Ping(context.Background())
	assert.Error(t, err)
}

func TestApplyTTLJitter(t *testing.T) {
	tests := []struct {
		name   string
		ttl    time.Duration
		jitter float64
	}{
		{name: "no jitter", ttl: time.Minute, jitter: 0},
		{name: "ten percent", ttl: time.Minute, jitter: 0.1},
		{name: "clamped factor", ttl: time.Minute, jitter: 5.0},
		{name: "zero ttl untouched", ttl: 0, jitter: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				result := applyTTLJitter(tt.ttl, tt.jitter)
				if tt.jitter <= 0 || tt.ttl <= 0 {
					assert.Equal(t, tt.ttl, result)
					continue
				}
				assert.Greater(t, result, time.Duration(0))
				assert.GreaterOrEqual(t, result, tt.ttl-time.Duration(float64(tt.ttl)*1.0))
				assert.LessOrEqual(t, result, tt.ttl+time.Duration(float64(tt.ttl)*1.0))
			}
		})
	}
}

func TestIsRetryableRedisError(t *testing.T) {
	assert.False(t, isRetryableRedisError(nil))
	assert.False(t, isRetryableRedisError(redis.Nil))
	assert.False(t, isRetryableRedisError(context.Canceled))
	assert.False(t, isRetryableRedisError(context.DeadlineExceeded))
	assert.True(t, isRetryableRedisError(assert.AnError))
}
