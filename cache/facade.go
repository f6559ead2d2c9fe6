package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/avdeyev/workline-usercache/config"
	"github.com/avdeyev/workline-usercache/observability"
)

// Facade presents one Get/Set/Delete API regardless of whether the backing
// store or the local fallback is serving traffic. Backing-store failures are
// absorbed: a cache is optimizing, not authoritative, so the only error a
// caller ever sees from Get is ErrCacheMiss, and Set/Delete always return nil.
//
// A circuit breaker guards the backing store so that a dead backend costs a
// fast rejection instead of a per-operation timeout on every call.
type Facade struct {
	logger  observability.Logger
	primary Store // nil when the backing store is disabled
	local   *localStore
	breaker *gobreaker.CircuitBreaker

	hits         int64
	misses       int64
	errs         int64
	fallbackUses int64
}

// New creates a cache facade from configuration. When the backing store is
// disabled or unconfigured, the facade serves exclusively from the local
// fallback cache.
func New(cfg *config.CacheConfig, logger observability.Logger) (*Facade, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	f := &Facade{
		logger: logger,
		local:  newLocalStore(cfg.Local, logger),
	}

	if cfg.Enabled && !cfg.Redis.IsEmpty() {
		primary, err := newRedisStore(cfg.Redis, cfg.GetOpTimeout(), logger)
		if err != nil {
			_ = f.local.Close()
			return nil, err
		}
		f.primary = primary
		f.breaker = newBreaker(cfg.Breaker, logger)
	} else {
		logger.Info("backing store disabled, serving from local cache only")
	}

	return f, nil
}

// newBreaker builds the circuit breaker guarding the backing store. A miss is
// a successful round trip; only transport-level failures count against the
// threshold.
func newBreaker(cfg config.BreakerConfig, logger observability.Logger) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.GetFailureThreshold()) //nolint:gosec // validated non-negative
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cache-backend",
		Timeout: cfg.GetOpenTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			GetMetrics().breakerState.Set(float64(to))
			logger.Warn("cache breaker state changed",
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})
}

// Get retrieves a value. A clean backing-store miss is reported as
// ErrCacheMiss; a backing-store failure degrades to the local fallback.
func (f *Facade) Get(ctx context.Context, key string) ([]byte, error) {
	if f.primary == nil {
		return f.localGet(ctx, key)
	}

	res, err := f.breaker.Execute(func() (interface{}, error) {
		return f.primary.Get(ctx, key)
	})

	switch {
	case err == nil:
		atomic.AddInt64(&f.hits, 1)
		return res.([]byte), nil

	case errors.Is(err, ErrCacheMiss):
		atomic.AddInt64(&f.misses, 1)
		return nil, ErrCacheMiss

	default:
		atomic.AddInt64(&f.errs, 1)
		f.logger.Warn("backing store get failed, using fallback",
			observability.String("key", key),
			observability.Error(err))

		value, localErr := f.local.Get(ctx, key)
		if localErr == nil {
			atomic.AddInt64(&f.hits, 1)
			atomic.AddInt64(&f.fallbackUses, 1)
			GetMetrics().fallbackTotal.Inc()
			return value, nil
		}
		atomic.AddInt64(&f.misses, 1)
		return nil, ErrCacheMiss
	}
}

// localGet serves a read when the backing store is disabled.
func (f *Facade) localGet(ctx context.Context, key string) ([]byte, error) {
	value, err := f.local.Get(ctx, key)
	if err != nil {
		atomic.AddInt64(&f.misses, 1)
		return nil, ErrCacheMiss
	}
	atomic.AddInt64(&f.hits, 1)
	return value, nil
}

// Set writes through to the backing store when healthy and always mirrors
// into the local fallback, so a later outage still has recent data available.
// Backing-store write failures are absorbed.
func (f *Facade) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.local.Set(ctx, key, value, ttl); err != nil {
		// localStore.Set cannot currently fail; guard for interface changes.
		f.logger.Warn("local cache set failed",
			observability.String("key", key),
			observability.Error(err))
	}

	if f.primary == nil {
		return nil
	}

	if _, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.primary.Set(ctx, key, value, ttl)
	}); err != nil {
		atomic.AddInt64(&f.errs, 1)
		f.logger.Warn("backing store set failed",
			observability.String("key", key),
			observability.Error(err))
	}

	return nil
}

// Delete removes a key from both tiers. Backing-store failures are logged but
// not raised; the entry still expires via TTL.
func (f *Facade) Delete(ctx context.Context, key string) error {
	_ = f.local.Delete(ctx, key)

	if f.primary == nil {
		return nil
	}

	if _, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.primary.Delete(ctx, key)
	}); err != nil {
		atomic.AddInt64(&f.errs, 1)
		f.logger.Warn("backing store delete failed",
			observability.String("key", key),
			observability.Error(err))
	}

	return nil
}

// Stats returns the facade-level operation counters.
func (f *Facade) Stats() Stats {
	return Stats{
		Hits:         atomic.LoadInt64(&f.hits),
		Misses:       atomic.LoadInt64(&f.misses),
		Errors:       atomic.LoadInt64(&f.errs),
		FallbackUses: atomic.LoadInt64(&f.fallbackUses),
	}
}

// HealthCheck probes the serving tier and reports its kind and latency. The
// probe is for observability; it never gates correctness.
func (f *Facade) HealthCheck(ctx context.Context) Health {
	if f.primary != nil && f.breaker.State() == gobreaker.StateClosed {
		if latency, err := f.primary.Ping(ctx); err == nil {
			return Health{Backend: BackendPrimary, Latency: latency}
		}
	}

	latency, _ := f.local.Ping(ctx)
	return Health{Backend: BackendFallback, Latency: latency}
}

// Close releases both tiers.
func (f *Facade) Close() error {
	var errs []error
	if f.primary != nil {
		errs = append(errs, f.primary.Close())
	}
	errs = append(errs, f.local.Close())
	return errors.Join(errs...)
}
