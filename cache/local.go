package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/avdeyev/workline-usercache/config"
	"github.com/avdeyev/workline-usercache/observability"
)

// localStore is the bounded in-process fallback cache. Entries expire at the
// TTL passed to Set and are evicted oldest-inserted-first when the store
// exceeds its capacity. Eviction is insertion-ordered rather than true LRU;
// the fallback only needs to hold recent data across a backing-store outage.
type localStore struct {
	logger     observability.Logger
	maxEntries int

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = newest insert, back = oldest

	stopCh chan struct{}
}

type localEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (e *localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func newLocalStore(cfg config.LocalConfig, logger observability.Logger) *localStore {
	s := &localStore{
		logger:     logger,
		maxEntries: cfg.GetMaxEntries(),
		items:      make(map[string]*list.Element),
		order:      list.New(),
		stopCh:     make(chan struct{}),
	}

	go s.sweepLoop(cfg.GetSweepInterval())

	logger.Info("local fallback cache initialized",
		observability.Int("maxEntries", s.maxEntries),
		observability.Duration("sweepInterval", cfg.GetSweepInterval()))

	return s
}

// Get retrieves a value. Expired entries are evicted lazily on access.
func (s *localStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("local", "get").
			Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.items[key]
	if !exists {
		GetMetrics().missesTotal.WithLabelValues("local").Inc()
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*localEntry)
	if entry.expired(time.Now()) {
		s.removeElement(elem)
		GetMetrics().missesTotal.WithLabelValues("local").Inc()
		return nil, ErrCacheMiss
	}

	GetMetrics().hitsTotal.WithLabelValues("local").Inc()
	return entry.value, nil
}

// Set inserts or overwrites a value. An overwrite keeps the entry's original
// position in the eviction order.
func (s *localStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("local", "set").
			Observe(time.Since(start).Seconds())
	}()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	// Copy so a caller mutating its buffer after Set cannot tear a read.
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, exists := s.items[key]; exists {
		elem.Value = &localEntry{key: key, value: stored, expiresAt: expiresAt}
		return nil
	}

	elem := s.order.PushFront(&localEntry{key: key, value: stored, expiresAt: expiresAt})
	s.items[key] = elem

	for s.order.Len() > s.maxEntries {
		s.evictOldest()
	}

	GetMetrics().sizeGauge.WithLabelValues("local").Set(float64(s.order.Len()))

	return nil
}

// Delete removes a value if present, no-op otherwise.
func (s *localStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("local", "delete").
			Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, exists := s.items[key]; exists {
		s.removeElement(elem)
	}

	return nil
}

// Ping reports the latency of a lock round trip.
func (s *localStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	s.mu.Lock()
	//nolint:staticcheck // SA2001: empty section measures lock acquisition
	s.mu.Unlock()
	return time.Since(start), nil
}

// Close stops the sweep goroutine and drops all entries.
func (s *localStore) Close() error {
	close(s.stopCh)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.order.Init()

	return nil
}

// Len returns the current number of entries.
func (s *localStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// evictOldest removes the oldest-inserted entry. Must be called with lock held.
func (s *localStore) evictOldest() {
	elem := s.order.Back()
	if elem != nil {
		s.removeElement(elem)
		GetMetrics().evictionsTotal.WithLabelValues("local").Inc()
	}
}

// removeElement removes an element. Must be called with lock held.
func (s *localStore) removeElement(elem *list.Element) {
	s.order.Remove(elem)
	entry := elem.Value.(*localEntry)
	delete(s.items, entry.key)
}

// sweepLoop periodically removes expired entries.
func (s *localStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep removes expired entries under a single write lock so that entries
// cannot be replaced between being identified and being removed.
func (s *localStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := s.order.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*localEntry).expired(now) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		s.removeElement(elem)
	}

	if len(toRemove) > 0 {
		s.logger.Debug("fallback cache sweep completed",
			observability.Int("removed", len(toRemove)))
	}
}
