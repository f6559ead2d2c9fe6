package usercache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/avdeyev/workline-usercache/cache"
	"github.com/avdeyev/workline-usercache/config"
	"github.com/avdeyev/workline-usercache/observability"
)

// Backend is the cache tier the user layer delegates to. *cache.Facade
// satisfies it; tests may substitute a fake.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// KeyType identifies an alternate lookup attribute.
type KeyType string

// Supported alternate key types.
const (
	// KeyEmail is the primary alternate key.
	KeyEmail KeyType = "email"

	// KeyUsername is an optional alternate key.
	KeyUsername KeyType = "username"

	// KeyPhone is an optional alternate key.
	KeyPhone KeyType = "phone"
)

func (k KeyType) valid() bool {
	switch k {
	case KeyEmail, KeyUsername, KeyPhone:
		return true
	default:
		return false
	}
}

// AlternateKey is a (type, value) pair identifying one alternate lookup path.
type AlternateKey struct {
	Type  KeyType
	Value string
}

// LoaderByID reads a user from the system of record by primary id.
// found=false means the user does not exist; an error means the read itself
// failed and is propagated to the caller unchanged.
type LoaderByID func(ctx context.Context, id int64) (*CachedUser, bool, error)

// LoaderByKey reads a user from the system of record by a normalized
// alternate key value.
type LoaderByKey func(ctx context.Context, value string) (*CachedUser, bool, error)

// UserCache is the typed read-through layer for user records. It is stateless
// beyond its delegation to the backend; the counters exist only for hit-rate
// reporting, kept separate from the backend's own counters so that pointer
// and dereference churn stays diagnosable.
type UserCache struct {
	backend   Backend
	logger    observability.Logger
	ttl       time.Duration
	namespace string

	hits           int64
	misses         int64
	loads          int64
	pointerRepairs int64
}

// Stats contains user-layer counters.
type Stats struct {
	// Hits is the number of lookups served from cache.
	Hits int64

	// Misses is the number of lookups that went to the loader.
	Misses int64

	// Loads is the number of successful loader reads that populated the cache.
	Loads int64

	// PointerRepairs is the number of stale or corrupt alternate-key
	// pointers that were deleted and re-loaded.
	PointerRepairs int64
}

// HitRate returns the user-layer hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// New creates a user cache on top of the given backend.
func New(backend Backend, cfg *config.UserCacheConfig, logger observability.Logger) *UserCache {
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &UserCache{
		backend:   backend,
		logger:    logger,
		ttl:       cfg.GetTTL(),
		namespace: cfg.GetKeyNamespace(),
	}

	logger.Info("user cache initialized",
		observability.Duration("ttl", c.ttl),
		observability.String("namespace", c.namespace))

	return c
}

// primaryKey builds the cache key holding the serialized user.
func (c *UserCache) primaryKey(id int64) string {
	return cache.Key(c.namespace, "id", strconv.FormatInt(id, 10))
}

// alternateKey builds a pointer cache key for a normalized alternate value.
func (c *UserCache) alternateKey(kt KeyType, normalized string) string {
	return cache.Key(c.namespace, string(kt), cache.SanitizeKey(normalized))
}

// GetByID returns the user with the given primary id, loading and caching it
// on a miss. Loader errors are propagated unchanged; a loader "not found" is
// returned as ErrNotFound and deliberately not cached.
func (c *UserCache) GetByID(ctx context.Context, id int64, loader LoaderByID) (*CachedUser, error) {
	key := c.primaryKey(id)

	if data, err := c.backend.Get(ctx, key); err == nil {
		user, decErr := decodeUser(data)
		if decErr == nil {
			atomic.AddInt64(&c.hits, 1)
			return user, nil
		}
		// Delete the corrupt entry so it is not re-parsed on every read.
		c.logger.Warn("corrupt cached user payload, dropping",
			observability.Int64("id", id),
			observability.Error(decErr))
		_ = c.backend.Delete(ctx, key)
	}

	atomic.AddInt64(&c.misses, 1)

	user, found, err := loader(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	if err := c.store(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetByAlternate returns the user with the given alternate key value, loading
// and caching it on a miss. The value is normalized before lookup; the loader
// receives the normalized value. A stale or corrupt pointer entry is deleted
// before falling through to the loader.
func (c *UserCache) GetByAlternate(
	ctx context.Context, kt KeyType, value string, loader LoaderByKey,
) (*CachedUser, error) {
	if !kt.valid() {
		return nil, ErrUnknownKeyType
	}

	normalized := cache.NormalizeAlternate(value)
	altKey := c.alternateKey(kt, normalized)

	if data, err := c.backend.Get(ctx, altKey); err == nil {
		if user := c.dereference(ctx, data); user != nil {
			atomic.AddInt64(&c.hits, 1)
			return user, nil
		}
		// Both keys were written together, so a dangling pointer means the
		// primary entry expired or the pointer is corrupt. Self-heal.
		atomic.AddInt64(&c.pointerRepairs, 1)
		c.logger.Debug("dropping stale alternate-key pointer",
			observability.String("key", altKey))
		_ = c.backend.Delete(ctx, altKey)
	}

	atomic.AddInt64(&c.misses, 1)

	user, found, err := loader(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	if err := c.store(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// dereference resolves an alternate-key pointer payload to a user, returning
// nil if the pointer is malformed or the primary entry does not decode.
func (c *UserCache) dereference(ctx context.Context, pointer []byte) *CachedUser {
	id, err := parsePointer(pointer)
	if err != nil {
		return nil
	}

	data, err := c.backend.Get(ctx, c.primaryKey(id))
	if err != nil {
		return nil
	}

	user, err := decodeUser(data)
	if err != nil {
		_ = c.backend.Delete(ctx, c.primaryKey(id))
		return nil
	}
	return user
}

// Invalidate removes the user's primary entry and every alternate-key pointer
// the caller knows about. Callers pass the complete pre-mutation key set
// (including, say, both the old and the new email when an update changed it);
// the cache has no query access to the system of record to discover keys on
// its own. Best-effort: entries that survive still expire via TTL.
func (c *UserCache) Invalidate(ctx context.Context, id int64, alternates ...AlternateKey) {
	_ = c.backend.Delete(ctx, c.primaryKey(id))

	for _, alt := range alternates {
		if !alt.Type.valid() {
			c.logger.Warn("skipping invalidation for unknown key type",
				observability.String("type", string(alt.Type)))
			continue
		}
		normalized := cache.NormalizeAlternate(alt.Value)
		_ = c.backend.Delete(ctx, c.alternateKey(alt.Type, normalized))
	}

	c.logger.Debug("user invalidated",
		observability.Int64("id", id),
		observability.Int("alternateKeys", len(alternates)))
}

// Stats returns the user-layer counters.
func (c *UserCache) Stats() Stats {
	return Stats{
		Hits:           atomic.LoadInt64(&c.hits),
		Misses:         atomic.LoadInt64(&c.misses),
		Loads:          atomic.LoadInt64(&c.loads),
		PointerRepairs: atomic.LoadInt64(&c.pointerRepairs),
	}
}

// store populates the cache under the user's primary key and every alternate
// key the user currently has, all with the same TTL. Alternate keys hold only
// a pointer to the primary id so the payload exists exactly once.
func (c *UserCache) store(ctx context.Context, user *CachedUser) error {
	data, err := encodeUser(user)
	if err != nil {
		return err
	}

	if err := c.backend.Set(ctx, c.primaryKey(user.ID), data, c.ttl); err != nil {
		return err
	}

	pointer := []byte(strconv.FormatInt(user.ID, 10))
	for _, alt := range c.alternatesOf(user) {
		altKey := c.alternateKey(alt.Type, cache.NormalizeAlternate(alt.Value))
		if err := c.backend.Set(ctx, altKey, pointer, c.ttl); err != nil {
			return err
		}
	}

	atomic.AddInt64(&c.loads, 1)
	return nil
}

// alternatesOf returns the alternate keys currently set on the user.
func (c *UserCache) alternatesOf(user *CachedUser) []AlternateKey {
	alts := make([]AlternateKey, 0, 3)
	if user.Email != "" {
		alts = append(alts, AlternateKey{Type: KeyEmail, Value: user.Email})
	}
	if user.Username != "" {
		alts = append(alts, AlternateKey{Type: KeyUsername, Value: user.Username})
	}
	if user.Phone != "" {
		alts = append(alts, AlternateKey{Type: KeyPhone, Value: user.Phone})
	}
	return alts
}

// parsePointer parses an alternate-key pointer payload into a primary id.
// Non-numeric or non-positive pointers are corrupt.
func parsePointer(data []byte) (int64, error) {
	id, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, errCorruptPayload
	}
	if id <= 0 {
		return 0, errCorruptPayload
	}
	return id, nil
}
