package usercache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeyev/workline-usercache/cache"
	"github.com/avdeyev/workline-usercache/config"
	"github.com/avdeyev/workline-usercache/observability"
)

func newTestUserCache(t *testing.T) (*UserCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cacheCfg := config.DefaultCacheConfig()
	cacheCfg.Enabled = true
	cacheCfg.OpTimeout = config.Duration(time.Second)
	cacheCfg.Redis = &config.RedisConfig{
		URL:       "redis://" + mr.Addr(),
		KeyPrefix: "test:",
	}
	cacheCfg.Local.SweepInterval = config.Duration(time.Hour)

	facade, err := cache.New(cacheCfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = facade.Close() })

	uc := New(facade, config.DefaultUserCacheConfig(), observability.NopLogger())
	return uc, mr
}

// idLoader returns a LoaderByID serving the given user and counts calls.
func idLoader(user *CachedUser, calls *int) LoaderByID {
	return func(ctx context.Context, id int64) (*CachedUser, bool, error) {
		*calls++
		if user == nil || user.ID != id {
			return nil, false, nil
		}
		return user, true, nil
	}
}

// keyLoader returns a LoaderByKey serving the given user and counts calls.
func keyLoader(user *CachedUser, calls *int) LoaderByKey {
	return func(ctx context.Context, value string) (*CachedUser, bool, error) {
		*calls++
		if user == nil {
			return nil, false, nil
		}
		return user, true, nil
	}
}

func TestGetByIDRoundTrip(t *testing.T) {
	uc, _ := newTestUserCache(t)
	ctx := context.Background()
	u := validUser()

	calls := 0
	loader := idLoader(u, &calls)

	first, err := uc.GetByID(ctx, 42, loader)
	require.NoError(t, err)
	assert.Equal(t, u, first)
	assert.Equal(t, 1, calls)

	// A second read before TTL expiry must not touch the loader and must
	// return an identical payload.
	second, err := uc.GetByID(ctx, 42, loader)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	stats := uc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Loads)
}

func TestGetByAlternateServedFromPrimaryPopulation(t *testing.T) {
	uc, _ := newTestUserCache(t)
	ctx := context.Background()
	u := validUser()

	idCalls := 0
	_, err := uc.GetByID(ctx, 42, idLoader(u, &idCalls))
	require.NoError(t, err)

	// The primary load populated the alternate keys too, so this lookup
	// must not invoke its loader.
	keyCalls := 0
	got, err := uc.GetByAlternate(ctx, KeyEmail, "user@test.com", keyLoader(nil, &keyCalls))
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, 0, keyCalls)

	got, err = uc.GetByAlternate(ctx, KeyUsername, "alice", keyLoader(nil, &keyCalls))
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, 0, keyCalls)
}

func TestInvalidateRemovesAllKeys(t *testing.T) {
	uc, _ := newTestUserCache(t)
	ctx := context.Background()
	u := validUser()

	idCalls := 0
	_, err := uc.GetByID(ctx, 42, idLoader(u, &idCalls))
	require.NoError(t, err)

	uc.Invalidate(ctx, 42,
		AlternateKey{Type: KeyEmail, Value: "user@test.com"},
		AlternateKey{Type: KeyUsername, Value: "alice"},
	)

	// Both lookup paths must miss and re-invoke their loaders.
	_, err = uc.GetByID(ctx, 42, idLoader(u, &idCalls))
	require.NoError(t, err)
	assert.Equal(t, 2, idCalls)

	uc.Invalidate(ctx, 42,
		AlternateKey{Type: KeyEmail, Value: "user@test.com"},
		AlternateKey{Type: KeyUsername, Value: "alice"},
	)

	keyCalls := 0
	_, err = uc.GetByAlternate(ctx, KeyEmail, "user@test.com", keyLoader(u, &keyCalls))
	require.NoError(t, err)
	assert.Equal(t, 1, keyCalls)
}

func TestCredentialFieldNeverCached(t *testing.T) {
	uc, mr := newTestUserCache(t)
	ctx := context.Background()

	u := validUser()
	u.Profile["password_hash"] = "$2a$10$abcdef"

	calls := 0
	_, err := uc.GetByID(ctx, 42, idLoader(u, &calls))
	assert.ErrorIs(t, err, ErrCredentialField)

	// Nothing may have reached the store.
	assert.False(t, mr.Exists("test:user:id:42"))
	assert.False(t, mr.Exists("test:user:email:user@test.com"))
}

func TestNormalizationConsistency(t *testing.T) {
	uc, _ := newTestUserCache(t)
	ctx := context.Background()
	u := validUser()
	u.Email = "a@b.com"

	calls := 0
	_, err := uc.GetByAlternate(ctx, KeyEmail, "A@B.com ", keyLoader(u, &calls))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// The denormalized and normalized spellings must resolve to the same
	// cache entry.
	calls2 := 0
	got, err := uc.GetByAlternate(ctx, KeyEmail, "a@b.com", keyLoader(nil, &calls2))
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, 0, calls2)
}

func TestNegativeResultsNotCached(t *testing.T) {
	uc, _ := newTestUserCache(t)
	ctx := context.Background()

	calls := 0
	_, err := uc.GetByID(ctx, 42, idLoader(nil, &calls))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)

	// The user may have been created in the meantime; a fresh loader must
	// be consulted, not a negative cache entry.
	u := validUser()
	calls2 := 0
	got, err := uc.GetByID(ctx, 42, idLoader(u, &calls2))
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, 1, calls2)
}

func TestLoaderErrorPropagated(t *testing.T) {
	uc, _ := newTestUserCache(t)
	ctx := context.Background()

	dbDown := errors.New("connection refused")
	_, err := uc.GetByID(ctx, 42, func(ctx context.Context, id int64) (*CachedUser, bool, error) {
		return nil, false, dbDown
	})
	// A data-layer failure must never be masked as "not found".
	assert.ErrorIs(t, err, dbDown)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = uc.GetByAlternate(ctx, KeyEmail, "a@b.com", func(ctx context.Context, value string) (*CachedUser, bool, error) {
		return nil, false, dbDown
	})
	assert.ErrorIs(t, err, dbDown)
}

func TestStalePointerSelfHeals(t *testing.T) {
	uc, mr := newTestUserCache(t)
	ctx := context.Background()
	u := validUser()

	// A pointer whose primary entry is gone (expired independently).
	require.NoError(t, mr.Set("test:user:email:dangling@test.com", "42"))

	calls := 0
	got, err := uc.GetByAlternate(ctx, KeyEmail, "dangling@test.com", keyLoader(u, &calls))
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), uc.Stats().PointerRepairs)
}

func TestCorruptPointerSelfHeals(t *testing.T) {
	uc, mr := newTestUserCache(t)
	ctx := context.Background()
	u := validUser()

	tests := []struct {
		name    string
		pointer string
	}{
		{name: "non-numeric", pointer: "garbage"},
		{name: "negative", pointer: "-5"},
		{name: "zero", pointer: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, mr.Set("test:user:email:user@test.com", tt.pointer))

			calls := 0
			got, err := uc.GetByAlternate(ctx, KeyEmail, "user@test.com", keyLoader(u, &calls))
			require.NoError(t, err)
			assert.Equal(t, u, got)
			assert.Equal(t, 1, calls)

			uc.Invalidate(ctx, 42, AlternateKey{Type: KeyEmail, Value: "user@test.com"})
		})
	}
}

func TestCorruptPrimaryPayloadTreatedAsMiss(t *testing.T) {
	uc, mr := newTestUserCache(t)
	ctx := context.Background()
	u := validUser()

	require.NoError(t, mr.Set("test:user:id:42", "{not json"))

	calls := 0
	got, err := uc.GetByID(ctx, 42, idLoader(u, &calls))
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, 1, calls)

	// The re-load replaced the corrupt entry with a valid one.
	calls2 := 0
	_, err = uc.GetByID(ctx, 42, idLoader(u, &calls2))
	require.NoError(t, err)
	assert.Equal(t, 0, calls2)
}

func TestUnknownKeyTypeRejected(t *testing.T) {
	uc, _ := newTestUserCache(t)

	_, err := uc.GetByAlternate(context.Background(), KeyType("ssn"), "123", keyLoader(nil, new(int)))
	assert.ErrorIs(t, err, ErrUnknownKeyType)
}

func TestEmailChangeScenario(t *testing.T) {
	uc, mr := newTestUserCache(t)
	ctx := context.Background()

	u := validUser() // {id: 42, email: user@test.com, username: alice}
	idCalls := 0
	_, err := uc.GetByID(ctx, 42, idLoader(u, &idCalls))
	require.NoError(t, err)

	// One payload, two pointers.
	assert.True(t, mr.Exists("test:user:id:42"))
	assert.True(t, mr.Exists("test:user:email:user@test.com"))
	assert.True(t, mr.Exists("test:user:username:alice"))
	pointer, err := mr.Get("test:user:email:user@test.com")
	require.NoError(t, err)
	assert.Equal(t, "42", pointer)

	// The email changes; the caller invalidates with the pre-mutation keys.
	updated := *u
	updated.Email = "newemail@test.com"
	uc.Invalidate(ctx, 42,
		AlternateKey{Type: KeyEmail, Value: "user@test.com"},
		AlternateKey{Type: KeyUsername, Value: "alice"},
	)

	assert.False(t, mr.Exists("test:user:id:42"))
	assert.False(t, mr.Exists("test:user:email:user@test.com"))
	assert.False(t, mr.Exists("test:user:username:alice"))

	// Next access re-loads and keys the entry under the new email.
	idCalls2 := 0
	got, err := uc.GetByID(ctx, 42, idLoader(&updated, &idCalls2))
	require.NoError(t, err)
	assert.Equal(t, 1, idCalls2)
	assert.Equal(t, "newemail@test.com", got.Email)

	assert.True(t, mr.Exists("test:user:email:newemail@test.com"))
	assert.True(t, mr.Exists("test:user:username:alice"))
	assert.False(t, mr.Exists("test:user:email:user@test.com"))
}

func TestGetByIDOutageStillServes(t *testing.T) {
	uc, mr := newTestUserCache(t)
	ctx := context.Background()
	u := validUser()

	calls := 0
	_, err := uc.GetByID(ctx, 42, idLoader(u, &calls))
	require.NoError(t, err)

	mr.Close()

	// The facade degrades to its local mirror; no loader call, no error.
	got, err := uc.GetByID(ctx, 42, idLoader(u, &calls))
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, 1, calls)
}

func TestStatsHitRate(t *testing.T) {
	assert.Equal(t, float64(0), Stats{}.HitRate())
	assert.Equal(t, float64(50), Stats{Hits: 2, Misses: 2}.HitRate())
}
