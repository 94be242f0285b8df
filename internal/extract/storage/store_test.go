package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by tests to expire memory entries
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, "fce:"), mr
}

// exerciseStore runs the behaviour every backend shares
func exerciseStore(t *testing.T, store ConditionalStore, expire func(time.Duration)) {
	ctx := context.Background()

	_, found, err := store.Get(ctx, "boot:rom")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(ctx, "boot:rom", "track-1", time.Minute))
	value, found, err := store.Get(ctx, "boot:rom")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "track-1", value)

	ok, err := store.PutIfAbsent(ctx, "boot:rom", "track-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live entry must not be replaced")

	require.NoError(t, store.Put(ctx, "boot:rom", "track-3", time.Minute))
	value, _, err = store.Get(ctx, "boot:rom")
	require.NoError(t, err)
	assert.Equal(t, "track-3", value, "put overwrites unconditionally")

	expire(2 * time.Minute)
	_, found, err = store.Get(ctx, "boot:rom")
	require.NoError(t, err)
	assert.False(t, found, "entry must expire after its ttl")

	ok, err = store.PutIfAbsent(ctx, "boot:rom", "track-4", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired key is claimable")

	require.NoError(t, store.Delete(ctx, "boot:rom"))
	_, found, err = store.Get(ctx, "boot:rom")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Delete(ctx, "missing"))
	require.NoError(t, store.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)

	exerciseStore(t, store, clock.Advance)
}

func TestMemoryStore_NoTTLAndLen(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", "1", 0))
	require.NoError(t, store.Put(ctx, "b", "2", time.Second))
	assert.Equal(t, 2, store.Len())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, store.Len())

	value, found, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", value)
}

func TestRedisStore(t *testing.T) {
	store, mr := newTestRedis(t)

	exerciseStore(t, store, mr.FastForward)
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "modem:rom", "track-1", 5*time.Minute))

	assert.True(t, mr.Exists("fce:modem:rom"))
	assert.Equal(t, 5*time.Minute, mr.TTL("fce:modem:rom"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newTestRedis(t)
	mr.Close()
	ctx := context.Background()

	_, _, err := store.Get(ctx, "boot:rom")
	require.Error(t, err)
	require.Error(t, store.Put(ctx, "boot:rom", "x", time.Minute))
	_, err = store.PutIfAbsent(ctx, "boot:rom", "x", time.Minute)
	require.Error(t, err)
	require.Error(t, store.Delete(ctx, "boot:rom"))
	require.Error(t, store.Ping(ctx))
}
