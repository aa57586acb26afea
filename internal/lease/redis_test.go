package lease

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/testutil"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "automation:lease:"), mr
}

func TestRedisStore_AcquireAndContend(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := testutil.TestContext(t)
	now := time.Now()

	ok, err := store.AcquireLease(ctx, "scheduler", "a", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", mustGet(t, mr, "automation:lease:scheduler"))

	ok, err = store.AcquireLease(ctx, "scheduler", "b", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.AcquireLease(ctx, "scheduler", "a", now, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "same token refreshes")
	assert.Equal(t, 2*time.Minute, mr.TTL("automation:lease:scheduler"))

	mr.FastForward(3 * time.Minute)
	ok, err = store.AcquireLease(ctx, "scheduler", "b", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "expired key is free")
}

func TestRedisStore_ReleaseComparesToken(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := testutil.TestContext(t)
	now := time.Now()

	ok, err := store.AcquireLease(ctx, "scheduler", "a", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	released, err := store.ReleaseLease(ctx, "scheduler", "b")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("automation:lease:scheduler"))

	released, err = store.ReleaseLease(ctx, "scheduler", "a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("automation:lease:scheduler"))
}

func TestRedisStore_GetLease(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := testutil.TestContext(t)

	_, found, err := store.GetLease(ctx, "scheduler")
	require.NoError(t, err)
	assert.False(t, found)

	now := time.Now()
	_, err = store.AcquireLease(ctx, "scheduler", "a", now, now.Add(time.Minute))
	require.NoError(t, err)

	lock, found, err := store.GetLease(ctx, "scheduler")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", lock.OwnerToken)
	require.NotNil(t, lock.LockedUntil)
	assert.True(t, lock.HeldAt(time.Now()))
}

func TestRedisStore_WithCoordinator(t *testing.T) {
	store, _ := newRedisStore(t)
	c := New(store)
	ctx := testutil.TestContext(t)

	l, ok, err := c.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = c.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Release(ctx, l))
	_, ok, err = c.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
