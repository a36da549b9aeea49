package cache

import (
	"bulk_orders/internal/model"
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, ttl time.Duration) (Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	store, _ := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testBatch("b1")))

	got, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.ID)
	assert.Equal(t, model.StateParsed, got.State)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, model.NetworkMTN, got.Rows[0].Network)

	require.NoError(t, store.Delete(ctx, "b1"))
	_, err = store.Get(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Expiry(t *testing.T) {
	store, mr := setupRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testBatch("b1")))
	assert.Equal(t, time.Minute, mr.TTL(redisKeyPrefix+"b1"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client, time.Minute)
	mr.Close()

	_, err = store.Get(context.Background(), "b1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Lock(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	locker, ok := store.(Locker)
	require.True(t, ok)
	ctx := context.Background()

	token, err := locker.Lock(ctx, "b1", 30*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, 30*time.Second, mr.TTL(redisLockPrefix+"b1"))

	_, err = locker.Lock(ctx, "b1", 30*time.Second)
	assert.ErrorIs(t, err, ErrLocked)

	// Чужой токен блокировку не снимает.
	require.NoError(t, locker.Unlock(ctx, "b1", "someone-else"))
	_, err = locker.Lock(ctx, "b1", 30*time.Second)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, locker.Unlock(ctx, "b1", token))
	_, err = locker.Lock(ctx, "b1", 30*time.Second)
	assert.NoError(t, err)
}

func TestRedisStore_LockExpires(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	locker := store.(Locker)
	ctx := context.Background()

	_, err := locker.Lock(ctx, "b1", 30*time.Second)
	require.NoError(t, err)

	mr.FastForward(time.Minute)
	_, err = locker.Lock(ctx, "b1", 30*time.Second)
	assert.NoError(t, err)
}
