package cache

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisWithoutClientIsNop(t *testing.T) {
	c := NewRedis(nil, time.Minute)

	require.NoError(t, c.Fill(context.Background(), "alice", 10, 0))
	entry, err := c.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, entry.Hit)
}

func TestRedisCacheReportsBackendErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	c := NewRedis(client, time.Minute)
	entry, err := c.Get(context.Background(), "alice")
	assert.Error(t, err)
	assert.False(t, entry.Hit)
}

func TestKeysShareHashTag(t *testing.T) {
	assert.Equal(t, "wowcoin:balance:{alice}", key(" alice "))
	assert.Equal(t, "wowcoin:balance:{alice}:gen", genKey("alice"))
}

func liveRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisFillAfterInvalidateIsDropped(t *testing.T) {
	client := liveRedis(t)
	ctx := context.Background()
	user := "cache-test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { client.Del(ctx, key(user), genKey(user)) })
	c := NewRedis(client, time.Minute)

	// Reader misses and loads 10 from the store.
	before, err := c.Get(ctx, user)
	require.NoError(t, err)
	require.False(t, before.Hit)

	// A writer commits 6 and invalidates before the reader fills.
	require.NoError(t, c.Invalidate(ctx, user))
	require.NoError(t, c.Fill(ctx, user, 10, before.Generation))

	entry, err := c.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, entry.Hit, "stale fill must be dropped")
	assert.Equal(t, before.Generation+1, entry.Generation)

	require.NoError(t, c.Fill(ctx, user, 6, entry.Generation))
	entry, err = c.Get(ctx, user)
	require.NoError(t, err)
	assert.True(t, entry.Hit)
	assert.Equal(t, int64(6), entry.Balance)

	// An existing entry is never overwritten by a fill.
	require.NoError(t, c.Fill(ctx, user, 99, entry.Generation))
	entry, err = c.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(6), entry.Balance)

	ttl, err := client.PTTL(ctx, key(user)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	genTTL, err := client.PTTL(ctx, genKey(user)).Result()
	require.NoError(t, err)
	assert.Greater(t, genTTL, time.Minute)
}

func TestRedisGetDropsCorruptEntry(t *testing.T) {
	client := liveRedis(t)
	ctx := context.Background()
	user := "cache-corrupt-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { client.Del(ctx, key(user), genKey(user)) })
	c := NewRedis(client, time.Minute)

	require.NoError(t, client.Set(ctx, key(user), "not-a-number", time.Minute).Err())
	entry, err := c.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, entry.Hit)

	exists, err := client.Exists(ctx, key(user)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
