package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewfeed/backend/internal/idempotency"
)

func setupGuard(t *testing.T) (*idempotency.RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return idempotency.NewRedisGuard(client, 24*time.Hour), mr
}

func TestRedisGuard_ClaimOnce(t *testing.T) {
	guard, mr := setupGuard(t)
	ctx := context.Background()

	seen, err := guard.Seen(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, seen)

	ok, err := guard.Claim(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)

	seen, err = guard.Seen(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.True(t, mr.Exists("collect:job-1"))
	assert.Equal(t, 24*time.Hour, mr.TTL("collect:job-1"))
}

func TestRedisGuard_Expires(t *testing.T) {
	guard, mr := setupGuard(t)
	ctx := context.Background()

	_, err := guard.Claim(ctx, "job-2")
	require.NoError(t, err)

	mr.FastForward(25 * time.Hour)

	seen, err := guard.Seen(ctx, "job-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisGuard_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer client.Close()
	guard := idempotency.NewRedisGuard(client, time.Hour)

	_, err = guard.Seen(context.Background(), "job-3")
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	_, err := idempotency.NewClient("", "", 0)
	assert.ErrorIs(t, err, idempotency.ErrEmptyAddress)

	mr := miniredis.RunT(t)
	client, err := idempotency.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestNoop(t *testing.T) {
	var g idempotency.Guard = idempotency.Noop{}
	seen, _ := g.Seen(context.Background(), "x")
	ok, _ := g.Claim(context.Background(), "x")
	assert.False(t, seen)
	assert.True(t, ok)
}
