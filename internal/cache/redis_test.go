package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestTryLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	unlock, err := client.TryLock(ctx, "billing:cycle", time.Minute)
	require.NoError(t, err)

	_, err = client.TryLock(ctx, "billing:cycle", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, unlock(ctx))

	unlock, err = client.TryLock(ctx, "billing:cycle", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestTryLock_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	_, err := client.TryLock(ctx, "billing:cycle", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = client.TryLock(ctx, "billing:cycle", time.Minute)
	assert.NoError(t, err)
}

func TestUnlock_DoesNotReleaseForeignToken(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	staleUnlock, err := client.TryLock(ctx, "billing:cycle", time.Minute)
	require.NoError(t, err)

	// The first holder's lease expires and a second run takes over
	mr.FastForward(2 * time.Minute)
	_, err = client.TryLock(ctx, "billing:cycle", time.Minute)
	require.NoError(t, err)

	require.NoError(t, staleUnlock(ctx))
	assert.True(t, mr.Exists("billing:cycle"))
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url")
	assert.ErrorContains(t, err, "failed to parse Redis URL")
}

func TestNoopLock(t *testing.T) {
	unlock, err := NoopLock{}.TryLock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.NoError(t, unlock(context.Background()))
}

func TestHealthCheck(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, client.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}
