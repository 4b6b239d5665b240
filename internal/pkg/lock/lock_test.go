package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestAcquireRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	l := New(client, "/etc/workout-scheduler/config.yaml", time.Minute)

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Release(ctx))

	// Releasing makes the lock acquirable again
	l2 := New(client, "/etc/workout-scheduler/config.yaml", time.Minute)
	assert.NoError(t, l2.Acquire(ctx))
}

func TestAcquire_AlreadyRunning(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	first := New(client, "config.yaml", time.Minute)
	second := New(client, "config.yaml", time.Minute)

	require.NoError(t, first.Acquire(ctx))

	err := second.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrAlreadyRunning, apperrors.CodeOf(err))
}

func TestAcquire_DifferentConfigsDoNotContend(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, New(client, "a.yaml", time.Minute).Acquire(ctx))
	assert.NoError(t, New(client, "b.yaml", time.Minute).Acquire(ctx))
}

func TestRelease_DoesNotStealExpiredLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	first := New(client, "config.yaml", time.Second)
	require.NoError(t, first.Acquire(ctx))

	// Simulate TTL expiry and re-acquisition by another instance
	mr.FastForward(2 * time.Second)
	second := New(client, "config.yaml", time.Minute)
	require.NoError(t, second.Acquire(ctx))

	// The stale holder's release must not delete the new holder's lock
	require.NoError(t, first.Release(ctx))
	err := New(client, "config.yaml", time.Minute).Acquire(ctx)
	assert.Equal(t, apperrors.ErrAlreadyRunning, apperrors.CodeOf(err))
}
