package services

import (
	"context"
	"testing"
	"time"

	testutil "github.com/ReZill392/Thesit-sub000/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaderLock(t *testing.T) {
	mr, client, err := testutil.NewMiniRedis()
	require.NoError(t, err)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	first := NewLeaderLock(client, "scheduler", time.Minute)
	second := NewLeaderLock(client, "scheduler", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Extend(ctx))
	assert.ErrorIs(t, second.Extend(ctx), ErrLockNotHeld)

	// releasing a lock we do not own leaves it in place
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists("lock:scheduler"))

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("lock:scheduler"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
