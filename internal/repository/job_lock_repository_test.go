package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLockRepositoryLocalFallback(t *testing.T) {
	repo := NewJobLockRepository(nil, nil)
	ctx := context.Background()

	token, ok, err := repo.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = repo.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	require.NoError(t, repo.Release(ctx, "job-1", "someone-else"))
	_, ok, _ = repo.Acquire(ctx, "job-1", time.Minute)
	assert.False(t, ok, "foreign token must not release the lock")

	require.NoError(t, repo.Release(ctx, "job-1", token))
	_, ok, err = repo.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJobLockRepositoryLocalExpiry(t *testing.T) {
	repo := NewJobLockRepository(nil, nil)
	ctx := context.Background()

	_, ok, err := repo.Acquire(ctx, "job-2", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	_, ok, err = repo.Acquire(ctx, "job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
