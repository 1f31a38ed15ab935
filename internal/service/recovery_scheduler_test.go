package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecoverer struct {
	calls int32
}

func (c *countingRecoverer) RecoverPendingJobs(ctx context.Context) (int, error) {
	atomic.AddInt32(&c.calls, 1)
	return 0, nil
}

func TestRecoverySchedulerRunsSweep(t *testing.T) {
	recoverer := &countingRecoverer{}
	scheduler := NewRecoveryScheduler(recoverer, "@every 1s", nil)
	require.NoError(t, scheduler.Start())
	defer scheduler.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&recoverer.calls) > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestRecoverySchedulerRejectsInvalidSpec(t *testing.T) {
	scheduler := NewRecoveryScheduler(&countingRecoverer{}, "every minute please", nil)
	assert.Error(t, scheduler.Start())
}
