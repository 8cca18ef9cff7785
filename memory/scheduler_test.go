package memory_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/memory"
)

func TestSchedulerRunsJobs(t *testing.T) {
	s := memory.NewScheduler(3, 16)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Submit(context.Background(), "count", func(context.Context) {
			ran.Add(1)
		}))
	}
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, int32(10), ran.Load())
	assert.Zero(t, s.Dropped())
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := memory.NewScheduler(1, 4)

	var after atomic.Bool
	require.NoError(t, s.Submit(context.Background(), "boom", func(context.Context) {
		panic("job exploded")
	}))
	require.NoError(t, s.Submit(context.Background(), "after", func(context.Context) {
		after.Store(true)
	}))
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, int64(1), s.Panics())
	assert.True(t, after.Load(), "worker survives a panicking job")
}

func TestSchedulerQueueFull(t *testing.T) {
	s := memory.NewScheduler(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, s.Submit(context.Background(), "blocker", func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, s.Submit(context.Background(), "queued", func(context.Context) {}))

	err := s.Submit(context.Background(), "overflow", func(context.Context) {})
	assert.ErrorIs(t, err, memory.ErrQueueFull)
	assert.Equal(t, int64(1), s.Dropped())
	assert.Equal(t, 1, s.Pending())

	close(release)
	require.NoError(t, s.Close(context.Background()))
}

func TestSchedulerClosed(t *testing.T) {
	s := memory.NewScheduler(1, 1)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()), "close is idempotent")

	err := s.Submit(context.Background(), "late", func(context.Context) {})
	assert.ErrorIs(t, err, memory.ErrSchedulerClosed)
}

func TestSchedulerCloseTimeoutCancelsJobs(t *testing.T) {
	s := memory.NewScheduler(1, 1)
	cancelled := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, s.Submit(context.Background(), "slow", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running job was not cancelled")
	}
}

func TestSchedulerJobOutlivesCaller(t *testing.T) {
	s := memory.NewScheduler(1, 1)
	callerCtx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	require.NoError(t, s.Submit(callerCtx, "detached", func(ctx context.Context) {
		errCh <- ctx.Err()
	}))
	cancel()
	require.NoError(t, s.Close(context.Background()))
	assert.NoError(t, <-errCh)
}
