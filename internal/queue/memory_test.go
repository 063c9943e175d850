package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewfeed/backend/internal/queue"
)

func TestMemoryBroker_RetriesThenSucceeds(t *testing.T) {
	broker := queue.NewMemoryBroker(10)
	defer broker.Stop()

	var calls atomic.Int32
	reg := queue.NewRegistry().Register("flaky", func(ctx context.Context, job queue.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	l := &recordingListener{}
	stage := queue.NewStage(queue.StageConfig{
		Queue: "q", Concurrency: 2, MaxAttempts: 3,
		Backoff: queue.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}, reg, queue.WithFailureListener(l))
	broker.Run(stage)

	require.NoError(t, queue.Enqueue(context.Background(), broker, "q", "flaky", map[string]int{"n": 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, broker.WaitIdle(ctx))

	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, l.events, 2)
	assert.Empty(t, l.finals())
}

func TestMemoryBroker_DeadLetterExactlyOnce(t *testing.T) {
	broker := queue.NewMemoryBroker(10)
	defer broker.Stop()

	var calls atomic.Int32
	reg := queue.NewRegistry().Register("doomed", func(ctx context.Context, job queue.Job) error {
		calls.Add(1)
		return errors.New("provider unavailable")
	})
	l := &recordingListener{}
	stage := queue.NewStage(queue.StageConfig{
		Queue: "q", Concurrency: 1, MaxAttempts: 3,
		Backoff: queue.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond},
	}, reg, queue.WithFailureListener(l))
	broker.Run(stage)

	require.NoError(t, queue.Enqueue(context.Background(), broker, "q", "doomed", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, broker.WaitIdle(ctx))

	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, l.events, 3)
	assert.Len(t, l.finals(), 1)
}

func TestMemoryBroker_PublishAfterStop(t *testing.T) {
	broker := queue.NewMemoryBroker(1)
	broker.Stop()

	err := queue.Enqueue(context.Background(), broker, "q", "k", nil)
	assert.ErrorIs(t, err, queue.ErrBrokerStopped)
	assert.Equal(t, int64(0), broker.Pending())
}
