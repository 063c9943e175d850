package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewfeed/backend/internal/middleware"
)

func TestAdd_InvalidSchedule(t *testing.T) {
	s := New()
	err := s.Add("broken", "not a cron", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestAdd_ValidSchedule(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("partitions", "0 3 1 * *", func(context.Context) error { return nil }))
	assert.Len(t, s.cron.Entries(), 1)
}

func TestRun_SetsCorrelationID(t *testing.T) {
	s := New()
	var got string
	s.Run("replay", func(ctx context.Context) error {
		got = middleware.GetCorrelationID(ctx)
		return errors.New("ignored")
	})
	assert.Contains(t, got, "replay-")
}

func TestStop_CancelsTaskContext(t *testing.T) {
	s := New()
	s.Start()

	done := make(chan struct{})
	go s.Run("long", func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}
