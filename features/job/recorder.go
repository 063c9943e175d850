package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"brewfeed/backend/internal/queue"
)

// Recorder persists final failure events from every stage. Non-final attempts are only logged.
type Recorder struct {
	repo       Repository
	maxRetries uint64
	initial    time.Duration
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, maxRetries: 3, initial: 100 * time.Millisecond}
}

func (r *Recorder) OnFailure(ctx context.Context, ev queue.FailureEvent) {
	if !ev.Final {
		slog.WarnContext(ctx, "job attempt failed, retry scheduled",
			"attempt", ev.Attempt, "max_attempts", ev.MaxAttempts, "error", ev.Err)
		return
	}

	name := ev.Job.Kind
	if name == "" {
		name = "unknown"
	}
	errMsg := "unknown error"
	if ev.Err != nil {
		errMsg = ev.Err.Error()
	}

	fj := &FailedJob{
		QueueName:    ev.Queue,
		JobName:      name,
		JobData:      snapshot(ev.Body),
		Error:        errMsg,
		StackTrace:   ev.Trace,
		AttemptsMade: ev.Attempt,
	}
	if err := r.Record(ctx, fj); err != nil {
		slog.ErrorContext(ctx, "failed to record dead letter", "error", err, "job_error", errMsg)
		return
	}
	slog.ErrorContext(ctx, "job dead-lettered", "failed_job_id", fj.ID, "attempts", ev.Attempt, "error", errMsg)
}

// Record saves fj, retrying briefly on storage errors.
func (r *Recorder) Record(ctx context.Context, fj *FailedJob) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initial
	return backoff.Retry(func() error {
		return r.repo.Save(ctx, fj)
	}, backoff.WithContext(backoff.WithMaxRetries(eb, r.maxRetries), ctx))
}

// snapshot keeps the delivery body as JSON; bodies that are not JSON are stored as a string.
func snapshot(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
