package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"brewfeed/backend/internal/metrics"
	"brewfeed/backend/internal/middleware"
)

// Delivery is one receipt of a queued job from a transport.
type Delivery interface {
	Body() []byte
	// Attempts is 1 on first delivery.
	Attempts() int
	Finish()
	Requeue(delay time.Duration)
}

// StageConfig describes one worker pool bound to one queue.
type StageConfig struct {
	Queue       string
	Concurrency int
	MaxAttempts int
	Backoff     Backoff
}

// FailureEvent is emitted on every failed attempt. Final is set exactly once per job:
// when its attempts are exhausted or the error is permanent.
type FailureEvent struct {
	Queue       string
	Job         Job
	Body        []byte
	Err         error
	Trace       string
	Attempt     int
	MaxAttempts int
	Final       bool
}

// FailureListener observes a stage's failure events.
type FailureListener interface {
	OnFailure(ctx context.Context, ev FailureEvent)
}

// Stage dispatches deliveries of one queue to the handlers in its registry.
type Stage struct {
	cfg       StageConfig
	registry  *Registry
	listeners []FailureListener
	metrics   *metrics.Pipeline
}

type StageOption func(*Stage)

func WithFailureListener(l FailureListener) StageOption {
	return func(s *Stage) { s.listeners = append(s.listeners, l) }
}

func WithMetrics(m *metrics.Pipeline) StageOption {
	return func(s *Stage) { s.metrics = m }
}

func NewStage(cfg StageConfig, registry *Registry, opts ...StageOption) *Stage {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	s := &Stage{cfg: cfg, registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stage) Config() StageConfig { return s.cfg }

// Process runs a single delivery to completion and acknowledges or requeues it.
func (s *Stage) Process(ctx context.Context, d Delivery) {
	attempt := d.Attempts()

	var job Job
	if err := json.Unmarshal(d.Body(), &job); err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid job envelope", "queue", s.cfg.Queue, "error", err)
		s.fail(ctx, d, job, Permanent(fmt.Errorf("invalid job envelope: %w", err)), attempt, true)
		d.Finish()
		return
	}

	if job.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, job.CorrelationID)
	}
	ctx = middleware.WithJob(ctx, middleware.JobInfo{Queue: s.cfg.Queue, Kind: job.Kind, ID: job.ID, Attempt: attempt})

	handler, ok := s.registry.Lookup(job.Kind)
	if !ok {
		// Deploy mismatch, not a transient fault: acknowledge without retrying.
		slog.WarnContext(ctx, "no handler registered for job kind, acknowledging", "error", ErrUnknownKind, "known_kinds", s.registry.Kinds())
		s.metrics.ObserveAttempt(s.cfg.Queue, job.Kind, "unknown_kind", 0)
		d.Finish()
		return
	}

	if attempt > s.cfg.MaxAttempts {
		// Already dead-lettered on a previous delivery whose acknowledgement was lost.
		slog.WarnContext(ctx, "job redelivered after exhaustion, dropping", "max_attempts", s.cfg.MaxAttempts)
		d.Finish()
		return
	}

	start := time.Now()
	err := s.run(ctx, handler, job)
	duration := time.Since(start)

	if err == nil {
		slog.InfoContext(ctx, "job attempt succeeded", "duration", duration)
		s.metrics.ObserveAttempt(s.cfg.Queue, job.Kind, "success", duration)
		d.Finish()
		return
	}

	final := IsPermanent(err) || attempt >= s.cfg.MaxAttempts
	slog.WarnContext(ctx, "job attempt failed", "duration", duration, "error", err, "max_attempts", s.cfg.MaxAttempts, "final", final)
	s.metrics.ObserveAttempt(s.cfg.Queue, job.Kind, "error", duration)

	s.fail(ctx, d, job, err, attempt, final)
	if final {
		d.Finish()
		return
	}
	d.Requeue(s.cfg.Backoff.Delay(attempt))
}

func (s *Stage) run(ctx context.Context, handler HandlerFunc, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return handler(ctx, job)
}

func (s *Stage) fail(ctx context.Context, d Delivery, job Job, err error, attempt int, final bool) {
	if final {
		s.metrics.DeadLetter(s.cfg.Queue)
	}
	ev := FailureEvent{
		Queue:       s.cfg.Queue,
		Job:         job,
		Body:        d.Body(),
		Err:         err,
		Trace:       errorTrace(err),
		Attempt:     attempt,
		MaxAttempts: s.cfg.MaxAttempts,
		Final:       final,
	}
	for _, l := range s.listeners {
		l.OnFailure(ctx, ev)
	}
}
