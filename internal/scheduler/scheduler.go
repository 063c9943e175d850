// Package scheduler runs periodic housekeeping tasks on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"brewfeed/backend/internal/middleware"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	ctx    context.Context
	cancel context.CancelFunc
}

func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		parser: parser,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers task under name on a standard five-field schedule.
func (s *Scheduler) Add(name, spec string, task Task) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", spec, name, err)
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.Run(name, task) }))
	slog.Info("scheduled task", "task", name, "schedule", spec, "next_run", schedule.Next(time.Now()))
	return nil
}

// Run executes task once with its own correlation id.
func (s *Scheduler) Run(name string, task Task) {
	ctx := middleware.WithCorrelationID(s.ctx, name+"-"+time.Now().UTC().Format("20060102T150405"))
	start := time.Now()
	if err := task(ctx); err != nil {
		slog.ErrorContext(ctx, "scheduled task failed", "task", name, "duration", time.Since(start), "error", err)
		return
	}
	slog.InfoContext(ctx, "scheduled task completed", "task", name, "duration", time.Since(start))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("scheduler stop timed out")
	}
}
