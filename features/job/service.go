package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brewfeed/backend/internal/queue"
)

type Service struct {
	repo Repository
	pub  queue.Publisher
}

func NewService(repo Repository, pub queue.Publisher) *Service {
	return &Service{repo: repo, pub: pub}
}

func (s *Service) List(ctx context.Context) ([]FailedJob, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*FailedJob, error) {
	return s.repo.Get(ctx, id)
}

// Retry republishes the recorded envelope to its original queue and removes the record.
func (s *Service) Retry(ctx context.Context, id string) error {
	fj, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	var env queue.Job
	if err := json.Unmarshal(fj.JobData, &env); err != nil || env.Kind == "" {
		return fmt.Errorf("%w: job %s has no valid envelope", ErrNotRetryable, id)
	}

	if err := s.pub.Publish(ctx, fj.QueueName, env); err != nil {
		return err
	}

	return s.repo.Delete(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// CleanupOlderThan removes records created more than age ago.
func (s *Service) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, time.Now().Add(-age))
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
