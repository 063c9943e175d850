package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"brewfeed/backend/internal/middleware"
)

// ErrUnknownKind is reported when no handler is registered for a job kind.
var ErrUnknownKind = errors.New("unknown job kind")

// Job is the envelope carried on every pipeline queue.
type Job struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// NewJob wraps payload in an envelope, inheriting the correlation id from ctx when present.
func NewJob(ctx context.Context, kind string, payload any) (Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	correlationID := middleware.GetCorrelationID(ctx)
	if correlationID == "unknown" {
		correlationID = uuid.New().String()
	}

	return Job{
		ID:            uuid.New().String(),
		Kind:          kind,
		Payload:       body,
		CorrelationID: correlationID,
		EnqueuedAt:    time.Now().UTC(),
	}, nil
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return Permanent(fmt.Errorf("%s job %s has an empty payload", j.Kind, j.ID))
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return nil
}

// Publisher delivers jobs to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, job Job) error
}

// Enqueue builds a job for payload and publishes it on queue.
func Enqueue(ctx context.Context, pub Publisher, queue, kind string, payload any) error {
	job, err := NewJob(ctx, kind, payload)
	if err != nil {
		return err
	}
	if err := pub.Publish(ctx, queue, job); err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", kind, queue, err)
	}
	return nil
}
