package job

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotRetryable is returned when a dead-lettered payload is not a job envelope and cannot be republished.
var ErrNotRetryable = errors.New("failed job cannot be retried")

// FailedJob is the terminal record of a job that exhausted its attempts or failed permanently.
type FailedJob struct {
	ID           string          `json:"id"`
	QueueName    string          `json:"queue_name"`
	JobName      string          `json:"job_name"`
	JobData      json.RawMessage `json:"job_data"`
	Error        string          `json:"error"`
	StackTrace   string          `json:"stack_trace"`
	AttemptsMade int             `json:"attempts_made"`
	CreatedAt    time.Time       `json:"created_at"`
}
