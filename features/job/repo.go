package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type Repository interface {
	Save(ctx context.Context, job *FailedJob) error
	List(ctx context.Context) ([]FailedJob, error)
	Get(ctx context.Context, id string) (*FailedJob, error)
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, job *FailedJob) error {
	query := `INSERT INTO failed_jobs (queue_name, job_name, job_data, error, stack_trace, attempts_made) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, job.QueueName, job.JobName, string(job.JobData), job.Error, job.StackTrace, job.AttemptsMade).
		Scan(&job.ID, &job.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context) ([]FailedJob, error) {
	query := `SELECT id, queue_name, job_name, job_data, error, stack_trace, attempts_made, created_at FROM failed_jobs ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []FailedJob
	for rows.Next() {
		var j FailedJob
		var data []byte
		if err := rows.Scan(&j.ID, &j.QueueName, &j.JobName, &data, &j.Error, &j.StackTrace, &j.AttemptsMade, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.JobData = json.RawMessage(data)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*FailedJob, error) {
	j := &FailedJob{}
	var data []byte
	query := `SELECT id, queue_name, job_name, job_data, error, stack_trace, attempts_made, created_at FROM failed_jobs WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&j.ID, &j.QueueName, &j.JobName, &data, &j.Error, &j.StackTrace, &j.AttemptsMade, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.JobData = json.RawMessage(data)
	return j, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM failed_jobs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM failed_jobs WHERE created_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_jobs`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
