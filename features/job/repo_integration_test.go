package job_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewfeed/backend/features/job"
	"brewfeed/backend/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := job.NewPostgresRepo(s.DB)
	ctx := context.Background()

	// 1. Save
	fj := &job.FailedJob{
		QueueName:    "content.extract",
		JobName:      "extract-content",
		JobData:      json.RawMessage(`{"id":"j1","kind":"extract-content","payload":{"contentItemId":"c1"}}`),
		Error:        "extraction provider unavailable",
		StackTrace:   "0: *errors.errorString: extraction provider unavailable\n",
		AttemptsMade: 3,
	}
	require.NoError(t, repo.Save(ctx, fj))
	assert.NotEmpty(t, fj.ID)
	assert.False(t, fj.CreatedAt.IsZero())

	// 2. Get and List
	got, err := repo.Get(ctx, fj.ID)
	require.NoError(t, err)
	assert.Equal(t, "content.extract", got.QueueName)
	assert.Equal(t, 3, got.AttemptsMade)
	assert.JSONEq(t, string(fj.JobData), string(got.JobData))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 3. Cleanup only removes old records
	_, err = s.DB.Exec(`INSERT INTO failed_jobs (queue_name, job_name, error, created_at) VALUES ('content.dedup', 'check-duplicate', 'old', NOW() - INTERVAL '40 days')`)
	require.NoError(t, err)
	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// 4. Delete
	require.NoError(t, repo.Delete(ctx, fj.ID))
	_, err = repo.Get(ctx, fj.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
