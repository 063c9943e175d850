package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/extraction"
)

type stubLLM struct{}

func (stubLLM) Extract(context.Context, extraction.Request) (extraction.Result, error) {
	return extraction.Result{Success: true, Data: &extraction.Data{ContentType: "update", Summary: "ok"}}, nil
}

type stubProducer struct{}

func (stubProducer) Publish(string, []byte) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		QueueDriver:              "memory",
		MemoryQueueCapacity:      10,
		CollectionConcurrency:    1,
		CollectionMaxAttempts:    3,
		ExtractionConcurrency:    1,
		ExtractionMaxAttempts:    3,
		DedupConcurrency:         1,
		DedupMaxAttempts:         2,
		BackoffBase:              time.Millisecond,
		BackoffMax:               time.Millisecond,
		DedupShingleSize:         3,
		DedupNumHashes:           128,
		DedupThreshold:           0.75,
		DedupEarlyExit:           0.90,
		DedupWindowDays:          3,
		DedupMaxCandidates:       50,
		PartitionAheadMonths:     2,
		PartitionRetentionMonths: 12,
		PartitionSchedule:        "0 3 1 * *",
		ReplaySchedule:           "15 * * * *",
		ReplayGracePeriod:        time.Hour,
		ReplayBatchSize:          10,
		OpsPort:                  0,
	}
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a, err := New(testConfig(), Options{DB: db, LLM: stubLLM{}, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	assert.NotNil(t, a.Handler)
	assert.NotNil(t, a.Publisher)
	assert.NotNil(t, a.Partitions)
	assert.NotNil(t, a.Replayer)
	require.Len(t, a.Stages, 3)
	assert.Equal(t, config.QueueCollect, a.Stages[0].Config().Queue)
	assert.Equal(t, 3, a.Stages[1].Config().MaxAttempts)
	assert.Equal(t, 2, a.Stages[2].Config().MaxAttempts)

	t.Run("Health", func(t *testing.T) {
		w := httptest.NewRecorder()
		a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("Metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("CorrelationHeader", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/jobs/failed/cleanup?olderThan=bogus", nil)
		req.Header.Set("X-Correlation-ID", "corr-123")
		a.Handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "corr-123", w.Header().Get("X-Correlation-ID"))
	})
}

func TestNew_HealthReportsDatabaseOutage(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	a, err := New(testConfig(), Options{DB: db, LLM: stubLLM{}})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNew_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t.Run("MissingDB", func(t *testing.T) {
		_, err := New(testConfig(), Options{LLM: stubLLM{}})
		assert.Error(t, err)
	})

	t.Run("MissingLLM", func(t *testing.T) {
		_, err := New(testConfig(), Options{DB: db})
		assert.Error(t, err)
	})

	t.Run("NSQWithoutProducer", func(t *testing.T) {
		cfg := testConfig()
		cfg.QueueDriver = "nsq"
		_, err := New(cfg, Options{DB: db, LLM: stubLLM{}})
		assert.Error(t, err)
	})

	t.Run("NSQWithProducer", func(t *testing.T) {
		cfg := testConfig()
		cfg.QueueDriver = "nsq"
		a, err := New(cfg, Options{DB: db, LLM: stubLLM{}, Producer: stubProducer{}})
		require.NoError(t, err)
		assert.NotNil(t, a.Publisher)
	})

	t.Run("InvalidSchedule", func(t *testing.T) {
		cfg := testConfig()
		cfg.PartitionSchedule = "every month"
		_, err := New(cfg, Options{DB: db, LLM: stubLLM{}})
		assert.Error(t, err)
	})
}

func TestStart_FailsWhenPartitionsCannotBeEnsured(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(errors.New("permission denied"))

	a, err := New(testConfig(), Options{DB: db, LLM: stubLLM{}})
	require.NoError(t, err)

	err = a.Start(context.Background())
	assert.ErrorContains(t, err, "startup partition maintenance")
	assert.NoError(t, mock.ExpectationsWereMet())
}
