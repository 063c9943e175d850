package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"brewfeed/backend/features/content"
	"brewfeed/backend/features/job"
	"brewfeed/backend/features/stats"
	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/dedup"
	"brewfeed/backend/internal/extraction"
	"brewfeed/backend/internal/idempotency"
	"brewfeed/backend/internal/metrics"
	"brewfeed/backend/internal/middleware"
	"brewfeed/backend/internal/partition"
	"brewfeed/backend/internal/pipeline"
	"brewfeed/backend/internal/queue"
	"brewfeed/backend/internal/scheduler"
)

// Options carries the externally constructed clients New wires together.
type Options struct {
	DB       *sql.DB
	Producer queue.Producer
	Redis    *redis.Client
	LLM      extraction.Extractor
	OCR      extraction.OCR
	Registry *prometheus.Registry
}

type App struct {
	Handler    http.Handler
	Publisher  queue.Publisher
	Stages     []*queue.Stage
	Partitions *partition.Manager
	Replayer   *pipeline.Replayer

	cfg       *config.Config
	broker    *queue.MemoryBroker
	consumers []*queue.NSQConsumer
	scheduler *scheduler.Scheduler
	cancel    context.CancelFunc
}

func New(cfg *config.Config, opts Options) (*App, error) {
	if opts.DB == nil {
		return nil, errors.New("app: database is required")
	}
	if opts.LLM == nil {
		return nil, errors.New("app: extractor is required")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	a := &App{cfg: cfg, scheduler: scheduler.New()}
	pm := metrics.New(opts.Registry)

	// Transport
	var backlog stats.Backlog
	switch cfg.QueueDriver {
	case "memory":
		a.broker = queue.NewMemoryBroker(cfg.MemoryQueueCapacity)
		a.Publisher = a.broker
		backlog = a.broker
	default:
		if opts.Producer == nil {
			return nil, errors.New("app: nsq producer is required for the nsq queue driver")
		}
		a.Publisher = queue.NewNSQPublisher(opts.Producer)
	}

	var guard idempotency.Guard = idempotency.Noop{}
	if opts.Redis != nil {
		guard = idempotency.NewRedisGuard(opts.Redis, cfg.CollectKeyTTL)
	}

	// Repositories
	contentRepo := content.NewPostgresRepo(opts.DB)
	jobRepo := job.NewPostgresRepo(opts.DB)
	recorder := job.NewRecorder(jobRepo)

	// Stages
	engine := dedup.NewEngine(dedup.Config{
		ShingleSize:   cfg.DedupShingleSize,
		NumHashes:     cfg.DedupNumHashes,
		Threshold:     cfg.DedupThreshold,
		EarlyExit:     cfg.DedupEarlyExit,
		Window:        cfg.DedupWindow(),
		MaxCandidates: cfg.DedupMaxCandidates,
	})
	collector := pipeline.NewCollector(contentRepo, a.Publisher, guard)
	extractor := pipeline.NewExtractionStage(contentRepo, a.Publisher, opts.OCR, opts.LLM,
		extraction.NewImageLoader(cfg.OCRTimeout), cfg.ExtractionMaxAttempts).WithFailureListener(recorder)
	deduper := pipeline.NewDedupStage(contentRepo, engine, pm)

	backoffPolicy := queue.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax}
	newStage := func(q string, concurrency, attempts int, reg *queue.Registry) *queue.Stage {
		return queue.NewStage(queue.StageConfig{
			Queue:       q,
			Concurrency: concurrency,
			MaxAttempts: attempts,
			Backoff:     backoffPolicy,
		}, reg, queue.WithFailureListener(recorder), queue.WithMetrics(pm))
	}
	a.Stages = []*queue.Stage{
		newStage(config.QueueCollect, cfg.CollectionConcurrency, cfg.CollectionMaxAttempts, collector.Registry()),
		newStage(config.QueueExtract, cfg.ExtractionConcurrency, cfg.ExtractionMaxAttempts, extractor.Registry()),
		newStage(config.QueueDedup, cfg.DedupConcurrency, cfg.DedupMaxAttempts, deduper.Registry()),
	}

	// Housekeeping
	a.Partitions = partition.NewManager(opts.DB, cfg.PartitionAheadMonths, cfg.PartitionRetentionMonths, partition.WithMetrics(pm))
	a.Replayer = pipeline.NewReplayer(contentRepo, a.Publisher, cfg.ReplayGracePeriod, cfg.ReplayBatchSize)
	if err := a.scheduler.Add("partitions", cfg.PartitionSchedule, a.Partitions.Maintain); err != nil {
		return nil, err
	}
	if err := a.scheduler.Add("replay", cfg.ReplaySchedule, func(ctx context.Context) error {
		_, err := a.Replayer.Run(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	// Operator API
	jobHandler := job.NewHandler(job.NewService(jobRepo, a.Publisher))
	statsHandler := stats.NewHandler(contentRepo, jobRepo, backlog)

	mux := http.NewServeMux()
	mux.Handle("GET /jobs/failed", middleware.CorrelationID(http.HandlerFunc(jobHandler.List)))
	mux.Handle("GET /jobs/failed/{id}", middleware.CorrelationID(http.HandlerFunc(jobHandler.Get)))
	mux.Handle("POST /jobs/failed/{id}/retry", middleware.CorrelationID(http.HandlerFunc(jobHandler.Retry)))
	mux.Handle("DELETE /jobs/failed/{id}", middleware.CorrelationID(http.HandlerFunc(jobHandler.Delete)))
	mux.Handle("POST /jobs/failed/cleanup", middleware.CorrelationID(http.HandlerFunc(jobHandler.Cleanup)))
	mux.Handle("GET /stats", middleware.CorrelationID(http.HandlerFunc(statsHandler.GetStats)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := opts.DB.PingContext(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	a.Handler = mux

	return a, nil
}

// Start ensures partitions exist, then starts the stage workers and the scheduler.
func (a *App) Start(ctx context.Context) error {
	if err := a.Partitions.Maintain(ctx); err != nil {
		return fmt.Errorf("startup partition maintenance: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.broker != nil {
		for _, s := range a.Stages {
			a.broker.Run(s)
		}
	} else {
		for _, s := range a.Stages {
			c, err := queue.NewNSQConsumer(workerCtx, s, config.ChannelPipeline, a.cfg.LLMTimeout+a.cfg.OCRTimeout+time.Minute)
			if err != nil {
				a.Stop(ctx)
				return err
			}
			a.consumers = append(a.consumers, c)
			if err := c.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
				a.Stop(ctx)
				return err
			}
		}
	}

	a.scheduler.Start()
	go a.scheduler.Run("replay", func(ctx context.Context) error {
		_, err := a.Replayer.Run(ctx)
		return err
	})
	return nil
}

// Stop stops consumers first so in-flight jobs finish or are requeued, then the scheduler.
func (a *App) Stop(ctx context.Context) {
	for _, c := range a.consumers {
		c.Stop()
	}
	a.consumers = nil
	if a.broker != nil {
		a.broker.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.scheduler.Stop(ctx)
}

// Run starts the pipeline and serves the operator API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.OpsPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", a.cfg.OpsPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	a.Stop(shutdownCtx)
	return serveErr
}
