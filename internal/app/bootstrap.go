package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"

	"brewfeed/backend/internal/adapter/gemini"
	"brewfeed/backend/internal/adapter/vision"
	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/extraction"
	"brewfeed/backend/internal/idempotency"
)

type Dependencies struct {
	DB *sql.DB
	// NSQProducer is nil when the memory queue driver is selected.
	NSQProducer *nsq.Producer
	// Redis is nil when REDIS_ADDR is unset.
	Redis *redis.Client
	LLM   extraction.Extractor
	// OCR is nil when VISION_API_KEY is unset; image attachments are then skipped.
	OCR extraction.OCR
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := PingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, time.Duration(cfg.BootstrapRetryDelaySeconds)*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")

	deps := &Dependencies{DB: db}

	// Queue transport
	if cfg.QueueDriver == "nsq" {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		producer.SetLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn), nsq.LogLevelWarning)
		deps.NSQProducer = producer
		CreateTopics(ctx, cfg.NSQDHTTP, config.Queues())
	}

	// Idempotency keys
	if cfg.RedisAddr != "" {
		client, err := idempotency.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("redis error: %w", err)
		}
		deps.Redis = client
	} else {
		slog.Warn("REDIS_ADDR not set, collection idempotency relies on deduplication")
	}

	// Providers
	llm, err := gemini.NewExtractor(ctx, cfg.GeminiAPIKey, cfg.GeminiModel,
		gemini.WithTimeout(cfg.LLMTimeout),
		gemini.WithRateLimit(cfg.LLMRatePerSecond, cfg.LLMBurst))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("gemini error: %w", err)
	}
	deps.LLM = llm

	if cfg.VisionAPIKey != "" {
		ocr, err := vision.NewOCR(ctx, cfg.VisionAPIKey, cfg.OCRTimeout)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("vision error: %w", err)
		}
		deps.OCR = ocr
	} else {
		slog.Warn("VISION_API_KEY not set, image attachments will not be read")
	}

	return deps, nil
}

// Close releases every client that was opened.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if c, ok := d.LLM.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close gemini client", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// PingWithRetry pings db up to attempts times, delay apart.
func PingWithRetry(ctx context.Context, db *sql.DB, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	try := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		try++
		if err := db.PingContext(ctx); err != nil {
			slog.Warn("failed to ping db, retrying...", "attempt", try, "max_attempts", attempts, "error", err)
			return err
		}
		return nil
	}, policy)
}

// CreateTopics pre-creates the queue topics so consumers querying lookupd do not 404 before the
// first publish. Failures are logged; nsqd also creates topics lazily.
func CreateTopics(ctx context.Context, nsqdHTTP string, topics []string) {
	client := &http.Client{Timeout: 5 * time.Second}
	for _, topic := range topics {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			slog.Warn("failed to build NSQ topic request", "topic", topic, "error", err)
			continue
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			continue
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
		if resp.StatusCode != http.StatusOK {
			slog.Warn("unexpected NSQ topic creation status", "topic", topic, "status", resp.StatusCode)
			continue
		}
		slog.Info("nsq topic ensured", "topic", topic)
	}
}
