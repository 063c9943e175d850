package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"brewfeed"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"brewfeed"`

	// QueueDriver selects the job transport: "nsq" or "memory" (single process, not durable).
	QueueDriver string `envconfig:"QUEUE_DRIVER" default:"nsq"`
	NSQLookupd  string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost    string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP    string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// RedisAddr enables the collection idempotency guard when set.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CollectKeyTTL time.Duration `envconfig:"COLLECT_KEY_TTL" default:"24h"`

	GeminiAPIKey     string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel      string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	VisionAPIKey     string        `envconfig:"VISION_API_KEY"`
	LLMTimeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	OCRTimeout       time.Duration `envconfig:"OCR_TIMEOUT" default:"30s"`
	LLMRatePerSecond float64       `envconfig:"LLM_RATE_PER_SECOND" default:"2"`
	LLMBurst         int           `envconfig:"LLM_BURST" default:"4"`

	// Stage worker pools
	CollectionConcurrency int           `envconfig:"COLLECTION_CONCURRENCY" default:"5"`
	CollectionMaxAttempts int           `envconfig:"COLLECTION_MAX_ATTEMPTS" default:"3"`
	ExtractionConcurrency int           `envconfig:"EXTRACTION_CONCURRENCY" default:"10"`
	ExtractionMaxAttempts int           `envconfig:"EXTRACTION_MAX_ATTEMPTS" default:"3"`
	DedupConcurrency      int           `envconfig:"DEDUP_CONCURRENCY" default:"3"`
	DedupMaxAttempts      int           `envconfig:"DEDUP_MAX_ATTEMPTS" default:"2"`
	BackoffBase           time.Duration `envconfig:"BACKOFF_BASE" default:"2s"`
	BackoffMax            time.Duration `envconfig:"BACKOFF_MAX" default:"5m"`
	MemoryQueueCapacity   int           `envconfig:"MEMORY_QUEUE_CAPACITY" default:"300"`

	// Deduplication policy
	DedupShingleSize   int     `envconfig:"DEDUP_SHINGLE_SIZE" default:"3"`
	DedupNumHashes     int     `envconfig:"DEDUP_NUM_HASHES" default:"128"`
	DedupThreshold     float64 `envconfig:"DEDUP_THRESHOLD" default:"0.75"`
	DedupEarlyExit     float64 `envconfig:"DEDUP_EARLY_EXIT" default:"0.90"`
	DedupWindowDays    int     `envconfig:"DEDUP_WINDOW_DAYS" default:"3"`
	DedupMaxCandidates int     `envconfig:"DEDUP_MAX_CANDIDATES" default:"50"`

	// Partition housekeeping
	PartitionRetentionMonths int    `envconfig:"PARTITION_RETENTION_MONTHS" default:"12"`
	PartitionAheadMonths     int    `envconfig:"PARTITION_AHEAD_MONTHS" default:"2"`
	PartitionSchedule        string `envconfig:"PARTITION_SCHEDULE" default:"0 3 1 * *"`

	// Stalled item replay
	ReplaySchedule    string        `envconfig:"REPLAY_SCHEDULE" default:"15 * * * *"`
	ReplayGracePeriod time.Duration `envconfig:"REPLAY_GRACE_PERIOD" default:"1h"`
	ReplayBatchSize   int           `envconfig:"REPLAY_BATCH_SIZE" default:"200"`

	// Server
	OpsPort       int    `envconfig:"OPS_PORT" default:"8081"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.QueueDriver != "nsq" && c.QueueDriver != "memory" {
		return fmt.Errorf("%w: QUEUE_DRIVER must be nsq or memory, got %q", ErrInvalid, c.QueueDriver)
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("%w: DEDUP_THRESHOLD must be in (0,1]", ErrInvalid)
	}
	if c.DedupEarlyExit < c.DedupThreshold || c.DedupEarlyExit > 1 {
		return fmt.Errorf("%w: DEDUP_EARLY_EXIT must be in [DEDUP_THRESHOLD,1]", ErrInvalid)
	}
	if c.DedupShingleSize < 1 || c.DedupNumHashes < 1 {
		return fmt.Errorf("%w: DEDUP_SHINGLE_SIZE and DEDUP_NUM_HASHES must be positive", ErrInvalid)
	}
	if c.PartitionRetentionMonths < 1 {
		return fmt.Errorf("%w: PARTITION_RETENTION_MONTHS", ErrInvalid)
	}
	return nil
}

// DedupWindow is the publication-date half-width used for candidate selection.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowDays) * 24 * time.Hour
}
