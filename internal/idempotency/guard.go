package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// Guard remembers which collection jobs already produced a content item.
type Guard interface {
	Seen(ctx context.Context, jobID string) (bool, error)
	// Claim records jobID. It reports false when the id was already claimed.
	Claim(ctx context.Context, jobID string) (bool, error)
}

type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// NewClient connects to Redis and verifies the connection.
func NewClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func key(jobID string) string {
	return "collect:" + jobID
}

func (g *RedisGuard) Seen(ctx context.Context, jobID string) (bool, error) {
	n, err := g.client.Exists(ctx, key(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check collect key: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) Claim(ctx context.Context, jobID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, key(jobID), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim collect key: %w", err)
	}
	return ok, nil
}

// Noop is used when no Redis is configured; re-runs are then caught by deduplication.
type Noop struct{}

func (Noop) Seen(context.Context, string) (bool, error)  { return false, nil }
func (Noop) Claim(context.Context, string) (bool, error) { return true, nil }
