package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nsqio/go-nsq"
)

// Producer is the subset of *nsq.Producer used for publishing.
type Producer interface {
	Publish(topic string, body []byte) error
}

// NSQPublisher publishes job envelopes to NSQ topics named after the queues.
type NSQPublisher struct {
	producer   Producer
	maxRetries uint64
	initial    time.Duration
}

func NewNSQPublisher(p Producer) *NSQPublisher {
	return &NSQPublisher{producer: p, maxRetries: 3, initial: 200 * time.Millisecond}
}

func (p *NSQPublisher) Publish(ctx context.Context, queue string, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initial
	eb.MaxElapsedTime = 10 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, p.maxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if err := p.producer.Publish(queue, body); err != nil {
			slog.WarnContext(ctx, "nsq publish failed", "topic", queue, "kind", job.Kind, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, policy)
}

type nsqDelivery struct {
	m *nsq.Message
}

func (d nsqDelivery) Body() []byte                { return d.m.Body }
func (d nsqDelivery) Attempts() int               { return int(d.m.Attempts) }
func (d nsqDelivery) Finish()                     { d.m.Finish() }
func (d nsqDelivery) Requeue(delay time.Duration) { d.m.RequeueWithoutBackoff(delay) }

// NSQConsumer binds a Stage to an NSQ topic/channel with the stage's concurrency ceiling.
type NSQConsumer struct {
	consumer *nsq.Consumer
	stage    *Stage
}

func NewNSQConsumer(ctx context.Context, stage *Stage, channel string, msgTimeout time.Duration) (*NSQConsumer, error) {
	cfg := nsq.NewConfig()
	cfg.MaxInFlight = stage.cfg.Concurrency
	// Attempt accounting and dead-lettering are owned by the Stage.
	cfg.MaxAttempts = 0
	if msgTimeout > 0 {
		cfg.MsgTimeout = msgTimeout
	}

	c, err := nsq.NewConsumer(stage.cfg.Queue, channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("create nsq consumer for %s: %w", stage.cfg.Queue, err)
	}
	c.SetLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn), nsq.LogLevelWarning)

	c.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse()
		stage.Process(ctx, nsqDelivery{m: m})
		return nil
	}), stage.cfg.Concurrency)

	return &NSQConsumer{consumer: c, stage: stage}, nil
}

func (c *NSQConsumer) ConnectToNSQLookupd(addr string) error {
	if err := c.consumer.ConnectToNSQLookupd(addr); err != nil {
		return fmt.Errorf("connect %s consumer to lookupd: %w", c.stage.cfg.Queue, err)
	}
	slog.Info("nsq consumer connected", "topic", c.stage.cfg.Queue, "concurrency", c.stage.cfg.Concurrency)
	return nil
}

// Stop drains in-flight messages and blocks until the consumer has shut down.
func (c *NSQConsumer) Stop() {
	c.consumer.Stop()
	<-c.consumer.StopChan
}
