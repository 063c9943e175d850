package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrBrokerStopped = errors.New("memory broker stopped")

// MemoryBroker is an in-process transport: one bounded channel per queue and a pool of
// worker goroutines per stage. Jobs do not survive a restart.
type MemoryBroker struct {
	capacity int

	mu     sync.Mutex
	queues map[string]chan *memoryDelivery

	pending atomic.Int64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMemoryBroker(capacity int) *MemoryBroker {
	if capacity < 1 {
		capacity = 300
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryBroker{
		capacity: capacity,
		queues:   make(map[string]chan *memoryDelivery),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *MemoryBroker) queue(name string) chan *memoryDelivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan *memoryDelivery, b.capacity)
		b.queues[name] = q
	}
	return q
}

// Publish blocks while the queue is full, until ctx is done or the broker stops.
func (b *MemoryBroker) Publish(ctx context.Context, queue string, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	d := &memoryDelivery{broker: b, queue: queue, body: body, attempts: 1}
	b.pending.Add(1)
	if err := b.send(ctx, d); err != nil {
		b.pending.Add(-1)
		return err
	}
	return nil
}

func (b *MemoryBroker) send(ctx context.Context, d *memoryDelivery) error {
	if b.ctx.Err() != nil {
		return ErrBrokerStopped
	}
	select {
	case b.queue(d.queue) <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrBrokerStopped
	}
}

// Run starts the stage's workers. They exit when the broker stops.
func (b *MemoryBroker) Run(stage *Stage) {
	q := b.queue(stage.cfg.Queue)
	for i := 0; i < stage.cfg.Concurrency; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-b.ctx.Done():
					return
				case d := <-q:
					stage.Process(b.ctx, d)
				}
			}
		}()
	}
	slog.Info("memory queue workers started", "queue", stage.cfg.Queue, "concurrency", stage.cfg.Concurrency)
}

// Pending reports jobs published or requeued but not yet finished.
func (b *MemoryBroker) Pending() int64 {
	return b.pending.Load()
}

// WaitIdle blocks until every published job has been finished.
func (b *MemoryBroker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d pending jobs: %w", b.pending.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *MemoryBroker) Stop() {
	b.cancel()
	b.wg.Wait()
}

type memoryDelivery struct {
	broker   *MemoryBroker
	queue    string
	body     []byte
	attempts int
}

func (d *memoryDelivery) Body() []byte  { return d.body }
func (d *memoryDelivery) Attempts() int { return d.attempts }

func (d *memoryDelivery) Finish() {
	d.broker.pending.Add(-1)
}

func (d *memoryDelivery) Requeue(delay time.Duration) {
	next := &memoryDelivery{broker: d.broker, queue: d.queue, body: d.body, attempts: d.attempts + 1}
	time.AfterFunc(delay, func() {
		if err := d.broker.send(d.broker.ctx, next); err != nil {
			d.broker.pending.Add(-1)
			slog.Warn("dropping requeued job", "queue", d.queue, "error", err)
		}
	})
}
