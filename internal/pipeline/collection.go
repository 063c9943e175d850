package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"brewfeed/backend/features/content"
	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/idempotency"
	"brewfeed/backend/internal/queue"
)

// itemNamespace derives content item ids from collection job ids, so a retried job finds the
// item its earlier attempt wrote.
var itemNamespace = uuid.MustParse("6f1f4e3e-5d0b-4c59-9a52-7f3c2b8e1d40")

// Collector persists raw items and hands them to extraction.
type Collector struct {
	store content.Repository
	pub   queue.Publisher
	guard idempotency.Guard
}

func NewCollector(store content.Repository, pub queue.Publisher, guard idempotency.Guard) *Collector {
	if guard == nil {
		guard = idempotency.Noop{}
	}
	return &Collector{store: store, pub: pub, guard: guard}
}

// Registry binds every collection job kind to the collector.
func (c *Collector) Registry() *queue.Registry {
	r := queue.NewRegistry()
	for kind := range sourceForKind {
		r.Register(kind, c.Handle)
	}
	return r
}

func (c *Collector) Handle(ctx context.Context, job queue.Job) error {
	var raw RawItem
	if err := job.Decode(&raw); err != nil {
		return err
	}

	source := sourceForKind[job.Kind]
	if raw.SourceType == "" {
		raw.SourceType = source
	}
	if raw.SourceType != source {
		return queue.Permanent(fmt.Errorf("job kind %s carries source type %q", job.Kind, raw.SourceType))
	}
	if err := validate.Struct(raw); err != nil {
		return queue.Permanent(fmt.Errorf("invalid raw item: %w", err))
	}

	seen, err := c.guard.Seen(ctx, job.ID)
	if err != nil {
		slog.WarnContext(ctx, "idempotency guard unavailable, continuing", "error", err)
	} else if seen {
		slog.InfoContext(ctx, "collection job already processed, skipping")
		return nil
	}

	id := uuid.NewSHA1(itemNamespace, []byte(job.ID)).String()
	if _, err := c.store.Get(ctx, id); err != nil {
		if !errors.Is(err, content.ErrNotFound) {
			return fmt.Errorf("lookup content item: %w", err)
		}
		item := &content.Item{
			ID:              id,
			BreweryID:       raw.BreweryID,
			SourceType:      raw.SourceType,
			SourceURL:       raw.SourceURL,
			RawContent:      raw.RawHTMLOrText,
			PublicationDate: raw.PublicationDate.UTC(),
			CreatedAt:       job.EnqueuedAt.UTC().Truncate(time.Microsecond),
		}
		switch err := c.store.Create(ctx, item); {
		case errors.Is(err, content.ErrAlreadyExists):
			slog.InfoContext(ctx, "content item stored by a concurrent delivery", "content_item_id", id)
		case err != nil:
			return fmt.Errorf("create content item: %w", err)
		default:
			slog.InfoContext(ctx, "content item collected", "content_item_id", id, "brewery_id", raw.BreweryID, "source_type", raw.SourceType)
		}
	} else {
		slog.InfoContext(ctx, "content item already stored, re-enqueueing extraction", "content_item_id", id)
	}

	payload := ExtractPayload{ContentItemID: id, Attachments: raw.Attachments, Metadata: raw.Metadata}
	if err := queue.Enqueue(ctx, c.pub, config.QueueExtract, config.KindExtractContent, payload); err != nil {
		return err
	}

	if _, err := c.guard.Claim(ctx, job.ID); err != nil {
		slog.WarnContext(ctx, "failed to claim collection job", "error", err)
	}
	return nil
}
