package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"brewfeed/backend/features/content"
	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/queue"
)

// Replayer re-enqueues items that stalled between a committed write and the follow-up enqueue.
// Replayed extraction jobs carry no attachments; the stored raw content is used as is.
type Replayer struct {
	store content.Repository
	pub   queue.Publisher
	grace time.Duration
	batch int
}

func NewReplayer(store content.Repository, pub queue.Publisher, grace time.Duration, batch int) *Replayer {
	return &Replayer{store: store, pub: pub, grace: grace, batch: batch}
}

// Run enqueues one batch and returns the number of items replayed.
func (r *Replayer) Run(ctx context.Context) (int, error) {
	stalled, err := r.store.ListStalled(ctx, time.Now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, fmt.Errorf("list stalled items: %w", err)
	}

	replayed := 0
	for _, s := range stalled {
		var err error
		switch s.Stage {
		case content.StalledExtraction:
			err = queue.Enqueue(ctx, r.pub, config.QueueExtract, config.KindExtractContent, ExtractPayload{ContentItemID: s.ID})
		case content.StalledDedup:
			err = queue.Enqueue(ctx, r.pub, config.QueueDedup, config.KindCheckDuplicate, DedupPayload{ContentItemID: s.ID})
		default:
			slog.WarnContext(ctx, "unknown stalled stage", "content_item_id", s.ID, "stage", s.Stage)
			continue
		}
		if err != nil {
			return replayed, err
		}
		replayed++
	}

	if replayed > 0 {
		slog.InfoContext(ctx, "replayed stalled content items", "count", replayed)
	}
	return replayed, nil
}
