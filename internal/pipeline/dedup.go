package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brewfeed/backend/features/content"
	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/dedup"
	"brewfeed/backend/internal/metrics"
	"brewfeed/backend/internal/queue"
)

// DedupStage decides whether an extracted item restates an existing canonical item.
type DedupStage struct {
	store   content.Repository
	engine  *dedup.Engine
	metrics *metrics.Pipeline
}

func NewDedupStage(store content.Repository, engine *dedup.Engine, m *metrics.Pipeline) *DedupStage {
	return &DedupStage{store: store, engine: engine, metrics: m}
}

func (s *DedupStage) Registry() *queue.Registry {
	return queue.NewRegistry().Register(config.KindCheckDuplicate, s.Handle)
}

func (s *DedupStage) Handle(ctx context.Context, job queue.Job) error {
	var p DedupPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if err := validate.Struct(p); err != nil {
		return queue.Permanent(fmt.Errorf("invalid dedup payload: %w", err))
	}

	item, err := s.store.Get(ctx, p.ContentItemID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("load content item: %w", err)
	}
	if item.IsDuplicate {
		slog.InfoContext(ctx, "content item already marked duplicate", "content_item_id", item.ID, "duplicate_of_id", item.DuplicateOfID)
		return nil
	}

	cfg := s.engine.Config()
	found, err := s.store.FindCandidates(ctx, content.CandidateQuery{
		BreweryID:       item.BreweryID,
		PublicationDate: item.PublicationDate,
		ExcludeID:       item.ID,
		Window:          cfg.Window,
		Limit:           cfg.MaxCandidates,
	})
	if err != nil {
		return fmt.Errorf("find candidates: %w", err)
	}

	candidates := make([]dedup.Candidate, len(found))
	for i := range found {
		candidates[i] = dedup.Candidate{ID: found[i].ID, Text: found[i].DedupText()}
	}
	decision := s.engine.Evaluate(item.DedupText(), candidates)

	detection := content.DuplicateDetection{
		CheckedAt:     time.Now().UTC(),
		IsDuplicate:   decision.Duplicate,
		DuplicateOfID: decision.DuplicateOfID,
		Similarity:    decision.Similarity,
		MinHashScore:  decision.MinHashScore,
		CosineScore:   decision.CosineScore,
		Candidates:    decision.Candidates,
		Method:        decision.Method,
	}

	if !decision.Duplicate {
		if err := s.store.RecordDedupCheck(ctx, item.ID, detection); err != nil {
			return fmt.Errorf("record dedup check: %w", err)
		}
		s.metrics.DedupDecision("unique")
		slog.InfoContext(ctx, "content item is unique", "content_item_id", item.ID, "max_similarity", decision.Similarity, "candidates", decision.Candidates)
		return nil
	}

	if err := s.store.MarkDuplicate(ctx, item.ID, decision.DuplicateOfID, detection); err != nil {
		if errors.Is(err, content.ErrStaleCandidate) {
			s.metrics.DedupDecision("stale_candidate")
		}
		return fmt.Errorf("mark duplicate: %w", err)
	}
	s.metrics.DedupDecision("duplicate")
	slog.InfoContext(ctx, "content item marked duplicate", "content_item_id", item.ID, "duplicate_of_id", decision.DuplicateOfID, "similarity", decision.Similarity, "method", decision.Method)
	return nil
}
