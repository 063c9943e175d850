package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"brewfeed/backend/features/content"
	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/extraction"
	"brewfeed/backend/internal/middleware"
	"brewfeed/backend/internal/queue"
)

// ImageLoader resolves attachment bytes.
type ImageLoader interface {
	Load(ctx context.Context, a extraction.Attachment) ([]byte, error)
}

// ExtractionStage runs OCR and LLM extraction for a stored item and always hands it to deduplication.
type ExtractionStage struct {
	store       content.Repository
	pub         queue.Publisher
	ocr         extraction.OCR
	llm         extraction.Extractor
	loader      ImageLoader
	maxAttempts int
	outages     queue.FailureListener
}

// NewExtractionStage wires the stage. ocr may be nil, in which case images are skipped.
// maxAttempts is the queue's attempt cap: a provider outage on the last attempt is stored as a
// failed extraction instead of dead-lettering the item before deduplication.
func NewExtractionStage(store content.Repository, pub queue.Publisher, ocr extraction.OCR, llm extraction.Extractor, loader ImageLoader, maxAttempts int) *ExtractionStage {
	return &ExtractionStage{store: store, pub: pub, ocr: ocr, llm: llm, loader: loader, maxAttempts: maxAttempts}
}

// WithFailureListener reports provider outages absorbed on the last attempt as final failures,
// so they reach the dead-letter store although the item moves on to deduplication.
func (s *ExtractionStage) WithFailureListener(l queue.FailureListener) *ExtractionStage {
	s.outages = l
	return s
}

func (s *ExtractionStage) Registry() *queue.Registry {
	return queue.NewRegistry().
		Register(config.KindExtractContent, s.Handle).
		Register(config.KindExtractEmail, s.Handle)
}

func (s *ExtractionStage) Handle(ctx context.Context, job queue.Job) error {
	var p ExtractPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if err := validate.Struct(p); err != nil {
		return queue.Permanent(fmt.Errorf("invalid extraction payload: %w", err))
	}

	item, err := s.store.Get(ctx, p.ContentItemID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("load content item: %w", err)
	}

	rawContent, hasOCR, ocrSummaries := s.enrich(ctx, item, p.Attachments)

	breweryName, err := s.store.BreweryName(ctx, item.BreweryID)
	if err != nil {
		slog.WarnContext(ctx, "brewery name lookup failed", "brewery_id", item.BreweryID, "error", err)
	}

	res, err := s.llm.Extract(ctx, extraction.Request{
		Content:     rawContent,
		BreweryName: breweryName,
		SourceType:  item.SourceType,
		Metadata:    p.Metadata,
	})
	if err != nil {
		if !s.lastAttempt(ctx) {
			return fmt.Errorf("extract content item %s: %w", item.ID, err)
		}
		slog.WarnContext(ctx, "extraction provider failed on last attempt, storing failed extraction", "error", err)
		s.reportOutage(ctx, job, err)
		res = extraction.Failed(err)
	}

	llm := res.ToContent()
	llm.ExtractedAt = time.Now().UTC()
	data := &content.ExtractedData{
		HasOCR:        hasOCR,
		OCRResults:    ocrSummaries,
		LLMExtraction: llm,
	}
	var confidence *float64
	if res.Success && res.Data != nil {
		c := res.Data.Confidence
		confidence = &c
	}

	if err := s.store.UpdateExtraction(ctx, item.ID, rawContent, data, confidence); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("store extraction: %w", err)
	}
	slog.InfoContext(ctx, "content item extracted", "content_item_id", item.ID, "success", res.Success, "has_ocr", hasOCR)

	return queue.Enqueue(ctx, s.pub, config.QueueDedup, config.KindCheckDuplicate, DedupPayload{ContentItemID: item.ID})
}

// enrich returns the content to extract from. An item whose stored content already carries
// recognized image text from an earlier run is used as is, so re-runs never enrich twice.
func (s *ExtractionStage) enrich(ctx context.Context, item *content.Item, attachments []extraction.Attachment) (string, bool, []content.OCRSummary) {
	if item.Extracted() && item.ExtractedData.HasOCR {
		slog.InfoContext(ctx, "reusing stored image text", "content_item_id", item.ID)
		return item.RawContent, true, item.ExtractedData.OCRResults
	}

	images, ocrResults := s.runOCR(ctx, attachments)
	texts := make([]extraction.ImageText, len(images))
	hasOCR := false
	for i, img := range images {
		texts[i] = extraction.ImageText{Filename: img.Filename, Text: ocrResults[i].Text}
		if strings.TrimSpace(ocrResults[i].Text) != "" {
			hasOCR = true
		}
	}
	rawContent := item.RawContent
	if hasOCR {
		rawContent = extraction.Enrich(item.RawContent, texts)
	}
	return rawContent, hasOCR, extraction.Summaries(images, ocrResults)
}

// runOCR returns the image attachments and one result per image. Failures degrade to empty text.
func (s *ExtractionStage) runOCR(ctx context.Context, attachments []extraction.Attachment) ([]extraction.Attachment, []extraction.OCRResult) {
	var images []extraction.Attachment
	for _, a := range attachments {
		if a.IsImage() {
			images = append(images, a)
		}
	}
	if len(images) == 0 {
		return nil, nil
	}

	results := make([]extraction.OCRResult, len(images))
	if s.ocr == nil || s.loader == nil {
		for i := range results {
			results[i].Err = fmt.Errorf("%w: ocr not configured", extraction.ErrOCR)
		}
		return images, results
	}

	var (
		batch   [][]byte
		indexes []int
	)
	for i, img := range images {
		b, err := s.loader.Load(ctx, img)
		if err != nil {
			slog.WarnContext(ctx, "image could not be loaded", "filename", img.Filename, "error", err)
			results[i].Err = err
			continue
		}
		batch = append(batch, b)
		indexes = append(indexes, i)
	}
	if len(batch) == 0 {
		return images, results
	}

	recognized, err := s.ocr.ExtractText(ctx, batch)
	if err != nil {
		slog.WarnContext(ctx, "ocr failed, continuing without image text", "error", err)
		for _, i := range indexes {
			results[i].Err = fmt.Errorf("%w: %v", extraction.ErrOCR, err)
		}
		return images, results
	}
	for j, i := range indexes {
		if j < len(recognized) {
			results[i] = recognized[j]
		}
	}
	return images, results
}

func (s *ExtractionStage) reportOutage(ctx context.Context, job queue.Job, err error) {
	if s.outages == nil {
		return
	}
	body, mErr := json.Marshal(job)
	if mErr != nil {
		body = job.Payload
	}
	info, _ := middleware.GetJob(ctx)
	q := info.Queue
	if q == "" {
		q = config.QueueExtract
	}
	s.outages.OnFailure(ctx, queue.FailureEvent{
		Queue:       q,
		Job:         job,
		Body:        body,
		Err:         err,
		Attempt:     info.Attempt,
		MaxAttempts: s.maxAttempts,
		Final:       true,
	})
}

func (s *ExtractionStage) lastAttempt(ctx context.Context) bool {
	info, ok := middleware.GetJob(ctx)
	return ok && s.maxAttempts > 0 && info.Attempt >= s.maxAttempts
}
