package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"brewfeed/backend/features/content"
	"brewfeed/backend/internal/extraction"
	"brewfeed/backend/internal/queue"
)

// memStore is an in-memory content.Repository with the same candidate and duplicate rules as Postgres.
type memStore struct {
	mu        sync.Mutex
	items     map[string]*content.Item
	breweries map[string]string
	creates   int
}

var _ content.Repository = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*content.Item), breweries: make(map[string]string)}
}

func cloneItem(it *content.Item) *content.Item {
	out := *it
	if it.ExtractedData != nil {
		d := *it.ExtractedData
		out.ExtractedData = &d
	}
	return &out
}

func (s *memStore) Create(_ context.Context, item *content.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if _, exists := s.items[item.ID]; exists {
		return content.ErrAlreadyExists
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.items[item.ID] = cloneItem(item)
	s.creates++
	return nil
}

// put stores item as is, bypassing Create bookkeeping.
func (s *memStore) put(item *content.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = cloneItem(item)
}

func (s *memStore) Get(_ context.Context, id string) (*content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, content.ErrNotFound
	}
	return cloneItem(it), nil
}

func (s *memStore) UpdateExtraction(_ context.Context, id, rawContent string, data *content.ExtractedData, confidence *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return content.ErrNotFound
	}
	d := *data
	if it.ExtractedData != nil {
		d.DuplicateDetection = it.ExtractedData.DuplicateDetection
	}
	it.RawContent = rawContent
	it.ExtractedData = &d
	it.ConfidenceScore = confidence
	it.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) FindCandidates(_ context.Context, q content.CandidateQuery) ([]content.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to := q.PublicationDate.Add(-q.Window), q.PublicationDate.Add(q.Window)
	var out []content.Item
	for _, it := range s.items {
		if it.BreweryID != q.BreweryID || it.IsDuplicate || it.ID == q.ExcludeID {
			continue
		}
		if it.PublicationDate.Before(from) || it.PublicationDate.After(to) {
			continue
		}
		out = append(out, *cloneItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicationDate.After(out[j].PublicationDate) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) MarkDuplicate(_ context.Context, id, duplicateOfID string, detection content.DuplicateDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == duplicateOfID {
		return content.ErrStaleCandidate
	}
	self, ok := s.items[id]
	if !ok {
		return content.ErrNotFound
	}
	if self.IsDuplicate {
		return nil
	}
	target, ok := s.items[duplicateOfID]
	if !ok || target.IsDuplicate {
		return content.ErrStaleCandidate
	}
	self.IsDuplicate = true
	self.DuplicateOfID = duplicateOfID
	if self.ExtractedData == nil {
		self.ExtractedData = &content.ExtractedData{}
	}
	self.ExtractedData.DuplicateDetection = &detection
	self.UpdatedAt = time.Now().UTC()
	for _, it := range s.items {
		if it.DuplicateOfID == id {
			it.DuplicateOfID = duplicateOfID
		}
	}
	return nil
}

func (s *memStore) RecordDedupCheck(_ context.Context, id string, detection content.DuplicateDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.IsDuplicate {
		return nil
	}
	if it.ExtractedData == nil {
		it.ExtractedData = &content.ExtractedData{}
	}
	it.ExtractedData.DuplicateDetection = &detection
	it.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) ListStalled(_ context.Context, olderThan time.Time, limit int) ([]content.Stalled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []content.Stalled
	for _, it := range s.items {
		if !it.UpdatedAt.Before(olderThan) {
			continue
		}
		switch {
		case !it.Extracted():
			out = append(out, content.Stalled{ID: it.ID, Stage: content.StalledExtraction})
		case !it.DedupChecked():
			out = append(out, content.Stalled{ID: it.ID, Stage: content.StalledDedup})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Stats(context.Context) (content.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st content.Stats
	for _, it := range s.items {
		st.Total++
		if it.IsDuplicate {
			st.Duplicates++
		}
	}
	return st, nil
}

func (s *memStore) BreweryName(_ context.Context, breweryID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breweries[breweryID], nil
}

func (s *memStore) all() []*content.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*content.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, cloneItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicationDate.Before(out[j].PublicationDate) })
	return out
}

// echoLLM answers every request with the request content as the summary.
type echoLLM struct {
	mu       sync.Mutex
	requests []extraction.Request
	err      error
}

func (l *echoLLM) Extract(_ context.Context, req extraction.Request) (extraction.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.err != nil {
		return extraction.Result{}, l.err
	}
	return extraction.Result{
		Success: true,
		Model:   "fake",
		Data:    &extraction.Data{ContentType: "update", Confidence: 0.9, Summary: req.Content},
	}, nil
}

func (l *echoLLM) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

type fakeOCR struct {
	results []extraction.OCRResult
	err     error
	got     [][]byte
}

func (o *fakeOCR) ExtractText(_ context.Context, images [][]byte) ([]extraction.OCRResult, error) {
	o.got = images
	return o.results, o.err
}

type fakeLoader struct {
	fail map[string]error
}

func (l fakeLoader) Load(_ context.Context, a extraction.Attachment) ([]byte, error) {
	if err := l.fail[a.Filename]; err != nil {
		return nil, err
	}
	return []byte(a.Filename), nil
}

type published struct {
	Queue string
	Job   queue.Job
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, q string, job queue.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, published{Queue: q, Job: job})
	return nil
}

type recordingListener struct {
	mu     sync.Mutex
	events []queue.FailureEvent
}

func (l *recordingListener) OnFailure(_ context.Context, ev queue.FailureEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) finals() []queue.FailureEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []queue.FailureEvent
	for _, ev := range l.events {
		if ev.Final {
			out = append(out, ev)
		}
	}
	return out
}
