package content

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("content item not found")
	ErrAlreadyExists = errors.New("content item already exists")
	// ErrStaleCandidate means the chosen canonical item was itself marked duplicate after
	// candidate selection. Re-running the check against a fresh candidate set resolves it.
	ErrStaleCandidate = errors.New("duplicate target is no longer canonical")
)

type SourceType string

const (
	SourceEmail     SourceType = "email"
	SourceInstagram SourceType = "instagram"
	SourceFacebook  SourceType = "facebook"
	SourceRSS       SourceType = "rss"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceEmail, SourceInstagram, SourceFacebook, SourceRSS:
		return true
	}
	return false
}

// Item is one observed piece of brewery content.
type Item struct {
	ID              string         `json:"id"`
	BreweryID       string         `json:"brewery_id"`
	SourceType      SourceType     `json:"source_type"`
	SourceURL       string         `json:"source_url,omitempty"`
	RawContent      string         `json:"raw_content"`
	ExtractedData   *ExtractedData `json:"extracted_data,omitempty"`
	PublicationDate time.Time      `json:"publication_date"`
	IsDuplicate     bool           `json:"is_duplicate"`
	DuplicateOfID   string         `json:"duplicate_of_id,omitempty"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// DedupText is the text compared for duplicate detection: the LLM summary when one exists,
// otherwise the raw content.
func (i *Item) DedupText() string {
	if i.ExtractedData != nil && i.ExtractedData.LLMExtraction != nil {
		if s := strings.TrimSpace(i.ExtractedData.LLMExtraction.Summary); s != "" {
			return s
		}
	}
	return i.RawContent
}

// Extracted reports whether the extraction stage has recorded an outcome, successful or not.
func (i *Item) Extracted() bool {
	return i.ExtractedData != nil && i.ExtractedData.LLMExtraction != nil
}

// DedupChecked reports whether the deduplication engine has decided on this item.
func (i *Item) DedupChecked() bool {
	return i.IsDuplicate || (i.ExtractedData != nil && i.ExtractedData.DuplicateDetection != nil)
}

// ExtractedData is the source-agnostic structured bag produced by extraction.
type ExtractedData struct {
	HasOCR             bool                `json:"hasOCR"`
	OCRResults         []OCRSummary        `json:"ocrResults,omitempty"`
	LLMExtraction      *LLMExtraction      `json:"llmExtraction,omitempty"`
	DuplicateDetection *DuplicateDetection `json:"duplicateDetection,omitempty"`
}

type OCRSummary struct {
	Index      int     `json:"index"`
	Filename   string  `json:"filename,omitempty"`
	Confidence float64 `json:"confidence"`
	WordCount  int     `json:"wordCount"`
	TextLength int     `json:"textLength"`
	Error      string  `json:"error,omitempty"`
}

// LLMExtraction holds either a successful structured result or {success:false, error}.
type LLMExtraction struct {
	Success      bool          `json:"success"`
	ContentType  string        `json:"contentType,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
	BeerReleases []BeerRelease `json:"beerReleases,omitempty"`
	Events       []Event       `json:"events,omitempty"`
	Updates      []Update      `json:"updates,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	CallToAction string        `json:"callToAction,omitempty"`
	Error        string        `json:"error,omitempty"`
	Model        string        `json:"model,omitempty"`
	ExtractedAt  time.Time     `json:"extractedAt"`
}

type BeerRelease struct {
	Name         string   `json:"name" validate:"required"`
	Style        string   `json:"style,omitempty"`
	ABV          *float64 `json:"abv,omitempty" validate:"omitempty,gte=0,lte=100"`
	Description  string   `json:"description,omitempty"`
	Availability string   `json:"availability,omitempty"`
	ReleaseDate  string   `json:"releaseDate,omitempty"`
	Price        string   `json:"price,omitempty"`
}

type Event struct {
	Title       string `json:"title" validate:"required"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

type Update struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
}

type DuplicateDetection struct {
	CheckedAt     time.Time `json:"checkedAt"`
	IsDuplicate   bool      `json:"isDuplicate"`
	DuplicateOfID string    `json:"duplicateOfId,omitempty"`
	Similarity    float64   `json:"similarity"`
	MinHashScore  float64   `json:"minHashScore"`
	CosineScore   *float64  `json:"cosineScore,omitempty"`
	Candidates    int       `json:"candidates"`
	Method        string    `json:"method"`
}

// CandidateQuery selects canonical items from one brewery published near a reference date.
type CandidateQuery struct {
	BreweryID       string
	PublicationDate time.Time
	ExcludeID       string
	Window          time.Duration
	Limit           int
}

// Stalled is an item that has waited too long for a pipeline stage.
type Stalled struct {
	ID    string
	Stage string
}

const (
	StalledExtraction = "extraction"
	StalledDedup      = "dedup"
)

type Stats struct {
	Total              int `json:"total"`
	Duplicates         int `json:"duplicates"`
	AwaitingExtraction int `json:"awaiting_extraction"`
	AwaitingDedup      int `json:"awaiting_dedup"`
	FailedExtractions  int `json:"failed_extractions"`
}
