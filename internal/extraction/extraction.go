package extraction

import (
	"context"
	"errors"

	"brewfeed/backend/features/content"
)

var (
	// ErrProviderUnavailable covers timeouts, rate limits and 5xx responses. The stage retries it.
	ErrProviderUnavailable = errors.New("extraction provider unavailable")
	// ErrSchemaValidation means the provider answered with output that does not fit the schema.
	// It is persisted as a failed extraction and the item moves on.
	ErrSchemaValidation = errors.New("extraction schema validation failed")
	// ErrOCR marks a single image that could not be read. It never fails a job.
	ErrOCR = errors.New("ocr failed")
)

// OCRResult is the recognized text of one image.
type OCRResult struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Words      []string `json:"words,omitempty"`
	Err        error    `json:"-"`
}

// OCR recognizes text in images. Results are positional and a per-image failure is reported in
// OCRResult.Err. The returned error is reserved for failures of the whole batch.
type OCR interface {
	ExtractText(ctx context.Context, images [][]byte) ([]OCRResult, error)
}

type Metadata struct {
	Subject string `json:"subject,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Date    string `json:"date,omitempty"`
}

type Request struct {
	Content     string
	BreweryName string
	SourceType  content.SourceType
	Metadata    Metadata
}

// Data is the fixed schema requested from the LLM.
type Data struct {
	ContentType  string                `json:"contentType" validate:"required,oneof=release event update"`
	Confidence   float64               `json:"confidence" validate:"gte=0,lte=1"`
	BeerReleases []content.BeerRelease `json:"beerReleases,omitempty" validate:"dive"`
	Events       []content.Event       `json:"events,omitempty" validate:"dive"`
	Updates      []content.Update      `json:"updates,omitempty" validate:"dive"`
	Summary      string                `json:"summary" validate:"required"`
	Tags         []string              `json:"tags,omitempty" validate:"dive,required"`
	CallToAction string                `json:"callToAction,omitempty"`
}

// Result is {success, data} or {success:false, error}.
type Result struct {
	Success bool
	Data    *Data
	Error   string
	Model   string
}

// Failed builds an unsuccessful result from err.
func Failed(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Extractor calls the structured-extraction provider. A returned error wrapping
// ErrProviderUnavailable asks the caller to retry; every other outcome is a Result.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Result, error)
}

// ToContent converts a result into its stored form.
func (r Result) ToContent() *content.LLMExtraction {
	out := &content.LLMExtraction{Success: r.Success, Error: r.Error, Model: r.Model}
	if r.Success && r.Data != nil {
		out.ContentType = r.Data.ContentType
		out.Confidence = r.Data.Confidence
		out.BeerReleases = r.Data.BeerReleases
		out.Events = r.Data.Events
		out.Updates = r.Data.Updates
		out.Summary = r.Data.Summary
		out.Tags = r.Data.Tags
		out.CallToAction = r.Data.CallToAction
	}
	return out
}
