package pipeline

import (
	"time"

	"github.com/go-playground/validator/v10"

	"brewfeed/backend/features/content"
	"brewfeed/backend/internal/config"
	"brewfeed/backend/internal/extraction"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RawItem is the normalized payload every collector emits.
type RawItem struct {
	BreweryID       string                  `json:"breweryId" validate:"required,uuid"`
	SourceType      content.SourceType      `json:"sourceType" validate:"omitempty,oneof=email instagram facebook rss"`
	SourceURL       string                  `json:"sourceUrl,omitempty"`
	RawHTMLOrText   string                  `json:"rawHtmlOrText"`
	PublicationDate time.Time               `json:"publicationDate" validate:"required"`
	Attachments     []extraction.Attachment `json:"attachments,omitempty" validate:"dive"`
	Metadata        extraction.Metadata     `json:"metadata"`
}

// ExtractPayload asks the extraction stage to process a stored item.
type ExtractPayload struct {
	ContentItemID string                  `json:"contentItemId" validate:"required"`
	Attachments   []extraction.Attachment `json:"attachments,omitempty"`
	Metadata      extraction.Metadata     `json:"metadata"`
}

// DedupPayload asks the deduplication stage to check a stored item.
type DedupPayload struct {
	ContentItemID string `json:"contentItemId" validate:"required"`
}

// sourceForKind maps collection job kinds to the source they carry.
var sourceForKind = map[string]content.SourceType{
	config.KindProcessEmail:    content.SourceEmail,
	config.KindProcessRSS:      content.SourceRSS,
	config.KindScrapeInstagram: content.SourceInstagram,
	config.KindScrapeFacebook:  content.SourceFacebook,
}
