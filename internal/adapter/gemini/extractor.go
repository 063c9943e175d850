package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"brewfeed/backend/internal/extraction"
)

const systemPrompt = `You extract structured facts from brewery communications (newsletters, social posts, feed items).
Classify the content as "release" (new or returning beers), "event" (something happening at a date/time) or "update" (any other announcement).
Only report facts present in the text. Keep the summary to one or two sentences. Dates stay as written in the source.`

// Extractor implements extraction.Extractor with a schema-constrained Gemini model.
type Extractor struct {
	client     *genai.Client
	model      string
	timeout    time.Duration
	limiter    *rate.Limiter
	clientOpts []option.ClientOption
}

type Option func(*Extractor)

func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

// WithRateLimit bounds calls per second across all extraction workers.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Extractor) { e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(e *Extractor) { e.clientOpts = append(e.clientOpts, opts...) }
}

func NewExtractor(ctx context.Context, apiKey, model string, opts ...Option) (*Extractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	e := &Extractor{model: model, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	client, err := genai.NewClient(ctx, append(e.clientOpts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	e.client = client
	return e, nil
}

func (e *Extractor) Close() error {
	return e.client.Close()
}

func (e *Extractor) Extract(ctx context.Context, req extraction.Request) (extraction.Result, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return extraction.Result{}, fmt.Errorf("%w: rate limiter: %v", extraction.ErrProviderUnavailable, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	model := e.client.GenerativeModel(e.model)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = responseSchema()
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	slog.DebugContext(ctx, "extracting content", "model", e.model, "length", len(req.Content))
	start := time.Now()
	resp, err := model.GenerateContent(callCtx, genai.Text(buildPrompt(req)))
	if err != nil {
		if retryable(err) {
			return extraction.Result{}, fmt.Errorf("%w: %v", extraction.ErrProviderUnavailable, err)
		}
		slog.WarnContext(ctx, "extraction rejected by provider", "error", err)
		return extraction.Failed(fmt.Errorf("provider rejected request: %w", err)), nil
	}

	raw, err := responseText(resp)
	if err != nil {
		return extraction.Failed(err), nil
	}
	data, err := extraction.Parse(raw)
	if err != nil {
		slog.WarnContext(ctx, "extraction output failed validation", "error", err)
		return extraction.Failed(err), nil
	}

	slog.InfoContext(ctx, "content extracted", "content_type", data.ContentType, "confidence", data.Confidence, "duration", time.Since(start))
	return extraction.Result{Success: true, Data: data, Model: e.model}, nil
}

func buildPrompt(req extraction.Request) string {
	var b strings.Builder
	if req.BreweryName != "" {
		fmt.Fprintf(&b, "Brewery: %s\n", req.BreweryName)
	}
	fmt.Fprintf(&b, "Source: %s\n", req.SourceType)
	if req.Metadata.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", req.Metadata.Subject)
	}
	if req.Metadata.Sender != "" {
		fmt.Fprintf(&b, "Sender: %s\n", req.Metadata.Sender)
	}
	if req.Metadata.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", req.Metadata.Date)
	}
	b.WriteString("\nContent:\n")
	b.WriteString(req.Content)
	return b.String()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response", extraction.ErrSchemaValidation)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: response has no text", extraction.ErrSchemaValidation)
	}
	return b.String(), nil
}

// retryable reports timeouts, rate limits and server-side failures.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return true
		}
		return false
	}
	// Transport errors without a status are treated as transient.
	var blocked *genai.BlockedError
	return !errors.As(err, &blocked)
}

func responseSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"contentType": {Type: genai.TypeString, Enum: []string{"release", "event", "update"}},
			"confidence":  {Type: genai.TypeNumber, Description: "0 to 1"},
			"beerReleases": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":         str,
						"style":        str,
						"abv":          {Type: genai.TypeNumber},
						"description":  str,
						"availability": str,
						"releaseDate":  str,
						"price":        str,
					},
					Required: []string{"name"},
				},
			},
			"events": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":       str,
						"date":        str,
						"time":        str,
						"location":    str,
						"description": str,
					},
					Required: []string{"title"},
				},
			},
			"updates": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":       str,
						"description": str,
					},
					Required: []string{"title"},
				},
			},
			"summary":      str,
			"tags":         {Type: genai.TypeArray, Items: str},
			"callToAction": str,
		},
		Required: []string{"contentType", "confidence", "summary"},
	}
}
