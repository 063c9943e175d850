package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"brewfeed/backend/internal/extraction"
)

// maxBatch is the Vision API limit of images per annotate request.
const maxBatch = 16

// OCR implements extraction.OCR with Cloud Vision document text detection.
type OCR struct {
	svc     *visionapi.Service
	timeout time.Duration
}

func NewOCR(ctx context.Context, apiKey string, timeout time.Duration, opts ...option.ClientOption) (*OCR, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vision api key not configured")
	}
	svc, err := visionapi.NewService(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	return &OCR{svc: svc, timeout: timeout}, nil
}

// ExtractText never fails as a whole: a failed batch marks each of its images with ErrOCR.
func (o *OCR) ExtractText(ctx context.Context, images [][]byte) ([]extraction.OCRResult, error) {
	results := make([]extraction.OCRResult, len(images))
	for start := 0; start < len(images); start += maxBatch {
		end := min(start+maxBatch, len(images))
		o.annotate(ctx, images[start:end], results[start:end])
	}
	return results, nil
}

func (o *OCR) annotate(ctx context.Context, images [][]byte, out []extraction.OCRResult) {
	req := &visionapi.BatchAnnotateImagesRequest{}
	for _, img := range images {
		req.Requests = append(req.Requests, &visionapi.AnnotateImageRequest{
			Image:    &visionapi.Image{Content: base64.StdEncoding.EncodeToString(img)},
			Features: []*visionapi.Feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.svc.Images.Annotate(req).Context(callCtx).Do()
	if err != nil {
		slog.WarnContext(ctx, "ocr batch failed, degrading to empty text", "images", len(images), "error", err)
		for i := range out {
			out[i].Err = fmt.Errorf("%w: %v", extraction.ErrOCR, err)
		}
		return
	}

	for i := range out {
		if i >= len(resp.Responses) {
			out[i].Err = fmt.Errorf("%w: no response for image", extraction.ErrOCR)
			continue
		}
		out[i] = toResult(resp.Responses[i])
	}
}

func toResult(r *visionapi.AnnotateImageResponse) extraction.OCRResult {
	if r == nil {
		return extraction.OCRResult{Err: fmt.Errorf("%w: empty response", extraction.ErrOCR)}
	}
	if r.Error != nil && r.Error.Code != 0 {
		return extraction.OCRResult{Err: fmt.Errorf("%w: %s", extraction.ErrOCR, r.Error.Message)}
	}

	var res extraction.OCRResult
	if r.FullTextAnnotation != nil {
		res.Text = strings.TrimSpace(r.FullTextAnnotation.Text)
		var sum float64
		for _, p := range r.FullTextAnnotation.Pages {
			sum += p.Confidence
		}
		if n := len(r.FullTextAnnotation.Pages); n > 0 {
			res.Confidence = sum / float64(n)
		}
	}
	// The first text annotation is the whole text; the rest are individual words.
	for i, a := range r.TextAnnotations {
		if i == 0 {
			if res.Text == "" {
				res.Text = strings.TrimSpace(a.Description)
			}
			continue
		}
		res.Words = append(res.Words, a.Description)
	}
	return res
}
