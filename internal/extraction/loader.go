package extraction

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxImageBytes = 10 << 20

// ImageLoader resolves attachment bytes, decoding inline data or fetching by URL.
type ImageLoader struct {
	client *http.Client
}

func NewImageLoader(timeout time.Duration) *ImageLoader {
	return &ImageLoader{client: &http.Client{Timeout: timeout}}
}

func (l *ImageLoader) Load(ctx context.Context, a Attachment) ([]byte, error) {
	if a.Data != "" {
		b, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrOCR, a.Filename, err)
		}
		return b, nil
	}
	if a.URL == "" {
		return nil, fmt.Errorf("%w: attachment %s has neither data nor url", ErrOCR, a.Filename)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCR, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrOCR, a.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrOCR, a.URL, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrOCR, a.URL, err)
	}
	return b, nil
}
