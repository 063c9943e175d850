package extraction

import (
	"fmt"
	"html"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"brewfeed/backend/features/content"
)

var (
	mdImageRe  = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	imageRefRe = regexp.MustCompile(`(?i)\[image:\s*(\d+)\]`)
)

// ImageText pairs an image attachment with its recognized text.
type ImageText struct {
	Filename string
	Text     string
}

// Enrich replaces image references in text with the recognized text of the referenced image.
// References are <img> tags and markdown images (matched by filename, else by position),
// [image:N] markers (1-based) and bare attachment filenames. Text of images that were never
// referenced is appended under an "Image text" section. Without any OCR text, text is returned as is.
func Enrich(text string, images []ImageText) string {
	hasText := false
	for _, im := range images {
		if strings.TrimSpace(im.Text) != "" {
			hasText = true
			break
		}
	}
	if !hasText {
		return text
	}

	e := &enricher{images: images, used: make([]bool, len(images))}
	out := e.imgTags(text)
	ordinal := 0
	out = mdImageRe.ReplaceAllStringFunc(out, func(ref string) string {
		r, ok := e.resolve(ref, ordinal)
		ordinal++
		if ok {
			return r
		}
		return ref
	})
	out = imageRefRe.ReplaceAllStringFunc(out, func(ref string) string {
		n, err := strconv.Atoi(imageRefRe.FindStringSubmatch(ref)[1])
		if err != nil {
			return ref
		}
		if r, ok := e.render(n - 1); ok {
			return r
		}
		return ref
	})
	for i, im := range images {
		if e.used[i] || im.Filename == "" || !strings.Contains(out, im.Filename) {
			continue
		}
		if r, ok := e.render(i); ok {
			out = strings.ReplaceAll(out, im.Filename, r)
		}
	}

	var extra []string
	for i, im := range images {
		t := strings.TrimSpace(im.Text)
		if e.used[i] || t == "" {
			continue
		}
		label := im.Filename
		if label == "" {
			label = fmt.Sprintf("image %d", i+1)
		}
		extra = append(extra, "- "+label+": "+t)
	}
	if len(extra) > 0 {
		out = strings.TrimRight(out, "\n") + "\n\nImage text:\n" + strings.Join(extra, "\n")
	}
	return out
}

type enricher struct {
	images []ImageText
	used   []bool
}

func (e *enricher) render(i int) (string, bool) {
	if i < 0 || i >= len(e.images) {
		return "", false
	}
	t := strings.TrimSpace(e.images[i].Text)
	if t == "" {
		return "", false
	}
	e.used[i] = true
	return "[Image text: " + t + "]", true
}

// resolve renders the image whose filename appears in ref, else the image at position.
func (e *enricher) resolve(ref string, position int) (string, bool) {
	for i, im := range e.images {
		if im.Filename != "" && strings.Contains(ref, im.Filename) {
			return e.render(i)
		}
	}
	return e.render(position)
}

// imgTags replaces <img> elements of an HTML body, matching on src and alt.
func (e *enricher) imgTags(text string) string {
	if !strings.Contains(strings.ToLower(text), "<img") {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}

	replaced := false
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		if r, ok := e.resolve(src+" "+alt, i); ok {
			s.ReplaceWithHtml(html.EscapeString(r))
			replaced = true
		}
	})
	if !replaced {
		return text
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, "<html") || strings.Contains(lower, "<body") {
		out, err := goquery.OuterHtml(doc.Selection)
		if err != nil {
			return text
		}
		return out
	}
	out, err := doc.Find("body").Html()
	if err != nil {
		return text
	}
	return out
}

// Attachment is a file carried with a raw item, inline (base64) or by URL.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty" validate:"omitempty,url"`
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true, ".tif": true, ".tiff": true}

func (a Attachment) IsImage() bool {
	if strings.HasPrefix(strings.ToLower(a.ContentType), "image/") {
		return true
	}
	name := a.Filename
	if name == "" {
		name = a.URL
	}
	return imageExts[strings.ToLower(path.Ext(name))]
}

// Summaries builds the stored OCR metadata for images and their results.
func Summaries(images []Attachment, results []OCRResult) []content.OCRSummary {
	out := make([]content.OCRSummary, 0, len(images))
	for i, img := range images {
		s := content.OCRSummary{Index: i, Filename: img.Filename}
		if i < len(results) {
			r := results[i]
			s.Confidence = r.Confidence
			s.TextLength = len(r.Text)
			s.WordCount = len(r.Words)
			if s.WordCount == 0 {
				s.WordCount = len(strings.Fields(r.Text))
			}
			if r.Err != nil {
				s.Error = r.Err.Error()
			}
		}
		out = append(out, s)
	}
	return out
}
