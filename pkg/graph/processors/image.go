package processors

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// ImageProcessor passes a raster image through as a single page.
type ImageProcessor struct{}

func NewImageProcessor() *ImageProcessor {
	return &ImageProcessor{}
}

func (p *ImageProcessor) Process(ctx context.Context, content []byte) (*Extraction, error) {
	if len(content) == 0 {
		return nil, errors.New("empty image")
	}
	mime := http.DetectContentType(content)
	if !strings.HasPrefix(mime, "image/") {
		return nil, errors.New("content is not an image: " + mime)
	}

	return &Extraction{
		Paginated: true,
		Pages: []PageInput{{
			PageNumber: 1,
			ImageURL:   DataURL(mime, content),
		}},
	}, nil
}

func (p *ImageProcessor) SupportedTypes() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}
}

// DataURL encodes content as a base64 data URL.
func DataURL(mime string, content []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(content)
}
