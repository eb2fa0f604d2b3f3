package processors

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

type PDFProcessor struct {
	maxPages int
}

func NewPDFProcessor(maxPages int) *PDFProcessor {
	return &PDFProcessor{maxPages: maxPages}
}

// Process reads up to maxPages pages. Each page is handed to recognition
// with its embedded text; the reader cannot rasterize. The reader panics on
// some corrupt files; those come back as errors.
func (p *PDFProcessor) Process(ctx context.Context, content []byte) (out *Extraction, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("failed to read PDF: %v", rec)
		}
	}()

	reader := bytes.NewReader(content)

	r, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	totalPage := r.NumPage()
	if totalPage == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if p.maxPages > 0 && totalPage > p.maxPages {
		totalPage = p.maxPages
	}

	out = &Extraction{Paginated: true}
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := PageInput{PageNumber: pageIndex}
		pg := r.Page(pageIndex)
		if !pg.V.IsNull() {
			// a page whose text cannot be decoded is still sent, empty
			if text, err := pg.GetPlainText(nil); err == nil {
				page.Text = text
			}
		}
		out.Pages = append(out.Pages, page)
	}

	return out, nil
}

func (p *PDFProcessor) SupportedTypes() []string {
	return []string{".pdf"}
}
