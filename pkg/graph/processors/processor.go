// Package processors turns uploaded files into per-page input for graph
// construction. Paginated formats yield pages for the recognition service;
// the rest yield page layouts synthesized from their native structure.
package processors

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/athapong/docgraph/pkg/graph"
)

// ErrUnsupportedType is returned for file types no processor handles.
var ErrUnsupportedType = errors.New("unsupported file type")

// PageInput is one page to send to recognition. ImageURL is a data URL when
// the page is available as an image; Text holds any embedded text.
type PageInput struct {
	PageNumber int
	ImageURL   string
	Text       string
}

// Extraction is the result of processing one file. Exactly one of Pages and
// Layouts is populated, depending on Paginated.
type Extraction struct {
	Paginated bool
	Pages     []PageInput
	Layouts   []graph.PageLayout
}

// DocumentProcessor extracts pages from the raw bytes of one file type.
type DocumentProcessor interface {
	Process(ctx context.Context, content []byte) (*Extraction, error)
	SupportedTypes() []string
}

// Limits caps how much of a document is extracted.
type Limits struct {
	MaxPages      int
	MaxSlides     int
	MaxParagraphs int
	MaxTables     int
}

// DefaultLimits are the caps applied when none are configured.
var DefaultLimits = Limits{
	MaxPages:      5,
	MaxSlides:     5,
	MaxParagraphs: 20,
	MaxTables:     5,
}

// Registry maps file extensions to processors.
type Registry struct {
	byExt map[string]DocumentProcessor
}

// NewRegistry returns a registry with every built-in processor.
func NewRegistry(limits Limits) *Registry {
	r := &Registry{byExt: make(map[string]DocumentProcessor)}
	for _, p := range []DocumentProcessor{
		NewPDFProcessor(limits.MaxPages),
		NewImageProcessor(),
		NewPPTXProcessor(limits.MaxSlides),
		NewXLSXProcessor(),
		NewDOCXProcessor(limits.MaxParagraphs, limits.MaxTables),
		NewHTMLProcessor(),
	} {
		r.Register(p)
	}
	return r
}

// Register adds p for each of its supported extensions.
func (r *Registry) Register(p DocumentProcessor) {
	for _, ext := range p.SupportedTypes() {
		r.byExt[strings.ToLower(ext)] = p
	}
}

// For returns the processor for a file type, given either as an extension
// (".pdf") or a file name.
func (r *Registry) For(fileType string) (DocumentProcessor, error) {
	ext := strings.ToLower(fileType)
	if !strings.HasPrefix(ext, ".") || strings.Count(ext, ".") > 1 {
		ext = strings.ToLower(filepath.Ext(fileType))
	}
	p, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}
	return p, nil
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// synthesized wraps element lists as page layouts without relationships.
func synthesized(pages ...[]graph.Element) []graph.PageLayout {
	out := make([]graph.PageLayout, 0, len(pages))
	for i, elements := range pages {
		if elements == nil {
			elements = []graph.Element{}
		}
		for j := range elements {
			elements[j].Page = i + 1
		}
		out = append(out, graph.PageLayout{
			PageNumber: i + 1,
			Layout: graph.Layout{
				Elements:      elements,
				Relationships: []graph.LayoutRelationship{},
			},
		})
	}
	return out
}

func fullPage() graph.BBox {
	return graph.BBox{0, 0, 100, 100}
}
