package graph

import (
	"fmt"

	"github.com/athapong/docgraph/pkg/graph/normalize"
)

// ElementType classifies a layout element. Values outside the known set are
// kept verbatim.
type ElementType string

const (
	ElementParagraph ElementType = "paragraph"
	ElementTable     ElementType = "table"
	ElementChart     ElementType = "chart"
	ElementImage     ElementType = "image"
	ElementHeading   ElementType = "heading"
	ElementList      ElementType = "list"
	ElementFooter    ElementType = "footer"
	ElementHeader    ElementType = "header"
	ElementCaption   ElementType = "caption"
	ElementShape     ElementType = "shape"
	ElementUnknown   ElementType = "unknown"
)

// Relationship types. Only RelationFollows is synthesized by the builder;
// the rest arrive from recognition.
const (
	RelationFollows    = "follows"
	RelationRelated    = "related"
	RelationAbove      = "above"
	RelationBelow      = "below"
	RelationLeftOf     = "left_of"
	RelationRightOf    = "right_of"
	RelationContains   = "contains"
	RelationDescribes  = "describes"
	RelationReferences = "references"
)

// BBox is [x1, y1, x2, y2]. It may be empty when the source has no geometry.
type BBox []float64

// ChartMetadata carries what recognition reported about a chart element.
type ChartMetadata struct {
	ChartType   string         `json:"chartType,omitempty"`
	Title       string         `json:"title,omitempty"`
	XAxisLabels []string       `json:"xAxisLabels,omitempty"`
	YAxisLabels []string       `json:"yAxisLabels,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Element is one layout unit on one page.
type Element struct {
	ID         string               `json:"id"`
	Page       int                  `json:"page"`
	Type       ElementType          `json:"type"`
	Text       string               `json:"text"`
	BBox       BBox                 `json:"bbox,omitempty"`
	Confidence float64              `json:"confidence"`
	IsChart    bool                 `json:"is_chart,omitempty"`
	Table      *normalize.TableData `json:"table_data,omitempty"`
	Chart      *ChartMetadata       `json:"chart_metadata,omitempty"`
}

// LayoutRelationship is an explicit edge reported for a page, in page-scoped
// element ids.
type LayoutRelationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Layout is everything recognized on one page.
type Layout struct {
	Elements      []Element            `json:"elements"`
	Relationships []LayoutRelationship `json:"relationships"`
}

// PageLayout pairs a layout with its 1-based page number. Error is set when
// recognition failed for the page; Layout is then empty.
type PageLayout struct {
	PageNumber   int              `json:"page_number"`
	Layout       Layout           `json:"layout"`
	ChartDetails []map[string]any `json:"chart_details,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// EmptyPage returns a page with no elements, used when recognition fails.
func EmptyPage(pageNumber int, reason string) PageLayout {
	return PageLayout{
		PageNumber: pageNumber,
		Layout: Layout{
			Elements:      []Element{},
			Relationships: []LayoutRelationship{},
		},
		Error: reason,
	}
}

// NodeKey is the document-wide identity of an element.
func NodeKey(page int, elementID string) string {
	return fmt.Sprintf("p%d_%s", page, elementID)
}

// DerivedSignals records what was computed for a node during construction.
// Vectors are not kept; only whether each one could be computed.
type DerivedSignals struct {
	ContentEmbedding  bool `json:"contentEmbedding"`
	CategoryEmbedding bool `json:"categoryEmbedding"`
	CombinedEmbedding bool `json:"combinedEmbedding"`
}
