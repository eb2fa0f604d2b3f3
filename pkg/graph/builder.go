package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/athapong/docgraph/pkg/graph/embedding"
	"github.com/athapong/docgraph/pkg/graph/normalize"
	"github.com/sirupsen/logrus"
)

// Builder turns per-page layouts into a DocumentGraph.
type Builder struct {
	embedder embedding.Embedder
	logger   *logrus.Logger
}

// NewBuilder creates a builder. A nil embedder uses the hashed embedder with
// the default dimension; a nil logger logs JSON to stderr.
func NewBuilder(embedder embedding.Embedder, logger *logrus.Logger) *Builder {
	if embedder == nil {
		embedder = embedding.NewHashEmbedder(embedding.DefaultDimension)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Builder{embedder: embedder, logger: logger}
}

// Build constructs the graph for one document. Pages are processed in page
// number order and elements in list order, which fixes node and edge
// insertion order. Only structurally invalid input is an error; bad
// elements and dangling relationships are skipped.
func (b *Builder) Build(ctx context.Context, pages []PageLayout, documentID string) (*DocumentGraph, error) {
	ordered := make([]PageLayout, len(pages))
	copy(ordered, pages)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PageNumber < ordered[j].PageNumber
	})

	for _, page := range ordered {
		if page.PageNumber <= 0 {
			return nil, &MalformedInputError{Reason: fmt.Sprintf("invalid page number %d", page.PageNumber)}
		}
	}

	g := newDocumentGraph(documentID)
	for _, page := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.addPage(ctx, g, page)
	}

	b.logger.WithFields(logrus.Fields{
		"document_id": documentID,
		"pages":       len(ordered),
		"nodes":       g.NodeCount(),
		"edges":       g.EdgeCount(),
	}).Debug("Document graph built")

	return g, nil
}

func (b *Builder) addPage(ctx context.Context, g *DocumentGraph, page PageLayout) {
	log := b.logger.WithFields(logrus.Fields{
		"document_id": g.DocumentID,
		"page":        page.PageNumber,
	})

	// reading order of the nodes that made it into the graph, by element
	// list position
	order := make([]int, len(page.Layout.Elements))
	for i, el := range page.Layout.Elements {
		order[i] = -1

		id := strings.TrimSpace(el.ID)
		if id == "" {
			log.WithField("position", i).Warn("Skipping element without id")
			continue
		}
		key := NodeKey(page.PageNumber, id)
		if _, dup := g.Lookup(key); dup {
			log.WithField("element_id", id).Warn("Skipping duplicate element id")
			continue
		}

		order[i] = g.addNode(b.node(ctx, key, id, page.PageNumber, el))
	}

	for _, rel := range page.Layout.Relationships {
		from, okFrom := g.Lookup(NodeKey(page.PageNumber, rel.From))
		to, okTo := g.Lookup(NodeKey(page.PageNumber, rel.To))
		if !okFrom || !okTo {
			log.WithFields(logrus.Fields{
				"from": rel.From,
				"to":   rel.To,
			}).Debug("Dropping relationship with unknown endpoint")
			continue
		}
		relType := strings.TrimSpace(rel.Type)
		if relType == "" {
			relType = RelationRelated
		}
		g.addEdge(from, to, relType)
	}

	for i := 0; i+1 < len(order); i++ {
		a, c := order[i], order[i+1]
		if a < 0 || c < 0 || a == c {
			continue
		}
		if g.Connected(a, c) {
			continue
		}
		g.addEdge(a, c, RelationFollows)
	}
}

func (b *Builder) node(ctx context.Context, key, id string, page int, el Element) Node {
	elType := ElementType(strings.ToLower(strings.TrimSpace(string(el.Type))))
	if elType == "" {
		elType = ElementUnknown
	}

	n := Node{
		Key:        key,
		ElementID:  id,
		Page:       page,
		Type:       elType,
		Text:       normalize.CleanText(el.Text),
		BBox:       el.BBox,
		Confidence: clamp(el.Confidence),
		Table:      el.Table,
		Chart:      el.Chart,
	}
	if n.BBox == nil {
		n.BBox = BBox{}
	}
	if n.Table == nil && elType == ElementTable && strings.TrimSpace(el.Text) != "" {
		t := normalize.Table(el.Text)
		n.Table = &t
	}

	content, contentOK := b.tryEmbed(ctx, n.Text)
	category, categoryOK := b.tryEmbed(ctx, string(elType))
	n.Signals.ContentEmbedding = contentOK
	n.Signals.CategoryEmbedding = categoryOK
	if contentOK && categoryOK {
		_, n.Signals.CombinedEmbedding = b.tryCombine(content, category)
	}

	return n
}

// tryEmbed never lets an embedder failure or panic escape; it reports
// whether a usable, non-zero vector came back.
func (b *Builder) tryEmbed(ctx context.Context, text string) (vec []float32, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("panic", r).Warn("Embedding panicked")
			vec, ok = nil, false
		}
	}()

	v, err := b.embedder.Embed(ctx, text)
	if err != nil {
		b.logger.WithError(err).Debug("Embedding failed")
		return nil, false
	}
	if len(v) == 0 || embedding.IsZero(v) {
		return nil, false
	}
	return v, true
}

func (b *Builder) tryCombine(content, category []float32) (vec []float32, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			vec, ok = nil, false
		}
	}()

	m, err := embedding.Mean(content, category)
	if err != nil || embedding.IsZero(m) {
		return nil, false
	}
	return m, true
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
