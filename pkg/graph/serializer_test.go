package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildWire(t *testing.T, pages []PageLayout) *WireGraph {
	t.Helper()
	g, err := newTestBuilder(nil).Build(context.Background(), pages, "doc-42")
	require.NoError(t, err)
	return ToWireFormat(g)
}

func TestToWireFormat_Order(t *testing.T) {
	w := buildWire(t, []PageLayout{
		page(1,
			[]Element{el("e1", ElementHeading, "Title"), el("e2", ElementParagraph, "Body")},
			LayoutRelationship{From: "e2", To: "e1", Type: RelationBelow},
		),
		page(2, []Element{el("e1", ElementParagraph, "Next"), el("e2", ElementFooter, "Page 2")}),
	})

	assert.Equal(t, "doc-42", w.DocumentID)
	require.Equal(t, 4, w.NodeCount)
	require.Equal(t, 2, w.EdgeCount)

	var ids []string
	for _, n := range w.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"p1_e1", "p1_e2", "p2_e1", "p2_e2"}, ids)

	assert.Equal(t, []WireEdge{
		{Source: "p1_e2", Target: "p1_e1", RelationshipType: RelationBelow},
		{Source: "p2_e1", Target: "p2_e2", RelationshipType: RelationFollows},
	}, w.Edges)
}

func TestToWireFormat_Relationships(t *testing.T) {
	w := buildWire(t, []PageLayout{
		page(1,
			[]Element{el("a", ElementHeading, "A"), el("b", ElementParagraph, "B"), el("c", ElementImage, "")},
			LayoutRelationship{From: "a", To: "c", Type: RelationContains},
			LayoutRelationship{From: "a", To: "c", Type: RelationDescribes},
		),
	})

	a := w.Nodes[0]
	assert.Nil(t, a.ParentElement)
	assert.Empty(t, a.IncomingRelationships)
	assert.Equal(t, []RelationRef{
		{ElementID: "p1_c", RelationshipType: RelationContains},
		{ElementID: "p1_c", RelationshipType: RelationDescribes},
		{ElementID: "p1_b", RelationshipType: RelationFollows},
	}, a.OutgoingRelationships)
	assert.Equal(t, []string{"p1_c", "p1_b"}, a.ChildElements)

	c := w.Nodes[2]
	require.NotNil(t, c.ParentElement)
	assert.Equal(t, "p1_a", *c.ParentElement)
	assert.Len(t, c.IncomingRelationships, 3)
	assert.Empty(t, c.ChildElements)
	assert.NotNil(t, c.ChildElements)
}

func TestToWireFormat_JSON(t *testing.T) {
	w := buildWire(t, []PageLayout{page(1, []Element{el("a", ElementParagraph, "Hello")})})

	raw, err := json.Marshal(w)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "doc-42", decoded["documentId"])
	assert.EqualValues(t, 1, decoded["nodeCount"])

	node := decoded["nodes"].([]any)[0].(map[string]any)
	assert.Contains(t, node, "parentElement")
	assert.Nil(t, node["parentElement"])
	assert.Equal(t, "paragraph on page 1: Hello", node["summary"])
	assert.Equal(t, map[string]any{
		"contentEmbedding":  true,
		"categoryEmbedding": true,
		"combinedEmbedding": true,
	}, node["signals"])
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "image on page 4", Summary(Node{Type: ElementImage, Page: 4}))
	assert.Equal(t, "list on page 1: • a • b", Summary(Node{Type: ElementList, Page: 1, Text: "• a\n• b"}))

	long := Summary(Node{Type: ElementParagraph, Page: 1, Text: strings.Repeat("x", 200)})
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.Len(t, long, len("paragraph on page 1: ")+summaryExcerpt+3)
}

func genPages() gopter.Gen {
	return gen.SliceOfN(4, gen.IntRange(0, 6)).FlatMap(func(v any) gopter.Gen {
		sizes := v.([]int)
		return gen.SliceOfN(12, gen.IntRange(0, 7)).Map(func(targets []int) []PageLayout {
			var pages []PageLayout
			for p, n := range sizes {
				var elements []Element
				for i := 0; i < n; i++ {
					elements = append(elements, el(fmt.Sprintf("e%d", i), ElementParagraph, fmt.Sprintf("text %d", i)))
				}
				var rels []LayoutRelationship
				for i := 0; i+1 < len(targets); i += 2 {
					rels = append(rels, LayoutRelationship{
						From: fmt.Sprintf("e%d", targets[i]),
						To:   fmt.Sprintf("e%d", targets[i+1]),
						Type: RelationReferences,
					})
				}
				pages = append(pages, page(p+1, elements, rels...))
			}
			return pages
		})
	}, reflect.TypeOf([]PageLayout{}))
}

func TestToWireFormat_Properties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("edges only reference emitted nodes", prop.ForAll(
		func(pages []PageLayout) bool {
			w := buildWire(t, pages)
			ids := make(map[string]bool, len(w.Nodes))
			for _, n := range w.Nodes {
				ids[n.ID] = true
			}
			for _, e := range w.Edges {
				if !ids[e.Source] || !ids[e.Target] {
					return false
				}
			}
			return w.NodeCount == len(w.Nodes) && w.EdgeCount == len(w.Edges)
		},
		genPages(),
	))

	properties.Property("follows only between unconnected adjacent pairs", prop.ForAll(
		func(pages []PageLayout) bool {
			w := buildWire(t, pages)
			for _, e := range w.Edges {
				if e.RelationshipType != RelationFollows {
					continue
				}
				for _, other := range w.Edges {
					if other == e {
						continue
					}
					if (other.Source == e.Source && other.Target == e.Target) ||
						(other.Source == e.Target && other.Target == e.Source) {
						return false
					}
				}
			}
			return true
		},
		genPages(),
	))

	properties.Property("serialization is deterministic", prop.ForAll(
		func(pages []PageLayout) bool {
			a, errA := json.Marshal(buildWire(t, pages))
			b, errB := json.Marshal(buildWire(t, pages))
			return errA == nil && errB == nil && string(a) == string(b)
		},
		genPages(),
	))

	properties.TestingRun(t)
}

func TestFromWireFormat_RoundTrip(t *testing.T) {
	w := buildWire(t, []PageLayout{
		page(1,
			[]Element{el("a", ElementHeading, "A"), el("b", ElementParagraph, "B"), el("c", ElementImage, "")},
			LayoutRelationship{From: "c", To: "a", Type: RelationDescribes},
		),
	})
	w.Edges = append(w.Edges, WireEdge{Source: "p1_a", Target: "p9_gone", RelationshipType: RelationRelated})

	g := FromWireFormat(w)
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())

	again := ToWireFormat(g)
	w.Edges = w.Edges[:len(w.Edges)-1]
	assert.Equal(t, w, again)
}
