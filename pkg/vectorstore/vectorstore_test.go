package vectorstore

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks(t *testing.T) {
	w := &graph.WireGraph{
		DocumentID: "doc",
		Nodes: []graph.WireNode{
			{ID: "p1_a", ElementID: "a", Page: 1, Type: graph.ElementHeading, Text: "Title"},
			{ID: "p1_b", ElementID: "b", Page: 1, Type: graph.ElementImage, Text: "  "},
			{ID: "p2_c", ElementID: "c", Page: 2, Type: graph.ElementParagraph, Text: "Body"},
			{ID: "p2_d", ElementID: "d", Page: 2, Type: graph.ElementFooter, Text: "Footer"},
		},
	}

	assert.Equal(t, []Chunk{
		{Text: "Title", ElementID: "p1_a", ElementType: "heading", Page: 1},
		{Text: "Body", ElementID: "p2_c", ElementType: "paragraph", Page: 2},
	}, Chunks(w, 2))
	assert.Len(t, Chunks(w, 0), 3)
	assert.Empty(t, Chunks(&graph.WireGraph{}, 50))
}

func TestPointID(t *testing.T) {
	id := PointID("doc-1", 3)
	assert.Equal(t, id, PointID("doc-1", 3))
	assert.NotEqual(t, id, PointID("doc-1", 4))
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte("doc-1_3")).String(), id)
}

func TestPoints(t *testing.T) {
	chunks := []Chunk{
		{Text: "Title", ElementID: "a", ElementType: "heading", Page: 1},
		{Text: "Body", ElementID: "c", ElementType: "paragraph", Page: 2},
	}
	points, err := Points("doc-1", chunks, [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	require.Len(t, points, 2)

	p := points[1]
	assert.Equal(t, PointID("doc-1", 1), p.Id.GetUuid())
	assert.Equal(t, "doc-1", p.Payload["document_id"].GetStringValue())
	assert.Equal(t, int64(1), p.Payload["chunk_index"].GetIntegerValue())
	assert.Equal(t, "Body", p.Payload["text"].GetStringValue())
	assert.Equal(t, "c", p.Payload["element_id"].GetStringValue())
	assert.Equal(t, "paragraph", p.Payload["element_type"].GetStringValue())
	assert.Equal(t, int64(2), p.Payload["page"].GetIntegerValue())

	_, err = Points("doc-1", chunks, [][]float32{{1, 0}})
	assert.Error(t, err)
}

func TestQdrant(t *testing.T) {
	host := os.Getenv("QDRANT_TEST_HOST")
	if host == "" {
		t.Skip("QDRANT_TEST_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("QDRANT_TEST_PORT"))
	if port == 0 {
		port = 6334
	}

	q, err := NewQdrant(Config{Host: host, Port: port, Collection: "docgraph_test", Dimension: 2})
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	chunks := []Chunk{{Text: "Title", ElementID: "a", ElementType: "heading", Page: 1}}
	require.NoError(t, q.StoreChunks(ctx, "doc-test", chunks, [][]float32{{1, 0}}))

	hits, err := q.Search(ctx, []float32{1, 0}, "doc-test", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ElementID)

	require.NoError(t, q.DeleteDocument(ctx, "doc-test"))
}
