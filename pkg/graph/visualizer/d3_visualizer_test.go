package visualizer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wire() *graph.WireGraph {
	return &graph.WireGraph{
		DocumentID: "doc-7",
		Nodes: []graph.WireNode{
			{ID: "p1_a", ElementID: "a", Page: 1, Type: graph.ElementHeading, Summary: "heading on page 1: Intro"},
			{ID: "p2_b", ElementID: "b", Page: 2, Type: graph.ElementParagraph, Summary: "paragraph on page 2"},
		},
		Edges:     []graph.WireEdge{},
		NodeCount: 2,
		EdgeCount: 0,
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewD3Visualizer("unused.html").Render(&buf, wire()))

	out := buf.String()
	assert.Contains(t, out, "<title>Document doc-7</title>")
	assert.Contains(t, out, "Pages: 2, Elements: 2, Relationships: 0")
	assert.Contains(t, out, `"id":"p1_a"`)
	assert.Contains(t, out, `"summary":"heading on page 1: Intro"`)
}

func TestVisualize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "graph.html")
	require.NoError(t, NewD3Visualizer(path).Visualize(wire()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "d3.forceSimulation")
}
