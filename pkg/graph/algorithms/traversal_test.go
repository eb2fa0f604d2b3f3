package algorithms

import (
	"context"
	"testing"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds follows edges a -> b -> c -> d -> e on page 1 plus an
// explicit e -> b edge.
func chain(t *testing.T) *graph.DocumentGraph {
	t.Helper()
	logger, _ := test.NewNullLogger()
	elements := []graph.Element{
		{ID: "a", Type: graph.ElementHeading, Text: "Title"},
		{ID: "b", Type: graph.ElementParagraph, Text: "Body"},
		{ID: "c", Type: graph.ElementParagraph, Text: "More"},
		{ID: "d", Type: graph.ElementFooter, Text: "Footer"},
		{ID: "e", Type: graph.ElementCaption, Text: "Caption"},
	}
	g, err := graph.NewBuilder(nil, logger).Build(context.Background(), []graph.PageLayout{{
		PageNumber: 1,
		Layout: graph.Layout{
			Elements:      elements,
			Relationships: []graph.LayoutRelationship{{From: "e", To: "b", Type: graph.RelationDescribes}},
		},
	}}, "doc")
	require.NoError(t, err)
	return g
}

func keysOf(nodes []graph.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Key)
	}
	return out
}

func TestTraverse(t *testing.T) {
	g := chain(t)
	tr := NewGraphTraversal(g)

	bfs, err := tr.Traverse(context.Background(), "p1_b", 1, BFS)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1_b", "p1_c", "p1_e", "p1_a"}, keysOf(bfs))

	dfs, err := tr.Traverse(context.Background(), "p1_a", 10, DFS)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1_a", "p1_b", "p1_c", "p1_d", "p1_e"}, keysOf(dfs))
	assert.Equal(t, "p1_a", dfs[0].Key)

	_, err = tr.Traverse(context.Background(), "p1_a", 1, "zigzag")
	assert.Error(t, err)

	_, err = tr.Traverse(context.Background(), "p7_x", 1, BFS)
	assert.ErrorIs(t, err, ErrUnknownElement)
}

func TestConnectedElements(t *testing.T) {
	g := chain(t)

	none, err := ConnectedElements(context.Background(), g, "p1_a", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	two, err := ConnectedElements(context.Background(), g, "p1_a", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1_b", "p1_c", "p1_e"}, keysOf(two))
}

func TestContext(t *testing.T) {
	g := chain(t)

	ec, err := Context(context.Background(), g, "p1_b", 1)
	require.NoError(t, err)
	assert.Equal(t, "p1_b", ec.Element.Key)
	assert.Equal(t, "paragraph on page 1: Body", ec.Summary)
	assert.Equal(t, []string{"p1_e", "p1_a"}, keysOf(ec.Predecessors))
	assert.Equal(t, []string{"p1_c"}, keysOf(ec.Successors))
	assert.Len(t, ec.Connected, 3)

	_, err = Context(context.Background(), g, "missing", 1)
	assert.ErrorIs(t, err, ErrUnknownElement)
}
