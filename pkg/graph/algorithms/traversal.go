package algorithms

import (
	"context"
	"errors"
	"fmt"

	"github.com/athapong/docgraph/pkg/graph"
	mapset "github.com/deckarep/golang-set/v2"
)

type TraversalType string

const (
	BFS TraversalType = "BFS"
	DFS TraversalType = "DFS"
)

// ErrUnknownElement is returned when a start key is not in the graph.
var ErrUnknownElement = errors.New("unknown element")

// GraphTraversal walks a document graph ignoring edge direction, so an
// element reaches both what it points to and what points to it.
type GraphTraversal struct {
	graph *graph.DocumentGraph
}

func NewGraphTraversal(g *graph.DocumentGraph) *GraphTraversal {
	return &GraphTraversal{graph: g}
}

// Traverse returns the nodes reachable from startKey within maxDepth hops,
// start node first.
func (t *GraphTraversal) Traverse(ctx context.Context, startKey string, maxDepth int, traversalType TraversalType) ([]graph.Node, error) {
	start, ok := t.graph.Lookup(startKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownElement, startKey)
	}

	visited := mapset.NewThreadUnsafeSet[int]()
	switch traversalType {
	case BFS:
		return t.bfs(ctx, start, maxDepth, visited)
	case DFS:
		result := make([]graph.Node, 0)
		if err := t.dfs(ctx, start, maxDepth, visited, &result); err != nil {
			return nil, err
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported traversal type: %s", traversalType)
	}
}

func (t *GraphTraversal) neighbors(idx int) []int {
	return append(t.graph.Successors(idx), t.graph.Predecessors(idx)...)
}

func (t *GraphTraversal) bfs(ctx context.Context, start, maxDepth int, visited mapset.Set[int]) ([]graph.Node, error) {
	queue := []int{start}
	result := make([]graph.Node, 0)
	depth := 0

	for len(queue) > 0 && depth <= maxDepth {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		levelSize := len(queue)
		for i := 0; i < levelSize; i++ {
			current := queue[0]
			queue = queue[1:]

			if visited.Contains(current) {
				continue
			}
			visited.Add(current)
			result = append(result, t.graph.Node(current))

			for _, n := range t.neighbors(current) {
				if !visited.Contains(n) {
					queue = append(queue, n)
				}
			}
		}
		depth++
	}

	return result, nil
}

func (t *GraphTraversal) dfs(ctx context.Context, current, maxDepth int, visited mapset.Set[int], result *[]graph.Node) error {
	if maxDepth < 0 || visited.Contains(current) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	visited.Add(current)
	*result = append(*result, t.graph.Node(current))

	for _, n := range t.neighbors(current) {
		if err := t.dfs(ctx, n, maxDepth-1, visited, result); err != nil {
			return err
		}
	}
	return nil
}

// ConnectedElements returns the elements within depth hops of key, in
// breadth-first order and excluding key itself.
func ConnectedElements(ctx context.Context, g *graph.DocumentGraph, key string, depth int) ([]graph.Node, error) {
	nodes, err := NewGraphTraversal(g).Traverse(ctx, key, depth, BFS)
	if err != nil {
		return nil, err
	}
	return nodes[1:], nil
}

// ElementContext is an element together with its immediate neighbourhood.
type ElementContext struct {
	Element      graph.Node   `json:"element"`
	Summary      string       `json:"summary"`
	Predecessors []graph.Node `json:"predecessors"`
	Successors   []graph.Node `json:"successors"`
	Connected    []graph.Node `json:"connected"`
}

// Context gathers the direct predecessors and successors of key plus every
// element within depth hops.
func Context(ctx context.Context, g *graph.DocumentGraph, key string, depth int) (*ElementContext, error) {
	idx, ok := g.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownElement, key)
	}
	connected, err := ConnectedElements(ctx, g, key, depth)
	if err != nil {
		return nil, err
	}

	ec := &ElementContext{
		Element:      g.Node(idx),
		Summary:      graph.Summary(g.Node(idx)),
		Predecessors: make([]graph.Node, 0),
		Successors:   make([]graph.Node, 0),
		Connected:    connected,
	}
	for _, p := range g.Predecessors(idx) {
		ec.Predecessors = append(ec.Predecessors, g.Node(p))
	}
	for _, s := range g.Successors(idx) {
		ec.Successors = append(ec.Successors, g.Node(s))
	}
	return ec, nil
}
