package graph

import (
	"errors"
	"fmt"

	"github.com/athapong/docgraph/pkg/graph/normalize"
)

// ErrMalformedInput matches any *MalformedInputError via errors.Is.
var ErrMalformedInput = errors.New("malformed page layout input")

// MalformedInputError reports page layout input the builder cannot use at
// all. It aborts the whole build.
type MalformedInputError struct {
	Page   int
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("malformed page layout input (page %d): %s", e.Page, e.Reason)
	}
	return fmt.Sprintf("malformed page layout input: %s", e.Reason)
}

func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// Node is a graph vertex. Nodes live in a dense slice and refer to each
// other by index only.
type Node struct {
	Key        string               `json:"id"`
	ElementID  string               `json:"elementId"`
	Page       int                  `json:"page"`
	Type       ElementType          `json:"type"`
	Text       string               `json:"text"`
	BBox       BBox                 `json:"bbox"`
	Confidence float64              `json:"confidence"`
	Table      *normalize.TableData `json:"tableData,omitempty"`
	Chart      *ChartMetadata       `json:"chartMetadata,omitempty"`
	Signals    DerivedSignals       `json:"signals"`
}

// Edge is a directed, typed link between two node indexes.
type Edge struct {
	Source int
	Target int
	Type   string
}

// Adjacent is one entry of a node's adjacency list.
type Adjacent struct {
	Node int
	Edge int
	Type string
}

// DocumentGraph is an arena graph: nodes and edges are stored in insertion
// order, adjacency is kept per node as index pairs, and keys resolve to
// indexes through a separate table.
type DocumentGraph struct {
	DocumentID string

	nodes []Node
	edges []Edge
	out   [][]Adjacent
	in    [][]Adjacent
	index map[string]int
}

func newDocumentGraph(documentID string) *DocumentGraph {
	return &DocumentGraph{
		DocumentID: documentID,
		nodes:      make([]Node, 0),
		edges:      make([]Edge, 0),
		index:      make(map[string]int),
	}
}

func (g *DocumentGraph) addNode(n Node) int {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	g.index[n.Key] = idx
	return idx
}

func (g *DocumentGraph) addEdge(source, target int, relType string) int {
	idx := len(g.edges)
	g.edges = append(g.edges, Edge{Source: source, Target: target, Type: relType})
	g.out[source] = append(g.out[source], Adjacent{Node: target, Edge: idx, Type: relType})
	g.in[target] = append(g.in[target], Adjacent{Node: source, Edge: idx, Type: relType})
	return idx
}

// NodeCount returns the number of nodes.
func (g *DocumentGraph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *DocumentGraph) EdgeCount() int { return len(g.edges) }

// Node returns the node at idx.
func (g *DocumentGraph) Node(idx int) Node { return g.nodes[idx] }

// Edge returns the edge at idx.
func (g *DocumentGraph) Edge(idx int) Edge { return g.edges[idx] }

// Lookup resolves a node key to its index.
func (g *DocumentGraph) Lookup(key string) (int, bool) {
	idx, ok := g.index[key]
	return idx, ok
}

// Outgoing returns the outgoing adjacency of idx in insertion order. The
// slice must not be modified.
func (g *DocumentGraph) Outgoing(idx int) []Adjacent { return g.out[idx] }

// Incoming returns the incoming adjacency of idx in insertion order. The
// slice must not be modified.
func (g *DocumentGraph) Incoming(idx int) []Adjacent { return g.in[idx] }

// Connected reports whether any edge links a and b in either direction.
func (g *DocumentGraph) Connected(a, b int) bool {
	for _, adj := range g.out[a] {
		if adj.Node == b {
			return true
		}
	}
	for _, adj := range g.in[a] {
		if adj.Node == b {
			return true
		}
	}
	return false
}

// Successors returns the distinct successor indexes of idx in first-seen
// order.
func (g *DocumentGraph) Successors(idx int) []int {
	return distinctNeighbors(g.out[idx])
}

// Predecessors returns the distinct predecessor indexes of idx in first-seen
// order.
func (g *DocumentGraph) Predecessors(idx int) []int {
	return distinctNeighbors(g.in[idx])
}

func distinctNeighbors(adj []Adjacent) []int {
	out := make([]int, 0, len(adj))
	seen := make(map[int]struct{}, len(adj))
	for _, a := range adj {
		if _, ok := seen[a.Node]; ok {
			continue
		}
		seen[a.Node] = struct{}{}
		out = append(out, a.Node)
	}
	return out
}

// CountByType returns node counts per element type and edge counts per
// relationship type.
func (g *DocumentGraph) CountByType() (nodes map[string]int, edges map[string]int) {
	nodes = make(map[string]int)
	edges = make(map[string]int)
	for _, n := range g.nodes {
		nodes[string(n.Type)]++
	}
	for _, e := range g.edges {
		edges[e.Type]++
	}
	return nodes, edges
}
