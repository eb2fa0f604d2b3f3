package graph

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/athapong/docgraph/pkg/graph/normalize"
)

// summaryExcerpt is the number of runes of node text kept in a node summary.
const summaryExcerpt = 80

// RelationRef names a neighbour and the type of the edge leading to or from it.
type RelationRef struct {
	ElementID        string `json:"elementId"`
	RelationshipType string `json:"relationshipType"`
}

// WireNode is the serialized form of a node.
type WireNode struct {
	ID                    string               `json:"id"`
	ElementID             string               `json:"elementId"`
	Page                  int                  `json:"page"`
	Type                  ElementType          `json:"type"`
	Text                  string               `json:"text"`
	BBox                  BBox                 `json:"bbox"`
	Confidence            float64              `json:"confidence"`
	Table                 *normalize.TableData `json:"tableData,omitempty"`
	Chart                 *ChartMetadata       `json:"chartMetadata,omitempty"`
	Signals               DerivedSignals       `json:"signals"`
	IncomingRelationships []RelationRef        `json:"incomingRelationships"`
	OutgoingRelationships []RelationRef        `json:"outgoingRelationships"`
	ParentElement         *string              `json:"parentElement"`
	ChildElements         []string             `json:"childElements"`
	Summary               string               `json:"summary"`
}

// WireEdge is the serialized form of an edge. Endpoints are node keys.
type WireEdge struct {
	Source           string `json:"source"`
	Target           string `json:"target"`
	RelationshipType string `json:"relationshipType"`
}

// WireGraph is the JSON document persisted, cached and summarized.
type WireGraph struct {
	DocumentID string     `json:"documentId"`
	Nodes      []WireNode `json:"nodes"`
	Edges      []WireEdge `json:"edges"`
	NodeCount  int        `json:"nodeCount"`
	EdgeCount  int        `json:"edgeCount"`
}

// ToWireFormat serializes g. Nodes and edges keep insertion order, so the
// output is deterministic for a given build.
func ToWireFormat(g *DocumentGraph) *WireGraph {
	w := &WireGraph{
		DocumentID: g.DocumentID,
		Nodes:      make([]WireNode, 0, g.NodeCount()),
		Edges:      make([]WireEdge, 0, g.EdgeCount()),
		NodeCount:  g.NodeCount(),
		EdgeCount:  g.EdgeCount(),
	}

	for i := 0; i < g.NodeCount(); i++ {
		n := g.Node(i)
		wn := WireNode{
			ID:                    n.Key,
			ElementID:             n.ElementID,
			Page:                  n.Page,
			Type:                  n.Type,
			Text:                  n.Text,
			BBox:                  n.BBox,
			Confidence:            n.Confidence,
			Table:                 n.Table,
			Chart:                 n.Chart,
			Signals:               n.Signals,
			IncomingRelationships: refs(g, g.Incoming(i)),
			OutgoingRelationships: refs(g, g.Outgoing(i)),
			ChildElements:         keys(g, g.Successors(i)),
			Summary:               Summary(n),
		}
		if wn.BBox == nil {
			wn.BBox = BBox{}
		}
		// first distinct predecessor; nodes with several are ambiguous and
		// this is only a heuristic
		if preds := g.Predecessors(i); len(preds) > 0 {
			parent := g.Node(preds[0]).Key
			wn.ParentElement = &parent
		}
		w.Nodes = append(w.Nodes, wn)
	}

	for i := 0; i < g.EdgeCount(); i++ {
		e := g.Edge(i)
		w.Edges = append(w.Edges, WireEdge{
			Source:           g.Node(e.Source).Key,
			Target:           g.Node(e.Target).Key,
			RelationshipType: e.Type,
		})
	}

	return w
}

// Summary renders the one-line description of a node.
func Summary(n Node) string {
	text := strings.Join(strings.Fields(n.Text), " ")
	if utf8.RuneCountInString(text) > summaryExcerpt {
		r := []rune(text)
		text = string(r[:summaryExcerpt]) + "..."
	}
	if text == "" {
		return fmt.Sprintf("%s on page %d", n.Type, n.Page)
	}
	return fmt.Sprintf("%s on page %d: %s", n.Type, n.Page, text)
}

func refs(g *DocumentGraph, adj []Adjacent) []RelationRef {
	out := make([]RelationRef, 0, len(adj))
	for _, a := range adj {
		out = append(out, RelationRef{
			ElementID:        g.Node(a.Node).Key,
			RelationshipType: a.Type,
		})
	}
	return out
}

func keys(g *DocumentGraph, idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.Node(i).Key)
	}
	return out
}

// FromWireFormat rebuilds a read-only graph from its serialized form. Edges
// whose endpoints are not among the nodes are dropped.
func FromWireFormat(w *WireGraph) *DocumentGraph {
	g := newDocumentGraph(w.DocumentID)
	for _, wn := range w.Nodes {
		if _, dup := g.Lookup(wn.ID); dup {
			continue
		}
		g.addNode(Node{
			Key:        wn.ID,
			ElementID:  wn.ElementID,
			Page:       wn.Page,
			Type:       wn.Type,
			Text:       wn.Text,
			BBox:       wn.BBox,
			Confidence: wn.Confidence,
			Table:      wn.Table,
			Chart:      wn.Chart,
			Signals:    wn.Signals,
		})
	}
	for _, we := range w.Edges {
		src, okSrc := g.Lookup(we.Source)
		dst, okDst := g.Lookup(we.Target)
		if !okSrc || !okDst {
			continue
		}
		g.addEdge(src, dst, we.RelationshipType)
	}
	return g
}
