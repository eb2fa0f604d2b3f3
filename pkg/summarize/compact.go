package summarize

import (
	"encoding/json"
	"sync"
	"unicode/utf8"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/normalize"
	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
	"github.com/sirupsen/logrus"
)

// TokenCounter returns the number of prompt tokens text costs.
type TokenCounter func(text string) int

// NewTiktokenCounter counts with the cl100k_base encoding. The encoding is
// loaded on first use; if it cannot be loaded, ApproxTokens is used.
func NewTiktokenCounter(logger *logrus.Logger) TokenCounter {
	var (
		once sync.Once
		enc  *tiktoken.Tiktoken
	)
	return func(text string) int {
		once.Do(func() {
			e, err := tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				logger.WithError(err).Warn("Tokenizer unavailable, estimating token counts")
				return
			}
			enc = e
		})
		if enc == nil {
			return ApproxTokens(text)
		}
		return len(enc.Encode(text, nil, nil))
	}
}

// ApproxTokens estimates four characters per token.
func ApproxTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

type promptNode struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Page     int                  `json:"page"`
	Text     string               `json:"text,omitempty"`
	Summary  string               `json:"summary,omitempty"`
	Table    *normalize.TableData `json:"table,omitempty"`
	Chart    *graph.ChartMetadata `json:"chart,omitempty"`
	Children []string             `json:"children,omitempty"`
}

type promptGraph struct {
	DocumentID string           `json:"documentId"`
	NodeCount  int              `json:"nodeCount"`
	EdgeCount  int              `json:"edgeCount"`
	Nodes      []promptNode     `json:"nodes"`
	Edges      []graph.WireEdge `json:"edges,omitempty"`
	Truncated  bool             `json:"truncated,omitempty"`
}

// fit renders g for a prompt, shedding detail until it fits the token
// budget: first the edge list, then full text and table data, then trailing
// nodes. At least one node is always kept.
func (c *Client) fit(g *graph.WireGraph) (string, error) {
	full := promptGraph{
		DocumentID: g.DocumentID,
		NodeCount:  g.NodeCount,
		EdgeCount:  g.EdgeCount,
		Nodes:      make([]promptNode, 0, len(g.Nodes)),
		Edges:      g.Edges,
	}
	for _, n := range g.Nodes {
		full.Nodes = append(full.Nodes, promptNode{
			ID:       n.ID,
			Type:     string(n.Type),
			Page:     n.Page,
			Text:     n.Text,
			Table:    n.Table,
			Chart:    n.Chart,
			Children: n.ChildElements,
		})
	}

	out, err := json.Marshal(full)
	if err != nil {
		return "", errors.Wrap(err, "encode graph")
	}
	if c.within(out) {
		return string(out), nil
	}

	full.Edges = nil
	full.Truncated = true
	if out, err = json.Marshal(full); err != nil || c.within(out) {
		return string(out), err
	}

	brief := make([]promptNode, len(full.Nodes))
	for i, n := range full.Nodes {
		brief[i] = promptNode{
			ID:       n.ID,
			Type:     n.Type,
			Page:     n.Page,
			Summary:  g.Nodes[i].Summary,
			Children: n.Children,
		}
	}
	full.Nodes = brief

	for {
		if out, err = json.Marshal(full); err != nil {
			return "", errors.Wrap(err, "encode graph")
		}
		if c.within(out) || len(full.Nodes) <= 1 {
			break
		}
		full.Nodes = full.Nodes[:(len(full.Nodes)+1)/2]
	}

	c.logger.WithFields(logrus.Fields{
		"document_id": g.DocumentID,
		"nodes_kept":  len(full.Nodes),
		"nodes_total": len(g.Nodes),
	}).Info("Graph compacted to fit token budget")
	return string(out), nil
}

func (c *Client) within(payload []byte) bool {
	return c.opts.TokenBudget <= 0 || c.counter(string(payload)) <= c.opts.TokenBudget
}
