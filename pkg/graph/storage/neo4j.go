package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/normalize"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
)

// Neo4jStorage implements GraphStore on Neo4j. Every element becomes an
// :Element node keyed by (documentId, id); every edge a :RELATES
// relationship carrying its type and insertion position.
type Neo4jStorage struct {
	driver neo4j.Driver
}

// NewNeo4jStorage creates a new Neo4j storage instance
func NewNeo4jStorage(uri, username, password string) (*Neo4jStorage, error) {
	auth := neo4j.BasicAuth(username, password, "")
	driver, err := neo4j.NewDriver(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	return &Neo4jStorage{
		driver: driver,
	}, nil
}

// Close releases the driver.
func (s *Neo4jStorage) Close() error {
	if s.driver != nil {
		return s.driver.Close()
	}
	return nil
}

// Verify checks connectivity.
func (s *Neo4jStorage) Verify(ctx context.Context) error {
	return s.driver.VerifyConnectivity()
}

const deleteDocumentCypher = `
	MATCH (e:Element {documentId: $documentId})
	DETACH DELETE e
`

const createElementCypher = `
	CREATE (e:Element {
		documentId: $documentId,
		id: $id,
		position: $position,
		elementId: $elementId,
		page: $page,
		type: $type,
		text: $text,
		bbox: $bbox,
		confidence: $confidence,
		contentEmbedding: $contentEmbedding,
		categoryEmbedding: $categoryEmbedding,
		combinedEmbedding: $combinedEmbedding,
		tableData: $tableData,
		chartMetadata: $chartMetadata,
		created_at: datetime()
	})
`

const createRelationCypher = `
	MATCH (from:Element {documentId: $documentId, id: $source})
	MATCH (to:Element {documentId: $documentId, id: $target})
	CREATE (from)-[r:RELATES {type: $type, position: $position}]->(to)
`

// StoreGraph replaces the stored graph of a document in one transaction.
func (s *Neo4jStorage) StoreGraph(ctx context.Context, g *graph.WireGraph) error {
	session := s.driver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close()

	_, err := session.WriteTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		if _, err := tx.Run(deleteDocumentCypher, map[string]interface{}{"documentId": g.DocumentID}); err != nil {
			return nil, err
		}

		for i, n := range g.Nodes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			params, err := elementParams(g.DocumentID, i, n)
			if err != nil {
				return nil, err
			}
			if _, err := tx.Run(createElementCypher, params); err != nil {
				return nil, err
			}
		}

		for i, e := range g.Edges {
			params := map[string]interface{}{
				"documentId": g.DocumentID,
				"source":     e.Source,
				"target":     e.Target,
				"type":       e.RelationshipType,
				"position":   i,
			}
			if _, err := tx.Run(createRelationCypher, params); err != nil {
				return nil, err
			}
		}

		return nil, nil
	})

	return err
}

func elementParams(documentID string, position int, n graph.WireNode) (map[string]interface{}, error) {
	bbox := make([]interface{}, 0, len(n.BBox))
	for _, v := range n.BBox {
		bbox = append(bbox, v)
	}

	params := map[string]interface{}{
		"documentId":        documentID,
		"id":                n.ID,
		"position":          position,
		"elementId":         n.ElementID,
		"page":              n.Page,
		"type":              string(n.Type),
		"text":              n.Text,
		"bbox":              bbox,
		"confidence":        n.Confidence,
		"contentEmbedding":  n.Signals.ContentEmbedding,
		"categoryEmbedding": n.Signals.CategoryEmbedding,
		"combinedEmbedding": n.Signals.CombinedEmbedding,
		"tableData":         nil,
		"chartMetadata":     nil,
	}

	// Neo4j properties cannot hold maps, so nested structures go in as JSON
	if n.Table != nil {
		raw, err := json.Marshal(n.Table)
		if err != nil {
			return nil, err
		}
		params["tableData"] = string(raw)
	}
	if n.Chart != nil {
		raw, err := json.Marshal(n.Chart)
		if err != nil {
			return nil, err
		}
		params["chartMetadata"] = string(raw)
	}
	return params, nil
}

// LoadGraph reads a document graph back in its original node and edge
// order.
func (s *Neo4jStorage) LoadGraph(ctx context.Context, documentID string) (*graph.WireGraph, error) {
	session := s.driver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close()

	out, err := session.ReadTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		partial := &graph.WireGraph{DocumentID: documentID}

		result, err := tx.Run(`
			MATCH (e:Element {documentId: $documentId})
			RETURN e
			ORDER BY e.position
		`, map[string]interface{}{"documentId": documentID})
		if err != nil {
			return nil, err
		}
		for result.Next() {
			nodeData, ok := result.Record().Values[0].(neo4j.Node)
			if !ok {
				continue
			}
			n, err := wireNode(nodeData.Props)
			if err != nil {
				return nil, err
			}
			partial.Nodes = append(partial.Nodes, n)
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		if len(partial.Nodes) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, documentID)
		}

		result, err = tx.Run(`
			MATCH (from:Element {documentId: $documentId})-[r:RELATES]->(to:Element)
			RETURN from.id AS source, to.id AS target, r.type AS type
			ORDER BY r.position
		`, map[string]interface{}{"documentId": documentID})
		if err != nil {
			return nil, err
		}
		for result.Next() {
			rec := result.Record()
			source, _ := rec.Get("source")
			target, _ := rec.Get("target")
			relType, _ := rec.Get("type")
			partial.Edges = append(partial.Edges, graph.WireEdge{
				Source:           asString(source),
				Target:           asString(target),
				RelationshipType: asString(relType),
			})
		}
		if err := result.Err(); err != nil {
			return nil, err
		}

		return partial, nil
	})
	if err != nil {
		return nil, err
	}

	// relationship views are derived, so rebuild them from nodes and edges
	return graph.ToWireFormat(graph.FromWireFormat(out.(*graph.WireGraph))), nil
}

// DeleteGraph removes every element of a document.
func (s *Neo4jStorage) DeleteGraph(ctx context.Context, documentID string) error {
	session := s.driver.NewSession(neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close()

	_, err := session.WriteTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		return tx.Run(deleteDocumentCypher, map[string]interface{}{"documentId": documentID})
	})
	return err
}

func wireNode(props map[string]interface{}) (graph.WireNode, error) {
	n := graph.WireNode{
		ID:         asString(props["id"]),
		ElementID:  asString(props["elementId"]),
		Page:       int(asInt(props["page"])),
		Type:       graph.ElementType(asString(props["type"])),
		Text:       asString(props["text"]),
		BBox:       graph.BBox{},
		Confidence: asFloat(props["confidence"]),
		Signals: graph.DerivedSignals{
			ContentEmbedding:  asBool(props["contentEmbedding"]),
			CategoryEmbedding: asBool(props["categoryEmbedding"]),
			CombinedEmbedding: asBool(props["combinedEmbedding"]),
		},
	}
	if list, ok := props["bbox"].([]interface{}); ok {
		for _, v := range list {
			n.BBox = append(n.BBox, asFloat(v))
		}
	}
	if raw := asString(props["tableData"]); raw != "" {
		var t normalize.TableData
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return n, fmt.Errorf("decode table of %s: %w", n.ID, err)
		}
		n.Table = &t
	}
	if raw := asString(props["chartMetadata"]); raw != "" {
		var c graph.ChartMetadata
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return n, fmt.Errorf("decode chart of %s: %w", n.ID, err)
		}
		n.Chart = &c
	}
	return n, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	}
	return 0
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
