// Package vectorstore indexes graph node chunks in Qdrant.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"
)

// Chunk is the text of one graph node prepared for indexing.
type Chunk struct {
	Text        string `json:"text"`
	ElementID   string `json:"elementId"` // graph node key, e.g. p1_e2
	ElementType string `json:"elementType"`
	Page        int    `json:"page"`
}

// Hit is one search result.
type Hit struct {
	Chunk
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float32 `json:"score"`
}

// Index stores and searches chunk vectors.
type Index interface {
	EnsureCollection(ctx context.Context) error
	StoreChunks(ctx context.Context, documentID string, chunks []Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, documentID string, limit uint64) ([]Hit, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Chunks takes the nodes of g that carry text, in graph order, up to limit.
func Chunks(g *graph.WireGraph, limit int) []Chunk {
	var chunks []Chunk
	for _, n := range g.Nodes {
		if limit > 0 && len(chunks) >= limit {
			break
		}
		if strings.TrimSpace(n.Text) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Text:        n.Text,
			ElementID:   n.ID,
			ElementType: string(n.Type),
			Page:        n.Page,
		})
	}
	return chunks
}

// PointID is the stable id of a document's i-th chunk, so re-indexing a
// document overwrites its points.
func PointID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s_%d", documentID, index))).String()
}

// Points pairs chunks with their vectors.
func Points(documentID string, chunks []Chunk, vectors [][]float32) ([]*qdrant.PointStruct, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%d chunks but %d vectors", len(chunks), len(vectors))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(documentID, i)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id":  documentID,
				"chunk_index":  i,
				"text":         c.Text,
				"element_id":   c.ElementID,
				"element_type": c.ElementType,
				"page":         c.Page,
			}),
		})
	}
	return points, nil
}

// Config locates a Qdrant server.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  uint64
}

// Qdrant is an Index backed by a Qdrant collection.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
}

func NewQdrant(cfg Config) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Qdrant")
	}
	return &Qdrant{client: client, collection: cfg.Collection, dimension: cfg.Dimension}, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return errors.Wrap(err, "failed to check collection")
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     q.dimension,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	return errors.Wrapf(err, "failed to create collection %s", q.collection)
}

func (q *Qdrant) StoreChunks(ctx context.Context, documentID string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	points, err := Points(documentID, chunks, vectors)
	if err != nil {
		return err
	}
	if err := q.EnsureCollection(ctx); err != nil {
		return err
	}

	wait := true
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	return errors.Wrap(err, "failed to upsert points")
}

// Search returns the chunks nearest to vector. A non-empty documentID
// restricts results to that document.
func (q *Qdrant) Search(ctx context.Context, vector []float32, documentID string, limit uint64) ([]Hit, error) {
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{
				Enable: true,
			},
		},
	}
	if documentID != "" {
		req.Filter = documentFilter(documentID)
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search in Qdrant")
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			Chunk: Chunk{
				Text:        p.Payload["text"].GetStringValue(),
				ElementID:   p.Payload["element_id"].GetStringValue(),
				ElementType: p.Payload["element_type"].GetStringValue(),
				Page:        int(p.Payload["page"].GetIntegerValue()),
			},
			DocumentID: p.Payload["document_id"].GetStringValue(),
			ChunkIndex: int(p.Payload["chunk_index"].GetIntegerValue()),
			Score:      p.Score,
		})
	}
	return hits, nil
}

func (q *Qdrant) DeleteDocument(ctx context.Context, documentID string) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return errors.Wrap(err, "failed to check collection")
	}
	if !exists {
		return nil
	}

	wait := true
	_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: documentFilter(documentID),
			},
		},
	})
	return errors.Wrapf(err, "failed to delete points for document %s", documentID)
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "document_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{
								Keyword: documentID,
							},
						},
					},
				},
			},
		},
	}
}
