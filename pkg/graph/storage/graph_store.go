package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/athapong/docgraph/pkg/graph"
)

// ErrGraphNotFound is returned when no graph is stored for a document.
var ErrGraphNotFound = errors.New("graph not found")

// GraphStore defines an interface for persisting serialized document graphs
type GraphStore interface {
	// StoreGraph persists a document graph, replacing any previous version
	StoreGraph(ctx context.Context, g *graph.WireGraph) error

	// LoadGraph loads the graph of one document
	LoadGraph(ctx context.Context, documentID string) (*graph.WireGraph, error)

	// DeleteGraph removes the graph of one document
	DeleteGraph(ctx context.Context, documentID string) error
}

// JSONGraphStore implements GraphStore with one JSON file per document
type JSONGraphStore struct {
	dir string
}

// NewJSONGraphStore creates a new JSON graph store rooted at dir
func NewJSONGraphStore(dir string) *JSONGraphStore {
	return &JSONGraphStore{
		dir: dir,
	}
}

// Path returns the file a document's graph is stored in.
func (s *JSONGraphStore) Path(documentID string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(documentID)
	return filepath.Join(s.dir, name+".graph.json")
}

// StoreGraph stores the document graph as indented JSON
func (s *JSONGraphStore) StoreGraph(ctx context.Context, g *graph.WireGraph) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.DocumentID == "" {
		return errors.New("graph has no document id")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}

	// write then rename so readers never see a partial file
	tmp := s.Path(g.DocumentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path(g.DocumentID))
}

// LoadGraph loads a document graph from its JSON file
func (s *JSONGraphStore) LoadGraph(ctx context.Context, documentID string) (*graph.WireGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(documentID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}

	var g graph.WireGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode graph %s: %w", documentID, err)
	}

	return &g, nil
}

// DeleteGraph removes a document's JSON file. Deleting a missing graph is
// not an error.
func (s *JSONGraphStore) DeleteGraph(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.Path(documentID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
