// Package store persists document records and their processing results.
package store

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/athapong/docgraph/pkg/graph"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Status is the processing state of a document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further processing will change the record.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is one uploaded file and everything derived from it.
type Document struct {
	ID            string             `json:"id"`
	Filename      string             `json:"filename"`
	FileType      string             `json:"file_type"`
	FilePath      string             `json:"file_path"`
	FileSize      int64              `json:"file_size"`
	Status        Status             `json:"status"`
	LayoutData    []graph.PageLayout `json:"layout_data,omitempty"`
	GraphData     *graph.WireGraph   `json:"graph_data,omitempty"`
	ProcessedJSON map[string]any     `json:"processed_json,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ProcessedAt   *time.Time         `json:"processed_at,omitempty"`
}

// Results are the outputs recorded when processing completes.
type Results struct {
	LayoutData    []graph.PageLayout
	GraphData     *graph.WireGraph
	ProcessedJSON map[string]any
}

// ListOptions filters List. A zero Limit means no limit.
type ListOptions struct {
	Status Status
	Limit  int
	Offset int
}

// Store is the document record store.
type Store interface {
	// Create inserts doc as pending, assigning an ID when it has none.
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	// List returns documents newest first.
	List(ctx context.Context, opts ListOptions) ([]*Document, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, message string) error
	// MarkCompleted records results, sets processed-at and clears any
	// previous error.
	MarkCompleted(ctx context.Context, id string, results Results) error
	Delete(ctx context.Context, id string) error
	Close() error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a new lexically sortable document id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// Open selects a store by URL: "memory", "postgres://..." or
// "postgresql://...", and otherwise a SQLite path with an optional
// "sqlite://" prefix.
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case url == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgres(ctx, url)
	default:
		return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"))
	}
}

func now() time.Time {
	return time.Now().UTC()
}
