package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-process Store. Records are deep copied on the way in and
// out so callers cannot mutate stored state.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*Document)}
}

func (m *Memory) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = NewID()
	}
	ts := now()
	doc.Status = StatusPending
	doc.CreatedAt, doc.UpdatedAt = ts, ts

	c, err := clone(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return errors.Errorf("document %s already exists", doc.ID)
	}
	m.docs[doc.ID] = c
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(doc)
}

func (m *Memory) List(ctx context.Context, opts ListOptions) ([]*Document, error) {
	m.mu.RLock()
	docs := make([]*Document, 0, len(m.docs))
	for _, d := range m.docs {
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		c, err := clone(d)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		docs = append(docs, c)
	}
	m.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID > docs[j].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(docs) {
			return []*Document{}, nil
		}
		docs = docs[opts.Offset:]
	}
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs, nil
}

func (m *Memory) update(id string, fn func(*Document)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	fn(doc)
	doc.UpdatedAt = now()
	return nil
}

func (m *Memory) MarkProcessing(ctx context.Context, id string) error {
	return m.update(id, func(d *Document) {
		d.Status = StatusProcessing
	})
}

func (m *Memory) MarkFailed(ctx context.Context, id string, message string) error {
	return m.update(id, func(d *Document) {
		d.Status = StatusFailed
		d.ErrorMessage = message
	})
}

func (m *Memory) MarkCompleted(ctx context.Context, id string, results Results) error {
	c, err := clone(&Document{
		LayoutData:    results.LayoutData,
		GraphData:     results.GraphData,
		ProcessedJSON: results.ProcessedJSON,
	})
	if err != nil {
		return err
	}
	return m.update(id, func(d *Document) {
		ts := now()
		d.Status = StatusCompleted
		d.LayoutData = c.LayoutData
		d.GraphData = c.GraphData
		d.ProcessedJSON = c.ProcessedJSON
		d.ErrorMessage = ""
		d.ProcessedAt = &ts
	})
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) Close() error { return nil }

func clone(doc *Document) (*Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "copy document")
	}
	var c Document
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrap(err, "copy document")
	}
	return &c, nil
}
