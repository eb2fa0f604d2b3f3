package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/athapong/docgraph/pkg/cache"
	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/embedding"
	"github.com/athapong/docgraph/pkg/graph/processors"
	"github.com/athapong/docgraph/pkg/pipeline"
	"github.com/athapong/docgraph/pkg/store"
	"github.com/athapong/docgraph/pkg/vectorstore"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu   sync.Mutex
	ids  []string
	done func(id string) (pipeline.Done, bool)
}

func (q *fakeQueue) Enqueue(id string) (<-chan pipeline.Done, error) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()

	ch := make(chan pipeline.Done, 1)
	if q.done != nil {
		if d, ok := q.done(id); ok {
			ch <- d
		}
	}
	return ch, nil
}

type fakeIndex struct {
	deleted []string
	hits    []vectorstore.Hit
	filter  string
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, documentID string, limit uint64) ([]vectorstore.Hit, error) {
	f.filter = documentID
	if uint64(len(f.hits)) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) DeleteDocument(ctx context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeAnswerer struct {
	query string
	nodes int
}

func (f *fakeAnswerer) Answer(ctx context.Context, query string, g *graph.WireGraph) (map[string]any, error) {
	f.query = query
	f.nodes = g.NodeCount
	return map[string]any{"answer": "42", "confidence": 0.9}, nil
}

func newDocuments(t *testing.T) (*Documents, *fakeQueue) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	q := &fakeQueue{}
	d := &Documents{
		Store:       store.NewMemory(),
		Queue:       q,
		Extensions:  processors.NewRegistry(processors.DefaultLimits).Extensions(),
		UploadDir:   t.TempDir(),
		MaxFileSize: 1024,
		Logger:      logger,
	}
	d.defaults()
	return d, q
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sampleWireGraph(t *testing.T, documentID string) *graph.WireGraph {
	t.Helper()
	logger, _ := test.NewNullLogger()
	b := graph.NewBuilder(embedding.NewHashEmbedder(16), logger)
	g, err := b.Build(context.Background(), []graph.PageLayout{{
		PageNumber: 1,
		Layout: graph.Layout{Elements: []graph.Element{
			{ID: "e1", Type: graph.ElementHeading, Text: "Quarterly report", Confidence: 1},
			{ID: "e2", Type: graph.ElementParagraph, Text: "Revenue grew.", Confidence: 1},
		}},
	}}, documentID)
	require.NoError(t, err)
	return graph.ToWireFormat(g)
}

func completedDocument(t *testing.T, d *Documents) *store.Document {
	t.Helper()
	ctx := context.Background()
	doc := &store.Document{Filename: "report.html", FileType: ".html"}
	require.NoError(t, d.Store.Create(ctx, doc))
	require.NoError(t, d.Store.MarkProcessing(ctx, doc.ID))
	require.NoError(t, d.Store.MarkCompleted(ctx, doc.ID, store.Results{
		GraphData:     sampleWireGraph(t, doc.ID),
		ProcessedJSON: map[string]any{"summary": "A report"},
	}))
	return doc
}

func TestUpload_QueuesDocument(t *testing.T) {
	d, q := newDocuments(t)
	path := writeFile(t, "page.html", "<h1>Hi</h1>")

	res, err := d.uploadHandler(map[string]interface{}{"file_path": path})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	out := decode(t, res)
	id := out["id"].(string)
	assert.Equal(t, "pending", out["status"])
	assert.Equal(t, []string{id}, q.ids)

	doc, err := d.Store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "page.html", doc.Filename)
	assert.Equal(t, ".html", doc.FileType)
	assert.Equal(t, store.StatusPending, doc.Status)

	copied, err := os.ReadFile(doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1>", string(copied))
	assert.Equal(t, d.UploadDir, filepath.Dir(doc.FilePath))
}

func TestUpload_Rejections(t *testing.T) {
	d, q := newDocuments(t)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing path", map[string]interface{}{}, "file_path"},
		{"unsupported", map[string]interface{}{"file_path": writeFile(t, "a.zip", "PK")}, "Unsupported file type"},
		{"too large", map[string]interface{}{"file_path": writeFile(t, "big.html", string(make([]byte, 2048)))}, "File too large"},
		{"directory", map[string]interface{}{"file_path": t.TempDir(), "filename": "dir.pdf"}, "is a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.uploadHandler(tt.args)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.want)
		})
	}
	assert.Empty(t, q.ids)
}

func TestUpload_Wait(t *testing.T) {
	d, q := newDocuments(t)
	q.done = func(id string) (pipeline.Done, bool) {
		return pipeline.Done{Outcome: &pipeline.Outcome{
			DocumentID: id,
			Status:     store.StatusCompleted,
			Graph:      &graph.WireGraph{NodeCount: 3, EdgeCount: 2},
			Summary:    map[string]any{"summary": "done"},
			Chunks:     3,
			Warnings: []*pipeline.StageError{
				{Stage: pipeline.StageCache, Kind: pipeline.BestEffortSideEffectFailure, Err: assert.AnError},
			},
		}}, true
	}

	res, err := d.uploadHandler(map[string]interface{}{"file_path": writeFile(t, "p.html", "<p>x</p>"), "wait": true})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "completed", out["status"])
	assert.EqualValues(t, 3, out["node_count"])
	assert.EqualValues(t, 2, out["edge_count"])
	assert.Equal(t, "done", out["summary"])
	assert.Len(t, out["warnings"], 1)
}

func TestUpload_WaitTimesOut(t *testing.T) {
	d, _ := newDocuments(t)
	d.WaitTimeout = 10 * time.Millisecond

	res, err := d.uploadHandler(map[string]interface{}{"file_path": writeFile(t, "p.html", "<p>x</p>"), "wait": true})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "processing", out["status"])
}

func TestProcess(t *testing.T) {
	d, q := newDocuments(t)
	ctx := context.Background()

	res, err := d.processHandler(map[string]interface{}{"document_id": "missing"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	doc := &store.Document{Filename: "a.html", FileType: ".html"}
	require.NoError(t, d.Store.Create(ctx, doc))
	res, err = d.processHandler(map[string]interface{}{"document_id": doc.ID})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{doc.ID}, q.ids)

	require.NoError(t, d.Store.MarkProcessing(ctx, doc.ID))
	res, err = d.processHandler(map[string]interface{}{"document_id": doc.ID})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "already being processed")
}

func TestGet_FromStoreThenCache(t *testing.T) {
	d, _ := newDocuments(t)
	mr := miniredis.RunT(t)
	d.Cache = cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	doc := completedDocument(t, d)

	res, err := d.getHandler(map[string]interface{}{"document_id": doc.ID})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, "report.html", out["filename"])
	assert.NotContains(t, out, "graph_data")
	assert.Nil(t, out["cached"])

	require.NoError(t, d.Cache.Set(context.Background(), doc.ID, &cache.Entry{
		GraphData:     &graph.WireGraph{DocumentID: doc.ID},
		ProcessedJSON: map[string]any{"summary": "cached summary"},
	}, time.Hour))

	res, err = d.getHandler(map[string]interface{}{"document_id": doc.ID, "include_graph": true})
	require.NoError(t, err)
	out = decode(t, res)
	assert.Equal(t, true, out["cached"])
	assert.Equal(t, "cached summary", out["processed_json"].(map[string]any)["summary"])
	assert.Contains(t, out, "graph_data")

	res, err = d.getHandler(map[string]interface{}{"document_id": "nope"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestList(t *testing.T) {
	d, _ := newDocuments(t)
	completedDocument(t, d)
	require.NoError(t, d.Store.Create(context.Background(), &store.Document{Filename: "b.pdf", FileType: ".pdf"}))

	res, err := d.listHandler(map[string]interface{}{})
	require.NoError(t, err)
	out := decode(t, res)
	assert.EqualValues(t, 2, out["count"])
	for _, doc := range out["documents"].([]any) {
		assert.NotContains(t, doc.(map[string]any), "graph_data")
	}

	res, err = d.listHandler(map[string]interface{}{"status": "completed", "limit": float64(10)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, res)["count"])

	res, err = d.listHandler(map[string]interface{}{"status": "done"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDelete(t *testing.T) {
	d, _ := newDocuments(t)
	idx := &fakeIndex{}
	d.Index = idx
	ctx := context.Background()

	path := writeFile(t, "a.html", "<p>x</p>")
	doc := &store.Document{Filename: "a.html", FileType: ".html", FilePath: path}
	require.NoError(t, d.Store.Create(ctx, doc))

	res, err := d.deleteHandler(map[string]interface{}{"document_id": doc.ID})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, true, out["deleted"])
	assert.Empty(t, out["warnings"])
	assert.Equal(t, []string{doc.ID}, idx.deleted)
	assert.NoFileExists(t, path)

	_, err = d.Store.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	busy := &store.Document{Filename: "b.html", FileType: ".html"}
	require.NoError(t, d.Store.Create(ctx, busy))
	require.NoError(t, d.Store.MarkProcessing(ctx, busy.ID))
	res, err = d.deleteHandler(map[string]interface{}{"document_id": busy.ID})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearch(t *testing.T) {
	d, _ := newDocuments(t)

	res, err := d.searchHandler(map[string]interface{}{"query": "revenue"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	idx := &fakeIndex{hits: []vectorstore.Hit{
		{Chunk: vectorstore.Chunk{Text: "Revenue grew."}, DocumentID: "d1", Score: 0.9},
		{Chunk: vectorstore.Chunk{Text: "Costs fell."}, DocumentID: "d1", Score: 0.5},
	}}
	d.Index = idx
	res, err = d.searchHandler(map[string]interface{}{"query": "revenue", "document_id": "d1", "limit": float64(1)})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Len(t, out["results"], 1)
	assert.Equal(t, "d1", idx.filter)

	res, err = d.searchHandler(map[string]interface{}{"query": "  "})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestElementContext(t *testing.T) {
	d, _ := newDocuments(t)
	doc := completedDocument(t, d)

	res, err := d.elementContextHandler(map[string]interface{}{"document_id": doc.ID, "element_id": "e1", "page": float64(1)})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	out := decode(t, res)
	assert.Equal(t, "p1_e1", out["element"].(map[string]any)["id"])
	require.Len(t, out["successors"], 1)

	res, err = d.elementContextHandler(map[string]interface{}{"document_id": doc.ID, "element_id": "p9_e9"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not found")

	pending := &store.Document{Filename: "x.html", FileType: ".html"}
	require.NoError(t, d.Store.Create(context.Background(), pending))
	res, err = d.elementContextHandler(map[string]interface{}{"document_id": pending.ID, "element_id": "p1_e1"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "has no graph")
}

func TestAsk(t *testing.T) {
	d, _ := newDocuments(t)
	doc := completedDocument(t, d)

	res, err := d.askHandler(map[string]interface{}{"document_id": doc.ID, "query": "Why?"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	ans := &fakeAnswerer{}
	d.Answerer = ans
	res, err = d.askHandler(map[string]interface{}{"document_id": doc.ID, "query": "Why?"})
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "42", out["answer"])
	assert.Equal(t, "Why?", ans.query)
	assert.Equal(t, 2, ans.nodes)
}

func TestFindElements(t *testing.T) {
	d, _ := newDocuments(t)
	doc := completedDocument(t, d)

	res, err := d.findElementsHandler(map[string]interface{}{"document_id": doc.ID, "types": "heading, table"})
	require.NoError(t, err)
	out := decode(t, res)
	assert.EqualValues(t, 1, out["count"])
	assert.Equal(t, "p1_e1", out["elements"].([]any)[0].(map[string]any)["id"])

	res, err = d.findElementsHandler(map[string]interface{}{"document_id": doc.ID, "text": "REVENUE", "page": float64(1)})
	require.NoError(t, err)
	out = decode(t, res)
	assert.EqualValues(t, 1, out["count"])
	assert.Equal(t, "p1_e2", out["elements"].([]any)[0].(map[string]any)["id"])

	res, err = d.findElementsHandler(map[string]interface{}{"document_id": doc.ID, "limit": float64(1)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, res)["count"])

	res, err = d.findElementsHandler(map[string]interface{}{"document_id": "missing"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
