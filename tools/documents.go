package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/athapong/docgraph/pkg/cache"
	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/algorithms"
	"github.com/athapong/docgraph/pkg/graph/embedding"
	"github.com/athapong/docgraph/pkg/graph/query"
	"github.com/athapong/docgraph/pkg/graph/storage"
	"github.com/athapong/docgraph/pkg/pipeline"
	"github.com/athapong/docgraph/pkg/store"
	"github.com/athapong/docgraph/pkg/vectorstore"
	"github.com/athapong/docgraph/services"
	"github.com/athapong/docgraph/util"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultWaitTimeout = 5 * time.Minute
	defaultCallTimeout = 2 * time.Minute
	defaultListLimit   = 20
	maxSearchLimit     = 50
	maxContextDepth    = 5
)

// Enqueuer schedules documents for processing.
type Enqueuer interface {
	Enqueue(documentID string) (<-chan pipeline.Done, error)
}

// SearchIndex is the part of the vector index the tools use.
type SearchIndex interface {
	Search(ctx context.Context, vector []float32, documentID string, limit uint64) ([]vectorstore.Hit, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Answerer answers questions against a document graph.
type Answerer interface {
	Answer(ctx context.Context, query string, g *graph.WireGraph) (map[string]any, error)
}

// Documents holds the collaborators of the document tools. Index, Answerer
// and Exporters are optional.
type Documents struct {
	Store       store.Store
	Queue       Enqueuer
	Cache       cache.Cache
	Index       SearchIndex
	Embedder    embedding.Embedder
	Answerer    Answerer
	Exporters   []storage.GraphStore
	Extensions  []string
	UploadDir   string
	MaxFileSize int64
	WaitTimeout time.Duration
	CallTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *logrus.Logger
}

func (d *Documents) defaults() {
	if d.Cache == nil {
		d.Cache = cache.Disabled{}
	}
	if d.Embedder == nil {
		d.Embedder = embedding.NewHashEmbedder(embedding.DefaultDimension)
	}
	if d.WaitTimeout <= 0 {
		d.WaitTimeout = defaultWaitTimeout
	}
	if d.CallTimeout <= 0 {
		d.CallTimeout = defaultCallTimeout
	}
	if d.HTTPClient == nil {
		d.HTTPClient = services.DefaultHttpClient()
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
		d.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func RegisterDocumentTools(s *server.MCPServer, d *Documents) {
	d.defaults()

	uploadTool := mcp.NewTool("upload_document",
		mcp.WithDescription("Upload a local document (PDF, DOCX, PPTX, XLSX, HTML or image) and queue it for graph processing"),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path of the file to upload")),
		mcp.WithString("filename", mcp.Description("Name to record for the document (default: base name of file_path)")),
		mcp.WithBoolean("wait", mcp.Description("Wait for processing to finish (default: false)")),
	)

	processTool := mcp.NewTool("process_document",
		mcp.WithDescription("Queue an uploaded document for (re)processing"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document ID")),
		mcp.WithBoolean("wait", mcp.Description("Wait for processing to finish (default: false)")),
	)

	getTool := mcp.NewTool("get_document",
		mcp.WithDescription("Get a document's status and processed summary"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document ID")),
		mcp.WithBoolean("include_graph", mcp.Description("Include the serialized graph (default: false)")),
		mcp.WithBoolean("include_layout", mcp.Description("Include the extracted page layouts (default: false)")),
	)

	listTool := mcp.NewTool("list_documents",
		mcp.WithDescription("List documents, newest first"),
		mcp.WithString("status", mcp.Description("Filter by status: pending, processing, completed, failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default: 20)")),
		mcp.WithNumber("offset", mcp.Description("Number of documents to skip (default: 0)")),
	)

	deleteTool := mcp.NewTool("delete_document",
		mcp.WithDescription("Delete a document with its vectors, cache entry and exported graphs"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document ID")),
	)

	searchTool := mcp.NewTool("search_chunks",
		mcp.WithDescription("Semantic search over indexed document chunks"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithString("document_id", mcp.Description("Restrict the search to one document")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default: 5)")),
	)

	contextTool := mcp.NewTool("element_context",
		mcp.WithDescription("Get an element of a processed document with its neighbours in the graph"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document ID")),
		mcp.WithString("element_id", mcp.Required(), mcp.Description("Node key (e.g. p1_e2), or element id when page is given")),
		mcp.WithNumber("page", mcp.Description("Page number of the element")),
		mcp.WithNumber("depth", mcp.Description("Neighbourhood depth (default: 1, max: 5)")),
	)

	askTool := mcp.NewTool("ask_document",
		mcp.WithDescription("Answer a question using a processed document's graph"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document ID")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Question to answer")),
	)

	s.AddTool(uploadTool, util.ErrorGuard(d.uploadHandler))
	s.AddTool(processTool, util.ErrorGuard(d.processHandler))
	s.AddTool(getTool, util.ErrorGuard(d.getHandler))
	s.AddTool(listTool, util.ErrorGuard(d.listHandler))
	s.AddTool(deleteTool, util.ErrorGuard(d.deleteHandler))
	s.AddTool(searchTool, util.ErrorGuard(d.searchHandler))
	s.AddTool(contextTool, util.ErrorGuard(d.elementContextHandler))
	s.AddTool(askTool, util.ErrorGuard(d.askHandler))

	findTool := mcp.NewTool("find_elements",
		mcp.WithDescription("Find elements of a processed document by type, page, text or confidence"),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document ID")),
		mcp.WithString("types", mcp.Description("Comma separated element types, e.g. heading,table")),
		mcp.WithString("text", mcp.Description("Case insensitive text the element must contain")),
		mcp.WithNumber("page", mcp.Description("Page number")),
		mcp.WithNumber("min_confidence", mcp.Description("Minimum recognition confidence")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of elements (default: 20)")),
	)
	s.AddTool(findTool, util.ErrorGuard(d.findElementsHandler))

	registerFetchTool(s, d)
}

func (d *Documents) findElementsHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	id, ok := arguments["document_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("document_id must be a non-empty string"), nil
	}

	q := query.New().SetLimit(defaultListLimit)
	if types, _ := arguments["types"].(string); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.AddType(graph.ElementType(t))
			}
		}
	}
	if text, _ := arguments["text"].(string); text != "" {
		q.AddFilter(query.Filter{Field: query.FieldText, Operator: query.Contains, Value: text})
	}
	if page, ok := arguments["page"].(float64); ok && page > 0 {
		q.AddFilter(query.Filter{Field: query.FieldPage, Operator: query.Eq, Value: page})
	}
	if conf, ok := arguments["min_confidence"].(float64); ok {
		q.AddFilter(query.Filter{Field: query.FieldConfidence, Operator: query.Gte, Value: conf})
	}
	if limit, ok := arguments["limit"].(float64); ok && limit > 0 {
		q.SetLimit(int(limit))
	}

	ctx, cancel := d.context()
	defer cancel()

	w, res := d.loadGraph(ctx, id)
	if res != nil {
		return res, nil
	}
	nodes, err := q.Run(w)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"document_id": id,
		"elements":    nodes,
		"count":       len(nodes),
	})
}

func (d *Documents) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.CallTimeout)
}

func (d *Documents) uploadHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	filePath, ok := arguments["file_path"].(string)
	if !ok || filePath == "" {
		return mcp.NewToolResultError("file_path must be a non-empty string"), nil
	}
	name, _ := arguments["filename"].(string)
	if name == "" {
		name = filepath.Base(filePath)
	}
	wait, _ := arguments["wait"].(bool)

	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(d.Extensions, ext) {
		return mcp.NewToolResultError(fmt.Sprintf("Unsupported file type %q. Allowed: %s", ext, strings.Join(d.Extensions, ", "))), nil
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "stat upload")
	}
	if info.IsDir() {
		return mcp.NewToolResultError(fmt.Sprintf("%s is a directory", filePath)), nil
	}
	if d.MaxFileSize > 0 && info.Size() > d.MaxFileSize {
		return mcp.NewToolResultError(fmt.Sprintf("File too large: %d bytes (max %d)", info.Size(), d.MaxFileSize)), nil
	}

	id := store.NewID()
	dest := filepath.Join(d.UploadDir, id+ext)
	if err := copyFile(filePath, dest); err != nil {
		return nil, err
	}
	return d.register(&store.Document{
		ID:       id,
		Filename: name,
		FileType: ext,
		FilePath: dest,
		FileSize: info.Size(),
	}, wait)
}

// register records an uploaded file and schedules it. The file is removed
// if the record cannot be created.
func (d *Documents) register(doc *store.Document, wait bool) (*mcp.CallToolResult, error) {
	ctx, cancel := d.context()
	defer cancel()

	if err := d.Store.Create(ctx, doc); err != nil {
		_ = os.Remove(doc.FilePath)
		return nil, errors.Wrap(err, "create document")
	}
	d.Logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"size":        doc.FileSize,
	}).Info("Document uploaded")

	return d.schedule(doc.ID, wait)
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "create upload dir")
	}
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open upload")
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "create upload copy")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return errors.Wrap(err, "copy upload")
	}
	return out.Close()
}

func (d *Documents) processHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	id, ok := arguments["document_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("document_id must be a non-empty string"), nil
	}
	wait, _ := arguments["wait"].(bool)

	ctx, cancel := d.context()
	defer cancel()

	doc, err := d.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Document %s not found", id)), nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Status == store.StatusProcessing {
		return mcp.NewToolResultError(pipeline.ErrAlreadyProcessing.Error()), nil
	}
	return d.schedule(id, wait)
}

// schedule enqueues a document and, when wait is set, blocks until it is
// done or WaitTimeout passes.
func (d *Documents) schedule(id string, wait bool) (*mcp.CallToolResult, error) {
	done, err := d.Queue.Enqueue(id)
	if err != nil {
		return nil, errors.Wrap(err, "enqueue document")
	}
	if !wait {
		return jsonResult(map[string]any{
			"id":      id,
			"status":  store.StatusPending,
			"message": "Document queued for processing",
		})
	}

	timer := time.NewTimer(d.WaitTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.Err != nil {
			return nil, res.Err
		}
		return jsonResult(outcomeView(res.Outcome))
	case <-timer.C:
		return jsonResult(map[string]any{
			"id":      id,
			"status":  store.StatusProcessing,
			"message": "Still processing; poll get_document for the result",
		})
	}
}

func outcomeView(out *pipeline.Outcome) map[string]any {
	view := map[string]any{
		"id":               out.DocumentID,
		"status":           out.Status,
		"chunks":           out.Chunks,
		"duration_seconds": out.Duration.Seconds(),
	}
	if out.Err != nil {
		view["error"] = out.Err.Error()
		view["stage"] = out.Err.Stage
	}
	if out.Graph != nil {
		view["node_count"] = out.Graph.NodeCount
		view["edge_count"] = out.Graph.EdgeCount
	}
	if out.Summary != nil {
		view["summary"] = out.Summary["summary"]
	}
	warnings := make([]string, 0, len(out.Warnings))
	for _, w := range out.Warnings {
		warnings = append(warnings, fmt.Sprintf("%s: %v", w.Stage, w))
	}
	view["warnings"] = warnings
	return view
}

func (d *Documents) getHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	id, ok := arguments["document_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("document_id must be a non-empty string"), nil
	}
	includeGraph, _ := arguments["include_graph"].(bool)
	includeLayout, _ := arguments["include_layout"].(bool)

	ctx, cancel := d.context()
	defer cancel()

	entry, err := d.Cache.Get(ctx, id)
	if err == nil {
		view := map[string]any{
			"id":             id,
			"status":         store.StatusCompleted,
			"cached":         true,
			"processed_json": entry.ProcessedJSON,
		}
		if includeGraph {
			view["graph_data"] = entry.GraphData
		}
		if includeLayout {
			view["layout_data"] = entry.LayoutData
		}
		return jsonResult(view)
	}
	if !errors.Is(err, cache.ErrMiss) {
		d.Logger.WithError(err).WithField("document_id", id).Warn("Cache read failed")
	}

	doc, err := d.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Document %s not found", id)), nil
	}
	if err != nil {
		return nil, err
	}
	if !includeGraph {
		doc.GraphData = nil
	}
	if !includeLayout {
		doc.LayoutData = nil
	}
	return jsonResult(doc)
}

func (d *Documents) listHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	opts := store.ListOptions{Limit: defaultListLimit}
	if s, _ := arguments["status"].(string); s != "" {
		status := store.Status(s)
		switch status {
		case store.StatusPending, store.StatusProcessing, store.StatusCompleted, store.StatusFailed:
			opts.Status = status
		default:
			return mcp.NewToolResultError(fmt.Sprintf("Invalid status %q. Use pending, processing, completed or failed", s)), nil
		}
	}
	if v, ok := arguments["limit"].(float64); ok && v > 0 {
		opts.Limit = int(v)
	}
	if v, ok := arguments["offset"].(float64); ok && v > 0 {
		opts.Offset = int(v)
	}

	ctx, cancel := d.context()
	defer cancel()

	docs, err := d.Store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		doc.LayoutData = nil
		doc.GraphData = nil
		doc.ProcessedJSON = nil
	}
	return jsonResult(map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

func (d *Documents) deleteHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	id, ok := arguments["document_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("document_id must be a non-empty string"), nil
	}

	ctx, cancel := d.context()
	defer cancel()

	doc, err := d.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Document %s not found", id)), nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Status == store.StatusProcessing {
		return mcp.NewToolResultError("Cannot delete a document while it is being processed"), nil
	}
	if err := d.Store.Delete(ctx, id); err != nil {
		return nil, errors.Wrap(err, "delete document")
	}

	log := d.Logger.WithField("document_id", id)
	warnings := make([]string, 0)
	warn := func(what string, err error) {
		if err == nil {
			return
		}
		log.WithError(err).Warnf("Failed to delete %s", what)
		warnings = append(warnings, fmt.Sprintf("%s: %v", what, err))
	}

	if d.Index != nil {
		warn("vectors", d.Index.DeleteDocument(ctx, id))
	}
	warn("cache entry", d.Cache.Delete(ctx, id))
	for _, exp := range d.Exporters {
		if err := exp.DeleteGraph(ctx, id); !errors.Is(err, storage.ErrGraphNotFound) {
			warn("exported graph", err)
		}
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); !errors.Is(err, os.ErrNotExist) {
			warn("uploaded file", err)
		}
	}

	log.Info("Document deleted")
	return jsonResult(map[string]any{
		"id":       id,
		"deleted":  true,
		"warnings": warnings,
	})
}

func (d *Documents) searchHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	if d.Index == nil {
		return mcp.NewToolResultError("Vector search is not configured (set QDRANT_HOST)"), nil
	}
	query, ok := arguments["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query must be a non-empty string"), nil
	}
	documentID, _ := arguments["document_id"].(string)
	limit := 5
	if v, ok := arguments["limit"].(float64); ok && v > 0 {
		limit = min(int(v), maxSearchLimit)
	}

	ctx, cancel := d.context()
	defer cancel()

	vec, err := d.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}
	hits, err := d.Index.Search(ctx, vec, documentID, uint64(limit))
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{
		"query":   query,
		"results": hits,
	})
}

func (d *Documents) elementContextHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	id, ok := arguments["document_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("document_id must be a non-empty string"), nil
	}
	key, ok := arguments["element_id"].(string)
	if !ok || key == "" {
		return mcp.NewToolResultError("element_id must be a non-empty string"), nil
	}
	if page, ok := arguments["page"].(float64); ok && page > 0 {
		key = graph.NodeKey(int(page), key)
	}
	depth := 1
	if v, ok := arguments["depth"].(float64); ok && v > 0 {
		depth = min(int(v), maxContextDepth)
	}

	ctx, cancel := d.context()
	defer cancel()

	w, res := d.loadGraph(ctx, id)
	if res != nil {
		return res, nil
	}
	ec, err := algorithms.Context(ctx, graph.FromWireFormat(w), key, depth)
	if errors.Is(err, algorithms.ErrUnknownElement) {
		return mcp.NewToolResultError(fmt.Sprintf("Element %s not found in document %s", key, id)), nil
	}
	if err != nil {
		return nil, err
	}
	return jsonResult(ec)
}

func (d *Documents) askHandler(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	if d.Answerer == nil {
		return mcp.NewToolResultError("Question answering requires OPENROUTER_API_KEY"), nil
	}
	id, ok := arguments["document_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("document_id must be a non-empty string"), nil
	}
	query, ok := arguments["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query must be a non-empty string"), nil
	}

	ctx, cancel := d.context()
	defer cancel()

	w, res := d.loadGraph(ctx, id)
	if res != nil {
		return res, nil
	}
	answer, err := d.Answerer.Answer(ctx, query, w)
	if err != nil {
		return nil, err
	}
	return jsonResult(answer)
}

// loadGraph returns the graph of a completed document, from the cache when
// possible. A non-nil result is a tool error to hand back as is.
func (d *Documents) loadGraph(ctx context.Context, id string) (*graph.WireGraph, *mcp.CallToolResult) {
	if entry, err := d.Cache.Get(ctx, id); err == nil && entry.GraphData != nil {
		return entry.GraphData, nil
	}

	doc, err := d.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Document %s not found", id))
	}
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Error: %v", err))
	}
	if doc.Status != store.StatusCompleted || doc.GraphData == nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Document %s has no graph (status: %s)", id, doc.Status))
	}
	return doc.GraphData, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode result")
	}
	return mcp.NewToolResultText(string(data)), nil
}
