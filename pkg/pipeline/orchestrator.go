package pipeline

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/athapong/docgraph/pkg/cache"
	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/embedding"
	"github.com/athapong/docgraph/pkg/graph/metrics"
	"github.com/athapong/docgraph/pkg/graph/processors"
	"github.com/athapong/docgraph/pkg/graph/storage"
	"github.com/athapong/docgraph/pkg/store"
	"github.com/athapong/docgraph/pkg/summarize"
	"github.com/athapong/docgraph/pkg/vectorstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyProcessing is returned when a document is already being
// processed.
var ErrAlreadyProcessing = errors.New("document is already being processed")

// Recognizer extracts layouts from pages of paginated formats.
type Recognizer interface {
	Recognize(ctx context.Context, pages []processors.PageInput) ([]graph.PageLayout, error)
}

// Summarizer produces the processed JSON of a graph.
type Summarizer interface {
	Summarize(ctx context.Context, g *graph.WireGraph) (map[string]any, error)
}

// ChunkIndex receives chunk vectors.
type ChunkIndex interface {
	StoreChunks(ctx context.Context, documentID string, chunks []vectorstore.Chunk, vectors [][]float32) error
}

// Options tunes an Orchestrator.
type Options struct {
	// APIKey gates recognition and summarization. Empty fails every run.
	APIKey    string
	MaxChunks int
	CacheTTL  time.Duration
	// EmbedConcurrency bounds parallel chunk embeddings.
	EmbedConcurrency int
}

// Deps are the collaborators of an Orchestrator. Cache and Index may be
// nil; Exporters receive a copy of every completed graph.
type Deps struct {
	Store      store.Store
	Registry   *processors.Registry
	Recognizer Recognizer
	Builder    *graph.Builder
	Summarizer Summarizer
	Embedder   embedding.Embedder
	Index      ChunkIndex
	Cache      cache.Cache
	Exporters  []storage.GraphStore
	Logger     *logrus.Logger
}

// Outcome reports what a run did. Err is set when the document failed;
// Warnings collect degraded and best-effort failures of a completed run.
type Outcome struct {
	DocumentID string
	Status     store.Status
	Err        *StageError
	Warnings   []*StageError
	Graph      *graph.WireGraph
	Summary    map[string]any
	Chunks     int
	Duration   time.Duration
}

// Orchestrator runs the processing pipeline for stored documents.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
		deps.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if deps.Cache == nil {
		deps.Cache = cache.Disabled{}
	}
	if deps.Embedder == nil {
		deps.Embedder = embedding.NewHashEmbedder(embedding.DefaultDimension)
	}
	if deps.Builder == nil {
		deps.Builder = graph.NewBuilder(deps.Embedder, deps.Logger)
	}
	if deps.Registry == nil {
		deps.Registry = processors.NewRegistry(processors.DefaultLimits)
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = 50
	}
	if opts.CacheTTL <= 0 || opts.CacheTTL > 2*time.Hour {
		opts.CacheTTL = 2 * time.Hour
	}
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = 4
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		logger:   deps.Logger,
		inFlight: make(map[string]struct{}),
	}
}

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[id]; busy {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inFlight, id)
	o.mu.Unlock()
}

// Processing reports whether a run for id is in progress.
func (o *Orchestrator) Processing(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.inFlight[id]
	return busy
}

// Process runs the pipeline for one stored document and leaves its record
// completed or failed. The returned error covers only problems reaching
// the record store; stage failures are reported in the Outcome.
func (o *Orchestrator) Process(ctx context.Context, documentID string) (*Outcome, error) {
	if !o.acquire(documentID) {
		return nil, ErrAlreadyProcessing
	}
	defer o.release(documentID)

	start := time.Now()
	log := o.logger.WithField("document_id", documentID)

	doc, err := o.deps.Store.Get(ctx, documentID)
	if err != nil {
		return nil, errors.Wrap(err, "load document")
	}
	if err := o.deps.Store.MarkProcessing(ctx, documentID); err != nil {
		return nil, errors.Wrap(err, "mark processing")
	}
	log.WithField("filename", doc.Filename).Info("Processing document")

	// a rerun must not leave a previous result readable from the cache
	if err := o.deps.Cache.Delete(ctx, documentID); err != nil {
		log.WithError(err).Warn("Failed to invalidate cached document")
	}

	// terminal writes must land even if the caller gives up
	final := context.WithoutCancel(ctx)
	out := &Outcome{DocumentID: documentID}

	if o.opts.APIKey == "" {
		return o.fail(final, out, start, &StageError{Stage: StagePrecondition, Kind: FatalPrecondition, Err: ErrMissingAPIKey})
	}

	layouts := o.extract(ctx, doc)
	if !layouts.OK() {
		return o.fail(final, out, start, layouts.Err)
	}

	built := o.build(ctx, layouts.Value, documentID)
	if !built.OK() {
		return o.fail(final, out, start, built.Err)
	}

	wire := o.serialize(built.Value)
	if !wire.OK() {
		return o.fail(final, out, start, wire.Err)
	}
	out.Graph = wire.Value

	summary := o.summarize(ctx, wire.Value)
	out.Summary = summary.Value
	if summary.Err != nil {
		out.Warnings = append(out.Warnings, summary.Err)
	}

	out.Warnings = append(out.Warnings, o.sideEffects(ctx, out, layouts.Value)...)

	err = o.deps.Store.MarkCompleted(final, documentID, store.Results{
		LayoutData:    layouts.Value,
		GraphData:     out.Graph,
		ProcessedJSON: out.Summary,
	})
	if err != nil {
		return nil, errors.Wrap(err, "mark completed")
	}

	out.Status = store.StatusCompleted
	out.Duration = time.Since(start)
	metrics.DocumentsProcessed.WithLabelValues(string(store.StatusCompleted)).Inc()
	log.WithFields(logrus.Fields{
		"nodes":    out.Graph.NodeCount,
		"edges":    out.Graph.EdgeCount,
		"chunks":   out.Chunks,
		"warnings": len(out.Warnings),
		"duration": out.Duration.String(),
	}).Info("Document processing completed")
	return out, nil
}

func (o *Orchestrator) fail(ctx context.Context, out *Outcome, start time.Time, serr *StageError) (*Outcome, error) {
	metrics.StageFailures.WithLabelValues(serr.Stage, string(serr.Kind)).Inc()
	o.logger.WithError(serr.Err).WithFields(logrus.Fields{
		"document_id": out.DocumentID,
		"stage":       serr.Stage,
		"kind":        serr.Kind,
	}).Error("Document processing failed")

	if err := o.deps.Store.MarkFailed(ctx, out.DocumentID, serr.Error()); err != nil {
		return nil, errors.Wrap(err, "mark failed")
	}

	out.Status = store.StatusFailed
	out.Err = serr
	out.Duration = time.Since(start)
	metrics.DocumentsProcessed.WithLabelValues(string(store.StatusFailed)).Inc()
	return out, nil
}

// extract produces page layouts: through recognition for paginated formats,
// directly from the file's structure for the rest.
func (o *Orchestrator) extract(ctx context.Context, doc *store.Document) (r Result[[]graph.PageLayout]) {
	defer metrics.ObserveStage(StageExtract, time.Now())
	defer func() {
		if p := recover(); p != nil {
			r = failed[[]graph.PageLayout](StageExtract, ExtractionOrGraphFailure, errors.Errorf("extract: %v", p))
		}
	}()

	fileType := doc.FileType
	if fileType == "" {
		fileType = doc.Filename
	}
	proc, err := o.deps.Registry.For(fileType)
	if err != nil {
		return failed[[]graph.PageLayout](StageExtract, ExtractionOrGraphFailure, err)
	}

	content, err := os.ReadFile(doc.FilePath)
	if err != nil {
		return failed[[]graph.PageLayout](StageExtract, ExtractionOrGraphFailure, err)
	}

	ex, err := proc.Process(ctx, content)
	if err != nil {
		return failed[[]graph.PageLayout](StageExtract, ExtractionOrGraphFailure, err)
	}
	if !ex.Paginated {
		return ok(ex.Layouts)
	}

	if o.deps.Recognizer == nil {
		return failed[[]graph.PageLayout](StageExtract, ExtractionOrGraphFailure, errors.New("no recognizer configured"))
	}
	layouts, err := o.deps.Recognizer.Recognize(ctx, ex.Pages)
	if err != nil {
		return failed[[]graph.PageLayout](StageExtract, ExtractionOrGraphFailure, err)
	}
	return ok(layouts)
}

func (o *Orchestrator) build(ctx context.Context, layouts []graph.PageLayout, documentID string) Result[*graph.DocumentGraph] {
	defer metrics.ObserveStage(StageBuild, time.Now())

	g, err := o.deps.Builder.Build(ctx, layouts, documentID)
	if err != nil {
		return failed[*graph.DocumentGraph](StageBuild, ExtractionOrGraphFailure, err)
	}
	metrics.RecordGraph(g.CountByType())
	return ok(g)
}

func (o *Orchestrator) serialize(g *graph.DocumentGraph) (r Result[*graph.WireGraph]) {
	defer func() {
		if p := recover(); p != nil {
			r = failed[*graph.WireGraph](StageSerialize, ExtractionOrGraphFailure, errors.Errorf("serialize graph: %v", p))
		}
	}()
	return ok(graph.ToWireFormat(g))
}

// summarize always yields a summary; on failure it is the degraded one and
// the error is returned alongside.
func (o *Orchestrator) summarize(ctx context.Context, g *graph.WireGraph) Result[map[string]any] {
	start := time.Now()
	defer metrics.ObserveStage(StageSummarize, start)

	var (
		summary map[string]any
		err     error
	)
	if o.deps.Summarizer == nil {
		err = errors.New("no summarizer configured")
	} else {
		summary, err = o.deps.Summarizer.Summarize(ctx, g)
	}

	var serr *StageError
	if err != nil {
		serr = o.warn(g.DocumentID, StageSummarize, DegradedEnrichment, err)
		summary = summarize.Degraded(err.Error())
	}
	summarize.Annotate(summary, time.Since(start), time.Now())
	return Result[map[string]any]{Value: summary, Err: serr}
}

// sideEffects indexes chunks, writes the cache and exports the graph
// concurrently. All of them finish before it returns; failures are only
// reported.
func (o *Orchestrator) sideEffects(ctx context.Context, out *Outcome, layouts []graph.PageLayout) []*StageError {
	var (
		mu       sync.Mutex
		warnings []*StageError
	)
	report := func(stage string, err error) {
		if err == nil {
			return
		}
		w := o.warn(out.DocumentID, stage, BestEffortSideEffectFailure, err)
		mu.Lock()
		warnings = append(warnings, w)
		mu.Unlock()
	}

	var g errgroup.Group

	g.Go(func() error {
		n, err := o.index(ctx, out.Graph)
		out.Chunks = n
		report(StageIndex, err)
		return nil
	})

	g.Go(func() error {
		defer metrics.ObserveStage(StageCache, time.Now())
		err := o.deps.Cache.Set(ctx, out.DocumentID, &cache.Entry{
			LayoutData:    layouts,
			GraphData:     out.Graph,
			ProcessedJSON: out.Summary,
		}, o.opts.CacheTTL)
		report(StageCache, err)
		return nil
	})

	for _, exp := range o.deps.Exporters {
		g.Go(func() error {
			defer metrics.ObserveStage(StageExport, time.Now())
			report(StageExport, exp.StoreGraph(ctx, out.Graph))
			return nil
		})
	}

	_ = g.Wait()
	return warnings
}

// index embeds up to MaxChunks node texts in parallel and upserts them.
func (o *Orchestrator) index(ctx context.Context, w *graph.WireGraph) (int, error) {
	defer metrics.ObserveStage(StageIndex, time.Now())

	chunks := vectorstore.Chunks(w, o.opts.MaxChunks)
	if len(chunks) == 0 || o.deps.Index == nil {
		return 0, nil
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.EmbedConcurrency)
	for i, c := range chunks {
		g.Go(func() error {
			v, err := o.deps.Embedder.Embed(gctx, c.Text)
			if err != nil {
				return errors.Wrapf(err, "embed chunk %d", i)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := o.deps.Index.StoreChunks(ctx, w.DocumentID, chunks, vectors); err != nil {
		return 0, err
	}
	metrics.ChunksIndexed.Add(float64(len(chunks)))
	return len(chunks), nil
}

func (o *Orchestrator) warn(documentID, stage string, kind Kind, err error) *StageError {
	metrics.StageFailures.WithLabelValues(stage, string(kind)).Inc()
	o.logger.WithError(err).WithFields(logrus.Fields{
		"document_id": documentID,
		"stage":       stage,
		"kind":        kind,
	}).Warn("Stage degraded")
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
