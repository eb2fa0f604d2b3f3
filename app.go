package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/athapong/docgraph/pkg/cache"
	"github.com/athapong/docgraph/pkg/config"
	"github.com/athapong/docgraph/pkg/graph"
	"github.com/athapong/docgraph/pkg/graph/embedding"
	"github.com/athapong/docgraph/pkg/graph/metrics"
	"github.com/athapong/docgraph/pkg/graph/processors"
	"github.com/athapong/docgraph/pkg/graph/storage"
	"github.com/athapong/docgraph/pkg/pipeline"
	"github.com/athapong/docgraph/pkg/recognition"
	"github.com/athapong/docgraph/pkg/store"
	"github.com/athapong/docgraph/pkg/summarize"
	"github.com/athapong/docgraph/pkg/vectorstore"
	"github.com/athapong/docgraph/services"
	"github.com/athapong/docgraph/tools"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// queueDepth is the backlog each worker accepts before uploads are refused.
const queueDepth = 64

// app owns every long-lived collaborator of the server.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	store     store.Store
	registry  *processors.Registry
	embedder  embedding.Embedder
	cache     cache.Cache
	index     *vectorstore.Qdrant
	exporters []storage.GraphStore
	answerer  tools.Answerer

	orchestrator *pipeline.Orchestrator
	queue        *pipeline.Queue

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open document store")
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	a.registry = processors.NewRegistry(processors.Limits{
		MaxPages:      cfg.MaxPages,
		MaxSlides:     cfg.MaxSlides,
		MaxParagraphs: cfg.MaxParagraphs,
		MaxTables:     cfg.MaxTables,
	})
	a.embedder = embedding.NewHashEmbedder(cfg.EmbeddingDim)
	a.cache = a.openCache(ctx)
	a.index = a.openIndex(ctx)
	a.exporters = a.openExporters(ctx)

	chat := services.NewOpenRouterClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL)
	recognizer := recognition.NewClient(chat, recognition.Options{
		Model:        cfg.VisionModel,
		ChartDetails: cfg.ChartDetails,
		Concurrency:  cfg.RecognitionConcurrency,
	}, logger)
	summarizer := summarize.NewClient(chat, summarize.Options{
		Model:       cfg.ProcessorModel,
		TokenBudget: cfg.SummaryTokenBudget,
		Counter:     summarize.NewTiktokenCounter(logger),
	}, logger)
	if cfg.HasAPIKey() {
		a.answerer = summarizer
	}

	deps := pipeline.Deps{
		Store:      a.store,
		Registry:   a.registry,
		Recognizer: recognizer,
		Builder:    graph.NewBuilder(a.embedder, logger),
		Summarizer: summarizer,
		Embedder:   a.embedder,
		Cache:      a.cache,
		Exporters:  a.exporters,
		Logger:     logger,
	}
	// a nil *Qdrant must not become a non-nil interface
	if a.index != nil {
		deps.Index = a.index
	}
	a.orchestrator = pipeline.NewOrchestrator(deps, pipeline.Options{
		APIKey:           cfg.OpenRouterAPIKey,
		MaxChunks:        cfg.MaxChunks,
		CacheTTL:         time.Duration(cfg.CacheTTLSeconds()) * time.Second,
		EmbedConcurrency: cfg.RecognitionConcurrency,
	})
	a.queue = pipeline.NewQueue(ctx, a.orchestrator, cfg.Workers, queueDepth, logger)
	return a, nil
}

// openCache connects to Redis, falling back to no cache when it is not
// configured or unreachable.
func (a *app) openCache(ctx context.Context) cache.Cache {
	if a.cfg.RedisURL == "" {
		return cache.Disabled{}
	}
	r, err := cache.NewRedis(a.cfg.RedisURL)
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = r.Ping(pingCtx)
		cancel()
	}
	if err != nil {
		a.logger.WithError(err).Warn("Redis unavailable, caching disabled")
		if r != nil {
			_ = r.Close()
		}
		return cache.Disabled{}
	}
	a.closers = append(a.closers, r.Close)
	return r
}

// openIndex connects to Qdrant and makes sure the collection exists. It
// returns nil when vector indexing is off.
func (a *app) openIndex(ctx context.Context) *vectorstore.Qdrant {
	if a.cfg.QdrantHost == "" {
		return nil
	}
	q, err := vectorstore.NewQdrant(vectorstore.Config{
		Host:       a.cfg.QdrantHost,
		Port:       a.cfg.QdrantPort,
		APIKey:     a.cfg.QdrantAPIKey,
		UseTLS:     a.cfg.QdrantUseTLS,
		Collection: a.cfg.QdrantCollection,
		Dimension:  uint64(a.cfg.EmbeddingDim),
	})
	if err == nil {
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = q.EnsureCollection(ensureCtx)
		cancel()
	}
	if err != nil {
		a.logger.WithError(err).Warn("Qdrant unavailable, vector indexing disabled")
		if q != nil {
			_ = q.Close()
		}
		return nil
	}
	a.closers = append(a.closers, q.Close)
	return q
}

func (a *app) openExporters(ctx context.Context) []storage.GraphStore {
	var out []storage.GraphStore
	if a.cfg.GraphDir != "" {
		out = append(out, storage.NewJSONGraphStore(a.cfg.GraphDir))
	}
	if a.cfg.Neo4jURI != "" {
		neo, err := storage.NewNeo4jStorage(a.cfg.Neo4jURI, a.cfg.Neo4jUsername, a.cfg.Neo4jPassword)
		if err == nil {
			err = neo.Verify(ctx)
		}
		if err != nil {
			a.logger.WithError(err).Warn("Neo4j unavailable, graph export disabled")
			if neo != nil {
				_ = neo.Close()
			}
		} else {
			out = append(out, neo)
			a.closers = append(a.closers, neo.Close)
		}
	}
	return out
}

// documents assembles the MCP tool collaborators.
func (a *app) documents() *tools.Documents {
	d := &tools.Documents{
		Store:       a.store,
		Queue:       a.queue,
		Cache:       a.cache,
		Embedder:    a.embedder,
		Answerer:    a.answerer,
		Exporters:   a.exporters,
		Extensions:  a.registry.Extensions(),
		UploadDir:   a.cfg.UploadDir,
		MaxFileSize: a.cfg.MaxFileSize,
		Logger:      a.logger,
	}
	if a.index != nil {
		d.Index = a.index
	}
	return d
}

// resume re-queues documents left pending or processing by a previous run.
func (a *app) resume(ctx context.Context) {
	for _, status := range []store.Status{store.StatusPending, store.StatusProcessing} {
		docs, err := a.store.List(ctx, store.ListOptions{Status: status})
		if err != nil {
			a.logger.WithError(err).Error("Failed to list unfinished documents")
			return
		}
		for _, doc := range docs {
			if _, err := a.queue.Enqueue(doc.ID); err != nil {
				a.logger.WithError(err).WithField("document_id", doc.ID).Warn("Failed to resume document")
				continue
			}
			a.logger.WithField("document_id", doc.ID).Info("Resumed unfinished document")
		}
	}
}

// Close drains the queue, then releases every connection.
func (a *app) Close() {
	a.queue.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Close failed")
		}
	}
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status, code := "ok", http.StatusOK
		if _, err := a.store.List(req.Context(), store.ListOptions{Limit: 1}); err != nil {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"version": version,
			"vectors": a.index != nil,
		})
	})
	return r
}

func collectSystemMetrics(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		metrics.UpdateSystemMetrics()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
