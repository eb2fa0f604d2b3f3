package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// System metrics
	SystemMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docgraph_system_memory_bytes",
		Help: "Current system memory usage",
	})

	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docgraph_system_goroutines",
		Help: "Number of goroutines",
	})

	// Pipeline metrics
	PipelineQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docgraph_pipeline_queue_length",
		Help: "Number of documents waiting to be processed",
	})

	DocumentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgraph_documents_processed_total",
			Help: "Documents that reached a terminal status",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docgraph_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgraph_stage_failures_total",
			Help: "Pipeline stage failures by error kind",
		},
		[]string{"stage", "kind"},
	)

	RecognitionPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgraph_recognition_pages_total",
			Help: "Pages sent to recognition by outcome",
		},
		[]string{"outcome"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgraph_llm_tokens_total",
			Help: "Tokens consumed by LLM calls",
		},
		[]string{"purpose", "kind"},
	)

	// Graph metrics
	GraphNodeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgraph_graph_nodes_built_total",
			Help: "Nodes added to document graphs",
		},
		[]string{"node_type"},
	)

	GraphEdgeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgraph_graph_edges_built_total",
			Help: "Edges added to document graphs",
		},
		[]string{"edge_type"},
	)

	ChunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docgraph_chunks_indexed_total",
		Help: "Chunks upserted into the vector index",
	})

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgraph_cache_hits_total",
			Help: "Number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgraph_cache_misses_total",
			Help: "Number of cache misses",
		},
		[]string{"cache_type"},
	)
)

// UpdateSystemMetrics updates system-level metrics
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	SystemMemoryUsage.Set(float64(m.Alloc))
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}

// ObserveStage records how long a stage ran since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordGraph adds per-type node and edge counts of one built graph.
func RecordGraph(nodes, edges map[string]int) {
	for t, n := range nodes {
		GraphNodeCount.WithLabelValues(t).Add(float64(n))
	}
	for t, n := range edges {
		GraphEdgeCount.WithLabelValues(t).Add(float64(n))
	}
}
