package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job metrics
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_jobs_started_total",
			Help: "Total number of research jobs started",
		},
		[]string{"launcher"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_jobs_completed_total",
			Help: "Total number of research jobs that reached a terminal status",
		},
		[]string{"launcher", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_job_duration_seconds",
			Help:    "Research job wall time in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"launcher"},
	)

	StatusEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_status_events_total",
			Help: "Total number of status events recorded",
		},
	)

	// Generation metrics
	Generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_generations_total",
			Help: "Total number of model generations",
		},
		[]string{"identity", "provider", "kind", "outcome"},
	)

	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_generation_latency_seconds",
			Help:    "Model generation latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"identity", "kind"},
	)

	FallbackSubstitutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_fallback_substitutions_total",
			Help: "Generations retried on the fallback identity after a rate-limit error",
		},
		[]string{"primary", "fallback"},
	)

	// Evidence metrics
	EvidenceSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_evidence_searches_total",
			Help: "Total number of evidence searches",
		},
		[]string{"kind", "outcome"},
	)

	EvidenceSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_evidence_search_latency_seconds",
			Help:    "Evidence search latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	EvidenceDocuments = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_evidence_documents",
			Help:    "Documents returned per evidence search",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"kind"},
	)

	EvidenceSessionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_evidence_sessions_open",
			Help: "Evidence sessions currently open",
		},
		[]string{"kind"},
	)

	// Vector search metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_vector_searches_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_embedding_latency_seconds",
			Help:    "Embedding latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_embedding_cache_misses_total",
			Help: "Embedding cache misses",
		},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_stream_subscribers",
			Help: "Active status stream subscribers",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_stream_events_dropped_total",
			Help: "Status events dropped because a subscriber was slow",
		},
	)

	// Archive metrics
	ArchiveUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_archive_uploads_total",
			Help: "Report archive uploads",
		},
		[]string{"outcome"},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_http_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RecordJobMetrics records metrics for a job that reached a terminal status
func RecordJobMetrics(launcher, status string, durationSeconds float64) {
	JobsCompleted.WithLabelValues(launcher, status).Inc()
	if durationSeconds > 0 {
		JobDuration.WithLabelValues(launcher).Observe(durationSeconds)
	}
}

// RecordGeneration records one model generation
func RecordGeneration(identity, provider, kind, outcome string, durationSeconds float64) {
	Generations.WithLabelValues(identity, provider, kind, outcome).Inc()
	GenerationLatency.WithLabelValues(identity, kind).Observe(durationSeconds)
}

// RecordEvidenceSearch records one evidence search
func RecordEvidenceSearch(kind, outcome string, durationSeconds float64, documents int) {
	EvidenceSearches.WithLabelValues(kind, outcome).Inc()
	EvidenceSearchLatency.WithLabelValues(kind).Observe(durationSeconds)
	if outcome == "ok" {
		EvidenceDocuments.WithLabelValues(kind).Observe(float64(documents))
	}
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}
