// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlu_turns_processed_total",
			Help: "Total number of utterances processed by intent and dialog action",
		},
		[]string{"intent", "action"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlu_turn_duration_seconds",
			Help:    "End-to-end duration of processUtterance",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlu_fallbacks_total",
			Help: "Turns resolved through the fallback path, by reason",
		},
		[]string{"reason"},
	)

	EmbeddingCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlu_embedding_cache_requests_total",
			Help: "Embedding cache lookups by result (hit, miss, pinned)",
		},
		[]string{"result"},
	)

	EmbeddingCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nlu_embedding_cache_evictions_total",
			Help: "Entries evicted from the embedding LRU",
		},
	)

	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlu_embedding_duration_seconds",
			Help:    "Duration of embedding backend calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"model", "status"},
	)

	OutboundRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_requests_total",
			Help: "Outbound HTTP requests by client, status code and method",
		},
		[]string{"client", "code", "method"},
	)

	OutboundRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "Duration of outbound HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client", "code", "method"},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialog_sessions_expired_total",
			Help: "Sessions found past their TTL on access",
		},
	)

	SessionStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialog_session_store_errors_total",
			Help: "Session persistence failures by operation",
		},
		[]string{"operation"},
	)

	KnowledgeSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_searches_total",
			Help: "Knowledge searches by domain and source (cache, elasticsearch, error)",
		},
		[]string{"domain", "source"},
	)

	FeedbackCorrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_corrections_total",
			Help: "Feedback corrections by stage (recorded, applied)",
		},
		[]string{"stage"},
	)

	DomainReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlu_domain_reloads_total",
			Help: "Domain model reloads by status",
		},
		[]string{"status"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
