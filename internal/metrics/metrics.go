// Package metrics exposes recall's Prometheus instrumentation. The server
// serves these at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts semantic cache lookups by tier outcome
	// (exact, near, suggestion, miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recall",
		Name:      "cache_lookups_total",
		Help:      "Semantic cache lookups by tier outcome.",
	}, []string{"tier"})

	// DegradedSubSearches counts sub-index searches degraded to empty
	// results by timeout or error.
	DegradedSubSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recall",
		Name:      "degraded_sub_searches_total",
		Help:      "Sub-index searches degraded to empty by timeout or error.",
	}, []string{"index"})

	// QueryDuration observes end-to-end answer latency.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "recall",
		Name:      "query_duration_seconds",
		Help:      "End-to-end answer pipeline latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// ExternalCallFailures counts degraded external calls by kind
	// (rerank, summarize, extract, synthesize).
	ExternalCallFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recall",
		Name:      "external_call_failures_total",
		Help:      "External LLM/reranker calls degraded by failure or timeout.",
	}, []string{"kind"})
)
