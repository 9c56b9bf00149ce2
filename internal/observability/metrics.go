package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nearby", Name: "registrations_total", Help: "Registration attempts by outcome"},
		[]string{"outcome"},
	)
	RankRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nearby", Name: "rank_requests_total", Help: "Update-and-rank calls by outcome"},
		[]string{"outcome"},
	)
	RankLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "nearby", Name: "rank_latency_seconds", Help: "Update-and-rank latency seconds"})
	RankCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nearby",
		Name:      "rank_candidates",
		Help:      "Number of candidates considered per ranking",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	EventPublishErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "nearby", Name: "event_publish_errors_total", Help: "Position events that failed to publish"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nearby", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nearby",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
