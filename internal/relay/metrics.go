package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCompleted     = "completed"
	outcomeUpstreamError = "upstream_error"
	outcomeTimeout       = "timeout"
	outcomeClientGone    = "client_gone"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uzbai_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uzbai_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	streamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uzbai_relay_streams_total",
			Help: "Relayed completion streams by outcome",
		},
		[]string{"outcome"},
	)

	fragmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uzbai_relay_fragments_total",
			Help: "Text fragments relayed to clients",
		},
	)

	firstFragmentSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uzbai_relay_first_fragment_seconds",
			Help:    "Time from request to first relayed fragment",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
		},
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uzbai_rate_limit_hits_total",
			Help: "Requests rejected by the per-IP rate limiter",
		},
	)
)
