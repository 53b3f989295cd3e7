package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groksearch_searches_total",
			Help: "Total number of searches by outcome",
		},
		[]string{"outcome"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groksearch_search_duration_seconds",
			Help:    "Search duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90, 180},
		},
	)

	StreamLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groksearch_stream_lines_total",
			Help: "Upstream stream lines by how they were handled",
		},
		[]string{"kind"},
	)

	TokenConsumeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "groksearch_token_consume_failures_total",
			Help: "Total number of failed token usage updates",
		},
	)

	TokensAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "groksearch_tokens_available",
			Help: "Number of tokens with remaining quota per pool",
		},
		[]string{"pool"},
	)
)

// Stream line kinds.
const (
	LineMessage = "message"
	LineEmpty   = "empty"
	LineInvalid = "invalid"
	LineOther   = "other"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
