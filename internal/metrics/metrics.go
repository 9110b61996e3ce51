// Package metrics holds the Prometheus collectors shared by the finder,
// transport and fetch pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boorufind_requests_total",
			Help: "Outbound requests by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boorufind_request_duration_seconds",
			Help:    "Duration of outbound requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	InflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boorufind_inflight_requests",
			Help: "Outbound requests currently in flight",
		},
	)

	FanoutFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boorufind_fanout_failures_total",
			Help: "Adapter failures isolated during fan-out queries",
		},
		[]string{"source", "op"},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boorufind_downloads_total",
			Help: "Content items written to disk by outcome",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestsTotal, RequestDuration, InflightRequests, FanoutFailures, DownloadsTotal)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
