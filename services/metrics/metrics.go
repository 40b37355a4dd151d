// Package metrics holds the Prometheus metrics of the API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campus_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_gate_decisions_total",
			Help: "Total number of authorization gate decisions",
		},
		[]string{"decision"},
	)

	SessionsRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_sessions_revoked_total",
			Help: "Total number of sessions revoked by an administrator",
		},
	)

	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_heartbeats_total",
			Help: "Total number of session heartbeats",
		},
		[]string{"result"},
	)

	PanelConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campus_panel_connections",
			Help: "Number of open admin panel connections",
		},
	)

	PanelLogoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_panel_logouts_total",
			Help: "Total number of logout directives sent to admin panels",
		},
		[]string{"reason"},
	)

	ShieldBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_shield_blocks_total",
			Help: "Total number of public requests rejected by the refresh shield",
		},
	)

	ContentWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campus_content_writes_total",
			Help: "Total number of content writes",
		},
		[]string{"collection", "action"},
	)
)

func RecordHTTPRequest(method, route string, code int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordGateDecision(allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	GateDecisionsTotal.WithLabelValues(decision).Inc()
}

func RecordHeartbeat(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	HeartbeatsTotal.WithLabelValues(result).Inc()
}
