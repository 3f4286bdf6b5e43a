// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MarketplaceRequestsTotal counts outbound marketplace calls by outcome.
	MarketplaceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_marketplace_requests_total",
			Help: "Outbound marketplace API requests",
		},
		[]string{"marketplace", "code"},
	)

	MarketplaceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channelsync_marketplace_request_duration_seconds",
			Help:    "Latency of outbound marketplace API requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"marketplace"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channelsync_marketplace_breaker_state",
			Help: "Circuit breaker state per marketplace",
		},
		[]string{"marketplace"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_token_refreshes_total",
			Help: "Access token fetches by marketplace and outcome",
		},
		[]string{"marketplace", "outcome"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_sync_runs_total",
			Help: "Sync runs by marketplace, kind and terminal state",
		},
		[]string{"marketplace", "kind", "state"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channelsync_sync_run_duration_seconds",
			Help:    "Wall time of sync runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"marketplace", "kind"},
	)

	// SyncItemsTotal counts per-item outcomes: reconciled, skipped, failed.
	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_sync_items_total",
			Help: "Items processed by sync runs",
		},
		[]string{"marketplace", "kind", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelsync_http_requests_total",
			Help: "Inbound HTTP requests",
		},
		[]string{"method", "route", "code"},
	)
)

func ObserveMarketplaceRequest(marketplace string, code int, d time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	MarketplaceRequestsTotal.WithLabelValues(marketplace, label).Inc()
	MarketplaceRequestDuration.WithLabelValues(marketplace).Observe(d.Seconds())
}

func ObserveSyncRun(marketplace, kind, state string, d time.Duration, reconciled, skipped, failed int) {
	SyncRunsTotal.WithLabelValues(marketplace, kind, state).Inc()
	SyncRunDuration.WithLabelValues(marketplace, kind).Observe(d.Seconds())
	SyncItemsTotal.WithLabelValues(marketplace, kind, "reconciled").Add(float64(reconciled))
	SyncItemsTotal.WithLabelValues(marketplace, kind, "skipped").Add(float64(skipped))
	SyncItemsTotal.WithLabelValues(marketplace, kind, "failed").Add(float64(failed))
}
