// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kickfolio"

var (
	// CatalogRequests counts catalog reads by outcome: hit, miss, stale.
	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_requests_total",
		Help:      "Catalog reads served by the prefetch cache, by outcome.",
	}, []string{"result"})

	CatalogFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_fetch_errors_total",
		Help:      "Failed catalog loader calls.",
	})

	CatalogInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_invalidations_total",
		Help:      "Whole-cache invalidations of the prefetch cache.",
	})

	Preloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preloads_total",
		Help:      "Media URL preloads, by outcome.",
	}, []string{"result"})

	TrackLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "track_loads_total",
		Help:      "Engine track loads, by outcome.",
	}, []string{"result"})

	PulsesFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pulses_fired_total",
		Help:      "Kick activation pulses fired by all engines.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Open websocket playback sessions.",
	})

	AnalyticsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analytics_events_total",
		Help:      "Analytics events recorded, by type.",
	}, []string{"type"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests, by route template and status code.",
	}, []string{"route", "code"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
