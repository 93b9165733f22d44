package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Core counters and gauges. Dashboards live elsewhere; the service only
// emits.
var (
	LocationsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoinsight_locations_ingested_total",
		Help: "Location updates processed, by outcome.",
	}, []string{"outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoinsight_geofence_transitions_total",
		Help: "Geofence membership transitions emitted, by type.",
	}, []string{"type"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoinsight_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by result.",
	}, []string{"result"})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoinsight_rate_limit_denials_total",
		Help: "Requests denied by the admission controller, by window scope.",
	}, []string{"scope"})

	WebhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geoinsight_webhook_queue_depth",
		Help: "Jobs waiting in the webhook dispatch queue.",
	})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoinsight_ingest_duration_seconds",
		Help:    "Wall time of one location update through the pipeline.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoinsight_http_requests_total",
		Help: "HTTP requests served, by method and status.",
	}, []string{"method", "status"})
)
