// ABOUTME: Prometheus instrumentation for the docksentry daemon.
// ABOUTME: Counts events, scans, blocks, remediations, and alert log activity.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan result label values.
const (
	ScanCacheHit = "cache_hit"
	ScanOK       = "ok"
	ScanFailed   = "failed"
)

// Metrics holds the daemon's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	EventsProcessed *prometheus.CounterVec
	Scans           *prometheus.CounterVec
	Blocks          prometheus.Counter
	Remediations    *prometheus.CounterVec
	AlertsAppended  *prometheus.CounterVec
	IngestRequests  prometheus.Counter
	AlertLogRecords prometheus.Gauge
}

// New creates the collector set registered on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docksentry_runtime_events_total",
				Help: "Runtime events processed by the ingestion loop, by action",
			},
			[]string{"action"},
		),
		Scans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docksentry_image_scans_total",
				Help: "Vulnerability scan gateway outcomes (cache_hit, ok, failed)",
			},
			[]string{"result"},
		),
		Blocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docksentry_containers_blocked_total",
				Help: "Containers blocked by the policy engine in enforce mode",
			},
		),
		Remediations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docksentry_remediations_total",
				Help: "Remediation actions attempted, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		AlertsAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docksentry_alerts_appended_total",
				Help: "Alert records appended to the alert log, by source",
			},
			[]string{"source"},
		),
		IngestRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docksentry_falco_ingest_requests_total",
				Help: "Accepted external alert ingest requests",
			},
		),
		AlertLogRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docksentry_alert_log_records",
				Help: "Records in the alert log after the most recent compaction",
			},
		),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
