// Package metrics provides Prometheus metrics collection for the model
// integrity engine. It defines and manages all detection, drift, and system
// metrics that are exposed via the Prometheus metrics endpoint for
// monitoring and alerting.
//
// The package includes metrics for detection pipelines, fingerprinting,
// drift checks, theft analysis, alert delivery, and general system health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the integrity engine.
// It provides counters, gauges, and histograms for comprehensive monitoring
// of detection pipelines, monitoring sessions, and alert delivery.
type Metrics struct {
	// Detection pipeline metrics
	PoisoningDetections   prometheus.Counter   // Total number of poisoning detection runs
	AdversarialDetections prometheus.Counter   // Total number of adversarial detection runs
	AnomaliesFound        prometheus.Counter   // Total number of anomalous samples flagged
	ThreatScores          prometheus.Histogram // Distribution of ensemble threat scores
	DetectionLatency      prometheus.Histogram // Detection pipeline latency in seconds

	// Integrity and drift metrics
	FingerprintsComputed prometheus.Counter // Total number of fingerprints computed
	TamperAlerts         prometheus.Counter // Total number of fingerprint mismatches found
	DriftChecks          prometheus.Counter // Total number of drift checks performed
	DriftDetected        prometheus.Counter // Total number of checks that crossed the drift threshold
	DriftScore           prometheus.Gauge   // Most recent overall drift score

	// Theft analysis metrics
	TheftAnalyses    prometheus.Counter // Total number of extraction analyses performed
	TheftProbability prometheus.Gauge   // Most recent theft probability
	QueriesReceived  prometheus.Counter // Total number of query records ingested

	// Monitoring session metrics
	ActiveSessions prometheus.Gauge     // Number of running monitoring sessions
	PollDuration   prometheus.Histogram // Duration of one monitoring poll cycle in seconds
	PollFailures   prometheus.Counter   // Total number of failed poll cycles

	// Transport and delivery metrics
	WSReconnects    prometheus.Counter // Total number of WebSocket reconnections
	AlertsPublished prometheus.Counter // Total number of alert events delivered
	AlertFailures   prometheus.Counter // Total number of alert delivery failures

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
// This is the standard way to create metrics for production use.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PoisoningDetections: factory.NewCounter(prometheus.CounterOpts{
			Name: "poisoning_detections_total",
			Help: "Total number of poisoning detection runs",
		}),
		AdversarialDetections: factory.NewCounter(prometheus.CounterOpts{
			Name: "adversarial_detections_total",
			Help: "Total number of adversarial detection runs",
		}),
		AnomaliesFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomalies_found_total",
			Help: "Total number of anomalous samples flagged",
		}),
		ThreatScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "threat_scores",
			Help:    "Distribution of ensemble threat scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DetectionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "detection_latency_seconds",
			Help:    "Detection pipeline latency in seconds (end-to-end)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		FingerprintsComputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fingerprints_computed_total",
			Help: "Total number of fingerprints computed",
		}),
		TamperAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tamper_alerts_total",
			Help: "Total number of fingerprint mismatches found",
		}),
		DriftChecks: factory.NewCounter(prometheus.CounterOpts{
			Name: "drift_checks_total",
			Help: "Total number of drift checks performed",
		}),
		DriftDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "drift_detected_total",
			Help: "Total number of checks that crossed the drift threshold",
		}),
		DriftScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "drift_score",
			Help: "Most recent overall drift score",
		}),
		TheftAnalyses: factory.NewCounter(prometheus.CounterOpts{
			Name: "theft_analyses_total",
			Help: "Total number of extraction analyses performed",
		}),
		TheftProbability: factory.NewGauge(prometheus.GaugeOpts{
			Name: "theft_probability",
			Help: "Most recent theft probability",
		}),
		QueriesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "queries_received_total",
			Help: "Total number of query records ingested",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Number of running monitoring sessions",
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "poll_duration_seconds",
			Help:    "Duration of one monitoring poll cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PollFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "poll_failures_total",
			Help: "Total number of failed poll cycles",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total number of WebSocket reconnections",
		}),
		AlertsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "alerts_published_total",
			Help: "Total number of alert events delivered",
		}),
		AlertFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "alert_failures_total",
			Help: "Total number of alert delivery failures",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// ObserveAssessment records the outcome of one detection run.
func (m *Metrics) ObserveAssessment(threatScore float64, anomalous int) {
	m.ThreatScores.Observe(threatScore)
	if anomalous > 0 {
		m.AnomaliesFound.Add(float64(anomalous))
	}
}

// GetErrorRate calculates the current error rate based on poll cycles and errors.
// Returns the ratio of errors to drift checks, or 0 if no checks have been
// recorded. This is useful for health endpoints and alerting rules.
func (m *Metrics) GetErrorRate() float64 {
	var totalChecks, totalErrors float64

	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch *mf.Name {
		case "drift_checks_total":
			for _, m := range mf.Metric {
				totalChecks = *m.Counter.Value
			}
		case "errors_total":
			for _, m := range mf.Metric {
				totalErrors = *m.Counter.Value
			}
		}
	}

	if totalChecks == 0 {
		return 0
	}

	return totalErrors / totalChecks
}
