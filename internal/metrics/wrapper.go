package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

type MetricsHistogram interface {
	Observe(float64)
}

// Legacy interfaces for compatibility
type Counter = MetricsCounter
type Gauge = MetricsGauge
type Histogram = MetricsHistogram

// MetricsWrapper provides a simple interface for collaborators to use metrics
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PoisoningDetections() MetricsCounter {
	return &CounterWrapper{w.m.PoisoningDetections}
}

func (w *MetricsWrapper) AdversarialDetections() MetricsCounter {
	return &CounterWrapper{w.m.AdversarialDetections}
}

func (w *MetricsWrapper) DetectionLatency() MetricsHistogram {
	return &HistogramWrapper{w.m.DetectionLatency}
}

func (w *MetricsWrapper) QueriesReceived() MetricsCounter {
	return &CounterWrapper{w.m.QueriesReceived}
}

func (w *MetricsWrapper) WSReconnects() MetricsCounter {
	return &CounterWrapper{w.m.WSReconnects}
}

func (w *MetricsWrapper) DriftScore() MetricsGauge {
	return &GaugeWrapper{w.m.DriftScore}
}

func (w *MetricsWrapper) PollDuration() MetricsHistogram {
	return &HistogramWrapper{w.m.PollDuration}
}

func (w *MetricsWrapper) ObserveAssessment(threatScore float64, anomalous int) {
	w.m.ObserveAssessment(threatScore, anomalous)
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}

type HistogramWrapper struct {
	h prometheus.Histogram
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
