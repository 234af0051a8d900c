// Package theft scores query patterns against a deployed model for signs
// of model extraction: sustained high-frequency querying, low query
// diversity, and correlated responses.
package theft

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RiskLevel classifies a theft probability.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// QueryRecord is one observed query against the model.
type QueryRecord struct {
	ModelID   string    `json:"model_id"`
	QueryHash string    `json:"query_hash"`
	Source    string    `json:"source,omitempty"`
	Ts        time.Time `json:"ts"`
}

// TheftAssessment is the outcome of one extraction analysis.
type TheftAssessment struct {
	ModelID              string    `json:"model_id"`
	QueryCount           int       `json:"query_count"`
	Frequency            float64   `json:"frequency"`
	Diversity            float64   `json:"diversity"`
	ResponseCorrelation  float64   `json:"response_correlation"`
	CorrelationAvailable bool      `json:"correlation_available"`
	TheftProbability     float64   `json:"theft_probability"`
	RiskLevel            RiskLevel `json:"risk_level"`
	WindowSeconds        float64   `json:"window_seconds"`
}

// ResponseCorrelator is the external collaborator that measures similarity
// between model responses for a query set. It is optional; without it
// correlation contributes nothing to the probability.
type ResponseCorrelator interface {
	Correlation(ctx context.Context, modelID string, queries []QueryRecord) (float64, error)
}

// AnalyzerConfig tunes the extraction analyzer.
type AnalyzerConfig struct {
	// Window bounds how long query records are retained.
	Window time.Duration `yaml:"window"`
	// FrequencyCeiling is the queries-per-second rate that normalizes to a
	// frequency score of 1.0.
	FrequencyCeiling float64 `yaml:"frequencyCeiling"`
}

// Analyzer accumulates query records per model in a sliding window and
// scores extraction likelihood on demand. Safe for concurrent use.
type Analyzer struct {
	mu         sync.RWMutex
	byModel    map[string][]QueryRecord
	window     time.Duration
	ceiling    float64
	correlator ResponseCorrelator
}

// NewAnalyzer creates an analyzer. The correlator may be nil.
func NewAnalyzer(cfg AnalyzerConfig, correlator ResponseCorrelator) *Analyzer {
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	ceiling := cfg.FrequencyCeiling
	if ceiling <= 0 {
		ceiling = 10
	}
	return &Analyzer{
		byModel:    make(map[string][]QueryRecord),
		window:     window,
		ceiling:    ceiling,
		correlator: correlator,
	}
}

// Record adds a query observation, evicting records older than the window.
func (a *Analyzer) Record(rec QueryRecord) {
	if rec.Ts.IsZero() {
		rec.Ts = time.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	records := append(a.byModel[rec.ModelID], rec)
	cutoff := rec.Ts.Add(-a.window)
	start := 0
	for start < len(records) && records[start].Ts.Before(cutoff) {
		start++
	}
	a.byModel[rec.ModelID] = records[start:]
}

// Analyze scores the retained window for one model. An empty window yields
// a zero-probability low-risk assessment.
func (a *Analyzer) Analyze(ctx context.Context, modelID string) TheftAssessment {
	a.mu.RLock()
	records := make([]QueryRecord, len(a.byModel[modelID]))
	copy(records, a.byModel[modelID])
	a.mu.RUnlock()

	assessment := TheftAssessment{
		ModelID:       modelID,
		QueryCount:    len(records),
		RiskLevel:     RiskLow,
		WindowSeconds: a.window.Seconds(),
	}
	if len(records) == 0 {
		return assessment
	}

	// Frequency is the rate over the configured window, matching the
	// WindowSeconds reported alongside it.
	assessment.Frequency = float64(len(records)) / a.window.Seconds()

	distinct := make(map[string]struct{}, len(records))
	for _, r := range records {
		distinct[r.QueryHash] = struct{}{}
	}
	assessment.Diversity = float64(len(distinct)) / float64(len(records))

	if a.correlator != nil {
		corr, err := a.correlator.Correlation(ctx, modelID, records)
		if err != nil {
			log.Warn().Err(err).Str("model_id", modelID).Msg("response correlator unavailable")
		} else {
			assessment.ResponseCorrelation = clamp01(corr)
			assessment.CorrelationAvailable = true
		}
	}

	freqNorm := clamp01(assessment.Frequency / a.ceiling)
	assessment.TheftProbability = clamp01(
		0.4*freqNorm + 0.3*(1-assessment.Diversity) + 0.3*assessment.ResponseCorrelation)
	assessment.RiskLevel = riskFor(assessment.TheftProbability)
	return assessment
}

// Reset drops the retained window for a model.
func (a *Analyzer) Reset(modelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byModel, modelID)
}

func riskFor(probability float64) RiskLevel {
	switch {
	case probability > 0.8:
		return RiskCritical
	case probability > 0.6:
		return RiskHigh
	case probability > 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
