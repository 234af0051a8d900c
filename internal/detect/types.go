// Package detect implements the anomaly scoring engine for model-integrity
// detection. It covers statistical scoring against a known baseline,
// unsupervised isolation-forest scoring, reconstruction-error scoring,
// leave-one-out influence approximation, adversarial gradient-signature
// heuristics, and the weighted ensemble that combines them into a single
// threat assessment.
//
// All scorers are pure functions of their inputs and safe for concurrent
// use; shared state is limited to read-only baselines owned by the caller.
package detect

import (
	"errors"
	"fmt"
)

// ScoreMethod identifies the algorithm that produced an anomaly score.
type ScoreMethod string

const (
	MethodMahalanobis       ScoreMethod = "mahalanobis"
	MethodEuclideanFallback ScoreMethod = "euclidean_fallback"
	MethodIsolationForest   ScoreMethod = "isolation_forest"
	MethodReconstruction    ScoreMethod = "reconstruction"
	MethodInfluence         ScoreMethod = "influence"
	MethodSignatureFGSM     ScoreMethod = "signature_fgsm"
	MethodSignaturePGD      ScoreMethod = "signature_pgd"
	MethodSignatureCW       ScoreMethod = "signature_cw"
	MethodEnsemble          ScoreMethod = "ensemble"
)

// Sample is a fixed-length numeric feature vector with an optional label.
// Samples are immutable once created; scorers never modify them.
type Sample struct {
	Features []float64 `json:"features"`
	Label    string    `json:"label,omitempty"`
}

// BaselineStatistics holds per-feature statistics of the clean reference
// distribution. Detectors borrow it read-only. Covariance is optional; when
// absent a diagonal matrix is built from Std.
type BaselineStatistics struct {
	Mean       []float64   `json:"mean"`
	Std        []float64   `json:"std"`
	Covariance [][]float64 `json:"covariance,omitempty"`
}

// Dim returns the feature dimensionality of the baseline.
func (b *BaselineStatistics) Dim() int {
	return len(b.Mean)
}

// AnomalyScore is a single per-sample score in [0,1]; higher means more
// anomalous.
type AnomalyScore struct {
	SampleIndex int         `json:"sample_index"`
	Score       float64     `json:"score"`
	Method      ScoreMethod `json:"method"`
}

// ThreatLevel classifies an aggregated threat score.
type ThreatLevel int

const (
	ThreatLow ThreatLevel = iota
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatLow:
		return "low"
	case ThreatMedium:
		return "medium"
	case ThreatHigh:
		return "high"
	case ThreatCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ThreatAssessment is the outcome of one detection call. It is created
// fresh per call and never mutated afterwards.
type ThreatAssessment struct {
	ThreatScore         float64        `json:"threat_score"`
	ThreatLevel         ThreatLevel    `json:"threat_level"`
	AnomalousSamples    []AnomalyScore `json:"anomalous_samples"`
	ContributingMethods []ScoreMethod  `json:"contributing_methods"`
}

// EnsembleWeights maps scoring methods to their weight in the ensemble.
// Weights are renormalized over the methods actually present before use.
type EnsembleWeights map[ScoreMethod]float64

// Sentinel errors surfaced to callers. SingularCovariance and missing
// collaborators are recovered locally and never reach this level.
var (
	// ErrDimensionMismatch reports a sample/baseline feature-count
	// mismatch. The baseline is shared by the whole batch, so this is
	// batch-fatal.
	ErrDimensionMismatch = errors.New("sample dimension does not match baseline")

	// ErrNoBaseline reports that a baseline-dependent scorer was invoked
	// without baseline statistics. Pipelines catch this and fall back to
	// unsupervised scoring.
	ErrNoBaseline = errors.New("baseline statistics required")
)

func dimensionError(index, got, want int) error {
	return fmt.Errorf("sample %d has %d features, baseline has %d: %w", index, got, want, ErrDimensionMismatch)
}

// Clamp01 bounds a score into [0,1]. Applied defensively at aggregation
// boundaries regardless of upstream computation.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
