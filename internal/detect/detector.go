package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"modelguard/internal/metrics"
)

// Default ensemble weights per pipeline. Callers may override them through
// configuration; weights are renormalized over the methods present.
var (
	DefaultPoisoningWeights = EnsembleWeights{
		MethodMahalanobis:       0.35,
		MethodEuclideanFallback: 0.35,
		MethodIsolationForest:   0.35,
		MethodInfluence:         0.35,
		MethodReconstruction:    0.3,
	}
	DefaultAdversarialWeights = EnsembleWeights{
		MethodMahalanobis:       0.4,
		MethodEuclideanFallback: 0.4,
		MethodIsolationForest:   0.4,
		MethodSignatureFGSM:     0.2,
		MethodSignaturePGD:      0.2,
		MethodSignatureCW:       0.2,
	}
)

// PoisoningDetector is the canonical pipeline for dataset poisoning:
// baseline-statistical (or unsupervised) scoring, leave-one-out influence,
// and reconstruction error, combined by the shared ensemble aggregator.
type PoisoningDetector struct {
	statistical    *StatisticalScorer
	isolation      *IsolationScorer
	influence      *InfluenceScorer
	reconstruction *ReconstructionScorer
	ensemble       *EnsembleAggregator
	metrics        *metrics.MetricsWrapper
}

// NewPoisoningDetector wires the poisoning pipeline from its scorers.
func NewPoisoningDetector(statistical *StatisticalScorer, isolation *IsolationScorer, influence *InfluenceScorer, reconstruction *ReconstructionScorer, ensemble *EnsembleAggregator) *PoisoningDetector {
	return NewPoisoningDetectorWithMetrics(statistical, isolation, influence, reconstruction, ensemble, nil)
}

// NewPoisoningDetectorWithMetrics additionally reports run counts, latency,
// and assessment outcomes through the wrapper. A nil wrapper disables
// reporting.
func NewPoisoningDetectorWithMetrics(statistical *StatisticalScorer, isolation *IsolationScorer, influence *InfluenceScorer, reconstruction *ReconstructionScorer, ensemble *EnsembleAggregator, mw *metrics.MetricsWrapper) *PoisoningDetector {
	return &PoisoningDetector{
		statistical:    statistical,
		isolation:      isolation,
		influence:      influence,
		reconstruction: reconstruction,
		ensemble:       ensemble,
		metrics:        mw,
	}
}

// Detect scores the dataset and aggregates into a threat assessment.
// A missing baseline switches the statistical stage to isolation-forest
// scoring; a dimensionality mismatch against a provided baseline is fatal
// for the whole batch.
func (d *PoisoningDetector) Detect(ctx context.Context, samples []Sample, baseline *BaselineStatistics) (*ThreatAssessment, error) {
	start := time.Now()
	if len(samples) == 0 {
		assessment := d.ensemble.Aggregate(0, nil)
		return &assessment, nil
	}

	byMethod := make(map[ScoreMethod][]AnomalyScore)

	statScores, err := d.statistical.Score(samples, baseline)
	switch {
	case err == nil:
		byMethod[statScores[0].Method] = statScores
	case err == ErrNoBaseline:
		iso := d.isolation.Score(samples)
		byMethod[MethodIsolationForest] = iso
	default:
		return nil, fmt.Errorf("statistical scoring: %w", err)
	}

	if infl := d.influence.Score(samples); len(infl) > 0 {
		byMethod[MethodInfluence] = infl
	}
	byMethod[MethodReconstruction] = d.reconstruction.Score(ctx, samples)

	assessment := d.ensemble.Aggregate(len(samples), byMethod)
	if d.metrics != nil {
		d.metrics.PoisoningDetections().Inc()
		d.metrics.DetectionLatency().Observe(time.Since(start).Seconds())
		d.metrics.ObserveAssessment(assessment.ThreatScore, len(assessment.AnomalousSamples))
	}
	log.Debug().
		Int("samples", len(samples)).
		Float64("threat_score", assessment.ThreatScore).
		Str("threat_level", assessment.ThreatLevel.String()).
		Msg("poisoning detection complete")
	return &assessment, nil
}

// AdversarialDetector is the canonical pipeline for adversarial inputs:
// baseline-statistical scoring plus gradient-signature heuristics.
type AdversarialDetector struct {
	statistical *StatisticalScorer
	isolation   *IsolationScorer
	gradient    *GradientSignatureAnalyzer
	ensemble    *EnsembleAggregator
	metrics     *metrics.MetricsWrapper
}

// NewAdversarialDetector wires the adversarial pipeline from its scorers.
func NewAdversarialDetector(statistical *StatisticalScorer, isolation *IsolationScorer, gradient *GradientSignatureAnalyzer, ensemble *EnsembleAggregator) *AdversarialDetector {
	return NewAdversarialDetectorWithMetrics(statistical, isolation, gradient, ensemble, nil)
}

// NewAdversarialDetectorWithMetrics additionally reports run counts,
// latency, and assessment outcomes through the wrapper. A nil wrapper
// disables reporting.
func NewAdversarialDetectorWithMetrics(statistical *StatisticalScorer, isolation *IsolationScorer, gradient *GradientSignatureAnalyzer, ensemble *EnsembleAggregator, mw *metrics.MetricsWrapper) *AdversarialDetector {
	return &AdversarialDetector{
		statistical: statistical,
		isolation:   isolation,
		gradient:    gradient,
		ensemble:    ensemble,
		metrics:     mw,
	}
}

// Detect scores the inputs and aggregates into a threat assessment.
func (d *AdversarialDetector) Detect(ctx context.Context, samples []Sample, baseline *BaselineStatistics) (*ThreatAssessment, error) {
	start := time.Now()
	if len(samples) == 0 {
		assessment := d.ensemble.Aggregate(0, nil)
		return &assessment, nil
	}

	byMethod := make(map[ScoreMethod][]AnomalyScore)

	statScores, err := d.statistical.Score(samples, baseline)
	switch {
	case err == nil:
		byMethod[statScores[0].Method] = statScores
	case err == ErrNoBaseline:
		byMethod[MethodIsolationForest] = d.isolation.Score(samples)
	default:
		return nil, fmt.Errorf("statistical scoring: %w", err)
	}

	fgsm := make([]AnomalyScore, 0, len(samples))
	pgd := make([]AnomalyScore, 0, len(samples))
	cw := make([]AnomalyScore, 0, len(samples))
	for i, sm := range samples {
		sig := d.gradient.Analyze(sm.Features)
		if sig.FGSM > 0 {
			fgsm = append(fgsm, AnomalyScore{SampleIndex: i, Score: sig.FGSM, Method: MethodSignatureFGSM})
		}
		if sig.PGD > 0 {
			pgd = append(pgd, AnomalyScore{SampleIndex: i, Score: sig.PGD, Method: MethodSignaturePGD})
		}
		if sig.CW > 0 {
			cw = append(cw, AnomalyScore{SampleIndex: i, Score: sig.CW, Method: MethodSignatureCW})
		}
	}
	if len(fgsm) > 0 {
		byMethod[MethodSignatureFGSM] = fgsm
	}
	if len(pgd) > 0 {
		byMethod[MethodSignaturePGD] = pgd
	}
	if len(cw) > 0 {
		byMethod[MethodSignatureCW] = cw
	}

	assessment := d.ensemble.Aggregate(len(samples), byMethod)
	if d.metrics != nil {
		d.metrics.AdversarialDetections().Inc()
		d.metrics.DetectionLatency().Observe(time.Since(start).Seconds())
		d.metrics.ObserveAssessment(assessment.ThreatScore, len(assessment.AnomalousSamples))
	}
	log.Debug().
		Int("samples", len(samples)).
		Float64("threat_score", assessment.ThreatScore).
		Str("threat_level", assessment.ThreatLevel.String()).
		Msg("adversarial detection complete")
	return &assessment, nil
}
