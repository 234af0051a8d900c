package detect

import (
	"fmt"
	"math"
)

// defaultLambda maps a Mahalanobis distance of 3 to a score of about 0.78
// via 1-exp(-lambda*d).
const defaultLambda = 0.505

// StatisticalConfig tunes the baseline-driven scorer.
type StatisticalConfig struct {
	// Lambda controls how fast distance saturates toward 1.
	Lambda float64 `yaml:"lambda"`
}

// StatisticalScorer scores samples against baseline statistics using
// Mahalanobis distance combined with a per-feature divergence statistic.
type StatisticalScorer struct {
	lambda float64
}

// NewStatisticalScorer creates a scorer; a non-positive lambda selects the
// default calibration.
func NewStatisticalScorer(cfg StatisticalConfig) *StatisticalScorer {
	lambda := cfg.Lambda
	if lambda <= 0 {
		lambda = defaultLambda
	}
	return &StatisticalScorer{lambda: lambda}
}

// Score computes per-sample anomaly scores in [0,1] against the baseline.
// A nil baseline returns ErrNoBaseline; callers fall back to unsupervised
// scoring. A dimensionality mismatch is batch-fatal because the baseline
// is shared by every sample.
func (s *StatisticalScorer) Score(samples []Sample, baseline *BaselineStatistics) ([]AnomalyScore, error) {
	if baseline == nil || baseline.Dim() == 0 {
		return nil, ErrNoBaseline
	}
	if len(samples) == 0 {
		return nil, nil
	}
	dim := baseline.Dim()
	if err := validateBaseline(baseline); err != nil {
		return nil, err
	}
	for i, sm := range samples {
		if len(sm.Features) != dim {
			return nil, dimensionError(i, len(sm.Features), dim)
		}
	}

	cov := baseline.Covariance
	if cov == nil {
		cov = diagonalCovariance(baseline.Std)
	}
	inv := InvertCovariance(cov, covarianceEpsilon)

	method := MethodMahalanobis
	if inv.Fallback {
		method = MethodEuclideanFallback
	}

	distScores := make([]float64, len(samples))
	for i, sm := range samples {
		d := mahalanobisDistance(sm.Features, baseline.Mean, inv)
		distScores[i] = 1 - math.Exp(-s.lambda*d)
	}

	// Per-feature divergence of the observed batch against the baseline,
	// attributed back to each sample by its own deviation, then normalized
	// by the batch maximum.
	divScores := s.divergenceScores(samples, baseline)

	scores := make([]AnomalyScore, len(samples))
	for i := range samples {
		combined := 0.6*distScores[i] + 0.4*divScores[i]
		scores[i] = AnomalyScore{
			SampleIndex: i,
			Score:       Clamp01(combined),
			Method:      method,
		}
	}
	return scores, nil
}

// validateBaseline rejects baselines whose Std or Covariance disagree with
// the Mean dimensionality before any of them is indexed.
func validateBaseline(baseline *BaselineStatistics) error {
	dim := baseline.Dim()
	if len(baseline.Std) != dim {
		return fmt.Errorf("baseline std has %d features, mean has %d: %w", len(baseline.Std), dim, ErrDimensionMismatch)
	}
	if baseline.Covariance != nil && len(baseline.Covariance) != dim {
		return fmt.Errorf("baseline covariance has %d rows, mean has %d features: %w", len(baseline.Covariance), dim, ErrDimensionMismatch)
	}
	return nil
}

// divergenceScores compares observed batch mean/std per feature against the
// baseline, KS-style, and distributes the batch divergence across samples
// proportionally to their normalized deviation.
func (s *StatisticalScorer) divergenceScores(samples []Sample, baseline *BaselineStatistics) []float64 {
	dim := baseline.Dim()
	batchMean := BatchMean(samples)
	batchStd := BatchStd(samples, batchMean)

	batchDiv := 0.0
	for j := 0; j < dim; j++ {
		meanShift := math.Abs(batchMean[j]-baseline.Mean[j]) / (1 + math.Abs(baseline.Mean[j]))
		stdShift := math.Abs(batchStd[j]-baseline.Std[j]) / (1 + baseline.Std[j])
		batchDiv += (meanShift + stdShift) / 2
	}
	batchDiv /= float64(dim)

	dev := make([]float64, len(samples))
	maxDev := 0.0
	for i, sm := range samples {
		for j, v := range sm.Features {
			std := baseline.Std[j]
			if std <= 0 {
				std = 1
			}
			dev[i] += math.Abs(v-baseline.Mean[j]) / std
		}
		if dev[i] > maxDev {
			maxDev = dev[i]
		}
	}

	// The batch-level divergence caps the component so a batch that matches
	// the baseline cannot inflate scores through normalization alone.
	scale := Clamp01(batchDiv)
	out := make([]float64, len(samples))
	if maxDev == 0 {
		return out
	}
	for i := range dev {
		out[i] = scale * dev[i] / maxDev
	}
	return out
}
