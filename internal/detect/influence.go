package detect

// InfluenceConfig tunes leave-one-out influence scoring.
type InfluenceConfig struct {
	// Cutoff drops low-influence points from the result; only samples at
	// or above it are reported.
	Cutoff float64 `yaml:"cutoff"`
}

// InfluenceScorer approximates per-sample influence on the batch statistics
// via the Mahalanobis distance between a sample and the mean of the batch
// with that sample left out. High-influence points are poisoning candidates.
type InfluenceScorer struct {
	cutoff float64
}

// NewInfluenceScorer creates a scorer; a non-positive cutoff selects the
// default of 0.7.
func NewInfluenceScorer(cfg InfluenceConfig) *InfluenceScorer {
	cutoff := cfg.Cutoff
	if cutoff <= 0 {
		cutoff = 0.7
	}
	return &InfluenceScorer{cutoff: cutoff}
}

// Score returns only high-influence samples, normalized to [0,1] by the
// batch maximum. Fewer than two samples yields an empty result, not an
// error, since leave-one-out is undefined there.
func (s *InfluenceScorer) Score(samples []Sample) []AnomalyScore {
	n := len(samples)
	if n < 2 {
		return []AnomalyScore{}
	}

	mean := BatchMean(samples)
	cov := BatchCovariance(samples, mean)
	inv := InvertCovariance(cov, covarianceEpsilon)

	raw := make([]float64, n)
	maxRaw := 0.0
	looMean := make([]float64, len(mean))
	for i, sm := range samples {
		for j := range mean {
			looMean[j] = (float64(n)*mean[j] - sm.Features[j]) / float64(n-1)
		}
		raw[i] = mahalanobisDistance(sm.Features, looMean, inv)
		if raw[i] > maxRaw {
			maxRaw = raw[i]
		}
	}
	if maxRaw == 0 {
		return []AnomalyScore{}
	}

	scores := make([]AnomalyScore, 0, n)
	for i, r := range raw {
		norm := Clamp01(r / maxRaw)
		if norm < s.cutoff {
			continue
		}
		scores = append(scores, AnomalyScore{
			SampleIndex: i,
			Score:       norm,
			Method:      MethodInfluence,
		})
	}
	return scores
}
