package detect

import (
	"math"
	"sort"
)

// Threat-level thresholds shared by the poisoning and adversarial
// pipelines.
const (
	thresholdMedium   = 0.4
	thresholdHigh     = 0.6
	thresholdCritical = 0.8
)

// weightTolerance is how far weights may drift from summing to 1.0 before
// renormalization kicks in.
const weightTolerance = 1e-6

// EnsembleConfig tunes score aggregation.
type EnsembleConfig struct {
	Weights EnsembleWeights `yaml:"weights"`
	// VotingThreshold gates which samples are reported as anomalous.
	VotingThreshold float64 `yaml:"votingThreshold"`
}

// EnsembleAggregator combines named per-sample score sets into a single
// threat assessment by weighted voting.
type EnsembleAggregator struct {
	weights         EnsembleWeights
	votingThreshold float64
}

// NewEnsembleAggregator creates an aggregator; a non-positive voting
// threshold selects the default of 0.5.
func NewEnsembleAggregator(cfg EnsembleConfig) *EnsembleAggregator {
	voting := cfg.VotingThreshold
	if voting <= 0 {
		voting = 0.5
	}
	return &EnsembleAggregator{
		weights:         cfg.Weights,
		votingThreshold: voting,
	}
}

// LevelFor maps a threat score to its level. The mapping is monotonic:
// a higher score never yields a lower level.
func LevelFor(score float64) ThreatLevel {
	switch {
	case score < thresholdMedium:
		return ThreatLow
	case score < thresholdHigh:
		return ThreatMedium
	case score < thresholdCritical:
		return ThreatHigh
	default:
		return ThreatCritical
	}
}

// Aggregate combines per-method score sets over a batch of the given size.
// The batch score blends mean and max (0.7/0.3) so one severe outlier is
// not diluted by a large clean batch. All outputs are clamped into [0,1].
func (e *EnsembleAggregator) Aggregate(batchSize int, byMethod map[ScoreMethod][]AnomalyScore) ThreatAssessment {
	methods := presentMethods(byMethod)
	weights := e.renormalized(methods)

	combined := make([]float64, batchSize)
	for method, scores := range byMethod {
		w := weights[method]
		if w == 0 {
			continue
		}
		for _, sc := range scores {
			if sc.SampleIndex < 0 || sc.SampleIndex >= batchSize {
				continue
			}
			combined[sc.SampleIndex] += w * Clamp01(sc.Score)
		}
	}

	meanAll, maxScore := 0.0, 0.0
	anomalousSum := 0.0
	anomalous := make([]AnomalyScore, 0)
	for i, sc := range combined {
		sc = Clamp01(sc)
		combined[i] = sc
		meanAll += sc
		if sc > maxScore {
			maxScore = sc
		}
		if sc > e.votingThreshold {
			anomalousSum += sc
			anomalous = append(anomalous, AnomalyScore{
				SampleIndex: i,
				Score:       sc,
				Method:      MethodEnsemble,
			})
		}
	}
	if batchSize > 0 {
		meanAll /= float64(batchSize)
	}

	// The mean is taken over the voted-anomalous subset when one exists,
	// so a single severe outlier in a large clean batch is not diluted
	// into a low dataset score.
	mean := meanAll
	if len(anomalous) > 0 {
		mean = anomalousSum / float64(len(anomalous))
	}

	threatScore := Clamp01(0.7*mean + 0.3*maxScore)
	return ThreatAssessment{
		ThreatScore:         threatScore,
		ThreatLevel:         LevelFor(threatScore),
		AnomalousSamples:    anomalous,
		ContributingMethods: methods,
	}
}

// renormalized returns weights restricted to the methods present, scaled to
// sum to 1.0. Methods without a configured weight share the weight equally
// with the others when nothing is configured at all.
func (e *EnsembleAggregator) renormalized(methods []ScoreMethod) EnsembleWeights {
	out := make(EnsembleWeights, len(methods))
	if len(methods) == 0 {
		return out
	}
	total := 0.0
	for _, m := range methods {
		w := e.weights[m]
		if w > 0 {
			out[m] = w
			total += w
		}
	}
	if total == 0 {
		// No usable configuration: equal weighting.
		for _, m := range methods {
			out[m] = 1 / float64(len(methods))
		}
		return out
	}
	if math.Abs(total-1) > weightTolerance {
		for m := range out {
			out[m] /= total
		}
	}
	return out
}

func presentMethods(byMethod map[ScoreMethod][]AnomalyScore) []ScoreMethod {
	methods := make([]ScoreMethod, 0, len(byMethod))
	for m := range byMethod {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}
