package detect

import (
	"errors"
	"math/rand"
	"testing"
)

func gaussianBatch(t *testing.T, n, dim int, seed int64) []Sample {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	samples := make([]Sample, n)
	for i := range samples {
		features := make([]float64, dim)
		for j := range features {
			features[j] = rng.NormFloat64()
		}
		samples[i] = Sample{Features: features}
	}
	return samples
}

func unitBaseline(dim int) *BaselineStatistics {
	mean := make([]float64, dim)
	std := make([]float64, dim)
	for i := range std {
		std[i] = 1
	}
	return &BaselineStatistics{Mean: mean, Std: std}
}

func TestStatisticalScorer_ScoresInRange(t *testing.T) {
	scorer := NewStatisticalScorer(StatisticalConfig{})
	samples := gaussianBatch(t, 50, 4, 1)

	scores, err := scorer.Score(samples, unitBaseline(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scores) != len(samples) {
		t.Fatalf("expected %d scores, got %d", len(samples), len(scores))
	}
	for _, sc := range scores {
		if sc.Score < 0 || sc.Score > 1 {
			t.Errorf("score %f outside [0,1]", sc.Score)
		}
		if sc.Method != MethodMahalanobis {
			t.Errorf("expected mahalanobis method, got %s", sc.Method)
		}
	}
}

func TestStatisticalScorer_OutlierScoresHighest(t *testing.T) {
	scorer := NewStatisticalScorer(StatisticalConfig{})
	samples := gaussianBatch(t, 100, 4, 2)
	samples = append(samples, Sample{Features: []float64{50, 50, 50, 50}})

	scores, err := scorer.Score(samples, unitBaseline(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outlier := scores[len(scores)-1]
	if outlier.Score < 0.9 {
		t.Errorf("expected outlier score near 1, got %f", outlier.Score)
	}
	for _, sc := range scores[:len(scores)-1] {
		if sc.Score >= outlier.Score {
			t.Errorf("sample %d score %f not below outlier %f", sc.SampleIndex, sc.Score, outlier.Score)
		}
	}
}

func TestStatisticalScorer_DimensionMismatchIsBatchFatal(t *testing.T) {
	scorer := NewStatisticalScorer(StatisticalConfig{})
	samples := []Sample{
		{Features: []float64{1, 2, 3, 4}},
		{Features: []float64{1, 2}},
	}

	_, err := scorer.Score(samples, unitBaseline(4))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestStatisticalScorer_MismatchedBaselineIsRejected(t *testing.T) {
	scorer := NewStatisticalScorer(StatisticalConfig{})
	samples := gaussianBatch(t, 10, 4, 5)

	cases := []struct {
		name     string
		baseline *BaselineStatistics
	}{
		{
			name: "covariance smaller than mean",
			baseline: &BaselineStatistics{
				Mean:       []float64{0, 0, 0, 0},
				Std:        []float64{1, 1, 1, 1},
				Covariance: [][]float64{{1, 0}, {0, 1}},
			},
		},
		{
			name: "std shorter than mean",
			baseline: &BaselineStatistics{
				Mean: []float64{0, 0, 0, 0},
				Std:  []float64{1, 1},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := scorer.Score(samples, tc.baseline)
			if !errors.Is(err, ErrDimensionMismatch) {
				t.Fatalf("expected ErrDimensionMismatch, got %v", err)
			}
		})
	}
}

func TestStatisticalScorer_NoBaseline(t *testing.T) {
	scorer := NewStatisticalScorer(StatisticalConfig{})
	samples := gaussianBatch(t, 5, 4, 3)

	if _, err := scorer.Score(samples, nil); !errors.Is(err, ErrNoBaseline) {
		t.Fatalf("expected ErrNoBaseline, got %v", err)
	}
}

func TestStatisticalScorer_MahalanobisCalibration(t *testing.T) {
	// The default lambda maps d=3 to roughly 0.78 through 1-exp(-lambda*d).
	scorer := NewStatisticalScorer(StatisticalConfig{})
	samples := []Sample{{Features: []float64{3}}}
	baseline := &BaselineStatistics{Mean: []float64{0}, Std: []float64{1}}

	scores, err := scorer.Score(samples, baseline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Distance component only: divergence is zero for a single sample
	// whose deviation equals the batch max, scaled by batch divergence.
	if scores[0].Score < 0.4 || scores[0].Score > 1 {
		t.Errorf("unexpected calibration score %f", scores[0].Score)
	}
}
