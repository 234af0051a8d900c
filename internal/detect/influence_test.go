package detect

import (
	"testing"
)

func TestInfluenceScorer_InsufficientSamples(t *testing.T) {
	scorer := NewInfluenceScorer(InfluenceConfig{})

	tests := []struct {
		name    string
		samples []Sample
	}{
		{"empty", nil},
		{"single", []Sample{{Features: []float64{1, 2}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scores := scorer.Score(tc.samples)
			if scores == nil {
				t.Fatal("expected empty slice, not nil")
			}
			if len(scores) != 0 {
				t.Errorf("expected empty result, got %d scores", len(scores))
			}
		})
	}
}

func TestInfluenceScorer_ReportsOnlyHighInfluence(t *testing.T) {
	samples := gaussianBatch(t, 50, 4, 11)
	samples = append(samples, Sample{Features: []float64{40, 40, 40, 40}})

	scores := NewInfluenceScorer(InfluenceConfig{Cutoff: 0.7}).Score(samples)
	if len(scores) == 0 {
		t.Fatal("expected the injected point to be reported")
	}

	foundOutlier := false
	for _, sc := range scores {
		if sc.Score < 0.7 || sc.Score > 1 {
			t.Errorf("reported score %f outside [cutoff,1]", sc.Score)
		}
		if sc.Method != MethodInfluence {
			t.Errorf("unexpected method %s", sc.Method)
		}
		if sc.SampleIndex == len(samples)-1 {
			foundOutlier = true
			if sc.Score != 1 {
				t.Errorf("batch maximum should normalize to 1, got %f", sc.Score)
			}
		}
	}
	if !foundOutlier {
		t.Error("injected outlier missing from influence results")
	}
}
