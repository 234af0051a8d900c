package integrity

import (
	"testing"
)

func rampSnapshot(modelID string, scale float64) *ModelSnapshot {
	layer := func(n int, s float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = s * float64(i) / float64(n)
		}
		return out
	}
	return &ModelSnapshot{
		ModelID: modelID,
		LayerWeights: map[string][]float64{
			"dense_1": layer(100, 1),
			"dense_2": layer(100, 1),
			"output":  layer(100, scale),
		},
		OutputDistribution: map[string]float64{
			"cat": 0.5,
			"dog": 0.5,
		},
	}
}

func TestDriftDetector_IdenticalSnapshots(t *testing.T) {
	d := NewDriftDetector(DriftConfig{})

	got := d.Detect(rampSnapshot("m", 1), rampSnapshot("m", 1))
	if got.HasDrift {
		t.Error("identical snapshots must not report drift")
	}
	if got.OverallDriftScore > 0.05 {
		t.Errorf("expected near-zero drift score, got %f", got.OverallDriftScore)
	}
}

func TestDriftDetector_ScaledLayerDrifts(t *testing.T) {
	d := NewDriftDetector(DriftConfig{})

	got := d.Detect(rampSnapshot("m", 2), rampSnapshot("m", 1))
	if !got.HasDrift {
		t.Fatal("scaled output layer should trigger drift")
	}
	if got.PerLayerDrift["output"] <= 0.15 {
		t.Errorf("scaled layer drift %f should exceed threshold", got.PerLayerDrift["output"])
	}
	if got.PerLayerDrift["dense_1"] > 0.05 {
		t.Errorf("unchanged layer drift %f should be near zero", got.PerLayerDrift["dense_1"])
	}
}

func TestDriftDetector_LengthMismatchIsMaxDrift(t *testing.T) {
	d := NewDriftDetector(DriftConfig{})

	current := rampSnapshot("m", 1)
	current.LayerWeights["dense_1"] = []float64{1, 2, 3}

	got := d.Detect(current, rampSnapshot("m", 1))
	if got.PerLayerDrift["dense_1"] != 1.0 {
		t.Errorf("length mismatch should score 1.0, got %f", got.PerLayerDrift["dense_1"])
	}
	if !got.HasDrift {
		t.Error("maximum layer drift must set has_drift")
	}
}

func TestDriftDetector_OutputDistributionShift(t *testing.T) {
	d := NewDriftDetector(DriftConfig{})

	current := rampSnapshot("m", 1)
	current.OutputDistribution = map[string]float64{"cat": 0.95, "dog": 0.05}

	got := d.Detect(current, rampSnapshot("m", 1))
	if got.OutputDrift <= 0.15 {
		t.Errorf("expected output distribution drift above threshold, got %f", got.OutputDrift)
	}
	if !got.HasDrift {
		t.Error("output drift above threshold must set has_drift")
	}
}

func TestDriftDetector_OutputLayerWeighsDouble(t *testing.T) {
	d := NewDriftDetector(DriftConfig{})

	scaledOutput := d.Detect(rampSnapshot("m", 2), rampSnapshot("m", 1))

	// The same scale change on a hidden layer should move the overall
	// score by less than it does on an output layer.
	currentHidden := rampSnapshot("m", 1)
	layer := make([]float64, 100)
	for i := range layer {
		layer[i] = 2 * float64(i) / 100
	}
	currentHidden.LayerWeights["dense_1"] = layer

	scaledHidden := d.Detect(currentHidden, rampSnapshot("m", 1))
	if scaledOutput.OverallDriftScore <= scaledHidden.OverallDriftScore {
		t.Errorf("output layer drift (%f) should outweigh hidden layer drift (%f)",
			scaledOutput.OverallDriftScore, scaledHidden.OverallDriftScore)
	}
}
