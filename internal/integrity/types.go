// Package integrity covers model tamper detection: deterministic
// fingerprinting of model parameters and distributional drift analysis
// between snapshots of a deployed model.
package integrity

import (
	"time"
)

// ModelSnapshot is a point-in-time view of a deployed model supplied by the
// model-serving collaborator. The package never mutates a snapshot.
type ModelSnapshot struct {
	ModelID            string               `json:"model_id"`
	LayerWeights       map[string][]float64 `json:"layer_weights"`
	OutputDistribution map[string]float64   `json:"output_distribution"`
	Accuracy           *float64             `json:"accuracy,omitempty"`
	Loss               *float64             `json:"loss,omitempty"`
	CollectedAt        time.Time            `json:"collected_at"`
}

// ModelFingerprint is a deterministic digest of a snapshot. Fingerprints
// are immutable; generating a new one for the same model supersedes the
// prior one (Active flips to false) but never deletes it.
type ModelFingerprint struct {
	ModelID       string             `json:"model_id"`
	OverallHash   [32]byte           `json:"overall_hash"`
	PerLayerHash  map[string][32]byte `json:"per_layer_hash"`
	CreatedAt     time.Time          `json:"created_at"`
	Active        bool               `json:"active"`
}

// DriftResult reports distributional drift between two snapshots.
type DriftResult struct {
	HasDrift          bool               `json:"has_drift"`
	OverallDriftScore float64            `json:"overall_drift_score"`
	PerLayerDrift     map[string]float64 `json:"per_layer_drift"`
	OutputDrift       float64            `json:"output_drift"`
}
