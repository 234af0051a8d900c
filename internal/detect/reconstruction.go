package detect

import (
	"context"

	"github.com/rs/zerolog/log"
)

// neutralScore is reported when the reconstruction collaborator is
// unavailable so the rest of the pipeline keeps running.
const neutralScore = 0.5

// Reconstructor is the external model collaborator (autoencoder/denoiser)
// used for reconstruction-error scoring.
type Reconstructor interface {
	Reconstruct(ctx context.Context, features []float64) ([]float64, error)
}

// ReconstructionConfig tunes reconstruction-error scoring.
type ReconstructionConfig struct {
	// ErrorThreshold is the MSE that maps to a score of 1.0.
	ErrorThreshold float64 `yaml:"errorThreshold"`
}

// ReconstructionScorer scores samples by mean-squared reconstruction error
// normalized against a configurable threshold.
type ReconstructionScorer struct {
	model     Reconstructor
	threshold float64
}

// NewReconstructionScorer creates a scorer. The model may be nil; scoring
// then degrades to a neutral score instead of failing the pipeline.
func NewReconstructionScorer(model Reconstructor, cfg ReconstructionConfig) *ReconstructionScorer {
	threshold := cfg.ErrorThreshold
	if threshold <= 0 {
		threshold = 0.15
	}
	return &ReconstructionScorer{model: model, threshold: threshold}
}

// Score returns per-sample scores in [0,1]. Collaborator failures are
// logged and replaced with a neutral score, never propagated.
func (r *ReconstructionScorer) Score(ctx context.Context, samples []Sample) []AnomalyScore {
	scores := make([]AnomalyScore, len(samples))
	for i, sm := range samples {
		scores[i] = AnomalyScore{
			SampleIndex: i,
			Score:       r.scoreOne(ctx, sm),
			Method:      MethodReconstruction,
		}
	}
	return scores
}

func (r *ReconstructionScorer) scoreOne(ctx context.Context, sm Sample) float64 {
	if r.model == nil {
		return neutralScore
	}
	reconstructed, err := r.model.Reconstruct(ctx, sm.Features)
	if err != nil || len(reconstructed) != len(sm.Features) {
		log.Warn().Err(err).Msg("reconstruction model unavailable, using neutral score")
		return neutralScore
	}

	mse := 0.0
	for j, v := range sm.Features {
		d := v - reconstructed[j]
		mse += d * d
	}
	mse /= float64(len(sm.Features))

	return Clamp01(mse / r.threshold)
}
