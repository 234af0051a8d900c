package detect

import (
	"math"
)

// SignatureScores holds per-family adversarial signature scores in [0,1].
// Families scoring below their own threshold are zeroed so sub-threshold
// signals never contribute downstream.
type SignatureScores struct {
	FGSM float64 `json:"fgsm"`
	PGD  float64 `json:"pgd"`
	CW   float64 `json:"cw"`
}

// GradientSignatureConfig tunes per-family detection thresholds.
type GradientSignatureConfig struct {
	FGSMThreshold float64 `yaml:"fgsmThreshold"`
	PGDThreshold  float64 `yaml:"pgdThreshold"`
	CWThreshold   float64 `yaml:"cwThreshold"`
}

// GradientSignatureAnalyzer heuristically detects perturbation signatures
// of common gradient-based attacks without access to model gradients.
type GradientSignatureAnalyzer struct {
	fgsmThreshold float64
	pgdThreshold  float64
	cwThreshold   float64
}

// NewGradientSignatureAnalyzer creates an analyzer; non-positive thresholds
// select the defaults (FGSM 0.7, PGD 0.75, CW 0.8).
func NewGradientSignatureAnalyzer(cfg GradientSignatureConfig) *GradientSignatureAnalyzer {
	a := &GradientSignatureAnalyzer{
		fgsmThreshold: cfg.FGSMThreshold,
		pgdThreshold:  cfg.PGDThreshold,
		cwThreshold:   cfg.CWThreshold,
	}
	if a.fgsmThreshold <= 0 {
		a.fgsmThreshold = 0.7
	}
	if a.pgdThreshold <= 0 {
		a.pgdThreshold = 0.75
	}
	if a.cwThreshold <= 0 {
		a.cwThreshold = 0.8
	}
	return a
}

// Analyze scores one input vector against the three signature families.
func (a *GradientSignatureAnalyzer) Analyze(input []float64) SignatureScores {
	if len(input) < 2 {
		return SignatureScores{}
	}
	scores := SignatureScores{
		FGSM: a.fgsmScore(input),
		PGD:  a.pgdScore(input),
		CW:   a.cwScore(input),
	}
	if scores.FGSM < a.fgsmThreshold {
		scores.FGSM = 0
	}
	if scores.PGD < a.pgdThreshold {
		scores.PGD = 0
	}
	if scores.CW < a.cwThreshold {
		scores.CW = 0
	}
	return scores
}

// fgsmScore flags the fixed-step signature of fast gradient sign attacks:
// near-uniform magnitudes with frequent sign flips across adjacent
// dimensions.
func (a *GradientSignatureAnalyzer) fgsmScore(input []float64) float64 {
	mags := make([]float64, len(input))
	meanMag := 0.0
	for i, v := range input {
		mags[i] = math.Abs(v)
		meanMag += mags[i]
	}
	meanMag /= float64(len(mags))
	if meanMag == 0 {
		return 0
	}

	variance := 0.0
	for _, m := range mags {
		d := m - meanMag
		variance += d * d
	}
	variance /= float64(len(mags))
	cv := math.Sqrt(variance) / meanMag
	uniformity := 1 / (1 + cv)

	signChanges := 0
	for i := 1; i < len(input); i++ {
		if input[i-1]*input[i] < 0 {
			signChanges++
		}
	}
	signRate := float64(signChanges) / float64(len(input)-1)
	if signRate < 0.3 {
		return 0
	}

	return Clamp01(0.7*uniformity + 0.3*signRate)
}

// pgdScore flags projected-gradient iterates: values crowded against the
// L-inf bound with autocorrelated structure.
func (a *GradientSignatureAnalyzer) pgdScore(input []float64) float64 {
	bound := 0.0
	for _, v := range input {
		if m := math.Abs(v); m > bound {
			bound = m
		}
	}
	if bound == 0 {
		return 0
	}

	nearBound := 0
	for _, v := range input {
		if math.Abs(v) >= 0.9*bound {
			nearBound++
		}
	}
	boundedness := float64(nearBound) / float64(len(input))

	structure := 0.0
	for lag := 1; lag <= 9 && lag < len(input); lag++ {
		if ac := math.Abs(autocorrelation(input, lag)); ac > structure {
			structure = ac
		}
	}

	return Clamp01(0.6*boundedness + 0.4*structure)
}

// cwScore flags the sparse, concentrated perturbations typical of
// Carlini-Wagner optimization.
func (a *GradientSignatureAnalyzer) cwScore(input []float64) float64 {
	maxMag := 0.0
	for _, v := range input {
		if m := math.Abs(v); m > maxMag {
			maxMag = m
		}
	}
	if maxMag == 0 {
		return 0
	}

	nearZero := 0
	total := 0.0
	for _, v := range input {
		m := math.Abs(v)
		total += m
		if m <= 0.05*maxMag {
			nearZero++
		}
	}
	sparsity := float64(nearZero) / float64(len(input))

	// Share of total magnitude held by the top 10% of dimensions.
	topK := len(input) / 10
	if topK < 1 {
		topK = 1
	}
	concentration := topShare(input, topK, total)

	return Clamp01(0.5*sparsity + 0.5*concentration)
}

func autocorrelation(input []float64, lag int) float64 {
	n := len(input)
	mean := 0.0
	for _, v := range input {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range input {
		d := v - mean
		variance += d * d
	}
	if variance == 0 {
		return 0
	}

	cov := 0.0
	for i := 0; i < n-lag; i++ {
		cov += (input[i] - mean) * (input[i+lag] - mean)
	}
	return cov / variance
}

func topShare(input []float64, k int, total float64) float64 {
	if total == 0 {
		return 0
	}
	mags := make([]float64, len(input))
	for i, v := range input {
		mags[i] = math.Abs(v)
	}
	// Selection of the k largest; inputs are short feature vectors.
	topSum := 0.0
	for i := 0; i < k; i++ {
		best := 0
		for j := 1; j < len(mags); j++ {
			if mags[j] > mags[best] {
				best = j
			}
		}
		topSum += mags[best]
		mags[best] = -1
	}
	return topSum / total
}
