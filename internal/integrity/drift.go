package integrity

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"modelguard/internal/detect"
)

// Per-layer drift combines three measures; the weights favor PSI, which is
// the most robust of the three for weight vectors.
const (
	psiWeight         = 0.4
	wassersteinWeight = 0.3
	ksWeight          = 0.3

	driftBins = 10
)

// DriftConfig tunes the drift detector.
type DriftConfig struct {
	// Threshold above which any component marks the model as drifted.
	Threshold float64 `yaml:"threshold"`
}

// DriftDetector compares a current model snapshot against a baseline and
// scores distributional drift per layer and over the output distribution.
type DriftDetector struct {
	threshold float64
}

// NewDriftDetector creates a detector; a non-positive threshold selects
// the default of 0.15.
func NewDriftDetector(cfg DriftConfig) *DriftDetector {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.15
	}
	return &DriftDetector{threshold: threshold}
}

// Detect scores drift between current and baseline. Layers present in both
// snapshots are compared with 0.4*PSI + 0.3*Wasserstein + 0.3*KS, clamped
// to [0,1]; a layer whose lengths differ scores maximum drift rather than
// erroring. Output layers weigh double in the overall average.
func (d *DriftDetector) Detect(current, baseline *ModelSnapshot) *DriftResult {
	perLayer := make(map[string]float64)

	var names []string
	for name := range current.LayerWeights {
		if _, ok := baseline.LayerWeights[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	weightedSum, weightTotal := 0.0, 0.0
	maxComponent := 0.0
	for _, name := range names {
		cur := current.LayerWeights[name]
		base := baseline.LayerWeights[name]

		var score float64
		if len(cur) != len(base) {
			score = 1.0
		} else {
			psi := populationStabilityIndex(base, cur)
			wasserstein := wassersteinProxy(base, cur)
			ks := detect.KSStatistic(base, cur)
			score = detect.Clamp01(psiWeight*psi + wassersteinWeight*wasserstein + ksWeight*ks)
		}
		perLayer[name] = score
		if score > maxComponent {
			maxComponent = score
		}

		w := 1.0
		if strings.HasPrefix(name, "output") {
			w = 2.0
		}
		weightedSum += w * score
		weightTotal += w
	}

	outputDrift := d.outputDistributionDrift(current, baseline)
	if outputDrift > maxComponent {
		maxComponent = outputDrift
	}

	overall := 0.0
	if weightTotal > 0 {
		overall = weightedSum / weightTotal
	}
	// The output-distribution shift folds into the overall score alongside
	// the layer average.
	if outputDrift > 0 {
		overall = detect.Clamp01(0.7*overall + 0.3*outputDrift)
	}

	result := &DriftResult{
		HasDrift:          maxComponent > d.threshold,
		OverallDriftScore: detect.Clamp01(overall),
		PerLayerDrift:     perLayer,
		OutputDrift:       outputDrift,
	}
	if result.HasDrift {
		log.Info().
			Str("model_id", current.ModelID).
			Float64("overall_drift", result.OverallDriftScore).
			Float64("output_drift", outputDrift).
			Msg("model drift detected")
	}
	return result
}

func (d *DriftDetector) outputDistributionDrift(current, baseline *ModelSnapshot) float64 {
	if len(current.OutputDistribution) == 0 || len(baseline.OutputDistribution) == 0 {
		return 0
	}

	labels := make(map[string]struct{})
	for l := range current.OutputDistribution {
		labels[l] = struct{}{}
	}
	for l := range baseline.OutputDistribution {
		labels[l] = struct{}{}
	}
	sorted := make([]string, 0, len(labels))
	for l := range labels {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)

	p := make([]float64, len(sorted))
	q := make([]float64, len(sorted))
	for i, l := range sorted {
		p[i] = current.OutputDistribution[l]
		q[i] = baseline.OutputDistribution[l]
	}
	return detect.JensenShannon(p, q)
}

// populationStabilityIndex bins both weight vectors over their joint range
// and sums (cur%-base%)*ln(cur%/base%) per bin.
func populationStabilityIndex(base, cur []float64) float64 {
	if len(base) == 0 || len(cur) == 0 {
		return 0
	}
	minVal, maxVal := jointRange(base, cur)
	if minVal == maxVal {
		return 0
	}

	baseBins := binCounts(base, minVal, maxVal)
	curBins := binCounts(cur, minVal, maxVal)

	psi := 0.0
	for i := 0; i < driftBins; i++ {
		basePct := float64(baseBins[i]) / float64(len(base))
		curPct := float64(curBins[i]) / float64(len(cur))
		if basePct > 0 && curPct > 0 {
			psi += (curPct - basePct) * math.Log(curPct/basePct)
		}
	}
	return math.Abs(psi)
}

// wassersteinProxy approximates the 1-Wasserstein distance as the mean
// absolute difference of sorted values, normalized by the joint range.
func wassersteinProxy(base, cur []float64) float64 {
	if len(base) == 0 || len(cur) == 0 || len(base) != len(cur) {
		return 0
	}
	bs := make([]float64, len(base))
	cs := make([]float64, len(cur))
	copy(bs, base)
	copy(cs, cur)
	sort.Float64s(bs)
	sort.Float64s(cs)

	minVal, maxVal := jointRange(base, cur)
	span := maxVal - minVal
	if span == 0 {
		return 0
	}

	sum := 0.0
	for i := range bs {
		sum += math.Abs(bs[i] - cs[i])
	}
	return sum / float64(len(bs)) / span
}

func jointRange(a, b []float64) (float64, float64) {
	minVal, maxVal := a[0], a[0]
	for _, v := range a {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	for _, v := range b {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

func binCounts(values []float64, minVal, maxVal float64) []int {
	bins := make([]int, driftBins)
	width := (maxVal - minVal) / driftBins
	for _, v := range values {
		bin := int((v - minVal) / width)
		if bin >= driftBins {
			bin = driftBins - 1
		}
		if bin < 0 {
			bin = 0
		}
		bins[bin]++
	}
	return bins
}
