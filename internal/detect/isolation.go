package detect

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// IsolationConfig tunes the unsupervised isolation-forest scorer.
type IsolationConfig struct {
	NumTrees   int `yaml:"numTrees"`
	SampleSize int `yaml:"sampleSize"`
	// Seed fixes the RNG for reproducible scoring in tests. Zero selects a
	// time-based seed.
	Seed int64 `yaml:"seed"`
}

// IsolationScorer scores samples without a baseline using an ensemble of
// randomized partition trees. Points isolated by short paths are anomalous.
// Each Score call derives its own RNG from the base seed and a call counter,
// so a single scorer is safe for concurrent use.
type IsolationScorer struct {
	numTrees   int
	sampleSize int
	seed       int64
	calls      atomic.Int64
}

type isoNode struct {
	splitFeature int
	splitValue   float64
	left, right  *isoNode
	size         int
}

// NewIsolationScorer creates a scorer with the given ensemble parameters.
func NewIsolationScorer(cfg IsolationConfig) *IsolationScorer {
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 256
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &IsolationScorer{
		numTrees:   cfg.NumTrees,
		sampleSize: cfg.SampleSize,
		seed:       seed,
	}
}

// Score builds a forest over the batch and returns per-sample scores in
// [0,1], 1 meaning most anomalous.
func (s *IsolationScorer) Score(samples []Sample) []AnomalyScore {
	if len(samples) == 0 {
		return nil
	}

	subsample := s.sampleSize
	if subsample > len(samples) {
		subsample = len(samples)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(subsample) + 1)))

	// The first call on a fresh scorer always sees the base seed, keeping
	// fixed-seed runs reproducible.
	rng := rand.New(rand.NewSource(s.seed + s.calls.Add(1) - 1))

	trees := make([]*isoNode, s.numTrees)
	for i := range trees {
		trees[i] = buildIsoTree(subsampleFeatures(rng, samples, subsample), rng, 0, maxDepth)
	}

	c := averagePathLength(subsample)
	scores := make([]AnomalyScore, len(samples))
	for i, sm := range samples {
		total := 0.0
		for _, t := range trees {
			total += pathLength(t, sm.Features, 0)
		}
		avg := total / float64(len(trees))
		score := 0.0
		if c > 0 {
			score = math.Pow(2, -avg/c)
		}
		scores[i] = AnomalyScore{
			SampleIndex: i,
			Score:       Clamp01(score),
			Method:      MethodIsolationForest,
		}
	}
	return scores
}

func subsampleFeatures(rng *rand.Rand, samples []Sample, size int) [][]float64 {
	out := make([][]float64, size)
	if size >= len(samples) {
		for i, sm := range samples {
			out[i] = sm.Features
		}
		return out
	}
	for i := 0; i < size; i++ {
		out[i] = samples[rng.Intn(len(samples))].Features
	}
	return out
}

func buildIsoTree(data [][]float64, rng *rand.Rand, depth, maxDepth int) *isoNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &isoNode{size: len(data)}
	}

	feature := rng.Intn(len(data[0]))
	minVal, maxVal := featureRange(data, feature)
	if minVal == maxVal {
		return &isoNode{size: len(data)}
	}
	split := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	node := &isoNode{
		splitFeature: feature,
		splitValue:   split,
		size:         len(data),
	}
	node.left = buildIsoTree(left, rng, depth+1, maxDepth)
	node.right = buildIsoTree(right, rng, depth+1, maxDepth)
	return node
}

func pathLength(node *isoNode, features []float64, depth int) float64 {
	if node.left == nil && node.right == nil {
		return float64(depth) + averagePathLength(node.size)
	}
	if features[node.splitFeature] < node.splitValue {
		return pathLength(node.left, features, depth+1)
	}
	return pathLength(node.right, features, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search, used to normalize isolation depths.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	return minVal, maxVal
}
