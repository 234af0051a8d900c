package detect

import (
	"math"
	"sort"
)

// covarianceEpsilon is the ridge term added to the covariance diagonal
// before inversion to guard against singular matrices.
const covarianceEpsilon = 1e-6

// BatchMean computes the per-feature mean of a sample batch.
func BatchMean(samples []Sample) []float64 {
	if len(samples) == 0 {
		return nil
	}
	dim := len(samples[0].Features)
	mean := make([]float64, dim)
	for _, s := range samples {
		for j, v := range s.Features {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(samples))
	}
	return mean
}

// BatchStd computes the per-feature population standard deviation of a
// sample batch around the given mean.
func BatchStd(samples []Sample, mean []float64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	std := make([]float64, len(mean))
	for _, s := range samples {
		for j, v := range s.Features {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(len(samples)))
	}
	return std
}

// BatchCovariance computes the full covariance matrix of a sample batch
// around the given mean.
func BatchCovariance(samples []Sample, mean []float64) [][]float64 {
	n := len(samples)
	dim := len(mean)
	cov := make([][]float64, dim)
	for i := range cov {
		cov[i] = make([]float64, dim)
	}
	if n < 2 {
		return cov
	}
	for _, s := range samples {
		for i := 0; i < dim; i++ {
			di := s.Features[i] - mean[i]
			for j := 0; j < dim; j++ {
				cov[i][j] += di * (s.Features[j] - mean[j])
			}
		}
	}
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			cov[i][j] /= float64(n - 1)
		}
	}
	return cov
}

// Quantile returns the q-quantile (0 <= q <= 1) of values. The input is
// copied and sorted; nearest-rank interpolation matches how baselines are
// summarized elsewhere in the corpus.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// CovInverse is the result of a covariance inversion attempt. When the
// matrix stays singular after ridge regularization, Fallback is set and
// callers score with plain Euclidean distance instead of erroring.
type CovInverse struct {
	Matrix   [][]float64
	Fallback bool
}

// InvertCovariance regularizes cov with eps on the diagonal and inverts it
// by Gauss-Jordan elimination. A zero eps uses the package default.
func InvertCovariance(cov [][]float64, eps float64) CovInverse {
	n := len(cov)
	if n == 0 {
		return CovInverse{Fallback: true}
	}
	if eps <= 0 {
		eps = covarianceEpsilon
	}

	// Augmented [A|I] working copy with the ridge applied.
	a := make([][]float64, n)
	inv := make([][]float64, n)
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return CovInverse{Fallback: true}
		}
		a[i] = make([]float64, n)
		inv[i] = make([]float64, n)
		copy(a[i], cov[i])
		a[i][i] += eps
		inv[i][i] = 1
	}

	for col := 0; col < n; col++ {
		// Partial pivoting.
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return CovInverse{Fallback: true}
		}
		a[col], a[pivot] = a[pivot], a[col]
		inv[col], inv[pivot] = inv[pivot], inv[col]

		p := a[col][col]
		for j := 0; j < n; j++ {
			a[col][j] /= p
			inv[col][j] /= p
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			f := a[row][col]
			if f == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				a[row][j] -= f * a[col][j]
				inv[row][j] -= f * inv[col][j]
			}
		}
	}

	return CovInverse{Matrix: inv}
}

// diagonalCovariance builds a diagonal covariance matrix from per-feature
// standard deviations.
func diagonalCovariance(std []float64) [][]float64 {
	cov := make([][]float64, len(std))
	for i, s := range std {
		cov[i] = make([]float64, len(std))
		cov[i][i] = s * s
	}
	return cov
}

// mahalanobisDistance computes sqrt((x-mu)^T inv (x-mu)). When inv is a
// fallback it degrades to Euclidean distance.
func mahalanobisDistance(x, mu []float64, inv CovInverse) float64 {
	if inv.Fallback {
		return euclideanDistance(x, mu)
	}
	n := len(x)
	diff := make([]float64, n)
	for i := range diff {
		diff[i] = x[i] - mu[i]
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		row := 0.0
		for j := 0; j < n; j++ {
			row += inv.Matrix[i][j] * diff[j]
		}
		sum += row * diff[i]
	}
	if sum < 0 {
		// Numerical noise from near-singular matrices.
		sum = 0
	}
	return math.Sqrt(sum)
}

func euclideanDistance(x, mu []float64) float64 {
	sum := 0.0
	for i := range x {
		d := x[i] - mu[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// JensenShannon computes the Jensen-Shannon distance (square root of the
// JS divergence, natural log base, normalized into [0,1]) between two
// discrete distributions of equal length. Inputs need not be normalized.
func JensenShannon(p, q []float64) float64 {
	if len(p) == 0 || len(p) != len(q) {
		return 0
	}
	pn := normalize(p)
	qn := normalize(q)
	m := make([]float64, len(pn))
	for i := range m {
		m[i] = (pn[i] + qn[i]) / 2
	}
	div := (klDivergence(pn, m) + klDivergence(qn, m)) / 2
	// ln(2) bounds the divergence; the distance is its square root.
	return math.Sqrt(div / math.Ln2)
}

func klDivergence(p, q []float64) float64 {
	sum := 0.0
	for i := range p {
		if p[i] > 0 && q[i] > 0 {
			sum += p[i] * math.Log(p[i]/q[i])
		}
	}
	return sum
}

func normalize(v []float64) []float64 {
	total := 0.0
	for _, x := range v {
		if x > 0 {
			total += x
		}
	}
	out := make([]float64, len(v))
	if total == 0 {
		return out
	}
	for i, x := range v {
		if x > 0 {
			out[i] = x / total
		}
	}
	return out
}

// KSStatistic computes the two-sample Kolmogorov-Smirnov statistic, the
// maximum distance between empirical CDFs.
func KSStatistic(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	as := make([]float64, len(a))
	bs := make([]float64, len(b))
	copy(as, a)
	copy(bs, b)
	sort.Float64s(as)
	sort.Float64s(bs)

	maxDiff := 0.0
	i, j := 0, 0
	for i < len(as) && j < len(bs) {
		if as[i] <= bs[j] {
			i++
		} else {
			j++
		}
		diff := math.Abs(float64(i)/float64(len(as)) - float64(j)/float64(len(bs)))
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	return maxDiff
}
