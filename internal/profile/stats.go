package profile

import (
	"math"
	"sync"

	"github.com/sawpanic/scouter/internal/scouterrors"
)

// pairwiseSum reduces x with pairwise summation, which keeps rounding
// error at O(log n) instead of O(n) for long columns.
func pairwiseSum(x []float64) float64 {
	const base = 128
	if len(x) <= base {
		var s float64
		for _, v := range x {
			s += v
		}
		return s
	}
	mid := len(x) / 2
	return pairwiseSum(x[:mid]) + pairwiseSum(x[mid:])
}

// zScores returns (x - mean) / std per element. A zero-variance column
// yields all zeros.
func zScores(x []float64) []float64 {
	mean, std := meanStd(x)
	out := make([]float64, len(x))
	if std == 0 {
		return out
	}
	for i, v := range x {
		out[i] = (v - mean) / std
	}
	return out
}

// FeatureCorrelations computes the Pearson correlation matrix of an N by F
// sample: columns are z-scored, then each off-diagonal entry is the mean
// of the elementwise product. Columns are processed concurrently since
// z-scoring is independent per column. The diagonal is 1 by construction
// (0 for zero-variance columns).
func FeatureCorrelations(features []string, data [][]float64) ([][]float64, error) {
	if err := validateMatrix(features, data); err != nil {
		return nil, err
	}
	n := len(data)
	if n < 2 {
		return nil, scouterrors.Newf(scouterrors.KindInput, "profile.FeatureCorrelations",
			"need at least 2 rows, got %d", n)
	}

	f := len(features)
	z := make([][]float64, f)
	var wg sync.WaitGroup
	for j := 0; j < f; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			z[j] = zScores(column(data, j))
		}(j)
	}
	wg.Wait()

	corr := make([][]float64, f)
	for i := range corr {
		corr[i] = make([]float64, f)
	}
	prod := make([]float64, n)
	for i := 0; i < f; i++ {
		for j := i; j < f; j++ {
			for k := 0; k < n; k++ {
				prod[k] = z[i][k] * z[j][k]
			}
			// Population z-scores, so the dot-product mean is Pearson r.
			r := pairwiseSum(prod) / float64(n)
			if math.IsNaN(r) {
				r = 0
			}
			corr[i][j] = r
			corr[j][i] = r
		}
	}
	return corr, nil
}
