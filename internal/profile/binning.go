package profile

import (
	"math"
	"sort"

	"github.com/sawpanic/scouter/internal/scouterrors"
)

// BinningStrategyKind selects how PSI bin edges are derived from a baseline
// sample.
type BinningStrategyKind string

const (
	BinningQuantile   BinningStrategyKind = "quantile"
	BinningEqualWidth BinningStrategyKind = "equal_width"
)

// BinningStrategy picks quantile or equal-width binning and, for
// EqualWidth, how the bin count is derived when NumBins is zero.
type BinningStrategy struct {
	Kind    BinningStrategyKind
	NumBins int // 0 with EqualWidth means auto (sqrt(n))
}

// DefaultBinningStrategy is quantile binning with k=10.
func DefaultBinningStrategy() BinningStrategy {
	return BinningStrategy{Kind: BinningQuantile, NumBins: 10}
}

// computeQuantileEdges computes k-1 interior edges over a baseline sample
// using the R-7 (Hyndman & Fan Type 7) quantile definition, exactly as
// implemented by the reference drift-binning kernel this is ported from:
// for p = i/k, m = 1-p, j = floor(np+m), h = np+m-j,
// Q(p) = (1-h)*x[j] + h*x[j+1] with 1-based j clamped into [1, n].
func computeQuantileEdges(sorted []float64, numBins int) ([]float64, error) {
	n := len(sorted)
	if n < numBins {
		return nil, scouterrors.New(scouterrors.KindInput, "profile.computeQuantileEdges", scouterrors.ErrInsufficientData)
	}
	if numBins < 2 {
		return nil, scouterrors.Newf(scouterrors.KindInput, "profile.computeQuantileEdges", "num_bins must be at least 2 (InvalidParameterError)")
	}

	edges := make([]float64, 0, numBins-1)
	nf := float64(n)
	for i := 1; i < numBins; i++ {
		p := float64(i) / float64(numBins)
		m := 1.0 - p
		npPlusM := nf*p + m
		j := int(math.Floor(npPlusM))
		h := npPlusM - float64(j)

		jZero := j - 1
		if jZero < 0 {
			jZero = 0
		}
		jPlus1Zero := jZero + 1
		if jPlus1Zero > n-1 {
			jPlus1Zero = n - 1
		}

		q := (1-h)*sorted[jZero] + h*sorted[jPlus1Zero]
		edges = append(edges, q)
	}
	return edges, nil
}

// equalWidthBinCount returns the explicit bin count when it is positive,
// otherwise ⌈√n⌉. No ⌈log2 n + 1⌉ auto-sizing variant is offered.
func equalWidthBinCount(n int, explicit int) int {
	if explicit > 0 {
		return explicit
	}
	return int(math.Ceil(math.Sqrt(float64(n))))
}

// computeEqualWidthEdges returns numBins-1 interior edges spanning
// [min, max] in equal steps.
func computeEqualWidthEdges(sorted []float64, numBins int) []float64 {
	n := len(sorted)
	min, max := sorted[0], sorted[n-1]
	width := (max - min) / float64(numBins)
	edges := make([]float64, 0, numBins-1)
	for i := 1; i < numBins; i++ {
		edges = append(edges, min+width*float64(i))
	}
	return edges
}

// binCounts counts how many sample values fall in each PSI bin by
// classifying each sample value into a bin, exactly per classifyBin's
// convention (values below the first edge go to bin 0, values at/above the
// last edge go to the final bin).
func binCounts(values []float64, edges []float64) []uint64 {
	counts := make([]uint64, len(edges)+1)
	for _, v := range values {
		counts[classifyBin(v, edges)]++
	}
	return counts
}

// classifyBin performs the binary search over baseline edges shared by
// profile construction and the client-side PSI queue: values
// less than the first edge land in bin 0, values at or beyond the last edge
// land in the last bin, otherwise bin = number of edges <= v.
func classifyBin(v float64, edges []float64) int {
	// sort.Search finds the smallest i such that edges[i] > v, i.e. the bin
	// index v belongs to under the half-open [lower, upper) convention.
	idx := sort.Search(len(edges), func(i int) bool { return edges[i] > v })
	if idx > len(edges) {
		idx = len(edges)
	}
	return idx
}

// buildPsiFeature fits one feature's baseline PsiFeature (edges + bin
// boundaries + proportions) from a column of numeric values.
func buildPsiFeature(values []float64, strategy BinningStrategy) (PsiFeature, error) {
	n := len(values)
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	numBins := strategy.NumBins
	var edges []float64
	var err error
	switch strategy.Kind {
	case BinningEqualWidth:
		numBins = equalWidthBinCount(n, strategy.NumBins)
		edges = computeEqualWidthEdges(sorted, numBins)
	default:
		edges, err = computeQuantileEdges(sorted, numBins)
		if err != nil {
			return PsiFeature{}, err
		}
	}

	counts := binCounts(values, edges)
	total := float64(n)

	bins := make([]PsiBin, len(counts))
	for i := range counts {
		lower := math.Inf(-1)
		if i > 0 {
			lower = edges[i-1]
		}
		upper := math.Inf(1)
		if i < len(edges) {
			upper = edges[i]
		}
		bins[i] = PsiBin{
			ID:         uint32(i),
			Lower:      lower,
			Upper:      upper,
			Proportion: float64(counts[i]) / total,
		}
	}
	return PsiFeature{Bins: bins}, nil
}

// CreatePsiProfile computes per-feature baseline bin edges and proportions
// from an N×F numeric sample.
func CreatePsiProfile(features []string, data [][]float64, cfg Config, strategy BinningStrategy) (*PsiProfile, error) {
	if err := validateMatrix(features, data); err != nil {
		return nil, err
	}

	out := &PsiProfile{Config: cfg, Features: make(map[string]PsiFeature, len(features))}
	for j, feature := range features {
		col := column(data, j)
		feat, err := buildPsiFeature(col, strategy)
		if err != nil {
			return nil, err
		}
		out.Features[feature] = feat
	}
	return out, nil
}

// ClassifyBin exposes classifyBin for callers outside this package (the
// client-side PSI queue needs the same half-open bin convention used to
// build the baseline).
func ClassifyBin(v float64, edges []float64) int { return classifyBin(v, edges) }

// EdgesFromBins recovers the interior edges from a fitted PsiFeature's bins
// (every bin's Upper except the last, which is +Inf by convention).
func EdgesFromBins(bins []PsiBin) []float64 {
	if len(bins) == 0 {
		return nil
	}
	edges := make([]float64, 0, len(bins)-1)
	for i := 0; i < len(bins)-1; i++ {
		edges = append(edges, bins[i].Upper)
	}
	return edges
}

// BuildFeatureMap converts a categorical column's distinct string values
// into a sorted value→index table, reserving index len(unique) for
// "missing".
func BuildFeatureMap(values []string) FeatureMapping {
	seen := make(map[string]struct{})
	for _, v := range values {
		seen[v] = struct{}{}
	}
	unique := make([]string, 0, len(seen))
	for v := range seen {
		unique = append(unique, v)
	}
	sort.Strings(unique)

	m := make(map[string]int, len(unique))
	for i, v := range unique {
		m[v] = i
	}
	return FeatureMapping{Values: m}
}

// ApplyFeatureMap converts a categorical column to numeric indices via m,
// mapping any value absent from m to MissingIndex().
func ApplyFeatureMap(values []string, m FeatureMapping) []float64 {
	out := make([]float64, len(values))
	missing := float64(m.MissingIndex())
	for i, v := range values {
		if idx, ok := m.Values[v]; ok {
			out[i] = float64(idx)
		} else {
			out[i] = missing
		}
	}
	return out
}
