package profile

import (
	"math"
	"testing"
)

func TestComputeQuantileEdges(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	edges, err := computeQuantileEdges(sorted, 4)
	if err != nil {
		t.Fatalf("computeQuantileEdges() error = %v", err)
	}
	want := []float64{3.25, 5.5, 7.75}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v, want %v", edges, want)
	}
	for i, w := range want {
		if math.Abs(edges[i]-w) > 1e-9 {
			t.Errorf("edges[%d] = %v, want %v", i, edges[i], w)
		}
	}
}

func TestComputeQuantileEdgesInsufficientData(t *testing.T) {
	_, err := computeQuantileEdges([]float64{1, 2}, 4)
	if err == nil {
		t.Fatal("expected InsufficientDataError, got nil")
	}
}

func TestClassifyBin(t *testing.T) {
	edges := []float64{10, 20, 30}
	cases := []struct {
		v    float64
		want int
	}{
		{v: -5, want: 0},
		{v: 10, want: 1}, // half-open: lower bound belongs to the upper bin
		{v: 15, want: 1},
		{v: 29.999, want: 2},
		{v: 30, want: 3},
		{v: 1000, want: 3},
	}
	for _, c := range cases {
		if got := classifyBin(c.v, edges); got != c.want {
			t.Errorf("classifyBin(%v) = %d, want %d", c.v, got, c.want)
		}
	}
}

func TestBuildPsiFeatureProportionsSumToOne(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	feat, err := buildPsiFeature(values, BinningStrategy{Kind: BinningQuantile, NumBins: 4})
	if err != nil {
		t.Fatalf("buildPsiFeature() error = %v", err)
	}
	var sum float64
	for i, b := range feat.Bins {
		sum += b.Proportion
		if i > 0 && b.Lower != feat.Bins[i-1].Upper {
			t.Errorf("bin %d.Lower = %v, want == bin %d.Upper %v", i, b.Lower, i-1, feat.Bins[i-1].Upper)
		}
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("sum of proportions = %v, want 1", sum)
	}
}

func TestBuildFeatureMapReservesMissingIndex(t *testing.T) {
	m := BuildFeatureMap([]string{"b", "a", "c", "a"})
	if m.Values["a"] != 0 || m.Values["b"] != 1 || m.Values["c"] != 2 {
		t.Errorf("unexpected mapping: %+v", m.Values)
	}
	if m.MissingIndex() != 3 {
		t.Errorf("MissingIndex() = %d, want 3", m.MissingIndex())
	}

	out := ApplyFeatureMap([]string{"a", "z", "c"}, m)
	want := []float64{0, 3, 2}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("ApplyFeatureMap()[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestEqualWidthBinCountAutoSizing(t *testing.T) {
	if got := equalWidthBinCount(100, 0); got != 10 {
		t.Errorf("equalWidthBinCount(100, 0) = %d, want 10", got)
	}
	if got := equalWidthBinCount(100, 5); got != 5 {
		t.Errorf("equalWidthBinCount(100, 5) = %d, want 5", got)
	}
}
