package drift

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePsiEqualDistributionsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, ComputePsi([]float64{0.5, 0.5}, []float64{0.5, 0.5}))
}

func TestComputePsiShiftedDistribution(t *testing.T) {
	// (0.25-0.5)*ln(0.25/0.5) + (0.75-0.5)*ln(0.75/0.5)
	want := -0.25*math.Log(0.5) + 0.25*math.Log(1.5)
	got := ComputePsi([]float64{0.5, 0.5}, []float64{0.25, 0.75})
	assert.InDelta(t, want, got, 1e-12)
	assert.InDelta(t, 0.274653, got, 1e-6)
}

func TestComputePsiZeroProportionsUseEpsilon(t *testing.T) {
	got := ComputePsi([]float64{0.5, 0.5}, []float64{0, 1})
	assert.False(t, math.IsInf(got, 0))
	assert.False(t, math.IsNaN(got))
	// Epsilon only replaces the zero side; the non-zero entries are exact.
	want := (psiEpsilon-0.5)*math.Log(psiEpsilon/0.5) + (1-0.5)*math.Log(1/0.5)
	assert.InDelta(t, want, got, 1e-12)
}

func TestObservedProportions(t *testing.T) {
	props, ok := ObservedProportions(map[uint64]uint64{0: 25, 1: 75}, 2)
	require.True(t, ok)
	assert.InDelta(t, 0.25, props[0], 1e-12)
	assert.InDelta(t, 0.75, props[1], 1e-12)
}

func TestObservedProportionsDiscardsTinyTotals(t *testing.T) {
	_, ok := ObservedProportions(map[uint64]uint64{0: 1}, 2)
	assert.False(t, ok)
	_, ok = ObservedProportions(map[uint64]uint64{}, 2)
	assert.False(t, ok)
}

func TestObservedProportionsIgnoresOutOfRangeBins(t *testing.T) {
	props, ok := ObservedProportions(map[uint64]uint64{0: 50, 9: 50}, 2)
	require.True(t, ok)
	assert.InDelta(t, 0.5, props[0], 1e-12)
	assert.InDelta(t, 0.0, props[1], 1e-12)
}
