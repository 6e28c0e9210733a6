package drift

import "math"

// psiEpsilon replaces zero proportions so ln(p/q) stays finite. Fixed here
// as the single calibration knob rather than inlined at call sites.
const psiEpsilon = 1e-4

// ComputePsi returns sum((observed - baseline) * ln(observed / baseline))
// over aligned bins. Zero proportions on either side are clamped to
// psiEpsilon; non-zero proportions are used as-is.
func ComputePsi(baseline, observed []float64) float64 {
	n := len(baseline)
	if len(observed) < n {
		n = len(observed)
	}
	var psi float64
	for i := 0; i < n; i++ {
		b, o := baseline[i], observed[i]
		if b == 0 {
			b = psiEpsilon
		}
		if o == 0 {
			o = psiEpsilon
		}
		psi += (o - b) * math.Log(o/b)
	}
	return psi
}

// ObservedProportions converts per-bin counts into proportions over
// numBins bins. Returns ok=false when the total count is too small for a
// meaningful comparison (total <= 1).
func ObservedProportions(counts map[uint64]uint64, numBins int) ([]float64, bool) {
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total <= 1 {
		return nil, false
	}
	props := make([]float64, numBins)
	for binID, c := range counts {
		if int(binID) < numBins {
			props[binID] = float64(c) / float64(total)
		}
	}
	return props, true
}
