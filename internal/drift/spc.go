// Package drift implements the server-side drift kernels: SPC zone rules,
// the population stability index, and custom-metric threshold checks. The
// kernels are pure functions over slices; the Evaluator in this package
// wires them to the observation store for the poller.
package drift

import (
	"github.com/sawpanic/scouter/internal/profile"
)

// Zone classifies one SPC value against a feature's sigma bands.
type Zone string

const (
	ZoneInBounds Zone = "InBounds"
	ZoneOneUcl   Zone = "OneUcl"
	ZoneOneLcl   Zone = "OneLcl"
	ZoneTwoUcl   Zone = "TwoUcl"
	ZoneTwoLcl   Zone = "TwoLcl"
	ZoneThreeUcl Zone = "ThreeUcl"
	ZoneThreeLcl Zone = "ThreeLcl"
)

// Rule-mask bits, lowest-numbered rule in the lowest bit.
const (
	Rule1 uint8 = 1 << iota
	Rule2
	Rule3
	Rule4
)

// ClassifyZone places a value into the innermost band it escapes. A
// flagged band (sigma = 0) is always in control.
func ClassifyZone(v float64, band profile.SigmaBand) Zone {
	if band.Flagged {
		return ZoneInBounds
	}
	switch {
	case v > band.Center+band.ThreeSigma:
		return ZoneThreeUcl
	case v < band.Center-band.ThreeSigma:
		return ZoneThreeLcl
	case v > band.Center+band.TwoSigma:
		return ZoneTwoUcl
	case v < band.Center-band.TwoSigma:
		return ZoneTwoLcl
	case v > band.Center+band.OneSigma:
		return ZoneOneUcl
	case v < band.Center-band.OneSigma:
		return ZoneOneLcl
	default:
		return ZoneInBounds
	}
}

// SpcAlert is one triggered rule for one feature.
type SpcAlert struct {
	Rule int
	Zone Zone
}

// EvaluateSpc applies the enabled zone rules to a chronological series of
// values for one feature. Rules are checked lowest-numbered first and the
// first trigger wins, so at most one alert per feature per poll.
func EvaluateSpc(values []float64, band profile.SigmaBand, cfg profile.AlertConfig) *SpcAlert {
	if len(values) == 0 || band.Flagged {
		return nil
	}
	zones := make([]Zone, len(values))
	for i, v := range values {
		zones[i] = ClassifyZone(v, band)
	}

	if cfg.RuleMask&Rule1 != 0 {
		if a := rule1(zones); a != nil {
			return a
		}
	}
	if cfg.RuleMask&Rule2 != 0 {
		if a := rule2(zones, cfg.Rule2NConsec); a != nil {
			return a
		}
	}
	if cfg.RuleMask&Rule3 != 0 {
		if a := rule3(values, band, cfg.Rule3NConsec); a != nil {
			return a
		}
	}
	if cfg.RuleMask&Rule4 != 0 {
		if a := rule4(values, band, cfg.Rule4N, cfg.Rule4M, cfg.Rule4Sigma); a != nil {
			return a
		}
	}
	return nil
}

// rule1 fires on any single point beyond 3 sigma.
func rule1(zones []Zone) *SpcAlert {
	for _, z := range zones {
		if z == ZoneThreeUcl || z == ZoneThreeLcl {
			return &SpcAlert{Rule: 1, Zone: z}
		}
	}
	return nil
}

// rule2 fires on n consecutive same-side points at or beyond 2 sigma.
func rule2(zones []Zone, n int) *SpcAlert {
	if n < 1 {
		n = 2
	}
	upper, lower := 0, 0
	for _, z := range zones {
		switch z {
		case ZoneTwoUcl, ZoneThreeUcl:
			upper++
			lower = 0
		case ZoneTwoLcl, ZoneThreeLcl:
			lower++
			upper = 0
		default:
			upper, lower = 0, 0
		}
		if upper >= n {
			return &SpcAlert{Rule: 2, Zone: ZoneTwoUcl}
		}
		if lower >= n {
			return &SpcAlert{Rule: 2, Zone: ZoneTwoLcl}
		}
	}
	return nil
}

// rule3 fires on a run of n consecutive points on the same side of center.
func rule3(values []float64, band profile.SigmaBand, n int) *SpcAlert {
	if n < 1 {
		n = 7
	}
	above, below := 0, 0
	for _, v := range values {
		switch {
		case v > band.Center:
			above++
			below = 0
		case v < band.Center:
			below++
			above = 0
		default:
			above, below = 0, 0
		}
		if above >= n {
			return &SpcAlert{Rule: 3, Zone: ZoneOneUcl}
		}
		if below >= n {
			return &SpcAlert{Rule: 3, Zone: ZoneOneLcl}
		}
	}
	return nil
}

// rule4 fires when n of any m consecutive points sit on the same side
// beyond k sigma.
func rule4(values []float64, band profile.SigmaBand, n, m int, k float64) *SpcAlert {
	if n < 1 || m < n || len(values) < m {
		return nil
	}
	threshold := k * band.OneSigma
	for start := 0; start+m <= len(values); start++ {
		upper, lower := 0, 0
		for _, v := range values[start : start+m] {
			if v > band.Center+threshold {
				upper++
			} else if v < band.Center-threshold {
				lower++
			}
		}
		if upper >= n {
			return &SpcAlert{Rule: 4, Zone: ZoneOneUcl}
		}
		if lower >= n {
			return &SpcAlert{Rule: 4, Zone: ZoneOneLcl}
		}
	}
	return nil
}
