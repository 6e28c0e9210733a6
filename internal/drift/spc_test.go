package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/scouter/internal/profile"
)

func unitBand() profile.SigmaBand {
	return profile.SigmaBand{
		Center: 0, OneSigma: 1, TwoSigma: 2, ThreeSigma: 3,
		LCL: -3, UCL: 3,
	}
}

func TestClassifyZone(t *testing.T) {
	band := unitBand()
	assert.Equal(t, ZoneInBounds, ClassifyZone(0.5, band))
	assert.Equal(t, ZoneOneUcl, ClassifyZone(1.5, band))
	assert.Equal(t, ZoneOneLcl, ClassifyZone(-1.5, band))
	assert.Equal(t, ZoneTwoUcl, ClassifyZone(2.5, band))
	assert.Equal(t, ZoneTwoLcl, ClassifyZone(-2.5, band))
	assert.Equal(t, ZoneThreeUcl, ClassifyZone(3.5, band))
	assert.Equal(t, ZoneThreeLcl, ClassifyZone(-3.5, band))
}

func TestClassifyZoneFlaggedAlwaysInControl(t *testing.T) {
	band := profile.SigmaBand{Center: 5, Flagged: true}
	assert.Equal(t, ZoneInBounds, ClassifyZone(1e9, band))
}

func TestRule1PointBeyondThreeSigma(t *testing.T) {
	alert := EvaluateSpc([]float64{0.1, -0.4, 3.5}, unitBand(), profile.DefaultAlertConfig())
	require.NotNil(t, alert)
	assert.Equal(t, 1, alert.Rule)
	assert.Equal(t, ZoneThreeUcl, alert.Zone)
}

func TestRule2ConsecutiveBeyondTwoSigma(t *testing.T) {
	cfg := profile.DefaultAlertConfig()
	alert := EvaluateSpc([]float64{2.5, 2.7, 0.1}, unitBand(), cfg)
	require.NotNil(t, alert)
	assert.Equal(t, 2, alert.Rule)
	assert.Equal(t, ZoneTwoUcl, alert.Zone)

	// Opposite sides do not accumulate.
	assert.Nil(t, EvaluateSpc([]float64{2.5, -2.7, 2.5}, unitBand(), cfg))
}

func TestRule3RunOnSameSideOfCenter(t *testing.T) {
	cfg := profile.DefaultAlertConfig()
	cfg.Rule3NConsec = 4
	alert := EvaluateSpc([]float64{0.2, 0.3, 0.1, 0.4}, unitBand(), cfg)
	require.NotNil(t, alert)
	assert.Equal(t, 3, alert.Rule)
	assert.Equal(t, ZoneOneUcl, alert.Zone)

	assert.Nil(t, EvaluateSpc([]float64{0.2, -0.3, 0.1, 0.4}, unitBand(), cfg))
}

func TestRule4NOutOfMBeyondKSigma(t *testing.T) {
	cfg := profile.AlertConfig{
		RuleMask: Rule4, Rule4N: 4, Rule4M: 5, Rule4Sigma: 1,
	}
	// 4 of 5 beyond +1 sigma.
	alert := EvaluateSpc([]float64{1.2, 1.3, 0.0, 1.4, 1.1}, unitBand(), cfg)
	require.NotNil(t, alert)
	assert.Equal(t, 4, alert.Rule)

	// Only 3 of 5.
	assert.Nil(t, EvaluateSpc([]float64{1.2, 1.3, 0.0, 0.2, 1.1}, unitBand(), cfg))
}

func TestLowestNumberedRuleWins(t *testing.T) {
	cfg := profile.DefaultAlertConfig()
	cfg.Rule2NConsec = 2
	// Triggers both rule 1 (the 3.5) and rule 2 (two consecutive >= 2
	// sigma); rule 1 must win.
	alert := EvaluateSpc([]float64{2.5, 3.5}, unitBand(), cfg)
	require.NotNil(t, alert)
	assert.Equal(t, 1, alert.Rule)
}

func TestRuleMaskDisablesRules(t *testing.T) {
	cfg := profile.DefaultAlertConfig()
	cfg.RuleMask = 0
	assert.Nil(t, EvaluateSpc([]float64{3.5}, unitBand(), cfg))

	cfg.RuleMask = Rule2
	assert.Nil(t, EvaluateSpc([]float64{3.5}, unitBand(), cfg))
}
