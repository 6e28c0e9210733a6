package profile

import (
	"math"
	"testing"
)

func testConfig() Config {
	return Config{
		Space:       "fraud",
		Name:        "xgboost-v2",
		Version:     "1.0.0",
		SampleSize:  25,
		Sample:      true,
		Schedule:    "0 * * * *",
		AlertConfig: DefaultAlertConfig(),
	}
}

func TestCreateSpcProfileBounds(t *testing.T) {
	data := [][]float64{{1}, {2}, {3}, {4}, {5}}
	p, err := CreateSpcProfile([]string{"x"}, data, testConfig())
	if err != nil {
		t.Fatalf("CreateSpcProfile() error = %v", err)
	}
	band := p.Features["x"]
	if math.Abs(band.UCL-(band.Center+3*band.OneSigma)) > 1e-9 {
		t.Errorf("ucl != center+3sigma: %+v", band)
	}
	if math.Abs(band.LCL-(band.Center-3*band.OneSigma)) > 1e-9 {
		t.Errorf("lcl != center-3sigma: %+v", band)
	}
}

func TestCreateSpcProfileFlagsZeroSigma(t *testing.T) {
	data := [][]float64{{5}, {5}, {5}}
	p, err := CreateSpcProfile([]string{"constant"}, data, testConfig())
	if err != nil {
		t.Fatalf("CreateSpcProfile() error = %v", err)
	}
	if !p.Features["constant"].Flagged {
		t.Error("expected zero-sigma feature to be flagged")
	}
}

func TestCreateSpcProfileRejectsNaN(t *testing.T) {
	data := [][]float64{{1}, {math.NaN()}}
	if _, err := CreateSpcProfile([]string{"x"}, data, testConfig()); err == nil {
		t.Fatal("expected error for NaN input")
	}
}

func TestCreateSpcProfileRejectsRaggedRows(t *testing.T) {
	data := [][]float64{{1, 2}, {1}}
	if _, err := CreateSpcProfile([]string{"a", "b"}, data, testConfig()); err == nil {
		t.Fatal("expected FeatureLengthError for ragged rows")
	}
}

func TestAlertConditionShouldAlert(t *testing.T) {
	delta := 2.0
	outside := AlertCondition{Threshold: ThresholdOutside, Delta: &delta}

	if outside.ShouldAlert(10, 10) {
		t.Error("should_alert(baseline) must be false for Outside with delta>0")
	}
	for _, x := range []float64{8, 9, 10, 11, 12} {
		if outside.ShouldAlert(10, x) {
			t.Errorf("ShouldAlert(10, %v) = true, want false", x)
		}
	}
	if !outside.ShouldAlert(10, 13) {
		t.Error("ShouldAlert(10, 13) = false, want true")
	}

	above := AlertCondition{Threshold: ThresholdAbove}
	if above.ShouldAlert(10, 10) || !above.ShouldAlert(10, 10.1) {
		t.Error("Above with no delta should alert strictly above baseline")
	}

	below := AlertCondition{Threshold: ThresholdBelow}
	if below.ShouldAlert(10, 10) || !below.ShouldAlert(10, 9.9) {
		t.Error("Below with no delta should alert strictly below baseline")
	}
}

func TestProfileJSONRoundTrip(t *testing.T) {
	spc, err := CreateSpcProfile([]string{"x", "y"}, [][]float64{{1, 10}, {2, 20}, {3, 30}}, testConfig())
	if err != nil {
		t.Fatalf("CreateSpcProfile() error = %v", err)
	}
	p := Profile{UID: "abc123", DriftType: DriftSpc, Spc: spc}

	data, err := p.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}

	if got.UID != p.UID || got.DriftType != p.DriftType {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
	for feature, band := range p.Spc.Features {
		gotBand, ok := got.Spc.Features[feature]
		if !ok {
			t.Fatalf("missing feature %q after round trip", feature)
		}
		if gotBand != band {
			t.Errorf("feature %q band mismatch: got %+v, want %+v", feature, gotBand, band)
		}
	}
}

func TestCreatePsiProfileBinEdgesChain(t *testing.T) {
	data := make([][]float64, 12)
	for i := range data {
		data[i] = []float64{float64(i + 1)}
	}
	p, err := CreatePsiProfile([]string{"x"}, data, testConfig(), BinningStrategy{Kind: BinningQuantile, NumBins: 4})
	if err != nil {
		t.Fatalf("CreatePsiProfile() error = %v", err)
	}
	bins := p.Features["x"].Bins
	var sum float64
	for i, b := range bins {
		sum += b.Proportion
		if i > 0 && b.Lower != bins[i-1].Upper {
			t.Errorf("bin[%d].Lower=%v != bin[%d].Upper=%v", i, b.Lower, i-1, bins[i-1].Upper)
		}
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("sum of proportions = %v, want 1", sum)
	}
}

func TestCreateCustomProfileRequiresMetrics(t *testing.T) {
	if _, err := CreateCustomProfile(nil, testConfig()); err == nil {
		t.Fatal("expected InvalidConfigError for empty metrics")
	}
}
