// Package profile implements Scouter's drift-profile data model: the typed
// description of what "normal" looks like for a monitored (space, name,
// version, drift_type) entity, plus the baseline-computation constructors
// that turn a 2-D numeric sample into a profile.
//
// Drift kinds are a tagged union rather than an interface hierarchy: a
// Profile always carries its Config and exactly one of Spc/Psi/Custom,
// selected by DriftType, and dispatch over the union is an exhaustive
// switch rather than polymorphism.
package profile

import (
	"encoding/json"
	"math"

	"github.com/sawpanic/scouter/internal/scouterrors"
)

// DriftType selects which kernel a profile is evaluated with.
type DriftType string

const (
	DriftSpc    DriftType = "spc"
	DriftPsi    DriftType = "psi"
	DriftCustom DriftType = "custom"
)

// ThresholdKind is the comparison a Custom alert condition applies.
type ThresholdKind string

const (
	ThresholdAbove   ThresholdKind = "above"
	ThresholdBelow   ThresholdKind = "below"
	ThresholdOutside ThresholdKind = "outside"
)

// AlertCondition is a Custom-metric's alerting rule against a baseline value.
type AlertCondition struct {
	Threshold ThresholdKind `json:"threshold"`
	Delta     *float64      `json:"delta,omitempty"`
}

// ShouldAlert evaluates the condition: Above/Below/Outside
// crossed with an optional delta band around the baseline.
func (c AlertCondition) ShouldAlert(baseline, x float64) bool {
	switch c.Threshold {
	case ThresholdAbove:
		if c.Delta != nil {
			return x > baseline+*c.Delta
		}
		return x > baseline
	case ThresholdBelow:
		if c.Delta != nil {
			return x < baseline-*c.Delta
		}
		return x < baseline
	case ThresholdOutside:
		if c.Delta != nil {
			return x < baseline-*c.Delta || x > baseline+*c.Delta
		}
		return x != baseline
	default:
		return false
	}
}

// AlertConfig carries the per-profile alerting knobs referenced by the
// kernels: SPC's rule mask, PSI's threshold, and Custom's per-metric
// conditions.
type AlertConfig struct {
	// RuleMask enables SPC rules bitwise: bit 0 is rule 1 (point beyond
	// 3 sigma), bit 1 is rule 2, bit 2 is rule 3, bit 3 is rule 4.
	RuleMask       uint8                     `json:"rule_mask"`
	Rule2NConsec   int                       `json:"rule2_n_consecutive"`
	Rule3NConsec   int                       `json:"rule3_n_consecutive"`
	Rule4N         int                       `json:"rule4_n"`
	Rule4M         int                       `json:"rule4_m"`
	Rule4Sigma     float64                   `json:"rule4_sigma"`
	PsiThreshold   float64                   `json:"psi_threshold"`
	CustomByMetric map[string]AlertCondition `json:"custom_by_metric,omitempty"`
}

// DefaultAlertConfig enables all four SPC rules with 2-consecutive /
// 7-consecutive run lengths, a 4-of-5 beyond-1-sigma rule, and a PSI
// threshold of 0.25.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		RuleMask:     0x0F,
		Rule2NConsec: 2,
		Rule3NConsec: 7,
		Rule4N:       4,
		Rule4M:       5,
		Rule4Sigma:   1,
		PsiThreshold: 0.25,
	}
}

// Config is the shared header every DriftType variant carries.
type Config struct {
	Space       string            `json:"space"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	SampleSize  int               `json:"sample_size"`
	Sample      bool              `json:"sample"`
	Schedule    string            `json:"schedule"` // cron expression
	AlertConfig AlertConfig       `json:"alert_config"`
	FeatureMap  map[string]FeatureMapping `json:"feature_map,omitempty"`
}

// FeatureMapping is the categorical-value→index table built by
// BuildFeatureMap, with index len(Values) reserved for "missing".
type FeatureMapping struct {
	Values map[string]int `json:"values"`
}

// MissingIndex returns the sentinel index reserved for unseen categories.
func (m FeatureMapping) MissingIndex() int { return len(m.Values) }

// SigmaBand is one feature's SPC baseline statistics.
type SigmaBand struct {
	Center    float64 `json:"center"`
	OneSigma  float64 `json:"one_sigma"`
	TwoSigma  float64 `json:"two_sigma"`
	ThreeSigma float64 `json:"three_sigma"`
	LCL       float64 `json:"lcl"`
	UCL       float64 `json:"ucl"`
	Timestamp int64   `json:"timestamp"` // unix nanos
	Flagged   bool    `json:"flagged"`   // σ=0, always-in-control
}

// SpcProfile is the DriftSpc variant: one SigmaBand per feature.
type SpcProfile struct {
	Config   Config               `json:"config"`
	Features map[string]SigmaBand `json:"features"`
}

// PsiBin is one bin of a feature's baseline distribution.
type PsiBin struct {
	ID         uint32  `json:"id"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Proportion float64 `json:"proportion"`
}

// PsiFeature is one feature's baseline binning.
type PsiFeature struct {
	Bins []PsiBin `json:"bins"`
}

// PsiProfile is the DriftPsi variant: one PsiFeature per feature.
type PsiProfile struct {
	Config   Config                `json:"config"`
	Features map[string]PsiFeature `json:"features"`
}

// CustomMetric is one metric's baseline value and alerting condition.
type CustomMetric struct {
	BaselineValue float64        `json:"baseline_value"`
	Condition     AlertCondition `json:"condition"`
}

// CustomProfile is the DriftCustom variant: one CustomMetric per metric.
type CustomProfile struct {
	Config  Config                  `json:"config"`
	Metrics map[string]CustomMetric `json:"metrics"`
}

// Profile is the tagged union persisted and served by the system. Exactly
// one of Spc/Psi/Custom is non-nil, selected by DriftType.
type Profile struct {
	UID       string    `json:"uid"`
	DriftType DriftType `json:"drift_type"`
	Spc       *SpcProfile    `json:"spc,omitempty"`
	Psi       *PsiProfile    `json:"psi,omitempty"`
	Custom    *CustomProfile `json:"custom,omitempty"`
}

// Cfg returns the shared config header regardless of variant.
func (p Profile) Cfg() (Config, error) {
	switch p.DriftType {
	case DriftSpc:
		if p.Spc == nil {
			return Config{}, scouterrors.Newf(scouterrors.KindInput, "profile.Cfg", "spc profile missing body")
		}
		return p.Spc.Config, nil
	case DriftPsi:
		if p.Psi == nil {
			return Config{}, scouterrors.Newf(scouterrors.KindInput, "profile.Cfg", "psi profile missing body")
		}
		return p.Psi.Config, nil
	case DriftCustom:
		if p.Custom == nil {
			return Config{}, scouterrors.Newf(scouterrors.KindInput, "profile.Cfg", "custom profile missing body")
		}
		return p.Custom.Config, nil
	default:
		return Config{}, scouterrors.Newf(scouterrors.KindConfig, "profile.Cfg", "unknown drift type %q", p.DriftType)
	}
}

// ToJSON serializes the profile. Round-tripping through ToJSON/FromJSON
// must be lossless.
func (p Profile) ToJSON() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindInternal, "profile.ToJSON", err)
	}
	return b, nil
}

// FromJSON deserializes a profile previously produced by ToJSON.
func FromJSON(data []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, scouterrors.New(scouterrors.KindInput, "profile.FromJSON", err)
	}
	return p, nil
}

// validateMatrix checks the shape/finiteness preconditions shared by
// CreateSpcProfile and CreatePsiProfile.
func validateMatrix(features []string, data [][]float64) error {
	if len(features) == 0 {
		return scouterrors.Newf(scouterrors.KindInput, "profile.validateMatrix", "feature list is empty")
	}
	for i, row := range data {
		if len(row) != len(features) {
			return scouterrors.Newf(scouterrors.KindInput, "profile.validateMatrix",
				"row %d has %d columns, want %d (FeatureLengthError)", i, len(row), len(features))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return scouterrors.Newf(scouterrors.KindInput, "profile.validateMatrix",
					"row %d col %d (%s) is NaN/Inf", i, j, features[j])
			}
		}
	}
	if len(data) == 0 {
		return scouterrors.Newf(scouterrors.KindInput, "profile.validateMatrix", "data matrix is empty (ShapeError)")
	}
	return nil
}

// column extracts column j from a row-major N×F matrix.
func column(data [][]float64, j int) []float64 {
	col := make([]float64, len(data))
	for i, row := range data {
		col[i] = row[j]
	}
	return col
}

// meanStd computes the population mean and standard deviation (ddof=0)
// with a two-pass sweep, which keeps the result independent of iteration
// order.
func meanStd(x []float64) (mean, std float64) {
	n := float64(len(x))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean = sum / n

	var m2 float64
	for _, v := range x {
		d := v - mean
		m2 += d * d
	}
	if n > 0 {
		std = math.Sqrt(m2 / n)
	}
	return mean, std
}

// CreateSpcProfile computes per-feature baseline statistics from an N×F
// numeric sample.
func CreateSpcProfile(features []string, data [][]float64, cfg Config) (*SpcProfile, error) {
	if err := validateMatrix(features, data); err != nil {
		return nil, err
	}
	if cfg.SampleSize < 1 {
		return nil, scouterrors.Newf(scouterrors.KindInput, "profile.CreateSpcProfile", "sample_size must be >= 1 (InvalidConfigError)")
	}

	out := &SpcProfile{Config: cfg, Features: make(map[string]SigmaBand, len(features))}
	for j, feature := range features {
		col := column(data, j)
		mean, std := meanStd(col)
		band := SigmaBand{
			Center:     mean,
			OneSigma:   std,
			TwoSigma:   2 * std,
			ThreeSigma: 3 * std,
			LCL:        mean - 3*std,
			UCL:        mean + 3*std,
			Flagged:    std == 0,
		}
		out.Features[feature] = band
	}
	return out, nil
}

// CreateCustomProfile builds a Custom profile from caller-supplied per-metric
// baselines and conditions; there is no statistical fit step since the
// baseline is provided directly.
func CreateCustomProfile(metrics map[string]CustomMetric, cfg Config) (*CustomProfile, error) {
	if len(metrics) == 0 {
		return nil, scouterrors.Newf(scouterrors.KindInput, "profile.CreateCustomProfile", "at least one metric is required (InvalidConfigError)")
	}
	return &CustomProfile{Config: cfg, Metrics: metrics}, nil
}

// String satisfies fmt.Stringer for log fields.
func (t DriftType) String() string { return string(t) }
