package drift

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/profile"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

// spcQueryLimit caps how many recent values a poll considers per feature.
const spcQueryLimit = 1000

// Evaluator runs the kernel matching a profile's drift type against the
// observations accumulated since the task's previous run.
type Evaluator struct {
	obs persistence.ObservationRepo
	log zerolog.Logger
}

// NewEvaluator builds an evaluator over the observation store.
func NewEvaluator(obs persistence.ObservationRepo, logger zerolog.Logger) *Evaluator {
	return &Evaluator{obs: obs, log: logger}
}

// Evaluate dispatches on the profile's drift type and returns the alerts
// to write. A kernel error on one feature is logged and skipped; the
// remaining features still evaluate.
func (e *Evaluator) Evaluate(ctx context.Context, entityID int64, p profile.Profile, window persistence.TimeRange) ([]persistence.Alert, error) {
	switch p.DriftType {
	case profile.DriftSpc:
		return e.evaluateSpc(ctx, entityID, p, window)
	case profile.DriftPsi:
		return e.evaluatePsi(ctx, entityID, p, window)
	case profile.DriftCustom:
		return e.evaluateCustom(ctx, entityID, p, window)
	default:
		return nil, scouterrors.Newf(scouterrors.KindConfig, "drift.Evaluate", "unknown drift type %q", p.DriftType)
	}
}

func (e *Evaluator) evaluateSpc(ctx context.Context, entityID int64, p profile.Profile, window persistence.TimeRange) ([]persistence.Alert, error) {
	prof := p.Spc
	if prof == nil {
		return nil, scouterrors.Newf(scouterrors.KindInput, "drift.evaluateSpc", "spc profile missing body")
	}

	var alerts []persistence.Alert
	for _, feature := range sortedKeys(prof.Features) {
		band := prof.Features[feature]
		rows, err := e.obs.RecentSpc(ctx, entityID, feature, window, spcQueryLimit)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		// Rows arrive newest first; the run rules want chronological order.
		values := make([]float64, len(rows))
		for i, row := range rows {
			values[len(rows)-1-i] = row.Value
		}
		if a := EvaluateSpc(values, band, prof.Config.AlertConfig); a != nil {
			alerts = append(alerts, persistence.Alert{
				EntityID:   entityID,
				CreatedAt:  time.Now().UTC(),
				EntityName: prof.Config.Name,
				DriftType:  profile.DriftSpc,
				Active:     true,
				Alert: map[string]string{
					"kind":    "Alert",
					"feature": feature,
					"rule":    fmt.Sprintf("%d", a.Rule),
					"zone":    string(a.Zone),
				},
			})
		}
	}
	return alerts, nil
}

func (e *Evaluator) evaluatePsi(ctx context.Context, entityID int64, p profile.Profile, window persistence.TimeRange) ([]persistence.Alert, error) {
	prof := p.Psi
	if prof == nil {
		return nil, scouterrors.Newf(scouterrors.KindInput, "drift.evaluatePsi", "psi profile missing body")
	}
	threshold := prof.Config.AlertConfig.PsiThreshold
	if threshold <= 0 {
		threshold = profile.DefaultAlertConfig().PsiThreshold
	}

	var alerts []persistence.Alert
	for _, feature := range sortedKeys(prof.Features) {
		feat := prof.Features[feature]
		counts, err := e.obs.PsiBinCounts(ctx, entityID, feature, window)
		if err != nil {
			return nil, err
		}
		observed, ok := ObservedProportions(counts, len(feat.Bins))
		if !ok {
			e.log.Debug().Int64("entity_id", entityID).Str("feature", feature).
				Msg("psi skipped: too few observations in window")
			continue
		}
		baseline := make([]float64, len(feat.Bins))
		for i, bin := range feat.Bins {
			baseline[i] = bin.Proportion
		}
		psi := ComputePsi(baseline, observed)
		if psi > threshold {
			alerts = append(alerts, persistence.Alert{
				EntityID:   entityID,
				CreatedAt:  time.Now().UTC(),
				EntityName: prof.Config.Name,
				DriftType:  profile.DriftPsi,
				Active:     true,
				Alert: map[string]string{
					"kind":    "Alert",
					"feature": feature,
					"psi":     fmt.Sprintf("%.6f", psi),
				},
			})
		}
	}
	return alerts, nil
}

func (e *Evaluator) evaluateCustom(ctx context.Context, entityID int64, p profile.Profile, window persistence.TimeRange) ([]persistence.Alert, error) {
	prof := p.Custom
	if prof == nil {
		return nil, scouterrors.Newf(scouterrors.KindInput, "drift.evaluateCustom", "custom profile missing body")
	}

	var alerts []persistence.Alert
	for _, metric := range sortedKeys(prof.Metrics) {
		m := prof.Metrics[metric]
		rows, err := e.obs.RecentCustom(ctx, entityID, metric, window)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(rows))
		for i, row := range rows {
			values[i] = row.Value
		}
		mean, alert := EvaluateCustom(values, m)
		if alert {
			alerts = append(alerts, persistence.Alert{
				EntityID:   entityID,
				CreatedAt:  time.Now().UTC(),
				EntityName: prof.Config.Name,
				DriftType:  profile.DriftCustom,
				Active:     true,
				Alert: map[string]string{
					"kind":     "Alert",
					"metric":   metric,
					"observed": fmt.Sprintf("%.6f", mean),
					"baseline": fmt.Sprintf("%.6f", m.BaselineValue),
				},
			})
		}
	}
	return alerts, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
