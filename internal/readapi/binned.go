// Package readapi serves binned drift series: time-bucketed aggregates for
// one profile over a date range, transparently unioning the relational hot
// tier with the parquet cold tier.
package readapi

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/scouter/internal/archive"
	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/profile"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

// TimeInterval is the requested lookback window.
type TimeInterval string

const (
	FiveMinutes     TimeInterval = "5minute"
	FifteenMinutes  TimeInterval = "15minute"
	ThirtyMinutes   TimeInterval = "30minute"
	OneHour         TimeInterval = "1hour"
	ThreeHours      TimeInterval = "3hour"
	SixHours        TimeInterval = "6hour"
	TwelveHours     TimeInterval = "12hour"
	TwentyFourHours TimeInterval = "24hour"
	TwoDays         TimeInterval = "2day"
	FiveDays        TimeInterval = "5day"
)

// ToMinutes converts the interval to its minute span.
func (t TimeInterval) ToMinutes() int {
	switch t {
	case FiveMinutes:
		return 5
	case FifteenMinutes:
		return 15
	case ThirtyMinutes:
		return 30
	case OneHour:
		return 60
	case ThreeHours:
		return 180
	case SixHours:
		return 360
	case TwelveHours:
		return 720
	case TwoDays:
		return 2880
	case FiveDays:
		return 7200
	default:
		return 1440
	}
}

// BinnedDriftRequest selects the profile and the bucketing.
type BinnedDriftRequest struct {
	Space         string            `json:"space"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	DriftType     profile.DriftType `json:"drift_type"`
	TimeInterval  TimeInterval      `json:"time_interval"`
	MaxDataPoints int               `json:"max_data_points"`
}

// BinnedFeatureMetrics is the tagged result: the field matching the
// request's drift type is populated.
type BinnedFeatureMetrics struct {
	Spc    []persistence.BinnedSpcFeature `json:"spc,omitempty"`
	Psi    []persistence.BinnedPsiFeature `json:"psi,omitempty"`
	Custom []persistence.BinnedSpcFeature `json:"custom,omitempty"`
}

// Service answers binned queries over both storage tiers.
type Service struct {
	profiles      persistence.ProfileRepo
	obs           persistence.ObservationRepo
	store         archive.ObjectStore
	retentionDays int
	log           zerolog.Logger
}

// NewService wires the read path. store may be nil when no cold tier is
// configured; queries then cover the relational store only.
func NewService(profiles persistence.ProfileRepo, obs persistence.ObservationRepo, store archive.ObjectStore, retentionDays int, logger zerolog.Logger) *Service {
	return &Service{profiles: profiles, obs: obs, store: store, retentionDays: retentionDays, log: logger}
}

// GetBinnedDrift resolves the entity, derives the bucket width from the
// interval and max_data_points, and queries hot, cold, or both tiers.
func (s *Service) GetBinnedDrift(ctx context.Context, req BinnedDriftRequest) (BinnedFeatureMetrics, error) {
	const op = "readapi.GetBinnedDrift"
	if req.MaxDataPoints < 1 {
		return BinnedFeatureMetrics{}, scouterrors.Newf(scouterrors.KindInput, op, "max_data_points must be >= 1")
	}
	ent, err := s.profiles.ResolveEntity(ctx, req.Space, req.Name, req.Version, req.DriftType)
	if err != nil {
		return BinnedFeatureMetrics{}, err
	}

	minutes := req.TimeInterval.ToMinutes()
	binMinutes := minutes / req.MaxDataPoints
	if binMinutes < 1 {
		binMinutes = 1
	}
	now := time.Now().UTC()
	window := persistence.TimeRange{From: now.Add(-time.Duration(minutes) * time.Minute), To: now}
	boundary := now.Add(-time.Duration(s.retentionDays) * 24 * time.Hour)

	useCold := s.store != nil && window.From.Before(boundary)
	useHot := window.To.After(boundary) || !useCold

	var out BinnedFeatureMetrics
	switch req.DriftType {
	case profile.DriftSpc, profile.DriftCustom:
		series, err := s.binnedValues(ctx, ent, req.DriftType, window, binMinutes, useHot, useCold)
		if err != nil {
			return BinnedFeatureMetrics{}, err
		}
		if req.DriftType == profile.DriftSpc {
			out.Spc = series
		} else {
			out.Custom = series
		}
	case profile.DriftPsi:
		series, err := s.binnedPsi(ctx, ent, window, binMinutes, useHot, useCold)
		if err != nil {
			return BinnedFeatureMetrics{}, err
		}
		out.Psi = series
	default:
		return BinnedFeatureMetrics{}, scouterrors.Newf(scouterrors.KindConfig, op, "unknown drift type %q", req.DriftType)
	}
	return out, nil
}

// valueRow is the tier-independent shape of one SPC/custom observation.
type valueRow struct {
	createdAt time.Time
	label     string
	value     float64
}

func (s *Service) binnedValues(ctx context.Context, ent persistence.Entity, dt profile.DriftType, window persistence.TimeRange, binMinutes int, useHot, useCold bool) ([]persistence.BinnedSpcFeature, error) {
	if useHot && !useCold {
		if dt == profile.DriftSpc {
			return s.obs.BinnedSpc(ctx, ent.EntityID, window, binMinutes)
		}
		return s.obs.BinnedCustom(ctx, ent.EntityID, window, binMinutes)
	}

	// Cold (or mixed) path: aggregate cold parquet rows in-process with
	// the same date_bin semantics as the relational query, then union
	// with the hot aggregates, hot buckets winning on collisions. The
	// overlap window between mark and delete therefore counts each row
	// once.
	rows, err := s.collectColdValueRows(ctx, ent, dt, window)
	if err != nil {
		return nil, err
	}
	cold := aggregateValues(rows, binMinutes)
	if !useHot {
		return cold, nil
	}

	var hot []persistence.BinnedSpcFeature
	if dt == profile.DriftSpc {
		hot, err = s.obs.BinnedSpc(ctx, ent.EntityID, window, binMinutes)
	} else {
		hot, err = s.obs.BinnedCustom(ctx, ent.EntityID, window, binMinutes)
	}
	if err != nil {
		return nil, err
	}
	return mergeValues(hot, cold), nil
}

func (s *Service) collectColdValueRows(ctx context.Context, ent persistence.Entity, dt profile.DriftType, window persistence.TimeRange) ([]valueRow, error) {
	seen := make(map[string]struct{})
	var rows []valueRow
	add := func(createdAt time.Time, label string, value float64) {
		key := fmt.Sprintf("%d|%s", createdAt.UnixNano(), label)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		rows = append(rows, valueRow{createdAt, label, value})
	}

	rt := persistence.RecordTypeSpc
	if dt == profile.DriftCustom {
		rt = persistence.RecordTypeCustom
	}
	keys, err := s.coldKeys(ctx, ent, rt, window)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if dt == profile.DriftSpc {
			decoded, err := archive.DecodeSpc(data, ent.EntityID)
			if err != nil {
				return nil, err
			}
			for _, r := range decoded {
				if inWindow(r.CreatedAt, window) {
					add(r.CreatedAt, r.Feature, r.Value)
				}
			}
		} else {
			decoded, err := archive.DecodeCustom(data, ent.EntityID)
			if err != nil {
				return nil, err
			}
			for _, r := range decoded {
				if inWindow(r.CreatedAt, window) {
					add(r.CreatedAt, r.Metric, r.Value)
				}
			}
		}
	}
	return rows, nil
}

// mergeValues unions two tier results per feature, preferring hot buckets
// on timestamp collisions.
func mergeValues(hot, cold []persistence.BinnedSpcFeature) []persistence.BinnedSpcFeature {
	byFeature := make(map[string]*persistence.BinnedSpcFeature)
	var order []string
	for i := range hot {
		byFeature[hot[i].Feature] = &hot[i]
		order = append(order, hot[i].Feature)
	}
	for i := range cold {
		c := cold[i]
		h, ok := byFeature[c.Feature]
		if !ok {
			byFeature[c.Feature] = &cold[i]
			order = append(order, c.Feature)
			continue
		}
		seen := make(map[int64]struct{}, len(h.CreatedAt))
		for _, ts := range h.CreatedAt {
			seen[ts.UnixNano()] = struct{}{}
		}
		for j, ts := range c.CreatedAt {
			if _, dup := seen[ts.UnixNano()]; dup {
				continue
			}
			h.CreatedAt = append(h.CreatedAt, ts)
			h.Avg = append(h.Avg, c.Avg[j])
			h.Stddev = append(h.Stddev, c.Stddev[j])
		}
		sortBinnedFeature(h)
	}
	sort.Strings(order)
	out := make([]persistence.BinnedSpcFeature, 0, len(order))
	for _, f := range order {
		out = append(out, *byFeature[f])
	}
	return out
}

func sortBinnedFeature(f *persistence.BinnedSpcFeature) {
	idx := make([]int, len(f.CreatedAt))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return f.CreatedAt[idx[a]].Before(f.CreatedAt[idx[b]]) })
	ts := make([]time.Time, len(idx))
	avg := make([]float64, len(idx))
	sd := make([]float64, len(idx))
	for i, j := range idx {
		ts[i], avg[i], sd[i] = f.CreatedAt[j], f.Avg[j], f.Stddev[j]
	}
	f.CreatedAt, f.Avg, f.Stddev = ts, avg, sd
}

func (s *Service) binnedPsi(ctx context.Context, ent persistence.Entity, window persistence.TimeRange, binMinutes int, useHot, useCold bool) ([]persistence.BinnedPsiFeature, error) {
	if useHot && !useCold {
		return s.obs.BinnedPsi(ctx, ent.EntityID, window, binMinutes)
	}

	seen := make(map[string]struct{})
	var rows []persistence.PsiRow
	add := func(r persistence.PsiRow) {
		key := fmt.Sprintf("%d|%s|%d", r.CreatedAt.UnixNano(), r.Feature, r.BinID)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		rows = append(rows, r)
	}

	if useCold {
		keys, err := s.coldKeys(ctx, ent, persistence.RecordTypePsi, window)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			data, err := s.store.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			decoded, err := archive.DecodePsi(data, ent.EntityID)
			if err != nil {
				return nil, err
			}
			for _, r := range decoded {
				if inWindow(r.CreatedAt, window) {
					add(r)
				}
			}
		}
	}
	cold := aggregatePsi(rows, binMinutes)
	if !useHot {
		return cold, nil
	}

	hot, err := s.obs.BinnedPsi(ctx, ent.EntityID, window, binMinutes)
	if err != nil {
		return nil, err
	}
	return mergePsi(hot, cold), nil
}

// coldKeys lists parquet objects whose date partition overlaps the
// window, padding a day on each side since partitions are day-grained.
func (s *Service) coldKeys(ctx context.Context, ent persistence.Entity, rt persistence.RecordType, window persistence.TimeRange) ([]string, error) {
	keys, err := s.store.List(ctx, archive.KeyPrefix(ent.Space, ent.Name, ent.Version, rt))
	if err != nil {
		return nil, err
	}
	lo := window.From.Add(-24 * time.Hour).UTC().Format("2006-01-02")
	hi := window.To.Add(24 * time.Hour).UTC().Format("2006-01-02")
	var out []string
	for _, key := range keys {
		parts := strings.Split(key, "/")
		if len(parts) < 6 {
			continue
		}
		date := parts[4]
		if date >= lo && date <= hi {
			out = append(out, key)
		}
	}
	return out, nil
}

func inWindow(t time.Time, window persistence.TimeRange) bool {
	return !t.Before(window.From) && t.Before(window.To)
}

// bucketOf mirrors date_bin(bin, ts, '1970-01-01').
func bucketOf(t time.Time, binMinutes int) time.Time {
	bin := time.Duration(binMinutes) * time.Minute
	return time.Unix(0, 0).UTC().Add(t.Sub(time.Unix(0, 0).UTC()) / bin * bin)
}

func aggregateValues(rows []valueRow, binMinutes int) []persistence.BinnedSpcFeature {
	type key struct {
		label  string
		bucket time.Time
	}
	groups := make(map[key][]float64)
	for _, r := range rows {
		k := key{r.label, bucketOf(r.createdAt, binMinutes)}
		groups[k] = append(groups[k], r.value)
	}

	byLabel := make(map[string][]key)
	for k := range groups {
		byLabel[k.label] = append(byLabel[k.label], k)
	}
	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var out []persistence.BinnedSpcFeature
	for _, label := range labels {
		ks := byLabel[label]
		sort.Slice(ks, func(i, j int) bool { return ks[i].bucket.Before(ks[j].bucket) })
		feat := persistence.BinnedSpcFeature{Feature: label}
		for _, k := range ks {
			vals := groups[k]
			var sum float64
			for _, v := range vals {
				sum += v
			}
			mean := sum / float64(len(vals))
			// Sample stddev, matching SQL STDDEV; a single-value bucket
			// aggregates to 0 like the relational COALESCE.
			var sd float64
			if n := len(vals); n > 1 {
				var m2 float64
				for _, v := range vals {
					d := v - mean
					m2 += d * d
				}
				sd = math.Sqrt(m2 / float64(n-1))
			}
			feat.CreatedAt = append(feat.CreatedAt, k.bucket)
			feat.Avg = append(feat.Avg, mean)
			feat.Stddev = append(feat.Stddev, sd)
		}
		out = append(out, feat)
	}
	return out
}

func aggregatePsi(rows []persistence.PsiRow, binMinutes int) []persistence.BinnedPsiFeature {
	type key struct {
		feature string
		bucket  time.Time
	}
	counts := make(map[key]map[uint64]uint64)
	maxBin := make(map[string]uint64)
	for _, r := range rows {
		k := key{r.Feature, bucketOf(r.CreatedAt, binMinutes)}
		if counts[k] == nil {
			counts[k] = make(map[uint64]uint64)
		}
		counts[k][r.BinID] += r.BinCount
		if r.BinID > maxBin[r.Feature] {
			maxBin[r.Feature] = r.BinID
		}
	}

	byFeature := make(map[string][]key)
	for k := range counts {
		byFeature[k.feature] = append(byFeature[k.feature], k)
	}
	features := make([]string, 0, len(byFeature))
	for f := range byFeature {
		features = append(features, f)
	}
	sort.Strings(features)

	var out []persistence.BinnedPsiFeature
	for _, feature := range features {
		ks := byFeature[feature]
		sort.Slice(ks, func(i, j int) bool { return ks[i].bucket.Before(ks[j].bucket) })
		feat := persistence.BinnedPsiFeature{Feature: feature}
		overall := make(map[uint64]uint64)
		for _, k := range ks {
			var total uint64
			for _, c := range counts[k] {
				total += c
			}
			if total <= 1 {
				continue
			}
			props := make([]float64, maxBin[feature]+1)
			for binID, c := range counts[k] {
				props[binID] = float64(c) / float64(total)
				overall[binID] += c
			}
			feat.Buckets = append(feat.Buckets, persistence.BinnedPsiBucket{
				CreatedAt:   k.bucket,
				Proportions: props,
			})
		}
		var grand uint64
		for _, c := range overall {
			grand += c
		}
		props := make([]float64, maxBin[feature]+1)
		if grand > 0 {
			for binID, c := range overall {
				props[binID] = float64(c) / float64(grand)
			}
		}
		feat.OverallProportions = props
		if len(feat.Buckets) > 0 {
			out = append(out, feat)
		}
	}
	return out
}

// mergePsi unions two tier results per feature, preferring hot buckets on
// timestamp collisions.
func mergePsi(hot, cold []persistence.BinnedPsiFeature) []persistence.BinnedPsiFeature {
	byFeature := make(map[string]*persistence.BinnedPsiFeature)
	var order []string
	for i := range hot {
		byFeature[hot[i].Feature] = &hot[i]
		order = append(order, hot[i].Feature)
	}
	for i := range cold {
		c := cold[i]
		h, ok := byFeature[c.Feature]
		if !ok {
			byFeature[c.Feature] = &cold[i]
			order = append(order, c.Feature)
			continue
		}
		seen := make(map[int64]struct{}, len(h.Buckets))
		for _, b := range h.Buckets {
			seen[b.CreatedAt.UnixNano()] = struct{}{}
		}
		for _, b := range c.Buckets {
			if _, dup := seen[b.CreatedAt.UnixNano()]; !dup {
				h.Buckets = append(h.Buckets, b)
			}
		}
		sort.Slice(h.Buckets, func(i, j int) bool {
			return h.Buckets[i].CreatedAt.Before(h.Buckets[j].CreatedAt)
		})
	}
	sort.Strings(order)
	out := make([]persistence.BinnedPsiFeature, 0, len(order))
	for _, f := range order {
		out = append(out, *byFeature[f])
	}
	return out
}
