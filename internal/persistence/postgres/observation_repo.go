package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

type observationRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewObservationRepo creates a postgres-backed observation repository.
func NewObservationRepo(db *sqlx.DB, timeout time.Duration) persistence.ObservationRepo {
	return &observationRepo{db: db, timeout: timeout}
}

// InsertSpc performs one multi-row insert by unzipping the batch into
// column vectors and unnesting them server-side.
func (r *observationRepo) InsertSpc(ctx context.Context, rows []persistence.SpcRow) error {
	if len(rows) == 0 {
		return nil
	}
	const op = "postgres.ObservationRepo.InsertSpc"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids := make([]int64, len(rows))
	ts := make([]time.Time, len(rows))
	features := make([]string, len(rows))
	values := make([]float64, len(rows))
	for i, row := range rows {
		ids[i] = row.EntityID
		ts[i] = row.CreatedAt
		features[i] = row.Feature
		values[i] = row.Value
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scouter_spc (entity_id, created_at, feature, value)
		SELECT * FROM unnest($1::bigint[], $2::timestamptz[], $3::text[], $4::float8[])`,
		pq.Array(ids), pq.Array(ts), pq.Array(features), pq.Array(values))
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return nil
}

func (r *observationRepo) InsertPsi(ctx context.Context, rows []persistence.PsiRow) error {
	if len(rows) == 0 {
		return nil
	}
	const op = "postgres.ObservationRepo.InsertPsi"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids := make([]int64, len(rows))
	ts := make([]time.Time, len(rows))
	features := make([]string, len(rows))
	binIDs := make([]int64, len(rows))
	binCounts := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.EntityID
		ts[i] = row.CreatedAt
		features[i] = row.Feature
		binIDs[i] = int64(row.BinID)
		binCounts[i] = int64(row.BinCount)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scouter_psi (entity_id, created_at, feature, bin_id, bin_count)
		SELECT * FROM unnest($1::bigint[], $2::timestamptz[], $3::text[], $4::bigint[], $5::bigint[])`,
		pq.Array(ids), pq.Array(ts), pq.Array(features), pq.Array(binIDs), pq.Array(binCounts))
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return nil
}

func (r *observationRepo) InsertCustom(ctx context.Context, rows []persistence.CustomRow) error {
	if len(rows) == 0 {
		return nil
	}
	const op = "postgres.ObservationRepo.InsertCustom"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids := make([]int64, len(rows))
	ts := make([]time.Time, len(rows))
	metrics := make([]string, len(rows))
	values := make([]float64, len(rows))
	for i, row := range rows {
		ids[i] = row.EntityID
		ts[i] = row.CreatedAt
		metrics[i] = row.Metric
		values[i] = row.Value
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scouter_custom (entity_id, created_at, metric, value)
		SELECT * FROM unnest($1::bigint[], $2::timestamptz[], $3::text[], $4::float8[])`,
		pq.Array(ids), pq.Array(ts), pq.Array(metrics), pq.Array(values))
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return nil
}

func (r *observationRepo) InsertTag(ctx context.Context, entityID int64, key, value string, createdAt time.Time) error {
	const op = "postgres.ObservationRepo.InsertTag"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scouter_tag (entity_id, key, value, created_at)
		VALUES ($1, $2, $3, $4)`, entityID, key, value, createdAt)
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return nil
}

func (r *observationRepo) InsertTraceBaggage(ctx context.Context, entityID int64, traceID, spanID string, baggage map[string]string, createdAt time.Time) error {
	const op = "postgres.ObservationRepo.InsertTraceBaggage"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := marshalJSONB(baggage)
	if err != nil {
		return scouterrors.New(scouterrors.KindInternal, op, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scouter_trace (entity_id, trace_id, span_id, baggage, created_at)
		VALUES ($1, $2, $3, $4, $5)`, entityID, traceID, spanID, payload, createdAt)
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return nil
}

func (r *observationRepo) RecentSpc(ctx context.Context, entityID int64, feature string, tr persistence.TimeRange, limit int) ([]persistence.SpcRow, error) {
	const op = "postgres.ObservationRepo.RecentSpc"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.SpcRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT entity_id, created_at, feature, value
		FROM scouter_spc
		WHERE entity_id = $1 AND feature = $2
		  AND created_at >= $3 AND created_at < $4 AND archived = FALSE
		ORDER BY created_at DESC
		LIMIT $5`, entityID, feature, tr.From, tr.To, limit)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return rows, nil
}

func (r *observationRepo) PsiBinCounts(ctx context.Context, entityID int64, feature string, tr persistence.TimeRange) (map[uint64]uint64, error) {
	const op = "postgres.ObservationRepo.PsiBinCounts"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT bin_id, SUM(bin_count) AS total
		FROM scouter_psi
		WHERE entity_id = $1 AND feature = $2
		  AND created_at >= $3 AND created_at < $4 AND archived = FALSE
		GROUP BY bin_id`, entityID, feature, tr.From, tr.To)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	defer rows.Close()

	counts := make(map[uint64]uint64)
	for rows.Next() {
		var binID, total int64
		if err := rows.Scan(&binID, &total); err != nil {
			return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
		}
		counts[uint64(binID)] = uint64(total)
	}
	if err := rows.Err(); err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return counts, nil
}

func (r *observationRepo) RecentCustom(ctx context.Context, entityID int64, metric string, tr persistence.TimeRange) ([]persistence.CustomRow, error) {
	const op = "postgres.ObservationRepo.RecentCustom"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.CustomRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT entity_id, created_at, metric, value
		FROM scouter_custom
		WHERE entity_id = $1 AND metric = $2
		  AND created_at >= $3 AND created_at < $4 AND archived = FALSE
		ORDER BY created_at DESC`, entityID, metric, tr.From, tr.To)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return rows, nil
}

// binnedValueQuery is shared by the SPC and custom binned series; only the
// table and label column differ.
const binnedValueQuery = `
WITH binned AS (
    SELECT date_bin(make_interval(mins => $4), created_at, TIMESTAMPTZ '1970-01-01') AS bucket,
           %s AS label,
           AVG(value) AS avg_value,
           COALESCE(STDDEV(value), 0) AS stddev_value
    FROM %s
    WHERE entity_id = $1 AND created_at >= $2 AND created_at < $3 AND archived = FALSE
    GROUP BY bucket, label
)
SELECT label, bucket, avg_value, stddev_value
FROM binned
ORDER BY label, bucket`

func (r *observationRepo) BinnedSpc(ctx context.Context, entityID int64, tr persistence.TimeRange, binMinutes int) ([]persistence.BinnedSpcFeature, error) {
	return r.binnedValues(ctx, "postgres.ObservationRepo.BinnedSpc",
		"feature", "scouter_spc", entityID, tr, binMinutes)
}

func (r *observationRepo) BinnedCustom(ctx context.Context, entityID int64, tr persistence.TimeRange, binMinutes int) ([]persistence.BinnedSpcFeature, error) {
	return r.binnedValues(ctx, "postgres.ObservationRepo.BinnedCustom",
		"metric", "scouter_custom", entityID, tr, binMinutes)
}

func (r *observationRepo) binnedValues(ctx context.Context, op, label, table string, entityID int64, tr persistence.TimeRange, binMinutes int) ([]persistence.BinnedSpcFeature, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(binnedValueQuery, label, table)
	rows, err := r.db.QueryxContext(ctx, query, entityID, tr.From, tr.To, binMinutes)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	defer rows.Close()

	var out []persistence.BinnedSpcFeature
	var cur *persistence.BinnedSpcFeature
	for rows.Next() {
		var name string
		var bucket time.Time
		var avg, stddev float64
		if err := rows.Scan(&name, &bucket, &avg, &stddev); err != nil {
			return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
		}
		if cur == nil || cur.Feature != name {
			out = append(out, persistence.BinnedSpcFeature{Feature: name})
			cur = &out[len(out)-1]
		}
		cur.CreatedAt = append(cur.CreatedAt, bucket)
		cur.Avg = append(cur.Avg, avg)
		cur.Stddev = append(cur.Stddev, stddev)
	}
	if err := rows.Err(); err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return out, nil
}

// binnedPsiQuery is the three-level CTE behind the PSI binned series:
// per-(feature,bin,bucket) totals, per-(feature,bucket) totals, then
// proportions, keeping only buckets whose feature total exceeds 1.
const binnedPsiQuery = `
WITH feature_bin_totals AS (
    SELECT date_bin(make_interval(mins => $4), created_at, TIMESTAMPTZ '1970-01-01') AS bucket,
           feature, bin_id, SUM(bin_count) AS bin_total
    FROM scouter_psi
    WHERE entity_id = $1 AND created_at >= $2 AND created_at < $3 AND archived = FALSE
    GROUP BY bucket, feature, bin_id
), feature_totals AS (
    SELECT bucket, feature, SUM(bin_total) AS feature_total
    FROM feature_bin_totals
    GROUP BY bucket, feature
)
SELECT b.feature, b.bucket, b.bin_id, b.bin_total,
       b.bin_total::float8 / t.feature_total AS proportion
FROM feature_bin_totals b
JOIN feature_totals t ON t.bucket = b.bucket AND t.feature = b.feature
WHERE t.feature_total > 1
ORDER BY b.feature, b.bucket, b.bin_id`

func (r *observationRepo) BinnedPsi(ctx context.Context, entityID int64, tr persistence.TimeRange, binMinutes int) ([]persistence.BinnedPsiFeature, error) {
	const op = "postgres.ObservationRepo.BinnedPsi"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, binnedPsiQuery, entityID, tr.From, tr.To, binMinutes)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	defer rows.Close()

	type key struct {
		feature string
		bucket  time.Time
	}
	type binObs struct {
		binID      uint64
		binTotal   uint64
		proportion float64
	}
	order := make([]key, 0)
	byBucket := make(map[key][]binObs)
	for rows.Next() {
		var feature string
		var bucket time.Time
		var binID, binTotal int64
		var proportion float64
		if err := rows.Scan(&feature, &bucket, &binID, &binTotal, &proportion); err != nil {
			return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
		}
		k := key{feature, bucket}
		if _, seen := byBucket[k]; !seen {
			order = append(order, k)
		}
		byBucket[k] = append(byBucket[k], binObs{uint64(binID), uint64(binTotal), proportion})
	}
	if err := rows.Err(); err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}

	// Size every bucket's proportion array to the feature's full bin
	// range before assembling, so series rows stay rectangular.
	maxBin := make(map[string]uint64)
	for _, k := range order {
		for _, o := range byBucket[k] {
			if o.binID > maxBin[k.feature] {
				maxBin[k.feature] = o.binID
			}
		}
	}

	var out []persistence.BinnedPsiFeature
	idx := make(map[string]int)
	overallCounts := make(map[string]map[uint64]uint64)
	for _, k := range order {
		i, ok := idx[k.feature]
		if !ok {
			i = len(out)
			idx[k.feature] = i
			out = append(out, persistence.BinnedPsiFeature{Feature: k.feature})
			overallCounts[k.feature] = make(map[uint64]uint64)
		}
		props := make([]float64, maxBin[k.feature]+1)
		for _, o := range byBucket[k] {
			props[o.binID] = o.proportion
			overallCounts[k.feature][o.binID] += o.binTotal
		}
		out[i].Buckets = append(out[i].Buckets, persistence.BinnedPsiBucket{
			CreatedAt:   k.bucket,
			Proportions: props,
		})
	}
	for feature, counts := range overallCounts {
		i := idx[feature]
		var total uint64
		for _, c := range counts {
			total += c
		}
		props := make([]float64, maxBin[feature]+1)
		if total > 0 {
			for binID, c := range counts {
				props[binID] = float64(c) / float64(total)
			}
		}
		out[i].OverallProportions = props
	}
	return out, nil
}
