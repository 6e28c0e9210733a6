package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/profile"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

type alertRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAlertRepo creates a postgres-backed alert repository.
func NewAlertRepo(db *sqlx.DB, timeout time.Duration) persistence.AlertRepo {
	return &alertRepo{db: db, timeout: timeout}
}

func (r *alertRepo) Insert(ctx context.Context, a persistence.Alert) (int64, error) {
	const op = "postgres.AlertRepo.Insert"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := marshalJSONB(a.Alert)
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindInternal, op, err)
	}
	var id int64
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO scouter_alert (entity_id, created_at, entity_name, alert, drift_type, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id`,
		a.EntityID, a.CreatedAt, a.EntityName, payload, string(a.DriftType)).Scan(&id)
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return id, nil
}

func (r *alertRepo) List(ctx context.Context, entityID int64, activeOnly bool, limit int, before *time.Time) ([]persistence.Alert, error) {
	const op = "postgres.AlertRepo.List"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, entity_id, created_at, entity_name, alert, drift_type, active
		FROM scouter_alert
		WHERE entity_id = $1 AND ($2 = FALSE OR active = TRUE) AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4`
	rows, err := r.db.QueryxContext(ctx, query, entityID, activeOnly, before, limit)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	defer rows.Close()

	var out []persistence.Alert
	for rows.Next() {
		var a persistence.Alert
		var payload []byte
		var dt string
		if err := rows.Scan(&a.ID, &a.EntityID, &a.CreatedAt, &a.EntityName, &payload, &dt, &a.Active); err != nil {
			return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
		}
		a.DriftType = profile.DriftType(dt)
		if err := json.Unmarshal(payload, &a.Alert); err != nil {
			return nil, scouterrors.New(scouterrors.KindInternal, op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return out, nil
}

func (r *alertRepo) SetActive(ctx context.Context, id int64, active bool) error {
	const op = "postgres.AlertRepo.SetActive"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE scouter_alert SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scouterrors.Newf(scouterrors.KindNotFound, op, "alert %d not found", id)
	}
	return nil
}
