// Package postgres implements Scouter's persistence interfaces over a
// shared sqlx connection pool.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/profile"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type profileRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewProfileRepo creates a postgres-backed profile repository.
func NewProfileRepo(db *sqlx.DB, timeout time.Duration) persistence.ProfileRepo {
	return &profileRepo{db: db, timeout: timeout}
}

func (r *profileRepo) Upsert(ctx context.Context, p profile.Profile) (persistence.Entity, error) {
	const op = "postgres.ProfileRepo.Upsert"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cfg, err := p.Cfg()
	if err != nil {
		return persistence.Entity{}, err
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return persistence.Entity{}, scouterrors.Newf(scouterrors.KindConfig, op, "invalid cron %q: %v", cfg.Schedule, err)
	}

	if p.UID == "" {
		p.UID = uuid.NewString()
	}
	body, err := p.ToJSON()
	if err != nil {
		return persistence.Entity{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	defer tx.Rollback()

	var ent persistence.Entity
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO scouter_entity (uid, space, name, version, drift_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (space, name, version, drift_type)
		DO UPDATE SET uid = EXCLUDED.uid, active = TRUE
		RETURNING entity_id, uid, space, name, version, drift_type, active`,
		p.UID, cfg.Space, cfg.Name, cfg.Version, string(p.DriftType)).
		StructScan(&ent)
	if err != nil {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scouter_profile (entity_id, body, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (entity_id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
		ent.EntityID, body); err != nil {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scouter_drift_task (entity_id, previous_run, next_run, status, schedule)
		VALUES ($1, $2, $3, 'Pending', $4)
		ON CONFLICT (entity_id) DO UPDATE SET schedule = EXCLUDED.schedule`,
		ent.EntityID, now, sched.Next(now), cfg.Schedule); err != nil {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return ent, nil
}

func (r *profileRepo) Get(ctx context.Context, space, name, version string, dt profile.DriftType) (profile.Profile, error) {
	const op = "postgres.ProfileRepo.Get"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body []byte
	err := r.db.QueryRowxContext(ctx, `
		SELECT p.body FROM scouter_profile p
		JOIN scouter_entity e ON e.entity_id = p.entity_id
		WHERE e.space = $1 AND e.name = $2 AND e.version = $3 AND e.drift_type = $4`,
		space, name, version, string(dt)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, scouterrors.New(scouterrors.KindNotFound, op, scouterrors.ErrProfileNotFound)
	}
	if err != nil {
		return profile.Profile{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return profile.FromJSON(body)
}

func (r *profileRepo) GetByEntityID(ctx context.Context, entityID int64) (profile.Profile, error) {
	const op = "postgres.ProfileRepo.GetByEntityID"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body []byte
	err := r.db.QueryRowxContext(ctx,
		`SELECT body FROM scouter_profile WHERE entity_id = $1`, entityID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, scouterrors.New(scouterrors.KindNotFound, op, scouterrors.ErrNoProfile)
	}
	if err != nil {
		return profile.Profile{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return profile.FromJSON(body)
}

func (r *profileRepo) SetActive(ctx context.Context, space, name, version string, dt profile.DriftType, active bool) error {
	const op = "postgres.ProfileRepo.SetActive"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE scouter_entity SET active = $5
		WHERE space = $1 AND name = $2 AND version = $3 AND drift_type = $4`,
		space, name, version, string(dt), active)
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scouterrors.New(scouterrors.KindNotFound, op, scouterrors.ErrProfileNotFound)
	}
	return nil
}

func (r *profileRepo) ResolveEntity(ctx context.Context, space, name, version string, dt profile.DriftType) (persistence.Entity, error) {
	const op = "postgres.ProfileRepo.ResolveEntity"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ent persistence.Entity
	err := r.db.QueryRowxContext(ctx, `
		SELECT entity_id, uid, space, name, version, drift_type, active
		FROM scouter_entity
		WHERE space = $1 AND name = $2 AND version = $3 AND drift_type = $4`,
		space, name, version, string(dt)).StructScan(&ent)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindNotFound, op, scouterrors.ErrNoProfile)
	}
	if err != nil {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return ent, nil
}

func (r *profileRepo) ResolveUID(ctx context.Context, uid string) (persistence.Entity, error) {
	const op = "postgres.ProfileRepo.ResolveUID"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ent persistence.Entity
	err := r.db.QueryRowxContext(ctx, `
		SELECT entity_id, uid, space, name, version, drift_type, active
		FROM scouter_entity WHERE uid = $1`, uid).StructScan(&ent)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindNotFound, op, scouterrors.ErrNoProfile)
	}
	if err != nil {
		return persistence.Entity{}, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return ent, nil
}

// marshalJSONB is shared by the repos that persist map payloads.
func marshalJSONB(v any) ([]byte, error) {
	return json.Marshal(v)
}
