package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

type taskRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTaskRepo creates a postgres-backed drift-task repository.
func NewTaskRepo(db *sqlx.DB, timeout time.Duration) persistence.TaskRepo {
	return &taskRepo{db: db, timeout: timeout}
}

// Claim selects one due Pending task FOR UPDATE SKIP LOCKED and flips it
// to Processing inside the same transaction, so two pollers racing on the
// same row settle without blocking each other.
func (r *taskRepo) Claim(ctx context.Context, lockOwner string) (*persistence.DriftTask, error) {
	const op = "postgres.TaskRepo.Claim"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	defer tx.Rollback()

	var task persistence.DriftTask
	err = tx.QueryRowxContext(ctx, `
		SELECT t.entity_id, t.previous_run, t.next_run, t.status, t.lock_owner, t.schedule
		FROM scouter_drift_task t
		JOIN scouter_entity e ON e.entity_id = t.entity_id
		WHERE t.status = 'Pending' AND t.next_run <= now() AND e.active = TRUE
		ORDER BY t.next_run
		FOR UPDATE OF t SKIP LOCKED
		LIMIT 1`).StructScan(&task)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE scouter_drift_task
		SET status = 'Processing', lock_owner = $2, locked_at = now()
		WHERE entity_id = $1`, task.EntityID, lockOwner); err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}

	task.Status = persistence.TaskProcessing
	task.LockOwner = &lockOwner
	return &task, nil
}

// Complete re-arms a finished task as Pending for its next cron firing;
// the task goes straight from Processing to Pending without passing
// through Processed.
func (r *taskRepo) Complete(ctx context.Context, entityID int64, previousRun, nextRun time.Time) error {
	const op = "postgres.TaskRepo.Complete"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE scouter_drift_task
		SET status = 'Pending', previous_run = $2, next_run = $3,
		    lock_owner = NULL, locked_at = NULL, last_error = NULL
		WHERE entity_id = $1`, entityID, previousRun, nextRun)
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return nil
}

func (r *taskRepo) Fail(ctx context.Context, entityID int64, reason string) error {
	const op = "postgres.TaskRepo.Fail"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE scouter_drift_task
		SET status = 'Failed', lock_owner = NULL, locked_at = NULL, last_error = $2
		WHERE entity_id = $1`, entityID, reason)
	if err != nil {
		return scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return nil
}

// Reap re-arms tasks stuck in Processing past ttl, plus Failed tasks whose
// next_run has long passed, so a crashed poller never strands a profile.
func (r *taskRepo) Reap(ctx context.Context, ttl time.Duration) (int64, error) {
	const op = "postgres.TaskRepo.Reap"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE scouter_drift_task
		SET status = 'Pending', lock_owner = NULL, locked_at = NULL
		WHERE (status = 'Processing' AND locked_at < now() - make_interval(secs => $1))
		   OR (status = 'Failed' AND next_run < now() - make_interval(secs => $1))`,
		ttl.Seconds())
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return n, nil
}
