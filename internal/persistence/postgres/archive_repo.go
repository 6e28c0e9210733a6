package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

type archiveRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewArchiveRepo creates the relational half of the archival manager.
func NewArchiveRepo(db *sqlx.DB, timeout time.Duration) persistence.ArchiveRepo {
	return &archiveRepo{db: db, timeout: timeout}
}

func tableFor(rt persistence.RecordType) string {
	switch rt {
	case persistence.RecordTypePsi:
		return "scouter_psi"
	case persistence.RecordTypeCustom:
		return "scouter_custom"
	default:
		return "scouter_spc"
	}
}

func (r *archiveRepo) EntitiesToArchive(ctx context.Context, rt persistence.RecordType, retentionDays int) ([]persistence.ArchiveCandidate, error) {
	const op = "postgres.ArchiveRepo.EntitiesToArchive"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT o.entity_id, e.space, e.name, e.version,
		       MIN(o.created_at) AS min_bucket, MAX(o.created_at) AS max_bucket
		FROM %s o
		JOIN scouter_entity e ON e.entity_id = o.entity_id
		WHERE o.archived = FALSE AND o.created_at < now() - make_interval(days => $1)
		GROUP BY o.entity_id, e.space, e.name, e.version`, tableFor(rt))

	var out []persistence.ArchiveCandidate
	if err := r.db.SelectContext(ctx, &out, query, retentionDays); err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return out, nil
}

func (r *archiveRepo) ReadSpcForArchive(ctx context.Context, entityID int64, tr persistence.TimeRange) ([]persistence.SpcRow, error) {
	const op = "postgres.ArchiveRepo.ReadSpcForArchive"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.SpcRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT entity_id, created_at, feature, value
		FROM scouter_spc
		WHERE entity_id = $1 AND created_at >= $2 AND created_at <= $3 AND archived = FALSE
		ORDER BY created_at`, entityID, tr.From, tr.To)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return rows, nil
}

func (r *archiveRepo) ReadPsiForArchive(ctx context.Context, entityID int64, tr persistence.TimeRange) ([]persistence.PsiRow, error) {
	const op = "postgres.ArchiveRepo.ReadPsiForArchive"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.PsiRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT entity_id, created_at, feature, bin_id, bin_count
		FROM scouter_psi
		WHERE entity_id = $1 AND created_at >= $2 AND created_at <= $3 AND archived = FALSE
		ORDER BY created_at`, entityID, tr.From, tr.To)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return rows, nil
}

func (r *archiveRepo) ReadCustomForArchive(ctx context.Context, entityID int64, tr persistence.TimeRange) ([]persistence.CustomRow, error) {
	const op = "postgres.ArchiveRepo.ReadCustomForArchive"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.CustomRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT entity_id, created_at, metric, value
		FROM scouter_custom
		WHERE entity_id = $1 AND created_at >= $2 AND created_at <= $3 AND archived = FALSE
		ORDER BY created_at`, entityID, tr.From, tr.To)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return rows, nil
}

func (r *archiveRepo) MarkArchived(ctx context.Context, rt persistence.RecordType, entityID int64, tr persistence.TimeRange) (int64, error) {
	const op = "postgres.ArchiveRepo.MarkArchived"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET archived = TRUE
		WHERE entity_id = $1 AND created_at >= $2 AND created_at <= $3 AND archived = FALSE`,
		tableFor(rt))
	res, err := r.db.ExecContext(ctx, query, entityID, tr.From, tr.To)
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return n, nil
}

// DeleteArchived removes archived rows whose created_at is more than
// safetyMargin in the past. The margin is measured from created_at, not
// from the time a row was marked archived; no mark time is stored.
func (r *archiveRepo) DeleteArchived(ctx context.Context, rt persistence.RecordType, safetyMargin time.Duration) (int64, error) {
	const op = "postgres.ArchiveRepo.DeleteArchived"
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE archived = TRUE AND created_at < now() - make_interval(secs => $1)`,
		tableFor(rt))
	res, err := r.db.ExecContext(ctx, query, safetyMargin.Seconds())
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, scouterrors.New(scouterrors.KindPersistence, op, err)
	}
	return n, nil
}
