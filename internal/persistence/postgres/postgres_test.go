package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/scouter/internal/persistence"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestObservationRepoInsertSpcBatchesOneStatement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewObservationRepo(db, time.Second)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scouter_spc")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	now := time.Now().UTC()
	err := repo.InsertSpc(context.Background(), []persistence.SpcRow{
		{EntityID: 1, CreatedAt: now, Feature: "f1", Value: 0.5},
		{EntityID: 1, CreatedAt: now, Feature: "f2", Value: 1.5},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepoInsertSpcEmptyBatchIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewObservationRepo(db, time.Second)

	require.NoError(t, repo.InsertSpc(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepoPsiBinCounts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewObservationRepo(db, time.Second)

	rows := sqlmock.NewRows([]string{"bin_id", "total"}).
		AddRow(0, 40).
		AddRow(1, 60)
	mock.ExpectQuery("SELECT bin_id, SUM\\(bin_count\\)").
		WithArgs(int64(7), "f1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	counts, err := repo.PsiBinCounts(context.Background(), 7, "f1",
		persistence.TimeRange{From: time.Now().Add(-time.Hour), To: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, uint64(40), counts[0])
	assert.Equal(t, uint64(60), counts[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepoClaimReturnsNilWhenNoneDue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF t SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id"}))
	mock.ExpectRollback()

	task, err := repo.Claim(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, task)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepoClaimFlipsToProcessing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepo(db, time.Second)

	prev := time.Now().Add(-time.Hour).UTC()
	next := time.Now().Add(-time.Minute).UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF t SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows(
			[]string{"entity_id", "previous_run", "next_run", "status", "lock_owner", "schedule"}).
			AddRow(42, prev, next, "Pending", nil, "0 * * * *"))
	mock.ExpectExec("SET status = 'Processing'").
		WithArgs(int64(42), "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := repo.Claim(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, int64(42), task.EntityID)
	assert.Equal(t, persistence.TaskProcessing, task.Status)
	require.NotNil(t, task.LockOwner)
	assert.Equal(t, "worker-1", *task.LockOwner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepoReapCountsReclaimed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepo(db, time.Second)

	mock.ExpectExec("SET status = 'Pending'").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.Reap(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepoInsertReturnsID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAlertRepo(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO scouter_alert")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	id, err := repo.Insert(context.Background(), persistence.Alert{
		EntityID:   42,
		CreatedAt:  time.Now().UTC(),
		EntityName: "model-a",
		Alert:      map[string]string{"kind": "Alert", "zone": "ThreeUcl", "feature": "f1"},
		DriftType:  "spc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepoSetActiveNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAlertRepo(db, time.Second)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scouter_alert SET active")).
		WithArgs(int64(99), false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetActive(context.Background(), 99, false)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepoMarkArchived(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArchiveRepo(db, time.Second)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scouter_psi SET archived = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 120))

	n, err := repo.MarkArchived(context.Background(), persistence.RecordTypePsi, 7,
		persistence.TimeRange{From: time.Now().Add(-48 * time.Hour), To: time.Now().Add(-24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
