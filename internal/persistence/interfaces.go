// Package persistence defines the row types and repository interfaces the
// rest of Scouter programs against. Concrete implementations live in the
// postgres subpackage; everything above this layer (ingestion workers, the
// drift poller, the archival manager, the read API) depends only on these
// interfaces so unit tests can substitute fakes.
package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/scouter/internal/profile"
)

// TimeRange is a half-open [From, To) query window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Entity is the durable identity of one monitored subject. The store
// assigns EntityID; UID changes per profile revision.
type Entity struct {
	EntityID  int64             `db:"entity_id" json:"entity_id"`
	UID       string            `db:"uid" json:"uid"`
	Space     string            `db:"space" json:"space"`
	Name      string            `db:"name" json:"name"`
	Version   string            `db:"version" json:"version"`
	DriftType profile.DriftType `db:"drift_type" json:"drift_type"`
	Active    bool              `db:"active" json:"active"`
}

// SpcRow is one persisted SPC observation.
type SpcRow struct {
	EntityID  int64     `db:"entity_id" json:"entity_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Feature   string    `db:"feature" json:"feature"`
	Value     float64   `db:"value" json:"value"`
}

// PsiRow is one persisted PSI bin-count observation.
type PsiRow struct {
	EntityID  int64     `db:"entity_id" json:"entity_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Feature   string    `db:"feature" json:"feature"`
	BinID     uint64    `db:"bin_id" json:"bin_id"`
	BinCount  uint64    `db:"bin_count" json:"bin_count"`
}

// CustomRow is one persisted custom-metric observation.
type CustomRow struct {
	EntityID  int64     `db:"entity_id" json:"entity_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Metric    string    `db:"metric" json:"metric"`
	Value     float64   `db:"value" json:"value"`
}

// TaskStatus is a drift task's processing state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "Pending"
	TaskProcessing TaskStatus = "Processing"
	TaskProcessed  TaskStatus = "Processed"
	TaskFailed     TaskStatus = "Failed"
)

// DriftTask is the scheduling row the poller claims under SKIP LOCKED.
// Exactly one exists per active profile.
type DriftTask struct {
	EntityID    int64      `db:"entity_id" json:"entity_id"`
	PreviousRun time.Time  `db:"previous_run" json:"previous_run"`
	NextRun     time.Time  `db:"next_run" json:"next_run"`
	Status      TaskStatus `db:"status" json:"status"`
	LockOwner   *string    `db:"lock_owner" json:"lock_owner,omitempty"`
	Schedule    string     `db:"schedule" json:"schedule"`
}

// Alert is one raised drift alert.
type Alert struct {
	ID         int64             `db:"id" json:"id"`
	EntityID   int64             `db:"entity_id" json:"entity_id"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
	EntityName string            `db:"entity_name" json:"entity_name"`
	Alert      map[string]string `db:"-" json:"alert"`
	DriftType  profile.DriftType `db:"drift_type" json:"drift_type"`
	Active     bool              `db:"active" json:"active"`
}

// BinnedSpcFeature is one feature's time-bucketed aggregate series.
type BinnedSpcFeature struct {
	Feature   string      `json:"feature"`
	CreatedAt []time.Time `json:"created_at"`
	Avg       []float64   `json:"avg"`
	Stddev    []float64   `json:"stddev"`
}

// BinnedPsiBucket is one time bucket's per-bin observed proportions.
type BinnedPsiBucket struct {
	CreatedAt   time.Time `json:"created_at"`
	Proportions []float64 `json:"proportions"`
}

// BinnedPsiFeature is one feature's bucketed proportion series plus the
// proportions over the whole requested window.
type BinnedPsiFeature struct {
	Feature            string            `json:"feature"`
	Buckets            []BinnedPsiBucket `json:"buckets"`
	OverallProportions []float64         `json:"overall_proportions"`
}

// ArchiveCandidate identifies one entity with rows older than the
// retention window, bounded by the bucket range to archive.
type ArchiveCandidate struct {
	EntityID  int64     `db:"entity_id"`
	Space     string    `db:"space"`
	Name      string    `db:"name"`
	Version   string    `db:"version"`
	MinBucket time.Time `db:"min_bucket"`
	MaxBucket time.Time `db:"max_bucket"`
}

// ProfileRepo stores drift profiles and their entity identities.
type ProfileRepo interface {
	// Upsert inserts or replaces the profile for its (space, name,
	// version, drift_type) tuple, creating the entity row and its drift
	// task on first insert. Returns the assigned entity.
	Upsert(ctx context.Context, p profile.Profile) (Entity, error)
	// Get fetches the stored profile for a tuple.
	Get(ctx context.Context, space, name, version string, dt profile.DriftType) (profile.Profile, error)
	// GetByEntityID fetches the profile owning an entity id.
	GetByEntityID(ctx context.Context, entityID int64) (profile.Profile, error)
	// SetActive flips a profile's active flag (and pauses/resumes its
	// drift task).
	SetActive(ctx context.Context, space, name, version string, dt profile.DriftType, active bool) error
	// ResolveEntity maps a tuple to its entity row.
	ResolveEntity(ctx context.Context, space, name, version string, dt profile.DriftType) (Entity, error)
	// ResolveUID maps a profile revision uid to its entity row.
	ResolveUID(ctx context.Context, uid string) (Entity, error)
}

// ObservationRepo persists and queries the three observation tables.
type ObservationRepo interface {
	InsertSpc(ctx context.Context, rows []SpcRow) error
	InsertPsi(ctx context.Context, rows []PsiRow) error
	InsertCustom(ctx context.Context, rows []CustomRow) error
	InsertTag(ctx context.Context, entityID int64, key, value string, createdAt time.Time) error
	InsertTraceBaggage(ctx context.Context, entityID int64, traceID, spanID string, baggage map[string]string, createdAt time.Time) error

	// RecentSpc returns at most limit values for one feature inside tr,
	// newest first.
	RecentSpc(ctx context.Context, entityID int64, feature string, tr TimeRange, limit int) ([]SpcRow, error)
	// PsiBinCounts returns summed counts per bin for one feature inside tr.
	PsiBinCounts(ctx context.Context, entityID int64, feature string, tr TimeRange) (map[uint64]uint64, error)
	// RecentCustom returns all values for one metric inside tr, newest
	// first.
	RecentCustom(ctx context.Context, entityID int64, metric string, tr TimeRange) ([]CustomRow, error)

	// BinnedSpc aggregates avg/stddev per date_bin bucket of binMinutes.
	BinnedSpc(ctx context.Context, entityID int64, tr TimeRange, binMinutes int) ([]BinnedSpcFeature, error)
	// BinnedPsi aggregates per-bin proportions per bucket, dropping
	// buckets whose feature total count is <= 1.
	BinnedPsi(ctx context.Context, entityID int64, tr TimeRange, binMinutes int) ([]BinnedPsiFeature, error)
	// BinnedCustom aggregates avg/stddev per bucket per metric.
	BinnedCustom(ctx context.Context, entityID int64, tr TimeRange, binMinutes int) ([]BinnedSpcFeature, error)
}

// TaskRepo implements the poller's claim/complete protocol.
type TaskRepo interface {
	// Claim atomically selects one due Pending task FOR UPDATE SKIP
	// LOCKED and flips it to Processing under lockOwner. Returns
	// (nil, nil) when no task is due.
	Claim(ctx context.Context, lockOwner string) (*DriftTask, error)
	// Complete re-arms a finished task as Pending, setting previous_run
	// and next_run to the given times; the Processed status is not
	// written.
	Complete(ctx context.Context, entityID int64, previousRun, nextRun time.Time) error
	// Fail marks a task Failed and records the error.
	Fail(ctx context.Context, entityID int64, reason string) error
	// Reap re-arms tasks stuck in Processing longer than ttl, returning
	// how many were reclaimed.
	Reap(ctx context.Context, ttl time.Duration) (int64, error)
}

// AlertRepo stores and queries drift alerts.
type AlertRepo interface {
	Insert(ctx context.Context, a Alert) (int64, error)
	List(ctx context.Context, entityID int64, activeOnly bool, limit int, before *time.Time) ([]Alert, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// RecordType names an observation table for archival.
type RecordType string

const (
	RecordTypeSpc    RecordType = "spc"
	RecordTypePsi    RecordType = "psi"
	RecordTypeCustom RecordType = "custom"
)

// ArchiveRepo is the relational half of the archival manager: find aged
// rows, read them inside a transaction, mark them archived, delete them
// after the safety margin.
type ArchiveRepo interface {
	EntitiesToArchive(ctx context.Context, rt RecordType, retentionDays int) ([]ArchiveCandidate, error)
	ReadSpcForArchive(ctx context.Context, entityID int64, tr TimeRange) ([]SpcRow, error)
	ReadPsiForArchive(ctx context.Context, entityID int64, tr TimeRange) ([]PsiRow, error)
	ReadCustomForArchive(ctx context.Context, entityID int64, tr TimeRange) ([]CustomRow, error)
	MarkArchived(ctx context.Context, rt RecordType, entityID int64, tr TimeRange) (int64, error)
	DeleteArchived(ctx context.Context, rt RecordType, safetyMargin time.Duration) (int64, error)
}
