package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/scouter/internal/metrics"
	"github.com/sawpanic/scouter/internal/persistence"
)

// recordTypes is the archival order; each type runs independently so a
// failure in one does not block the others.
var recordTypes = []persistence.RecordType{
	persistence.RecordTypeSpc,
	persistence.RecordTypePsi,
	persistence.RecordTypeCustom,
}

// ManagerConfig paces the archival loop.
type ManagerConfig struct {
	RetentionDays int
	// SafetyMargin is the created_at age an archived row must exceed
	// before the delete pass removes it. It is not measured from the
	// mark time, so when the retention window is longer than the margin,
	// rows marked in a cycle are deleted later in that same cycle.
	SafetyMargin time.Duration
	Interval     time.Duration
}

// DefaultManagerConfig wakes once every 24h and uses a 24h SafetyMargin.
func DefaultManagerConfig(retentionDays int) ManagerConfig {
	return ManagerConfig{
		RetentionDays: retentionDays,
		SafetyMargin:  24 * time.Hour,
		Interval:      24 * time.Hour,
	}
}

// Manager is the background task that moves aged rows to parquet.
type Manager struct {
	cfg   ManagerConfig
	repo  persistence.ArchiveRepo
	store ObjectStore
	reg   *metrics.Registry
	log   zerolog.Logger
}

// NewManager wires the archival manager.
func NewManager(cfg ManagerConfig, repo persistence.ArchiveRepo, store ObjectStore, reg *metrics.Registry, logger zerolog.Logger) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Manager{cfg: cfg, repo: repo, store: store, reg: reg, log: logger}
}

// Run executes one cycle immediately, then wakes every Interval until ctx
// is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.Cycle(ctx)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle archives every record type once, then runs the delete pass. A
// failure after the parquet put but before the mark leaves an orphan
// object; readers dedupe, so orphans are tolerated.
func (m *Manager) Cycle(ctx context.Context) {
	for _, rt := range recordTypes {
		if err := m.archiveType(ctx, rt); err != nil {
			m.log.Warn().Err(err).Str("record_type", string(rt)).Msg("archive pass failed")
		}
		n, err := m.repo.DeleteArchived(ctx, rt, m.cfg.SafetyMargin)
		if err != nil {
			m.log.Warn().Err(err).Str("record_type", string(rt)).Msg("delete pass failed")
			continue
		}
		if n > 0 {
			m.reg.RowsDeleted.WithLabelValues(string(rt)).Add(float64(n))
			m.log.Info().Int64("rows", n).Str("record_type", string(rt)).Msg("deleted archived rows")
		}
	}
}

func (m *Manager) archiveType(ctx context.Context, rt persistence.RecordType) error {
	candidates, err := m.repo.EntitiesToArchive(ctx, rt, m.cfg.RetentionDays)
	if err != nil {
		return err
	}
	for _, cand := range candidates {
		if err := m.archiveEntity(ctx, rt, cand); err != nil {
			m.log.Warn().Err(err).
				Int64("entity_id", cand.EntityID).
				Str("record_type", string(rt)).
				Msg("entity archive failed")
		}
	}
	return nil
}

func (m *Manager) archiveEntity(ctx context.Context, rt persistence.RecordType, cand persistence.ArchiveCandidate) error {
	window := persistence.TimeRange{From: cand.MinBucket, To: cand.MaxBucket}
	ent := persistence.Entity{
		EntityID: cand.EntityID,
		Space:    cand.Space, Name: cand.Name, Version: cand.Version,
	}

	var payload []byte
	var rowCount int
	var err error
	switch rt {
	case persistence.RecordTypeSpc:
		var rows []persistence.SpcRow
		if rows, err = m.repo.ReadSpcForArchive(ctx, cand.EntityID, window); err == nil {
			rowCount = len(rows)
			payload, err = EncodeSpc(ent, rows)
		}
	case persistence.RecordTypePsi:
		var rows []persistence.PsiRow
		if rows, err = m.repo.ReadPsiForArchive(ctx, cand.EntityID, window); err == nil {
			rowCount = len(rows)
			payload, err = EncodePsi(ent, rows)
		}
	case persistence.RecordTypeCustom:
		var rows []persistence.CustomRow
		if rows, err = m.repo.ReadCustomForArchive(ctx, cand.EntityID, window); err == nil {
			rowCount = len(rows)
			payload, err = EncodeCustom(ent, rows)
		}
	}
	if err != nil {
		return err
	}
	if rowCount == 0 {
		return nil
	}

	key := ObjectKey(cand.Space, cand.Name, cand.Version, rt, cand.MaxBucket)
	if err := m.store.Put(ctx, key, payload); err != nil {
		return err
	}
	// Mark only after the parquet object is durable; a crash in between
	// leaves an orphan object, not lost rows.
	n, err := m.repo.MarkArchived(ctx, rt, cand.EntityID, window)
	if err != nil {
		return err
	}
	m.reg.RowsArchived.WithLabelValues(string(rt)).Add(float64(n))
	m.log.Info().
		Int64("entity_id", cand.EntityID).
		Str("record_type", string(rt)).
		Int64("rows", n).
		Str("key", key).
		Msg("archived")
	return nil
}

// ObjectKey builds the partitioned object path for one archive write:
// {space}/{name}/{version}/{record_type}/{yyyy-mm-dd}/part-{rand}.parquet.
func ObjectKey(space, name, version string, rt persistence.RecordType, bucket time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/part-%s.parquet",
		space, name, version, rt, bucket.UTC().Format("2006-01-02"), uuid.NewString()[:8])
}

// KeyPrefix is the listing prefix covering every object of one entity and
// record type.
func KeyPrefix(space, name, version string, rt persistence.RecordType) string {
	return fmt.Sprintf("%s/%s/%s/%s/", space, name, version, rt)
}
