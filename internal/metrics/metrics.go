// Package metrics holds Scouter's Prometheus instruments. One Registry is
// built at startup and threaded into the ingestion pool, the drift poller,
// and the archival manager; the HTTP layer exposes it via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every Scouter metric with the prometheus registry they
// are registered on.
type Registry struct {
	Prometheus *prometheus.Registry

	// Ingestion worker counters, labeled by worker id.
	MessagesProcessed *prometheus.CounterVec
	DBInsertErrors    *prometheus.CounterVec
	RecordsInserted   *prometheus.CounterVec

	// Client-queue overflow drops, labeled by drift type.
	QueueDrops *prometheus.CounterVec

	// Poller counters.
	TasksProcessed *prometheus.CounterVec
	TasksReclaimed prometheus.Counter
	AlertsRaised   *prometheus.CounterVec

	// Archival counters.
	RowsArchived *prometheus.CounterVec
	RowsDeleted  *prometheus.CounterVec

	// Entity-cache hit tracking.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewRegistry builds and registers all Scouter metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Prometheus: reg,
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scouter_messages_processed_total",
			Help: "Messages consumed from the transport by ingestion workers",
		}, []string{"worker"}),
		DBInsertErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scouter_db_insert_errors_total",
			Help: "Failed observation inserts",
		}, []string{"worker"}),
		RecordsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scouter_records_inserted_total",
			Help: "Observation rows inserted, by record type",
		}, []string{"worker", "record_type"}),
		QueueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scouter_queue_drops_total",
			Help: "Client-queue pushes dropped on ring saturation",
		}, []string{"drift_type"}),
		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scouter_drift_tasks_processed_total",
			Help: "Drift tasks completed by the poller, by outcome",
		}, []string{"outcome"}),
		TasksReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scouter_drift_tasks_reclaimed_total",
			Help: "Stalled Processing tasks re-armed by the reaper",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scouter_alerts_raised_total",
			Help: "Drift alerts written, by drift type",
		}, []string{"drift_type"}),
		RowsArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scouter_rows_archived_total",
			Help: "Observation rows copied to parquet, by record type",
		}, []string{"record_type"}),
		RowsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scouter_rows_deleted_total",
			Help: "Archived rows removed from the relational store, by record type",
		}, []string{"record_type"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scouter_entity_cache_hits_total",
			Help: "uid to entity_id lookups served from the in-memory cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scouter_entity_cache_misses_total",
			Help: "uid to entity_id lookups that fell through to the store",
		}),
	}

	reg.MustRegister(
		r.MessagesProcessed, r.DBInsertErrors, r.RecordsInserted,
		r.QueueDrops,
		r.TasksProcessed, r.TasksReclaimed, r.AlertsRaised,
		r.RowsArchived, r.RowsDeleted,
		r.CacheHits, r.CacheMisses,
	)
	return r
}
