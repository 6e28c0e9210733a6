// Package records defines the wire-level record types that flow from
// client queues through the transport layer into the ingestion worker
// pool: the JSON tagged unions on the wire plus the minimal
// tag/trace side-records carried over from the monitored system's tracing
// surface.
package records

import "time"

// RecordKind discriminates a ServerRecord's variant for JSON
// marshaling/dispatch.
type RecordKind string

const (
	RecordSpc    RecordKind = "Spc"
	RecordPsi    RecordKind = "Psi"
	RecordCustom RecordKind = "Custom"
)

// SpcRecord is one feature's average value over a sampling window.
type SpcRecord struct {
	Space     string    `json:"space"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Feature   string    `json:"feature"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// PsiRecord is one feature/bin's observed count over a publish window.
type PsiRecord struct {
	Space     string    `json:"space"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Feature   string    `json:"feature"`
	BinID     uint64    `json:"bin_id"`
	BinCount  uint64    `json:"bin_count"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomRecord is one metric's average value over a publish window.
type CustomRecord struct {
	Space     string    `json:"space"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// ServerRecord is the tagged union wrapping exactly one of the three
// observation kinds: `{ "Spc"|"Psi"|"Custom": {...} }` on the wire.
type ServerRecord struct {
	Spc    *SpcRecord    `json:"Spc,omitempty"`
	Psi    *PsiRecord    `json:"Psi,omitempty"`
	Custom *CustomRecord `json:"Custom,omitempty"`
}

// Kind reports which variant is populated.
func (r ServerRecord) Kind() RecordKind {
	switch {
	case r.Spc != nil:
		return RecordSpc
	case r.Psi != nil:
		return RecordPsi
	default:
		return RecordCustom
	}
}

// ServerRecords is the batch envelope a queue publishes and a worker
// consumes: `{ records: [ServerRecord] }`.
type ServerRecords struct {
	Records []ServerRecord `json:"records"`
}

// TagServerRecord is a best-effort key/value annotation against an entity.
// Tag CRUD and management UX are out of scope here; this is just
// enough of a typed row to keep the ingestion dispatch table
// exhaustive.
type TagServerRecord struct {
	EntityID  int64     `json:"entity_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// TraceServerRecord is a minimal span/baggage row. OpenTelemetry export is
// out of scope here; this only persists the correlation fields the
// dispatch table names.
type TraceServerRecord struct {
	EntityID  int64             `json:"entity_id"`
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	Baggage   map[string]string `json:"baggage,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// MessageRecord is the dispatch-table union consumed by ingestion
// workers; exactly one field is populated.
type MessageRecord struct {
	ServerRecords *ServerRecords     `json:"server_records,omitempty"`
	Trace         *TraceServerRecord `json:"trace,omitempty"`
	Tag           *TagServerRecord   `json:"tag,omitempty"`
}
