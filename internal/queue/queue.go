// Package queue implements Scouter's client-side feature/metric queues:
// bounded in-process buffers that accept per-observation pushes from
// possibly many goroutines, batch them into ServerRecords, and hand the
// batch to a Producer. Each queue kind has its own batching rule (SPC
// averages a sampling window, PSI drains bin counts, custom averages per
// metric) instead of a generic size/time trigger.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sawpanic/scouter/internal/records"
)

// Producer is the narrow interface a queue needs from the transport layer:
// publish a completed batch. Defined here (the consumer) rather than in
// the transport package, per Go's accept-interfaces convention.
type Producer interface {
	Publish(ctx context.Context, batch records.ServerRecords) error
}

// Metrics are the atomic counters exposed by every queue kind; drops can
// also feed an external counter such as internal/metrics' queue_drops
// (see SetDropCounter).
type Metrics struct {
	Pushed    int64
	Published int64
	Dropped   int64
}

// DropCounter is an optional external counter bumped on every dropped
// push, typically the queue_drops prometheus counter.
type DropCounter interface{ Inc() }

type baseMetrics struct {
	pushed    int64
	published int64
	dropped   int64

	dropCounter DropCounter
}

// SetDropCounter attaches an external drop counter; safe to leave unset.
func (m *baseMetrics) SetDropCounter(c DropCounter) { m.dropCounter = c }

func (m *baseMetrics) drop() {
	atomic.AddInt64(&m.dropped, 1)
	if m.dropCounter != nil {
		m.dropCounter.Inc()
	}
}

func (m *baseMetrics) snapshot() Metrics {
	return Metrics{
		Pushed:    atomic.LoadInt64(&m.pushed),
		Published: atomic.LoadInt64(&m.published),
		Dropped:   atomic.LoadInt64(&m.dropped),
	}
}

// psiPublishPeriod is the default periodic-publish interval
// for the PSI queue's background task.
const psiPublishPeriod = 30 * time.Second
