package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sawpanic/scouter/internal/records"
)

// customRingCapacity caps the per-metric buffer the same way SPC/PSI are
// bounded, so an idle publisher can't grow memory unboundedly.
const customRingCapacity = 10000

// CustomQueue is a per-metric appendable buffer; on publish it emits the
// mean of each metric's buffered values.
type CustomQueue struct {
	baseMetrics

	space, name, version string
	producer             Producer

	mu     sync.Mutex
	values map[string][]float64
}

// NewCustomQueue constructs a queue bound to one profile's identity.
func NewCustomQueue(space, name, version string, producer Producer) *CustomQueue {
	return &CustomQueue{
		space:    space,
		name:     name,
		version:  version,
		producer: producer,
		values:   make(map[string][]float64),
	}
}

// Push appends one metric observation. A full per-metric buffer drops the
// push silently and increments Dropped.
func (q *CustomQueue) Push(ctx context.Context, metric string, value float64) {
	q.mu.Lock()
	if len(q.values[metric]) >= customRingCapacity {
		q.mu.Unlock()
		q.drop()
		return
	}
	q.values[metric] = append(q.values[metric], value)
	q.mu.Unlock()
	atomic.AddInt64(&q.pushed, 1)
}

// Flush publishes the mean of each buffered metric and clears the buffers.
func (q *CustomQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	drained := q.values
	q.values = make(map[string][]float64, len(drained))
	q.mu.Unlock()

	now := time.Now().UTC()
	var recs []records.ServerRecord
	for metric, vals := range drained {
		if len(vals) == 0 {
			continue
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		recs = append(recs, records.ServerRecord{
			Custom: &records.CustomRecord{
				Space:     q.space,
				Name:      q.name,
				Version:   q.version,
				Metric:    metric,
				Value:     sum / float64(len(vals)),
				CreatedAt: now,
			},
		})
	}
	if len(recs) == 0 {
		return nil
	}
	err := q.producer.Publish(ctx, records.ServerRecords{Records: recs})
	if err == nil {
		atomic.AddInt64(&q.published, int64(len(recs)))
	}
	return err
}

// Metrics returns a point-in-time snapshot of push/publish/drop counters.
func (q *CustomQueue) Metrics() Metrics { return q.snapshot() }
