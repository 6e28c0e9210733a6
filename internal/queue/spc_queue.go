package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sawpanic/scouter/internal/records"
)

// SpcQueue is a fixed-capacity ring of feature vectors. Once the ring holds
// sample_size vectors it averages each feature across the buffer and
// publishes one SpcRecord per feature. When Sample is false
// it publishes every observation unaveraged instead of buffering
// anything.
type SpcQueue struct {
	baseMetrics

	space, name, version string
	sampleSize           int
	sample               bool
	producer             Producer

	mu     sync.Mutex
	buffer []map[string]float64
}

// NewSpcQueue constructs a queue bound to one profile's identity and
// sample_size.
func NewSpcQueue(space, name, version string, sampleSize int, sample bool, producer Producer) *SpcQueue {
	if sampleSize < 1 {
		sampleSize = 1
	}
	return &SpcQueue{
		space:      space,
		name:       name,
		version:    version,
		sampleSize: sampleSize,
		sample:     sample,
		producer:   producer,
		buffer:     make([]map[string]float64, 0, sampleSize),
	}
}

// Push appends one feature vector. The request path never blocks on
// monitoring: a full ring drops the push and increments Dropped rather than
// surfacing an error.
func (q *SpcQueue) Push(ctx context.Context, features map[string]float64) {
	if !q.sample {
		atomic.AddInt64(&q.pushed, 1)
		q.publishUnaveraged(ctx, features)
		return
	}

	q.mu.Lock()
	if len(q.buffer) >= q.sampleSize {
		q.mu.Unlock()
		q.drop()
		return
	}
	atomic.AddInt64(&q.pushed, 1)
	q.buffer = append(q.buffer, features)
	ready := len(q.buffer) >= q.sampleSize
	var batch []map[string]float64
	if ready {
		batch = q.buffer
		q.buffer = make([]map[string]float64, 0, q.sampleSize)
	}
	q.mu.Unlock()

	if ready {
		q.publishAveraged(ctx, batch)
	}
}

// Flush synchronously publishes any buffered vectors and returns. There is
// no background task to stop for SPC (unlike PSI's 30s timer), so Flush is
// simply a forced drain.
func (q *SpcQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	batch := q.buffer
	q.buffer = make([]map[string]float64, 0, q.sampleSize)
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return q.publish(ctx, q.averageFeatures(batch))
}

func (q *SpcQueue) publishAveraged(ctx context.Context, batch []map[string]float64) {
	_ = q.publish(ctx, q.averageFeatures(batch))
}

func (q *SpcQueue) publishUnaveraged(ctx context.Context, features map[string]float64) {
	_ = q.publish(ctx, features)
}

func (q *SpcQueue) averageFeatures(batch []map[string]float64) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, vec := range batch {
		for feature, v := range vec {
			sums[feature] += v
			counts[feature]++
		}
	}
	avg := make(map[string]float64, len(sums))
	for feature, sum := range sums {
		avg[feature] = sum / float64(counts[feature])
	}
	return avg
}

func (q *SpcQueue) publish(ctx context.Context, featureValues map[string]float64) error {
	now := time.Now().UTC()
	recs := make([]records.ServerRecord, 0, len(featureValues))
	for feature, v := range featureValues {
		recs = append(recs, records.ServerRecord{
			Spc: &records.SpcRecord{
				Space:     q.space,
				Name:      q.name,
				Version:   q.version,
				Feature:   feature,
				Value:     v,
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
func (q *SpcQueue) Metrics() Metrics { return q.snapshot() }
