package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sawpanic/scouter/internal/profile"
	"github.com/sawpanic/scouter/internal/records"
)

// psiRingCapacity is the default maximum PSI ring size.
const psiRingCapacity = 1000

// PsiQueue classifies each pushed feature value into its baseline bin via
// binary search and maintains per-(feature, bin) counts, publishing on
// either ring saturation or a 30s periodic timer.
type PsiQueue struct {
	baseMetrics

	space, name, version string
	edges                map[string][]float64
	producer             Producer

	mu       sync.Mutex
	counts   map[string][]uint64 // feature -> bin_id -> count
	ringSize int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewPsiQueue constructs a queue against a fitted PsiProfile's per-feature
// bin edges and starts its 30s periodic publish task.
func NewPsiQueue(space, name, version string, features map[string]profile.PsiFeature, producer Producer) *PsiQueue {
	edges := make(map[string][]float64, len(features))
	counts := make(map[string][]uint64, len(features))
	for feature, feat := range features {
		e := profile.EdgesFromBins(feat.Bins)
		edges[feature] = e
		counts[feature] = make([]uint64, len(feat.Bins))
	}

	q := &PsiQueue{
		space:    space,
		name:     name,
		version:  version,
		edges:    edges,
		producer: producer,
		counts:   counts,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go q.periodicPublish()
	return q
}

// Push classifies one feature value into its baseline bin. A full ring
// drops the push silently and increments Dropped.
func (q *PsiQueue) Push(ctx context.Context, feature string, value float64) {
	edges, ok := q.edges[feature]
	if !ok {
		q.drop()
		return
	}
	bin := profile.ClassifyBin(value, edges)

	q.mu.Lock()
	if q.ringSize >= psiRingCapacity {
		q.mu.Unlock()
		q.drop()
		return
	}
	q.counts[feature][bin]++
	q.ringSize++
	saturated := q.ringSize >= psiRingCapacity
	q.mu.Unlock()

	atomic.AddInt64(&q.pushed, 1)
	if saturated {
		_ = q.Flush(ctx)
	}
}

// Flush drains current counts into a ServerRecords batch and publishes it.
func (q *PsiQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.ringSize == 0 {
		q.mu.Unlock()
		return nil
	}
	drained := q.counts
	q.counts = make(map[string][]uint64, len(drained))
	for feature, c := range drained {
		q.counts[feature] = make([]uint64, len(c))
	}
	q.ringSize = 0
	q.mu.Unlock()

	now := time.Now().UTC()
	var recs []records.ServerRecord
	for feature, binCounts := range drained {
		for binID, count := range binCounts {
			if count == 0 {
				continue
			}
			recs = append(recs, records.ServerRecord{
				Psi: &records.PsiRecord{
					Space:     q.space,
					Name:      q.name,
					Version:   q.version,
					Feature:   feature,
					BinID:     uint64(binID),
					BinCount:  count,
					CreatedAt: now,
				},
			})
		}
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

// Stop signals the periodic publish task to exit after one final flush
// and blocks until it does.
func (q *PsiQueue) Stop(ctx context.Context) {
	q.stopOnce.Do(func() { close(q.stopCh) })
	<-q.doneCh
	_ = q.Flush(ctx)
}

func (q *PsiQueue) periodicPublish() {
	defer close(q.doneCh)
	ticker := time.NewTicker(psiPublishPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = q.Flush(context.Background())
		case <-q.stopCh:
			return
		}
	}
}

// Metrics returns a point-in-time snapshot of push/publish/drop counters.
func (q *PsiQueue) Metrics() Metrics { return q.snapshot() }
