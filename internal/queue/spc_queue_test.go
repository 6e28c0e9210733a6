package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/sawpanic/scouter/internal/records"
)

type fakeProducer struct {
	mu      sync.Mutex
	batches []records.ServerRecords
}

func (p *fakeProducer) Publish(ctx context.Context, batch records.ServerRecords) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	return nil
}

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func TestSpcQueuePublishesExactlyOnceAtSampleSize(t *testing.T) {
	p := &fakeProducer{}
	q := NewSpcQueue("fraud", "model", "1.0.0", 25, true, p)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		q.Push(ctx, map[string]float64{"x": float64(i)})
	}

	if got := p.count(); got != 1 {
		t.Fatalf("publish count = %d, want 1 after 30 pushes with sample_size=25", got)
	}

	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := p.count(); got != 2 {
		t.Fatalf("publish count after flush = %d, want 2 (remaining 5 buffered)", got)
	}
}

func TestSpcQueueUnsampledPublishesEveryPush(t *testing.T) {
	p := &fakeProducer{}
	q := NewSpcQueue("fraud", "model", "1.0.0", 25, false, p)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q.Push(ctx, map[string]float64{"x": float64(i)})
	}
	if got := p.count(); got != 5 {
		t.Fatalf("publish count = %d, want 5 (sample=false publishes every observation)", got)
	}
}

func TestSpcQueueAveragesAcrossBuffer(t *testing.T) {
	p := &fakeProducer{}
	q := NewSpcQueue("fraud", "model", "1.0.0", 2, true, p)
	ctx := context.Background()

	q.Push(ctx, map[string]float64{"x": 1})
	q.Push(ctx, map[string]float64{"x": 3})

	if got := p.count(); got != 1 {
		t.Fatalf("publish count = %d, want 1", got)
	}
	rec := p.batches[0].Records[0]
	if rec.Spc == nil || rec.Spc.Value != 2 {
		t.Fatalf("averaged value = %+v, want 2", rec.Spc)
	}
}
