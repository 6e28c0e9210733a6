package queue

import (
	"context"
	"testing"

	"github.com/sawpanic/scouter/internal/profile"
)

func testPsiFeatures() map[string]profile.PsiFeature {
	return map[string]profile.PsiFeature{
		"x": {
			Bins: []profile.PsiBin{
				{ID: 0, Lower: -1e300, Upper: 10, Proportion: 0.5},
				{ID: 1, Lower: 10, Upper: 1e300, Proportion: 0.5},
			},
		},
	}
}

func TestPsiQueueClassifiesAndPublishesOnSaturation(t *testing.T) {
	p := &fakeProducer{}
	q := NewPsiQueue("fraud", "model", "1.0.0", testPsiFeatures(), p)
	defer q.Stop(context.Background())
	ctx := context.Background()

	for i := 0; i < psiRingCapacity; i++ {
		v := 5.0
		if i%2 == 0 {
			v = 15.0
		}
		q.Push(ctx, "x", v)
	}

	if got := p.count(); got != 1 {
		t.Fatalf("publish count = %d, want 1 at ring saturation", got)
	}
	rec := p.batches[0].Records
	var total uint64
	for _, r := range rec {
		if r.Psi != nil {
			total += r.Psi.BinCount
		}
	}
	if total != psiRingCapacity {
		t.Errorf("total bin counts = %d, want %d", total, psiRingCapacity)
	}
}

func TestPsiQueueDropsUnknownFeature(t *testing.T) {
	p := &fakeProducer{}
	q := NewPsiQueue("fraud", "model", "1.0.0", testPsiFeatures(), p)
	defer q.Stop(context.Background())

	q.Push(context.Background(), "unknown_feature", 1.0)
	m := q.Metrics()
	if m.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", m.Dropped)
	}
}
