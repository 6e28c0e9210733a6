package queue

import (
	"context"
	"testing"
)

type countingDrops struct{ n int }

func (c *countingDrops) Inc() { c.n++ }

func TestQueueDropCounterTracksOverflow(t *testing.T) {
	p := &fakeProducer{}
	q := NewPsiQueue("fraud", "model", "1.0.0", testPsiFeatures(), p)
	defer q.Stop(context.Background())

	drops := &countingDrops{}
	q.SetDropCounter(drops)

	// Unknown features are dropped, and the external counter follows the
	// queue's own Dropped metric exactly.
	for i := 0; i < 3; i++ {
		q.Push(context.Background(), "unknown_feature", 1.0)
	}
	if q.Metrics().Dropped != 3 {
		t.Fatalf("Dropped = %d, want 3", q.Metrics().Dropped)
	}
	if drops.n != 3 {
		t.Fatalf("external drop counter = %d, want 3", drops.n)
	}
}
