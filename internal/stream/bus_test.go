package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedStub(t *testing.T) *StubBus {
	t.Helper()
	bus, err := NewStubBus(BusConfig{ClientID: "test"})
	require.NoError(t, err)
	require.NoError(t, bus.Start(context.Background()))
	return bus.(*StubBus)
}

func TestNewEventBusSelectsVariant(t *testing.T) {
	bus, err := NewEventBus(BusTypeStub, BusConfig{})
	require.NoError(t, err)
	assert.NotNil(t, bus)

	_, err = NewEventBus(BusType("pigeon"), BusConfig{})
	assert.ErrorIs(t, err, ErrUnsupportedBusType)
}

func TestStubBusPublishBeforeStart(t *testing.T) {
	bus, err := NewStubBus(BusConfig{})
	require.NoError(t, err)
	err = bus.Publish(context.Background(), "t", "", []byte("x"))
	assert.ErrorIs(t, err, ErrBusNotStarted)
}

func TestStubBusDeliversToSubscriber(t *testing.T) {
	bus := startedStub(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []*Message
	require.NoError(t, bus.Subscribe(ctx, "observations", "ingest", func(_ context.Context, m *Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "observations", "k1", []byte(`{"records":[]}`)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "observations", got[0].Topic)
	assert.Equal(t, "k1", got[0].Key)
	assert.Equal(t, []byte(`{"records":[]}`), got[0].Payload)
}

func TestStubBusGroupGetsEachMessageOnce(t *testing.T) {
	bus := startedStub(t)
	ctx := context.Background()

	var mu sync.Mutex
	counts := make(map[int]int)
	for i := 0; i < 2; i++ {
		i := i
		require.NoError(t, bus.Subscribe(ctx, "t", "ingest", func(context.Context, *Message) error {
			mu.Lock()
			defer mu.Unlock()
			counts[i]++
			return nil
		}))
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(ctx, "t", "", []byte("m")))
	}

	mu.Lock()
	defer mu.Unlock()
	// Each message went to exactly one consumer in the group, load
	// balanced across both.
	assert.Equal(t, 10, counts[0]+counts[1])
	assert.Equal(t, 5, counts[0])
}

func TestStubBusSeparateGroupsBothReceive(t *testing.T) {
	bus := startedStub(t)
	ctx := context.Background()

	var mu sync.Mutex
	received := map[string]int{}
	for _, group := range []string{"g1", "g2"} {
		group := group
		require.NoError(t, bus.Subscribe(ctx, "t", group, func(context.Context, *Message) error {
			mu.Lock()
			defer mu.Unlock()
			received[group]++
			return nil
		}))
	}

	require.NoError(t, bus.Publish(ctx, "t", "", []byte("m")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received["g1"])
	assert.Equal(t, 1, received["g2"])
}

func TestStubBusPublishBatch(t *testing.T) {
	bus := startedStub(t)
	ctx := context.Background()

	msgs := []Message{
		{Topic: "t", Key: "a", Payload: []byte("1")},
		{Topic: "t", Key: "b", Payload: []byte("2")},
	}
	require.NoError(t, bus.PublishBatch(ctx, msgs))
	assert.Len(t, bus.Published("t"), 2)
}

func TestStubBusHealth(t *testing.T) {
	bus := startedStub(t)
	require.NoError(t, bus.Subscribe(context.Background(), "t", "g", func(context.Context, *Message) error {
		return nil
	}))

	h := bus.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, "connected", h.Status)
	assert.Equal(t, 1, h.Metrics.ActiveConsumers)
	assert.WithinDuration(t, time.Now(), h.LastCheck, time.Minute)

	require.NoError(t, bus.Stop(context.Background()))
	assert.False(t, bus.Health().Healthy)
}
