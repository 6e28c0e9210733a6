package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/scouter/internal/records"
	"github.com/sawpanic/scouter/internal/stream"
)

func TestBusProducer_PublishThroughStub(t *testing.T) {
	bus, err := stream.NewEventBus(stream.BusTypeStub, stream.DefaultStubConfig())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop(ctx)

	retry := RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	producer := NewBusProducer(bus, "spc-topic", retry)

	batch := records.ServerRecords{Records: []records.ServerRecord{
		{Spc: &records.SpcRecord{Space: "s", Name: "n", Version: "1", Feature: "f", Value: 1.0}},
	}}
	require.NoError(t, producer.Publish(ctx, batch))
}

func TestBusProducer_RetriesThenFails(t *testing.T) {
	bus, err := stream.NewEventBus(stream.BusTypeStub, stream.DefaultStubConfig())
	require.NoError(t, err)
	ctx := context.Background()
	// Intentionally do not Start the bus: every attempt returns
	// ErrBusNotStarted so Publish exhausts max_retries and fails.

	retry := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	producer := NewBusProducer(bus, "spc-topic", retry)

	batch := records.ServerRecords{Records: []records.ServerRecord{
		{Spc: &records.SpcRecord{Space: "s", Name: "n", Version: "1", Feature: "f", Value: 1.0}},
	}}
	err = producer.Publish(ctx, batch)
	require.Error(t, err)
}
