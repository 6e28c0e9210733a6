package stream

import (
	"context"
	"testing"

	redismock "github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisBus_Publish exercises the Redis transport variant against a
// redismock client rather than requiring a live broker.
func TestRedisBus_Publish(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bus := newRedisBusWithClient(DefaultRedisConfig(), client)

	ctx := context.Background()
	mock.ExpectPing().SetVal("PONG")
	require.NoError(t, bus.Start(ctx))

	mock.ExpectPublish("spc-topic", []byte(`{"records":[]}`)).SetVal(1)
	err := bus.Publish(ctx, "spc-topic", "key-1", []byte(`{"records":[]}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBus_Health(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bus := newRedisBusWithClient(DefaultRedisConfig(), client)

	ctx := context.Background()
	mock.ExpectPing().SetVal("PONG")
	require.NoError(t, bus.Start(ctx))

	h := bus.Health()
	assert.True(t, h.Healthy)
}
