package ingest

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/sawpanic/scouter/internal/records"
	"github.com/sawpanic/scouter/internal/stream"
)

// BusConsumer bridges an external broker onto the pool's internal channel,
// unifying the insert path: Kafka, RabbitMQ, and Redis deliveries all land
// on the same workers the HTTP route feeds.
type BusConsumer struct {
	bus   stream.EventBus
	topic string
	group string
	pool  *Pool
	log   zerolog.Logger
}

// NewBusConsumer binds a consumer to one topic/group on the given bus.
func NewBusConsumer(bus stream.EventBus, topic, group string, pool *Pool, logger zerolog.Logger) *BusConsumer {
	return &BusConsumer{bus: bus, topic: topic, group: group, pool: pool, log: logger}
}

// Start subscribes the handler. Undecodable payloads are skipped (and
// acked by the bus's own idiom) so a poison pill cannot wedge the
// partition; a full internal channel is the only error surfaced to the
// bus, letting it redeliver under its at-least-once contract.
func (c *BusConsumer) Start(ctx context.Context) error {
	return c.bus.Subscribe(ctx, c.topic, c.group, func(ctx context.Context, msg *stream.Message) error {
		decoded, ok := decodePayload(msg.Payload)
		if !ok {
			c.log.Warn().Str("topic", msg.Topic).Msg("undecodable payload skipped")
			return nil
		}
		if err := c.pool.Enqueue(decoded); err != nil {
			return err
		}
		return nil
	})
}

// decodePayload accepts either a full MessageRecord envelope or a bare
// ServerRecords batch, which is what client producers publish.
func decodePayload(payload []byte) (records.MessageRecord, bool) {
	var msg records.MessageRecord
	if err := json.Unmarshal(payload, &msg); err == nil {
		if msg.ServerRecords != nil || msg.Trace != nil || msg.Tag != nil {
			return msg, true
		}
	}
	var batch records.ServerRecords
	if err := json.Unmarshal(payload, &batch); err == nil && len(batch.Records) > 0 {
		return records.MessageRecord{ServerRecords: &batch}, true
	}
	return records.MessageRecord{}, false
}
