// Package stream is Scouter's transport abstraction: a uniform EventBus
// over Kafka, RabbitMQ, or Redis pub/sub, chosen at construction and
// otherwise opaque. Producers publish serialized record batches; the
// ingestion layer subscribes and forwards deliveries onto its internal
// channel. HTTP and gRPC deployments skip this package entirely: their
// requests land on the internal channel directly.
package stream

import (
	"context"
	"fmt"
	"time"
)

// EventBus is the surface every transport variant implements.
type EventBus interface {
	// Publish sends one opaque payload to a topic. key is a partitioning
	// hint honored only by brokers that have partitions.
	Publish(ctx context.Context, topic, key string, payload []byte) error
	// PublishBatch sends several messages in one broker round-trip where
	// the client library supports it.
	PublishBatch(ctx context.Context, messages []Message) error
	// Subscribe registers handler for a topic. Each call adds one
	// consumer; callers create as many subscriptions as they want worker
	// parallelism and the broker's group protocol balances deliveries.
	Subscribe(ctx context.Context, topic, group string, handler MessageHandler) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() HealthStatus
}

// Message is one delivery in either direction.
type Message struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Partition int32     `json:"partition,omitempty"`
	Offset    int64     `json:"offset,omitempty"`
}

// MessageHandler processes one delivery. A non-nil error tells the bus the
// delivery was not absorbed; whether that redelivers is the broker's
// at-least-once idiom, not a contract of this interface.
type MessageHandler func(ctx context.Context, message *Message) error

// HealthStatus reports a bus's liveness for the healthcheck surface.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Status    string        `json:"status"`
	LastCheck time.Time     `json:"last_check"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics are the operational gauges a bus can report cheaply.
type HealthMetrics struct {
	ConnectedBrokers int `json:"connected_brokers"`
	ActiveConsumers  int `json:"active_consumers"`
}

// RetryConfig is the produce-side retry policy applied by the transport
// producer wrapping this bus.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// ProducerConfig holds produce-side knobs for brokers that batch.
type ProducerConfig struct {
	RequiredAcks int `json:"required_acks"` // 0=none, 1=leader, -1=all
	BatchSize    int `json:"batch_size"`
}

// ConsumerConfig holds consume-side knobs.
type ConsumerConfig struct {
	GroupID          string `json:"group_id"`
	AutoOffsetReset  string `json:"auto_offset_reset"` // earliest, latest
	EnableAutoCommit bool   `json:"enable_auto_commit"`
	// MaxPollRecords doubles as the prefetch bound on brokers with
	// credit-based flow control.
	MaxPollRecords int `json:"max_poll_records"`
}

// BusConfig is the shared construction config; Brokers[0] carries the
// single address for brokers without a cluster list.
type BusConfig struct {
	Brokers          []string      `json:"brokers"`
	ClientID         string        `json:"client_id"`
	SecurityProtocol string        `json:"security_protocol"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`

	ProducerConfig ProducerConfig `json:"producer"`
	ConsumerConfig ConsumerConfig `json:"consumer"`
	RetryConfig    RetryConfig    `json:"retry"`
}

// BusType selects the transport variant.
type BusType string

const (
	BusTypeKafka    BusType = "kafka"
	BusTypeRabbitMQ BusType = "rabbitmq"
	BusTypeRedis    BusType = "redis"
	BusTypeStub     BusType = "stub" // in-memory, for tests
)

// NewEventBus constructs the variant matching busType.
func NewEventBus(busType BusType, config BusConfig) (EventBus, error) {
	switch busType {
	case BusTypeKafka:
		return NewKafkaBus(config)
	case BusTypeRabbitMQ:
		return NewRabbitMQBus(config)
	case BusTypeRedis:
		return NewRedisBus(config)
	case BusTypeStub:
		return NewStubBus(config)
	default:
		return nil, ErrUnsupportedBusType
	}
}

// Common errors.
var (
	ErrUnsupportedBusType = fmt.Errorf("unsupported bus type")
	ErrBusNotStarted      = fmt.Errorf("bus not started")
)
