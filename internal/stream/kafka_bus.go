package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// KafkaBus implements EventBus over github.com/segmentio/kafka-go, for
// deployments where external Kafka brokers back the ingestion pipeline
// (one reader per KAFKA_WORKER_COUNT worker, fanning into the caller's
// MessageHandler).
type KafkaBus struct {
	config BusConfig

	mu       sync.RWMutex
	started  bool
	writer   *kafka.Writer
	readers  []*kafka.Reader
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	dialer   *kafka.Dialer
}

// NewKafkaBus dials no brokers eagerly; kafka-go lazily connects on first
// Publish/Subscribe, matching the "opaque byte payload" black-box framing
// Kafka, Redis, and RabbitMQ all implement.
func NewKafkaBus(config BusConfig) (EventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers must be specified")
	}

	dialer := &kafka.Dialer{Timeout: config.ConnectTimeout, DualStack: true}
	return &KafkaBus{config: config, dialer: dialer}, nil
}

// NewKafkaBusWithSASL builds a KafkaBus with SASL/PLAIN or SASL/SCRAM
// credentials, used when KAFKA_SASL_USERNAME/PASSWORD are set.
func NewKafkaBusWithSASL(config BusConfig, username, password, mechanism string) (EventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers must be specified")
	}

	dialer := &kafka.Dialer{Timeout: config.ConnectTimeout, DualStack: true}
	switch mechanism {
	case "SCRAM-SHA-512":
		m, err := scram.Mechanism(scram.SHA512, username, password)
		if err != nil {
			return nil, fmt.Errorf("kafka scram mechanism: %w", err)
		}
		dialer.SASLMechanism = m
		dialer.TLS = &tls.Config{}
	case "SCRAM-SHA-256":
		m, err := scram.Mechanism(scram.SHA256, username, password)
		if err != nil {
			return nil, fmt.Errorf("kafka scram mechanism: %w", err)
		}
		dialer.SASLMechanism = m
		dialer.TLS = &tls.Config{}
	case "PLAIN", "":
		if username != "" {
			dialer.SASLMechanism = plain.Mechanism{Username: username, Password: password}
			dialer.TLS = &tls.Config{}
		}
	default:
		return nil, fmt.Errorf("unsupported kafka sasl mechanism %q", mechanism)
	}

	return &KafkaBus{config: config, dialer: dialer}, nil
}

func (k *KafkaBus) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return nil
	}
	k.writer = &kafka.Writer{
		Addr:                   kafka.TCP(k.config.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              max(1, k.config.ProducerConfig.BatchSize),
		RequiredAcks:           kafka.RequiredAcks(k.config.ProducerConfig.RequiredAcks),
		AllowAutoTopicCreation: true,
	}
	k.started = true
	return nil
}

func (k *KafkaBus) Stop(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.started {
		return nil
	}
	if k.cancel != nil {
		k.cancel()
	}
	k.wg.Wait()
	for _, r := range k.readers {
		_ = r.Close()
	}
	var err error
	if k.writer != nil {
		err = k.writer.Close()
	}
	k.started = false
	return err
}

func (k *KafkaBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	k.mu.RLock()
	w := k.writer
	k.mu.RUnlock()
	if w == nil {
		return ErrBusNotStarted
	}
	return w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (k *KafkaBus) PublishBatch(ctx context.Context, messages []Message) error {
	k.mu.RLock()
	w := k.writer
	k.mu.RUnlock()
	if w == nil {
		return ErrBusNotStarted
	}
	kmsgs := make([]kafka.Message, len(messages))
	for i, m := range messages {
		kmsgs[i] = kafka.Message{Topic: m.Topic, Key: []byte(m.Key), Value: m.Payload, Time: m.Timestamp}
	}
	return w.WriteMessages(ctx, kmsgs...)
}

// Subscribe spawns one kafka.Reader per call, one per entry in the "N
// consumer tasks": callers create KAFKA_WORKER_COUNT subscriptions on the
// same group, and kafka-go's consumer-group protocol load-balances
// partitions across them.
func (k *KafkaBus) Subscribe(ctx context.Context, topic, group string, handler MessageHandler) error {
	k.mu.Lock()
	if k.cancel == nil {
		_, cancel := context.WithCancel(ctx)
		k.cancel = cancel
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.config.Brokers,
		Topic:    topic,
		GroupID:  group,
		Dialer:   k.dialer,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// A failed deserialize/read is skipped, not fatal, to avoid
				// a poison-pill loop.
				continue
			}
			m := &Message{
				ID:        fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
				Topic:     msg.Topic,
				Key:       string(msg.Key),
				Payload:   msg.Value,
				Timestamp: msg.Time,
				Partition: int32(msg.Partition),
				Offset:    msg.Offset,
			}
			if err := handler(ctx, m); err != nil {
				// Committed regardless (kafka-go auto-commits on
				// ReadMessage); the failure is recorded by the caller's
				// metrics and a bad message never blocks the consumer.
				continue
			}
		}
	}()
	return nil
}

func (k *KafkaBus) Health() HealthStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return HealthStatus{
		Healthy:   k.started,
		Status:    map[bool]string{true: "connected", false: "stopped"}[k.started],
		LastCheck: time.Now(),
		Metrics: HealthMetrics{
			ConnectedBrokers: len(k.config.Brokers),
			ActiveConsumers:  len(k.readers),
		},
	}
}

// DefaultKafkaConfig returns sensible defaults for Kafka configuration,
// consumed by config.KafkaConfig at startup.
func DefaultKafkaConfig() BusConfig {
	return BusConfig{
		Brokers:        []string{"localhost:9092"},
		ClientID:       "scouter-kafka-client",
		ConnectTimeout: 10 * time.Second,
		ProducerConfig: ProducerConfig{RequiredAcks: 1, BatchSize: 100},
		ConsumerConfig: ConsumerConfig{AutoOffsetReset: "latest", EnableAutoCommit: true},
		RetryConfig:    RetryConfig{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, BackoffFactor: 2},
	}
}
