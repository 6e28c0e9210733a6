package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StubBus is the in-memory variant used by tests and local development:
// published messages are delivered synchronously to subscribers, with one
// consumer per group receiving each message to mimic broker group
// semantics.
type StubBus struct {
	config BusConfig

	mu          sync.RWMutex
	started     bool
	seq         int64
	subscribers map[string]map[string][]MessageHandler // topic -> group -> handlers
	next        map[string]int                         // topic/group -> round-robin cursor
	published   map[string][]Message
}

// DefaultStubConfig is the stub's test configuration.
func DefaultStubConfig() BusConfig {
	return BusConfig{Brokers: []string{"stub"}, ClientID: "scouter-stub-client"}
}

// NewStubBus creates an in-memory event bus.
func NewStubBus(config BusConfig) (EventBus, error) {
	return &StubBus{
		config:      config,
		subscribers: make(map[string]map[string][]MessageHandler),
		next:        make(map[string]int),
		published:   make(map[string][]Message),
	}, nil
}

func (s *StubBus) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *StubBus) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *StubBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrBusNotStarted
	}
	s.seq++
	msg := Message{
		ID:        fmt.Sprintf("stub-%d", s.seq),
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Offset:    s.seq,
	}
	s.published[topic] = append(s.published[topic], msg)

	// One handler per group, round-robin within the group.
	var targets []MessageHandler
	for group, handlers := range s.subscribers[topic] {
		if len(handlers) == 0 {
			continue
		}
		cursor := s.next[topic+"/"+group] % len(handlers)
		s.next[topic+"/"+group] = cursor + 1
		targets = append(targets, handlers[cursor])
	}
	s.mu.Unlock()

	for _, handler := range targets {
		// Delivery errors are swallowed like a fire-and-forget broker;
		// the handler's own metrics record failures.
		_ = handler(ctx, &msg)
	}
	return nil
}

func (s *StubBus) PublishBatch(ctx context.Context, messages []Message) error {
	for _, m := range messages {
		if err := s.Publish(ctx, m.Topic, m.Key, m.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *StubBus) Subscribe(_ context.Context, topic, group string, handler MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers[topic] == nil {
		s.subscribers[topic] = make(map[string][]MessageHandler)
	}
	s.subscribers[topic][group] = append(s.subscribers[topic][group], handler)
	return nil
}

func (s *StubBus) Health() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	consumers := 0
	for _, groups := range s.subscribers {
		for _, handlers := range groups {
			consumers += len(handlers)
		}
	}
	return HealthStatus{
		Healthy:   s.started,
		Status:    map[bool]string{true: "connected", false: "stopped"}[s.started],
		LastCheck: time.Now(),
		Metrics:   HealthMetrics{ConnectedBrokers: 1, ActiveConsumers: consumers},
	}
}

// Published returns a copy of everything published to topic, for test
// assertions.
func (s *StubBus) Published(topic string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.published[topic]))
	copy(out, s.published[topic])
	return out
}
