// Package transport wires Scouter's client-side queues (internal/queue) to
// the chosen message bus (internal/stream): a tagged-union Producer selected
// at construction, exponential-backoff retry with a fixed max_retries, and a
// circuit breaker around the underlying bus so a degraded broker doesn't
// stack up blocked publishes.
package transport

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sawpanic/scouter/internal/records"
	"github.com/sawpanic/scouter/internal/scouterrors"
	"github.com/sawpanic/scouter/internal/stream"
)

// RetryConfig is the retry policy applied around a bus publish.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig applies exponential back-off with a fixed max_retries
// (default 3).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// BusProducer adapts a stream.EventBus into queue.Producer, applying
// retry-with-backoff and a circuit breaker around every publish. It
// satisfies queue.Producer (Publish(ctx, ServerRecords) error) without
// importing the queue package, keeping the dependency direction
// consumer->interface.
type BusProducer struct {
	bus     stream.EventBus
	topic   string
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
}

// NewBusProducer binds a producer to one topic on the given bus. The
// circuit breaker opens after 5 consecutive failures and probes again
// after 30s.
func NewBusProducer(bus stream.EventBus, topic string, retry RetryConfig) *BusProducer {
	settings := gobreaker.Settings{
		Name:        "transport.producer." + topic,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BusProducer{
		bus:     bus,
		topic:   topic,
		retry:   retry,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Publish JSON-encodes the batch and publishes it through the breaker with
// exponential backoff. A final failure after max_retries is returned to the
// caller (the queue's publish path) so it can count the drop, but the
// caller itself never propagates it to the monitored application.
func (p *BusProducer) Publish(ctx context.Context, batch records.ServerRecords) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return scouterrors.New(scouterrors.KindInternal, "transport.Publish", err)
	}

	delay := p.retry.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, p.bus.Publish(ctx, p.topic, "", payload)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == p.retry.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return scouterrors.New(scouterrors.KindTransport, "transport.Publish", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(math.Min(float64(delay*2), float64(p.retry.MaxDelay)))
	}
	return scouterrors.New(scouterrors.KindTransport, "transport.Publish", lastErr)
}

// Flush is a no-op for bus-backed producers: synchronous drain is a
// property of the client queue, not the transport.
func (p *BusProducer) Flush(ctx context.Context) error { return nil }
