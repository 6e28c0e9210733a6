package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBus implements EventBus over github.com/go-redis/redis/v8 pub/sub,
// the Redis transport variant. Redis pub/sub has no durable offsets;
// channels exist only as long as there is a subscriber.
type RedisBus struct {
	config BusConfig
	client *redis.Client

	mu      sync.RWMutex
	started bool
	pubsubs []*redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisBus constructs a RedisBus against a single Redis address
// (REDIS_ADDR). config.Brokers[0] carries the address so the
// same BusConfig shape serves every transport variant.
func NewRedisBus(config BusConfig) (EventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("redis address must be specified")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        config.Brokers[0],
		DialTimeout: config.ConnectTimeout,
	})
	return &RedisBus{config: config, client: client}, nil
}

// newRedisBusWithClient is used by tests to inject a redismock client.
func newRedisBusWithClient(config BusConfig, client *redis.Client) *RedisBus {
	return &RedisBus{config: config, client: client}
}

func (r *RedisBus) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.started = true
	return nil
}

func (r *RedisBus) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	for _, ps := range r.pubsubs {
		_ = ps.Close()
	}
	r.started = false
	return r.client.Close()
}

func (r *RedisBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *RedisBus) PublishBatch(ctx context.Context, messages []Message) error {
	pipe := r.client.Pipeline()
	for _, m := range messages {
		pipe.Publish(ctx, m.Topic, m.Payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Subscribe ignores group: plain Redis pub/sub has no consumer groups, so
// every subscriber receives every message, at-most-once fire-and-forget.
func (r *RedisBus) Subscribe(ctx context.Context, topic, group string, handler MessageHandler) error {
	ps := r.client.Subscribe(ctx, topic)
	r.mu.Lock()
	r.pubsubs = append(r.pubsubs, ps)
	if r.cancel == nil {
		_, cancel := context.WithCancel(ctx)
		r.cancel = cancel
	}
	r.mu.Unlock()

	ch := ps.Channel()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				m := &Message{
					Topic:     msg.Channel,
					Payload:   []byte(msg.Payload),
					Timestamp: time.Now().UTC(),
				}
				_ = handler(ctx, m)
			}
		}
	}()
	return nil
}

func (r *RedisBus) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	healthy := r.started
	return HealthStatus{
		Healthy:   healthy,
		Status:    map[bool]string{true: "connected", false: "stopped"}[healthy],
		LastCheck: time.Now(),
		Metrics:   HealthMetrics{ConnectedBrokers: 1, ActiveConsumers: len(r.pubsubs)},
	}
}

// DefaultRedisConfig returns sensible defaults for the Redis transport.
func DefaultRedisConfig() BusConfig {
	return BusConfig{
		Brokers:        []string{"localhost:6379"},
		ClientID:       "scouter-redis-client",
		ConnectTimeout: 5 * time.Second,
		RetryConfig:    RetryConfig{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, BackoffFactor: 2},
	}
}
