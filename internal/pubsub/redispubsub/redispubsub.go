// Package redispubsub implements pubsub.Bus on top of Redis Pub/Sub,
// for fleets that already run Redis for other purposes.
package redispubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection parameters.
type Config struct {
	URL        string
	MaxRetries int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{MaxRetries: 3}
}

// Bus implements pubsub.Bus with a publisher client and a subscriber
// client, one redis.PubSub per topic with at least one active handler.
type Bus struct {
	publisher  *redis.Client
	subscriber *redis.Client
	connected  bool

	mu       sync.Mutex
	handlers map[string][]func([]byte)
	pubsubs  map[string]*redis.PubSub
}

// New parses config.URL and returns a disconnected Bus. Call Connect
// before use.
func New(config *Config) (*Bus, error) {
	if config == nil {
		config = DefaultConfig()
	}

	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("redispubsub: parse url: %w", err)
	}
	opt.MaxRetries = config.MaxRetries

	return &Bus{
		publisher:  redis.NewClient(opt),
		subscriber: redis.NewClient(opt),
		handlers:   make(map[string][]func([]byte)),
		pubsubs:    make(map[string]*redis.PubSub),
	}, nil
}

func (b *Bus) Connect(ctx context.Context) error {
	if err := b.publisher.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redispubsub: connect publisher: %w", err)
	}
	if err := b.subscriber.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redispubsub: connect subscriber: %w", err)
	}
	b.connected = true
	return nil
}

func (b *Bus) Disconnect(ctx context.Context) error {
	b.connected = false

	b.mu.Lock()
	for _, ps := range b.pubsubs {
		ps.Close()
	}
	b.pubsubs = make(map[string]*redis.PubSub)
	b.handlers = make(map[string][]func([]byte))
	b.mu.Unlock()

	b.publisher.Close()
	b.subscriber.Close()
	return nil
}

func (b *Bus) IsConnected() bool { return b.connected }

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.publisher.Publish(ctx, topic, payload).Err()
}

func (b *Bus) Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error) {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	isFirst := len(b.handlers[topic]) == 1
	if isFirst {
		ps := b.subscriber.Subscribe(ctx, topic)
		b.pubsubs[topic] = ps
		go b.pump(topic, ps)
	}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		handlers := b.handlers[topic]
		for i, h := range handlers {
			if fmt.Sprintf("%p", h) == fmt.Sprintf("%p", handler) {
				handlers = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
		b.handlers[topic] = handlers

		if len(handlers) == 0 {
			if ps, ok := b.pubsubs[topic]; ok {
				ps.Close()
				delete(b.pubsubs, topic)
			}
			delete(b.handlers, topic)
		}
	}

	return unsubscribe, nil
}

func (b *Bus) pump(topic string, ps *redis.PubSub) {
	for msg := range ps.Channel() {
		b.mu.Lock()
		handlers := append([]func([]byte){}, b.handlers[topic]...)
		b.mu.Unlock()

		for _, h := range handlers {
			go h([]byte(msg.Payload))
		}
	}
}
