// Package natspubsub implements pubsub.Bus on top of NATS core
// pub/sub, for fleets that prefer a broker over Redis.
package natspubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds NATS connection and reconnect parameters.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
}

// DefaultConfig returns sensible reconnect defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		MaxPingsOut:     2,
	}
}

// Bus implements pubsub.Bus over a single shared *nats.Conn.
type Bus struct {
	conn   *nats.Conn
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// New connects to NATS at config.URL and returns a ready Bus.
func New(config *Config, logger *zap.Logger) (*Bus, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{logger: logger, subs: make(map[string]*nats.Subscription)}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.ReconnectJitter(config.ReconnectJitter, config.ReconnectJitter),
		nats.MaxPingsOutstanding(config.MaxPingsOut),
		nats.ConnectHandler(b.onConnect),
		nats.DisconnectErrHandler(b.onDisconnect),
		nats.ReconnectHandler(b.onReconnect),
		nats.ErrorHandler(b.onError),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natspubsub: connect: %w", err)
	}
	b.conn = conn
	return b, nil
}

func (b *Bus) onConnect(conn *nats.Conn) {
	b.logger.Info("nats connected", zap.String("url", conn.ConnectedUrl()))
}

func (b *Bus) onDisconnect(conn *nats.Conn, err error) {
	if err != nil {
		b.logger.Warn("nats disconnected", zap.Error(err))
	}
}

func (b *Bus) onReconnect(conn *nats.Conn) {
	b.logger.Info("nats reconnected", zap.String("url", conn.ConnectedUrl()))
}

func (b *Bus) onError(conn *nats.Conn, sub *nats.Subscription, err error) {
	b.logger.Error("nats error", zap.Error(err))
}

// Connect is a no-op: New already establishes the connection. It
// exists to satisfy pubsub.Bus for uniform wiring in cmd/server.
func (b *Bus) Connect(ctx context.Context) error { return nil }

func (b *Bus) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	for subject, sub := range b.subs {
		sub.Unsubscribe()
		delete(b.subs, subject)
	}
	b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

func (b *Bus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("natspubsub: publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error) {
	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("natspubsub: subscribe %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs[topic] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		sub.Unsubscribe()
		b.mu.Lock()
		delete(b.subs, topic)
		b.mu.Unlock()
	}
	return unsubscribe, nil
}
