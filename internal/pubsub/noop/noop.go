// Package noop implements pubsub.Bus for single-node deployments: every
// call reports "not connected" so callers fall back to local-only fan-out.
package noop

import (
	"context"

	"github.com/synckit-dev/hub/internal/pubsub"
)

// Bus is the zero-dependency pubsub.Bus used when pubsub.enabled=false.
type Bus struct{}

// New returns a noop bus.
func New() *Bus { return &Bus{} }

func (b *Bus) Connect(ctx context.Context) error    { return nil }
func (b *Bus) Disconnect(ctx context.Context) error { return nil }
func (b *Bus) IsConnected() bool                    { return false }

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	return pubsub.ErrNotConnected
}

func (b *Bus) Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error) {
	return nil, pubsub.ErrNotConnected
}
