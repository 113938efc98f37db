// Package pubsub abstracts cross-node fan-out of deltas and awareness
// updates so the sync coordinator never knows whether it is running
// alone or as part of a fleet.
package pubsub

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by the noop bus, and by any bus that has
// lost its broker connection, for every Publish/Subscribe call.
var ErrNotConnected = errors.New("pubsub: not connected")

// Bus fans delta and awareness events out across hub nodes. At-least-once
// delivery is the only guarantee; duplicates must be tolerated by the
// caller (delta append is idempotent by id, awareness Put rejects stale
// clocks).
type Bus interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Publish sends payload to topic. Failure is fire-and-forget from
	// the coordinator's point of view: callers should log and continue
	// local delivery rather than treat it as fatal.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for messages on topic. The returned
	// func removes this handler; it is safe to call more than once.
	Subscribe(ctx context.Context, topic string, handler func([]byte)) (unsubscribe func(), err error)
}

// DocumentTopic names the channel carrying delta broadcasts for one
// document.
func DocumentTopic(prefix, documentID string) string {
	return prefix + "doc:" + documentID
}

// AwarenessTopic names the channel carrying presence updates for one
// document.
func AwarenessTopic(prefix, documentID string) string {
	return prefix + "awareness:" + documentID
}

// DefaultChannelPrefix matches the prefix the Redis adapter
// used, kept as the cross-provider default.
const DefaultChannelPrefix = "synckit:"
