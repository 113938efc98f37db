// Package protocol implements the wire format between a client and the
// sync hub: UTF-8 JSON objects over WebSocket text frames.
//
// Matches the TypeScript reference wire format: `type` is a lowercase
// snake_case discriminator, every other field is camelCase, and opaque
// fields (delta payloads, awareness state, permissions) are preserved
// byte-equivalent across a decode/encode round trip.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/synckit-dev/hub/internal/vectorclock"
)

// Message type discriminators (exact wire strings).
const (
	TypeConnect    = "connect"
	TypeDisconnect = "disconnect"
	TypePing       = "ping"
	TypePong       = "pong"

	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"

	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSyncRequest  = "sync_request"
	TypeSyncResponse = "sync_response"
	TypeDelta        = "delta"
	TypeAck          = "ack"

	TypeAwarenessUpdate    = "awareness_update"
	TypeAwarenessSubscribe = "awareness_subscribe"
	TypeAwarenessState     = "awareness_state"

	TypeError = "error"
)

// KnownTypes lists every message type this decoder recognizes.
var KnownTypes = map[string]bool{
	TypeConnect: true, TypeDisconnect: true, TypePing: true, TypePong: true,
	TypeAuth: true, TypeAuthSuccess: true, TypeAuthError: true,
	TypeSubscribe: true, TypeUnsubscribe: true,
	TypeSyncRequest: true, TypeSyncResponse: true,
	TypeDelta: true, TypeAck: true,
	TypeAwarenessUpdate: true, TypeAwarenessSubscribe: true, TypeAwarenessState: true,
	TypeError: true,
}

// Error reasons.
const (
	ReasonInvalidFrame         = "invalid_frame"
	ReasonUnknownMessageType   = "unknown_message_type"
	ReasonFrameTooLarge        = "frame_too_large"
	ReasonNotAuthenticated     = "not_authenticated"
	ReasonAuthFailed           = "auth_failed"
	ReasonAuthTimeout          = "auth_timeout"
	ReasonHeartbeatTimeout     = "heartbeat_timeout"
	ReasonPermissionDenied     = "permission_denied"
	ReasonNotSubscribed        = "not_subscribed"
	ReasonCausalityViolation   = "causality_violation"
	ReasonInternalError        = "internal_error"
	ReasonSlowConsumer         = "slow_consumer"
	ReasonServerShutdown       = "server_shutdown"
	ReasonRateLimited          = "rate_limited"
	ReasonDocumentLimitReached = "document_limit_reached"
)

// MaxFrameBytes is the default oversize-frame threshold.
const MaxFrameBytes = 1 << 20 // 1 MiB

var (
	// ErrInvalidFrame is returned when a frame is not valid JSON or lacks a type.
	ErrInvalidFrame = errors.New("protocol: invalid frame")
	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameBytes.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrUnknownType is returned when `type` is not a recognized discriminator.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Envelope carries the fields common to every message, plus the raw
// remainder so callers can re-decode into the concrete variant once the
// type is known.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	raw       json.RawMessage `json:"-"`
}

// Decode parses a single WebSocket text frame into its envelope. The
// returned Envelope's Raw() method gives access to the full object for
// decoding the type-specific fields.
func Decode(frame []byte) (*Envelope, error) {
	if len(frame) > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if env.Type == "" {
		return nil, ErrInvalidFrame
	}
	if !KnownTypes[env.Type] {
		return nil, ErrUnknownType
	}
	env.raw = append(json.RawMessage(nil), frame...)
	return &env, nil
}

// Raw returns the full original frame bytes, for decoding type-specific
// payload fields beyond the common envelope.
func (e *Envelope) Raw() json.RawMessage { return e.raw }

// Decode unmarshals the envelope's raw bytes into v, a pointer to one of
// the typed payload structs below.
func (e *Envelope) DecodeInto(v interface{}) error {
	return json.Unmarshal(e.raw, v)
}

// Encode marshals v (one of the typed payload structs, which must embed
// its own type/id/timestamp fields) to JSON bytes suitable for a text
// frame.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// --- Typed payloads, one per wire message type ---

// AuthMessage is sent by the client to authenticate a connection.
type AuthMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Token     string `json:"token,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	ClientID  string `json:"clientId"`
}

// AuthSuccessMessage acknowledges successful authentication.
type AuthSuccessMessage struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	Timestamp   int64           `json:"timestamp"`
	UserID      string          `json:"userId"`
	Permissions json.RawMessage `json:"permissions"`
}

// AuthErrorMessage reports an authentication failure.
type AuthErrorMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason"`
}

// SubscribeMessage requests subscription to a document.
type SubscribeMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	DocumentID string `json:"documentId"`
}

// UnsubscribeMessage cancels a document subscription.
type UnsubscribeMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	DocumentID string `json:"documentId"`
}

// SyncRequestMessage asks for deltas the client hasn't observed yet.
type SyncRequestMessage struct {
	Type        string            `json:"type"`
	ID          string            `json:"id"`
	Timestamp   int64             `json:"timestamp"`
	DocumentID  string            `json:"documentId"`
	VectorClock vectorclock.Clock `json:"vectorClock,omitempty"`
}

// SyncResponseDelta is one entry of a sync_response's deltas array.
type SyncResponseDelta struct {
	Delta       json.RawMessage   `json:"delta"`
	VectorClock vectorclock.Clock `json:"vectorClock"`
}

// SyncResponseMessage answers a subscribe or sync_request.
type SyncResponseMessage struct {
	Type       string              `json:"type"`
	ID         string              `json:"id"`
	Timestamp  int64               `json:"timestamp"`
	RequestID  string              `json:"requestId"`
	DocumentID string              `json:"documentId"`
	State      vectorclock.Clock   `json:"state"`
	Deltas     []SyncResponseDelta `json:"deltas"`
}

// DeltaMessage carries an opaque CRDT delta for a document.
type DeltaMessage struct {
	Type        string            `json:"type"`
	ID          string            `json:"id"`
	Timestamp   int64             `json:"timestamp"`
	DocumentID  string            `json:"documentId"`
	Delta       json.RawMessage   `json:"delta"`
	VectorClock vectorclock.Clock `json:"vectorClock"`
}

// AckMessage acknowledges a prior message by ID.
type AckMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageId"`
}

// AwarenessSubscribeMessage requests the current awareness snapshot.
type AwarenessSubscribeMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	DocumentID string `json:"documentId"`
}

// AwarenessUpdateMessage reports a client's presence state.
type AwarenessUpdateMessage struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Timestamp  int64           `json:"timestamp"`
	DocumentID string          `json:"documentId"`
	ClientID   string          `json:"clientId"`
	State      json.RawMessage `json:"state"`
	Clock      uint64          `json:"clock"`
}

// AwarenessStateEntry is one client's presence inside an awareness_state.
type AwarenessStateEntry struct {
	ClientID string          `json:"clientId"`
	State    json.RawMessage `json:"state"`
	Clock    uint64          `json:"clock"`
}

// AwarenessStateMessage is the full or incremental presence snapshot.
type AwarenessStateMessage struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id"`
	Timestamp  int64                  `json:"timestamp"`
	DocumentID string                 `json:"documentId"`
	States     []AwarenessStateEntry  `json:"states"`
}

// ErrorMessage reports a protocol, auth, or authorization failure.
type ErrorMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Reason    string          `json:"reason"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// PingMessage is a heartbeat probe.
type PingMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// PongMessage answers a Ping by echoing its ID.
type PongMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageId"`
}
