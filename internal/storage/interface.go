// Package storage provides the persistence adapters a hub node uses for
// documents, their delta logs, and connection sessions.
package storage

import (
	"context"
	"time"

	"github.com/synckit-dev/hub/internal/vectorclock"
)

// DocumentState is the durable record for one collaborative document:
// its vector clock and bookkeeping timestamps. The CRDT payload itself
// lives in the delta log, not here.
type DocumentState struct {
	ID        string            `json:"id"`
	Clock     vectorclock.Clock `json:"clock"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// DeltaEntry is one opaque CRDT delta appended to a document's log.
// ID is the idempotency key: appending the same ID twice must not
// duplicate the entry.
type DeltaEntry struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	ClientID   string            `json:"clientId"`
	Delta      []byte            `json:"delta"`
	Clock      vectorclock.Clock `json:"clock"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// SessionEntry tracks one authenticated connection for presence and
// reconnect bookkeeping.
type SessionEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ClientID    string    `json:"clientId"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// CleanupOptions bounds a maintenance sweep.
type CleanupOptions struct {
	SessionsOlderThan time.Duration
	DeltasOlderThan   time.Duration
}

// CleanupResult reports what a maintenance sweep removed.
type CleanupResult struct {
	SessionsDeleted int `json:"sessionsDeleted"`
	DeltasDeleted   int `json:"deltasDeleted"`
}

// Adapter is the persistence boundary the sync coordinator depends on.
// Exactly one of the memory or postgres packages implements it per
// running node, selected by configuration.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	HealthCheck(ctx context.Context) error

	// GetOrCreateDocument returns the document's current state,
	// creating an empty one (clock {}) if it does not yet exist.
	GetOrCreateDocument(ctx context.Context, documentID string) (*DocumentState, error)

	// GetDocumentClock returns the document's current vector clock,
	// or an empty clock if the document does not exist.
	GetDocumentClock(ctx context.Context, documentID string) (vectorclock.Clock, error)

	// AppendDelta stores delta and advances the document's clock to
	// the merge of its current clock with delta.Clock. Appending an
	// ID already on record is a no-op that returns the existing entry.
	AppendDelta(ctx context.Context, delta *DeltaEntry) (*DeltaEntry, error)

	// GetDeltasSince returns, in append order, every delta the caller
	// has not observed: entries whose clock is not already
	// happens-before-or-equal to since.
	GetDeltasSince(ctx context.Context, documentID string, since vectorclock.Clock) ([]*DeltaEntry, error)

	SaveSession(ctx context.Context, session *SessionEntry) error
	UpdateSessionLastSeen(ctx context.Context, sessionID string, lastSeen time.Time) error
	GetSessionsByUser(ctx context.Context, userID string) ([]*SessionEntry, error)
	DeleteSessionsOlderThan(ctx context.Context, age time.Duration) (int, error)

	Cleanup(ctx context.Context, options CleanupOptions) (*CleanupResult, error)
}

// Config holds connection parameters common to every adapter.
type Config struct {
	ConnectionString  string
	PoolMinConns      int32
	PoolMaxConns      int32
	ConnectionTimeout time.Duration
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() *Config {
	return &Config{
		PoolMinConns:      2,
		PoolMaxConns:      10,
		ConnectionTimeout: 5 * time.Second,
	}
}
