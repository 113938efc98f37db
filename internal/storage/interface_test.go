package storage

import (
	"testing"
	"time"

	"github.com/synckit-dev/hub/internal/vectorclock"
)

// --- Data Structures ---

func TestDocumentState_Creation(t *testing.T) {
	now := time.Now()
	doc := DocumentState{
		ID:        "doc-1",
		Clock:     vectorclock.Clock{"client-a": 3},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if doc.ID != "doc-1" {
		t.Errorf("ID = %q, want %q", doc.ID, "doc-1")
	}
	if doc.Clock.Get("client-a") != 3 {
		t.Errorf("Clock.Get(client-a) = %d, want 3", doc.Clock.Get("client-a"))
	}
}

func TestDeltaEntry_Creation(t *testing.T) {
	delta := DeltaEntry{
		ID:         "delta-1",
		DocumentID: "doc-1",
		ClientID:   "client-a",
		Delta:      []byte(`{"op":"set","path":"users.name","value":"Alice"}`),
		Clock:      vectorclock.Clock{"client-a": 5},
		CreatedAt:  time.Now(),
	}

	if delta.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want %q", delta.DocumentID, "doc-1")
	}
	if delta.Clock.Get("client-a") != 5 {
		t.Errorf("Clock.Get(client-a) = %d, want 5", delta.Clock.Get("client-a"))
	}
	if len(delta.Delta) == 0 {
		t.Error("expected non-empty delta payload")
	}
}

func TestSessionEntry_Creation(t *testing.T) {
	now := time.Now()
	session := SessionEntry{
		ID:          "session-1",
		UserID:      "user-1",
		ClientID:    "client-a",
		ConnectedAt: now,
		LastSeen:    now,
	}

	if session.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", session.UserID, "user-1")
	}
	if session.ClientID != "client-a" {
		t.Errorf("ClientID = %q, want %q", session.ClientID, "client-a")
	}
}

// --- CleanupOptions ---

func TestCleanupOptions_Defaults(t *testing.T) {
	opts := CleanupOptions{}

	if opts.SessionsOlderThan != 0 {
		t.Errorf("Default SessionsOlderThan = %v, want 0", opts.SessionsOlderThan)
	}
	if opts.DeltasOlderThan != 0 {
		t.Errorf("Default DeltasOlderThan = %v, want 0", opts.DeltasOlderThan)
	}
}

func TestCleanupOptions_Custom(t *testing.T) {
	opts := CleanupOptions{
		SessionsOlderThan: 24 * time.Hour,
		DeltasOlderThan:   30 * 24 * time.Hour,
	}

	if opts.SessionsOlderThan != 24*time.Hour {
		t.Errorf("SessionsOlderThan = %v, want 24h", opts.SessionsOlderThan)
	}
}

func TestCleanupResult(t *testing.T) {
	result := CleanupResult{
		SessionsDeleted: 5,
		DeltasDeleted:   100,
	}

	total := result.SessionsDeleted + result.DeltasDeleted
	if total != 105 {
		t.Errorf("total deleted = %d, want 105", total)
	}
}

// --- Config ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PoolMinConns != 2 {
		t.Errorf("PoolMinConns = %d, want 2", cfg.PoolMinConns)
	}
	if cfg.PoolMaxConns != 10 {
		t.Errorf("PoolMaxConns = %d, want 10", cfg.PoolMaxConns)
	}
	if cfg.ConnectionTimeout != 5*time.Second {
		t.Errorf("ConnectionTimeout = %v, want 5s", cfg.ConnectionTimeout)
	}
}

func TestConfig_Custom(t *testing.T) {
	cfg := &Config{
		ConnectionString:  "postgres://localhost:5432/synckit",
		PoolMinConns:      5,
		PoolMaxConns:      20,
		ConnectionTimeout: 10 * time.Second,
	}

	if cfg.ConnectionString != "postgres://localhost:5432/synckit" {
		t.Error("ConnectionString mismatch")
	}
	if cfg.PoolMaxConns != 20 {
		t.Errorf("PoolMaxConns = %d, want 20", cfg.PoolMaxConns)
	}
}
