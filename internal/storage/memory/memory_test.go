package memory

import (
	"context"
	"testing"
	"time"

	"github.com/synckit-dev/hub/internal/storage"
	"github.com/synckit-dev/hub/internal/vectorclock"
)

func TestGetOrCreateDocument_CreatesEmpty(t *testing.T) {
	a := New()
	ctx := context.Background()

	doc, err := a.GetOrCreateDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetOrCreateDocument: %v", err)
	}
	if doc.ID != "doc-1" {
		t.Errorf("ID = %q, want doc-1", doc.ID)
	}
	if len(doc.Clock) != 0 {
		t.Errorf("expected empty clock, got %v", doc.Clock)
	}
}

func TestAppendDelta_AdvancesClock(t *testing.T) {
	a := New()
	ctx := context.Background()

	_, err := a.AppendDelta(ctx, &storage.DeltaEntry{
		ID:         "d1",
		DocumentID: "doc-1",
		ClientID:   "c1",
		Delta:      []byte(`{"op":"set"}`),
		Clock:      vectorclock.Clock{"c1": 1},
	})
	if err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}

	clock, err := a.GetDocumentClock(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocumentClock: %v", err)
	}
	if clock.Get("c1") != 1 {
		t.Errorf("clock[c1] = %d, want 1", clock.Get("c1"))
	}
}

func TestAppendDelta_IdempotentByID(t *testing.T) {
	a := New()
	ctx := context.Background()

	delta := &storage.DeltaEntry{
		ID:         "d1",
		DocumentID: "doc-1",
		ClientID:   "c1",
		Delta:      []byte(`{"op":"set"}`),
		Clock:      vectorclock.Clock{"c1": 1},
	}

	first, err := a.AppendDelta(ctx, delta)
	if err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}
	second, err := a.AppendDelta(ctx, delta)
	if err != nil {
		t.Fatalf("AppendDelta (repeat): %v", err)
	}
	if first.CreatedAt != second.CreatedAt {
		t.Error("repeated append with the same ID should not create a new entry")
	}

	deltas, err := a.GetDeltasSince(ctx, "doc-1", vectorclock.New())
	if err != nil {
		t.Fatalf("GetDeltasSince: %v", err)
	}
	if len(deltas) != 1 {
		t.Errorf("len(deltas) = %d, want 1", len(deltas))
	}
}

func TestGetDeltasSince_ExcludesObserved(t *testing.T) {
	a := New()
	ctx := context.Background()

	a.AppendDelta(ctx, &storage.DeltaEntry{ID: "d1", DocumentID: "doc-1", ClientID: "c1", Delta: []byte(`{}`), Clock: vectorclock.Clock{"c1": 1}})
	a.AppendDelta(ctx, &storage.DeltaEntry{ID: "d2", DocumentID: "doc-1", ClientID: "c1", Delta: []byte(`{}`), Clock: vectorclock.Clock{"c1": 2}})

	deltas, err := a.GetDeltasSince(ctx, "doc-1", vectorclock.Clock{"c1": 1})
	if err != nil {
		t.Fatalf("GetDeltasSince: %v", err)
	}
	if len(deltas) != 1 || deltas[0].ID != "d2" {
		t.Errorf("deltas = %+v, want only d2", deltas)
	}
}

func TestGetDeltasSince_UnknownDocumentReturnsEmpty(t *testing.T) {
	a := New()
	deltas, err := a.GetDeltasSince(context.Background(), "missing", vectorclock.New())
	if err != nil {
		t.Fatalf("GetDeltasSince: %v", err)
	}
	if len(deltas) != 0 {
		t.Errorf("expected no deltas, got %d", len(deltas))
	}
}

func TestSessionLifecycle(t *testing.T) {
	a := New()
	ctx := context.Background()
	now := time.Now()

	err := a.SaveSession(ctx, &storage.SessionEntry{ID: "s1", UserID: "u1", ClientID: "c1", ConnectedAt: now, LastSeen: now})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sessions, err := a.GetSessionsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSessionsByUser: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d, want 1", len(sessions))
	}

	later := now.Add(time.Minute)
	if err := a.UpdateSessionLastSeen(ctx, "s1", later); err != nil {
		t.Fatalf("UpdateSessionLastSeen: %v", err)
	}
	sessions, _ = a.GetSessionsByUser(ctx, "u1")
	if !sessions[0].LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", sessions[0].LastSeen, later)
	}
}

func TestUpdateSessionLastSeen_UnknownSession(t *testing.T) {
	a := New()
	if err := a.UpdateSessionLastSeen(context.Background(), "nope", time.Now()); err != storage.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteSessionsOlderThan(t *testing.T) {
	a := New()
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	a.SaveSession(ctx, &storage.SessionEntry{ID: "old", UserID: "u1", LastSeen: old})
	a.SaveSession(ctx, &storage.SessionEntry{ID: "fresh", UserID: "u1", LastSeen: fresh})

	n, err := a.DeleteSessionsOlderThan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("DeleteSessionsOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	sessions, _ := a.GetSessionsByUser(ctx, "u1")
	if len(sessions) != 1 || sessions[0].ID != "fresh" {
		t.Errorf("sessions after cleanup = %+v", sessions)
	}
}

func TestHealthCheck_RequiresConnect(t *testing.T) {
	a := New()
	if err := a.HealthCheck(context.Background()); err != storage.ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	a.Connect(context.Background())
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("unexpected error after connect: %v", err)
	}
}

func TestCleanup_RemovesOldDeltas(t *testing.T) {
	a := New()
	ctx := context.Background()

	a.AppendDelta(ctx, &storage.DeltaEntry{ID: "d1", DocumentID: "doc-1", ClientID: "c1", Delta: []byte(`{}`), Clock: vectorclock.Clock{"c1": 1}})

	rec := a.documents["doc-1"]
	rec.deltas[0].CreatedAt = time.Now().Add(-48 * time.Hour)

	result, err := a.Cleanup(ctx, storage.CleanupOptions{DeltasOlderThan: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.DeltasDeleted != 1 {
		t.Errorf("DeltasDeleted = %d, want 1", result.DeltasDeleted)
	}
}
