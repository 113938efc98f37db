package awareness

import (
	"testing"
	"time"
)

func TestPut_AcceptsNewerClock(t *testing.T) {
	s := NewStore()
	now := time.Now()

	if !s.Put("doc-1", "alice", []byte(`{"x":1}`), 5, now) {
		t.Fatal("expected first Put to be accepted")
	}

	entries := s.Get("doc-1")
	if len(entries) != 1 || entries[0].Clock != 5 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestPut_RejectsStaleClock(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.Put("doc-1", "alice", []byte(`{"x":1}`), 5, now)
	accepted := s.Put("doc-1", "alice", []byte(`{"x":2}`), 5, now)
	if accepted {
		t.Error("expected a Put with clock == stored clock to be rejected")
	}

	entries := s.Get("doc-1")
	if string(entries[0].State) != `{"x":1}` {
		t.Errorf("state = %s, want unchanged", entries[0].State)
	}
}

func TestPut_AcceptsAdvancingClock(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.Put("doc-1", "alice", []byte(`{"x":1}`), 5, now)
	accepted := s.Put("doc-1", "alice", []byte(`{"x":2}`), 6, now)
	if !accepted {
		t.Error("expected a Put with a higher clock to be accepted")
	}

	entries := s.Get("doc-1")
	if string(entries[0].State) != `{"x":2}` {
		t.Errorf("state = %s, want updated", entries[0].State)
	}
}

func TestLeave_SetsNilState(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.Put("doc-1", "alice", []byte(`{"x":1}`), 5, now)
	s.Leave("doc-1", "alice", 6, now)

	entries := s.Get("doc-1")
	if entries[0].State != nil {
		t.Errorf("expected nil state after Leave, got %s", entries[0].State)
	}
}

func TestRemoveStale_EvictsOldEntries(t *testing.T) {
	s := NewStore()
	past := time.Now().Add(-time.Minute)

	s.Put("doc-1", "alice", []byte(`{}`), 1, past)

	removed := s.RemoveStale("doc-1", time.Now(), 30*time.Second)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if len(s.Get("doc-1")) != 0 {
		t.Error("expected entry to be gone after eviction")
	}
}

func TestRemoveStale_KeepsFreshEntries(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.Put("doc-1", "alice", []byte(`{}`), 1, now)
	removed := s.RemoveStale("doc-1", now.Add(10*time.Second), 30*time.Second)
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestGet_UnknownDocumentReturnsEmpty(t *testing.T) {
	s := NewStore()
	if len(s.Get("missing")) != 0 {
		t.Error("expected no entries for an unknown document")
	}
}

func TestRemoveStaleAll_AcrossDocuments(t *testing.T) {
	s := NewStore()
	past := time.Now().Add(-time.Minute)

	s.Put("doc-1", "alice", []byte(`{}`), 1, past)
	s.Put("doc-2", "bob", []byte(`{}`), 1, past)

	total := s.RemoveStaleAll(time.Now(), 30*time.Second)
	if total != 2 {
		t.Errorf("total removed = %d, want 2", total)
	}
}
