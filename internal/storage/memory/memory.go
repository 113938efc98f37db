// Package memory implements storage.Adapter entirely in process memory,
// for single-node deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/synckit-dev/hub/internal/storage"
	"github.com/synckit-dev/hub/internal/vectorclock"
)

type documentRecord struct {
	clock     vectorclock.Clock
	deltas    []*storage.DeltaEntry
	seenIDs   map[string]struct{}
	createdAt time.Time
	updatedAt time.Time
}

// Adapter is an in-memory storage.Adapter. Zero value is not usable;
// construct with New.
type Adapter struct {
	mu        sync.RWMutex
	connected bool

	documents map[string]*documentRecord
	sessions  map[string]*storage.SessionEntry
}

// New returns a ready-to-connect in-memory adapter.
func New() *Adapter {
	return &Adapter{
		documents: make(map[string]*documentRecord),
		sessions:  make(map[string]*storage.SessionEntry),
	}
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	if !a.IsConnected() {
		return storage.ErrNotConnected
	}
	return nil
}

func (a *Adapter) GetOrCreateDocument(ctx context.Context, documentID string) (*storage.DocumentState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.documents[documentID]
	if !ok {
		now := time.Now()
		rec = &documentRecord{
			clock:     vectorclock.New(),
			seenIDs:   make(map[string]struct{}),
			createdAt: now,
			updatedAt: now,
		}
		a.documents[documentID] = rec
	}

	return &storage.DocumentState{
		ID:        documentID,
		Clock:     rec.clock.Clone(),
		CreatedAt: rec.createdAt,
		UpdatedAt: rec.updatedAt,
	}, nil
}

func (a *Adapter) GetDocumentClock(ctx context.Context, documentID string) (vectorclock.Clock, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.documents[documentID]
	if !ok {
		return vectorclock.New(), nil
	}
	return rec.clock.Clone(), nil
}

func (a *Adapter) AppendDelta(ctx context.Context, delta *storage.DeltaEntry) (*storage.DeltaEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.documents[delta.DocumentID]
	if !ok {
		now := time.Now()
		rec = &documentRecord{
			clock:     vectorclock.New(),
			seenIDs:   make(map[string]struct{}),
			createdAt: now,
			updatedAt: now,
		}
		a.documents[delta.DocumentID] = rec
	}

	if _, seen := rec.seenIDs[delta.ID]; seen {
		for _, existing := range rec.deltas {
			if existing.ID == delta.ID {
				return existing, nil
			}
		}
	}

	stored := *delta
	stored.CreatedAt = time.Now()
	rec.deltas = append(rec.deltas, &stored)
	rec.seenIDs[delta.ID] = struct{}{}
	rec.clock = vectorclock.Merge(rec.clock, delta.Clock)
	rec.updatedAt = stored.CreatedAt

	return &stored, nil
}

func (a *Adapter) GetDeltasSince(ctx context.Context, documentID string, since vectorclock.Clock) ([]*storage.DeltaEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.documents[documentID]
	if !ok {
		return nil, nil
	}

	out := make([]*storage.DeltaEntry, 0, len(rec.deltas))
	for _, d := range rec.deltas {
		if since.HappensBefore(d.Clock) || since.Concurrent(d.Clock) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *Adapter) SaveSession(ctx context.Context, session *storage.SessionEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored := *session
	a.sessions[session.ID] = &stored
	return nil
}

func (a *Adapter) UpdateSessionLastSeen(ctx context.Context, sessionID string, lastSeen time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	s.LastSeen = lastSeen
	return nil
}

func (a *Adapter) GetSessionsByUser(ctx context.Context, userID string) ([]*storage.SessionEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*storage.SessionEntry
	for _, s := range a.sessions {
		if s.UserID == userID {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) DeleteSessionsOlderThan(ctx context.Context, age time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-age)
	deleted := 0
	for id, s := range a.sessions {
		if s.LastSeen.Before(cutoff) {
			delete(a.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (a *Adapter) Cleanup(ctx context.Context, options storage.CleanupOptions) (*storage.CleanupResult, error) {
	result := &storage.CleanupResult{}

	if options.SessionsOlderThan > 0 {
		n, err := a.DeleteSessionsOlderThan(ctx, options.SessionsOlderThan)
		if err != nil {
			return nil, err
		}
		result.SessionsDeleted = n
	}

	if options.DeltasOlderThan > 0 {
		a.mu.Lock()
		cutoff := time.Now().Add(-options.DeltasOlderThan)
		for _, rec := range a.documents {
			kept := rec.deltas[:0]
			for _, d := range rec.deltas {
				if d.CreatedAt.Before(cutoff) {
					delete(rec.seenIDs, d.ID)
					result.DeltasDeleted++
					continue
				}
				kept = append(kept, d)
			}
			rec.deltas = kept
		}
		a.mu.Unlock()
	}

	return result, nil
}
