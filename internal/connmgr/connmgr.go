// Package connmgr is the registry of live connections: which document
// each one is subscribed to, and the fan-out primitive that sends a
// message to every subscriber of a document but one.
package connmgr

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/synckit-dev/hub/internal/protocol"
	"github.com/synckit-dev/hub/internal/wsconn"
)

// ErrAtCapacity is returned by Register once maxConnections live
// connections are already registered.
var ErrAtCapacity = errors.New("connmgr: at capacity")

// Manager owns the connectionID→Connection index and the
// documentID→set<connectionID> subscriber index.
type Manager struct {
	maxConnections int

	mu          sync.RWMutex
	connections map[string]*wsconn.Connection
	subscribers map[string]map[string]bool // documentID -> connectionID -> true
}

// New returns a Manager that rejects Register once maxConnections is
// reached. A maxConnections of 0 means unlimited.
func New(maxConnections int) *Manager {
	return &Manager{
		maxConnections: maxConnections,
		connections:    make(map[string]*wsconn.Connection),
		subscribers:    make(map[string]map[string]bool),
	}
}

// Register adds conn to the registry, or returns ErrAtCapacity if the
// node is full.
func (m *Manager) Register(conn *wsconn.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxConnections > 0 && len(m.connections) >= m.maxConnections {
		return ErrAtCapacity
	}
	m.connections[conn.ID] = conn
	return nil
}

// Unregister removes conn from both indexes.
func (m *Manager) Unregister(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.connections, connID)
	for documentID, subs := range m.subscribers {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(m.subscribers, documentID)
		}
	}
}

// Get returns the connection registered under connID, if any.
func (m *Manager) Get(connID string) (*wsconn.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[connID]
	return c, ok
}

// Count returns the number of currently registered connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// DocumentCount returns the number of distinct documents with at least
// one local subscriber.
func (m *Manager) DocumentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Subscribe adds connID to documentID's subscriber set.
func (m *Manager) Subscribe(documentID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.subscribers[documentID]
	if !ok {
		subs = make(map[string]bool)
		m.subscribers[documentID] = subs
	}
	subs[connID] = true
}

// UnsubscribeDocument removes connID from documentID's subscriber set.
func (m *Manager) UnsubscribeDocument(documentID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.subscribers[documentID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(m.subscribers, documentID)
	}
}

// BroadcastToDocument sends frame to every connection subscribed to
// documentID, except excludeConnID (pass "" to exclude none). A
// connection whose outbound queue is already full is a slow consumer:
// it is closed with 1011 slow_consumer and unregistered instead of
// blocking delivery to the rest.
func (m *Manager) BroadcastToDocument(documentID string, frame []byte, excludeConnID string) {
	m.mu.RLock()
	recipients := make([]*wsconn.Connection, 0, len(m.subscribers[documentID]))
	for connID := range m.subscribers[documentID] {
		if connID == excludeConnID {
			continue
		}
		if c, ok := m.connections[connID]; ok {
			recipients = append(recipients, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range recipients {
		if err := c.Send(frame); err == wsconn.ErrSendQueueFull {
			c.BeginClose()
			c.RequestClose(websocket.CloseInternalServerErr, protocol.ReasonSlowConsumer)
			m.Unregister(c.ID)
		}
	}
}

// CloseAll begins closing every registered connection, sending
// reason/details as an Error message before the transport closes. The
// actual teardown still runs on each connection's own write pump;
// stragglers past a drain deadline must be reaped with ForceCloseAll.
func (m *Manager) CloseAll(reason string) {
	m.mu.RLock()
	conns := make([]*wsconn.Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.SendError(reason, nil)
		c.BeginClose()
		c.RequestClose(websocket.CloseGoingAway, protocol.ReasonServerShutdown)
	}
}

// ForceCloseAll closes every still-registered connection's underlying
// socket directly, skipping the graceful close handshake, and clears
// both indexes. Used once a drain's deadline has passed and a straggler
// hasn't torn down on its own. Returns the number of connections it
// force-closed.
func (m *Manager) ForceCloseAll() int {
	m.mu.Lock()
	conns := make([]*wsconn.Connection, 0, len(m.connections))
	for id, c := range m.connections {
		conns = append(conns, c)
		delete(m.connections, id)
	}
	for documentID := range m.subscribers {
		delete(m.subscribers, documentID)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}
