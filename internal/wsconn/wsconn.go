// Package wsconn owns a single WebSocket connection: its auth state
// machine, heartbeat, and outbound serialization point.
package wsconn

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/synckit-dev/hub/internal/auth"
	"github.com/synckit-dev/hub/internal/protocol"
)

// State is a connection's position in the auth lifecycle.
type State int

const (
	Open State = iota
	Authenticating
	Authenticated
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrSendQueueFull is returned by Send when the outbound buffer is
// full, signaling a slow consumer.
var ErrSendQueueFull = errors.New("wsconn: send queue is full")

// ErrClosed is returned by Send/SendError on a Closing or Closed
// connection.
var ErrClosed = errors.New("wsconn: connection is closing or closed")

const (
	writeWait                = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 60 * time.Second
	defaultAuthTimeout       = 10 * time.Second
	sendBufferSize           = 256
)

// Connection wraps one upgraded WebSocket with the bookkeeping the
// sync coordinator needs: bound identity, subscription set, and a
// single-writer outbound queue.
type Connection struct {
	ID       string
	ClientIP string

	ws   *websocket.Conn
	send chan []byte

	mu                     sync.Mutex
	state                  State
	principal              *auth.Principal
	clientID               string
	subscriptions          map[string]bool
	awarenessSubscriptions map[string]bool
	lastActivity           time.Time
	openedAt               time.Time

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	authTimeout       time.Duration

	closeReq chan closeRequest
}

// closeRequest asks the write pump to send a close control frame with a
// specific code/reason instead of the generic teardown path.
type closeRequest struct {
	code   int
	reason string
}

// New wraps ws in an Open Connection.
func New(id string, ws *websocket.Conn, clientIP string) *Connection {
	now := time.Now()
	return &Connection{
		ID:                     id,
		ClientIP:               clientIP,
		ws:                     ws,
		send:                   make(chan []byte, sendBufferSize),
		state:                  Open,
		subscriptions:          make(map[string]bool),
		awarenessSubscriptions: make(map[string]bool),
		lastActivity:           now,
		openedAt:               now,
		heartbeatInterval:      defaultHeartbeatInterval,
		heartbeatTimeout:       defaultHeartbeatTimeout,
		authTimeout:            defaultAuthTimeout,
		closeReq:               make(chan closeRequest, 1),
	}
}

// RequestClose asks the write pump to close the connection with the
// given WebSocket close code and reason, bypassing the outbound queue
// (which may itself be the reason the caller wants to close). Safe to
// call from any goroutine; a pending request is not overwritten.
func (c *Connection) RequestClose(code int, reason string) {
	select {
	case c.closeReq <- closeRequest{code: code, reason: reason}:
	default:
	}
}

// SetHeartbeat overrides the default heartbeat interval/timeout; call
// before starting the pumps.
func (c *Connection) SetHeartbeat(interval, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeatInterval = interval
	c.heartbeatTimeout = timeout
}

// SetAuthTimeout overrides how long an unauthenticated connection is
// allowed to stay open; call before starting the pumps.
func (c *Connection) SetAuthTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authTimeout = timeout
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticate binds principal and clientID to the connection and
// transitions it to Authenticated. Only the first call succeeds.
func (c *Connection) Authenticate(principal *auth.Principal, clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open && c.state != Authenticating {
		return false
	}
	c.principal = principal
	c.clientID = clientID
	c.state = Authenticated
	return true
}

// Principal returns the bound principal, or nil if not yet
// authenticated.
func (c *Connection) Principal() *auth.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

// ClientID returns the client-supplied ID bound at Auth time.
func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Subscribe records documentID in the connection's subscription set.
func (c *Connection) Subscribe(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[documentID] = true
}

// Unsubscribe removes documentID from the connection's subscription
// set.
func (c *Connection) Unsubscribe(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, documentID)
}

// IsSubscribed reports whether the connection is subscribed to
// documentID.
func (c *Connection) IsSubscribed(documentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[documentID]
}

// Subscriptions returns a snapshot of every subscribed document ID.
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		out = append(out, id)
	}
	return out
}

// SubscribeAwareness/UnsubscribeAwareness track the awareness channel
// subscription set separately from document subscriptions.
func (c *Connection) SubscribeAwareness(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awarenessSubscriptions[documentID] = true
}

func (c *Connection) UnsubscribeAwareness(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.awarenessSubscriptions, documentID)
}

// Touch refreshes lastActivity; called on every inbound frame.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = now
}

func (c *Connection) idleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

// AllowedInState reports whether messageType may be processed given
// the connection's current state.
func (c *Connection) AllowedInState(messageType string) bool {
	switch c.State() {
	case Open, Authenticating:
		return messageType == protocol.TypeAuth || messageType == protocol.TypePing
	case Authenticated:
		return true
	default:
		return false
	}
}

// Send enqueues an already-encoded frame for the write pump. Returns
// ErrSendQueueFull if the buffer is full (a slow consumer) and
// ErrClosed if the connection is shutting down.
func (c *Connection) Send(frame []byte) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == Closing || state == Closed {
		return ErrClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendJSON encodes v and enqueues it.
func (c *Connection) SendJSON(v interface{}) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// SendError enqueues an Error-type message with the given reason and
// optional details.
func (c *Connection) SendError(reason string, details json.RawMessage) error {
	return c.SendJSON(protocol.ErrorMessage{
		Type:      protocol.TypeError,
		Timestamp: time.Now().UnixMilli(),
		Reason:    reason,
		Details:   details,
	})
}

// BeginClose transitions the connection to Closing, after which Send
// and SendError are refused. Safe to call more than once.
func (c *Connection) BeginClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed {
		c.state = Closing
	}
}

// Close transitions to Closed and releases the underlying socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// ReadPump blocks reading frames off the socket and invoking onMessage
// for each one until the socket closes or ctx-equivalent stop fires.
// onMessage receives the raw frame; decoding and dispatch are the
// coordinator's job.
func (c *Connection) ReadPump(onMessage func(frame []byte), onClose func()) {
	defer func() {
		c.Close()
		if onClose != nil {
			onClose()
		}
	}()

	c.ws.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.Touch(time.Now())
		c.ws.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.Touch(time.Now())
		onMessage(frame)
	}
}

// isAuthenticated reports whether the connection has left the Open/
// Authenticating states.
func (c *Connection) isAuthenticated() bool {
	s := c.State()
	return s != Open && s != Authenticating
}

// WritePump drains the outbound queue to the socket and sends periodic
// heartbeat pings. It closes the connection if the peer goes silent
// longer than heartbeatTimeout, or if it never authenticates within
// authTimeout of the connection opening.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(c.heartbeatInterval)
	authTimer := time.NewTimer(c.authTimeout)
	defer func() {
		ticker.Stop()
		authTimer.Stop()
		c.Close()
	}()

	for {
		select {
		case req := <-c.closeReq:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason))
			return

		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-authTimer.C:
			if c.isAuthenticated() {
				continue
			}
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.ReasonAuthTimeout))
			return

		case now := <-ticker.C:
			if c.idleFor(now) > c.heartbeatTimeout {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, protocol.ReasonHeartbeatTimeout))
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
