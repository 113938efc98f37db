// Package coordinator is the sync hub's core state machine: it turns
// decoded wire messages into storage, pub/sub, and awareness effects,
// then fans results back out to connmgr subscribers. Documents are
// append-only delta logs keyed by a vector clock, not an in-memory
// merged blob.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synckit-dev/hub/internal/auth"
	"github.com/synckit-dev/hub/internal/awareness"
	"github.com/synckit-dev/hub/internal/connmgr"
	"github.com/synckit-dev/hub/internal/metrics"
	"github.com/synckit-dev/hub/internal/protocol"
	"github.com/synckit-dev/hub/internal/pubsub"
	"github.com/synckit-dev/hub/internal/security"
	"github.com/synckit-dev/hub/internal/storage"
	"github.com/synckit-dev/hub/internal/wsconn"
)

// Sentinel reasons surfaced to the wire as error.reason; the rest of
// the taxonomy (permission_denied, not_subscribed, ...) is borrowed
// directly from protocol's Reason* constants.
var (
	ErrCausalityViolation = errors.New("coordinator: causality violation")
	ErrPermissionDenied   = errors.New("coordinator: permission denied")
	ErrNotSubscribed      = errors.New("coordinator: not subscribed")
)

// wireReason maps a coordinator sentinel error to its wire-protocol
// reason string. Unrecognized errors fall back to internal_error.
func wireReason(err error) string {
	switch {
	case errors.Is(err, ErrCausalityViolation):
		return protocol.ReasonCausalityViolation
	case errors.Is(err, ErrPermissionDenied):
		return protocol.ReasonPermissionDenied
	case errors.Is(err, ErrNotSubscribed):
		return protocol.ReasonNotSubscribed
	default:
		return protocol.ReasonInternalError
	}
}

// checkDeltaPreconditions enforces that a delta's sender may write the
// document and has an active subscription to it (required before a
// prior Subscribe before Delta is accepted).
func (c *Coordinator) checkDeltaPreconditions(conn *wsconn.Connection, documentID string) error {
	if !conn.Principal().CanWrite(documentID) {
		return ErrPermissionDenied
	}
	if !conn.IsSubscribed(documentID) {
		return ErrNotSubscribed
	}
	return nil
}

// Config tunes behavior that doesn't belong to any one collaborator.
type Config struct {
	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	APIKeys       []string
	AuthRequired  bool
	ChannelPrefix string
	AwarenessTTL  time.Duration
}

// Coordinator wires together storage, pub/sub, awareness, and the
// connection registry behind the wire protocol's message handlers.
type Coordinator struct {
	cfg Config

	storage   storage.Adapter
	bus       pubsub.Bus
	awareness *awareness.Store
	connmgr   *connmgr.Manager
	metrics   *metrics.Registry
	sm        *security.SecurityManager
	logger    *zap.Logger

	docLocks sync.Map // documentID -> *sync.Mutex
}

// New builds a Coordinator. metrics and sm may both be nil (metrics
// become no-ops, rate/document limiting is skipped).
func New(cfg Config, store storage.Adapter, bus pubsub.Bus, aware *awareness.Store, conns *connmgr.Manager, reg *metrics.Registry, sm *security.SecurityManager, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = pubsub.DefaultChannelPrefix
	}
	return &Coordinator{
		cfg:       cfg,
		storage:   store,
		bus:       bus,
		awareness: aware,
		connmgr:   conns,
		metrics:   reg,
		sm:        sm,
		logger:    logger,
	}
}

func (c *Coordinator) docLock(documentID string) *sync.Mutex {
	lock, _ := c.docLocks.LoadOrStore(documentID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// HandleMessage decodes frame and dispatches it to the matching
// handler. It never returns an error: protocol and handler failures
// are translated into a wire error message sent back to conn.
func (c *Coordinator) HandleMessage(ctx context.Context, conn *wsconn.Connection, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		c.sendDecodeError(conn, err)
		return
	}

	if !conn.AllowedInState(env.Type) {
		conn.SendError(protocol.ReasonNotAuthenticated, nil)
		return
	}

	if env.Type != protocol.TypePing && env.Type != protocol.TypePong && c.sm != nil {
		if !c.sm.ConnectionRateLimiter.CanSendMessage(conn.ID) {
			conn.SendError(protocol.ReasonRateLimited, nil)
			return
		}
		c.sm.ConnectionRateLimiter.RecordMessage(conn.ID)
	}

	switch env.Type {
	case protocol.TypePing:
		c.handlePing(conn, env)
	case protocol.TypePong:
		// lastActivity is already refreshed by ReadPump on every inbound
		// frame; a pong needs no reply.
	case protocol.TypeAuth:
		c.handleAuth(ctx, conn, env)
	case protocol.TypeSubscribe:
		c.handleSubscribe(ctx, conn, env)
	case protocol.TypeUnsubscribe:
		c.handleUnsubscribe(ctx, conn, env)
	case protocol.TypeSyncRequest:
		c.handleSyncRequest(ctx, conn, env)
	case protocol.TypeDelta:
		c.handleDelta(ctx, conn, env)
	case protocol.TypeAwarenessSubscribe:
		c.handleAwarenessSubscribe(conn, env)
	case protocol.TypeAwarenessUpdate:
		c.handleAwarenessUpdate(ctx, conn, env)
	default:
		conn.SendError(protocol.ReasonUnknownMessageType, nil)
	}
}

func (c *Coordinator) sendDecodeError(conn *wsconn.Connection, err error) {
	switch {
	case errors.Is(err, protocol.ErrFrameTooLarge):
		conn.SendError(protocol.ReasonFrameTooLarge, nil)
	case errors.Is(err, protocol.ErrUnknownType):
		conn.SendError(protocol.ReasonUnknownMessageType, nil)
	default:
		conn.SendError(protocol.ReasonInvalidFrame, nil)
	}
}

// Ping/Pong are logically intercepted before the coordinator's
// protected-state switch: it's the one message type
// allowed in every connection state, handled here with no auth check.
func (c *Coordinator) handlePing(conn *wsconn.Connection, env *protocol.Envelope) {
	conn.SendJSON(protocol.PongMessage{
		Type:      protocol.TypePong,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		MessageID: env.ID,
	})
}

func (c *Coordinator) handleAuth(ctx context.Context, conn *wsconn.Connection, env *protocol.Envelope) {
	var msg protocol.AuthMessage
	if err := env.DecodeInto(&msg); err != nil {
		conn.SendError(protocol.ReasonInvalidFrame, nil)
		return
	}

	principal, err := c.resolvePrincipal(msg)
	if err != nil {
		c.incrAuthFailure()
		conn.SendJSON(protocol.AuthErrorMessage{
			Type:      protocol.TypeAuthError,
			ID:        uuid.NewString(),
			Timestamp: time.Now().UnixMilli(),
			Reason:    protocol.ReasonAuthFailed,
		})
		return
	}

	clientID := msg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	if !conn.Authenticate(principal, clientID) {
		conn.SendJSON(protocol.AuthErrorMessage{
			Type:      protocol.TypeAuthError,
			ID:        uuid.NewString(),
			Timestamp: time.Now().UnixMilli(),
			Reason:    protocol.ReasonAuthFailed,
		})
		return
	}

	now := time.Now()
	if err := c.storage.SaveSession(ctx, &storage.SessionEntry{
		ID:          uuid.NewString(),
		UserID:      principal.UserID,
		ClientID:    clientID,
		ConnectedAt: now,
		LastSeen:    now,
	}); err != nil {
		c.logger.Error("auth: save session failed", zap.String("userId", principal.UserID), zap.Error(err))
	}

	permissions, _ := json.Marshal(principal.Permissions)
	conn.SendJSON(protocol.AuthSuccessMessage{
		Type:        protocol.TypeAuthSuccess,
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		UserID:      principal.UserID,
		Permissions: permissions,
	})
}

func (c *Coordinator) resolvePrincipal(msg protocol.AuthMessage) (*auth.Principal, error) {
	if msg.Token != "" {
		payload, err := auth.VerifyTokenWithOptions(msg.Token, c.cfg.JWTSecret, auth.VerifyOptions{
			Issuer:   c.cfg.JWTIssuer,
			Audience: c.cfg.JWTAudience,
		})
		if err != nil {
			return nil, err
		}
		return auth.PrincipalFromToken(payload), nil
	}
	if msg.APIKey != "" {
		return auth.ValidateAPIKey(msg.APIKey, c.cfg.APIKeys)
	}
	if c.cfg.AuthRequired {
		return nil, auth.ErrUnknownAPIKey
	}
	return &auth.Principal{
		UserID:      "anonymous",
		Permissions: auth.CreateUserPermissions([]string{"*"}, []string{"*"}),
	}, nil
}

func (c *Coordinator) incrAuthFailure() {
	if c.metrics != nil {
		c.metrics.AuthFailures.Inc()
	}
}

func (c *Coordinator) handleSubscribe(ctx context.Context, conn *wsconn.Connection, env *protocol.Envelope) {
	var msg protocol.SubscribeMessage
	if err := env.DecodeInto(&msg); err != nil {
		conn.SendError(protocol.ReasonInvalidFrame, nil)
		return
	}
	if ok, reason := security.ValidateDocumentID(msg.DocumentID); !ok {
		conn.SendError(reason, nil)
		return
	}
	if !conn.Principal().CanRead(msg.DocumentID) {
		conn.SendError(protocol.ReasonPermissionDenied, nil)
		return
	}

	existingClock, err := c.storage.GetDocumentClock(ctx, msg.DocumentID)
	if err != nil {
		c.logger.Error("subscribe: clock lookup failed", zap.String("documentId", msg.DocumentID), zap.Error(err))
		conn.SendError(protocol.ReasonInternalError, nil)
		return
	}
	isNewDocument := len(existingClock) == 0
	if isNewDocument && c.sm != nil {
		if ok, _ := c.sm.DocumentLimiter.CanCreateDocument(conn.ClientIP); !ok {
			conn.SendError(protocol.ReasonDocumentLimitReached, nil)
			return
		}
	}

	doc, err := c.storage.GetOrCreateDocument(ctx, msg.DocumentID)
	if err != nil {
		c.logger.Error("subscribe: storage error", zap.String("documentId", msg.DocumentID), zap.Error(err))
		conn.SendError(protocol.ReasonInternalError, nil)
		return
	}
	if isNewDocument && c.sm != nil {
		c.sm.DocumentLimiter.RecordDocument(conn.ClientIP)
	}

	deltas, err := c.storage.GetDeltasSince(ctx, msg.DocumentID, nil)
	if err != nil {
		c.logger.Error("subscribe: deltas lookup failed", zap.String("documentId", msg.DocumentID), zap.Error(err))
		conn.SendError(protocol.ReasonInternalError, nil)
		return
	}

	conn.Subscribe(msg.DocumentID)
	c.connmgr.Subscribe(msg.DocumentID, conn.ID)
	c.refreshDocumentGauge()

	conn.SendJSON(protocol.SyncResponseMessage{
		Type:       protocol.TypeSyncResponse,
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		RequestID:  env.ID,
		DocumentID: msg.DocumentID,
		State:      doc.Clock,
		Deltas:     toSyncDeltas(deltas),
	})

	c.sendAwarenessSnapshot(conn, msg.DocumentID)
}

func toSyncDeltas(entries []*storage.DeltaEntry) []protocol.SyncResponseDelta {
	out := make([]protocol.SyncResponseDelta, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.SyncResponseDelta{
			Delta:       json.RawMessage(e.Delta),
			VectorClock: e.Clock,
		})
	}
	return out
}

func (c *Coordinator) sendAwarenessSnapshot(conn *wsconn.Connection, documentID string) {
	entries := c.awareness.Get(documentID)
	states := make([]protocol.AwarenessStateEntry, 0, len(entries))
	for _, e := range entries {
		if e.State == nil {
			continue
		}
		states = append(states, protocol.AwarenessStateEntry{
			ClientID: e.ClientID,
			State:    e.State,
			Clock:    e.Clock,
		})
	}
	if len(states) == 0 {
		return
	}
	conn.SendJSON(protocol.AwarenessStateMessage{
		Type:       protocol.TypeAwarenessState,
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		DocumentID: documentID,
		States:     states,
	})
}

func (c *Coordinator) handleUnsubscribe(ctx context.Context, conn *wsconn.Connection, env *protocol.Envelope) {
	var msg protocol.UnsubscribeMessage
	if err := env.DecodeInto(&msg); err != nil {
		conn.SendError(protocol.ReasonInvalidFrame, nil)
		return
	}

	conn.Unsubscribe(msg.DocumentID)
	conn.UnsubscribeAwareness(msg.DocumentID)
	c.connmgr.UnsubscribeDocument(msg.DocumentID, conn.ID)
	c.refreshDocumentGauge()

	conn.SendJSON(protocol.AckMessage{
		Type:      protocol.TypeAck,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		MessageID: env.ID,
	})

	if clientID := conn.ClientID(); clientID != "" {
		c.leaveAwareness(ctx, msg.DocumentID, clientID, conn.ID)
	}
}

func (c *Coordinator) leaveAwareness(ctx context.Context, documentID, clientID, senderConnID string) {
	now := time.Now()
	clock := c.nextAwarenessClock(documentID, clientID)
	if !c.awareness.Leave(documentID, clientID, clock, now) {
		return
	}
	c.fanOutAwareness(ctx, documentID, clientID, nil, clock, senderConnID)
}

func (c *Coordinator) nextAwarenessClock(documentID, clientID string) uint64 {
	for _, e := range c.awareness.Get(documentID) {
		if e.ClientID == clientID {
			return e.Clock + 1
		}
	}
	return 1
}

func (c *Coordinator) handleSyncRequest(ctx context.Context, conn *wsconn.Connection, env *protocol.Envelope) {
	var msg protocol.SyncRequestMessage
	if err := env.DecodeInto(&msg); err != nil {
		conn.SendError(protocol.ReasonInvalidFrame, nil)
		return
	}
	if ok, reason := security.ValidateDocumentID(msg.DocumentID); !ok {
		conn.SendError(reason, nil)
		return
	}
	if !conn.Principal().CanRead(msg.DocumentID) {
		conn.SendError(protocol.ReasonPermissionDenied, nil)
		return
	}

	// GetDocumentClock/GetDeltasSince never create the document: a
	// sync_request for a document nobody has touched yet gets an
	// empty state back rather than materializing a row.
	clock, err := c.storage.GetDocumentClock(ctx, msg.DocumentID)
	if err != nil {
		c.logger.Error("sync_request: clock lookup failed", zap.Error(err))
		conn.SendError(protocol.ReasonInternalError, nil)
		return
	}
	deltas, err := c.storage.GetDeltasSince(ctx, msg.DocumentID, msg.VectorClock)
	if err != nil {
		c.logger.Error("sync_request: deltas lookup failed", zap.Error(err))
		conn.SendError(protocol.ReasonInternalError, nil)
		return
	}

	conn.SendJSON(protocol.SyncResponseMessage{
		Type:       protocol.TypeSyncResponse,
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		RequestID:  env.ID,
		DocumentID: msg.DocumentID,
		State:      clock,
		Deltas:     toSyncDeltas(deltas),
	})
}

func (c *Coordinator) handleDelta(ctx context.Context, conn *wsconn.Connection, env *protocol.Envelope) {
	var msg protocol.DeltaMessage
	if err := env.DecodeInto(&msg); err != nil {
		conn.SendError(protocol.ReasonInvalidFrame, nil)
		return
	}
	if err := c.checkDeltaPreconditions(conn, msg.DocumentID); err != nil {
		conn.SendError(wireReason(err), nil)
		return
	}

	clientID := conn.ClientID()

	lock := c.docLock(msg.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	docClock, err := c.storage.GetDocumentClock(ctx, msg.DocumentID)
	if err != nil {
		c.logger.Error("delta: clock lookup failed", zap.Error(err))
		conn.SendError(protocol.ReasonInternalError, nil)
		return
	}

	latestSeen := docClock.Get(clientID)
	if msg.VectorClock.Get(clientID) != latestSeen+1 {
		if c.metrics != nil {
			c.metrics.CausalityViolations.Inc()
		}
		conn.SendError(wireReason(ErrCausalityViolation), nil)
		return
	}

	entry, err := c.storage.AppendDelta(ctx, &storage.DeltaEntry{
		ID:         env.ID,
		DocumentID: msg.DocumentID,
		ClientID:   clientID,
		Delta:      msg.Delta,
		Clock:      msg.VectorClock,
	})
	if err != nil {
		c.logger.Error("delta: append failed", zap.String("documentId", msg.DocumentID), zap.Error(err))
		conn.SendError(protocol.ReasonInternalError, nil)
		return
	}
	if c.metrics != nil {
		c.metrics.DeltasAppended.Inc()
	}

	frame, err := protocol.Encode(protocol.DeltaMessage{
		Type:        protocol.TypeDelta,
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		DocumentID:  msg.DocumentID,
		Delta:       entry.Delta,
		VectorClock: entry.Clock,
	})
	if err != nil {
		c.logger.Error("delta: encode failed", zap.Error(err))
		conn.SendError(protocol.ReasonInternalError, nil)
		return
	}

	c.connmgr.BroadcastToDocument(msg.DocumentID, frame, conn.ID)
	c.publishFireAndForget(ctx, pubsub.DocumentTopic(c.cfg.ChannelPrefix, msg.DocumentID), frame)

	conn.SendJSON(protocol.AckMessage{
		Type:      protocol.TypeAck,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		MessageID: env.ID,
	})
}

func (c *Coordinator) handleAwarenessSubscribe(conn *wsconn.Connection, env *protocol.Envelope) {
	var msg protocol.AwarenessSubscribeMessage
	if err := env.DecodeInto(&msg); err != nil {
		conn.SendError(protocol.ReasonInvalidFrame, nil)
		return
	}
	if !conn.Principal().CanRead(msg.DocumentID) {
		conn.SendError(protocol.ReasonPermissionDenied, nil)
		return
	}

	conn.SubscribeAwareness(msg.DocumentID)

	entries := c.awareness.Get(msg.DocumentID)
	states := make([]protocol.AwarenessStateEntry, 0, len(entries))
	for _, e := range entries {
		if e.State == nil {
			continue
		}
		states = append(states, protocol.AwarenessStateEntry{
			ClientID: e.ClientID,
			State:    e.State,
			Clock:    e.Clock,
		})
	}

	conn.SendJSON(protocol.AwarenessStateMessage{
		Type:       protocol.TypeAwarenessState,
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		DocumentID: msg.DocumentID,
		States:     states,
	})
}

func (c *Coordinator) handleAwarenessUpdate(ctx context.Context, conn *wsconn.Connection, env *protocol.Envelope) {
	var msg protocol.AwarenessUpdateMessage
	if err := env.DecodeInto(&msg); err != nil {
		conn.SendError(protocol.ReasonInvalidFrame, nil)
		return
	}
	if !conn.Principal().CanRead(msg.DocumentID) {
		conn.SendError(protocol.ReasonPermissionDenied, nil)
		return
	}
	if msg.ClientID != conn.ClientID() {
		conn.SendError(protocol.ReasonPermissionDenied, nil)
		return
	}

	now := time.Now()
	if !c.awareness.Put(msg.DocumentID, msg.ClientID, msg.State, msg.Clock, now) {
		return // stale clock, silently dropped
	}

	c.fanOutAwareness(ctx, msg.DocumentID, msg.ClientID, msg.State, msg.Clock, conn.ID)
}

func (c *Coordinator) fanOutAwareness(ctx context.Context, documentID, clientID string, state json.RawMessage, clock uint64, senderConnID string) {
	frame, err := protocol.Encode(protocol.AwarenessStateMessage{
		Type:       protocol.TypeAwarenessState,
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		DocumentID: documentID,
		States: []protocol.AwarenessStateEntry{{
			ClientID: clientID,
			State:    state,
			Clock:    clock,
		}},
	})
	if err != nil {
		c.logger.Error("awareness: encode failed", zap.Error(err))
		return
	}

	c.connmgr.BroadcastToDocument(documentID, frame, senderConnID)
	c.publishFireAndForget(ctx, pubsub.AwarenessTopic(c.cfg.ChannelPrefix, documentID), frame)
}

// publishFireAndForget publishes frame to topic if a pub/sub bus is
// wired in. Failures are logged and swallowed: pub/sub is best-effort
// cross-node fan-out, never a precondition for local delivery.
func (c *Coordinator) publishFireAndForget(ctx context.Context, topic string, frame []byte) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, topic, frame); err != nil {
		if c.metrics != nil {
			c.metrics.PubSubPublishErrors.Inc()
		}
		c.logger.Warn("pubsub publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Coordinator) refreshDocumentGauge() {
	if c.metrics != nil {
		c.metrics.ActiveDocuments.Set(float64(c.connmgr.DocumentCount()))
	}
}

// RefreshConnectionGauge updates the active-connections gauge to
// connmgr's current count. Called by the HTTP upgrade handler after
// Register/Unregister, since those happen outside the coordinator.
func (c *Coordinator) RefreshConnectionGauge() {
	if c.metrics != nil {
		c.metrics.ActiveConnections.Set(float64(c.connmgr.Count()))
	}
}

// drainPollInterval is how often Drain checks whether every connection
// has torn down on its own.
const drainPollInterval = 25 * time.Millisecond

// Drain closes every connection registered with connmgr, giving
// clients a server_shutdown reason, and waits up to deadline for their
// write pumps to actually tear the sockets down. Any connection still
// registered once the deadline passes is force-closed. Used by
// internal/lifecycle during graceful shutdown.
func (c *Coordinator) Drain(ctx context.Context, deadline time.Duration) error {
	c.connmgr.CloseAll(protocol.ReasonServerShutdown)

	deadlineAt := time.Now().Add(deadline)
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if c.connmgr.Count() == 0 {
			return nil
		}
		if time.Now().After(deadlineAt) {
			return c.forceCloseStragglers(deadline)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.forceCloseStragglers(deadline)
			return ctx.Err()
		}
	}
}

func (c *Coordinator) forceCloseStragglers(deadline time.Duration) error {
	n := c.connmgr.ForceCloseAll()
	c.refreshDocumentGauge()
	c.RefreshConnectionGauge()
	if n == 0 {
		return nil
	}
	return fmt.Errorf("coordinator: drain exceeded %s deadline, force-closed %d stragglers", deadline, n)
}

// HandleDisconnect releases a closed connection's subscriptions and
// publishes a Leave for its awareness presence on every document it
// had subscribed to.
func (c *Coordinator) HandleDisconnect(ctx context.Context, conn *wsconn.Connection) {
	clientID := conn.ClientID()
	if clientID != "" {
		for _, documentID := range conn.Subscriptions() {
			c.leaveAwareness(ctx, documentID, clientID, conn.ID)
		}
	}
	c.connmgr.Unregister(conn.ID)
	c.refreshDocumentGauge()
}
