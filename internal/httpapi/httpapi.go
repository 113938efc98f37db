// Package httpapi is the hub's HTTP surface: health/readiness probes,
// Prometheus scraping, and the WebSocket upgrade route, kept apart from
// the coordinator and connection registry it wires together so each
// can be built and tested without net/http.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/synckit-dev/hub/internal/config"
	"github.com/synckit-dev/hub/internal/coordinator"
	"github.com/synckit-dev/hub/internal/connmgr"
	"github.com/synckit-dev/hub/internal/metrics"
	"github.com/synckit-dev/hub/internal/security"
	"github.com/synckit-dev/hub/internal/storage"
	"github.com/synckit-dev/hub/internal/wsconn"
)

// Checker reports whether a dependency the readiness probe cares about
// is currently usable.
type Checker interface {
	IsConnected() bool
}

// Server is the hub's HTTP listener.
type Server struct {
	cfg     config.ServerConfig
	wsCfg   config.WebSocketConfig
	coord   *coordinator.Coordinator
	conns   *connmgr.Manager
	storage storage.Adapter
	metrics *metrics.Registry
	sm      *security.SecurityManager
	logger  *zap.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	ready bool
}

// New builds a Server. The caller still owns calling ListenAndServe
// (via Start) and Shutdown.
func New(cfg config.ServerConfig, wsCfg config.WebSocketConfig, coord *coordinator.Coordinator, conns *connmgr.Manager, store storage.Adapter, reg *metrics.Registry, sm *security.SecurityManager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		wsCfg:   wsCfg,
		coord:   coord,
		conns:   conns,
		storage: store,
		metrics: reg,
		sm:      sm,
		logger:  logger,
		ready:   true,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// SetReady flips the readiness probe's verdict; lifecycle flips it
// false as soon as a drain begins so load balancers stop routing new
// connections before existing ones are closed.
func (s *Server) SetReady(ready bool) {
	s.ready = ready
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.cfg.Environment != "production" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}

// Handler builds the routed, CORS-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc(s.wsPath(), s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return s.corsMiddleware(mux)
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to finish, or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "SyncKit Hub",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":      "/health",
			"healthLive":  "/health/live",
			"healthReady": "/health/ready",
			"metrics":     "/metrics",
			"ws":          s.wsPath(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"connections": s.connCount(),
		"documents":   s.docCount(),
	})
}

// handleLive is the liveness probe: it answers as long as the process
// is handling requests at all, independent of dependency health.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "live"})
}

// handleReady reports whether the node should receive new traffic: the
// storage adapter must be connected and the lifecycle manager must not
// have begun a drain.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	storageUp := s.storage == nil || s.storage.IsConnected()
	if !s.ready || !storageUp {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "not_ready",
			"storage": storageUp,
			"ready":   s.ready,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ready",
		"storage": storageUp,
	})
}

func (s *Server) connCount() int {
	if s.conns == nil {
		return 0
	}
	return s.conns.Count()
}

func (s *Server) docCount() int {
	if s.conns == nil {
		return 0
	}
	return s.conns.DocumentCount()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPFrom(r)

	if s.sm != nil && !s.sm.ConnectionLimiter.CanConnect(clientIP) {
		http.Error(w, "too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	if s.sm != nil {
		s.sm.ConnectionLimiter.AddConnection(clientIP)
	}

	conn := wsconn.New(generateConnID(), ws, clientIP)
	conn.SetHeartbeat(s.wsCfg.HeartbeatInterval, s.wsCfg.HeartbeatTimeout)
	if s.wsCfg.AuthTimeout > 0 {
		conn.SetAuthTimeout(s.wsCfg.AuthTimeout)
	}

	if err := s.conns.Register(conn); err != nil {
		s.logger.Warn("connection rejected", zap.Error(err))
		conn.SendError("server_at_capacity", nil)
		conn.Close()
		if s.sm != nil {
			s.sm.ConnectionLimiter.RemoveConnection(clientIP)
		}
		return
	}
	s.coord.RefreshConnectionGauge()

	go conn.WritePump()
	conn.ReadPump(
		func(frame []byte) {
			s.coord.HandleMessage(r.Context(), conn, frame)
		},
		func() {
			s.coord.HandleDisconnect(context.Background(), conn)
			s.coord.RefreshConnectionGauge()
			if s.sm != nil {
				s.sm.ConnectionLimiter.RemoveConnection(clientIP)
				s.sm.ConnectionRateLimiter.RemoveConnection(conn.ID)
			}
		},
	)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", corsOrigin(s.cfg.CORSOrigins))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsOrigin(allowed []string) string {
	if len(allowed) == 0 {
		return "*"
	}
	return allowed[0]
}

func clientIPFrom(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx != -1 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

func generateConnID() string {
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
