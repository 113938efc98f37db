// Package lifecycle owns the hub node's startup/shutdown sequence:
// starting the background eviction loop, waiting for a termination
// signal, and draining in an order that never drops a message the
// wire protocol promised to deliver, as a component the process
// entrypoint can start and stop without owning os/signal itself.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/synckit-dev/hub/internal/awareness"
	"github.com/synckit-dev/hub/internal/coordinator"
	"github.com/synckit-dev/hub/internal/pubsub"
	"github.com/synckit-dev/hub/internal/security"
	"github.com/synckit-dev/hub/internal/storage"
)

// HTTPServer is the subset of httpapi.Server the lifecycle manager
// drives, kept narrow so this package doesn't import net/http.
type HTTPServer interface {
	SetReady(ready bool)
	Shutdown(ctx context.Context) error
}

// Manager orchestrates the background eviction loop and the ordered
// shutdown sequence: stop accepting new work, drain live connections,
// then tear down storage and pub/sub.
type Manager struct {
	coord         *coordinator.Coordinator
	http          HTTPServer
	store         storage.Adapter
	bus           pubsub.Bus
	awareness     *awareness.Store
	security      *security.SecurityManager
	drainDeadline time.Duration
	awarenessTTL  time.Duration
	evictInterval time.Duration
	logger        *zap.Logger

	evictionStop chan struct{}
}

// Config tunes the drain deadline and awareness eviction cadence.
type Config struct {
	DrainDeadline     time.Duration
	AwarenessTTL      time.Duration
	EvictionInterval  time.Duration
}

// New builds a Manager. http may be nil in tests that don't exercise
// the HTTP shutdown step.
func New(cfg Config, coord *coordinator.Coordinator, httpSrv HTTPServer, store storage.Adapter, bus pubsub.Bus, aware *awareness.Store, sm *security.SecurityManager, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DrainDeadline == 0 {
		cfg.DrainDeadline = 10 * time.Second
	}
	return &Manager{
		coord:         coord,
		http:          httpSrv,
		store:         store,
		bus:           bus,
		awareness:     aware,
		security:      sm,
		drainDeadline: cfg.DrainDeadline,
		awarenessTTL:  cfg.AwarenessTTL,
		evictInterval: cfg.EvictionInterval,
		logger:        logger,
		evictionStop:  make(chan struct{}),
	}
}

// StartBackground launches the awareness eviction loop. Call once,
// before serving traffic.
func (m *Manager) StartBackground() {
	if m.awareness == nil || m.evictInterval <= 0 {
		return
	}
	go m.awareness.RunEvictionLoop(m.evictionStop, m.evictInterval, m.awarenessTTL)
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives.
func (m *Manager) WaitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// Shutdown runs the ordered drain: flip readiness false so load
// balancers stop routing new connections, stop the HTTP listener,
// drain live WebSocket connections through the coordinator, then
// disconnect storage and pub/sub. Each step gets its own slice of the
// overall drain deadline via ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.evictionStop)

	if m.security != nil {
		m.security.Dispose()
	}

	if m.http != nil {
		m.http.SetReady(false)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, m.drainDeadline)
	defer cancel()

	if m.http != nil {
		if err := m.http.Shutdown(shutdownCtx); err != nil {
			m.logger.Warn("http shutdown did not complete cleanly", zap.Error(err))
		}
	}

	if m.coord != nil {
		if err := m.coord.Drain(shutdownCtx, m.drainDeadline); err != nil {
			m.logger.Warn("connection drain did not complete cleanly", zap.Error(err))
		}
	}

	if m.bus != nil {
		if err := m.bus.Disconnect(shutdownCtx); err != nil {
			m.logger.Warn("pubsub disconnect failed", zap.Error(err))
		}
	}

	if m.store != nil {
		if err := m.store.Disconnect(shutdownCtx); err != nil {
			m.logger.Warn("storage disconnect failed", zap.Error(err))
			return err
		}
	}

	return nil
}
