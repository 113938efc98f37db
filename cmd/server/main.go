package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/synckit-dev/hub/internal/awareness"
	"github.com/synckit-dev/hub/internal/config"
	"github.com/synckit-dev/hub/internal/connmgr"
	"github.com/synckit-dev/hub/internal/coordinator"
	"github.com/synckit-dev/hub/internal/httpapi"
	"github.com/synckit-dev/hub/internal/lifecycle"
	"github.com/synckit-dev/hub/internal/logging"
	"github.com/synckit-dev/hub/internal/metrics"
	"github.com/synckit-dev/hub/internal/pubsub"
	"github.com/synckit-dev/hub/internal/pubsub/natspubsub"
	"github.com/synckit-dev/hub/internal/pubsub/noop"
	"github.com/synckit-dev/hub/internal/pubsub/redispubsub"
	"github.com/synckit-dev/hub/internal/security"
	"github.com/synckit-dev/hub/internal/storage"
	"github.com/synckit-dev/hub/internal/storage/memory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	store, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}

	bus, err := newPubSub(cfg.PubSub, logger)
	if err != nil {
		logger.Fatal("pubsub init failed", zap.Error(err))
	}
	if cfg.PubSub.Enabled {
		if err := bus.Connect(ctx); err != nil {
			logger.Fatal("pubsub connect failed", zap.Error(err))
		}
	}

	aware := awareness.NewStore()
	conns := connmgr.New(cfg.WebSocket.MaxConnections)
	reg := metrics.NewRegistry()
	sm := security.NewSecurityManager()

	coord := coordinator.New(coordinator.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		JWTIssuer:     cfg.Auth.JWTIssuer,
		JWTAudience:   cfg.Auth.JWTAudience,
		APIKeys:       cfg.Auth.APIKeys,
		AuthRequired:  cfg.Auth.Required,
		ChannelPrefix: cfg.PubSub.ChannelPrefix,
		AwarenessTTL:  cfg.Awareness.TTL,
	}, store, bus, aware, conns, reg, sm, logger)

	httpSrv := httpapi.New(cfg.Server, cfg.WebSocket, coord, conns, store, reg, sm, logger)

	lc := lifecycle.New(lifecycle.Config{
		DrainDeadline:    cfg.Shutdown.DrainDeadline,
		AwarenessTTL:     cfg.Awareness.TTL,
		EvictionInterval: cfg.Awareness.EvictionInterval,
	}, coord, httpSrv, store, bus, aware, sm, logger)
	lc.StartBackground()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("hub listening", zap.String("addr", addr))
		if err := httpSrv.Start(addr); err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	lc.WaitForSignal()
	logger.Info("shutdown signal received, draining")

	if err := lc.Shutdown(ctx); err != nil {
		logger.Error("shutdown did not complete cleanly", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("hub shut down cleanly")
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.Adapter, error) {
	switch cfg.Provider {
	case "postgres":
		adapter := storage.NewPostgresAdapter(&storage.Config{
			ConnectionString:  cfg.ConnectionString,
			PoolMinConns:      cfg.PoolMinConns,
			PoolMaxConns:      cfg.PoolMaxConns,
			ConnectionTimeout: cfg.ConnectionTimeout,
		})
		if err := adapter.Connect(ctx); err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		adapter := memory.New()
		if err := adapter.Connect(ctx); err != nil {
			return nil, err
		}
		return adapter, nil
	}
}

func newPubSub(cfg config.PubSubConfig, logger *zap.Logger) (pubsub.Bus, error) {
	if !cfg.Enabled {
		return noop.New(), nil
	}
	switch cfg.Provider {
	case "redis":
		return redispubsub.New(&redispubsub.Config{URL: cfg.ConnectionString})
	case "nats":
		return natspubsub.New(&natspubsub.Config{URL: cfg.ConnectionString}, logger)
	default:
		return noop.New(), nil
	}
}
