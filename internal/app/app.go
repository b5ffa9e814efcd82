// Package app wires the store, registry, and transport layers together.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/realsync/gateway/internal/auth"
	"github.com/realsync/gateway/internal/config"
	"github.com/realsync/gateway/internal/game"
	"github.com/realsync/gateway/internal/kv"
	"github.com/realsync/gateway/internal/room"
	"github.com/realsync/gateway/internal/session"
	"github.com/realsync/gateway/internal/transport/ws"
)

// App owns the running gateway and its resources.
type App struct {
	server          *stdhttp.Server
	registry        *session.Registry
	store           kv.Store
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New connects to the store and constructs the full service graph.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	store, err := kv.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	logger.Info().Str("redis_url", cfg.RedisURL).Msg("store connected")

	registry := session.NewRegistry(cfg.HeartbeatInterval, cfg.AuthGrace, logger)
	rooms := room.NewManager(store, logger)
	sync := game.NewSynchronizer(store, logger)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	gateway := ws.NewGateway(registry, rooms, sync, verifier, cfg.MaxConnections, logger)
	server := ws.NewServer(cfg, gateway, logger)

	return &App{
		server:          server,
		registry:        registry,
		store:           store,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}, nil
}

// Run starts the heartbeat sweep and the HTTP server and blocks until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	go a.registry.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	a.log.Info().Str("addr", a.server.Addr).Msg("gateway listening")

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

func (a *App) cleanup() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
