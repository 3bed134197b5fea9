package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/auth"
	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/realtime"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

// App coordinates the HTTP listener, WebSocket sessions and the realtime engine.
type App struct {
	cfg     config.ServerConfig
	store   storage.Store
	engine  *realtime.Engine
	hub     *Hub
	origins *originPolicy
	router  *gin.Engine
	log     *zap.Logger
}

// NewApp constructs a server instance using the provided dependencies.
func NewApp(cfg config.ServerConfig, store storage.Store, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	hub := NewHub(log.Named("hub"))

	var opts []realtime.Option
	if cfg.Socket.RequireToken {
		opts = append(opts, realtime.WithTokenVerifier(auth.NewVerifier(cfg.JWT)))
	}

	a := &App{
		cfg:     cfg,
		store:   store,
		engine:  realtime.New(store, hub, log.Named("realtime"), opts...),
		hub:     hub,
		origins: newOriginPolicy(cfg.Socket.AllowedOrigins, log),
		log:     log,
	}
	a.router = a.routes()
	return a
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.router
}

// Engine exposes the realtime engine.
func (a *App) Engine() *realtime.Engine {
	return a.engine
}

// Run serves HTTP until the context is canceled, then drains sessions and
// in-flight handlers.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", a.cfg.ListenAddr), zap.String("mode", a.cfg.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	a.log.Info("shutting down", zap.Int("sessions", a.hub.Len()))
	err := srv.Shutdown(shutdownCtx)
	a.hub.CloseAll()
	a.engine.Wait()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
