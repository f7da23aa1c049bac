package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcogenualdo/auth-proxy/internal/config"
	"github.com/marcogenualdo/auth-proxy/internal/login"
	"github.com/marcogenualdo/auth-proxy/internal/metrics"
	"github.com/marcogenualdo/auth-proxy/internal/proxy"
	"github.com/marcogenualdo/auth-proxy/internal/session"
	"github.com/marcogenualdo/auth-proxy/internal/tokens"
)

// Deps are the components the HTTP surface is built from.
type Deps struct {
	Store   *session.Store
	Flow    *login.Flow
	Logout  *session.LogoutCoordinator
	Tokens  *tokens.Manager
	Obo     *tokens.OboCache
	AppIDs  proxy.AppIdentifiers
	Metrics *metrics.Metrics
}

type Server struct {
	cfg        *config.Config
	deps       Deps
	logger     *slog.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

func (s *Server) Start() error {
	router, err := s.Handler()
	if err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	// No WriteTimeout: proxied responses may stream for longer than any fixed bound.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"host", s.cfg.Server.Host,
			"port", s.cfg.Server.Port,
			"application_url", s.cfg.Server.ApplicationURL,
			"login_provider", s.cfg.Auth.LoginProvider,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig)
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	if err := s.deps.Store.Close(); err != nil {
		s.logger.Error("error closing session store", "error", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}
