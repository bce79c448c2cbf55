package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/core/registry"
	apperrors "github.com/nmdm/nmdm/internal/errors"
	"github.com/nmdm/nmdm/internal/observability"
	"github.com/nmdm/nmdm/internal/server/handlers"
	servermw "github.com/nmdm/nmdm/internal/server/middleware"
)

// Server is the HTTP control plane for a registry of pairs.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	cfg      config.Config
	registry *registry.Registry
	health   *handlers.HealthManager
}

// New creates a new HTTP server instance serving reg.
func New(cfg config.Config, reg *registry.Registry) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:   r,
		cfg:      cfg,
		registry: reg,
		health:   handlers.NewHealthManager(handlers.AppVersion),
	}
	s.health.RegisterChecker("registry", reg)
	s.server = &http.Server{
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	observability.Logger().Info("Starting HTTP server",
		zap.String("host", s.cfg.Server.Host),
		zap.Int("port", s.cfg.Server.Port),
		zap.String("addr", ln.Addr().String()))

	err := s.server.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded by
// the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.Logger().Info("Shutting down HTTP server")

	if timeout := s.cfg.Server.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the health manager so callers can register extra checks.
func (s *Server) Health() *handlers.HealthManager {
	return s.health
}
