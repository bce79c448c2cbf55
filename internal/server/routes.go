package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/appid"
	"github.com/nmdm/nmdm/internal/observability"
	"github.com/nmdm/nmdm/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	if s.cfg.Health.Enabled {
		s.router.Get("/health", s.health.HealthHandler)
		s.router.Get("/health/live", s.health.LivenessHandler)
		s.router.Get("/health/ready", s.health.ReadinessHandler)
		s.router.Get("/health/startup", s.health.StartupHandler)
	}

	s.router.Get("/version", handlers.VersionHandler)

	if s.cfg.Metrics.Enabled {
		s.router.Get("/metrics", MetricsHandler)
	}

	s.router.Route("/v1", handlers.NewAPI(s.registry).Routes)

	if s.cfg.Debug.PprofEnabled {
		s.router.Mount("/debug", middleware.Profiler())
		observability.Logger().Warn("pprof endpoints enabled at /debug/pprof")
	}

	// Admin signal endpoint (optional, requires NMDM_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	envVar := appid.Get().Prefix() + "ADMIN_TOKEN"
	adminToken := os.Getenv(envVar)
	logger := observability.Logger()

	if adminToken == "" {
		logger.Debug("Admin signal endpoint disabled (no " + envVar + " set)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10, // requests per minute
		RateBurst: 5,
		Manager:   nil, // default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("auth", "bearer token"),
		zap.String("rate_limit", "10/min, burst 5"))
	logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
