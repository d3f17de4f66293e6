// Package api exposes the HTTP surface: sync, inference, auth, and add-ons.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/journalsync/internal/auth"
	"github.com/org/journalsync/internal/entitlement"
	"github.com/org/journalsync/internal/inference"
	syncengine "github.com/org/journalsync/internal/sync"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string
	RateLimit  int
	RateBurst  int
}

// Server is the API server.
type Server struct {
	cfg          Config
	authSvc      *auth.Service
	engine       *syncengine.Engine
	broker       *inference.Broker
	entitlements *entitlement.Service
	httpSrv      *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(cfg Config, authSvc *auth.Service, engine *syncengine.Engine, broker *inference.Broker, entitlements *entitlement.Service) *Server {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 200
	}
	return &Server{
		cfg:          cfg,
		authSvc:      authSvc,
		engine:       engine,
		broker:       broker,
		entitlements: entitlements,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).middleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Get("/v1/inference/public-key", s.PublicKeyHandler)
		r.Post("/v1/auth/signin", s.SignInHandler)
		r.Post("/v1/auth/refresh", s.RefreshHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.authSvc))

		// Sync
		r.Post("/v1/sync/push", s.SyncPushHandler)
		r.Post("/v1/sync/pull", s.SyncPullHandler)
		r.Get("/v1/sync/status", s.SyncStatusHandler)

		// Inference
		r.Post("/v1/inference/execute", s.InferenceExecuteHandler)
		r.Get("/v1/inference/usage", s.InferenceUsageHandler)
		r.Get("/v1/inference/provider", s.InferenceProviderHandler)

		// Devices
		r.Get("/v1/auth/devices", s.DevicesHandler)
		r.Delete("/v1/auth/devices/{deviceID}", s.DeviceDeleteHandler)

		// Add-ons
		r.Get("/v1/addons/status", s.AddOnsStatusHandler)
		r.Get("/v1/addons/features", s.FeaturesHandler)
		r.Post("/v1/addons/verify-receipt", s.VerifyReceiptHandler)
	})

	return r
}

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": "1.0.0",
	})
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
