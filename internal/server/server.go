// Package server exposes the HTTP API: product analysis, profit projection,
// comparison, alerts, the sync queue, and system monitoring.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	alertshandlers "github.com/flipwatch/engine/internal/modules/alerts/handlers"
	analysishandlers "github.com/flipwatch/engine/internal/modules/analysis/handlers"
	profithandlers "github.com/flipwatch/engine/internal/modules/profit/handlers"
	rankinghandlers "github.com/flipwatch/engine/internal/modules/ranking/handlers"
	synchandlers "github.com/flipwatch/engine/internal/modules/syncsched/handlers"
)

// Config holds server configuration
type Config struct {
	Port    int
	Log     zerolog.Logger
	DevMode bool

	Analysis *analysishandlers.Handler
	Profit   *profithandlers.Handler
	Ranking  *rankinghandlers.Handler
	Alerts   *alertshandlers.Handler
	Sync     *synchandlers.Handler
	System   *SystemHandlers
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	port   int
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		port:   cfg.Port,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(cfg Config) {
	if cfg.System != nil {
		s.router.Get("/api/health", cfg.System.HandleHealth)
		s.router.Route("/api/system", func(r chi.Router) {
			r.Get("/status", cfg.System.HandleSystemStatus)
			r.Get("/jobs", cfg.System.HandleJobsStatus)
			r.Post("/jobs/sync-cycle", cfg.System.HandleTriggerSyncCycle)
			r.Post("/jobs/maintenance", cfg.System.HandleTriggerMaintenance)
		})
	}

	// Module handlers register their own full paths.
	if cfg.Analysis != nil {
		cfg.Analysis.RegisterRoutes(s.router)
	}
	if cfg.Profit != nil {
		cfg.Profit.RegisterRoutes(s.router)
	}
	if cfg.Ranking != nil {
		cfg.Ranking.RegisterRoutes(s.router)
	}
	if cfg.Alerts != nil {
		cfg.Alerts.RegisterRoutes(s.router)
	}
	if cfg.Sync != nil {
		cfg.Sync.RegisterRoutes(s.router)
	}
}

// Router returns the underlying router, used by tests to drive requests
// through the full middleware stack.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
