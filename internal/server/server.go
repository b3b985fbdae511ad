// Package server provides the HTTP ops surface for marketcore.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/marketcore/internal/access"
	"github.com/aristath/marketcore/internal/di"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	Container *di.Container
	// StopTimeout bounds POST /api/workers/{name}/stop
	StopTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	port        int
	container   *di.Container
	stopTimeout time.Duration
	started     time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		port:        cfg.Port,
		container:   cfg.Container,
		stopTimeout: cfg.StopTimeout,
		started:     time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", access.RoleHeader},
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
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system", s.handleSystemStats)
		r.Get("/breakers", s.handleBreakers)
		r.Get("/cache", s.handleCacheStats)

		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Get("/{name}", s.handleGetWorker)
			r.Group(func(r chi.Router) {
				r.Use(access.Require(access.ActionWorkerControl))
				r.Post("/{name}/start", s.handleStartWorker)
				r.Post("/{name}/stop", s.handleStopWorker)
				r.Post("/{name}/run", s.handleRunWorker)
			})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.With(access.Require(access.ActionAdmin)).Post("/{name}/run", s.handleRunJob)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleListOrders)
			r.Get("/counts", s.handleOrderCounts)
			r.Get("/{id}", s.handleGetOrder)
			r.With(access.Require(access.ActionTrade)).Post("/", s.handleCreateOrder)
		})

		r.Route("/portfolio", func(r chi.Router) {
			r.Get("/positions", s.handleOpenPositions)
			r.Get("/snapshots", s.handleSnapshots)
			r.Get("/totals", s.handleTotals)
			r.Get("/alerts", s.handleAlerts)
		})

		r.Get("/predictions/opportunities", s.handleOpportunities)
		r.Get("/reflection/stats", s.handleReflectionStats)
	})
}

// Router exposes the handler for tests and embedding.
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
