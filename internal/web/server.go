// Package web provides the JSON HTTP API for table definition, import,
// query and export.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/csvschema/internal/config"
	"github.com/JonMunkholm/csvschema/internal/core"
	"github.com/JonMunkholm/csvschema/internal/metrics"
	mw "github.com/JonMunkholm/csvschema/internal/web/middleware"
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the import API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	pinger  Pinger
	clock   clockwork.Clock

	router *chi.Mux
	server *http.Server

	apiLimiter    *rateLimiter
	importLimiter *rateLimiter
	stop          chan struct{}
}

// Option customizes a Server.
type Option func(*Server)

// WithPinger adds a storage check to /health.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithClock replaces the clock used by the rate limiters.
func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		router:  chi.NewRouter(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Rate.Enabled {
		s.apiLimiter = newRateLimiter(perMinute(cfg.Rate.RequestsPerMinute), cfg.Rate.Burst, s.clock)
		s.importLimiter = newRateLimiter(perMinute(cfg.Rate.ImportLimit), max(1, cfg.Rate.Burst/5), s.clock)
		go s.apiLimiter.cleanupLoop(s.stop)
		go s.importLimiter.cleanupLoop(s.stop)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition", "Retry-After"},
		MaxAge:         300,
	}))

	// Security hardening
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.Handler())
	}

	s.router.Route("/api/tables", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		if s.apiLimiter != nil {
			r.Use(s.rateLimit(s.apiLimiter))
		}

		// Imports are bounded by the import timeout inside the service.
		r.Group(func(r chi.Router) {
			if s.importLimiter != nil {
				r.Use(s.rateLimit(s.importLimiter))
			}
			r.Post("/import-csv", s.handleImport(core.FormatCSV, false))
			r.Post("/import-xlsx", s.handleImport(core.FormatXLSX, false))
			r.Post("/preview-csv", s.handleImport(core.FormatCSV, true))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Post("/create", s.handleCreateTable)
			r.Get("/list", s.handleListTables)
			r.Get("/history/list", s.handleImportHistory)

			r.Get("/{name}", s.handleGetSchema)
			r.Delete("/{name}", s.handleDropTable)
			r.Get("/{name}/data", s.handleTableData)
			r.Get("/{name}/export", s.handleExport(core.FormatCSV))
			r.Get("/{name}/export.xlsx", s.handleExport(core.FormatXLSX))
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness, storage reachability and import slots.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"imports": s.service.LimiterStatus(),
	}
	status := http.StatusOK

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			slog.Warn("health check: storage unreachable", "error", err)
			resp["status"] = "unavailable"
			resp["storage"] = "error"
			status = http.StatusServiceUnavailable
		} else {
			resp["storage"] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

// attachmentName builds a Content-Disposition value for a download.
func attachmentName(table, ext string) string {
	return `attachment; filename="` + strings.ReplaceAll(table, `"`, "") + "." + ext + `"`
}
