// Package web provides the HTTP server and handlers for PDF table extraction.
package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/JonMunkholm/tablextract/internal/config"
	"github.com/JonMunkholm/tablextract/internal/core"
	"github.com/JonMunkholm/tablextract/internal/history"
	"github.com/JonMunkholm/tablextract/internal/web/middleware"
)

// DocumentStore stores uploads and locates them on disk.
type DocumentStore interface {
	Save(filename string, r io.Reader) (core.Document, error)
	Path(name string) (string, error)
	MaxFileSize() int64
}

// ArtifactStore locates generated spreadsheets on disk.
type ArtifactStore interface {
	Path(name string) (string, error)
}

// Deps are the collaborators a Server serves from.
type Deps struct {
	Service   *core.Service
	Documents DocumentStore
	Artifacts ArtifactStore
	History   history.Store
	Emitter   *core.Emitter
}

// Server is the HTTP server for the extraction service.
type Server struct {
	service   *core.Service
	documents DocumentStore
	artifacts ArtifactStore
	history   history.Store
	emitter   *core.Emitter
	cfg       *config.Config
	router    *chi.Mux
	server    *http.Server
	limiters  []*rateLimiter
}

// NewServer creates a new Server instance.
func NewServer(deps Deps, cfg *config.Config) *Server {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = core.NewEmitter(cfg.Extraction.Heartbeat, cfg.Extraction.CompletionGrace)
	}

	s := &Server{
		service:   deps.Service,
		documents: deps.Documents,
		artifacts: deps.Artifacts,
		history:   deps.History,
		emitter:   emitter,
		cfg:       cfg,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Security.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.APIKeyHeader, "Last-Event-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: !allowsAnyOrigin(s.cfg.Security.CORSAllowedOrigins),
		MaxAge:           300,
	}))
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
//
// Progress streams are registered outside the request timeout group; they
// live as long as the run they follow.
func (s *Server) setupRoutes() {
	var heavy func(http.Handler) http.Handler
	if s.cfg.Rate.Enabled {
		heavy = s.newRateLimiter(s.cfg.Rate.UploadLimit).middleware
	} else {
		heavy = func(next http.Handler) http.Handler { return next }
	}

	s.router.Get("/extraction-progress", s.handleLegacyProgress)

	s.router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

		// Pages
		r.With(chimw.Compress(5)).Get("/", s.handleDashboard)
		r.Get("/healthz", s.handleHealth)

		// Endpoints used by the browser frontend
		r.With(heavy).Post("/upload-pdf", s.handleUpload)
		r.Get("/pdf/{filename}", s.handleGetPDF)
		r.With(heavy).Post("/extract-tables", s.handleExtractTables)
		r.Get("/excel/{filename}", s.handleListSpreadsheets)
		r.Get("/download/{filename}", s.handleDownload)
	})

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		r.Get("/extractions/{session}/progress", s.handleProgress)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
			r.Use(chimw.Compress(5))

			r.With(heavy).Post("/extractions", s.handleStartExtraction)
			r.Get("/extractions/{session}/result", s.handleExtractionResult)
			r.Post("/extractions/{session}/cancel", s.handleCancelExtraction)

			r.With(heavy).Post("/batch", s.handleStartBatch)
			r.Get("/batch/{jobID}", s.handleBatchResult)

			r.Get("/history", s.handleHistory)
			r.Get("/status", s.handleHealth)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps progress streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("http server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background helpers.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
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

func (s *Server) newRateLimiter(perMinute int) *rateLimiter {
	rl := newRateLimiter(perMinute, rateWindow)
	s.limiters = append(s.limiters, rl)
	return rl
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return len(origins) == 0
}

// securityHeaders adds security headers to all responses. Framing is denied
// for the dashboard only; the frontend embeds stored PDFs in a frame.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.URL.Path == "/" {
			w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
			w.Header().Set("X-Frame-Options", "DENY")
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
