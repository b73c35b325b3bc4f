// Package api exposes the HTTP surface of the bridge: the signed
// webhook endpoint and the read-side query API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/config"
	"github.com/user/crawlbridge/internal/engine"
	"github.com/user/crawlbridge/internal/metrics"
)

const requestTimeout = 30 * time.Second

// SessionReader loads crawl sessions for the read API.
type SessionReader interface {
	Get(ctx context.Context, jobID string) (bridge.CrawlSession, error)
}

// MetricReader lists per-operation metric rows for one session.
type MetricReader interface {
	ListByCorrelation(ctx context.Context, correlationID string, limit, offset int) ([]bridge.OperationMetric, error)
}

// ContentReader serves stored page content.
type ContentReader interface {
	GetByURL(ctx context.Context, url string, limit int) ([]bridge.ScrapedContent, error)
	GetBySession(ctx context.Context, sessionID string, limit, offset int) ([]bridge.ScrapedContent, error)
}

// Searcher queries the keyword sink.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]bridge.KeywordHit, error)
}

// Scraper triggers upstream fetches.
type Scraper interface {
	Scrape(ctx context.Context, url string, opts engine.ScrapeOptions) (string, error)
}

// ReadyChecker reports whether a downstream dependency is reachable.
type ReadyChecker func(ctx context.Context) error

// Server wires HTTP handlers to the registry, stores, and sinks.
type Server struct {
	router   chi.Router
	sessions SessionReader
	metrics  MetricReader
	contents ContentReader
	searcher Searcher
	scraper  Scraper
	ready    ReadyChecker
	logger   *zap.Logger
	cfg      config.Config
}

// NewServer constructs a Server with middleware and routes. webhook is
// mounted as-is on the webhook path; it carries its own signature
// authentication, so the API-key guard covers only the read routes.
func NewServer(
	webhook http.Handler,
	sessions SessionReader,
	metricReader MetricReader,
	contents ContentReader,
	searcher Searcher,
	scraper Scraper,
	ready ReadyChecker,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		metrics:  metricReader,
		contents: contents,
		searcher: searcher,
		scraper:  scraper,
		ready:    ready,
		logger:   logger,
		cfg:      cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/webhooks/crawl", webhook.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/crawls/{job_id}", s.getCrawl)
		r.Get("/content", s.getContentByURL)
		r.Get("/content/sessions/{session_id}", s.getContentBySession)
		r.Get("/search", s.search)
		r.Post("/scrape", s.triggerScrape)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
