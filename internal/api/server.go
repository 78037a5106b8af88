package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/coordinator"
	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

const maxRecordBody = 8 << 20

// Run is the slice of the coordinator the server needs.
type Run interface {
	Status() coordinator.Status
	SubmitRecord(ctx context.Context, rec ingest.Record) error
}

// PageReader reads the link graph.
type PageReader interface {
	Query(ctx context.Context, filter docstore.Filter) ([]ingest.Page, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// TokenReader reads an inverted index.
type TokenReader interface {
	Query(ctx context.Context, filter docstore.Filter) ([]ingest.TokenEntry, error)
}

// Deps are the server's collaborators. Nil readers disable their routes.
type Deps struct {
	Run         Run
	Pages       PageReader
	PageTokens  TokenReader
	ImageTokens TokenReader
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Middleware wraps every route, typically request metrics.
	Middleware []func(http.Handler) http.Handler
}

// Server routes HTTP requests to the run.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	for _, mw := range deps.Middleware {
		r.Use(mw)
	}
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/records", s.submitRecords)
		r.Get("/pages", s.getPages)
		r.Get("/pages/exists", s.pageExists)
		r.Get("/tokens/{kind}/{token}", s.getToken)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready only while the run accepts items.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	state := s.deps.Run.Status().State
	if state != coordinator.StateRunning.String() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": state})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Run.Status())
}

// submitRecords accepts one JSON record or a JSON array of records.
func (s *Server) submitRecords(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	records, err := decodeRecords(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	accepted := 0
	for _, rec := range records {
		if ingest.NormalizeURL(rec.URL) == "" {
			continue
		}
		if err := s.deps.Run.SubmitRecord(r.Context(), rec); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, coordinator.ErrNotRunning) {
				status = http.StatusServiceUnavailable
			}
			s.writeJSON(w, status, map[string]any{"error": err.Error(), "accepted": accepted})
			return
		}
		accepted++
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted, "ignored": len(records) - accepted})
}

func decodeRecords(body []byte) ([]ingest.Record, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var records []ingest.Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var rec ingest.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	return []ingest.Record{rec}, nil
}

// getPages returns the pages for every ?url= parameter.
func (s *Server) getPages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pages == nil {
		s.writeError(w, http.StatusNotFound, "page lookups disabled")
		return
	}
	urls := normalizedURLs(r)
	if len(urls) == 0 {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	pages, err := s.deps.Pages.Query(r.Context(), docstore.ByKeys(urls...))
	if err != nil {
		s.logger.Warn("page lookup failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "page lookup failed")
		return
	}
	if pages == nil {
		pages = []ingest.Page{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) pageExists(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pages == nil {
		s.writeError(w, http.StatusNotFound, "page lookups disabled")
		return
	}
	url := ingest.NormalizeURL(r.URL.Query().Get("url"))
	if url == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	ok, err := s.deps.Pages.Exists(r.Context(), url)
	if err != nil {
		s.logger.Warn("page exists check failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "page lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"url": url, "exists": ok})
}

// getToken returns the postings of one token, restricted to ?url= values
// when given.
func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	var index TokenReader
	switch chi.URLParam(r, "kind") {
	case "page", ingest.KindPageTokens.String():
		index = s.deps.PageTokens
	case "image", ingest.KindImageTokens.String():
		index = s.deps.ImageTokens
	default:
		s.writeError(w, http.StatusNotFound, "unknown token index")
		return
	}
	if index == nil {
		s.writeError(w, http.StatusNotFound, "token lookups disabled")
		return
	}
	token := chi.URLParam(r, "token")
	entries, err := index.Query(r.Context(), docstore.Filter{Keys: []string{token}, Members: normalizedURLs(r)})
	if err != nil {
		s.logger.Warn("token lookup failed", zap.String("token", token), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "token lookup failed")
		return
	}
	if len(entries) == 0 {
		s.writeError(w, http.StatusNotFound, "token not found")
		return
	}
	s.writeJSON(w, http.StatusOK, entries[0])
}

func normalizedURLs(r *http.Request) []string {
	var out []string
	for _, raw := range r.URL.Query()["url"] {
		if u := ingest.NormalizeURL(raw); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
