// Package server exposes availability checks, health and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shelfhelp/shelfhelp-ai/models"
	"github.com/shelfhelp/shelfhelp-ai/orchestrator"
)

const (
	maxRequestBodySize = 1 << 20
	maxBatchBooks      = 200
)

// Checker is the orchestrator surface the server depends on.
type Checker interface {
	CheckBookAvailability(ctx context.Context, book *models.Book) (*models.AvailabilityReport, error)
	CheckBooksInBatch(ctx context.Context, books []*models.Book, opts orchestrator.BatchOptions) (*models.BatchReport, error)
	Health() orchestrator.HealthReport
	Stats() orchestrator.Stats
	ClearCache()
}

// Config holds HTTP server settings.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	checker    Checker
	gatherer   prometheus.Gatherer
	cfg        Config
}

// New wires the routes. A nil gatherer serves the default registry.
func New(cfg Config, checker Checker, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		checker:  checker,
		gatherer: gatherer,
		cfg:      cfg,
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.healthHandler)
	r.Get("/stats", s.statsHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/availability", func(r chi.Router) {
		r.Post("/check", s.checkHandler)
		r.Post("/batch", s.batchHandler)
	})
	r.Delete("/cache", s.clearCacheHandler)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	slog.Info("http server starting", slog.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Health()
	status := http.StatusOK
	if report.Status == orchestrator.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.checker.Stats())
}

func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	var book models.Book
	if err := decodeBody(r, &book); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if book.SearchQuery() == "" {
		writeError(w, http.StatusBadRequest, "title or author_name is required")
		return
	}

	report, err := s.checker.CheckBookAvailability(r.Context(), &book)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type batchRequest struct {
	Books []*models.Book `json:"books"`
}

func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Books) == 0 {
		writeError(w, http.StatusBadRequest, "books is required")
		return
	}
	if len(req.Books) > maxBatchBooks {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d books per request", maxBatchBooks))
		return
	}
	for i, b := range req.Books {
		if b == nil || b.SearchQuery() == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("books[%d]: title or author_name is required", i))
			return
		}
	}

	report, err := s.checker.CheckBooksInBatch(r.Context(), req.Books, orchestrator.BatchOptions{})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	s.checker.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON request body")
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNilBook):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
