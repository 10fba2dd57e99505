// Package api exposes the HTTP interface for the lead harvest service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recruitgrid/leadharvest/internal/config"
	"github.com/recruitgrid/leadharvest/internal/leads"
	"github.com/recruitgrid/leadharvest/internal/metrics"
)

// Runner triggers acquisitions and answers run lookups.
type Runner interface {
	Run(ctx context.Context, principalID, campaignID, target string, pagesRequested int) (leads.CampaignRun, error)
	GetRun(ctx context.Context, runID string) (leads.CampaignRun, error)
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router chi.Router
	runner Runner
	runs   leads.RunStore
	jobs   leads.JobStore
	clock  leads.Clock
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner Runner,
	runs leads.RunStore,
	jobs leads.JobStore,
	clock leads.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		runs:   runs,
		jobs:   jobs,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(120 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey, logger))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/campaigns/{campaign_id}", func(r chi.Router) {
			r.Post("/runs", s.triggerRun)
			r.Get("/runs", s.listRuns)
		})
		r.Get("/runs/{run_id}", s.getRun)
		r.Get("/enrichment/stats", s.enrichmentStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type triggerRunRequest struct {
	PrincipalID string `json:"principal_id"`
	SearchURL   string `json:"search_url"`
	Pages       int    `json:"pages"`
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaign_id")
	var req triggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PrincipalID == "" || req.SearchURL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "principal_id and search_url are required")
		return
	}

	run, err := s.runner.Run(r.Context(), req.PrincipalID, campaignID, req.SearchURL, req.Pages)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusCreated, map[string]any{"run": run})
}

// writeRunError maps domain sentinels onto HTTP statuses. The credential
// case carries a code the UI uses to prompt a reconnect.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, leads.ErrNoCredential):
		writeJSON(s.logger, w, http.StatusUnauthorized, map[string]string{
			"error": err.Error(),
			"code":  "reconnect_required",
		})
	case errors.Is(err, leads.ErrInsufficientCredits):
		writeError(s.logger, w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, leads.ErrInvalidTarget):
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, leads.ErrCampaignNotFound):
		writeError(s.logger, w, http.StatusNotFound, err.Error())
	case errors.Is(err, leads.ErrRunActive):
		writeError(s.logger, w, http.StatusConflict, err.Error())
	case errors.Is(err, leads.ErrNoLeads):
		writeError(s.logger, w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("run failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runner.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, leads.ErrRunNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaign_id")
	runs, err := s.runs.ListByCampaign(r.Context(), campaignID)
	if err != nil {
		s.logger.Error("list runs failed", zap.String("campaign_id", campaignID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
		return
	}
	if runs == nil {
		runs = []leads.CampaignRun{}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) enrichmentStats(w http.ResponseWriter, r *http.Request) {
	since := s.clock.Now().Add(-24 * time.Hour)
	stats, err := s.jobs.Stats(r.Context(), since)
	if err != nil {
		s.logger.Error("enrichment stats failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"stats": stats})
}

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
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
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

func apiKeyMiddleware(expected string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(logger, w, http.StatusForbidden, "unauthorized")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
