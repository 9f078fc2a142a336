package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/costgate/pkg/budget"
	"github.com/pario-ai/costgate/pkg/cache"
	"github.com/pario-ai/costgate/pkg/metrics"
)

// Server is the costgate admin HTTP server.
type Server struct {
	cache    *cache.Cache
	enforcer *budget.Enforcer
	logger   zerolog.Logger
	mux      *http.ServeMux
}

// New creates a Server. A nil cache or enforcer disables its routes.
func New(c *cache.Cache, e *budget.Enforcer, m *metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		cache:    c,
		enforcer: e,
		logger:   logger.With().Str("component", "server").Logger(),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}
	if c != nil {
		s.mux.HandleFunc("GET /v1/cache/stats", s.handleCacheStats)
	}
	if e != nil {
		s.mux.HandleFunc("GET /v1/budgets", s.handleListBudgets)
		s.mux.HandleFunc("GET /v1/budgets/{org}/{project}", s.handleBudgetStatus)
		s.mux.HandleFunc("POST /v1/budgets/{org}/{project}/check", s.handleBudgetCheck)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("admin server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		s.internalError(w, "cache stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.enforcer.ListBudgets(r.Context())
	if err != nil {
		s.internalError(w, "list budgets", err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	var ref time.Time
	if m := r.URL.Query().Get("month"); m != "" {
		t, err := time.Parse("2006-01", m)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		ref = t
	}
	status, err := s.enforcer.Status(r.Context(), r.PathValue("org"), r.PathValue("project"), ref)
	if err != nil {
		s.internalError(w, "budget status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// checkRequest is the body of a pre-call budget check.
type checkRequest struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	InputTokens int    `json:"input_tokens"`
}

func (s *Server) handleBudgetCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.Model == "" || req.InputTokens < 0 {
		writeJSONError(w, http.StatusBadRequest, "provider, model and a non-negative input_tokens are required")
		return
	}

	d, err := s.enforcer.CheckBeforeCall(r.Context(), r.PathValue("org"), r.PathValue("project"), req.Provider, req.Model, req.InputTokens)
	if err != nil {
		s.internalError(w, "budget check", err)
		return
	}
	// Denials are a normal answer, not a failure of the request.
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeJSONError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    http.StatusText(code),
		},
	})
}
