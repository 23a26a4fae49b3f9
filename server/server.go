// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spektr-org/bankquery/engine"
	"github.com/spektr-org/bankquery/metrics"
	"github.com/spektr-org/bankquery/pipeline"
	"github.com/spektr-org/bankquery/schema"
	"github.com/spektr-org/bankquery/translator"
)

// ============================================================================
// HTTP API
// ============================================================================
//   POST /v1/ask             question → plan → result
//   POST /v1/run             raw model output → plan → result
//   POST /v1/validate        plan JSON → validation errors
//   POST /v1/execute         valid plan JSON → result
//   GET  /v1/schema          schema document, metric catalog, enums
//   GET  /v1/datasets        field catalog of every dataset
//   GET  /v1/datasets/{name} field catalog of one dataset
//   GET  /v1/model           active model info
//   GET  /healthz            liveness
//   GET  /metrics            Prometheus
// ============================================================================

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server serves the pipeline over HTTP.
type Server struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	version  string
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New builds a Server around p.
func New(p *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{pipeline: p, logger: slog.Default(), version: "dev"}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", s.ask)
		r.Post("/run", s.run)
		r.Post("/validate", s.validate)
		r.Post("/execute", s.execute)
		r.Get("/schema", s.schemaDoc)
		r.Get("/datasets", s.datasets)
		r.Get("/datasets/{name}", s.dataset)
		r.Get("/model", s.model)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🚀 Server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("🔧 Server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ── Requests ─────────────────────────────────────────────────────────────

type askRequest struct {
	Question   string `json:"question"`
	DomainHint string `json:"domain_hint,omitempty"`
}

type runRequest struct {
	Raw           string `json:"raw"`
	PromptContext string `json:"prompt_context,omitempty"`
}

type validateResponse struct {
	Valid  bool           `json:"valid"`
	Errors []string       `json:"errors"`
	Plan   map[string]any `json:"query_plan,omitempty"`
}

// ── Handlers ─────────────────────────────────────────────────────────────

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Ask(r.Context(), req.Question, req.DomainHint))
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Run(r.Context(), req.Raw, req.PromptContext))
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	valid, plan, errs := translator.ParseAndValidate(string(body), s.pipeline.Validator())
	writeJSON(w, http.StatusOK, validateResponse{Valid: valid, Errors: schema.Strings(errs), Plan: plan})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	valid, plan, errs := translator.ParseAndValidate(string(body), s.pipeline.Validator())
	if !valid {
		writeJSON(w, http.StatusUnprocessableEntity, validateResponse{Errors: schema.Strings(errs)})
		return
	}
	decoded, err := engine.DecodePlan(plan)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Execute(r.Context(), decoded))
}

func (s *Server) schemaDoc(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"schema":    json.RawMessage(s.pipeline.Validator().Document()),
		"metrics":   schema.Metrics,
		"domains":   schema.Domains,
		"datasets":  schema.Datasets,
		"operators": schema.Operators,
	})
}

func (s *Server) datasets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Catalog(r.Context()))
}

func (s *Server) dataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, ds := range s.pipeline.Catalog(r.Context()) {
		if ds.Name == name {
			writeJSON(w, http.StatusOK, ds)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("dataset %q not found", name))
}

func (s *Server) model(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, translator.Info(r.Context(), s.pipeline.Client()))
}

// ── Helpers ──────────────────────────────────────────────────────────────

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
