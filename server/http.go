// Package server exposes task resolution and execution over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskpilot/taskpilot/pkg/catalog"
	"github.com/taskpilot/taskpilot/pkg/engine"
	"github.com/taskpilot/taskpilot/pkg/resolver"
	"github.com/taskpilot/taskpilot/pkg/store"
)

const httpShutdownTimeout = 5 * time.Second

// Envelope is the JSON body of every /run response.
type Envelope struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	Operation string `json:"operation,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Output    any    `json:"output,omitempty"`
	Artifact  string `json:"artifact,omitempty"`
}

// Server routes task requests to the resolver and engine.
type Server struct {
	resolver *resolver.Resolver
	engine   *engine.Engine
	store    *store.Store
	catalog  *catalog.Registry
	logger   *slog.Logger
}

func NewServer(res *resolver.Resolver, eng *engine.Engine, st *store.Store, cat *catalog.Registry) *Server {
	return &Server{
		resolver: res,
		engine:   eng,
		store:    st,
		catalog:  cat,
		logger:   slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("GET /read", s.handleRead)
	mux.HandleFunc("GET /ops", s.handleOps)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	task := r.URL.Query().Get("task")

	call, err := s.resolver.Resolve(r.Context(), task)
	if err != nil {
		var failure *engine.Failure
		if !errors.As(err, &failure) {
			failure = engine.NewFailure(engine.KindResolution, engine.ReasonUnmatched, "%v", err)
		}
		s.logger.Warn("resolve_failed", "task", task, "reason", failure.Reason)
		s.writeJSON(w, statusFor(failure.Kind), Envelope{
			Status:    "error",
			ErrorKind: string(failure.Kind),
			Reason:    failure.Reason,
			Message:   failure.Message,
		})
		return
	}

	result := s.engine.Execute(r.Context(), *call)
	if !result.OK() {
		s.writeJSON(w, statusFor(result.Failure.Kind), Envelope{
			Status:    "error",
			RequestID: result.RequestID,
			Operation: result.Operation,
			ErrorKind: string(result.Failure.Kind),
			Reason:    result.Failure.Reason,
			Message:   result.Failure.Message,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, Envelope{
		Status:    "ok",
		RequestID: result.RequestID,
		Operation: result.Operation,
		Output:    result.Value,
		Artifact:  result.Artifact,
	})
}

// handleRead serves an artifact back verbatim. Denied paths and missing
// artifacts both answer with the bare status text so callers cannot probe
// what exists outside the sandbox.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("path")

	rc, err := s.store.Get(name)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "not available", http.StatusNotFound)
		case errors.Is(err, store.ErrDenied):
			http.Error(w, "not available", http.StatusForbidden)
		default:
			s.logger.Error("read_failed", "path", name, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Error("read_stream_failed", "path", name, "error", err)
	}
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"operations": s.catalog.Definitions()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindResolution:
		return http.StatusBadRequest
	case engine.KindContainment:
		return http.StatusForbidden
	case engine.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("write_response_failed", "error", err)
	}
}

// Start serves HTTP until the context is cancelled, then shuts down
// gracefully.
func Start(ctx context.Context, s *Server, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown_failed", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}
