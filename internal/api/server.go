// Package api exposes the engine over a small JSON HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/internal/orchestrator"
	"github.com/ShayCichocki/docweave/internal/registry"
	"github.com/ShayCichocki/docweave/internal/state"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// ShutdownTimeout bounds graceful shutdown of in-flight HTTP calls.
const ShutdownTimeout = 10 * time.Second

// Engine is the part of the orchestrator the API serves.
type Engine interface {
	Submit(ctx context.Context, requestType string, params models.Params) (string, error)
	GetStatus(ctx context.Context, id string) (*models.RequestStatus, error)
	Wait(ctx context.Context, id string) (*models.RequestStatus, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, filter state.RequestFilter) ([]models.Request, error)
	Count() int
}

// TypeLister lists registered request types.
type TypeLister interface {
	Types() []registry.RequestType
}

// Server routes HTTP calls to an Engine.
type Server struct {
	engine Engine
	types  TypeLister
	log    logrus.FieldLogger
	mux    *http.ServeMux
}

// NewServer creates a Server. Call Handler or ListenAndServe to use it.
func NewServer(engine Engine, types TypeLister, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		engine: engine,
		types:  types,
		log:    log.WithField("component", "api"),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.HandleFunc("POST /v1/requests", s.submit)
	s.mux.HandleFunc("GET /v1/requests", s.list)
	s.mux.HandleFunc("GET /v1/requests/{id}", s.status)
	s.mux.HandleFunc("POST /v1/requests/{id}/cancel", s.cancel)
	s.mux.HandleFunc("GET /v1/request-types", s.requestTypes)
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("http server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

// SubmitRequest is the body of POST /v1/requests.
type SubmitRequest struct {
	Type   string        `json:"type"`
	Params models.Params `json:"params,omitempty"`
	// Wait blocks the call until the request finishes.
	Wait bool `json:"wait,omitempty"`
}

// SubmitResponse answers POST /v1/requests.
type SubmitResponse struct {
	ID     string                `json:"id"`
	Status *models.RequestStatus `json:"status,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	// Reason carries the graph validation reason when there is one.
	Reason string `json:"reason,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active": s.engine.Count()})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid body: " + err.Error()})
		return
	}
	if strings.TrimSpace(body.Type) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "type is required"})
		return
	}

	id, err := s.engine.Submit(r.Context(), body.Type, body.Params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"request": id, "type": body.Type}).Info("request submitted")

	if !body.Wait {
		writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id})
		return
	}
	st, err := s.engine.Wait(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{ID: id, Status: st})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := state.RequestFilter{Type: q.Get("type")}
	for _, raw := range q["state"] {
		for _, v := range strings.Split(raw, ",") {
			st := models.RequestState(strings.TrimSpace(v))
			if !st.Valid() {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown state %q", v)})
				return
			}
			filter.States = append(filter.States, st)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid limit %q", v)})
			return
		}
		filter.Limit = n
	}

	reqs, err := s.engine.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []models.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.WithField("request", id).Info("request cancel requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) requestTypes(w http.ResponseWriter, r *http.Request) {
	types := s.types.Types()
	if types == nil {
		types = []registry.RequestType{}
	}
	writeJSON(w, http.StatusOK, types)
}

// writeError maps engine errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var invalid *graph.InvalidGraphError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Reason: string(invalid.Reason)})
	case errors.Is(err, orchestrator.ErrRequestNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrEngineStopped):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: err.Error()})
	default:
		s.log.WithError(err).Error("api call failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
