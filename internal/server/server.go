// Package server exposes decomposition jobs over REST and JSON-RPC 2.0.
package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JonPisek/PyBEP/internal/config"
	"github.com/JonPisek/PyBEP/internal/decomposition"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
	"github.com/JonPisek/PyBEP/internal/logging"
	"github.com/JonPisek/PyBEP/internal/metrics"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC server for the decomposition
// service. It manages jobs and provides endpoints to start, monitor, fetch
// and cancel them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *metrics.Metrics
	run     RunFunc

	jobs   map[string]*Job
	jobsMu sync.RWMutex // Protects jobs and their fields
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records search metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRunFunc replaces decomposition.Run.
func WithRunFunc(run RunFunc) Option {
	return func(s *Server) { s.run = run }
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		run:    decomposition.Run,
		jobs:   make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/decompose", s.handleDecompose)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/result/{id}", s.handleResult)
		r.Delete("/decomposition/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// zapLogger bridges the service logger for the numeric packages.
func (s *Server) zapLogger() *zap.Logger {
	return logging.NewZapLogger(s.logger.WithFields(map[string]interface{}{"component": "decomposition"}))
}

// Close cancels all jobs and waits for their goroutines to return.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	for _, job := range s.jobs {
		if job.cancel != nil {
			job.cancel()
		}
	}
	s.jobsMu.Unlock()

	s.wg.Wait()
	return nil
}

// handleDecompose handles POST /api/v1/decompose.
func (s *Server) handleDecompose(w http.ResponseWriter, r *http.Request) {
	var req DecomposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteJSON(w, http.StatusBadRequest, invalidRequest("invalid request body: %v", err))
		return
	}

	in, err := s.prepare(req)
	if err != nil {
		apperrors.WriteJSON(w, apperrors.StatusCode(err), err)
		return
	}
	job := s.startJob(in)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"decomposition_id": job.ID,
		"status":           StatusPending,
	})
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.job(chi.URLParam(r, "id"))
	if err != nil {
		apperrors.WriteJSON(w, apperrors.StatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(job))
}

// handleResult handles GET /api/v1/result/{id}. It answers 409 until the job
// has completed.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	rec, err := s.result(chi.URLParam(r, "id"))
	if err != nil {
		status := apperrors.StatusCode(err)
		if apperrors.Is(err, ErrJobNotFinished) {
			status = http.StatusConflict
		}
		apperrors.WriteJSON(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCancel handles DELETE /api/v1/decomposition/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelJob(chi.URLParam(r, "id")); err != nil {
		status := apperrors.StatusCode(err)
		if apperrors.Is(err, ErrJobFinished) {
			status = http.StatusConflict
		}
		apperrors.WriteJSON(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// result returns the record of a completed job. A completed search without a
// winning pair reports its diagnostic.
func (s *Server) result(id string) (*decomposition.Record, error) {
	job, err := s.job(id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted {
		return nil, apperrors.Wrapf(ErrJobNotFinished, "status %s", job.Status).WithComponent("server")
	}
	if job.Record == nil {
		return decomposition.NewRecord(job.Result)
	}
	return job.Record, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
