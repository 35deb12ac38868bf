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

	"github.com/mkrause/newsharvest/internal/backup"
	"github.com/mkrause/newsharvest/internal/config"
	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/metrics"
	"github.com/mkrause/newsharvest/internal/orchestrator"
	"github.com/mkrause/newsharvest/internal/processor"
	"github.com/mkrause/newsharvest/internal/taskqueue"
)

// Server wires HTTP handlers to the queue, orchestrator and stores.
type Server struct {
	router       chi.Router
	store        harvest.Store
	queue        *taskqueue.Queue
	orchestrator *orchestrator.Orchestrator
	processor    *processor.Processor
	backup       *backup.Service
	idGen        harvest.IDGenerator
	clock        harvest.Clock
	cfg          config.Config
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store harvest.Store,
	queue *taskqueue.Queue,
	orch *orchestrator.Orchestrator,
	proc *processor.Processor,
	backupSvc *backup.Service,
	idGen harvest.IDGenerator,
	clock harvest.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:        store,
		queue:        queue,
		orchestrator: orch,
		processor:    proc,
		backup:       backupSvc,
		idGen:        idGen,
		clock:        clock,
		cfg:          cfg,
		logger:       logger,
	}

	timeout := 60 * time.Second
	if cfg.Server.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.submitTask)
			r.Get("/{task_id}", s.getTask)
		})
		r.Route("/queue", func(r chi.Router) {
			r.Get("/status", s.queueStatus)
			r.Get("/status/detailed", s.queueDetailedStatus)
			r.Get("/metrics", s.queueMetrics)
			r.Post("/cleanup", s.queueCleanup)
		})
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/status", s.getJobStatus)
			r.Get("/articles", s.getJobArticles)
			r.Get("/stats", s.getJobStats)
			r.Post("/reprocess", s.reprocessJob)
		})
		r.Route("/backups", func(r chi.Router) {
			r.Get("/", s.listBackups)
			r.Post("/", s.createBackup)
			r.Post("/cleanup", s.cleanupBackups)
			r.Route("/{snapshot_id}", func(r chi.Router) {
				r.Get("/verify", s.verifyBackup)
				r.Post("/restore", s.restoreBackup)
			})
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.upsertSource)
		})
		r.Get("/keywords", s.listKeywords)
		r.Get("/system/metrics", s.systemMetrics)
		r.Post("/maintenance/normalize", s.normalizeExisting)
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
	if _, err := s.store.CountArticles(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

type requestIDKey struct{}

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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
