package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkrause/newsharvest/internal/backup"
	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/taskqueue"
)

type submitTaskRequest struct {
	Keywords []string `json:"keywords"`
	Sources  []string `json:"sources"`
	MaxItems int      `json:"max_items"`
	Priority *int     `json:"priority"`
}

// submitTask creates the durable job record and queues a fetch task for it.
func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	keywords := trimKeywords(req.Keywords)
	if len(keywords) == 0 {
		writeError(w, http.StatusBadRequest, "at least one keyword required")
		return
	}
	priority := harvest.PriorityMedium
	if req.Priority != nil {
		p := harvest.TaskPriority(*req.Priority)
		if p < harvest.PriorityLow || p > harvest.PriorityHigh {
			writeError(w, http.StatusBadRequest, "priority must be between 1 and 3")
			return
		}
		priority = p
	}

	queryID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}
	now := s.clock.Now()
	query := harvest.SearchQuery{
		ID:        queryID,
		Keywords:  keywords,
		Status:    harvest.QueryStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.store.CreateQuery(r.Context(), query); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job record: %v", err))
		return
	}

	taskID, err := s.queue.Enqueue(r.Context(), queryID, harvest.TaskOptions{
		Keywords: keywords,
		Sources:  req.Sources,
		MaxItems: req.MaxItems,
		Priority: priority,
	})
	if err != nil {
		if errors.Is(err, taskqueue.ErrQueueFull) {
			writeError(w, http.StatusTooManyRequests, "task queue is full")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"job_id":  queryID,
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, found := s.queue.GetTask(taskID)
	if !found {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) queueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Status())
}

func (s *Server) queueDetailedStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.queue.DetailedStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) queueMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Metrics())
}

func (s *Server) queueCleanup(w http.ResponseWriter, r *http.Request) {
	maxAge := 24 * time.Hour
	if raw := r.URL.Query().Get("max_age_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "max_age_hours must be a positive integer")
			return
		}
		maxAge = time.Duration(hours) * time.Hour
	}
	removed := s.queue.Cleanup(maxAge)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	query, found, err := s.store.GetQuery(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": query})
}

func (s *Server) getJobArticles(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	status := harvest.ArticleStatus(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	articles, err := s.store.ListArticlesByJob(r.Context(), jobID, status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles, "count": len(articles)})
}

func (s *Server) getJobStats(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	stats, found, err := s.processor.JobStats(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no statistics for job")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) reprocessJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	recovered, err := s.orchestrator.ReprocessFailed(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recovered": recovered})
}

type createBackupRequest struct {
	Kind        string `json:"kind"`
	SinceHours  int    `json:"since_hours"`
	Description string `json:"description"`
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	var req createBackupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var snap harvest.Snapshot
	var err error
	switch req.Kind {
	case "", string(harvest.SnapshotFull):
		snap, err = s.backup.FullBackup(r.Context(), req.Description)
	case string(harvest.SnapshotIncremental):
		hours := req.SinceHours
		if hours <= 0 {
			hours = 24
		}
		since := s.clock.Now().Add(-time.Duration(hours) * time.Hour)
		snap, err = s.backup.IncrementalBackup(r.Context(), since, req.Description)
	default:
		writeError(w, http.StatusBadRequest, "kind must be full or incremental")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.backup.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots, "count": len(snapshots)})
}

func (s *Server) verifyBackup(w http.ResponseWriter, r *http.Request) {
	snapshotID := chi.URLParam(r, "snapshot_id")
	result, err := s.backup.Verify(r.Context(), snapshotID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	snapshotID := chi.URLParam(r, "snapshot_id")
	var opts backup.RestoreOptions
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	result, err := s.backup.Restore(r.Context(), snapshotID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cleanupBackups(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.Backup.RetentionDays
	if raw := r.URL.Query().Get("retention_days"); raw != "" {
		var err error
		days, err = strconv.Atoi(raw)
		if err != nil || days <= 0 {
			writeError(w, http.StatusBadRequest, "retention_days must be a positive integer")
			return
		}
	}
	removed, err := s.backup.Cleanup(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type upsertSourceRequest struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Kind   string `json:"kind"`
	Active *bool  `json:"active"`
}

func (s *Server) upsertSource(w http.ResponseWriter, r *http.Request) {
	var req upsertSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	kind := harvest.SourceKind(req.Kind)
	if kind == "" {
		kind = harvest.SourceKindWeb
	}
	if kind != harvest.SourceKindWeb && kind != harvest.SourceKindRSS {
		writeError(w, http.StatusBadRequest, "kind must be web or rss")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := s.clock.Now()
	src, err := s.store.UpsertSource(r.Context(), harvest.Source{
		Name:      req.Name,
		URL:       req.URL,
		Kind:      kind,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	sources, err := s.store.ListSources(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "count": len(sources)})
}

func (s *Server) listKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.store.ListKeywords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": keywords, "count": len(keywords)})
}

func (s *Server) systemMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.orchestrator.SystemMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) normalizeExisting(w http.ResponseWriter, r *http.Request) {
	batchSize := 100
	if raw := r.URL.Query().Get("batch_size"); raw != "" {
		var err error
		batchSize, err = strconv.Atoi(raw)
		if err != nil || batchSize <= 0 {
			writeError(w, http.StatusBadRequest, "batch_size must be a positive integer")
			return
		}
	}
	processed, updated, failed, err := s.processor.NormalizeExisting(r.Context(), batchSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"processed": processed,
		"updated":   updated,
		"errors":    failed,
	})
}

func trimKeywords(in []string) []string {
	var out []string
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
