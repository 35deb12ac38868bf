// Package taskqueue schedules fetch tasks with priority ordering and
// exponential-backoff retries. A single worker drains the queue so provider
// calls never overlap.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/metrics"
)

// Defaults applied when Config fields are zero.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultMaxRetryDelay  = 30 * time.Second
	DefaultMaxPending     = 1000
)

// ErrQueueFull is returned by Enqueue when the pending backlog is at capacity.
var ErrQueueFull = errors.New("task queue is full")

// Executor runs the work behind one task. It returns how many items the run
// produced; any error marks the attempt failed and schedules a retry.
type Executor interface {
	Execute(ctx context.Context, task harvest.FetchTask) (harvest.JobResult, error)
}

// Config tunes queue behavior.
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	MaxPending     int
}

// Queue is an in-memory priority task queue. Tasks are disposable scheduling
// state; durable outcomes land on the SearchQuery record via the executor.
type Queue struct {
	store    harvest.Store
	executor Executor
	clock    harvest.Clock
	idGen    harvest.IDGenerator
	cfg      Config
	logger   *zap.Logger

	mu         sync.Mutex
	pending    []*harvest.FetchTask
	done       []*harvest.FetchTask
	processing *harvest.FetchTask
	durations  []float64
	wake       chan struct{}
}

// New constructs a Queue. Run must be started for tasks to drain.
func New(
	store harvest.Store,
	executor Executor,
	clock harvest.Clock,
	idGen harvest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:    store,
		executor: executor,
		clock:    clock,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue creates a pending task for the given query and inserts it by
// priority. Returns the task ID.
func (q *Queue) Enqueue(ctx context.Context, searchQueryID string, opts harvest.TaskOptions) (string, error) {
	if opts.Priority == 0 {
		opts.Priority = harvest.PriorityMedium
	}
	id, err := q.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	task := &harvest.FetchTask{
		ID:            id,
		SearchQueryID: searchQueryID,
		Options:       opts,
		Status:        harvest.TaskStatusPending,
		MaxRetries:    q.cfg.MaxRetries,
		CreatedAt:     q.clock.Now(),
	}

	q.mu.Lock()
	if len(q.pending) >= q.cfg.MaxPending {
		q.mu.Unlock()
		return "", ErrQueueFull
	}
	q.pending = append(q.pending, task)
	q.sortLocked()
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.SetQueueDepth(depth)
	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("query_id", searchQueryID),
		zap.Int("priority", int(opts.Priority)),
		zap.Int("queue_depth", depth),
	)
	q.signal()
	return task.ID, nil
}

// Run drains the queue until ctx is cancelled. Start it in its own goroutine.
func (q *Queue) Run(ctx context.Context) {
	q.logger.Info("task queue worker started")
	for {
		task := q.next()
		if task == nil {
			select {
			case <-ctx.Done():
				q.logger.Info("task queue worker stopped")
				return
			case <-q.wake:
				continue
			}
		}
		q.execute(ctx, task)
		if ctx.Err() != nil {
			q.logger.Info("task queue worker stopped")
			return
		}
	}
}

// next pops the highest-priority pending task, marking it processing.
func (q *Queue) next() *harvest.FetchTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	now := q.clock.Now()
	task.Status = harvest.TaskStatusProcessing
	task.StartedAt = &now
	q.processing = task
	metrics.SetQueueDepth(len(q.pending))
	return task
}

func (q *Queue) execute(ctx context.Context, task *harvest.FetchTask) {
	q.logger.Info("task started",
		zap.String("task_id", task.ID),
		zap.Int("attempt", task.RetryCount+1),
	)

	_, err := q.executor.Execute(ctx, *task)
	if err != nil {
		q.handleFailure(ctx, task, err)
		return
	}

	q.mu.Lock()
	now := q.clock.Now()
	task.Status = harvest.TaskStatusCompleted
	task.CompletedAt = &now
	if task.StartedAt != nil {
		q.durations = append(q.durations, now.Sub(*task.StartedAt).Seconds())
	}
	q.done = append(q.done, task)
	q.processing = nil
	q.mu.Unlock()

	q.logger.Info("task completed", zap.String("task_id", task.ID))
}

// handleFailure schedules a retry with exponential backoff, or marks the task
// and its query failed once retries are exhausted.
func (q *Queue) handleFailure(ctx context.Context, task *harvest.FetchTask, cause error) {
	// The task stays visible through GetTask and Status, so its fields only
	// change under the lock.
	q.mu.Lock()
	task.RetryCount++
	task.ErrorMessage = cause.Error()
	retries := task.RetryCount
	q.mu.Unlock()

	if retries <= task.MaxRetries {
		delay := q.retryDelay(retries)
		q.logger.Warn("task failed, retry scheduled",
			zap.String("task_id", task.ID),
			zap.Int("retry", retries),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)
		metrics.ObserveTaskRetry()

		q.mu.Lock()
		q.processing = nil
		q.mu.Unlock()

		time.AfterFunc(delay, func() {
			q.mu.Lock()
			task.Status = harvest.TaskStatusPending
			task.StartedAt = nil
			q.pending = append([]*harvest.FetchTask{task}, q.pending...)
			q.sortLocked()
			metrics.SetQueueDepth(len(q.pending))
			q.mu.Unlock()
			q.signal()
		})
		return
	}

	q.mu.Lock()
	now := q.clock.Now()
	task.Status = harvest.TaskStatusFailed
	task.CompletedAt = &now
	q.done = append(q.done, task)
	q.processing = nil
	q.mu.Unlock()

	q.logger.Error("task failed permanently",
		zap.String("task_id", task.ID),
		zap.Int("retries", retries-1),
		zap.Error(cause),
	)
	q.failQuery(ctx, task.SearchQueryID, cause)
}

// retryDelay doubles per attempt from the base, capped at the maximum.
func (q *Queue) retryDelay(attempt int) time.Duration {
	delay := q.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.MaxRetryDelay {
			return q.cfg.MaxRetryDelay
		}
	}
	if delay > q.cfg.MaxRetryDelay {
		delay = q.cfg.MaxRetryDelay
	}
	return delay
}

// failQuery records the permanent failure on the durable query record.
func (q *Queue) failQuery(ctx context.Context, queryID string, cause error) {
	query, found, err := q.store.GetQuery(ctx, queryID)
	if err != nil || !found {
		q.logger.Error("load query for failure update",
			zap.String("query_id", queryID), zap.Error(err))
		return
	}
	now := q.clock.Now()
	query.Status = harvest.QueryStatusFailed
	query.ErrorMessage = cause.Error()
	query.CompletedAt = &now
	query.UpdatedAt = now
	if _, err := q.store.UpdateQuery(ctx, query); err != nil {
		q.logger.Error("update query after permanent failure",
			zap.String("query_id", queryID), zap.Error(err))
	}
}

// Status reports current queue counters.
func (q *Queue) Status() harvest.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	status := harvest.QueueStatus{
		Pending:      len(q.pending),
		IsProcessing: q.processing != nil,
	}
	if q.processing != nil {
		status.Processing = 1
	}
	for _, t := range q.done {
		if t.Status == harvest.TaskStatusCompleted {
			status.Completed++
		} else {
			status.Failed++
		}
	}
	return status
}

// DetailedStatus augments Status with persisted 24-hour aggregates.
func (q *Queue) DetailedStatus(ctx context.Context) (harvest.DetailedQueueStatus, error) {
	since := q.clock.Now().Add(-24 * time.Hour)
	counts, err := q.store.CountQueriesByStatus(ctx, since)
	if err != nil {
		return harvest.DetailedQueueStatus{}, fmt.Errorf("count recent queries: %w", err)
	}
	avg, err := q.store.AverageSearchTime(ctx, since)
	if err != nil {
		return harvest.DetailedQueueStatus{}, fmt.Errorf("average search time: %w", err)
	}
	recent := make(map[string]int, len(counts))
	for status, n := range counts {
		recent[string(status)] = n
	}
	return harvest.DetailedQueueStatus{
		QueueStatus:       q.Status(),
		RecentStats:       recent,
		AverageSearchTime: avg,
		Timestamp:         q.clock.Now(),
	}, nil
}

// Metrics reports completed-task performance.
func (q *Queue) Metrics() harvest.TaskMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := harvest.TaskMetrics{TotalProcessed: len(q.done)}
	for _, t := range q.done {
		if t.Status == harvest.TaskStatusCompleted {
			m.TotalCompleted++
		}
	}
	if len(q.durations) > 0 {
		total := 0.0
		for _, d := range q.durations {
			total += d
		}
		m.AverageDuration = total / float64(len(q.durations))
	}
	if m.TotalProcessed > 0 {
		m.SuccessRate = float64(m.TotalCompleted) / float64(m.TotalProcessed) * 100
	}
	return m
}

// Cleanup drops finished tasks older than maxAge. Returns how many were
// removed.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	cutoff := q.clock.Now().Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.done[:0]
	removed := 0
	for _, t := range q.done {
		if t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	q.done = kept
	if removed > 0 {
		q.logger.Info("cleaned up finished tasks", zap.Int("removed", removed))
	}
	return removed
}

// GetTask looks up a task by ID across pending, processing and finished sets.
func (q *Queue) GetTask(id string) (harvest.FetchTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing != nil && q.processing.ID == id {
		return *q.processing, true
	}
	for _, t := range q.pending {
		if t.ID == id {
			return *t, true
		}
	}
	for _, t := range q.done {
		if t.ID == id {
			return *t, true
		}
	}
	return harvest.FetchTask{}, false
}

// sortLocked orders pending tasks by priority descending, then age ascending.
func (q *Queue) sortLocked() {
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].Options.Priority != q.pending[j].Options.Priority {
			return q.pending[i].Options.Priority > q.pending[j].Options.Priority
		}
		return q.pending[i].CreatedAt.Before(q.pending[j].CreatedAt)
	})
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
