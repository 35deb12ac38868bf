// Package orchestrator coordinates a full harvest run: provider search,
// bookkeeping, batch processing, reclassification and the optional
// post-run backup.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/metrics"
	"github.com/mkrause/newsharvest/internal/processor"
)

// BackupService is the slice of the backup subsystem the orchestrator needs.
type BackupService interface {
	IncrementalBackup(ctx context.Context, since time.Time, description string) (harvest.Snapshot, error)
}

// JobConfig describes one orchestrated run.
type JobConfig struct {
	JobID              string   `json:"job_id"`
	Keywords           []string `json:"keywords"`
	Sources            []string `json:"sources,omitempty"`
	MaxItems           int      `json:"max_items"`
	RelevanceThreshold float64  `json:"relevance_threshold"`
	AutoBackup         bool     `json:"auto_backup"`
}

// SystemMetrics is a point-in-time snapshot of stored pipeline state.
type SystemMetrics struct {
	TotalArticles     int       `json:"total_articles"`
	ProcessedArticles int       `json:"processed_articles"`
	FailedArticles    int       `json:"failed_articles"`
	AverageRelevance  float64   `json:"average_relevance"`
	Timestamp         time.Time `json:"timestamp"`
}

// Config tunes the orchestrator.
type Config struct {
	DefaultMaxItems    int
	RelevanceThreshold float64
	EventTopic         string
	AutoBackup         bool
}

// Orchestrator drives end-to-end harvest runs.
type Orchestrator struct {
	store     harvest.Store
	searcher  harvest.Searcher
	processor *processor.Processor
	backup    BackupService
	publisher harvest.Publisher
	clock     harvest.Clock
	idGen     harvest.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. backup and publisher may be nil; the
// corresponding steps are skipped.
func New(
	store harvest.Store,
	searcher harvest.Searcher,
	proc *processor.Processor,
	backup BackupService,
	publisher harvest.Publisher,
	clock harvest.Clock,
	idGen harvest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.DefaultMaxItems <= 0 {
		cfg.DefaultMaxItems = 20
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = 10
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = "harvest-events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		searcher:  searcher,
		processor: proc,
		backup:    backup,
		publisher: publisher,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute adapts a queued fetch task into a job run. It satisfies the task
// queue's Executor interface.
func (o *Orchestrator) Execute(ctx context.Context, task harvest.FetchTask) (harvest.JobResult, error) {
	cfg := JobConfig{
		JobID:              task.SearchQueryID,
		Keywords:           task.Options.Keywords,
		Sources:            task.Options.Sources,
		MaxItems:           task.Options.MaxItems,
		RelevanceThreshold: o.cfg.RelevanceThreshold,
		AutoBackup:         o.cfg.AutoBackup,
	}
	result, err := o.RunJob(ctx, cfg)
	if err != nil {
		return result, err
	}
	if result.Status == harvest.QueryStatusFailed {
		return result, fmt.Errorf("job %s failed: %v", result.JobID, result.Errors)
	}
	return result, nil
}

// RunJob executes one harvest run end to end. Provider and store failures
// fail the job; bookkeeping and backup failures only degrade it to warnings.
func (o *Orchestrator) RunJob(ctx context.Context, cfg JobConfig) (harvest.JobResult, error) {
	start := o.clock.Now()
	result := harvest.JobResult{
		JobID:     cfg.JobID,
		Status:    harvest.QueryStatusRunning,
		StartTime: start,
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = o.cfg.DefaultMaxItems
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = o.cfg.RelevanceThreshold
	}

	o.logger.Info("job started",
		zap.String("job_id", cfg.JobID),
		zap.Strings("keywords", cfg.Keywords),
		zap.Int("max_items", cfg.MaxItems),
	)

	if err := o.markRunning(ctx, cfg.JobID, start); err != nil {
		return o.finish(ctx, cfg, result, err)
	}

	searchResult, err := o.searcher.Search(ctx, cfg.Keywords, harvest.SearchOptions{
		Limit:         cfg.MaxItems,
		ScrapeContent: true,
		Sources:       cfg.Sources,
	})
	if err != nil {
		return o.finish(ctx, cfg, result, fmt.Errorf("search: %w", err))
	}
	if searchResult.Err != "" {
		result.Warnings = append(result.Warnings, "search provider: "+searchResult.Err)
	}
	if len(searchResult.Items) == 0 {
		result.Warnings = append(result.Warnings, "search returned no results")
	}

	o.recordBookkeeping(ctx, cfg, len(searchResult.Items), &result)

	result.Statistics = o.processor.ProcessBatch(ctx, searchResult.Items, cfg.JobID, cfg.Keywords)

	reclassified, err := o.store.ReclassifyBelowScore(ctx, cfg.JobID, cfg.RelevanceThreshold)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("reclassify: %v", err))
	} else if reclassified > 0 {
		o.logger.Info("articles reclassified below threshold",
			zap.String("job_id", cfg.JobID),
			zap.Int("count", reclassified),
			zap.Float64("threshold", cfg.RelevanceThreshold),
		)
	}

	if cfg.AutoBackup && o.backup != nil {
		snap, err := o.backup.IncrementalBackup(ctx, start, "post-job backup for "+cfg.JobID)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("auto backup: %v", err))
		} else {
			result.BackupID = snap.ID
		}
	}

	return o.finish(ctx, cfg, result, nil)
}

// finish closes out the job record, emits the completion event and returns
// the result. A non-nil cause marks the job failed.
func (o *Orchestrator) finish(
	ctx context.Context,
	cfg JobConfig,
	result harvest.JobResult,
	cause error,
) (harvest.JobResult, error) {
	end := o.clock.Now()
	result.EndTime = &end

	if cause != nil {
		result.Status = harvest.QueryStatusFailed
		result.Errors = append(result.Errors, cause.Error())
	} else {
		result.Status = harvest.QueryStatusCompleted
	}

	if query, found, err := o.store.GetQuery(ctx, cfg.JobID); err == nil && found {
		query.Status = result.Status
		query.ResultCount = result.Statistics.SuccessCount
		query.SearchTimeSeconds = end.Sub(result.StartTime).Seconds()
		query.CompletedAt = &end
		query.UpdatedAt = end
		if cause != nil {
			query.ErrorMessage = cause.Error()
		}
		if _, err := o.store.UpdateQuery(ctx, query); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("update job record: %v", err))
		}
	} else if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("load job record: %v", err))
	}

	metrics.ObserveJob(string(result.Status))
	o.publishEvent(ctx, result)

	o.logger.Info("job finished",
		zap.String("job_id", cfg.JobID),
		zap.String("status", string(result.Status)),
		zap.Int("success", result.Statistics.SuccessCount),
		zap.Int("duplicates", result.Statistics.DuplicateCount),
		zap.Int("errors", result.Statistics.ErrorCount),
		zap.Duration("elapsed", end.Sub(result.StartTime)),
	)
	return result, cause
}

func (o *Orchestrator) markRunning(ctx context.Context, jobID string, start time.Time) error {
	query, found, err := o.store.GetQuery(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job record: %w", err)
	}
	if !found {
		return fmt.Errorf("job record %s not found", jobID)
	}
	query.Status = harvest.QueryStatusRunning
	query.StartedAt = &start
	query.UpdatedAt = start
	if _, err := o.store.UpdateQuery(ctx, query); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

// recordBookkeeping logs the provider call and touches keyword usage.
// Best-effort: failures become warnings, never job errors.
func (o *Orchestrator) recordBookkeeping(ctx context.Context, cfg JobConfig, resultCount int, result *harvest.JobResult) {
	now := o.clock.Now()

	id, err := o.idGen.NewID()
	if err == nil {
		event := harvest.SearchEvent{
			ID:          id,
			QueryID:     cfg.JobID,
			Keywords:    cfg.Keywords,
			ResultCount: resultCount,
			Provider:    o.searcher.Name(),
			CreatedAt:   now,
		}
		err = o.store.RecordSearchEvent(ctx, event)
	}
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("record search event: %v", err))
	}

	for _, kw := range cfg.Keywords {
		if _, err := o.store.TouchKeyword(ctx, kw, now); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("touch keyword %q: %v", kw, err))
		}
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, result harvest.JobResult) {
	if o.publisher == nil {
		return
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.EventTopic, result); err != nil {
		o.logger.Warn("publish job event failed",
			zap.String("job_id", result.JobID),
			zap.Error(err),
		)
	}
}

// ReprocessFailed re-runs normalization over a job's failed articles and
// returns how many recovered.
func (o *Orchestrator) ReprocessFailed(ctx context.Context, jobID string) (int, error) {
	failed, err := o.store.ListArticlesByJob(ctx, jobID, harvest.ArticleStatusFailed, 0)
	if err != nil {
		return 0, fmt.Errorf("list failed articles: %w", err)
	}
	recovered := 0
	for _, article := range failed {
		if _, err := o.processor.ReprocessArticle(ctx, article); err != nil {
			o.logger.Warn("reprocess article failed",
				zap.String("article_id", article.ID),
				zap.Error(err),
			)
			continue
		}
		recovered++
	}
	o.logger.Info("reprocessed failed articles",
		zap.String("job_id", jobID),
		zap.Int("total", len(failed)),
		zap.Int("recovered", recovered),
	)
	return recovered, nil
}

// SystemMetrics reports aggregate stored-state counters.
func (o *Orchestrator) SystemMetrics(ctx context.Context) (SystemMetrics, error) {
	total, err := o.store.CountArticles(ctx)
	if err != nil {
		return SystemMetrics{}, fmt.Errorf("count articles: %w", err)
	}
	processed, err := o.store.CountArticlesByStatus(ctx, harvest.ArticleStatusProcessed)
	if err != nil {
		return SystemMetrics{}, fmt.Errorf("count processed articles: %w", err)
	}
	failed, err := o.store.CountArticlesByStatus(ctx, harvest.ArticleStatusFailed)
	if err != nil {
		return SystemMetrics{}, fmt.Errorf("count failed articles: %w", err)
	}
	avg, err := o.store.AverageRelevance(ctx)
	if err != nil {
		return SystemMetrics{}, fmt.Errorf("average relevance: %w", err)
	}
	return SystemMetrics{
		TotalArticles:     total,
		ProcessedArticles: processed,
		FailedArticles:    failed,
		AverageRelevance:  avg,
		Timestamp:         o.clock.Now(),
	}, nil
}
