// Package processor turns raw fetched items into stored articles, applying
// normalization, duplicate detection and the quality gate.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/dedup"
	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/metrics"
	"github.com/mkrause/newsharvest/internal/normalize"
)

// Quality gate thresholds.
const (
	DefaultBatchSize = 10

	minWordCount = 50
	maxWordCount = 20000
	minRelevance = 10
	maxNoiseRate = 3
)

// Rejection messages surfaced in results and statistics.
const (
	reasonTooShort     = "Content too short (< 50 words)"
	reasonLowRelevance = "Low relevance score"
	warnVeryLong       = "Content very long (> 20,000 words)"
	warnPoorTitle      = "Poor title quality"
	warnNoKeywords     = "No keywords extracted"
	warnNoisy          = "High noise-to-content ratio"
)

const statsKeyPrefix = "harvest_stats_"

// Config tunes the processor.
type Config struct {
	BatchSize int
}

// Result reports the outcome of processing one item.
type Result struct {
	Success        bool     `json:"success"`
	ArticleID      string   `json:"article_id,omitempty"`
	IsDuplicate    bool     `json:"is_duplicate,omitempty"`
	LowQuality     bool     `json:"low_quality,omitempty"`
	RelevanceScore float64  `json:"relevance_score,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// jobStats is the persisted running-statistics shape for one job.
type jobStats struct {
	SuccessCount      int     `json:"success_count"`
	DuplicateCount    int     `json:"duplicate_count"`
	LowQualityCount   int     `json:"low_quality_count"`
	ErrorCount        int     `json:"error_count"`
	TotalRelevance    float64 `json:"total_relevance_score"`
	TotalProcessingMs int64   `json:"total_processing_time_ms"`
}

// Processor orchestrates normalization, dedup and persistence per item.
type Processor struct {
	store    harvest.Store
	detector *dedup.Detector
	clock    harvest.Clock
	idGen    harvest.IDGenerator
	cfg      Config
	logger   *zap.Logger

	statsMu sync.Mutex
}

// New constructs a Processor.
func New(
	store harvest.Store,
	detector *dedup.Detector,
	clock harvest.Clock,
	idGen harvest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    store,
		detector: detector,
		clock:    clock,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process runs one raw item through the pipeline. Every failure mode is
// captured in the Result; the method never panics out of a batch.
func (p *Processor) Process(ctx context.Context, item harvest.RawItem, jobID string, queryKeywords []string) Result {
	start := p.clock.Now()
	result := p.processItem(ctx, item, jobID, queryKeywords)
	p.recordStats(ctx, jobID, result, p.clock.Now().Sub(start))
	metrics.ObserveItem(outcomeLabel(result))
	return result
}

func (p *Processor) processItem(
	ctx context.Context,
	item harvest.RawItem,
	jobID string,
	queryKeywords []string,
) Result {
	processed := normalize.Process(item.Content, queryKeywords)

	decision, err := p.detector.CheckDuplicate(ctx, item.URL, processed.CleanText, processed.Title, jobID)
	if err != nil {
		return Result{Error: fmt.Sprintf("duplicate check: %v", err)}
	}
	if decision.IsDuplicate {
		p.logger.Debug("duplicate rejected",
			zap.String("url", item.URL),
			zap.String("reason", decision.Reason),
		)
		return Result{
			IsDuplicate: true,
			ArticleID:   decision.ExistingID,
			Error:       "Duplicate content detected: " + decision.Reason,
		}
	}

	score := normalize.RelevanceScore(processed.CleanText, processed.Title, queryKeywords, item.URL)

	warnings, reject := qualityGate(processed, score)
	if reject {
		return Result{
			LowQuality:     true,
			RelevanceScore: score,
			Warnings:       warnings,
			Error:          "Content quality below threshold: " + strings.Join(warnings, ", "),
		}
	}

	article, err := p.persist(ctx, item, processed, score, jobID, queryKeywords)
	if err != nil {
		return Result{RelevanceScore: score, Warnings: warnings, Error: err.Error()}
	}

	return Result{
		Success:        true,
		ArticleID:      article.ID,
		RelevanceScore: score,
		Warnings:       warnings,
	}
}

// qualityGate applies the hard rejections and soft warnings.
func qualityGate(processed normalize.Content, score float64) (warnings []string, reject bool) {
	if processed.WordCount < minWordCount {
		warnings = append(warnings, reasonTooShort)
		reject = true
	}
	if processed.WordCount > maxWordCount {
		warnings = append(warnings, warnVeryLong)
	}
	if processed.Title == "" || processed.Title == normalize.Untitled || len(processed.Title) < 10 {
		warnings = append(warnings, warnPoorTitle)
	}
	if score < minRelevance {
		warnings = append(warnings, reasonLowRelevance)
		reject = true
	}
	if len(processed.Keywords) == 0 {
		warnings = append(warnings, warnNoKeywords)
	}
	if dense := len(strings.ReplaceAll(processed.CleanText, " ", "")); dense > 0 {
		if float64(len(processed.CleanText))/float64(dense) > maxNoiseRate {
			warnings = append(warnings, warnNoisy)
		}
	}
	return warnings, reject
}

// persist creates a new article, or refreshes the existing one when the URL
// is already stored but outside the re-fetch window. Races on the URL are
// arbitrated by the store's unique constraint.
func (p *Processor) persist(
	ctx context.Context,
	item harvest.RawItem,
	processed normalize.Content,
	score float64,
	jobID string,
	queryKeywords []string,
) (harvest.Article, error) {
	now := p.clock.Now()

	existing, found, err := p.store.GetArticleByURL(ctx, item.URL)
	if err != nil {
		return harvest.Article{}, fmt.Errorf("lookup existing article: %w", err)
	}
	if found {
		existing.Title = processed.Title
		existing.Content = processed.CleanText
		existing.Summary = processed.Summary
		existing.KeywordTags = mergeTags(existing.KeywordTags, queryKeywords, processed.Keywords)
		existing.RelevanceScore = normalize.RelevanceScore(
			processed.CleanText, processed.Title, queryKeywords, existing.URL)
		existing.Status = harvest.ArticleStatusProcessed
		existing.SourceJobID = jobID
		existing.UpdatedAt = now
		updated, err := p.store.UpdateArticle(ctx, existing)
		if err != nil {
			return harvest.Article{}, fmt.Errorf("refresh article: %w", err)
		}
		return updated, nil
	}

	id, err := p.idGen.NewID()
	if err != nil {
		return harvest.Article{}, fmt.Errorf("generate article id: %w", err)
	}
	article := harvest.Article{
		ID:             id,
		URL:            item.URL,
		Title:          processed.Title,
		Content:        processed.CleanText,
		Summary:        processed.Summary,
		Author:         item.Author(),
		PublishedAt:    item.PublishedAt(),
		ImageURL:       item.ImageURL(),
		RelevanceScore: score,
		KeywordTags:    mergeTags(nil, queryKeywords, processed.Keywords),
		Status:         harvest.ArticleStatusProcessed,
		SourceJobID:    jobID,
		Metadata:       item.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := p.store.CreateArticle(ctx, article)
	if err != nil {
		return harvest.Article{}, fmt.Errorf("create article: %w", err)
	}
	return created, nil
}

// ProcessBatch runs items in fixed-size chunks, processing each chunk's items
// concurrently. One item's failure never aborts its siblings.
func (p *Processor) ProcessBatch(
	ctx context.Context,
	items []harvest.RawItem,
	jobID string,
	queryKeywords []string,
) harvest.ProcessingStats {
	start := p.clock.Now()
	stats := harvest.ProcessingStats{TotalProcessed: len(items)}
	totalRelevance := 0.0

	for chunkStart := 0; chunkStart < len(items); chunkStart += p.cfg.BatchSize {
		chunkEnd := chunkStart + p.cfg.BatchSize
		if chunkEnd > len(items) {
			chunkEnd = len(items)
		}
		chunk := items[chunkStart:chunkEnd]

		results := make([]Result, len(chunk))
		var wg sync.WaitGroup
		for i, item := range chunk {
			wg.Add(1)
			go func(i int, item harvest.RawItem) {
				defer wg.Done()
				results[i] = p.Process(ctx, item, jobID, queryKeywords)
			}(i, item)
		}
		wg.Wait()

		for _, r := range results {
			switch {
			case r.Success:
				stats.SuccessCount++
				totalRelevance += r.RelevanceScore
			case r.IsDuplicate:
				stats.DuplicateCount++
			case r.LowQuality:
				stats.LowQualityCount++
			default:
				stats.ErrorCount++
			}
		}
	}

	if stats.SuccessCount > 0 {
		stats.AverageRelevanceScore = totalRelevance / float64(stats.SuccessCount)
	}
	stats.ProcessingTime = p.clock.Now().Sub(start)
	metrics.ObserveBatch(stats.ProcessingTime)
	return stats
}

// NormalizeExisting re-runs normalization over stored articles missing a
// score or keywords, or still marked raw. Returns processed/updated/error
// counts.
func (p *Processor) NormalizeExisting(ctx context.Context, batchSize int) (processed, updated, errs int, err error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	offset := 0
	for {
		articles, listErr := p.store.ListArticlesNeedingNormalization(ctx, batchSize, offset)
		if listErr != nil {
			return processed, updated, errs, fmt.Errorf("list articles: %w", listErr)
		}
		if len(articles) == 0 {
			return processed, updated, errs, nil
		}
		for _, article := range articles {
			processed++
			if _, updErr := p.ReprocessArticle(ctx, article); updErr != nil {
				p.logger.Error("normalize article failed",
					zap.String("article_id", article.ID),
					zap.Error(updErr),
				)
				errs++
				continue
			}
			updated++
		}
		offset += len(articles)
	}
}

// ReprocessArticle re-runs normalization over one stored article in place,
// bypassing duplicate detection. Used for repair paths where the article is
// already the stored record.
func (p *Processor) ReprocessArticle(ctx context.Context, article harvest.Article) (harvest.Article, error) {
	content := normalize.Process(article.Content, article.KeywordTags)
	article.Title = content.Title
	article.Content = content.CleanText
	article.Summary = content.Summary
	article.RelevanceScore = normalize.RelevanceScore(
		content.CleanText, content.Title, content.Keywords, article.URL)
	article.KeywordTags = mergeTags(article.KeywordTags, nil, content.Keywords)
	article.Status = harvest.ArticleStatusProcessed
	article.UpdatedAt = p.clock.Now()
	updated, err := p.store.UpdateArticle(ctx, article)
	if err != nil {
		return harvest.Article{}, fmt.Errorf("update reprocessed article: %w", err)
	}
	return updated, nil
}

// JobStats loads the persisted running statistics for a job, if present.
func (p *Processor) JobStats(ctx context.Context, jobID string) (harvest.ProcessingStats, bool, error) {
	entry, found, err := p.store.GetConfig(ctx, statsKeyPrefix+jobID)
	if err != nil {
		return harvest.ProcessingStats{}, false, fmt.Errorf("load job stats: %w", err)
	}
	if !found {
		return harvest.ProcessingStats{}, false, nil
	}
	var raw jobStats
	if err := json.Unmarshal([]byte(entry.Value), &raw); err != nil {
		return harvest.ProcessingStats{}, false, fmt.Errorf("decode job stats: %w", err)
	}
	stats := harvest.ProcessingStats{
		TotalProcessed:  raw.SuccessCount + raw.DuplicateCount + raw.LowQualityCount + raw.ErrorCount,
		SuccessCount:    raw.SuccessCount,
		DuplicateCount:  raw.DuplicateCount,
		LowQualityCount: raw.LowQualityCount,
		ErrorCount:      raw.ErrorCount,
		ProcessingTime:  time.Duration(raw.TotalProcessingMs) * time.Millisecond,
	}
	if raw.SuccessCount > 0 {
		stats.AverageRelevanceScore = raw.TotalRelevance / float64(raw.SuccessCount)
	}
	return stats, true, nil
}

// recordStats folds one item outcome into the job's persisted statistics.
// Failures here are logged, never surfaced: statistics are best-effort.
func (p *Processor) recordStats(ctx context.Context, jobID string, result Result, elapsed time.Duration) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	key := statsKeyPrefix + jobID
	var stats jobStats
	if entry, found, err := p.store.GetConfig(ctx, key); err == nil && found {
		if err := json.Unmarshal([]byte(entry.Value), &stats); err != nil {
			p.logger.Warn("reset corrupt job stats", zap.String("job_id", jobID), zap.Error(err))
			stats = jobStats{}
		}
	}

	switch {
	case result.Success:
		stats.SuccessCount++
		stats.TotalRelevance += result.RelevanceScore
	case result.IsDuplicate:
		stats.DuplicateCount++
	case result.LowQuality:
		stats.LowQualityCount++
	default:
		stats.ErrorCount++
	}
	stats.TotalProcessingMs += elapsed.Milliseconds()

	payload, err := json.Marshal(stats)
	if err != nil {
		p.logger.Error("encode job stats failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	entry := harvest.ConfigEntry{
		Key:         key,
		Value:       string(payload),
		Description: "Processing statistics for job " + jobID,
		UpdatedAt:   p.clock.Now(),
	}
	if err := p.store.SetConfig(ctx, entry); err != nil {
		p.logger.Error("persist job stats failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func mergeTags(existing, queryKeywords, extracted []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, group := range [][]string{existing, queryKeywords, extracted} {
		for _, tag := range group {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

func outcomeLabel(r Result) string {
	switch {
	case r.Success:
		return "success"
	case r.IsDuplicate:
		return "duplicate"
	case r.LowQuality:
		return "low_quality"
	default:
		return "error"
	}
}
