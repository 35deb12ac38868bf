// Package dedup decides whether an incoming item already exists in the
// store, by URL or by lexical content similarity.
package dedup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/normalize"
)

// Defaults for duplicate detection windows.
const (
	DefaultRefetchWindow    = 30 * 24 * time.Hour
	DefaultSimilarityWindow = 7 * 24 * time.Hour
	DefaultSimilarityLimit  = 10

	titlePrefixLen = 50
)

// Config tunes the detector.
type Config struct {
	// RefetchWindow is how long a stored URL blocks re-ingestion.
	RefetchWindow time.Duration
	// SimilarityCheck enables the cross-job content-similarity comparison.
	// Off by default.
	SimilarityCheck  bool
	SimilarityWindow time.Duration
	SimilarityLimit  int
}

// Decision is the outcome of one duplicate check.
type Decision struct {
	IsDuplicate bool   `json:"is_duplicate"`
	Reason      string `json:"reason,omitempty"`
	ExistingID  string `json:"existing_id,omitempty"`
}

// Detector checks incoming items against the persistent store.
type Detector struct {
	store  harvest.ArticleStore
	clock  harvest.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Detector.
func New(store harvest.ArticleStore, clock harvest.Clock, cfg Config, logger *zap.Logger) *Detector {
	if cfg.RefetchWindow <= 0 {
		cfg.RefetchWindow = DefaultRefetchWindow
	}
	if cfg.SimilarityWindow <= 0 {
		cfg.SimilarityWindow = DefaultSimilarityWindow
	}
	if cfg.SimilarityLimit <= 0 {
		cfg.SimilarityLimit = DefaultSimilarityLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, clock: clock, cfg: cfg, logger: logger}
}

// CheckDuplicate applies the duplicate rules in order: same URL within the
// job, then same URL globally inside the re-fetch window, then the optional
// similarity comparison. URL-exact matches always win over fuzzy matches.
func (d *Detector) CheckDuplicate(ctx context.Context, url, cleanText, title, jobID string) (Decision, error) {
	if jobID != "" {
		existing, found, err := d.store.GetArticleInJob(ctx, url, jobID)
		if err != nil {
			return Decision{}, fmt.Errorf("lookup article in job: %w", err)
		}
		if found {
			return Decision{
				IsDuplicate: true,
				Reason:      "Same URL already exists in this job",
				ExistingID:  existing.ID,
			}, nil
		}
	}

	existing, found, err := d.store.GetArticleByURL(ctx, url)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup article by url: %w", err)
	}
	if found {
		cutoff := d.clock.Now().Add(-d.cfg.RefetchWindow)
		if existing.CreatedAt.Before(cutoff) {
			d.logger.Debug("stored url outside re-fetch window, allowing refresh",
				zap.String("url", url),
				zap.Time("created_at", existing.CreatedAt),
			)
		} else {
			return Decision{
				IsDuplicate: true,
				Reason:      "Same URL already exists",
				ExistingID:  existing.ID,
			}, nil
		}
	}

	if !d.cfg.SimilarityCheck || title == "" {
		return Decision{}, nil
	}
	return d.checkSimilarity(ctx, cleanText, title)
}

func (d *Detector) checkSimilarity(ctx context.Context, cleanText, title string) (Decision, error) {
	prefix := title
	if len(prefix) > titlePrefixLen {
		prefix = prefix[:titlePrefixLen]
	}
	since := d.clock.Now().Add(-d.cfg.SimilarityWindow)
	candidates, err := d.store.ListRecentArticlesByTitle(ctx, prefix, since, d.cfg.SimilarityLimit)
	if err != nil {
		return Decision{}, fmt.Errorf("list similar-title candidates: %w", err)
	}
	for _, candidate := range candidates {
		result := normalize.Similarity(cleanText, candidate.Content)
		if result.IsSimilar {
			d.logger.Debug("content similarity duplicate",
				zap.String("existing_id", candidate.ID),
				zap.String("reason", result.Reason),
				zap.Float64("score", result.Score),
			)
			return Decision{
				IsDuplicate: true,
				Reason:      result.Reason,
				ExistingID:  candidate.ID,
			}, nil
		}
	}
	return Decision{}, nil
}
