package harvest

import (
	"context"
	"time"
)

// SearchOptions tunes one provider call.
type SearchOptions struct {
	Limit         int
	ScrapeContent bool
	Sources       []string
}

// SearchResult is the provider's structured response. Provider failures are
// surfaced through Err so callers can treat them as warnings.
type SearchResult struct {
	Success bool
	Items   []RawItem
	Err     string
}

// Searcher is the external search-and-fetch capability. Implementations must
// tolerate partial or empty results without failing the whole call.
type Searcher interface {
	Search(ctx context.Context, keywords []string, opts SearchOptions) (SearchResult, error)
	Name() string
}

// ArticleStore persists normalized articles.
type ArticleStore interface {
	CreateArticle(ctx context.Context, a Article) (Article, error)
	UpdateArticle(ctx context.Context, a Article) (Article, error)
	UpsertArticle(ctx context.Context, a Article) (Article, error)
	GetArticleByURL(ctx context.Context, url string) (Article, bool, error)
	GetArticleInJob(ctx context.Context, url, jobID string) (Article, bool, error)
	ListArticlesByJob(ctx context.Context, jobID string, status ArticleStatus, limit int) ([]Article, error)
	ListArticlesUpdatedSince(ctx context.Context, since time.Time) ([]Article, error)
	ListArticlesNeedingNormalization(ctx context.Context, limit, offset int) ([]Article, error)
	ListRecentArticlesByTitle(ctx context.Context, titlePrefix string, since time.Time, limit int) ([]Article, error)
	ReclassifyBelowScore(ctx context.Context, jobID string, threshold float64) (int, error)
	CountArticles(ctx context.Context) (int, error)
	AverageRelevance(ctx context.Context) (float64, error)
	CountArticlesByStatus(ctx context.Context, status ArticleStatus) (int, error)
}

// QueryStore persists search queries (jobs).
type QueryStore interface {
	CreateQuery(ctx context.Context, q SearchQuery) (SearchQuery, error)
	UpdateQuery(ctx context.Context, q SearchQuery) (SearchQuery, error)
	GetQuery(ctx context.Context, id string) (SearchQuery, bool, error)
	ListQueriesUpdatedSince(ctx context.Context, since time.Time) ([]SearchQuery, error)
	CountQueriesByStatus(ctx context.Context, since time.Time) (map[QueryStatus]int, error)
	AverageSearchTime(ctx context.Context, since time.Time) (float64, error)
}

// SourceStore persists configured content sources.
type SourceStore interface {
	UpsertSource(ctx context.Context, s Source) (Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]Source, error)
	ListSourcesUpdatedSince(ctx context.Context, since time.Time) ([]Source, error)
}

// KeywordStore persists keyword usage bookkeeping.
type KeywordStore interface {
	TouchKeyword(ctx context.Context, text string, at time.Time) (Keyword, error)
	UpsertKeyword(ctx context.Context, k Keyword) (Keyword, error)
	ListKeywords(ctx context.Context) ([]Keyword, error)
	ListKeywordsUpdatedSince(ctx context.Context, since time.Time) ([]Keyword, error)
}

// SearchEventStore logs provider calls.
type SearchEventStore interface {
	RecordSearchEvent(ctx context.Context, e SearchEvent) error
	ListSearchEventsSince(ctx context.Context, since time.Time) ([]SearchEvent, error)
}

// ConfigStore is the persisted key/value configuration surface.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (ConfigEntry, bool, error)
	SetConfig(ctx context.Context, entry ConfigEntry) error
	DeleteConfig(ctx context.Context, key string) error
	ListConfigUpdatedSince(ctx context.Context, since time.Time) ([]ConfigEntry, error)
}

// SnapshotStore persists backup snapshot metadata.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s Snapshot) error
	GetSnapshot(ctx context.Context, id string) (Snapshot, bool, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Store is the persistent store capability consumed by the pipeline. The
// restore path runs inside WithinTx so a partial restore never leaves the
// covered record sets half-updated.
type Store interface {
	ArticleStore
	QueryStore
	SourceStore
	KeywordStore
	SearchEventStore
	ConfigStore
	SnapshotStore
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// ArtifactStore reads and writes backup artifacts.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	DeleteObject(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for checksum verification.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
