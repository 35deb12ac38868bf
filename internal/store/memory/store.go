// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkrause/newsharvest/internal/harvest"
)

// ErrConflict is returned when a unique constraint would be violated.
var ErrConflict = errors.New("record conflict")

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store implements harvest.Store with maps. URL uniqueness on articles
// mirrors the relational unique constraint.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	articles   map[string]harvest.Article
	articleURL map[string]string
	queries    map[string]harvest.SearchQuery
	sources    map[string]harvest.Source
	sourceURL  map[string]string
	keywords   map[string]harvest.Keyword
	events     []harvest.SearchEvent
	config     map[string]harvest.ConfigEntry
	snapshots  map[string]harvest.Snapshot
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		articles:   make(map[string]harvest.Article),
		articleURL: make(map[string]string),
		queries:    make(map[string]harvest.SearchQuery),
		sources:    make(map[string]harvest.Source),
		sourceURL:  make(map[string]string),
		keywords:   make(map[string]harvest.Keyword),
		config:     make(map[string]harvest.ConfigEntry),
		snapshots:  make(map[string]harvest.Snapshot),
	}
}

// CreateArticle inserts a new article, enforcing URL uniqueness.
func (s *Store) CreateArticle(_ context.Context, a harvest.Article) (harvest.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := s.articles[a.ID]; exists {
		return harvest.Article{}, ErrConflict
	}
	if _, exists := s.articleURL[a.URL]; exists {
		return harvest.Article{}, ErrConflict
	}
	s.articles[a.ID] = a
	s.articleURL[a.URL] = a.ID
	return a, nil
}

// UpdateArticle replaces an existing article by ID.
func (s *Store) UpdateArticle(_ context.Context, a harvest.Article) (harvest.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.articles[a.ID]
	if !ok {
		return harvest.Article{}, ErrNotFound
	}
	if old.URL != a.URL {
		delete(s.articleURL, old.URL)
		s.articleURL[a.URL] = a.ID
	}
	s.articles[a.ID] = a
	return a, nil
}

// UpsertArticle inserts or replaces an article by ID.
func (s *Store) UpsertArticle(_ context.Context, a harvest.Article) (harvest.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if old, ok := s.articles[a.ID]; ok && old.URL != a.URL {
		delete(s.articleURL, old.URL)
	}
	s.articles[a.ID] = a
	s.articleURL[a.URL] = a.ID
	return a, nil
}

// GetArticleByURL returns the live article for a URL, if any.
func (s *Store) GetArticleByURL(_ context.Context, url string) (harvest.Article, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.articleURL[url]
	if !ok {
		return harvest.Article{}, false, nil
	}
	return s.articles[id], true, nil
}

// GetArticleInJob returns the article with the given URL scoped to a job.
func (s *Store) GetArticleInJob(_ context.Context, url, jobID string) (harvest.Article, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.articles {
		if a.URL == url && a.SourceJobID == jobID {
			return a, true, nil
		}
	}
	return harvest.Article{}, false, nil
}

// ListArticlesByJob lists a job's articles, optionally filtered by status,
// highest relevance first.
func (s *Store) ListArticlesByJob(
	_ context.Context,
	jobID string,
	status harvest.ArticleStatus,
	limit int,
) ([]harvest.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Article
	for _, a := range s.articles {
		if a.SourceJobID != jobID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListArticlesUpdatedSince lists articles created or updated after since.
func (s *Store) ListArticlesUpdatedSince(_ context.Context, since time.Time) ([]harvest.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Article
	for _, a := range s.articles {
		if a.UpdatedAt.After(since) || a.CreatedAt.After(since) {
			out = append(out, a)
		}
	}
	sortArticlesByCreation(out)
	return out, nil
}

// ListArticlesNeedingNormalization pages through articles missing a score,
// keywords, or still in raw status.
func (s *Store) ListArticlesNeedingNormalization(_ context.Context, limit, offset int) ([]harvest.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Article
	for _, a := range s.articles {
		if a.RelevanceScore == 0 || len(a.KeywordTags) == 0 || a.Status == harvest.ArticleStatusRaw {
			out = append(out, a)
		}
	}
	sortArticlesByCreation(out)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRecentArticlesByTitle finds recent articles whose title contains the
// given prefix.
func (s *Store) ListRecentArticlesByTitle(
	_ context.Context,
	titlePrefix string,
	since time.Time,
	limit int,
) ([]harvest.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(titlePrefix)
	var out []harvest.Article
	for _, a := range s.articles {
		if a.CreatedAt.Before(since) {
			continue
		}
		if strings.Contains(strings.ToLower(a.Title), needle) {
			out = append(out, a)
		}
	}
	sortArticlesByCreation(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReclassifyBelowScore marks a job's articles under the threshold as failed.
func (s *Store) ReclassifyBelowScore(_ context.Context, jobID string, threshold float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, a := range s.articles {
		if a.SourceJobID == jobID && a.Status != harvest.ArticleStatusFailed && a.RelevanceScore < threshold {
			a.Status = harvest.ArticleStatusFailed
			s.articles[id] = a
			count++
		}
	}
	return count, nil
}

// CountArticles returns the total number of stored articles.
func (s *Store) CountArticles(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles), nil
}

// AverageRelevance returns the mean relevance score across all articles.
func (s *Store) AverageRelevance(_ context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.articles) == 0 {
		return 0, nil
	}
	total := 0.0
	for _, a := range s.articles {
		total += a.RelevanceScore
	}
	return total / float64(len(s.articles)), nil
}

// CountArticlesByStatus counts articles with the given status.
func (s *Store) CountArticlesByStatus(_ context.Context, status harvest.ArticleStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, a := range s.articles {
		if a.Status == status {
			count++
		}
	}
	return count, nil
}

// CreateQuery inserts a new search query.
func (s *Store) CreateQuery(_ context.Context, q harvest.SearchQuery) (harvest.SearchQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if _, exists := s.queries[q.ID]; exists {
		return harvest.SearchQuery{}, ErrConflict
	}
	s.queries[q.ID] = q
	return q, nil
}

// UpdateQuery replaces an existing query.
func (s *Store) UpdateQuery(_ context.Context, q harvest.SearchQuery) (harvest.SearchQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[q.ID]; !ok {
		return harvest.SearchQuery{}, ErrNotFound
	}
	s.queries[q.ID] = q
	return q, nil
}

// GetQuery fetches a query by ID.
func (s *Store) GetQuery(_ context.Context, id string) (harvest.SearchQuery, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[id]
	return q, ok, nil
}

// ListQueriesUpdatedSince lists queries created or updated after since.
func (s *Store) ListQueriesUpdatedSince(_ context.Context, since time.Time) ([]harvest.SearchQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.SearchQuery
	for _, q := range s.queries {
		if q.UpdatedAt.After(since) || q.CreatedAt.After(since) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountQueriesByStatus groups queries created after since by status.
func (s *Store) CountQueriesByStatus(
	_ context.Context,
	since time.Time,
) (map[harvest.QueryStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[harvest.QueryStatus]int{}
	for _, q := range s.queries {
		if q.CreatedAt.After(since) {
			out[q.Status]++
		}
	}
	return out, nil
}

// AverageSearchTime averages completed query durations since the cutoff.
func (s *Store) AverageSearchTime(_ context.Context, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, count := 0.0, 0
	for _, q := range s.queries {
		if q.Status == harvest.QueryStatusCompleted && q.SearchTimeSeconds > 0 && q.CreatedAt.After(since) {
			total += q.SearchTimeSeconds
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// UpsertSource inserts or updates a source keyed by URL.
func (s *Store) UpsertSource(_ context.Context, src harvest.Source) (harvest.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sourceURL[src.URL]; ok && src.ID == "" {
		src.ID = id
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	s.sources[src.ID] = src
	s.sourceURL[src.URL] = src.ID
	return src, nil
}

// ListSources lists configured sources.
func (s *Store) ListSources(_ context.Context, activeOnly bool) ([]harvest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Source
	for _, src := range s.sources {
		if activeOnly && !src.Active {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListSourcesUpdatedSince lists sources changed after since.
func (s *Store) ListSourcesUpdatedSince(_ context.Context, since time.Time) ([]harvest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Source
	for _, src := range s.sources {
		if src.UpdatedAt.After(since) || src.CreatedAt.After(since) {
			out = append(out, src)
		}
	}
	return out, nil
}

// TouchKeyword upserts a keyword, bumping its usage counter.
func (s *Store) TouchKeyword(_ context.Context, text string, at time.Time) (harvest.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kw, ok := s.keywords[text]
	if !ok {
		kw = harvest.Keyword{ID: uuid.NewString(), Text: text, CreatedAt: at}
	}
	kw.UseCount++
	kw.LastUsedAt = at
	kw.UpdatedAt = at
	s.keywords[text] = kw
	return kw, nil
}

// UpsertKeyword inserts or replaces a keyword record keyed by text.
func (s *Store) UpsertKeyword(_ context.Context, kw harvest.Keyword) (harvest.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.keywords[kw.Text]; ok && kw.ID == "" {
		kw.ID = existing.ID
	}
	if kw.ID == "" {
		kw.ID = uuid.NewString()
	}
	s.keywords[kw.Text] = kw
	return kw, nil
}

// ListKeywords lists all keywords.
func (s *Store) ListKeywords(_ context.Context) ([]harvest.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Keyword
	for _, kw := range s.keywords {
		out = append(out, kw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Text < out[j].Text })
	return out, nil
}

// ListKeywordsUpdatedSince lists keywords changed after since.
func (s *Store) ListKeywordsUpdatedSince(_ context.Context, since time.Time) ([]harvest.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Keyword
	for _, kw := range s.keywords {
		if kw.UpdatedAt.After(since) || kw.CreatedAt.After(since) {
			out = append(out, kw)
		}
	}
	return out, nil
}

// RecordSearchEvent appends a provider call log entry.
func (s *Store) RecordSearchEvent(_ context.Context, e harvest.SearchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.events = append(s.events, e)
	return nil
}

// ListSearchEventsSince lists search events created after since.
func (s *Store) ListSearchEventsSince(_ context.Context, since time.Time) ([]harvest.SearchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.SearchEvent
	for _, e := range s.events {
		if e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetConfig fetches a configuration entry.
func (s *Store) GetConfig(_ context.Context, key string) (harvest.ConfigEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.config[key]
	return entry, ok, nil
}

// SetConfig upserts a configuration entry.
func (s *Store) SetConfig(_ context.Context, entry harvest.ConfigEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[entry.Key] = entry
	return nil
}

// DeleteConfig removes a configuration entry.
func (s *Store) DeleteConfig(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.config[key]; !ok {
		return ErrNotFound
	}
	delete(s.config, key)
	return nil
}

// ListConfigUpdatedSince lists configuration entries changed after since.
func (s *Store) ListConfigUpdatedSince(_ context.Context, since time.Time) ([]harvest.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.ConfigEntry
	for _, entry := range s.config {
		if entry.UpdatedAt.After(since) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SaveSnapshot persists backup snapshot metadata.
func (s *Store) SaveSnapshot(_ context.Context, snap harvest.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = snap
	return nil
}

// GetSnapshot fetches snapshot metadata by ID.
func (s *Store) GetSnapshot(_ context.Context, id string) (harvest.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	return snap, ok, nil
}

// ListSnapshots lists snapshot metadata, newest first.
func (s *Store) ListSnapshots(_ context.Context) ([]harvest.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.Snapshot
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// DeleteSnapshot removes snapshot metadata.
func (s *Store) DeleteSnapshot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return ErrNotFound
	}
	delete(s.snapshots, id)
	return nil
}

// WithinTx runs fn against the store, restoring the previous state if fn
// returns an error. Serialized with other transactions.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx harvest.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	backup := s.snapshotState()
	if err := fn(ctx, s); err != nil {
		s.restoreState(backup)
		return err
	}
	return nil
}

type stateSnapshot struct {
	articles   map[string]harvest.Article
	articleURL map[string]string
	queries    map[string]harvest.SearchQuery
	sources    map[string]harvest.Source
	sourceURL  map[string]string
	keywords   map[string]harvest.Keyword
	events     []harvest.SearchEvent
	config     map[string]harvest.ConfigEntry
	snapshots  map[string]harvest.Snapshot
}

func (s *Store) snapshotState() stateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stateSnapshot{
		articles:   cloneMap(s.articles),
		articleURL: cloneMap(s.articleURL),
		queries:    cloneMap(s.queries),
		sources:    cloneMap(s.sources),
		sourceURL:  cloneMap(s.sourceURL),
		keywords:   cloneMap(s.keywords),
		events:     append([]harvest.SearchEvent(nil), s.events...),
		config:     cloneMap(s.config),
		snapshots:  cloneMap(s.snapshots),
	}
}

func (s *Store) restoreState(snap stateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles = snap.articles
	s.articleURL = snap.articleURL
	s.queries = snap.queries
	s.sources = snap.sources
	s.sourceURL = snap.sourceURL
	s.keywords = snap.keywords
	s.events = snap.events
	s.config = snap.config
	s.snapshots = snap.snapshots
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortArticlesByCreation(list []harvest.Article) {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
}
