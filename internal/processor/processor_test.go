package processor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrause/newsharvest/internal/dedup"
	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/store/memory"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

type seqIDGen struct {
	n int
}

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProcessor(store *memory.Store) *Processor {
	clock := fakeClock{now: testNow}
	detector := dedup.New(store, clock, dedup.Config{}, nil)
	return New(store, detector, clock, &seqIDGen{}, Config{}, nil)
}

// goodContent builds a body long enough to clear the word-count gate, with
// the given keyword repeated so it scores and extracts.
func goodContent(keyword string) string {
	body := strings.Repeat("The "+keyword+" market continued its steady climb through the session today. ", 8)
	return keyword + " rally extends into another week\n" + body
}

func TestProcessCreatesArticle(t *testing.T) {
	t.Parallel()

	store := memory.New()
	p := newTestProcessor(store)

	item := harvest.RawItem{
		URL:     "https://news.example.com/article/btc",
		Content: goodContent("bitcoin"),
		Metadata: map[string]string{
			"author":       "Jane Reporter",
			"published_at": "2026-02-28",
		},
	}
	result := p.Process(context.Background(), item, "job-1", []string{"bitcoin"})

	require.Empty(t, result.Error)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ArticleID)
	assert.GreaterOrEqual(t, result.RelevanceScore, 10.0)

	stored, found, err := store.GetArticleByURL(context.Background(), item.URL)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, result.ArticleID, stored.ID)
	assert.Equal(t, "Jane Reporter", stored.Author)
	assert.Equal(t, harvest.ArticleStatusProcessed, stored.Status)
	assert.Contains(t, stored.KeywordTags, "bitcoin")
	require.NotNil(t, stored.PublishedAt)
	assert.Equal(t, 2026, stored.PublishedAt.Year())
}

func TestProcessRejectsShortContent(t *testing.T) {
	t.Parallel()

	store := memory.New()
	p := newTestProcessor(store)

	item := harvest.RawItem{
		URL:     "https://news.example.com/short",
		Content: "Bitcoin headline here\nOnly a handful of bitcoin words follow the title line.",
	}
	result := p.Process(context.Background(), item, "job-1", []string{"bitcoin"})

	assert.False(t, result.Success)
	assert.True(t, result.LowQuality)
	assert.Contains(t, result.Warnings, "Content too short (< 50 words)")

	_, found, err := store.GetArticleByURL(context.Background(), item.URL)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProcessRejectsIrrelevantContent(t *testing.T) {
	t.Parallel()

	store := memory.New()
	p := newTestProcessor(store)

	item := harvest.RawItem{
		URL:     "https://blog.example.com/recipes",
		Content: goodContent("sourdough"),
	}
	result := p.Process(context.Background(), item, "job-1", []string{"quantum"})

	assert.False(t, result.Success)
	assert.True(t, result.LowQuality)
	assert.Contains(t, result.Warnings, "Low relevance score")
}

func TestProcessRefreshesStaleArticle(t *testing.T) {
	t.Parallel()

	store := memory.New()
	p := newTestProcessor(store)

	old := testNow.Add(-60 * 24 * time.Hour)
	_, err := store.CreateArticle(context.Background(), harvest.Article{
		ID:          "orig-1",
		URL:         "https://news.example.com/article/btc",
		Title:       "Old title",
		Content:     "old body",
		KeywordTags: []string{"legacy"},
		Status:      harvest.ArticleStatusProcessed,
		SourceJobID: "job-0",
		CreatedAt:   old,
		UpdatedAt:   old,
	})
	require.NoError(t, err)

	item := harvest.RawItem{
		URL:     "https://news.example.com/article/btc",
		Content: goodContent("bitcoin"),
	}
	result := p.Process(context.Background(), item, "job-1", []string{"bitcoin"})

	require.Empty(t, result.Error)
	assert.True(t, result.Success)
	assert.Equal(t, "orig-1", result.ArticleID)

	stored, found, err := store.GetArticleByURL(context.Background(), item.URL)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "job-1", stored.SourceJobID)
	assert.Contains(t, stored.KeywordTags, "legacy")
	assert.Contains(t, stored.KeywordTags, "bitcoin")
	assert.Equal(t, testNow, stored.UpdatedAt)
	assert.Equal(t, old, stored.CreatedAt)
}

func TestProcessBatch(t *testing.T) {
	t.Parallel()

	store := memory.New()
	p := newTestProcessor(store)

	_, err := store.CreateArticle(context.Background(), harvest.Article{
		ID:        "seen-1",
		URL:       "https://news.example.com/article/seen",
		Title:     "Already ingested",
		Content:   "body",
		Status:    harvest.ArticleStatusProcessed,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	})
	require.NoError(t, err)

	items := []harvest.RawItem{
		{URL: "https://news.example.com/article/one", Content: goodContent("bitcoin")},
		{URL: "https://news.example.com/article/seen", Content: goodContent("bitcoin")},
		{URL: "https://news.example.com/article/two", Content: goodContent("bitcoin")},
	}
	stats := p.ProcessBatch(context.Background(), items, "job-1", []string{"bitcoin"})

	assert.Equal(t, 3, stats.TotalProcessed)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 1, stats.DuplicateCount)
	assert.Equal(t, 0, stats.ErrorCount)
	assert.Greater(t, stats.AverageRelevanceScore, 0.0)
}

func TestJobStats(t *testing.T) {
	t.Parallel()

	store := memory.New()
	p := newTestProcessor(store)

	_, found, err := p.JobStats(context.Background(), "job-none")
	require.NoError(t, err)
	assert.False(t, found)

	items := []harvest.RawItem{
		{URL: "https://news.example.com/article/one", Content: goodContent("bitcoin")},
		{URL: "https://news.example.com/short", Content: "too short"},
	}
	_ = p.ProcessBatch(context.Background(), items, "job-1", []string{"bitcoin"})

	stats, found, err := p.JobStats(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, stats.TotalProcessed)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.LowQualityCount)
	assert.Greater(t, stats.AverageRelevanceScore, 0.0)
}

func TestNormalizeExisting(t *testing.T) {
	t.Parallel()

	store := memory.New()
	p := newTestProcessor(store)

	_, err := store.CreateArticle(context.Background(), harvest.Article{
		ID:        "raw-1",
		URL:       "https://news.example.com/article/raw",
		Content:   "<h1>Bitcoin rally extends</h1><p>" + goodContent("bitcoin") + "</p>",
		Status:    harvest.ArticleStatusRaw,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	})
	require.NoError(t, err)

	processed, updated, errs, err := p.NormalizeExisting(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 0, errs)

	stored, found, err := store.GetArticleByURL(context.Background(), "https://news.example.com/article/raw")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, harvest.ArticleStatusProcessed, stored.Status)
	assert.NotEqual(t, "", stored.Title)
	assert.NotContains(t, stored.Content, "<h1>")
}

func TestMergeTags(t *testing.T) {
	t.Parallel()

	got := mergeTags([]string{"a", "b"}, []string{"b", "c", " "}, []string{"c", "d"})
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}
