package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/store/memory"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func seedArticle(t *testing.T, store *memory.Store, id, url, title, content, jobID string, createdAt time.Time) {
	t.Helper()
	_, err := store.CreateArticle(context.Background(), harvest.Article{
		ID:          id,
		URL:         url,
		Title:       title,
		Content:     content,
		SourceJobID: jobID,
		Status:      harvest.ArticleStatusProcessed,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	})
	require.NoError(t, err)
}

func TestCheckDuplicateByURL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := fakeClock{now: now}

	t.Run("same url in same job", func(t *testing.T) {
		store := memory.New()
		seedArticle(t, store, "a1", "https://example.com/x", "T", "body", "job-1", now.Add(-time.Hour))
		d := New(store, clock, Config{}, nil)

		got, err := d.CheckDuplicate(context.Background(), "https://example.com/x", "body", "T", "job-1")
		require.NoError(t, err)
		assert.True(t, got.IsDuplicate)
		assert.Equal(t, "Same URL already exists in this job", got.Reason)
		assert.Equal(t, "a1", got.ExistingID)
	})

	t.Run("same url different job inside window", func(t *testing.T) {
		store := memory.New()
		seedArticle(t, store, "a1", "https://example.com/x", "T", "body", "job-1", now.Add(-24*time.Hour))
		d := New(store, clock, Config{}, nil)

		got, err := d.CheckDuplicate(context.Background(), "https://example.com/x", "body", "T", "job-2")
		require.NoError(t, err)
		assert.True(t, got.IsDuplicate)
		assert.Equal(t, "Same URL already exists", got.Reason)
	})

	t.Run("stale url outside window allows refresh", func(t *testing.T) {
		store := memory.New()
		seedArticle(t, store, "a1", "https://example.com/x", "T", "body", "job-1", now.Add(-40*24*time.Hour))
		d := New(store, clock, Config{RefetchWindow: 30 * 24 * time.Hour}, nil)

		got, err := d.CheckDuplicate(context.Background(), "https://example.com/x", "body", "T", "job-2")
		require.NoError(t, err)
		assert.False(t, got.IsDuplicate)
	})

	t.Run("unknown url is clean", func(t *testing.T) {
		store := memory.New()
		d := New(store, clock, Config{}, nil)

		got, err := d.CheckDuplicate(context.Background(), "https://example.com/new", "body", "T", "job-1")
		require.NoError(t, err)
		assert.False(t, got.IsDuplicate)
	})
}

func TestCheckDuplicateSimilarity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := fakeClock{now: now}
	content := "Breaking market news\nmarkets rallied strongly as investors cheered robust earnings results"

	t.Run("disabled by default", func(t *testing.T) {
		store := memory.New()
		seedArticle(t, store, "a1", "https://other.com/x", "Breaking market news", content, "job-1", now.Add(-time.Hour))
		d := New(store, clock, Config{}, nil)

		got, err := d.CheckDuplicate(context.Background(), "https://example.com/y", content, "Breaking market news", "job-2")
		require.NoError(t, err)
		assert.False(t, got.IsDuplicate)
	})

	t.Run("enabled catches near-identical content", func(t *testing.T) {
		store := memory.New()
		seedArticle(t, store, "a1", "https://other.com/x", "Breaking market news", content, "job-1", now.Add(-time.Hour))
		d := New(store, clock, Config{SimilarityCheck: true}, nil)

		got, err := d.CheckDuplicate(context.Background(), "https://example.com/y", content, "Breaking market news", "job-2")
		require.NoError(t, err)
		assert.True(t, got.IsDuplicate)
		assert.Equal(t, "Exact duplicate", got.Reason)
		assert.Equal(t, "a1", got.ExistingID)
	})

	t.Run("candidates outside window ignored", func(t *testing.T) {
		store := memory.New()
		seedArticle(t, store, "a1", "https://other.com/x", "Breaking market news", content, "job-1", now.Add(-30*24*time.Hour))
		d := New(store, clock, Config{SimilarityCheck: true, RefetchWindow: 60 * 24 * time.Hour}, nil)

		got, err := d.CheckDuplicate(context.Background(), "https://example.com/y", content, "Breaking market news", "job-2")
		require.NoError(t, err)
		assert.False(t, got.IsDuplicate)
	})
}
