package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrause/newsharvest/internal/harvest"
)

var testNow = time.Unix(1770000000, 0).UTC()

func testArticle() harvest.Article {
	return harvest.Article{
		ID:             "a1",
		URL:            "https://news.example.com/a",
		Title:          "Markets climb",
		Content:        "body",
		Summary:        "summary",
		Author:         "Jane Reporter",
		ImageURL:       "https://news.example.com/a.jpg",
		RelevanceScore: 42.5,
		KeywordTags:    []string{"bitcoin"},
		Status:         harvest.ArticleStatusProcessed,
		SourceJobID:    "job-1",
		Metadata:       map[string]string{"source": "web"},
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func TestCreateArticleInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)
	a := testArticle()

	mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			a.ID, a.URL, a.Title, a.Content, a.Summary, a.Author, a.PublishedAt, a.ImageURL,
			a.RelevanceScore, a.KeywordTags, a.Status, a.SourceJobID, a.Metadata, a.CreatedAt, a.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err = store.CreateArticle(context.Background(), a)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateArticleDuplicateURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)
	a := testArticle()

	mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			a.ID, a.URL, a.Title, a.Content, a.Summary, a.Author, a.PublishedAt, a.ImageURL,
			a.RelevanceScore, a.KeywordTags, a.Status, a.SourceJobID, a.Metadata, a.CreatedAt, a.UpdatedAt,
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err = store.CreateArticle(context.Background(), a)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArticleByURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)
	a := testArticle()

	rows := pgxmock.NewRows([]string{
		"id", "url", "title", "content", "summary", "author", "published_at", "image_url",
		"relevance_score", "keyword_tags", "status", "source_job_id", "metadata", "created_at", "updated_at",
	}).AddRow(
		a.ID, a.URL, a.Title, a.Content, a.Summary, a.Author, a.PublishedAt, a.ImageURL,
		a.RelevanceScore, a.KeywordTags, a.Status, a.SourceJobID, a.Metadata, a.CreatedAt, a.UpdatedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM articles WHERE url").
		WithArgs(a.URL).
		WillReturnRows(rows)

	got, found, err := store.GetArticleByURL(context.Background(), a.URL)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArticleByURLNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)

	mock.ExpectQuery("SELECT (.+) FROM articles WHERE url").
		WithArgs("https://news.example.com/missing").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.GetArticleByURL(context.Background(), "https://news.example.com/missing")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateArticleNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)
	a := testArticle()

	mock.ExpectExec("UPDATE articles").
		WithArgs(
			a.ID, a.URL, a.Title, a.Content, a.Summary, a.Author, a.PublishedAt, a.ImageURL,
			a.RelevanceScore, a.KeywordTags, a.Status, a.SourceJobID, a.Metadata, a.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err = store.UpdateArticle(context.Background(), a)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReclassifyBelowScore(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)

	mock.ExpectExec("UPDATE articles").
		WithArgs(harvest.ArticleStatusFailed, "job-1", 10.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	count, err := store.ReclassifyBelowScore(context.Background(), "job-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchKeywordUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)

	rows := pgxmock.NewRows([]string{"id", "text", "use_count", "last_used_at", "created_at", "updated_at"}).
		AddRow("kw-1", "bitcoin", 4, testNow, testNow.Add(-time.Hour), testNow)
	mock.ExpectQuery("INSERT INTO keywords").
		WithArgs(pgxmock.AnyArg(), "bitcoin", testNow).
		WillReturnRows(rows)

	kw, err := store.TouchKeyword(context.Background(), "bitcoin", testNow)
	require.NoError(t, err)
	assert.Equal(t, "kw-1", kw.ID)
	assert.Equal(t, 4, kw.UseCount)
	assert.Equal(t, testNow, kw.LastUsedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQueryNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)

	mock.ExpectQuery("SELECT (.+) FROM search_queries").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.GetQuery(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxCommits(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)

	mock.ExpectBegin()
	mock.ExpectBegin() // savepoint around the statement
	mock.ExpectExec("DELETE FROM config_entries").
		WithArgs("stale").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	mock.ExpectCommit()

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx harvest.Store) error {
		return tx.DeleteConfig(ctx, "stale")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxSurvivesRecordConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)
	a := testArticle()
	b := testArticle()
	b.ID = "a2"
	b.URL = "https://news.example.com/b"

	mock.ExpectBegin()
	// First insert hits a unique violation inside its savepoint; only the
	// savepoint rolls back.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			a.ID, a.URL, a.Title, a.Content, a.Summary, a.Author, a.PublishedAt, a.ImageURL,
			a.RelevanceScore, a.KeywordTags, a.Status, a.SourceJobID, a.Metadata, a.CreatedAt, a.UpdatedAt,
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()
	// The next insert still runs and the transaction commits.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			b.ID, b.URL, b.Title, b.Content, b.Summary, b.Author, b.PublishedAt, b.ImageURL,
			b.RelevanceScore, b.KeywordTags, b.Status, b.SourceJobID, b.Metadata, b.CreatedAt, b.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectCommit()

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx harvest.Store) error {
		if _, err := tx.CreateArticle(ctx, a); !errors.Is(err, ErrConflict) {
			return fmt.Errorf("want conflict, got %v", err)
		}
		_, err := tx.CreateArticle(ctx, b)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithDB(mock)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = store.WithinTx(context.Background(), func(context.Context, harvest.Store) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
