package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/mkrause/newsharvest/internal/harvest"
)

const articleColumns = `id, url, title, content, summary, author, published_at, image_url,
	relevance_score, keyword_tags, status, source_job_id, metadata, created_at, updated_at`

// CreateArticle inserts a new article. A duplicate URL returns ErrConflict.
func (s *Store) CreateArticle(ctx context.Context, a harvest.Article) (harvest.Article, error) {
	query := `
		INSERT INTO articles (` + articleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
	`
	_, err := s.db.Exec(ctx, query,
		a.ID, a.URL, a.Title, a.Content, a.Summary, a.Author, a.PublishedAt, a.ImageURL,
		a.RelevanceScore, a.KeywordTags, a.Status, a.SourceJobID, a.Metadata, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, ErrConflict) {
			return harvest.Article{}, ErrConflict
		}
		return harvest.Article{}, fmt.Errorf("failed to create article: %w", err)
	}
	return a, nil
}

// UpdateArticle replaces an existing article by ID.
func (s *Store) UpdateArticle(ctx context.Context, a harvest.Article) (harvest.Article, error) {
	query := `
		UPDATE articles
		SET url = $2, title = $3, content = $4, summary = $5, author = $6,
			published_at = $7, image_url = $8, relevance_score = $9, keyword_tags = $10,
			status = $11, source_job_id = $12, metadata = $13, updated_at = $14
		WHERE id = $1;
	`
	tag, err := s.db.Exec(ctx, query,
		a.ID, a.URL, a.Title, a.Content, a.Summary, a.Author, a.PublishedAt, a.ImageURL,
		a.RelevanceScore, a.KeywordTags, a.Status, a.SourceJobID, a.Metadata, a.UpdatedAt,
	)
	if err != nil {
		return harvest.Article{}, fmt.Errorf("failed to update article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.Article{}, ErrNotFound
	}
	return a, nil
}

// UpsertArticle inserts or replaces an article keyed by URL.
func (s *Store) UpsertArticle(ctx context.Context, a harvest.Article) (harvest.Article, error) {
	query := `
		INSERT INTO articles (` + articleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (url) DO UPDATE
		SET title = EXCLUDED.title, content = EXCLUDED.content, summary = EXCLUDED.summary,
			author = EXCLUDED.author, published_at = EXCLUDED.published_at,
			image_url = EXCLUDED.image_url, relevance_score = EXCLUDED.relevance_score,
			keyword_tags = EXCLUDED.keyword_tags, status = EXCLUDED.status,
			source_job_id = EXCLUDED.source_job_id, metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.db.Exec(ctx, query,
		a.ID, a.URL, a.Title, a.Content, a.Summary, a.Author, a.PublishedAt, a.ImageURL,
		a.RelevanceScore, a.KeywordTags, a.Status, a.SourceJobID, a.Metadata, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return harvest.Article{}, fmt.Errorf("failed to upsert article: %w", err)
	}
	return a, nil
}

// GetArticleByURL returns the article for a URL, if any.
func (s *Store) GetArticleByURL(ctx context.Context, url string) (harvest.Article, bool, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE url = $1;`
	a, err := scanArticle(s.db.QueryRow(ctx, query, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.Article{}, false, nil
	}
	if err != nil {
		return harvest.Article{}, false, fmt.Errorf("failed to get article by url: %w", err)
	}
	return a, true, nil
}

// GetArticleInJob returns the article with the given URL scoped to a job.
func (s *Store) GetArticleInJob(ctx context.Context, url, jobID string) (harvest.Article, bool, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE url = $1 AND source_job_id = $2;`
	a, err := scanArticle(s.db.QueryRow(ctx, query, url, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.Article{}, false, nil
	}
	if err != nil {
		return harvest.Article{}, false, fmt.Errorf("failed to get article in job: %w", err)
	}
	return a, true, nil
}

// ListArticlesByJob lists a job's articles, optionally filtered by status,
// highest relevance first.
func (s *Store) ListArticlesByJob(
	ctx context.Context,
	jobID string,
	status harvest.ArticleStatus,
	limit int,
) ([]harvest.Article, error) {
	builder := psql.Select(articleColumns).
		From("articles").
		Where(sq.Eq{"source_job_id": jobID}).
		OrderBy("relevance_score DESC")
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job articles query: %w", err)
	}
	return s.queryArticles(ctx, query, args...)
}

// ListArticlesUpdatedSince lists articles created or updated after since.
func (s *Store) ListArticlesUpdatedSince(ctx context.Context, since time.Time) ([]harvest.Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM articles
		WHERE updated_at > $1 OR created_at > $1
		ORDER BY created_at ASC;
	`
	return s.queryArticles(ctx, query, since)
}

// ListArticlesNeedingNormalization pages through articles missing a score,
// keywords, or still in raw status.
func (s *Store) ListArticlesNeedingNormalization(ctx context.Context, limit, offset int) ([]harvest.Article, error) {
	builder := psql.Select(articleColumns).
		From("articles").
		Where(sq.Or{
			sq.Eq{"relevance_score": 0},
			sq.Expr("cardinality(keyword_tags) = 0"),
			sq.Eq{"status": harvest.ArticleStatusRaw},
		}).
		OrderBy("created_at ASC").
		Offset(uint64(offset))
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build normalization query: %w", err)
	}
	return s.queryArticles(ctx, query, args...)
}

// ListRecentArticlesByTitle finds recent articles whose title contains the
// given prefix, case-insensitively.
func (s *Store) ListRecentArticlesByTitle(
	ctx context.Context,
	titlePrefix string,
	since time.Time,
	limit int,
) ([]harvest.Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM articles
		WHERE created_at >= $1 AND title ILIKE '%' || $2 || '%'
		ORDER BY created_at ASC
		LIMIT $3;
	`
	return s.queryArticles(ctx, query, since, titlePrefix, limit)
}

// ReclassifyBelowScore marks a job's articles under the threshold as failed.
func (s *Store) ReclassifyBelowScore(ctx context.Context, jobID string, threshold float64) (int, error) {
	query := `
		UPDATE articles
		SET status = $1
		WHERE source_job_id = $2 AND status <> $1 AND relevance_score < $3;
	`
	tag, err := s.db.Exec(ctx, query, harvest.ArticleStatusFailed, jobID, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to reclassify articles: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountArticles returns the total number of stored articles.
func (s *Store) CountArticles(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM articles;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}

// AverageRelevance returns the mean relevance score across all articles.
func (s *Store) AverageRelevance(ctx context.Context) (float64, error) {
	var avg float64
	query := `SELECT COALESCE(AVG(relevance_score), 0) FROM articles;`
	if err := s.db.QueryRow(ctx, query).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to average relevance: %w", err)
	}
	return avg, nil
}

// CountArticlesByStatus counts articles with the given status.
func (s *Store) CountArticlesByStatus(ctx context.Context, status harvest.ArticleStatus) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM articles WHERE status = $1;`
	if err := s.db.QueryRow(ctx, query, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count articles by status: %w", err)
	}
	return count, nil
}

func (s *Store) queryArticles(ctx context.Context, query string, args ...any) ([]harvest.Article, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	var out []harvest.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate article rows: %w", err)
	}
	return out, nil
}

func scanArticle(row pgx.Row) (harvest.Article, error) {
	var a harvest.Article
	err := row.Scan(
		&a.ID, &a.URL, &a.Title, &a.Content, &a.Summary, &a.Author, &a.PublishedAt, &a.ImageURL,
		&a.RelevanceScore, &a.KeywordTags, &a.Status, &a.SourceJobID, &a.Metadata,
		&a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
