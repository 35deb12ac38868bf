package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mkrause/newsharvest/internal/harvest"
)

const queryColumns = `id, keywords, status, result_count, search_time_seconds, error_message,
	started_at, completed_at, created_at, updated_at`

// CreateQuery inserts a new search query.
func (s *Store) CreateQuery(ctx context.Context, q harvest.SearchQuery) (harvest.SearchQuery, error) {
	query := `
		INSERT INTO search_queries (` + queryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	_, err := s.db.Exec(ctx, query,
		q.ID, q.Keywords, q.Status, q.ResultCount, q.SearchTimeSeconds, q.ErrorMessage,
		q.StartedAt, q.CompletedAt, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		if mapped := mapError(err); errors.Is(mapped, ErrConflict) {
			return harvest.SearchQuery{}, ErrConflict
		}
		return harvest.SearchQuery{}, fmt.Errorf("failed to create query: %w", err)
	}
	return q, nil
}

// UpdateQuery replaces an existing query.
func (s *Store) UpdateQuery(ctx context.Context, q harvest.SearchQuery) (harvest.SearchQuery, error) {
	query := `
		UPDATE search_queries
		SET keywords = $2, status = $3, result_count = $4, search_time_seconds = $5,
			error_message = $6, started_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $1;
	`
	tag, err := s.db.Exec(ctx, query,
		q.ID, q.Keywords, q.Status, q.ResultCount, q.SearchTimeSeconds, q.ErrorMessage,
		q.StartedAt, q.CompletedAt, q.UpdatedAt,
	)
	if err != nil {
		return harvest.SearchQuery{}, fmt.Errorf("failed to update query: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.SearchQuery{}, ErrNotFound
	}
	return q, nil
}

// GetQuery fetches a query by ID.
func (s *Store) GetQuery(ctx context.Context, id string) (harvest.SearchQuery, bool, error) {
	query := `SELECT ` + queryColumns + ` FROM search_queries WHERE id = $1;`
	q, err := scanQuery(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.SearchQuery{}, false, nil
	}
	if err != nil {
		return harvest.SearchQuery{}, false, fmt.Errorf("failed to get query: %w", err)
	}
	return q, true, nil
}

// ListQueriesUpdatedSince lists queries created or updated after since.
func (s *Store) ListQueriesUpdatedSince(ctx context.Context, since time.Time) ([]harvest.SearchQuery, error) {
	query := `
		SELECT ` + queryColumns + `
		FROM search_queries
		WHERE updated_at > $1 OR created_at > $1
		ORDER BY created_at ASC;
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	var out []harvest.SearchQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query row: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate query rows: %w", err)
	}
	return out, nil
}

// CountQueriesByStatus groups queries created after since by status.
func (s *Store) CountQueriesByStatus(
	ctx context.Context,
	since time.Time,
) (map[harvest.QueryStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM search_queries
		WHERE created_at > $1
		GROUP BY status;
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count queries by status: %w", err)
	}
	defer rows.Close()

	out := map[harvest.QueryStatus]int{}
	for rows.Next() {
		var status harvest.QueryStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count row: %w", err)
		}
		out[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status count rows: %w", err)
	}
	return out, nil
}

// AverageSearchTime averages completed query durations since the cutoff.
func (s *Store) AverageSearchTime(ctx context.Context, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(AVG(search_time_seconds), 0)
		FROM search_queries
		WHERE status = $1 AND search_time_seconds > 0 AND created_at > $2;
	`
	var avg float64
	if err := s.db.QueryRow(ctx, query, harvest.QueryStatusCompleted, since).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to average search time: %w", err)
	}
	return avg, nil
}

func scanQuery(row pgx.Row) (harvest.SearchQuery, error) {
	var q harvest.SearchQuery
	err := row.Scan(
		&q.ID, &q.Keywords, &q.Status, &q.ResultCount, &q.SearchTimeSeconds, &q.ErrorMessage,
		&q.StartedAt, &q.CompletedAt, &q.CreatedAt, &q.UpdatedAt,
	)
	return q, err
}
