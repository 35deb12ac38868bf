package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mkrause/newsharvest/internal/harvest"
)

// UpsertSource inserts or updates a source keyed by URL.
func (s *Store) UpsertSource(ctx context.Context, src harvest.Source) (harvest.Source, error) {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	query := `
		INSERT INTO sources (id, name, url, kind, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url) DO UPDATE
		SET name = EXCLUDED.name, kind = EXCLUDED.kind, active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.db.Exec(ctx, query,
		src.ID, src.Name, src.URL, src.Kind, src.Active, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return harvest.Source{}, fmt.Errorf("failed to upsert source: %w", err)
	}
	return src, nil
}

// ListSources lists configured sources by name.
func (s *Store) ListSources(ctx context.Context, activeOnly bool) ([]harvest.Source, error) {
	query := `
		SELECT id, name, url, kind, active, created_at, updated_at
		FROM sources
		WHERE ($1 = false OR active = true)
		ORDER BY name ASC;
	`
	return s.querySources(ctx, query, activeOnly)
}

// ListSourcesUpdatedSince lists sources changed after since.
func (s *Store) ListSourcesUpdatedSince(ctx context.Context, since time.Time) ([]harvest.Source, error) {
	query := `
		SELECT id, name, url, kind, active, created_at, updated_at
		FROM sources
		WHERE updated_at > $1 OR created_at > $1;
	`
	return s.querySources(ctx, query, since)
}

func (s *Store) querySources(ctx context.Context, query string, args ...any) ([]harvest.Source, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []harvest.Source
	for rows.Next() {
		var src harvest.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.Kind, &src.Active,
			&src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source rows: %w", err)
	}
	return out, nil
}

// TouchKeyword upserts a keyword, bumping its usage counter.
func (s *Store) TouchKeyword(ctx context.Context, text string, at time.Time) (harvest.Keyword, error) {
	query := `
		INSERT INTO keywords (id, text, use_count, last_used_at, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $3, $3)
		ON CONFLICT (text) DO UPDATE
		SET use_count = keywords.use_count + 1, last_used_at = $3, updated_at = $3
		RETURNING id, text, use_count, last_used_at, created_at, updated_at;
	`
	kw, err := scanKeyword(s.db.QueryRow(ctx, query, uuid.NewString(), text, at))
	if err != nil {
		return harvest.Keyword{}, fmt.Errorf("failed to touch keyword: %w", err)
	}
	return kw, nil
}

// UpsertKeyword inserts or replaces a keyword record keyed by text.
func (s *Store) UpsertKeyword(ctx context.Context, kw harvest.Keyword) (harvest.Keyword, error) {
	if kw.ID == "" {
		kw.ID = uuid.NewString()
	}
	query := `
		INSERT INTO keywords (id, text, use_count, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (text) DO UPDATE
		SET use_count = EXCLUDED.use_count, last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.db.Exec(ctx, query,
		kw.ID, kw.Text, kw.UseCount, kw.LastUsedAt, kw.CreatedAt, kw.UpdatedAt,
	)
	if err != nil {
		return harvest.Keyword{}, fmt.Errorf("failed to upsert keyword: %w", err)
	}
	return kw, nil
}

// ListKeywords lists all keywords alphabetically.
func (s *Store) ListKeywords(ctx context.Context) ([]harvest.Keyword, error) {
	query := `
		SELECT id, text, use_count, last_used_at, created_at, updated_at
		FROM keywords
		ORDER BY text ASC;
	`
	return s.queryKeywords(ctx, query)
}

// ListKeywordsUpdatedSince lists keywords changed after since.
func (s *Store) ListKeywordsUpdatedSince(ctx context.Context, since time.Time) ([]harvest.Keyword, error) {
	query := `
		SELECT id, text, use_count, last_used_at, created_at, updated_at
		FROM keywords
		WHERE updated_at > $1 OR created_at > $1;
	`
	return s.queryKeywords(ctx, query, since)
}

func (s *Store) queryKeywords(ctx context.Context, query string, args ...any) ([]harvest.Keyword, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var out []harvest.Keyword
	for rows.Next() {
		kw, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyword row: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keyword rows: %w", err)
	}
	return out, nil
}

func scanKeyword(row pgx.Row) (harvest.Keyword, error) {
	var kw harvest.Keyword
	err := row.Scan(&kw.ID, &kw.Text, &kw.UseCount, &kw.LastUsedAt, &kw.CreatedAt, &kw.UpdatedAt)
	return kw, err
}

// RecordSearchEvent appends a provider call log entry.
func (s *Store) RecordSearchEvent(ctx context.Context, e harvest.SearchEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	query := `
		INSERT INTO search_events (id, query_id, keywords, result_count, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.db.Exec(ctx, query, e.ID, e.QueryID, e.Keywords, e.ResultCount, e.Provider, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record search event: %w", err)
	}
	return nil
}

// ListSearchEventsSince lists search events created after since.
func (s *Store) ListSearchEventsSince(ctx context.Context, since time.Time) ([]harvest.SearchEvent, error) {
	query := `
		SELECT id, query_id, keywords, result_count, provider, created_at
		FROM search_events
		WHERE created_at > $1
		ORDER BY created_at ASC;
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list search events: %w", err)
	}
	defer rows.Close()

	var out []harvest.SearchEvent
	for rows.Next() {
		var e harvest.SearchEvent
		if err := rows.Scan(&e.ID, &e.QueryID, &e.Keywords, &e.ResultCount, &e.Provider, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search event rows: %w", err)
	}
	return out, nil
}

// GetConfig fetches a configuration entry.
func (s *Store) GetConfig(ctx context.Context, key string) (harvest.ConfigEntry, bool, error) {
	query := `SELECT key, value, description, updated_at FROM config_entries WHERE key = $1;`
	var entry harvest.ConfigEntry
	err := s.db.QueryRow(ctx, query, key).Scan(&entry.Key, &entry.Value, &entry.Description, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.ConfigEntry{}, false, nil
	}
	if err != nil {
		return harvest.ConfigEntry{}, false, fmt.Errorf("failed to get config entry: %w", err)
	}
	return entry, true, nil
}

// SetConfig upserts a configuration entry.
func (s *Store) SetConfig(ctx context.Context, entry harvest.ConfigEntry) error {
	query := `
		INSERT INTO config_entries (key, value, description, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.db.Exec(ctx, query, entry.Key, entry.Value, entry.Description, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set config entry: %w", err)
	}
	return nil
}

// DeleteConfig removes a configuration entry.
func (s *Store) DeleteConfig(ctx context.Context, key string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM config_entries WHERE key = $1;`, key)
	if err != nil {
		return fmt.Errorf("failed to delete config entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConfigUpdatedSince lists configuration entries changed after since.
func (s *Store) ListConfigUpdatedSince(ctx context.Context, since time.Time) ([]harvest.ConfigEntry, error) {
	query := `
		SELECT key, value, description, updated_at
		FROM config_entries
		WHERE updated_at > $1
		ORDER BY key ASC;
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list config entries: %w", err)
	}
	defer rows.Close()

	var out []harvest.ConfigEntry
	for rows.Next() {
		var entry harvest.ConfigEntry
		if err := rows.Scan(&entry.Key, &entry.Value, &entry.Description, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan config entry row: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate config entry rows: %w", err)
	}
	return out, nil
}

// SaveSnapshot persists backup snapshot metadata.
func (s *Store) SaveSnapshot(ctx context.Context, snap harvest.Snapshot) error {
	query := `
		INSERT INTO snapshots (id, ts, kind, size_bytes, record_count, checksum, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET ts = EXCLUDED.ts, kind = EXCLUDED.kind, size_bytes = EXCLUDED.size_bytes,
			record_count = EXCLUDED.record_count, checksum = EXCLUDED.checksum,
			description = EXCLUDED.description;
	`
	_, err := s.db.Exec(ctx, query,
		snap.ID, snap.Timestamp, snap.Kind, snap.SizeBytes, snap.RecordCount,
		snap.Checksum, snap.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot fetches snapshot metadata by ID.
func (s *Store) GetSnapshot(ctx context.Context, id string) (harvest.Snapshot, bool, error) {
	query := `
		SELECT id, ts, kind, size_bytes, record_count, checksum, description
		FROM snapshots
		WHERE id = $1;
	`
	var snap harvest.Snapshot
	err := s.db.QueryRow(ctx, query, id).Scan(
		&snap.ID, &snap.Timestamp, &snap.Kind, &snap.SizeBytes, &snap.RecordCount,
		&snap.Checksum, &snap.Description,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.Snapshot{}, false, nil
	}
	if err != nil {
		return harvest.Snapshot{}, false, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, true, nil
}

// ListSnapshots lists snapshot metadata, newest first.
func (s *Store) ListSnapshots(ctx context.Context) ([]harvest.Snapshot, error) {
	query := `
		SELECT id, ts, kind, size_bytes, record_count, checksum, description
		FROM snapshots
		ORDER BY ts DESC;
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []harvest.Snapshot
	for rows.Next() {
		var snap harvest.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Timestamp, &snap.Kind, &snap.SizeBytes,
			&snap.RecordCount, &snap.Checksum, &snap.Description); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes snapshot metadata.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM snapshots WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
