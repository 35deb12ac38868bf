// Package backup produces snapshot artifacts of stored pipeline state and
// restores them, with checksum verification and retention cleanup.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/metrics"
)

// SchemaMarker identifies the artifact layout version.
const SchemaMarker = "newsharvest-backup-v1"

const artifactContentType = "application/json"

// Table names accepted in RestoreOptions.SkipTables.
const (
	TableArticles = "articles"
	TableSources  = "sources"
	TableJobs     = "jobs"
	TableKeywords = "keywords"
	TableHistory  = "searchHistory"
	TableConfig   = "config"
)

// artifact is the serialized snapshot written to the artifact store.
type artifact struct {
	Metadata artifactMetadata `json:"metadata"`
	Data     artifactData     `json:"data"`
}

type artifactMetadata struct {
	ID           string               `json:"id"`
	Timestamp    time.Time            `json:"timestamp"`
	Kind         harvest.SnapshotKind `json:"kind"`
	Description  string               `json:"description,omitempty"`
	SchemaMarker string               `json:"schema_marker"`
}

type artifactData struct {
	Articles      []harvest.Article     `json:"articles"`
	Sources       []harvest.Source      `json:"sources"`
	Jobs          []harvest.SearchQuery `json:"jobs"`
	Keywords      []harvest.Keyword     `json:"keywords"`
	SearchHistory []harvest.SearchEvent `json:"searchHistory"`
	Config        []harvest.ConfigEntry `json:"config"`
}

func (d artifactData) recordCount() int {
	return len(d.Articles) + len(d.Sources) + len(d.Jobs) +
		len(d.Keywords) + len(d.SearchHistory) + len(d.Config)
}

// RestoreOptions controls restore conflict handling and table selection.
type RestoreOptions struct {
	OverwriteExisting bool     `json:"overwrite_existing"`
	SkipTables        []string `json:"skip_tables,omitempty"`
}

// RecoveryResult reports the outcome of one restore.
type RecoveryResult struct {
	Success         bool          `json:"success"`
	SnapshotID      string        `json:"snapshot_id"`
	RecordsRestored int           `json:"records_restored"`
	Errors          []string      `json:"errors,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// VerifyResult reports snapshot integrity findings.
type VerifyResult struct {
	SnapshotID string   `json:"snapshot_id"`
	IsValid    bool     `json:"is_valid"`
	Issues     []string `json:"issues,omitempty"`
}

// Service creates, restores and verifies snapshots. Artifacts live in the
// artifact store; snapshot metadata lives alongside the data in the store.
type Service struct {
	store    harvest.Store
	artifact harvest.ArtifactStore
	hasher   harvest.Hasher
	clock    harvest.Clock
	logger   *zap.Logger
}

// New constructs a Service.
func New(
	store harvest.Store,
	artifactStore harvest.ArtifactStore,
	hasher harvest.Hasher,
	clock harvest.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		artifact: artifactStore,
		hasher:   hasher,
		clock:    clock,
		logger:   logger,
	}
}

// FullBackup snapshots every covered record set.
func (s *Service) FullBackup(ctx context.Context, description string) (harvest.Snapshot, error) {
	return s.backup(ctx, harvest.SnapshotFull, time.Time{}, description)
}

// IncrementalBackup snapshots records created or updated after since.
func (s *Service) IncrementalBackup(ctx context.Context, since time.Time, description string) (harvest.Snapshot, error) {
	return s.backup(ctx, harvest.SnapshotIncremental, since, description)
}

func (s *Service) backup(
	ctx context.Context,
	kind harvest.SnapshotKind,
	since time.Time,
	description string,
) (harvest.Snapshot, error) {
	start := s.clock.Now()
	id := snapshotID(kind, start)

	data, err := s.collect(ctx, since)
	if err != nil {
		metrics.ObserveBackup(string(kind), "error", 0)
		return harvest.Snapshot{}, fmt.Errorf("collect %s backup data: %w", kind, err)
	}

	art := artifact{
		Metadata: artifactMetadata{
			ID:           id,
			Timestamp:    start,
			Kind:         kind,
			Description:  description,
			SchemaMarker: SchemaMarker,
		},
		Data: data,
	}
	payload, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		metrics.ObserveBackup(string(kind), "error", 0)
		return harvest.Snapshot{}, fmt.Errorf("encode backup artifact: %w", err)
	}

	checksum, err := s.hasher.Hash(payload)
	if err != nil {
		metrics.ObserveBackup(string(kind), "error", 0)
		return harvest.Snapshot{}, fmt.Errorf("checksum backup artifact: %w", err)
	}

	if _, err := s.artifact.PutObject(ctx, artifactPath(id), artifactContentType, payload); err != nil {
		metrics.ObserveBackup(string(kind), "error", 0)
		return harvest.Snapshot{}, fmt.Errorf("store backup artifact: %w", err)
	}

	snap := harvest.Snapshot{
		ID:          id,
		Timestamp:   start,
		Kind:        kind,
		SizeBytes:   int64(len(payload)),
		RecordCount: data.recordCount(),
		Checksum:    checksum,
		Description: description,
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		metrics.ObserveBackup(string(kind), "error", 0)
		return harvest.Snapshot{}, fmt.Errorf("save snapshot metadata: %w", err)
	}

	elapsed := s.clock.Now().Sub(start)
	metrics.ObserveBackup(string(kind), "success", elapsed)
	s.logger.Info("backup created",
		zap.String("snapshot_id", id),
		zap.String("kind", string(kind)),
		zap.Int("records", snap.RecordCount),
		zap.Int64("bytes", snap.SizeBytes),
		zap.Duration("elapsed", elapsed),
	)
	return snap, nil
}

func (s *Service) collect(ctx context.Context, since time.Time) (artifactData, error) {
	var data artifactData
	var err error
	if data.Articles, err = s.store.ListArticlesUpdatedSince(ctx, since); err != nil {
		return data, fmt.Errorf("list articles: %w", err)
	}
	if data.Sources, err = s.store.ListSourcesUpdatedSince(ctx, since); err != nil {
		return data, fmt.Errorf("list sources: %w", err)
	}
	if data.Jobs, err = s.store.ListQueriesUpdatedSince(ctx, since); err != nil {
		return data, fmt.Errorf("list jobs: %w", err)
	}
	if data.Keywords, err = s.store.ListKeywordsUpdatedSince(ctx, since); err != nil {
		return data, fmt.Errorf("list keywords: %w", err)
	}
	if data.SearchHistory, err = s.store.ListSearchEventsSince(ctx, since); err != nil {
		return data, fmt.Errorf("list search history: %w", err)
	}
	if data.Config, err = s.store.ListConfigUpdatedSince(ctx, since); err != nil {
		return data, fmt.Errorf("list config: %w", err)
	}
	return data, nil
}

// Restore loads a snapshot artifact and writes its records back into the
// store inside one transaction. A checksum mismatch is a warning; a missing
// or unreadable artifact is a hard failure. Per-record conflicts are
// collected, never fatal.
func (s *Service) Restore(ctx context.Context, snapshotID string, opts RestoreOptions) (RecoveryResult, error) {
	start := s.clock.Now()
	result := RecoveryResult{SnapshotID: snapshotID}

	payload, err := s.artifact.GetObject(ctx, artifactPath(snapshotID))
	if err != nil {
		return result, fmt.Errorf("load backup artifact %s: %w", snapshotID, err)
	}

	var art artifact
	if err := json.Unmarshal(payload, &art); err != nil {
		return result, fmt.Errorf("decode backup artifact %s: %w", snapshotID, err)
	}
	if art.Metadata.SchemaMarker != SchemaMarker {
		return result, fmt.Errorf("backup artifact %s has unknown schema %q", snapshotID, art.Metadata.SchemaMarker)
	}

	if snap, found, err := s.store.GetSnapshot(ctx, snapshotID); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("load snapshot metadata: %v", err))
	} else if !found {
		result.Warnings = append(result.Warnings, "snapshot metadata not found, checksum not verified")
	} else {
		checksum, err := s.hasher.Hash(payload)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("compute checksum: %v", err))
		} else if checksum != snap.Checksum {
			result.Warnings = append(result.Warnings, "checksum mismatch, artifact may have been modified")
		}
	}

	skip := map[string]bool{}
	for _, table := range opts.SkipTables {
		skip[table] = true
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx harvest.Store) error {
		if !skip[TableSources] {
			s.restoreSources(ctx, tx, art.Data.Sources, opts, &result)
		}
		if !skip[TableJobs] {
			s.restoreJobs(ctx, tx, art.Data.Jobs, opts, &result)
		}
		if !skip[TableArticles] {
			s.restoreArticles(ctx, tx, art.Data.Articles, opts, &result)
		}
		if !skip[TableKeywords] {
			s.restoreKeywords(ctx, tx, art.Data.Keywords, &result)
		}
		if !skip[TableHistory] {
			s.restoreHistory(ctx, tx, art.Data.SearchHistory, &result)
		}
		if !skip[TableConfig] {
			s.restoreConfig(ctx, tx, art.Data.Config, opts, &result)
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("restore transaction: %w", err)
	}

	result.Success = len(result.Errors) == 0
	result.Duration = s.clock.Now().Sub(start)
	s.logger.Info("restore finished",
		zap.String("snapshot_id", snapshotID),
		zap.Bool("success", result.Success),
		zap.Int("restored", result.RecordsRestored),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

func (s *Service) restoreArticles(ctx context.Context, tx harvest.Store, articles []harvest.Article, opts RestoreOptions, result *RecoveryResult) {
	for _, a := range articles {
		var err error
		if opts.OverwriteExisting {
			_, err = tx.UpsertArticle(ctx, a)
		} else {
			_, err = tx.CreateArticle(ctx, a)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("article %s: %v", a.URL, err))
			continue
		}
		result.RecordsRestored++
	}
}

func (s *Service) restoreJobs(ctx context.Context, tx harvest.Store, jobs []harvest.SearchQuery, opts RestoreOptions, result *RecoveryResult) {
	for _, job := range jobs {
		_, exists, err := tx.GetQuery(ctx, job.ID)
		if err == nil {
			switch {
			case exists && opts.OverwriteExisting:
				_, err = tx.UpdateQuery(ctx, job)
			case exists:
				err = errors.New("already exists")
			default:
				_, err = tx.CreateQuery(ctx, job)
			}
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("job %s: %v", job.ID, err))
			continue
		}
		result.RecordsRestored++
	}
}

func (s *Service) restoreSources(ctx context.Context, tx harvest.Store, sources []harvest.Source, opts RestoreOptions, result *RecoveryResult) {
	existing := map[string]bool{}
	if !opts.OverwriteExisting {
		current, err := tx.ListSources(ctx, false)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("list sources: %v", err))
			return
		}
		for _, src := range current {
			existing[src.URL] = true
		}
	}
	for _, src := range sources {
		if existing[src.URL] {
			result.Errors = append(result.Errors, fmt.Sprintf("source %s: already exists", src.URL))
			continue
		}
		if _, err := tx.UpsertSource(ctx, src); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("source %s: %v", src.URL, err))
			continue
		}
		result.RecordsRestored++
	}
}

func (s *Service) restoreKeywords(ctx context.Context, tx harvest.Store, keywords []harvest.Keyword, result *RecoveryResult) {
	for _, kw := range keywords {
		if _, err := tx.UpsertKeyword(ctx, kw); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("keyword %s: %v", kw.Text, err))
			continue
		}
		result.RecordsRestored++
	}
}

func (s *Service) restoreHistory(ctx context.Context, tx harvest.Store, events []harvest.SearchEvent, result *RecoveryResult) {
	for _, e := range events {
		if err := tx.RecordSearchEvent(ctx, e); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("search event %s: %v", e.ID, err))
			continue
		}
		result.RecordsRestored++
	}
}

func (s *Service) restoreConfig(ctx context.Context, tx harvest.Store, entries []harvest.ConfigEntry, opts RestoreOptions, result *RecoveryResult) {
	for _, entry := range entries {
		if !opts.OverwriteExisting {
			if _, exists, err := tx.GetConfig(ctx, entry.Key); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("config %s: %v", entry.Key, err))
				continue
			} else if exists {
				result.Errors = append(result.Errors, fmt.Sprintf("config %s: already exists", entry.Key))
				continue
			}
		}
		if err := tx.SetConfig(ctx, entry); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("config %s: %v", entry.Key, err))
			continue
		}
		result.RecordsRestored++
	}
}

// Verify checks a snapshot's artifact without modifying anything.
func (s *Service) Verify(ctx context.Context, snapshotID string) (VerifyResult, error) {
	result := VerifyResult{SnapshotID: snapshotID}

	snap, found, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return result, fmt.Errorf("load snapshot metadata: %w", err)
	}
	if !found {
		result.Issues = append(result.Issues, "snapshot metadata not found")
		return result, nil
	}

	exists, err := s.artifact.Exists(ctx, artifactPath(snapshotID))
	if err != nil {
		return result, fmt.Errorf("check backup artifact: %w", err)
	}
	if !exists {
		result.Issues = append(result.Issues, "backup artifact missing")
		return result, nil
	}

	payload, err := s.artifact.GetObject(ctx, artifactPath(snapshotID))
	if err != nil {
		return result, fmt.Errorf("load backup artifact: %w", err)
	}

	checksum, err := s.hasher.Hash(payload)
	if err != nil {
		return result, fmt.Errorf("compute checksum: %w", err)
	}
	if checksum != snap.Checksum {
		result.Issues = append(result.Issues, "checksum mismatch")
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(payload, &sections); err != nil {
		result.Issues = append(result.Issues, "artifact is not valid JSON")
		return result, nil
	}
	truncated := false
	for _, section := range []string{"metadata", "data"} {
		if _, ok := sections[section]; !ok {
			result.Issues = append(result.Issues, fmt.Sprintf("artifact %s section missing", section))
			truncated = true
		}
	}
	if truncated {
		return result, nil
	}

	var art artifact
	if err := json.Unmarshal(payload, &art); err != nil {
		result.Issues = append(result.Issues, "artifact sections have unexpected shape")
		return result, nil
	}
	if art.Metadata.SchemaMarker != SchemaMarker {
		result.Issues = append(result.Issues, fmt.Sprintf("unknown schema marker %q", art.Metadata.SchemaMarker))
	}
	if got := art.Data.recordCount(); got != snap.RecordCount {
		result.Issues = append(result.Issues,
			fmt.Sprintf("record count mismatch: metadata says %d, artifact has %d", snap.RecordCount, got))
	}

	result.IsValid = len(result.Issues) == 0
	return result, nil
}

// Cleanup deletes snapshots older than the retention window. Returns how
// many were removed.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().AddDate(0, 0, -retentionDays)

	snapshots, err := s.store.ListSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	removed := 0
	for _, snap := range snapshots {
		if !snap.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.artifact.DeleteObject(ctx, artifactPath(snap.ID)); err != nil {
			s.logger.Warn("delete backup artifact failed",
				zap.String("snapshot_id", snap.ID), zap.Error(err))
		}
		if err := s.store.DeleteSnapshot(ctx, snap.ID); err != nil {
			s.logger.Warn("delete snapshot metadata failed",
				zap.String("snapshot_id", snap.ID), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("old snapshots removed",
			zap.Int("removed", removed), zap.Int("retention_days", retentionDays))
	}
	return removed, nil
}

// List returns all snapshot metadata, newest first.
func (s *Service) List(ctx context.Context) ([]harvest.Snapshot, error) {
	return s.store.ListSnapshots(ctx)
}

// snapshotID builds IDs like full_2026-01-02T15-04-05Z. Colons and dots are
// replaced so the ID is safe as an object name on every artifact backend.
func snapshotID(kind harvest.SnapshotKind, at time.Time) string {
	ts := at.UTC().Format(time.RFC3339)
	ts = strings.ReplaceAll(ts, ":", "-")
	ts = strings.ReplaceAll(ts, ".", "-")
	return string(kind) + "_" + ts
}

func artifactPath(snapshotID string) string {
	return snapshotID + ".json"
}
