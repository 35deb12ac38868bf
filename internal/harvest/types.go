// Package harvest defines core types shared across subsystems.
package harvest

import "time"

// TaskStatus represents the lifecycle state of a fetch task.
type TaskStatus string

// Task status values tracked by the task queue.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// QueryStatus represents the lifecycle state of a search query (job).
type QueryStatus string

// Query status values persisted in the store.
const (
	QueryStatusPending   QueryStatus = "pending"
	QueryStatusRunning   QueryStatus = "running"
	QueryStatusCompleted QueryStatus = "completed"
	QueryStatusFailed    QueryStatus = "failed"
)

// ArticleStatus marks how far an article has moved through the pipeline.
type ArticleStatus string

// Article status values persisted in the store.
const (
	ArticleStatusRaw       ArticleStatus = "raw"
	ArticleStatusProcessed ArticleStatus = "processed"
	ArticleStatusAnalyzed  ArticleStatus = "analyzed"
	ArticleStatusFailed    ArticleStatus = "failed"
)

// TaskPriority orders fetch tasks within the queue.
type TaskPriority int

// Priority levels; higher drains first.
const (
	PriorityLow    TaskPriority = 1
	PriorityMedium TaskPriority = 2
	PriorityHigh   TaskPriority = 3
)

// TaskOptions captures per-task configuration requested by the client.
type TaskOptions struct {
	Keywords []string     `json:"keywords"`
	Sources  []string     `json:"sources,omitempty"`
	MaxItems int          `json:"max_items"`
	Priority TaskPriority `json:"priority"`
}

// FetchTask is one schedulable unit of fetch work. It is disposable
// scheduling state owned by the queue; the durable outcome lives on the
// associated SearchQuery record.
type FetchTask struct {
	ID            string      `json:"id"`
	SearchQueryID string      `json:"search_query_id"`
	Options       TaskOptions `json:"options"`
	Status        TaskStatus  `json:"status"`
	RetryCount    int         `json:"retry_count"`
	MaxRetries    int         `json:"max_retries"`
	CreatedAt     time.Time   `json:"created_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
}

// RawItem is one fetched result from the search provider. It exists only in
// memory between fetch and processing.
type RawItem struct {
	URL        string            `json:"url"`
	Title      string            `json:"title,omitempty"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	SourceHint string            `json:"source_hint,omitempty"`
}

// Author returns the author pulled from the metadata bag, if present.
func (i RawItem) Author() string { return i.Metadata["author"] }

// ImageURL returns the image URL pulled from the metadata bag, if present.
func (i RawItem) ImageURL() string {
	if v := i.Metadata["image"]; v != "" {
		return v
	}
	return i.Metadata["og_image"]
}

// PublishedAt parses the published timestamp from the metadata bag.
// Returns nil when absent or unparseable.
func (i RawItem) PublishedAt() *time.Time {
	raw := i.Metadata["published_at"]
	if raw == "" {
		raw = i.Metadata["publish_date"]
	}
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "01/02/2006", "01-02-2006"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}

// Article is a persisted, normalized content record derived from one
// fetched item.
type Article struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	Summary        string            `json:"summary,omitempty"`
	Author         string            `json:"author,omitempty"`
	PublishedAt    *time.Time        `json:"published_at,omitempty"`
	ImageURL       string            `json:"image_url,omitempty"`
	RelevanceScore float64           `json:"relevance_score"`
	KeywordTags    []string          `json:"keyword_tags"`
	Status         ArticleStatus     `json:"status"`
	SourceJobID    string            `json:"source_job_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// SearchQuery is the durable record of one orchestrated run (a job).
type SearchQuery struct {
	ID                string      `json:"id"`
	Keywords          []string    `json:"keywords"`
	Status            QueryStatus `json:"status"`
	ResultCount       int         `json:"result_count"`
	SearchTimeSeconds float64     `json:"search_time_seconds"`
	ErrorMessage      string      `json:"error_message,omitempty"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// SourceKind distinguishes provider-backed sources.
type SourceKind string

// Source kinds.
const (
	SourceKindWeb SourceKind = "web"
	SourceKindRSS SourceKind = "rss"
)

// Source is a configured content origin (a site or feed).
type Source struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Kind      SourceKind `json:"kind"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Keyword tracks usage of a search keyword across runs.
type Keyword struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	UseCount   int       `json:"use_count"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SearchEvent logs one call to the external search provider.
type SearchEvent struct {
	ID          string    `json:"id"`
	QueryID     string    `json:"query_id"`
	Keywords    []string  `json:"keywords"`
	ResultCount int       `json:"result_count"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConfigEntry is one persisted key/value configuration record.
type ConfigEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SnapshotKind distinguishes backup snapshot coverage.
type SnapshotKind string

// Snapshot kinds.
const (
	SnapshotFull        SnapshotKind = "full"
	SnapshotIncremental SnapshotKind = "incremental"
)

// Snapshot is the metadata persisted for each backup artifact.
type Snapshot struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Kind        SnapshotKind `json:"kind"`
	SizeBytes   int64        `json:"size_bytes"`
	RecordCount int          `json:"record_count"`
	Checksum    string       `json:"checksum"`
	Description string       `json:"description,omitempty"`
}

// QueueStatus summarizes the in-memory task queue.
type QueueStatus struct {
	Pending      int  `json:"pending"`
	Processing   int  `json:"processing"`
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
	IsProcessing bool `json:"is_processing"`
}

// DetailedQueueStatus adds persisted 24-hour aggregates to QueueStatus.
type DetailedQueueStatus struct {
	QueueStatus
	RecentStats       map[string]int `json:"recent_stats"`
	AverageSearchTime float64        `json:"average_search_time"`
	Timestamp         time.Time      `json:"timestamp"`
}

// TaskMetrics reports completed-task performance.
type TaskMetrics struct {
	TotalCompleted  int     `json:"total_completed"`
	AverageDuration float64 `json:"average_duration_seconds"`
	SuccessRate     float64 `json:"success_rate_percent"`
	TotalProcessed  int     `json:"total_processed"`
}

// ProcessingStats aggregates per-job pipeline outcomes.
type ProcessingStats struct {
	TotalProcessed        int           `json:"total_processed"`
	SuccessCount          int           `json:"success_count"`
	DuplicateCount        int           `json:"duplicate_count"`
	LowQualityCount       int           `json:"low_quality_count"`
	ErrorCount            int           `json:"error_count"`
	AverageRelevanceScore float64       `json:"average_relevance_score"`
	ProcessingTime        time.Duration `json:"processing_time"`
}

// JobResult is returned by the orchestrator for one run.
type JobResult struct {
	JobID      string          `json:"job_id"`
	Status     QueryStatus     `json:"status"`
	Statistics ProcessingStats `json:"statistics"`
	Errors     []string        `json:"errors"`
	Warnings   []string        `json:"warnings"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
	BackupID   string          `json:"backup_id,omitempty"`
}
