package backup

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mkrause/newsharvest/internal/harvest"
)

// scheduleKey is where the persisted schedule lives in the config store.
const scheduleKey = "backup_schedule"

// Schedule is the persisted automatic-backup configuration. Full and
// incremental backups run on independent cadences.
type Schedule struct {
	Enabled             bool          `json:"enabled"`
	FullInterval        time.Duration `json:"fullBackupInterval"`
	IncrementalInterval time.Duration `json:"incrementalInterval"`
	RetentionDays       int           `json:"retentionDays"`
}

// DefaultSchedule is used when no schedule has been persisted.
var DefaultSchedule = Schedule{
	Enabled:             false,
	FullInterval:        7 * 24 * time.Hour,
	IncrementalInterval: 24 * time.Hour,
	RetentionDays:       30,
}

// Scheduler runs periodic full and incremental backups plus retention
// cleanup per the persisted schedule.
type Scheduler struct {
	service *Service
	store   harvest.ConfigStore
	clock   harvest.Clock
	logger  *zap.Logger

	lastIncremental time.Time
}

// NewScheduler constructs a Scheduler.
func NewScheduler(service *Service, store harvest.ConfigStore, clock harvest.Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		service: service,
		store:   store,
		clock:   clock,
		logger:  logger,
	}
}

// LoadSchedule reads the persisted schedule, falling back to defaults.
func (s *Scheduler) LoadSchedule(ctx context.Context) Schedule {
	entry, found, err := s.store.GetConfig(ctx, scheduleKey)
	if err != nil || !found {
		return DefaultSchedule
	}
	var schedule Schedule
	if err := json.Unmarshal([]byte(entry.Value), &schedule); err != nil {
		s.logger.Warn("invalid persisted backup schedule, using defaults", zap.Error(err))
		return DefaultSchedule
	}
	if schedule.FullInterval <= 0 {
		schedule.FullInterval = DefaultSchedule.FullInterval
	}
	if schedule.IncrementalInterval <= 0 {
		schedule.IncrementalInterval = DefaultSchedule.IncrementalInterval
	}
	return schedule
}

// SaveSchedule persists a schedule change.
func (s *Scheduler) SaveSchedule(ctx context.Context, schedule Schedule) error {
	payload, err := json.Marshal(schedule)
	if err != nil {
		return err
	}
	return s.store.SetConfig(ctx, harvest.ConfigEntry{
		Key:         scheduleKey,
		Value:       string(payload),
		Description: "Automatic backup schedule",
		UpdatedAt:   s.clock.Now(),
	})
}

// Run ticks until ctx is cancelled. The schedule is re-read every tick so
// changes take effect without a restart.
func (s *Scheduler) Run(ctx context.Context) {
	schedule := s.LoadSchedule(ctx)
	s.lastIncremental = s.clock.Now()
	incremental := time.NewTicker(schedule.IncrementalInterval)
	defer incremental.Stop()
	full := time.NewTicker(schedule.FullInterval)
	defer full.Stop()

	s.logger.Info("backup scheduler started",
		zap.Bool("enabled", schedule.Enabled),
		zap.Duration("full_interval", schedule.FullInterval),
		zap.Duration("incremental_interval", schedule.IncrementalInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped")
			return
		case <-incremental.C:
			schedule = s.reload(ctx, schedule, incremental, full)
			if !schedule.Enabled {
				continue
			}
			s.runIncremental(ctx)
		case <-full.C:
			schedule = s.reload(ctx, schedule, incremental, full)
			if !schedule.Enabled {
				continue
			}
			s.runFull(ctx, schedule)
		}
	}
}

// reload re-reads the persisted schedule, resetting tickers whose interval
// changed.
func (s *Scheduler) reload(ctx context.Context, prev Schedule, incremental, full *time.Ticker) Schedule {
	current := s.LoadSchedule(ctx)
	if current.IncrementalInterval != prev.IncrementalInterval {
		incremental.Reset(current.IncrementalInterval)
	}
	if current.FullInterval != prev.FullInterval {
		full.Reset(current.FullInterval)
	}
	return current
}

func (s *Scheduler) runIncremental(ctx context.Context) {
	since := s.lastIncremental
	s.lastIncremental = s.clock.Now()

	snap, err := s.service.IncrementalBackup(ctx, since, "scheduled incremental backup")
	if err != nil {
		s.logger.Error("scheduled incremental backup failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled incremental backup created",
		zap.String("snapshot_id", snap.ID),
		zap.Int("records", snap.RecordCount),
	)
}

func (s *Scheduler) runFull(ctx context.Context, schedule Schedule) {
	snap, err := s.service.FullBackup(ctx, "scheduled full backup")
	if err != nil {
		s.logger.Error("scheduled full backup failed", zap.Error(err))
		return
	}
	// A full backup covers everything, so incremental deltas restart here.
	s.lastIncremental = s.clock.Now()
	s.logger.Info("scheduled full backup created",
		zap.String("snapshot_id", snap.ID),
		zap.Int("records", snap.RecordCount),
	)

	if _, err := s.service.Cleanup(ctx, schedule.RetentionDays); err != nil {
		s.logger.Error("snapshot retention cleanup failed", zap.Error(err))
	}
}
