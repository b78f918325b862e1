package backup

import (
	"context"
	"fmt"
	"time"

	"heartline/internal/core/ports"
	"heartline/pkg/backup"

	"go.uber.org/zap"
)

// Scheduler periodically archives finished calls to durable storage. The
// live store keeps records for a bounded window only, so archives are the
// long-term call history.
type Scheduler struct {
	archiveService *backup.ArchiveService
	callRepo       ports.CallRepository
	interval       time.Duration
	retentionDays  int
	logger         *zap.SugaredLogger
	stopChan       chan struct{}
}

// Config contains scheduler configuration
type Config struct {
	Interval      time.Duration
	RetentionDays int
}

// NewScheduler creates a new archive scheduler
func NewScheduler(
	archiveService *backup.ArchiveService,
	callRepo ports.CallRepository,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		archiveService: archiveService,
		callRepo:       callRepo,
		interval:       cfg.Interval,
		retentionDays:  cfg.RetentionDays,
		logger:         logger,
		stopChan:       make(chan struct{}),
	}
}

// Start starts the archive scheduler
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runArchive(ctx)

	for {
		select {
		case <-ticker.C:
			s.runArchive(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the archive scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// runArchive performs one archive round
func (s *Scheduler) runArchive(ctx context.Context) {
	s.logger.Info("starting scheduled call archive")

	archiveData, err := s.collectData(ctx)
	if err != nil {
		s.logger.Errorw("failed to collect archive data", "error", err)
		return
	}

	if len(archiveData.Calls) == 0 {
		s.logger.Debug("no finished calls to archive")
		return
	}

	archiveName, err := s.archiveService.CreateArchive(ctx, archiveData)
	if err != nil {
		s.logger.Errorw("failed to create archive", "error", err)
		return
	}

	s.logger.Infow("archive created successfully",
		"archive_name", archiveName,
		"call_count", len(archiveData.Calls),
	)

	if err := s.cleanupOldArchives(ctx); err != nil {
		s.logger.Warnw("failed to cleanup old archives", "error", err)
	}
}

// collectData gathers finished calls from the last two intervals. The
// overlap means a call can land in two consecutive archives; restore
// deduplicates by call ID.
func (s *Scheduler) collectData(ctx context.Context) (*backup.ArchiveData, error) {
	data := &backup.ArchiveData{
		Calls:    make(map[string]interface{}),
		Metadata: make(map[string]interface{}),
	}

	since := time.Now().Add(-2 * s.interval)
	calls, err := s.callRepo.ListRecent(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent calls: %w", err)
	}

	for _, call := range calls {
		if !call.Status.IsTerminal() {
			continue
		}
		data.Calls[string(call.ID)] = call
	}

	data.Metadata["call_count"] = len(data.Calls)
	data.Metadata["archive_type"] = "scheduled"

	return data, nil
}

// cleanupOldArchives removes archives older than the retention period
func (s *Scheduler) cleanupOldArchives(ctx context.Context) error {
	archives, err := s.archiveService.ListArchives(ctx)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}

	cutoffTime := time.Now().AddDate(0, 0, -s.retentionDays)

	for _, archiveName := range archives {
		timestamp, err := backup.ArchiveTimestamp(archiveName)
		if err != nil {
			s.logger.Warnw("failed to parse archive timestamp", "archive_name", archiveName, "error", err)
			continue
		}

		if timestamp.Before(cutoffTime) {
			if err := s.archiveService.DeleteArchive(ctx, archiveName); err != nil {
				s.logger.Warnw("failed to delete old archive", "archive_name", archiveName, "error", err)
				continue
			}
			s.logger.Infow("deleted old archive", "archive_name", archiveName, "age", time.Since(timestamp))
		}
	}

	return nil
}
