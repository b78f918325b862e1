package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/pkg/backup"

	"go.uber.org/zap"
)

// RestoreService loads archived call history back into the live store,
// typically after a Redis flush or a node rebuild.
type RestoreService struct {
	archiveService *backup.ArchiveService
	callRepo       ports.CallRepository
	logger         *zap.SugaredLogger
}

// NewRestoreService creates a new restore service
func NewRestoreService(
	archiveService *backup.ArchiveService,
	callRepo ports.CallRepository,
	logger *zap.SugaredLogger,
) *RestoreService {
	return &RestoreService{
		archiveService: archiveService,
		callRepo:       callRepo,
		logger:         logger,
	}
}

// RestoreOptions contains restore options
type RestoreOptions struct {
	OverwriteExisting bool
	PointInTime       *time.Time // Skip calls created after this time
}

// DefaultRestoreOptions returns default restore options
func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{
		OverwriteExisting: false,
	}
}

// RestoreFromArchive restores calls from a specific archive
func (rs *RestoreService) RestoreFromArchive(ctx context.Context, archiveName string, options RestoreOptions) error {
	rs.logger.Infow("starting restore", "archive_name", archiveName, "options", options)

	archiveData, err := rs.archiveService.LoadArchive(ctx, archiveName)
	if err != nil {
		return fmt.Errorf("failed to load archive: %w", err)
	}

	if archiveData.Version == "" {
		return fmt.Errorf("invalid archive: missing version")
	}

	restored, skipped := 0, 0
	for callIDStr, callData := range archiveData.Calls {
		call, err := decodeCall(callData)
		if err != nil {
			return fmt.Errorf("failed to decode call %s: %w", callIDStr, err)
		}

		if options.PointInTime != nil && call.CreatedAt.After(*options.PointInTime) {
			skipped++
			continue
		}

		if err := rs.restoreCall(ctx, call, options); err != nil {
			if errors.Is(err, domain.ErrCallConflict) {
				skipped++
				continue
			}
			return fmt.Errorf("failed to restore call %s: %w", call.ID, err)
		}
		restored++
	}

	rs.logger.Infow("restore completed",
		"archive_name", archiveName,
		"restored", restored,
		"skipped", skipped,
	)
	return nil
}

func (rs *RestoreService) restoreCall(ctx context.Context, call *domain.Call, options RestoreOptions) error {
	existing, err := rs.callRepo.GetByID(ctx, call.ID)
	if err == nil && existing != nil {
		if !options.OverwriteExisting {
			rs.logger.Debugw("skipping existing call", "call_id", call.ID)
			return domain.ErrCallConflict
		}
		return rs.callRepo.Update(ctx, call)
	}
	if err != nil && !errors.Is(err, domain.ErrCallNotFound) {
		return err
	}

	return rs.callRepo.Create(ctx, call)
}

// decodeCall converts the archive's generic representation back to a Call
func decodeCall(data interface{}) (*domain.Call, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call data: %w", err)
	}

	var call domain.Call
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}

	if call.ID == "" {
		return nil, fmt.Errorf("call record missing ID")
	}

	return &call, nil
}
