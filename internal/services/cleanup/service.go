package cleanup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
)

// Service runs the retention sweepers on a cron schedule. Scans past their
// retention window are deleted with their images and checkpoints; expired
// converted-image bundles lose both their row and their file on disk.
type Service struct {
	config  *common.Config
	logger  arbor.ILogger
	storage interfaces.StorageManager
	cron    *cron.Cron
}

// NewService creates the cleanup service
func NewService(config *common.Config, logger arbor.ILogger, storage interfaces.StorageManager) *Service {
	return &Service{
		config:  config,
		logger:  logger,
		storage: storage,
		cron:    cron.New(),
	}
}

// Start schedules the sweepers and runs one sweep immediately so a restart
// after downtime catches up without waiting a full interval
func (s *Service) Start(ctx context.Context) error {
	schedule := s.config.Retention.Schedule
	if schedule == "" {
		schedule = "@every 1h"
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	s.cron.Start()
	go s.Sweep(ctx)

	s.logger.Info().
		Str("schedule", schedule).
		Int("retention_hours", s.config.Retention.Hours).
		Msg("Retention sweeper started")

	return nil
}

// Stop halts the cron scheduler and waits for a running sweep
func (s *Service) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info().Msg("Retention sweeper stopped")
}

// Sweep runs one pass of both sweepers
func (s *Service) Sweep(ctx context.Context) {
	s.sweepScans(ctx)
	s.sweepBundles(ctx)
}

func (s *Service) sweepScans(ctx context.Context) {
	deleted, err := s.storage.Scans().DeleteExpiredScans(ctx, time.Now().UTC(), s.config.Retention.MaxDeletesPerRun)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scan retention sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Expired scans removed")
	}
}

func (s *Service) sweepBundles(ctx context.Context) {
	expired, err := s.storage.Bundles().ListExpiredBundles(ctx, time.Now().UTC(), s.config.Retention.MaxDeletesPerRun)
	if err != nil {
		s.logger.Error().Err(err).Msg("Bundle retention sweep failed")
		return
	}

	for _, bundle := range expired {
		if bundle.FilePath != "" {
			if err := os.Remove(bundle.FilePath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn().Err(err).Str("path", bundle.FilePath).Msg("Failed to remove bundle file")
			}
		}
		if err := s.storage.Bundles().DeleteBundle(ctx, bundle.ID); err != nil {
			s.logger.Error().Err(err).Str("bundle_id", bundle.ID).Msg("Failed to delete bundle record")
			continue
		}
		s.logger.Debug().Str("bundle_id", bundle.ID).Msg("Expired bundle removed")
	}
}
