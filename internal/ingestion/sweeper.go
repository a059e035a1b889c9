package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/soundledger/royaltystream/internal/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper fails processing uploads whose owning task stopped writing
// heartbeats, typically after a process crash mid-run. There is no automatic
// resume; sweeping makes the stall operator-visible instead of permanent.
type Sweeper struct {
	uploads    repository.UploadRepository
	logger     *zap.Logger
	staleAfter time.Duration
	cron       *cron.Cron
}

// NewSweeper creates a sweeper that fails processing uploads older than staleAfter.
func NewSweeper(uploads repository.UploadRepository, logger *zap.Logger, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		uploads:    uploads,
		logger:     logger,
		staleAfter: staleAfter,
		cron:       cron.New(),
	}
}

// Start schedules the sweep job and starts the scheduler.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("stalled upload sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("stalled upload sweeper started",
		zap.String("schedule", schedule),
		zap.Duration("stale_after", s.staleAfter))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep performs one pass over stalled processing records.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.staleAfter)
	message := fmt.Sprintf("processing stalled: no progress for more than %s", s.staleAfter)

	swept, err := s.uploads.MarkStaleFailed(ctx, cutoff, message)
	if err != nil {
		return err
	}
	if swept > 0 {
		s.logger.Warn("marked stalled uploads as failed", zap.Int64("count", swept))
	}
	return nil
}
