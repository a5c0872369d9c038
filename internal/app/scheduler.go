/**
 * @description
 * Cron scheduler for the wallet-service maintenance jobs.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/wallet-service/internal/store"
)

const DefaultIdempotencyPurgeSchedule = "@every 15m"

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron          *cron.Cron
	repo          store.Repository
	purgeSchedule string
	now           func() time.Time
	logger        *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(repo store.Repository, purgeSchedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if purgeSchedule == "" {
		purgeSchedule = DefaultIdempotencyPurgeSchedule
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:          c,
		repo:          repo,
		purgeSchedule: purgeSchedule,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With("component", "scheduler"),
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.purgeSchedule, s.PurgeExpiredIdempotency); err != nil {
		s.logger.Error("failed to schedule idempotency purge job", "schedule", s.purgeSchedule, "error", err)
		return err
	}
	s.logger.Info("scheduled idempotency purge job", "schedule", s.purgeSchedule)
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// PurgeExpiredIdempotency deletes transfer idempotency reservations past retention.
func (s *Scheduler) PurgeExpiredIdempotency() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := s.repo.PurgeExpiredIdempotency(ctx, s.now())
	if err != nil {
		s.logger.Error("idempotency purge failed", "error", err)
		return
	}
	if purged > 0 {
		s.logger.Info("idempotency purge finished", "purged", purged)
	}
}
