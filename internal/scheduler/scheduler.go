// Package scheduler implements Beacon's background maintenance: stale
// connection cleanup and session history pruning.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/beacon/internal/config"
	"github.com/energizer-project/beacon/internal/network"
	"github.com/energizer-project/beacon/internal/util"
)

const (
	staleCheckInterval = time.Minute
	pruneHour          = 4
)

// Pruner deletes session history older than a given age.
type Pruner interface {
	PruneOlderThan(age time.Duration) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	registry *network.ConnectionRegistry
	pruner   Pruner
	logger   zerolog.Logger
}

// NewScheduler creates a new task scheduler. pruner may be nil when the
// session history is disabled.
func NewScheduler(cfg *config.Config, registry *network.ConnectionRegistry, pruner Pruner) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		pruner:   pruner,
		logger:   util.ComponentLogger("scheduler"),
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	go s.runStaleCleanupLoop(ctx)

	if s.pruner != nil && s.cfg.Database.RetentionDays > 0 {
		go s.runHistoryPruneLoop(ctx)
	}

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runStaleCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanStaleConnections()
		}
	}
}

// CleanStaleConnections closes connections idle for longer than the
// configured stale timeout and returns how many were closed.
func (s *Scheduler) CleanStaleConnections() int {
	timeout := time.Duration(s.cfg.Network.StaleTimeoutSec) * time.Second
	if timeout <= 0 {
		return 0
	}

	cleaned := s.registry.CleanStale(timeout)
	if cleaned > 0 {
		s.logger.Info().Int("cleaned", cleaned).Dur("timeout", timeout).Msg("cleaned stale connections")
	}
	return cleaned
}

// runHistoryPruneLoop prunes the history once a day.
func (s *Scheduler) runHistoryPruneLoop(ctx context.Context) {
	for {
		nextRun := nextRunTime(time.Now(), pruneHour)

		s.logger.Debug().
			Time("next_run", nextRun).
			Msg("history prune scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(nextRun)):
			s.PruneHistory()
		}
	}
}

// PruneHistory deletes history older than the configured retention.
func (s *Scheduler) PruneHistory() (int64, error) {
	if s.pruner == nil {
		return 0, nil
	}

	retention := time.Duration(s.cfg.Database.RetentionDays) * 24 * time.Hour
	removed, err := s.pruner.PruneOlderThan(retention)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history prune failed")
		return 0, err
	}

	s.logger.Info().
		Int64("removed", removed).
		Int("retention_days", s.cfg.Database.RetentionDays).
		Msg("history prune completed")
	return removed, nil
}

// nextRunTime returns the next occurrence of hour:00 strictly after now.
func nextRunTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
