// Package sweepers contains background maintenance loops.
package sweepers

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ScrapeJobSweeper periodically fails orphaned scrape jobs. A PENDING or
// RUNNING row left behind by a crash acts as a lock that blocks every future
// refresh for its query; the sweeper times those locks out.
type ScrapeJobSweeper struct {
	pool           *pgxpool.Pool
	logger         *zerolog.Logger
	interval       time.Duration
	runningTimeout time.Duration
	pendingTimeout time.Duration
	stopChan       chan struct{}
}

// NewScrapeJobSweeper creates a sweeper. runningTimeout bounds how long a job
// may stay RUNNING, pendingTimeout how long it may stay PENDING before being
// declared orphaned.
func NewScrapeJobSweeper(pool *pgxpool.Pool, logger *zerolog.Logger, interval, runningTimeout, pendingTimeout time.Duration) *ScrapeJobSweeper {
	return &ScrapeJobSweeper{
		pool:           pool,
		logger:         logger,
		interval:       interval,
		runningTimeout: runningTimeout,
		pendingTimeout: pendingTimeout,
		stopChan:       make(chan struct{}),
	}
}

// Start begins the periodic recovery sweep
func (s *ScrapeJobSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("running_timeout", s.runningTimeout).
		Dur("pending_timeout", s.pendingTimeout).
		Msg("Starting scrape job sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scrape job sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Scrape job sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if err := s.SweepStaleJobs(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to sweep stale scrape jobs")
			}
		}
	}
}

// Stop signals the sweeper to stop
func (s *ScrapeJobSweeper) Stop() {
	close(s.stopChan)
}

// SweepStaleJobs fails RUNNING jobs older than the running timeout and
// PENDING jobs older than the pending timeout.
func (s *ScrapeJobSweeper) SweepStaleJobs(ctx context.Context) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = 'FAILED',
		    completed_at = NOW(),
		    error_message = 'swept: exceeded ' || CASE status
		        WHEN 'RUNNING' THEN 'running' ELSE 'pending' END || ' timeout'
		WHERE (status = 'RUNNING' AND started_at < $1)
		   OR (status = 'PENDING' AND created_at < $2)
	`, now.Add(-s.runningTimeout), now.Add(-s.pendingTimeout))
	if err != nil {
		return fmt.Errorf("failed to sweep stale scrape jobs: %w", err)
	}

	if swept := tag.RowsAffected(); swept > 0 {
		s.logger.Info().Int64("swept", swept).Msg("Failed orphaned scrape jobs")
	}
	return nil
}
