package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/comparador/price-search/internal/models"
	"github.com/comparador/price-search/internal/scraper"
)

// sourceResult is the outcome of one adapter invocation inside a refresh.
type sourceResult struct {
	source models.Source
	items  []models.PriceCreate
	err    error
}

// RunRefresh executes one background refresh synchronously: mark the job
// running, fan out to every source with a registered adapter, persist the
// aggregate in one transaction, then record the terminal job state. It is
// exported for the CLI, which runs refreshes in the foreground.
//
// Per-source failures are captured, never propagated: one site failing does
// not cancel the others. The job ends FAILED whenever any adapter failed or
// the upsert failed, even if some data was persisted.
func (c *Coordinator) RunRefresh(ctx context.Context, jobID int64, queryTerm string) {
	logger := c.logger.With().Int64("job_id", jobID).Str("query", queryTerm).Logger()
	started := time.Now()

	if _, err := c.jobs.MarkRunning(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job running, aborting refresh")
		refreshJobs.WithLabelValues("aborted").Inc()
		return
	}

	sources, err := c.sources.List(ctx)
	if err != nil {
		c.finishFailed(ctx, jobID, fmt.Sprintf("failed to list sources: %v", err), logger)
		return
	}

	results := c.fanOut(ctx, queryTerm, sources, logger)

	var (
		batch     []models.PriceCreate
		succeeded []models.Source
		errors    []string
	)
	for _, res := range results {
		if res.err != nil {
			logger.Error().Err(res.err).Str("source", res.source.Name).Msg("Adapter failed")
			errors = append(errors, fmt.Sprintf("%s: %v", res.source.Name, res.err))
			continue
		}
		scrapedItems.WithLabelValues(res.source.Name).Add(float64(len(res.items)))
		batch = append(batch, res.items...)
		succeeded = append(succeeded, res.source)
	}

	if len(batch) > 0 {
		if _, err := c.store.UpsertMany(ctx, batch); err != nil {
			errors = append(errors, fmt.Sprintf("store write: %v", err))
			c.finishFailed(ctx, jobID, strings.Join(errors, "; "), logger)
			return
		}
		logger.Info().Int("items", len(batch)).Msg("Persisted scraped prices")

		for _, src := range succeeded {
			if err := c.sources.TouchLastScraped(ctx, src.SourceID); err != nil {
				logger.Warn().Err(err).Str("source", src.Name).Msg("Failed to stamp last_scraped_at")
			}
		}

		if c.config.RetentionDays > 0 {
			pruned, err := c.store.PruneOlderThan(ctx, queryTerm, c.config.RetentionDays)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to prune old prices")
			} else if pruned > 0 {
				prunedPrices.Add(float64(pruned))
				logger.Info().Int64("pruned", pruned).Msg("Pruned old prices")
			}
		}
	}

	if len(errors) > 0 {
		c.finishFailed(ctx, jobID, strings.Join(errors, "; "), logger)
		refreshDuration.WithLabelValues("failed").Observe(time.Since(started).Seconds())
		return
	}

	if _, err := c.jobs.MarkCompleted(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job completed")
		return
	}
	refreshJobs.WithLabelValues("completed").Inc()
	refreshDuration.WithLabelValues("completed").Observe(time.Since(started).Seconds())
	logger.Info().Dur("elapsed", time.Since(started)).Msg("Refresh completed")

	// The cache is deliberately not rewritten here: the stale entry expires
	// by TTL and the next request pulls the fresh rows from the store.
}

// runRefresh is the goroutine entry used by Search.
func (c *Coordinator) runRefresh(ctx context.Context, jobID int64, queryTerm string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Int64("job_id", jobID).Interface("panic", r).Msg("Refresh panicked")
			if _, err := c.jobs.MarkFailed(ctx, jobID, fmt.Sprintf("refresh panicked: %v", r)); err != nil {
				c.logger.Error().Err(err).Int64("job_id", jobID).Msg("Failed to mark panicked job failed")
			}
		}
	}()
	c.RunRefresh(ctx, jobID, queryTerm)
}

// fanOut runs one adapter per source concurrently, bounded by the configured
// semaphore. Every adapter runs to completion; errors and panics are captured
// in the result slot for that source. Sources without a registered adapter
// are skipped with a warning.
func (c *Coordinator) fanOut(ctx context.Context, queryTerm string, sources []models.Source, logger zerolog.Logger) []sourceResult {
	maxConcurrent := c.config.MaxConcurrentScrapes
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	sem := semaphore.NewWeighted(maxConcurrent)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []sourceResult
	)

	for _, src := range sources {
		factory, ok := c.registry.Lookup(src.Name)
		if !ok {
			logger.Warn().Str("source", src.Name).Msg("No adapter registered for source, skipping")
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			results = append(results, sourceResult{source: src, err: fmt.Errorf("acquire scrape slot: %w", err)})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(src models.Source, factory scraper.Factory) {
			defer sem.Release(1)
			defer wg.Done()

			res := sourceResult{source: src}
			func() {
				defer func() {
					if r := recover(); r != nil {
						res.err = fmt.Errorf("adapter panicked: %v", r)
					}
				}()

				// Each scrape gets a fresh adapter, and with it a fresh HTTP
				// client released when the scrape returns.
				s := factory(c.config.ScraperClient)
				items, err := s.Scrape(ctx, scraper.Input{
					Query:      queryTerm,
					SourceID:   src.SourceID,
					SourceName: src.Name,
					BaseURL:    src.BaseURL,
				})
				if err != nil {
					res.err = err
					return
				}
				for _, it := range items {
					res.items = append(res.items, models.PriceCreate{
						QueryTerm:  queryTerm,
						SourceID:   src.SourceID,
						Name:       it.Name,
						Price:      it.Price,
						Currency:   it.Currency,
						ProductURL: it.ProductURL,
						Attributes: it.Attributes,
					})
				}
			}()

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(src, factory)
	}

	wg.Wait()
	return results
}

func (c *Coordinator) finishFailed(ctx context.Context, jobID int64, summary string, logger zerolog.Logger) {
	logger.Error().Str("errors", summary).Msg("Refresh failed")
	if _, err := c.jobs.MarkFailed(ctx, jobID, summary); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job failed")
	}
	refreshJobs.WithLabelValues("failed").Inc()
}
