// Package search implements the search coordinator: the read path over
// cache and store, the staleness decision, and the background refresh that
// fans out to site adapters.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/comparador/price-search/internal/models"
	"github.com/comparador/price-search/internal/scraper"
)

// ErrInvalidQuery is returned for queries outside the accepted length range.
// The HTTP layer rejects these before the coordinator, so hitting this from a
// handler indicates a wiring bug; the CLI relies on it.
var ErrInvalidQuery = errors.New("query must be between 3 and 100 characters")

const (
	minQueryLen = 3
	maxQueryLen = 100
)

// PriceStore is the durable store surface the coordinator needs.
type PriceStore interface {
	GetByQuery(ctx context.Context, queryTerm string, since *time.Time, limit int, includeSource bool) ([]models.PriceRecord, error)
	UpsertMany(ctx context.Context, items []models.PriceCreate) ([]models.PriceRecord, error)
	PruneOlderThan(ctx context.Context, queryTerm string, days int) (int64, error)
}

// SourceStore lists the registered sources and records scrape completion.
type SourceStore interface {
	List(ctx context.Context) ([]models.Source, error)
	TouchLastScraped(ctx context.Context, sourceID int64) error
}

// JobRegistry is the refresh deduplication surface.
type JobRegistry interface {
	FindActive(ctx context.Context, queryTerm string) (*models.ScrapeJob, error)
	Create(ctx context.Context, queryTerm string, sourceID *int64) (*models.ScrapeJob, error)
	MarkRunning(ctx context.Context, jobID int64) (*models.ScrapeJob, error)
	MarkCompleted(ctx context.Context, jobID int64) (*models.ScrapeJob, error)
	MarkFailed(ctx context.Context, jobID int64, errorMessage string) (*models.ScrapeJob, error)
}

// ResultCache is the short-TTL cache surface.
type ResultCache interface {
	Get(ctx context.Context, normalizedQuery string) ([]models.SearchResultItem, bool, error)
	Set(ctx context.Context, normalizedQuery string, items []models.SearchResultItem, ttl time.Duration) error
}

// Config carries the tunables of the serving and refresh pipeline. It is
// built from the process configuration once at startup and never mutated.
type Config struct {
	CacheTTL             time.Duration
	StalenessThreshold   time.Duration
	ReadLimit            int
	RetentionDays        int
	MaxConcurrentScrapes int64
	ScraperClient        scraper.ClientConfig
}

// DefaultConfig returns the documented defaults: 1h cache TTL, 1h staleness
// threshold, 200-row reads, 30-day retention, 5 concurrent adapters.
func DefaultConfig() Config {
	return Config{
		CacheTTL:             time.Hour,
		StalenessThreshold:   time.Hour,
		ReadLimit:            200,
		RetentionDays:        30,
		MaxConcurrentScrapes: 5,
		ScraperClient:        scraper.DefaultClientConfig(),
	}
}

// Response is the public search result returned to the HTTP layer.
type Response struct {
	Query     string                    `json:"query"`
	Results   []models.SearchResultItem `json:"results"`
	FromCache bool                      `json:"from_cache"`
	Message   *string                   `json:"message,omitempty"`
	JobID     *int64                    `json:"job_id,omitempty"`
}

// Coordinator orchestrates the three-tier read path and launches background
// refreshes. It is safe for concurrent use.
type Coordinator struct {
	store    PriceStore
	sources  SourceStore
	jobs     JobRegistry
	cache    ResultCache
	registry *scraper.Registry
	config   Config
	logger   zerolog.Logger

	// now is swappable for boundary tests around the staleness threshold.
	now func() time.Time
}

// NewCoordinator wires the coordinator. All collaborators are injected; the
// coordinator owns no connections of its own.
func NewCoordinator(store PriceStore, sources SourceStore, jobs JobRegistry, cache ResultCache, registry *scraper.Registry, config Config) *Coordinator {
	return &Coordinator{
		store:    store,
		sources:  sources,
		jobs:     jobs,
		cache:    cache,
		registry: registry,
		config:   config,
		logger:   log.With().Str("component", "coordinator").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeQuery canonicalizes a user query: Unicode NFC, trimmed,
// lower-cased. Idempotent.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(query)))
}

// Search answers a query from cache or store and, when the data in hand is
// stale or a refresh is forced, arranges a background refresh. Scraping never
// happens on this path; the caller gets whatever is already persisted.
func (c *Coordinator) Search(ctx context.Context, query string, forceRefresh bool) (*Response, error) {
	normalized := NormalizeQuery(query)
	if len(normalized) < minQueryLen || len(normalized) > maxQueryLen {
		return nil, ErrInvalidQuery
	}

	logger := c.logger.With().Str("query", normalized).Bool("force_refresh", forceRefresh).Logger()

	var (
		results   []models.SearchResultItem
		fromCache bool
	)

	if !forceRefresh {
		cached, hit, err := c.cache.Get(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("cache read: %w", err)
		}
		if hit {
			cacheHits.Inc()
			logger.Debug().Int("results", len(cached)).Msg("Cache hit")
			results = cached
			fromCache = true
		} else {
			cacheMisses.Inc()
		}
	}

	if !fromCache {
		records, err := c.store.GetByQuery(ctx, normalized, nil, c.config.ReadLimit, true)
		if err != nil {
			return nil, fmt.Errorf("store read: %w", err)
		}
		results = projectRecords(records)
		if len(results) > 0 {
			if err := c.cache.Set(ctx, normalized, results, c.config.CacheTTL); err != nil {
				// A failed write-back degrades to a miss next time; the
				// response itself is unaffected.
				logger.Warn().Err(err).Msg("Failed to write results back to cache")
			}
		}
	}

	resp := &Response{
		Query:     normalized,
		Results:   results,
		FromCache: fromCache && !forceRefresh,
	}

	if !c.shouldRefresh(forceRefresh, fromCache, results) {
		return resp, nil
	}

	existing, err := c.jobs.FindActive(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("job lookup: %w", err)
	}
	if existing != nil {
		logger.Info().Int64("job_id", existing.JobID).Str("status", string(existing.Status)).Msg("Refresh already in flight")
		resp.JobID = &existing.JobID
		msg := fmt.Sprintf("A scrape is already %s for this query.", strings.ToLower(string(existing.Status)))
		resp.Message = &msg
		return resp, nil
	}

	job, err := c.jobs.Create(ctx, normalized, nil)
	if err != nil {
		return nil, fmt.Errorf("job create: %w", err)
	}
	resp.JobID = &job.JobID
	msg := "Scraping started in the background; retry shortly for fresh results."
	resp.Message = &msg

	// The refresh outlives this request: it runs on a background context and
	// re-uses only the process-wide pools, never request-scoped state.
	go c.runRefresh(context.WithoutCancel(ctx), job.JobID, normalized)

	logger.Info().Int64("job_id", job.JobID).Msg("Background refresh scheduled")
	return resp, nil
}

// shouldRefresh implements the staleness policy: forced refreshes always
// refresh; cache hits are definitionally fresh; store results refresh when
// empty or when any record is older than the threshold.
func (c *Coordinator) shouldRefresh(forceRefresh, fromCache bool, results []models.SearchResultItem) bool {
	if forceRefresh {
		return true
	}
	if fromCache {
		return false
	}
	if len(results) == 0 {
		return true
	}
	threshold := c.now().Add(-c.config.StalenessThreshold)
	for _, item := range results {
		if item.ScrapedAt.Before(threshold) {
			return true
		}
	}
	return false
}

func projectRecords(records []models.PriceRecord) []models.SearchResultItem {
	items := make([]models.SearchResultItem, 0, len(records))
	for _, rec := range records {
		if rec.Source == nil {
			log.Warn().Int64("price_id", rec.PriceID).Msg("Price record missing source, skipping")
			continue
		}
		items = append(items, models.ResultItemFromRecord(rec))
	}
	return items
}
