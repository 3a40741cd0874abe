package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/comparador/price-search/internal/database"
	"github.com/comparador/price-search/internal/scraper"
	"github.com/comparador/price-search/internal/search"
	"github.com/comparador/price-search/internal/store"
)

var refreshWait bool

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh <query>",
	Short: "Run a scrape refresh for a query in the foreground",
	Long: `Run a scrape refresh for a query in the foreground: register a scrape
job, fan out to every source with a registered adapter, persist the results,
and report the terminal job state. The same code path the server runs in the
background, but synchronously, so failures surface on the terminal.`,
	Example: `  price-search refresh "iphone 15"
  price-search refresh "notebook gamer"`,
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	normalized := search.NormalizeQuery(args[0])
	if len(normalized) < 3 || len(normalized) > 100 {
		return search.ErrInvalidQuery
	}

	scraper.RegisterDefaults(scraper.DefaultRegistry)

	jobs := store.NewJobRegistry(database.Pool())
	coordinator := search.NewCoordinator(
		store.NewPriceStore(database.Pool()),
		store.NewSourceStore(database.Pool()),
		jobs,
		nil, // refreshes never touch the result cache
		scraper.DefaultRegistry,
		cliSearchConfig(),
	)

	existing, err := jobs.FindActive(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to look up active jobs: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("a scrape job for %q is already %s (job %d)", normalized, existing.Status, existing.JobID)
	}

	job, err := jobs.Create(ctx, normalized, nil)
	if err != nil {
		return fmt.Errorf("failed to create scrape job: %w", err)
	}
	logger.Info().Int64("job_id", job.JobID).Str("query", normalized).Msg("Starting refresh")

	coordinator.RunRefresh(ctx, job.JobID, normalized)

	final, err := jobs.Get(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("failed to read back job %d: %w", job.JobID, err)
	}
	if final.ErrorMessage != nil {
		logger.Warn().Str("errors", *final.ErrorMessage).Msg("Refresh reported errors")
	}
	logger.Info().Int64("job_id", final.JobID).Str("status", string(final.Status)).Msg("Refresh finished")
	return nil
}

func cliSearchConfig() search.Config {
	sc := search.DefaultConfig()
	sc.StalenessThreshold = cfg.Search.StalenessThreshold
	sc.ReadLimit = cfg.Search.ReadLimit
	sc.RetentionDays = cfg.Search.RetentionDays
	sc.MaxConcurrentScrapes = int64(cfg.Search.MaxConcurrentScrapes)
	sc.ScraperClient = scraper.ClientConfig{
		Timeout:           time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
		UserAgent:         cfg.Scraper.UserAgent,
		MaxRetries:        cfg.Scraper.MaxRetries,
		InitialBackoff:    time.Duration(cfg.Scraper.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.Scraper.MaxBackoffMs) * time.Millisecond,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
	}
	if sc.ScraperClient.UserAgent == "" {
		sc.ScraperClient.UserAgent = scraper.DefaultClientConfig().UserAgent
	}
	return sc
}
