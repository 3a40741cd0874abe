package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/comparador/price-search/internal/database"
	"github.com/comparador/price-search/internal/search"
	"github.com/comparador/price-search/internal/store"
)

var pruneDays int

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune <query>",
	Short: "Delete old price records for a query",
	Long: `Delete price records for a query older than the retention window.
Refreshes prune automatically after persisting; this command exists for
queries that are no longer searched and therefore no longer refreshed.`,
	Example: `  price-search prune "iphone 15"
  price-search prune "iphone 15" --days 7`,
	Args: cobra.ExactArgs(1),
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Retention window in days (default from config)")
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	normalized := search.NormalizeQuery(args[0])
	days := pruneDays
	if days <= 0 {
		days = cfg.Search.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("retention window must be positive, got %d days", days)
	}

	prices := store.NewPriceStore(database.Pool())
	pruned, err := prices.PruneOlderThan(ctx, normalized, days)
	if err != nil {
		return fmt.Errorf("failed to prune prices: %w", err)
	}
	logger.Info().Str("query", normalized).Int("days", days).Int64("pruned", pruned).Msg("Prune finished")
	return nil
}
