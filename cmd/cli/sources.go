package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/comparador/price-search/internal/database"
	"github.com/comparador/price-search/internal/scraper"
	"github.com/comparador/price-search/internal/store"
)

// sourcesCmd groups source management subcommands
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage the scrape source list",
}

var sourcesListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List registered sources",
	Example: `  price-search sources list`,
	Args:    cobra.NoArgs,
	RunE:    runSourcesList,
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <name> <base-url>",
	Short: "Register a new source",
	Long: `Register a new source. The name must match a registered adapter for the
source to participate in refreshes; unknown names are stored but skipped by
the refresher until an adapter ships.`,
	Example: `  price-search sources add "MercadoLibre Chile" https://www.mercadolibre.cl`,
	Args:    cobra.ExactArgs(2),
	RunE:    runSourcesAdd,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	scraper.RegisterDefaults(scraper.DefaultRegistry)

	sources, err := store.NewSourceStore(database.Pool()).List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBASE URL\tADAPTER\tLAST SCRAPED")
	for _, src := range sources {
		adapter := "missing"
		if _, ok := scraper.DefaultRegistry.Lookup(src.Name); ok {
			adapter = "registered"
		}
		lastScraped := "never"
		if src.LastScrapedAt != nil {
			lastScraped = src.LastScrapedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", src.SourceID, src.Name, src.BaseURL, adapter, lastScraped)
	}
	return w.Flush()
}

func runSourcesAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, baseURL := args[0], args[1]

	sources := store.NewSourceStore(database.Pool())
	existing, err := sources.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up source: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("source %q already exists (id %d)", name, existing.SourceID)
	}

	src, err := sources.Create(ctx, name, baseURL)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	logger.Info().Int64("source_id", src.SourceID).Str("name", src.Name).Msg("Source registered")
	return nil
}
