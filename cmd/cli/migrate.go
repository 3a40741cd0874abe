package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/comparador/price-search/internal/database"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply the database schema to the configured database. The schema is
idempotent: every statement is CREATE IF NOT EXISTS, so migrate can be run
against an existing database without data loss.`,
	Example: `  price-search migrate`,
	Args:    cobra.NoArgs,
	RunE:    runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := database.ApplySchema(ctx, database.Pool()); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info().Msg("Schema applied")
	return nil
}
