package database

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates the tables and indexes if they do not exist. Every
// statement is idempotent, so the server runs it on startup and the CLI
// exposes it as `migrate`.
func ApplySchema(ctx context.Context, p *pgxpool.Pool) error {
	_, err := p.Exec(ctx, schemaSQL)
	return err
}
