package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comparador/price-search/internal/models"
)

// SourceStore reads and maintains the administratively managed source list.
type SourceStore struct {
	pool *pgxpool.Pool
}

func NewSourceStore(pool *pgxpool.Pool) *SourceStore {
	return &SourceStore{pool: pool}
}

// List returns all sources. The set is read-mostly; the coordinator refreshes
// it per request rather than caching it.
func (s *SourceStore) List(ctx context.Context) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, name, base_url, last_scraped_at, created_at
		FROM sources
		ORDER BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := make([]models.Source, 0)
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.SourceID, &src.Name, &src.BaseURL, &src.LastScrapedAt, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// GetByName returns the source with the given unique name, or nil if absent.
func (s *SourceStore) GetByName(ctx context.Context, name string) (*models.Source, error) {
	var src models.Source
	err := s.pool.QueryRow(ctx, `
		SELECT source_id, name, base_url, last_scraped_at, created_at
		FROM sources
		WHERE name = $1
	`, name).Scan(&src.SourceID, &src.Name, &src.BaseURL, &src.LastScrapedAt, &src.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %q: %w", name, err)
	}
	return &src, nil
}

// Create registers a new source. Used by the CLI, not the serving path.
func (s *SourceStore) Create(ctx context.Context, name, baseURL string) (*models.Source, error) {
	var src models.Source
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sources (name, base_url)
		VALUES ($1, $2)
		RETURNING source_id, name, base_url, last_scraped_at, created_at
	`, name, baseURL).Scan(&src.SourceID, &src.Name, &src.BaseURL, &src.LastScrapedAt, &src.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create source %q: %w", name, err)
	}
	return &src, nil
}

// TouchLastScraped stamps the source after a refresh persisted its items.
func (s *SourceStore) TouchLastScraped(ctx context.Context, sourceID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sources SET last_scraped_at = NOW() WHERE source_id = $1
	`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to touch source %d: %w", sourceID, err)
	}
	return nil
}
