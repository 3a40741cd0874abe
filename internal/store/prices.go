// Package store contains the Postgres-backed durable stores: prices, sources
// and the scrape-job registry. All types are safe for concurrent use; they
// hold only the shared pgx pool.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comparador/price-search/internal/models"
)

// PriceStore is the write-heavy upsert store for harvested offerings, keyed
// by product URL.
type PriceStore struct {
	pool *pgxpool.Pool
}

func NewPriceStore(pool *pgxpool.Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// GetByQuery returns records for a normalized query term ordered by price
// ascending. When since is non-nil only records with scraped_at >= since are
// returned. includeSource eager-loads the source row to avoid an N+1 lookup
// when rendering results.
func (s *PriceStore) GetByQuery(ctx context.Context, queryTerm string, since *time.Time, limit int, includeSource bool) ([]models.PriceRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if includeSource {
		rows, err = s.pool.Query(ctx, `
			SELECT p.price_id, p.query_term, p.source_id, p.source_product_name,
			       p.price, p.currency, p.product_url, p.attributes, p.scraped_at,
			       s.source_id, s.name, s.base_url, s.last_scraped_at, s.created_at
			FROM prices p
			JOIN sources s ON s.source_id = p.source_id
			WHERE p.query_term = $1
			  AND ($2::timestamptz IS NULL OR p.scraped_at >= $2)
			ORDER BY p.price ASC
			LIMIT $3
		`, queryTerm, since, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT p.price_id, p.query_term, p.source_id, p.source_product_name,
			       p.price, p.currency, p.product_url, p.attributes, p.scraped_at
			FROM prices p
			WHERE p.query_term = $1
			  AND ($2::timestamptz IS NULL OR p.scraped_at >= $2)
			ORDER BY p.price ASC
			LIMIT $3
		`, queryTerm, since, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %q: %w", queryTerm, err)
	}
	defer rows.Close()

	records := make([]models.PriceRecord, 0)
	for rows.Next() {
		var (
			rec   models.PriceRecord
			attrs []byte
		)
		if includeSource {
			var src models.Source
			if err := rows.Scan(
				&rec.PriceID, &rec.QueryTerm, &rec.SourceID, &rec.Name,
				&rec.Price, &rec.Currency, &rec.ProductURL, &attrs, &rec.ScrapedAt,
				&src.SourceID, &src.Name, &src.BaseURL, &src.LastScrapedAt, &src.CreatedAt,
			); err != nil {
				return nil, fmt.Errorf("failed to scan price row: %w", err)
			}
			rec.Source = &src
		} else {
			if err := rows.Scan(
				&rec.PriceID, &rec.QueryTerm, &rec.SourceID, &rec.Name,
				&rec.Price, &rec.Currency, &rec.ProductURL, &attrs, &rec.ScrapedAt,
			); err != nil {
				return nil, fmt.Errorf("failed to scan price row: %w", err)
			}
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
				return nil, fmt.Errorf("failed to decode attributes for %s: %w", rec.ProductURL, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertMany writes a batch of scraped items in a single transaction. Rows
// are matched by product_url: existing rows get the new price, name,
// attributes and scraped_at; new rows are inserted. Duplicate URLs within the
// input collapse to the last occurrence before the batch is sent, so the
// transaction never touches one row twice.
func (s *PriceStore) UpsertMany(ctx context.Context, items []models.PriceCreate) ([]models.PriceRecord, error) {
	if len(items) == 0 {
		return nil, nil
	}

	deduped := dedupeByURL(items)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, item := range deduped {
		var attrs []byte
		if len(item.Attributes) > 0 {
			attrs, err = json.Marshal(item.Attributes)
			if err != nil {
				return nil, fmt.Errorf("failed to encode attributes for %s: %w", item.ProductURL, err)
			}
		}
		currency := item.Currency
		if currency == "" {
			currency = "CLP"
		}
		batch.Queue(`
			INSERT INTO prices (query_term, source_id, source_product_name, price, currency, product_url, attributes, scraped_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (product_url) DO UPDATE SET
				source_product_name = EXCLUDED.source_product_name,
				price = EXCLUDED.price,
				attributes = EXCLUDED.attributes,
				scraped_at = NOW()
			RETURNING price_id, query_term, source_id, source_product_name, price, currency, product_url, scraped_at
		`, item.QueryTerm, item.SourceID, item.Name, item.Price, currency, item.ProductURL, attrs)
	}

	results := tx.SendBatch(ctx, batch)
	records := make([]models.PriceRecord, 0, len(deduped))
	for i := range deduped {
		var rec models.PriceRecord
		if err := results.QueryRow().Scan(
			&rec.PriceID, &rec.QueryTerm, &rec.SourceID, &rec.Name,
			&rec.Price, &rec.Currency, &rec.ProductURL, &rec.ScrapedAt,
		); err != nil {
			results.Close()
			return nil, fmt.Errorf("failed to upsert %s: %w", deduped[i].ProductURL, err)
		}
		rec.Attributes = deduped[i].Attributes
		records = append(records, rec)
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("failed to close upsert batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit upsert transaction: %w", err)
	}
	return records, nil
}

// PruneOlderThan deletes records for a query term whose scraped_at is older
// than the retention window. Returns the number of rows deleted.
func (s *PriceStore) PruneOlderThan(ctx context.Context, queryTerm string, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM prices
		WHERE query_term = $1 AND scraped_at < $2
	`, queryTerm, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune prices for %q: %w", queryTerm, err)
	}
	return tag.RowsAffected(), nil
}

// dedupeByURL keeps the last occurrence of each product_url, preserving the
// relative order of the survivors.
func dedupeByURL(items []models.PriceCreate) []models.PriceCreate {
	last := make(map[string]int, len(items))
	for i, item := range items {
		last[item.ProductURL] = i
	}
	out := make([]models.PriceCreate, 0, len(last))
	for i, item := range items {
		if last[item.ProductURL] == i {
			out = append(out, item)
		}
	}
	return out
}
