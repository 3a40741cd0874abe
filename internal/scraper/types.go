// Package scraper defines the site adapter contract: a query in, an ordered
// list of scraped items out. Each adapter owns its HTTP client for the
// duration of one scrape and is a black box to the rest of the system.
package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Input identifies what to scrape and where.
type Input struct {
	Query      string
	SourceID   int64
	SourceName string
	BaseURL    string
}

// ScrapedItem is one offering as emitted by an adapter, before persistence.
type ScrapedItem struct {
	Name       string
	Price      decimal.Decimal
	Currency   string
	ProductURL string
	Attributes map[string]string
}

// Scraper turns a query into a list of scraped items. Implementations return
// an empty slice when the page fetched but parsed no items; they return an
// error only on transport failure or unrecoverable internal errors.
type Scraper interface {
	Scrape(ctx context.Context, in Input) ([]ScrapedItem, error)
}

// Validate checks the adapter output contract for a single item.
func (it ScrapedItem) Validate() error {
	if strings.TrimSpace(it.Name) == "" {
		return fmt.Errorf("empty product name")
	}
	if it.Price.IsNegative() {
		return fmt.Errorf("negative price %s", it.Price)
	}
	u, err := url.Parse(it.ProductURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("product url %q is not absolute", it.ProductURL)
	}
	return nil
}

// FilterValid drops items that fail validation, logging a warning per drop.
// Invalid items never surface as errors; the rest of the batch survives.
func FilterValid(logger zerolog.Logger, items []ScrapedItem) []ScrapedItem {
	valid := make([]ScrapedItem, 0, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			logger.Warn().Err(err).Str("name", it.Name).Str("url", it.ProductURL).Msg("Dropping invalid scraped item")
			continue
		}
		valid = append(valid, it)
	}
	return valid
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
