// Package models holds the entities shared by the store, cache and search layers.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of a ScrapeJob.
// Transitions are monotonic: PENDING -> RUNNING -> {COMPLETED, FAILED}.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Active reports whether a job in this state blocks new refreshes for its query.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// Source is a retail site registered administratively.
type Source struct {
	SourceID      int64      `json:"source_id"`
	Name          string     `json:"name"`
	BaseURL       string     `json:"base_url"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// PriceRecord is one harvested product offering. product_url is the natural
// key: re-scraping the same offering updates the row in place.
type PriceRecord struct {
	PriceID    int64             `json:"price_id"`
	QueryTerm  string            `json:"query_term"`
	SourceID   int64             `json:"source_id"`
	Name       string            `json:"source_product_name"`
	Price      decimal.Decimal   `json:"price"`
	Currency   string            `json:"currency"`
	ProductURL string            `json:"product_url"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ScrapedAt  time.Time         `json:"scraped_at"`

	// Source is populated only when the store was asked to eager-load it.
	Source *Source `json:"source,omitempty"`
}

// PriceCreate is the input for the upsert batch written by a refresh.
type PriceCreate struct {
	QueryTerm  string
	SourceID   int64
	Name       string
	Price      decimal.Decimal
	Currency   string
	ProductURL string
	Attributes map[string]string
}

// ScrapeJob records one refresh request for a query.
type ScrapeJob struct {
	JobID        int64      `json:"job_id"`
	QueryTerm    string     `json:"query_term"`
	SourceID     *int64     `json:"source_id,omitempty"`
	Status       JobStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// SearchResultItem is the projection served over HTTP and stored in the cache.
// It denormalizes the source name so cached payloads are readable without a
// database round trip.
type SearchResultItem struct {
	SourceName string          `json:"source_name"`
	Name       string          `json:"source_product_name"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	ProductURL string          `json:"product_url"`
	ScrapedAt  time.Time       `json:"scraped_at"`
}

// ResultItemFromRecord projects a PriceRecord (with its Source loaded) into
// the API shape. Records without a loaded source are skipped by callers.
func ResultItemFromRecord(rec PriceRecord) SearchResultItem {
	item := SearchResultItem{
		Name:       rec.Name,
		Price:      rec.Price,
		Currency:   rec.Currency,
		ProductURL: rec.ProductURL,
		ScrapedAt:  rec.ScrapedAt,
	}
	if rec.Source != nil {
		item.SourceName = rec.Source.Name
	}
	return item
}
