package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/comparador/price-search/internal/database"
	"github.com/comparador/price-search/internal/models"
)

// setupTestDB creates a test PostgreSQL database using testcontainers and
// applies the schema. It returns the pool and a cleanup function.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	config, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err, "Failed to create connection pool")

	require.NoError(t, database.ApplySchema(ctx, pool), "Failed to apply schema")

	cleanup := func() {
		pool.Close()
		testcontainers.TerminateContainer(container)
	}
	return pool, cleanup
}

func mustCreateSource(t *testing.T, pool *pgxpool.Pool, name string) *models.Source {
	t.Helper()
	src, err := NewSourceStore(pool).Create(context.Background(), name, "https://example.cl")
	require.NoError(t, err)
	return src
}

func priceCreate(query string, sourceID int64, name, url string, price int64) models.PriceCreate {
	return models.PriceCreate{
		QueryTerm:  query,
		SourceID:   sourceID,
		Name:       name,
		Price:      decimal.NewFromInt(price),
		Currency:   "CLP",
		ProductURL: url,
	}
}

func TestPriceStoreUpsertAndRead(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	src := mustCreateSource(t, pool, "Site A")
	prices := NewPriceStore(pool)

	inserted, err := prices.UpsertMany(ctx, []models.PriceCreate{
		priceCreate("iphone 15", src.SourceID, "iPhone 15 128GB", "https://a.cl/1", 899990),
		priceCreate("iphone 15", src.SourceID, "iPhone 15 Pro", "https://a.cl/2", 1099990),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	// Re-scraping the same URL updates in place instead of inserting.
	updated, err := prices.UpsertMany(ctx, []models.PriceCreate{
		priceCreate("iphone 15", src.SourceID, "iPhone 15 128GB Renamed", "https://a.cl/1", 879990),
	})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, inserted[0].PriceID, updated[0].PriceID)
	assert.Equal(t, "iPhone 15 128GB Renamed", updated[0].Name)
	assert.True(t, decimal.NewFromInt(879990).Equal(updated[0].Price))

	records, err := prices.GetByQuery(ctx, "iphone 15", nil, 200, true)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Ordered by price ascending.
	assert.True(t, records[0].Price.LessThan(records[1].Price))
	// Source rows are eager-loaded.
	require.NotNil(t, records[0].Source)
	assert.Equal(t, "Site A", records[0].Source.Name)

	// Without eager loading the source pointer stays nil.
	bare, err := prices.GetByQuery(ctx, "iphone 15", nil, 200, false)
	require.NoError(t, err)
	require.Len(t, bare, 2)
	assert.Nil(t, bare[0].Source)
}

func TestPriceStoreUpsertDedupesWithinBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	src := mustCreateSource(t, pool, "Site A")
	prices := NewPriceStore(pool)

	// Same URL twice in one batch: the last occurrence wins.
	records, err := prices.UpsertMany(ctx, []models.PriceCreate{
		priceCreate("iphone 15", src.SourceID, "First", "https://a.cl/1", 100),
		priceCreate("iphone 15", src.SourceID, "Second", "https://a.cl/1", 200),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Second", records[0].Name)
	assert.True(t, decimal.NewFromInt(200).Equal(records[0].Price))
}

func TestPriceStoreAttributesRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	src := mustCreateSource(t, pool, "Site A")
	prices := NewPriceStore(pool)

	item := priceCreate("iphone 15", src.SourceID, "iPhone 15", "https://a.cl/1", 899990)
	item.Attributes = map[string]string{"condition": "new", "shipping": "free"}

	_, err := prices.UpsertMany(ctx, []models.PriceCreate{item})
	require.NoError(t, err)

	records, err := prices.GetByQuery(ctx, "iphone 15", nil, 200, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, item.Attributes, records[0].Attributes)
}

func TestPriceStoreGetByQueryLimitAndSince(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	src := mustCreateSource(t, pool, "Site A")
	prices := NewPriceStore(pool)

	_, err := prices.UpsertMany(ctx, []models.PriceCreate{
		priceCreate("iphone 15", src.SourceID, "A", "https://a.cl/1", 100),
		priceCreate("iphone 15", src.SourceID, "B", "https://a.cl/2", 200),
		priceCreate("iphone 15", src.SourceID, "C", "https://a.cl/3", 300),
	})
	require.NoError(t, err)

	limited, err := prices.GetByQuery(ctx, "iphone 15", nil, 2, false)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	// since in the future excludes everything.
	future := time.Now().UTC().Add(time.Hour)
	none, err := prices.GetByQuery(ctx, "iphone 15", &future, 200, false)
	require.NoError(t, err)
	assert.Empty(t, none)

	// Unknown query returns an empty slice, not an error.
	missing, err := prices.GetByQuery(ctx, "no such thing", nil, 200, true)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestPriceStorePruneOlderThan(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	src := mustCreateSource(t, pool, "Site A")
	prices := NewPriceStore(pool)

	_, err := prices.UpsertMany(ctx, []models.PriceCreate{
		priceCreate("iphone 15", src.SourceID, "Old", "https://a.cl/old", 100),
		priceCreate("iphone 15", src.SourceID, "New", "https://a.cl/new", 200),
	})
	require.NoError(t, err)

	// Age one row past the retention window.
	_, err = pool.Exec(ctx, `
		UPDATE prices SET scraped_at = NOW() - INTERVAL '40 days' WHERE product_url = 'https://a.cl/old'
	`)
	require.NoError(t, err)

	pruned, err := prices.PruneOlderThan(ctx, "iphone 15", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	records, err := prices.GetByQuery(ctx, "iphone 15", nil, 200, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "New", records[0].Name)
}

func TestSourceStoreLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sources := NewSourceStore(pool)

	missing, err := sources.GetByName(ctx, "Nowhere")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := sources.Create(ctx, "Site A", "https://a.cl")
	require.NoError(t, err)
	assert.Nil(t, created.LastScrapedAt)

	found, err := sources.GetByName(ctx, "Site A")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.SourceID, found.SourceID)

	require.NoError(t, sources.TouchLastScraped(ctx, created.SourceID))

	list, err := sources.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].LastScrapedAt)
}

func TestJobRegistryLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	jobs := NewJobRegistry(pool)

	job, err := jobs.Create(ctx, "iphone 15", nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)

	active, err := jobs.FindActive(ctx, "iphone 15")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.JobID, active.JobID)

	running, err := jobs.MarkRunning(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, running.Status)
	assert.NotNil(t, running.StartedAt)

	completed, err := jobs.MarkCompleted(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	// Terminal jobs no longer block new refreshes.
	none, err := jobs.FindActive(ctx, "iphone 15")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobRegistryCreateReturnsExistingActive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	jobs := NewJobRegistry(pool)

	first, err := jobs.Create(ctx, "iphone 15", nil)
	require.NoError(t, err)

	// The partial unique index rejects a second active job; Create resolves
	// the collision to the existing row.
	second, err := jobs.Create(ctx, "iphone 15", nil)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID)

	// A different query is unaffected.
	other, err := jobs.Create(ctx, "notebook", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, other.JobID)

	// Once the first job fails, the query accepts a fresh one.
	_, err = jobs.MarkFailed(ctx, first.JobID, "boom")
	require.NoError(t, err)

	third, err := jobs.Create(ctx, "iphone 15", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, third.JobID)
}

func TestJobRegistryInvalidTransitionIsNoOp(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	jobs := NewJobRegistry(pool)

	job, err := jobs.Create(ctx, "iphone 15", nil)
	require.NoError(t, err)

	// Completing a PENDING job is not a legal transition; the record is
	// returned unchanged.
	unchanged, err := jobs.MarkCompleted(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, unchanged.Status)

	// Failing a PENDING job is legal (refresh died before MarkRunning).
	failed, err := jobs.MarkFailed(ctx, job.JobID, "never started")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "never started", *failed.ErrorMessage)
}
