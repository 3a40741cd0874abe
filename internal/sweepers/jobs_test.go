package sweepers

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/comparador/price-search/internal/database"
	"github.com/comparador/price-search/internal/models"
	"github.com/comparador/price-search/internal/store"
)

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

func TestSweepStaleJobs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	jobs := store.NewJobRegistry(pool)

	// An orphaned RUNNING job, well past the running timeout.
	orphanRunning, err := jobs.Create(ctx, "orphan running", nil)
	require.NoError(t, err)
	_, err = jobs.MarkRunning(ctx, orphanRunning.JobID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		UPDATE scrape_jobs SET started_at = NOW() - INTERVAL '2 hours' WHERE job_id = $1
	`, orphanRunning.JobID)
	require.NoError(t, err)

	// An orphaned PENDING job that never started.
	orphanPending, err := jobs.Create(ctx, "orphan pending", nil)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		UPDATE scrape_jobs SET created_at = NOW() - INTERVAL '1 hour' WHERE job_id = $1
	`, orphanPending.JobID)
	require.NoError(t, err)

	// A healthy RUNNING job inside the timeout.
	healthy, err := jobs.Create(ctx, "healthy", nil)
	require.NoError(t, err)
	_, err = jobs.MarkRunning(ctx, healthy.JobID)
	require.NoError(t, err)

	logger := zerolog.Nop()
	sweeper := NewScrapeJobSweeper(pool, &logger, time.Minute, 30*time.Minute, 10*time.Minute)
	require.NoError(t, sweeper.SweepStaleJobs(ctx))

	swept, err := jobs.Get(ctx, orphanRunning.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, swept.Status)
	require.NotNil(t, swept.ErrorMessage)
	assert.Contains(t, *swept.ErrorMessage, "running timeout")

	swept, err = jobs.Get(ctx, orphanPending.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, swept.Status)
	require.NotNil(t, swept.ErrorMessage)
	assert.Contains(t, *swept.ErrorMessage, "pending timeout")

	alive, err := jobs.Get(ctx, healthy.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, alive.Status)

	// Swept jobs no longer block new refreshes for their query.
	fresh, err := jobs.Create(ctx, "orphan running", nil)
	require.NoError(t, err)
	assert.NotEqual(t, orphanRunning.JobID, fresh.JobID)
}
