package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comparador/price-search/internal/models"
)

const jobColumns = `job_id, query_term, source_id, status, started_at, completed_at, created_at, error_message`

// JobRegistry records the lifecycle of refresh requests and is the
// deduplication primitive: at most one PENDING or RUNNING job may exist per
// query term. Callers check FindActive before Create; a unique partial index
// backstops the window between the two.
type JobRegistry struct {
	pool *pgxpool.Pool
}

func NewJobRegistry(pool *pgxpool.Pool) *JobRegistry {
	return &JobRegistry{pool: pool}
}

// Get returns the job with the given id, or nil if absent.
func (r *JobRegistry) Get(ctx context.Context, jobID int64) (*models.ScrapeJob, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM scrape_jobs WHERE job_id = $1
	`, jobID))
}

// FindActive returns the PENDING or RUNNING job for a query term, if any.
func (r *JobRegistry) FindActive(ctx context.Context, queryTerm string) (*models.ScrapeJob, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM scrape_jobs
		WHERE query_term = $1 AND status IN ('PENDING', 'RUNNING')
		LIMIT 1
	`, queryTerm))
}

// Create inserts a PENDING job. If a concurrent caller won the race and an
// active job already exists, the insert collides with the partial unique
// index and the existing job is returned instead.
func (r *JobRegistry) Create(ctx context.Context, queryTerm string, sourceID *int64) (*models.ScrapeJob, error) {
	job, err := r.scanOne(r.pool.QueryRow(ctx, `
		INSERT INTO scrape_jobs (query_term, source_id, status)
		VALUES ($1, $2, 'PENDING')
		RETURNING `+jobColumns+`
	`, queryTerm, sourceID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, findErr := r.FindActive(ctx, queryTerm)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create job for %q: %w", queryTerm, err)
	}
	return job, nil
}

// MarkRunning transitions PENDING -> RUNNING and stamps started_at. From any
// other state it is a no-op returning the current record.
func (r *JobRegistry) MarkRunning(ctx context.Context, jobID int64) (*models.ScrapeJob, error) {
	return r.transition(ctx, jobID, `
		UPDATE scrape_jobs
		SET status = 'RUNNING', started_at = NOW()
		WHERE job_id = $1 AND status = 'PENDING'
		RETURNING `+jobColumns)
}

// MarkCompleted transitions RUNNING -> COMPLETED and stamps completed_at.
func (r *JobRegistry) MarkCompleted(ctx context.Context, jobID int64) (*models.ScrapeJob, error) {
	return r.transition(ctx, jobID, `
		UPDATE scrape_jobs
		SET status = 'COMPLETED', completed_at = NOW()
		WHERE job_id = $1 AND status = 'RUNNING'
		RETURNING `+jobColumns)
}

// MarkFailed transitions RUNNING -> FAILED with an error summary. Also
// accepts PENDING so a refresh that dies before MarkRunning can still record
// the failure.
func (r *JobRegistry) MarkFailed(ctx context.Context, jobID int64, errorMessage string) (*models.ScrapeJob, error) {
	return r.transition(ctx, jobID, `
		UPDATE scrape_jobs
		SET status = 'FAILED', completed_at = NOW(), error_message = $2
		WHERE job_id = $1 AND status IN ('PENDING', 'RUNNING')
		RETURNING `+jobColumns, errorMessage)
}

func (r *JobRegistry) transition(ctx context.Context, jobID int64, sql string, extraArgs ...any) (*models.ScrapeJob, error) {
	args := append([]any{jobID}, extraArgs...)
	job, err := r.scanOne(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, err
	}
	if job != nil {
		return job, nil
	}
	// Transition precondition not met: return current state unchanged.
	return r.Get(ctx, jobID)
}

func (r *JobRegistry) scanOne(row pgx.Row) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	err := row.Scan(
		&job.JobID, &job.QueryTerm, &job.SourceID, &job.Status,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.ErrorMessage,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
