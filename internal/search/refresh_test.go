package search

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comparador/price-search/internal/models"
	"github.com/comparador/price-search/internal/scraper"
)

// stubScraper returns a canned result or error for refresh tests.
type stubScraper struct {
	items []scraper.ScrapedItem
	err   error
	panic bool
}

func (s stubScraper) Scrape(ctx context.Context, in scraper.Input) ([]scraper.ScrapedItem, error) {
	if s.panic {
		panic("selector blew up")
	}
	return s.items, s.err
}

func registerStub(env *testEnv, sourceName string, stub stubScraper) {
	env.registry.Register(sourceName, func(cfg scraper.ClientConfig) scraper.Scraper { return stub })
}

func addSource(env *testEnv, id int64, name string) {
	env.sources.sources = append(env.sources.sources, models.Source{
		SourceID: id,
		Name:     name,
		BaseURL:  "https://example.cl",
	})
}

func scrapedItem(name, url string, price int64) scraper.ScrapedItem {
	return scraper.ScrapedItem{
		Name:       name,
		Price:      decimal.NewFromInt(price),
		Currency:   "CLP",
		ProductURL: url,
	}
}

func TestRunRefreshAllSourcesSucceed(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	addSource(env, 1, "Site A")
	addSource(env, 2, "Site B")
	registerStub(env, "Site A", stubScraper{items: []scraper.ScrapedItem{
		scrapedItem("iPhone 15", "https://a.cl/1", 899990),
		scrapedItem("iPhone 15 Pro", "https://a.cl/2", 1099990),
	}})
	registerStub(env, "Site B", stubScraper{items: []scraper.ScrapedItem{
		scrapedItem("iPhone 15", "https://b.cl/1", 879990),
	}})

	job, err := env.jobs.Create(context.Background(), "iphone 15", nil)
	require.NoError(t, err)

	env.coord.RunRefresh(context.Background(), job.JobID, "iphone 15")

	final := env.jobs.get(job.JobID)
	assert.Equal(t, models.JobCompleted, final.Status)
	assert.Nil(t, final.ErrorMessage)

	calls := env.store.upsertCalls()
	require.Len(t, calls, 1, "all sources persist in a single batch")
	assert.Len(t, calls[0], 3)
	for _, it := range calls[0] {
		assert.Equal(t, "iphone 15", it.QueryTerm)
	}

	assert.ElementsMatch(t, []int64{1, 2}, env.sources.touchedIDs())
	assert.Equal(t, []string{"iphone 15"}, env.store.pruned)
}

func TestRunRefreshPartialFailureKeepsData(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	addSource(env, 1, "Site A")
	addSource(env, 2, "Site B")
	registerStub(env, "Site A", stubScraper{items: []scraper.ScrapedItem{
		scrapedItem("iPhone 15", "https://a.cl/1", 899990),
	}})
	registerStub(env, "Site B", stubScraper{err: errors.New("blocked by site")})

	job, err := env.jobs.Create(context.Background(), "iphone 15", nil)
	require.NoError(t, err)

	env.coord.RunRefresh(context.Background(), job.JobID, "iphone 15")

	// The successful source's data is persisted even though the job fails.
	calls := env.store.upsertCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], 1)
	assert.Equal(t, []int64{1}, env.sources.touchedIDs())

	final := env.jobs.get(job.JobID)
	assert.Equal(t, models.JobFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "Site B")
	assert.Contains(t, *final.ErrorMessage, "blocked by site")
}

func TestRunRefreshAllSourcesFail(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	addSource(env, 1, "Site A")
	registerStub(env, "Site A", stubScraper{err: errors.New("timeout")})

	job, err := env.jobs.Create(context.Background(), "iphone 15", nil)
	require.NoError(t, err)

	env.coord.RunRefresh(context.Background(), job.JobID, "iphone 15")

	assert.Empty(t, env.store.upsertCalls())
	assert.Empty(t, env.sources.touchedIDs())

	final := env.jobs.get(job.JobID)
	assert.Equal(t, models.JobFailed, final.Status)
}

func TestRunRefreshSkipsSourcesWithoutAdapter(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	addSource(env, 1, "Site A")
	addSource(env, 2, "Unknown Site")
	registerStub(env, "Site A", stubScraper{items: []scraper.ScrapedItem{
		scrapedItem("iPhone 15", "https://a.cl/1", 899990),
	}})

	job, err := env.jobs.Create(context.Background(), "iphone 15", nil)
	require.NoError(t, err)

	env.coord.RunRefresh(context.Background(), job.JobID, "iphone 15")

	// An unregistered source is skipped, not an error.
	final := env.jobs.get(job.JobID)
	assert.Equal(t, models.JobCompleted, final.Status)
	assert.Equal(t, []int64{1}, env.sources.touchedIDs())
}

func TestRunRefreshCapturesAdapterPanic(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	addSource(env, 1, "Site A")
	addSource(env, 2, "Site B")
	registerStub(env, "Site A", stubScraper{panic: true})
	registerStub(env, "Site B", stubScraper{items: []scraper.ScrapedItem{
		scrapedItem("iPhone 15", "https://b.cl/1", 879990),
	}})

	job, err := env.jobs.Create(context.Background(), "iphone 15", nil)
	require.NoError(t, err)

	env.coord.RunRefresh(context.Background(), job.JobID, "iphone 15")

	// The panic is confined to its source; the other source still persists.
	calls := env.store.upsertCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], 1)

	final := env.jobs.get(job.JobID)
	assert.Equal(t, models.JobFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "panicked")
}

func TestRunRefreshNeverWritesCache(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	addSource(env, 1, "Site A")
	registerStub(env, "Site A", stubScraper{items: []scraper.ScrapedItem{
		scrapedItem("iPhone 15", "https://a.cl/1", 899990),
	}})

	job, err := env.jobs.Create(context.Background(), "iphone 15", nil)
	require.NoError(t, err)

	env.coord.RunRefresh(context.Background(), job.JobID, "iphone 15")

	final := env.jobs.get(job.JobID)
	assert.Equal(t, models.JobCompleted, final.Status)
	// Fresh rows reach readers through the store; cached entries age out by TTL.
	assert.Equal(t, 0, env.cache.setCalls())
}

func TestRunRefreshWithConcurrencyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentScrapes = 1
	env := newTestEnv(t, cfg)
	for i, name := range []string{"Site A", "Site B", "Site C"} {
		addSource(env, int64(i+1), name)
		registerStub(env, name, stubScraper{items: []scraper.ScrapedItem{
			scrapedItem("iPhone 15", "https://example.cl/"+name, 899990),
		}})
	}

	job, err := env.jobs.Create(context.Background(), "iphone 15", nil)
	require.NoError(t, err)

	env.coord.RunRefresh(context.Background(), job.JobID, "iphone 15")

	final := env.jobs.get(job.JobID)
	assert.Equal(t, models.JobCompleted, final.Status)
	calls := env.store.upsertCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], 3)
}
