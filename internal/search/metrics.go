package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits counts search requests answered from the result cache.
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_cache_hits_total",
		Help: "Total number of search cache hits",
	})

	// cacheMisses counts search requests that fell through to the store.
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_cache_misses_total",
		Help: "Total number of search cache misses",
	})

	// refreshJobs counts background refreshes by terminal outcome.
	refreshJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_refresh_jobs_total",
		Help: "Total number of background refresh jobs by outcome",
	}, []string{"outcome"}) // completed, failed, aborted

	// refreshDuration tracks end-to-end refresh time.
	refreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_refresh_duration_seconds",
		Help:    "End-to-end background refresh duration by outcome",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	// scrapedItems counts valid items emitted per source.
	scrapedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_scraped_items_total",
		Help: "Total number of scraped items by source",
	}, []string{"source"})

	// prunedPrices counts records removed by retention pruning.
	prunedPrices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_pruned_prices_total",
		Help: "Total number of price records removed by retention pruning",
	})
)
