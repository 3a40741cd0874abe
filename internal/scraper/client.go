package scraper

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig controls fetch behaviour shared by all adapters.
type ClientConfig struct {
	Timeout           time.Duration
	UserAgent         string
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
}

// DefaultClientConfig returns the fetch defaults: 30s per-request timeout,
// 3 retry attempts with exponential backoff, 2 req/s per host.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           30 * time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		RequestsPerSecond: 2,
	}
}

// FetchError reports a fetch that exhausted its attempts.
type FetchError struct {
	URL        string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *FetchError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("fetch %s failed after %d attempts: status %d", e.URL, e.Attempts, e.LastStatus)
}

func (e *FetchError) Unwrap() error { return e.LastErr }

// FetchClient is the HTTP client one adapter uses for one scrape. It is
// constructed per scrape and released with Close when the scrape completes.
// The rate limiter throttles requests to the adapter's host so a growing
// source set cannot hammer a single site.
type FetchClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     ClientConfig
}

// NewFetchClient creates a fetch client with the given config.
func NewFetchClient(config ClientConfig) *FetchClient {
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &FetchClient{
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		config:     config,
	}
}

// Close releases the client's pooled connections.
func (c *FetchClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// GetBody fetches a URL and returns the response body. Retryable failures
// (network errors, 429, 5xx) are retried with exponential backoff up to
// MaxRetries additional attempts; other statuses fail immediately.
func (c *FetchClient) GetBody(ctx context.Context, url string) ([]byte, error) {
	var (
		lastStatus int
		lastErr    error
	)

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt - 1)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("building request for %s: %w", url, err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		lastStatus = resp.StatusCode
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				lastErr = err
				continue
			}
			return body, nil
		}

		resp.Body.Close()
		if !isRetryableStatus(resp.StatusCode) {
			return nil, &FetchError{URL: url, Attempts: attempt + 1, LastStatus: resp.StatusCode}
		}
		lastErr = nil
	}

	return nil, &FetchError{URL: url, Attempts: c.config.MaxRetries + 1, LastStatus: lastStatus, LastErr: lastErr}
}

func (c *FetchClient) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.config.InitialBackoff) * math.Pow(2, float64(attempt)))
	if d > c.config.MaxBackoff {
		d = c.config.MaxBackoff
	}
	return d
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
