package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/cherites0610/welfare-pipeline/internal/common"
)

// Fetcher retrieves and parses pages with per-domain request pacing so a
// burst of concurrent tasks never hammers a single municipal server.
type Fetcher struct {
	client    *http.Client
	logger    arbor.ILogger
	userAgent string
	maxBody   int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
}

// NewFetcher creates a fetcher from the crawler configuration.
func NewFetcher(client *http.Client, cfg common.CrawlerConfig, logger arbor.ILogger) *Fetcher {
	perSec := rate.Inf
	if cfg.RequestDelay > 0 {
		perSec = rate.Every(cfg.RequestDelay)
	}

	return &Fetcher{
		client:    client,
		logger:    logger,
		userAgent: cfg.UserAgent,
		maxBody:   int64(cfg.MaxBodySize),
		limiters:  make(map[string]*rate.Limiter),
		perSec:    perSec,
	}
}

// limiterFor returns the rate limiter for a URL's host.
func (f *Fetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(f.perSec, 1)
		f.limiters[host] = limiter
	}
	return limiter
}

// Get fetches a URL and returns the raw body.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", rawURL, err)
	}
	return body, nil
}

// GetDocument fetches a URL and parses it as an HTML document.
func (f *Fetcher) GetDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, err := f.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML of %s: %w", rawURL, err)
	}
	return doc, nil
}

// GetJSON fetches a URL and decodes the response into out.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := f.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode JSON from %s: %w", rawURL, err)
	}
	return nil
}
