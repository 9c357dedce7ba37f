// internal/services/fetch/fetcher.go
// Package fetch retrieves result pages and extracts their readable content.
// ZenRows is tried first when configured; every page degrades to a direct
// fetch with browser headers before being counted as failed.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/puneetrinity/llmbackend1/internal/cache"
	commonhttp "github.com/puneetrinity/llmbackend1/internal/common/http"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

// DependencyZenRows is the circuit-breaker and cost-tracker key for the
// ZenRows scraping API. Direct fetches are free and unguarded.
const DependencyZenRows = "zenrows_fetch"

// Guard admits or rejects ZenRows calls and receives their outcomes. The
// pipeline injects an implementation backed by the breaker registry and the
// cost tracker; a nil guard admits everything.
type Guard interface {
	Allow(dependency string) error
	Success(dependency string, units int)
	Failure(dependency string, err error)
}

const (
	defaultZenRowsBaseURL  = "https://api.zenrows.com/v1/"
	defaultFetchTimeout    = 15 * time.Second
	defaultMaxConcurrent   = 5
	defaultMaxContentChars = 5000

	// Some sites reject requests without browser-looking headers.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxBodyBytes = 2 << 20
)

type Config struct {
	ZenRowsAPIKey   string
	ZenRowsBaseURL  string
	Timeout         time.Duration
	MaxConcurrent   int
	MaxContentChars int
	UserAgent       string
}

// Fetcher downloads result pages with bounded parallelism and caches the
// extracted content per URL.
type Fetcher struct {
	config Config
	client *commonhttp.Client
	store  cache.Cache
	logger logger.Logger
}

// NewFetcher builds a fetcher. store may be nil, which disables per-URL
// content caching.
func NewFetcher(config Config, store cache.Cache, log logger.Logger) *Fetcher {
	if config.ZenRowsBaseURL == "" {
		config.ZenRowsBaseURL = defaultZenRowsBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultFetchTimeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaultMaxConcurrent
	}
	if config.MaxContentChars <= 0 {
		config.MaxContentChars = defaultMaxContentChars
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	return &Fetcher{
		config: config,
		client: commonhttp.NewClient(config.Timeout),
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": "content_fetcher"}),
	}
}

// FetchAll fetches every hit concurrently and returns one FetchedSource per
// hit in input order. Failed pages are returned with FetchStatusFailed rather
// than dropped so the caller can count and audit them.
func (f *Fetcher) FetchAll(ctx context.Context, hits []models.SearchHit, guard Guard) []models.FetchedSource {
	if len(hits) == 0 {
		return nil
	}
	if guard == nil {
		guard = nopGuard{}
	}

	start := time.Now()
	sources := make([]models.FetchedSource, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.MaxConcurrent)
	for i, hit := range hits {
		g.Go(func() error {
			sources[i] = f.fetchOne(gctx, hit, guard)
			return nil
		})
	}
	_ = g.Wait()

	fetched := 0
	for _, s := range sources {
		if s.FetchStatus != models.FetchStatusFailed {
			fetched++
		}
	}
	f.logger.Info("content fetching completed", map[string]interface{}{
		"requested":  len(hits),
		"fetched":    fetched,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return sources
}

func (f *Fetcher) fetchOne(ctx context.Context, hit models.SearchHit, guard Guard) models.FetchedSource {
	if f.store != nil {
		if data, ok := f.store.Get(ctx, hit.URL, cache.CategoryContent); ok {
			var cached models.FetchedSource
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached
			}
			f.store.Delete(ctx, hit.URL, cache.CategoryContent)
		}
	}

	start := time.Now()
	page, method, err := f.download(ctx, hit.URL, guard)
	if err != nil {
		f.logger.Warn("content fetch failed", map[string]interface{}{
			"url":   hit.URL,
			"error": err.Error(),
		})
		return f.failedSource(hit, start)
	}

	title, text := extractReadableText(page)
	if title == "" {
		title = hit.Title
	}
	text = cleanContent(text)
	if text == "" {
		f.logger.Warn("no content extracted", map[string]interface{}{"url": hit.URL})
		return f.failedSource(hit, start)
	}

	text, truncated := truncateContent(text, f.config.MaxContentChars)
	status := models.FetchStatusOK
	if truncated {
		status = models.FetchStatusTruncated
	}

	source := models.FetchedSource{
		URL:              hit.URL,
		Title:            title,
		Content:          text,
		WordCount:        len(strings.Fields(text)),
		SourceType:       classifySourceType(hit.URL, title),
		ExtractionMethod: method,
		Confidence:       contentConfidence(text, hit.Title),
		FetchStatus:      status,
		FetchTime:        time.Since(start).Seconds(),
	}

	if f.store != nil {
		if data, err := json.Marshal(source); err == nil {
			f.store.Set(ctx, hit.URL, data, cache.CategoryContent)
		}
	}
	return source
}

func (f *Fetcher) failedSource(hit models.SearchHit, start time.Time) models.FetchedSource {
	return models.FetchedSource{
		URL:         hit.URL,
		Title:       hit.Title,
		SourceType:  classifySourceType(hit.URL, hit.Title),
		FetchStatus: models.FetchStatusFailed,
		FetchTime:   time.Since(start).Seconds(),
	}
}

// download returns the raw page and the extraction method that produced it.
func (f *Fetcher) download(ctx context.Context, target string, guard Guard) (string, string, error) {
	if f.config.ZenRowsAPIKey != "" {
		if allowErr := guard.Allow(DependencyZenRows); allowErr != nil {
			f.logger.Debug("zenrows skipped", map[string]interface{}{
				"url":    target,
				"reason": allowErr.Error(),
			})
		} else {
			page, err := f.fetchViaZenRows(ctx, target)
			if err == nil {
				guard.Success(DependencyZenRows, 1)
				return page, "zenrows", nil
			}
			guard.Failure(DependencyZenRows, err)
			f.logger.Debug("zenrows fetch failed, falling back to direct", map[string]interface{}{
				"url":   target,
				"error": err.Error(),
			})
		}
	}

	page, err := f.fetchDirect(ctx, target)
	if err != nil {
		return "", "", err
	}
	return page, "direct", nil
}

func (f *Fetcher) fetchViaZenRows(ctx context.Context, target string) (string, error) {
	endpoint, err := url.Parse(f.config.ZenRowsBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid zenrows base url: %w", err)
	}
	params := endpoint.Query()
	params.Set("url", target)
	params.Set("apikey", f.config.ZenRowsAPIKey)
	params.Set("js_render", "true")
	params.Set("premium_proxy", "true")
	params.Set("proxy_country", "US")
	params.Set("wait", "2")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create zenrows request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("zenrows request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("zenrows returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read zenrows response: %w", err)
	}
	return string(body), nil
}

func (f *Fetcher) fetchDirect(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("direct fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("direct fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), nil
}

// nopGuard admits every call. Used when no guard is injected.
type nopGuard struct{}

func (nopGuard) Allow(string) error    { return nil }
func (nopGuard) Success(string, int)   {}
func (nopGuard) Failure(string, error) {}
