// internal/services/search/brave.go
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	commonhttp "github.com/puneetrinity/llmbackend1/internal/common/http"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

const (
	defaultBraveBaseURL = "https://api.search.brave.com/res/v1/web/search"
	braveMaxCount       = 20
)

type BraveConfig struct {
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// BraveProvider queries the Brave Web Search API.
type BraveProvider struct {
	config BraveConfig
	client *commonhttp.RateLimitedClient
	logger logger.Logger
}

func NewBraveProvider(config BraveConfig, log logger.Logger) *BraveProvider {
	if config.BaseURL == "" {
		config.BaseURL = defaultBraveBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &BraveProvider{
		config: config,
		client: commonhttp.NewRateLimitedClient(config.Timeout, config.RatePerSecond, config.Burst),
		logger: log.WithFields(map[string]interface{}{"provider": ProviderBrave}),
	}
}

func (p *BraveProvider) Name() string {
	return ProviderBrave
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (p *BraveProvider) Search(ctx context.Context, query string, count int) ([]models.SearchHit, error) {
	if count < 1 {
		count = 1
	}
	if count > braveMaxCount {
		count = braveMaxCount
	}

	endpoint, err := url.Parse(p.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid brave base url: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read brave response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded braveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode brave response: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(decoded.Web.Results))
	for i, result := range decoded.Web.Results {
		if result.URL == "" {
			continue
		}
		hits = append(hits, models.SearchHit{
			URL:      result.URL,
			Title:    result.Title,
			Snippet:  result.Description,
			Provider: ProviderBrave,
			Rank:     i + 1,
		})
	}

	p.logger.Debug("brave search completed", map[string]interface{}{
		"query":   query,
		"results": len(hits),
	})
	return hits, nil
}
