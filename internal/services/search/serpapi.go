// internal/services/search/serpapi.go
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
	defaultSerpAPIBaseURL = "https://serpapi.com/search"
	serpapiMaxNum         = 20
)

type SerpAPIConfig struct {
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// SerpAPIProvider queries SerpAPI's Google engine.
type SerpAPIProvider struct {
	config SerpAPIConfig
	client *commonhttp.RateLimitedClient
	logger logger.Logger
}

func NewSerpAPIProvider(config SerpAPIConfig, log logger.Logger) *SerpAPIProvider {
	if config.BaseURL == "" {
		config.BaseURL = defaultSerpAPIBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &SerpAPIProvider{
		config: config,
		client: commonhttp.NewRateLimitedClient(config.Timeout, config.RatePerSecond, config.Burst),
		logger: log.WithFields(map[string]interface{}{"provider": ProviderSerpAPI}),
	}
}

func (p *SerpAPIProvider) Name() string {
	return ProviderSerpAPI
}

type serpapiResponse struct {
	OrganicResults []struct {
		Link     string `json:"link"`
		Title    string `json:"title"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic_results"`
}

func (p *SerpAPIProvider) Search(ctx context.Context, query string, count int) ([]models.SearchHit, error) {
	if count < 1 {
		count = 1
	}
	if count > serpapiMaxNum {
		count = serpapiMaxNum
	}

	endpoint, err := url.Parse(p.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid serpapi base url: %w", err)
	}
	params := endpoint.Query()
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("num", strconv.Itoa(count))
	params.Set("api_key", p.config.APIKey)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create serpapi request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read serpapi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded serpapiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode serpapi response: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(decoded.OrganicResults))
	for i, result := range decoded.OrganicResults {
		if result.Link == "" {
			continue
		}
		rank := result.Position
		if rank == 0 {
			rank = i + 1
		}
		hits = append(hits, models.SearchHit{
			URL:      result.Link,
			Title:    result.Title,
			Snippet:  result.Snippet,
			Provider: ProviderSerpAPI,
			Rank:     rank,
		})
	}

	p.logger.Debug("serpapi search completed", map[string]interface{}{
		"query":   query,
		"results": len(hits),
	})
	return hits, nil
}
