// internal/services/search/provider.go
// Package search fans queries out to the configured web search providers and
// merges their results into a single ranked hit list.
package search

import (
	"context"

	"github.com/puneetrinity/llmbackend1/internal/models"
)

// Provider names double as circuit-breaker and cost-tracker dependency keys.
const (
	ProviderBrave   = "brave_search"
	ProviderSerpAPI = "serpapi_search"
)

// Provider is one upstream search API.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]models.SearchHit, error)
}

// Guard admits or rejects one provider call and receives its outcome. The
// pipeline injects an implementation that combines the provider's circuit
// breaker with a cost-tracker reservation; a nil guard admits everything.
type Guard interface {
	Allow(dependency string) error
	Success(dependency string, units int)
	Failure(dependency string, err error)
}
