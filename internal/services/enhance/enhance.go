// internal/services/enhance/enhance.go
// Package enhance expands a user query into a small set of search variants:
// Google autocomplete suggestions plus semantic, domain, and temporal
// rewrites. Enhancement is best-effort and never fails a request.
package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	commonhttp "github.com/puneetrinity/llmbackend1/internal/common/http"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
)

// DependencyAutocomplete is the circuit-breaker key for the Google
// autocomplete endpoint. The API is free, so no cost guard applies.
const DependencyAutocomplete = "google_autocomplete"

const (
	defaultAutocompleteBaseURL = "https://suggestqueries.google.com/complete/search"
	defaultEnhanceTimeout      = 5 * time.Second
	defaultMaxVariants         = 5

	maxAutocompleteVariants = 3
	defaultSuggestionLimit  = 5
	maxSuggestionLimit      = 10
)

type Config struct {
	AutocompleteBaseURL string
	Timeout             time.Duration
	MaxVariants         int
	// DisableAutocomplete turns the external autocomplete calls off; the
	// local rewrite strategies still run.
	DisableAutocomplete bool
}

// Enhancer expands queries. The breaker registry may be nil, which disables
// guarding of the autocomplete endpoint.
type Enhancer struct {
	config   Config
	client   *commonhttp.Client
	breakers *breaker.Registry
	logger   logger.Logger
}

func NewEnhancer(config Config, breakers *breaker.Registry, log logger.Logger) *Enhancer {
	if config.AutocompleteBaseURL == "" {
		config.AutocompleteBaseURL = defaultAutocompleteBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultEnhanceTimeout
	}
	if config.MaxVariants <= 0 {
		config.MaxVariants = defaultMaxVariants
	}
	return &Enhancer{
		config:   config,
		client:   commonhttp.NewClient(config.Timeout),
		breakers: breakers,
		logger:   log.WithFields(map[string]interface{}{"component": "query_enhancer"}),
	}
}

// Enhance returns the query plus up to MaxVariants-1 rewrites, deduplicated
// in strategy order. The original query is always first.
func (e *Enhancer) Enhance(ctx context.Context, query string) []string {
	variants := []string{query}
	variants = append(variants, e.guardedSuggestions(ctx, query, maxAutocompleteVariants)...)
	variants = append(variants, semanticExpansions(query)...)
	variants = append(variants, domainExpansion(query)...)
	variants = append(variants, temporalExpansion(query, time.Now())...)

	variants = dedupePreserveOrder(variants)
	if len(variants) > e.config.MaxVariants {
		variants = variants[:e.config.MaxVariants]
	}

	e.logger.Debug("query enhanced", map[string]interface{}{
		"query":    query,
		"variants": len(variants),
	})
	return variants
}

// Suggestions returns autocomplete completions for a prefix, for the
// suggestions API. Failures yield an empty list, never an error.
func (e *Enhancer) Suggestions(ctx context.Context, prefix string, limit int) []string {
	if strings.TrimSpace(prefix) == "" {
		return []string{}
	}
	if limit <= 0 {
		limit = defaultSuggestionLimit
	}
	if limit > maxSuggestionLimit {
		limit = maxSuggestionLimit
	}
	suggestions := e.guardedSuggestions(ctx, prefix, limit)
	if suggestions == nil {
		return []string{}
	}
	return suggestions
}

// guardedSuggestions wraps the autocomplete call with its circuit breaker.
func (e *Enhancer) guardedSuggestions(ctx context.Context, prefix string, limit int) []string {
	if e.config.DisableAutocomplete {
		return nil
	}
	var cb *breaker.CircuitBreaker
	if e.breakers != nil {
		cb = e.breakers.GetOrCreate(DependencyAutocomplete)
		if err := cb.Allow(); err != nil {
			e.logger.Debug("autocomplete skipped", map[string]interface{}{
				"prefix": prefix,
				"reason": err.Error(),
			})
			return nil
		}
	}

	suggestions, err := e.fetchSuggestions(ctx, prefix, limit)
	if err != nil {
		if cb != nil {
			cb.RecordFailure()
		}
		e.logger.Warn("autocomplete request failed", map[string]interface{}{
			"prefix": prefix,
			"error":  err.Error(),
		})
		return nil
	}
	if cb != nil {
		cb.RecordSuccess()
	}
	return suggestions
}

// fetchSuggestions calls the public autocomplete endpoint. The chrome client
// returns a JSON array whose second element is the suggestion list.
func (e *Enhancer) fetchSuggestions(ctx context.Context, prefix string, limit int) ([]string, error) {
	endpoint, err := url.Parse(e.config.AutocompleteBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid autocomplete base url: %w", err)
	}
	params := endpoint.Query()
	params.Set("client", "chrome")
	params.Set("q", prefix)
	params.Set("hl", "en")
	params.Set("gl", "us")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create autocomplete request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("autocomplete request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read autocomplete response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("autocomplete returned status %d", resp.StatusCode)
	}

	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode autocomplete response: %w", err)
	}
	if len(payload) < 2 {
		return nil, nil
	}
	var all []string
	if err := json.Unmarshal(payload[1], &all); err != nil {
		return nil, fmt.Errorf("failed to decode suggestion list: %w", err)
	}

	suggestions := make([]string, 0, limit)
	for _, s := range all {
		if strings.EqualFold(s, prefix) {
			continue
		}
		suggestions = append(suggestions, s)
		if len(suggestions) >= limit {
			break
		}
	}
	return suggestions, nil
}

func dedupePreserveOrder(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
