// internal/services/search/aggregator.go
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/puneetrinity/llmbackend1/internal/cache"
	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

// ============================================================================
// AGGREGATOR
// ============================================================================

// Aggregator fans a set of query variants out across all configured providers,
// merges the hits, and ranks them against the original query. Provider
// failures are absorbed: a request only fails when nothing at all came back.
type Aggregator struct {
	providers []Provider
	store     cache.Cache
	logger    logger.Logger
}

// NewAggregator builds an aggregator over the given providers. store may be
// nil, which disables per-query result caching.
func NewAggregator(providers []Provider, store cache.Cache, log logger.Logger) *Aggregator {
	return &Aggregator{
		providers: providers,
		store:     store,
		logger:    log.WithFields(map[string]interface{}{"component": "search_aggregator"}),
	}
}

// SearchAll runs every query variant against every admitted provider and
// returns up to maxResults hits ranked by relevance to originalQuery. The
// guard is consulted per provider call; rejected or failing providers are
// skipped. Returns a NO_USABLE_SOURCES error when the fan-out yields nothing.
func (a *Aggregator) SearchAll(ctx context.Context, originalQuery string, queries []string, maxResults int, guard Guard) ([]models.SearchHit, error) {
	if len(queries) == 0 {
		queries = []string{originalQuery}
	}
	if guard == nil {
		guard = nopGuard{}
	}

	perQuery := make([][]models.SearchHit, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for qi, query := range queries {
		g.Go(func() error {
			perQuery[qi] = a.searchQuery(gctx, query, maxResults, guard)
			return nil
		})
	}
	// Goroutines never return errors; Wait is just the join point.
	_ = g.Wait()

	merged := dedupeByURL(perQuery)
	if len(merged) == 0 {
		return nil, errors.NewNoUsableSourcesError(
			fmt.Sprintf("no provider returned results for %d query variants", len(queries)))
	}

	for i := range merged {
		merged[i].Relevance = relevanceScore(originalQuery, merged[i])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Relevance > merged[j].Relevance
	})
	if maxResults > 0 && len(merged) > maxResults {
		merged = merged[:maxResults]
	}

	a.logger.Debug("search fan-out completed", map[string]interface{}{
		"queries":  len(queries),
		"returned": len(merged),
	})
	return merged, nil
}

// searchQuery resolves one query variant, serving from the search cache when
// possible and fanning out to providers otherwise.
func (a *Aggregator) searchQuery(ctx context.Context, query string, count int, guard Guard) []models.SearchHit {
	key := queryCacheKey(query, count)
	if a.store != nil {
		if data, ok := a.store.Get(ctx, key, cache.CategorySearch); ok {
			var hits []models.SearchHit
			if err := json.Unmarshal(data, &hits); err == nil {
				return hits
			}
			a.store.Delete(ctx, key, cache.CategorySearch)
		}
	}

	hits := a.fanOut(ctx, query, count, guard)
	if a.store != nil && len(hits) > 0 {
		if data, err := json.Marshal(hits); err == nil {
			a.store.Set(ctx, key, data, cache.CategorySearch)
		}
	}
	return hits
}

// fanOut calls every provider concurrently for one query and flattens the
// results in provider order.
func (a *Aggregator) fanOut(ctx context.Context, query string, count int, guard Guard) []models.SearchHit {
	byProvider := make([][]models.SearchHit, len(a.providers))
	g, gctx := errgroup.WithContext(ctx)
	for pi, provider := range a.providers {
		g.Go(func() error {
			byProvider[pi] = a.callProvider(gctx, provider, query, count, guard)
			return nil
		})
	}
	_ = g.Wait()

	var flat []models.SearchHit
	for _, hits := range byProvider {
		flat = append(flat, hits...)
	}
	return flat
}

// callProvider wraps one provider call with the guard protocol: ask before
// calling, report the outcome after. A skipped or failed provider contributes
// nothing; the caller decides whether the overall fan-out was empty.
func (a *Aggregator) callProvider(ctx context.Context, provider Provider, query string, count int, guard Guard) []models.SearchHit {
	name := provider.Name()
	if err := guard.Allow(name); err != nil {
		a.logger.Debug("search provider skipped", map[string]interface{}{
			"provider": name,
			"query":    query,
			"reason":   err.Error(),
		})
		return nil
	}

	hits, err := provider.Search(ctx, query, count)
	if err != nil {
		guard.Failure(name, err)
		a.logger.Warn("search provider failed", map[string]interface{}{
			"provider": name,
			"query":    query,
			"error":    err.Error(),
		})
		return nil
	}

	guard.Success(name, 1)
	return hits
}

// ============================================================================
// MERGING AND RANKING
// ============================================================================

// dedupeByURL flattens per-query result sets keeping the first occurrence of
// each URL. Query order is preserved, so hits for the original query win ties.
func dedupeByURL(perQuery [][]models.SearchHit) []models.SearchHit {
	var merged []models.SearchHit
	seen := make(map[string]struct{})
	for _, hits := range perQuery {
		for _, hit := range hits {
			if _, dup := seen[hit.URL]; dup {
				continue
			}
			seen[hit.URL] = struct{}{}
			merged = append(merged, hit)
		}
	}
	return merged
}

// relevanceScore rates one hit against the user's original query.
func relevanceScore(query string, hit models.SearchHit) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	title := strings.ToLower(hit.Title)
	snippet := strings.ToLower(hit.Snippet)

	score := 0.5
	if q != "" && strings.Contains(title, q) {
		score += 0.3
	}
	if q != "" && strings.Contains(snippet, q) {
		score += 0.2
	}

	terms := strings.Fields(q)
	if len(terms) > 0 {
		matched := 0
		for _, term := range terms {
			if strings.Contains(title, term) || strings.Contains(snippet, term) {
				matched++
			}
		}
		score += 0.2 * float64(matched) / float64(len(terms))
	}

	switch {
	case hit.Rank > 0 && hit.Rank <= 3:
		score += 0.1
	case hit.Rank > 0 && hit.Rank <= 5:
		score += 0.05
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

func queryCacheKey(query string, count int) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(query)), count)
}

// nopGuard admits every call. Used when no guard is injected.
type nopGuard struct{}

func (nopGuard) Allow(string) error    { return nil }
func (nopGuard) Success(string, int)   {}
func (nopGuard) Failure(string, error) {}
