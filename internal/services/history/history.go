// internal/services/history/history.go
// Package history indexes one document per search into Elasticsearch and
// answers the analytics questions built on top of that trail: popular
// queries and prefix suggestions. Without a configured Elasticsearch the
// service disables itself and every operation is a no-op.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

const (
	DefaultIndex = "search_history"

	defaultPopularDays  = 7
	defaultPopularLimit = 10
	maxPopularLimit     = 50

	defaultSuggestLimit = 5
	maxSuggestLimit     = 10
)

type Config struct {
	Enabled bool
	Index   string
}

// Service wraps the Elasticsearch client behind the three history
// operations. All request bodies are built as maps and marshalled, the same
// shape the cluster sees.
type Service struct {
	config Config
	client *elasticsearch.Client
	logger logger.Logger
}

func NewService(config Config, client *elasticsearch.Client, log logger.Logger) *Service {
	if config.Index == "" {
		config.Index = DefaultIndex
	}
	if client == nil {
		config.Enabled = false
	}
	return &Service{
		config: config,
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "history"}),
	}
}

// Enabled reports whether entries are actually being indexed.
func (s *Service) Enabled() bool {
	return s.config.Enabled
}

// ============================================================================
// RECORD
// ============================================================================

// Record indexes one history entry. Indexing trouble is logged and
// swallowed; the search response never depends on the history trail.
func (s *Service) Record(ctx context.Context, entry models.HistoryEntry) {
	if !s.config.Enabled {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return
	}

	req := esapi.IndexRequest{
		Index: s.config.Index,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		s.logger.Warn("history index failed", map[string]interface{}{
			"query": entry.Query,
			"error": err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		s.logger.Warn("history index rejected", map[string]interface{}{
			"query":  entry.Query,
			"status": res.Status(),
		})
		return
	}

	s.logger.Debug("history entry indexed", map[string]interface{}{
		"query": entry.Query,
	})
}

// ============================================================================
// ANALYTICS QUERIES
// ============================================================================

// PopularQueries returns the most-searched queries of the last N days, a
// terms aggregation over the keyword sub-field.
func (s *Service) PopularQueries(ctx context.Context, days, limit int) ([]models.PopularQuery, error) {
	if !s.config.Enabled {
		return []models.PopularQuery{}, nil
	}
	if days <= 0 {
		days = defaultPopularDays
	}
	if limit <= 0 {
		limit = defaultPopularLimit
	}
	if limit > maxPopularLimit {
		limit = maxPopularLimit
	}

	queryBody := map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"timestamp": map[string]interface{}{
					"gte": fmt.Sprintf("now-%dd/d", days),
				},
			},
		},
		"aggs": map[string]interface{}{
			"popular": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": "query.keyword",
					"size":  limit,
				},
			},
		},
	}

	res, err := s.search(ctx, queryBody)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var parsed struct {
		Aggregations struct {
			Popular struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
				} `json:"buckets"`
			} `json:"popular"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.NewHistoryIndexFailedError(err)
	}

	popular := make([]models.PopularQuery, 0, len(parsed.Aggregations.Popular.Buckets))
	for _, bucket := range parsed.Aggregations.Popular.Buckets {
		popular = append(popular, models.PopularQuery{Query: bucket.Key, Count: bucket.DocCount})
	}
	return popular, nil
}

// Suggest returns recent recorded queries starting with the prefix, newest
// first, deduplicated. It backs the suggestions endpoint when autocomplete
// comes up empty.
func (s *Service) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if !s.config.Enabled {
		return []string{}, nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	if limit > maxSuggestLimit {
		limit = maxSuggestLimit
	}

	// oversample so duplicates collapse to a full page
	queryBody := map[string]interface{}{
		"size": limit * 3,
		"query": map[string]interface{}{
			"match_phrase_prefix": map[string]interface{}{
				"query": prefix,
			},
		},
		"_source": []string{"query"},
		"sort": []map[string]interface{}{
			{"timestamp": "desc"},
		},
	}

	res, err := s.search(ctx, queryBody)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source struct {
					Query string `json:"query"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.NewHistoryIndexFailedError(err)
	}

	suggestions := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, hit := range parsed.Hits.Hits {
		candidate := hit.Source.Query
		if candidate == "" || strings.EqualFold(candidate, prefix) {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		suggestions = append(suggestions, candidate)
		if len(suggestions) >= limit {
			break
		}
	}
	return suggestions, nil
}

func (s *Service) search(ctx context.Context, queryBody map[string]interface{}) (*esapi.Response, error) {
	body, err := json.Marshal(queryBody)
	if err != nil {
		return nil, errors.NewHistoryIndexFailedError(err)
	}

	req := esapi.SearchRequest{
		Index: []string{s.config.Index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, errors.NewHistoryIndexFailedError(err)
	}
	if res.IsError() {
		defer res.Body.Close()
		return nil, errors.NewHistoryIndexFailedError(fmt.Errorf("search returned %s", res.Status()))
	}
	return res, nil
}
