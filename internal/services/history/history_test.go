// internal/services/history/history_test.go
package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

// ==========================
// Helpers
// ==========================

// newFakeES stands up an httptest server speaking just enough of the
// Elasticsearch wire protocol for the client's product check to pass.
func newFakeES(t *testing.T, handler http.HandlerFunc) *elasticsearch.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	client := newFakeES(t, handler)
	return NewService(Config{Enabled: true}, client, logger.NewTestLogger(t))
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

// ==========================
// Record
// ==========================

func TestRecordIndexesEntry(t *testing.T) {
	var captured struct {
		method string
		path   string
		entry  models.HistoryEntry
	}

	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.entry))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":"created"}`))
	})

	svc.Record(context.Background(), models.HistoryEntry{
		Query:          "raft consensus",
		ResultCount:    5,
		Confidence:     0.85,
		ProcessingTime: 2.1,
		Success:        true,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/search_history/_doc", captured.path)
	assert.Equal(t, "raft consensus", captured.entry.Query)
	assert.Equal(t, 5, captured.entry.ResultCount)
	assert.True(t, captured.entry.Success)
}

func TestRecordFillsMissingTimestamp(t *testing.T) {
	var entry models.HistoryEntry
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&entry))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":"created"}`))
	})

	svc.Record(context.Background(), models.HistoryEntry{Query: "no timestamp"})

	assert.False(t, entry.Timestamp.IsZero())
}

func TestRecordSwallowsServerErrors(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	// must not panic or surface anything
	svc.Record(context.Background(), models.HistoryEntry{Query: "raft"})
}

func TestServiceDisabledWithoutClient(t *testing.T) {
	svc := NewService(Config{Enabled: true}, nil, logger.NewTestLogger(t))

	assert.False(t, svc.Enabled())
	svc.Record(context.Background(), models.HistoryEntry{Query: "raft"})

	popular, err := svc.PopularQueries(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Empty(t, popular)

	suggestions, err := svc.Suggest(context.Background(), "ra", 5)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

// ==========================
// Popular queries
// ==========================

func TestPopularQueriesAggregates(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search_history/_search", r.URL.Path)

		body := decodeBody(t, r)
		assert.Equal(t, float64(0), body["size"])

		aggs := body["aggs"].(map[string]interface{})
		terms := aggs["popular"].(map[string]interface{})["terms"].(map[string]interface{})
		assert.Equal(t, "query.keyword", terms["field"])
		assert.Equal(t, float64(3), terms["size"])

		rng := body["query"].(map[string]interface{})["range"].(map[string]interface{})
		gte := rng["timestamp"].(map[string]interface{})["gte"]
		assert.Equal(t, "now-14d/d", gte)

		w.Write([]byte(`{
			"took": 3,
			"aggregations": {
				"popular": {
					"buckets": [
						{"key": "kubernetes", "doc_count": 42},
						{"key": "raft consensus", "doc_count": 17}
					]
				}
			}
		}`))
	})

	popular, err := svc.PopularQueries(context.Background(), 14, 3)
	require.NoError(t, err)

	require.Len(t, popular, 2)
	assert.Equal(t, models.PopularQuery{Query: "kubernetes", Count: 42}, popular[0])
	assert.Equal(t, models.PopularQuery{Query: "raft consensus", Count: 17}, popular[1])
}

func TestPopularQueriesAppliesDefaultsAndCaps(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)

		terms := body["aggs"].(map[string]interface{})["popular"].(map[string]interface{})["terms"].(map[string]interface{})
		assert.Equal(t, float64(maxPopularLimit), terms["size"])

		rng := body["query"].(map[string]interface{})["range"].(map[string]interface{})
		assert.Equal(t, "now-7d/d", rng["timestamp"].(map[string]interface{})["gte"])

		w.Write([]byte(`{"aggregations":{"popular":{"buckets":[]}}}`))
	})

	popular, err := svc.PopularQueries(context.Background(), 0, 500)
	require.NoError(t, err)
	assert.Empty(t, popular)
}

func TestPopularQueriesServerError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"shards down"}`))
	})

	_, err := svc.PopularQueries(context.Background(), 7, 10)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeHistoryIndexFailed, errors.CodeOf(err))
}

// ==========================
// Suggestions
// ==========================

func TestSuggestReturnsRecentPrefixMatches(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, float64(15), body["size"]) // limit * 3

		match := body["query"].(map[string]interface{})["match_phrase_prefix"].(map[string]interface{})
		assert.Equal(t, "kubernetes", match["query"])

		w.Write([]byte(`{
			"hits": {
				"hits": [
					{"_source": {"query": "kubernetes networking"}},
					{"_source": {"query": "kubernetes networking"}},
					{"_source": {"query": "Kubernetes"}},
					{"_source": {"query": "kubernetes storage"}}
				]
			}
		}`))
	})

	suggestions, err := svc.Suggest(context.Background(), "kubernetes", 5)
	require.NoError(t, err)

	// duplicates collapse and the bare prefix echo is dropped
	assert.Equal(t, []string{"kubernetes networking", "kubernetes storage"}, suggestions)
}

func TestSuggestHonorsLimit(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"hits": {
				"hits": [
					{"_source": {"query": "go generics"}},
					{"_source": {"query": "go channels"}},
					{"_source": {"query": "go modules"}}
				]
			}
		}`))
	})

	suggestions, err := svc.Suggest(context.Background(), "go", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"go generics", "go channels"}, suggestions)
}

func TestSuggestEmptyPrefixSkipsTheCluster(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	})

	suggestions, err := svc.Suggest(context.Background(), "   ", 5)
	require.NoError(t, err)

	assert.Empty(t, suggestions)
	assert.Zero(t, calls.Load())
}

func TestSuggestServerError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"no nodes"}`))
	})

	_, err := svc.Suggest(context.Background(), "raft", 5)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeHistoryIndexFailed, errors.CodeOf(err))
}
