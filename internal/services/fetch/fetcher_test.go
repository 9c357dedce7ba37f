// internal/services/fetch/fetcher_test.go
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/llmbackend1/internal/cache"
	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

// ==========================
// Test Helpers
// ==========================

const articleHTML = `<html><head><title>Understanding Raft</title></head>
<body>
<nav>Home About Contact</nav>
<main><p>Raft is a consensus algorithm designed to be understandable.
It separates leader election from log replication and applies entries in order.</p></main>
<footer>Privacy policy and legal text</footer>
</body></html>`

type recordingGuard struct {
	mu         sync.Mutex
	rejections map[string]error
	successes  map[string]int
	failures   map[string]int
}

func newRecordingGuard() *recordingGuard {
	return &recordingGuard{
		rejections: make(map[string]error),
		successes:  make(map[string]int),
		failures:   make(map[string]int),
	}
}

func (g *recordingGuard) reject(dependency string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejections[dependency] = err
}

func (g *recordingGuard) Allow(dependency string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rejections[dependency]
}

func (g *recordingGuard) Success(dependency string, units int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes[dependency] += units
}

func (g *recordingGuard) Failure(dependency string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[dependency]++
}

func (g *recordingGuard) successCount(dependency string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.successes[dependency]
}

func (g *recordingGuard) failureCount(dependency string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures[dependency]
}

func newTestStore(t *testing.T) cache.Cache {
	mem, err := cache.NewMemory(64)
	require.NoError(t, err)
	return cache.NewTiered(mem, nil, cache.DefaultTTLConfig(), "test", logger.NewTestLogger(t))
}

func hitFor(url string) models.SearchHit {
	return models.SearchHit{URL: url, Title: "Understanding Raft", Provider: "brave_search", Rank: 1}
}

// ==========================
// Fetcher Tests
// ==========================

func TestFetchAllDirect(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	f := NewFetcher(Config{}, nil, logger.NewTestLogger(t))
	sources := f.FetchAll(context.Background(), []models.SearchHit{hitFor(srv.URL + "/article")}, nil)

	require.Len(t, sources, 1)
	s := sources[0]
	assert.Equal(t, models.FetchStatusOK, s.FetchStatus)
	assert.Equal(t, "direct", s.ExtractionMethod)
	assert.Equal(t, "Understanding Raft", s.Title)
	assert.Contains(t, s.Content, "consensus algorithm")
	assert.NotContains(t, s.Content, "Privacy policy")
	assert.Greater(t, s.WordCount, 10)
	assert.Greater(t, s.Confidence, 0.0)
	assert.Contains(t, gotUA, "Mozilla/5.0")
}

func TestFetchAllViaZenRows(t *testing.T) {
	var gotTarget, gotKey, gotRender string
	zr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.URL.Query().Get("url")
		gotKey = r.URL.Query().Get("apikey")
		gotRender = r.URL.Query().Get("js_render")
		fmt.Fprint(w, articleHTML)
	}))
	defer zr.Close()

	guard := newRecordingGuard()
	f := NewFetcher(Config{ZenRowsAPIKey: "zr-key", ZenRowsBaseURL: zr.URL}, nil, logger.NewTestLogger(t))
	sources := f.FetchAll(context.Background(), []models.SearchHit{hitFor("https://target.example/page")}, guard)

	require.Len(t, sources, 1)
	assert.Equal(t, "zenrows", sources[0].ExtractionMethod)
	assert.Equal(t, models.FetchStatusOK, sources[0].FetchStatus)
	assert.Equal(t, "https://target.example/page", gotTarget)
	assert.Equal(t, "zr-key", gotKey)
	assert.Equal(t, "true", gotRender)
	assert.Equal(t, 1, guard.successCount(DependencyZenRows))
}

func TestFetchAllZenRowsFailureFallsBackToDirect(t *testing.T) {
	zr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer zr.Close()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML)
	}))
	defer target.Close()

	guard := newRecordingGuard()
	f := NewFetcher(Config{ZenRowsAPIKey: "zr-key", ZenRowsBaseURL: zr.URL}, nil, logger.NewTestLogger(t))
	sources := f.FetchAll(context.Background(), []models.SearchHit{hitFor(target.URL)}, guard)

	require.Len(t, sources, 1)
	assert.Equal(t, "direct", sources[0].ExtractionMethod)
	assert.Equal(t, models.FetchStatusOK, sources[0].FetchStatus)
	assert.Equal(t, 1, guard.failureCount(DependencyZenRows))
	assert.Equal(t, 0, guard.successCount(DependencyZenRows))
}

func TestFetchAllGuardRejectionSkipsZenRows(t *testing.T) {
	var zenrowsCalls atomic.Int32
	zr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zenrowsCalls.Add(1)
		fmt.Fprint(w, articleHTML)
	}))
	defer zr.Close()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articleHTML)
	}))
	defer target.Close()

	guard := newRecordingGuard()
	guard.reject(DependencyZenRows, errors.NewBudgetExceededError(DependencyZenRows, "daily"))
	f := NewFetcher(Config{ZenRowsAPIKey: "zr-key", ZenRowsBaseURL: zr.URL}, nil, logger.NewTestLogger(t))
	sources := f.FetchAll(context.Background(), []models.SearchHit{hitFor(target.URL)}, guard)

	require.Len(t, sources, 1)
	assert.Equal(t, "direct", sources[0].ExtractionMethod)
	assert.Equal(t, int32(0), zenrowsCalls.Load())
	assert.Equal(t, 0, guard.failureCount(DependencyZenRows))
}

func TestFetchAllMarksFailedPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	f := NewFetcher(Config{}, nil, logger.NewTestLogger(t))
	sources := f.FetchAll(context.Background(), []models.SearchHit{
		hitFor(srv.URL + "/article"),
		hitFor(srv.URL + "/missing"),
	}, nil)

	require.Len(t, sources, 2)
	assert.Equal(t, models.FetchStatusOK, sources[0].FetchStatus)
	assert.Equal(t, models.FetchStatusFailed, sources[1].FetchStatus)
	assert.Empty(t, sources[1].Content)
	// The failed entry keeps the search hit's title for the audit trail.
	assert.Equal(t, "Understanding Raft", sources[1].Title)
}

func TestFetchAllTruncatesLongContent(t *testing.T) {
	long := "<html><body><main>"
	for i := 0; i < 200; i++ {
		long += "<p>a fairly long paragraph of article text repeated many times over</p>"
	}
	long += "</main></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, long)
	}))
	defer srv.Close()

	f := NewFetcher(Config{MaxContentChars: 500}, nil, logger.NewTestLogger(t))
	sources := f.FetchAll(context.Background(), []models.SearchHit{hitFor(srv.URL)}, nil)

	require.Len(t, sources, 1)
	assert.Equal(t, models.FetchStatusTruncated, sources[0].FetchStatus)
	assert.LessOrEqual(t, len(sources[0].Content), 503)
	assert.True(t, len(sources[0].Content) > 0)
}

func TestFetchAllServesFromContentCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	f := NewFetcher(Config{}, newTestStore(t), logger.NewTestLogger(t))
	hits := []models.SearchHit{hitFor(srv.URL + "/article")}

	first := f.FetchAll(context.Background(), hits, nil)
	second := f.FetchAll(context.Background(), hits, nil)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first, second)
}

func TestFetchAllBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := current.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	f := NewFetcher(Config{MaxConcurrent: 2}, nil, logger.NewTestLogger(t))
	var hits []models.SearchHit
	for i := 0; i < 6; i++ {
		hits = append(hits, hitFor(fmt.Sprintf("%s/page-%d", srv.URL, i)))
	}

	sources := f.FetchAll(context.Background(), hits, nil)
	require.Len(t, sources, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetchAllEmptyHits(t *testing.T) {
	f := NewFetcher(Config{}, nil, logger.NewTestLogger(t))
	assert.Nil(t, f.FetchAll(context.Background(), nil, nil))
}
