// internal/pipeline/orchestrator_test.go
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	"github.com/puneetrinity/llmbackend1/internal/cache"
	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/cost"
	"github.com/puneetrinity/llmbackend1/internal/models"
	"github.com/puneetrinity/llmbackend1/internal/services/fetch"
	"github.com/puneetrinity/llmbackend1/internal/services/search"
	"github.com/puneetrinity/llmbackend1/internal/services/synthesis"
)

// ==========================
// Test doubles
// ==========================

type fakeEnhancer struct {
	mu      sync.Mutex
	calls   int
	queries []string
}

func (f *fakeEnhancer) Enhance(ctx context.Context, query string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.queries) > 0 {
		return f.queries
	}
	return []string{query}
}

func (f *fakeEnhancer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSearcher mimics the aggregator contract: one guarded call per
// configured dependency, rejections absorbed, everything rejected reported
// as no usable sources.
type fakeSearcher struct {
	mu          sync.Mutex
	calls       int
	lastQueries []string
	deps        []string
	hits        []models.SearchHit
	err         error
	delay       time.Duration
}

func (f *fakeSearcher) SearchAll(ctx context.Context, originalQuery string, queries []string, maxResults int, guard search.Guard) ([]models.SearchHit, error) {
	f.mu.Lock()
	f.calls++
	f.lastQueries = append([]string(nil), queries...)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	admitted := 0
	for _, dep := range f.deps {
		if err := guard.Allow(dep); err != nil {
			continue
		}
		admitted++
		guard.Success(dep, 1)
	}
	if len(f.deps) > 0 && admitted == 0 {
		return nil, errors.NewNoUsableSourcesError("every provider was rejected")
	}

	hits := f.hits
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	sources []models.FetchedSource
	failAll bool
}

func (f *fakeFetcher) FetchAll(ctx context.Context, hits []models.SearchHit, guard fetch.Guard) []models.FetchedSource {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.sources != nil {
		return f.sources
	}
	out := make([]models.FetchedSource, 0, len(hits))
	for _, hit := range hits {
		src := models.FetchedSource{
			URL:         hit.URL,
			Title:       hit.Title,
			Content:     "extracted content for " + hit.URL,
			WordCount:   120,
			SourceType:  models.SourceTypeGeneral,
			Confidence:  0.8,
			FetchStatus: models.FetchStatusOK,
		}
		if f.failAll {
			src.Content = ""
			src.FetchStatus = models.FetchStatusFailed
		}
		out = append(out, src)
	}
	return out
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, query string, sources []models.FetchedSource) (models.SynthesisResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return models.SynthesisResult{}, f.err
	}
	return models.SynthesisResult{
		Answer:     "synthesized answer about " + query,
		Confidence: 0.9,
		TokensUsed: 42,
	}, nil
}

func (f *fakeSynthesizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingAuditor struct {
	mu     sync.Mutex
	audits []models.SearchAudit
}

func (a *recordingAuditor) LogSearch(ctx context.Context, audit models.SearchAudit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audits = append(a.audits, audit)
}

func (a *recordingAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.audits)
}

func (a *recordingAuditor) last() models.SearchAudit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audits[len(a.audits)-1]
}

type recordingHistory struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
}

func (h *recordingHistory) Record(ctx context.Context, entry models.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
}

func (h *recordingHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *recordingHistory) last() models.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[len(h.entries)-1]
}

func (h *recordingHistory) at(i int) models.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[i]
}

// ==========================
// Fixture
// ==========================

type pipelineFixture struct {
	pipeline *Pipeline
	enhancer *fakeEnhancer
	searcher *fakeSearcher
	fetcher  *fakeFetcher
	synth    *fakeSynthesizer
	auditor  *recordingAuditor
	history  *recordingHistory
	breakers *breaker.Registry
	costs    *cost.Tracker
}

func defaultHits() []models.SearchHit {
	return []models.SearchHit{
		{URL: "https://alpha.example/raft", Title: "Raft consensus explained", Provider: "brave", Rank: 1, Relevance: 0.9},
		{URL: "https://beta.example/raft", Title: "Raft in practice", Provider: "brave", Rank: 2, Relevance: 0.7},
	}
}

func newTestPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	return newTestPipelineCustom(t, Config{}, cost.DefaultConfig())
}

func newTestPipelineCustom(t *testing.T, cfg Config, costCfg cost.Config) *pipelineFixture {
	t.Helper()

	log := logger.NewTestLogger(t)
	memory, err := cache.NewMemory(256)
	require.NoError(t, err)
	store := cache.NewTiered(memory, nil, cache.DefaultTTLConfig(), "test", log)

	fx := &pipelineFixture{
		enhancer: &fakeEnhancer{},
		searcher: &fakeSearcher{deps: []string{search.ProviderBrave}, hits: defaultHits()},
		fetcher:  &fakeFetcher{},
		synth:    &fakeSynthesizer{},
		auditor:  &recordingAuditor{},
		history:  &recordingHistory{},
		breakers: breaker.NewRegistry(breaker.Config{}, log),
		costs:    cost.NewTracker(costCfg, nil, log),
	}
	fx.pipeline = New(cfg, Deps{
		Cache:       store,
		Breakers:    fx.breakers,
		Costs:       fx.costs,
		Enhancer:    fx.enhancer,
		Searcher:    fx.searcher,
		Fetcher:     fx.fetcher,
		Synthesizer: fx.synth,
		Auditor:     fx.auditor,
		History:     fx.history,
		Logger:      log,
	})
	return fx
}

// ==========================
// Happy path
// ==========================

func TestRunAnswersQuery(t *testing.T) {
	fx := newTestPipeline(t)

	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "raft consensus", resp.Query)
	assert.Equal(t, "synthesized answer about raft consensus", resp.Answer)
	assert.InDelta(t, 0.9, resp.Confidence, 0.001)
	assert.False(t, resp.Cached)
	assert.False(t, resp.Degraded)
	assert.Equal(t, []string{"https://alpha.example/raft", "https://beta.example/raft"}, resp.Sources)
	// one brave call at the default rate; local llm tokens are free
	assert.InDelta(t, 0.005, resp.CostEstimate, 0.0001)
	assert.False(t, resp.Timestamp.IsZero())

	stats := fx.pipeline.Stats()
	assert.Equal(t, uint64(1), stats.Requests)
	assert.Equal(t, uint64(0), stats.CacheHits)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestRunWritesAuditAndHistory(t *testing.T) {
	fx := newTestPipeline(t)

	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fx.auditor.count() == 1 }, time.Second, 10*time.Millisecond)
	audit := fx.auditor.last()
	assert.Equal(t, resp.RequestID, audit.RequestID)
	assert.Equal(t, "completed", audit.Status)
	assert.Equal(t, []string{"raft consensus"}, audit.EnhancedQueries)
	assert.Len(t, audit.Sources, 2)
	assert.Len(t, audit.CostRecords, 2) // brave call + llm tokens
	assert.InDelta(t, 0.005, audit.TotalCost, 0.0001)

	require.Eventually(t, func() bool { return fx.history.count() == 1 }, time.Second, 10*time.Millisecond)
	entry := fx.history.last()
	assert.Equal(t, "raft consensus", entry.Query)
	assert.True(t, entry.Success)
	assert.False(t, entry.Cached)
	assert.Equal(t, 2, entry.ResultCount)
}

func TestRunRespectsIncludeSourcesFalse(t *testing.T) {
	fx := newTestPipeline(t)

	include := false
	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus", IncludeSources: &include})
	require.NoError(t, err)

	assert.Empty(t, resp.Sources)
	assert.NotEmpty(t, resp.Answer)
}

// ==========================
// Response cache
// ==========================

func TestRunServesRepeatFromResponseCache(t *testing.T) {
	fx := newTestPipeline(t)

	first, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	second, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.CostEstimate, second.CostEstimate)
	assert.Equal(t, 1, fx.searcher.callCount())
	assert.Equal(t, 1, fx.synth.callCount())

	// the cache hit charges nothing new
	assert.Len(t, fx.costs.TodayRecords(search.ProviderBrave), 1)

	stats := fx.pipeline.Stats()
	assert.Equal(t, uint64(1), stats.CacheHits)
}

func TestRunNormalizedQueriesShareCacheEntry(t *testing.T) {
	fx := newTestPipeline(t)

	_, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "  Raft   CONSENSUS  "})
	require.NoError(t, err)

	assert.True(t, resp.Cached)
	assert.Equal(t, 1, fx.searcher.callCount())
}

func TestRunEnhancementCachedAcrossFingerprints(t *testing.T) {
	fx := newTestPipeline(t)

	// different max_results means a different response fingerprint, but the
	// enhancement cache is keyed by the normalized query alone
	_, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus", MaxResults: 8})
	require.NoError(t, err)
	_, err = fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus", MaxResults: 9})
	require.NoError(t, err)

	assert.Equal(t, 2, fx.searcher.callCount())
	assert.Equal(t, 1, fx.enhancer.callCount())
}

// ==========================
// Single flight
// ==========================

func TestRunCollapsesConcurrentIdenticalRequests(t *testing.T) {
	fx := newTestPipeline(t)
	fx.searcher.delay = 100 * time.Millisecond

	const callers = 5
	var wg sync.WaitGroup
	responses := make([]*models.PipelineResponse, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, responses[i])
		assert.Equal(t, responses[0].RequestID, responses[i].RequestID)
	}
	assert.Equal(t, 1, fx.searcher.callCount())

	stats := fx.pipeline.Stats()
	assert.Equal(t, uint64(callers), stats.Requests)
	assert.Equal(t, uint64(callers-1), stats.SharedResults)

	// one history entry per caller, one audit per execution
	require.Eventually(t, func() bool { return fx.history.count() == callers }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return fx.auditor.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRunCancelledWaiterLeavesExecutionRunning(t *testing.T) {
	fx := newTestPipeline(t)
	fx.searcher.delay = 300 * time.Millisecond

	type runOut struct {
		resp *models.PipelineResponse
		err  error
	}

	first := make(chan runOut, 1)
	go func() {
		resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
		first <- runOut{resp, err}
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan runOut, 1)
	go func() {
		resp, err := fx.pipeline.Run(ctx, &models.SearchRequest{Query: "raft consensus"})
		second <- runOut{resp, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	out2 := <-second
	assert.ErrorIs(t, out2.err, context.Canceled)
	assert.Nil(t, out2.resp)

	out1 := <-first
	require.NoError(t, out1.err)
	require.NotNil(t, out1.resp)
	assert.Equal(t, 1, fx.searcher.callCount())
}

// ==========================
// Validation
// ==========================

func TestRunRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  *models.SearchRequest
	}{
		{"empty query", &models.SearchRequest{Query: ""}},
		{"whitespace query", &models.SearchRequest{Query: "   "}},
		{"oversized query", &models.SearchRequest{Query: strings.Repeat("a", 501)}},
		{"max results too high", &models.SearchRequest{Query: "ok", MaxResults: 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newTestPipeline(t)

			resp, err := fx.pipeline.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
			assert.Equal(t, 0, fx.searcher.callCount())
		})
	}
}

// ==========================
// Failure policy
// ==========================

func TestRunAllFetchesFailedIsFatal(t *testing.T) {
	fx := newTestPipeline(t)
	fx.fetcher.failAll = true

	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, errors.ErrCodeNoUsableSources, errors.CodeOf(err))
	assert.True(t, errors.IsKind(err, errors.KindNoUsableSources))
	assert.Equal(t, 0, fx.synth.callCount())

	// failures are never cached; a retry runs the pipeline again
	fx.fetcher.failAll = false
	resp, err = fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, fx.searcher.callCount())

	require.Eventually(t, func() bool { return fx.history.count() == 2 }, time.Second, 10*time.Millisecond)
	assert.False(t, fx.history.at(0).Success)
	assert.True(t, fx.history.at(1).Success)
}

func TestRunSearchFailurePropagates(t *testing.T) {
	fx := newTestPipeline(t)
	fx.searcher.err = errors.NewNoUsableSourcesError("no provider returned results")

	_, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoUsableSources, errors.CodeOf(err))
	assert.Equal(t, 0, fx.synth.callCount())
	assert.Equal(t, 0, fx.auditor.count())
}

func TestRunPartialFetchFailuresSurvive(t *testing.T) {
	fx := newTestPipeline(t)
	fx.fetcher.sources = []models.FetchedSource{
		{URL: "https://a.example", FetchStatus: models.FetchStatusOK, Content: "alpha", WordCount: 80, Confidence: 0.8},
		{URL: "https://b.example", FetchStatus: models.FetchStatusFailed},
		{URL: "https://c.example", FetchStatus: models.FetchStatusFailed},
		{URL: "https://d.example", FetchStatus: models.FetchStatusTruncated, Content: "delta", WordCount: 500, Confidence: 0.7},
		{URL: "https://e.example", FetchStatus: models.FetchStatusFailed},
	}

	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://d.example"}, resp.Sources)
	assert.False(t, resp.Degraded)

	// the audit trail keeps the failed attempts
	require.Eventually(t, func() bool { return fx.auditor.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Len(t, fx.auditor.last().Sources, 5)
}

func TestRunDegradesWhenSynthesisFails(t *testing.T) {
	fx := newTestPipeline(t)
	fx.synth.err = errors.NewLLMSynthesisFailedError(fmt.Errorf("model exploded"))

	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.InDelta(t, degradedConfidence, resp.Confidence, 0.001)
	assert.Equal(t, "I found 2 search results for 'raft consensus', but analysis is currently unavailable.", resp.Answer)
	assert.Equal(t, []string{"https://alpha.example/raft", "https://beta.example/raft"}, resp.Sources)

	stats := fx.pipeline.Stats()
	assert.Equal(t, uint64(1), stats.Degraded)

	require.Eventually(t, func() bool { return fx.auditor.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "degraded", fx.auditor.last().Status)
}

func TestRunOpenLLMBreakerSkipsSynthesizer(t *testing.T) {
	fx := newTestPipeline(t)
	fx.breakers.Configure(synthesis.DependencyOllama, breaker.Config{
		FailureThreshold: 1,
		Window:           time.Minute,
		OpenDuration:     time.Minute,
	})
	cb := fx.breakers.GetOrCreate(synthesis.DependencyOllama)
	cb.RecordFailure()
	require.Equal(t, breaker.StateOpen, cb.State())

	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Equal(t, 0, fx.synth.callCount())
}

func TestRunBudgetDeniedProviderExcluded(t *testing.T) {
	fx := newTestPipelineCustom(t, Config{}, cost.Config{
		Rates: map[string]float64{
			search.ProviderBrave:   0.005,
			search.ProviderSerpAPI: 0.02,
		},
		DailyBudget:    100,
		MonthlyBudgets: map[string]float64{search.ProviderSerpAPI: 0.01},
		AlertThreshold: 0.8,
	})
	fx.searcher.deps = []string{search.ProviderBrave, search.ProviderSerpAPI}

	resp, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	// serpapi never ran, so only the brave call was billed
	assert.InDelta(t, 0.005, resp.CostEstimate, 0.0001)
	assert.Len(t, fx.costs.TodayRecords(search.ProviderBrave), 1)
	assert.Empty(t, fx.costs.TodayRecords(search.ProviderSerpAPI))
}

func TestRunAllProvidersRejectedIsFatal(t *testing.T) {
	fx := newTestPipelineCustom(t, Config{}, cost.Config{
		Rates:          map[string]float64{search.ProviderBrave: 0.005},
		DailyBudget:    100,
		MonthlyBudgets: map[string]float64{search.ProviderBrave: 0.001},
		AlertThreshold: 0.8,
	})

	_, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoUsableSources, errors.CodeOf(err))
	assert.Equal(t, 0, fx.fetcher.callCount())
}

func TestRunDeadlineProducesRequestTimeout(t *testing.T) {
	fx := newTestPipelineCustom(t, Config{RequestTimeout: 60 * time.Millisecond}, cost.DefaultConfig())
	fx.searcher.delay = 500 * time.Millisecond

	start := time.Now()
	_, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRequestTimeout, errors.CodeOf(err))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

// ==========================
// Query cap
// ==========================

func TestRunCapsEnhancedQueries(t *testing.T) {
	fx := newTestPipeline(t)
	fx.enhancer.queries = []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"}

	_, err := fx.pipeline.Run(context.Background(), &models.SearchRequest{Query: "raft consensus"})
	require.NoError(t, err)

	fx.searcher.mu.Lock()
	defer fx.searcher.mu.Unlock()
	assert.Equal(t, []string{"q1", "q2", "q3", "q4", "q5"}, fx.searcher.lastQueries)
}
