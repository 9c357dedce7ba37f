// internal/pipeline/orchestrator.go
// Package pipeline sequences the search-answer stages: enhance the query,
// fan out to search providers, fetch and extract page content, synthesize an
// answer. It owns the failure policy (absorb, degrade, or fail), collapses
// identical concurrent requests into one execution, and attributes provider
// spend to each execution through a per-run guard.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	"github.com/puneetrinity/llmbackend1/internal/cache"
	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/common/metrics"
	"github.com/puneetrinity/llmbackend1/internal/common/observability"
	"github.com/puneetrinity/llmbackend1/internal/cost"
	"github.com/puneetrinity/llmbackend1/internal/models"
	"github.com/puneetrinity/llmbackend1/internal/services/fetch"
	"github.com/puneetrinity/llmbackend1/internal/services/search"
	"github.com/puneetrinity/llmbackend1/internal/services/synthesis"
)

const (
	// degradedConfidence is reported when synthesis fails and the answer
	// falls back to stitched snippets.
	degradedConfidence = 0.3

	// asyncWriteTimeout bounds the detached audit and history writes.
	asyncWriteTimeout = 10 * time.Second
)

// ============================================================================
// COLLABORATOR SEAMS
// ============================================================================

// Enhancer expands a query into search variants. It never fails; on trouble
// it returns at least the original query.
type Enhancer interface {
	Enhance(ctx context.Context, query string) []string
}

// Searcher fans a set of query variants out to the configured providers and
// returns ranked, deduplicated hits.
type Searcher interface {
	SearchAll(ctx context.Context, originalQuery string, queries []string, maxResults int, guard search.Guard) ([]models.SearchHit, error)
}

// Fetcher downloads and extracts page content for a set of hits, marking
// failed pages rather than dropping them.
type Fetcher interface {
	FetchAll(ctx context.Context, hits []models.SearchHit, guard fetch.Guard) []models.FetchedSource
}

// Synthesizer turns fetched sources into a natural-language answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, sources []models.FetchedSource) (models.SynthesisResult, error)
}

// Auditor persists the full record of one pipeline execution. Optional.
type Auditor interface {
	LogSearch(ctx context.Context, audit models.SearchAudit)
}

// History indexes one search per caller request for analytics. Optional.
type History interface {
	Record(ctx context.Context, entry models.HistoryEntry)
}

// ============================================================================
// CONFIG
// ============================================================================

// Config holds the orchestrator timeouts and fan-out bounds. The per-stage
// timeouts nest inside RequestTimeout.
type Config struct {
	RequestTimeout   time.Duration
	EnhanceTimeout   time.Duration
	SearchTimeout    time.Duration
	FetchTimeout     time.Duration
	SynthesisTimeout time.Duration
	MaxQueries       int
}

func DefaultConfig() Config {
	return Config{
		RequestTimeout:   30 * time.Second,
		EnhanceTimeout:   5 * time.Second,
		SearchTimeout:    10 * time.Second,
		FetchTimeout:     15 * time.Second,
		SynthesisTimeout: 30 * time.Second,
		MaxQueries:       5,
	}
}

// Deps wires the pipeline's collaborators. Cache, Enhancer, Searcher,
// Fetcher, Synthesizer, and Logger are required; the rest may be nil and
// their concern is skipped.
type Deps struct {
	Cache       cache.Cache
	Breakers    *breaker.Registry
	Costs       *cost.Tracker
	Enhancer    Enhancer
	Searcher    Searcher
	Fetcher     Fetcher
	Synthesizer Synthesizer
	Auditor     Auditor
	History     History
	Tracing     *observability.Tracing
	Obs         *observability.Observability
	Logger      logger.Logger
}

// ============================================================================
// PIPELINE
// ============================================================================

// Pipeline is the orchestrator. One instance serves all requests; per-request
// state lives in the execution, not here.
type Pipeline struct {
	config Config
	deps   Deps
	logger logger.Logger
	flight singleflight.Group
	stats  *statsCollector
}

func New(config Config, deps Deps) *Pipeline {
	defaults := DefaultConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.EnhanceTimeout <= 0 {
		config.EnhanceTimeout = defaults.EnhanceTimeout
	}
	if config.SearchTimeout <= 0 {
		config.SearchTimeout = defaults.SearchTimeout
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if config.SynthesisTimeout <= 0 {
		config.SynthesisTimeout = defaults.SynthesisTimeout
	}
	if config.MaxQueries <= 0 {
		config.MaxQueries = defaults.MaxQueries
	}

	return &Pipeline{
		config: config,
		deps:   deps,
		logger: deps.Logger.WithFields(map[string]interface{}{"component": "pipeline"}),
		stats:  newStatsCollector(),
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// ============================================================================
// RUN
// ============================================================================

// Run answers one search request. Identical concurrent requests collapse
// into a single execution keyed by the request fingerprint; every waiter
// receives the shared result. The execution runs on a context detached from
// the first caller and bounded by RequestTimeout, so a waiter that gives up
// gets its own context error while the computation finishes for the rest.
func (p *Pipeline) Run(ctx context.Context, req *models.SearchRequest) (*models.PipelineResponse, error) {
	p.stats.requests.Add(1)

	req.Normalize()
	if err := req.Validate(); err != nil {
		p.stats.recordFailure(errors.ClassifyError(err))
		return nil, err
	}

	fp := Fingerprint(req)

	ch := p.flight.DoChan(fp, func() (interface{}, error) {
		execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.RequestTimeout)
		defer cancel()
		return p.execute(execCtx, req, fp)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			p.stats.recordFailure(errors.ClassifyError(res.Err))
			p.recordHistory(req, nil, res.Err)
			return nil, res.Err
		}
		resp := res.Val.(*models.PipelineResponse)
		if res.Shared {
			p.stats.sharedResults.Add(1)
		}
		p.recordHistory(req, resp, nil)
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ============================================================================
// EXECUTION
// ============================================================================

func (p *Pipeline) execute(ctx context.Context, req *models.SearchRequest, fp string) (*models.PipelineResponse, error) {
	start := time.Now()
	p.stats.inFlight.Add(1)
	metrics.PipelineRequestsInFlight.Inc()
	defer func() {
		p.stats.inFlight.Add(-1)
		metrics.PipelineRequestsInFlight.Dec()
	}()

	ctx, span := p.deps.Tracing.StartSpan(ctx, "pipeline.execute",
		attribute.String("fingerprint", fp),
		attribute.Int("max_results", req.MaxResults))
	defer span.End()

	if resp, ok := p.cachedResponse(ctx, fp); ok {
		resp.Cached = true
		resp.ProcessingTime = time.Since(start).Seconds()
		p.stats.cacheHits.Add(1)
		p.stats.addProcessing(time.Since(start))
		p.observeOutcome(ctx, "cached", time.Since(start))
		p.logger.Debug("response served from cache", map[string]interface{}{
			"fingerprint": fp,
			"query":       req.Query,
		})
		return resp, nil
	}

	guard := newRunGuard(p.deps.Breakers, p.deps.Costs, fp)

	queries := p.enhanceStage(ctx, req)

	hits, err := p.searchStage(ctx, req, queries, guard)
	if err != nil {
		return nil, p.failExecution(ctx, fp, err, start)
	}

	usable, attempted := p.fetchStage(ctx, hits, guard)
	if len(usable) == 0 {
		err := errors.NewNoUsableSourcesError(fmt.Sprintf("all %d page fetches failed", len(attempted)))
		return nil, p.failExecution(ctx, fp, err, start)
	}

	result := p.synthesisStage(ctx, req.Query, usable, guard)

	resp := p.assemble(req, result, usable, guard, start)
	p.storeResponse(ctx, fp, resp)

	status := "completed"
	if resp.Degraded {
		p.stats.degraded.Add(1)
		status = "degraded"
	}
	p.observeOutcome(ctx, status, time.Since(start))
	p.stats.addProcessing(time.Since(start))

	p.auditExecution(req, resp, queries, attempted, guard)

	p.logger.Info("pipeline completed", map[string]interface{}{
		"request_id": resp.RequestID,
		"query":      req.Query,
		"queries":    len(queries),
		"sources":    len(usable),
		"confidence": resp.Confidence,
		"degraded":   resp.Degraded,
		"cost_usd":   resp.CostEstimate,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return resp, nil
}

// failExecution maps an exhausted deadline to a request-timeout error so the
// caller sees why the stages came up empty, and counts the failure.
func (p *Pipeline) failExecution(ctx context.Context, fp string, err error, start time.Time) error {
	if ctx.Err() != nil {
		err = errors.NewRequestTimeoutError(time.Since(start))
	}
	p.observeOutcome(ctx, "failed", time.Since(start))
	p.logger.Warn("pipeline failed", map[string]interface{}{
		"fingerprint": fp,
		"error":       err.Error(),
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})
	return err
}

// ============================================================================
// STAGES
// ============================================================================

// enhanceStage expands the query into at most MaxQueries variants, serving
// repeats from the enhancement cache. Any trouble degrades to the original
// query alone; enhancement is never fatal.
func (p *Pipeline) enhanceStage(ctx context.Context, req *models.SearchRequest) []string {
	defer p.timeStage(ctx, "enhance")()
	ctx, span := p.deps.Tracing.StartSpan(ctx, "pipeline.enhance")
	defer span.End()

	cacheKey := req.NormalizedQuery()
	if data, ok := p.deps.Cache.Get(ctx, cacheKey, cache.CategoryEnhancement); ok {
		var queries []string
		if err := json.Unmarshal(data, &queries); err == nil && len(queries) > 0 {
			return queries
		}
		p.deps.Cache.Delete(ctx, cacheKey, cache.CategoryEnhancement)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.EnhanceTimeout)
	defer cancel()

	queries := p.deps.Enhancer.Enhance(ctx, req.Query)
	if len(queries) == 0 {
		queries = []string{req.Query}
	}
	if len(queries) > p.config.MaxQueries {
		queries = queries[:p.config.MaxQueries]
	}

	if data, err := json.Marshal(queries); err == nil {
		p.deps.Cache.Set(ctx, cacheKey, data, cache.CategoryEnhancement)
	}
	return queries
}

// searchStage fans the query variants out to the providers. Scoring runs
// against the original query, so cached variant results rank correctly for
// this request.
func (p *Pipeline) searchStage(ctx context.Context, req *models.SearchRequest, queries []string, guard *runGuard) ([]models.SearchHit, error) {
	defer p.timeStage(ctx, "search")()
	ctx, span := p.deps.Tracing.StartSpan(ctx, "pipeline.search",
		attribute.Int("queries", len(queries)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.config.SearchTimeout)
	defer cancel()

	return p.deps.Searcher.SearchAll(ctx, req.Query, queries, req.MaxResults, guard)
}

// fetchStage downloads the hit pages and splits the results into usable
// sources and the full attempted list. The attempted list, failures
// included, goes to the audit trail.
func (p *Pipeline) fetchStage(ctx context.Context, hits []models.SearchHit, guard *runGuard) (usable, attempted []models.FetchedSource) {
	defer p.timeStage(ctx, "fetch")()
	ctx, span := p.deps.Tracing.StartSpan(ctx, "pipeline.fetch",
		attribute.Int("hits", len(hits)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	attempted = p.deps.Fetcher.FetchAll(ctx, hits, guard)
	for _, src := range attempted {
		if src.FetchStatus == models.FetchStatusFailed {
			continue
		}
		usable = append(usable, src)
	}
	if failed := len(attempted) - len(usable); failed > 0 {
		p.logger.Warn("some sources failed to fetch", map[string]interface{}{
			"failed": failed,
			"usable": len(usable),
		})
	}
	return usable, attempted
}

// synthesisStage asks the LLM for an answer, guarded like any other
// dependency. Synthesis failure is never fatal: the answer degrades to
// stitched snippets with a fixed low confidence.
func (p *Pipeline) synthesisStage(ctx context.Context, query string, sources []models.FetchedSource, guard *runGuard) models.SynthesisResult {
	defer p.timeStage(ctx, "synthesis")()
	ctx, span := p.deps.Tracing.StartSpan(ctx, "pipeline.synthesis",
		attribute.Int("sources", len(sources)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.config.SynthesisTimeout)
	defer cancel()

	if err := guard.Allow(synthesis.DependencyOllama); err != nil {
		p.logger.Warn("synthesis skipped, degrading to snippets", map[string]interface{}{
			"error": err.Error(),
		})
		return snippetFallback(query, sources)
	}

	result, err := p.deps.Synthesizer.Synthesize(ctx, query, sources)
	if err != nil {
		guard.Failure(synthesis.DependencyOllama, err)
		p.logger.Warn("synthesis failed, degrading to snippets", map[string]interface{}{
			"error": err.Error(),
		})
		return snippetFallback(query, sources)
	}

	guard.Success(synthesis.DependencyOllama, result.TokensUsed)
	return result
}

// snippetFallback is the degraded answer used when the LLM is unavailable.
func snippetFallback(query string, sources []models.FetchedSource) models.SynthesisResult {
	return models.SynthesisResult{
		Answer: fmt.Sprintf("I found %d search results for '%s', but analysis is currently unavailable.",
			len(sources), query),
		Confidence: degradedConfidence,
		Degraded:   true,
	}
}

// ============================================================================
// ASSEMBLY AND PERSISTENCE
// ============================================================================

func (p *Pipeline) assemble(req *models.SearchRequest, result models.SynthesisResult, sources []models.FetchedSource, guard *runGuard, start time.Time) *models.PipelineResponse {
	resp := &models.PipelineResponse{
		RequestID:      uuid.NewString(),
		Query:          req.Query,
		Answer:         result.Answer,
		Confidence:     result.Confidence,
		ProcessingTime: time.Since(start).Seconds(),
		Degraded:       result.Degraded,
		CostEstimate:   guard.total(),
		Timestamp:      time.Now().UTC(),
	}
	if req.WantsSources() {
		urls := make([]string, 0, len(sources))
		for _, src := range sources {
			urls = append(urls, src.URL)
		}
		resp.Sources = urls
	}
	return resp
}

// cachedResponse looks the fingerprint up in the response cache. A corrupt
// entry is dropped and treated as a miss.
func (p *Pipeline) cachedResponse(ctx context.Context, fp string) (*models.PipelineResponse, bool) {
	data, ok := p.deps.Cache.Get(ctx, fp, cache.CategoryResponse)
	if !ok {
		return nil, false
	}
	var resp models.PipelineResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		p.logger.Warn("dropping corrupt cached response", map[string]interface{}{
			"fingerprint": fp,
		})
		p.deps.Cache.Delete(ctx, fp, cache.CategoryResponse)
		return nil, false
	}
	return &resp, true
}

func (p *Pipeline) storeResponse(ctx context.Context, fp string, resp *models.PipelineResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	p.deps.Cache.Set(ctx, fp, data, cache.CategoryResponse)
}

// auditExecution hands the full execution record to the auditor on a
// detached context. One audit per execution; cache hits and shared
// single-flight waiters never re-audit.
func (p *Pipeline) auditExecution(req *models.SearchRequest, resp *models.PipelineResponse, queries []string, attempted []models.FetchedSource, guard *runGuard) {
	if p.deps.Auditor == nil {
		return
	}

	status := "completed"
	if resp.Degraded {
		status = "degraded"
	}
	audit := models.SearchAudit{
		RequestID:       resp.RequestID,
		Query:           req.Query,
		EnhancedQueries: queries,
		MaxResults:      req.MaxResults,
		Status:          status,
		Answer:          resp.Answer,
		Sources:         attempted,
		Confidence:      resp.Confidence,
		ProcessingTime:  resp.ProcessingTime,
		Degraded:        resp.Degraded,
		TotalCost:       resp.CostEstimate,
		CostRecords:     guard.costRecords(),
		UserID:          req.UserID,
		ClientIP:        req.ClientIP,
		UserAgent:       req.UserAgent,
		Timestamp:       resp.Timestamp,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		p.deps.Auditor.LogSearch(ctx, audit)
	}()
}

// recordHistory indexes one entry per caller request, cache hits and shared
// results included, so query analytics reflect demand rather than work done.
func (p *Pipeline) recordHistory(req *models.SearchRequest, resp *models.PipelineResponse, runErr error) {
	if p.deps.History == nil {
		return
	}

	entry := models.HistoryEntry{
		Query:     req.NormalizedQuery(),
		UserID:    req.UserID,
		Success:   runErr == nil,
		Timestamp: time.Now().UTC(),
	}
	if resp != nil {
		entry.ResultCount = len(resp.Sources)
		entry.Confidence = resp.Confidence
		entry.ProcessingTime = resp.ProcessingTime
		entry.Cached = resp.Cached
		entry.Degraded = resp.Degraded
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		p.deps.History.Record(ctx, entry)
	}()
}

// timeStage records one observation of the stage duration histogram.
// observeOutcome feeds the request outcome to both the prometheus counters
// and the OTel meter.
func (p *Pipeline) observeOutcome(ctx context.Context, status string, elapsed time.Duration) {
	metrics.PipelineRequests.WithLabelValues(status).Inc()
	p.deps.Obs.RecordSearchProcessed(ctx, status)
	p.deps.Obs.RecordSearchDuration(ctx, elapsed, status)
}

func (p *Pipeline) timeStage(ctx context.Context, stage string) func() {
	start := time.Now()
	return func() {
		metrics.PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		p.deps.Obs.RecordStageDuration(ctx, stage, time.Since(start))
	}
}
