// internal/server/server.go
// Package server exposes the search pipeline over HTTP: the search and
// suggestion endpoints, health and readiness probes, admin statistics, and
// the Prometheus scrape surface.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	"github.com/puneetrinity/llmbackend1/internal/cache"
	"github.com/puneetrinity/llmbackend1/internal/common/config"
	"github.com/puneetrinity/llmbackend1/internal/common/database"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/cost"
	"github.com/puneetrinity/llmbackend1/internal/models"
	"github.com/puneetrinity/llmbackend1/internal/pipeline"
)

// SearchRunner is the pipeline slice the handlers drive.
type SearchRunner interface {
	Run(ctx context.Context, req *models.SearchRequest) (*models.PipelineResponse, error)
	Stats() pipeline.Stats
}

// Suggester produces typeahead completions for a prefix.
type Suggester interface {
	Suggestions(ctx context.Context, prefix string, limit int) []string
}

// HistoryReader is the recorded-search surface used for suggestion fallback
// and the popular-query leaderboard.
type HistoryReader interface {
	Enabled() bool
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
	PopularQueries(ctx context.Context, days, limit int) ([]models.PopularQuery, error)
}

// CacheStatus is the cache slice the health and stats endpoints read.
type CacheStatus interface {
	Stats() cache.Stats
	Healthy(ctx context.Context) bool
}

// Deps carries everything the server wires into its handlers. Pipeline and
// Enhancer are required; the rest degrade to "disabled" when nil.
type Deps struct {
	Pipeline SearchRunner
	Enhancer Suggester
	History  HistoryReader
	Costs    *cost.Tracker
	Breakers *breaker.Registry
	Cache    CacheStatus
	Redis    *database.RedisClient
	Postgres *database.PostgresClient
	ES       *database.ElasticsearchClient
}

type Server struct {
	config   config.ServerConfig
	version  string
	pipeline SearchRunner
	enhancer Suggester
	history  HistoryReader
	costs    *cost.Tracker
	breakers *breaker.Registry
	cache    CacheStatus
	redis    *database.RedisClient
	postgres *database.PostgresClient
	es       *database.ElasticsearchClient
	limiter  *ipLimiter
	logger   logger.Logger

	httpServer *http.Server
}

func New(cfg config.Config, deps Deps, log logger.Logger) *Server {
	s := &Server{
		config:   cfg.Server,
		version:  cfg.App.Version,
		pipeline: deps.Pipeline,
		enhancer: deps.Enhancer,
		history:  deps.History,
		costs:    deps.Costs,
		breakers: deps.Breakers,
		cache:    deps.Cache,
		redis:    deps.Redis,
		postgres: deps.Postgres,
		es:       deps.ES,
		limiter:  newIPLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst),
		logger:   log.WithFields(map[string]interface{}{"component": "http_server"}),
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/search", s.withRateLimit(http.HandlerFunc(s.handleSearch)))
	mux.Handle("GET /api/v1/search/suggestions", s.withRateLimit(http.HandlerFunc(s.handleSuggestions)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /admin/stats/overview", s.handleStatsOverview)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := withRecovery(s.logger, withRequestID(withAccessLog(s.logger, mux)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	return s
}

// Handler returns the fully wrapped handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down", map[string]interface{}{})
	return s.httpServer.Shutdown(ctx)
}
