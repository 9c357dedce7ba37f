// cmd/search-server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	"github.com/puneetrinity/llmbackend1/internal/cache"
	"github.com/puneetrinity/llmbackend1/internal/common/aws"
	"github.com/puneetrinity/llmbackend1/internal/common/config"
	"github.com/puneetrinity/llmbackend1/internal/common/database"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/common/observability"
	"github.com/puneetrinity/llmbackend1/internal/cost"
	"github.com/puneetrinity/llmbackend1/internal/pipeline"
	"github.com/puneetrinity/llmbackend1/internal/server"
	"github.com/puneetrinity/llmbackend1/internal/services/audit"
	"github.com/puneetrinity/llmbackend1/internal/services/enhance"
	"github.com/puneetrinity/llmbackend1/internal/services/fetch"
	"github.com/puneetrinity/llmbackend1/internal/services/history"
	"github.com/puneetrinity/llmbackend1/internal/services/search"
	"github.com/puneetrinity/llmbackend1/internal/services/synthesis"
	"github.com/puneetrinity/llmbackend1/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	// Bootstrap logger until the configured one is built.
	zapLog := logger.New("info", "console")
	zapLog.Info("Starting search server...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	tracing, err := observability.NewTracing(cfg.App.Name, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		zapLog.Fatal("tracing init failed", zap.Error(err))
	}
	defer tracing.Shutdown()

	ctx := context.Background()

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init PostgreSQL with retry (optional, backs the audit trail) ---
	var pg *database.PostgresClient
	if cfg.Database.Postgres.Host != "" {
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			// Test the connection with context
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")
	} else {
		zapLog.Info("PostgreSQL not configured, audit trail disabled")
	}

	// --- Init Elasticsearch with retry (optional, backs search history) ---
	var esClient *database.ElasticsearchClient
	if cfg.History.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			// Test the connection
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Cache (in-process LRU in front of Redis) ---
	memory, err := cache.NewMemory(cfg.Cache.MemorySize)
	if err != nil {
		zapLog.Fatal("memory cache init failed", zap.Error(err))
	}
	// Cache TTLs are configured in seconds.
	ttls := cache.TTLConfig{
		Response:    time.Duration(cfg.Cache.ResponseTTL) * time.Second,
		Enhancement: time.Duration(cfg.Cache.EnhancementTTL) * time.Second,
		Search:      time.Duration(cfg.Cache.SearchTTL) * time.Second,
		Content:     time.Duration(cfg.Cache.ContentTTL) * time.Second,
		General:     time.Duration(cfg.Cache.GeneralTTL) * time.Second,
	}
	store := cache.NewTiered(memory, cache.NewRedis(redisClient.Client, log), ttls, cfg.Cache.KeyPrefix, log)

	// --- Circuit breakers ---
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           config.GetDuration(cfg.Breaker.Window),
		OpenDuration:     config.GetDuration(cfg.Breaker.OpenDuration),
		BackoffFactor:    cfg.Breaker.BackoffFactor,
		MaxOpenDuration:  config.GetDuration(cfg.Breaker.MaxOpenDuration),
	}, log)
	for name := range cfg.Breaker.Dependencies {
		dep := config.GetBreakerConfig(cfg, name)
		breakers.Configure(name, breaker.Config{
			FailureThreshold: dep.FailureThreshold,
			Window:           config.GetDuration(dep.Window),
			OpenDuration:     config.GetDuration(dep.OpenDuration),
			BackoffFactor:    dep.BackoffFactor,
			MaxOpenDuration:  config.GetDuration(dep.MaxOpenDuration),
		})
	}

	// --- Cost tracking ---
	costCfg := cost.Config{
		Rates:          cfg.Cost.Rates,
		DailyBudget:    cfg.Cost.DailyBudget,
		MonthlyBudgets: cfg.Cost.MonthlyBudgets,
		AlertThreshold: cfg.Cost.AlertThreshold,
	}

	// The provider registry file, when configured, overrides per-call rates,
	// monthly budgets, and breaker settings for the providers it lists.
	if cfg.Registry.Path != "" {
		reg, err := registry.Load(cfg.Registry.Path)
		if err != nil {
			zapLog.Fatal("provider registry load failed", zap.Error(err))
		}
		if err := reg.Validate(); err != nil {
			zapLog.Fatal("provider registry invalid", zap.Error(err))
		}
		applyRegistry(reg, &costCfg, breakers)
		zapLog.Info("Provider registry applied",
			zap.String("path", cfg.Registry.Path),
			zap.Int("providers", len(reg.Enabled())),
		)
	}

	// --- Budget alerts (SNS / SES) ---
	var alerts cost.AlertPublisher
	if cfg.Alerts.Enabled {
		var snsClient *aws.SNSClient
		var sesClient *aws.SESClient

		if cfg.Alerts.SNS.Enabled {
			snsClient, err = aws.NewSNSClient(ctx, cfg.Alerts.AWS.Region)
			if err != nil {
				zapLog.Error("SNS client init failed, SNS alerts disabled", zap.Error(err))
				snsClient = nil
			}
		}
		if cfg.Alerts.SES.Enabled {
			sesClient, err = aws.NewSESClient(ctx, cfg.Alerts.AWS.Region)
			if err != nil {
				zapLog.Error("SES client init failed, SES alerts disabled", zap.Error(err))
				sesClient = nil
			}
		}
		if snsClient != nil || sesClient != nil {
			alerts = cost.NewAWSAlertPublisher(snsClient, sesClient,
				cfg.Alerts.SNS.TopicARN, cfg.Alerts.SES.FromEmail, cfg.Alerts.SES.ToEmails, log)
			zapLog.Info("Budget alert publisher initialized")
		}
	}

	costs := cost.NewTracker(costCfg, alerts, log)

	// --- Pipeline services ---
	enhancer := enhance.NewEnhancer(enhance.Config{
		AutocompleteBaseURL: cfg.Providers.Autocomplete.BaseURL,
		Timeout:             config.GetDuration(cfg.Pipeline.EnhanceTimeout),
		MaxVariants:         cfg.Pipeline.MaxQueries,
		DisableAutocomplete: !cfg.Providers.Autocomplete.Enabled,
	}, breakers, log)

	providers := make([]search.Provider, 0, 2)
	if cfg.Providers.Brave.APIKey != "" {
		providers = append(providers, search.NewBraveProvider(search.BraveConfig{
			APIKey:        cfg.Providers.Brave.APIKey,
			BaseURL:       cfg.Providers.Brave.BaseURL,
			Timeout:       config.GetDuration(cfg.Pipeline.SearchTimeout),
			RatePerSecond: cfg.Providers.Brave.RatePerSecond,
			Burst:         cfg.Providers.Brave.Burst,
		}, log))
	}
	if cfg.Providers.SerpAPI.APIKey != "" {
		providers = append(providers, search.NewSerpAPIProvider(search.SerpAPIConfig{
			APIKey:        cfg.Providers.SerpAPI.APIKey,
			BaseURL:       cfg.Providers.SerpAPI.BaseURL,
			Timeout:       config.GetDuration(cfg.Pipeline.SearchTimeout),
			RatePerSecond: cfg.Providers.SerpAPI.RatePerSecond,
			Burst:         cfg.Providers.SerpAPI.Burst,
		}, log))
	}
	if len(providers) == 0 {
		zapLog.Fatal("no search provider configured, set BRAVE_SEARCH_API_KEY or SERPAPI_API_KEY")
	}
	searcher := search.NewAggregator(providers, store, log)

	fetcher := fetch.NewFetcher(fetch.Config{
		ZenRowsAPIKey:  cfg.Providers.ZenRows.APIKey,
		ZenRowsBaseURL: cfg.Providers.ZenRows.BaseURL,
		Timeout:        config.GetDuration(cfg.Pipeline.FetchTimeout),
		MaxConcurrent:  cfg.Pipeline.FetchConcurrency,
	}, store, log)

	synthesizer := synthesis.NewSynthesizer(synthesis.Config{
		Host:        cfg.Providers.Ollama.Host,
		Model:       cfg.Providers.Ollama.Model,
		Temperature: cfg.Providers.Ollama.Temperature,
		MaxTokens:   cfg.Providers.Ollama.MaxTokens,
		Timeout:     config.GetDuration(cfg.Pipeline.SynthesisTimeout),
		MaxRetries:  cfg.Providers.Ollama.MaxRetries,
	}, log)

	historyCfg := history.Config{Enabled: cfg.History.Enabled, Index: cfg.History.Index}
	var historySvc *history.Service
	if esClient != nil {
		historySvc = history.NewService(historyCfg, esClient.Client, log)
	} else {
		historySvc = history.NewService(historyCfg, nil, log)
	}

	auditSvc := audit.NewService(pg, log)

	zapLog.Info("All pipeline services initialized")

	// --- Pipeline orchestrator ---
	pipe := pipeline.New(pipeline.Config{
		RequestTimeout:   config.GetDuration(cfg.Pipeline.RequestTimeout),
		EnhanceTimeout:   config.GetDuration(cfg.Pipeline.EnhanceTimeout),
		SearchTimeout:    config.GetDuration(cfg.Pipeline.SearchTimeout),
		FetchTimeout:     config.GetDuration(cfg.Pipeline.FetchTimeout),
		SynthesisTimeout: config.GetDuration(cfg.Pipeline.SynthesisTimeout),
		MaxQueries:       cfg.Pipeline.MaxQueries,
	}, pipeline.Deps{
		Cache:       store,
		Breakers:    breakers,
		Costs:       costs,
		Enhancer:    enhancer,
		Searcher:    searcher,
		Fetcher:     fetcher,
		Synthesizer: synthesizer,
		Auditor:     auditSvc,
		History:     historySvc,
		Tracing:     tracing,
		Obs:         obs,
		Logger:      log,
	})

	// --- HTTP server ---
	srv := server.New(*cfg, server.Deps{
		Pipeline: pipe,
		Enhancer: enhancer,
		History:  historySvc,
		Costs:    costs,
		Breakers: breakers,
		Cache:    store,
		Redis:    redisClient,
		Postgres: pg,
		ES:       esClient,
	}, log)

	go func() {
		zapLog.Info("HTTP server listening",
			zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		)
		if err := srv.Start(); err != nil {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// --- Debug server (pprof on the default mux, loopback only) ---
	go func() {
		zapLog.Info("Debug server listening on 127.0.0.1:6060")
		if err := http.ListenAndServe("127.0.0.1:6060", nil); err != nil {
			zapLog.Error("Debug server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("Search server stopped gracefully")
}

// applyRegistry overlays per-call rates, monthly budgets, and breaker settings
// from the registry onto the process configuration. Disabled providers are
// skipped.
func applyRegistry(reg *registry.ProviderRegistry, costCfg *cost.Config, breakers *breaker.Registry) {
	for _, p := range reg.Enabled() {
		costCfg.Rates[p.ID] = p.CostPerCall
		if p.MonthlyBudget > 0 {
			costCfg.MonthlyBudgets[p.ID] = p.MonthlyBudget
		}
		if p.Breaker == nil {
			continue
		}
		breakers.Configure(p.ID, breaker.Config{
			FailureThreshold: p.Breaker.FailureThreshold,
			Window:           config.GetDuration(p.Breaker.Window),
			OpenDuration:     config.GetDuration(p.Breaker.OpenDuration),
			BackoffFactor:    p.Breaker.BackoffFactor,
			MaxOpenDuration:  config.GetDuration(p.Breaker.MaxOpenDuration),
		})
	}
}
