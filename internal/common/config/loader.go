// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	// Load .env from multiple possible locations
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like BRAVE_SEARCH_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setBoolDefaults()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// 1. Load base config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// 2. Load env-specific config
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	// 3. Expand env placeholders
	expandEnvVars(viper.GetViper())

	// 4. Unmarshal final config
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	// 5. Direct override if still empty
	overrideEmptyConfig(&cfg)

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setBoolDefaults registers defaults for booleans that should be on unless
// explicitly disabled; applyDefaults cannot tell unset from false.
func setBoolDefaults() {
	viper.SetDefault("providers.autocomplete.enabled", true)
}

// loadEnvFile tries .env in several locations so the loader works from
// the repo root, cmd dirs, and test dirs alike.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	// Also try to find project root by looking for go.mod
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig applies well-known env vars for values the yaml left empty.
func overrideEmptyConfig(cfg *Config) {
	// Provider credentials
	if cfg.Providers.Brave.APIKey == "" {
		if val := os.Getenv("BRAVE_SEARCH_API_KEY"); val != "" {
			cfg.Providers.Brave.APIKey = val
		}
	}
	if cfg.Providers.SerpAPI.APIKey == "" {
		if val := os.Getenv("SERPAPI_API_KEY"); val != "" {
			cfg.Providers.SerpAPI.APIKey = val
		}
	}
	if cfg.Providers.ZenRows.APIKey == "" {
		if val := os.Getenv("ZENROWS_API_KEY"); val != "" {
			cfg.Providers.ZenRows.APIKey = val
		}
	}
	if val := os.Getenv("OLLAMA_HOST"); val != "" && cfg.Providers.Ollama.Host == "" {
		cfg.Providers.Ollama.Host = val
	}

	// Database overrides
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Address == "" {
		if val := os.Getenv("REDIS_ADDRESS"); val != "" {
			cfg.Database.Redis.Address = val
		}
	}

	// Alerting
	if cfg.Alerts.AWS.Region == "" {
		if val := os.Getenv("AWS_REGION"); val != "" {
			cfg.Alerts.AWS.Region = val
		}
	}
	if cfg.Alerts.SNS.TopicARN == "" {
		if val := os.Getenv("BUDGET_ALERT_TOPIC_ARN"); val != "" {
			cfg.Alerts.SNS.TopicARN = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	setBoolDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// App defaults
	if cfg.App.Name == "" {
		cfg.App.Name = "llmsearch"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = 60
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 10
	}

	// Database defaults
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	// Elasticsearch URL fallback
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	// Cache defaults
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "llmsearch"
	}
	if cfg.Cache.MemorySize == 0 {
		cfg.Cache.MemorySize = 1000
	}
	if cfg.Cache.ResponseTTL == 0 {
		cfg.Cache.ResponseTTL = 14400
	}
	if cfg.Cache.EnhancementTTL == 0 {
		cfg.Cache.EnhancementTTL = 3600
	}
	if cfg.Cache.SearchTTL == 0 {
		cfg.Cache.SearchTTL = 1800
	}
	if cfg.Cache.ContentTTL == 0 {
		cfg.Cache.ContentTTL = 7200
	}
	if cfg.Cache.GeneralTTL == 0 {
		cfg.Cache.GeneralTTL = 3600
	}

	// Pipeline defaults
	if cfg.Pipeline.RequestTimeout == 0 {
		cfg.Pipeline.RequestTimeout = 30000
	}
	if cfg.Pipeline.EnhanceTimeout == 0 {
		cfg.Pipeline.EnhanceTimeout = 5000
	}
	if cfg.Pipeline.SearchTimeout == 0 {
		cfg.Pipeline.SearchTimeout = 10000
	}
	if cfg.Pipeline.FetchTimeout == 0 {
		cfg.Pipeline.FetchTimeout = 15000
	}
	if cfg.Pipeline.SynthesisTimeout == 0 {
		cfg.Pipeline.SynthesisTimeout = 30000
	}
	if cfg.Pipeline.FetchConcurrency == 0 {
		cfg.Pipeline.FetchConcurrency = 5
	}
	if cfg.Pipeline.MaxQueries == 0 {
		cfg.Pipeline.MaxQueries = 5
	}

	// Provider defaults
	if cfg.Providers.Brave.BaseURL == "" {
		cfg.Providers.Brave.BaseURL = "https://api.search.brave.com/res/v1/web/search"
	}
	if cfg.Providers.Brave.RatePerSecond == 0 {
		cfg.Providers.Brave.RatePerSecond = 5
	}
	if cfg.Providers.Brave.Burst == 0 {
		cfg.Providers.Brave.Burst = 5
	}
	if cfg.Providers.SerpAPI.BaseURL == "" {
		cfg.Providers.SerpAPI.BaseURL = "https://serpapi.com/search"
	}
	if cfg.Providers.SerpAPI.RatePerSecond == 0 {
		cfg.Providers.SerpAPI.RatePerSecond = 5
	}
	if cfg.Providers.SerpAPI.Burst == 0 {
		cfg.Providers.SerpAPI.Burst = 5
	}
	if cfg.Providers.ZenRows.BaseURL == "" {
		cfg.Providers.ZenRows.BaseURL = "https://api.zenrows.com/v1/"
	}
	if cfg.Providers.ZenRows.RatePerSecond == 0 {
		cfg.Providers.ZenRows.RatePerSecond = 10
	}
	if cfg.Providers.ZenRows.Burst == 0 {
		cfg.Providers.ZenRows.Burst = 10
	}
	if cfg.Providers.Ollama.Host == "" {
		cfg.Providers.Ollama.Host = "http://localhost:11434"
	}
	if cfg.Providers.Ollama.Model == "" {
		cfg.Providers.Ollama.Model = "llama2:7b"
	}
	if cfg.Providers.Ollama.Temperature == 0 {
		cfg.Providers.Ollama.Temperature = 0.1
	}
	if cfg.Providers.Ollama.MaxTokens == 0 {
		cfg.Providers.Ollama.MaxTokens = 500
	}
	if cfg.Providers.Ollama.MaxRetries == 0 {
		cfg.Providers.Ollama.MaxRetries = 2
	}
	if cfg.Providers.Autocomplete.BaseURL == "" {
		cfg.Providers.Autocomplete.BaseURL = "https://suggestqueries.google.com/complete/search"
	}

	// Cost defaults
	if cfg.Cost.Rates == nil {
		cfg.Cost.Rates = map[string]float64{}
	}
	if _, ok := cfg.Cost.Rates["brave_search"]; !ok {
		cfg.Cost.Rates["brave_search"] = 0.005
	}
	if _, ok := cfg.Cost.Rates["serpapi_search"]; !ok {
		cfg.Cost.Rates["serpapi_search"] = 0.02
	}
	if _, ok := cfg.Cost.Rates["zenrows_fetch"]; !ok {
		cfg.Cost.Rates["zenrows_fetch"] = 0.01
	}
	if _, ok := cfg.Cost.Rates["ollama_llm"]; !ok {
		cfg.Cost.Rates["ollama_llm"] = 0.0
	}
	if cfg.Cost.DailyBudget == 0 {
		cfg.Cost.DailyBudget = 100.0
	}
	if cfg.Cost.MonthlyBudgets == nil {
		cfg.Cost.MonthlyBudgets = map[string]float64{}
	}
	if _, ok := cfg.Cost.MonthlyBudgets["zenrows_fetch"]; !ok {
		cfg.Cost.MonthlyBudgets["zenrows_fetch"] = 200.0
	}
	if _, ok := cfg.Cost.MonthlyBudgets["serpapi_search"]; !ok {
		cfg.Cost.MonthlyBudgets["serpapi_search"] = 100.0
	}
	if cfg.Cost.AlertThreshold == 0 {
		cfg.Cost.AlertThreshold = 0.8
	}

	// Breaker defaults
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Window == 0 {
		cfg.Breaker.Window = 60000
	}
	if cfg.Breaker.OpenDuration == 0 {
		cfg.Breaker.OpenDuration = 30000
	}
	if cfg.Breaker.BackoffFactor == 0 {
		cfg.Breaker.BackoffFactor = 2.0
	}
	if cfg.Breaker.MaxOpenDuration == 0 {
		cfg.Breaker.MaxOpenDuration = 300000
	}

	// History defaults
	if cfg.History.Index == "" {
		cfg.History.Index = "search-history"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Database.Postgres.Host != "" {
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required when postgres host is set")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required when postgres host is set")
		}
	}

	if cfg.History.Enabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when history is enabled")
	}

	if cfg.Cost.AlertThreshold <= 0 || cfg.Cost.AlertThreshold > 1 {
		return fmt.Errorf("cost.alert_threshold must be in (0, 1]")
	}

	if cfg.Breaker.BackoffFactor < 1 {
		return fmt.Errorf("breaker.backoff_factor must be >= 1")
	}

	if cfg.Alerts.Enabled && cfg.Alerts.AWS.Region == "" {
		return fmt.Errorf("alerts.aws.region is required when alerts are enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetBreakerConfig retrieves the breaker settings for a dependency, merging
// any per-dependency override onto the defaults.
func GetBreakerConfig(cfg *Config, dependency string) DependencyBreaker {
	merged := DependencyBreaker{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		OpenDuration:     cfg.Breaker.OpenDuration,
		BackoffFactor:    cfg.Breaker.BackoffFactor,
		MaxOpenDuration:  cfg.Breaker.MaxOpenDuration,
	}

	override, exists := cfg.Breaker.Dependencies[dependency]
	if !exists {
		return merged
	}
	if override.FailureThreshold > 0 {
		merged.FailureThreshold = override.FailureThreshold
	}
	if override.Window > 0 {
		merged.Window = override.Window
	}
	if override.OpenDuration > 0 {
		merged.OpenDuration = override.OpenDuration
	}
	if override.BackoffFactor > 0 {
		merged.BackoffFactor = override.BackoffFactor
	}
	if override.MaxOpenDuration > 0 {
		merged.MaxOpenDuration = override.MaxOpenDuration
	}
	return merged
}
