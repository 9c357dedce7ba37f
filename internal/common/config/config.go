// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Cost      CostConfig      `mapstructure:"cost"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	History   HistoryConfig   `mapstructure:"history"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	ReadTimeout        int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout       int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout    int    `mapstructure:"shutdown_timeout"` // milliseconds
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int    `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Pipeline Configuration ---

// CacheConfig holds the tiered cache settings. TTLs are seconds.
type CacheConfig struct {
	KeyPrefix      string `mapstructure:"key_prefix"`
	MemorySize     int    `mapstructure:"memory_size"`
	ResponseTTL    int    `mapstructure:"response_ttl"`
	EnhancementTTL int    `mapstructure:"enhancement_ttl"`
	SearchTTL      int    `mapstructure:"search_ttl"`
	ContentTTL     int    `mapstructure:"content_ttl"`
	GeneralTTL     int    `mapstructure:"general_ttl"`
}

// PipelineConfig holds orchestrator timeouts and fan-out bounds.
// Timeouts are milliseconds.
type PipelineConfig struct {
	RequestTimeout   int `mapstructure:"request_timeout"`
	EnhanceTimeout   int `mapstructure:"enhance_timeout"`
	SearchTimeout    int `mapstructure:"search_timeout"`
	FetchTimeout     int `mapstructure:"fetch_timeout"`
	SynthesisTimeout int `mapstructure:"synthesis_timeout"`
	FetchConcurrency int `mapstructure:"fetch_concurrency"`
	MaxQueries       int `mapstructure:"max_queries"` // enhanced variants incl. original
}

// ProvidersConfig holds settings for all external dependencies.
type ProvidersConfig struct {
	Brave struct {
		APIKey        string  `mapstructure:"api_key"`
		BaseURL       string  `mapstructure:"base_url"`
		RatePerSecond float64 `mapstructure:"rate_per_second"`
		Burst         int     `mapstructure:"burst"`
	} `mapstructure:"brave"`

	SerpAPI struct {
		APIKey        string  `mapstructure:"api_key"`
		BaseURL       string  `mapstructure:"base_url"`
		RatePerSecond float64 `mapstructure:"rate_per_second"`
		Burst         int     `mapstructure:"burst"`
	} `mapstructure:"serpapi"`

	ZenRows struct {
		APIKey        string  `mapstructure:"api_key"`
		BaseURL       string  `mapstructure:"base_url"`
		RatePerSecond float64 `mapstructure:"rate_per_second"`
		Burst         int     `mapstructure:"burst"`
	} `mapstructure:"zenrows"`

	Ollama struct {
		Host        string  `mapstructure:"host"`
		Model       string  `mapstructure:"model"`
		Temperature float64 `mapstructure:"temperature"`
		MaxTokens   int     `mapstructure:"max_tokens"`
		MaxRetries  int     `mapstructure:"max_retries"`
	} `mapstructure:"ollama"`

	Autocomplete struct {
		Enabled bool   `mapstructure:"enabled"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"autocomplete"`
}

// CostConfig holds provider rates and budget windows. Amounts are USD.
type CostConfig struct {
	Rates          map[string]float64 `mapstructure:"rates"`
	DailyBudget    float64            `mapstructure:"daily_budget"`
	MonthlyBudgets map[string]float64 `mapstructure:"monthly_budgets"`
	AlertThreshold float64            `mapstructure:"alert_threshold"`
}

// BreakerConfig holds circuit breaker defaults plus per-dependency overrides.
// Durations are milliseconds.
type BreakerConfig struct {
	FailureThreshold int                          `mapstructure:"failure_threshold"`
	Window           int                          `mapstructure:"window"`
	OpenDuration     int                          `mapstructure:"open_duration"`
	BackoffFactor    float64                      `mapstructure:"backoff_factor"`
	MaxOpenDuration  int                          `mapstructure:"max_open_duration"`
	Dependencies     map[string]DependencyBreaker `mapstructure:"dependencies"`
}

// DependencyBreaker overrides breaker defaults for one dependency.
// Zero values fall back to the defaults.
type DependencyBreaker struct {
	FailureThreshold int     `mapstructure:"failure_threshold"`
	Window           int     `mapstructure:"window"`
	OpenDuration     int     `mapstructure:"open_duration"`
	BackoffFactor    float64 `mapstructure:"backoff_factor"`
	MaxOpenDuration  int     `mapstructure:"max_open_duration"`
}

// AlertsConfig holds budget alert delivery settings.
type AlertsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	AWS     struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		Enabled   bool     `mapstructure:"enabled"`
		FromEmail string   `mapstructure:"from_email"`
		ToEmails  []string `mapstructure:"to_emails"`
	} `mapstructure:"ses"`
}

// HistoryConfig holds search history indexing settings.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// RegistryConfig points at the provider registry file (optional).
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// TracingConfig holds span export settings. An empty endpoint disables export.
type TracingConfig struct {
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
