// pkg/registry/schema.go
package registry

// Provider kinds. Each kind maps to one pipeline stage.
const (
	KindSearch    = "search"
	KindFetch     = "fetch"
	KindSynthesis = "synthesis"
	KindEnhance   = "enhance"
)

// ProviderRegistry is the on-disk catalog of external providers. The server
// seeds cost rates, monthly budgets, and breaker overrides from it when a
// registry path is configured.
type ProviderRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"last_updated"`
	Providers   []Provider `json:"providers"`
}

// Provider describes one external dependency. The ID doubles as the
// dependency key used by the breaker registry and the cost tracker.
type Provider struct {
	ID            string           `json:"id"`
	DisplayName   string           `json:"display_name"`
	Kind          string           `json:"kind"`
	Enabled       bool             `json:"enabled"`
	CostPerCall   float64          `json:"cost_per_call"`
	MonthlyBudget float64          `json:"monthly_budget,omitempty"`
	RatePerSecond float64          `json:"rate_per_second,omitempty"`
	Timeout       string           `json:"timeout,omitempty"`
	Breaker       *BreakerOverride `json:"breaker,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
}

// BreakerOverride carries per-provider circuit breaker settings. Durations
// are milliseconds; zero values fall back to the breaker defaults.
type BreakerOverride struct {
	FailureThreshold int     `json:"failure_threshold,omitempty"`
	Window           int     `json:"window,omitempty"`
	OpenDuration     int     `json:"open_duration,omitempty"`
	BackoffFactor    float64 `json:"backoff_factor,omitempty"`
	MaxOpenDuration  int     `json:"max_open_duration,omitempty"`
}

// registrySchema is the JSON schema every registry file must satisfy.
const registrySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "providers"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "last_updated": {"type": "string"},
    "providers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "display_name", "kind"],
        "properties": {
          "id": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
          "display_name": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "enum": ["search", "fetch", "synthesis", "enhance"]},
          "enabled": {"type": "boolean"},
          "cost_per_call": {"type": "number", "minimum": 0},
          "monthly_budget": {"type": "number", "minimum": 0},
          "rate_per_second": {"type": "number", "minimum": 0},
          "timeout": {"type": "string", "pattern": "^[0-9]+(ms|s|m)$"},
          "breaker": {
            "type": "object",
            "properties": {
              "failure_threshold": {"type": "integer", "minimum": 1},
              "window": {"type": "integer", "minimum": 1},
              "open_duration": {"type": "integer", "minimum": 1},
              "backoff_factor": {"type": "number", "minimum": 1},
              "max_open_duration": {"type": "integer", "minimum": 1}
            }
          },
          "tags": {"type": "array", "items": {"type": "string", "minLength": 1}}
        }
      }
    }
  }
}`
