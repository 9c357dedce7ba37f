// internal/models/response.go
package models

import "time"

// PipelineResponse is the final answer returned to the client and cached
// under the request fingerprint. A cache hit returns the stored response
// unchanged except Cached flips to true and ProcessingTime reflects the
// lookup, not the original run.
type PipelineResponse struct {
	RequestID      string    `json:"request_id"`
	Query          string    `json:"query"`
	Answer         string    `json:"answer"`
	Sources        []string  `json:"sources,omitempty"`
	Confidence     float64   `json:"confidence_score"`
	ProcessingTime float64   `json:"processing_time"`
	Cached         bool      `json:"cached"`
	Degraded       bool      `json:"degraded,omitempty"`
	CostEstimate   float64   `json:"cost_estimate"`
	Timestamp      time.Time `json:"timestamp"`
}

// SuggestionsResponse is returned by GET /api/v1/search/suggestions.
type SuggestionsResponse struct {
	Query       string   `json:"query"`
	Suggestions []string `json:"suggestions"`
}

// ErrorResponse is the JSON body for non-2xx API responses.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse reports overall service health plus per-component detail.
type HealthResponse struct {
	Status         string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Version        string            `json:"version,omitempty"`
	Components     map[string]string `json:"components,omitempty"`
	ResponseTimeMs float64           `json:"response_time_ms"`
	Timestamp      time.Time         `json:"timestamp"`
}

// StatsOverview aggregates pipeline, cost, breaker, and query statistics
// for GET /admin/stats/overview.
type StatsOverview struct {
	Pipeline       map[string]interface{} `json:"pipeline"`
	Cost           map[string]interface{} `json:"cost"`
	Breakers       map[string]interface{} `json:"breakers"`
	Cache          map[string]interface{} `json:"cache"`
	PopularQueries []PopularQuery         `json:"popular_queries,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// PopularQuery is one entry of the recent-query leaderboard.
type PopularQuery struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}
