// internal/models/cost.go
package models

import "time"

// CostRecord is one billed unit of work attributed to a request fingerprint.
type CostRecord struct {
	Provider    string    `json:"provider"`
	Amount      float64   `json:"amount"`
	Units       int       `json:"units"` // calls for search/fetch, tokens for llm
	Fingerprint string    `json:"fingerprint"`
	Timestamp   time.Time `json:"timestamp"`
}

// HistoryEntry is one recorded search, indexed for analytics and suggestions.
type HistoryEntry struct {
	Query          string    `json:"query"`
	UserID         string    `json:"user_id,omitempty"`
	ResultCount    int       `json:"result_count"`
	Confidence     float64   `json:"confidence"`
	ProcessingTime float64   `json:"processing_time"`
	Cached         bool      `json:"cached"`
	Degraded       bool      `json:"degraded"`
	Success        bool      `json:"success"`
	Timestamp      time.Time `json:"timestamp"`
}

// SearchAudit is the full execution record persisted to the audit trail.
// One audit row is written per pipeline execution, never per cache hit.
type SearchAudit struct {
	RequestID       string          `json:"request_id"`
	Query           string          `json:"query"`
	EnhancedQueries []string        `json:"enhanced_queries"`
	MaxResults      int             `json:"max_results"`
	Status          string          `json:"status"` // completed or degraded
	Answer          string          `json:"answer"`
	Sources         []FetchedSource `json:"sources"`
	Confidence      float64         `json:"confidence"`
	ProcessingTime  float64         `json:"processing_time"`
	Degraded        bool            `json:"degraded"`
	TotalCost       float64         `json:"total_cost"`
	CostRecords     []CostRecord    `json:"cost_records"`
	UserID          string          `json:"user_id,omitempty"`
	ClientIP        string          `json:"client_ip,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}
