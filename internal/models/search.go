// internal/models/search.go
package models

import (
	"errors"
	"strings"
)

const (
	MinQueryLength    = 1
	MaxQueryLength    = 500
	DefaultMaxResults = 8
	MaxMaxResults     = 20
)

// SearchRequest is the inbound query. Normalize before Validate.
type SearchRequest struct {
	Query          string `json:"query"`
	MaxResults     int    `json:"max_results"`
	IncludeSources *bool  `json:"include_sources,omitempty"`
	UserID         string `json:"user_id,omitempty"`

	// Client metadata set by the HTTP layer for the audit trail. Not part of
	// the request body and excluded from the fingerprint.
	ClientIP  string `json:"-"`
	UserAgent string `json:"-"`
}

// Normalize trims the query and applies defaults for omitted fields.
func (r *SearchRequest) Normalize() {
	r.Query = strings.TrimSpace(r.Query)
	if r.MaxResults == 0 {
		r.MaxResults = DefaultMaxResults
	}
	if r.IncludeSources == nil {
		include := true
		r.IncludeSources = &include
	}
}

// Validate checks field bounds. Call Normalize first.
func (r *SearchRequest) Validate() error {
	if len(r.Query) < MinQueryLength {
		return errors.New("query must not be empty")
	}
	if len(r.Query) > MaxQueryLength {
		return errors.New("query must be at most 500 characters")
	}
	if r.MaxResults < 1 || r.MaxResults > MaxMaxResults {
		return errors.New("max_results must be between 1 and 20")
	}
	return nil
}

// WantsSources reports whether the response should carry source URLs.
func (r *SearchRequest) WantsSources() bool {
	return r.IncludeSources == nil || *r.IncludeSources
}

// NormalizedQuery is the canonical form used for fingerprints and cache keys:
// lowercased, trimmed, inner whitespace collapsed to single spaces.
func (r *SearchRequest) NormalizedQuery() string {
	return strings.Join(strings.Fields(strings.ToLower(r.Query)), " ")
}

// SearchHit is a single result returned by a search provider.
type SearchHit struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Provider  string  `json:"provider"`
	Rank      int     `json:"rank"`
	Relevance float64 `json:"relevance_score"`
}

type FetchStatus string

const (
	FetchStatusOK        FetchStatus = "ok"
	FetchStatusTruncated FetchStatus = "truncated"
	FetchStatusFailed    FetchStatus = "failed"
)

type SourceType string

const (
	SourceTypeNews      SourceType = "news"
	SourceTypeAcademic  SourceType = "academic"
	SourceTypeSocial    SourceType = "social"
	SourceTypeEcommerce SourceType = "ecommerce"
	SourceTypeGeneral   SourceType = "general"
)

// FetchedSource is the extracted content of one result page.
type FetchedSource struct {
	URL              string      `json:"url"`
	Title            string      `json:"title"`
	Content          string      `json:"content"`
	WordCount        int         `json:"word_count"`
	SourceType       SourceType  `json:"source_type"`
	ExtractionMethod string      `json:"extraction_method"` // "zenrows", "direct"
	Confidence       float64     `json:"confidence_score"`
	FetchStatus      FetchStatus `json:"fetch_status"`
	FetchTime        float64     `json:"fetch_time"`
}

// SynthesisResult is the answer produced from fetched sources.
type SynthesisResult struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	TokensUsed int     `json:"tokens_used"`
	Degraded   bool    `json:"degraded"`
}
