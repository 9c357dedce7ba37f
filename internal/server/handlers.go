// internal/server/handlers.go
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/validation"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

const maxRequestBody = 1 << 20

// searchRequestSchema is the wire contract for POST /api/v1/search. The
// pipeline re-validates after normalization; this rejects malformed bodies
// before they reach it.
const searchRequestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1, "maxLength": 500},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 20},
		"include_sources": {"type": "boolean"},
		"user_id": {"type": "string", "maxLength": 128}
	},
	"required": ["query"]
}`

const suggestionsTimeout = 5 * time.Second

// ============================================================================
// SEARCH
// ============================================================================

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, r, errors.NewValidationError("request body unreadable or too large"))
		return
	}

	result, err := validation.ValidateJSON(searchRequestSchema, body)
	if err != nil {
		writeError(w, r, errors.NewValidationError("request body is not valid JSON"))
		return
	}
	if !result.Valid {
		writeError(w, r, errors.NewValidationError(strings.Join(result.GetErrorMessages(), "; ")))
		return
	}

	var req models.SearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, errors.NewValidationError("request body is not valid JSON"))
		return
	}
	req.ClientIP = clientIP(r)
	req.UserAgent = r.UserAgent()

	resp, err := s.pipeline.Run(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// SUGGESTIONS
// ============================================================================

// handleSuggestions serves typeahead completions. Autocomplete first, then
// recorded history when autocomplete has nothing. Failures always produce an
// empty list, never an error status.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	resp := models.SuggestionsResponse{Query: prefix, Suggestions: []string{}}
	if prefix == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), suggestionsTimeout)
	defer cancel()

	suggestions := s.enhancer.Suggestions(ctx, prefix, limit)
	if len(suggestions) == 0 && s.history != nil && s.history.Enabled() {
		fromHistory, err := s.history.Suggest(ctx, prefix, limit)
		if err != nil {
			s.logger.Debug("history suggestions unavailable", map[string]interface{}{
				"prefix": prefix,
				"error":  err.Error(),
			})
		} else {
			suggestions = fromHistory
		}
	}
	if len(suggestions) > 0 {
		resp.Suggestions = suggestions
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// ADMIN STATS
// ============================================================================

func (s *Server) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	stats := s.pipeline.Stats()
	overview := models.StatsOverview{
		Pipeline: map[string]interface{}{
			"requests":               stats.Requests,
			"cache_hits":             stats.CacheHits,
			"shared_results":         stats.SharedResults,
			"degraded":               stats.Degraded,
			"failures":               stats.Failures,
			"in_flight":              stats.InFlight,
			"avg_processing_seconds": stats.AvgProcessingSeconds,
		},
		Cost:      map[string]interface{}{},
		Breakers:  map[string]interface{}{},
		Cache:     map[string]interface{}{},
		Timestamp: time.Now().UTC(),
	}

	if s.costs != nil {
		summary := s.costs.Summary()
		providers := make(map[string]interface{}, len(summary.Providers))
		for _, p := range summary.Providers {
			providers[p.Provider] = map[string]interface{}{
				"day_spent":      p.DaySpent,
				"month_spent":    p.MonthSpent,
				"day_calls":      p.DayCalls,
				"month_calls":    p.MonthCalls,
				"monthly_budget": p.MonthlyBudget,
			}
		}
		overview.Cost = map[string]interface{}{
			"day":          summary.Day,
			"daily_spent":  summary.DailySpent,
			"daily_budget": summary.DailyBudget,
			"providers":    providers,
		}
	}

	if s.breakers != nil {
		for _, snap := range s.breakers.Snapshots() {
			overview.Breakers[snap.Name] = map[string]interface{}{
				"state":                 string(snap.State),
				"failure_count":         snap.FailureCount,
				"open_duration_seconds": snap.OpenDurationSeconds,
			}
		}
	}

	if s.cache != nil {
		cs := s.cache.Stats()
		overview.Cache = map[string]interface{}{
			"memory_hits":    cs.MemoryHits,
			"memory_misses":  cs.MemoryMisses,
			"redis_hits":     cs.RedisHits,
			"redis_misses":   cs.RedisMisses,
			"redis_errors":   cs.RedisErrors,
			"memory_entries": cs.MemoryEntries,
			"hit_rate":       cs.HitRate(),
		}
	}

	if s.history != nil && s.history.Enabled() {
		popular, err := s.history.PopularQueries(r.Context(), 7, 10)
		if err == nil {
			overview.PopularQueries = popular
		}
	}

	writeJSON(w, http.StatusOK, overview)
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a pipeline error onto the HTTP contract: 400 validation,
// 429 rate limited, 502 when upstreams were rejected or yielded nothing,
// 500 for everything else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, statusForError(err), models.ErrorResponse{
		Error:     errorMessage(err),
		Code:      string(errors.CodeOf(err)),
		RequestID: RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func statusForError(err error) int {
	if errors.CodeOf(err) == errors.ErrCodeRateLimited {
		return http.StatusTooManyRequests
	}
	switch errors.ClassifyError(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNoUsableSources, errors.KindDependencyUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) {
		if stdErr.Details != "" {
			return stdErr.Message + ": " + stdErr.Details
		}
		return stdErr.Message
	}
	return err.Error()
}
