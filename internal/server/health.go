// internal/server/health.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	"github.com/puneetrinity/llmbackend1/internal/models"
	"github.com/puneetrinity/llmbackend1/internal/services/search"
	"github.com/puneetrinity/llmbackend1/internal/services/synthesis"
)

const componentPingTimeout = 2 * time.Second

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// ============================================================================
// LIVENESS / READINESS
// ============================================================================

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady gates traffic on the two things the pipeline cannot do
// without: a working cache and at least one admissible search provider.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), componentPingTimeout)
	defer cancel()

	reasons := make([]string, 0, 2)
	if s.cache == nil || !s.cache.Healthy(ctx) {
		reasons = append(reasons, "cache unavailable")
	}
	if !s.searchAdmissible() {
		reasons = append(reasons, "all search providers open")
	}

	if len(reasons) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "not_ready",
			"reasons": reasons,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// searchAdmissible reports whether any search provider breaker would admit a
// call right now. A registry with no recorded breakers means nothing has
// tripped yet.
func (s *Server) searchAdmissible() bool {
	if s.breakers == nil {
		return true
	}
	open := map[string]bool{}
	for _, snap := range s.breakers.Snapshots() {
		open[snap.Name] = snap.State == breaker.StateOpen
	}
	return !(open[search.ProviderBrave] && open[search.ProviderSerpAPI])
}

// ============================================================================
// HEALTH SUMMARY
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := statusHealthy
	if s.breakers != nil && s.breakers.AnyOpen() {
		status = statusDegraded
	}
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:         status,
		Version:        s.version,
		ResponseTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:      time.Now().UTC(),
	})
}

// handleHealthDetailed pings each configured backend and reports breaker
// state per dependency. Unconfigured backends report "disabled" and do not
// affect the overall status.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), componentPingTimeout)
	defer cancel()

	components := make(map[string]string)

	if s.redis != nil {
		components["redis"] = pingStatus(s.redis.Ping(ctx))
	} else {
		components["redis"] = "disabled"
	}
	if s.postgres != nil {
		components["postgres"] = pingStatus(s.postgres.Ping(ctx))
	} else {
		components["postgres"] = "disabled"
	}
	if s.es != nil {
		components["elasticsearch"] = pingStatus(s.es.Ping())
	} else {
		components["elasticsearch"] = "disabled"
	}

	if s.breakers != nil {
		for _, snap := range s.breakers.Snapshots() {
			switch snap.State {
			case breaker.StateOpen:
				components[snap.Name] = statusUnhealthy
			case breaker.StateHalfOpen:
				components[snap.Name] = statusDegraded
			default:
				components[snap.Name] = statusHealthy
			}
		}
	}

	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:         overallStatus(components),
		Version:        s.version,
		Components:     components,
		ResponseTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:      time.Now().UTC(),
	})
}

func pingStatus(err error) string {
	if err != nil {
		return statusUnhealthy
	}
	return statusHealthy
}

// overallStatus folds component states into one verdict. The synthesizer
// being down only degrades answers, so its breaker never makes the service
// unhealthy on its own.
func overallStatus(components map[string]string) string {
	status := statusHealthy
	for name, st := range components {
		switch st {
		case statusUnhealthy:
			if name == synthesis.DependencyOllama {
				if status == statusHealthy {
					status = statusDegraded
				}
				continue
			}
			return statusUnhealthy
		case statusDegraded:
			if status == statusHealthy {
				status = statusDegraded
			}
		}
	}
	return status
}
