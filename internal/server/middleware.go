// internal/server/middleware.go
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext returns the request id set by the middleware, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ============================================================================
// REQUEST ID + TIMING
// ============================================================================

// withRequestID reuses an incoming X-Request-ID or mints a uuid, echoes it on
// the response, and stores it in the request context.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status and stamps X-Process-Time the
// moment the handler commits headers.
type statusRecorder struct {
	http.ResponseWriter
	start       time.Time
	status      int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(status int) {
	if sr.wroteHeader {
		return
	}
	sr.wroteHeader = true
	sr.status = status
	sr.Header().Set("X-Process-Time", fmt.Sprintf("%.4f", time.Since(sr.start).Seconds()))
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.wroteHeader {
		sr.WriteHeader(http.StatusOK)
	}
	return sr.ResponseWriter.Write(b)
}

// withAccessLog wraps the handler with timing capture and a structured access
// log line per request.
func withAccessLog(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, start: time.Now(), status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Info("request handled", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"elapsed_ms": time.Since(rec.start).Milliseconds(),
			"client_ip":  clientIP(r),
			"request_id": RequestIDFromContext(r.Context()),
		})
	})
}

// ============================================================================
// RATE LIMITING
// ============================================================================

const (
	visitorIdleLimit  = 10 * time.Minute
	visitorSweepEvery = 5 * time.Minute
	defaultRatePerMin = 60
	defaultRateBurst  = 10
)

// ipLimiter keeps a token bucket per client IP. Idle buckets are swept
// inline so no janitor goroutine is needed.
type ipLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	if perMinute <= 0 {
		perMinute = defaultRatePerMin
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	return &ipLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > visitorSweepEvery {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdleLimit {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// withRateLimit rejects clients that exhausted their token bucket with 429.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			s.logger.Warn("rate limit exceeded", map[string]interface{}{
				"client_ip": ip,
				"path":      r.URL.Path,
			})
			writeError(w, r, errors.NewRateLimitedError(ip))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// PANIC RECOVERY
// ============================================================================

func withRecovery(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("handler panicked", map[string]interface{}{
					"panic":      fmt.Sprintf("%v", rec),
					"path":       r.URL.Path,
					"request_id": RequestIDFromContext(r.Context()),
					"stack":      string(debug.Stack()),
				})
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "internal server error",
					"code":  "INTERNAL_ERROR",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the caller address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
