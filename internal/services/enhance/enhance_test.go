// internal/services/enhance/enhance_test.go
package enhance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
)

// ==========================
// Test Helpers
// ==========================

func autocompleteServer(t *testing.T, suggestions ...string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "chrome", r.URL.Query().Get("client"))
		fmt.Fprintf(w, `[%q,[`, r.URL.Query().Get("q"))
		for i, s := range suggestions {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, "%q", s)
		}
		fmt.Fprint(w, `],[],{}]`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnhancer(t *testing.T, baseURL string, breakers *breaker.Registry) *Enhancer {
	return NewEnhancer(Config{AutocompleteBaseURL: baseURL}, breakers, logger.NewTestLogger(t))
}

// ==========================
// Enhance Tests
// ==========================

func TestEnhanceKeepsOriginalFirstAndCapsVariants(t *testing.T) {
	srv := autocompleteServer(t,
		"kubernetes networking", "kubernetes operators", "kubernetes storage", "kubernetes ingress")

	e := newTestEnhancer(t, srv.URL, nil)
	variants := e.Enhance(context.Background(), "kubernetes")

	require.NotEmpty(t, variants)
	assert.Equal(t, "kubernetes", variants[0])
	assert.Len(t, variants, 5)
	assert.Contains(t, variants, "kubernetes networking")
	// Only the top three suggestions are taken, so the fourth never appears.
	assert.NotContains(t, variants, "kubernetes ingress")
	assert.Contains(t, variants, "what is kubernetes")
}

func TestEnhanceFiltersEchoedQuery(t *testing.T) {
	srv := autocompleteServer(t, "Kubernetes", "kubernetes networking")

	e := newTestEnhancer(t, srv.URL, nil)
	variants := e.Enhance(context.Background(), "kubernetes")

	assert.NotContains(t, variants, "Kubernetes")
	assert.Contains(t, variants, "kubernetes networking")
}

func TestEnhanceDegradesWhenAutocompleteFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestEnhancer(t, srv.URL, nil)
	variants := e.Enhance(context.Background(), "golang generics")

	require.NotEmpty(t, variants)
	assert.Equal(t, "golang generics", variants[0])
	assert.Contains(t, variants, "what is golang generics")
}

func TestEnhanceDeduplicatesVariants(t *testing.T) {
	srv := autocompleteServer(t, "what is caching", "what is caching")

	e := newTestEnhancer(t, srv.URL, nil)
	variants := e.Enhance(context.Background(), "caching")

	count := 0
	for _, v := range variants {
		if v == "what is caching" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestEnhanceBreakerStopsCallsAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 2,
		Window:           time.Minute,
		OpenDuration:     time.Minute,
	}, logger.NewTestLogger(t))

	e := newTestEnhancer(t, srv.URL, registry)
	e.Enhance(context.Background(), "query one")
	e.Enhance(context.Background(), "query two")
	after := calls.Load()

	// Circuit is open now; further enhancements skip the endpoint entirely.
	variants := e.Enhance(context.Background(), "query three")
	assert.Equal(t, after, calls.Load())
	assert.Equal(t, "query three", variants[0])
	assert.Equal(t, breaker.StateOpen, registry.GetOrCreate(DependencyAutocomplete).State())
}

func TestEnhanceDisabledAutocompleteSkipsEndpoint(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	e := NewEnhancer(Config{
		AutocompleteBaseURL: srv.URL,
		DisableAutocomplete: true,
	}, nil, logger.NewTestLogger(t))

	variants := e.Enhance(context.Background(), "kubernetes")
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, "kubernetes", variants[0])
	assert.Contains(t, variants, "what is kubernetes")

	got := e.Suggestions(context.Background(), "kubernetes", 5)
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, got)
}

// ==========================
// Suggestions Tests
// ==========================

func TestSuggestionsHonorsLimit(t *testing.T) {
	srv := autocompleteServer(t, "redis caching", "redis cluster", "redis streams")

	e := newTestEnhancer(t, srv.URL, nil)
	got := e.Suggestions(context.Background(), "redis", 2)
	assert.Equal(t, []string{"redis caching", "redis cluster"}, got)
}

func TestSuggestionsEmptyPrefix(t *testing.T) {
	e := newTestEnhancer(t, "http://unused.invalid", nil)
	got := e.Suggestions(context.Background(), "   ", 5)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSuggestionsFailureReturnsEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newTestEnhancer(t, srv.URL, nil)
	got := e.Suggestions(context.Background(), "redis", 5)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

// ==========================
// Expansion Tests
// ==========================

func TestSemanticExpansions(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "plain query gets question forms",
			query: "caching",
			want:  []string{"what is caching", "how to caching"},
		},
		{
			name:  "question keeps broader and guide forms",
			query: "how raft works?",
			want:  []string{"how raft", "how raft works? guide"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, semanticExpansions(tt.query))
		})
	}
}

func TestDomainExpansion(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "tech", query: "rest api design", want: []string{"rest api design programming guide"}},
		{name: "business", query: "go to market strategy", want: []string{"go to market strategy analysis"}},
		{name: "academic", query: "qualitative research methods", want: []string{"qualitative research methods research paper"}},
		{name: "health", query: "flu symptoms", want: []string{"flu symptoms medical information"}},
		{name: "tech wins over academic", query: "api research", want: []string{"api research programming guide"}},
		{name: "no match", query: "cooking pasta", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domainExpansion(tt.query))
		})
	}
}

func TestTemporalExpansion(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "trigger gets year suffix", query: "ai trends", want: []string{"ai trends 2026"}},
		{name: "existing year suppresses", query: "ai trends 2025", want: nil},
		{name: "temporal marker suppresses", query: "latest ai news", want: nil},
		{name: "marker matches whole words only", query: "knowledge technology", want: []string{"knowledge technology 2026"}},
		{name: "no trigger", query: "cooking pasta", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, temporalExpansion(tt.query, now))
		})
	}
}
