// cmd/tools/provider-generator/main.go
// provider-generator scaffolds a new provider client package from a registry
// entry: the client with its rate-limited HTTP plumbing, a test file with an
// httptest fake, and a README describing the wiring.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/puneetrinity/llmbackend1/pkg/registry"
)

// ProviderData holds data for templates
type ProviderData struct {
	Name           string
	ID             string
	PackageName    string
	TypeName       string
	Kind           string
	TimeoutLiteral string
	RatePerSecond  float64
	CostPerCall    float64
	MonthlyBudget  float64
	Tags           []string
}

// upperFirst makes the first character uppercase
func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// upperCamel turns a snake_case id into an exported type name
func upperCamel(id string) string {
	parts := strings.Split(id, "_")
	for i, part := range parts {
		parts[i] = upperFirst(part)
	}
	return strings.Join(parts, "")
}

// goDuration renders a registry timeout string as a Go duration expression
func goDuration(timeout string) string {
	d, err := time.ParseDuration(timeout)
	if err != nil || d <= 0 {
		return "10 * time.Second"
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%d * time.Second", d/time.Second)
	}
	return fmt.Sprintf("%d * time.Millisecond", d/time.Millisecond)
}

// tag renders a JSON struct tag for generated wire types
func tag(name string) string {
	return fmt.Sprintf("`json:\"%s\"`", name)
}

const clientTemplate = `// internal/services/{{ .PackageName }}/client.go
package {{ .PackageName }}

import (
{{- if eq .Kind "synthesis" }}
	"bytes"
{{- end }}
	"context"
{{- if ne .Kind "fetch" }}
	"encoding/json"
{{- end }}
	"fmt"
	"io"
	"net/http"
{{- if ne .Kind "synthesis" }}
	"net/url"
{{- end }}
{{- if eq .Kind "search" }}
	"strconv"
{{- end }}
{{- if eq .Kind "fetch" }}
	"strings"
{{- end }}
	"time"

	commonhttp "github.com/puneetrinity/llmbackend1/internal/common/http"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
{{- if ne .Kind "enhance" }}
	"github.com/puneetrinity/llmbackend1/internal/models"
{{- end }}
)

// Dependency is the key used by the breaker registry and the cost tracker.
const Dependency = "{{ .ID }}"

type Config struct {
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// {{ .TypeName }}Client calls the {{ .Name }} API.
type {{ .TypeName }}Client struct {
	config Config
	client *commonhttp.RateLimitedClient
	logger logger.Logger
}

func New{{ .TypeName }}Client(config Config, log logger.Logger) *{{ .TypeName }}Client {
	if config.Timeout <= 0 {
		config.Timeout = {{ .TimeoutLiteral }}
	}
	return &{{ .TypeName }}Client{
		config: config,
		client: commonhttp.NewRateLimitedClient(config.Timeout, config.RatePerSecond, config.Burst),
		logger: log.WithFields(map[string]interface{}{"provider": Dependency}),
	}
}

func (c *{{ .TypeName }}Client) Name() string {
	return Dependency
}
{{ if eq .Kind "search" }}
type apiResponse struct {
	Results []struct {
		URL     string {{ tag "url" }}
		Title   string {{ tag "title" }}
		Snippet string {{ tag "snippet" }}
	} {{ tag "results" }}
}

// Search queries {{ .Name }} and maps the response into search hits.
func (c *{{ .TypeName }}Client) Search(ctx context.Context, query string, count int) ([]models.SearchHit, error) {
	endpoint, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid {{ .ID }} base url: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create {{ .ID }} request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	// TODO: set the auth header {{ .Name }} expects.

	body, err := c.execute(req)
	if err != nil {
		return nil, err
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode {{ .ID }} response: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(decoded.Results))
	for i, result := range decoded.Results {
		if result.URL == "" {
			continue
		}
		hits = append(hits, models.SearchHit{
			URL:      result.URL,
			Title:    result.Title,
			Snippet:  result.Snippet,
			Provider: Dependency,
			Rank:     i + 1,
		})
	}

	c.logger.Debug("{{ .ID }} search completed", map[string]interface{}{
		"query":   query,
		"results": len(hits),
	})
	return hits, nil
}
{{ else if eq .Kind "fetch" }}
// Fetch retrieves one page through {{ .Name }}.
func (c *{{ .TypeName }}Client) Fetch(ctx context.Context, pageURL string) (*models.FetchedSource, error) {
	endpoint, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid {{ .ID }} base url: %w", err)
	}
	params := endpoint.Query()
	params.Set("url", pageURL)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create {{ .ID }} request: %w", err)
	}
	// TODO: set the auth parameter {{ .Name }} expects.

	body, err := c.execute(req)
	if err != nil {
		return nil, err
	}

	content := string(body)
	c.logger.Debug("{{ .ID }} fetch completed", map[string]interface{}{
		"url":   pageURL,
		"bytes": len(body),
	})
	return &models.FetchedSource{
		URL:              pageURL,
		Content:          content,
		WordCount:        len(strings.Fields(content)),
		SourceType:       models.SourceTypeGeneral,
		ExtractionMethod: Dependency,
		FetchStatus:      models.FetchStatusOK,
	}, nil
}
{{ else if eq .Kind "synthesis" }}
type apiResponse struct {
	Text string {{ tag "text" }}
}

// Generate produces an answer for the prompt.
func (c *{{ .TypeName }}Client) Generate(ctx context.Context, prompt string) (*models.SynthesisResult, error) {
	payload, err := json.Marshal(map[string]interface{}{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal {{ .ID }} request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create {{ .ID }} request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// TODO: set the auth header {{ .Name }} expects.

	body, err := c.execute(req)
	if err != nil {
		return nil, err
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode {{ .ID }} response: %w", err)
	}

	c.logger.Debug("{{ .ID }} generation completed", map[string]interface{}{
		"answer_chars": len(decoded.Text),
	})
	return &models.SynthesisResult{Answer: decoded.Text}, nil
}
{{ else }}
type apiResponse struct {
	Suggestions []string {{ tag "suggestions" }}
}

// Variants expands a query into related phrasings.
func (c *{{ .TypeName }}Client) Variants(ctx context.Context, query string) ([]string, error) {
	endpoint, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid {{ .ID }} base url: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", query)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create {{ .ID }} request: %w", err)
	}

	body, err := c.execute(req)
	if err != nil {
		return nil, err
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode {{ .ID }} response: %w", err)
	}

	c.logger.Debug("{{ .ID }} variants completed", map[string]interface{}{
		"query":    query,
		"variants": len(decoded.Suggestions),
	})
	return decoded.Suggestions, nil
}
{{ end }}
func (c *{{ .TypeName }}Client) execute(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("{{ .ID }} request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read {{ .ID }} response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("{{ .ID }} returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
`

const testTemplate = `// internal/services/{{ .PackageName }}/client_test.go
package {{ .PackageName }}

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/llmbackend1/internal/common/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *{{ .TypeName }}Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New{{ .TypeName }}Client(Config{APIKey: "test-key", BaseURL: srv.URL}, logger.NewTestLogger(t))
}
{{ if eq .Kind "search" }}
func TestSearchMapsResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang generics", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"url": "https://example.com/a", "title": "Example", "snippet": "First hit"},
			},
		})
	})

	hits, err := client.Search(context.Background(), "golang generics", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://example.com/a", hits[0].URL)
	assert.Equal(t, Dependency, hits[0].Provider)
	assert.Equal(t, 1, hits[0].Rank)
}

func TestSearchSurfacesUpstreamErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exhausted", http.StatusTooManyRequests)
	})

	_, err := client.Search(context.Background(), "golang generics", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
{{ else if eq .Kind "fetch" }}
func TestFetchReturnsContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://example.com/article", r.URL.Query().Get("url"))
		w.Write([]byte("extracted article text"))
	})

	source, err := client.Fetch(context.Background(), "https://example.com/article")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/article", source.URL)
	assert.Equal(t, "extracted article text", source.Content)
	assert.Equal(t, 3, source.WordCount)
}

func TestFetchSurfacesUpstreamErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	})

	_, err := client.Fetch(context.Background(), "https://example.com/article")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
{{ else if eq .Kind "synthesis" }}
func TestGenerateReturnsAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"text": "The answer."})
	})

	result, err := client.Generate(context.Background(), "Summarize the sources.")
	require.NoError(t, err)
	assert.Equal(t, "The answer.", result.Answer)
}

func TestGenerateSurfacesUpstreamErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})

	_, err := client.Generate(context.Background(), "Summarize the sources.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
{{ else }}
func TestVariantsReturnsSuggestions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"suggestions": []string{"golang tutorial", "golang generics"},
		})
	})

	variants, err := client.Variants(context.Background(), "golang")
	require.NoError(t, err)
	assert.Equal(t, []string{"golang tutorial", "golang generics"}, variants)
}

func TestVariantsSurfacesUpstreamErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	_, err := client.Variants(context.Background(), "golang")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
{{ end }}`

const readmeTemplate = `# {{ .Name }} Provider

## Registry Entry
- **ID**: {{ .ID }}
- **Kind**: {{ .Kind }}
- **Cost per call**: ${{ .CostPerCall }}
{{- if .MonthlyBudget }}
- **Monthly budget**: ${{ .MonthlyBudget }}
{{- end }}
{{- if .RatePerSecond }}
- **Rate limit**: {{ .RatePerSecond }}/s
{{- end }}
{{- if .Tags }}
- **Tags**: {{ range $i, $tag := .Tags }}{{ if $i }}, {{ end }}{{ $tag }}{{ end }}
{{- end }}

## Wiring

The client calls the provider through the shared rate-limited HTTP client and
reports itself under the dependency key ` + "`{{ .ID }}`" + `, so the circuit
breaker and the cost tracker pick it up with no extra configuration beyond
the registry entry.

` + "```go" + `
client := {{ .PackageName }}.New{{ .TypeName }}Client({{ .PackageName }}.Config{
    APIKey:        cfg.APIKey,
    BaseURL:       cfg.BaseURL,
    RatePerSecond: {{ .RatePerSecond }},
}, log)
` + "```" + `

## Next Steps
1. Replace the TODO auth markers in client.go with the provider's real scheme.
2. Adjust the wire types to the provider's response format.
3. Extend client_test.go with provider-specific edge cases.
4. Enable the provider in configs/provider-registry.json.
`

func main() {
	providerID := flag.String("provider", "", "Provider ID from the registry (e.g. bing_search)")
	outputDir := flag.String("output", "./internal/services", "Output directory for the generated package")
	registryPath := flag.String("registry", "configs/provider-registry.json", "Path to the provider registry file")
	flag.Parse()

	if *providerID == "" {
		fmt.Println("Usage: provider-generator --provider <id> [--output <dir>] [--registry <path>]")
		fmt.Println("\nExample:")
		fmt.Println("  go run cmd/tools/provider-generator/main.go --provider bing_search")
		os.Exit(1)
	}

	reg, err := registry.Load(*registryPath)
	if err != nil {
		fmt.Printf("Error loading registry from %s: %v\n", *registryPath, err)
		os.Exit(1)
	}
	if err := reg.Validate(); err != nil {
		fmt.Printf("Registry validation failed: %v\n", err)
		os.Exit(1)
	}

	provider, ok := reg.Find(*providerID)
	if !ok {
		fmt.Printf("Provider '%s' not found in registry %s\n", *providerID, *registryPath)
		os.Exit(1)
	}

	data := ProviderData{
		Name:           provider.DisplayName,
		ID:             provider.ID,
		PackageName:    strings.ReplaceAll(provider.ID, "_", ""),
		TypeName:       upperCamel(provider.ID),
		Kind:           provider.Kind,
		TimeoutLiteral: goDuration(provider.Timeout),
		RatePerSecond:  provider.RatePerSecond,
		CostPerCall:    provider.CostPerCall,
		MonthlyBudget:  provider.MonthlyBudget,
		Tags:           provider.Tags,
	}

	packageDir := filepath.Join(*outputDir, data.PackageName)
	if err := os.MkdirAll(packageDir, 0755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	funcMap := template.FuncMap{
		"upperFirst": upperFirst,
		"tag":        tag,
	}

	templates := map[string]string{
		"client.go":      clientTemplate,
		"client_test.go": testTemplate,
		"README.md":      readmeTemplate,
	}

	for filename, tmplStr := range templates {
		tmpl, err := template.New(filename).Funcs(funcMap).Parse(tmplStr)
		if err != nil {
			fmt.Printf("Error parsing template %s: %v\n", filename, err)
			continue
		}

		filePath := filepath.Join(packageDir, filename)
		file, err := os.Create(filePath)
		if err != nil {
			fmt.Printf("Error creating file %s: %v\n", filePath, err)
			continue
		}

		if err := tmpl.Execute(file, data); err != nil {
			fmt.Printf("Error executing template for %s: %v\n", filename, err)
		}
		file.Close()

		fmt.Printf("✓ Generated %s\n", filePath)
	}

	fmt.Printf("\n✅ Provider scaffold generated at: %s\n", packageDir)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  1. Fill in the provider's auth scheme and wire types in client.go\n")
	fmt.Printf("  2. Extend client_test.go with provider-specific cases\n")
	fmt.Printf("  3. Wire the client into the %s stage\n", data.Kind)
	fmt.Printf("  4. Enable the provider in %s\n", *registryPath)
}
