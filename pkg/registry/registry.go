// pkg/registry/registry.go
// Package registry loads and validates the provider registry file, the
// versioned catalog of the external providers the pipeline can call.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Load reads and parses a registry file. It does not validate the contents;
// call Validate on the result before trusting it.
func Load(path string) (*ProviderRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ProviderRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	return &reg, nil
}

// Validate checks the registry against the embedded schema plus the one
// invariant the schema cannot express: provider IDs must be unique.
func (r *ProviderRegistry) Validate() error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(registrySchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid registry: %s", strings.Join(msgs, "; "))
	}

	seen := make(map[string]bool, len(r.Providers))
	for _, p := range r.Providers {
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id: %s", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Enabled returns the enabled providers sorted by ID.
func (r *ProviderRegistry) Enabled() []Provider {
	out := make([]Provider, 0, len(r.Providers))
	for _, p := range r.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByKind returns the enabled providers of one kind sorted by ID.
func (r *ProviderRegistry) ByKind(kind string) []Provider {
	out := make([]Provider, 0, len(r.Providers))
	for _, p := range r.Providers {
		if p.Enabled && p.Kind == kind {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the provider with the given ID, enabled or not.
func (r *ProviderRegistry) Find(id string) (Provider, bool) {
	for _, p := range r.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}
