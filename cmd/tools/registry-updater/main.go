// cmd/tools/registry-updater/main.go
// registry-updater validates the provider registry file and rewrites it in
// canonical form: providers sorted by id, tags sorted, last_updated
// refreshed. With -check it only reports drift, for CI.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/puneetrinity/llmbackend1/pkg/registry"
)

func main() {
	path := flag.String("path", "configs/provider-registry.json", "Path to the provider registry file")
	check := flag.Bool("check", false, "Validate and report drift without writing")
	flag.Parse()

	reg, err := registry.Load(*path)
	if err != nil {
		fmt.Printf("Error loading registry from %s: %v\n", *path, err)
		os.Exit(1)
	}

	if err := reg.Validate(); err != nil {
		fmt.Printf("Registry validation failed: %v\n", err)
		os.Exit(1)
	}

	if *check {
		original, err := os.ReadFile(*path)
		if err != nil {
			fmt.Printf("Error reading registry file: %v\n", err)
			os.Exit(1)
		}
		canon, err := canonical(reg)
		if err != nil {
			fmt.Printf("Error normalizing registry: %v\n", err)
			os.Exit(1)
		}
		if !bytes.Equal(original, canon) {
			fmt.Printf("Registry %s is valid but not normalized. Run registry-updater -path %s to rewrite it.\n", *path, *path)
			os.Exit(1)
		}
		fmt.Printf("Registry %s is valid and normalized. Found %d providers.\n", *path, len(reg.Providers))
		return
	}

	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	canon, err := canonical(reg)
	if err != nil {
		fmt.Printf("Error normalizing registry: %v\n", err)
		os.Exit(1)
	}

	if err := save(*path, canon); err != nil {
		fmt.Printf("Error writing registry file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s with %d providers.\n", *path, len(reg.Providers))
}

// canonical renders the registry in its normalized on-disk form. The -check
// comparison depends on this being byte-stable.
func canonical(reg *registry.ProviderRegistry) ([]byte, error) {
	sort.Slice(reg.Providers, func(i, j int) bool { return reg.Providers[i].ID < reg.Providers[j].ID })
	for i := range reg.Providers {
		sort.Strings(reg.Providers[i].Tags)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registry: %w", err)
	}
	return append(data, '\n'), nil
}

func save(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
