// internal/breaker/registry.go
package breaker

import (
	"sort"
	"sync"

	"github.com/puneetrinity/llmbackend1/internal/common/logger"
)

// Registry hands out one breaker per dependency name, creating them lazily
// with the registered defaults and any per-dependency overrides.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  Config
	overrides map[string]Config
	logger    logger.Logger
}

func NewRegistry(defaults Config, log logger.Logger) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults.withDefaults(),
		overrides: make(map[string]Config),
		logger:    log,
	}
}

// Configure registers a per-dependency override. It must be called before the
// first GetOrCreate for that dependency to take effect.
func (r *Registry) Configure(name string, config Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = config
}

func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	if override, ok := r.overrides[name]; ok {
		config = mergeConfig(r.defaults, override)
	}
	cb = New(name, config, r.logger)
	r.breakers[name] = cb
	return cb
}

// Snapshots returns the current state of every known breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// AnyOpen reports whether any breaker is currently open, for readiness
// degradation signals.
func (r *Registry) AnyOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		if cb.State() == StateOpen {
			return true
		}
	}
	return false
}

// mergeConfig overlays non-zero override fields on the defaults.
func mergeConfig(defaults, override Config) Config {
	merged := defaults
	if override.FailureThreshold > 0 {
		merged.FailureThreshold = override.FailureThreshold
	}
	if override.Window > 0 {
		merged.Window = override.Window
	}
	if override.OpenDuration > 0 {
		merged.OpenDuration = override.OpenDuration
	}
	if override.BackoffFactor >= 1 {
		merged.BackoffFactor = override.BackoffFactor
	}
	if override.MaxOpenDuration > 0 {
		merged.MaxOpenDuration = override.MaxOpenDuration
	}
	return merged
}
