// internal/pipeline/guard.go
package pipeline

import (
	"sync"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	"github.com/puneetrinity/llmbackend1/internal/common/metrics"
	"github.com/puneetrinity/llmbackend1/internal/cost"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

// runGuard fronts every outbound dependency call of one pipeline execution.
// Allow consults the dependency's circuit breaker and reserves budget before
// any network I/O; Success and Failure feed the breaker back and Success
// records the actual spend, attributed to the execution's fingerprint. The
// service packages each accept it through their own Guard interface.
type runGuard struct {
	breakers    *breaker.Registry
	costs       *cost.Tracker
	fingerprint string

	mu      sync.Mutex
	records []models.CostRecord
}

func newRunGuard(breakers *breaker.Registry, costs *cost.Tracker, fingerprint string) *runGuard {
	return &runGuard{breakers: breakers, costs: costs, fingerprint: fingerprint}
}

// Allow returns nil when the breaker admits the call and one unit of spend
// fits the budget. A rejection costs nothing and reaches no network.
func (g *runGuard) Allow(dependency string) error {
	if g.breakers != nil {
		if err := g.breakers.GetOrCreate(dependency).Allow(); err != nil {
			metrics.ProviderCalls.WithLabelValues(dependency, "rejected").Inc()
			return err
		}
	}
	if g.costs != nil {
		if err := g.costs.Reserve(dependency, g.costs.EstimatedCost(dependency)); err != nil {
			metrics.ProviderCalls.WithLabelValues(dependency, "rejected").Inc()
			return err
		}
	}
	return nil
}

// Success closes the loop on an admitted call: the breaker sees a success
// and the actual units consumed (calls for search and fetch, tokens for the
// LLM) are priced and recorded.
func (g *runGuard) Success(dependency string, units int) {
	if g.breakers != nil {
		g.breakers.GetOrCreate(dependency).RecordSuccess()
	}
	metrics.ProviderCalls.WithLabelValues(dependency, "success").Inc()

	if g.costs == nil {
		return
	}
	rec := models.CostRecord{
		Provider:    dependency,
		Amount:      g.costs.EstimatedCost(dependency) * float64(units),
		Units:       units,
		Fingerprint: g.fingerprint,
		Timestamp:   time.Now().UTC(),
	}
	g.costs.Record(rec)

	g.mu.Lock()
	g.records = append(g.records, rec)
	g.mu.Unlock()
}

// Failure feeds the breaker. Failed calls are never billed.
func (g *runGuard) Failure(dependency string, err error) {
	if g.breakers != nil {
		g.breakers.GetOrCreate(dependency).RecordFailure()
	}
	metrics.ProviderCalls.WithLabelValues(dependency, "failure").Inc()
}

// total is the spend charged to this execution so far.
func (g *runGuard) total() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var sum float64
	for _, rec := range g.records {
		sum += rec.Amount
	}
	return sum
}

// costRecords returns a copy of the execution's cost trail for the audit.
func (g *runGuard) costRecords() []models.CostRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.CostRecord(nil), g.records...)
}
