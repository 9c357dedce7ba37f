// internal/pipeline/guard_test.go
package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/llmbackend1/internal/breaker"
	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/cost"
)

func newGuardFixtures(t *testing.T, costCfg cost.Config) (*breaker.Registry, *cost.Tracker) {
	t.Helper()
	log := logger.NewTestLogger(t)
	return breaker.NewRegistry(breaker.Config{}, log), cost.NewTracker(costCfg, nil, log)
}

func TestRunGuardBillsSuccessesToFingerprint(t *testing.T) {
	breakers, costs := newGuardFixtures(t, cost.DefaultConfig())
	guard := newRunGuard(breakers, costs, "fp-123")

	require.NoError(t, guard.Allow("brave_search"))
	guard.Success("brave_search", 1)
	require.NoError(t, guard.Allow("ollama_llm"))
	guard.Success("ollama_llm", 420)

	records := guard.costRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "brave_search", records[0].Provider)
	assert.Equal(t, 1, records[0].Units)
	assert.Equal(t, "fp-123", records[0].Fingerprint)
	assert.Equal(t, 420, records[1].Units)
	assert.InDelta(t, 0.005, guard.total(), 0.0001)

	// the tracker saw the same spend
	assert.Len(t, costs.TodayRecords("brave_search"), 1)
}

func TestRunGuardRejectsWhenBreakerOpens(t *testing.T) {
	breakers, costs := newGuardFixtures(t, cost.DefaultConfig())
	breakers.Configure("zenrows_fetch", breaker.Config{
		FailureThreshold: 2,
		Window:           time.Minute,
		OpenDuration:     time.Minute,
	})
	guard := newRunGuard(breakers, costs, "fp-open")

	require.NoError(t, guard.Allow("zenrows_fetch"))
	guard.Failure("zenrows_fetch", fmt.Errorf("upstream 502"))
	require.NoError(t, guard.Allow("zenrows_fetch"))
	guard.Failure("zenrows_fetch", fmt.Errorf("upstream 502"))

	err := guard.Allow("zenrows_fetch")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCircuitOpen, errors.CodeOf(err))
	assert.True(t, errors.IsGuardRejection(err))
	assert.Empty(t, guard.costRecords())
}

func TestRunGuardRejectsWhenBudgetExhausted(t *testing.T) {
	breakers, costs := newGuardFixtures(t, cost.Config{
		Rates:          map[string]float64{"serpapi_search": 0.02},
		DailyBudget:    100,
		MonthlyBudgets: map[string]float64{"serpapi_search": 0.05},
		AlertThreshold: 0.8,
	})
	guard := newRunGuard(breakers, costs, "fp-budget")

	// two calls fit under the 0.05 monthly cap, the third does not
	for i := 0; i < 2; i++ {
		require.NoError(t, guard.Allow("serpapi_search"))
		guard.Success("serpapi_search", 1)
	}

	err := guard.Allow("serpapi_search")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBudgetExceeded, errors.CodeOf(err))
	assert.True(t, errors.IsGuardRejection(err))

	// the denied call was never billed
	assert.InDelta(t, 0.04, guard.total(), 0.0001)
}

func TestRunGuardFailuresAreNeverBilled(t *testing.T) {
	breakers, costs := newGuardFixtures(t, cost.DefaultConfig())
	guard := newRunGuard(breakers, costs, "fp-fail")

	require.NoError(t, guard.Allow("brave_search"))
	guard.Failure("brave_search", fmt.Errorf("timeout"))

	assert.Zero(t, guard.total())
	assert.Empty(t, costs.TodayRecords("brave_search"))
}

func TestRunGuardWithoutBackendsAdmitsEverything(t *testing.T) {
	guard := newRunGuard(nil, nil, "fp-bare")

	require.NoError(t, guard.Allow("anything"))
	guard.Success("anything", 3)
	guard.Failure("anything", fmt.Errorf("ignored"))

	assert.Zero(t, guard.total())
	assert.Empty(t, guard.costRecords())
}
