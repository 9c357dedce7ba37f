// internal/cost/tracker.go
// Package cost tracks provider spend against daily and monthly budgets and
// denies reservations that would cross them. Enforcement is best-effort under
// concurrency; accounting is exact after the fact.
package cost

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/common/metrics"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

const (
	dayFormat   = "2006-01-02"
	monthFormat = "2006-01"

	alertPublishTimeout = 5 * time.Second
)

// ============================================================================
// CONFIG
// ============================================================================

type Config struct {
	// Rates is USD per unit (per call or per request) keyed by provider.
	Rates map[string]float64
	// DailyBudget caps total spend across all providers per UTC day.
	DailyBudget float64
	// MonthlyBudgets caps individual providers per UTC month.
	MonthlyBudgets map[string]float64
	// AlertThreshold is the budget fraction at which an alert fires.
	AlertThreshold float64
}

func DefaultConfig() Config {
	return Config{
		Rates: map[string]float64{
			"brave_search":   0.005,
			"serpapi_search": 0.02,
			"zenrows_fetch":  0.01,
			"ollama_llm":     0.0,
		},
		DailyBudget: 100.0,
		MonthlyBudgets: map[string]float64{
			"zenrows_fetch":  200.0,
			"serpapi_search": 100.0,
		},
		AlertThreshold: 0.8,
	}
}

// ============================================================================
// TRACKER
// ============================================================================

// Tracker keeps one ledger entry per provider, each behind its own mutex so
// providers never contend with each other. The global daily total is an
// aggregate over the entries.
type Tracker struct {
	config Config
	logger logger.Logger
	alerts AlertPublisher

	mu      sync.RWMutex
	entries map[string]*providerEntry

	alertMu       sync.Mutex
	dailyAlertDay string

	now func() time.Time
}

type providerEntry struct {
	mu       sync.Mutex
	provider string

	day        string
	month      string
	daySpent   float64
	monthSpent float64
	dayCalls   int64
	monthCalls int64
	records    []models.CostRecord

	monthlyAlerted bool
}

func NewTracker(config Config, alerts AlertPublisher, log logger.Logger) *Tracker {
	if config.AlertThreshold <= 0 || config.AlertThreshold > 1 {
		config.AlertThreshold = 0.8
	}
	return &Tracker{
		config:  config,
		logger:  log.WithFields(map[string]interface{}{"component": "cost"}),
		alerts:  alerts,
		entries: make(map[string]*providerEntry),
		now:     time.Now,
	}
}

func (t *Tracker) entry(provider string) *providerEntry {
	t.mu.RLock()
	e, ok := t.entries[provider]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[provider]; ok {
		return e
	}
	e = &providerEntry{provider: provider}
	t.entries[provider] = e
	return e
}

// rollLocked resets the windows when the UTC day or month has changed. Must
// be called with the entry mutex held.
func (e *providerEntry) rollLocked(now time.Time) {
	day := now.Format(dayFormat)
	month := now.Format(monthFormat)

	if e.month != month {
		e.month = month
		e.monthSpent = 0
		e.monthCalls = 0
		e.monthlyAlerted = false
	}
	if e.day != day {
		e.day = day
		e.daySpent = 0
		e.dayCalls = 0
		e.records = nil
	}
}

// ============================================================================
// RESERVE / RECORD
// ============================================================================

// EstimatedCost returns the configured rate for one unit of the provider.
// Unknown providers are free.
func (t *Tracker) EstimatedCost(provider string) float64 {
	return t.config.Rates[provider]
}

// Reserve checks whether the estimated spend fits the provider's monthly
// budget and the global daily budget. It returns a budget-exceeded error on
// denial and records nothing; actual spend is recorded only after the call
// succeeds. Two concurrent reservations near the limit may both pass, which
// is tolerated.
func (t *Tracker) Reserve(provider string, estimated float64) error {
	now := t.now().UTC()

	if budget, ok := t.config.MonthlyBudgets[provider]; ok {
		e := t.entry(provider)
		e.mu.Lock()
		e.rollLocked(now)
		monthSpent := e.monthSpent
		e.mu.Unlock()

		if monthSpent+estimated > budget {
			metrics.BudgetDenials.WithLabelValues(provider, "monthly").Inc()
			t.logger.Warn("reservation denied by monthly budget", map[string]interface{}{
				"provider":   provider,
				"monthSpent": monthSpent,
				"estimated":  estimated,
				"budget":     budget,
			})
			return errors.NewBudgetExceededError(provider, "monthly")
		}
	}

	if t.config.DailyBudget > 0 {
		daily := t.dailySpent(now)
		if daily+estimated > t.config.DailyBudget {
			metrics.BudgetDenials.WithLabelValues(provider, "daily").Inc()
			t.logger.Warn("reservation denied by daily budget", map[string]interface{}{
				"provider":   provider,
				"dailySpent": daily,
				"estimated":  estimated,
				"budget":     t.config.DailyBudget,
			})
			return errors.NewBudgetExceededError(provider, "daily")
		}
	}

	return nil
}

// Record adds an actual cost to the rolling windows and fires budget alerts
// when the spend crosses the alert threshold. Alerts fire once per scope per
// window and never block the caller.
func (t *Tracker) Record(rec models.CostRecord) {
	now := t.now().UTC()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}

	e := t.entry(rec.Provider)
	e.mu.Lock()
	e.rollLocked(now)
	e.daySpent += rec.Amount
	e.monthSpent += rec.Amount
	e.dayCalls++
	e.monthCalls++
	e.records = append(e.records, rec)
	monthSpent := e.monthSpent
	alertMonthly := false
	if budget, ok := t.config.MonthlyBudgets[rec.Provider]; ok {
		if !e.monthlyAlerted && monthSpent >= t.config.AlertThreshold*budget {
			e.monthlyAlerted = true
			alertMonthly = true
		}
	}
	e.mu.Unlock()

	if rec.Amount > 0 {
		metrics.ProviderCost.WithLabelValues(rec.Provider).Add(rec.Amount)
	}

	if alertMonthly {
		t.publishAlert(BudgetAlert{
			Scope:     "monthly",
			Provider:  rec.Provider,
			Spent:     monthSpent,
			Budget:    t.config.MonthlyBudgets[rec.Provider],
			Threshold: t.config.AlertThreshold,
			Timestamp: now,
		})
	}

	t.checkDailyAlert(now)
}

func (t *Tracker) checkDailyAlert(now time.Time) {
	if t.config.DailyBudget <= 0 {
		return
	}
	daily := t.dailySpent(now)
	if daily < t.config.AlertThreshold*t.config.DailyBudget {
		return
	}

	day := now.Format(dayFormat)
	t.alertMu.Lock()
	alreadyAlerted := t.dailyAlertDay == day
	if !alreadyAlerted {
		t.dailyAlertDay = day
	}
	t.alertMu.Unlock()
	if alreadyAlerted {
		return
	}

	t.publishAlert(BudgetAlert{
		Scope:     "daily",
		Spent:     daily,
		Budget:    t.config.DailyBudget,
		Threshold: t.config.AlertThreshold,
		Timestamp: now,
	})
}

// publishAlert hands the alert to the publisher on a detached goroutine.
// Publication failures are logged and never surface to the caller.
func (t *Tracker) publishAlert(alert BudgetAlert) {
	t.logger.Warn("budget threshold crossed", map[string]interface{}{
		"scope":    alert.Scope,
		"provider": alert.Provider,
		"spent":    alert.Spent,
		"budget":   alert.Budget,
	})
	if t.alerts == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertPublishTimeout)
		defer cancel()

		if err := t.alerts.PublishBudgetAlert(ctx, alert); err != nil {
			t.logger.Error("budget alert publication failed", map[string]interface{}{
				"scope":    alert.Scope,
				"provider": alert.Provider,
				"error":    err,
			})
		}
	}()
}

// dailySpent sums today's spend across all provider entries.
func (t *Tracker) dailySpent(now time.Time) float64 {
	day := now.Format(dayFormat)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, e := range t.entries {
		e.mu.Lock()
		if e.day == day {
			total += e.daySpent
		}
		e.mu.Unlock()
	}
	return total
}

// ============================================================================
// SUMMARY
// ============================================================================

type ProviderSummary struct {
	Provider      string  `json:"provider"`
	DaySpent      float64 `json:"day_spent"`
	MonthSpent    float64 `json:"month_spent"`
	DayCalls      int64   `json:"day_calls"`
	MonthCalls    int64   `json:"month_calls"`
	MonthlyBudget float64 `json:"monthly_budget,omitempty"`
}

type Summary struct {
	Day         string            `json:"day"`
	DailySpent  float64           `json:"daily_spent"`
	DailyBudget float64           `json:"daily_budget"`
	Providers   []ProviderSummary `json:"providers"`
}

// Summary reports per-provider and total spend for the current UTC windows.
func (t *Tracker) Summary() Summary {
	now := t.now().UTC()
	day := now.Format(dayFormat)

	t.mu.RLock()
	entries := make([]*providerEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	summary := Summary{
		Day:         day,
		DailyBudget: t.config.DailyBudget,
		Providers:   make([]ProviderSummary, 0, len(entries)),
	}
	for _, e := range entries {
		e.mu.Lock()
		e.rollLocked(now)
		ps := ProviderSummary{
			Provider:      e.provider,
			DaySpent:      e.daySpent,
			MonthSpent:    e.monthSpent,
			DayCalls:      e.dayCalls,
			MonthCalls:    e.monthCalls,
			MonthlyBudget: t.config.MonthlyBudgets[e.provider],
		}
		e.mu.Unlock()

		summary.DailySpent += ps.DaySpent
		summary.Providers = append(summary.Providers, ps)
	}
	sort.Slice(summary.Providers, func(i, j int) bool {
		return summary.Providers[i].Provider < summary.Providers[j].Provider
	})
	return summary
}

// TodayRecords returns a copy of today's ledger for one provider.
func (t *Tracker) TodayRecords(provider string) []models.CostRecord {
	now := t.now().UTC()

	e := t.entry(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollLocked(now)

	records := make([]models.CostRecord, len(e.records))
	copy(records, e.records)
	return records
}
