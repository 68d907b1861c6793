package stats

import (
	"sync"

	"github.com/shopspring/decimal"

	"market_validator/internal/core"
)

// Metric is the closed enumeration of statistics the aggregator tracks.
// Adding a metric requires extending this enum, not the aggregator's
// interface (spec §4.5).
type Metric int

const (
	PermutedTestStatistic Metric = iota
	NumTrades
	NumBarsInTrades
	BaselineStatExceedanceRate
)

// Observer receives per-permutation notifications from an ObserverHub. An
// observer's Update callback must never block indefinitely, acquire the
// observer-list lock, or mutate the observer list.
type Observer interface {
	Update(outcome *core.BacktestOutcome, statistic decimal.Decimal)
	UpdateMetric(strategy *core.Strategy, metric Metric, value decimal.Decimal)
}

// ObserverHub is the Subject half of the Observer/Subject pattern: permutation
// workers notify it with (backtest-result, statistic); registered observers
// route that into a StatsAggregator. Grounded on PermutationTestSubject's
// shared_mutex-protected observer vector with two notify overloads.
type ObserverHub struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewObserverHub returns an empty hub.
func NewObserverHub() *ObserverHub {
	return &ObserverHub{}
}

// Attach registers an observer. O(1) amortized.
func (h *ObserverHub) Attach(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// Detach removes a previously attached observer, if present.
func (h *ObserverHub) Detach(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.observers {
		if existing == o {
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			return
		}
	}
}

// Notify is called exactly once per permutation per strategy from the
// worker thread that produced outcome. It takes a shared (read) lock on the
// observer list so concurrent registration is safe without blocking other
// notifiers.
func (h *ObserverHub) Notify(outcome *core.BacktestOutcome, statistic decimal.Decimal) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, o := range h.observers {
		o.Update(outcome, statistic)
	}
}

// NotifyMetric publishes a post-hoc per-strategy metric, used by the stepwise
// algorithms to report values such as the final exceedance rate.
func (h *ObserverHub) NotifyMetric(strategy *core.Strategy, metric Metric, value decimal.Decimal) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, o := range h.observers {
		o.UpdateMetric(strategy, metric, value)
	}
}
