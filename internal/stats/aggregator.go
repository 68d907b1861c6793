package stats

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market_validator/internal/core"
)

// sideTableEntry is the diagnostic side table mapping combined_hash to the
// last instance UUID and pattern hash seen for it. It is intentionally a
// borrow-only snapshot of scalars (never a pointer back to the strategy) so
// it cannot form the cyclic diagnostic map the original source risked (spec
// §9 "cyclic diagnostic maps"); the orchestrator, not this table, owns
// strategies.
type sideTableEntry struct {
	lastUUID    uuid.UUID
	patternHash uint64
}

type bucketKey struct {
	hash   uint64
	metric Metric
}

// StatsAggregator is the thread-safe, combined-hash-keyed store of per
// (strategy, metric) accumulators. It implements Observer so it can be
// attached directly to an ObserverHub.
type StatsAggregator struct {
	mu       sync.RWMutex
	buckets  map[bucketKey]*Accumulator
	sideTbl  map[uint64]sideTableEntry
}

// NewStatsAggregator returns an empty aggregator.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{
		buckets: make(map[bucketKey]*Accumulator),
		sideTbl: make(map[uint64]sideTableEntry),
	}
}

// Add acquires a write lock long enough to insert the bucket if absent and
// to update the side table, then updates the accumulator under its own
// fine-grained lock (the accumulator's internal mutex) — the aggregator's
// own lock is released before Accumulator.Add runs.
func (a *StatsAggregator) Add(strategy *core.Strategy, metric Metric, value decimal.Decimal) {
	combinedHash := strategy.Identity().CombinedHash()
	key := bucketKey{hash: combinedHash, metric: metric}

	acc := a.bucketFor(key, strategy)
	acc.Add(value)
}

func (a *StatsAggregator) bucketFor(key bucketKey, strategy *core.Strategy) *Accumulator {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.buckets[key]
	if !ok {
		acc = NewAccumulator()
		a.buckets[key] = acc
	}
	if strategy != nil {
		a.sideTbl[key.hash] = sideTableEntry{
			lastUUID:    strategy.Identity().InstanceUUID(),
			patternHash: strategy.PatternHash(),
		}
	}
	return acc
}

// Update implements Observer: routes a completed permutation's outcome into
// the PERMUTED_TEST_STATISTIC, NUM_TRADES and NUM_BARS_IN_TRADES buckets.
func (a *StatsAggregator) Update(outcome *core.BacktestOutcome, statistic decimal.Decimal) {
	_, strategy, ok := core.ExtractFrom(outcome)
	if !ok {
		return
	}
	a.Add(strategy, PermutedTestStatistic, statistic)
	a.Add(strategy, NumTrades, decimal.NewFromInt(int64(outcome.NumTradesIncludingOpen())))
	a.Add(strategy, NumBarsInTrades, decimal.NewFromInt(int64(outcome.NumBarsInTradesIncludingOpen())))
}

// UpdateMetric implements Observer: routes a post-hoc per-strategy metric
// (e.g. the final baseline-exceedance rate) into its bucket.
func (a *StatsAggregator) UpdateMetric(strategy *core.Strategy, metric Metric, value decimal.Decimal) {
	a.Add(strategy, metric, value)
}

// bucketByHash looks up a bucket directly by combined hash, recomputing
// nothing — used by getters that already hold a strategy reference and must
// go through StrategyIdentity themselves.
func (a *StatsAggregator) bucketByHash(hash uint64, metric Metric) (*Accumulator, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.buckets[bucketKey{hash: hash, metric: metric}]
	return acc, ok
}

// Min returns the minimum recorded value for (strategy, metric).
func (a *StatsAggregator) Min(strategy *core.Strategy, metric Metric) (float64, bool) {
	acc, ok := a.bucketByHash(strategy.Identity().CombinedHash(), metric)
	if !ok {
		return 0, false
	}
	return acc.Min()
}

// Max returns the maximum recorded value for (strategy, metric).
func (a *StatsAggregator) Max(strategy *core.Strategy, metric Metric) (float64, bool) {
	acc, ok := a.bucketByHash(strategy.Identity().CombinedHash(), metric)
	if !ok {
		return 0, false
	}
	return acc.Max()
}

// Median returns the median recorded value for (strategy, metric).
func (a *StatsAggregator) Median(strategy *core.Strategy, metric Metric) (float64, bool) {
	acc, ok := a.bucketByHash(strategy.Identity().CombinedHash(), metric)
	if !ok {
		return 0, false
	}
	return acc.Median()
}

// StdDev returns the standard deviation for (strategy, metric).
func (a *StatsAggregator) StdDev(strategy *core.Strategy, metric Metric) (float64, bool) {
	acc, ok := a.bucketByHash(strategy.Identity().CombinedHash(), metric)
	if !ok {
		return 0, false
	}
	return acc.StdDev()
}

// Count returns the number of recorded values for (strategy, metric).
func (a *StatsAggregator) Count(strategy *core.Strategy, metric Metric) uint64 {
	acc, ok := a.bucketByHash(strategy.Identity().CombinedHash(), metric)
	if !ok {
		return 0
	}
	return acc.Count()
}

// Clear resets the aggregator to empty, required between distinct runs.
func (a *StatsAggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buckets = make(map[bucketKey]*Accumulator)
	a.sideTbl = make(map[uint64]sideTableEntry)
}

// SideTableSnapshot returns a shallow copy of the diagnostic side table,
// keyed by combined hash, for diagnostics dumps.
func (a *StatsAggregator) SideTableSnapshot() map[uint64]struct {
	LastUUID    uuid.UUID
	PatternHash uint64
} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[uint64]struct {
		LastUUID    uuid.UUID
		PatternHash uint64
	}, len(a.sideTbl))
	for k, v := range a.sideTbl {
		out[k] = struct {
			LastUUID    uuid.UUID
			PatternHash uint64
		}{LastUUID: v.lastUUID, PatternHash: v.patternHash}
	}
	return out
}
