// Package core defines the data model shared across the validator: patterns,
// strategies, securities, portfolios and backtest outcomes.
package core

import (
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Direction is the trade direction a pattern trades.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// OHLCBar is a single bar of a price series.
type OHLCBar struct {
	Timestamp int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// PatternTree is an immutable tree of price/volume/indicator comparisons
// produced by an external parser. The core never inspects its structure; it
// only needs a stable hash and a handful of scalar attributes.
type PatternTree struct {
	hash            uint64
	ProfitTargetPct decimal.Decimal
	StopLossPct     decimal.Decimal
	Dir             Direction
	MaxBarsBack     int
	// Category is an optional family label (e.g. "trend", "momentum")
	// carried by richer pattern descriptions. Empty for patterns that only
	// distinguish by direction. Used solely by ValidationOrchestrator's
	// (category, direction) partitioning (spec §4.10); the core never
	// inspects it otherwise.
	Category string
}

// NewPatternTree constructs a PatternTree with a precomputed hash. Hash
// computation itself (mixing class tags, offsets, and numeric string forms)
// belongs to the external parser; the core only ever consumes the result.
func NewPatternTree(hash uint64, profitTargetPct, stopLossPct decimal.Decimal, dir Direction, maxBarsBack int) *PatternTree {
	return &PatternTree{
		hash:            hash,
		ProfitTargetPct: profitTargetPct,
		StopLossPct:     stopLossPct,
		Dir:             dir,
		MaxBarsBack:     maxBarsBack,
	}
}

// WithCategory sets the pattern family label and returns the same pointer,
// for fluent construction by the external parser.
func (p *PatternTree) WithCategory(category string) *PatternTree {
	p.Category = category
	return p
}

// Hash returns the pattern's stable 64-bit hash.
func (p *PatternTree) Hash() uint64 { return p.hash }

// Strategy pairs a PatternTree with a name and direction. CloneOnto produces
// a new Strategy bound to a different portfolio with an identical pattern
// hash but a fresh instance identity.
type Strategy struct {
	Pattern  *PatternTree
	Name     string
	Dir      Direction
	identity *StrategyIdentity
}

// NewStrategy constructs a Strategy and assigns it a fresh StrategyIdentity.
func NewStrategy(pattern *PatternTree, name string, dir Direction) *Strategy {
	s := &Strategy{Pattern: pattern, Name: name, Dir: dir}
	s.identity = newStrategyIdentity(s)
	return s
}

// PatternHash forwards to the underlying pattern's hash.
func (s *Strategy) PatternHash() uint64 { return s.Pattern.Hash() }

// Identity returns the strategy's identity (combined hash + instance UUID).
func (s *Strategy) Identity() *StrategyIdentity { return s.identity }

// CloneOnto produces a new Strategy sharing the same pattern and name (so
// CombinedHash is unchanged, per invariant I1) but carrying a fresh instance
// UUID for diagnostics. portfolio identifies which worker portfolio the
// clone will run against; binding it to an actual Backtester is the
// executor's job, not this data-model layer's.
func (s *Strategy) CloneOnto(portfolio *Portfolio) *Strategy {
	clone := &Strategy{Pattern: s.Pattern, Name: s.Name, Dir: s.Dir}
	clone.identity = newStrategyIdentity(clone)
	return clone
}

// Security is a read-only time series plus metadata. SyntheticSeriesBuilder
// produces synthetic copies; the original is never mutated.
type Security struct {
	Symbol string
	Bars   []OHLCBar
}

// Portfolio holds exactly one active Security reference that can be
// atomically replaced, reused across permutations by one worker.
type Portfolio struct {
	sec atomic.Pointer[Security]
}

// NewPortfolio constructs an empty portfolio.
func NewPortfolio() *Portfolio {
	return &Portfolio{}
}

// NewPortfolioWithSecurity constructs a portfolio already holding sec.
func NewPortfolioWithSecurity(sec *Security) *Portfolio {
	p := &Portfolio{}
	p.SetSecurity(sec)
	return p
}

// SetSecurity atomically replaces the active security.
func (p *Portfolio) SetSecurity(sec *Security) { p.sec.Store(sec) }

// GetSecurity returns the active security, or nil if none is set.
func (p *Portfolio) GetSecurity() *Security { return p.sec.Load() }

// IsEmpty reports whether the portfolio has no active security.
func (p *Portfolio) IsEmpty() bool { return p.sec.Load() == nil }

// BacktestOutcome is the result of one backtest run: closed-trade history
// plus open positions. It is produced per permutation and discarded after
// statistic extraction and observer notification.
type BacktestOutcome struct {
	Strategy              *Strategy
	ClosedTrades          int
	OpenPositions         int
	BarsInClosedTrades    int
	BarsInOpenPositions   int
	LogProfitFactor       decimal.Decimal
}

// NumTradesIncludingOpen is closed trades plus open position units, per the
// resolved reading of the original DummyBackTester ambiguity (see DESIGN.md).
func (b *BacktestOutcome) NumTradesIncludingOpen() int {
	return b.ClosedTrades + b.OpenPositions
}

// NumBarsInTradesIncludingOpen mirrors NumTradesIncludingOpen for bar counts.
func (b *BacktestOutcome) NumBarsInTradesIncludingOpen() int {
	return b.BarsInClosedTrades + b.BarsInOpenPositions
}

// StrategyContext bundles a strategy with its baseline statistic and a
// mutable exceedance counter. The baseline is immutable once set; Count is
// mutated only by the stepwise algorithms, always via atomic operations so
// it can be read after a barrier that joins all permutation workers.
type StrategyContext struct {
	Strategy          *Strategy
	BaselineStatistic decimal.Decimal
	exceedanceCount   atomic.Uint64
	mu                sync.Mutex
	resolved          bool
	adjustedP         decimal.Decimal
}

// NewStrategyContext creates a context with the exceedance counter seeded at
// 1, representing the unpermuted observed draw (per spec §4.8.2 edge cases).
func NewStrategyContext(strategy *Strategy, baseline decimal.Decimal) *StrategyContext {
	ctx := &StrategyContext{Strategy: strategy, BaselineStatistic: baseline}
	ctx.exceedanceCount.Store(1)
	return ctx
}

// IncrementExceedance bumps the exceedance counter by one, relaxed ordering.
func (c *StrategyContext) IncrementExceedance() { c.exceedanceCount.Add(1) }

// StoreExceedanceCount overwrites the exceedance counter with its final
// value, called once by a stepwise algorithm after tallying a strategy's
// permutation draws.
func (c *StrategyContext) StoreExceedanceCount(n uint64) { c.exceedanceCount.Store(n) }

// ExceedanceCount reads the exceedance counter.
func (c *StrategyContext) ExceedanceCount() uint64 { return c.exceedanceCount.Load() }

// Resolve marks the context as promoted/stopped with its final adjusted
// p-value, guarding against concurrent resolution from the same step.
func (c *StrategyContext) Resolve(adjustedP decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = true
	c.adjustedP = adjustedP
}

// IsResolved reports whether Resolve has already been called.
func (c *StrategyContext) IsResolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// AdjustedP returns the last value passed to Resolve.
func (c *StrategyContext) AdjustedP() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adjustedP
}

// PermutationTestResult is the final map from combined hash to adjusted
// p-value, frozen at the end of the orchestrator run.
type PermutationTestResult struct {
	mu     sync.RWMutex
	values map[uint64]decimal.Decimal
}

// NewPermutationTestResult returns an empty result map.
func NewPermutationTestResult() *PermutationTestResult {
	return &PermutationTestResult{values: make(map[uint64]decimal.Decimal)}
}

// Set records the adjusted p-value for a combined hash.
func (r *PermutationTestResult) Set(combinedHash uint64, p decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[combinedHash] = p
}

// Get returns the adjusted p-value and whether it was present.
func (r *PermutationTestResult) Get(combinedHash uint64) (decimal.Decimal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[combinedHash]
	return v, ok
}

// Len reports the number of entries.
func (r *PermutationTestResult) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

// Each calls fn for every entry. fn must not mutate the result map.
func (r *PermutationTestResult) Each(fn func(combinedHash uint64, p decimal.Decimal)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, v := range r.values {
		fn(k, v)
	}
}
