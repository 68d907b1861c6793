package orchestrator

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"market_validator/internal/core"
	"market_validator/internal/stats"
)

// MonteCarloValidator is the core's public surface (spec §6): construct it
// with a permutation count and algorithm choice, call Run once per strategy
// universe, then query surviving strategies and adjusted p-values. Grounded
// on PALMastersMonteCarloValidation's public iterator/getter surface
// (beginSurvivingStrategies/getStrategyPValue) from original_source.
type MonteCarloValidator struct {
	orchestrator *ValidationOrchestrator

	mu         sync.RWMutex
	result     *core.PermutationTestResult
	strategies []*core.Strategy
	alpha      decimal.Decimal
}

// NewMonteCarloValidator constructs a validator that will run numPermutations
// Monte-Carlo draws per partition step, using the given algorithm.
func NewMonteCarloValidator(numPermutations uint32, algorithm AlgorithmChoice, opts Options) *MonteCarloValidator {
	return &MonteCarloValidator{
		orchestrator: NewValidationOrchestrator(numPermutations, algorithm, opts),
	}
}

// AttachObserver registers an additional Observer on the internal hub.
func (v *MonteCarloValidator) AttachObserver(obs stats.Observer) {
	v.orchestrator.AttachObserver(obs)
}

// Aggregator returns a snapshot-queryable StatsAggregator.
func (v *MonteCarloValidator) Aggregator() *stats.StatsAggregator {
	return v.orchestrator.Aggregator()
}

// Run blocks until the strategy universe has been validated against
// numPermutations synthetic draws per partition. On success it atomically
// replaces the exposed surviving-strategies set; on failure the previously
// published result (if any) is left untouched (spec §7 user-visible
// behavior).
func (v *MonteCarloValidator) Run(
	ctx context.Context,
	baseSecurity *core.Security,
	strategies []*core.Strategy,
	prototype core.Backtester,
	dateRange DateRange,
	alpha decimal.Decimal,
	verbose bool,
	partitionByFamily bool,
) error {
	result, err := v.orchestrator.Run(ctx, baseSecurity, strategies, prototype, dateRange, alpha, verbose, partitionByFamily)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.result = result
	v.strategies = strategies
	v.alpha = alpha
	return nil
}

// SurvivingStrategies returns every strategy whose adjusted p-value is at
// most the alpha supplied to the most recent successful Run, in the order
// they were originally supplied.
func (v *MonteCarloValidator) SurvivingStrategies() []*core.Strategy {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.result == nil {
		return nil
	}
	survivors := make([]*core.Strategy, 0, len(v.strategies))
	for _, s := range v.strategies {
		p, ok := v.result.Get(s.Identity().CombinedHash())
		if ok && p.LessThanOrEqual(v.alpha) {
			survivors = append(survivors, s)
		}
	}
	return survivors
}

// AdjustedPValue returns the adjusted p-value computed for strategy in the
// most recent successful Run.
func (v *MonteCarloValidator) AdjustedPValue(strategy *core.Strategy) (decimal.Decimal, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.result == nil {
		return decimal.Zero, false
	}
	return v.result.Get(strategy.Identity().CombinedHash())
}

// NumSurvivingStrategies mirrors SurvivingStrategies' length without
// allocating a slice, for callers that only need the count.
func (v *MonteCarloValidator) NumSurvivingStrategies() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.result == nil {
		return 0
	}
	count := 0
	for _, s := range v.strategies {
		p, ok := v.result.Get(s.Identity().CombinedHash())
		if ok && p.LessThanOrEqual(v.alpha) {
			count++
		}
	}
	return count
}
