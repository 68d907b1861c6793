// Package algorithms implements the two interchangeable stepwise
// Monte-Carlo permutation algorithms: the slow, re-shuffling stepwise
// procedure and the fast one-sweep procedure that amortizes the shuffle and
// backtest loop across all strategies at once.
package algorithms

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"market_validator/internal/core"
	"market_validator/internal/executor"
	"market_validator/internal/policy"
	"market_validator/internal/stats"
	"market_validator/internal/synth"
	"market_validator/pkg/telemetry"
)

// ErrInvalidArgument is returned for every precondition violation shared by
// both algorithms: unsorted input, zero permutations, or an empty portfolio.
var ErrInvalidArgument = errors.New("algorithms: invalid argument")

// StepwiseAlgorithm is the common interface both the slow and fast
// procedures satisfy.
type StepwiseAlgorithm interface {
	Run(ctx context.Context, input Input) (*core.PermutationTestResult, error)
}

// Input bundles the common inputs both algorithms share: a strategy set
// sorted descending by baseline statistic, the permutation count, a
// prototype Backtester, the baseline security, a significance level, and
// the collaborators (statistic policy, p-value policy, executor, observer
// hub) needed to actually run permutations.
type Input struct {
	Contexts        []*core.StrategyContext // sorted descending by BaselineStatistic
	NumPermutations uint32
	Prototype       core.Backtester
	BaselineSec     *core.Security
	NullModel       synth.NullModel
	Alpha           decimal.Decimal
	StatisticPolicy policy.PermutationStatistic
	PValuePolicy    policy.PValuePolicy
	Exec            core.Executor
	Hub             *stats.ObserverHub
	Logger          core.ILogger
	// WorkerSlots upper-bounds the number of concurrently reused per-worker
	// scratch spaces the permutation executor keeps. It should match Exec's
	// actual concurrency (e.g. the worker pool's MaxWorkers); 0 defaults to 1.
	WorkerSlots int
}

func validatePreconditions(input Input) error {
	if input.NumPermutations == 0 {
		return ErrInvalidArgument
	}
	if input.BaselineSec == nil {
		return ErrInvalidArgument
	}
	if input.Exec == nil {
		return ErrInvalidArgument
	}
	for i := 1; i < len(input.Contexts); i++ {
		if input.Contexts[i].BaselineStatistic.GreaterThan(input.Contexts[i-1].BaselineStatistic) {
			return ErrInvalidArgument
		}
	}
	return nil
}

// SlowStepwise implements the naive Masters/Romano-Wolf stepwise procedure
// (spec §4.8.1): outer loop best-to-worst, inner Monte Carlo re-run over
// only the currently active set at every step. Grounded on
// MastersRomanoWolf::run.
type SlowStepwise struct{}

// Run implements StepwiseAlgorithm.
func (SlowStepwise) Run(ctx context.Context, input Input) (*core.PermutationTestResult, error) {
	if err := validatePreconditions(input); err != nil {
		return nil, err
	}

	result := core.NewPermutationTestResult()
	if len(input.Contexts) == 0 {
		return result, nil
	}

	lastAdj := decimal.Zero
	active := make(map[*core.StrategyContext]bool, len(input.Contexts))
	for _, c := range input.Contexts {
		active[c] = true
	}

	for _, sc := range input.Contexts {
		combinedHash := sc.Strategy.Identity().CombinedHash()

		if !active[sc] {
			result.Set(combinedHash, lastAdj)
			continue
		}

		activeStrategies := make([]*core.Strategy, 0, len(active))
		for c := range active {
			activeStrategies = append(activeStrategies, c.Strategy)
		}

		exceedCount, err := runStepExceedanceCount(ctx, input, sc, activeStrategies)
		if err != nil {
			return nil, err
		}
		sc.StoreExceedanceCount(uint64(exceedCount))
		telemetry.GetGlobalMetrics().RecordExceedance(ctx, int64(exceedCount))

		// exceedCount already starts at 1 to represent the unpermuted
		// observed draw (spec §4.8.2 edge cases); PValuePolicy's own "+1"
		// correction expects a raw hit count starting at 0, so the offset
		// is undone here to avoid double-counting it.
		p := input.PValuePolicy.ComputePermutationPValue(exceedCount-1, input.NumPermutations)
		adj := decimal.Max(p, lastAdj)
		result.Set(combinedHash, adj)
		sc.Resolve(adj)
		notifyExceedanceRate(input, sc.Strategy, exceedCount, input.NumPermutations)

		if adj.LessThanOrEqual(input.Alpha) {
			telemetry.GetGlobalMetrics().RecordStrategyPromoted(ctx)
			lastAdj = adj
			delete(active, sc)
		} else {
			for c := range active {
				if c != sc {
					c.Resolve(adj)
				}
				result.Set(c.Strategy.Identity().CombinedHash(), adj)
			}
			break
		}
	}

	return result, nil
}

// runStepExceedanceCount runs NumPermutations Monte Carlo draws over
// activeStrategies, each time computing the maximum permuted statistic
// across the active set, and counts how many draws meet or exceed the
// current strategy's baseline. The counter starts at 1 to represent the
// unpermuted observed draw (spec §4.8.2 edge cases, shared by both
// algorithms).
func runStepExceedanceCount(ctx context.Context, input Input, sc *core.StrategyContext, activeStrategies []*core.Strategy) (uint32, error) {
	var exceedCount atomic.Uint32
	exceedCount.Store(1)

	slots := input.WorkerSlots
	if slots <= 0 {
		slots = 1
	}
	exec := executor.NewPermutationExecutor(
		input.BaselineSec,
		input.NullModel,
		input.Prototype,
		input.StatisticPolicy,
		input.Hub,
		input.Logger,
		slots,
	)

	err := input.Exec.ParallelFor(ctx, int(input.NumPermutations), func(ctx context.Context, p int) error {
		stats_, err := exec.RunOne(ctx, p, activeStrategies)
		if err != nil {
			return err
		}

		maxStat := policy.UninformativeSentinel()
		for _, s := range stats_ {
			if s.GreaterThan(maxStat) {
				maxStat = s
			}
		}
		if maxStat.GreaterThanOrEqual(sc.BaselineStatistic) {
			exceedCount.Add(1)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return exceedCount.Load(), nil
}

// notifyExceedanceRate publishes BaselineStatExceedanceRate for a resolved
// strategy: the fraction of permutation draws whose maximum statistic met or
// exceeded the strategy's baseline, counting the unpermuted draw itself.
// Both algorithms publish this metric for parity (see DESIGN.md).
func notifyExceedanceRate(input Input, strategy *core.Strategy, exceedCount, numPermutations uint32) {
	if input.Hub == nil {
		return
	}
	rate := decimal.NewFromInt(int64(exceedCount)).Div(decimal.NewFromInt(int64(numPermutations) + 1))
	input.Hub.NotifyMetric(strategy, stats.BaselineStatExceedanceRate, rate)
}
