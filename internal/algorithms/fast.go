package algorithms

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"market_validator/internal/core"
	"market_validator/internal/executor"
	"market_validator/internal/policy"
	"market_validator/pkg/telemetry"
)

// ErrCountMismatch is returned when the bulk permutation-count sweep does not
// produce exactly one count per input strategy. It signals a defect in the
// sweep itself (a strategy silently dropped or duplicated), not a precondition
// violation a caller could have avoided, so it is reported separately from
// ErrInvalidArgument. Grounded on FastMastersPermutationPolicy::sanityCheckCounts.
var ErrCountMismatch = errors.New("algorithms: permutation count sanity check failed")

// FastOneSweep implements the one-sweep stepwise procedure (spec §4.8.2):
// a single Monte Carlo sweep computes, for every strategy, how many draws'
// worst-to-best running maximum met or exceeded that strategy's baseline,
// and the step-down loop then reads those precomputed counts instead of
// re-running permutations at every step. Grounded on
// MastersRomanoWolfImproved::run and computeAllPermutationCounts.
type FastOneSweep struct{}

// Run implements StepwiseAlgorithm.
func (FastOneSweep) Run(ctx context.Context, input Input) (*core.PermutationTestResult, error) {
	if err := validatePreconditions(input); err != nil {
		return nil, err
	}

	result := core.NewPermutationTestResult()
	if len(input.Contexts) == 0 {
		return result, nil
	}

	counts, err := computeAllPermutationCounts(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := sanityCheckCounts(counts, input.Contexts); err != nil {
		return nil, err
	}

	lastAdj := decimal.Zero
	for _, sc := range input.Contexts {
		combinedHash := sc.Strategy.Identity().CombinedHash()
		count := counts[combinedHash]
		telemetry.GetGlobalMetrics().RecordExceedance(ctx, int64(count))

		p := input.PValuePolicy.ComputePermutationPValue(count-1, input.NumPermutations)
		adj := decimal.Max(p, lastAdj)
		result.Set(combinedHash, adj)
		sc.Resolve(adj)
		notifyExceedanceRate(input, sc.Strategy, count, input.NumPermutations)

		if adj.LessThanOrEqual(input.Alpha) {
			telemetry.GetGlobalMetrics().RecordStrategyPromoted(ctx)
			lastAdj = adj
			continue
		}

		// Stop: every still-unresolved strategy from here to the worst
		// inherits this adjusted p-value (spec §4.8, step-down propagation).
		found := false
		for _, rest := range input.Contexts {
			if rest == sc {
				found = true
				continue
			}
			if !found {
				continue
			}
			if rest.IsResolved() {
				continue
			}
			rest.Resolve(adj)
			result.Set(rest.Strategy.Identity().CombinedHash(), adj)
		}
		break
	}

	return result, nil
}

// computeAllPermutationCounts runs one Monte Carlo sweep over every strategy
// in input.Contexts at once. For each permutation it computes the maximum
// permuted statistic seen across all strategies so far, scanning worst-to-best
// (ascending baseline), and increments every strategy whose baseline the
// running maximum has met or exceeded at the point it is reached. Duplicate
// combined hashes are explicitly permitted (spec §4.8.2 edge cases): every
// physical strategy still feeds the running max, but a given hash's counter
// is incremented at most once per permutation, tracked by a per-permutation
// "already counted" marker keyed by the hash's slot in uniqueHashes. Each
// count starts at 1 for the unpermuted draw.
func computeAllPermutationCounts(ctx context.Context, input Input) (map[uint64]uint32, error) {
	n := len(input.Contexts)
	worstToBest := make([]*core.StrategyContext, n)
	copy(worstToBest, input.Contexts)
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		worstToBest[i], worstToBest[j] = worstToBest[j], worstToBest[i]
	}

	strategies := make([]*core.Strategy, n)
	slotOf := make([]int, n)
	uniqueHashes := make([]uint64, 0, n)
	slotOfHash := make(map[uint64]int, n)
	for i, sc := range worstToBest {
		strategies[i] = sc.Strategy
		hash := sc.Strategy.Identity().CombinedHash()
		slot, ok := slotOfHash[hash]
		if !ok {
			slot = len(uniqueHashes)
			slotOfHash[hash] = slot
			uniqueHashes = append(uniqueHashes, hash)
		}
		slotOf[i] = slot
	}

	counters := make([]atomic.Uint32, len(uniqueHashes))
	for i := range counters {
		counters[i].Store(1)
	}

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
		permStats, err := exec.RunOne(ctx, p, strategies)
		if err != nil {
			return err
		}

		runningMax := policy.UninformativeSentinel()
		countedThisPerm := make([]bool, len(uniqueHashes))
		for i, sc := range worstToBest {
			if permStats[i].GreaterThan(runningMax) {
				runningMax = permStats[i]
			}
			slot := slotOf[i]
			if countedThisPerm[slot] {
				continue
			}
			if runningMax.GreaterThanOrEqual(sc.BaselineStatistic) {
				counters[slot].Add(1)
				countedThisPerm[slot] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[uint64]uint32, len(uniqueHashes))
	for slot, hash := range uniqueHashes {
		counts[hash] = counters[slot].Load()
	}

	return counts, nil
}

// sanityCheckCounts validates that counts has exactly one entry per distinct
// combined hash among contexts: no missing hash, no unexpected extra key,
// matching sizes. Duplicate combined hashes collapse to a single entry by
// design (spec §4.8.2), so the comparison is against the number of distinct
// hashes, not the number of strategies. Grounded on
// FastMastersPermutationPolicy::sanityCheckCounts, which throws a
// logic_error on any of these three mismatches.
func sanityCheckCounts(counts map[uint64]uint32, contexts []*core.StrategyContext) error {
	seen := make(map[uint64]bool, len(contexts))
	for _, sc := range contexts {
		hash := sc.Strategy.Identity().CombinedHash()
		if _, ok := counts[hash]; !ok {
			return fmt.Errorf("%w: missing count for strategy %q", ErrCountMismatch, sc.Strategy.Name)
		}
		seen[hash] = true
	}
	if len(counts) != len(seen) {
		return fmt.Errorf("%w: expected %d distinct-hash counts, got %d", ErrCountMismatch, len(seen), len(counts))
	}
	for hash := range counts {
		if !seen[hash] {
			return fmt.Errorf("%w: unexpected count for unknown combined hash %d", ErrCountMismatch, hash)
		}
	}
	return nil
}
