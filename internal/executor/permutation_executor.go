// Package executor runs the per-permutation procedure: rebuild a synthetic
// portfolio, backtest every strategy under consideration against it, and
// notify the observer hub with each outcome.
package executor

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/fallback"
	"github.com/shopspring/decimal"

	"market_validator/internal/core"
	"market_validator/internal/policy"
	"market_validator/internal/stats"
	"market_validator/internal/synth"
	"market_validator/pkg/telemetry"
)

// workerState is the per-worker-goroutine scratch space described in spec
// §5: an RNG seeded distinctly from other workers, a reusable synthetic
// Security buffer, a Portfolio whose security is atomically reassigned each
// draw, and a cloned Backtester prototype.
type workerState struct {
	rng        *rand.Rand
	portfolio  *core.Portfolio
	builder    *synth.SyntheticSeriesBuilder
	backtester core.Backtester
}

// PermutationExecutor executes one permutation, across every strategy under
// consideration, per spec §4.7.
type PermutationExecutor struct {
	baseline        *core.Security
	nullModel       synth.NullModel
	prototype       core.Backtester
	statisticPolicy policy.PermutationStatistic
	hub             *stats.ObserverHub
	logger          core.ILogger

	pool     sync.Pool
	seed     atomic.Int64
	buildErr atomic.Pointer[error]
}

// NewPermutationExecutor constructs an executor bound to one baseline
// security, null model, strategy statistic policy and observer hub.
// Worker-local scratch state (RNG, synthetic buffer, cloned Backtester) is
// handed out from a sync.Pool tied to the actual goroutine calling RunOne,
// not to the permutation index, so two permutations running concurrently on
// different pool workers never touch the same mutable state (spec §5
// per-thread state; invariants I5/I6). slotCount pre-warms that many
// scratch instances so steady-state concurrency doesn't pay construction
// cost on every draw; the pool still grows beyond it under extra
// concurrency and its excess is reclaimed by the garbage collector.
func NewPermutationExecutor(
	baseline *core.Security,
	nullModel synth.NullModel,
	prototype core.Backtester,
	statisticPolicy policy.PermutationStatistic,
	hub *stats.ObserverHub,
	logger core.ILogger,
	slotCount int,
) *PermutationExecutor {
	e := &PermutationExecutor{
		baseline:        baseline,
		nullModel:       nullModel,
		prototype:       prototype,
		statisticPolicy: statisticPolicy,
		hub:             hub,
		logger:          logger.WithField("component", "permutation_executor"),
	}
	e.pool.New = func() any {
		ws, err := e.newWorkerState()
		if err != nil {
			e.buildErr.Store(&err)
			return nil
		}
		return ws
	}

	if slotCount <= 0 {
		slotCount = 1
	}
	for i := 0; i < slotCount; i++ {
		ws, err := e.newWorkerState()
		if err != nil {
			e.buildErr.Store(&err)
			break
		}
		e.pool.Put(ws)
	}

	return e
}

func (e *PermutationExecutor) newWorkerState() (*workerState, error) {
	builder, err := synth.NewSyntheticSeriesBuilder(e.baseline, e.nullModel)
	if err != nil {
		return nil, err
	}

	seed := e.seed.Add(1)
	return &workerState{
		rng:        rand.New(rand.NewSource(seed*2654435761 + 1)),
		portfolio:  core.NewPortfolio(),
		builder:    builder,
		backtester: e.prototype.Clone(),
	}, nil
}

// acquireState hands out one worker-local scratch instance, exclusive to the
// calling goroutine until releaseState returns it to the pool.
func (e *PermutationExecutor) acquireState() (*workerState, error) {
	v := e.pool.Get()
	if v == nil {
		if errp := e.buildErr.Load(); errp != nil {
			return nil, *errp
		}
		return nil, synth.BuildError
	}
	return v.(*workerState), nil
}

func (e *PermutationExecutor) releaseState(ws *workerState) {
	e.pool.Put(ws)
}

// RunOne executes the full per-permutation procedure identified by
// permutationIndex over strategies, returning the per-strategy statistics in
// the same order as strategies (mirroring the input order, per the fast
// algorithm's sorted_strategy_data mirroring contract). Worker scratch state
// is acquired fresh from the pool for the duration of this call and
// released at the end, so it is never shared between two permutations
// running concurrently on different workers.
func (e *PermutationExecutor) RunOne(ctx context.Context, permutationIndex int, strategies []*core.Strategy) ([]decimal.Decimal, error) {
	ws, err := e.acquireState()
	if err != nil {
		return nil, err
	}
	defer e.releaseState(ws)

	sec, err := ws.builder.ShuffleAndRebuild(ws.rng)
	if err != nil {
		return nil, err
	}
	ws.portfolio.SetSecurity(sec)
	telemetry.GetGlobalMetrics().RecordPermutationCompleted(ctx)

	results := make([]decimal.Decimal, len(strategies))

	// Wrap each per-strategy backtest in a fallback: a single strategy's
	// backtester error degrades that draw to the uninformative sentinel
	// instead of aborting the whole permutation sweep (spec §7
	// UninformativeDraw / ObserverError are non-fatal by design).
	backtestExecutor := failsafe.With[*core.BacktestOutcome](
		fallback.WithResult[*core.BacktestOutcome](nil),
	)

	for i, strategy := range strategies {
		clone := strategy.CloneOnto(ws.portfolio)
		ws.backtester.SetSingleStrategy(clone)

		outcomeResult, execErr := backtestExecutor.GetWithExecution(func(fexec failsafe.Execution[*core.BacktestOutcome]) (*core.BacktestOutcome, error) {
			return ws.backtester.Backtest(ctx, sec)
		})
		telemetry.GetGlobalMetrics().RecordBacktestRun(ctx)
		if execErr != nil {
			e.logger.Warn("observer error: backtest failed, recording uninformative draw", "strategy", clone.Name, "error", execErr)
		}

		var statistic decimal.Decimal
		if outcomeResult == nil {
			statistic = policy.UninformativeSentinel()
			outcomeResult = &core.BacktestOutcome{Strategy: clone}
		} else {
			outcomeResult.Strategy = clone
			statistic = policy.ExtractOrSentinel(e.statisticPolicy, outcomeResult)
		}

		results[i] = statistic
		e.hub.Notify(outcomeResult, statistic)
	}

	return results, nil
}
