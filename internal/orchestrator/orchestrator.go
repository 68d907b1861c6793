// Package orchestrator partitions a strategy universe, dispatches each
// partition to a stepwise Monte-Carlo algorithm, and merges the resulting
// per-partition adjusted p-values into one final surviving-strategy set.
// Grounded on PALMastersMonteCarloValidation::runPermutationTests from
// original_source/libs/statistics/PALMastersMonteCarloValidation.h.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"market_validator/internal/algorithms"
	"market_validator/internal/core"
	"market_validator/internal/policy"
	"market_validator/internal/stats"
	"market_validator/internal/synth"
	apperrors "market_validator/pkg/errors"
	"market_validator/pkg/telemetry"
)

// ErrNoBaselineSecurity and ErrNoStrategies are PreconditionErrors (spec
// §7): the orchestrator refuses to run without both. Both wrap the shared
// apperrors taxonomy so callers can match on the abstract kind as well as
// the concrete reason.
var (
	ErrNoBaselineSecurity = fmt.Errorf("orchestrator: base security is required: %w", apperrors.ErrPreconditionEmptyPortfolio)
	ErrNoStrategies       = fmt.Errorf("orchestrator: no strategies to validate: %w", apperrors.ErrPreconditionMissingBaseline)
)

// AlgorithmChoice selects which StepwiseAlgorithm backs a validator run.
type AlgorithmChoice int

const (
	// Fast is the one-sweep Masters-improved algorithm (spec §4.8.2);
	// the default, since it amortizes the shuffle/backtest loop.
	Fast AlgorithmChoice = iota
	// Slow is the naive re-shuffling Masters/Romano-Wolf algorithm (spec
	// §4.8.1), kept for cross-checking the fast algorithm's output.
	Slow
)

func (c AlgorithmChoice) algorithm() algorithms.StepwiseAlgorithm {
	if c == Slow {
		return algorithms.SlowStepwise{}
	}
	return algorithms.FastOneSweep{}
}

// DateRange bounds the backtest window a prototype Backtester was
// constructed against. The orchestrator never inspects it; it exists purely
// so callers can pass the same range through to diagnostics and logging
// that accompanies a run, mirroring the original's DateRange parameter to
// runPermutationTests.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Options bundles the collaborators a ValidationOrchestrator needs beyond
// the strategy universe itself: the parallel executor, the two pluggable
// policies, the null model, and logging/tracing.
type Options struct {
	Exec            core.Executor
	StatisticPolicy policy.PermutationStatistic
	PValuePolicy    policy.PValuePolicy
	NullModel       synth.NullModel
	// WorkerSlots upper-bounds concurrently reused permutation-executor
	// scratch spaces; should match Exec's real concurrency.
	WorkerSlots int
	Logger      core.ILogger
	// Tracer is optional; when set, Run emits one span per partition
	// (spec's DOMAIN STACK tracing addition). A nil Tracer disables spans.
	Tracer trace.Tracer
}

// familyKey is the partition key: direction alone (the default), or
// (category, direction) when partitionByFamily is requested. Grounded on
// the original's StrategyFamilyPartitioner vs. the plain long/short split.
type familyKey struct {
	category string
	dir      core.Direction
}

// ValidationOrchestrator prepares baseline statistics for a strategy
// universe, partitions it, dispatches each partition to a StepwiseAlgorithm,
// and merges the per-partition adjusted p-value maps (spec §4.10).
type ValidationOrchestrator struct {
	numPermutations uint32
	choice          AlgorithmChoice
	opts            Options
	hub             *stats.ObserverHub
	aggregator      *stats.StatsAggregator
}

// NewValidationOrchestrator constructs an orchestrator bound to numPermutations
// Monte-Carlo draws per partition step and the given algorithm choice. It
// owns its own ObserverHub and StatsAggregator; external observers may be
// attached via AttachObserver.
func NewValidationOrchestrator(numPermutations uint32, choice AlgorithmChoice, opts Options) *ValidationOrchestrator {
	hub := stats.NewObserverHub()
	aggregator := stats.NewStatsAggregator()
	hub.Attach(aggregator)

	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.PValuePolicy == nil {
		opts.PValuePolicy = policy.StandardPValuePolicy{}
	}

	return &ValidationOrchestrator{
		numPermutations: numPermutations,
		choice:          choice,
		opts:            opts,
		hub:             hub,
		aggregator:      aggregator,
	}
}

// AttachObserver forwards an additional observer to the internal
// ObserverHub, per spec §4.10 responsibility 6, so downstream statistics
// land alongside the orchestrator's own aggregator.
func (o *ValidationOrchestrator) AttachObserver(obs stats.Observer) {
	o.hub.Attach(obs)
}

// Aggregator returns the orchestrator's StatsAggregator for snapshot
// queries after a run.
func (o *ValidationOrchestrator) Aggregator() *stats.StatsAggregator {
	return o.aggregator
}

// Run executes the full orchestration procedure (spec §4.10): baseline pass,
// partition, per-partition stepwise dispatch, merge, and final alpha cutoff.
// A failed run returns an error without mutating any previously published
// result; the caller (MonteCarloValidator) is responsible for atomically
// swapping in the new result only on success (spec §7 user-visible
// behavior).
func (o *ValidationOrchestrator) Run(
	ctx context.Context,
	baseSecurity *core.Security,
	strategies []*core.Strategy,
	prototype core.Backtester,
	dateRange DateRange,
	alpha decimal.Decimal,
	verbose bool,
	partitionByFamily bool,
) (*core.PermutationTestResult, error) {
	if baseSecurity == nil {
		return nil, ErrNoBaselineSecurity
	}
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}

	runStart := time.Now()
	metrics := telemetry.GetGlobalMetrics()

	o.aggregator.Clear()

	contexts, err := o.prepareBaseline(ctx, baseSecurity, strategies, prototype)
	if err != nil {
		return nil, err
	}

	partitions := o.partition(contexts, partitionByFamily)

	merged := make(map[uint64]decimal.Decimal, len(contexts))
	for key, partitionContexts := range partitions {
		sort.SliceStable(partitionContexts, func(i, j int) bool {
			return partitionContexts[i].BaselineStatistic.GreaterThan(partitionContexts[j].BaselineStatistic)
		})

		ctxSpan := ctx
		var span trace.Span
		if o.opts.Tracer != nil {
			ctxSpan, span = o.opts.Tracer.Start(ctx, "orchestrator.partition",
				trace.WithAttributes(
					attribute.String("category", key.category),
					attribute.String("direction", key.dir.String()),
					attribute.Int("strategies", len(partitionContexts)),
				))
		}

		if verbose {
			o.opts.Logger.Info("testing strategy family",
				"category", key.category, "direction", key.dir.String(), "count", len(partitionContexts))
		}

		partitionLabel := key.dir.String()
		if key.category != "" {
			partitionLabel = key.category + "/" + partitionLabel
		}
		metrics.SetStrategiesActive(partitionLabel, int64(len(partitionContexts)))

		result, err := o.choice.algorithm().Run(ctxSpan, algorithms.Input{
			Contexts:        partitionContexts,
			NumPermutations: o.numPermutations,
			Prototype:       prototype,
			BaselineSec:     baseSecurity,
			NullModel:       o.opts.NullModel,
			Alpha:           alpha,
			StatisticPolicy: o.opts.StatisticPolicy,
			PValuePolicy:    o.opts.PValuePolicy,
			Exec:            o.opts.Exec,
			Hub:             o.hub,
			Logger:          o.opts.Logger,
			WorkerSlots:     o.opts.WorkerSlots,
		})
		if span != nil {
			span.End()
		}
		if err != nil {
			return nil, err
		}

		var surviving int64
		result.Each(func(hash uint64, p decimal.Decimal) {
			merged[hash] = p
			pf, _ := p.Float64()
			metrics.RecordAdjustedPValue(ctx, partitionLabel, pf)
			if p.LessThanOrEqual(alpha) {
				surviving++
			}
		})
		metrics.SetStrategiesSurviving(partitionLabel, surviving)
	}

	// Populate the final result from the merged map, defaulting any
	// strategy missing an adjusted p-value to 1.0 with a diagnostic
	// warning (spec §4.10 responsibility 4 / I4 completeness).
	final := core.NewPermutationTestResult()
	for _, sc := range contexts {
		hash := sc.Strategy.Identity().CombinedHash()
		p, ok := merged[hash]
		if !ok {
			p = decimal.NewFromInt(1)
			o.opts.Logger.Warn("adjusted p-value not found for strategy, defaulting to 1.0",
				"strategy", sc.Strategy.Name, "combined_hash", hash)
		}
		final.Set(hash, p)
	}

	if verbose {
		o.opts.Logger.Info("validation complete", "strategies", final.Len())
	}

	metrics.RecordRunDuration(ctx, float64(time.Since(runStart).Milliseconds()))

	return final, nil
}

// prepareBaseline runs one baseline backtest per strategy on the real,
// unpermuted data and records its baseline statistic (spec §4.10
// responsibility 1).
func (o *ValidationOrchestrator) prepareBaseline(
	ctx context.Context,
	baseSecurity *core.Security,
	strategies []*core.Strategy,
	prototype core.Backtester,
) ([]*core.StrategyContext, error) {
	contexts := make([]*core.StrategyContext, len(strategies))
	portfolio := core.NewPortfolioWithSecurity(baseSecurity)

	for i, strategy := range strategies {
		bt := prototype.Clone()
		clone := strategy.CloneOnto(portfolio)
		bt.SetSingleStrategy(clone)

		outcome, err := bt.Backtest(ctx, baseSecurity)
		if err != nil {
			return nil, err
		}
		outcome.Strategy = clone

		baseline := policy.ExtractOrSentinel(o.opts.StatisticPolicy, outcome)
		contexts[i] = core.NewStrategyContext(strategy, baseline)
	}

	return contexts, nil
}

// partition groups strategy contexts by direction, or by (category,
// direction) when partitionByFamily is set (spec §4.10 responsibility 2).
func (o *ValidationOrchestrator) partition(contexts []*core.StrategyContext, partitionByFamily bool) map[familyKey][]*core.StrategyContext {
	out := make(map[familyKey][]*core.StrategyContext)
	for _, sc := range contexts {
		key := familyKey{dir: sc.Strategy.Dir}
		if partitionByFamily {
			key.category = sc.Strategy.Pattern.Category
		}
		out[key] = append(out[key], sc)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                     {}
func (nopLogger) Info(string, ...interface{})                      {}
func (nopLogger) Warn(string, ...interface{})                      {}
func (nopLogger) Error(string, ...interface{})                     {}
func (nopLogger) Fatal(string, ...interface{})                     {}
func (l nopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }
