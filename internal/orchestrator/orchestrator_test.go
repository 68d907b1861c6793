package orchestrator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_validator/internal/core"
	"market_validator/internal/mock"
	"market_validator/internal/parallel"
	"market_validator/internal/policy"
	"market_validator/internal/synth"
)

func baselineSecurity(nBars int) *core.Security {
	bars := make([]core.OHLCBar, nBars)
	price := decimal.NewFromInt(100)
	for i := range bars {
		bars[i] = core.OHLCBar{
			Timestamp: int64(i),
			Open:      price,
			High:      price.Mul(decimal.NewFromFloat(1.01)),
			Low:       price.Mul(decimal.NewFromFloat(0.99)),
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		}
		price = price.Mul(decimal.NewFromFloat(1.001))
	}
	return &core.Security{Symbol: "TEST", Bars: bars}
}

func strategy(name string, dir core.Direction) *core.Strategy {
	pattern := core.NewPatternTree(uint64(len(name)*7919+1), decimal.Zero, decimal.Zero, dir, 5)
	return core.NewStrategy(pattern, name, dir)
}

func baseOpts(statValue decimal.Decimal) Options {
	return Options{
		Exec:            parallel.NewSingleThreadExecutor(),
		StatisticPolicy: policy.NewConstantStatisticPolicy(statValue),
		PValuePolicy:    policy.StandardPValuePolicy{},
		NullModel:       synth.N1MaxDestruction,
		WorkerSlots:     1,
	}
}

// Every strategy's baseline backtest reports the same constant statistic as
// every permuted draw, so the exceedance count should reach N+1 and every
// strategy should fail to survive at a tight alpha (mirrors spec §8 S1).
func TestRun_ConstantStatistic_NoneSurvive(t *testing.T) {
	sec := baselineSecurity(64)
	strategies := []*core.Strategy{strategy("s1", core.Long)}
	v := NewMonteCarloValidator(10, Fast, baseOpts(decimal.NewFromFloat(0.5)))

	err := v.Run(context.Background(), sec, strategies, mock.NewConstantBacktester(50, decimal.Zero), DateRange{}, decimal.NewFromFloat(0.05), false, false)
	require.NoError(t, err)

	p, ok := v.AdjustedPValue(strategies[0])
	require.True(t, ok)
	require.True(t, p.Equal(decimal.NewFromInt(1)), "expected p=1.0, got %s", p)
	require.Empty(t, v.SurvivingStrategies())
}

// I4 completeness: the result must contain exactly the combined hashes of
// the input strategies, one per partition family.
func TestRun_CompletenessAcrossPartitions(t *testing.T) {
	sec := baselineSecurity(64)
	strategies := []*core.Strategy{
		strategy("long-1", core.Long),
		strategy("short-1", core.Short),
	}
	v := NewMonteCarloValidator(5, Fast, baseOpts(decimal.NewFromFloat(0.1)))

	err := v.Run(context.Background(), sec, strategies, mock.NewConstantBacktester(50, decimal.Zero), DateRange{}, decimal.NewFromFloat(0.05), false, false)
	require.NoError(t, err)

	for _, s := range strategies {
		_, ok := v.AdjustedPValue(s)
		require.True(t, ok, "missing adjusted p-value for %s", s.Name)
	}
}

// partitionByFamily splits by (category, direction) instead of direction
// alone; two long strategies in different categories must be evaluated as
// independent families (each competing only within its own family's null).
func TestRun_PartitionByFamily(t *testing.T) {
	sec := baselineSecurity(64)
	trend := strategy("trend-strong", core.Long)
	trend.Pattern.Category = "trend"
	momentum := strategy("momentum-weak", core.Long)
	momentum.Pattern.Category = "momentum"

	v := NewMonteCarloValidator(5, Fast, baseOpts(decimal.NewFromFloat(0.1)))
	err := v.Run(context.Background(), sec, []*core.Strategy{trend, momentum}, mock.NewConstantBacktester(50, decimal.Zero), DateRange{}, decimal.NewFromFloat(0.05), false, true)
	require.NoError(t, err)

	trendP, ok := v.AdjustedPValue(trend)
	require.True(t, ok)
	momentumP, ok := v.AdjustedPValue(momentum)
	require.True(t, ok)
	// Both are the sole member of their own family, so each sees only its
	// own running max and should receive the identical single-strategy
	// p-value computed by FastOneSweep in isolation.
	require.True(t, trendP.Equal(momentumP))
}

func TestRun_RejectsNilBaseline(t *testing.T) {
	v := NewMonteCarloValidator(5, Fast, baseOpts(decimal.Zero))
	err := v.Run(context.Background(), nil, []*core.Strategy{strategy("s", core.Long)}, mock.NewConstantBacktester(50, decimal.Zero), DateRange{}, decimal.NewFromFloat(0.05), false, false)
	require.ErrorIs(t, err, ErrNoBaselineSecurity)
}

func TestRun_RejectsEmptyStrategies(t *testing.T) {
	v := NewMonteCarloValidator(5, Fast, baseOpts(decimal.Zero))
	err := v.Run(context.Background(), baselineSecurity(64), nil, mock.NewConstantBacktester(50, decimal.Zero), DateRange{}, decimal.NewFromFloat(0.05), false, false)
	require.ErrorIs(t, err, ErrNoStrategies)
}

// A failed Run must not mutate a previously published result (spec §7).
func TestRun_FailurePreservesPriorResult(t *testing.T) {
	sec := baselineSecurity(64)
	strategies := []*core.Strategy{strategy("s1", core.Long)}
	v := NewMonteCarloValidator(5, Fast, baseOpts(decimal.NewFromFloat(0.1)))

	require.NoError(t, v.Run(context.Background(), sec, strategies, mock.NewConstantBacktester(50, decimal.Zero), DateRange{}, decimal.NewFromFloat(0.05), false, false))
	firstP, ok := v.AdjustedPValue(strategies[0])
	require.True(t, ok)

	err := v.Run(context.Background(), nil, strategies, mock.NewConstantBacktester(50, decimal.Zero), DateRange{}, decimal.NewFromFloat(0.05), false, false)
	require.Error(t, err)

	secondP, ok := v.AdjustedPValue(strategies[0])
	require.True(t, ok)
	require.True(t, firstP.Equal(secondP))
}
