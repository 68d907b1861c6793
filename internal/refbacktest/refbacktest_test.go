package refbacktest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_validator/internal/core"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func barSeries(closes []string) []core.OHLCBar {
	bars := make([]core.OHLCBar, len(closes))
	for i, c := range closes {
		px := dec(c)
		bars[i] = core.OHLCBar{
			Timestamp: int64(i),
			Open:      px,
			High:      px,
			Low:       px,
			Close:     px,
			Volume:    decimal.NewFromInt(100),
		}
	}
	return bars
}

func TestBacktest_NoStrategyReturnsEmptyOutcome(t *testing.T) {
	bt := New(1)
	sec := &core.Security{Symbol: "TEST", Bars: barSeries([]string{"100", "101"})}

	outcome, err := bt.Backtest(context.Background(), sec)

	require.NoError(t, err)
	require.Zero(t, outcome.ClosedTrades)
	require.Zero(t, bt.NumTrades())
}

func TestBacktest_LongHitsProfitTarget(t *testing.T) {
	pattern := core.NewPatternTree(1, dec("0.02"), dec("0.05"), core.Long, 3)
	strategy := core.NewStrategy(pattern, "p1", core.Long)

	bt := New(1)
	bt.SetSingleStrategy(strategy)

	sec := &core.Security{Symbol: "TEST", Bars: []core.OHLCBar{
		{Timestamp: 0, Open: dec("100"), High: dec("100"), Low: dec("100"), Close: dec("100")},
		{Timestamp: 1, Open: dec("100"), High: dec("103"), Low: dec("99"), Close: dec("102")},
	}}

	outcome, err := bt.Backtest(context.Background(), sec)

	require.NoError(t, err)
	require.Equal(t, 1, outcome.ClosedTrades)
	require.True(t, outcome.LogProfitFactor.GreaterThan(decimal.Zero))
	require.Equal(t, uint32(1), bt.NumTrades())
	require.Equal(t, uint32(1), bt.NumBarsInTrades())
}

func TestBacktest_ShortHitsStopLoss(t *testing.T) {
	pattern := core.NewPatternTree(2, dec("0.02"), dec("0.01"), core.Short, 3)
	strategy := core.NewStrategy(pattern, "p2", core.Short)

	bt := New(1)
	bt.SetSingleStrategy(strategy)

	sec := &core.Security{Symbol: "TEST", Bars: []core.OHLCBar{
		{Timestamp: 0, Open: dec("100"), High: dec("100"), Low: dec("100"), Close: dec("100")},
		{Timestamp: 1, Open: dec("100"), High: dec("102"), Low: dec("99"), Close: dec("101")},
	}}

	outcome, err := bt.Backtest(context.Background(), sec)

	require.NoError(t, err)
	require.Equal(t, 1, outcome.ClosedTrades)
	require.True(t, outcome.LogProfitFactor.LessThan(decimal.Zero))
}

func TestBacktest_ZeroEntryPriceIsSkipped(t *testing.T) {
	pattern := core.NewPatternTree(3, dec("0.02"), dec("0.01"), core.Long, 1)
	strategy := core.NewStrategy(pattern, "p3", core.Long)

	bt := New(1)
	bt.SetSingleStrategy(strategy)

	sec := &core.Security{Symbol: "TEST", Bars: []core.OHLCBar{
		{Timestamp: 0, Open: decimal.Zero, High: decimal.Zero, Low: decimal.Zero, Close: decimal.Zero},
		{Timestamp: 1, Open: dec("100"), High: dec("101"), Low: dec("99"), Close: dec("100")},
	}}

	outcome, err := bt.Backtest(context.Background(), sec)

	require.NoError(t, err)
	require.Equal(t, 1, outcome.ClosedTrades)
}

func TestBacktest_RespectsCancellation(t *testing.T) {
	pattern := core.NewPatternTree(4, dec("0.02"), dec("0.01"), core.Long, 1)
	strategy := core.NewStrategy(pattern, "p4", core.Long)

	bt := New(1)
	bt.SetSingleStrategy(strategy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sec := &core.Security{Symbol: "TEST", Bars: barSeries([]string{"100", "101", "102"})}

	_, err := bt.Backtest(ctx, sec)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClone_IsIndependentOfStrategy(t *testing.T) {
	pattern := core.NewPatternTree(5, dec("0.02"), dec("0.01"), core.Long, 1)
	strategy := core.NewStrategy(pattern, "p5", core.Long)

	bt := New(2)
	bt.SetSingleStrategy(strategy)

	clone := bt.Clone()
	require.Zero(t, clone.NumTrades())
}

func TestLogProfitFactor_NoLossesCapsAtTen(t *testing.T) {
	got := logProfitFactor(dec("1.5"), decimal.Zero)
	require.True(t, got.Equal(decimal.NewFromFloat(10)))
}

func TestLogProfitFactor_NoGainOrLossIsZero(t *testing.T) {
	got := logProfitFactor(decimal.Zero, decimal.Zero)
	require.True(t, got.IsZero())
}

func TestLogProfitFactor_BalancedRatioIsZero(t *testing.T) {
	got := logProfitFactor(dec("1"), dec("1"))
	require.True(t, got.Abs().LessThan(dec("0.0001")))
}

var _ core.Backtester = (*Backtester)(nil)
