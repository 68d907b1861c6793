package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_validator/internal/core"
	"market_validator/internal/mock"
	"market_validator/internal/policy"
	"market_validator/internal/stats"
	"market_validator/internal/synth"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                     {}
func (nopLogger) Info(string, ...interface{})                      {}
func (nopLogger) Warn(string, ...interface{})                      {}
func (nopLogger) Error(string, ...interface{})                     {}
func (nopLogger) Fatal(string, ...interface{})                     {}
func (l nopLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func sampleBaseline() *core.Security {
	return &core.Security{
		Symbol: "TEST",
		Bars: []core.OHLCBar{
			{Timestamp: 0, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100)},
			{Timestamp: 1, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(103), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(102)},
			{Timestamp: 2, Open: decimal.NewFromInt(102), High: decimal.NewFromInt(104), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(101)},
			{Timestamp: 3, Open: decimal.NewFromInt(101), High: decimal.NewFromInt(106), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(105)},
		},
	}
}

func sampleStrategies() []*core.Strategy {
	pattern := core.NewPatternTree(1, decimal.Zero, decimal.Zero, core.Long, 1)
	return []*core.Strategy{core.NewStrategy(pattern, "p1", core.Long)}
}

func TestPermutationExecutor_RunOneReturnsOneStatisticPerStrategy(t *testing.T) {
	baseline := sampleBaseline()
	hub := stats.NewObserverHub()
	agg := stats.NewStatsAggregator()
	hub.Attach(agg)

	bt := mock.NewConstantBacktester(10, decimal.NewFromFloat(0.5))
	exec := NewPermutationExecutor(baseline, synth.N1MaxDestruction, bt, policy.NewLogProfitFactorPolicy(5), hub, nopLogger{}, 2)

	strategies := sampleStrategies()
	results, err := exec.RunOne(context.Background(), 0, strategies)

	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Equal(decimal.NewFromFloat(0.5)))
}

func TestPermutationExecutor_BelowMinTradesYieldsSentinel(t *testing.T) {
	baseline := sampleBaseline()
	hub := stats.NewObserverHub()

	bt := mock.NewConstantBacktester(1, decimal.NewFromFloat(0.5))
	exec := NewPermutationExecutor(baseline, synth.N1MaxDestruction, bt, policy.NewLogProfitFactorPolicy(5), hub, nopLogger{}, 1)

	results, err := exec.RunOne(context.Background(), 0, sampleStrategies())

	require.NoError(t, err)
	require.True(t, policy.IsUninformative(results[0]))
}

func TestPermutationExecutor_BacktestErrorDegradesToSentinel(t *testing.T) {
	baseline := sampleBaseline()
	hub := stats.NewObserverHub()

	bt := &mock.ConstantBacktester{ClosedTrades: 10, LogPF: decimal.NewFromFloat(0.5), Err: errors.New("boom")}
	exec := NewPermutationExecutor(baseline, synth.N1MaxDestruction, bt, policy.NewLogProfitFactorPolicy(5), hub, nopLogger{}, 1)

	results, err := exec.RunOne(context.Background(), 0, sampleStrategies())

	require.NoError(t, err)
	require.True(t, policy.IsUninformative(results[0]))
}

func TestPermutationExecutor_ReusesWorkerStateAcrossSequentialCalls(t *testing.T) {
	baseline := sampleBaseline()
	hub := stats.NewObserverHub()
	bt := mock.NewConstantBacktester(10, decimal.NewFromFloat(0.1))
	exec := NewPermutationExecutor(baseline, synth.N1MaxDestruction, bt, policy.NewLogProfitFactorPolicy(1), hub, nopLogger{}, 2)

	strategies := sampleStrategies()
	_, err := exec.RunOne(context.Background(), 0, strategies)
	require.NoError(t, err)
	_, err = exec.RunOne(context.Background(), 2, strategies)
	require.NoError(t, err)

	// Two pre-warmed instances exist; two sequential (non-concurrent) calls
	// must be satisfied by returning one to the pool and getting it back,
	// never by constructing a third.
	require.EqualValues(t, 2, exec.seed.Load())
}

func TestPermutationExecutor_ConcurrentCallsNeverShareWorkerState(t *testing.T) {
	baseline := sampleBaseline()
	hub := stats.NewObserverHub()
	agg := stats.NewStatsAggregator()
	hub.Attach(agg)

	bt := mock.NewConstantBacktester(10, decimal.NewFromFloat(0.2))
	exec := NewPermutationExecutor(baseline, synth.N1MaxDestruction, bt, policy.NewLogProfitFactorPolicy(1), hub, nopLogger{}, 1)

	strategies := sampleStrategies()
	const goroutines = 16
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		go func(p int) {
			_, err := exec.RunOne(context.Background(), p, strategies)
			errs <- err
		}(i)
	}
	for i := 0; i < goroutines; i++ {
		require.NoError(t, <-errs)
	}
}

func TestPermutationExecutor_NotifiesHubOncePerStrategy(t *testing.T) {
	baseline := sampleBaseline()
	hub := stats.NewObserverHub()
	agg := stats.NewStatsAggregator()
	hub.Attach(agg)

	bt := mock.NewConstantBacktester(10, decimal.NewFromFloat(0.3))
	exec := NewPermutationExecutor(baseline, synth.N1MaxDestruction, bt, policy.NewLogProfitFactorPolicy(1), hub, nopLogger{}, 1)

	strategies := sampleStrategies()
	_, err := exec.RunOne(context.Background(), 0, strategies)
	require.NoError(t, err)

	require.Equal(t, uint64(1), agg.Count(strategies[0], stats.PermutedTestStatistic))
}
