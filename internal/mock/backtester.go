// Package mock provides a hand-rolled test double for the core.Backtester
// interface, used by the algorithms and executor package tests to avoid
// depending on a real trading-pattern backtest engine.
package mock

import (
	"context"

	"github.com/shopspring/decimal"

	"market_validator/internal/core"
)

// ConstantBacktester always returns the same outcome shape regardless of the
// security it is given, with a configurable trade count so min-trades gating
// can be exercised deterministically in tests.
type ConstantBacktester struct {
	strategy     *core.Strategy
	ClosedTrades int
	LogPF        decimal.Decimal
	Err          error
}

// NewConstantBacktester returns a backtester reporting closedTrades closed
// trades and logPF as its log profit factor on every call.
func NewConstantBacktester(closedTrades int, logPF decimal.Decimal) *ConstantBacktester {
	return &ConstantBacktester{ClosedTrades: closedTrades, LogPF: logPF}
}

// Clone implements core.Backtester.
func (b *ConstantBacktester) Clone() core.Backtester {
	return &ConstantBacktester{ClosedTrades: b.ClosedTrades, LogPF: b.LogPF, Err: b.Err}
}

// SetSingleStrategy implements core.Backtester.
func (b *ConstantBacktester) SetSingleStrategy(strategy *core.Strategy) {
	b.strategy = strategy
}

// Backtest implements core.Backtester.
func (b *ConstantBacktester) Backtest(ctx context.Context, sec *core.Security) (*core.BacktestOutcome, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	return &core.BacktestOutcome{
		Strategy:           b.strategy,
		ClosedTrades:       b.ClosedTrades,
		BarsInClosedTrades: b.ClosedTrades * 5,
		LogProfitFactor:    b.LogPF,
	}, nil
}

// NumTrades implements core.Backtester.
func (b *ConstantBacktester) NumTrades() uint32 { return uint32(b.ClosedTrades) }

// NumBarsInTrades implements core.Backtester.
func (b *ConstantBacktester) NumBarsInTrades() uint32 { return uint32(b.ClosedTrades * 5) }

var _ core.Backtester = (*ConstantBacktester)(nil)
