// Package refbacktest provides a minimal reference implementation of
// core.Backtester: a walk that enters at the first bar and again on the bar
// after each exit, and exits on the pattern's profit-target / stop-loss
// thresholds or after MaxBarsBack bars, whichever comes first. The actual entry-signal evaluation that a real pattern
// engine performs (matching an AST of price/indicator comparisons against
// each bar) is explicitly out of scope for this system — that AST and its
// code generators are the "Visitor-based code generation over polymorphic
// AST" concern the design notes call out for re-architecture elsewhere, not
// something the validator itself owns. This package exists only so the
// command-line entry point has a runnable, deterministic Backtester to
// exercise end to end; a production deployment supplies its own
// core.Backtester wrapping a real trading-pattern engine instead.
package refbacktest

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"market_validator/internal/core"
)

// Backtester walks a security bar by bar, entering at the first bar and again
// on the bar after each exit, and exiting at the strategy's profit target,
// stop loss, or MaxBarsBack bars of holding time, whichever triggers first.
// Entries are not placed on a fixed EntryInterval schedule: EntryInterval
// (or the strategy's MaxBarsBack if EntryInterval is zero) is only the
// stride used to step past bars with a zero close, and the holding limit
// when MaxBarsBack is not positive.
type Backtester struct {
	strategy      *core.Strategy
	EntryInterval int

	lastClosedTrades int
	lastBarsInTrades int
}

// New constructs a Backtester. entryInterval of 0 defers to the current
// strategy's MaxBarsBack, read on each Backtest call.
func New(entryInterval int) *Backtester {
	return &Backtester{EntryInterval: entryInterval}
}

// Clone implements core.Backtester.
func (b *Backtester) Clone() core.Backtester {
	return &Backtester{EntryInterval: b.EntryInterval}
}

// SetSingleStrategy implements core.Backtester.
func (b *Backtester) SetSingleStrategy(strategy *core.Strategy) {
	b.strategy = strategy
}

// Backtest implements core.Backtester: walks sec.Bars and simulates trades
// per the entry/exit rule described on the package doc.
func (b *Backtester) Backtest(ctx context.Context, sec *core.Security) (*core.BacktestOutcome, error) {
	outcome := &core.BacktestOutcome{Strategy: b.strategy}
	if b.strategy == nil || len(sec.Bars) == 0 {
		return outcome, nil
	}

	interval := b.EntryInterval
	if interval <= 0 {
		interval = b.strategy.Pattern.MaxBarsBack
	}
	if interval <= 0 {
		interval = 1
	}

	var grossGain, grossLoss decimal.Decimal
	i := 0
	for i < len(sec.Bars) {
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		default:
		}

		entryBar := sec.Bars[i]
		entryPrice := entryBar.Close
		if entryPrice.IsZero() {
			i += interval
			continue
		}

		maxHold := b.strategy.Pattern.MaxBarsBack
		if maxHold <= 0 {
			maxHold = interval
		}

		exitIdx, exitPrice := simulateExit(sec.Bars, i, entryPrice, b.strategy, maxHold)
		ret := pctReturn(entryPrice, exitPrice, b.strategy.Dir)

		outcome.ClosedTrades++
		outcome.BarsInClosedTrades += exitIdx - i
		if ret.IsPositive() {
			grossGain = grossGain.Add(ret)
		} else {
			grossLoss = grossLoss.Add(ret.Abs())
		}

		i = exitIdx + 1
		if i <= 0 {
			i = 1
		}
	}

	outcome.LogProfitFactor = logProfitFactor(grossGain, grossLoss)
	b.lastClosedTrades = outcome.ClosedTrades
	b.lastBarsInTrades = outcome.BarsInClosedTrades
	return outcome, nil
}

// simulateExit walks forward from entryIdx, stopping at the first bar whose
// high/low crosses the profit target or stop loss (relative to entryPrice
// and the strategy's direction), or after maxHold bars, whichever is first.
func simulateExit(bars []core.OHLCBar, entryIdx int, entryPrice decimal.Decimal, strategy *core.Strategy, maxHold int) (int, decimal.Decimal) {
	target := strategy.Pattern.ProfitTargetPct
	stop := strategy.Pattern.StopLossPct

	last := entryIdx
	for j := entryIdx + 1; j < len(bars) && j-entryIdx <= maxHold; j++ {
		last = j
		bar := bars[j]

		if strategy.Dir == core.Long {
			if !target.IsZero() && bar.High.GreaterThanOrEqual(entryPrice.Mul(decimal.NewFromInt(1).Add(target))) {
				return j, entryPrice.Mul(decimal.NewFromInt(1).Add(target))
			}
			if !stop.IsZero() && bar.Low.LessThanOrEqual(entryPrice.Mul(decimal.NewFromInt(1).Sub(stop))) {
				return j, entryPrice.Mul(decimal.NewFromInt(1).Sub(stop))
			}
		} else {
			if !target.IsZero() && bar.Low.LessThanOrEqual(entryPrice.Mul(decimal.NewFromInt(1).Sub(target))) {
				return j, entryPrice.Mul(decimal.NewFromInt(1).Sub(target))
			}
			if !stop.IsZero() && bar.High.GreaterThanOrEqual(entryPrice.Mul(decimal.NewFromInt(1).Add(stop))) {
				return j, entryPrice.Mul(decimal.NewFromInt(1).Add(stop))
			}
		}
	}

	if last == entryIdx {
		return entryIdx, entryPrice
	}
	return last, bars[last].Close
}

func pctReturn(entry, exit decimal.Decimal, dir core.Direction) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	delta := exit.Sub(entry).Div(entry)
	if dir == core.Short {
		delta = delta.Neg()
	}
	return delta
}

// logProfitFactor mirrors policy.LogProfitFactorPolicy's expectations: it
// is the statistic the validator extracts per backtest, computed here
// rather than by the policy package since the policy only ever reads
// BacktestOutcome.LogProfitFactor, never recomputes it.
func logProfitFactor(grossGain, grossLoss decimal.Decimal) decimal.Decimal {
	if grossLoss.IsZero() {
		if grossGain.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromFloat(10) // capped "infinite" profit factor, log space
	}
	ratio := grossGain.Div(grossLoss)
	if ratio.IsZero() {
		return decimal.NewFromFloat(-10)
	}
	f, _ := ratio.Float64()
	return decimal.NewFromFloat(logf(f))
}

func logf(x float64) float64 {
	if x <= 0 {
		return -10
	}
	return math.Log(x)
}

// NumTrades implements core.Backtester: the closed-trade count from the
// most recently completed Backtest call.
func (b *Backtester) NumTrades() uint32 {
	return uint32(b.lastClosedTrades)
}

// NumBarsInTrades implements core.Backtester: the bars-in-trade total from
// the most recently completed Backtest call.
func (b *Backtester) NumBarsInTrades() uint32 {
	return uint32(b.lastBarsInTrades)
}

var _ core.Backtester = (*Backtester)(nil)
