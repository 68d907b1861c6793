package policy

import (
	"github.com/shopspring/decimal"

	"market_validator/internal/core"
)

// uninformativeSentinel is the value substituted for a permutation draw
// whose trade count falls below the policy's MinTrades threshold, so it
// cannot win the running-max comparisons that drive exceedance counting.
// decimal.NewFromFloat panics on +/-Inf and NaN, so negative infinity is not
// representable directly; a very large finite negative decimal serves the
// same purpose of never winning a running-max comparison against a real
// statistic.
var uninformativeSentinel = decimal.New(-1, 309)

// UninformativeSentinel returns the shared "no relationship" sentinel value.
func UninformativeSentinel() decimal.Decimal { return uninformativeSentinel }

// IsUninformative reports whether v is the uninformative-draw sentinel.
func IsUninformative(v decimal.Decimal) bool {
	return v.Equal(uninformativeSentinel)
}

// PermutationStatistic extracts a scalar test statistic from a completed
// backtest and declares the minimum-trades threshold below which a draw is
// "no relationship" and must not influence the null distribution.
type PermutationStatistic interface {
	Extract(outcome *core.BacktestOutcome) decimal.Decimal
	MinTrades() uint32
	MinTradeFailureValue() decimal.Decimal
}

// ExtractOrSentinel applies MinTrades gating uniformly: callers should
// always go through this instead of calling Extract directly, so the
// min-trades rule can never be forgotten at a call site.
func ExtractOrSentinel(p PermutationStatistic, outcome *core.BacktestOutcome) decimal.Decimal {
	if uint32(outcome.NumTradesIncludingOpen()) < p.MinTrades() {
		return uninformativeSentinel
	}
	return p.Extract(outcome)
}

// LogProfitFactorPolicy extracts the natural log of the profit factor over
// closed trades, the canonical statistic for pattern-strategy validation.
type LogProfitFactorPolicy struct {
	MinimumTrades uint32
}

// NewLogProfitFactorPolicy returns a policy with the given minimum-trades
// threshold.
func NewLogProfitFactorPolicy(minTrades uint32) LogProfitFactorPolicy {
	return LogProfitFactorPolicy{MinimumTrades: minTrades}
}

// Extract implements PermutationStatistic.
func (p LogProfitFactorPolicy) Extract(outcome *core.BacktestOutcome) decimal.Decimal {
	return outcome.LogProfitFactor
}

// MinTrades implements PermutationStatistic.
func (p LogProfitFactorPolicy) MinTrades() uint32 { return p.MinimumTrades }

// MinTradeFailureValue implements PermutationStatistic.
func (p LogProfitFactorPolicy) MinTradeFailureValue() decimal.Decimal {
	return decimal.Zero
}

// ConstantStatisticPolicy always reports a fixed value regardless of the
// backtest outcome. Used only for testing the stepwise algorithms against
// known boundary scenarios (spec §8 S1/S2).
type ConstantStatisticPolicy struct {
	Value         decimal.Decimal
	MinimumTrades uint32
}

// NewConstantStatisticPolicy returns a policy reporting value unconditionally.
func NewConstantStatisticPolicy(value decimal.Decimal) ConstantStatisticPolicy {
	return ConstantStatisticPolicy{Value: value}
}

// Extract implements PermutationStatistic.
func (p ConstantStatisticPolicy) Extract(*core.BacktestOutcome) decimal.Decimal { return p.Value }

// MinTrades implements PermutationStatistic.
func (p ConstantStatisticPolicy) MinTrades() uint32 { return p.MinimumTrades }

// MinTradeFailureValue implements PermutationStatistic.
func (p ConstantStatisticPolicy) MinTradeFailureValue() decimal.Decimal { return decimal.Zero }
