// Package synth generates synthetic price series that destroy predictive
// signal while preserving marginal structure, for use as the null model in
// permutation tests.
package synth

import (
	"errors"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"market_validator/internal/core"
)

// BuildError is returned when the baseline series cannot be shuffled.
var BuildError = errors.New("synth: baseline series has fewer than two bars")

// NullModel identifies which null model a SyntheticSeriesBuilder realizes.
type NullModel int

const (
	// N1MaxDestruction permutes the sequence of per-bar log returns
	// uniformly at random while preserving the first bar's absolute price
	// level, then reconstructs OHLC from each bar's original relative
	// open/high/low/close ratios.
	N1MaxDestruction NullModel = iota
)

// relativeRatios caches a bar's OHLC expressed relative to its own close, so
// permuting bars can reconstruct OHLC geometry without recomputing ratios on
// every draw.
type relativeRatios struct {
	openRatio  decimal.Decimal
	highRatio  decimal.Decimal
	lowRatio   decimal.Decimal
	logReturn  float64
	timestamp  int64
	volume     decimal.Decimal
}

// SyntheticSeriesBuilder produces one permuted draw from a baseline Security
// under a chosen null model. One builder is owned per worker thread; its
// cached ratio table is reused across permutations (spec §5 per-thread
// state). The builder holds no RNG; each draw uses the one its caller passes.
type SyntheticSeriesBuilder struct {
	model    NullModel
	baseline *core.Security
	target   *core.Security
	ratios   []relativeRatios
	firstOpn decimal.Decimal
}

// NewSyntheticSeriesBuilder prepares a builder over baseline using the given
// null model. It precomputes the immutable per-bar ratio table once; every
// subsequent ShuffleAndRebuild reuses it.
func NewSyntheticSeriesBuilder(baseline *core.Security, model NullModel) (*SyntheticSeriesBuilder, error) {
	if baseline == nil || len(baseline.Bars) < 2 {
		return nil, BuildError
	}

	ratios := make([]relativeRatios, len(baseline.Bars))
	for i, bar := range baseline.Bars {
		closeF, _ := bar.Close.Float64()
		var logReturn float64
		if i > 0 {
			prevCloseF, _ := baseline.Bars[i-1].Close.Float64()
			if prevCloseF > 0 && closeF > 0 {
				logReturn = math.Log(closeF / prevCloseF)
			}
		}
		ratios[i] = relativeRatios{
			openRatio: safeDiv(bar.Open, bar.Close),
			highRatio: safeDiv(bar.High, bar.Close),
			lowRatio:  safeDiv(bar.Low, bar.Close),
			logReturn: logReturn,
			timestamp: bar.Timestamp,
			volume:    bar.Volume,
		}
	}

	target := &core.Security{
		Symbol: baseline.Symbol,
		Bars:   make([]core.OHLCBar, len(baseline.Bars)),
	}

	return &SyntheticSeriesBuilder{
		model:    model,
		baseline: baseline,
		target:   target,
		ratios:   ratios,
		firstOpn: baseline.Bars[0].Open,
	}, nil
}

func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.NewFromInt(1)
	}
	return a.Div(b)
}

// ShuffleAndRebuild replaces the internal security's series in place with a
// fresh draw from the configured null model and returns a reference to it,
// so downstream portfolios keep the same Security handle across
// permutations (I6: no synthetic data from a previous iteration leaks in,
// since every bar is overwritten before being read).
func (b *SyntheticSeriesBuilder) ShuffleAndRebuild(rng *rand.Rand) (*core.Security, error) {
	switch b.model {
	case N1MaxDestruction:
		return b.shuffleN1MaxDestruction(rng)
	default:
		return nil, BuildError
	}
}

func (b *SyntheticSeriesBuilder) shuffleN1MaxDestruction(rng *rand.Rand) (*core.Security, error) {
	n := len(b.ratios)
	if n < 2 {
		return nil, BuildError
	}

	// Permute the log-return sequence for bars 1..n-1; bar 0 carries no
	// return (it anchors the absolute price level).
	perm := make([]int, n-1)
	for i := range perm {
		perm[i] = i + 1
	}
	rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	closes := make([]float64, n)
	firstCloseF, _ := b.baseline.Bars[0].Close.Float64()
	closes[0] = firstCloseF

	for i := 1; i < n; i++ {
		r := b.ratios[perm[i-1]].logReturn
		closes[i] = closes[i-1] * math.Exp(r)
	}

	for i := 0; i < n; i++ {
		closeDec := decimal.NewFromFloat(closes[i])
		ratio := b.ratios[i]
		b.target.Bars[i] = core.OHLCBar{
			Timestamp: ratio.timestamp,
			Open:      closeDec.Mul(ratio.openRatio),
			High:      closeDec.Mul(ratio.highRatio),
			Low:       closeDec.Mul(ratio.lowRatio),
			Close:     closeDec,
			Volume:    ratio.volume,
		}
	}

	return b.target, nil
}
