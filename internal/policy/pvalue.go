// Package policy holds the pluggable statistic-extraction and p-value
// policies the stepwise algorithms are parameterized over.
package policy

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"

	"market_validator/pkg/decimalutil"
)

// PValuePolicy converts an exceedance count k and a permutation count N into
// an adjusted p-value in [0, 1]. k counts only the permuted draws that met
// the baseline, not the unpermuted observed draw; each policy adds that +1
// itself.
type PValuePolicy interface {
	ComputePermutationPValue(k, n uint32) decimal.Decimal
}

// StandardPValuePolicy applies the "+1" bias correction recommended in the
// permutation-testing literature (Good 2005; North et al. 2002):
// p = (k+1)/(N+1), enforcing a floor of 1/(N+1).
type StandardPValuePolicy struct{}

// ComputePermutationPValue implements PValuePolicy.
func (StandardPValuePolicy) ComputePermutationPValue(k, n uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(k) + 1).Div(decimal.NewFromInt(int64(n) + 1))
}

// WilsonPValuePolicy reports the Wilson score upper confidence bound for
// p̂ = (k+1)/(N+1), inflating the p-value just enough to account for
// Monte-Carlo uncertainty at finite N. The z critical value is derived from
// Confidence via the unit normal quantile rather than hard-coded, enriching
// the original's fixed 1.6449 constant with gonum's distuv.
type WilsonPValuePolicy struct {
	// Confidence is the one-sided confidence level, e.g. 0.95. Zero selects
	// the default of 0.95 (z ≈ 1.6449), matching the original's constant.
	Confidence float64
}

// NewWilsonPValuePolicy returns a policy at the default one-sided 95%
// confidence level.
func NewWilsonPValuePolicy() WilsonPValuePolicy {
	return WilsonPValuePolicy{Confidence: 0.95}
}

func (w WilsonPValuePolicy) z() float64 {
	conf := w.Confidence
	if conf <= 0 || conf >= 1 {
		conf = 0.95
	}
	return distuv.UnitNormal.Quantile(conf)
}

// ComputePermutationPValue implements PValuePolicy.
func (w WilsonPValuePolicy) ComputePermutationPValue(k, n uint32) decimal.Decimal {
	phat := float64(k+1) / float64(n+1)
	return decimalutil.ClampProbability(decimal.NewFromFloat(wilsonUpperBound(phat, n, w.z())))
}

// wilsonUpperBound computes the one-sided Wilson score upper confidence
// bound for a binomial proportion phat observed over n trials, clipped to
// [0, 1]. Formula and clipping behavior mirror the original bit-for-bit.
func wilsonUpperBound(phat float64, n uint32, z float64) float64 {
	nf := float64(n)
	z2 := z * z
	denom := 1.0 + z2/nf
	center := phat + z2/(2.0*nf)
	rad := z * math.Sqrt((phat*(1.0-phat)+z2/(4.0*nf))/nf)
	ub := (center + rad) / denom

	if ub < 0.0 {
		ub = 0.0
	}
	if ub > 1.0 {
		ub = 1.0
	}
	return ub
}
