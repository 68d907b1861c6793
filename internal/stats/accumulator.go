// Package stats provides the thread-safe accumulator, keyed aggregator, and
// observer fan-out that let concurrent permutation workers report
// per-strategy statistics without losing writes or leaking ordering
// assumptions.
package stats

import (
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Accumulator is a thread-safe container for one metric of one strategy. It
// tracks running min/max/count and variance via Welford's recurrence in O(1)
// amortized; median is only materialized on query, at O(n log n) over the
// retained sample.
type Accumulator struct {
	mu      sync.Mutex
	count   uint64
	min     float64
	max     float64
	mean    float64
	m2      float64 // Welford's sum of squared deviations from the mean
	samples []float64
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add records value. O(1) amortized for min/max/variance; appends to the
// retained sample slice for later median computation.
func (a *Accumulator) Add(value decimal.Decimal) {
	v, _ := value.Float64()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	if a.count == 1 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}

	delta := v - a.mean
	a.mean += delta / float64(a.count)
	delta2 := v - a.mean
	a.m2 += delta * delta2

	a.samples = append(a.samples, v)
}

// Min returns the minimum value seen, or ok=false if empty.
func (a *Accumulator) Min() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return 0, false
	}
	return a.min, true
}

// Max returns the maximum value seen, or ok=false if empty.
func (a *Accumulator) Max() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return 0, false
	}
	return a.max, true
}

// Count returns the number of values added.
func (a *Accumulator) Count() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Median returns the middle value (average of the two middle values for an
// even count), or ok=false if empty.
func (a *Accumulator) Median() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), a.samples...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}

// StdDev returns the sample standard deviation, defined iff count >= 2.
func (a *Accumulator) StdDev() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count < 2 {
		return 0, false
	}
	variance := a.m2 / float64(a.count-1)
	return math.Sqrt(variance), true
}

// Clear resets the accumulator to empty, required between distinct
// orchestrator runs.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count = 0
	a.min, a.max, a.mean, a.m2 = 0, 0, 0, 0
	a.samples = nil
}
