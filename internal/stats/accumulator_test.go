package stats

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_EmptyHasNoStats(t *testing.T) {
	a := NewAccumulator()

	_, ok := a.Min()
	require.False(t, ok)
	_, ok = a.Max()
	require.False(t, ok)
	_, ok = a.Median()
	require.False(t, ok)
	_, ok = a.StdDev()
	require.False(t, ok)
	require.Zero(t, a.Count())
}

func TestAccumulator_MinMaxCount(t *testing.T) {
	a := NewAccumulator()
	for _, v := range []string{"3", "1", "4", "1", "5"} {
		a.Add(decimal.RequireFromString(v))
	}

	min, ok := a.Min()
	require.True(t, ok)
	require.Equal(t, 1.0, min)

	max, ok := a.Max()
	require.True(t, ok)
	require.Equal(t, 5.0, max)

	require.Equal(t, uint64(5), a.Count())
}

func TestAccumulator_MedianOddAndEven(t *testing.T) {
	odd := NewAccumulator()
	for _, v := range []string{"1", "2", "3"} {
		odd.Add(decimal.RequireFromString(v))
	}
	median, ok := odd.Median()
	require.True(t, ok)
	require.Equal(t, 2.0, median)

	even := NewAccumulator()
	for _, v := range []string{"1", "2", "3", "4"} {
		even.Add(decimal.RequireFromString(v))
	}
	median, ok = even.Median()
	require.True(t, ok)
	require.Equal(t, 2.5, median)
}

func TestAccumulator_StdDevRequiresTwoSamples(t *testing.T) {
	a := NewAccumulator()
	a.Add(decimal.NewFromInt(1))
	_, ok := a.StdDev()
	require.False(t, ok)

	a.Add(decimal.NewFromInt(3))
	sd, ok := a.StdDev()
	require.True(t, ok)
	require.InDelta(t, 1.4142, sd, 0.001)
}

func TestAccumulator_Clear(t *testing.T) {
	a := NewAccumulator()
	a.Add(decimal.NewFromInt(10))
	a.Clear()

	require.Zero(t, a.Count())
	_, ok := a.Min()
	require.False(t, ok)
}
