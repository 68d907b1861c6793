package synth

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market_validator/internal/core"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func sampleSecurity() *core.Security {
	return &core.Security{
		Symbol: "TEST",
		Bars: []core.OHLCBar{
			{Timestamp: 0, Open: d("100"), High: d("101"), Low: d("99"), Close: d("100")},
			{Timestamp: 1, Open: d("100"), High: d("103"), Low: d("99"), Close: d("102")},
			{Timestamp: 2, Open: d("102"), High: d("104"), Low: d("100"), Close: d("101")},
			{Timestamp: 3, Open: d("101"), High: d("106"), Low: d("100"), Close: d("105")},
		},
	}
}

func TestNewSyntheticSeriesBuilder_RejectsNilOrShortSeries(t *testing.T) {
	_, err := NewSyntheticSeriesBuilder(nil, N1MaxDestruction)
	require.ErrorIs(t, err, BuildError)

	short := &core.Security{Symbol: "TEST", Bars: []core.OHLCBar{{Close: d("1")}}}
	_, err = NewSyntheticSeriesBuilder(short, N1MaxDestruction)
	require.ErrorIs(t, err, BuildError)
}

func TestShuffleAndRebuild_PreservesBarCountAndFirstClose(t *testing.T) {
	baseline := sampleSecurity()
	builder, err := NewSyntheticSeriesBuilder(baseline, N1MaxDestruction)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	target, err := builder.ShuffleAndRebuild(rng)
	require.NoError(t, err)

	require.Len(t, target.Bars, len(baseline.Bars))
	require.True(t, target.Bars[0].Close.Equal(baseline.Bars[0].Close))
	require.Equal(t, baseline.Symbol, target.Symbol)

	for i, bar := range target.Bars {
		require.Equal(t, baseline.Bars[i].Timestamp, bar.Timestamp)
	}
}

func TestShuffleAndRebuild_ReusesSameTargetHandle(t *testing.T) {
	baseline := sampleSecurity()
	builder, err := NewSyntheticSeriesBuilder(baseline, N1MaxDestruction)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	first, err := builder.ShuffleAndRebuild(rng)
	require.NoError(t, err)

	second, err := builder.ShuffleAndRebuild(rng)
	require.NoError(t, err)

	require.Same(t, first, second)
}

func TestShuffleAndRebuild_DifferentSeedsProduceDifferentDraws(t *testing.T) {
	baseline := sampleSecurity()
	builder, err := NewSyntheticSeriesBuilder(baseline, N1MaxDestruction)
	require.NoError(t, err)

	draw1, err := builder.ShuffleAndRebuild(rand.New(rand.NewSource(10)))
	require.NoError(t, err)
	closes1 := make([]string, len(draw1.Bars))
	for i, b := range draw1.Bars {
		closes1[i] = b.Close.String()
	}

	draw2, err := builder.ShuffleAndRebuild(rand.New(rand.NewSource(20)))
	require.NoError(t, err)
	closes2 := make([]string, len(draw2.Bars))
	for i, b := range draw2.Bars {
		closes2[i] = b.Close.String()
	}

	require.NotEqual(t, closes1, closes2)
}

func TestShuffleAndRebuild_UnknownModelReturnsBuildError(t *testing.T) {
	baseline := sampleSecurity()
	builder, err := NewSyntheticSeriesBuilder(baseline, NullModel(999))
	require.NoError(t, err)

	_, err = builder.ShuffleAndRebuild(rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, BuildError)
}

func TestSafeDiv_ZeroDenominatorReturnsOne(t *testing.T) {
	require.True(t, safeDiv(d("5"), decimal.Zero).Equal(decimal.NewFromInt(1)))
	require.True(t, safeDiv(d("5"), d("2")).Equal(d("2.5")))
}
