package decimalutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRound(t *testing.T) {
	require.True(t, Round(d("0.123456789"), 4).Equal(d("0.1235")))
}

func TestClamp(t *testing.T) {
	require.True(t, Clamp(d("-1"), decimal.Zero, decimal.NewFromInt(1)).IsZero())
	require.True(t, Clamp(d("2"), decimal.Zero, decimal.NewFromInt(1)).Equal(decimal.NewFromInt(1)))
	require.True(t, Clamp(d("0.5"), decimal.Zero, decimal.NewFromInt(1)).Equal(d("0.5")))
}

func TestClampProbability(t *testing.T) {
	require.True(t, ClampProbability(d("1.0001")).Equal(decimal.NewFromInt(1)))
	require.True(t, ClampProbability(d("-0.0001")).IsZero())
}
