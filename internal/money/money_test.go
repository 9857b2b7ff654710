package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainedArithmetic(t *testing.T) {
	out, err := New(100).Add(50).Subtract(30).MultiplyBy(2).DivideBy(4)
	require.NoError(t, err)
	require.InDelta(t, 60, out.Float(), 0.0001)
}

func TestRoundingAtTerminal(t *testing.T) {
	// 10 / 3 keeps full precision until Float().
	out, err := New(10).DivideBy(3)
	require.NoError(t, err)
	require.InDelta(t, 3.33, out.Float(), 0.0001)

	back := out.MultiplyBy(3)
	require.InDelta(t, 10, back.Float(), 0.0001)
}

func TestDivisionByZero(t *testing.T) {
	_, err := New(10).DivideBy(0)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestPercent(t *testing.T) {
	require.InDelta(t, 15, Percent(150, 10), 0.0001)
	require.Zero(t, Percent(150, 0))
	require.Zero(t, Percent(150, -5))
}

func TestCustomPrecision(t *testing.T) {
	out, err := NewWithPrecision(1, 4).DivideBy(3)
	require.NoError(t, err)
	require.InDelta(t, 0.3333, out.Float(), 0.00001)
}
