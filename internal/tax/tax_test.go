package tax

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeExclusive(t *testing.T) {
	var e Engine
	require.InDelta(t, 10.0, e.Compute(TypeExclusive, 10, 100), 0.001)
	require.InDelta(t, 0.0, e.Compute(TypeExclusive, 0, 100), 0.001)
}

func TestComputeInclusive(t *testing.T) {
	var e Engine
	// 110 at 10% inclusive carries 10 of tax.
	require.InDelta(t, 10.0, e.Compute(TypeInclusive, 10, 110), 0.001)
	require.InDelta(t, 0.0, e.Compute(TypeInclusive, 0, 110), 0.001)
}

func TestComputeUnknownTypeIsZero(t *testing.T) {
	var e Engine
	require.Zero(t, e.Compute(Type("gst"), 10, 100))
}

func TestComputeGroupSumsRates(t *testing.T) {
	var e Engine
	rates := []Rate{
		{ID: 1, Name: "VAT", Rate: 10},
		{ID: 2, Name: "Levy", Rate: 5},
	}
	computed := e.ComputeGroup(TypeExclusive, rates, 200)
	require.Len(t, computed.Rates, 2)
	require.InDelta(t, 20.0, computed.Rates[0].Tax, 0.001)
	require.InDelta(t, 10.0, computed.Rates[1].Tax, 0.001)
	require.InDelta(t, 30.0, computed.Total, 0.001)
	require.InDelta(t, 30.0, e.GroupValue(TypeExclusive, rates, 200), 0.001)
}

func TestStrategyFlags(t *testing.T) {
	require.True(t, StrategyProductsVat.UsesProductTaxes())
	require.False(t, StrategyProductsVat.UsesOrderTax())
	require.True(t, StrategyFlatVat.UsesOrderTax())
	require.False(t, StrategyFlatVat.UsesProductTaxes())
	require.True(t, StrategyProductsFlatVat.UsesProductTaxes())
	require.True(t, StrategyProductsFlatVat.UsesOrderTax())
}
