// Package tax computes order and line taxes. The engine is a pure
// calculator; which rates apply and whether prices are tax inclusive comes
// from the caller.
package tax

import (
	"github.com/oakpos/oakpos/internal/money"
)

// Type tells the engine whether the price already contains the tax.
type Type string

const (
	// TypeInclusive means the tax is carved out of the given price.
	TypeInclusive Type = "inclusive"
	// TypeExclusive means the tax is added on top of the given price.
	TypeExclusive Type = "exclusive"
)

// Strategy selects how an order-level VAT is derived.
type Strategy string

const (
	StrategyProductsVat         Strategy = "products_vat"
	StrategyFlatVat             Strategy = "flat_vat"
	StrategyVariableVat         Strategy = "variable_vat"
	StrategyProductsFlatVat     Strategy = "products_flat_vat"
	StrategyProductsVariableVat Strategy = "products_variable_vat"
)

// UsesProductTaxes reports whether the strategy sums per-line taxes.
func (s Strategy) UsesProductTaxes() bool {
	switch s {
	case StrategyProductsVat, StrategyProductsFlatVat, StrategyProductsVariableVat:
		return true
	}
	return false
}

// UsesOrderTax reports whether the strategy adds a flat or variable order tax.
func (s Strategy) UsesOrderTax() bool {
	switch s {
	case StrategyFlatVat, StrategyVariableVat, StrategyProductsFlatVat, StrategyProductsVariableVat:
		return true
	}
	return false
}

// Rate is one named tax rate, usually part of a group.
type Rate struct {
	ID   int64
	Name string
	Rate float64
}

// RateTax is the computed share of one rate.
type RateTax struct {
	ID   int64
	Name string
	Rate float64
	Tax  float64
}

// Computed carries the per-rate breakdown and the group total.
type Computed struct {
	Rates []RateTax
	Total float64
}

// Engine computes tax values. Zero value is ready to use.
type Engine struct{}

// Compute returns the tax carried by price at a single rate. An unknown
// type yields zero, matching lenient upstream handling of bad settings.
func (Engine) Compute(taxType Type, rate, price float64) float64 {
	switch taxType {
	case TypeInclusive:
		if rate <= -100 {
			return 0
		}
		divided, err := money.New(price).DivideBy(1 + rate/100)
		if err != nil {
			return 0
		}
		return money.New(price).Subtract(divided.Raw()).Float()
	case TypeExclusive:
		return money.Percent(price, rate)
	}
	return 0
}

// ComputeGroup computes every rate of a group against price and sums them.
func (e Engine) ComputeGroup(taxType Type, rates []Rate, price float64) Computed {
	computed := Computed{}
	total := money.New(0)
	for _, rate := range rates {
		tax := e.Compute(taxType, rate.Rate, price)
		computed.Rates = append(computed.Rates, RateTax{
			ID:   rate.ID,
			Name: rate.Name,
			Rate: rate.Rate,
			Tax:  tax,
		})
		total = total.Add(tax)
	}
	computed.Total = total.Float()
	return computed
}

// GroupValue is a shorthand for the summed group tax.
func (e Engine) GroupValue(taxType Type, rates []Rate, price float64) float64 {
	return e.ComputeGroup(taxType, rates, price).Total
}
