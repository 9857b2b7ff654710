// Package money provides fixed-precision monetary arithmetic. Every
// component that computes totals, taxes or discounts funnels through it so
// rounding stays consistent across the whole settlement pipeline.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimal places kept by terminal
// conversions unless a different precision is configured.
const DefaultPrecision = 2

// ErrDivisionByZero indicates an invalid monetary division. It is a
// programming-contract violation, never user input.
var ErrDivisionByZero = errors.New("money: division by zero")

// Amount is an immutable monetary value. Operations return a new Amount so
// expressions can be chained without aliasing surprises.
type Amount struct {
	value     decimal.Decimal
	precision int32
}

// New builds an Amount from a float at the default precision.
func New(value float64) Amount {
	return NewWithPrecision(value, DefaultPrecision)
}

// NewWithPrecision builds an Amount rounded at terminal conversions to the
// given number of decimal places.
func NewWithPrecision(value float64, precision int32) Amount {
	return Amount{value: decimal.NewFromFloat(value), precision: precision}
}

// Add returns a + v.
func (a Amount) Add(v float64) Amount {
	return Amount{value: a.value.Add(decimal.NewFromFloat(v)), precision: a.precision}
}

// Subtract returns a - v.
func (a Amount) Subtract(v float64) Amount {
	return Amount{value: a.value.Sub(decimal.NewFromFloat(v)), precision: a.precision}
}

// MultiplyBy returns a * v.
func (a Amount) MultiplyBy(v float64) Amount {
	return Amount{value: a.value.Mul(decimal.NewFromFloat(v)), precision: a.precision}
}

// DivideBy returns a / v, or ErrDivisionByZero when v is zero.
func (a Amount) DivideBy(v float64) (Amount, error) {
	d := decimal.NewFromFloat(v)
	if d.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	return Amount{value: a.value.Div(d), precision: a.precision}, nil
}

// Float returns the value rounded half-up at the configured precision.
func (a Amount) Float() float64 {
	f, _ := a.value.Round(a.precision).Float64()
	return f
}

// Raw returns the unrounded value.
func (a Amount) Raw() float64 {
	f, _ := a.value.Float64()
	return f
}

// Round is a shorthand for New(v).Float(): it normalises a float to the
// default monetary precision.
func Round(v float64) float64 {
	return New(v).Float()
}

// Percent returns rate percent of value, rounded at default precision.
// A non-positive rate yields zero.
func Percent(value, rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	out, err := New(value).MultiplyBy(rate).DivideBy(100)
	if err != nil {
		return 0
	}
	return out.Float()
}
