package orders

import (
	"fmt"
	"time"

	"github.com/oakpos/oakpos/internal/money"
	"github.com/oakpos/oakpos/internal/tax"
)

// epsilon absorbs float noise when comparing rounded currency values.
const epsilon = 1e-6

// ResolvePaymentStatus applies the settlement decision table. The rules are
// evaluated in priority order at creation and at every refresh.
func ResolvePaymentStatus(total, tendered, refunded float64, paymentCount int, requested PaymentStatus) PaymentStatus {
	total = money.Round(total)
	tendered = money.Round(tendered)
	refunded = money.Round(refunded)
	switch {
	case total <= epsilon && refunded > epsilon:
		return StatusRefunded
	case total > epsilon && refunded > epsilon:
		return StatusPartiallyRefunded
	case tendered >= total-epsilon && paymentCount > 0 && refunded <= epsilon:
		return StatusPaid
	case tendered > epsilon && tendered < total-epsilon:
		return StatusPartiallyPaid
	case requested == StatusHold:
		return StatusHold
	}
	return StatusUnpaid
}

// StatusForType maps an order type to its initial process and delivery
// statuses: counter sales have nothing to track.
func StatusForType(t OrderType) (ProcessStatus, DeliveryStatus) {
	if t == TypeDelivery {
		return ProcessPending, DeliveryPending
	}
	return ProcessNotAvailable, DeliveryNotAvailable
}

// LineTotals recomputes one line's discount, tax and total in place. The
// total stays tax-free for exclusive pricing; the order total adds the
// aggregated tax once.
func LineTotals(line *OrderProduct, taxType tax.Type, rates []tax.Rate, engine tax.Engine) {
	gross := money.New(line.UnitPrice).MultiplyBy(line.Quantity)
	if line.DiscountType == DiscountPercentage {
		line.Discount = money.Percent(gross.Float(), line.DiscountPercentage)
	}
	discounted := gross.Subtract(line.Discount)
	line.TaxValue = engine.GroupValue(taxType, rates, discounted.Float())
	line.TotalPrice = discounted.Float()
}

// ComputeTotals recomputes the order money fields from its lines, coupons
// and shipping. Payment figures are untouched.
func ComputeTotals(order *Order) {
	subtotal := money.New(0)
	productsTax := money.New(0)
	cogs := money.New(0)
	for _, line := range order.Products {
		subtotal = subtotal.Add(line.TotalPrice)
		productsTax = productsTax.Add(line.TaxValue)
		cogs = cogs.Add(line.TotalPurchasePrice)
	}
	order.Subtotal = subtotal.Float()
	order.ProductsTaxValue = productsTax.Float()
	order.TotalCOGS = cogs.Float()

	if order.DiscountType == DiscountPercentage {
		order.Discount = money.Percent(order.Subtotal, order.DiscountPercentage)
	}

	coupons := money.New(0)
	for _, coupon := range order.Coupons {
		coupons = coupons.Add(coupon.Value)
	}
	order.TotalCoupons = coupons.Float()

	base := money.New(order.Subtotal).
		Subtract(order.Discount).
		Subtract(order.TotalCoupons).
		Add(order.Shipping)
	if order.TaxType == tax.TypeExclusive {
		withTax := base.Add(order.TaxValue)
		order.Total = withTax.Float()
		order.TotalWithTax = withTax.Float()
		order.TotalWithoutTax = base.Float()
	} else {
		order.Total = base.Float()
		order.TotalWithTax = base.Float()
		order.TotalWithoutTax = base.Subtract(order.TaxValue).Float()
	}
}

// RefreshPayments recomputes tendered, change and payment status from the
// persisted payments and refunds.
func RefreshPayments(order *Order, requested PaymentStatus) {
	order.Tendered = money.Round(order.PaymentsTotal())
	order.Change = money.New(order.Tendered).Subtract(order.Total).Float()
	order.PaymentStatus = ResolvePaymentStatus(order.Total, order.Tendered, order.TotalRefunded, len(order.Payments), requested)
}

// FormatOrderCode renders the date-based daily sequence, e.g. 260301-004.
func FormatOrderCode(date time.Time, sequence int64) string {
	return fmt.Sprintf("%s-%03d", date.Format("060102"), sequence)
}
