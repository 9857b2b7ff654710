package orders

import (
	"fmt"
	"time"

	"github.com/oakpos/oakpos/internal/shared"
	"github.com/oakpos/oakpos/internal/tax"
)

// PaymentStatus tracks how far an order is settled.
type PaymentStatus string

const (
	StatusHold              PaymentStatus = "HOLD"
	StatusUnpaid            PaymentStatus = "UNPAID"
	StatusPartiallyPaid     PaymentStatus = "PARTIALLY_PAID"
	StatusPaid              PaymentStatus = "PAID"
	StatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	StatusRefunded          PaymentStatus = "REFUNDED"
	StatusDue               PaymentStatus = "DUE"
	StatusPartiallyDue      PaymentStatus = "PARTIALLY_DUE"
	StatusVoid              PaymentStatus = "VOID"
)

// ProcessStatus tracks kitchen/fulfilment progress.
type ProcessStatus string

const (
	ProcessPending      ProcessStatus = "pending"
	ProcessOngoing      ProcessStatus = "ongoing"
	ProcessReady        ProcessStatus = "ready"
	ProcessFailed       ProcessStatus = "failed"
	ProcessNotAvailable ProcessStatus = "not-available"
)

// DeliveryStatus tracks hand-over progress.
type DeliveryStatus string

const (
	DeliveryPending      DeliveryStatus = "pending"
	DeliveryOngoing      DeliveryStatus = "ongoing"
	DeliveryDelivered    DeliveryStatus = "delivered"
	DeliveryFailed       DeliveryStatus = "failed"
	DeliveryCompleted    DeliveryStatus = "completed"
	DeliveryNotAvailable DeliveryStatus = "not-available"
)

// OrderType separates counter sales from deliveries.
type OrderType string

const (
	TypeTakeaway OrderType = "takeaway"
	TypeDelivery OrderType = "delivery"
)

// DiscountType applies to orders and to lines.
type DiscountType string

const (
	DiscountNone       DiscountType = ""
	DiscountPercentage DiscountType = "percentage"
	DiscountFlat       DiscountType = "flat"
)

// RefundCondition qualifies returned goods.
type RefundCondition string

const (
	ConditionDamaged   RefundCondition = "damaged"
	ConditionUnspoiled RefundCondition = "unspoiled"
)

// AddressType distinguishes the two addresses an order carries.
type AddressType string

const (
	AddressBilling  AddressType = "billing"
	AddressShipping AddressType = "shipping"
)

// Order is the settlement aggregate.
type Order struct {
	ID                 int64
	Code               string
	CustomerID         int64
	Type               OrderType
	PaymentStatus      PaymentStatus
	ProcessStatus      ProcessStatus
	DeliveryStatus     DeliveryStatus
	Subtotal           float64
	DiscountType       DiscountType
	DiscountPercentage float64
	Discount           float64
	TotalCoupons       float64
	Shipping           float64
	TaxType            tax.Type
	TaxGroupID         int64
	TaxValue           float64
	ProductsTaxValue   float64
	Total              float64
	TotalWithTax       float64
	TotalWithoutTax    float64
	TotalCOGS          float64
	TotalRefunded      float64
	Tendered           float64
	Change             float64
	TotalInstalments   int
	FinalPaymentDate   *time.Time
	VoidReason         string
	Note               string
	SessionToken       string
	CreatedBy          int64
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Products    []OrderProduct
	Payments    []OrderPayment
	Taxes       []OrderTax
	Coupons     []OrderCoupon
	Instalments []OrderInstalment
	Addresses   []OrderAddress
}

// Line finds an order line by its id.
func (o *Order) Line(lineID int64) (*OrderProduct, bool) {
	for i := range o.Products {
		if o.Products[i].ID == lineID {
			return &o.Products[i], true
		}
	}
	return nil, false
}

// PaymentsTotal sums recorded payments.
func (o *Order) PaymentsTotal() float64 {
	total := 0.0
	for _, p := range o.Payments {
		total += p.Value
	}
	return total
}

// OrderProduct is one sold line.
type OrderProduct struct {
	ID                 int64
	OrderID            int64
	ProductID          int64
	UnitID             int64
	Name               string
	Quantity           float64
	UnitPrice          float64
	DiscountType       DiscountType
	DiscountPercentage float64
	Discount           float64
	TaxGroupID         int64
	TaxValue           float64
	TotalPrice         float64
	TotalPurchasePrice float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderPayment is one recorded payment.
type OrderPayment struct {
	ID         int64
	OrderID    int64
	Identifier string
	Value      float64
	ActorID    int64
	CreatedAt  time.Time
}

// PaymentAccount is the identifier of account-funded payments.
const PaymentAccount = "account-payment"

// OrderTax is the order-level share of one tax rate.
type OrderTax struct {
	ID       int64
	OrderID  int64
	TaxID    int64
	TaxName  string
	Rate     float64
	TaxValue float64
}

// OrderCoupon is an applied customer coupon with its computed value.
type OrderCoupon struct {
	ID            int64
	OrderID       int64
	CouponID      int64
	Code          string
	Name          string
	Type          string
	DiscountValue float64
	Value         float64
}

// OrderInstalment is one scheduled payment slice.
type OrderInstalment struct {
	ID        int64
	OrderID   int64
	Amount    float64
	Date      time.Time
	Paid      bool
	PaymentID int64
}

// OrderAddress is a filtered billing or shipping address.
type OrderAddress struct {
	ID        int64
	OrderID   int64
	Type      AddressType
	FirstName string
	LastName  string
	Phone     string
	Address1  string
	Address2  string
	Country   string
	City      string
	PoBox     string
	Company   string
	Email     string
}

// AddressFromMap builds an address from loosely-typed input, keeping only
// the known keys and dropping the rest silently.
func AddressFromMap(kind AddressType, fields map[string]string) OrderAddress {
	return OrderAddress{
		Type:      kind,
		FirstName: fields["first_name"],
		LastName:  fields["last_name"],
		Phone:     fields["phone"],
		Address1:  fields["address_1"],
		Address2:  fields["address_2"],
		Country:   fields["country"],
		City:      fields["city"],
		PoBox:     fields["pobox"],
		Company:   fields["company"],
		Email:     fields["email"],
	}
}

// OrderRefund is the shell grouping one refund operation.
type OrderRefund struct {
	ID        int64
	OrderID   int64
	Total     float64
	TaxValue  float64
	Shipping  float64
	ActorID   int64
	CreatedAt time.Time

	Lines []OrderProductRefund
}

// OrderProductRefund is one refunded line slice.
type OrderProductRefund struct {
	ID             int64
	RefundID       int64
	OrderID        int64
	OrderProductID int64
	ProductID      int64
	UnitID         int64
	Condition      RefundCondition
	Quantity       float64
	UnitPrice      float64
	Total          float64
	TaxValue       float64
	CreatedAt      time.Time
}

func notAllowedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrNotAllowed, fmt.Sprintf(format, args...))
}
