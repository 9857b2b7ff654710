package customers

import (
	"errors"
	"time"
)

// ErrCouponExhausted indicates the coupon reached its usage limit.
var ErrCouponExhausted = errors.New("customers: coupon usage limit reached")

// ErrInsufficientFunds indicates an account debit past the balance.
var ErrInsufficientFunds = errors.New("customers: account balance too low")

// Customer carries the fields settlement decisions read.
type Customer struct {
	ID              int64
	Name            string
	Email           string
	GroupID         int64
	AccountAmount   float64
	OwedAmount      float64
	PurchasesAmount float64
	CreditLimit     float64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Group Group
}

// Group is the customer group with its credit policy.
type Group struct {
	ID                   int64
	Name                 string
	MinimalCreditPercent float64
}

// AccountOperation enumerates account history operations.
type AccountOperation string

const (
	// OperationAdd credits the account, e.g. a refund paid to it.
	OperationAdd AccountOperation = "add"
	// OperationDeduct debits the account, e.g. an account-funded payment.
	OperationDeduct AccountOperation = "deduct"
)

// AccountHistory is one customer account movement.
type AccountHistory struct {
	ID          int64
	CustomerID  int64
	OrderID     int64
	Operation   AccountOperation
	Amount      float64
	Description string
	ActorID     int64
	CreatedAt   time.Time
}

// CouponType mirrors coupon discount kinds.
type CouponType string

const (
	CouponPercentage CouponType = "percentage_discount"
	CouponFlat       CouponType = "flat_discount"
)

// Coupon is a customer-assigned coupon.
type Coupon struct {
	ID            int64
	CustomerID    int64
	Code          string
	Name          string
	Type          CouponType
	DiscountValue float64
	LimitUsage    int
	Usage         int
	Active        bool
}

// Usable reports whether the coupon can still be applied.
func (c Coupon) Usable() bool {
	if !c.Active {
		return false
	}
	return c.LimitUsage == 0 || c.Usage < c.LimitUsage
}
