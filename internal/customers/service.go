package customers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oakpos/oakpos/internal/money"
	"github.com/oakpos/oakpos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Customer, error)
	Coupon(ctx context.Context, customerID int64, code string) (Coupon, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages customer balances and coupons for the settlement flow.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Get loads a customer.
func (s *Service) Get(ctx context.Context, id int64) (Customer, error) {
	return s.repo.Get(ctx, id)
}

// AccountInput describes a credit or debit against a customer account.
type AccountInput struct {
	CustomerID  int64
	OrderID     int64
	Amount      float64
	Description string
	ActorID     int64
}

// CreditAccount adds funds to the customer account.
func (s *Service) CreditAccount(ctx context.Context, input AccountInput) error {
	if input.Amount <= 0 {
		return errors.New("customers: credit amount must be positive")
	}
	return s.applyAccount(ctx, input, OperationAdd)
}

// DebitAccount removes funds from the customer account, refusing to go
// below zero.
func (s *Service) DebitAccount(ctx context.Context, input AccountInput) error {
	if input.Amount <= 0 {
		return errors.New("customers: debit amount must be positive")
	}
	return s.applyAccount(ctx, input, OperationDeduct)
}

func (s *Service) applyAccount(ctx context.Context, input AccountInput, op AccountOperation) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		customer, err := tx.GetForUpdate(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		balance := money.New(customer.AccountAmount)
		if op == OperationAdd {
			balance = balance.Add(input.Amount)
		} else {
			balance = balance.Subtract(input.Amount)
			if balance.Float() < 0 {
				return ErrInsufficientFunds
			}
		}
		if err := tx.SetAccountAmount(ctx, input.CustomerID, balance.Float()); err != nil {
			return err
		}
		_, err = tx.InsertAccountHistory(ctx, AccountHistory{
			CustomerID:  input.CustomerID,
			OrderID:     input.OrderID,
			Operation:   op,
			Amount:      input.Amount,
			Description: input.Description,
			ActorID:     input.ActorID,
			CreatedAt:   time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("customers:account:%s", op),
			Entity:   "customer",
			EntityID: fmt.Sprintf("%d", input.CustomerID),
			Meta: map[string]any{
				"amount":   input.Amount,
				"order_id": input.OrderID,
			},
		})
	}
	return nil
}

// AdjustOwed shifts the customer's owed amount when an order's due balance
// changes.
func (s *Service) AdjustOwed(ctx context.Context, customerID int64, delta float64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.AdjustOwed(ctx, customerID, delta)
	})
}

// RecordPurchase shifts the customer's lifetime purchases total.
func (s *Service) RecordPurchase(ctx context.Context, customerID int64, delta float64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.AdjustPurchases(ctx, customerID, delta)
	})
}

// Coupon returns the customer's coupon when it can still be used.
func (s *Service) Coupon(ctx context.Context, customerID int64, code string) (Coupon, error) {
	coupon, err := s.repo.Coupon(ctx, customerID, code)
	if err != nil {
		return Coupon{}, err
	}
	if !coupon.Usable() {
		return Coupon{}, ErrCouponExhausted
	}
	return coupon, nil
}

// UseCoupon increments coupon usage under lock, re-checking the limit.
func (s *Service) UseCoupon(ctx context.Context, customerID int64, code string) (Coupon, error) {
	var coupon Coupon
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		coupon, err = tx.GetCouponForUpdate(ctx, customerID, code)
		if err != nil {
			return err
		}
		if !coupon.Usable() {
			return ErrCouponExhausted
		}
		coupon.Usage++
		return tx.SetCouponUsage(ctx, coupon.ID, coupon.Usage)
	})
	if err != nil {
		return Coupon{}, err
	}
	return coupon, nil
}
