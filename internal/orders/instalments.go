package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/oakpos/oakpos/internal/money"
	"github.com/oakpos/oakpos/internal/shared"
)

func findInstalment(order Order, instalmentID int64) (OrderInstalment, error) {
	for _, inst := range order.Instalments {
		if inst.ID == instalmentID {
			return inst, nil
		}
	}
	return OrderInstalment{}, fmt.Errorf("%w: order %d has no instalment %d", shared.ErrNotFound, order.ID, instalmentID)
}

func instalmentsTotal(order Order) float64 {
	total := money.New(0)
	for _, inst := range order.Instalments {
		total = total.Add(inst.Amount)
	}
	return total.Float()
}

// CreateInstalment schedules one payment slice. The schedule can never
// promise more than the order total.
func (s *Service) CreateInstalment(ctx context.Context, orderID int64, input InstalmentInput, actorID int64) (OrderInstalment, error) {
	if input.Amount <= 0 {
		return OrderInstalment{}, notAllowedf("instalment amount must be positive")
	}
	var created OrderInstalment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		scheduled := instalmentsTotal(order)
		if money.New(scheduled).Add(input.Amount).Float() > order.Total+epsilon {
			return notAllowedf("instalments already cover the order total of %.2f", order.Total)
		}
		created = OrderInstalment{OrderID: orderID, Amount: input.Amount, Date: input.Date}
		id, err := tx.InsertInstalment(ctx, created)
		if err != nil {
			return err
		}
		created.ID = id
		order.TotalInstalments = len(order.Instalments) + 1
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return OrderInstalment{}, err
	}
	s.recordAuditID(ctx, actorID, "orders:instalment-create", orderID)
	return created, nil
}

// UpdateInstalment changes the date or amount of an unpaid instalment.
func (s *Service) UpdateInstalment(ctx context.Context, orderID, instalmentID int64, input InstalmentInput, actorID int64) (OrderInstalment, error) {
	if input.Amount <= 0 {
		return OrderInstalment{}, notAllowedf("instalment amount must be positive")
	}
	var updated OrderInstalment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		inst, err := findInstalment(order, instalmentID)
		if err != nil {
			return err
		}
		if inst.Paid {
			return notAllowedf("a paid instalment cannot be edited")
		}
		scheduled := money.New(instalmentsTotal(order)).Subtract(inst.Amount)
		if scheduled.Add(input.Amount).Float() > order.Total+epsilon {
			return notAllowedf("instalments already cover the order total of %.2f", order.Total)
		}
		inst.Amount = input.Amount
		if !input.Date.IsZero() {
			inst.Date = input.Date
		}
		if err := tx.UpdateInstalment(ctx, inst); err != nil {
			return err
		}
		updated = inst
		return nil
	})
	if err != nil {
		return OrderInstalment{}, err
	}
	s.recordAuditID(ctx, actorID, "orders:instalment-update", orderID)
	return updated, nil
}

// DeleteInstalment removes an instalment, paid or not, and refreshes the
// order's instalment count.
func (s *Service) DeleteInstalment(ctx context.Context, orderID, instalmentID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := findInstalment(order, instalmentID); err != nil {
			return err
		}
		if err := tx.DeleteInstalment(ctx, instalmentID); err != nil {
			return err
		}
		order.TotalInstalments = len(order.Instalments) - 1
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return err
	}
	s.recordAuditID(ctx, actorID, "orders:instalment-delete", orderID)
	return nil
}

// MarkInstalmentAsPaid records a real payment for the instalment and links
// it to the slice.
func (s *Service) MarkInstalmentAsPaid(ctx context.Context, orderID, instalmentID int64, paymentType string, actorID int64) (OrderInstalment, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return OrderInstalment{}, err
	}
	inst, err := findInstalment(order, instalmentID)
	if err != nil {
		return OrderInstalment{}, err
	}
	if inst.Paid {
		return OrderInstalment{}, notAllowedf("the instalment is already paid")
	}
	if paymentType == "" {
		paymentType = "cash"
	}
	updated, err := s.MakeOrderSinglePayment(ctx, orderID, PaymentInput{Identifier: paymentType, Value: inst.Amount}, actorID)
	if err != nil {
		return OrderInstalment{}, err
	}
	var paymentID int64
	if n := len(updated.Payments); n > 0 {
		paymentID = updated.Payments[n-1].ID
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inst.Paid = true
		inst.PaymentID = paymentID
		return tx.UpdateInstalment(ctx, inst)
	})
	if err != nil {
		return OrderInstalment{}, err
	}
	s.recordAuditID(ctx, actorID, "orders:instalment-paid", orderID)
	return inst, nil
}

// ResolveInstalments greedily marks today's due instalments paid while the
// tendered surplus still covers them, in schedule order.
func (s *Service) ResolveInstalments(ctx context.Context, orderID int64, now time.Time) (int, error) {
	var resolved int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != StatusPaid && order.PaymentStatus != StatusPartiallyPaid {
			return nil
		}
		paidInstalments := money.New(0)
		for _, inst := range order.Instalments {
			if inst.Paid {
				paidInstalments = paidInstalments.Add(inst.Amount)
			}
		}
		surplus := money.New(order.Tendered).Subtract(paidInstalments.Float())
		today := now.UTC().Truncate(24 * time.Hour)
		for _, inst := range order.Instalments {
			if inst.Paid {
				continue
			}
			due := inst.Date.UTC().Truncate(24 * time.Hour)
			if !due.Equal(today) {
				continue
			}
			if surplus.Float() < inst.Amount-epsilon {
				continue
			}
			inst.Paid = true
			if err := tx.UpdateInstalment(ctx, inst); err != nil {
				return err
			}
			surplus = surplus.Subtract(inst.Amount)
			resolved++
		}
		return nil
	})
	return resolved, err
}
