package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/oakpos/oakpos/internal/customers"
	"github.com/oakpos/oakpos/internal/ledger"
	"github.com/oakpos/oakpos/internal/money"
	"github.com/oakpos/oakpos/internal/shared"
)

// RefundLineInput selects one order line slice to refund.
type RefundLineInput struct {
	OrderProductID int64
	Quantity       float64
	Condition      RefundCondition
}

// RefundInput describes a refund operation.
type RefundInput struct {
	Lines          []RefundLineInput
	RefundShipping bool
	ToAccount      bool
}

var refundableStatuses = map[PaymentStatus]bool{
	StatusPartiallyPaid:     true,
	StatusUnpaid:            true,
	StatusPaid:              true,
	StatusPartiallyRefunded: true,
}

// RefundOrder creates a refund shell, processes each requested line,
// optionally refunds shipping, credits the customer account when asked,
// and refreshes the order.
func (s *Service) RefundOrder(ctx context.Context, orderID int64, input RefundInput, actorID int64) (Order, OrderRefund, error) {
	if len(input.Lines) == 0 && !input.RefundShipping {
		return Order{}, OrderRefund{}, notAllowedf("a refund needs at least one line or shipping")
	}
	for _, line := range input.Lines {
		if line.Condition != ConditionDamaged && line.Condition != ConditionUnspoiled {
			return Order{}, OrderRefund{}, notAllowedf("refund condition must be damaged or unspoiled")
		}
		if line.Quantity <= 0 {
			return Order{}, OrderRefund{}, notAllowedf("refund quantity must be positive")
		}
	}

	var (
		refund  OrderRefund
		updated Order
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !refundableStatuses[order.PaymentStatus] {
			return notAllowedf("a %s order cannot be refunded", order.PaymentStatus)
		}

		now := time.Now().UTC()
		refund = OrderRefund{OrderID: orderID, ActorID: actorID, CreatedAt: now}
		refundID, err := tx.InsertRefund(ctx, refund)
		if err != nil {
			return err
		}
		refund.ID = refundID

		total := money.New(0)
		taxTotal := money.New(0)
		for _, req := range input.Lines {
			productRefund, err := s.refundSingleProduct(ctx, tx, &order, refund.ID, req, actorID)
			if err != nil {
				return err
			}
			refund.Lines = append(refund.Lines, productRefund)
			total = total.Add(productRefund.Total)
			taxTotal = taxTotal.Add(productRefund.TaxValue)
		}
		if input.RefundShipping && order.Shipping > 0 {
			refund.Shipping = order.Shipping
			total = total.Add(order.Shipping)
			order.Shipping = 0
		}
		refund.Total = total.Float()
		refund.TaxValue = taxTotal.Float()
		if err := tx.UpdateRefund(ctx, refund); err != nil {
			return err
		}

		order.TotalRefunded = money.New(order.TotalRefunded).Add(refund.Total).Float()
		requested := StatusUnpaid
		if order.PaymentStatus == StatusHold {
			requested = StatusHold
		}
		// Taxes shrink with the remaining lines, otherwise a fully
		// refunded order keeps a phantom order-level tax.
		if err := s.refreshTaxes(ctx, &order); err != nil {
			return err
		}
		ComputeTotals(&order)
		RefreshPayments(&order, requested)
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, OrderRefund{}, err
	}

	if input.ToAccount && refund.Total > 0 {
		err := s.customers.CreditAccount(ctx, customers.AccountInput{
			CustomerID:  updated.CustomerID,
			OrderID:     orderID,
			Amount:      refund.Total,
			Description: fmt.Sprintf("refund on order %s", updated.Code),
			ActorID:     actorID,
		})
		if err != nil {
			return Order{}, OrderRefund{}, err
		}
	}
	s.hooks.AfterRefund.Notify(ctx, refund)
	s.recordAudit(ctx, actorID, "orders:refund", updated)
	return updated, refund, nil
}

// refundSingleProduct decrements the line's live quantity, records the
// refund row, and moves stock: a return priced at FIFO cost, plus an
// immediate defective write-off when the goods came back damaged.
func (s *Service) refundSingleProduct(ctx context.Context, tx TxRepository, order *Order, refundID int64, req RefundLineInput, actorID int64) (OrderProductRefund, error) {
	line, ok := order.Line(req.OrderProductID)
	if !ok {
		return OrderProductRefund{}, fmt.Errorf("%w: order %d has no line %d", shared.ErrNotFound, order.ID, req.OrderProductID)
	}
	if req.Quantity > line.Quantity+epsilon {
		return OrderProductRefund{}, notAllowedf("cannot refund %.2f of %.2f sold", req.Quantity, line.Quantity)
	}

	unit := money.New(line.UnitPrice)
	refundTotal := unit.MultiplyBy(req.Quantity)
	taxShare := 0.0
	if line.Quantity > 0 {
		perUnitTax, err := money.New(line.TaxValue).DivideBy(line.Quantity)
		if err != nil {
			return OrderProductRefund{}, err
		}
		taxShare = perUnitTax.MultiplyBy(req.Quantity).Float()
	}

	line.Quantity = money.New(line.Quantity).Subtract(req.Quantity).Float()
	line.TaxValue = money.New(line.TaxValue).Subtract(taxShare).Float()
	line.TotalPrice = money.New(line.TotalPrice).Subtract(refundTotal.Float()).Float()
	if err := tx.UpdateLine(ctx, *line); err != nil {
		return OrderProductRefund{}, err
	}

	productRefund := OrderProductRefund{
		RefundID:       refundID,
		OrderID:        order.ID,
		OrderProductID: line.ID,
		ProductID:      line.ProductID,
		UnitID:         line.UnitID,
		Condition:      req.Condition,
		Quantity:       req.Quantity,
		UnitPrice:      line.UnitPrice,
		Total:          refundTotal.Float(),
		TaxValue:       taxShare,
		CreatedAt:      time.Now().UTC(),
	}
	id, err := tx.InsertProductRefund(ctx, productRefund)
	if err != nil {
		return OrderProductRefund{}, err
	}
	productRefund.ID = id

	tracked, targets, err := s.stockTargets(ctx, line.ProductID, line.UnitID, req.Quantity)
	if err != nil {
		return OrderProductRefund{}, err
	}
	if tracked {
		// Return at FIFO cost, never at sale price.
		if err := s.restoreLine(ctx, tx, order.ID, *line, req.Quantity, ledger.ActionReturned, actorID); err != nil {
			return OrderProductRefund{}, err
		}
		if req.Condition == ConditionDamaged {
			// Write off the same targets the return just refilled.
			for _, target := range targets {
				result, err := s.engine.Consume(ctx, tx.Ledger(), target.productID, target.unitID, target.qty)
				if err != nil {
					return OrderProductRefund{}, err
				}
				if err := s.logMovement(ctx, tx, order.ID, line.ID, target, result.TotalCost, ledger.ActionDefective, actorID); err != nil {
					return OrderProductRefund{}, err
				}
			}
		}
	}
	return productRefund, nil
}
