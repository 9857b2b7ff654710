package ledger

import (
	"context"
	"time"

	"github.com/oakpos/oakpos/internal/money"
)

// Engine runs the FIFO walks against a locked lot set. It is stateless and
// safe to share; callers supply the transaction-scoped repository so the
// walk and its mutations commit or roll back together.
type Engine struct{}

// Cost prices a hypothetical consumption of qty without mutating lots and
// returns the total cost. The walk drains oldest lots first; any shortfall
// is priced at the last lot seen, falling back to the product cost when no
// lots exist. Callers wanting a per-unit figure divide at the edge so the
// rounding happens once, on the total.
func (Engine) Cost(ctx context.Context, tx TxRepository, productID, unitID int64, qty float64) (float64, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	lots, err := tx.LotsOldestFirst(ctx, productID, unitID)
	if err != nil {
		return 0, err
	}
	cost := money.New(0)
	remaining := qty
	lastPrice := 0.0
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		take := lot.Available
		if take > remaining {
			take = remaining
		}
		cost = cost.Add(money.New(lot.UnitPrice).MultiplyBy(take).Raw())
		remaining -= take
		lastPrice = lot.UnitPrice
	}
	if remaining > 0 {
		price := lastPrice
		if len(lots) == 0 {
			price, err = tx.ProductCost(ctx, productID, unitID)
			if err != nil {
				return 0, err
			}
		}
		cost = cost.Add(money.New(price).MultiplyBy(remaining).Raw())
	}
	return cost.Float(), nil
}

// Consume drains qty from the product's lots oldest first. Availability is
// checked across the locked set before any lot is touched, so a shortfall
// leaves every lot untouched.
func (Engine) Consume(ctx context.Context, tx TxRepository, productID, unitID int64, qty float64) (ConsumeResult, error) {
	if qty <= 0 {
		return ConsumeResult{}, ErrInvalidQuantity
	}
	lots, err := tx.LockLotsOldestFirst(ctx, productID, unitID)
	if err != nil {
		return ConsumeResult{}, err
	}
	available := 0.0
	for _, lot := range lots {
		available += lot.Available
	}
	if available < qty {
		return ConsumeResult{}, &InsufficientStockError{
			ProductID: productID,
			UnitID:    unitID,
			Requested: qty,
			Available: available,
		}
	}
	var result ConsumeResult
	cost := money.New(0)
	remaining := qty
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		take := lot.Available
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		if err := tx.SetLotAvailable(ctx, lot.ID, lot.Available-take); err != nil {
			return ConsumeResult{}, err
		}
		result.Consumed = append(result.Consumed, Consumption{
			LotID:     lot.ID,
			Quantity:  take,
			UnitPrice: lot.UnitPrice,
		})
		cost = cost.Add(money.New(lot.UnitPrice).MultiplyBy(take).Raw())
		remaining -= take
	}
	result.TotalCost = cost.Float()
	return result, nil
}

// Restore returns qty to the product's lots, most recently touched first,
// never refilling a lot past its original quantity. Whatever the existing
// lots cannot absorb becomes a new lot priced at the product cost.
func (Engine) Restore(ctx context.Context, tx TxRepository, productID, unitID int64, qty float64) (RestoreResult, error) {
	if qty <= 0 {
		return RestoreResult{}, ErrInvalidQuantity
	}
	lots, err := tx.LockLotsNewestFirst(ctx, productID, unitID)
	if err != nil {
		return RestoreResult{}, err
	}
	var result RestoreResult
	remaining := qty
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		room := lot.Quantity - lot.Available
		if room <= 0 {
			continue
		}
		give := room
		if give > remaining {
			give = remaining
		}
		if err := tx.SetLotAvailable(ctx, lot.ID, lot.Available+give); err != nil {
			return RestoreResult{}, err
		}
		result.Restored = append(result.Restored, Restoration{LotID: lot.ID, Quantity: give, UnitPrice: lot.UnitPrice})
		remaining -= give
	}
	if remaining > 0 {
		price, err := tx.ProductCost(ctx, productID, unitID)
		if err != nil {
			return RestoreResult{}, err
		}
		now := time.Now().UTC()
		lotID, err := tx.InsertLot(ctx, Lot{
			ProductID: productID,
			UnitID:    unitID,
			Quantity:  remaining,
			Available: remaining,
			UnitPrice: price,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return RestoreResult{}, err
		}
		result.CompensatedQty = remaining
		result.CompensatingLot = lotID
		result.CompensatingPrice = price
	}
	return result, nil
}
