package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("ledger: quantity must be positive")

// HistoryAction enumerates stock movement causes recorded per product.
type HistoryAction string

const (
	// ActionStocked marks the initial intake of a procurement lot.
	ActionStocked HistoryAction = "STOCKED"
	// ActionSold marks consumption by a settled order line.
	ActionSold HistoryAction = "SOLD"
	// ActionReturned marks stock flowing back from a refund or deletion.
	ActionReturned HistoryAction = "RETURNED"
	// ActionDefective marks returned stock pulled back out as unsellable.
	ActionDefective HistoryAction = "DEFECTIVE"
	// ActionDeleted marks removal without resale value.
	ActionDeleted HistoryAction = "DELETED"
	// ActionVoidReturn marks stock restored when a voided order is unwound.
	ActionVoidReturn HistoryAction = "VOID_RETURN"
	// ActionAdjustmentSale marks extra consumption when an order edit raises quantity.
	ActionAdjustmentSale HistoryAction = "ADJUSTMENT_SALE"
	// ActionAdjustmentReturn marks restoration when an order edit lowers quantity.
	ActionAdjustmentReturn HistoryAction = "ADJUSTMENT_RETURN"
)

// Lot is a procurement batch carrying its own unit price. Consumption
// drains available_quantity oldest lot first.
type Lot struct {
	ID            int64
	ProductID     int64
	UnitID        int64
	ProcurementID int64
	Quantity      float64
	Available     float64
	UnitPrice     float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HistoryEntry is one append-only product movement record.
type HistoryEntry struct {
	ID             int64
	ProductID      int64
	UnitID         int64
	LotID          int64
	OrderID        int64
	OrderProductID int64
	Action         HistoryAction
	Quantity       float64
	UnitPrice      float64
	TotalPrice     float64
	Before         float64
	After          float64
	Description    string
	ActorID        int64
	CreatedAt      time.Time
}

// HistoryFilter narrows history listings.
type HistoryFilter struct {
	ProductID int64
	OrderID   int64
	Action    HistoryAction
	Limit     int
}

// Consumption records a draw against one lot.
type Consumption struct {
	LotID     int64
	Quantity  float64
	UnitPrice float64
}

// ConsumeResult aggregates the lots drained by one consumption.
type ConsumeResult struct {
	Consumed  []Consumption
	TotalCost float64
}

// Restoration records a refill of one lot.
type Restoration struct {
	LotID     int64
	Quantity  float64
	UnitPrice float64
}

// RestoreResult aggregates the lots refilled by one restoration. When the
// restored quantity exceeds what the existing lots can absorb, the remainder
// lands in a fresh lot priced at the product cost.
type RestoreResult struct {
	Restored          []Restoration
	CompensatedQty    float64
	CompensatingLot   int64
	CompensatingPrice float64
}

// InsufficientStockError reports a consumption that exceeds availability.
type InsufficientStockError struct {
	ProductID int64
	UnitID    int64
	Requested float64
	Available float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for product %d unit %d: requested %.2f, available %.2f",
		e.ProductID, e.UnitID, e.Requested, e.Available)
}
