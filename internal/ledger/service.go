package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/oakpos/oakpos/internal/money"
	"github.com/oakpos/oakpos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListLots(ctx context.Context, productID, unitID int64) ([]Lot, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
	StockOnHand(ctx context.Context, productID, unitID int64) (float64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates lot movements outside an order settlement. Order flows
// drive the Engine directly inside their own transactions.
type Service struct {
	repo   RepositoryPort
	engine Engine
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// ConsumeInput describes a stock draw.
type ConsumeInput struct {
	ProductID      int64
	UnitID         int64
	Quantity       float64
	OrderID        int64
	OrderProductID int64
	Action         HistoryAction
	ActorID        int64
	Description    string
}

// RestoreInput describes a stock refill.
type RestoreInput struct {
	ProductID      int64
	UnitID         int64
	Quantity       float64
	OrderID        int64
	OrderProductID int64
	Action         HistoryAction
	ActorID        int64
	Description    string
}

// ComputeCost prices qty of a product by walking lots oldest first without
// consuming anything, and reports the per-unit figure.
func (s *Service) ComputeCost(ctx context.Context, productID, unitID int64, qty float64) (float64, error) {
	var total float64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		total, err = s.engine.Cost(ctx, tx, productID, unitID, qty)
		return err
	})
	if err != nil {
		return 0, err
	}
	unit, err := money.New(total).DivideBy(qty)
	if err != nil {
		return 0, err
	}
	return unit.Float(), nil
}

// Consume drains stock and appends the matching history entry. When the
// input names an order line, an already-recorded action makes the call a
// no-op so retried settlements never double-consume.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	if input.Action == "" {
		input.Action = ActionSold
	}
	var result ConsumeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.OrderProductID != 0 {
			done, err := tx.HistoryExists(ctx, input.OrderID, input.OrderProductID, input.Action)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
		before, err := tx.StockOnHand(ctx, input.ProductID, input.UnitID)
		if err != nil {
			return err
		}
		result, err = s.engine.Consume(ctx, tx, input.ProductID, input.UnitID, input.Quantity)
		if err != nil {
			return err
		}
		return recordDraws(ctx, tx, input.ProductID, input.UnitID, input.OrderID, input.OrderProductID,
			input.Action, input.ActorID, input.Description, before, result.Consumed, -1)
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, input.Action, input.ProductID, input.Quantity, input.OrderID)
	return result, nil
}

// Restore refills stock and appends the matching history entry.
func (s *Service) Restore(ctx context.Context, input RestoreInput) (RestoreResult, error) {
	if input.Action == "" {
		input.Action = ActionReturned
	}
	var result RestoreResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.OrderProductID != 0 {
			done, err := tx.HistoryExists(ctx, input.OrderID, input.OrderProductID, input.Action)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
		before, err := tx.StockOnHand(ctx, input.ProductID, input.UnitID)
		if err != nil {
			return err
		}
		result, err = s.engine.Restore(ctx, tx, input.ProductID, input.UnitID, input.Quantity)
		if err != nil {
			return err
		}
		draws := make([]Consumption, 0, len(result.Restored)+1)
		for _, rest := range result.Restored {
			draws = append(draws, Consumption{LotID: rest.LotID, Quantity: rest.Quantity, UnitPrice: rest.UnitPrice})
		}
		if result.CompensatedQty > 0 {
			draws = append(draws, Consumption{LotID: result.CompensatingLot, Quantity: result.CompensatedQty, UnitPrice: result.CompensatingPrice})
		}
		return recordDraws(ctx, tx, input.ProductID, input.UnitID, input.OrderID, input.OrderProductID,
			input.Action, input.ActorID, input.Description, before, draws, 1)
	})
	if err != nil {
		return RestoreResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, input.Action, input.ProductID, input.Quantity, input.OrderID)
	return result, nil
}

// RecordHistory appends a single history entry outside the consume/restore
// flows, e.g. for defective pull-backs.
func (s *Service) RecordHistory(ctx context.Context, entry HistoryEntry) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		_, err := tx.InsertHistory(ctx, entry)
		return err
	})
}

// HistoryExists reports whether an action was already recorded for an order line.
func (s *Service) HistoryExists(ctx context.Context, orderID, orderProductID int64, action HistoryAction) (bool, error) {
	var exists bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		exists, err = tx.HistoryExists(ctx, orderID, orderProductID, action)
		return err
	})
	return exists, err
}

// ListLots lists lots for a product, oldest first.
func (s *Service) ListLots(ctx context.Context, productID, unitID int64) ([]Lot, error) {
	return s.repo.ListLots(ctx, productID, unitID)
}

// ListHistory lists product history entries.
func (s *Service) ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	return s.repo.ListHistory(ctx, filter)
}

// StockOnHand sums available quantity across lots.
func (s *Service) StockOnHand(ctx context.Context, productID, unitID int64) (float64, error) {
	return s.repo.StockOnHand(ctx, productID, unitID)
}

// recordDraws writes one history entry per touched lot, keeping the running
// before/after balance consistent with the movement direction.
func recordDraws(ctx context.Context, tx TxRepository, productID, unitID, orderID, orderProductID int64,
	action HistoryAction, actorID int64, description string, before float64, draws []Consumption, sign float64) error {
	now := time.Now().UTC()
	running := before
	for _, draw := range draws {
		after := running + sign*draw.Quantity
		_, err := tx.InsertHistory(ctx, HistoryEntry{
			ProductID:      productID,
			UnitID:         unitID,
			LotID:          draw.LotID,
			OrderID:        orderID,
			OrderProductID: orderProductID,
			Action:         action,
			Quantity:       draw.Quantity,
			UnitPrice:      draw.UnitPrice,
			TotalPrice:     draw.Quantity * draw.UnitPrice,
			Before:         running,
			After:          after,
			Description:    description,
			ActorID:        actorID,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		running = after
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action HistoryAction, productID int64, qty float64, orderID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   fmt.Sprintf("ledger:%s", action),
		Entity:   "product_history",
		EntityID: fmt.Sprintf("%d", productID),
		Meta: map[string]any{
			"product_id": productID,
			"qty":        qty,
			"order_id":   orderID,
		},
	})
}
