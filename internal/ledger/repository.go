package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakpos/oakpos/internal/platform/db"
	"github.com/oakpos/oakpos/internal/shared"
)

// Repository persists lots and product history in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations the FIFO engine needs.
type TxRepository interface {
	LotsOldestFirst(ctx context.Context, productID, unitID int64) ([]Lot, error)
	LockLotsOldestFirst(ctx context.Context, productID, unitID int64) ([]Lot, error)
	LockLotsNewestFirst(ctx context.Context, productID, unitID int64) ([]Lot, error)
	SetLotAvailable(ctx context.Context, lotID int64, available float64) error
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	ProductCost(ctx context.Context, productID, unitID int64) (float64, error)
	InsertHistory(ctx context.Context, entry HistoryEntry) (int64, error)
	HistoryExists(ctx context.Context, orderID, orderProductID int64, action HistoryAction) (bool, error)
	StockOnHand(ctx context.Context, productID, unitID int64) (float64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other domains can run ledger
// operations inside their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const lotColumns = `id, product_id, unit_id, procurement_id, quantity, available_quantity, unit_price, created_at, updated_at`

func scanLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(
			&lot.ID, &lot.ProductID, &lot.UnitID, &lot.ProcurementID,
			&lot.Quantity, &lot.Available, &lot.UnitPrice,
			&lot.CreatedAt, &lot.UpdatedAt,
		); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ListLots returns all lots for a product, oldest first.
func (r *Repository) ListLots(ctx context.Context, productID, unitID int64) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+lotColumns+`
		FROM procurement_products
		WHERE product_id = $1 AND unit_id = $2
		ORDER BY created_at ASC, id ASC
	`, productID, unitID)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

// StockOnHand sums available quantity across lots.
func (r *Repository) StockOnHand(ctx context.Context, productID, unitID int64) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(available_quantity), 0)
		FROM procurement_products
		WHERE product_id = $1 AND unit_id = $2
	`, productID, unitID).Scan(&total)
	return total, err
}

// ListHistory returns product history entries, newest first.
func (r *Repository) ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	query := `
		SELECT id, product_id, unit_id, lot_id, order_id, order_product_id,
		       operation, quantity, unit_price, total_price,
		       before_quantity, after_quantity, description, actor_id, created_at
		FROM product_histories
		WHERE ($1 = 0 OR product_id = $1)
		  AND ($2 = 0 OR order_id = $2)
		  AND ($3 = '' OR operation = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, query, filter.ProductID, filter.OrderID, string(filter.Action), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.ProductID, &e.UnitID, &e.LotID, &e.OrderID, &e.OrderProductID,
			&e.Action, &e.Quantity, &e.UnitPrice, &e.TotalPrice,
			&e.Before, &e.After, &e.Description, &e.ActorID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepo) LotsOldestFirst(ctx context.Context, productID, unitID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+lotColumns+`
		FROM procurement_products
		WHERE product_id = $1 AND unit_id = $2
		ORDER BY created_at ASC, id ASC
	`, productID, unitID)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

func (r *txRepo) LockLotsOldestFirst(ctx context.Context, productID, unitID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+lotColumns+`
		FROM procurement_products
		WHERE product_id = $1 AND unit_id = $2
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, productID, unitID)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

func (r *txRepo) LockLotsNewestFirst(ctx context.Context, productID, unitID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+lotColumns+`
		FROM procurement_products
		WHERE product_id = $1 AND unit_id = $2
		ORDER BY updated_at DESC, id DESC
		FOR UPDATE
	`, productID, unitID)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

func (r *txRepo) SetLotAvailable(ctx context.Context, lotID int64, available float64) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE procurement_products
		SET available_quantity = $2, updated_at = NOW()
		WHERE id = $1
	`, lotID, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO procurement_products
			(product_id, unit_id, procurement_id, quantity, available_quantity, unit_price, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8)
		RETURNING id
	`, lot.ProductID, lot.UnitID, lot.ProcurementID, lot.Quantity, lot.Available, lot.UnitPrice, lot.CreatedAt, lot.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) ProductCost(ctx context.Context, productID, unitID int64) (float64, error) {
	var cost float64
	err := r.tx.QueryRow(ctx, `
		SELECT cost_price
		FROM product_unit_quantities
		WHERE product_id = $1 AND unit_id = $2
	`, productID, unitID).Scan(&cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return cost, nil
}

func (r *txRepo) InsertHistory(ctx context.Context, entry HistoryEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO product_histories
			(product_id, unit_id, lot_id, order_id, order_product_id,
			 operation, quantity, unit_price, total_price,
			 before_quantity, after_quantity, description, actor_id, created_at)
		VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), NULLIF($5, 0),
			$6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, entry.ProductID, entry.UnitID, entry.LotID, entry.OrderID, entry.OrderProductID,
		string(entry.Action), entry.Quantity, entry.UnitPrice, entry.TotalPrice,
		entry.Before, entry.After, entry.Description, entry.ActorID, entry.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) HistoryExists(ctx context.Context, orderID, orderProductID int64, action HistoryAction) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM product_histories
			WHERE order_id = $1 AND order_product_id = $2 AND operation = $3
		)
	`, orderID, orderProductID, string(action)).Scan(&exists)
	return exists, err
}

func (r *txRepo) StockOnHand(ctx context.Context, productID, unitID int64) (float64, error) {
	var total float64
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(available_quantity), 0)
		FROM procurement_products
		WHERE product_id = $1 AND unit_id = $2
	`, productID, unitID).Scan(&total)
	return total, err
}
