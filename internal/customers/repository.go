package customers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakpos/oakpos/internal/platform/db"
	"github.com/oakpos/oakpos/internal/shared"
)

// Repository persists customers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional account operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Customer, error)
	SetAccountAmount(ctx context.Context, id int64, amount float64) error
	AdjustOwed(ctx context.Context, id int64, delta float64) error
	AdjustPurchases(ctx context.Context, id int64, delta float64) error
	InsertAccountHistory(ctx context.Context, h AccountHistory) (int64, error)
	GetCouponForUpdate(ctx context.Context, customerID int64, code string) (Coupon, error)
	SetCouponUsage(ctx context.Context, couponID int64, usage int) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const customerColumns = `c.id, c.name, COALESCE(c.email, ''), c.group_id,
	c.account_amount, c.owed_amount, c.purchases_amount, c.credit_limit,
	c.created_at, c.updated_at,
	g.id, g.name, g.minimal_credit_payment`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.GroupID,
		&c.AccountAmount, &c.OwedAmount, &c.PurchasesAmount, &c.CreditLimit,
		&c.CreatedAt, &c.UpdatedAt,
		&c.Group.ID, &c.Group.Name, &c.Group.MinimalCreditPercent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, shared.ErrNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

// Get loads a customer with their group.
func (r *Repository) Get(ctx context.Context, id int64) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers c
		JOIN customer_groups g ON g.id = c.group_id
		WHERE c.id = $1
	`, id))
}

// Coupon loads a customer's coupon by code without locking it.
func (r *Repository) Coupon(ctx context.Context, customerID int64, code string) (Coupon, error) {
	return scanCoupon(r.pool.QueryRow(ctx, couponQuery, customerID, code))
}

const couponQuery = `
	SELECT id, customer_id, code, name, type, discount_value, limit_usage, usage, active
	FROM customer_coupons
	WHERE customer_id = $1 AND code = $2`

func scanCoupon(row pgx.Row) (Coupon, error) {
	var c Coupon
	err := row.Scan(&c.ID, &c.CustomerID, &c.Code, &c.Name, &c.Type,
		&c.DiscountValue, &c.LimitUsage, &c.Usage, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Coupon{}, shared.ErrNotFound
		}
		return Coupon{}, err
	}
	return c, nil
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (Customer, error) {
	c, err := scanCustomer(r.tx.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers c
		JOIN customer_groups g ON g.id = c.group_id
		WHERE c.id = $1
		FOR UPDATE OF c
	`, id))
	return c, err
}

func (r *txRepo) SetAccountAmount(ctx context.Context, id int64, amount float64) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE customers SET account_amount = $2, updated_at = NOW() WHERE id = $1
	`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) AdjustOwed(ctx context.Context, id int64, delta float64) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE customers SET owed_amount = owed_amount + $2, updated_at = NOW() WHERE id = $1
	`, id, delta)
	return err
}

func (r *txRepo) AdjustPurchases(ctx context.Context, id int64, delta float64) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE customers SET purchases_amount = purchases_amount + $2, updated_at = NOW() WHERE id = $1
	`, id, delta)
	return err
}

func (r *txRepo) InsertAccountHistory(ctx context.Context, h AccountHistory) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO customer_account_histories
			(customer_id, order_id, operation, amount, description, actor_id, created_at)
		VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7)
		RETURNING id
	`, h.CustomerID, h.OrderID, string(h.Operation), h.Amount, h.Description, h.ActorID, h.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) GetCouponForUpdate(ctx context.Context, customerID int64, code string) (Coupon, error) {
	return scanCoupon(r.tx.QueryRow(ctx, couponQuery+` FOR UPDATE`, customerID, code))
}

func (r *txRepo) SetCouponUsage(ctx context.Context, couponID int64, usage int) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE customer_coupons SET usage = $2 WHERE id = $1
	`, couponID, usage)
	return err
}
