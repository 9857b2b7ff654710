package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakpos/oakpos/internal/ledger"
	"github.com/oakpos/oakpos/internal/platform/db"
	"github.com/oakpos/oakpos/internal/shared"
)

// Repository persists order aggregates in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations the order flows need.
// Ledger returns a lot-ledger view bound to the same transaction so stock
// effects commit or roll back with the order.
type TxRepository interface {
	Ledger() ledger.TxRepository

	NextOrderCode(ctx context.Context, date time.Time) (string, error)

	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	InsertOrder(ctx context.Context, order Order) (int64, error)
	UpdateOrder(ctx context.Context, order Order) error
	DeleteOrder(ctx context.Context, id int64) error

	InsertLine(ctx context.Context, line OrderProduct) (int64, error)
	UpdateLine(ctx context.Context, line OrderProduct) error
	DeleteLine(ctx context.Context, lineID int64) error

	InsertPayment(ctx context.Context, payment OrderPayment) (int64, error)
	DeletePayments(ctx context.Context, orderID int64) error

	ReplaceTaxes(ctx context.Context, orderID int64, taxes []OrderTax) error
	ReplaceCoupons(ctx context.Context, orderID int64, coupons []OrderCoupon) error
	ReplaceAddresses(ctx context.Context, orderID int64, addresses []OrderAddress) error

	InsertInstalment(ctx context.Context, instalment OrderInstalment) (int64, error)
	UpdateInstalment(ctx context.Context, instalment OrderInstalment) error
	DeleteInstalment(ctx context.Context, instalmentID int64) error

	InsertRefund(ctx context.Context, refund OrderRefund) (int64, error)
	UpdateRefund(ctx context.Context, refund OrderRefund) error
	InsertProductRefund(ctx context.Context, line OrderProductRefund) (int64, error)
}

type txRepo struct {
	tx     pgx.Tx
	ledger ledger.TxRepository
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: ledger.NewTxRepository(tx)})
	})
}

func (r *txRepo) Ledger() ledger.TxRepository {
	return r.ledger
}

// NextOrderCode bumps the daily counter and renders the order code.
func (r *txRepo) NextOrderCode(ctx context.Context, date time.Time) (string, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	var count int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_counters (day, count)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET count = order_counters.count + 1
		RETURNING count
	`, day).Scan(&count)
	if err != nil {
		return "", err
	}
	return FormatOrderCode(day, count), nil
}

const orderColumns = `id, code, customer_id, type, payment_status, process_status, delivery_status,
	subtotal, discount_type, discount_percentage, discount, total_coupons, shipping,
	tax_type, COALESCE(tax_group_id, 0), tax_value, products_tax_value,
	total, total_with_tax, total_without_tax, total_cogs,
	total_refunded, tendered, change, total_instalments,
	final_payment_date, COALESCE(void_reason, ''), COALESCE(note, ''),
	created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.Code, &o.CustomerID, &o.Type, &o.PaymentStatus, &o.ProcessStatus, &o.DeliveryStatus,
		&o.Subtotal, &o.DiscountType, &o.DiscountPercentage, &o.Discount, &o.TotalCoupons, &o.Shipping,
		&o.TaxType, &o.TaxGroupID, &o.TaxValue, &o.ProductsTaxValue,
		&o.Total, &o.TotalWithTax, &o.TotalWithoutTax, &o.TotalCOGS,
		&o.TotalRefunded, &o.Tendered, &o.Change, &o.TotalInstalments,
		&o.FinalPaymentDate, &o.VoidReason, &o.Note,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Get loads the order aggregate with all relations.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	return loadRelations(ctx, r.pool, order)
}

// List returns orders filtered by payment status, newest first.
func (r *Repository) List(ctx context.Context, status PaymentStatus, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR payment_status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListDueCandidates returns unpaid and partially-paid orders whose final
// payment date is behind now.
func (r *Repository) ListDueCandidates(ctx context.Context, now time.Time) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_status IN ($1, $2)
		  AND final_payment_date IS NOT NULL
		  AND final_payment_date < $3
		ORDER BY id
	`, string(StatusUnpaid), string(StatusPartiallyPaid), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	return loadRelations(ctx, r.tx, order)
}

func loadRelations(ctx context.Context, q querier, order Order) (Order, error) {
	var err error
	if order.Products, err = loadLines(ctx, q, order.ID); err != nil {
		return Order{}, err
	}
	if order.Payments, err = loadPayments(ctx, q, order.ID); err != nil {
		return Order{}, err
	}
	if order.Taxes, err = loadTaxes(ctx, q, order.ID); err != nil {
		return Order{}, err
	}
	if order.Coupons, err = loadCoupons(ctx, q, order.ID); err != nil {
		return Order{}, err
	}
	if order.Instalments, err = loadInstalments(ctx, q, order.ID); err != nil {
		return Order{}, err
	}
	if order.Addresses, err = loadAddresses(ctx, q, order.ID); err != nil {
		return Order{}, err
	}
	return order, nil
}

func loadLines(ctx context.Context, q querier, orderID int64) ([]OrderProduct, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, unit_id, name, quantity, unit_price,
		       discount_type, discount_percentage, discount, COALESCE(tax_group_id, 0),
		       tax_value, total_price, total_purchase_price, created_at, updated_at
		FROM order_products
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []OrderProduct
	for rows.Next() {
		var l OrderProduct
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.ProductID, &l.UnitID, &l.Name, &l.Quantity, &l.UnitPrice,
			&l.DiscountType, &l.DiscountPercentage, &l.Discount, &l.TaxGroupID,
			&l.TaxValue, &l.TotalPrice, &l.TotalPurchasePrice, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func loadPayments(ctx context.Context, q querier, orderID int64) ([]OrderPayment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, identifier, value, actor_id, created_at
		FROM order_payments
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []OrderPayment
	for rows.Next() {
		var p OrderPayment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Identifier, &p.Value, &p.ActorID, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func loadTaxes(ctx context.Context, q querier, orderID int64) ([]OrderTax, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, tax_id, tax_name, rate, tax_value
		FROM order_taxes
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var taxes []OrderTax
	for rows.Next() {
		var t OrderTax
		if err := rows.Scan(&t.ID, &t.OrderID, &t.TaxID, &t.TaxName, &t.Rate, &t.TaxValue); err != nil {
			return nil, err
		}
		taxes = append(taxes, t)
	}
	return taxes, rows.Err()
}

func loadCoupons(ctx context.Context, q querier, orderID int64) ([]OrderCoupon, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, coupon_id, code, name, type, discount_value, value
		FROM order_coupons
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var coupons []OrderCoupon
	for rows.Next() {
		var c OrderCoupon
		if err := rows.Scan(&c.ID, &c.OrderID, &c.CouponID, &c.Code, &c.Name, &c.Type, &c.DiscountValue, &c.Value); err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

func loadInstalments(ctx context.Context, q querier, orderID int64) ([]OrderInstalment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, amount, date, paid, COALESCE(payment_id, 0)
		FROM order_instalments
		WHERE order_id = $1
		ORDER BY date, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var instalments []OrderInstalment
	for rows.Next() {
		var i OrderInstalment
		if err := rows.Scan(&i.ID, &i.OrderID, &i.Amount, &i.Date, &i.Paid, &i.PaymentID); err != nil {
			return nil, err
		}
		instalments = append(instalments, i)
	}
	return instalments, rows.Err()
}

func loadAddresses(ctx context.Context, q querier, orderID int64) ([]OrderAddress, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, type, first_name, last_name, phone, address_1, address_2,
		       country, city, pobox, company, email
		FROM order_addresses
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var addresses []OrderAddress
	for rows.Next() {
		var a OrderAddress
		if err := rows.Scan(
			&a.ID, &a.OrderID, &a.Type, &a.FirstName, &a.LastName, &a.Phone, &a.Address1, &a.Address2,
			&a.Country, &a.City, &a.PoBox, &a.Company, &a.Email,
		); err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

func (r *txRepo) InsertOrder(ctx context.Context, order Order) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO orders
			(code, customer_id, type, payment_status, process_status, delivery_status,
			 subtotal, discount_type, discount_percentage, discount, total_coupons, shipping,
			 tax_type, tax_group_id, tax_value, products_tax_value,
			 total, total_with_tax, total_without_tax, total_cogs,
			 total_refunded, tendered, change, total_instalments,
			 final_payment_date, void_reason, note, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			NULLIF($14, 0), $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27,
			$28, $29, $30)
		RETURNING id
	`,
		order.Code, order.CustomerID, string(order.Type), string(order.PaymentStatus),
		string(order.ProcessStatus), string(order.DeliveryStatus),
		order.Subtotal, string(order.DiscountType), order.DiscountPercentage, order.Discount,
		order.TotalCoupons, order.Shipping,
		string(order.TaxType), order.TaxGroupID, order.TaxValue, order.ProductsTaxValue,
		order.Total, order.TotalWithTax, order.TotalWithoutTax, order.TotalCOGS,
		order.TotalRefunded, order.Tendered, order.Change, order.TotalInstalments,
		order.FinalPaymentDate, order.VoidReason, order.Note, order.CreatedBy,
		order.CreatedAt, order.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateOrder(ctx context.Context, order Order) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE orders SET
			customer_id = $2, type = $3, payment_status = $4, process_status = $5,
			delivery_status = $6, subtotal = $7, discount_type = $8,
			discount_percentage = $9, discount = $10, total_coupons = $11, shipping = $12,
			tax_type = $13, tax_group_id = NULLIF($14, 0), tax_value = $15,
			products_tax_value = $16, total = $17, total_with_tax = $18,
			total_without_tax = $19, total_cogs = $20, total_refunded = $21,
			tendered = $22, change = $23, total_instalments = $24,
			final_payment_date = $25, void_reason = $26, note = $27, updated_at = $28
		WHERE id = $1
	`,
		order.ID, order.CustomerID, string(order.Type), string(order.PaymentStatus),
		string(order.ProcessStatus), string(order.DeliveryStatus),
		order.Subtotal, string(order.DiscountType), order.DiscountPercentage, order.Discount,
		order.TotalCoupons, order.Shipping,
		string(order.TaxType), order.TaxGroupID, order.TaxValue, order.ProductsTaxValue,
		order.Total, order.TotalWithTax, order.TotalWithoutTax, order.TotalCOGS,
		order.TotalRefunded, order.Tendered, order.Change, order.TotalInstalments,
		order.FinalPaymentDate, order.VoidReason, order.Note, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) DeleteOrder(ctx context.Context, id int64) error {
	for _, query := range []string{
		`DELETE FROM order_products WHERE order_id = $1`,
		`DELETE FROM order_payments WHERE order_id = $1`,
		`DELETE FROM order_taxes WHERE order_id = $1`,
		`DELETE FROM order_coupons WHERE order_id = $1`,
		`DELETE FROM order_instalments WHERE order_id = $1`,
		`DELETE FROM order_addresses WHERE order_id = $1`,
		`DELETE FROM orders WHERE id = $1`,
	} {
		if _, err := r.tx.Exec(ctx, query, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) InsertLine(ctx context.Context, line OrderProduct) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_products
			(order_id, product_id, unit_id, name, quantity, unit_price,
			 discount_type, discount_percentage, discount, tax_group_id,
			 tax_value, total_price, total_purchase_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, 0), $11, $12, $13, $14, $15)
		RETURNING id
	`,
		line.OrderID, line.ProductID, line.UnitID, line.Name, line.Quantity, line.UnitPrice,
		string(line.DiscountType), line.DiscountPercentage, line.Discount, line.TaxGroupID,
		line.TaxValue, line.TotalPrice, line.TotalPurchasePrice, line.CreatedAt, line.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateLine(ctx context.Context, line OrderProduct) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE order_products SET
			quantity = $2, unit_price = $3, discount_type = $4, discount_percentage = $5,
			discount = $6, tax_value = $7, total_price = $8, total_purchase_price = $9,
			updated_at = $10
		WHERE id = $1
	`,
		line.ID, line.Quantity, line.UnitPrice, string(line.DiscountType), line.DiscountPercentage,
		line.Discount, line.TaxValue, line.TotalPrice, line.TotalPurchasePrice, time.Now().UTC(),
	)
	return err
}

func (r *txRepo) DeleteLine(ctx context.Context, lineID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM order_products WHERE id = $1`, lineID)
	return err
}

func (r *txRepo) InsertPayment(ctx context.Context, payment OrderPayment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_payments (order_id, identifier, value, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, payment.OrderID, payment.Identifier, payment.Value, payment.ActorID, payment.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) DeletePayments(ctx context.Context, orderID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM order_payments WHERE order_id = $1`, orderID)
	return err
}

func (r *txRepo) ReplaceTaxes(ctx context.Context, orderID int64, taxes []OrderTax) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM order_taxes WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	for _, t := range taxes {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO order_taxes (order_id, tax_id, tax_name, rate, tax_value)
			VALUES ($1, $2, $3, $4, $5)
		`, orderID, t.TaxID, t.TaxName, t.Rate, t.TaxValue)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) ReplaceCoupons(ctx context.Context, orderID int64, coupons []OrderCoupon) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM order_coupons WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	for _, c := range coupons {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO order_coupons (order_id, coupon_id, code, name, type, discount_value, value)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, orderID, c.CouponID, c.Code, c.Name, c.Type, c.DiscountValue, c.Value)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) ReplaceAddresses(ctx context.Context, orderID int64, addresses []OrderAddress) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM order_addresses WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	for _, a := range addresses {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO order_addresses
				(order_id, type, first_name, last_name, phone, address_1, address_2,
				 country, city, pobox, company, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, orderID, string(a.Type), a.FirstName, a.LastName, a.Phone, a.Address1, a.Address2,
			a.Country, a.City, a.PoBox, a.Company, a.Email)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) InsertInstalment(ctx context.Context, instalment OrderInstalment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_instalments (order_id, amount, date, paid, payment_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0))
		RETURNING id
	`, instalment.OrderID, instalment.Amount, instalment.Date, instalment.Paid, instalment.PaymentID).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateInstalment(ctx context.Context, instalment OrderInstalment) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE order_instalments
		SET amount = $2, date = $3, paid = $4, payment_id = NULLIF($5, 0)
		WHERE id = $1
	`, instalment.ID, instalment.Amount, instalment.Date, instalment.Paid, instalment.PaymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) DeleteInstalment(ctx context.Context, instalmentID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM order_instalments WHERE id = $1`, instalmentID)
	return err
}

func (r *txRepo) InsertRefund(ctx context.Context, refund OrderRefund) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_refunds (order_id, total, tax_value, shipping, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, refund.OrderID, refund.Total, refund.TaxValue, refund.Shipping, refund.ActorID, refund.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateRefund(ctx context.Context, refund OrderRefund) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE order_refunds SET total = $2, tax_value = $3, shipping = $4 WHERE id = $1
	`, refund.ID, refund.Total, refund.TaxValue, refund.Shipping)
	return err
}

func (r *txRepo) InsertProductRefund(ctx context.Context, line OrderProductRefund) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO order_product_refunds
			(refund_id, order_id, order_product_id, product_id, unit_id,
			 condition, quantity, unit_price, total, tax_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, line.RefundID, line.OrderID, line.OrderProductID, line.ProductID, line.UnitID,
		string(line.Condition), line.Quantity, line.UnitPrice, line.Total, line.TaxValue, line.CreatedAt).Scan(&id)
	return id, err
}
