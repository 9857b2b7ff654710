package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakpos/oakpos/internal/shared"
)

// Repository reads catalog data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, name, sku, type, stock_management, unit_group_id,
	COALESCE(tax_group_id, 0), COALESCE(tax_type, ''), cost_price, sale_price,
	created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.Name, &p.SKU, &p.Type, &p.StockManagement, &p.UnitGroupID,
		&p.TaxGroupID, &p.TaxType, &p.CostPrice, &p.SalePrice,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// Product loads a product with its sub-items.
func (r *Repository) Product(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1
	`, id))
	if err != nil {
		return Product{}, err
	}
	return r.withSubItems(ctx, p)
}

// ProductBySKU loads a product by its stock keeping unit.
func (r *Repository) ProductBySKU(ctx context.Context, sku string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE sku = $1
	`, sku))
	if err != nil {
		return Product{}, err
	}
	return r.withSubItems(ctx, p)
}

func (r *Repository) withSubItems(ctx context.Context, p Product) (Product, error) {
	if p.Type != TypeGrouped {
		return p, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT sub_product_id, unit_id, quantity, sale_price
		FROM product_sub_items
		WHERE parent_product_id = $1
		ORDER BY id
	`, p.ID)
	if err != nil {
		return Product{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item SubItem
		if err := rows.Scan(&item.ProductID, &item.UnitID, &item.Quantity, &item.SalePrice); err != nil {
			return Product{}, err
		}
		p.SubItems = append(p.SubItems, item)
	}
	return p, rows.Err()
}

// Unit loads one unit.
func (r *Repository) Unit(ctx context.Context, id int64) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `
		SELECT id, group_id, name, value, base_unit FROM units WHERE id = $1
	`, id).Scan(&u.ID, &u.GroupID, &u.Name, &u.Value, &u.BaseUnit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, shared.ErrNotFound
		}
		return Unit{}, err
	}
	return u, nil
}

// BaseUnit loads the base unit of a group.
func (r *Repository) BaseUnit(ctx context.Context, groupID int64) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `
		SELECT id, group_id, name, value, base_unit
		FROM units
		WHERE group_id = $1 AND base_unit = TRUE
	`, groupID).Scan(&u.ID, &u.GroupID, &u.Name, &u.Value, &u.BaseUnit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, shared.ErrNotFound
		}
		return Unit{}, err
	}
	return u, nil
}

// TaxGroup loads the rates of a tax group, empty when the group is unknown.
func (r *Repository) TaxGroup(ctx context.Context, groupID int64) ([]TaxRate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, rate FROM taxes WHERE tax_group_id = $1 ORDER BY id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rates []TaxRate
	for rows.Next() {
		var rate TaxRate
		if err := rows.Scan(&rate.ID, &rate.Name, &rate.Rate); err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}
