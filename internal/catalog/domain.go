package catalog

import (
	"errors"
	"time"
)

// ErrUnitMismatch indicates a conversion across unit groups.
var ErrUnitMismatch = errors.New("catalog: units belong to different groups")

// ProductType separates sellable kinds.
type ProductType string

const (
	// TypeSimple is a plain product, tracked or not.
	TypeSimple ProductType = "simple"
	// TypeGrouped bundles sub-items that carry the actual stock.
	TypeGrouped ProductType = "grouped"
)

// Product is the sellable catalog entry the order flow reads.
type Product struct {
	ID              int64
	Name            string
	SKU             string
	Type            ProductType
	StockManagement bool
	UnitGroupID     int64
	TaxGroupID      int64
	TaxType         string
	CostPrice       float64
	SalePrice       float64
	SubItems        []SubItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Tracked reports whether stock movements apply to this product.
func (p Product) Tracked() bool {
	return p.StockManagement
}

// SubItem is one component of a grouped product.
type SubItem struct {
	ProductID int64
	UnitID    int64
	Quantity  float64
	SalePrice float64
}

// Unit is one measurement unit inside a group, valued relative to the
// group's base unit.
type Unit struct {
	ID       int64
	GroupID  int64
	Name     string
	Value    float64
	BaseUnit bool
}

// TaxRate mirrors one row of a tax group.
type TaxRate struct {
	ID   int64
	Name string
	Rate float64
}

// Lookup is a per-request product table the order pipeline populates once
// so repeated line validations avoid extra round trips.
type Lookup map[int64]Product

// Get returns the product and whether it was preloaded.
func (l Lookup) Get(id int64) (Product, bool) {
	p, ok := l[id]
	return p, ok
}
