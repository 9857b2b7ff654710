package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakpos/oakpos/internal/shared"
)

type memoryRepo struct {
	products map[int64]Product
	units    map[int64]Unit
}

func (r *memoryRepo) Product(ctx context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) ProductBySKU(ctx context.Context, sku string) (Product, error) {
	for _, p := range r.products {
		if p.SKU == sku {
			return p, nil
		}
	}
	return Product{}, shared.ErrNotFound
}

func (r *memoryRepo) Unit(ctx context.Context, id int64) (Unit, error) {
	u, ok := r.units[id]
	if !ok {
		return Unit{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *memoryRepo) BaseUnit(ctx context.Context, groupID int64) (Unit, error) {
	for _, u := range r.units {
		if u.GroupID == groupID && u.BaseUnit {
			return u, nil
		}
	}
	return Unit{}, shared.ErrNotFound
}

func (r *memoryRepo) TaxGroup(ctx context.Context, groupID int64) ([]TaxRate, error) {
	return nil, nil
}

func TestConvertAcrossUnits(t *testing.T) {
	repo := &memoryRepo{units: map[int64]Unit{
		1: {ID: 1, GroupID: 1, Name: "piece", Value: 1, BaseUnit: true},
		2: {ID: 2, GroupID: 1, Name: "box", Value: 12},
		3: {ID: 3, GroupID: 2, Name: "kg", Value: 1, BaseUnit: true},
	}}
	svc := NewService(repo)
	ctx := context.Background()

	qty, err := svc.Convert(ctx, 2, 1, 3)
	require.NoError(t, err)
	require.InDelta(t, 36.0, qty, 0.0001)

	qty, err = svc.Convert(ctx, 1, 2, 6)
	require.NoError(t, err)
	require.InDelta(t, 0.5, qty, 0.0001)

	qty, err = svc.Convert(ctx, 2, 2, 4)
	require.NoError(t, err)
	require.InDelta(t, 4.0, qty, 0.0001)

	_, err = svc.Convert(ctx, 2, 3, 1)
	require.ErrorIs(t, err, ErrUnitMismatch)
}

func TestLoadLookup(t *testing.T) {
	repo := &memoryRepo{products: map[int64]Product{
		1: {ID: 1, SKU: "A"},
		2: {ID: 2, SKU: "B"},
	}}
	svc := NewService(repo)

	lookup, err := svc.LoadLookup(context.Background(), []int64{1, 2, 1})
	require.NoError(t, err)
	require.Len(t, lookup, 2)
	p, ok := lookup.Get(1)
	require.True(t, ok)
	require.Equal(t, "A", p.SKU)

	_, err = svc.LoadLookup(context.Background(), []int64{9})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
