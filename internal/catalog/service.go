package catalog

import (
	"context"
)

// RepositoryPort abstracts catalog reads for the service.
type RepositoryPort interface {
	Product(ctx context.Context, id int64) (Product, error)
	ProductBySKU(ctx context.Context, sku string) (Product, error)
	Unit(ctx context.Context, id int64) (Unit, error)
	BaseUnit(ctx context.Context, groupID int64) (Unit, error)
	TaxGroup(ctx context.Context, groupID int64) ([]TaxRate, error)
}

// Service answers catalog questions for the order pipeline.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Product loads a product by id.
func (s *Service) Product(ctx context.Context, id int64) (Product, error) {
	return s.repo.Product(ctx, id)
}

// ProductBySKU loads a product by SKU.
func (s *Service) ProductBySKU(ctx context.Context, sku string) (Product, error) {
	return s.repo.ProductBySKU(ctx, sku)
}

// BaseUnit returns the base unit of a unit group.
func (s *Service) BaseUnit(ctx context.Context, groupID int64) (Unit, error) {
	return s.repo.BaseUnit(ctx, groupID)
}

// TaxGroup returns the rates of a tax group.
func (s *Service) TaxGroup(ctx context.Context, groupID int64) ([]TaxRate, error) {
	return s.repo.TaxGroup(ctx, groupID)
}

// Convert translates qty expressed in the from unit into the to unit.
// Units must share a group, values are relative to the group base unit.
func (s *Service) Convert(ctx context.Context, fromID, toID int64, qty float64) (float64, error) {
	if fromID == toID {
		return qty, nil
	}
	from, err := s.repo.Unit(ctx, fromID)
	if err != nil {
		return 0, err
	}
	to, err := s.repo.Unit(ctx, toID)
	if err != nil {
		return 0, err
	}
	if from.GroupID != to.GroupID {
		return 0, ErrUnitMismatch
	}
	return qty * from.Value / to.Value, nil
}

// LoadLookup preloads the products named by ids into a per-request table.
func (s *Service) LoadLookup(ctx context.Context, ids []int64) (Lookup, error) {
	lookup := make(Lookup, len(ids))
	for _, id := range ids {
		if _, ok := lookup[id]; ok {
			continue
		}
		p, err := s.repo.Product(ctx, id)
		if err != nil {
			return nil, err
		}
		lookup[id] = p
	}
	return lookup, nil
}
