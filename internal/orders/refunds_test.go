package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakpos/oakpos/internal/catalog"
	"github.com/oakpos/oakpos/internal/ledger"
	"github.com/oakpos/oakpos/internal/shared"
)

// paidCoffeeOrder sells three units for 330 so every refund test starts
// from a PAID order with stock at 7.
func paidCoffeeOrder(t *testing.T, f *fixture) Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), coffeeInput(3, 330), 0, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, order.PaymentStatus)
	require.InDelta(t, 7.0, f.stock(t, coffeeID), 0.0001)
	return order
}

func TestRefundUnspoiledRestocksAtCost(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	order := paidCoffeeOrder(t, f)

	updated, refund, err := f.svc.RefundOrder(context.Background(), order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: order.Products[0].ID, Quantity: 2, Condition: ConditionUnspoiled}},
	}, 1)
	require.NoError(t, err)

	require.InDelta(t, 200.0, refund.Total, 0.001)
	require.Equal(t, StatusPartiallyRefunded, updated.PaymentStatus)
	require.InDelta(t, 200.0, updated.TotalRefunded, 0.001)
	require.InDelta(t, 1.0, updated.Products[0].Quantity, 0.0001)
	require.InDelta(t, 110.0, updated.Total, 0.001)

	// Sellable goods go back on the shelf, valued at FIFO cost.
	require.InDelta(t, 9.0, f.stock(t, coffeeID), 0.0001)
	returned := f.store.historyByAction(ledger.ActionReturned)
	require.Len(t, returned, 1)
	require.InDelta(t, 2.0, returned[0].Quantity, 0.0001)
	require.InDelta(t, 80.0, returned[0].TotalPrice, 0.001)
	require.Empty(t, f.store.historyByAction(ledger.ActionDefective))
}

func TestRefundDamagedWritesOffStock(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	order := paidCoffeeOrder(t, f)

	_, _, err := f.svc.RefundOrder(context.Background(), order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: order.Products[0].ID, Quantity: 2, Condition: ConditionDamaged}},
	}, 1)
	require.NoError(t, err)

	// The return and the write-off cancel out: net stock is unchanged.
	require.InDelta(t, 7.0, f.stock(t, coffeeID), 0.0001)
	require.Len(t, f.store.historyByAction(ledger.ActionReturned), 1)
	defective := f.store.historyByAction(ledger.ActionDefective)
	require.Len(t, defective, 1)
	require.InDelta(t, 2.0, defective[0].Quantity, 0.0001)
	require.InDelta(t, 80.0, defective[0].TotalPrice, 0.001)
}

func TestRefundGroupedDamagedWritesOffComponents(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	f.catalog.products[bundleID] = catalog.Product{
		ID:        bundleID,
		Name:      "Coffee Duo",
		Type:      catalog.TypeGrouped,
		SalePrice: 250,
		SubItems:  []catalog.SubItem{{ProductID: coffeeID, UnitID: pieceUnit, Quantity: 2}},
	}
	ctx := context.Background()

	input := CreateOrderInput{
		CustomerID: customerID,
		Products:   []LineInput{{ProductID: bundleID, UnitID: pieceUnit, Quantity: 2, UnitPrice: 250}},
		Payments:   []PaymentInput{{Identifier: "cash", Value: 550}},
	}
	order, err := f.svc.Create(ctx, input, 0, 1)
	require.NoError(t, err)
	require.InDelta(t, 6.0, f.stock(t, coffeeID), 0.0001)

	_, _, err = f.svc.RefundOrder(ctx, order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: order.Products[0].ID, Quantity: 1, Condition: ConditionDamaged}},
	}, 1)
	require.NoError(t, err)

	// The write-off hits the component, so the return and the write-off
	// cancel out on the component's stock.
	require.InDelta(t, 6.0, f.stock(t, coffeeID), 0.0001)

	returned := f.store.historyByAction(ledger.ActionReturned)
	require.Len(t, returned, 1)
	require.Equal(t, coffeeID, returned[0].ProductID)
	require.InDelta(t, 2.0, returned[0].Quantity, 0.0001)

	defective := f.store.historyByAction(ledger.ActionDefective)
	require.Len(t, defective, 1)
	require.Equal(t, coffeeID, defective[0].ProductID)
	require.InDelta(t, 2.0, defective[0].Quantity, 0.0001)
}

func TestFullRefundMarksRefunded(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	order := paidCoffeeOrder(t, f)

	updated, refund, err := f.svc.RefundOrder(context.Background(), order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: order.Products[0].ID, Quantity: 3, Condition: ConditionUnspoiled}},
	}, 1)
	require.NoError(t, err)

	require.InDelta(t, 300.0, refund.Total, 0.001)
	require.Equal(t, StatusRefunded, updated.PaymentStatus)
	require.InDelta(t, 0.0, updated.Total, 0.001)
	require.InDelta(t, 0.0, updated.TaxValue, 0.001)
	require.InDelta(t, 10.0, f.stock(t, coffeeID), 0.0001)
}

func TestRefundShippingToAccount(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	input := coffeeInput(3, 350)
	input.Shipping = 20
	order, err := f.svc.Create(context.Background(), input, 0, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, order.PaymentStatus)
	require.InDelta(t, 350.0, order.Total, 0.001)

	updated, refund, err := f.svc.RefundOrder(context.Background(), order.ID, RefundInput{
		RefundShipping: true,
		ToAccount:      true,
	}, 1)
	require.NoError(t, err)

	require.InDelta(t, 20.0, refund.Total, 0.001)
	require.InDelta(t, 20.0, refund.Shipping, 0.001)
	require.InDelta(t, 0.0, updated.Shipping, 0.001)
	require.InDelta(t, 330.0, updated.Total, 0.001)
	require.Equal(t, StatusPartiallyRefunded, updated.PaymentStatus)

	require.InDelta(t, 20.0, f.customers.credited, 0.001)
	require.InDelta(t, 20.0, f.customers.customers[customerID].AccountAmount, 0.001)
	// Shipping moves no goods.
	require.InDelta(t, 7.0, f.stock(t, coffeeID), 0.0001)
}

func TestRefundRejectsExcessQuantity(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	order := paidCoffeeOrder(t, f)

	_, _, err := f.svc.RefundOrder(context.Background(), order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: order.Products[0].ID, Quantity: 5, Condition: ConditionUnspoiled}},
	}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)

	// The failed refund rolls back in full.
	after, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.0, after.TotalRefunded, 0.001)
	require.InDelta(t, 3.0, after.Products[0].Quantity, 0.0001)
	require.InDelta(t, 7.0, f.stock(t, coffeeID), 0.0001)
	require.Empty(t, f.store.refunds)
}

func TestRefundVoidOrderRejected(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	order := paidCoffeeOrder(t, f)

	_, err := f.svc.Void(context.Background(), order.ID, "mistake", 1)
	require.NoError(t, err)

	_, _, err = f.svc.RefundOrder(context.Background(), order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: order.Products[0].ID, Quantity: 1, Condition: ConditionUnspoiled}},
	}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)
}

func TestRefundValidatesInput(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	order := paidCoffeeOrder(t, f)
	ctx := context.Background()

	_, _, err := f.svc.RefundOrder(ctx, order.ID, RefundInput{}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)

	_, _, err = f.svc.RefundOrder(ctx, order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: order.Products[0].ID, Quantity: 1, Condition: "soggy"}},
	}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)

	_, _, err = f.svc.RefundOrder(ctx, order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: order.Products[0].ID, Quantity: 0, Condition: ConditionUnspoiled}},
	}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)

	_, _, err = f.svc.RefundOrder(ctx, order.ID, RefundInput{
		Lines: []RefundLineInput{{OrderProductID: 9999, Quantity: 1, Condition: ConditionUnspoiled}},
	}, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
