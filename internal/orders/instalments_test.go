package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oakpos/oakpos/internal/shared"
)

func TestInstalmentScheduleCapsAtTotal(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	order, err := f.svc.Create(ctx, coffeeInput(3), 0, 1)
	require.NoError(t, err)
	require.InDelta(t, 330.0, order.Total, 0.001)

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 200, Date: due}, 1)
	require.NoError(t, err)

	_, err = f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 200, Date: due.AddDate(0, 1, 0)}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)

	_, err = f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 130, Date: due.AddDate(0, 1, 0)}, 1)
	require.NoError(t, err)

	_, err = f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 0, Date: due}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)

	got, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Instalments, 2)
	require.Equal(t, 2, got.TotalInstalments)
}

func TestCreateRejectsOversizedInstalmentPlan(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	input := coffeeInput(3)
	input.Instalments = []InstalmentInput{
		{Amount: 200, Date: due},
		{Amount: 200, Date: due.AddDate(0, 1, 0)},
	}
	_, err := f.svc.Create(ctx, input, 0, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)
	require.Empty(t, f.store.orders)

	input.Instalments[1].Amount = 130
	order, err := f.svc.Create(ctx, input, 0, 1)
	require.NoError(t, err)
	require.Len(t, order.Instalments, 2)
}

func TestUpdateInstalmentCapsAtTotal(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	order, err := f.svc.Create(ctx, coffeeInput(3), 0, 1)
	require.NoError(t, err)
	require.InDelta(t, 330.0, order.Total, 0.001)

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 200, Date: due}, 1)
	require.NoError(t, err)
	second, err := f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 130, Date: due.AddDate(0, 1, 0)}, 1)
	require.NoError(t, err)

	// Raising the slice past the remaining headroom is rejected.
	_, err = f.svc.UpdateInstalment(ctx, order.ID, second.ID, InstalmentInput{Amount: 200}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)

	updated, err := f.svc.UpdateInstalment(ctx, order.ID, second.ID, InstalmentInput{Amount: 100}, 1)
	require.NoError(t, err)
	require.InDelta(t, 100.0, updated.Amount, 0.001)
}

func TestUpdateInstalmentRules(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	order, err := f.svc.Create(ctx, coffeeInput(3), 0, 1)
	require.NoError(t, err)

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	inst, err := f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 150, Date: due}, 1)
	require.NoError(t, err)

	updated, err := f.svc.UpdateInstalment(ctx, order.ID, inst.ID, InstalmentInput{Amount: 100, Date: due.AddDate(0, 0, 7)}, 1)
	require.NoError(t, err)
	require.InDelta(t, 100.0, updated.Amount, 0.001)
	require.Equal(t, due.AddDate(0, 0, 7), updated.Date)

	_, err = f.svc.MarkInstalmentAsPaid(ctx, order.ID, inst.ID, "", 1)
	require.NoError(t, err)

	_, err = f.svc.UpdateInstalment(ctx, order.ID, inst.ID, InstalmentInput{Amount: 50}, 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)

	_, err = f.svc.UpdateInstalment(ctx, order.ID, 9999, InstalmentInput{Amount: 50}, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMarkInstalmentAsPaidRecordsPayment(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	order, err := f.svc.Create(ctx, coffeeInput(3), 0, 1)
	require.NoError(t, err)

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	inst, err := f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 150, Date: due}, 1)
	require.NoError(t, err)

	paid, err := f.svc.MarkInstalmentAsPaid(ctx, order.ID, inst.ID, "", 1)
	require.NoError(t, err)
	require.True(t, paid.Paid)
	require.NotZero(t, paid.PaymentID)

	got, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, got.PaymentStatus)
	require.InDelta(t, 150.0, got.Tendered, 0.001)
	require.Len(t, got.Payments, 1)
	require.Equal(t, "cash", got.Payments[0].Identifier)
	require.Equal(t, got.Payments[0].ID, paid.PaymentID)

	_, err = f.svc.MarkInstalmentAsPaid(ctx, order.ID, inst.ID, "", 1)
	require.ErrorIs(t, err, shared.ErrNotAllowed)
}

func TestDeleteInstalmentRefreshesCount(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	order, err := f.svc.Create(ctx, coffeeInput(3), 0, 1)
	require.NoError(t, err)

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	inst, err := f.svc.CreateInstalment(ctx, order.ID, InstalmentInput{Amount: 150, Date: due}, 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteInstalment(ctx, order.ID, inst.ID, 1))

	got, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, got.Instalments)
	require.Equal(t, 0, got.TotalInstalments)

	require.ErrorIs(t, f.svc.DeleteInstalment(ctx, order.ID, inst.ID, 1), shared.ErrNotFound)
}

func TestResolveInstalmentsGreedySameDay(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	input := coffeeInput(3, 250)
	input.Instalments = []InstalmentInput{
		{Amount: 100, Date: now.Add(-9 * time.Hour)},
		{Amount: 100, Date: now.Add(-8 * time.Hour)},
		{Amount: 100, Date: now.AddDate(0, 0, 1)},
	}
	order, err := f.svc.Create(ctx, input, 0, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, order.PaymentStatus)

	// 250 tendered covers the two slices due today; the third is
	// tomorrow and the remaining 50 would not cover it anyway.
	resolved, err := f.svc.ResolveInstalments(ctx, order.ID, now)
	require.NoError(t, err)
	require.Equal(t, 2, resolved)

	got, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Instalments, 3)
	require.True(t, got.Instalments[0].Paid)
	require.True(t, got.Instalments[1].Paid)
	require.False(t, got.Instalments[2].Paid)

	// A second pass finds nothing left to cover.
	resolved, err = f.svc.ResolveInstalments(ctx, order.ID, now)
	require.NoError(t, err)
	require.Equal(t, 0, resolved)
}

func TestResolveInstalmentsIgnoresUnpaidOrders(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

	input := coffeeInput(3)
	input.Instalments = []InstalmentInput{{Amount: 100, Date: now}}
	order, err := f.svc.Create(ctx, input, 0, 1)
	require.NoError(t, err)
	require.Equal(t, StatusUnpaid, order.PaymentStatus)

	resolved, err := f.svc.ResolveInstalments(ctx, order.ID, now)
	require.NoError(t, err)
	require.Equal(t, 0, resolved)
}
