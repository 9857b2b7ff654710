package customers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakpos/oakpos/internal/shared"
)

type memoryRepo struct {
	customers map[int64]*Customer
	coupons   map[string]*Coupon
	history   []AccountHistory
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		customers: make(map[int64]*Customer),
		coupons:   make(map[string]*Coupon),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Customer, error) {
	c, ok := r.customers[id]
	if !ok {
		return Customer{}, shared.ErrNotFound
	}
	return *c, nil
}

func (r *memoryRepo) Coupon(ctx context.Context, customerID int64, code string) (Coupon, error) {
	c, ok := r.coupons[code]
	if !ok || c.CustomerID != customerID {
		return Coupon{}, shared.ErrNotFound
	}
	return *c, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Customer, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) SetAccountAmount(ctx context.Context, id int64, amount float64) error {
	tx.repo.customers[id].AccountAmount = amount
	return nil
}

func (tx *memoryTx) AdjustOwed(ctx context.Context, id int64, delta float64) error {
	tx.repo.customers[id].OwedAmount += delta
	return nil
}

func (tx *memoryTx) AdjustPurchases(ctx context.Context, id int64, delta float64) error {
	tx.repo.customers[id].PurchasesAmount += delta
	return nil
}

func (tx *memoryTx) InsertAccountHistory(ctx context.Context, h AccountHistory) (int64, error) {
	tx.repo.nextID++
	h.ID = tx.repo.nextID
	tx.repo.history = append(tx.repo.history, h)
	return h.ID, nil
}

func (tx *memoryTx) GetCouponForUpdate(ctx context.Context, customerID int64, code string) (Coupon, error) {
	return tx.repo.Coupon(ctx, customerID, code)
}

func (tx *memoryTx) SetCouponUsage(ctx context.Context, couponID int64, usage int) error {
	for _, c := range tx.repo.coupons {
		if c.ID == couponID {
			c.Usage = usage
		}
	}
	return nil
}

func TestCreditAndDebitAccount(t *testing.T) {
	repo := newMemoryRepo()
	repo.customers[1] = &Customer{ID: 1, AccountAmount: 10}
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.CreditAccount(ctx, AccountInput{CustomerID: 1, Amount: 5}))
	require.InDelta(t, 15.0, repo.customers[1].AccountAmount, 0.001)

	require.NoError(t, svc.DebitAccount(ctx, AccountInput{CustomerID: 1, Amount: 12}))
	require.InDelta(t, 3.0, repo.customers[1].AccountAmount, 0.001)
	require.Len(t, repo.history, 2)
	require.Equal(t, OperationAdd, repo.history[0].Operation)
	require.Equal(t, OperationDeduct, repo.history[1].Operation)
}

func TestDebitBelowZeroRefused(t *testing.T) {
	repo := newMemoryRepo()
	repo.customers[1] = &Customer{ID: 1, AccountAmount: 4}
	svc := NewService(repo, nil)

	err := svc.DebitAccount(context.Background(), AccountInput{CustomerID: 1, Amount: 5})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.InDelta(t, 4.0, repo.customers[1].AccountAmount, 0.001)
}

func TestUseCouponHonoursLimit(t *testing.T) {
	repo := newMemoryRepo()
	repo.coupons["SAVE10"] = &Coupon{ID: 1, CustomerID: 1, Code: "SAVE10", Type: CouponPercentage, DiscountValue: 10, LimitUsage: 2, Active: true}
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.UseCoupon(ctx, 1, "SAVE10")
		require.NoError(t, err)
	}
	_, err := svc.UseCoupon(ctx, 1, "SAVE10")
	require.ErrorIs(t, err, ErrCouponExhausted)

	_, err = svc.Coupon(ctx, 1, "SAVE10")
	require.ErrorIs(t, err, ErrCouponExhausted)
}

func TestCouponUnknownCustomer(t *testing.T) {
	repo := newMemoryRepo()
	repo.coupons["SAVE10"] = &Coupon{ID: 1, CustomerID: 2, Code: "SAVE10", Active: true}
	svc := NewService(repo, nil)

	_, err := svc.Coupon(context.Background(), 1, "SAVE10")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
