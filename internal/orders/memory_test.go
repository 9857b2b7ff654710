package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oakpos/oakpos/internal/catalog"
	"github.com/oakpos/oakpos/internal/customers"
	"github.com/oakpos/oakpos/internal/ledger"
	"github.com/oakpos/oakpos/internal/shared"
)

// memoryStore backs the order repository ports with plain maps, keeping
// relations in separate tables the way the SQL schema does. WithTx
// snapshots everything so a failed callback rolls back.
type memoryStore struct {
	nextID         int64
	orders         map[int64]Order
	lines          map[int64]OrderProduct
	payments       map[int64]OrderPayment
	instalments    map[int64]OrderInstalment
	taxes          map[int64][]OrderTax
	coupons        map[int64][]OrderCoupon
	addresses      map[int64][]OrderAddress
	refunds        map[int64]OrderRefund
	productRefunds map[int64]OrderProductRefund
	counters       map[string]int64

	lots    map[int64]*ledger.Lot
	history []ledger.HistoryEntry
	costs   map[int64]float64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:         map[int64]Order{},
		lines:          map[int64]OrderProduct{},
		payments:       map[int64]OrderPayment{},
		instalments:    map[int64]OrderInstalment{},
		taxes:          map[int64][]OrderTax{},
		coupons:        map[int64][]OrderCoupon{},
		addresses:      map[int64][]OrderAddress{},
		refunds:        map[int64]OrderRefund{},
		productRefunds: map[int64]OrderProductRefund{},
		counters:       map[string]int64{},
		lots:           map[int64]*ledger.Lot{},
		costs:          map[int64]float64{},
	}
}

func (s *memoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memoryStore) addLot(productID, unitID int64, qty, price float64, createdAt time.Time) int64 {
	id := s.id()
	s.lots[id] = &ledger.Lot{
		ID:        id,
		ProductID: productID,
		UnitID:    unitID,
		Quantity:  qty,
		Available: qty,
		UnitPrice: price,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	return id
}

func (s *memoryStore) assemble(id int64) (Order, bool) {
	order, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	for _, line := range s.lines {
		if line.OrderID == id {
			order.Products = append(order.Products, line)
		}
	}
	sort.Slice(order.Products, func(i, j int) bool { return order.Products[i].ID < order.Products[j].ID })
	for _, p := range s.payments {
		if p.OrderID == id {
			order.Payments = append(order.Payments, p)
		}
	}
	sort.Slice(order.Payments, func(i, j int) bool { return order.Payments[i].ID < order.Payments[j].ID })
	for _, inst := range s.instalments {
		if inst.OrderID == id {
			order.Instalments = append(order.Instalments, inst)
		}
	}
	sort.Slice(order.Instalments, func(i, j int) bool { return order.Instalments[i].ID < order.Instalments[j].ID })
	order.Taxes = append([]OrderTax(nil), s.taxes[id]...)
	order.Coupons = append([]OrderCoupon(nil), s.coupons[id]...)
	order.Addresses = append([]OrderAddress(nil), s.addresses[id]...)
	return order, true
}

func (s *memoryStore) Get(ctx context.Context, id int64) (Order, error) {
	order, ok := s.assemble(id)
	if !ok {
		return Order{}, fmt.Errorf("%w: order %d", shared.ErrNotFound, id)
	}
	return order, nil
}

func (s *memoryStore) List(ctx context.Context, status PaymentStatus, limit int) ([]Order, error) {
	var out []Order
	for id, header := range s.orders {
		if status != "" && header.PaymentStatus != status {
			continue
		}
		order, _ := s.assemble(id)
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListDueCandidates(ctx context.Context, now time.Time) ([]Order, error) {
	var out []Order
	for id, header := range s.orders {
		if header.FinalPaymentDate == nil || !header.FinalPaymentDate.Before(now) {
			continue
		}
		if header.PaymentStatus != StatusUnpaid && header.PaymentStatus != StatusPartiallyPaid {
			continue
		}
		order, _ := s.assemble(id)
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := s.snapshot()
	if err := fn(ctx, &memoryTx{store: s}); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

type storeSnapshot struct {
	nextID         int64
	orders         map[int64]Order
	lines          map[int64]OrderProduct
	payments       map[int64]OrderPayment
	instalments    map[int64]OrderInstalment
	taxes          map[int64][]OrderTax
	coupons        map[int64][]OrderCoupon
	addresses      map[int64][]OrderAddress
	refunds        map[int64]OrderRefund
	productRefunds map[int64]OrderProductRefund
	counters       map[string]int64
	lots           map[int64]*ledger.Lot
	history        []ledger.HistoryEntry
}

func (s *memoryStore) snapshot() storeSnapshot {
	snap := storeSnapshot{
		nextID:         s.nextID,
		orders:         map[int64]Order{},
		lines:          map[int64]OrderProduct{},
		payments:       map[int64]OrderPayment{},
		instalments:    map[int64]OrderInstalment{},
		taxes:          map[int64][]OrderTax{},
		coupons:        map[int64][]OrderCoupon{},
		addresses:      map[int64][]OrderAddress{},
		refunds:        map[int64]OrderRefund{},
		productRefunds: map[int64]OrderProductRefund{},
		counters:       map[string]int64{},
		lots:           map[int64]*ledger.Lot{},
		history:        append([]ledger.HistoryEntry(nil), s.history...),
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.lines {
		snap.lines[k] = v
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	for k, v := range s.instalments {
		snap.instalments[k] = v
	}
	for k, v := range s.taxes {
		snap.taxes[k] = v
	}
	for k, v := range s.coupons {
		snap.coupons[k] = v
	}
	for k, v := range s.addresses {
		snap.addresses[k] = v
	}
	for k, v := range s.refunds {
		snap.refunds[k] = v
	}
	for k, v := range s.productRefunds {
		snap.productRefunds[k] = v
	}
	for k, v := range s.counters {
		snap.counters[k] = v
	}
	for k, v := range s.lots {
		copied := *v
		snap.lots[k] = &copied
	}
	return snap
}

func (s *memoryStore) restore(snap storeSnapshot) {
	s.nextID = snap.nextID
	s.orders = snap.orders
	s.lines = snap.lines
	s.payments = snap.payments
	s.instalments = snap.instalments
	s.taxes = snap.taxes
	s.coupons = snap.coupons
	s.addresses = snap.addresses
	s.refunds = snap.refunds
	s.productRefunds = snap.productRefunds
	s.counters = snap.counters
	s.lots = snap.lots
	s.history = snap.history
}

// StockOnHand satisfies StockPort for availability checks outside a
// transaction.
func (s *memoryStore) StockOnHand(ctx context.Context, productID, unitID int64) (float64, error) {
	return (&ledgerTx{store: s}).StockOnHand(ctx, productID, unitID)
}

type memoryTx struct {
	store *memoryStore
}

func (tx *memoryTx) Ledger() ledger.TxRepository {
	return &ledgerTx{store: tx.store}
}

func (tx *memoryTx) NextOrderCode(ctx context.Context, date time.Time) (string, error) {
	key := date.Format("060102")
	tx.store.counters[key]++
	return FormatOrderCode(date, tx.store.counters[key]), nil
}

func stripRelations(order Order) Order {
	order.Products = nil
	order.Payments = nil
	order.Taxes = nil
	order.Coupons = nil
	order.Instalments = nil
	order.Addresses = nil
	return order
}

func (tx *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return tx.store.Get(ctx, id)
}

func (tx *memoryTx) InsertOrder(ctx context.Context, order Order) (int64, error) {
	order.ID = tx.store.id()
	tx.store.orders[order.ID] = stripRelations(order)
	return order.ID, nil
}

func (tx *memoryTx) UpdateOrder(ctx context.Context, order Order) error {
	if _, ok := tx.store.orders[order.ID]; !ok {
		return fmt.Errorf("%w: order %d", shared.ErrNotFound, order.ID)
	}
	tx.store.orders[order.ID] = stripRelations(order)
	return nil
}

func (tx *memoryTx) DeleteOrder(ctx context.Context, id int64) error {
	delete(tx.store.orders, id)
	for lineID, line := range tx.store.lines {
		if line.OrderID == id {
			delete(tx.store.lines, lineID)
		}
	}
	for paymentID, payment := range tx.store.payments {
		if payment.OrderID == id {
			delete(tx.store.payments, paymentID)
		}
	}
	for instID, inst := range tx.store.instalments {
		if inst.OrderID == id {
			delete(tx.store.instalments, instID)
		}
	}
	delete(tx.store.taxes, id)
	delete(tx.store.coupons, id)
	delete(tx.store.addresses, id)
	return nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line OrderProduct) (int64, error) {
	line.ID = tx.store.id()
	tx.store.lines[line.ID] = line
	return line.ID, nil
}

func (tx *memoryTx) UpdateLine(ctx context.Context, line OrderProduct) error {
	tx.store.lines[line.ID] = line
	return nil
}

func (tx *memoryTx) DeleteLine(ctx context.Context, lineID int64) error {
	delete(tx.store.lines, lineID)
	return nil
}

func (tx *memoryTx) InsertPayment(ctx context.Context, payment OrderPayment) (int64, error) {
	payment.ID = tx.store.id()
	tx.store.payments[payment.ID] = payment
	return payment.ID, nil
}

func (tx *memoryTx) DeletePayments(ctx context.Context, orderID int64) error {
	for id, payment := range tx.store.payments {
		if payment.OrderID == orderID {
			delete(tx.store.payments, id)
		}
	}
	return nil
}

func (tx *memoryTx) ReplaceTaxes(ctx context.Context, orderID int64, taxes []OrderTax) error {
	tx.store.taxes[orderID] = taxes
	return nil
}

func (tx *memoryTx) ReplaceCoupons(ctx context.Context, orderID int64, coupons []OrderCoupon) error {
	tx.store.coupons[orderID] = coupons
	return nil
}

func (tx *memoryTx) ReplaceAddresses(ctx context.Context, orderID int64, addresses []OrderAddress) error {
	tx.store.addresses[orderID] = addresses
	return nil
}

func (tx *memoryTx) InsertInstalment(ctx context.Context, instalment OrderInstalment) (int64, error) {
	instalment.ID = tx.store.id()
	tx.store.instalments[instalment.ID] = instalment
	return instalment.ID, nil
}

func (tx *memoryTx) UpdateInstalment(ctx context.Context, instalment OrderInstalment) error {
	tx.store.instalments[instalment.ID] = instalment
	return nil
}

func (tx *memoryTx) DeleteInstalment(ctx context.Context, instalmentID int64) error {
	delete(tx.store.instalments, instalmentID)
	return nil
}

func (tx *memoryTx) InsertRefund(ctx context.Context, refund OrderRefund) (int64, error) {
	refund.ID = tx.store.id()
	tx.store.refunds[refund.ID] = refund
	return refund.ID, nil
}

func (tx *memoryTx) UpdateRefund(ctx context.Context, refund OrderRefund) error {
	tx.store.refunds[refund.ID] = refund
	return nil
}

func (tx *memoryTx) InsertProductRefund(ctx context.Context, line OrderProductRefund) (int64, error) {
	line.ID = tx.store.id()
	tx.store.productRefunds[line.ID] = line
	return line.ID, nil
}

// ledgerTx adapts the store to the lot ledger transaction surface.
type ledgerTx struct {
	store *memoryStore
}

func (tx *ledgerTx) matchingLots(productID, unitID int64) []ledger.Lot {
	var lots []ledger.Lot
	for _, lot := range tx.store.lots {
		if lot.ProductID == productID && lot.UnitID == unitID {
			lots = append(lots, *lot)
		}
	}
	return lots
}

func (tx *ledgerTx) LotsOldestFirst(ctx context.Context, productID, unitID int64) ([]ledger.Lot, error) {
	lots := tx.matchingLots(productID, unitID)
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].CreatedAt.Equal(lots[j].CreatedAt) {
			return lots[i].CreatedAt.Before(lots[j].CreatedAt)
		}
		return lots[i].ID < lots[j].ID
	})
	return lots, nil
}

func (tx *ledgerTx) LockLotsOldestFirst(ctx context.Context, productID, unitID int64) ([]ledger.Lot, error) {
	return tx.LotsOldestFirst(ctx, productID, unitID)
}

func (tx *ledgerTx) LockLotsNewestFirst(ctx context.Context, productID, unitID int64) ([]ledger.Lot, error) {
	lots := tx.matchingLots(productID, unitID)
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].UpdatedAt.Equal(lots[j].UpdatedAt) {
			return lots[i].UpdatedAt.After(lots[j].UpdatedAt)
		}
		return lots[i].ID > lots[j].ID
	})
	return lots, nil
}

func (tx *ledgerTx) SetLotAvailable(ctx context.Context, lotID int64, available float64) error {
	lot := tx.store.lots[lotID]
	lot.Available = available
	lot.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *ledgerTx) InsertLot(ctx context.Context, lot ledger.Lot) (int64, error) {
	lot.ID = tx.store.id()
	tx.store.lots[lot.ID] = &lot
	return lot.ID, nil
}

func (tx *ledgerTx) ProductCost(ctx context.Context, productID, unitID int64) (float64, error) {
	return tx.store.costs[productID], nil
}

func (tx *ledgerTx) InsertHistory(ctx context.Context, entry ledger.HistoryEntry) (int64, error) {
	entry.ID = tx.store.id()
	tx.store.history = append(tx.store.history, entry)
	return entry.ID, nil
}

func (tx *ledgerTx) HistoryExists(ctx context.Context, orderID, orderProductID int64, action ledger.HistoryAction) (bool, error) {
	for _, e := range tx.store.history {
		if e.OrderID == orderID && e.OrderProductID == orderProductID && e.Action == action {
			return true, nil
		}
	}
	return false, nil
}

func (tx *ledgerTx) StockOnHand(ctx context.Context, productID, unitID int64) (float64, error) {
	total := 0.0
	for _, lot := range tx.store.lots {
		if lot.ProductID == productID && lot.UnitID == unitID {
			total += lot.Available
		}
	}
	return total, nil
}

func (s *memoryStore) historyByAction(action ledger.HistoryAction) []ledger.HistoryEntry {
	var out []ledger.HistoryEntry
	for _, e := range s.history {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeCatalog struct {
	products  map[int64]catalog.Product
	taxGroups map[int64][]catalog.TaxRate
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: map[int64]catalog.Product{}, taxGroups: map[int64][]catalog.TaxRate{}}
}

func (c *fakeCatalog) Product(ctx context.Context, id int64) (catalog.Product, error) {
	product, ok := c.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	return product, nil
}

func (c *fakeCatalog) ProductBySKU(ctx context.Context, sku string) (catalog.Product, error) {
	for _, product := range c.products {
		if product.SKU == sku {
			return product, nil
		}
	}
	return catalog.Product{}, fmt.Errorf("%w: sku %s", shared.ErrNotFound, sku)
}

func (c *fakeCatalog) Convert(ctx context.Context, fromID, toID int64, qty float64) (float64, error) {
	return qty, nil
}

func (c *fakeCatalog) TaxGroup(ctx context.Context, groupID int64) ([]catalog.TaxRate, error) {
	return c.taxGroups[groupID], nil
}

type fakeCustomers struct {
	customers map[int64]customers.Customer
	coupons   map[string]customers.Coupon
	owed      map[int64]float64
	purchases map[int64]float64
	credited  float64
	debited   float64
	usedCodes []string
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{
		customers: map[int64]customers.Customer{},
		coupons:   map[string]customers.Coupon{},
		owed:      map[int64]float64{},
		purchases: map[int64]float64{},
	}
}

func (c *fakeCustomers) Get(ctx context.Context, id int64) (customers.Customer, error) {
	customer, ok := c.customers[id]
	if !ok {
		return customers.Customer{}, fmt.Errorf("%w: customer %d", shared.ErrNotFound, id)
	}
	return customer, nil
}

func (c *fakeCustomers) Coupon(ctx context.Context, customerID int64, code string) (customers.Coupon, error) {
	coupon, ok := c.coupons[code]
	if !ok {
		return customers.Coupon{}, fmt.Errorf("%w: coupon %s", shared.ErrNotFound, code)
	}
	if !coupon.Usable() {
		return customers.Coupon{}, customers.ErrCouponExhausted
	}
	return coupon, nil
}

func (c *fakeCustomers) UseCoupon(ctx context.Context, customerID int64, code string) (customers.Coupon, error) {
	coupon := c.coupons[code]
	coupon.Usage++
	c.coupons[code] = coupon
	c.usedCodes = append(c.usedCodes, code)
	return coupon, nil
}

func (c *fakeCustomers) CreditAccount(ctx context.Context, input customers.AccountInput) error {
	customer := c.customers[input.CustomerID]
	customer.AccountAmount += input.Amount
	c.customers[input.CustomerID] = customer
	c.credited += input.Amount
	return nil
}

func (c *fakeCustomers) DebitAccount(ctx context.Context, input customers.AccountInput) error {
	customer := c.customers[input.CustomerID]
	if customer.AccountAmount < input.Amount {
		return customers.ErrInsufficientFunds
	}
	customer.AccountAmount -= input.Amount
	c.customers[input.CustomerID] = customer
	c.debited += input.Amount
	return nil
}

func (c *fakeCustomers) AdjustOwed(ctx context.Context, customerID int64, delta float64) error {
	customer := c.customers[customerID]
	customer.OwedAmount += delta
	c.customers[customerID] = customer
	c.owed[customerID] += delta
	return nil
}

func (c *fakeCustomers) RecordPurchase(ctx context.Context, customerID int64, delta float64) error {
	customer := c.customers[customerID]
	customer.PurchasesAmount += delta
	c.customers[customerID] = customer
	c.purchases[customerID] += delta
	return nil
}

type holdKey struct {
	productID int64
	unitID    int64
}

type fakeReservations struct {
	held     map[holdKey]float64
	holder   string
	released []string
}

func newFakeReservations() *fakeReservations {
	return &fakeReservations{held: map[holdKey]float64{}}
}

func (r *fakeReservations) Held(ctx context.Context, productID, unitID int64, excludeSession string) (float64, error) {
	if excludeSession != "" && excludeSession == r.holder {
		return 0, nil
	}
	return r.held[holdKey{productID, unitID}], nil
}

func (r *fakeReservations) Release(ctx context.Context, session string) error {
	r.released = append(r.released, session)
	return nil
}

type fakeAudit struct {
	logs []shared.AuditLog
}

func (a *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}
