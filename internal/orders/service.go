package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oakpos/oakpos/internal/catalog"
	"github.com/oakpos/oakpos/internal/customers"
	"github.com/oakpos/oakpos/internal/ledger"
	"github.com/oakpos/oakpos/internal/money"
	"github.com/oakpos/oakpos/internal/shared"
	"github.com/oakpos/oakpos/internal/tax"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context, status PaymentStatus, limit int) ([]Order, error)
	ListDueCandidates(ctx context.Context, now time.Time) ([]Order, error)
}

// CatalogPort answers product and unit questions.
type CatalogPort interface {
	Product(ctx context.Context, id int64) (catalog.Product, error)
	ProductBySKU(ctx context.Context, sku string) (catalog.Product, error)
	Convert(ctx context.Context, fromID, toID int64, qty float64) (float64, error)
	TaxGroup(ctx context.Context, groupID int64) ([]catalog.TaxRate, error)
}

// CustomerPort exposes the customer operations settlement needs.
type CustomerPort interface {
	Get(ctx context.Context, id int64) (customers.Customer, error)
	Coupon(ctx context.Context, customerID int64, code string) (customers.Coupon, error)
	UseCoupon(ctx context.Context, customerID int64, code string) (customers.Coupon, error)
	CreditAccount(ctx context.Context, input customers.AccountInput) error
	DebitAccount(ctx context.Context, input customers.AccountInput) error
	AdjustOwed(ctx context.Context, customerID int64, delta float64) error
	RecordPurchase(ctx context.Context, customerID int64, delta float64) error
}

// ReservationPort reads and releases in-flight cart holds.
type ReservationPort interface {
	Held(ctx context.Context, productID, unitID int64, excludeSession string) (float64, error)
	Release(ctx context.Context, session string) error
}

// StockPort reads lot availability outside a transaction.
type StockPort interface {
	StockOnHand(ctx context.Context, productID, unitID int64) (float64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Policy carries the settlement options injected at construction instead of
// being read from ambient configuration mid-algorithm.
type Policy struct {
	Strategy     tax.Strategy
	TaxType      tax.Type
	TaxGroupID   int64
	AllowUnpaid  bool
	AllowPartial bool
}

// Hooks groups the lifecycle extension points. PreCommit hooks may veto;
// the After hooks observe detached snapshots.
type Hooks struct {
	PreCommit   *shared.Hooks[Order]
	AfterCreate *shared.Hooks[Order]
	AfterRefund *shared.Hooks[OrderRefund]
	AfterDelete *shared.Hooks[Order]
}

// NewHooks builds an empty hook set.
func NewHooks() Hooks {
	return Hooks{
		PreCommit:   &shared.Hooks[Order]{},
		AfterCreate: &shared.Hooks[Order]{},
		AfterRefund: &shared.Hooks[OrderRefund]{},
		AfterDelete: &shared.Hooks[Order]{},
	}
}

// PermissionMakePayment guards recording any payment amount.
const PermissionMakePayment = "orders.make-payment"

// Service drives order settlement.
type Service struct {
	repo         RepositoryPort
	catalog      CatalogPort
	customers    CustomerPort
	reservations ReservationPort
	stock        StockPort
	authz        shared.Authorizer
	audit        AuditPort
	engine       ledger.Engine
	taxes        tax.Engine
	policy       Policy
	hooks        Hooks
}

// NewService builds Service.
func NewService(
	repo RepositoryPort,
	cat CatalogPort,
	cust CustomerPort,
	res ReservationPort,
	stock StockPort,
	authz shared.Authorizer,
	audit AuditPort,
	policy Policy,
	hooks Hooks,
) *Service {
	if policy.TaxType == "" {
		policy.TaxType = tax.TypeExclusive
	}
	if policy.Strategy == "" {
		policy.Strategy = tax.StrategyProductsVat
	}
	return &Service{
		repo:         repo,
		catalog:      cat,
		customers:    cust,
		reservations: res,
		stock:        stock,
		authz:        authz,
		audit:        audit,
		policy:       policy,
		hooks:        hooks,
	}
}

// LineInput is one requested order line. ID is set when editing an
// existing line.
type LineInput struct {
	ID                 int64
	ProductID          int64
	SKU                string
	UnitID             int64
	Quantity           float64
	UnitPrice          float64
	DiscountType       DiscountType
	DiscountPercentage float64
	Discount           float64
}

// PaymentInput is one tendered payment.
type PaymentInput struct {
	Identifier string
	Value      float64
}

// InstalmentInput is one scheduled payment slice.
type InstalmentInput struct {
	Amount float64
	Date   time.Time
}

// CreateOrderInput carries everything the create/edit pipeline validates.
type CreateOrderInput struct {
	CustomerID         int64
	Type               OrderType
	Hold               bool
	Products           []LineInput
	Payments           []PaymentInput
	DiscountType       DiscountType
	DiscountPercentage float64
	Discount           float64
	Shipping           float64
	Coupons            []string
	Instalments        []InstalmentInput
	BillingAddress     map[string]string
	ShippingAddress    map[string]string
	Note               string
	FinalPaymentDate   *time.Time
	SessionToken       string
}

func (in CreateOrderInput) requestedStatus() PaymentStatus {
	if in.Hold {
		return StatusHold
	}
	return StatusUnpaid
}

// Get loads one order aggregate.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.Get(ctx, id)
}

// List lists orders, optionally filtered by payment status.
func (s *Service) List(ctx context.Context, status PaymentStatus, limit int) ([]Order, error) {
	return s.repo.List(ctx, status, limit)
}

// Create runs the full validation pipeline and commits the aggregate in one
// transaction. A non-zero existingID turns the call into an edit of that
// order. No mutation happens before every check passes.
func (s *Service) Create(ctx context.Context, input CreateOrderInput, existingID, actorID int64) (Order, error) {
	customer, err := s.customers.Get(ctx, input.CustomerID)
	if err != nil {
		return Order{}, err
	}

	var existing *Order
	if existingID != 0 {
		prev, err := s.repo.Get(ctx, existingID)
		if err != nil {
			return Order{}, err
		}
		existing = &prev
	}

	lookup, lines, err := s.resolveLines(ctx, input.Products)
	if err != nil {
		return Order{}, err
	}

	draft := s.buildDraft(input, lines, actorID)
	if err := s.computeDraftTaxes(ctx, &draft, lookup); err != nil {
		return Order{}, err
	}
	ComputeTotals(&draft)

	coupons, err := s.resolveCoupons(ctx, input, customer.ID, draft.Subtotal)
	if err != nil {
		return Order{}, err
	}
	draft.Coupons = coupons
	ComputeTotals(&draft)

	if err := s.checkPayments(ctx, &draft, input, existing, customer, actorID); err != nil {
		return Order{}, err
	}
	RefreshPayments(&draft, input.requestedStatus())

	if !input.Hold {
		if err := s.checkAvailability(ctx, input, lookup); err != nil {
			return Order{}, err
		}
	}
	if err := validateDiscount(input, draft.Subtotal); err != nil {
		return Order{}, err
	}
	draft.Addresses = buildAddresses(input)
	if instalmentsTotal(draft) > draft.Total+epsilon {
		return Order{}, notAllowedf("instalments cannot exceed the order total of %.2f", draft.Total)
	}
	if err := s.checkInstalmentFloor(input, customer, draft.Total, draft.Tendered); err != nil {
		return Order{}, err
	}
	if err := s.hooks.PreCommit.Check(ctx, draft); err != nil {
		return Order{}, err
	}

	var persisted Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if existing == nil {
			persisted, err = s.commitNew(ctx, tx, draft, input, actorID)
		} else {
			persisted, err = s.commitEdit(ctx, tx, draft, input, *existing, actorID)
		}
		return err
	})
	if err != nil {
		if isPersistence(err) {
			return Order{}, fmt.Errorf("%w: order commit for customer %d failed: %v", shared.ErrPersistence, input.CustomerID, err)
		}
		return Order{}, err
	}

	if input.SessionToken != "" && s.reservations != nil {
		_ = s.reservations.Release(ctx, input.SessionToken)
	}
	s.settleCustomerFigures(ctx, persisted, existing)
	for _, code := range input.Coupons {
		_, _ = s.customers.UseCoupon(ctx, customer.ID, code)
	}
	s.hooks.AfterCreate.Notify(ctx, persisted)
	s.recordAudit(ctx, actorID, "orders:create", persisted)
	return persisted, nil
}

// resolveLines attaches catalog data to every requested line.
func (s *Service) resolveLines(ctx context.Context, inputs []LineInput) (catalog.Lookup, []OrderProduct, error) {
	lookup := make(catalog.Lookup, len(inputs))
	lines := make([]OrderProduct, 0, len(inputs))
	now := time.Now().UTC()
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, nil, notAllowedf("line quantity must be positive")
		}
		product, ok := lookup.Get(in.ProductID)
		if !ok {
			var err error
			if in.ProductID != 0 {
				product, err = s.catalog.Product(ctx, in.ProductID)
			} else {
				product, err = s.catalog.ProductBySKU(ctx, in.SKU)
			}
			if err != nil {
				return nil, nil, err
			}
			lookup[product.ID] = product
		}
		price := in.UnitPrice
		if price == 0 {
			price = product.SalePrice
		}
		lines = append(lines, OrderProduct{
			ID:                 in.ID,
			ProductID:          product.ID,
			UnitID:             in.UnitID,
			Name:               product.Name,
			Quantity:           in.Quantity,
			UnitPrice:          price,
			DiscountType:       in.DiscountType,
			DiscountPercentage: in.DiscountPercentage,
			Discount:           in.Discount,
			TaxGroupID:         product.TaxGroupID,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}
	return lookup, lines, nil
}

func (s *Service) buildDraft(input CreateOrderInput, lines []OrderProduct, actorID int64) Order {
	now := time.Now().UTC()
	order := Order{
		CustomerID:         input.CustomerID,
		Type:               input.Type,
		DiscountType:       input.DiscountType,
		DiscountPercentage: input.DiscountPercentage,
		Discount:           input.Discount,
		Shipping:           input.Shipping,
		TaxType:            s.policy.TaxType,
		TaxGroupID:         s.policy.TaxGroupID,
		Note:               input.Note,
		FinalPaymentDate:   input.FinalPaymentDate,
		SessionToken:       input.SessionToken,
		CreatedBy:          actorID,
		CreatedAt:          now,
		UpdatedAt:          now,
		Products:           lines,
	}
	if order.Type == "" {
		order.Type = TypeTakeaway
	}
	order.ProcessStatus, order.DeliveryStatus = StatusForType(order.Type)
	for _, p := range input.Payments {
		order.Payments = append(order.Payments, OrderPayment{
			Identifier: p.Identifier,
			Value:      p.Value,
			ActorID:    actorID,
			CreatedAt:  now,
		})
	}
	for _, i := range input.Instalments {
		order.Instalments = append(order.Instalments, OrderInstalment{Amount: i.Amount, Date: i.Date})
	}
	order.TotalInstalments = len(order.Instalments)
	return order
}

// computeDraftTaxes prices every line and derives the order-level tax per
// the configured strategy.
func (s *Service) computeDraftTaxes(ctx context.Context, order *Order, lookup catalog.Lookup) error {
	rateCache := map[int64][]tax.Rate{}
	groupRates := func(groupID int64) ([]tax.Rate, error) {
		if groupID == 0 {
			return nil, nil
		}
		if rates, ok := rateCache[groupID]; ok {
			return rates, nil
		}
		raw, err := s.catalog.TaxGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		rates := make([]tax.Rate, 0, len(raw))
		for _, r := range raw {
			rates = append(rates, tax.Rate{ID: r.ID, Name: r.Name, Rate: r.Rate})
		}
		rateCache[groupID] = rates
		return rates, nil
	}

	for i := range order.Products {
		line := &order.Products[i]
		var rates []tax.Rate
		if s.policy.Strategy.UsesProductTaxes() {
			var err error
			rates, err = groupRates(line.TaxGroupID)
			if err != nil {
				return err
			}
		}
		lineType := order.TaxType
		if product, ok := lookup.Get(line.ProductID); ok && product.TaxType != "" {
			lineType = tax.Type(product.TaxType)
		}
		LineTotals(line, lineType, rates, s.taxes)
	}

	order.Taxes = nil
	order.TaxValue = 0
	if s.policy.Strategy.UsesOrderTax() {
		rates, err := groupRates(order.TaxGroupID)
		if err != nil {
			return err
		}
		subtotal := money.New(0)
		for _, line := range order.Products {
			subtotal = subtotal.Add(line.TotalPrice)
		}
		computed := s.taxes.ComputeGroup(order.TaxType, rates, subtotal.Subtract(order.Discount).Float())
		for _, rate := range computed.Rates {
			order.Taxes = append(order.Taxes, OrderTax{
				TaxID:    rate.ID,
				TaxName:  rate.Name,
				Rate:     rate.Rate,
				TaxValue: rate.Tax,
			})
		}
		order.TaxValue = computed.Total
	} else {
		total := money.New(0)
		for _, line := range order.Products {
			total = total.Add(line.TaxValue)
		}
		order.TaxValue = total.Float()
	}
	return nil
}

// refreshTaxes recomputes line and order taxes from the order's current
// lines, so quantity changes and removals never leave a stale tax behind.
func (s *Service) refreshTaxes(ctx context.Context, order *Order) error {
	lookup := catalog.Lookup{}
	for _, line := range order.Products {
		if line.ProductID == 0 {
			continue
		}
		if _, ok := lookup[line.ProductID]; ok {
			continue
		}
		if product, err := s.catalog.Product(ctx, line.ProductID); err == nil {
			lookup[line.ProductID] = product
		}
	}
	return s.computeDraftTaxes(ctx, order, lookup)
}

// checkPayments enforces the payment rules before anything is written.
func (s *Service) checkPayments(ctx context.Context, draft *Order, input CreateOrderInput, existing *Order, customer customers.Customer, actorID int64) error {
	tendered := money.New(0)
	for _, p := range input.Payments {
		if p.Value < 0 {
			return notAllowedf("payment amounts cannot be negative")
		}
		tendered = tendered.Add(p.Value)
	}
	draft.Tendered = tendered.Float()

	if existing != nil {
		if existing.PaymentStatus == StatusPaid {
			return notAllowedf("a fully paid order cannot be edited")
		}
		if len(input.Payments) < len(existing.Payments) {
			return notAllowedf("recorded payments cannot be removed from an order")
		}
		if input.Hold && existing.PaymentStatus != StatusHold {
			return notAllowedf("an active order cannot be moved back on hold")
		}
	}

	// Totals are final at this point, coupons included, so the projected
	// exposure is not overstated for couponed orders.
	total := money.New(draft.Total)

	if draft.Tendered > epsilon && draft.Tendered < total.Float()-epsilon && !s.policy.AllowPartial {
		return notAllowedf("partially paid orders are not allowed")
	}
	if draft.Tendered <= epsilon && !input.Hold {
		if !s.policy.AllowUnpaid {
			return notAllowedf("unpaid orders are not allowed")
		}
		if customer.CreditLimit > 0 {
			projected := money.New(customer.OwedAmount).Add(total.Float())
			if projected.Float() > customer.CreditLimit+epsilon {
				return notAllowedf("customer credit limit of %.2f would be exceeded", customer.CreditLimit)
			}
		}
	}
	if draft.Tendered > epsilon {
		if err := shared.Restrict(ctx, s.authz, actorID, PermissionMakePayment); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resolveCoupons(ctx context.Context, input CreateOrderInput, customerID int64, subtotal float64) ([]OrderCoupon, error) {
	var coupons []OrderCoupon
	for _, code := range input.Coupons {
		coupon, err := s.customers.Coupon(ctx, customerID, code)
		if err != nil {
			return nil, err
		}
		value := coupon.DiscountValue
		if coupon.Type == customers.CouponPercentage {
			value = money.Percent(subtotal, coupon.DiscountValue)
		}
		coupons = append(coupons, OrderCoupon{
			CouponID:      coupon.ID,
			Code:          coupon.Code,
			Name:          coupon.Name,
			Type:          string(coupon.Type),
			DiscountValue: coupon.DiscountValue,
			Value:         value,
		})
	}
	return coupons, nil
}

// checkAvailability verifies requested quantities against lot availability
// minus other sessions' holds, exploding grouped products into the
// sub-items that carry the stock.
func (s *Service) checkAvailability(ctx context.Context, input CreateOrderInput, lookup catalog.Lookup) error {
	type demandKey struct {
		productID int64
		unitID    int64
	}
	demand := map[demandKey]float64{}
	for _, line := range input.Products {
		product, ok := lookup.Get(line.ProductID)
		if !ok {
			p, err := s.catalog.ProductBySKU(ctx, line.SKU)
			if err != nil {
				return err
			}
			product = p
		}
		switch {
		case product.Type == catalog.TypeGrouped:
			for _, sub := range product.SubItems {
				child, err := s.catalog.Product(ctx, sub.ProductID)
				if err != nil {
					return err
				}
				if !child.Tracked() {
					continue
				}
				demand[demandKey{sub.ProductID, sub.UnitID}] += sub.Quantity * line.Quantity
			}
		case product.Tracked():
			demand[demandKey{product.ID, line.UnitID}] += line.Quantity
		}
	}
	for key, qty := range demand {
		onHand, err := s.stock.StockOnHand(ctx, key.productID, key.unitID)
		if err != nil {
			return err
		}
		held := 0.0
		if s.reservations != nil {
			held, err = s.reservations.Held(ctx, key.productID, key.unitID, input.SessionToken)
			if err != nil {
				return err
			}
		}
		available := onHand - held
		if available < qty-epsilon {
			return &ledger.InsufficientStockError{
				ProductID: key.productID,
				UnitID:    key.unitID,
				Requested: qty,
				Available: available,
			}
		}
	}
	return nil
}

func validateDiscount(input CreateOrderInput, subtotal float64) error {
	switch input.DiscountType {
	case DiscountPercentage:
		if input.DiscountPercentage < 0 || input.DiscountPercentage > 100 {
			return notAllowedf("discount percentage must be between 0 and 100")
		}
	case DiscountFlat:
		if input.Discount > subtotal+epsilon {
			return notAllowedf("flat discount cannot exceed the products subtotal")
		}
	}
	for _, line := range input.Products {
		if line.DiscountType == DiscountFlat {
			return notAllowedf("per-product discounts must be percentage based")
		}
		if line.DiscountType == DiscountPercentage && (line.DiscountPercentage < 0 || line.DiscountPercentage > 100) {
			return notAllowedf("line discount percentage must be between 0 and 100")
		}
	}
	return nil
}

func buildAddresses(input CreateOrderInput) []OrderAddress {
	var addresses []OrderAddress
	if len(input.BillingAddress) > 0 {
		addresses = append(addresses, AddressFromMap(AddressBilling, input.BillingAddress))
	}
	if len(input.ShippingAddress) > 0 {
		addresses = append(addresses, AddressFromMap(AddressShipping, input.ShippingAddress))
	}
	return addresses
}

// checkInstalmentFloor enforces the customer group's minimal credit payment
// percentage when instalments defer part of the total.
func (s *Service) checkInstalmentFloor(input CreateOrderInput, customer customers.Customer, total, tendered float64) error {
	if input.Hold || s.policy.AllowUnpaid {
		return nil
	}
	percent := customer.Group.MinimalCreditPercent
	if percent <= 0 {
		return nil
	}
	floor := money.Percent(total, percent)
	if tendered < floor-epsilon {
		return notAllowedf("a minimum payment of %.2f is required by the customer group", floor)
	}
	return nil
}

func (s *Service) commitNew(ctx context.Context, tx TxRepository, draft Order, input CreateOrderInput, actorID int64) (Order, error) {
	code, err := tx.NextOrderCode(ctx, draft.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	draft.Code = code
	orderID, err := tx.InsertOrder(ctx, draft)
	if err != nil {
		return Order{}, err
	}
	draft.ID = orderID
	for i := range draft.Products {
		draft.Products[i].OrderID = orderID
		lineID, err := tx.InsertLine(ctx, draft.Products[i])
		if err != nil {
			return Order{}, err
		}
		draft.Products[i].ID = lineID
	}
	if err := s.persistRelations(ctx, tx, &draft, actorID); err != nil {
		return Order{}, err
	}
	if draft.PaymentStatus != StatusHold {
		if err := s.recordSaleConsumption(ctx, tx, &draft, actorID); err != nil {
			return Order{}, err
		}
		// Consumption fills in the per-line cost basis; fold it back into
		// the aggregate cost of goods figure.
		ComputeTotals(&draft)
	}
	if err := tx.UpdateOrder(ctx, draft); err != nil {
		return Order{}, err
	}
	return draft, nil
}

func (s *Service) commitEdit(ctx context.Context, tx TxRepository, draft Order, input CreateOrderInput, existing Order, actorID int64) (Order, error) {
	locked, err := tx.GetOrderForUpdate(ctx, existing.ID)
	if err != nil {
		return Order{}, err
	}
	draft.ID = locked.ID
	draft.Code = locked.Code
	draft.CreatedAt = locked.CreatedAt
	draft.CreatedBy = locked.CreatedBy
	draft.TotalRefunded = locked.TotalRefunded

	wasHeld := locked.PaymentStatus == StatusHold
	if err := s.reconcileLines(ctx, tx, &draft, locked, wasHeld, actorID); err != nil {
		return Order{}, err
	}
	if err := tx.DeletePayments(ctx, locked.ID); err != nil {
		return Order{}, err
	}
	for i := range draft.Payments {
		draft.Payments[i].OrderID = locked.ID
		id, err := tx.InsertPayment(ctx, draft.Payments[i])
		if err != nil {
			return Order{}, err
		}
		draft.Payments[i].ID = id
	}
	if err := s.replaceUnpaidInstalments(ctx, tx, &draft, locked); err != nil {
		return Order{}, err
	}
	if err := tx.ReplaceTaxes(ctx, locked.ID, withOrderID(draft.Taxes, locked.ID)); err != nil {
		return Order{}, err
	}
	if err := tx.ReplaceCoupons(ctx, locked.ID, couponsWithOrderID(draft.Coupons, locked.ID)); err != nil {
		return Order{}, err
	}
	if err := tx.ReplaceAddresses(ctx, locked.ID, addressesWithOrderID(draft.Addresses, locked.ID)); err != nil {
		return Order{}, err
	}
	ComputeTotals(&draft)
	RefreshPayments(&draft, input.requestedStatus())
	if draft.PaymentStatus != StatusHold {
		if err := s.recordSaleConsumption(ctx, tx, &draft, actorID); err != nil {
			return Order{}, err
		}
		ComputeTotals(&draft)
	}
	if err := tx.UpdateOrder(ctx, draft); err != nil {
		return Order{}, err
	}
	return draft, nil
}

// reconcileLines deletes removed lines (restoring their stock unless the
// order was held) and applies quantity deltas for kept lines already sold.
func (s *Service) reconcileLines(ctx context.Context, tx TxRepository, draft *Order, locked Order, wasHeld bool, actorID int64) error {
	kept := map[int64]*OrderProduct{}
	for i := range draft.Products {
		if draft.Products[i].ID != 0 {
			kept[draft.Products[i].ID] = &draft.Products[i]
		}
	}
	for _, old := range locked.Products {
		next, ok := kept[old.ID]
		if !ok {
			if !wasHeld {
				if err := s.restoreLine(ctx, tx, locked.ID, old, old.Quantity, ledger.ActionAdjustmentReturn, actorID); err != nil {
					return err
				}
			}
			if err := tx.DeleteLine(ctx, old.ID); err != nil {
				return err
			}
			continue
		}
		if wasHeld {
			continue
		}
		delta := next.Quantity - old.Quantity
		switch {
		case delta > epsilon:
			tracked, targets, err := s.stockTargets(ctx, old.ProductID, old.UnitID, delta)
			if err != nil {
				return err
			}
			if !tracked {
				continue
			}
			added := money.New(0)
			for _, target := range targets {
				result, err := s.engine.Consume(ctx, tx.Ledger(), target.productID, target.unitID, target.qty)
				if err != nil {
					return err
				}
				if err := s.logMovement(ctx, tx, locked.ID, old.ID, target, result.TotalCost, ledger.ActionAdjustmentSale, actorID); err != nil {
					return err
				}
				added = added.Add(result.TotalCost)
			}
			next.TotalPurchasePrice = money.New(old.TotalPurchasePrice).Add(added.Float()).Float()
		case delta < -epsilon:
			if err := s.restoreLine(ctx, tx, locked.ID, old, -delta, ledger.ActionAdjustmentReturn, actorID); err != nil {
				return err
			}
		}
	}
	// Persist kept and new lines.
	for i := range draft.Products {
		line := &draft.Products[i]
		line.OrderID = locked.ID
		if line.ID == 0 {
			id, err := tx.InsertLine(ctx, *line)
			if err != nil {
				return err
			}
			line.ID = id
			continue
		}
		if err := tx.UpdateLine(ctx, *line); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) replaceUnpaidInstalments(ctx context.Context, tx TxRepository, draft *Order, locked Order) error {
	paid := make([]OrderInstalment, 0, len(locked.Instalments))
	for _, inst := range locked.Instalments {
		if inst.Paid {
			paid = append(paid, inst)
			continue
		}
		if err := tx.DeleteInstalment(ctx, inst.ID); err != nil {
			return err
		}
	}
	fresh := draft.Instalments
	draft.Instalments = paid
	for _, inst := range fresh {
		inst.OrderID = locked.ID
		id, err := tx.InsertInstalment(ctx, inst)
		if err != nil {
			return err
		}
		inst.ID = id
		draft.Instalments = append(draft.Instalments, inst)
	}
	draft.TotalInstalments = len(draft.Instalments)
	return nil
}

func (s *Service) persistRelations(ctx context.Context, tx TxRepository, order *Order, actorID int64) error {
	for i := range order.Payments {
		order.Payments[i].OrderID = order.ID
		id, err := tx.InsertPayment(ctx, order.Payments[i])
		if err != nil {
			return err
		}
		order.Payments[i].ID = id
	}
	for i := range order.Instalments {
		order.Instalments[i].OrderID = order.ID
		id, err := tx.InsertInstalment(ctx, order.Instalments[i])
		if err != nil {
			return err
		}
		order.Instalments[i].ID = id
	}
	if err := tx.ReplaceTaxes(ctx, order.ID, withOrderID(order.Taxes, order.ID)); err != nil {
		return err
	}
	if err := tx.ReplaceCoupons(ctx, order.ID, couponsWithOrderID(order.Coupons, order.ID)); err != nil {
		return err
	}
	return tx.ReplaceAddresses(ctx, order.ID, addressesWithOrderID(order.Addresses, order.ID))
}

// recordSaleConsumption drains stock for every tracked line that has not
// been consumed yet, writing SOLD history and the line's cost basis. The
// existence check makes retries safe.
func (s *Service) recordSaleConsumption(ctx context.Context, tx TxRepository, order *Order, actorID int64) error {
	for i := range order.Products {
		line := &order.Products[i]
		done, err := tx.Ledger().HistoryExists(ctx, order.ID, line.ID, ledger.ActionSold)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		tracked, subItems, err := s.stockTargets(ctx, line.ProductID, line.UnitID, line.Quantity)
		if err != nil {
			return err
		}
		if !tracked {
			continue
		}
		cost := money.New(0)
		for _, target := range subItems {
			result, err := s.engine.Consume(ctx, tx.Ledger(), target.productID, target.unitID, target.qty)
			if err != nil {
				return err
			}
			cost = cost.Add(result.TotalCost)
			onHand, err := tx.Ledger().StockOnHand(ctx, target.productID, target.unitID)
			if err != nil {
				return err
			}
			_, err = tx.Ledger().InsertHistory(ctx, ledger.HistoryEntry{
				ProductID:      target.productID,
				UnitID:         target.unitID,
				OrderID:        order.ID,
				OrderProductID: line.ID,
				Action:         ledger.ActionSold,
				Quantity:       target.qty,
				UnitPrice:      line.UnitPrice,
				TotalPrice:     money.New(line.UnitPrice).MultiplyBy(target.qty).Float(),
				Before:         onHand + target.qty,
				After:          onHand,
				ActorID:        actorID,
				CreatedAt:      time.Now().UTC(),
			})
			if err != nil {
				return err
			}
		}
		line.TotalPurchasePrice = cost.Float()
		if err := tx.UpdateLine(ctx, *line); err != nil {
			return err
		}
	}
	return nil
}

type stockTarget struct {
	productID int64
	unitID    int64
	qty       float64
}

// stockTargets resolves which (product, unit) pairs carry the stock for
// qty of a product, exploding grouped products into their tracked
// sub-items. Consumption and restoration both walk these targets so the
// round-trip nets to zero on the same products.
func (s *Service) stockTargets(ctx context.Context, productID, unitID int64, qty float64) (bool, []stockTarget, error) {
	if productID == 0 {
		return false, nil, nil
	}
	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return false, nil, err
	}
	if product.Type == catalog.TypeGrouped {
		var targets []stockTarget
		for _, sub := range product.SubItems {
			child, err := s.catalog.Product(ctx, sub.ProductID)
			if err != nil {
				return false, nil, err
			}
			if !child.Tracked() {
				continue
			}
			targets = append(targets, stockTarget{sub.ProductID, sub.UnitID, sub.Quantity * qty})
		}
		return len(targets) > 0, targets, nil
	}
	if !product.Tracked() {
		return false, nil, nil
	}
	return true, []stockTarget{{productID, unitID, qty}}, nil
}

// restoreLine puts a line's quantity back into the lot ledger, walking the
// same targets a sale consumes, each priced at its FIFO cost.
func (s *Service) restoreLine(ctx context.Context, tx TxRepository, orderID int64, line OrderProduct, qty float64, action ledger.HistoryAction, actorID int64) error {
	tracked, targets, err := s.stockTargets(ctx, line.ProductID, line.UnitID, qty)
	if err != nil {
		return err
	}
	if !tracked {
		return nil
	}
	for _, target := range targets {
		cost, err := s.engine.Cost(ctx, tx.Ledger(), target.productID, target.unitID, target.qty)
		if err != nil {
			return err
		}
		if _, err := s.engine.Restore(ctx, tx.Ledger(), target.productID, target.unitID, target.qty); err != nil {
			return err
		}
		if err := s.logMovement(ctx, tx, orderID, line.ID, target, cost, action, actorID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) logMovement(ctx context.Context, tx TxRepository, orderID, lineID int64, target stockTarget, total float64, action ledger.HistoryAction, actorID int64) error {
	after, err := tx.Ledger().StockOnHand(ctx, target.productID, target.unitID)
	if err != nil {
		return err
	}
	before := after
	switch action {
	case ledger.ActionSold, ledger.ActionAdjustmentSale, ledger.ActionDefective:
		before = after + target.qty
	default:
		before = after - target.qty
	}
	unitPrice := 0.0
	if target.qty > 0 {
		if unit, err := money.New(total).DivideBy(target.qty); err == nil {
			unitPrice = unit.Float()
		}
	}
	_, err = tx.Ledger().InsertHistory(ctx, ledger.HistoryEntry{
		ProductID:      target.productID,
		UnitID:         target.unitID,
		OrderID:        orderID,
		OrderProductID: lineID,
		Action:         action,
		Quantity:       target.qty,
		UnitPrice:      unitPrice,
		TotalPrice:     total,
		Before:         before,
		After:          after,
		ActorID:        actorID,
		CreatedAt:      time.Now().UTC(),
	})
	return err
}

// RefreshOrder recomputes totals, tendered, change and payment status from
// the persisted aggregate. It never re-validates business rules.
func (s *Service) RefreshOrder(ctx context.Context, orderID int64) (Order, error) {
	var refreshed Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == StatusVoid {
			refreshed = order
			return nil
		}
		requested := StatusUnpaid
		if order.PaymentStatus == StatusHold {
			requested = StatusHold
		}
		if err := s.refreshTaxes(ctx, &order); err != nil {
			return err
		}
		ComputeTotals(&order)
		RefreshPayments(&order, requested)
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		refreshed = order
		return nil
	})
	return refreshed, err
}

// AddProducts appends lines to an existing order, re-running stock checks,
// then refreshes totals.
func (s *Service) AddProducts(ctx context.Context, orderID int64, inputs []LineInput, actorID int64) (Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.PaymentStatus == StatusVoid {
		return Order{}, notAllowedf("products cannot be added to a void order")
	}
	lookup, lines, err := s.resolveLines(ctx, inputs)
	if err != nil {
		return Order{}, err
	}
	stockCheck := CreateOrderInput{Products: inputs, SessionToken: order.SessionToken}
	if order.PaymentStatus != StatusHold {
		if err := s.checkAvailability(ctx, stockCheck, lookup); err != nil {
			return Order{}, err
		}
	}
	scratch := Order{TaxType: order.TaxType, Products: lines}
	if err := s.computeDraftTaxes(ctx, &scratch, lookup); err != nil {
		return Order{}, err
	}
	lines = scratch.Products

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		for i := range lines {
			lines[i].OrderID = orderID
			id, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = id
		}
		locked.Products = append(locked.Products, lines...)
		if locked.PaymentStatus != StatusHold {
			if err := s.recordSaleConsumption(ctx, tx, &locked, actorID); err != nil {
				return err
			}
		}
		requested := StatusUnpaid
		if locked.PaymentStatus == StatusHold {
			requested = StatusHold
		}
		if err := s.refreshTaxes(ctx, &locked); err != nil {
			return err
		}
		ComputeTotals(&locked)
		RefreshPayments(&locked, requested)
		return tx.UpdateOrder(ctx, locked)
	})
	if err != nil {
		return Order{}, err
	}
	return s.repo.Get(ctx, orderID)
}

// DeleteOrderProduct removes one line, restoring its stock unless the order
// is on hold, then refreshes the order.
func (s *Service) DeleteOrderProduct(ctx context.Context, orderID, lineID, actorID int64) (Order, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == StatusVoid {
			return notAllowedf("lines cannot be removed from a void order")
		}
		line, ok := order.Line(lineID)
		if !ok {
			return fmt.Errorf("%w: order %d has no line %d", shared.ErrNotFound, orderID, lineID)
		}
		if order.PaymentStatus != StatusHold {
			if err := s.restoreLine(ctx, tx, orderID, *line, line.Quantity, ledger.ActionReturned, actorID); err != nil {
				return err
			}
		}
		if err := tx.DeleteLine(ctx, lineID); err != nil {
			return err
		}
		remaining := order.Products[:0]
		for _, l := range order.Products {
			if l.ID != lineID {
				remaining = append(remaining, l)
			}
		}
		order.Products = remaining
		requested := StatusUnpaid
		if order.PaymentStatus == StatusHold {
			requested = StatusHold
		}
		if err := s.refreshTaxes(ctx, &order); err != nil {
			return err
		}
		ComputeTotals(&order)
		RefreshPayments(&order, requested)
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAuditID(ctx, actorID, "orders:delete-line", orderID)
	return s.repo.Get(ctx, orderID)
}

// DeleteOrder removes the aggregate. Unless the order was voided (stock
// already returned through ReturnVoidProducts), every line's stock flows
// back first.
func (s *Service) DeleteOrder(ctx context.Context, orderID, actorID int64) error {
	var snapshot Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot = order
		if order.PaymentStatus != StatusVoid && order.PaymentStatus != StatusHold {
			for _, line := range order.Products {
				if err := s.restoreLine(ctx, tx, orderID, line, line.Quantity, ledger.ActionReturned, actorID); err != nil {
					return err
				}
			}
		}
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return err
	}
	s.hooks.AfterDelete.Notify(ctx, snapshot)
	s.recordAudit(ctx, actorID, "orders:delete", snapshot)
	return nil
}

// Void marks the order VOID and stores the reason. Stock is not touched;
// ReturnVoidProducts performs the restock separately.
func (s *Service) Void(ctx context.Context, orderID int64, reason string, actorID int64) (Order, error) {
	var voided Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == StatusVoid {
			return notAllowedf("the order is already void")
		}
		order.PaymentStatus = StatusVoid
		order.VoidReason = reason
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		voided = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actorID, "orders:void", voided)
	return voided, nil
}

// ReturnVoidProducts restores stock for every catalog-linked line of a
// voided order, logging a VOID_RETURN entry per line.
func (s *Service) ReturnVoidProducts(ctx context.Context, orderID, actorID int64) (Order, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != StatusVoid {
			return notAllowedf("stock can only be returned for a void order")
		}
		for _, line := range order.Products {
			if line.ProductID == 0 {
				continue
			}
			done, err := tx.Ledger().HistoryExists(ctx, orderID, line.ID, ledger.ActionVoidReturn)
			if err != nil {
				return err
			}
			if done {
				continue
			}
			if err := s.restoreLine(ctx, tx, orderID, line, line.Quantity, ledger.ActionVoidReturn, actorID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return s.repo.Get(ctx, orderID)
}

// MakeOrderSinglePayment records one payment against an order and
// refreshes its status. Account-funded payments debit the customer first.
func (s *Service) MakeOrderSinglePayment(ctx context.Context, orderID int64, payment PaymentInput, actorID int64) (Order, error) {
	if payment.Value <= 0 {
		return Order{}, notAllowedf("payment amount must be positive")
	}
	if err := shared.Restrict(ctx, s.authz, actorID, PermissionMakePayment); err != nil {
		return Order{}, err
	}
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.PaymentStatus == StatusPaid {
		return Order{}, notAllowedf("the order is already fully paid")
	}
	if order.PaymentStatus == StatusVoid {
		return Order{}, notAllowedf("a void order cannot receive payments")
	}
	if payment.Identifier == PaymentAccount {
		err := s.customers.DebitAccount(ctx, customers.AccountInput{
			CustomerID:  order.CustomerID,
			OrderID:     orderID,
			Amount:      payment.Value,
			Description: fmt.Sprintf("payment on order %s", order.Code),
			ActorID:     actorID,
		})
		if err != nil {
			return Order{}, err
		}
	}
	var updated Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		p := OrderPayment{
			OrderID:    orderID,
			Identifier: payment.Identifier,
			Value:      payment.Value,
			ActorID:    actorID,
			CreatedAt:  time.Now().UTC(),
		}
		id, err := tx.InsertPayment(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		locked.Payments = append(locked.Payments, p)
		ComputeTotals(&locked)
		RefreshPayments(&locked, StatusUnpaid)
		if err := tx.UpdateOrder(ctx, locked); err != nil {
			return err
		}
		updated = locked
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	_ = s.customers.AdjustOwed(ctx, updated.CustomerID, -payment.Value)
	s.recordAudit(ctx, actorID, "orders:payment", updated)
	return updated, nil
}

// ChangeProcessStatus updates fulfilment progress.
func (s *Service) ChangeProcessStatus(ctx context.Context, orderID int64, status ProcessStatus, actorID int64) (Order, error) {
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.ProcessStatus == ProcessNotAvailable {
			return notAllowedf("this order type has no process tracking")
		}
		order.ProcessStatus = status
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAuditID(ctx, actorID, "orders:process-status", orderID)
	return updated, nil
}

// ChangeDeliveryStatus updates hand-over progress.
func (s *Service) ChangeDeliveryStatus(ctx context.Context, orderID int64, status DeliveryStatus, actorID int64) (Order, error) {
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.DeliveryStatus == DeliveryNotAvailable {
			return notAllowedf("this order type has no delivery tracking")
		}
		order.DeliveryStatus = status
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAuditID(ctx, actorID, "orders:delivery-status", orderID)
	return updated, nil
}

// SweepDueOrders marks unpaid and partially-paid orders past their final
// payment date as DUE or PARTIALLY_DUE. Returns how many orders moved.
func (s *Service) SweepDueOrders(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.repo.ListDueCandidates(ctx, now)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, candidate := range candidates {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, err := tx.GetOrderForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			switch order.PaymentStatus {
			case StatusUnpaid:
				order.PaymentStatus = StatusDue
			case StatusPartiallyPaid:
				order.PaymentStatus = StatusPartiallyDue
			default:
				return nil
			}
			moved++
			return tx.UpdateOrder(ctx, order)
		})
		if err != nil {
			return moved, err
		}
	}
	return moved, nil
}

func (s *Service) settleCustomerFigures(ctx context.Context, order Order, existing *Order) {
	if order.PaymentStatus == StatusHold {
		return
	}
	owed := money.New(order.Total).Subtract(order.Tendered).Float()
	if existing != nil {
		owed = money.New(owed).
			Subtract(money.New(existing.Total).Subtract(existing.Tendered).Float()).
			Float()
	}
	if owed < 0 {
		owed = 0
	}
	if owed != 0 {
		_ = s.customers.AdjustOwed(ctx, order.CustomerID, owed)
	}
	if existing == nil {
		_ = s.customers.RecordPurchase(ctx, order.CustomerID, order.Total)
	}
}

func isPersistence(err error) bool {
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrNotAllowed) {
		return false
	}
	var stockErr *ledger.InsufficientStockError
	return !errors.As(err, &stockErr) && !errors.Is(err, shared.ErrPersistence) &&
		!errors.Is(err, ledger.ErrInvalidQuantity) && !errors.Is(err, money.ErrDivisionByZero)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, order Order) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order",
		EntityID: fmt.Sprintf("%d", order.ID),
		Meta: map[string]any{
			"code":           order.Code,
			"total":          order.Total,
			"payment_status": string(order.PaymentStatus),
		},
	})
}

func (s *Service) recordAuditID(ctx context.Context, actorID int64, action string, orderID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order",
		EntityID: fmt.Sprintf("%d", orderID),
	})
}

func withOrderID(taxes []OrderTax, orderID int64) []OrderTax {
	out := make([]OrderTax, len(taxes))
	for i, t := range taxes {
		t.OrderID = orderID
		out[i] = t
	}
	return out
}

func couponsWithOrderID(coupons []OrderCoupon, orderID int64) []OrderCoupon {
	out := make([]OrderCoupon, len(coupons))
	for i, c := range coupons {
		c.OrderID = orderID
		out[i] = c
	}
	return out
}

func addressesWithOrderID(addresses []OrderAddress, orderID int64) []OrderAddress {
	out := make([]OrderAddress, len(addresses))
	for i, a := range addresses {
		a.OrderID = orderID
		out[i] = a
	}
	return out
}
