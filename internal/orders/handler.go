package orders

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/oakpos/oakpos/internal/platform/httpx"
)

// Handler exposes the order settlement endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the orders handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers order routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Post("/products", h.handleAddProducts)
			r.Delete("/products/{lineID}", h.handleDeleteProduct)
			r.Post("/refund", h.handleRefund)
			r.Post("/void", h.handleVoid)
			r.Post("/void/return", h.handleVoidReturn)
			r.Post("/payments", h.handlePayment)
			r.Put("/process-status", h.handleProcessStatus)
			r.Put("/delivery-status", h.handleDeliveryStatus)
			r.Route("/instalments", func(r chi.Router) {
				r.Post("/", h.handleCreateInstalment)
				r.Put("/{instalmentID}", h.handleUpdateInstalment)
				r.Delete("/{instalmentID}", h.handleDeleteInstalment)
				r.Post("/{instalmentID}/pay", h.handlePayInstalment)
			})
		})
	})
}

type lineRequest struct {
	ID                 int64   `json:"id"`
	ProductID          int64   `json:"product_id"`
	SKU                string  `json:"sku"`
	UnitID             int64   `json:"unit_id"`
	Quantity           float64 `json:"quantity" validate:"gt=0"`
	UnitPrice          float64 `json:"unit_price" validate:"gte=0"`
	DiscountType       string  `json:"discount_type"`
	DiscountPercentage float64 `json:"discount_percentage"`
	Discount           float64 `json:"discount"`
}

type paymentRequest struct {
	Identifier string  `json:"identifier" validate:"required"`
	Value      float64 `json:"value"`
}

type instalmentRequest struct {
	Amount float64   `json:"amount" validate:"gt=0"`
	Date   time.Time `json:"date" validate:"required"`
}

type orderRequest struct {
	CustomerID         int64               `json:"customer_id" validate:"required"`
	Type               string              `json:"type" validate:"required,oneof=takeaway delivery"`
	Hold               bool                `json:"hold"`
	Products           []lineRequest       `json:"products" validate:"min=1,dive"`
	Payments           []paymentRequest    `json:"payments" validate:"dive"`
	DiscountType       string              `json:"discount_type"`
	DiscountPercentage float64             `json:"discount_percentage"`
	Discount           float64             `json:"discount"`
	Shipping           float64             `json:"shipping" validate:"gte=0"`
	Coupons            []string            `json:"coupons"`
	Instalments        []instalmentRequest `json:"instalments" validate:"dive"`
	BillingAddress     map[string]string   `json:"billing_address"`
	ShippingAddress    map[string]string   `json:"shipping_address"`
	Note               string              `json:"note"`
	FinalPaymentDate   *time.Time          `json:"final_payment_date"`
	SessionToken       string              `json:"session_token"`
}

func (req orderRequest) toInput() CreateOrderInput {
	input := CreateOrderInput{
		CustomerID:         req.CustomerID,
		Type:               OrderType(req.Type),
		Hold:               req.Hold,
		DiscountType:       DiscountType(req.DiscountType),
		DiscountPercentage: req.DiscountPercentage,
		Discount:           req.Discount,
		Shipping:           req.Shipping,
		Coupons:            req.Coupons,
		BillingAddress:     req.BillingAddress,
		ShippingAddress:    req.ShippingAddress,
		Note:               req.Note,
		FinalPaymentDate:   req.FinalPaymentDate,
		SessionToken:       req.SessionToken,
	}
	for _, line := range req.Products {
		input.Products = append(input.Products, LineInput{
			ID:                 line.ID,
			ProductID:          line.ProductID,
			SKU:                line.SKU,
			UnitID:             line.UnitID,
			Quantity:           line.Quantity,
			UnitPrice:          line.UnitPrice,
			DiscountType:       DiscountType(line.DiscountType),
			DiscountPercentage: line.DiscountPercentage,
			Discount:           line.Discount,
		})
	}
	for _, pay := range req.Payments {
		input.Payments = append(input.Payments, PaymentInput{Identifier: pay.Identifier, Value: pay.Value})
	}
	for _, inst := range req.Instalments {
		input.Instalments = append(input.Instalments, InstalmentInput{Amount: inst.Amount, Date: inst.Date})
	}
	return input
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := PaymentStatus(r.URL.Query().Get("payment_status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.service.List(r.Context(), status, limit)
	if err != nil {
		h.fail(w, r, "list orders", err)
		return
	}
	httpx.Success(w, "orders retrieved", orders)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, "get order", err)
		return
	}
	httpx.Success(w, "order retrieved", order)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}
	order, err := h.service.Create(r.Context(), req.toInput(), 0, actorID(r))
	if err != nil {
		h.fail(w, r, "create order", err)
		return
	}
	httpx.Success(w, "order created", order)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	req, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}
	order, err := h.service.Create(r.Context(), req.toInput(), orderID, actorID(r))
	if err != nil {
		h.fail(w, r, "update order", err)
		return
	}
	httpx.Success(w, "order updated", order)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	if err := h.service.DeleteOrder(r.Context(), orderID, actorID(r)); err != nil {
		h.fail(w, r, "delete order", err)
		return
	}
	httpx.Success(w, "order deleted", nil)
}

func (h *Handler) handleAddProducts(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req struct {
		Products []lineRequest `json:"products" validate:"min=1,dive"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	inputs := make([]LineInput, 0, len(req.Products))
	for _, line := range req.Products {
		inputs = append(inputs, LineInput{
			ProductID:          line.ProductID,
			SKU:                line.SKU,
			UnitID:             line.UnitID,
			Quantity:           line.Quantity,
			UnitPrice:          line.UnitPrice,
			DiscountType:       DiscountType(line.DiscountType),
			DiscountPercentage: line.DiscountPercentage,
			Discount:           line.Discount,
		})
	}
	order, err := h.service.AddProducts(r.Context(), orderID, inputs, actorID(r))
	if err != nil {
		h.fail(w, r, "add products", err)
		return
	}
	httpx.Success(w, "products added", order)
}

func (h *Handler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	lineID, ok := h.pathID(w, r, "lineID")
	if !ok {
		return
	}
	order, err := h.service.DeleteOrderProduct(r.Context(), orderID, lineID, actorID(r))
	if err != nil {
		h.fail(w, r, "delete order product", err)
		return
	}
	httpx.Success(w, "product removed", order)
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req struct {
		Lines []struct {
			OrderProductID int64   `json:"order_product_id" validate:"required"`
			Quantity       float64 `json:"quantity" validate:"gt=0"`
			Condition      string  `json:"condition" validate:"required,oneof=damaged unspoiled"`
		} `json:"lines" validate:"dive"`
		RefundShipping bool `json:"refund_shipping"`
		ToAccount      bool `json:"to_account"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	input := RefundInput{RefundShipping: req.RefundShipping, ToAccount: req.ToAccount}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, RefundLineInput{
			OrderProductID: line.OrderProductID,
			Quantity:       line.Quantity,
			Condition:      RefundCondition(line.Condition),
		})
	}
	order, refund, err := h.service.RefundOrder(r.Context(), orderID, input, actorID(r))
	if err != nil {
		h.fail(w, r, "refund order", err)
		return
	}
	httpx.Success(w, "order refunded", map[string]any{"order": order, "refund": refund})
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.Void(r.Context(), orderID, req.Reason, actorID(r))
	if err != nil {
		h.fail(w, r, "void order", err)
		return
	}
	httpx.Success(w, "order voided", order)
}

func (h *Handler) handleVoidReturn(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	order, err := h.service.ReturnVoidProducts(r.Context(), orderID, actorID(r))
	if err != nil {
		h.fail(w, r, "return void products", err)
		return
	}
	httpx.Success(w, "void products returned to stock", order)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.MakeOrderSinglePayment(r.Context(), orderID, PaymentInput{Identifier: req.Identifier, Value: req.Value}, actorID(r))
	if err != nil {
		h.fail(w, r, "make payment", err)
		return
	}
	httpx.Success(w, "payment recorded", order)
}

func (h *Handler) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.ChangeProcessStatus(r.Context(), orderID, ProcessStatus(req.Status), actorID(r))
	if err != nil {
		h.fail(w, r, "change process status", err)
		return
	}
	httpx.Success(w, "process status updated", order)
}

func (h *Handler) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.ChangeDeliveryStatus(r.Context(), orderID, DeliveryStatus(req.Status), actorID(r))
	if err != nil {
		h.fail(w, r, "change delivery status", err)
		return
	}
	httpx.Success(w, "delivery status updated", order)
}

func (h *Handler) handleCreateInstalment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	var req instalmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	instalment, err := h.service.CreateInstalment(r.Context(), orderID, InstalmentInput{Amount: req.Amount, Date: req.Date}, actorID(r))
	if err != nil {
		h.fail(w, r, "create instalment", err)
		return
	}
	httpx.Success(w, "instalment scheduled", instalment)
}

func (h *Handler) handleUpdateInstalment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	instalmentID, ok := h.pathID(w, r, "instalmentID")
	if !ok {
		return
	}
	var req instalmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	instalment, err := h.service.UpdateInstalment(r.Context(), orderID, instalmentID, InstalmentInput{Amount: req.Amount, Date: req.Date}, actorID(r))
	if err != nil {
		h.fail(w, r, "update instalment", err)
		return
	}
	httpx.Success(w, "instalment updated", instalment)
}

func (h *Handler) handleDeleteInstalment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	instalmentID, ok := h.pathID(w, r, "instalmentID")
	if !ok {
		return
	}
	if err := h.service.DeleteInstalment(r.Context(), orderID, instalmentID, actorID(r)); err != nil {
		h.fail(w, r, "delete instalment", err)
		return
	}
	httpx.Success(w, "instalment removed", nil)
}

func (h *Handler) handlePayInstalment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderID")
	if !ok {
		return
	}
	instalmentID, ok := h.pathID(w, r, "instalmentID")
	if !ok {
		return
	}
	var req struct {
		PaymentType string `json:"payment_type"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	instalment, err := h.service.MarkInstalmentAsPaid(r.Context(), orderID, instalmentID, req.PaymentType, actorID(r))
	if err != nil {
		h.fail(w, r, "pay instalment", err)
		return
	}
	httpx.Success(w, "instalment paid", instalment)
}

func (h *Handler) decodeOrder(w http.ResponseWriter, r *http.Request) (orderRequest, bool) {
	var req orderRequest
	if !h.decode(w, r, &req) {
		return orderRequest{}, false
	}
	return req, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Warn("orders: "+op, "error", err, "path", r.URL.Path)
	httpx.RespondError(w, err)
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
