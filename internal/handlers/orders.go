package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ezzatsd/CynaApp/internal/platform/auth"
	"github.com/ezzatsd/CynaApp/internal/platform/httpx"
	"github.com/ezzatsd/CynaApp/internal/services"
)

const (
	maxCreateOrderBodySize = 64 * 1024
	orderCreatedMessage    = "Order created, awaiting payment confirmation"
)

type createOrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items                []createOrderItemRequest `json:"items"`
	BillingAddressID     string                   `json:"billingAddressId"`
	PaymentMethodSummary string                   `json:"paymentMethodSummary"`
}

type createOrderResponse struct {
	OrderID             string `json:"orderId"`
	ClientPaymentHandle string `json:"clientPaymentHandle"`
	Message             string `json:"message"`
}

type orderItemPayload struct {
	ID           string `json:"id"`
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	PricePerUnit int64  `json:"pricePerUnit"`
	Quantity     int    `json:"quantity"`
	Subtotal     int64  `json:"subtotal"`
}

type addressPayload struct {
	ID         string  `json:"id"`
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	Region     *string `json:"region,omitempty"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

type orderPayload struct {
	ID                   string             `json:"id"`
	Status               string             `json:"status"`
	TotalAmount          int64              `json:"totalAmount"`
	Currency             string             `json:"currency"`
	PaymentIntentID      *string            `json:"paymentIntentId,omitempty"`
	PaymentMethodSummary string             `json:"paymentMethodSummary,omitempty"`
	BillingAddressID     string             `json:"billingAddressId"`
	BillingAddress       *addressPayload    `json:"billingAddress,omitempty"`
	Items                []orderItemPayload `json:"items"`
	CreatedAt            string             `json:"createdAt"`
	UpdatedAt            string             `json:"updatedAt"`
}

// OrderHandlers exposes order placement and history for authenticated customers.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with the given middleware. It runs after
// authentication so keys are scoped per caller.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleUser, auth.RoleAdmin))
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Group(func(create chi.Router) {
		if h.idempotency != nil {
			create.Use(h.idempotency)
		}
		create.Post("/", h.createOrder)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(w, r, &req, maxCreateOrderBodySize); err != nil {
		if errors.Is(err, httpx.ErrUnsupportedMediaType) {
			httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", err.Error(), http.StatusUnsupportedMediaType))
			return
		}
		httpx.WriteBadRequest(ctx, w, err.Error())
		return
	}

	items := make([]services.LineItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.LineItemRequest{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	result, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:               userID,
		BillingAddressID:     strings.TrimSpace(req.BillingAddressID),
		PaymentMethodSummary: strings.TrimSpace(req.PaymentMethodSummary),
		Items:                items,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+result.OrderID)
	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:             result.OrderID,
		ClientPaymentHandle: result.ClientPaymentHandle,
		Message:             orderCreatedMessage,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(ctx, userID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUserID(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	order, err := h.orders.GetOrder(ctx, userID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func requireUserID(ctx context.Context, w http.ResponseWriter) (string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UserID), true
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                   order.ID,
		Status:               string(order.Status),
		TotalAmount:          order.TotalAmount,
		Currency:             order.Currency,
		PaymentMethodSummary: order.PaymentMethodSummary,
		BillingAddressID:     order.BillingAddressID,
		Items:                make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
	}
	if order.HasPaymentIntent() {
		payload.PaymentIntentID = order.PaymentIntentID
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:           item.ID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			PricePerUnit: item.PricePerUnit,
			Quantity:     item.Quantity,
			Subtotal:     item.Subtotal(),
		})
	}
	if addr := order.BillingAddress; addr != nil {
		payload.BillingAddress = &addressPayload{
			ID:         addr.ID,
			FirstName:  addr.FirstName,
			LastName:   addr.LastName,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			Region:     addr.Region,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		}
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// writeOrderError maps service error kinds onto the HTTP envelope.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var details map[string]any
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		details = svcErr.Details
	}

	var httpErr httpx.Error
	switch services.KindOf(err) {
	case services.KindValidation:
		httpErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case services.KindInvalidAddress:
		httpErr = httpx.NewError("invalid_address", "billing address not found for this user", http.StatusBadRequest)
	case services.KindInvalidLineItem:
		httpErr = httpx.NewError("invalid_line_item", "one or more products are unknown", http.StatusBadRequest)
	case services.KindNotFound:
		httpErr = httpx.NewError("order_not_found", "order not found", http.StatusNotFound)
	case services.KindGatewayUnavailable:
		httpErr = httpx.NewError("payment_gateway_unavailable", "payment initialization failed", http.StatusServiceUnavailable)
	default:
		httpErr = httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError)
	}
	httpx.WriteError(ctx, w, httpErr.WithDetails(details))
}
