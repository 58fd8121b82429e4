package services

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/payments"
	"github.com/ezzatsd/CynaApp/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oit_"

	defaultGatewayTimeout       = 10 * time.Second
	defaultPaymentMethodSummary = "Payment on delivery"
	paymentIntentKeyPrefix      = "order-intent:"
	maxPaymentSummaryLength     = 255

	tracerName = "github.com/ezzatsd/CynaApp/internal/services"
)

// paymentIntentNamespace scopes the deterministic idempotency keys sent to the gateway.
var paymentIntentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://cyna.app/orders/payment-intent"))

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders               repositories.OrderRepository
	Pricing              PricingService
	Addresses            AddressOwnershipChecker
	Gateway              PaymentGateway
	UnitOfWork           repositories.UnitOfWork
	Currency             string
	PaymentMethodSummary string
	GatewayTimeout       time.Duration
	Clock                func() time.Time
	IDGenerator          func() string
	Events               OrderEventPublisher
	Tracer               trace.Tracer
	Logger               func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders         repositories.OrderRepository
	pricing        PricingService
	addresses      AddressOwnershipChecker
	gateway        PaymentGateway
	unitOfWork     repositories.UnitOfWork
	currency       string
	paymentSummary string
	gatewayTimeout time.Duration
	clock          func() time.Time
	newID          func() string
	events         OrderEventPublisher
	tracer         trace.Tracer
	logger         func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing resolver is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address guard is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		return nil, errors.New("order service: currency is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}

	summary := strings.TrimSpace(deps.PaymentMethodSummary)
	if summary == "" {
		summary = defaultPaymentMethodSummary
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:         deps.Orders,
		pricing:        deps.Pricing,
		addresses:      deps.Addresses,
		gateway:        deps.Gateway,
		unitOfWork:     unit,
		currency:       currency,
		paymentSummary: summary,
		gatewayTimeout: timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		tracer: tracer,
		logger: logger,
	}, nil
}

// CreateOrder validates the request, persists the order, then opens a payment intent for it.
// The gateway call happens outside the transaction; a gateway failure leaves a pending order
// without an intent that RetryPaymentIntent can recover.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (result CreateOrderResult, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer func() { endSpan(span, err) }()

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreateOrderResult{}, validationError("user id is required")
	}

	summary := strings.TrimSpace(cmd.PaymentMethodSummary)
	if utf8.RuneCountInString(summary) > maxPaymentSummaryLength {
		return CreateOrderResult{}, validationError("paymentMethodSummary is too long")
	}
	if summary == "" {
		summary = s.paymentSummary
	}

	if _, err := s.addresses.Check(ctx, userID, cmd.BillingAddressID); err != nil {
		return CreateOrderResult{}, err
	}
	snapshot, err := s.pricing.Resolve(ctx, cmd.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}
	// The gateway refuses zero-amount intents, so such an order could never be paid.
	if snapshot.Total <= 0 {
		return CreateOrderResult{}, validationError("order total must be greater than zero")
	}

	order := s.buildOrder(userID, strings.TrimSpace(cmd.BillingAddressID), summary, snapshot)
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int64("order.total_amount", order.TotalAmount))

	if err := s.runInTx(ctx, func(txCtx context.Context) error {
		return s.orders.Insert(txCtx, order)
	}); err != nil {
		return CreateOrderResult{}, s.mapRepositoryError(err, "persist order")
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"userId":      userID,
		"totalAmount": order.TotalAmount,
		"currency":    order.Currency,
		"items":       len(order.Items),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		UserID:        userID,
		CurrentStatus: string(order.Status),
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"totalAmount": order.TotalAmount,
			"currency":    order.Currency,
		},
	})

	// The order row exists from here on; finish the hand-off even if the caller disconnects.
	return s.openPaymentIntent(context.WithoutCancel(ctx), order)
}

// RetryPaymentIntent re-requests the intent for an order that was persisted without one.
// The gateway idempotency key is derived from the order id, so a retry after an ambiguous
// failure returns the intent the gateway already created.
func (s *orderService) RetryPaymentIntent(ctx context.Context, orderID string) (CreateOrderResult, error) {
	orderID = strings.TrimSpace(orderID)
	if !validOrderID(orderID) {
		return CreateOrderResult{}, notFoundError("order not found")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CreateOrderResult{}, s.mapRepositoryError(err, "load order")
	}
	if order.HasPaymentIntent() {
		return CreateOrderResult{}, newError(KindValidation, "order already has a payment intent", nil, map[string]any{"orderId": orderID})
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return CreateOrderResult{}, newError(KindValidation, "order is not awaiting payment", nil, map[string]any{
			"orderId": orderID,
			"status":  string(order.Status),
		})
	}
	return s.openPaymentIntent(ctx, order)
}

func (s *orderService) openPaymentIntent(ctx context.Context, order Order) (CreateOrderResult, error) {
	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	intent, err := s.gateway.CreatePaymentIntent(gatewayCtx, payments.PaymentContext{Currency: order.Currency}, payments.IntentRequest{
		OrderID:  order.ID,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Metadata: map[string]string{
			"orderId": order.ID,
			"userId":  order.UserID,
		},
		IdempotencyKey: paymentIntentIdempotencyKey(order.ID),
	})
	if err != nil {
		s.logger(ctx, "order.payment_intent.create_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CreateOrderResult{}, newError(KindGatewayUnavailable, "payment initialization failed", err, map[string]any{
			"orderId": order.ID,
		})
	}

	attached, err := s.orders.AttachPaymentIntent(ctx, order.ID, intent.ID, s.clock())
	if err != nil || !attached {
		fields := map[string]any{
			"orderId":         order.ID,
			"paymentIntentId": intent.ID,
			"alert":           true,
		}
		if err != nil {
			fields["error"] = err.Error()
		} else {
			fields["error"] = "order already linked to a payment intent"
		}
		s.logger(ctx, "order.payment_intent.link_failed", fields)
		if err == nil {
			err = errors.New("payment intent link matched no row")
		}
		return CreateOrderResult{}, internalError("link payment intent", err)
	}

	intentID := intent.ID
	order.PaymentIntentID = &intentID
	s.logger(ctx, "order.payment_intent.linked", map[string]any{
		"orderId":         order.ID,
		"paymentIntentId": intent.ID,
		"provider":        intent.Provider,
	})
	return CreateOrderResult{
		OrderID:             order.ID,
		ClientPaymentHandle: intent.ClientSecret,
		Order:               order,
	}, nil
}

// ListOrders returns the caller's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError("user id is required")
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err, "list orders")
	}
	return orders, nil
}

// GetOrder returns one order of the caller. Orders owned by someone else are reported as missing.
func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Order{}, validationError("user id is required")
	}
	orderID = strings.TrimSpace(orderID)
	if !validOrderID(orderID) {
		return Order{}, notFoundError("order not found")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err, "load order")
	}
	if order.UserID != userID {
		return Order{}, notFoundError("order not found")
	}
	return order, nil
}

// ListOrphanedOrders returns pending orders older than olderThan that never got a payment intent.
func (s *orderService) ListOrphanedOrders(ctx context.Context, olderThan time.Duration, limit int) ([]OrphanedOrder, error) {
	if olderThan < 0 {
		return nil, validationError("olderThan must not be negative")
	}
	orphans, err := s.orders.ListOrphaned(ctx, s.clock().Add(-olderThan), limit)
	if err != nil {
		return nil, s.mapRepositoryError(err, "list orphaned orders")
	}
	return orphans, nil
}

func (s *orderService) buildOrder(userID, addressID, summary string, snapshot PricingSnapshot) Order {
	now := s.clock()
	currency := snapshot.Currency
	if currency == "" {
		currency = s.currency
	}
	order := Order{
		ID:                   orderIDPrefix + s.newID(),
		UserID:               userID,
		BillingAddressID:     addressID,
		TotalAmount:          snapshot.Total,
		Currency:             currency,
		Status:               domain.OrderStatusPendingPayment,
		PaymentMethodSummary: summary,
		CreatedAt:            now,
		UpdatedAt:            now,
		Items:                make([]OrderItem, 0, len(snapshot.Lines)),
	}
	for _, line := range snapshot.Lines {
		order.Items = append(order.Items, OrderItem{
			ID:           orderItemIDPrefix + s.newID(),
			OrderID:      order.ID,
			ProductID:    line.ProductID,
			ProductName:  line.ProductName,
			PricePerUnit: line.PricePerUnit,
			Quantity:     line.Quantity,
		})
	}
	return order
}

func (s *orderService) mapRepositoryError(err error, action string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return notFoundError("order not found")
	}
	return internalError(action, err)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if publisher == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// paymentIntentIdempotencyKey is stable per order so retried intent creation never charges twice.
func paymentIntentIdempotencyKey(orderID string) string {
	return paymentIntentKeyPrefix + uuid.NewSHA1(paymentIntentNamespace, []byte(orderID)).String()
}

// validOrderID reports whether id has the "ord_" + ULID shape issued by CreateOrder.
func validOrderID(id string) bool {
	raw, ok := strings.CutPrefix(id, orderIDPrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(raw)
	return err == nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
