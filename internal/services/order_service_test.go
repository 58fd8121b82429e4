package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/payments"
)

type orderFixture struct {
	orders    *memoryOrderRepo
	products  *stubProductRepo
	addresses *stubAddressRepo
	gateway   *stubGateway
	events    *recordingPublisher
	logs      *recordingLogger
	unit      *countingUnitOfWork
	now       time.Time
	service   OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders: newMemoryOrderRepo(),
		products: &stubProductRepo{products: map[string]domain.Product{
			"A": {ID: "A", Name: "Antivirus", UnitPrice: 1000, Currency: "eur", IsAvailable: true},
			"B": {ID: "B", Name: "VPN", UnitPrice: 550, Currency: "eur", IsAvailable: true},
			"C": {ID: "C", Name: "Firewall", UnitPrice: 9900, Currency: "eur", IsAvailable: false},
			"F": {ID: "F", Name: "Trial", UnitPrice: 0, Currency: "eur", IsAvailable: true},
		}},
		addresses: &stubAddressRepo{addresses: map[string]domain.Address{
			"addr-1": {ID: "addr-1", UserID: "user-1", City: "Paris"},
			"addr-2": {ID: "addr-2", UserID: "user-2", City: "Lyon"},
		}},
		gateway: &stubGateway{},
		events:  &recordingPublisher{},
		logs:    &recordingLogger{},
		unit:    &countingUnitOfWork{},
		now:     time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	pricing, err := NewPricingResolver(PricingResolverDeps{Products: f.products, Currency: "eur"})
	if err != nil {
		t.Fatalf("NewPricingResolver: %v", err)
	}
	guard, err := NewAddressGuard(f.addresses)
	if err != nil {
		t.Fatalf("NewAddressGuard: %v", err)
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:         f.orders,
		Pricing:        pricing,
		Addresses:      guard,
		Gateway:        f.gateway,
		UnitOfWork:     f.unit,
		Currency:       "eur",
		GatewayTimeout: 50 * time.Millisecond,
		Clock:          func() time.Time { return f.now },
		Events:         f.events,
		Logger:         f.logs.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.service = svc
	return f
}

func (f *orderFixture) create(t *testing.T) CreateOrderResult {
	t.Helper()
	result, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:           "user-1",
		BillingAddressID: "addr-1",
		Items: []LineItemRequest{
			{ProductID: "A", Quantity: 2},
			{ProductID: "B", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return result
}

func TestOrderServiceCreateOrderPersistsSnapshotAndLinksIntent(t *testing.T) {
	f := newOrderFixture(t)
	result := f.create(t)

	if !strings.HasPrefix(result.OrderID, "ord_") {
		t.Fatalf("expected ord_ prefix, got %s", result.OrderID)
	}
	if result.ClientPaymentHandle != "secret_"+result.OrderID {
		t.Fatalf("unexpected client handle %q", result.ClientPaymentHandle)
	}

	stored := f.orders.get(result.OrderID)
	if stored.TotalAmount != 2550 {
		t.Fatalf("expected total 2550, got %d", stored.TotalAmount)
	}
	if stored.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected PENDING_PAYMENT, got %s", stored.Status)
	}
	if stored.PaymentIntentID == nil || *stored.PaymentIntentID != "pi_"+result.OrderID {
		t.Fatalf("expected linked payment intent, got %v", stored.PaymentIntentID)
	}
	if stored.PaymentMethodSummary != "Payment on delivery" {
		t.Fatalf("unexpected payment summary %q", stored.PaymentMethodSummary)
	}
	if len(stored.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(stored.Items))
	}
	if stored.Items[0].ProductName != "Antivirus" || stored.Items[0].PricePerUnit != 1000 || stored.Items[0].Quantity != 2 {
		t.Fatalf("unexpected first item %+v", stored.Items[0])
	}
	if stored.Items[1].PricePerUnit != 550 || stored.Items[1].Quantity != 1 {
		t.Fatalf("unexpected second item %+v", stored.Items[1])
	}
	if f.unit.calls != 1 {
		t.Fatalf("expected one transaction, got %d", f.unit.calls)
	}

	if len(f.gateway.requests) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(f.gateway.requests))
	}
	req := f.gateway.requests[0]
	if req.Amount != 2550 || req.Currency != "eur" {
		t.Fatalf("unexpected gateway amount %d %s", req.Amount, req.Currency)
	}
	if req.Metadata["orderId"] != result.OrderID || req.Metadata["userId"] != "user-1" {
		t.Fatalf("unexpected gateway metadata %v", req.Metadata)
	}
	if req.IdempotencyKey != paymentIntentIdempotencyKey(result.OrderID) {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}

	if len(f.events.events) != 1 || f.events.events[0].Type != "order.created" {
		t.Fatalf("expected order.created event, got %+v", f.events.events)
	}
}

func TestOrderServiceCreateOrderIgnoresClientPrices(t *testing.T) {
	f := newOrderFixture(t)
	f.products.products["A"] = domain.Product{ID: "A", Name: "<b>Antivirus</b> &amp; more", UnitPrice: 1200, IsAvailable: true}

	result, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:           "user-1",
		BillingAddressID: "addr-1",
		Items:            []LineItemRequest{{ProductID: "A", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	stored := f.orders.get(result.OrderID)
	if stored.TotalAmount != 1200 {
		t.Fatalf("expected catalog price, got %d", stored.TotalAmount)
	}
	if stored.Items[0].ProductName != "Antivirus & more" {
		t.Fatalf("expected sanitized name, got %q", stored.Items[0].ProductName)
	}
}

func TestOrderServiceCreateOrderRejectsForeignAddressWithoutWrites(t *testing.T) {
	f := newOrderFixture(t)
	for _, addressID := range []string{"addr-2", "addr-missing"} {
		_, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
			UserID:           "user-1",
			BillingAddressID: addressID,
			Items:            []LineItemRequest{{ProductID: "A", Quantity: 1}},
		})
		if !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("%s: expected ErrInvalidAddress, got %v", addressID, err)
		}
	}
	if f.orders.inserts != 0 || len(f.gateway.requests) != 0 {
		t.Fatalf("expected no writes and no gateway calls")
	}
}

func TestOrderServiceCreateOrderRejectsUnavailableProducts(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:           "user-1",
		BillingAddressID: "addr-1",
		Items: []LineItemRequest{
			{ProductID: "A", Quantity: 1},
			{ProductID: "C", Quantity: 1},
		},
	})
	if !errors.Is(err, ErrInvalidLineItem) {
		t.Fatalf("expected ErrInvalidLineItem, got %v", err)
	}
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	ids, _ := svcErr.Details["productIds"].([]string)
	if len(ids) != 1 || ids[0] != "C" {
		t.Fatalf("expected offending ids [C], got %v", svcErr.Details["productIds"])
	}
	if f.orders.inserts != 0 {
		t.Fatalf("expected no order to be written")
	}
}

func TestOrderServiceCreateOrderPaymentMethodSummary(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:               "user-1",
		BillingAddressID:     "addr-1",
		PaymentMethodSummary: " Visa **** 1234 ",
		Items:                []LineItemRequest{{ProductID: "A", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if got := f.orders.get(result.OrderID).PaymentMethodSummary; got != "Visa **** 1234" {
		t.Fatalf("unexpected payment summary %q", got)
	}

	_, err = f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:               "user-1",
		BillingAddressID:     "addr-1",
		PaymentMethodSummary: strings.Repeat("x", 256),
		Items:                []LineItemRequest{{ProductID: "A", Quantity: 1}},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized summary, got %v", err)
	}
	if f.orders.inserts != 1 {
		t.Fatalf("expected only the first order to be written, got %d", f.orders.inserts)
	}
}

func TestOrderServiceCreateOrderRejectsZeroTotal(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:           "user-1",
		BillingAddressID: "addr-1",
		Items:            []LineItemRequest{{ProductID: "F", Quantity: 3}},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if f.orders.inserts != 0 {
		t.Fatalf("expected no order to be written")
	}
	if len(f.gateway.requests) != 0 {
		t.Fatalf("gateway must not be called for a zero total")
	}
}

func TestOrderServiceCreateOrderGatewayFailureLeavesOrphan(t *testing.T) {
	f := newOrderFixture(t)
	f.gateway.createFn = func(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
		<-ctx.Done()
		return payments.Intent{}, ctx.Err()
	}

	_, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:           "user-1",
		BillingAddressID: "addr-1",
		Items:            []LineItemRequest{{ProductID: "A", Quantity: 1}},
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	orderID, _ := svcErr.Details["orderId"].(string)
	stored := f.orders.get(orderID)
	if stored.Status != domain.OrderStatusPendingPayment || stored.HasPaymentIntent() {
		t.Fatalf("expected pending order without intent, got %+v", stored)
	}

	f.now = f.now.Add(time.Hour)
	orphans, err := f.service.ListOrphanedOrders(context.Background(), 30*time.Minute, 10)
	if err != nil {
		t.Fatalf("ListOrphanedOrders: %v", err)
	}
	if len(orphans) != 1 || orphans[0].OrderID != orderID {
		t.Fatalf("expected orphan %s, got %+v", orderID, orphans)
	}

	f.gateway.createFn = nil
	retried, err := f.service.RetryPaymentIntent(context.Background(), orderID)
	if err != nil {
		t.Fatalf("RetryPaymentIntent: %v", err)
	}
	if retried.ClientPaymentHandle == "" {
		t.Fatalf("expected client handle after retry")
	}
	if len(f.gateway.requests) != 2 || f.gateway.requests[0].IdempotencyKey != f.gateway.requests[1].IdempotencyKey {
		t.Fatalf("expected retry to reuse the idempotency key")
	}
	if !f.orders.get(orderID).HasPaymentIntent() {
		t.Fatalf("expected intent to be linked after retry")
	}
	if _, err := f.service.RetryPaymentIntent(context.Background(), orderID); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected second retry to be rejected, got %v", err)
	}
}

func TestOrderServiceCreateOrderLinkFailureIsLogged(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.attachErr = errors.New("connection reset")

	_, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:           "user-1",
		BillingAddressID: "addr-1",
		Items:            []LineItemRequest{{ProductID: "A", Quantity: 1}},
	})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	entry, ok := f.logs.find("order.payment_intent.link_failed")
	if !ok {
		t.Fatalf("expected link_failed log entry")
	}
	if entry.fields["paymentIntentId"] == "" || entry.fields["alert"] != true {
		t.Fatalf("unexpected log fields %v", entry.fields)
	}
}

func TestOrderServiceCreateOrderPersistFailureSkipsGateway(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.insertErr = stubRepoError{}

	_, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:           "user-1",
		BillingAddressID: "addr-1",
		Items:            []LineItemRequest{{ProductID: "A", Quantity: 1}},
	})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if len(f.gateway.requests) != 0 {
		t.Fatalf("gateway must not be called when the order was not persisted")
	}
}

func TestOrderServiceGetOrderHidesForeignOrders(t *testing.T) {
	f := newOrderFixture(t)
	result := f.create(t)

	order, err := f.service.GetOrder(context.Background(), "user-1", result.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.ID != result.OrderID {
		t.Fatalf("unexpected order %s", order.ID)
	}

	if _, err := f.service.GetOrder(context.Background(), "user-2", result.OrderID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign order, got %v", err)
	}
	if _, err := f.service.GetOrder(context.Background(), "user-1", "ord_"+ulid.Make().String()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing order, got %v", err)
	}
	if _, err := f.service.GetOrder(context.Background(), "user-1", "not-an-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
}

func TestOrderServiceListOrdersNewestFirst(t *testing.T) {
	f := newOrderFixture(t)
	first := f.create(t)
	f.now = f.now.Add(time.Minute)
	second := f.create(t)

	orders, err := f.service.ListOrders(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != second.OrderID || orders[1].ID != first.OrderID {
		t.Fatalf("unexpected order listing %+v", orders)
	}

	empty, err := f.service.ListOrders(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no orders for user-2, got %d", len(empty))
	}
}

func TestPaymentIntentIdempotencyKeyIsStablePerOrder(t *testing.T) {
	a := paymentIntentIdempotencyKey("ord_A")
	if a != paymentIntentIdempotencyKey("ord_A") {
		t.Fatalf("expected deterministic key")
	}
	if a == paymentIntentIdempotencyKey("ord_B") {
		t.Fatalf("expected distinct keys per order")
	}
	if !strings.HasPrefix(a, "order-intent:") {
		t.Fatalf("unexpected key format %q", a)
	}
}

func TestNewOrderServiceValidatesDeps(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
