package services

import (
	"context"
	"time"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderStatus     = domain.OrderStatus
	Address         = domain.Address
	Product         = domain.Product
	LineItemRequest = domain.LineItemRequest
	PricedLine      = domain.PricedLine
	PricingSnapshot = domain.PricingSnapshot
	OrphanedOrder   = domain.OrphanedOrder
	HealthReport    = domain.HealthReport
)

// OrderService orchestrates order placement and exposes the buyer's order history.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	ListOrders(ctx context.Context, userID string) ([]Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (Order, error)
	ListOrphanedOrders(ctx context.Context, olderThan time.Duration, limit int) ([]OrphanedOrder, error)
	RetryPaymentIntent(ctx context.Context, orderID string) (CreateOrderResult, error)
}

// PaymentReconciler applies verified gateway events to order state.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, event payments.Event) (ReconcileOutcome, error)
}

// PricingService resolves caller line items into an authoritative pricing snapshot.
type PricingService interface {
	Resolve(ctx context.Context, items []LineItemRequest) (PricingSnapshot, error)
}

// AddressOwnershipChecker confirms an address belongs to the caller.
type AddressOwnershipChecker interface {
	Check(ctx context.Context, userID, addressID string) (Address, error)
}

// PaymentGateway creates payment intents. *payments.Manager satisfies it.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
}

// SystemService reports readiness.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// CreateOrderCommand carries the authenticated caller and the requested purchase.
// An empty PaymentMethodSummary falls back to the configured default.
type CreateOrderCommand struct {
	UserID               string
	BillingAddressID     string
	PaymentMethodSummary string
	Items                []LineItemRequest
}

// CreateOrderResult is returned once the order exists and the payment intent is linked.
type CreateOrderResult struct {
	OrderID             string
	ClientPaymentHandle string
	Order               Order
}

// ReconcileOutcome summarises what a payment event did to the order store.
type ReconcileOutcome string

const (
	// OutcomeApplied means exactly one order changed status.
	OutcomeApplied ReconcileOutcome = "applied"
	// OutcomeNoop means the guarded update matched no row: unknown order, mismatched intent,
	// terminal order or an out-of-order event.
	OutcomeNoop ReconcileOutcome = "noop"
	// OutcomeIgnored means the event type carries no order state change.
	OutcomeIgnored ReconcileOutcome = "ignored"
	// OutcomeUnattributed means the event has no order reference in its metadata.
	OutcomeUnattributed ReconcileOutcome = "unattributed"
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type          string
	OrderID       string
	UserID        string
	CurrentStatus string
	OccurredAt    time.Time
	Metadata      map[string]any
}

// ReconcileRecorder receives one observation per reconciled event.
type ReconcileRecorder interface {
	ObserveReconcile(eventType string, outcome string)
}
