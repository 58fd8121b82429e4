package domain

import (
	"slices"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order exists and awaits a payment outcome.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusProcessing indicates the gateway reported the payment as in progress.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusActive indicates the gateway reported the payment as succeeded.
	OrderStatusActive OrderStatus = "ACTIVE"
	// OrderStatusFailed indicates the gateway reported the payment as failed.
	OrderStatusFailed OrderStatus = "FAILED"
	// OrderStatusCancelled indicates the gateway reported the payment intent as canceled.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusProcessing, OrderStatusActive, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusActive, OrderStatusFailed, OrderStatusCancelled},
}

// CanTransition reports whether the state machine allows moving from current to target.
func CanTransition(current, target OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

// SourceStatuses lists every status from which target is reachable in one step.
// The result is ordered deterministically so it can be embedded in SQL statements.
func SourceStatuses(target OrderStatus) []OrderStatus {
	var sources []OrderStatus
	for _, from := range []OrderStatus{OrderStatusPendingPayment, OrderStatusProcessing} {
		if CanTransition(from, target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// Order is the durable record of a purchase. TotalAmount and item prices are minor currency units.
type Order struct {
	ID                   string
	UserID               string
	BillingAddressID     string
	TotalAmount          int64
	Currency             string
	Status               OrderStatus
	PaymentIntentID      *string
	PaymentMethodSummary string
	Items                []OrderItem
	BillingAddress       *Address
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasPaymentIntent reports whether a gateway intent has been linked to the order.
func (o Order) HasPaymentIntent() bool {
	return o.PaymentIntentID != nil && *o.PaymentIntentID != ""
}

// OrderItem is an immutable price/name snapshot of one purchased product.
type OrderItem struct {
	ID           string
	OrderID      string
	ProductID    string
	ProductName  string
	PricePerUnit int64
	Quantity     int
}

// Subtotal returns PricePerUnit multiplied by Quantity.
func (i OrderItem) Subtotal() int64 {
	return i.PricePerUnit * int64(i.Quantity)
}

// Address is a user's postal address. It is read-only for the ordering subsystem.
type Address struct {
	ID         string
	UserID     string
	FirstName  string
	LastName   string
	Line1      string
	Line2      *string
	City       string
	Region     *string
	PostalCode string
	Country    string
	Phone      *string
}

// Product is the catalog view needed to price an order line.
type Product struct {
	ID          string
	Name        string
	UnitPrice   int64
	Currency    string
	IsAvailable bool
}

// LineItemRequest is a caller-supplied (product, quantity) pair.
type LineItemRequest struct {
	ProductID string
	Quantity  int
}

// PricedLine is a request line resolved against the catalog at order time.
type PricedLine struct {
	ProductID    string
	ProductName  string
	PricePerUnit int64
	Quantity     int
}

// PricingSnapshot is the immutable outcome of pricing a set of line items.
type PricingSnapshot struct {
	Currency string
	Lines    []PricedLine
	Total    int64
}

// OrphanedOrder describes an order that was persisted without a linked payment intent.
type OrphanedOrder struct {
	OrderID     string
	UserID      string
	TotalAmount int64
	Currency    string
	CreatedAt   time.Time
}
