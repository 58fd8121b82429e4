package repositories

import (
	"context"
	"time"

	"github.com/ezzatsd/CynaApp/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Addresses() AddressRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StatusTransition describes a conditional order status update driven by a payment event.
// The update applies only when the order still carries PaymentIntentID and its current
// status is one of From.
type StatusTransition struct {
	OrderID         string
	PaymentIntentID string
	Target          domain.OrderStatus
	From            []domain.OrderStatus
	At              time.Time
}

// OrderRepository persists orders and their line items.
type OrderRepository interface {
	// Insert writes the order header and every item. Callers wrap it in RunInTx.
	Insert(ctx context.Context, order domain.Order) error
	// AttachPaymentIntent links an intent to an order that has none yet. It reports false
	// when the order already carries an intent or does not exist.
	AttachPaymentIntent(ctx context.Context, orderID, intentID string, at time.Time) (bool, error)
	// TransitionStatus applies a StatusTransition and reports whether a row changed.
	TransitionStatus(ctx context.Context, transition StatusTransition) (bool, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListOrphaned(ctx context.Context, olderThan time.Time, limit int) ([]domain.OrphanedOrder, error)
}

// ProductRepository reads catalog prices and availability.
type ProductRepository interface {
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// AddressRepository reads saved user addresses.
type AddressRepository interface {
	FindByID(ctx context.Context, addressID string) (domain.Address, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
