package services

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/payments"
	"github.com/ezzatsd/CynaApp/internal/repositories"
)

type stubRepoError struct {
	notFound bool
}

func (e stubRepoError) Error() string { return "repository error" }
func (e stubRepoError) IsNotFound() bool { return e.notFound }
func (e stubRepoError) IsConflict() bool { return false }
func (e stubRepoError) IsUnavailable() bool { return !e.notFound }

// memoryOrderRepo applies the same guards as the SQL statements so reconciliation
// scenarios can be exercised end to end.
type memoryOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	insertErr error
	attachErr error
	inserts   int
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: map[string]domain.Order{}}
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserts++
	r.orders[order.ID] = order
	return nil
}

func (r *memoryOrderRepo) AttachPaymentIntent(_ context.Context, orderID, intentID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachErr != nil {
		return false, r.attachErr
	}
	order, ok := r.orders[orderID]
	if !ok || order.HasPaymentIntent() {
		return false, nil
	}
	order.PaymentIntentID = &intentID
	order.UpdatedAt = at
	r.orders[orderID] = order
	return true, nil
}

func (r *memoryOrderRepo) TransitionStatus(_ context.Context, t repositories.StatusTransition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[t.OrderID]
	if !ok || !order.HasPaymentIntent() || *order.PaymentIntentID != t.PaymentIntentID {
		return false, nil
	}
	if !slices.Contains(t.From, order.Status) {
		return false, nil
	}
	order.Status = t.Target
	order.UpdatedAt = t.At
	r.orders[t.OrderID] = order
	return true, nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return order, nil
}

func (r *memoryOrderRepo) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryOrderRepo) ListOrphaned(_ context.Context, olderThan time.Time, limit int) ([]domain.OrphanedOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OrphanedOrder
	for _, order := range r.orders {
		if order.HasPaymentIntent() || order.Status != domain.OrderStatusPendingPayment || !order.CreatedAt.Before(olderThan) {
			continue
		}
		out = append(out, domain.OrphanedOrder{OrderID: order.ID, UserID: order.UserID, TotalAmount: order.TotalAmount, Currency: order.Currency, CreatedAt: order.CreatedAt})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryOrderRepo) get(orderID string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[orderID]
}

type stubProductRepo struct {
	products map[string]domain.Product
	err      error
	calls    int
}

func (s *stubProductRepo) FindByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]domain.Product{}
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type stubAddressRepo struct {
	addresses map[string]domain.Address
	err       error
}

func (s *stubAddressRepo) FindByID(_ context.Context, id string) (domain.Address, error) {
	if s.err != nil {
		return domain.Address{}, s.err
	}
	addr, ok := s.addresses[id]
	if !ok {
		return domain.Address{}, stubRepoError{notFound: true}
	}
	return addr, nil
}

type stubGateway struct {
	mu       sync.Mutex
	requests []payments.IntentRequest
	createFn func(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
}

func (g *stubGateway) CreatePaymentIntent(ctx context.Context, _ payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return payments.Intent{ID: "pi_" + req.OrderID, ClientSecret: "secret_" + req.OrderID, Provider: payments.ProviderStripe}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type logEntry struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *recordingLogger) find(event string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return entry, true
		}
	}
	return logEntry{}, false
}

type countingUnitOfWork struct {
	calls int
}

func (u *countingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.calls++
	return fn(ctx)
}
