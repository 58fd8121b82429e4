package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/platform/sqldb"
	"github.com/ezzatsd/CynaApp/internal/repositories"
)

const orderColumns = `id, user_id, billing_address_id, total_amount, currency, status,
	payment_intent_id, payment_method_summary, created_at, updated_at`

// OrderRepository persists orders and order items in a SQL database.
type OrderRepository struct {
	provider *sqldb.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a SQL-backed order repository.
func NewOrderRepository(provider *sqldb.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires sql provider")
	}
	return &OrderRepository{provider: provider}, nil
}

type orderRow struct {
	ID                   string         `db:"id"`
	UserID               string         `db:"user_id"`
	BillingAddressID     string         `db:"billing_address_id"`
	TotalAmount          int64          `db:"total_amount"`
	Currency             string         `db:"currency"`
	Status               string         `db:"status"`
	PaymentIntentID      sql.NullString `db:"payment_intent_id"`
	PaymentMethodSummary string         `db:"payment_method_summary"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

type orderItemRow struct {
	ID           string `db:"id"`
	OrderID      string `db:"order_id"`
	ProductID    string `db:"product_id"`
	ProductName  string `db:"product_name"`
	PricePerUnit int64  `db:"price_per_unit"`
	Quantity     int    `db:"quantity"`
}

// Insert writes the order header followed by its items using the executor bound to ctx.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	exec, err := r.provider.Executor(ctx)
	if err != nil {
		return err
	}

	row := encodeOrder(order)
	if _, err := sqlx.NamedExecContext(ctx, exec, `INSERT INTO orders (`+orderColumns+`)
		VALUES (:id, :user_id, :billing_address_id, :total_amount, :currency, :status,
			:payment_intent_id, :payment_method_summary, :created_at, :updated_at)`, row); err != nil {
		return sqldb.WrapError("orders.insert", err)
	}

	if len(order.Items) == 0 {
		return nil
	}
	items := make([]orderItemRow, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemRow{
			ID:           item.ID,
			OrderID:      order.ID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			PricePerUnit: item.PricePerUnit,
			Quantity:     item.Quantity,
		})
	}
	if _, err := sqlx.NamedExecContext(ctx, exec, `INSERT INTO order_items
		(id, order_id, product_id, product_name, price_per_unit, quantity)
		VALUES (:id, :order_id, :product_id, :product_name, :price_per_unit, :quantity)`, items); err != nil {
		return sqldb.WrapError("order_items.insert", err)
	}
	return nil
}

// AttachPaymentIntent sets payment_intent_id only while it is still NULL.
func (r *OrderRepository) AttachPaymentIntent(ctx context.Context, orderID, intentID string, at time.Time) (bool, error) {
	exec, err := r.provider.Executor(ctx)
	if err != nil {
		return false, err
	}
	res, err := exec.ExecContext(ctx, exec.Rebind(`UPDATE orders SET payment_intent_id = ?, updated_at = ?
		WHERE id = ? AND payment_intent_id IS NULL`), intentID, at.UTC(), orderID)
	if err != nil {
		return false, sqldb.WrapError("orders.attach_payment_intent", err)
	}
	return affectedOne(res, "orders.attach_payment_intent")
}

// TransitionStatus runs the guarded status update as a single statement.
func (r *OrderRepository) TransitionStatus(ctx context.Context, transition repositories.StatusTransition) (bool, error) {
	if len(transition.From) == 0 {
		return false, errors.New("orders.transition_status: at least one source status is required")
	}
	exec, err := r.provider.Executor(ctx)
	if err != nil {
		return false, err
	}

	from := make([]string, len(transition.From))
	for i, status := range transition.From {
		from[i] = string(status)
	}
	query, args, err := sqlx.In(`UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND payment_intent_id = ? AND status IN (?)`,
		string(transition.Target), transition.At.UTC(), transition.OrderID, transition.PaymentIntentID, from)
	if err != nil {
		return false, sqldb.WrapError("orders.transition_status", err)
	}
	res, err := exec.ExecContext(ctx, exec.Rebind(query), args...)
	if err != nil {
		return false, sqldb.WrapError("orders.transition_status", err)
	}
	return affectedOne(res, "orders.transition_status")
}

// FindByID loads an order with its items and billing address.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	exec, err := r.provider.Executor(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	var row orderRow
	if err := sqlx.GetContext(ctx, exec, &row, exec.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), orderID); err != nil {
		return domain.Order{}, sqldb.WrapError("orders.find", err)
	}
	orders, err := r.hydrate(ctx, exec, []orderRow{row})
	if err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// ListByUser returns the user's orders, newest first, with items and billing addresses.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	exec, err := r.provider.Executor(ctx)
	if err != nil {
		return nil, err
	}

	var rows []orderRow
	if err := sqlx.SelectContext(ctx, exec, &rows, exec.Rebind(`SELECT `+orderColumns+` FROM orders
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`), userID); err != nil {
		return nil, sqldb.WrapError("orders.list_by_user", err)
	}
	if len(rows) == 0 {
		return []domain.Order{}, nil
	}
	return r.hydrate(ctx, exec, rows)
}

// ListOrphaned returns pending orders created before olderThan that never got a payment intent.
func (r *OrderRepository) ListOrphaned(ctx context.Context, olderThan time.Time, limit int) ([]domain.OrphanedOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	exec, err := r.provider.Executor(ctx)
	if err != nil {
		return nil, err
	}

	var rows []orderRow
	if err := sqlx.SelectContext(ctx, exec, &rows, exec.Rebind(`SELECT `+orderColumns+` FROM orders
		WHERE payment_intent_id IS NULL AND status = ? AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`), string(domain.OrderStatusPendingPayment), olderThan.UTC(), limit); err != nil {
		return nil, sqldb.WrapError("orders.list_orphaned", err)
	}

	orphans := make([]domain.OrphanedOrder, 0, len(rows))
	for _, row := range rows {
		orphans = append(orphans, domain.OrphanedOrder{
			OrderID:     row.ID,
			UserID:      row.UserID,
			TotalAmount: row.TotalAmount,
			Currency:    row.Currency,
			CreatedAt:   row.CreatedAt.UTC(),
		})
	}
	return orphans, nil
}

func (r *OrderRepository) hydrate(ctx context.Context, exec sqlx.ExtContext, rows []orderRow) ([]domain.Order, error) {
	orderIDs := make([]string, 0, len(rows))
	addressIDs := make([]string, 0, len(rows))
	seenAddress := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		orderIDs = append(orderIDs, row.ID)
		if _, ok := seenAddress[row.BillingAddressID]; !ok {
			seenAddress[row.BillingAddressID] = struct{}{}
			addressIDs = append(addressIDs, row.BillingAddressID)
		}
	}

	query, args, err := sqlx.In(`SELECT id, order_id, product_id, product_name, price_per_unit, quantity
		FROM order_items WHERE order_id IN (?) ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, sqldb.WrapError("order_items.list", err)
	}
	var itemRows []orderItemRow
	if err := sqlx.SelectContext(ctx, exec, &itemRows, exec.Rebind(query), args...); err != nil {
		return nil, sqldb.WrapError("order_items.list", err)
	}
	itemsByOrder := make(map[string][]domain.OrderItem, len(rows))
	for _, item := range itemRows {
		itemsByOrder[item.OrderID] = append(itemsByOrder[item.OrderID], domain.OrderItem{
			ID:           item.ID,
			OrderID:      item.OrderID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			PricePerUnit: item.PricePerUnit,
			Quantity:     item.Quantity,
		})
	}

	addresses, err := selectAddresses(ctx, exec, addressIDs)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order := decodeOrder(row)
		order.Items = itemsByOrder[row.ID]
		if order.Items == nil {
			order.Items = []domain.OrderItem{}
		}
		if addr, ok := addresses[row.BillingAddressID]; ok {
			addr := addr
			order.BillingAddress = &addr
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func encodeOrder(order domain.Order) orderRow {
	row := orderRow{
		ID:                   order.ID,
		UserID:               order.UserID,
		BillingAddressID:     order.BillingAddressID,
		TotalAmount:          order.TotalAmount,
		Currency:             order.Currency,
		Status:               string(order.Status),
		PaymentMethodSummary: order.PaymentMethodSummary,
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
	}
	if order.HasPaymentIntent() {
		row.PaymentIntentID = sql.NullString{String: *order.PaymentIntentID, Valid: true}
	}
	return row
}

func decodeOrder(row orderRow) domain.Order {
	order := domain.Order{
		ID:                   row.ID,
		UserID:               row.UserID,
		BillingAddressID:     row.BillingAddressID,
		TotalAmount:          row.TotalAmount,
		Currency:             row.Currency,
		Status:               domain.OrderStatus(row.Status),
		PaymentMethodSummary: row.PaymentMethodSummary,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
	if row.PaymentIntentID.Valid {
		intent := row.PaymentIntentID.String
		order.PaymentIntentID = &intent
	}
	return order
}

func affectedOne(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, sqldb.WrapError(op, err)
	}
	return n == 1, nil
}
