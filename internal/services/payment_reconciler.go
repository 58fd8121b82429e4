package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/payments"
	"github.com/ezzatsd/CynaApp/internal/repositories"
)

var eventTargetStatus = map[payments.EventType]domain.OrderStatus{
	payments.EventPaymentIntentSucceeded:  domain.OrderStatusActive,
	payments.EventPaymentIntentFailed:     domain.OrderStatusFailed,
	payments.EventPaymentIntentProcessing: domain.OrderStatusProcessing,
	payments.EventPaymentIntentCanceled:   domain.OrderStatusCancelled,
}

// PaymentReconcilerDeps bundles collaborators required to construct the reconciler.
type PaymentReconcilerDeps struct {
	Orders   repositories.OrderRepository
	Clock    func() time.Time
	Events   OrderEventPublisher
	Recorder ReconcileRecorder
	Tracer   trace.Tracer
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders   repositories.OrderRepository
	clock    func() time.Time
	events   OrderEventPublisher
	recorder ReconcileRecorder
	tracer   trace.Tracer
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentReconciler wires the reconciler that applies gateway events to orders.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentReconciler{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		events:   deps.Events,
		recorder: deps.Recorder,
		tracer:   tracer,
		logger:   logger,
	}, nil
}

// Reconcile maps the event to a target status and applies it with one guarded update.
// Duplicate, late and foreign events match no row and report OutcomeNoop.
func (r *paymentReconciler) Reconcile(ctx context.Context, event payments.Event) (outcome ReconcileOutcome, err error) {
	ctx, span := r.tracer.Start(ctx, "PaymentReconciler.Reconcile", trace.WithAttributes(
		attribute.String("payment.event_id", event.ID),
		attribute.String("payment.event_type", string(event.Type)),
	))
	defer func() {
		span.SetAttributes(attribute.String("payment.outcome", string(outcome)))
		if r.recorder != nil {
			recorded := string(outcome)
			if err != nil {
				recorded = "error"
			}
			r.recorder.ObserveReconcile(string(event.Type), recorded)
		}
		endSpan(span, err)
	}()

	if !event.Type.PaymentIntentEvent() {
		return OutcomeIgnored, nil
	}
	target, ok := eventTargetStatus[event.Type]
	if !ok {
		return OutcomeIgnored, nil
	}

	orderID := strings.TrimSpace(event.Metadata["orderId"])
	if orderID == "" {
		r.logger(ctx, "payment.reconcile.unattributed", map[string]any{
			"eventId":         event.ID,
			"eventType":       string(event.Type),
			"paymentIntentId": event.IntentID,
		})
		return OutcomeUnattributed, nil
	}
	intentID := strings.TrimSpace(event.IntentID)
	if intentID == "" {
		r.logger(ctx, "payment.reconcile.unattributed", map[string]any{
			"eventId":   event.ID,
			"eventType": string(event.Type),
			"orderId":   orderID,
		})
		return OutcomeUnattributed, nil
	}

	if target == domain.OrderStatusFailed {
		r.logger(ctx, "payment.reconcile.payment_failed", map[string]any{
			"orderId":         orderID,
			"paymentIntentId": intentID,
			"failureMessage":  event.FailureMessage,
		})
	}

	sources := domain.SourceStatuses(target)
	changed, err := r.orders.TransitionStatus(ctx, repositories.StatusTransition{
		OrderID:         orderID,
		PaymentIntentID: intentID,
		Target:          target,
		From:            sources,
		At:              r.clock(),
	})
	if err != nil {
		return "", internalError("apply payment event", err)
	}
	if !changed {
		r.logger(ctx, "payment.reconcile.noop", map[string]any{
			"eventId":         event.ID,
			"eventType":       string(event.Type),
			"orderId":         orderID,
			"paymentIntentId": intentID,
			"target":          string(target),
		})
		return OutcomeNoop, nil
	}

	r.logger(ctx, "payment.reconcile.applied", map[string]any{
		"eventId":         event.ID,
		"eventType":       string(event.Type),
		"orderId":         orderID,
		"paymentIntentId": intentID,
		"status":          string(target),
	})
	publishOrderEvent(ctx, r.events, r.logger, OrderEvent{
		Type:          orderEventStatusChanged,
		OrderID:       orderID,
		UserID:        event.Metadata["userId"],
		CurrentStatus: string(target),
		OccurredAt:    r.clock(),
		Metadata: map[string]any{
			"paymentIntentId": intentID,
			"eventId":         event.ID,
			"eventType":       string(event.Type),
		},
	})
	return OutcomeApplied, nil
}
