package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ezzatsd/CynaApp/internal/payments"
	"github.com/ezzatsd/CynaApp/internal/platform/httpx"
	"github.com/ezzatsd/CynaApp/internal/platform/observability"
	"github.com/ezzatsd/CynaApp/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookRejectionRecorder counts deliveries refused for a bad signature.
type WebhookRejectionRecorder interface {
	ObserveWebhookRejected()
}

// PaymentWebhookHandlers receives payment provider notifications.
type PaymentWebhookHandlers struct {
	verifier   payments.WebhookVerifier
	reconciler services.PaymentReconciler
	rejections WebhookRejectionRecorder
}

// PaymentWebhookOption customises PaymentWebhookHandlers.
type PaymentWebhookOption func(*PaymentWebhookHandlers)

// WithWebhookRejectionRecorder reports signature rejections to recorder.
func WithWebhookRejectionRecorder(recorder WebhookRejectionRecorder) PaymentWebhookOption {
	return func(h *PaymentWebhookHandlers) {
		h.rejections = recorder
	}
}

// NewPaymentWebhookHandlers constructs the Stripe webhook endpoint.
func NewPaymentWebhookHandlers(verifier payments.WebhookVerifier, reconciler services.PaymentReconciler, opts ...PaymentWebhookOption) *PaymentWebhookHandlers {
	h := &PaymentWebhookHandlers{
		verifier:   verifier,
		reconciler: reconciler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the webhook endpoints under /webhooks.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx).Named("webhooks")
	if h.verifier == nil || h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhooks are not configured", http.StatusServiceUnavailable))
		return
	}

	signature := r.Header.Get(stripeSignatureHeader)
	if signature == "" {
		h.rejectSignature(w, r, logger, errors.New("missing signature header"))
		return
	}

	// The signature covers the exact bytes, so the body is read raw and never re-encoded.
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteBadRequest(ctx, w, "unable to read webhook payload")
		return
	}

	event, err := h.verifier.Verify(payload, signature)
	if err != nil {
		h.rejectSignature(w, r, logger, err)
		return
	}

	outcome, err := h.reconciler.Reconcile(ctx, event)
	if err != nil {
		// Acknowledged regardless of outcome.
		logger.Error("payment webhook reconcile failed",
			zap.Error(err),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
	} else {
		logger.Debug("payment webhook processed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("outcome", string(outcome)),
		)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *PaymentWebhookHandlers) rejectSignature(w http.ResponseWriter, r *http.Request, logger *zap.Logger, cause error) {
	if h.rejections != nil {
		h.rejections.ObserveWebhookRejected()
	}
	logger.Warn("payment webhook signature rejected",
		zap.Bool("security_event", true),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Error(cause),
	)
	httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": string(services.KindInvalidSignature)})
}
