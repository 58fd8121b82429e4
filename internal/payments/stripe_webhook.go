package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// DefaultWebhookTolerance bounds how old a signed webhook timestamp may be.
const DefaultWebhookTolerance = 5 * time.Minute

// EventType names a provider notification.
type EventType string

const (
	EventPaymentIntentSucceeded  EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed     EventType = "payment_intent.payment_failed"
	EventPaymentIntentProcessing EventType = "payment_intent.processing"
	EventPaymentIntentCanceled   EventType = "payment_intent.canceled"
)

// PaymentIntentEvent reports whether the type belongs to the payment_intent family.
func (t EventType) PaymentIntentEvent() bool {
	return strings.HasPrefix(string(t), "payment_intent.")
}

// Event is a verified provider notification reduced to the fields reconciliation needs.
type Event struct {
	ID             string
	Provider       string
	Type           EventType
	IntentID       string
	Metadata       map[string]string
	FailureMessage string
	LiveMode       bool
	CreatedAt      time.Time
}

// WebhookVerifier authenticates raw webhook payloads.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (Event, error)
}

// StripeWebhookVerifier checks the Stripe-Signature header over the exact request bytes.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

var _ WebhookVerifier = (*StripeWebhookVerifier)(nil)

// NewStripeWebhookVerifier builds a verifier for the endpoint secret. A non-positive tolerance
// selects DefaultWebhookTolerance.
func NewStripeWebhookVerifier(secret string, tolerance time.Duration) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: tolerance}, nil
}

// Verify authenticates payload and decodes it. Every failure wraps ErrInvalidSignature.
func (v *StripeWebhookVerifier) Verify(payload []byte, signatureHeader string) (Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return Event{}, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}
	if len(payload) == 0 {
		return Event{}, fmt.Errorf("%w: empty payload", ErrInvalidSignature)
	}

	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	event := Event{
		ID:        stripeEvent.ID,
		Provider:  ProviderStripe,
		Type:      EventType(stripeEvent.Type),
		LiveMode:  stripeEvent.Livemode,
		CreatedAt: time.Unix(stripeEvent.Created, 0).UTC(),
	}
	if !event.Type.PaymentIntentEvent() || stripeEvent.Data == nil {
		return event, nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(stripeEvent.Data.Raw, &intent); err != nil {
		return Event{}, fmt.Errorf("%w: decode payment intent: %w", ErrInvalidSignature, err)
	}
	event.IntentID = intent.ID
	event.Metadata = maps.Clone(intent.Metadata)
	if intent.LastPaymentError != nil {
		event.FailureMessage = intent.LastPaymentError.Msg
	}
	return event, nil
}
