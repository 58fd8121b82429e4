package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	lastReq IntentRequest
	intent  Intent
	err     error
}

func (f *fakeProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	f.lastOp = "create"
	f.lastReq = req
	return f.intent, f.err
}

func TestManagerCreatePaymentIntentUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_stripe"}}
	other := &fakeProvider{intent: Intent{ID: "pi_other"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"other":  other,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreatePaymentIntent(ctx, PaymentContext{PreferredProvider: "other"}, IntentRequest{Amount: 100, Currency: "eur"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "other" {
		t.Fatalf("expected provider 'other', got %q", intent.Provider)
	}
	if other.lastOp != "create" {
		t.Fatalf("expected preferred provider to be called")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to be unused")
	}
}

func TestManagerCurrencyRouting(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_stripe"}}
	other := &fakeProvider{intent: Intent{ID: "pi_other"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"other":  other,
	}, WithCurrencyRoutes(map[string]string{"jpy": "other"}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := mgr.CreatePaymentIntent(ctx, PaymentContext{Currency: "JPY"}, IntentRequest{Amount: 100, Currency: "jpy"}); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if other.lastOp != "create" {
		t.Fatalf("expected currency routed provider to be used")
	}

	if _, err := mgr.CreatePaymentIntent(ctx, PaymentContext{Currency: "EUR"}, IntentRequest{Amount: 100, Currency: "eur"}); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if stripe.lastOp != "create" {
		t.Fatalf("expected default stripe provider for unrouted currency")
	}
}

func TestManagerFallsBackToSingleProvider(t *testing.T) {
	only := &fakeProvider{intent: Intent{ID: "pi_1"}}
	mgr, err := NewManager(map[string]Provider{"acme": only})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	intent, err := mgr.CreatePaymentIntent(context.Background(), PaymentContext{Currency: "eur"}, IntentRequest{Amount: 100, Currency: "eur"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "acme" || only.lastOp != "create" {
		t.Fatalf("expected create through single provider, got %+v", intent)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{
		"a": &fakeProvider{},
		"b": &fakeProvider{},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.CreatePaymentIntent(context.Background(), PaymentContext{PreferredProvider: "c"}, IntentRequest{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerPropagatesProviderErrors(t *testing.T) {
	boom := errors.New("boom")
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{err: boom}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.CreatePaymentIntent(context.Background(), PaymentContext{}, IntentRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestNewManagerValidatesRegistrations(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty provider set")
	}
	if _, err := NewManager(map[string]Provider{" ": &fakeProvider{}}); err == nil {
		t.Fatalf("expected error for blank key")
	}
}
