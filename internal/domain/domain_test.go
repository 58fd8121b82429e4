package domain

import (
	"errors"
	"slices"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCurrencyScale(t *testing.T) {
	cases := []struct {
		code    string
		scale   int
		wantErr bool
	}{
		{code: "EUR", scale: 2},
		{code: " usd ", scale: 2},
		{code: "JPY", scale: 0},
		{code: "KWD", scale: 3},
		{code: "", wantErr: true},
		{code: "euro", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			scale, err := CurrencyScale(tc.code)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("CurrencyScale(%q): %v", tc.code, err)
			}
			if scale != tc.scale {
				t.Fatalf("expected scale %d, got %d", tc.scale, scale)
			}
		})
	}
}

func TestMinorUnits(t *testing.T) {
	cases := map[string]struct {
		amount string
		code   string
		want   int64
		err    error
	}{
		"euro cents":        {amount: "25.50", code: "eur", want: 2550},
		"whole euros":       {amount: "12", code: "EUR", want: 1200},
		"negative":          {amount: "-1.50", code: "EUR", want: -150},
		"zero decimal":      {amount: "1500", code: "JPY", want: 1500},
		"yen fraction":      {amount: "1.5", code: "JPY", err: ErrInexactAmount},
		"sub cent":          {amount: "1.005", code: "EUR", err: ErrInexactAmount},
		"max":               {amount: "92233720368547758.07", code: "EUR", want: maxInt64},
		"overflow":          {amount: "92233720368547758.08", code: "EUR", err: ErrAmountOverflow},
		"negative overflow": {amount: "-92233720368547758.08", code: "EUR", err: ErrAmountOverflow},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := MinorUnits(decimal.RequireFromString(tc.amount), tc.code)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MinorUnits: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}

	if _, err := MinorUnits(decimal.NewFromInt(1), "???"); err == nil {
		t.Fatalf("expected error for unknown currency")
	}
}

func TestFormatMinorUnits(t *testing.T) {
	if got := FormatMinorUnits(2550, "EUR"); got != "25.50" {
		t.Fatalf("unexpected EUR format %q", got)
	}
	if got := FormatMinorUnits(1500, "JPY"); got != "1500" {
		t.Fatalf("unexpected JPY format %q", got)
	}
	if got := FormatMinorUnits(5, "not-a-code"); got != "0.05" {
		t.Fatalf("unexpected fallback format %q", got)
	}
}

func TestMulAndAddMinorUnits(t *testing.T) {
	if got, err := MulMinorUnits(550, 3); err != nil || got != 1650 {
		t.Fatalf("MulMinorUnits(550, 3) = %d, %v", got, err)
	}
	if got, err := MulMinorUnits(0, 1<<30); err != nil || got != 0 {
		t.Fatalf("MulMinorUnits(0, n) = %d, %v", got, err)
	}
	if _, err := MulMinorUnits(maxInt64/2+1, 2); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if got, err := AddMinorUnits(2000, 550); err != nil || got != 2550 {
		t.Fatalf("AddMinorUnits = %d, %v", got, err)
	}
	if _, err := AddMinorUnits(maxInt64, 1); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestSourceStatuses(t *testing.T) {
	cases := map[OrderStatus][]OrderStatus{
		OrderStatusPendingPayment: nil,
		OrderStatusProcessing:     {OrderStatusPendingPayment},
		OrderStatusActive:         {OrderStatusPendingPayment, OrderStatusProcessing},
		OrderStatusFailed:         {OrderStatusPendingPayment, OrderStatusProcessing},
		OrderStatusCancelled:      {OrderStatusPendingPayment, OrderStatusProcessing},
	}
	for target, want := range cases {
		t.Run(string(target), func(t *testing.T) {
			if got := SourceStatuses(target); !slices.Equal(got, want) {
				t.Fatalf("SourceStatuses(%s) = %v, want %v", target, got, want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	if CanTransition(OrderStatusActive, OrderStatusFailed) {
		t.Fatalf("terminal ACTIVE must not transition")
	}
	if CanTransition(OrderStatusProcessing, OrderStatusPendingPayment) {
		t.Fatalf("PROCESSING must not move back to PENDING_PAYMENT")
	}
	if !CanTransition(OrderStatusPendingPayment, OrderStatusProcessing) {
		t.Fatalf("PENDING_PAYMENT must reach PROCESSING")
	}
}

func TestOrderHelpers(t *testing.T) {
	empty := ""
	id := "pi_1"
	if (Order{}).HasPaymentIntent() || (Order{PaymentIntentID: &empty}).HasPaymentIntent() {
		t.Fatalf("expected no payment intent")
	}
	if !(Order{PaymentIntentID: &id}).HasPaymentIntent() {
		t.Fatalf("expected payment intent")
	}
	if got := (OrderItem{PricePerUnit: 550, Quantity: 3}).Subtotal(); got != 1650 {
		t.Fatalf("unexpected subtotal %d", got)
	}
}
