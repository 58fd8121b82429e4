package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ezzatsd/CynaApp/internal/domain"
)

func newTestPricing(t *testing.T, products map[string]domain.Product) (PricingService, *stubProductRepo) {
	t.Helper()
	repo := &stubProductRepo{products: products}
	svc, err := NewPricingResolver(PricingResolverDeps{Products: repo, Currency: "EUR"})
	if err != nil {
		t.Fatalf("NewPricingResolver: %v", err)
	}
	return svc, repo
}

func TestPricingResolverComputesTotalFromCatalog(t *testing.T) {
	svc, repo := newTestPricing(t, map[string]domain.Product{
		"A": {ID: "A", Name: "Antivirus", UnitPrice: 1000, IsAvailable: true},
		"B": {ID: "B", Name: "VPN", UnitPrice: 550, IsAvailable: true},
	})

	snapshot, err := svc.Resolve(context.Background(), []LineItemRequest{
		{ProductID: "A", Quantity: 2},
		{ProductID: " B ", Quantity: 1},
		{ProductID: "A", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snapshot.Total != 3550 {
		t.Fatalf("expected total 3550, got %d", snapshot.Total)
	}
	if snapshot.Currency != "eur" {
		t.Fatalf("expected currency eur, got %s", snapshot.Currency)
	}
	if len(snapshot.Lines) != 3 {
		t.Fatalf("expected duplicate ids to stay separate lines, got %d", len(snapshot.Lines))
	}
	if snapshot.Lines[1].ProductID != "B" || snapshot.Lines[1].PricePerUnit != 550 {
		t.Fatalf("unexpected second line %+v", snapshot.Lines[1])
	}
	if repo.calls != 1 {
		t.Fatalf("expected one batched catalog read, got %d", repo.calls)
	}
}

func TestPricingResolverValidation(t *testing.T) {
	svc, repo := newTestPricing(t, map[string]domain.Product{
		"A": {ID: "A", Name: "Antivirus", UnitPrice: 1000, IsAvailable: true},
	})
	cases := map[string][]LineItemRequest{
		"empty":         nil,
		"blank product": {{ProductID: " ", Quantity: 1}},
		"zero quantity": {{ProductID: "A", Quantity: 0}},
		"negative":      {{ProductID: "A", Quantity: -3}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Resolve(context.Background(), items); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if repo.calls != 0 {
		t.Fatalf("expected validation to happen before the catalog read")
	}
}

func TestPricingResolverReportsEveryOffendingProduct(t *testing.T) {
	svc, _ := newTestPricing(t, map[string]domain.Product{
		"A": {ID: "A", Name: "Antivirus", UnitPrice: 1000, IsAvailable: true},
		"C": {ID: "C", Name: "Retired", UnitPrice: 100, IsAvailable: false},
	})

	_, err := svc.Resolve(context.Background(), []LineItemRequest{
		{ProductID: "Z", Quantity: 1},
		{ProductID: "A", Quantity: 1},
		{ProductID: "C", Quantity: 1},
	})
	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.Kind != KindInvalidLineItem {
		t.Fatalf("expected invalid line item error, got %v", err)
	}
	ids, _ := svcErr.Details["productIds"].([]string)
	if len(ids) != 2 || ids[0] != "C" || ids[1] != "Z" {
		t.Fatalf("expected [C Z], got %v", ids)
	}
}

func TestPricingResolverRejectsOverflow(t *testing.T) {
	svc, _ := newTestPricing(t, map[string]domain.Product{
		"A": {ID: "A", Name: "Antivirus", UnitPrice: math.MaxInt64 / 2, IsAvailable: true},
	})
	_, err := svc.Resolve(context.Background(), []LineItemRequest{{ProductID: "A", Quantity: 3}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation on overflow, got %v", err)
	}
}

func TestPricingResolverCatalogFailure(t *testing.T) {
	repo := &stubProductRepo{err: stubRepoError{}}
	svc, err := NewPricingResolver(PricingResolverDeps{Products: repo, Currency: "eur"})
	if err != nil {
		t.Fatalf("NewPricingResolver: %v", err)
	}
	_, err = svc.Resolve(context.Background(), []LineItemRequest{{ProductID: "A", Quantity: 1}})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}

func TestPricingResolverSnapshotNameFallsBackToID(t *testing.T) {
	svc, _ := newTestPricing(t, map[string]domain.Product{
		"A": {ID: "A", Name: "<script>alert(1)</script>", UnitPrice: 100, IsAvailable: true},
	})
	snapshot, err := svc.Resolve(context.Background(), []LineItemRequest{{ProductID: "A", Quantity: 1}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snapshot.Lines[0].ProductName != "A" {
		t.Fatalf("expected fallback to product id, got %q", snapshot.Lines[0].ProductName)
	}
}
