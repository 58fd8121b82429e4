package services

import (
	"context"
	"errors"
	"html"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/repositories"
)

// PricingResolverDeps bundles collaborators required to construct the pricing resolver.
type PricingResolverDeps struct {
	Products repositories.ProductRepository
	Currency string
}

type pricingResolver struct {
	products repositories.ProductRepository
	currency string
	policy   *bluemonday.Policy
}

// NewPricingResolver builds the resolver that reads authoritative prices from the catalog.
func NewPricingResolver(deps PricingResolverDeps) (PricingService, error) {
	if deps.Products == nil {
		return nil, errors.New("pricing resolver: product repository is required")
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		return nil, errors.New("pricing resolver: currency is required")
	}
	return &pricingResolver{
		products: deps.Products,
		currency: currency,
		policy:   bluemonday.StrictPolicy(),
	}, nil
}

// Resolve prices every requested line from the catalog. Duplicate product ids stay separate lines.
func (r *pricingResolver) Resolve(ctx context.Context, items []LineItemRequest) (PricingSnapshot, error) {
	if len(items) == 0 {
		return PricingSnapshot{}, validationError("at least one item is required")
	}

	ids := make([]string, 0, len(items))
	normalised := make([]LineItemRequest, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return PricingSnapshot{}, validationError("productId is required")
		}
		if item.Quantity < 1 {
			return PricingSnapshot{}, newError(KindValidation, "quantity must be at least 1", nil, map[string]any{"productId": productID})
		}
		normalised[i] = LineItemRequest{ProductID: productID, Quantity: item.Quantity}
		if !slices.Contains(ids, productID) {
			ids = append(ids, productID)
		}
	}

	products, err := r.products.FindByIDs(ctx, ids)
	if err != nil {
		return PricingSnapshot{}, internalError("load products", err)
	}

	var offending []string
	for _, id := range ids {
		product, ok := products[id]
		if !ok || !product.IsAvailable {
			offending = append(offending, id)
		}
	}
	if len(offending) > 0 {
		slices.Sort(offending)
		return PricingSnapshot{}, newError(KindInvalidLineItem, "one or more products are unavailable", nil, map[string]any{
			"productIds": offending,
		})
	}

	snapshot := PricingSnapshot{Currency: r.currency, Lines: make([]PricedLine, 0, len(normalised))}
	for _, item := range normalised {
		product := products[item.ProductID]
		subtotal, err := domain.MulMinorUnits(product.UnitPrice, item.Quantity)
		if err != nil {
			return PricingSnapshot{}, validationError("order total exceeds the supported range")
		}
		snapshot.Total, err = domain.AddMinorUnits(snapshot.Total, subtotal)
		if err != nil {
			return PricingSnapshot{}, validationError("order total exceeds the supported range")
		}
		snapshot.Lines = append(snapshot.Lines, PricedLine{
			ProductID:    product.ID,
			ProductName:  r.snapshotName(product),
			PricePerUnit: product.UnitPrice,
			Quantity:     item.Quantity,
		})
	}
	return snapshot, nil
}

func (r *pricingResolver) snapshotName(product Product) string {
	name := strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(product.Name)))
	if name == "" {
		return product.ID
	}
	return name
}
