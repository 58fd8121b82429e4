package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/platform/sqldb"
	"github.com/ezzatsd/CynaApp/internal/repositories"
)

// ProductRepository reads catalog prices stored as fixed-point decimals and exposes them in minor units.
type ProductRepository struct {
	provider *sqldb.Provider
	currency string
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a product reader. Catalog prices are denominated in currency.
func NewProductRepository(provider *sqldb.Provider, currency string) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires sql provider")
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if _, err := domain.CurrencyScale(currency); err != nil {
		return nil, fmt.Errorf("product repository: %w", err)
	}
	return &ProductRepository{provider: provider, currency: currency}, nil
}

type productRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Price       decimal.Decimal `db:"price"`
	IsAvailable bool            `db:"is_available"`
}

// FindByIDs reads every requested product in one statement. Unknown ids are absent from the map.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	exec, err := r.provider.Executor(ctx)
	if err != nil {
		return nil, err
	}

	query, args, err := sqlx.In(`SELECT id, name, price, is_available FROM products WHERE id IN (?)`, productIDs)
	if err != nil {
		return nil, sqldb.WrapError("products.find_by_ids", err)
	}
	var rows []productRow
	if err := sqlx.SelectContext(ctx, exec, &rows, exec.Rebind(query), args...); err != nil {
		return nil, sqldb.WrapError("products.find_by_ids", err)
	}

	for _, row := range rows {
		minor, err := domain.MinorUnits(row.Price, r.currency)
		if err != nil {
			return nil, fmt.Errorf("products.find_by_ids: product %s: %w", row.ID, err)
		}
		result[row.ID] = domain.Product{
			ID:          row.ID,
			Name:        row.Name,
			UnitPrice:   minor,
			Currency:    r.currency,
			IsAvailable: row.IsAvailable,
		}
	}
	return result, nil
}
