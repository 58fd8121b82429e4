package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ezzatsd/CynaApp/internal/domain"
	"github.com/ezzatsd/CynaApp/internal/platform/sqldb"
	"github.com/ezzatsd/CynaApp/internal/repositories"
)

const addressColumns = `id, user_id, first_name, last_name, line1, line2, city, region, postal_code, country, phone`

// AddressRepository reads saved addresses. Address management lives outside this service.
type AddressRepository struct {
	provider *sqldb.Provider
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a SQL-backed address repository.
func NewAddressRepository(provider *sqldb.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires sql provider")
	}
	return &AddressRepository{provider: provider}, nil
}

type addressRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	FirstName  string         `db:"first_name"`
	LastName   string         `db:"last_name"`
	Line1      string         `db:"line1"`
	Line2      sql.NullString `db:"line2"`
	City       string         `db:"city"`
	Region     sql.NullString `db:"region"`
	PostalCode string         `db:"postal_code"`
	Country    string         `db:"country"`
	Phone      sql.NullString `db:"phone"`
}

// FindByID returns the address regardless of owner; ownership is enforced by the caller.
func (r *AddressRepository) FindByID(ctx context.Context, addressID string) (domain.Address, error) {
	exec, err := r.provider.Executor(ctx)
	if err != nil {
		return domain.Address{}, err
	}
	var row addressRow
	if err := sqlx.GetContext(ctx, exec, &row, exec.Rebind(`SELECT `+addressColumns+` FROM addresses WHERE id = ?`), addressID); err != nil {
		return domain.Address{}, sqldb.WrapError("addresses.find", err)
	}
	return decodeAddress(row), nil
}

func selectAddresses(ctx context.Context, exec sqlx.ExtContext, ids []string) (map[string]domain.Address, error) {
	result := make(map[string]domain.Address, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT `+addressColumns+` FROM addresses WHERE id IN (?)`, ids)
	if err != nil {
		return nil, sqldb.WrapError("addresses.list", err)
	}
	var rows []addressRow
	if err := sqlx.SelectContext(ctx, exec, &rows, exec.Rebind(query), args...); err != nil {
		return nil, sqldb.WrapError("addresses.list", err)
	}
	for _, row := range rows {
		result[row.ID] = decodeAddress(row)
	}
	return result, nil
}

func decodeAddress(row addressRow) domain.Address {
	return domain.Address{
		ID:         row.ID,
		UserID:     row.UserID,
		FirstName:  row.FirstName,
		LastName:   row.LastName,
		Line1:      row.Line1,
		Line2:      nullableString(row.Line2),
		City:       row.City,
		Region:     nullableString(row.Region),
		PostalCode: row.PostalCode,
		Country:    row.Country,
		Phone:      nullableString(row.Phone),
	}
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
