package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ezzatsd/CynaApp/internal/platform/sqldb"
	"github.com/ezzatsd/CynaApp/internal/repositories"
)

// RegistryOption customises the SQL registry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	extraChecks []repositories.DependencyCheck
	healthOpts  []repositories.DependencyHealthOption
}

// WithHealthChecks adds readiness probes beyond the database ping.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.extraChecks = append(cfg.extraChecks, checks...)
	}
}

// WithHealthOptions forwards options to the dependency health repository.
func WithHealthOptions(opts ...repositories.DependencyHealthOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.healthOpts = append(cfg.healthOpts, opts...)
	}
}

// Registry wires every SQL repository onto a shared provider.
type Registry struct {
	provider  *sqldb.Provider
	orders    *OrderRepository
	products  *ProductRepository
	addresses *AddressRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repositories for the catalog currency.
func NewRegistry(provider *sqldb.Provider, currency string, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("sql registry requires provider")
	}
	cfg := registryConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider, currency)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "database", Check: provider.Ping}}, cfg.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks, cfg.healthOpts...)
	if err != nil {
		return nil, fmt.Errorf("sql registry: %w", err)
	}

	return &Registry{
		provider:  provider,
		orders:    orders,
		products:  products,
		addresses: addresses,
		health:    health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

// Close releases the database pool.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
