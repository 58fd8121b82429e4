package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/ezzatsd/CynaApp/internal/platform/config"
)

const (
	// DriverPostgres selects the pgx stdlib driver.
	DriverPostgres = "pgx"
	// DriverMySQL selects go-sql-driver/mysql.
	DriverMySQL = "mysql"

	defaultConnectTimeout = 10 * time.Second
)

var ErrProviderClosed = errors.New("sqldb: provider is closed")

// Provider lazily opens and shares a pooled database handle.
type Provider struct {
	cfg            config.DatabaseConfig
	connectTimeout time.Duration

	mu     sync.Mutex
	db     *sqlx.DB
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithConnectTimeout bounds the initial ping performed when the pool is opened.
func WithConnectTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.connectTimeout = timeout
		}
	}
}

// WithDB installs an already opened handle, typically a sqlmock connection in tests.
func WithDB(db *sql.DB, driverName string) ProviderOption {
	return func(p *Provider) {
		if db != nil {
			p.db = sqlx.NewDb(db, driverName)
			p.cfg.Driver = driverName
		}
	}
}

// NewProvider validates the driver and constructs a Provider.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) (*Provider, error) {
	p := &Provider{cfg: cfg, connectTimeout: defaultConnectTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	switch p.cfg.Driver {
	case DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", p.cfg.Driver)
	}
	if p.db == nil && strings.TrimSpace(p.cfg.DSN) == "" {
		return nil, errors.New("sqldb: dsn is required")
	}
	return p, nil
}

// Driver reports the configured driver name.
func (p *Provider) Driver() string {
	return p.cfg.Driver
}

// DB returns the shared pool, opening it on first use.
func (p *Provider) DB(ctx context.Context) (*sqlx.DB, error) {
	if ctx == nil {
		return nil, errors.New("sqldb: context is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.db != nil {
		return p.db, nil
	}
	db, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	p.db = db
	return db, nil
}

func (p *Provider) open(ctx context.Context) (*sqlx.DB, error) {
	dsn, err := normaliseDSN(p.cfg.Driver, p.cfg.DSN, false)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(p.cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open %s: %w", p.cfg.Driver, err)
	}
	if p.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	}
	if p.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	}
	if p.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, WrapError("sqldb.ping", err)
	}
	return db, nil
}

// Ping verifies connectivity and is used by readiness probes.
func (p *Provider) Ping(ctx context.Context) error {
	db, err := p.DB(ctx)
	if err != nil {
		return err
	}
	return WrapError("sqldb.ping", db.PingContext(ctx))
}

// Close releases the pool. The Provider cannot be reused afterwards.
func (p *Provider) Close(context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.db == nil {
		return nil
	}
	db := p.db
	p.db = nil
	return db.Close()
}

// normaliseDSN enforces the driver settings the repositories rely on. MySQL needs parseTime
// for DATETIME columns; migrations additionally need multiStatements.
func normaliseDSN(driverName, dsn string, multiStatements bool) (string, error) {
	if driverName != DriverMySQL {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("sqldb: parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if multiStatements {
		cfg.MultiStatements = true
	}
	return cfg.FormatDSN(), nil
}
