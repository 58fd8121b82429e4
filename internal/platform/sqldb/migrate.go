package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationFiles embed.FS

// MigrationDirection selects which way Migrate moves the schema.
type MigrationDirection string

const (
	MigrateUp   MigrationDirection = "up"
	MigrateDown MigrationDirection = "down"
)

// MigrationStatus reports the schema version after a migration run.
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies the embedded migrations for the configured driver. It uses a dedicated
// connection so closing the migrator never closes the shared pool.
func (p *Provider) Migrate(ctx context.Context, direction MigrationDirection) (MigrationStatus, error) {
	m, closeFn, err := p.migrator(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer closeFn()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-stop:
		}
	}()

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Down()
	default:
		return MigrationStatus{}, fmt.Errorf("sqldb: unknown migration direction %q", direction)
	}
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("sqldb: migrate %s: %w", direction, err)
	}

	status, err := readVersion(m)
	status.Changed = changed
	return status, err
}

// MigrationVersion reports the currently applied schema version.
func (p *Provider) MigrationVersion(ctx context.Context) (MigrationStatus, error) {
	m, closeFn, err := p.migrator(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer closeFn()
	return readVersion(m)
}

func readVersion(m *migrate.Migrate) (MigrationStatus, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("sqldb: read migration version: %w", err)
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}

func (p *Provider) migrator(ctx context.Context) (*migrate.Migrate, func(), error) {
	dsn, err := normaliseDSN(p.cfg.Driver, p.cfg.DSN, true)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open(p.cfg.Driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sqldb: open migration connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, WrapError("sqldb.migrate.ping", err)
	}

	var (
		instance database.Driver
		dir      string
	)
	switch p.cfg.Driver {
	case DriverPostgres:
		instance, err = migratepgx.WithInstance(db, &migratepgx.Config{})
		dir = "migrations/postgres"
	case DriverMySQL:
		instance, err = migratemysql.WithInstance(db, &migratemysql.Config{})
		dir = "migrations/mysql"
	default:
		err = fmt.Errorf("unsupported driver %q", p.cfg.Driver)
	}
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqldb: migration driver: %w", err)
	}

	source, err := iofs.New(migrationFiles, dir)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqldb: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, p.cfg.Driver, instance)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqldb: init migrator: %w", err)
	}
	return m, func() { _, _ = m.Close() }, nil
}
