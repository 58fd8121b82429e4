package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ezzatsd/CynaApp/internal/platform/sqldb"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: func(c *cli.Context) error {
					return runMigration(c, sqldb.MigrateUp)
				},
			},
			{
				Name:  "down",
				Usage: "roll back every migration",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "confirm the destructive rollback"},
				},
				Action: func(c *cli.Context) error {
					if !c.Bool("yes") {
						return cli.Exit("refusing to roll back without --yes", 2)
					}
					return runMigration(c, sqldb.MigrateDown)
				},
			},
			{
				Name:  "version",
				Usage: "print the current schema version",
				Action: func(c *cli.Context) error {
					rt, provider, err := openProvider(c)
					if err != nil {
						return err
					}
					defer rt.Close()
					defer provider.Close(c.Context)

					status, err := provider.MigrationVersion(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "version=%d dirty=%t\n", status.Version, status.Dirty)
					return nil
				},
			},
		},
	}
}

func runMigration(c *cli.Context, direction sqldb.MigrationDirection) error {
	rt, provider, err := openProvider(c)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer provider.Close(c.Context)

	status, err := provider.Migrate(c.Context, direction)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	rt.logger.Info("migration finished",
		zap.String("direction", string(direction)),
		zap.Uint("version", status.Version),
		zap.Bool("dirty", status.Dirty),
		zap.Bool("changed", status.Changed),
	)
	fmt.Fprintf(c.App.Writer, "version=%d changed=%t\n", status.Version, status.Changed)
	return nil
}

func openProvider(c *cli.Context) (*appRuntime, *sqldb.Provider, error) {
	rt, err := bootstrap(c, requiredSecretNames(false))
	if err != nil {
		return nil, nil, err
	}
	provider, err := sqldb.NewProvider(rt.cfg.Database, sqldb.WithConnectTimeout(rt.cfg.Database.ConnectTimeout))
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, provider, nil
}
