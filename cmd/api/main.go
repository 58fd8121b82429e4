package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ezzatsd/CynaApp/internal/platform/config"
	"github.com/ezzatsd/CynaApp/internal/platform/observability"
	"github.com/ezzatsd/CynaApp/internal/platform/requestctx"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cyna-api: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "cyna-api",
		Usage: "Cyna storefront order and payment API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "zap level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file merged under the process environment",
				EnvVars: []string{"API_ENV_FILE"},
			},
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			ordersCommand(),
		},
	}
}

// appRuntime carries what every command needs after bootstrap.
type appRuntime struct {
	logger    *zap.Logger
	cfg       config.Config
	env       map[string]string
	startedAt time.Time
	closeFn   func()
}

func (r *appRuntime) Close() {
	if r.closeFn != nil {
		r.closeFn()
	}
	_ = r.logger.Sync()
}

// bootstrap builds the logger, resolves secrets and loads configuration.
func bootstrap(c *cli.Context, requiredSecrets []string) (*appRuntime, error) {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLoggerWithLevel(c.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("initialise logger: %w", err)
	}
	logger := baseLogger.Named("api")
	ctx := requestctx.WithLogger(c.Context, logger)

	var envOpts []config.Option
	if path := c.String("env-file"); path != "" {
		envOpts = append(envOpts, config.WithEnvFile(path))
	}
	envValues, err := config.EnvironmentValues(envOpts...)
	if err != nil {
		_ = baseLogger.Sync()
		return nil, fmt.Errorf("read environment values: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		_ = baseLogger.Sync()
		return nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	closeFetcher := func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}

	loadOpts := make([]config.Option, 0, len(envOpts)+2)
	loadOpts = append(loadOpts, envOpts...)
	loadOpts = append(loadOpts,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		closeFetcher()
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		_ = baseLogger.Sync()
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	return &appRuntime{
		logger:    logger,
		cfg:       cfg,
		env:       envValues,
		startedAt: startedAt,
		closeFn:   closeFetcher,
	}, nil
}
