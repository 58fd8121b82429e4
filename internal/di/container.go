package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/ezzatsd/CynaApp/internal/handlers"
	"github.com/ezzatsd/CynaApp/internal/payments"
	"github.com/ezzatsd/CynaApp/internal/platform/auth"
	"github.com/ezzatsd/CynaApp/internal/platform/config"
	"github.com/ezzatsd/CynaApp/internal/platform/events"
	"github.com/ezzatsd/CynaApp/internal/platform/idempotency"
	"github.com/ezzatsd/CynaApp/internal/platform/observability"
	"github.com/ezzatsd/CynaApp/internal/platform/sqldb"
	"github.com/ezzatsd/CynaApp/internal/repositories"
	"github.com/ezzatsd/CynaApp/internal/repositories/sqlstore"
	"github.com/ezzatsd/CynaApp/internal/services"
)

// Services bundles the service-layer contracts that handlers and commands rely upon.
type Services struct {
	Orders     services.OrderService
	Reconciler services.PaymentReconciler
	System     services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Provider     *sqldb.Provider
	Repositories repositories.Registry
	Services     Services
	Metrics      *observability.Metrics
	Router       http.Handler
	Janitor      *idempotency.Janitor

	closers []func(context.Context) error
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	provider  *sqldb.Provider
	gateway   services.PaymentGateway
	verifier  payments.WebhookVerifier
	publisher services.OrderEventPublisher
	build     services.BuildInfo
	clock     func() time.Time
}

// WithProvider reuses an existing database provider instead of opening one from config.
func WithProvider(provider *sqldb.Provider) Option {
	return func(o *options) { o.provider = provider }
}

// WithPaymentGateway replaces the Stripe-backed payment manager.
func WithPaymentGateway(gateway services.PaymentGateway) Option {
	return func(o *options) { o.gateway = gateway }
}

// WithWebhookVerifier replaces the Stripe webhook verifier.
func WithWebhookVerifier(verifier payments.WebhookVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithEventPublisher replaces the configured events backend.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// WithClock overrides the clock handed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies. On error everything opened so far is closed.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	provider := o.provider
	if provider == nil {
		provider, err = sqldb.NewProvider(cfg.Database, sqldb.WithConnectTimeout(cfg.Database.ConnectTimeout))
		if err != nil {
			return nil, fmt.Errorf("database provider: %w", err)
		}
	}
	c.Provider = provider
	if cfg.Database.AutoMigrate {
		status, err := provider.Migrate(ctx, sqldb.MigrateUp)
		if err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		logger.Info("database migrated", zap.Uint("version", status.Version), zap.Bool("changed", status.Changed))
	}

	registry, err := sqlstore.NewRegistry(provider, cfg.Payments.Currency)
	if err != nil {
		return nil, err
	}
	c.Repositories = registry
	c.closers = append(c.closers, registry.Close)

	c.Metrics = observability.NewMetrics()
	eventLogger := observability.EventLogger(logger.Named("services"))

	publisher := o.publisher
	if publisher == nil {
		var closeFn func(context.Context) error
		publisher, closeFn, err = buildPublisher(ctx, cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("order events: %w", err)
		}
		if closeFn != nil {
			c.closers = append(c.closers, closeFn)
		}
	}

	gateway := o.gateway
	if gateway == nil {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.PSP.StripeAPIKey,
			AccountID: cfg.PSP.StripeAccountID,
			Logger:    eventLogger,
		})
		if err != nil {
			return nil, err
		}
		manager, err := payments.NewManager(map[string]payments.Provider{
			payments.ProviderStripe: stripeProvider,
		})
		if err != nil {
			return nil, err
		}
		gateway = manager
	}

	verifier := o.verifier
	if verifier == nil {
		verifier, err = payments.NewStripeWebhookVerifier(cfg.PSP.StripeWebhookSecret, cfg.PSP.StripeWebhookTolerance)
		if err != nil {
			return nil, err
		}
	}

	c.Services, err = buildServices(cfg, registry, gateway, publisher, c.Metrics, eventLogger, o)
	if err != nil {
		return nil, err
	}

	authenticator, err := buildAuthenticator(cfg.Auth, c.Metrics, logger.Named("auth"))
	if err != nil {
		return nil, err
	}

	store, closeStore, err := buildIdempotencyStore(ctx, cfg.Idempotency, provider)
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	if closeStore != nil {
		c.closers = append(c.closers, closeStore)
	}
	c.Janitor = idempotency.NewJanitor(store, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	idempotencyMiddleware := idempotency.Middleware(store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithRetainedStatuses(http.StatusServiceUnavailable),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	orderHandlers := handlers.NewOrderHandlers(authenticator, c.Services.Orders, handlers.WithOrderIdempotency(idempotencyMiddleware))
	webhookHandlers := handlers.NewPaymentWebhookHandlers(verifier, c.Services.Reconciler, handlers.WithWebhookRejectionRecorder(c.Metrics))
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(o.build),
		handlers.WithHealthSystemService(c.Services.System),
	)

	httpLogger := logger.Named("http")
	c.Router = handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
			c.Metrics.Middleware(),
		),
		handlers.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
		handlers.WithCORSHeaders(cfg.Idempotency.Header),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(c.Metrics.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildServices(
	cfg config.Config,
	reg repositories.Registry,
	gateway services.PaymentGateway,
	publisher services.OrderEventPublisher,
	recorder services.ReconcileRecorder,
	logger func(context.Context, string, map[string]any),
	o options,
) (Services, error) {
	var svc Services

	pricing, err := services.NewPricingResolver(services.PricingResolverDeps{
		Products: reg.Products(),
		Currency: cfg.Payments.Currency,
	})
	if err != nil {
		return svc, err
	}
	addresses, err := services.NewAddressGuard(reg.Addresses())
	if err != nil {
		return svc, err
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:               reg.Orders(),
		Pricing:              pricing,
		Addresses:            addresses,
		Gateway:              gateway,
		UnitOfWork:           reg,
		Currency:             cfg.Payments.Currency,
		PaymentMethodSummary: cfg.Orders.DefaultPaymentSummary,
		GatewayTimeout:       cfg.Payments.GatewayTimeout,
		Clock:                o.clock,
		Events:               publisher,
		Logger:               logger,
	})
	if err != nil {
		return svc, err
	}

	svc.Reconciler, err = services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:   reg.Orders(),
		Clock:    o.clock,
		Events:   publisher,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return svc, err
	}

	build := o.build
	if build.Environment == "" {
		build.Environment = cfg.Environment
	}
	svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            o.clock,
		Build:            build,
	})
	if err != nil {
		return svc, err
	}
	return svc, nil
}

// buildAuthenticator prefers RS256 via JWKS when a URL is configured and falls back to the
// shared HS256 secret.
func buildAuthenticator(cfg config.AuthConfig, metrics auth.MetricsRecorder, logger *zap.Logger) (*auth.Authenticator, error) {
	var claimOpts []auth.ClaimOption
	if cfg.Issuer != "" {
		claimOpts = append(claimOpts, auth.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		claimOpts = append(claimOpts, auth.WithAudience(cfg.Audience))
	}

	var verifier auth.TokenVerifier
	if cfg.JWKSURL != "" {
		cache := auth.NewJWKSCache(cfg.JWKSURL, auth.WithJWKSLogger(zap.NewStdLog(logger)))
		jwksVerifier, err := auth.NewJWKSTokenVerifier(cache, claimOpts...)
		if err != nil {
			return nil, fmt.Errorf("jwks verifier: %w", err)
		}
		verifier = jwksVerifier
	} else {
		hmacVerifier, err := auth.NewHMACTokenVerifier(cfg.JWTSecret, claimOpts...)
		if err != nil {
			return nil, fmt.Errorf("hmac verifier: %w", err)
		}
		verifier = hmacVerifier
	}
	return auth.NewAuthenticator(verifier, auth.WithMetrics(metrics)), nil
}

func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, provider *sqldb.Provider) (idempotency.Store, func(context.Context) error, error) {
	switch cfg.Store {
	case config.IdempotencyStoreMemory:
		return idempotency.NewMemoryStore(), nil, nil
	case config.IdempotencyStoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		store, err := idempotency.NewFirestoreStore(client, idempotency.WithCollection(cfg.Firestore.Collection))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func(context.Context) error { return client.Close() }, nil
	default:
		store, err := idempotency.NewSQLStore(provider)
		return store, nil, err
	}
}

// buildPublisher returns a nil publisher for the "none" backend; services treat it as disabled.
func buildPublisher(ctx context.Context, cfg config.EventsConfig) (services.OrderEventPublisher, func(context.Context) error, error) {
	switch cfg.Backend {
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.PublishTopic))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, func(context.Context) error {
			return errors.Join(publisher.Close(), client.Close())
		}, nil
	case config.EventsBackendKafka:
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.PublishTopic)
		if err != nil {
			return nil, nil, err
		}
		return publisher, func(context.Context) error { return publisher.Close() }, nil
	case config.EventsBackendRabbitMQ:
		publisher, err := events.DialAMQP(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, nil, err
		}
		return publisher, func(context.Context) error { return publisher.Close() }, nil
	default:
		return nil, nil, nil
	}
}
