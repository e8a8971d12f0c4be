package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/pressdeck/api/internal/handlers"
	"github.com/pressdeck/api/internal/payments"
	"github.com/pressdeck/api/internal/platform/auth"
	"github.com/pressdeck/api/internal/platform/config"
	pfirestore "github.com/pressdeck/api/internal/platform/firestore"
	"github.com/pressdeck/api/internal/platform/jobs"
	"github.com/pressdeck/api/internal/platform/observability"
	firestoreRepo "github.com/pressdeck/api/internal/repositories/firestore"
	"github.com/pressdeck/api/internal/services"
)

// Services bundles the service-layer contracts the handlers rely upon.
type Services struct {
	Cart     services.CartService
	Pricing  services.PricingEngine
	Checkout services.CheckoutService
	Webhooks services.WebhookProcessor
	Recovery services.RecoveryService
}

// Container wires repositories, services, and transport for runtime use.
type Container struct {
	Config   config.Config
	Services Services
	Gateway  payments.Gateway
	Router   http.Handler

	firestore *pfirestore.Provider
	pubsub    *pubsub.Client
}

// NewContainer assembles the runtime dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logHook := observability.ServiceLogHook(logger)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)

	cartRepo := firestoreRepo.NewCartRepository(firestoreProvider)
	sessionRepo := firestoreRepo.NewCheckoutSessionRepository(firestoreProvider)
	orderRepo := firestoreRepo.NewOrderRepository(firestoreProvider)
	abandonedRepo := firestoreRepo.NewAbandonedCartRepository(firestoreProvider)

	pricing, err := services.NewCartPricingEngine(services.CartPricingEngineDeps{
		VATRateBps:             cfg.Pricing.VATRateBps,
		ProfessionalContentFee: cfg.Pricing.ProfessionalContentFee,
	})
	if err != nil {
		return nil, fmt.Errorf("build pricing engine: %w", err)
	}

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	reminderPublisher, err := jobs.NewPubSubReminderPublisher(pubsubClient.Topic(cfg.PubSub.ReminderTopic))
	if err != nil {
		return nil, fmt.Errorf("build reminder publisher: %w", err)
	}
	notificationPublisher, err := jobs.NewPubSubNotificationPublisher(pubsubClient.Topic(cfg.PubSub.NotificationTopic))
	if err != nil {
		return nil, fmt.Errorf("build notification publisher: %w", err)
	}
	customerSync, err := jobs.NewPubSubCustomerSync(pubsubClient.Topic(cfg.PubSub.CustomerSyncTopic))
	if err != nil {
		return nil, fmt.Errorf("build customer sync: %w", err)
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Items:  cartRepo,
		Clock:  time.Now,
		Logger: logHook,
	})
	if err != nil {
		return nil, fmt.Errorf("build cart service: %w", err)
	}

	// Recovery is wired only when a token secret is configured; checkout and
	// webhook processing degrade to skipping abandonment tracking without it.
	var recoveryService services.RecoveryService
	if cfg.Recovery.TokenSecret != "" {
		tokenIssuer, err := auth.NewRecoveryTokenIssuer(cfg.Recovery.TokenSecret, time.Now)
		if err != nil {
			return nil, fmt.Errorf("build recovery token issuer: %w", err)
		}
		recoveryService, err = services.NewRecoveryService(services.RecoveryServiceDeps{
			Carts:     abandonedRepo,
			Tokens:    tokenIssuer,
			Reminders: reminderPublisher,
			Clock:     time.Now,
			Logger:    logHook,
			TTL:       cfg.Recovery.TTL,
			BaseURL:   cfg.Recovery.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build recovery service: %w", err)
		}
	} else {
		logger.Warn("recovery token secret not configured; abandoned-cart recovery disabled")
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:      cartRepo,
		Sessions:   sessionRepo,
		Gateway:    gateway,
		Pricing:    pricing,
		Recovery:   recoveryService,
		Clock:      time.Now,
		Logger:     logHook,
		SessionTTL: cfg.Payments.SessionTTL,
		SuccessURL: cfg.Payments.SuccessURL,
		CancelURL:  cfg.Payments.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	webhookProcessor, err := services.NewWebhookProcessor(services.WebhookProcessorDeps{
		Sessions:      sessionRepo,
		Orders:        orderRepo,
		Carts:         cartRepo,
		Gateway:       gateway,
		Recovery:      recoveryService,
		Notifications: notificationPublisher,
		Customers:     customerSync,
		Clock:         time.Now,
		Logger:        logHook,
	})
	if err != nil {
		return nil, fmt.Errorf("build webhook processor: %w", err)
	}

	svc := Services{
		Cart:     cartService,
		Pricing:  pricing,
		Checkout: checkoutService,
		Webhooks: webhookProcessor,
		Recovery: recoveryService,
	}

	router, err := buildRouter(cfg, logger, svc, gateway, firestoreProvider)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:    cfg,
		Services:  svc,
		Gateway:   gateway,
		Router:    router,
		firestore: firestoreProvider,
		pubsub:    pubsubClient,
	}, nil
}

// Close releases the clients held by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.firestore != nil {
		if err := c.firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildGateway(cfg config.Config, logger *zap.Logger) (payments.Gateway, error) {
	switch cfg.Payments.Provider {
	case config.ProviderStripe:
		paymentsLogger := logger.Named("payments")
		gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:        cfg.Payments.StripeAPIKey,
			WebhookSecret: cfg.Payments.StripeWebhookSecret,
			Clock:         time.Now,
			Logger: func(ctx context.Context, event string, fields map[string]any) {
				zFields := make([]zap.Field, 0, len(fields))
				for k, v := range fields {
					zFields = append(zFields, zap.Any(k, v))
				}
				paymentsLogger.Debug(event, zFields...)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe gateway: %w", err)
		}
		return gateway, nil
	case config.ProviderMock:
		return payments.NewMockGateway(cfg.Payments.MockWebhookSecret, time.Now), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Payments.Provider)
	}
}

func buildRouter(cfg config.Config, logger *zap.Logger, svc Services, gateway payments.Gateway, provider *pfirestore.Provider) (http.Handler, error) {
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		auth.IdentityMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessProbe("firestore", firestoreProbe(provider)),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(handlers.NewCartHandlers(svc.Cart).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(svc.Checkout, svc.Webhooks).Routes),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(gateway, svc.Webhooks).Routes),
	}

	if svc.Recovery != nil {
		if cfg.Security.InternalHMACSecret == "" {
			return nil, errors.New("internal hmac secret is required when recovery endpoints are enabled")
		}
		validator := auth.NewHMACValidator(cfg.Security.InternalHMACSecret,
			auth.WithHMACHeaders(cfg.Security.SignatureHeader, cfg.Security.TimestampHeader),
			auth.WithHMACClockSkew(cfg.Security.ClockSkew),
			auth.WithHMACLogger(observability.NewPrintfAdapter(logger.Named("auth"))),
		)
		opts = append(opts,
			handlers.WithInternalRoutes(handlers.NewRecoveryHandlers(svc.Recovery).Routes),
			handlers.WithInternalMiddlewares(validator.RequireHMAC()),
		)
	}

	return handlers.NewRouter(opts...), nil
}

func firestoreProbe(provider *pfirestore.Provider) handlers.ReadinessProbe {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collections(ctx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}
