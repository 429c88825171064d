package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artisan-market/api/internal/payments"
	"github.com/artisan-market/api/internal/platform/config"
	"github.com/artisan-market/api/internal/repositories"
	"github.com/artisan-market/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Payments is nil
// when no gateway credentials are configured.
type Services struct {
	Cart     services.CartService
	Coupons  services.CouponService
	Builder  services.OrderBuilder
	Orders   services.OrderService
	Tickets  services.TicketService
	Payments services.PaymentService
	Sweeper  services.ExpirySweeper
	System   services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	dispatcher *services.AsyncNotificationDispatcher
}

const (
	readinessCacheTTL = 2 * time.Second
	// An in-process sweep is stale once it has missed this many intervals.
	sweepStaleFactor = 3
)

// Option customises container construction.
type Option func(*options)

type options struct {
	sinks        []services.NotificationSink
	metrics      services.Metrics
	logger       services.Logger
	gateway      services.PaymentGateway
	healthChecks []repositories.DependencyCheck
	build        services.BuildInfo
	clock        func() time.Time
	newID        func() string
}

// WithNotificationSinks registers the sinks the dispatcher fans out to.
func WithNotificationSinks(sinks ...services.NotificationSink) Option {
	return func(o *options) {
		for _, sink := range sinks {
			if sink != nil {
				o.sinks = append(o.sinks, sink)
			}
		}
	}
}

// WithMetrics wires business counters.
func WithMetrics(metrics services.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithLogger wires the service event logger.
func WithLogger(logger services.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPaymentGateway overrides the gateway built from configuration.
func WithPaymentGateway(gateway services.PaymentGateway) Option {
	return func(o *options) {
		o.gateway = gateway
	}
}

// WithHealthChecks adds dependency probes to the readiness report.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *options) {
		o.healthChecks = append(o.healthChecks, checks...)
	}
}

// WithBuildInfo sets the version metadata exposed by health endpoints.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) {
		o.build = info
	}
}

// WithClock overrides the clock shared by all services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithIDGenerator overrides the id generator shared by all services.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		o.newID = gen
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry; local runs and tests supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.gateway == nil {
		gateway, err := buildGateway(cfg.Payments, o.logger)
		if err != nil {
			return nil, err
		}
		if gateway != nil {
			o.gateway = gateway
		}
	}

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Sinks:       o.sinks,
		QueueSize:   cfg.Notifications.QueueSize,
		Workers:     cfg.Notifications.Workers,
		SendTimeout: cfg.Notifications.SendTimeout,
		Metrics:     o.metrics,
		Logger:      o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build notification dispatcher: %w", err)
	}

	svc, err := buildServices(ctx, cfg, reg, dispatcher, o)
	if err != nil {
		_ = dispatcher.Close(ctx)
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		dispatcher:   dispatcher,
	}, nil
}

// Close drains pending notifications, then releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notification dispatcher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, dispatcher services.NotificationDispatcher, o options) (Services, error) {
	var svc Services
	currency := strings.ToUpper(strings.TrimSpace(cfg.Payments.Currency))

	stock, err := services.NewStockLedger(services.StockLedgerDeps{
		Listings: reg.Listings(),
		Clock:    o.clock,
		Logger:   o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}

	calculator := services.NewCommissionCalculator(services.CommissionCalculatorDeps{
		IDGenerator: o.newID,
		Clock:       o.clock,
	})

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:      reg.Carts(),
		Listings:   reg.Listings(),
		UnitOfWork: reg,
		Clock:      o.clock,
		Logger:     o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons:     reg.Coupons(),
		Orders:      reg.Orders(),
		UnitOfWork:  reg,
		Clock:       o.clock,
		IDGenerator: o.newID,
		Logger:      o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	builder, err := services.NewOrderBuilder(services.OrderBuilderDeps{
		Listings:    reg.Listings(),
		Carts:       reg.Carts(),
		Orders:      reg.Orders(),
		Counters:    reg.Counters(),
		Referrals:   reg.Referrals(),
		Stock:       stock,
		Coupons:     couponSvc,
		UnitOfWork:  reg,
		Pricing:     pricingPolicy(cfg),
		Currency:    currency,
		Clock:       o.clock,
		IDGenerator: o.newID,
		Metrics:     o.metrics,
		Logger:      o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order builder: %w", err)
	}
	svc.Builder = builder

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:            reg.Orders(),
		Commissions:       reg.Commissions(),
		Referrals:         reg.Referrals(),
		Stock:             stock,
		Calculator:        calculator,
		UnitOfWork:        reg,
		Notifications:     dispatcher,
		Metrics:           o.metrics,
		SimulationEnabled: cfg.Payments.SimulationEnabled,
		Clock:             o.clock,
		IDGenerator:       o.newID,
		Logger:            o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	ticketSvc, err := services.NewTicketService(services.TicketServiceDeps{
		Shows:             reg.Shows(),
		Tickets:           reg.Tickets(),
		Commissions:       reg.Commissions(),
		Calculator:        calculator,
		UnitOfWork:        reg,
		Notifications:     dispatcher,
		Metrics:           o.metrics,
		HoldDuration:      cfg.Holds.Ticket,
		Currency:          currency,
		SimulationEnabled: cfg.Payments.SimulationEnabled,
		Clock:             o.clock,
		IDGenerator:       o.newID,
		Logger:            o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build ticket service: %w", err)
	}
	svc.Tickets = ticketSvc

	if o.gateway != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Gateway:       o.gateway,
			Orders:        reg.Orders(),
			Tickets:       reg.Tickets(),
			Shows:         reg.Shows(),
			PaymentEvents: reg.PaymentEvents(),
			OrderService:  orderSvc,
			TicketService: ticketSvc,
			URLs: services.PaymentURLs{
				Success:      cfg.Payments.SuccessURL,
				Failure:      cfg.Payments.FailureURL,
				Pending:      cfg.Payments.PendingURL,
				Notification: cfg.Payments.NotificationURL,
			},
			Clock:       o.clock,
			IDGenerator: o.newID,
			Logger:      o.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	sweeper, err := services.NewExpirySweeper(services.ExpirySweeperDeps{
		Orders:        reg.Orders(),
		Tickets:       reg.Tickets(),
		OrderService:  orderSvc,
		TicketService: ticketSvc,
		BatchSize:     cfg.Sweep.BatchSize,
		Metrics:       o.metrics,
		Clock:         o.clock,
		Logger:        o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build expiry sweeper: %w", err)
	}
	svc.Sweeper = sweeper

	checks := o.healthChecks
	if len(checks) == 0 {
		checks = []repositories.DependencyCheck{{
			Name:     "repositories",
			Critical: true,
			Check: func(ctx context.Context) error {
				_, err := reg.Carts().Get(ctx, "healthcheck")
				return err
			},
		}}
	}
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	build := o.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	sysDeps := services.SystemServiceDeps{
		HealthRepository: healthRepo,
		CacheTTL:         readinessCacheTTL,
		Clock:            o.clock,
		Build:            build,
	}
	if monitor, ok := sweeper.(services.SweepMonitor); ok && cfg.Sweep.Enabled && cfg.Sweep.Interval > 0 {
		sysDeps.Sweeps = monitor
		sysDeps.SweepStaleAfter = sweepStaleFactor * cfg.Sweep.Interval
	}
	systemSvc, err := services.NewSystemService(sysDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func pricingPolicy(cfg config.Config) services.PricingPolicy {
	policy := services.DefaultPricingPolicy()
	if !cfg.Pricing.TaxRate.IsZero() {
		policy.TaxRate = cfg.Pricing.TaxRate
	}
	if !cfg.Pricing.ShippingFee.IsZero() {
		policy.ShippingFee = cfg.Pricing.ShippingFee
	}
	if cfg.Pricing.FreeShippingThreshold.GreaterThan(decimal.Zero) {
		threshold := cfg.Pricing.FreeShippingThreshold
		policy.FreeShippingThreshold = &threshold
	}
	if cfg.Holds.Order > 0 {
		policy.HoldDuration = cfg.Holds.Order
	}
	return policy
}

// buildGateway registers every provider with credentials. It returns nil when none are
// configured so the payment endpoints report themselves unavailable.
func buildGateway(cfg config.PaymentsConfig, logger services.Logger) (services.PaymentGateway, error) {
	providers := make(map[string]payments.Provider, 2)
	if token := strings.TrimSpace(cfg.CheckoutProAccessToken); token != "" {
		provider, err := payments.NewCheckoutProProvider(payments.CheckoutProConfig{
			AccessToken: token,
			BaseURL:     cfg.CheckoutProBaseURL,
			Logger:      payments.CheckoutProLogger(logger),
		})
		if err != nil {
			return nil, fmt.Errorf("build checkout pro provider: %w", err)
		}
		providers[payments.CheckoutProName] = provider
	}
	if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
		provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    key,
			AccountID: cfg.StripeAccountID,
			Logger:    payments.StripeLogger(logger),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[payments.StripeName] = provider
	}
	if len(providers) == 0 {
		return nil, nil
	}

	var opts []payments.ManagerOption
	if preferred := strings.ToLower(strings.TrimSpace(cfg.Provider)); preferred != "" {
		if _, ok := providers[preferred]; ok {
			opts = append(opts, payments.WithDefaultProvider(preferred))
		}
	}
	manager, err := payments.NewManager(providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}
