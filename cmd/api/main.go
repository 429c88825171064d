package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/artisan-market/api/internal/di"
	"github.com/artisan-market/api/internal/handlers"
	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/platform/config"
	pfirestore "github.com/artisan-market/api/internal/platform/firestore"
	"github.com/artisan-market/api/internal/platform/idempotency"
	"github.com/artisan-market/api/internal/platform/jobs"
	"github.com/artisan-market/api/internal/platform/observability"
	"github.com/artisan-market/api/internal/platform/secrets"
	"github.com/artisan-market/api/internal/repositories"
	firestoreRepo "github.com/artisan-market/api/internal/repositories/firestore"
	"github.com/artisan-market/api/internal/repositories/memory"
	"github.com/artisan-market/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var (
		repoRegistry      repositories.Registry
		firestoreProvider *pfirestore.Provider
		firestoreClient   *firestore.Client
	)
	if cfg.Firestore.InMemory {
		logger.Warn("using in-memory repositories; data is lost on restart")
		repoRegistry = memory.NewStore()
	} else {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		firestoreClient, err = firestoreProvider.Client(ctx)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		repoRegistry = firestoreRepo.NewRegistry(firestoreProvider)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	sinks, closeSinks, err := buildNotificationSinks(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise notification sinks", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, repoRegistry,
		di.WithNotificationSinks(sinks...),
		di.WithMetrics(metrics),
		di.WithLogger(observability.ServiceLogger(logger.Named("services"))),
		di.WithHealthChecks(dependencyChecks(firestoreProvider, redisClient, fetcher)...),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	svc := container.Services
	if svc.Payments == nil {
		logger.Warn("no payment gateway credentials configured; payment endpoints are disabled")
	}

	idempotencyStore := newIdempotencyStore(firestoreClient, redisClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupLogger := logger.Named("idempotency")
		runEvery(backgroundCtx, &backgroundWG, cfg.Idempotency.CleanupInterval, func(runCtx context.Context) {
			removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
			if err != nil {
				cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
				return
			}
			if removed > 0 {
				cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		})
	}
	if cfg.Sweep.Enabled && cfg.Sweep.Interval > 0 {
		sweepLogger := logger.Named("sweeper")
		runEvery(backgroundCtx, &backgroundWG, cfg.Sweep.Interval, func(runCtx context.Context) {
			result, err := svc.Sweeper.Sweep(runCtx)
			if err != nil {
				sweepLogger.Error("expiry sweep error", zap.Error(err))
				return
			}
			if result.OrdersExpired > 0 || result.TicketsExpired > 0 || result.Failures > 0 {
				sweepLogger.Info("expiry sweep completed",
					zap.Int("orders_expired", result.OrdersExpired),
					zap.Int("tickets_expired", result.TicketsExpired),
					zap.Int("failures", result.Failures),
				)
			}
		})
	}

	var firebaseOpts []auth.FirebaseOption
	if cfg.Firebase.CheckRevoked {
		firebaseOpts = append(firebaseOpts, auth.WithRevocationCheck())
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseOpts...)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier,
		auth.WithLogger(logger.Named("auth")),
		auth.WithMetrics(metrics),
	)

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, metrics)
	webhookMiddleware := buildWebhookMiddleware(logger.Named("auth"), cfg, envValues, fetcher, metrics)

	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart).WithIdempotency(idempotencyMiddleware)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Builder, svc.Orders, svc.Payments).WithIdempotency(idempotencyMiddleware)
	ticketHandlers := handlers.NewTicketHandlers(authenticator, svc.Tickets, svc.Payments).WithIdempotency(idempotencyMiddleware)
	couponHandlers := handlers.NewCouponHandlers(svc.Coupons)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Orders, svc.Coupons, svc.Tickets)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments)
	internalHandlers := handlers.NewInternalHandlers(svc.Sweeper)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		metrics.HTTPMiddleware,
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithRoutes(handlers.GroupCart, cartHandlers.Routes),
		handlers.WithRoutes(handlers.GroupOrders, orderHandlers.Routes),
		handlers.WithRoutes(handlers.GroupCoupons, couponHandlers.Routes),
		handlers.WithRoutes(handlers.GroupShows, ticketHandlers.ShowRoutes),
		handlers.WithRoutes(handlers.GroupTickets, ticketHandlers.Routes),
		handlers.WithRoutes(handlers.GroupAdmin, adminHandlers.Routes),
		handlers.WithRoutes(handlers.GroupWebhooks, webhookHandlers.Routes),
		handlers.WithRoutes(handlers.GroupInternal, internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithGroupMiddleware(handlers.GroupInternal, oidcMiddleware))
	}
	if webhookMiddleware != nil {
		opts = append(opts, handlers.WithGroupMiddleware(handlers.GroupWebhooks, webhookMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("artisan api listening", zap.String("version", buildInfo.Version), zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	backgroundCancel()
	backgroundWG.Wait()

	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
	closeSinks()
	if err := firestoreProvider.Close(shutdownCtx); err != nil {
		logger.Warn("firestore close error", zap.Error(err))
	}
}

// runEvery invokes fn on every tick until ctx is cancelled.
func runEvery(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, time.Minute)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func newIdempotencyStore(client *firestore.Client, redisClient *redis.Client) idempotency.Store {
	switch {
	case redisClient != nil:
		return idempotency.NewRedisStore(redisClient)
	case client != nil:
		return idempotency.NewFirestoreStore(client)
	default:
		return idempotency.NewMemoryStore()
	}
}

// buildNotificationSinks connects the Pub/Sub and PubNub sinks that are configured. The
// returned func stops the Pub/Sub topic after the dispatcher has drained.
func buildNotificationSinks(ctx context.Context, logger *zap.Logger, cfg config.Config) ([]services.NotificationSink, func(), error) {
	var sinks []services.NotificationSink
	closers := make([]func(), 0, 2)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	topicName := strings.TrimSpace(cfg.PubSub.NotificationsTopic)
	if topicName != "" && strings.TrimSpace(cfg.PubSub.ProjectID) != "" && !cfg.Firestore.InMemory {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, closeAll, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(topicName)
		closers = append(closers, func() {
			topic.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		})
		publisher, err := jobs.NewPubSubNotificationPublisher(topic)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, publisher)
	}

	if cfg.PubNub.Enabled() {
		channel, err := jobs.NewPubNubChannelPublisher(cfg.PubNub.UserID, cfg.PubNub.PublishKey, cfg.PubNub.SubscribeKey, cfg.PubNub.SecretKey)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		notifier, err := jobs.NewRealtimeNotifier(channel, cfg.PubNub.ChannelPrefix)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, notifier)
	}

	if len(sinks) == 0 {
		logger.Warn("no notification sinks configured; buyer and seller notifications are dropped")
	}
	return sinks, closeAll, nil
}

func dependencyChecks(provider *pfirestore.Provider, redisClient *redis.Client, fetcher *secrets.Fetcher) []repositories.DependencyCheck {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check:    provider.Ping,
		})
	}
	if redisClient != nil {
		r := redisClient
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return r.Ping(ctx).Err()
			},
		})
	}
	if fetcher != nil && provider != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return checks
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger = logger.Named("oidc")
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCMetrics(metrics),
		auth.WithServiceAccounts(cfg.Security.OIDC.ServiceAccounts...),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

// buildWebhookMiddleware verifies gateway signatures. The secret is bound by its raw
// reference so rotations in Secret Manager apply without a restart.
func buildWebhookMiddleware(logger *zap.Logger, cfg config.Config, env map[string]string, fetcher *secrets.Fetcher, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	ref := strings.TrimSpace(env["API_PAYMENTS_WEBHOOK_SECRET"])
	if ref == "" {
		ref = strings.TrimSpace(cfg.Payments.WebhookSecret)
	}
	if ref == "" {
		if cfg.Security.Environment != "local" {
			logger.Fatal("payment webhook secret is required outside local environments")
		}
		logger.Warn("auth: payment webhook signatures are not verified")
		return nil
	}

	name := cfg.Payments.WebhookSecretName
	provider := fetcher.Named(map[string]string{name: ref})
	verifier := auth.NewWebhookSignatureVerifier(provider,
		auth.WithWebhookLogger(logger.Named("webhooks")),
		auth.WithWebhookMetrics(metrics),
		auth.WithWebhookTolerance(cfg.Payments.WebhookTolerance),
	)
	return verifier.RequireSignature(name)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve before the server starts.
// Local runs tolerate missing gateway credentials.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment == "" || environment == "local" {
		return nil
	}
	required := []string{"Payments.WebhookSecret"}
	switch strings.ToLower(strings.TrimSpace(env["API_PAYMENTS_PROVIDER"])) {
	case "stripe":
		required = append(required, "Payments.StripeAPIKey")
	default:
		required = append(required, "Payments.CheckoutProAccessToken")
	}
	if strings.TrimSpace(env["API_REDIS_ADDR"]) != "" && strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
