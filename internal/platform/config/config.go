package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 20 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultPaymentProvider      = "checkoutpro"
	defaultCurrency             = "PEN"
	defaultWebhookSecretName    = "payments/webhook"
	defaultWebhookTolerance     = 5 * time.Minute
	defaultTaxRate              = "0.18"
	defaultShippingFee          = "15.00"
	defaultOrderHold            = 30 * time.Minute
	defaultTicketHold           = 30 * time.Minute
	defaultSweepInterval        = time.Minute
	defaultSweepBatchSize       = 100
	defaultNotificationQueue    = 256
	defaultNotificationWorkers  = 4
	defaultNotificationTimeout  = 10 * time.Second
	defaultNotificationsTopic   = "commerce-notifications"
	defaultPubNubUserID         = "artisan-api"
	defaultPubNubChannelPrefix  = "user-"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Redis         RedisConfig
	PubSub        PubSubConfig
	PubNub        PubNubConfig
	Payments      PaymentsConfig
	Pricing       PricingConfig
	Holds         HoldsConfig
	Sweep         SweepConfig
	Notifications NotificationsConfig
	Idempotency   IdempotencyConfig
	Security      SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string

	// CheckRevoked rejects ID tokens of revoked sessions and disabled users.
	CheckRevoked bool
}

// FirestoreConfig stores database parameters. InMemory swaps every repository for the
// process-local store, which is only suitable for local development.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	InMemory     bool
}

// RedisConfig locates the idempotency cache. An empty Addr falls back to Firestore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// PubSubConfig names the topic notifications are forwarded to. Empty disables the sink.
type PubSubConfig struct {
	ProjectID          string
	NotificationsTopic string
}

// PubNubConfig holds realtime keys. Missing keys disable the sink.
type PubNubConfig struct {
	PublishKey    string
	SubscribeKey  string
	SecretKey     string
	UserID        string
	ChannelPrefix string
}

// Enabled reports whether both PubNub keys are present.
func (c PubNubConfig) Enabled() bool {
	return strings.TrimSpace(c.PublishKey) != "" && strings.TrimSpace(c.SubscribeKey) != ""
}

// PaymentsConfig selects the hosted checkout gateway and its callbacks.
type PaymentsConfig struct {
	Provider               string
	Currency               string
	CheckoutProAccessToken string
	CheckoutProBaseURL     string
	StripeAPIKey           string
	StripeAccountID        string
	WebhookSecretName      string
	WebhookSecret          string
	WebhookTolerance       time.Duration
	SimulationEnabled      bool
	SuccessURL             string
	FailureURL             string
	PendingURL             string
	NotificationURL        string
}

// PricingConfig drives order totals. A zero FreeShippingThreshold disables free shipping.
type PricingConfig struct {
	TaxRate               decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

// HoldsConfig bounds how long unpaid orders and tickets keep their stock or seat.
type HoldsConfig struct {
	Order  time.Duration
	Ticket time.Duration
}

// SweepConfig controls the in-process expiry sweeper.
type SweepConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// NotificationsConfig sizes the asynchronous dispatcher.
type NotificationsConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string

	// ServiceAccounts, when set, is the allowlist of caller emails (e.g. Cloud Scheduler).
	ServiceAccounts []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// Snapshot captures the resolved environment values used during loading so callers can construct
// dependent components (e.g., secret fetcher) with the same inputs.
type Snapshot struct {
	EnvFile         string
	Values          map[string]string
	ResolvedSecrets map[string]string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "Payments.WebhookSecret").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string
	decimalField := func(key, fallback string) decimal.Decimal {
		value, ok := decimalWithDefault(lookup, key, fallback)
		if !ok {
			invalid = append(invalid, key)
		}
		return value
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			LogLevel:        stringWithDefault(lookup, "API_LOG_LEVEL", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    boolWithDefault(lookup, "API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			InMemory:     boolWithDefault(lookup, "API_FIRESTORE_IN_MEMORY", false),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:          stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			NotificationsTopic: stringWithDefault(lookup, "API_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
		},
		PubNub: PubNubConfig{
			PublishKey:    stringWithDefault(lookup, "API_PUBNUB_PUBLISH_KEY", ""),
			SubscribeKey:  stringWithDefault(lookup, "API_PUBNUB_SUBSCRIBE_KEY", ""),
			SecretKey:     stringWithDefault(lookup, "API_PUBNUB_SECRET_KEY", ""),
			UserID:        stringWithDefault(lookup, "API_PUBNUB_USER_ID", defaultPubNubUserID),
			ChannelPrefix: stringWithDefault(lookup, "API_PUBNUB_CHANNEL_PREFIX", defaultPubNubChannelPrefix),
		},
		Payments: PaymentsConfig{
			Provider:               strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_PROVIDER", defaultPaymentProvider)),
			Currency:               strings.ToUpper(stringWithDefault(lookup, "API_PAYMENTS_CURRENCY", defaultCurrency)),
			CheckoutProAccessToken: stringWithDefault(lookup, "API_PAYMENTS_CHECKOUTPRO_ACCESS_TOKEN", ""),
			CheckoutProBaseURL:     stringWithDefault(lookup, "API_PAYMENTS_CHECKOUTPRO_BASE_URL", ""),
			StripeAPIKey:           stringWithDefault(lookup, "API_PAYMENTS_STRIPE_API_KEY", ""),
			StripeAccountID:        stringWithDefault(lookup, "API_PAYMENTS_STRIPE_ACCOUNT_ID", ""),
			WebhookSecretName:      stringWithDefault(lookup, "API_PAYMENTS_WEBHOOK_SECRET_NAME", defaultWebhookSecretName),
			WebhookSecret:          stringWithDefault(lookup, "API_PAYMENTS_WEBHOOK_SECRET", ""),
			WebhookTolerance:       durationWithDefault(lookup, "API_PAYMENTS_WEBHOOK_TOLERANCE", defaultWebhookTolerance),
			SimulationEnabled:      boolWithDefault(lookup, "API_PAYMENTS_SIMULATION_ENABLED", false),
			SuccessURL:             stringWithDefault(lookup, "API_PAYMENTS_SUCCESS_URL", ""),
			FailureURL:             stringWithDefault(lookup, "API_PAYMENTS_FAILURE_URL", ""),
			PendingURL:             stringWithDefault(lookup, "API_PAYMENTS_PENDING_URL", ""),
			NotificationURL:        stringWithDefault(lookup, "API_PAYMENTS_NOTIFICATION_URL", ""),
		},
		Pricing: PricingConfig{
			TaxRate:               decimalField("API_PRICING_TAX_RATE", defaultTaxRate),
			ShippingFee:           decimalField("API_PRICING_SHIPPING_FEE", defaultShippingFee),
			FreeShippingThreshold: decimalField("API_PRICING_FREE_SHIPPING_THRESHOLD", "0"),
		},
		Holds: HoldsConfig{
			Order:  durationWithDefault(lookup, "API_HOLDS_ORDER", defaultOrderHold),
			Ticket: durationWithDefault(lookup, "API_HOLDS_TICKET", defaultTicketHold),
		},
		Sweep: SweepConfig{
			Enabled:   boolWithDefault(lookup, "API_SWEEP_ENABLED", true),
			Interval:  durationWithDefault(lookup, "API_SWEEP_INTERVAL", defaultSweepInterval),
			BatchSize: intWithDefault(lookup, "API_SWEEP_BATCH_SIZE", defaultSweepBatchSize),
		},
		Notifications: NotificationsConfig{
			QueueSize:   intWithDefault(lookup, "API_NOTIFICATIONS_QUEUE_SIZE", defaultNotificationQueue),
			Workers:     intWithDefault(lookup, "API_NOTIFICATIONS_WORKERS", defaultNotificationWorkers),
			SendTimeout: durationWithDefault(lookup, "API_NOTIFICATIONS_SEND_TIMEOUT", defaultNotificationTimeout),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),

				ServiceAccounts: csvWithDefault(lookup, "API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}

	envKey := strings.ToLower(cfg.Security.Environment)
	if cfg.Security.OIDC.Audience == "" && cfg.Security.OIDC.Audiences != nil {
		if audience, ok := cfg.Security.OIDC.Audiences[envKey]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.CheckoutProAccessToken", &cfg.Payments.CheckoutProAccessToken},
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
		{"Payments.WebhookSecret", &cfg.Payments.WebhookSecret},
		{"Redis.Password", &cfg.Redis.Password},
		{"PubNub.SecretKey", &cfg.PubNub.SecretKey},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" && !cfg.Firestore.InMemory {
		missing = append(missing, "Firestore.ProjectID")
	}
	switch cfg.Payments.Provider {
	case "checkoutpro", "stripe":
	default:
		missing = append(missing, "Payments.Provider")
	}
	if len(cfg.Payments.Currency) != 3 {
		missing = append(missing, "Payments.Currency")
	}
	if strings.TrimSpace(cfg.Payments.WebhookSecretName) == "" {
		missing = append(missing, "Payments.WebhookSecretName")
	}
	if cfg.Pricing.TaxRate.IsNegative() {
		missing = append(missing, "Pricing.TaxRate")
	}
	if cfg.Pricing.ShippingFee.IsNegative() {
		missing = append(missing, "Pricing.ShippingFee")
	}
	if cfg.Pricing.FreeShippingThreshold.IsNegative() {
		missing = append(missing, "Pricing.FreeShippingThreshold")
	}
	if cfg.Holds.Order <= 0 {
		missing = append(missing, "Holds.Order")
	}
	if cfg.Holds.Ticket <= 0 {
		missing = append(missing, "Holds.Ticket")
	}
	if cfg.Sweep.Enabled && cfg.Sweep.Interval <= 0 {
		missing = append(missing, "Sweep.Interval")
	}
	if cfg.Notifications.QueueSize <= 0 {
		missing = append(missing, "Notifications.QueueSize")
	}
	if cfg.Notifications.Workers <= 0 {
		missing = append(missing, "Notifications.Workers")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		secret := strings.TrimSpace(parts[1])
		if name == "" || secret == "" {
			continue
		}
		values[name] = secret
	}
	return values
}

func decimalWithDefault(lookup func(string) (string, bool), key, fallback string) (decimal.Decimal, bool) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return decimal.RequireFromString(fallback), false
		}
		return parsed, true
	}
	return decimal.RequireFromString(fallback), true
}
