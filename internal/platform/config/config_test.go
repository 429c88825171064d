package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "artisan-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "artisan-dev" || cfg.PubSub.ProjectID != "artisan-dev" {
		t.Errorf("expected firestore and pubsub projects to default to firebase project, got %s/%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Payments.Provider != "checkoutpro" || cfg.Payments.Currency != "PEN" {
		t.Errorf("unexpected payment defaults %s/%s", cfg.Payments.Provider, cfg.Payments.Currency)
	}
	if cfg.Payments.SimulationEnabled {
		t.Errorf("simulation must be off by default")
	}
	if cfg.Payments.WebhookSecretName != defaultWebhookSecretName || cfg.Payments.WebhookTolerance != 5*time.Minute {
		t.Errorf("unexpected webhook defaults %s/%s", cfg.Payments.WebhookSecretName, cfg.Payments.WebhookTolerance)
	}
	if cfg.Pricing.TaxRate.String() != "0.18" || cfg.Pricing.ShippingFee.StringFixed(2) != "15.00" {
		t.Errorf("unexpected pricing defaults %s/%s", cfg.Pricing.TaxRate, cfg.Pricing.ShippingFee)
	}
	if !cfg.Pricing.FreeShippingThreshold.IsZero() {
		t.Errorf("expected free shipping disabled, got %s", cfg.Pricing.FreeShippingThreshold)
	}
	if cfg.Holds.Order != 30*time.Minute || cfg.Holds.Ticket != 30*time.Minute {
		t.Errorf("unexpected hold defaults %s/%s", cfg.Holds.Order, cfg.Holds.Ticket)
	}
	if !cfg.Sweep.Enabled || cfg.Sweep.Interval != time.Minute || cfg.Sweep.BatchSize != 100 {
		t.Errorf("unexpected sweep defaults %+v", cfg.Sweep)
	}
	if cfg.Redis.Enabled() || cfg.PubNub.Enabled() {
		t.Errorf("redis and pubnub must be disabled without configuration")
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults %s/%s", cfg.Idempotency.Header, cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                     "9090",
		"API_SERVER_IDLE_TIMEOUT":             "2m",
		"API_FIREBASE_PROJECT_ID":             "artisan-prod",
		"API_FIRESTORE_PROJECT_ID":            "artisan-db",
		"API_REDIS_ADDR":                      "10.0.0.5:6379",
		"API_REDIS_PASSWORD":                  "secret://redis/password",
		"API_REDIS_DB":                        "2",
		"API_PUBSUB_NOTIFICATIONS_TOPIC":      "notify",
		"API_PUBNUB_PUBLISH_KEY":              "pub-c-1",
		"API_PUBNUB_SUBSCRIBE_KEY":            "sub-c-1",
		"API_PUBNUB_SECRET_KEY":               "sm://pubnub/secret",
		"API_PAYMENTS_PROVIDER":               "Stripe",
		"API_PAYMENTS_CURRENCY":               "usd",
		"API_PAYMENTS_STRIPE_API_KEY":         "secret://stripe/api",
		"API_PAYMENTS_WEBHOOK_SECRET":         "secret://payments/webhook",
		"API_PAYMENTS_SIMULATION_ENABLED":     "yes",
		"API_PRICING_TAX_RATE":                "0.16",
		"API_PRICING_SHIPPING_FEE":            "9.90",
		"API_PRICING_FREE_SHIPPING_THRESHOLD": "200",
		"API_HOLDS_ORDER":                     "45m",
		"API_HOLDS_TICKET":                    "10m",
		"API_SWEEP_ENABLED":                   "false",
		"API_NOTIFICATIONS_WORKERS":           "8",
		"API_SECURITY_ENVIRONMENT":            "prod",
		"API_SECURITY_OIDC_AUDIENCES":         "prod=https://api.example.com,stg=https://stg.example.com",
		"API_IDEMPOTENCY_TTL":                 "48h",
		"API_SECURITY_OIDC_SERVICE_ACCOUNTS":  "scheduler@artisan.iam.gserviceaccount.com, ",
		"API_FIREBASE_CHECK_REVOKED":          "true",
	}

	secrets := map[string]string{
		"secret://redis/password":   "redis-pass",
		"secret://pubnub/secret":    "pubnub-secret",
		"secret://stripe/api":       "sk_live_1",
		"secret://payments/webhook": "whsec-1",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if !cfg.PubNub.Enabled() || cfg.PubNub.SecretKey != "pubnub-secret" {
		t.Errorf("expected pubnub enabled with legacy secret scheme resolved, got %+v", cfg.PubNub)
	}
	if cfg.PubSub.ProjectID != "artisan-db" || cfg.PubSub.NotificationsTopic != "notify" {
		t.Errorf("unexpected pubsub config %+v", cfg.PubSub)
	}
	if cfg.Payments.Provider != "stripe" || cfg.Payments.Currency != "USD" {
		t.Errorf("expected normalised provider and currency, got %s/%s", cfg.Payments.Provider, cfg.Payments.Currency)
	}
	if cfg.Payments.StripeAPIKey != "sk_live_1" || cfg.Payments.WebhookSecret != "whsec-1" {
		t.Errorf("expected resolved payment secrets, got %+v", cfg.Payments)
	}
	if !cfg.Payments.SimulationEnabled {
		t.Errorf("expected simulation enabled")
	}
	if cfg.Pricing.TaxRate.String() != "0.16" || cfg.Pricing.FreeShippingThreshold.String() != "200" {
		t.Errorf("unexpected pricing %+v", cfg.Pricing)
	}
	if cfg.Holds.Order != 45*time.Minute || cfg.Holds.Ticket != 10*time.Minute {
		t.Errorf("unexpected holds %+v", cfg.Holds)
	}
	if cfg.Sweep.Enabled {
		t.Errorf("expected sweep disabled")
	}
	if cfg.Notifications.Workers != 8 {
		t.Errorf("unexpected workers %d", cfg.Notifications.Workers)
	}
	if cfg.Security.OIDC.Audience != "https://api.example.com" {
		t.Errorf("expected audience picked by environment, got %s", cfg.Security.OIDC.Audience)
	}
	if len(cfg.Security.OIDC.ServiceAccounts) != 1 || cfg.Security.OIDC.ServiceAccounts[0] != "scheduler@artisan.iam.gserviceaccount.com" {
		t.Errorf("unexpected service accounts %v", cfg.Security.OIDC.ServiceAccounts)
	}
	if !cfg.Firebase.CheckRevoked {
		t.Errorf("expected revocation checks enabled")
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"artisan-dot\"\n# comment\nAPI_FIRESTORE_IN_MEMORY=true\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "artisan-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
	if !cfg.Firestore.InMemory {
		t.Errorf("expected in-memory repositories from dotenv")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":  "artisan-dev",
		"API_PRICING_TAX_RATE":     "eighteen",
		"API_PRICING_SHIPPING_FEE": "-1",
		"API_PAYMENTS_PROVIDER":    "paypal",
		"API_PAYMENTS_CURRENCY":    "SOLES",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"API_PRICING_TAX_RATE": false,
		"Pricing.ShippingFee":  false,
		"Payments.Provider":    false,
		"Payments.Currency":    false,
	}
	for _, field := range validation.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in %v", field, validation.Fields())
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":     "artisan-dev",
		"API_PAYMENTS_WEBHOOK_SECRET": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "artisan-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.WebhookSecret"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Payments.WebhookSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "artisan-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Payments.WebhookSecret" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.WebhookSecret"),
		WithPanicOnMissingSecrets(),
	)
}
