package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const iapAssertionHeader = "X-Goog-Iap-Jwt-Assertion"

// ServiceIdentity is the Google service account that called an internal endpoint, such
// as Cloud Scheduler triggering the expiry sweep.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

type serviceIdentityKey struct{}

// WithServiceIdentity attaches a verified service caller to ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the caller installed by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// OIDCValidator checks Google-signed OIDC and IAP tokens against a JWKS cache.
type OIDCValidator struct {
	cache           *JWKSCache
	logger          *zap.Logger
	metrics         MetricsRecorder
	now             func() time.Time
	serviceAccounts map[string]struct{}
}

// OIDCOption customises an OIDCValidator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger sets the logger for rejected tokens.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMetrics records every verification attempt.
func WithOIDCMetrics(metrics MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) { v.metrics = metrics }
}

// WithOIDCClock injects the time source used for latency measurements.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithServiceAccounts limits callers to the given service account emails. Without it any
// verified Google identity for the audience is accepted.
func WithServiceAccounts(emails ...string) OIDCOption {
	return func(v *OIDCValidator) {
		for _, email := range emails {
			if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
				v.serviceAccounts[email] = struct{}{}
			}
		}
	}
}

// NewOIDCValidator builds a validator resolving keys through cache.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{
		cache:           cache,
		logger:          zap.NewNop(),
		now:             time.Now,
		serviceAccounts: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

type oidcRejection struct {
	status  int
	reason  string
	message string
}

// RequireOIDC admits requests bearing a token for audience from one of issuers, read
// from the Authorization header or the IAP assertion header.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()

			identity, rejection := v.verify(ctx, r, audience, allowedIssuers)
			if rejection != nil {
				v.record(ctx, false, rejection.reason, start)
				writeAuthError(ctx, w, rejection.status, "invalid_token", rejection.message)
				return
			}
			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, r *http.Request, audience string, issuers map[string]struct{}) (*ServiceIdentity, *oidcRejection) {
	if audience == "" || len(issuers) == 0 {
		return nil, &oidcRejection{http.StatusServiceUnavailable, "not_configured", "oidc verification not configured"}
	}
	raw := oidcToken(r)
	if raw == "" {
		return nil, &oidcRejection{http.StatusUnauthorized, "token_missing", "oidc token missing"}
	}
	if v.cache == nil {
		return nil, &oidcRejection{http.StatusServiceUnavailable, "jwks_unavailable", "oidc verification unavailable"}
	}

	var claims googleClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return v.cache.Key(ctx, kid)
	})
	if err != nil {
		v.logger.Info("oidc token rejected", zap.Error(err))
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, &oidcRejection{http.StatusServiceUnavailable, "jwks_unavailable", "oidc keys unavailable"}
		}
		return nil, &oidcRejection{http.StatusUnauthorized, "token_invalid", "oidc token verification failed"}
	}

	if _, ok := issuers[claims.Issuer]; !ok {
		v.logger.Info("oidc issuer mismatch", zap.String("issuer", claims.Issuer))
		return nil, &oidcRejection{http.StatusUnauthorized, "issuer_mismatch", "oidc issuer mismatch"}
	}
	if !claims.VerifyAudience(audience, true) {
		v.logger.Info("oidc audience mismatch", zap.Strings("audience", claims.Audience), zap.String("expected", audience))
		return nil, &oidcRejection{http.StatusUnauthorized, "audience_mismatch", "oidc audience mismatch"}
	}
	if len(v.serviceAccounts) > 0 {
		email := strings.ToLower(claims.Email)
		if _, ok := v.serviceAccounts[email]; !ok || !claims.EmailVerified {
			v.logger.Info("oidc caller not allowed", zap.String("email", email))
			return nil, &oidcRejection{http.StatusForbidden, "caller_not_allowed", fmt.Sprintf("caller %q is not allowed", email)}
		}
	}

	return &ServiceIdentity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Issuer:   claims.Issuer,
		Audience: audience,
	}, nil
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
	}
}

func oidcToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.Header.Get(iapAssertionHeader))
}
