package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/artisan-market/api/internal/platform/httpx"
)

const (
	roleClaim            = "role"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired marks an expired Firebase ID token.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid marks a Firebase ID token that failed verification.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// MetricsRecorder counts verification outcomes. kind is firebase, oidc or webhook.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// Authenticator turns Firebase bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier TokenVerifier
	logger   *zap.Logger
	metrics  MetricsRecorder
	now      func() time.Time
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger used for verification failures.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records every verification attempt.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(a *Authenticator) { a.metrics = metrics }
}

// NewAuthenticator wraps verifier for use as chi middleware.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token. When roles are
// given the identity must carry at least one of them. Tokens without a role claim are
// treated as RoleUser.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	required := roleSet(roles...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()
			if a != nil {
				start = a.now()
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				a.record(ctx, false, "token_missing", start)
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			token, err := a.verifier.VerifyIDToken(ctx, raw)
			if err != nil {
				code, message := classifyTokenError(err)
				a.logger.Debug("firebase token rejected", zap.String("reason", code), zap.Error(err))
				a.record(ctx, false, code, start)
				writeAuthError(ctx, w, http.StatusUnauthorized, code, message)
				return
			}

			identity := identityFromToken(token)
			if len(required) > 0 && !hasAnyRole(identity, required) {
				a.record(ctx, false, "insufficient_role", start)
				writeAuthError(ctx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			a.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if a == nil || a.metrics == nil {
		return
	}
	a.metrics.RecordVerification(ctx, "firebase", success, reason, a.now().Sub(start))
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:           strings.TrimSpace(token.UID),
		Email:         stringClaim(token.Claims, "email"),
		DisplayName:   stringClaim(token.Claims, "name"),
		Roles:         rolesClaim(token.Claims[roleClaim]),
		EmailVerified: token.Claims["email_verified"] == true,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleUser}
	}
	return identity
}

func hasAnyRole(identity *Identity, roles []string) bool {
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

// rolesClaim accepts "staff", ["staff","admin"] or {"staff":true}.
func rolesClaim(raw any) []string {
	switch v := raw.(type) {
	case string:
		return roleSet(v)
	case []string:
		return roleSet(v...)
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return roleSet(names...)
	case map[string]any:
		names := make([]string, 0, len(v))
		for name, enabled := range v {
			if enabled == true {
				names = append(names, name)
			}
		}
		return roleSet(names...)
	default:
		return nil
	}
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func classifyTokenError(err error) (code, message string) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return "token_expired", "firebase id token expired"
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return "token_revoked", "firebase session revoked"
	default:
		return "invalid_token", "firebase id token invalid"
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
