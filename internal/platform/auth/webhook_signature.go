package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWebhookSignatureHeader = "X-Signature"
	defaultWebhookRequestIDHeader = "X-Request-Id"
	defaultWebhookTolerance       = 5 * time.Minute
	maxWebhookBodyBytes           = 1 << 20
)

var (
	// ErrSignatureMalformed indicates the signature header could not be parsed.
	ErrSignatureMalformed = errors.New("auth: webhook signature malformed")
	// ErrSignatureMismatch indicates the computed digest does not match the header.
	ErrSignatureMismatch = errors.New("auth: webhook signature mismatch")
	// ErrSignatureExpired indicates the signed timestamp is outside the tolerance window.
	ErrSignatureExpired = errors.New("auth: webhook signature outside tolerance")
)

// SecretProvider resolves shared secrets used for webhook verification.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// WebhookSignature is the parsed form of `ts=<unix>,v1=<hex>`.
type WebhookSignature struct {
	Timestamp time.Time
	RawTS     string
	Digest    []byte
}

// ParseWebhookSignature parses the gateway signature header. Unknown keys are ignored.
func ParseWebhookSignature(header string) (WebhookSignature, error) {
	var sig WebhookSignature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			sig.RawTS = strings.TrimSpace(value)
		case "v1":
			digest, err := hex.DecodeString(strings.TrimSpace(value))
			if err != nil {
				return WebhookSignature{}, fmt.Errorf("%w: v1 is not hex", ErrSignatureMalformed)
			}
			sig.Digest = digest
		}
	}
	if sig.RawTS == "" || len(sig.Digest) == 0 {
		return WebhookSignature{}, fmt.Errorf("%w: ts and v1 are required", ErrSignatureMalformed)
	}
	seconds, err := strconv.ParseInt(sig.RawTS, 10, 64)
	if err != nil {
		return WebhookSignature{}, fmt.Errorf("%w: ts is not a unix timestamp", ErrSignatureMalformed)
	}
	sig.Timestamp = time.Unix(seconds, 0).UTC()
	return sig, nil
}

// WebhookManifest builds the signed message for a notification.
func WebhookManifest(dataID, requestID, ts string) string {
	return "id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"
}

// SignWebhook returns the header value a gateway would send for the given inputs.
func SignWebhook(secret []byte, dataID, requestID string, ts time.Time) string {
	raw := strconv.FormatInt(ts.Unix(), 10)
	digest := computeHMAC(secret, []byte(WebhookManifest(dataID, requestID, raw)))
	return "ts=" + raw + ",v1=" + hex.EncodeToString(digest)
}

// WebhookSignatureVerifier authenticates payment gateway notifications before any
// handler reads mutable state.
type WebhookSignatureVerifier struct {
	provider SecretProvider

	logger  *zap.Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	requestIDHeader string
	tolerance       time.Duration

	secretCache sync.Map
}

// WebhookOption customises the verifier.
type WebhookOption func(*WebhookSignatureVerifier)

// NewWebhookSignatureVerifier builds a verifier resolving secrets from provider.
func NewWebhookSignatureVerifier(provider SecretProvider, opts ...WebhookOption) *WebhookSignatureVerifier {
	v := &WebhookSignatureVerifier{
		provider:        provider,
		logger:          zap.NewNop(),
		now:             time.Now,
		signatureHeader: defaultWebhookSignatureHeader,
		requestIDHeader: defaultWebhookRequestIDHeader,
		tolerance:       defaultWebhookTolerance,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithWebhookLogger overrides the verifier logger.
func WithWebhookLogger(logger *zap.Logger) WebhookOption {
	return func(v *WebhookSignatureVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithWebhookMetrics sets the metrics recorder.
func WithWebhookMetrics(metrics MetricsRecorder) WebhookOption {
	return func(v *WebhookSignatureVerifier) {
		v.metrics = metrics
	}
}

// WithWebhookClock injects a custom clock, primarily for tests.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(v *WebhookSignatureVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithWebhookTolerance bounds the accepted timestamp age. Zero or negative disables the check.
func WithWebhookTolerance(d time.Duration) WebhookOption {
	return func(v *WebhookSignatureVerifier) {
		v.tolerance = d
	}
}

// WithWebhookHeaders customises the signature and request id header names.
func WithWebhookHeaders(signature, requestID string) WebhookOption {
	return func(v *WebhookSignatureVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if requestID != "" {
			v.requestIDHeader = requestID
		}
	}
}

// Verify checks a signature header against the data id and request id.
func (v *WebhookSignatureVerifier) Verify(secret []byte, header, dataID, requestID string) error {
	sig, err := ParseWebhookSignature(header)
	if err != nil {
		return err
	}
	if v.tolerance > 0 {
		if skew := v.now().Sub(sig.Timestamp); skew > v.tolerance || skew < -v.tolerance {
			return ErrSignatureExpired
		}
	}
	expected := computeHMAC(secret, []byte(WebhookManifest(dataID, requestID, sig.RawTS)))
	if !hmac.Equal(sig.Digest, expected) {
		return ErrSignatureMismatch
	}
	return nil
}

// RequireSignature rejects requests whose signature does not verify with the named secret.
func (v *WebhookSignatureVerifier) RequireSignature(secretName string) func(http.Handler) http.Handler {
	scoped := strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			if scoped == "" {
				v.record(ctx, false, "secret_not_configured", start)
				writeAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret not configured")
				return
			}
			secret, err := v.loadSecret(ctx, scoped)
			if err != nil {
				v.logger.Error("webhook secret lookup failed", zap.String("secret", scoped), zap.Error(err))
				v.record(ctx, false, "secret_unavailable", start)
				writeAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret unavailable")
				return
			}

			header := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			if header == "" {
				v.record(ctx, false, "signature_missing", start)
				writeAuthError(ctx, w, http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				v.record(ctx, false, "body_unreadable", start)
				writeAuthError(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}

			dataID := WebhookDataID(r, body)
			requestID := strings.TrimSpace(r.Header.Get(v.requestIDHeader))
			if err := v.Verify(secret, header, dataID, requestID); err != nil {
				reason := "signature_mismatch"
				switch {
				case errors.Is(err, ErrSignatureMalformed):
					reason = "signature_malformed"
				case errors.Is(err, ErrSignatureExpired):
					reason = "signature_expired"
				}
				v.record(ctx, false, reason, start)
				writeAuthError(ctx, w, http.StatusUnauthorized, reason, "signature verification failed")
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookDataID extracts the notified resource id from the `data.id` query parameter,
// falling back to the JSON body.
func WebhookDataID(r *http.Request, body []byte) string {
	if id := strings.TrimSpace(r.URL.Query().Get("data.id")); id != "" {
		return id
	}
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Data struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Data.ID) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(payload.Data.ID, &str); err == nil {
		return strings.TrimSpace(str)
	}
	var num json.Number
	if err := json.Unmarshal(payload.Data.ID, &num); err == nil {
		return num.String()
	}
	return ""
}

func (v *WebhookSignatureVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "webhook", success, reason, v.now().Sub(start))
}

func (v *WebhookSignatureVerifier) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	if cached, ok := v.secretCache.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	secret := []byte(strings.TrimSpace(raw))
	if len(secret) == 0 {
		return nil, errors.New("auth: secret is empty")
	}
	v.secretCache.Store(name, secret)
	return secret, nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func computeHMAC(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
