package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type mapSecretProvider map[string]string

func (m mapSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := m[name]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

const webhookSecretName = "payments/webhook"

func newTestWebhookVerifier(now time.Time, metrics MetricsRecorder) *WebhookSignatureVerifier {
	return NewWebhookSignatureVerifier(mapSecretProvider{webhookSecretName: "whsec-test"},
		WithWebhookLogger(zap.NewNop()),
		WithWebhookClock(func() time.Time { return now }),
		WithWebhookMetrics(metrics),
	)
}

func TestParseWebhookSignature(t *testing.T) {
	sig, err := ParseWebhookSignature(" ts=1700000000 , v1=0a0b ,v2=ignored")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sig.RawTS != "1700000000" || sig.Timestamp.Unix() != 1700000000 || len(sig.Digest) != 2 {
		t.Fatalf("unexpected signature %+v", sig)
	}

	for _, header := range []string{"", "ts=1700000000", "v1=abcd", "ts=yesterday,v1=abcd", "ts=1700000000,v1=zz"} {
		if _, err := ParseWebhookSignature(header); !errors.Is(err, ErrSignatureMalformed) {
			t.Fatalf("%q: expected ErrSignatureMalformed, got %v", header, err)
		}
	}
}

func TestWebhookManifestFormat(t *testing.T) {
	got := WebhookManifest("123", "req-9", "1700000000")
	if got != "id:123;request-id:req-9;ts:1700000000;" {
		t.Fatalf("unexpected manifest %q", got)
	}
}

func TestRequireSignature_AcceptsValidSignature(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	metrics := &recordingMetrics{}
	verifier := newTestWebhookVerifier(now, metrics)

	body := []byte(`{"type":"payment","data":{"id":"987654"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set("X-Signature", SignWebhook([]byte("whsec-test"), "987654", "req-1", now))

	var seen []byte
	rr := httptest.NewRecorder()
	verifier.RequireSignature(webhookSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		seen = buf.Bytes()
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !bytes.Equal(seen, body) {
		t.Fatalf("body must be restored for the handler, got %q", seen)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.records) != 1 || !metrics.records[0].success || metrics.records[0].kind != "webhook" {
		t.Fatalf("expected success metric, got %+v", metrics.records)
	}
}

func TestRequireSignature_QueryDataIDAndNumericBody(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestWebhookVerifier(now, nil)
	secret := []byte("whsec-test")

	query := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments?data.id=555&type=payment", nil)
	query.Header.Set("X-Signature", SignWebhook(secret, "555", "", now))

	numeric := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(`{"type":"payment","data":{"id":777}}`))
	numeric.Header.Set("X-Request-Id", "req-2")
	numeric.Header.Set("X-Signature", SignWebhook(secret, "777", "req-2", now))

	for name, req := range map[string]*http.Request{"query": query, "numeric": numeric} {
		rr := httptest.NewRecorder()
		verifier.RequireSignature(webhookSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", name, rr.Code)
		}
	}
}

func TestRequireSignature_Rejections(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	secret := []byte("whsec-test")
	body := `{"type":"payment","data":{"id":"42"}}`

	cases := []struct {
		name      string
		header    string
		requestID string
		reason    string
	}{
		{"missing", "", "req-1", "signature_missing"},
		{"malformed", "v1=abcd", "req-1", "signature_malformed"},
		{"wrong secret", SignWebhook([]byte("other"), "42", "req-1", now), "req-1", "signature_mismatch"},
		{"tampered data id", SignWebhook(secret, "43", "req-1", now), "req-1", "signature_mismatch"},
		{"request id swapped", SignWebhook(secret, "42", "req-1", now), "req-2", "signature_mismatch"},
		{"stale", SignWebhook(secret, "42", "req-1", now.Add(-10*time.Minute)), "req-1", "signature_expired"},
	}
	for _, tc := range cases {
		metrics := &recordingMetrics{}
		verifier := newTestWebhookVerifier(now, metrics)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(body))
		req.Header.Set("X-Request-Id", tc.requestID)
		if tc.header != "" {
			req.Header.Set("X-Signature", tc.header)
		}

		called := false
		rr := httptest.NewRecorder()
		verifier.RequireSignature(webhookSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		})).ServeHTTP(rr, req)

		if called {
			t.Fatalf("%s: handler must not run", tc.name)
		}
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, rr.Code)
		}
		if len(metrics.records) != 1 || metrics.records[0].reason != tc.reason {
			t.Fatalf("%s: expected reason %s, got %+v", tc.name, tc.reason, metrics.records)
		}
	}
}

func TestRequireSignature_SecretUnavailable(t *testing.T) {
	verifier := NewWebhookSignatureVerifier(mapSecretProvider{}, WithWebhookLogger(zap.NewNop()))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(`{}`))
	verifier.RequireSignature(webhookSecretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	})).ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestVerifyWithoutTolerance(t *testing.T) {
	verifier := NewWebhookSignatureVerifier(nil, WithWebhookTolerance(0), WithWebhookClock(func() time.Time {
		return time.Unix(1800000000, 0)
	}))
	header := SignWebhook([]byte("s"), "1", "r", time.Unix(1700000000, 0))
	if err := verifier.Verify([]byte("s"), header, "1", "r"); err != nil {
		t.Fatalf("expected old signature accepted without tolerance, got %v", err)
	}
}
