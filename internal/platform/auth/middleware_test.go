package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

// guard runs one request through RequireFirebaseAuth and returns the recorder and the
// identity the downstream handler saw, if it ran.
func guard(authn *Authenticator, authorization string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	var seen *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	authn.RequireFirebaseAuth(roles...)(next).ServeHTTP(rr, req)
	return rr, seen
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "artist-7",
		Claims: map[string]any{
			"role":  []any{"staff", "admin"},
			"name":  "Rosa Quispe",
			"email": "rosa@example.pe",
		},
	}}

	rr, identity := guard(NewAuthenticator(verifier), "Bearer id-token", RoleStaff)

	if rr.Code != http.StatusNoContent || identity == nil {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "id-token" {
		t.Fatalf("verifier received %q", verifier.received)
	}
	if identity.UID != "artist-7" || identity.DisplayName != "Rosa Quispe" || identity.Email != "rosa@example.pe" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !identity.IsStaff() || !identity.HasRole("ADMIN") {
		t.Fatalf("expected staff and admin roles, got %v", identity.Roles)
	}
}

func TestRequireFirebaseAuth_BuyerWithoutRoleClaim(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "buyer-1", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	rr, identity := guard(authn, "Bearer buyer-token")
	if rr.Code != http.StatusNoContent || identity == nil {
		t.Fatalf("expected buyer to pass an unrestricted route, got %d", rr.Code)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
		t.Fatalf("expected fallback role %q, got %v", RoleUser, identity.Roles)
	}

	rr, identity = guard(authn, "Bearer buyer-token", RoleStaff, RoleAdmin)
	if rr.Code != http.StatusForbidden || identity != nil {
		t.Fatalf("expected 403 on staff route, got %d", rr.Code)
	}
	assertAuthError(t, rr, "insufficient_role")
}

func TestRequireFirebaseAuth_Rejections(t *testing.T) {
	cases := []struct {
		name          string
		authorization string
		verifyErr     error
		code          string
	}{
		{name: "missing header", code: "unauthenticated"},
		{name: "basic scheme", authorization: "Basic dXNlcjpwYXNz", code: "unauthenticated"},
		{name: "empty bearer", authorization: "Bearer   ", code: "unauthenticated"},
		{name: "expired", authorization: "Bearer old", verifyErr: ErrTokenExpired, code: "token_expired"},
		{name: "invalid", authorization: "Bearer forged", verifyErr: ErrTokenInvalid, code: "invalid_token"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			verifier := &stubTokenVerifier{err: tc.verifyErr, token: &firebaseauth.Token{UID: "buyer-1"}}
			rr, identity := guard(NewAuthenticator(verifier), tc.authorization)
			if rr.Code != http.StatusUnauthorized || identity != nil {
				t.Fatalf("expected 401 without reaching the handler, got %d", rr.Code)
			}
			assertAuthError(t, rr, tc.code)
		})
	}
}

func TestRequireFirebaseAuth_MapRoleClaimAndMetrics(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: " door-1 ",
		Claims: map[string]any{
			"role":           map[string]any{"Staff": true, "admin": false},
			"email_verified": true,
		},
	}}
	metrics := &recordingMetrics{}
	authn := NewAuthenticator(verifier, WithMetrics(metrics))

	rr, identity := guard(authn, "bearer door-token", RoleStaff)
	if rr.Code != http.StatusNoContent || identity == nil {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if identity.UID != "door-1" || !identity.EmailVerified {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != RoleStaff || identity.HasRole(RoleAdmin) {
		t.Fatalf("expected only staff role, got %v", identity.Roles)
	}
	if rec := metrics.last(); rec.kind != "firebase" || !rec.success {
		t.Fatalf("unexpected metric %+v", rec)
	}

	verifier.err = ErrTokenInvalid
	if rr, _ = guard(authn, "Bearer door-token"); rr.Code != http.StatusUnauthorized || metrics.last().reason != "invalid_token" {
		t.Fatalf("expected invalid_token rejection, got %d %+v", rr.Code, metrics.last())
	}
	guard(authn, "")
	if metrics.last().reason != "token_missing" {
		t.Fatalf("expected token_missing metric, got %+v", metrics.last())
	}
}

func assertAuthError(t *testing.T, rr *httptest.ResponseRecorder, code string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	if body.Error != code {
		t.Fatalf("expected error %q, got %q", code, body.Error)
	}
}
