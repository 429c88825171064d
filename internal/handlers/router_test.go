package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/services"
)

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestNewRouterProbes(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	system := &stubSystemService{report: services.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		GeneratedAt: now,
		Checks:      map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthSystemService(system),
		WithHealthClock(func() time.Time { return now }),
	)))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: expected application/json, got %q", path, ct)
		}
	}
}

func TestNewRouterUnregisteredGroups(t *testing.T) {
	router := NewRouter(WithRoutes(GroupCoupons, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}))

	cases := []struct {
		method string
		path   string
		status int
		code   string
	}{
		{http.MethodGet, "/api/v1/orders", http.StatusNotImplemented, "not_implemented"},
		{http.MethodPost, "/api/v1/cart/items", http.StatusNotImplemented, "not_implemented"},
		{http.MethodGet, "/does/not/exist", http.StatusNotFound, "route_not_found"},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rr.Code)
		}
		if code := decodeErrorCode(t, rr); code != tc.code {
			t.Fatalf("%s %s: expected %s, got %s", tc.method, tc.path, tc.code, code)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/coupons", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("registered group: expected 204, got %d", rr.Code)
	}
}

func TestNewRouterGroupMiddlewareIsScoped(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	ok := func(r chi.Router) {
		r.Post("/*", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	}
	router := NewRouter(
		WithRoutes(GroupWebhooks, ok),
		WithRoutes(GroupInternal, ok),
		WithGroupMiddleware(GroupWebhooks, deny),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected webhook guard to reject, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/sweeps/expiry", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("guard must not leak into other groups, got %d", rr.Code)
	}
}

func TestNewRouterRequestTimeout(t *testing.T) {
	var deadline time.Duration
	router := NewRouter(
		WithRequestTimeout(5*time.Second),
		WithRoutes(GroupOrders, func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				if d, ok := r.Context().Deadline(); ok {
					deadline = time.Until(d)
				}
				w.WriteHeader(http.StatusOK)
			})
		}),
	)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if deadline <= 0 || deadline > 5*time.Second {
		t.Fatalf("expected a deadline within 5s, got %s", deadline)
	}
}

func TestNewRouterMetricsHandler(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# HELP up\n"))
	})
	rr := httptest.NewRecorder()
	NewRouter(WithMetricsHandler(metrics)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "# HELP up\n" {
		t.Fatalf("expected metrics output, got %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics must not be exposed by default, got %d", rr.Code)
	}
}

func TestNewRouterMountsHandlers(t *testing.T) {
	tickets := &stubTicketService{markUsedFn: func(_ context.Context, cmd services.MarkTicketUsedCommand) (services.Ticket, error) {
		return services.Ticket{ID: cmd.TicketID, Status: domain.TicketStatusUsed}, nil
	}}
	ticketHandlers := NewTicketHandlers(nil, tickets, nil)
	sweeper := &stubSweeper{}

	router := NewRouter(
		WithRoutes(GroupShows, ticketHandlers.ShowRoutes),
		WithRoutes(GroupTickets, ticketHandlers.Routes),
		WithRoutes(GroupInternal, NewInternalHandlers(sweeper).Routes),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/api/v1/tickets/tkt_1:use", "", "door-1", "staff"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/sweeps/expiry", nil))
	if rr.Code != http.StatusOK || sweeper.calls != 1 {
		t.Fatalf("expected sweep to run, got %d calls=%d", rr.Code, sweeper.calls)
	}
}
