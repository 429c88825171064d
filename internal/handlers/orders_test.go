package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/platform/pagination"
	"github.com/artisan-market/api/internal/services"
)

func newOrderRouter(builder services.OrderBuilder, orders services.OrderService, payments services.PaymentService) chi.Router {
	handler := NewOrderHandlers(nil, builder, orders, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func sampleOrder(now time.Time) services.Order {
	expires := now.Add(30 * time.Minute)
	return services.Order{
		ID:       "ord_1",
		Number:   "ORD-2024-000001",
		BuyerID:  "buyer-1",
		Status:   domain.OrderStatusPending,
		Currency: "pen",
		Totals: domain.OrderTotals{
			Subtotal: decimal.RequireFromString("100"),
			Discount: decimal.RequireFromString("10"),
			Shipping: decimal.RequireFromString("15"),
			Tax:      decimal.RequireFromString("18.9"),
			Total:    decimal.RequireFromString("123.9"),
		},
		CouponCode: "SAVE10",
		Items: []services.OrderItem{{
			ID:         "item-1",
			ListingID:  "lst-1",
			ArtistID:   "artist-1",
			Title:      "Mug",
			UnitPrice:  decimal.RequireFromString("50"),
			Quantity:   2,
			TotalPrice: decimal.RequireFromString("100"),
			Customizations: []domain.OrderItemCustomization{{
				ID: "cust-1", Type: domain.CustomizationEngraving, Price: decimal.Zero, Status: domain.CustomizationPending,
			}},
		}},
		ExpiresAt: &expires,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var captured services.CreateOrderCommand
	builder := &stubOrderBuilder{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		captured = cmd
		return sampleOrder(now), nil
	}}
	router := newOrderRouter(builder, &stubOrderService{}, nil)

	body := `{"shipping":{"full_name":"Ana","phone":"999","address_line1":"Av 1","city":"Lima","region":"Lima","country":"PE"},
		"invoice":{"type":"factura","ruc":" 20123456789 ","company_name":"ACME"},
		"coupon_code":"save10","referral_code":"ref-1",
		"items":[{"listing_id":"lst-1","quantity":2,"customizations":["engraving"]}]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders", body, "buyer-1"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" || captured.CouponCode != "save10" || captured.ReferralCode != "ref-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Invoice.Type != domain.InvoiceFactura || captured.Invoice.RUC != "20123456789" {
		t.Fatalf("unexpected invoice %+v", captured.Invoice)
	}
	if len(captured.Items) != 1 || captured.Items[0].Customizations[0] != domain.CustomizationEngraving {
		t.Fatalf("unexpected items %+v", captured.Items)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.Totals.Total != "123.90" || resp.Order.Totals.Tax != "18.90" {
		t.Fatalf("money must be rendered with two decimals, got %+v", resp.Order.Totals)
	}
	if resp.Order.Currency != "PEN" || resp.Order.Status != "PENDING" || resp.Order.ExpiresAt == "" {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
	if len(resp.Order.Items) != 1 || resp.Order.Items[0].Customizations[0].Price != "0.00" {
		t.Fatalf("unexpected items payload %+v", resp.Order.Items)
	}
}

func TestOrderHandlersCreateOrderDefaultsToBoleta(t *testing.T) {
	var captured services.CreateOrderCommand
	builder := &stubOrderBuilder{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		captured = cmd
		return services.Order{ID: "ord_1"}, nil
	}}
	router := newOrderRouter(builder, nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders", `{"shipping":{"full_name":"Ana"}}`, "buyer-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if captured.Invoice.Type != domain.InvoiceBoleta || len(captured.Items) != 0 {
		t.Fatalf("expected cart checkout with boleta, got %+v", captured)
	}
}

func TestOrderHandlersCreateOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "invalid json", body: `{`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "empty body", body: "", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "bad invoice", body: `{"invoice":{"type":"receipt"}}`, status: http.StatusBadRequest, code: "invalid_request"},
		{
			name:   "insufficient stock",
			body:   `{}`,
			err:    fmt.Errorf("order: %w", &services.StockError{Op: "reserve", Code: services.StockErrorInsufficient, ListingID: "lst-1", Requested: 2, Available: 1}),
			status: http.StatusConflict,
			code:   "insufficient_stock",
		},
		{name: "coupon expired", body: `{}`, err: services.ErrCouponExpired, status: http.StatusBadRequest, code: "coupon_expired"},
		{name: "coupon used", body: `{}`, err: services.ErrCouponAlreadyUsed, status: http.StatusConflict, code: "coupon_already_used"},
		{name: "self referral", body: `{}`, err: services.ErrReferralSelf, status: http.StatusBadRequest, code: "referral_self"},
		{name: "empty cart", body: `{}`, err: services.ErrCartEmpty, status: http.StatusConflict, code: "cart_empty"},
		{name: "unexpected", body: `{}`, err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			builder := &stubOrderBuilder{createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
				if tc.err != nil {
					return services.Order{}, tc.err
				}
				return services.Order{ID: "ord_1"}, nil
			}}
			router := newOrderRouter(builder, nil, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders", tc.body, "buyer-1"))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if tc.code == "insufficient_stock" && body["available"] != float64(1) {
				t.Fatalf("expected stock details, got %v", body)
			}
		})
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderBuilder{}, &stubOrderService{}, &stubPaymentService{})
	for _, req := range []*http.Request{
		newAuthedRequest(http.MethodPost, "/orders", `{}`, ""),
		newAuthedRequest(http.MethodGet, "/orders", "", ""),
		newAuthedRequest(http.MethodGet, "/orders/ord_1", "", ""),
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", req.Method, req.URL.Path, rr.Code)
		}
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var captured services.OrderListFilter
	orders := &stubOrderService{listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		captured = filter
		return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder(now)}, NextPageToken: "next"}, nil
	}}
	router := newOrderRouter(nil, orders, nil)
	token := pagination.EncodeToken(pagination.Cursor{Offset: 20})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/orders?status=paid,pending&page_size=500&page_token="+token, "", "buyer-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.BuyerID != "buyer-1" || captured.Pagination.PageSize != maxPageSize || captured.Pagination.PageToken != token {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPaid {
		t.Fatalf("unexpected statuses %v", captured.Status)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Total != "123.90" || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}

	for _, target := range []string{"/orders?page_size=abc", "/orders?status=lost", "/orders?page_token=%25%25"} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, target, "", "buyer-1"))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestOrderHandlersGetOrderPassesViewer(t *testing.T) {
	var viewer services.Viewer
	orders := &stubOrderService{getFn: func(_ context.Context, id string, v services.Viewer) (services.Order, error) {
		viewer = v
		if id == "ord_other" {
			return services.Order{}, services.ErrOrderForbidden
		}
		return services.Order{ID: id}, nil
	}}
	router := newOrderRouter(nil, orders, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/orders/ord_1", "", "staff-1", "staff"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if viewer.UserID != "staff-1" || !viewer.Staff {
		t.Fatalf("expected staff viewer, got %+v", viewer)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/orders/ord_other", "", "buyer-2"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign orders must look missing, got %d", rr.Code)
	}
}

func TestOrderHandlersCreatePreference(t *testing.T) {
	var captured services.CreatePreferenceCommand
	payments := &stubPaymentService{orderPrefFn: func(_ context.Context, cmd services.CreatePreferenceCommand) (services.PaymentPreference, error) {
		captured = cmd
		if cmd.Provider == "down" {
			return services.PaymentPreference{}, fmt.Errorf("%w: timeout", services.ErrPaymentGateway)
		}
		return services.PaymentPreference{ID: "pref-1", Provider: "checkoutpro", RedirectURL: "https://pay.example/1", Reference: "order:ord_1"}, nil
	}}
	router := newOrderRouter(nil, nil, payments)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/preference", "", "buyer-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ReferenceID != "ord_1" || captured.BuyerID != "buyer-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var pref preferencePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &pref); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pref.RedirectURL != "https://pay.example/1" || pref.Reference != "order:ord_1" {
		t.Fatalf("unexpected preference %+v", pref)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/preference", `{"provider":"down"}`, "buyer-1"))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("gateway failures map to 502, got %d", rr.Code)
	}
}

func TestOrderHandlersSimulatePayment(t *testing.T) {
	var captured services.SimulatePaymentCommand
	orders := &stubOrderService{simulateFn: func(_ context.Context, cmd services.SimulatePaymentCommand) (services.PaymentOutcomeResult, error) {
		captured = cmd
		return services.PaymentOutcomeResult{Applied: true, Status: string(domain.OrderStatusCancelled)}, nil
	}}
	router := newOrderRouter(nil, orders, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1:simulate-payment", `{"outcome":"Rejected"}`, "buyer-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ReferenceID != "ord_1" || captured.Outcome != domain.PaymentRejected {
		t.Fatalf("unexpected command %+v", captured)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1:simulate-payment", `{"outcome":"maybe"}`, "buyer-1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown outcome, got %d", rr.Code)
	}

	orders.simulateFn = func(context.Context, services.SimulatePaymentCommand) (services.PaymentOutcomeResult, error) {
		return services.PaymentOutcomeResult{}, services.ErrPaymentSimulationDisabled
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1:simulate-payment", "", "buyer-1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when simulation disabled, got %d", rr.Code)
	}
}
