package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/platform/pagination"
	"github.com/artisan-market/api/internal/services"
)

const (
	defaultBodyLimit = 16 * 1024
	maxPageSize      = 100
)

var listPagination = pagination.Options{DefaultPageSize: pagination.DefaultPageSize, MaxPageSize: maxPageSize}

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes the request body. When optional is true an empty body
// leaves dst untouched.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	body, err := readLimitedBody(r, defaultBodyLimit)
	switch {
	case err == nil:
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func viewerFor(identity *auth.Identity) services.Viewer {
	return services.Viewer{UserID: strings.TrimSpace(identity.UID), Staff: identity.IsStaff()}
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	return &ts, nil
}

// serviceErrors maps service sentinels onto HTTP envelopes. Order matters: the first
// match wins.
var serviceErrors = httpx.NewMapper([]httpx.Mapping{
	{Target: services.ErrOrderNotFound, Code: "order_not_found", Status: http.StatusNotFound, Expose: false},
	{Target: services.ErrOrderForbidden, Code: "order_not_found", Status: http.StatusNotFound, Expose: false},
	{Target: services.ErrTicketNotFound, Code: "ticket_not_found", Status: http.StatusNotFound, Expose: false},
	{Target: services.ErrTicketForbidden, Code: "ticket_forbidden", Status: http.StatusForbidden, Expose: false},
	{Target: services.ErrShowNotFound, Code: "show_not_found", Status: http.StatusNotFound, Expose: false},
	{Target: services.ErrCustomizationNotFound, Code: "customization_not_found", Status: http.StatusNotFound, Expose: false},
	{Target: services.ErrCartItemNotFound, Code: "cart_item_not_found", Status: http.StatusNotFound, Expose: false},
	{Target: services.ErrListingNotFound, Code: "listing_not_found", Status: http.StatusNotFound, Expose: true},

	{Target: services.ErrInsufficientStock, Code: "insufficient_stock", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrListingInactive, Code: "listing_inactive", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrTicketSoldOut, Code: "sold_out", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrTicketAlreadyPurchased, Code: "ticket_already_purchased", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrShowNotAvailable, Code: "show_not_available", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrTicketNotUsable, Code: "ticket_not_usable", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrTicketNotAwaitingPayment, Code: "ticket_not_awaiting_payment", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrTicketConflict, Code: "ticket_conflict", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrOrderInvalidTransition, Code: "order_invalid_transition", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrOrderMissingShippingInfo, Code: "order_missing_shipping_info", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrOrderNotPending, Code: "order_not_pending", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrOrderConflict, Code: "order_conflict", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrCustomizationInvalidTransition, Code: "customization_invalid_transition", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrCouponCodeTaken, Code: "coupon_code_taken", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrCouponAlreadyUsed, Code: "coupon_already_used", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrCartEmpty, Code: "cart_empty", Status: http.StatusConflict, Expose: true},

	{Target: services.ErrCouponInvalid, Code: "coupon_invalid", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrCouponExpired, Code: "coupon_expired", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrCouponExhausted, Code: "coupon_exhausted", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrMinPurchaseNotMet, Code: "min_purchase_not_met", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrReferralInvalid, Code: "referral_invalid", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrReferralSelf, Code: "referral_self", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrTicketSelfPurchase, Code: "ticket_self_purchase", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrCartInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrCouponInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrOrderInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrTicketInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrPaymentInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrStockInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},

	{Target: services.ErrPaymentSimulationDisabled, Code: "payment_simulation_disabled", Status: http.StatusForbidden, Expose: false},
	{Target: services.ErrPaymentGateway, Code: "payment_gateway_unavailable", Status: http.StatusBadGateway, Expose: false},
}, stockErrorDetails)

func stockErrorDetails(err error) map[string]any {
	var stockErr *services.StockError
	if !errors.As(err, &stockErr) {
		return nil
	}
	return map[string]any{
		"listing_id": stockErr.ListingID,
		"requested":  stockErr.Requested,
		"available":  stockErr.Available,
	}
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	serviceErrors.Write(ctx, w, err)
}

// useBuyerMiddlewares authenticates the caller before the idempotency middleware so
// stored responses are scoped to the buyer.
func useBuyerMiddlewares(r chi.Router, authn *auth.Authenticator, idempotency func(http.Handler) http.Handler) {
	if authn != nil {
		r.Use(authn.RequireFirebaseAuth())
	}
	if idempotency != nil {
		r.Use(idempotency)
	}
}
