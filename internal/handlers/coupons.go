package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/services"
)

type couponPreviewResponse struct {
	Coupon         couponPayload `json:"coupon"`
	Subtotal       string        `json:"subtotal,omitempty"`
	DiscountAmount string        `json:"discount_amount,omitempty"`
}

const (
	defaultCouponPreviewLimit  = 30
	defaultCouponPreviewWindow = time.Minute
)

// CouponHandlers exposes the public coupon preview.
type CouponHandlers struct {
	coupons services.CouponService
	limiter *clientLimiter
}

// CouponOption customises CouponHandlers.
type CouponOption func(*CouponHandlers)

// WithCouponPreviewLimit bounds previews per client address. A non-positive limit disables throttling.
func WithCouponPreviewLimit(limit int, window time.Duration, clock func() time.Time) CouponOption {
	return func(h *CouponHandlers) {
		h.limiter = newClientLimiter(limit, window, clock)
	}
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(coupons services.CouponService, opts ...CouponOption) *CouponHandlers {
	h := &CouponHandlers{
		coupons: coupons,
		limiter: newClientLimiter(defaultCouponPreviewLimit, defaultCouponPreviewWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.limiter.middleware).Get("/{code}", h.previewCoupon)
}

// previewCoupon reports a coupon's terms. With ?subtotal the discount is priced using the
// same validation checkout applies, minus the per-buyer usage check.
func (h *CouponHandlers) previewCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	code, ok := pathParam(w, r, "code", "coupon code")
	if !ok {
		return
	}

	coupon, err := h.coupons.GetCoupon(ctx, code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := couponPreviewResponse{Coupon: buildCouponPayload(coupon)}
	resp.Coupon.ID = ""

	if raw := strings.TrimSpace(r.URL.Query().Get("subtotal")); raw != "" {
		subtotal, err := domain.ParseMoney(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal must be a decimal amount", http.StatusBadRequest))
			return
		}
		validation, err := h.coupons.Validate(ctx, services.CouponValidationCommand{Code: code, Subtotal: subtotal})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		resp.Subtotal = formatMoney(subtotal)
		resp.DiscountAmount = formatMoney(validation.DiscountAmount)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
