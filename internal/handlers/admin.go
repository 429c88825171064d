package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/services"
)

type transitionOrderRequest struct {
	Status         string `json:"status"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	Reason         string `json:"reason"`
}

type shippingInfoRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type resolveReturnRequest struct {
	Reason string `json:"reason"`
}

type customizationStatusRequest struct {
	Status          string `json:"status"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

type createCouponRequest struct {
	Code         string  `json:"code"`
	DiscountType string  `json:"discount_type"`
	Value        string  `json:"value"`
	MinPurchase  *string `json:"min_purchase"`
	ExpiresAt    string  `json:"expires_at"`
	MaxUses      *int    `json:"max_uses"`
}

type commissionListResponse struct {
	Items []commissionPayload `json:"items"`
}

type cancelShowResponse struct {
	Show             showPayload `json:"show"`
	TicketsCancelled int         `json:"tickets_cancelled"`
}

// AdminHandlers exposes staff operations on orders, coupons and shows.
type AdminHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	coupons services.CouponService
	tickets services.TicketService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, coupons services.CouponService, tickets services.TicketService) *AdminHandlers {
	return &AdminHandlers{
		authn:   authn,
		orders:  orders,
		coupons: coupons,
		tickets: tickets,
	}
}

// Routes registers the /admin endpoints. Every route requires a staff or admin role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Put("/orders/{orderID}/shipping", h.updateShipping)
	r.Post("/orders/{orderID}:resolve-return", h.resolveReturn)
	r.Put("/orders/{orderID}/items/{itemID}/customizations/{customizationID}", h.updateCustomization)
	r.Get("/orders/{orderID}/commissions", h.listCommissions)
	r.Post("/coupons", h.createCoupon)
	r.Post("/shows/{showID}:cancel", h.cancelShow)
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}
	var req transitionOrderRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}
	target, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   target,
		ActorID:        strings.TrimSpace(identity.UID),
		Carrier:        strings.TrimSpace(req.Carrier),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Reason:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) updateShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}
	var req shippingInfoRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}

	order, err := h.orders.UpdateShippingInfo(ctx, services.UpdateShippingInfoCommand{
		OrderID:        orderID,
		Carrier:        strings.TrimSpace(req.Carrier),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		ActorID:        strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) resolveReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}
	var req resolveReturnRequest
	if !decodeJSONBody(ctx, w, r, &req, true) {
		return
	}

	order, err := h.orders.ResolveReturn(ctx, services.ResolveReturnCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) updateCustomization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}
	itemID, ok := pathParam(w, r, "itemID", "item id")
	if !ok {
		return
	}
	customizationID, ok := pathParam(w, r, "customizationID", "customization id")
	if !ok {
		return
	}
	var req customizationStatusRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}
	status, ok := domain.ParseCustomizationStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid customization status", http.StatusBadRequest))
		return
	}
	scheduledAt, err := parseOptionalTime(req.ScheduledAt)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "scheduled_at must be an RFC3339 timestamp", http.StatusBadRequest))
		return
	}
	if req.DurationMinutes < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "duration_minutes must not be negative", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateCustomizationStatus(ctx, services.UpdateCustomizationStatusCommand{
		OrderID:         orderID,
		ItemID:          itemID,
		CustomizationID: customizationID,
		Status:          status,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		ActorID:         strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	commissions, err := h.orders.ListCommissions(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, commissionListResponse{Items: buildCommissionPayloads(commissions)})
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req createCouponRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}

	value, err := decimal.NewFromString(strings.TrimSpace(req.Value))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "value must be a decimal amount", http.StatusBadRequest))
		return
	}
	cmd := services.CreateCouponCommand{
		Code:         req.Code,
		DiscountType: domain.DiscountType(strings.ToUpper(strings.TrimSpace(req.DiscountType))),
		Value:        value,
		MaxUses:      req.MaxUses,
		ActorID:      strings.TrimSpace(identity.UID),
	}
	if req.MinPurchase != nil {
		minPurchase, err := domain.ParseMoney(strings.TrimSpace(*req.MinPurchase))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "min_purchase must be a decimal amount", http.StatusBadRequest))
			return
		}
		cmd.MinPurchase = &minPurchase
	}
	if cmd.ExpiresAt, err = parseOptionalTime(req.ExpiresAt); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expires_at must be an RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.CreateCoupon(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"coupon": buildCouponPayload(coupon)})
}

func (h *AdminHandlers) cancelShow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tickets == nil {
		serviceUnavailable(ctx, w, "ticket")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	showID, ok := pathParam(w, r, "showID", "show id")
	if !ok {
		return
	}

	result, err := h.tickets.CancelShow(ctx, services.CancelShowCommand{
		ShowID:  showID,
		ActorID: strings.TrimSpace(identity.UID),
		Staff:   identity.IsStaff(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cancelShowResponse{
		Show:             buildShowPayload(result.Show),
		TicketsCancelled: result.TicketsCancelled,
	})
}
