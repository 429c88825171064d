package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/platform/pagination"
	"github.com/artisan-market/api/internal/platform/requestctx"
	"github.com/artisan-market/api/internal/services"
)

type createOrderRequest struct {
	Shipping struct {
		FullName     string `json:"full_name"`
		Phone        string `json:"phone"`
		AddressLine1 string `json:"address_line1"`
		AddressLine2 string `json:"address_line2"`
		City         string `json:"city"`
		Region       string `json:"region"`
		PostalCode   string `json:"postal_code"`
		Country      string `json:"country"`
		Reference    string `json:"reference"`
	} `json:"shipping"`
	Invoice *struct {
		Type        string `json:"type"`
		RUC         string `json:"ruc"`
		CompanyName string `json:"company_name"`
	} `json:"invoice"`
	CouponCode   string            `json:"coupon_code"`
	ReferralCode string            `json:"referral_code"`
	Items        []cartItemRequest `json:"items"`
}

type cartItemRequest struct {
	ListingID       string   `json:"listing_id"`
	Quantity        int      `json:"quantity"`
	Variant         string   `json:"variant"`
	Personalization string   `json:"personalization"`
	Customizations  []string `json:"customizations"`
}

type simulatePaymentRequest struct {
	Outcome string `json:"outcome"`
}

type preferenceRequest struct {
	Provider string `json:"provider"`
}

// OrderHandlers exposes checkout and buyer order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	idempotency func(http.Handler) http.Handler
	builder     services.OrderBuilder
	orders      services.OrderService
	payments    services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, builder services.OrderBuilder, orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		builder:  builder,
		orders:   orders,
		payments: payments,
	}
}

// WithIdempotency installs the Idempotency-Key middleware on mutating routes.
func (h *OrderHandlers) WithIdempotency(mw func(http.Handler) http.Handler) *OrderHandlers {
	h.idempotency = mw
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	useBuyerMiddlewares(r, h.authn, h.idempotency)
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/preference", h.createPreference)
	r.Post("/{orderID}:simulate-payment", h.simulatePayment)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.builder == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}

	cmd := services.CreateOrderCommand{
		BuyerID: strings.TrimSpace(identity.UID),
		Shipping: services.ShippingAddress{
			FullName:     req.Shipping.FullName,
			Phone:        req.Shipping.Phone,
			AddressLine1: req.Shipping.AddressLine1,
			AddressLine2: req.Shipping.AddressLine2,
			City:         req.Shipping.City,
			Region:       req.Shipping.Region,
			PostalCode:   req.Shipping.PostalCode,
			Country:      req.Shipping.Country,
			Reference:    req.Shipping.Reference,
		},
		Invoice:      services.Invoice{Type: domain.InvoiceBoleta},
		CouponCode:   req.CouponCode,
		ReferralCode: req.ReferralCode,
	}
	if req.Invoice != nil {
		invoiceType := domain.InvoiceType(strings.ToUpper(strings.TrimSpace(req.Invoice.Type)))
		if invoiceType == "" {
			invoiceType = domain.InvoiceBoleta
		}
		if invoiceType != domain.InvoiceBoleta && invoiceType != domain.InvoiceFactura {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invoice.type must be BOLETA or FACTURA", http.StatusBadRequest))
			return
		}
		cmd.Invoice = services.Invoice{
			Type:        invoiceType,
			RUC:         strings.TrimSpace(req.Invoice.RUC),
			CompanyName: strings.TrimSpace(req.Invoice.CompanyName),
		}
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, toCartItem(item))
	}

	order, err := h.builder.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Annotate(ctx, "order_id", order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	params, err := pagination.Parse(query, listPagination)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var statuses []domain.OrderStatus
	for _, raw := range splitQueryValues(query["status"]) {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+strconv.Quote(raw), http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	page, err := h.orders.ListBuyerOrders(ctx, services.OrderListFilter{
		BuyerID: strings.TrimSpace(identity.UID),
		Status:  statuses,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.GetOrder(ctx, orderID, viewerFor(identity))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createPreference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
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
	var req preferenceRequest
	if !decodeJSONBody(ctx, w, r, &req, true) {
		return
	}

	pref, err := h.payments.CreateOrderPreference(ctx, services.CreatePreferenceCommand{
		ReferenceID: orderID,
		BuyerID:     strings.TrimSpace(identity.UID),
		Provider:    strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildPreferencePayload(pref))
}

func (h *OrderHandlers) simulatePayment(w http.ResponseWriter, r *http.Request) {
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
	outcome, ok := readSimulatedOutcome(w, r)
	if !ok {
		return
	}

	result, err := h.orders.SimulatePayment(ctx, services.SimulatePaymentCommand{
		ReferenceID: orderID,
		BuyerID:     strings.TrimSpace(identity.UID),
		Outcome:     outcome,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentOutcomePayload{Applied: result.Applied, Status: result.Status})
}

func toCartItem(item cartItemRequest) services.CartItem {
	out := services.CartItem{
		ListingID:       strings.TrimSpace(item.ListingID),
		Quantity:        item.Quantity,
		Variant:         item.Variant,
		Personalization: item.Personalization,
	}
	for _, c := range item.Customizations {
		out.Customizations = append(out.Customizations, domain.CustomizationType(strings.ToUpper(strings.TrimSpace(c))))
	}
	return out
}

func readSimulatedOutcome(w http.ResponseWriter, r *http.Request) (domain.PaymentOutcome, bool) {
	ctx := r.Context()
	var req simulatePaymentRequest
	if !decodeJSONBody(ctx, w, r, &req, true) {
		return "", false
	}
	outcome, ok := parsePaymentOutcome(req.Outcome)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "outcome must be approved, rejected or pending", http.StatusBadRequest))
		return "", false
	}
	return outcome, true
}

func parsePaymentOutcome(raw string) (domain.PaymentOutcome, bool) {
	switch outcome := domain.PaymentOutcome(strings.ToLower(strings.TrimSpace(raw))); outcome {
	case "":
		return domain.PaymentApproved, true
	case domain.PaymentApproved, domain.PaymentRejected, domain.PaymentPending:
		return outcome, true
	default:
		return "", false
	}
}

func pathParam(w http.ResponseWriter, r *http.Request, key, label string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, key))
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", label+" is required", http.StatusBadRequest))
		return "", false
	}
	requestctx.Annotate(r.Context(), strings.ReplaceAll(label, " ", "_"), value)
	return value, true
}

func splitQueryValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
