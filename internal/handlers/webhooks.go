package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/platform/requestctx"
	"github.com/artisan-market/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

type paymentWebhookRequest struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type paymentWebhookResponse struct {
	Received  bool   `json:"received"`
	Ignored   bool   `json:"ignored,omitempty"`
	Applied   bool   `json:"applied"`
	Reference string `json:"reference,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// WebhookHandlers receives payment gateway notifications. Signature verification runs
// as group middleware before these handlers.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePayment)
}

func (h *WebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req paymentWebhookRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}
	query := r.URL.Query()
	notificationType := strings.TrimSpace(req.Type)
	if notificationType == "" {
		notificationType = strings.TrimSpace(query.Get("type"))
	}
	if notificationType == "" {
		notificationType = strings.TrimSpace(query.Get("topic"))
	}

	notification := services.PaymentNotification{
		Type:     notificationType,
		DataID:   auth.WebhookDataID(r, body),
		Provider: strings.TrimSpace(query.Get("provider")),
	}
	requestctx.Annotate(ctx, "payment_id", notification.DataID)
	result, err := h.payments.HandleNotification(ctx, notification)
	requestctx.Annotate(ctx, "reference", result.Reference)
	if err != nil {
		requestctx.Logger(ctx).Warn("payment webhook failed",
			zap.String("type", notification.Type),
			zap.String("dataId", notification.DataID),
			zap.Error(err),
		)
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, paymentWebhookResponse{
		Received:  true,
		Ignored:   result.Ignored,
		Applied:   result.Applied,
		Reference: result.Reference,
		Outcome:   string(result.Outcome),
	})
}
