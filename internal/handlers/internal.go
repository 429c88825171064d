package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/platform/requestctx"
	"github.com/artisan-market/api/internal/services"
)

type sweepResponse struct {
	OrdersExpired  int `json:"orders_expired"`
	TicketsExpired int `json:"tickets_expired"`
	Failures       int `json:"failures"`
}

// InternalHandlers exposes scheduler-triggered maintenance endpoints. Authentication is
// applied by the /internal group middleware.
type InternalHandlers struct {
	sweeper services.ExpirySweeper
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(sweeper services.ExpirySweeper) *InternalHandlers {
	return &InternalHandlers{sweeper: sweeper}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sweeps/expiry", h.sweepExpired)
}

func (h *InternalHandlers) sweepExpired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		serviceUnavailable(ctx, w, "sweep")
		return
	}
	result, err := h.sweeper.Sweep(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("expiry sweep triggered",
		zap.Int("ordersExpired", result.OrdersExpired),
		zap.Int("ticketsExpired", result.TicketsExpired),
		zap.Int("failures", result.Failures),
	)
	httpx.WriteJSON(w, http.StatusOK, sweepResponse{
		OrdersExpired:  result.OrdersExpired,
		TicketsExpired: result.TicketsExpired,
		Failures:       result.Failures,
	})
}
