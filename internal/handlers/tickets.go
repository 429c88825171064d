package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/platform/requestctx"
	"github.com/artisan-market/api/internal/services"
)

// TicketHandlers exposes ticket purchase, payment and check-in endpoints.
type TicketHandlers struct {
	authn       *auth.Authenticator
	idempotency func(http.Handler) http.Handler
	tickets     services.TicketService
	payments    services.PaymentService
}

// NewTicketHandlers constructs a new TicketHandlers instance.
func NewTicketHandlers(authn *auth.Authenticator, tickets services.TicketService, payments services.PaymentService) *TicketHandlers {
	return &TicketHandlers{
		authn:    authn,
		tickets:  tickets,
		payments: payments,
	}
}

// WithIdempotency installs the Idempotency-Key middleware on mutating routes.
func (h *TicketHandlers) WithIdempotency(mw func(http.Handler) http.Handler) *TicketHandlers {
	h.idempotency = mw
	return h
}

// ShowRoutes registers the /shows endpoints.
func (h *TicketHandlers) ShowRoutes(r chi.Router) {
	if r == nil {
		return
	}
	useBuyerMiddlewares(r, h.authn, h.idempotency)
	r.Post("/{showID}/tickets", h.purchase)
}

// Routes registers the /tickets endpoints.
func (h *TicketHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	useBuyerMiddlewares(r, h.authn, h.idempotency)
	r.Get("/{ticketID}", h.getTicket)
	r.Post("/{ticketID}/preference", h.createPreference)
	r.Post("/{ticketID}:simulate-payment", h.simulatePayment)
	r.Post("/{ticketID}:use", h.markUsed)
}

func (h *TicketHandlers) purchase(w http.ResponseWriter, r *http.Request) {
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

	ticket, err := h.tickets.Purchase(ctx, services.PurchaseTicketCommand{
		ShowID:  showID,
		BuyerID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Annotate(ctx, "ticket_id", ticket.ID)
	httpx.WriteJSON(w, http.StatusCreated, ticketResponse{Ticket: buildTicketPayload(ticket)})
}

func (h *TicketHandlers) getTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tickets == nil {
		serviceUnavailable(ctx, w, "ticket")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	ticketID, ok := pathParam(w, r, "ticketID", "ticket id")
	if !ok {
		return
	}

	ticket, err := h.tickets.GetTicket(ctx, ticketID, viewerFor(identity))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ticketResponse{Ticket: buildTicketPayload(ticket)})
}

func (h *TicketHandlers) createPreference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	ticketID, ok := pathParam(w, r, "ticketID", "ticket id")
	if !ok {
		return
	}
	var req preferenceRequest
	if !decodeJSONBody(ctx, w, r, &req, true) {
		return
	}

	pref, err := h.payments.CreateTicketPreference(ctx, services.CreatePreferenceCommand{
		ReferenceID: ticketID,
		BuyerID:     strings.TrimSpace(identity.UID),
		Provider:    strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildPreferencePayload(pref))
}

func (h *TicketHandlers) simulatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tickets == nil {
		serviceUnavailable(ctx, w, "ticket")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	ticketID, ok := pathParam(w, r, "ticketID", "ticket id")
	if !ok {
		return
	}
	outcome, ok := readSimulatedOutcome(w, r)
	if !ok {
		return
	}

	result, err := h.tickets.SimulatePayment(ctx, services.SimulatePaymentCommand{
		ReferenceID: ticketID,
		BuyerID:     strings.TrimSpace(identity.UID),
		Outcome:     outcome,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentOutcomePayload{Applied: result.Applied, Status: result.Status})
}

func (h *TicketHandlers) markUsed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tickets == nil {
		serviceUnavailable(ctx, w, "ticket")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	ticketID, ok := pathParam(w, r, "ticketID", "ticket id")
	if !ok {
		return
	}

	ticket, err := h.tickets.MarkUsed(ctx, services.MarkTicketUsedCommand{
		TicketID: ticketID,
		ActorID:  strings.TrimSpace(identity.UID),
		Staff:    identity.IsStaff(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ticketResponse{Ticket: buildTicketPayload(ticket)})
}
