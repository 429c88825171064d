package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/payments"
	"github.com/artisan-market/api/internal/repositories"
	"github.com/shopspring/decimal"
)

const (
	paymentEventIDPrefix = "pev_"

	referenceOrder  = "order"
	referenceTicket = "ticket"
)

var (
	// ErrPaymentInvalidInput indicates malformed preference or notification input.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentGateway indicates the gateway could not be reached or rejected the call.
	ErrPaymentGateway = errors.New("payment: gateway unavailable")
	// ErrPaymentAmountMismatch indicates an approval whose charge differs from the amount owed.
	ErrPaymentAmountMismatch = errors.New("payment: charged amount does not match")
	// ErrTicketNotAwaitingPayment indicates the ticket is no longer an unpaid hold.
	ErrTicketNotAwaitingPayment = errors.New("ticket: not awaiting payment")
)

// PaymentGateway is the provider-agnostic gateway surface. payments.Manager implements it.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PreferenceRequest) (payments.Preference, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// PaymentURLs are the buyer return pages and the webhook endpoint handed to the gateway.
type PaymentURLs struct {
	Success      string
	Failure      string
	Pending      string
	Notification string
}

// PaymentServiceDeps wires the gateway and the state machines it drives.
type PaymentServiceDeps struct {
	Gateway       PaymentGateway
	Orders        repositories.OrderRepository
	Tickets       repositories.TicketRepository
	Shows         repositories.ShowRepository
	PaymentEvents repositories.PaymentEventRepository
	OrderService  OrderService
	TicketService TicketService
	URLs          PaymentURLs
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type paymentService struct {
	gateway  PaymentGateway
	orders   repositories.OrderRepository
	tickets  repositories.TicketRepository
	shows    repositories.ShowRepository
	events   repositories.PaymentEventRepository
	orderSvc OrderService
	ticket   TicketService
	urls     PaymentURLs
	now      func() time.Time
	newID    func() string
	logger   Logger
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService validates dependencies and returns the payment service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("payment service: gateway is required")
	case deps.Orders == nil:
		return nil, errors.New("payment service: order repository is required")
	case deps.Tickets == nil:
		return nil, errors.New("payment service: ticket repository is required")
	case deps.Shows == nil:
		return nil, errors.New("payment service: show repository is required")
	case deps.OrderService == nil:
		return nil, errors.New("payment service: order service is required")
	case deps.TicketService == nil:
		return nil, errors.New("payment service: ticket service is required")
	}
	return &paymentService{
		gateway:  deps.Gateway,
		orders:   deps.Orders,
		tickets:  deps.Tickets,
		shows:    deps.Shows,
		events:   deps.PaymentEvents,
		orderSvc: deps.OrderService,
		ticket:   deps.TicketService,
		urls:     deps.URLs,
		now:      defaultClock(deps.Clock),
		newID:    defaultIDGenerator(deps.IDGenerator),
		logger:   defaultLogger(deps.Logger),
	}, nil
}

func (s *paymentService) CreateOrderPreference(ctx context.Context, cmd CreatePreferenceCommand) (PaymentPreference, error) {
	orderID := strings.TrimSpace(cmd.ReferenceID)
	if orderID == "" {
		return PaymentPreference{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentPreference{}, mapRepositoryError(err, ErrOrderNotFound, nil, "payment")
	}
	if order.BuyerID != strings.TrimSpace(cmd.BuyerID) {
		return PaymentPreference{}, ErrOrderForbidden
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentPreference{}, fmt.Errorf("%w: order is %s", ErrOrderNotPending, order.Status)
	}
	if order.ExpiresAt != nil && !s.now().Before(*order.ExpiresAt) {
		return PaymentPreference{}, fmt.Errorf("%w: payment hold expired", ErrOrderNotPending)
	}

	req := payments.PreferenceRequest{
		ExternalReference: formatReference(referenceOrder, order.ID),
		Currency:          order.Currency,
		Total:             order.Totals.Total,
		PayerID:           order.BuyerID,
		Items:             orderPreferenceItems(order),
		ExpiresAt:         order.ExpiresAt,
		Metadata:          map[string]string{"orderNumber": order.Number},
	}
	return s.createPreference(ctx, cmd.Provider, req)
}

func (s *paymentService) CreateTicketPreference(ctx context.Context, cmd CreatePreferenceCommand) (PaymentPreference, error) {
	ticketID := strings.TrimSpace(cmd.ReferenceID)
	if ticketID == "" {
		return PaymentPreference{}, fmt.Errorf("%w: ticket id is required", ErrPaymentInvalidInput)
	}
	ticket, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return PaymentPreference{}, mapRepositoryError(err, ErrTicketNotFound, nil, "payment")
	}
	if ticket.BuyerID != strings.TrimSpace(cmd.BuyerID) {
		return PaymentPreference{}, ErrTicketForbidden
	}
	if !ticket.AwaitingPayment() {
		return PaymentPreference{}, ErrTicketNotAwaitingPayment
	}
	if ticket.ExpiresAt != nil && !s.now().Before(*ticket.ExpiresAt) {
		return PaymentPreference{}, fmt.Errorf("%w: payment hold expired", ErrTicketNotAwaitingPayment)
	}

	title := "Ticket"
	if show, err := s.shows.FindByID(ctx, ticket.ShowID); err == nil && show.Title != "" {
		title = show.Title
	}
	req := payments.PreferenceRequest{
		ExternalReference: formatReference(referenceTicket, ticket.ID),
		Currency:          ticket.Currency,
		Total:             ticket.Price,
		PayerID:           ticket.BuyerID,
		Items: []payments.PreferenceItem{{
			ID:         ticket.ID,
			Kind:       payments.LineItem,
			Title:      title,
			Quantity:   1,
			UnitAmount: ticket.Price,
			Currency:   ticket.Currency,
		}},
		ExpiresAt: ticket.ExpiresAt,
	}
	return s.createPreference(ctx, cmd.Provider, req)
}

func (s *paymentService) createPreference(ctx context.Context, provider string, req payments.PreferenceRequest) (PaymentPreference, error) {
	req.SuccessURL = s.urls.Success
	req.FailureURL = s.urls.Failure
	req.PendingURL = s.urls.Pending
	req.NotificationURL = s.urls.Notification
	req.IdempotencyKey = req.ExternalReference + ":" + s.newID()

	pref, err := s.gateway.CreatePreference(ctx, payments.PaymentContext{
		PreferredProvider: provider,
		Currency:          req.Currency,
	}, req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentPreference{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		s.logger(ctx, "payment.preference.failed", map[string]any{
			"reference": req.ExternalReference,
			"error":     err.Error(),
		})
		return PaymentPreference{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	s.logger(ctx, "payment.preference.created", map[string]any{
		"reference":    req.ExternalReference,
		"provider":     pref.Provider,
		"preferenceId": pref.ID,
	})
	return PaymentPreference{
		ID:          pref.ID,
		Provider:    pref.Provider,
		RedirectURL: pref.RedirectURL,
		Reference:   req.ExternalReference,
	}, nil
}

// orderPreferenceItems mirrors the order snapshot: one line per item and customization,
// then shipping and tax, and the coupon discount as a negative adjustment.
func orderPreferenceItems(order Order) []payments.PreferenceItem {
	lines := make([]payments.PreferenceItem, 0, len(order.Items)+3)
	for _, item := range order.Items {
		lines = append(lines, payments.PreferenceItem{
			ID:         item.ID,
			Kind:       payments.LineItem,
			Title:      item.Title,
			Quantity:   int64(item.Quantity),
			UnitAmount: item.UnitPrice,
			Currency:   order.Currency,
		})
		for _, custom := range item.Customizations {
			lines = append(lines, payments.PreferenceItem{
				ID:         custom.ID,
				Kind:       payments.LineCustomization,
				Title:      fmt.Sprintf("%s (%s)", item.Title, strings.ToLower(string(custom.Type))),
				Quantity:   1,
				UnitAmount: custom.Price,
				Currency:   order.Currency,
			})
		}
	}
	extra := []struct {
		kind   payments.LineKind
		title  string
		amount decimal.Decimal
	}{
		{payments.LineShipping, "Shipping", order.Totals.Shipping},
		{payments.LineTax, "Tax", order.Totals.Tax},
		{payments.LineDiscount, "Discount", order.Totals.Discount.Neg()},
	}
	for _, line := range extra {
		if line.amount.IsZero() {
			continue
		}
		lines = append(lines, payments.PreferenceItem{
			ID:         string(line.kind),
			Kind:       line.kind,
			Title:      line.title,
			Quantity:   1,
			UnitAmount: line.amount,
			Currency:   order.Currency,
		})
	}
	return lines
}

func (s *paymentService) HandleNotification(ctx context.Context, notification PaymentNotification) (NotificationResult, error) {
	if !isPaymentNotification(notification.Type) {
		return NotificationResult{Ignored: true}, nil
	}
	paymentID := strings.TrimSpace(notification.DataID)
	if paymentID == "" {
		return NotificationResult{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	details, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{PreferredProvider: notification.Provider}, payments.LookupRequest{PaymentID: paymentID})
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			s.logger(ctx, "payment.notification.unknown_payment", map[string]any{"paymentId": paymentID})
			return NotificationResult{Ignored: true}, nil
		}
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return NotificationResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		return NotificationResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	result := NotificationResult{Reference: details.ExternalReference}
	kind, id, ok := parseReference(details.ExternalReference)
	outcome, actionable := outcomeForStatus(details.Status)
	result.Outcome = outcome
	if !ok {
		result.Ignored = true
		s.logger(ctx, "payment.notification.unknown_reference", map[string]any{
			"paymentId": paymentID,
			"reference": details.ExternalReference,
		})
		s.recordEvent(ctx, details, outcome, false)
		return result, nil
	}
	if !actionable {
		s.recordEvent(ctx, details, outcome, false)
		return result, nil
	}

	cmd := PaymentOutcomeCommand{
		ReferenceID:   id,
		PaymentID:     details.PaymentID,
		PaymentMethod: details.Method,
		Provider:      details.Provider,
		Outcome:       outcome,
		Amount:        details.Amount,
		Currency:      details.Currency,
	}
	var applied PaymentOutcomeResult
	switch kind {
	case referenceOrder:
		applied, err = s.orderSvc.ApplyPaymentOutcome(ctx, cmd)
		if errors.Is(err, ErrOrderNotFound) {
			result.Ignored = true
			err = nil
		}
	case referenceTicket:
		applied, err = s.ticket.ApplyPaymentOutcome(ctx, cmd)
		if errors.Is(err, ErrTicketNotFound) {
			result.Ignored = true
			err = nil
		}
	}
	if errors.Is(err, ErrPaymentAmountMismatch) {
		// The hold stays PENDING and expires through the sweep.
		s.logger(ctx, "payment.notification.amount_mismatch", map[string]any{
			"paymentId": paymentID,
			"reference": details.ExternalReference,
			"amount":    details.Amount.String(),
			"currency":  details.Currency,
			"error":     err.Error(),
		})
		result.Ignored = true
		s.recordEvent(ctx, details, outcome, false)
		return result, nil
	}
	if err != nil {
		return NotificationResult{}, err
	}
	result.Applied = applied.Applied
	s.recordEvent(ctx, details, outcome, applied.Applied)
	s.logger(ctx, "payment.notification.processed", map[string]any{
		"paymentId": paymentID,
		"reference": details.ExternalReference,
		"outcome":   string(outcome),
		"applied":   applied.Applied,
		"ignored":   result.Ignored,
	})
	return result, nil
}

func (s *paymentService) recordEvent(ctx context.Context, details payments.PaymentDetails, outcome PaymentOutcome, applied bool) {
	if s.events == nil {
		return
	}
	event := domain.PaymentEvent{
		ID:                paymentEventIDPrefix + s.newID(),
		Provider:          details.Provider,
		PaymentID:         details.PaymentID,
		Status:            string(details.Status),
		Outcome:           outcome,
		ExternalReference: details.ExternalReference,
		Applied:           applied,
		ReceivedAt:        s.now(),
	}
	if err := s.events.Insert(ctx, event); err != nil {
		s.logger(ctx, "payment.event.record_failed", map[string]any{
			"paymentId": details.PaymentID,
			"error":     err.Error(),
		})
	}
}

// outcomeForStatus maps a gateway status onto the state machines. Pending and refunded
// payments are recorded but never move an order or ticket.
func outcomeForStatus(status payments.Status) (PaymentOutcome, bool) {
	switch status {
	case payments.StatusApproved:
		return domain.PaymentApproved, true
	case payments.StatusRejected, payments.StatusCancelled:
		return domain.PaymentRejected, true
	default:
		return domain.PaymentPending, false
	}
}

func isPaymentNotification(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return kind == "payment" || strings.HasPrefix(kind, "payment.")
}

func formatReference(kind, id string) string {
	return kind + ":" + id
}

func parseReference(reference string) (string, string, bool) {
	kind, id, found := strings.Cut(strings.TrimSpace(reference), ":")
	if !found || strings.TrimSpace(id) == "" {
		return "", "", false
	}
	switch kind {
	case referenceOrder, referenceTicket:
		return kind, strings.TrimSpace(id), true
	default:
		return "", "", false
	}
}
