package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
)

const (
	ticketIDPrefix = "tkt_"
	qrCodePrefix   = "QR-"

	notificationTicketPaid      = "ticket.paid"
	notificationTicketCancelled = "ticket.cancelled"
)

var (
	// ErrTicketInvalidInput signals malformed ticket input.
	ErrTicketInvalidInput = errors.New("ticket: invalid input")
	// ErrTicketNotFound indicates the ticket does not exist.
	ErrTicketNotFound = errors.New("ticket: not found")
	// ErrShowNotFound indicates the show does not exist.
	ErrShowNotFound = errors.New("ticket: show not found")
	// ErrShowNotAvailable indicates the show is cancelled or already started.
	ErrShowNotAvailable = errors.New("ticket: show not available")
	// ErrTicketSoldOut indicates the show has no remaining capacity.
	ErrTicketSoldOut = errors.New("ticket: sold out")
	// ErrTicketAlreadyPurchased indicates the buyer already holds an active ticket for the show.
	ErrTicketAlreadyPurchased = errors.New("ticket: already purchased")
	// ErrTicketSelfPurchase indicates the show owner tried to buy a ticket.
	ErrTicketSelfPurchase = errors.New("ticket: owners cannot buy tickets for their own show")
	// ErrTicketForbidden indicates the caller may not act on the ticket.
	ErrTicketForbidden = errors.New("ticket: forbidden")
	// ErrTicketNotUsable indicates the ticket is unpaid, used or cancelled.
	ErrTicketNotUsable = errors.New("ticket: not usable")
	// ErrTicketConflict indicates a concurrent modification.
	ErrTicketConflict = errors.New("ticket: conflict")
)

// TicketServiceDeps bundles collaborators for ticket sales.
type TicketServiceDeps struct {
	Shows             repositories.ShowRepository
	Tickets           repositories.TicketRepository
	Commissions       repositories.CommissionRepository
	Calculator        CommissionCalculator
	UnitOfWork        repositories.UnitOfWork
	Notifications     NotificationDispatcher
	Metrics           Metrics
	HoldDuration      time.Duration
	Currency          string
	SimulationEnabled bool
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            Logger
}

type ticketService struct {
	shows       repositories.ShowRepository
	tickets     repositories.TicketRepository
	commissions repositories.CommissionRepository
	calculator  CommissionCalculator
	unit        repositories.UnitOfWork
	notify      NotificationDispatcher
	metrics     Metrics
	hold        time.Duration
	currency    string
	simulation  bool
	clock       func() time.Time
	newID       func() string
	logger      Logger
}

var _ TicketService = (*ticketService)(nil)

// NewTicketService constructs the ticket sale state machine.
func NewTicketService(deps TicketServiceDeps) (TicketService, error) {
	switch {
	case deps.Shows == nil:
		return nil, errors.New("ticket service: show repository is required")
	case deps.Tickets == nil:
		return nil, errors.New("ticket service: ticket repository is required")
	case deps.Commissions == nil:
		return nil, errors.New("ticket service: commission repository is required")
	}
	calculator := deps.Calculator
	if calculator == nil {
		calculator = NewCommissionCalculator(CommissionCalculatorDeps{IDGenerator: deps.IDGenerator, Clock: deps.Clock})
	}
	hold := deps.HoldDuration
	if hold <= 0 {
		hold = DefaultPricingPolicy().HoldDuration
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "PEN"
	}
	return &ticketService{
		shows:       deps.Shows,
		tickets:     deps.Tickets,
		commissions: deps.Commissions,
		calculator:  calculator,
		unit:        defaultUnitOfWork(deps.UnitOfWork),
		notify:      defaultDispatcher(deps.Notifications),
		metrics:     defaultMetrics(deps.Metrics),
		hold:        hold,
		currency:    currency,
		simulation:  deps.SimulationEnabled,
		clock:       defaultClock(deps.Clock),
		newID:       defaultIDGenerator(deps.IDGenerator),
		logger:      defaultLogger(deps.Logger),
	}, nil
}

// Purchase creates an unpaid ACTIVE ticket. Capacity counts every ACTIVE or USED ticket,
// including unpaid holds that have not been swept yet.
func (s *ticketService) Purchase(ctx context.Context, cmd PurchaseTicketCommand) (Ticket, error) {
	showID := strings.TrimSpace(cmd.ShowID)
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if showID == "" || buyerID == "" {
		return Ticket{}, fmt.Errorf("%w: show id and buyer id are required", ErrTicketInvalidInput)
	}

	var created Ticket
	err := s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		show, err := s.shows.FindByID(txCtx, showID)
		if err != nil {
			return mapRepositoryError(err, ErrShowNotFound, nil, "ticket")
		}
		now := s.clock()
		if show.Status != domain.ShowScheduled || !now.Before(show.StartsAt) {
			return ErrShowNotAvailable
		}
		if show.OwnerID == buyerID {
			return ErrTicketSelfPurchase
		}

		seats, err := s.tickets.ListHoldingByShow(txCtx, showID)
		if err != nil {
			return err
		}
		for _, ticket := range seats {
			if ticket.BuyerID == buyerID {
				return ErrTicketAlreadyPurchased
			}
		}
		if len(seats) >= show.Capacity {
			return ErrTicketSoldOut
		}

		id := s.newID()
		expires := now.Add(s.hold)
		ticket := Ticket{
			ID:        ticketIDPrefix + id,
			ShowID:    show.ID,
			BuyerID:   buyerID,
			QRCode:    qrCodePrefix + id,
			Price:     domain.RoundMoney(show.TicketPrice),
			Currency:  s.currency,
			Status:    domain.TicketStatusActive,
			ExpiresAt: &expires,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.tickets.Insert(txCtx, ticket); err != nil {
			return err
		}
		created = ticket
		return nil
	})
	if err != nil {
		return Ticket{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "ticket.reserved", map[string]any{
		"ticketId": created.ID,
		"showId":   created.ShowID,
		"buyerId":  created.BuyerID,
	})
	return created, nil
}

func (s *ticketService) GetTicket(ctx context.Context, ticketID string, viewer Viewer) (Ticket, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return Ticket{}, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}
	ticket, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return Ticket{}, s.mapRepositoryError(err)
	}
	if !viewer.Staff && ticket.BuyerID != viewer.UserID {
		return Ticket{}, ErrTicketForbidden
	}
	return ticket, nil
}

func (s *ticketService) ApplyPaymentOutcome(ctx context.Context, cmd PaymentOutcomeCommand) (PaymentOutcomeResult, error) {
	ticketID := strings.TrimSpace(cmd.ReferenceID)
	if ticketID == "" {
		return PaymentOutcomeResult{}, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}

	var (
		result  PaymentOutcomeResult
		updated Ticket
		earned  []Commission
	)
	err := s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		result = PaymentOutcomeResult{}
		earned = nil

		ticket, err := s.tickets.FindByID(txCtx, ticketID)
		if err != nil {
			return err
		}
		result.Status = ticketState(ticket)
		if !ticket.AwaitingPayment() {
			return nil
		}

		now := s.clock()
		switch cmd.Outcome {
		case domain.PaymentApproved:
			if err := verifyCharge(cmd, ticket.Price, ticket.Currency); err != nil {
				return err
			}
			show, err := s.shows.FindByID(txCtx, ticket.ShowID)
			if err != nil {
				return mapRepositoryError(err, ErrShowNotFound, nil, "ticket")
			}
			ticket.PaidAt = &now
			ticket.ExpiresAt = nil
			ticket.PaymentID = strings.TrimSpace(cmd.PaymentID)
			ticket.PaymentMethod = strings.TrimSpace(cmd.PaymentMethod)
			ticket.PaymentProvider = strings.TrimSpace(cmd.Provider)
			earned = s.calculator.ForTicket(ticket, show)
			if len(earned) > 0 {
				if err := s.commissions.InsertMany(txCtx, earned); err != nil {
					return err
				}
			}
		case domain.PaymentRejected:
			ticket.PaymentID = strings.TrimSpace(cmd.PaymentID)
			ticket.PaymentProvider = strings.TrimSpace(cmd.Provider)
			cancelTicket(&ticket, now)
		default:
			return nil
		}
		ticket.UpdatedAt = now
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return err
		}
		updated = ticket
		result = PaymentOutcomeResult{Applied: true, Status: ticketState(ticket)}
		return nil
	})
	if err != nil {
		return PaymentOutcomeResult{}, s.mapRepositoryError(err)
	}

	s.metrics.PaymentOutcomeApplied("ticket", cmd.Outcome, result.Applied)
	s.logger(ctx, "ticket.payment_outcome", map[string]any{
		"ticketId": ticketID,
		"outcome":  string(cmd.Outcome),
		"applied":  result.Applied,
		"status":   result.Status,
	})
	if result.Applied {
		kind := notificationTicketPaid
		if updated.Status == domain.TicketStatusCancelled {
			kind = notificationTicketCancelled
		}
		s.notifyTicket(ctx, kind, updated)
	}
	return result, nil
}

func (s *ticketService) SimulatePayment(ctx context.Context, cmd SimulatePaymentCommand) (PaymentOutcomeResult, error) {
	if !s.simulation {
		return PaymentOutcomeResult{}, ErrPaymentSimulationDisabled
	}
	ticket, err := s.GetTicket(ctx, cmd.ReferenceID, Viewer{UserID: strings.TrimSpace(cmd.BuyerID)})
	if err != nil {
		return PaymentOutcomeResult{}, err
	}
	outcome := cmd.Outcome
	if outcome == "" {
		outcome = domain.PaymentApproved
	}
	return s.ApplyPaymentOutcome(ctx, PaymentOutcomeCommand{
		ReferenceID:   ticket.ID,
		PaymentID:     "sim_" + s.newID(),
		PaymentMethod: simulatedPaymentMethod,
		Provider:      simulatedPaymentProvider,
		Outcome:       outcome,
	})
}

// MarkUsed checks a paid ticket in. Only the show owner or staff may do so.
func (s *ticketService) MarkUsed(ctx context.Context, cmd MarkTicketUsedCommand) (Ticket, error) {
	ticketID := strings.TrimSpace(cmd.TicketID)
	if ticketID == "" {
		return Ticket{}, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}

	var updated Ticket
	err := s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		ticket, err := s.tickets.FindByID(txCtx, ticketID)
		if err != nil {
			return err
		}
		show, err := s.shows.FindByID(txCtx, ticket.ShowID)
		if err != nil {
			return mapRepositoryError(err, ErrShowNotFound, nil, "ticket")
		}
		if !cmd.Staff && show.OwnerID != strings.TrimSpace(cmd.ActorID) {
			return ErrTicketForbidden
		}
		if !ticket.CanUse() {
			return fmt.Errorf("%w: ticket is %s", ErrTicketNotUsable, ticketState(ticket))
		}
		now := s.clock()
		ticket.Status = domain.TicketStatusUsed
		ticket.UsedAt = &now
		ticket.UpdatedAt = now
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return err
		}
		updated = ticket
		return nil
	})
	if err != nil {
		return Ticket{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "ticket.used", map[string]any{"ticketId": updated.ID, "actorId": cmd.ActorID})
	return updated, nil
}

// CancelShow cancels the show, every ACTIVE ticket and their commissions. Repeating
// the call on a cancelled show is a no-op.
func (s *ticketService) CancelShow(ctx context.Context, cmd CancelShowCommand) (CancelShowResult, error) {
	showID := strings.TrimSpace(cmd.ShowID)
	if showID == "" {
		return CancelShowResult{}, fmt.Errorf("%w: show id is required", ErrTicketInvalidInput)
	}

	var (
		result    CancelShowResult
		cancelled []Ticket
	)
	err := s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		result = CancelShowResult{}
		cancelled = nil

		show, err := s.shows.FindByID(txCtx, showID)
		if err != nil {
			return mapRepositoryError(err, ErrShowNotFound, nil, "ticket")
		}
		if !cmd.Staff && show.OwnerID != strings.TrimSpace(cmd.ActorID) {
			return ErrTicketForbidden
		}
		result.Show = show
		if show.Status == domain.ShowCancelled {
			return nil
		}

		active, err := s.tickets.ListActiveByShow(txCtx, showID)
		if err != nil {
			return err
		}
		now := s.clock()
		for _, ticket := range active {
			ticket := ticket
			rows, err := s.commissions.ListByTicket(txCtx, ticket.ID)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if row.Status == domain.CommissionCancelled {
					continue
				}
				row.Status = domain.CommissionCancelled
				row.CancelledAt = &now
				if err := s.commissions.Update(txCtx, row); err != nil {
					return err
				}
			}
			cancelTicket(&ticket, now)
			ticket.UpdatedAt = now
			if err := s.tickets.Update(txCtx, ticket); err != nil {
				return err
			}
			cancelled = append(cancelled, ticket)
		}

		show.Status = domain.ShowCancelled
		show.UpdatedAt = now
		if err := s.shows.Upsert(txCtx, show); err != nil {
			return err
		}
		result.Show = show
		result.TicketsCancelled = len(cancelled)
		return nil
	})
	if err != nil {
		return CancelShowResult{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "show.cancelled", map[string]any{
		"showId":  showID,
		"tickets": result.TicketsCancelled,
		"actorId": cmd.ActorID,
	})
	for _, ticket := range cancelled {
		s.notifyTicket(ctx, notificationTicketCancelled, ticket)
	}
	return result, nil
}

// ExpireTicket cancels the ticket only while it is an unpaid hold past its expiry.
func (s *ticketService) ExpireTicket(ctx context.Context, ticketID string, now time.Time) (bool, error) {
	var (
		expired bool
		updated Ticket
	)
	err := s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		expired = false
		ticket, err := s.tickets.FindByID(txCtx, ticketID)
		if err != nil {
			return err
		}
		if !ticket.AwaitingPayment() || ticket.ExpiresAt == nil || now.Before(*ticket.ExpiresAt) {
			return nil
		}
		stamp := now.UTC()
		cancelTicket(&ticket, stamp)
		ticket.UpdatedAt = stamp
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return err
		}
		updated = ticket
		expired = true
		return nil
	})
	if err != nil {
		return false, s.mapRepositoryError(err)
	}
	if expired {
		s.logger(ctx, "ticket.expired", map[string]any{"ticketId": updated.ID})
		s.notifyTicket(ctx, notificationTicketCancelled, updated)
	}
	return expired, nil
}

func (s *ticketService) notifyTicket(ctx context.Context, kind string, ticket Ticket) {
	s.notify.Dispatch(ctx, Notification{
		Type:        kind,
		RecipientID: ticket.BuyerID,
		TicketID:    ticket.ID,
		Data: map[string]any{
			"showId": ticket.ShowID,
			"qrCode": ticket.QRCode,
		},
		OccurredAt: s.clock(),
	})
}

func (s *ticketService) mapRepositoryError(err error) error {
	return mapRepositoryError(err, ErrTicketNotFound, ErrTicketConflict, "ticket")
}

func cancelTicket(ticket *Ticket, now time.Time) {
	ticket.Status = domain.TicketStatusCancelled
	ticket.CancelledAt = &now
	ticket.ExpiresAt = nil
}

// ticketState renders the combined status and payment state for callers.
func ticketState(ticket Ticket) string {
	if ticket.Status == domain.TicketStatusActive {
		if ticket.Paid() {
			return "ACTIVE_PAID"
		}
		return "ACTIVE_UNPAID"
	}
	return string(ticket.Status)
}
