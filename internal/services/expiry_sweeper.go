package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/artisan-market/api/internal/repositories"
)

const defaultSweepBatchSize = 100

// ExpirySweeperDeps wires the sweep to the listing queries and the state machines.
type ExpirySweeperDeps struct {
	Orders        repositories.OrderRepository
	Tickets       repositories.TicketRepository
	OrderService  OrderService
	TicketService TicketService
	BatchSize     int
	Metrics       Metrics
	Clock         func() time.Time
	Logger        Logger
}

type expirySweeper struct {
	orders   repositories.OrderRepository
	tickets  repositories.TicketRepository
	orderSvc OrderService
	ticket   TicketService
	batch    int
	metrics  Metrics
	now      func() time.Time
	logger   Logger

	lastRun atomic.Int64
}

var (
	_ ExpirySweeper = (*expirySweeper)(nil)
	_ SweepMonitor  = (*expirySweeper)(nil)
)

// NewExpirySweeper validates dependencies and returns the sweeper.
func NewExpirySweeper(deps ExpirySweeperDeps) (ExpirySweeper, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("expiry sweeper: order repository is required")
	case deps.Tickets == nil:
		return nil, errors.New("expiry sweeper: ticket repository is required")
	case deps.OrderService == nil:
		return nil, errors.New("expiry sweeper: order service is required")
	case deps.TicketService == nil:
		return nil, errors.New("expiry sweeper: ticket service is required")
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &expirySweeper{
		orders:   deps.Orders,
		tickets:  deps.Tickets,
		orderSvc: deps.OrderService,
		ticket:   deps.TicketService,
		batch:    batch,
		metrics:  defaultMetrics(deps.Metrics),
		now:      defaultClock(deps.Clock),
		logger:   defaultLogger(deps.Logger),
	}, nil
}

// Sweep cancels one batch of lapsed order and ticket holds. Each record is expired in its
// own transaction so a single failure never blocks the rest.
func (s *expirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var result SweepResult

	orders, err := s.orders.ListExpiredPending(ctx, now, s.batch)
	if err != nil {
		return result, err
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			s.report(ctx, result)
			return result, ctx.Err()
		}
		expired, err := s.orderSvc.ExpireOrder(ctx, order.ID, now)
		if err != nil {
			result.Failures++
			s.logger(ctx, "sweep.order.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			continue
		}
		if expired {
			result.OrdersExpired++
		}
	}

	tickets, err := s.tickets.ListExpiredUnpaid(ctx, now, s.batch)
	if err != nil {
		s.report(ctx, result)
		return result, err
	}
	for _, ticket := range tickets {
		if ctx.Err() != nil {
			s.report(ctx, result)
			return result, ctx.Err()
		}
		expired, err := s.ticket.ExpireTicket(ctx, ticket.ID, now)
		if err != nil {
			result.Failures++
			s.logger(ctx, "sweep.ticket.failed", map[string]any{"ticketId": ticket.ID, "error": err.Error()})
			continue
		}
		if expired {
			result.TicketsExpired++
		}
	}

	s.report(ctx, result)
	s.lastRun.Store(now.UnixNano())
	return result, nil
}

// LastSweep returns when a sweep last ran to completion, or the zero time.
func (s *expirySweeper) LastSweep() time.Time {
	nanos := s.lastRun.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func (s *expirySweeper) report(ctx context.Context, result SweepResult) {
	s.metrics.HoldsExpired("order", result.OrdersExpired)
	s.metrics.HoldsExpired("ticket", result.TicketsExpired)
	if result.OrdersExpired+result.TicketsExpired+result.Failures == 0 {
		return
	}
	s.logger(ctx, "sweep.completed", map[string]any{
		"ordersExpired":  result.OrdersExpired,
		"ticketsExpired": result.TicketsExpired,
		"failures":       result.Failures,
	})
}
