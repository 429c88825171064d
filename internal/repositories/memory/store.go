// Package memory provides an in-process implementation of the repository registry used
// for local development and tests. Transactions are serialised and operate on a private
// copy of the data which replaces the committed state only when the callback succeeds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
	"github.com/shopspring/decimal"
)

type errorCode int

const (
	codeNotFound errorCode = iota + 1
	codeConflict
)

// Error implements repositories.RepositoryError for the in-memory store.
type Error struct {
	code errorCode
	msg  string
}

func (e *Error) Error() string       { return e.msg }
func (e *Error) IsNotFound() bool    { return e.code == codeNotFound }
func (e *Error) IsConflict() bool    { return e.code == codeConflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(kind, id string) error {
	return &Error{code: codeNotFound, msg: fmt.Sprintf("memory: %s %q not found", kind, id)}
}

func conflict(kind, id string) error {
	return &Error{code: codeConflict, msg: fmt.Sprintf("memory: %s %q already exists", kind, id)}
}

type state struct {
	listings      map[string]domain.Listing
	coupons       map[string]domain.Coupon
	orders        map[string]domain.Order
	commissions   map[string]domain.Commission
	carts         map[string]domain.Cart
	shows         map[string]domain.Show
	tickets       map[string]domain.Ticket
	referrals     map[string]domain.Referral
	redemptions   map[string]domain.ReferralRedemption
	counters      map[string]int64
	paymentEvents []domain.PaymentEvent
}

func newState() *state {
	return &state{
		listings:    map[string]domain.Listing{},
		coupons:     map[string]domain.Coupon{},
		orders:      map[string]domain.Order{},
		commissions: map[string]domain.Commission{},
		carts:       map[string]domain.Cart{},
		shows:       map[string]domain.Show{},
		tickets:     map[string]domain.Ticket{},
		referrals:   map[string]domain.Referral{},
		redemptions: map[string]domain.ReferralRedemption{},
		counters:    map[string]int64{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.listings {
		out.listings[k] = cloneListing(v)
	}
	for k, v := range s.coupons {
		out.coupons[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.commissions {
		out.commissions[k] = v
	}
	for k, v := range s.carts {
		out.carts[k] = cloneCart(v)
	}
	for k, v := range s.shows {
		out.shows[k] = v
	}
	for k, v := range s.tickets {
		out.tickets[k] = v
	}
	for k, v := range s.referrals {
		out.referrals[k] = v
	}
	for k, v := range s.redemptions {
		out.redemptions[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	out.paymentEvents = append([]domain.PaymentEvent(nil), s.paymentEvents...)
	return out
}

// Store is an in-memory repositories.Registry.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{data: newState()}
}

type txKey struct{}

// RunInTx executes fn against a private copy of the data and commits it when fn succeeds.
// Calls nested inside an active transaction join it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction callback is required")
	}
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, working)); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

// read runs fn against the transaction state when present, otherwise against committed data.
func (s *Store) read(ctx context.Context, fn func(*state) error) error {
	if tx, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(tx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

// write applies fn inside the active transaction, or as a single-operation transaction.
func (s *Store) write(ctx context.Context, fn func(*state) error) error {
	if tx, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(tx)
	}
	return s.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*state))
	})
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Listings() repositories.ListingRepository       { return listingRepo{s} }
func (s *Store) Coupons() repositories.CouponRepository         { return couponRepo{s} }
func (s *Store) Orders() repositories.OrderRepository           { return orderRepo{s} }
func (s *Store) Commissions() repositories.CommissionRepository { return commissionRepo{s} }
func (s *Store) Carts() repositories.CartRepository             { return cartRepo{s} }
func (s *Store) Shows() repositories.ShowRepository             { return showRepo{s} }
func (s *Store) Tickets() repositories.TicketRepository         { return ticketRepo{s} }
func (s *Store) Referrals() repositories.ReferralRepository      { return referralRepo{s} }
func (s *Store) Counters() repositories.CounterRepository       { return counterRepo{s} }
func (s *Store) PaymentEvents() repositories.PaymentEventRepository {
	return paymentEventRepo{s}
}

// RecordedPaymentEvents returns a copy of the recorded payment events.
func (s *Store) RecordedPaymentEvents() []domain.PaymentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.PaymentEvent(nil), s.data.paymentEvents...)
}

func cloneListing(l domain.Listing) domain.Listing {
	if l.CustomizationOptions != nil {
		opts := make(map[domain.CustomizationType]decimal.Decimal, len(l.CustomizationOptions))
		for k, v := range l.CustomizationOptions {
			opts[k] = v
		}
		l.CustomizationOptions = opts
	}
	return l
}

func cloneOrder(o domain.Order) domain.Order {
	if o.Items != nil {
		items := make([]domain.OrderItem, len(o.Items))
		for i, item := range o.Items {
			item.Customizations = append([]domain.OrderItemCustomization(nil), item.Customizations...)
			items[i] = item
		}
		o.Items = items
	}
	return o
}

func cloneCart(c domain.Cart) domain.Cart {
	if c.Items != nil {
		items := make([]domain.CartItem, len(c.Items))
		for i, item := range c.Items {
			item.Customizations = append([]domain.CustomizationType(nil), item.Customizations...)
			items[i] = item
		}
		c.Items = items
	}
	return c
}
