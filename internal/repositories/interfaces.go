package repositories

import (
	"context"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/shopspring/decimal"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Listings() ListingRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Commissions() CommissionRepository
	Carts() CartRepository
	Shows() ShowRepository
	Tickets() TicketRepository
	Referrals() ReferralRepository
	Counters() CounterRepository
	PaymentEvents() PaymentEventRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transactional boundary. Repositories
// called with the context passed to fn participate in the transaction. Implementations
// must make every read observe committed state isolated from concurrent transactions
// and must discard every write when fn returns an error.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListingRepository persists sellable listings and their stock counters.
type ListingRepository interface {
	FindByID(ctx context.Context, listingID string) (domain.Listing, error)
	Upsert(ctx context.Context, listing domain.Listing) error
	// SetStock overwrites the stock counter; callers read the listing first in the same transaction.
	SetStock(ctx context.Context, listingID string, stock int, updatedAt time.Time) error
	// IncrementStock adds delta to the stock counter without reading it.
	IncrementStock(ctx context.Context, listingID string, delta int, updatedAt time.Time) error
}

// CouponRepository persists coupons and their usage counters.
type CouponRepository interface {
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	Insert(ctx context.Context, coupon domain.Coupon) error
	IncrementUsage(ctx context.Context, couponID string, updatedAt time.Time) error
}

// OrderRepository persists orders with their embedded items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByBuyerAndCoupon(ctx context.Context, buyerID, couponID string) ([]domain.Order, error)
	CountPurchases(ctx context.Context, buyerID string) (int, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)
}

// CommissionRepository persists commission rows derived from paid orders and tickets.
type CommissionRepository interface {
	InsertMany(ctx context.Context, commissions []domain.Commission) error
	Update(ctx context.Context, commission domain.Commission) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Commission, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Commission, error)
}

// CartRepository persists buyer carts.
type CartRepository interface {
	// Get returns an empty cart when none exists.
	Get(ctx context.Context, buyerID string) (domain.Cart, error)
	Upsert(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, buyerID string) error
}

// ShowRepository persists ticketed shows.
type ShowRepository interface {
	FindByID(ctx context.Context, showID string) (domain.Show, error)
	Upsert(ctx context.Context, show domain.Show) error
}

// TicketRepository persists tickets.
type TicketRepository interface {
	Insert(ctx context.Context, ticket domain.Ticket) error
	Update(ctx context.Context, ticket domain.Ticket) error
	FindByID(ctx context.Context, ticketID string) (domain.Ticket, error)
	ListActiveByShow(ctx context.Context, showID string) ([]domain.Ticket, error)
	// ListHoldingByShow returns every ticket that occupies a seat (ACTIVE or USED).
	ListHoldingByShow(ctx context.Context, showID string) ([]domain.Ticket, error)
	ListExpiredUnpaid(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
}

// ReferralRepository persists referral codes and first-purchase redemptions.
type ReferralRepository interface {
	FindByID(ctx context.Context, referralID string) (domain.Referral, error)
	FindByCode(ctx context.Context, code string) (domain.Referral, error)
	Upsert(ctx context.Context, referral domain.Referral) error
	RecordUsage(ctx context.Context, referralID string, commission decimal.Decimal, at time.Time) error
	FindRedemption(ctx context.Context, buyerID string) (domain.ReferralRedemption, error)
	InsertRedemption(ctx context.Context, redemption domain.ReferralRedemption) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// PaymentEventRepository stores processed gateway notifications for audit.
type PaymentEventRepository interface {
	Insert(ctx context.Context, event domain.PaymentEvent) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	BuyerID    string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}
