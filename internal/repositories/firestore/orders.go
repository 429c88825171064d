package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/platform/pagination"
	"github.com/artisan-market/api/internal/repositories"
	pfirestore "github.com/artisan-market/api/internal/platform/firestore"
)

var purchaseStatuses = []string{
	string(domain.OrderStatusPaid),
	string(domain.OrderStatusProcessing),
	string(domain.OrderStatusShipped),
	string(domain.OrderStatusDelivered),
}

func isNotFound(err error) bool {
	var repoErr *pfirestore.Error
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

type orderRepository struct {
	base *pfirestore.BaseRepository[domain.Order]
}

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, order)
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.base.Set(ctx, order.ID, order)
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.base.Get(ctx, orderID)
}

// List pages with an offset cursor; orders are newest first.
func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	size := pagination.ClampPageSize(filter.Pagination.PageSize, pagination.Options{})
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		cursor = pagination.Cursor{}
	}

	orders, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.BuyerID != "" {
			q = q.Where("buyerId", "==", filter.BuyerID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		return q.OrderBy("createdAt", firestore.Desc).Offset(cursor.Offset).Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	hasMore := len(orders) > size
	if hasMore {
		orders = orders[:size]
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: cursor.Next(size, hasMore)}, nil
}

func (r *orderRepository) ListByBuyerAndCoupon(ctx context.Context, buyerID, couponID string) ([]domain.Order, error) {
	return r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("buyerId", "==", buyerID).Where("couponId", "==", couponID)
	})
}

func (r *orderRepository) CountPurchases(ctx context.Context, buyerID string) (int, error) {
	orders, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("buyerId", "==", buyerID).Where("status", "in", purchaseStatuses)
	})
	if err != nil {
		return 0, err
	}
	return len(orders), nil
}

func (r *orderRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	return r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.OrderStatusPending)).
			Where("expiresAt", "<=", now.UTC()).
			OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
}

type commissionRepository struct {
	base *pfirestore.BaseRepository[domain.Commission]
}

func (r *commissionRepository) InsertMany(ctx context.Context, commissions []domain.Commission) error {
	for _, commission := range commissions {
		if err := r.base.Create(ctx, commission.ID, commission); err != nil {
			return err
		}
	}
	return nil
}

func (r *commissionRepository) Update(ctx context.Context, commission domain.Commission) error {
	return r.base.Set(ctx, commission.ID, commission)
}

func (r *commissionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Commission, error) {
	return r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
}

func (r *commissionRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Commission, error) {
	return r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("ticketId", "==", ticketID)
	})
}

type ticketRepository struct {
	base *pfirestore.BaseRepository[domain.Ticket]
}

// Insert creates the ticket. QR codes embed the ticket ULID so they are unique without
// a secondary index.
func (r *ticketRepository) Insert(ctx context.Context, ticket domain.Ticket) error {
	return r.base.Create(ctx, ticket.ID, ticket)
}

func (r *ticketRepository) Update(ctx context.Context, ticket domain.Ticket) error {
	return r.base.Set(ctx, ticket.ID, ticket)
}

func (r *ticketRepository) FindByID(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return r.base.Get(ctx, ticketID)
}

func (r *ticketRepository) ListActiveByShow(ctx context.Context, showID string) ([]domain.Ticket, error) {
	return r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("showId", "==", showID).Where("status", "==", string(domain.TicketStatusActive))
	})
}

func (r *ticketRepository) ListHoldingByShow(ctx context.Context, showID string) ([]domain.Ticket, error) {
	return r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("showId", "==", showID).
			Where("status", "in", []string{string(domain.TicketStatusActive), string(domain.TicketStatusUsed)})
	})
}

func (r *ticketRepository) ListExpiredUnpaid(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	tickets, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.TicketStatusActive)).
			Where("expiresAt", "<=", now.UTC()).
			OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := tickets[:0]
	for _, ticket := range tickets {
		if ticket.AwaitingPayment() {
			out = append(out, ticket)
		}
	}
	return out, nil
}
