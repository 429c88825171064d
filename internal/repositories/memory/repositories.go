package memory

import (
	"context"
	"sort"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/platform/pagination"
	"github.com/artisan-market/api/internal/repositories"
	"github.com/shopspring/decimal"
)

type listingRepo struct{ s *Store }

func (r listingRepo) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	var out domain.Listing
	err := r.s.read(ctx, func(st *state) error {
		listing, ok := st.listings[listingID]
		if !ok {
			return notFound("listing", listingID)
		}
		out = cloneListing(listing)
		return nil
	})
	return out, err
}

func (r listingRepo) Upsert(ctx context.Context, listing domain.Listing) error {
	return r.s.write(ctx, func(st *state) error {
		st.listings[listing.ID] = cloneListing(listing)
		return nil
	})
}

func (r listingRepo) SetStock(ctx context.Context, listingID string, stock int, updatedAt time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		listing, ok := st.listings[listingID]
		if !ok {
			return notFound("listing", listingID)
		}
		listing.Stock = stock
		listing.UpdatedAt = updatedAt
		st.listings[listingID] = listing
		return nil
	})
}

func (r listingRepo) IncrementStock(ctx context.Context, listingID string, delta int, updatedAt time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		listing, ok := st.listings[listingID]
		if !ok {
			return notFound("listing", listingID)
		}
		listing.Stock += delta
		listing.UpdatedAt = updatedAt
		st.listings[listingID] = listing
		return nil
	})
}

type couponRepo struct{ s *Store }

func (r couponRepo) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	var out domain.Coupon
	err := r.s.read(ctx, func(st *state) error {
		coupon, ok := st.coupons[couponID]
		if !ok {
			return notFound("coupon", couponID)
		}
		out = coupon
		return nil
	})
	return out, err
}

func (r couponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var out domain.Coupon
	err := r.s.read(ctx, func(st *state) error {
		for _, coupon := range st.coupons {
			if coupon.Code == code {
				out = coupon
				return nil
			}
		}
		return notFound("coupon", code)
	})
	return out, err
}

func (r couponRepo) Insert(ctx context.Context, coupon domain.Coupon) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.coupons[coupon.ID]; ok {
			return conflict("coupon", coupon.ID)
		}
		for _, existing := range st.coupons {
			if existing.Code == coupon.Code {
				return conflict("coupon", coupon.Code)
			}
		}
		st.coupons[coupon.ID] = coupon
		return nil
	})
}

func (r couponRepo) IncrementUsage(ctx context.Context, couponID string, updatedAt time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		coupon, ok := st.coupons[couponID]
		if !ok {
			return notFound("coupon", couponID)
		}
		coupon.UsedCount++
		coupon.UpdatedAt = updatedAt
		st.coupons[couponID] = coupon
		return nil
	})
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.orders[order.ID]; ok {
			return conflict("order", order.ID)
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.orders[order.ID]; !ok {
			return notFound("order", order.ID)
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.s.read(ctx, func(st *state) error {
		order, ok := st.orders[orderID]
		if !ok {
			return notFound("order", orderID)
		}
		out = cloneOrder(order)
		return nil
	})
	return out, err
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var matched []domain.Order
	err := r.s.read(ctx, func(st *state) error {
		for _, order := range st.orders {
			if filter.BuyerID != "" && order.BuyerID != filter.BuyerID {
				continue
			}
			if len(filter.Status) > 0 && !containsStatus(filter.Status, order.Status) {
				continue
			}
			matched = append(matched, cloneOrder(order))
		}
		return nil
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Pagination), nil
}

func (r orderRepo) ListByBuyerAndCoupon(ctx context.Context, buyerID, couponID string) ([]domain.Order, error) {
	var out []domain.Order
	err := r.s.read(ctx, func(st *state) error {
		for _, order := range st.orders {
			if order.BuyerID == buyerID && order.CouponID == couponID {
				out = append(out, cloneOrder(order))
			}
		}
		return nil
	})
	return out, err
}

func (r orderRepo) CountPurchases(ctx context.Context, buyerID string) (int, error) {
	count := 0
	err := r.s.read(ctx, func(st *state) error {
		for _, order := range st.orders {
			if order.BuyerID == buyerID && order.Status.CountsAsPurchase() {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r orderRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	var out []domain.Order
	err := r.s.read(ctx, func(st *state) error {
		for _, order := range st.orders {
			if order.Status != domain.OrderStatusPending || order.ExpiresAt == nil || order.ExpiresAt.After(now) {
				continue
			}
			out = append(out, cloneOrder(order))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type commissionRepo struct{ s *Store }

func (r commissionRepo) InsertMany(ctx context.Context, commissions []domain.Commission) error {
	return r.s.write(ctx, func(st *state) error {
		for _, c := range commissions {
			if _, ok := st.commissions[c.ID]; ok {
				return conflict("commission", c.ID)
			}
		}
		for _, c := range commissions {
			st.commissions[c.ID] = c
		}
		return nil
	})
}

func (r commissionRepo) Update(ctx context.Context, commission domain.Commission) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.commissions[commission.ID]; !ok {
			return notFound("commission", commission.ID)
		}
		st.commissions[commission.ID] = commission
		return nil
	})
}

func (r commissionRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Commission, error) {
	return r.list(ctx, func(c domain.Commission) bool { return c.OrderID == orderID })
}

func (r commissionRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Commission, error) {
	return r.list(ctx, func(c domain.Commission) bool { return c.TicketID == ticketID })
}

func (r commissionRepo) list(ctx context.Context, match func(domain.Commission) bool) ([]domain.Commission, error) {
	var out []domain.Commission
	err := r.s.read(ctx, func(st *state) error {
		for _, c := range st.commissions {
			if match(c) {
				out = append(out, c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type cartRepo struct{ s *Store }

func (r cartRepo) Get(ctx context.Context, buyerID string) (domain.Cart, error) {
	out := domain.Cart{BuyerID: buyerID}
	err := r.s.read(ctx, func(st *state) error {
		if cart, ok := st.carts[buyerID]; ok {
			out = cloneCart(cart)
		}
		return nil
	})
	return out, err
}

func (r cartRepo) Upsert(ctx context.Context, cart domain.Cart) error {
	return r.s.write(ctx, func(st *state) error {
		st.carts[cart.BuyerID] = cloneCart(cart)
		return nil
	})
}

func (r cartRepo) Delete(ctx context.Context, buyerID string) error {
	return r.s.write(ctx, func(st *state) error {
		delete(st.carts, buyerID)
		return nil
	})
}

type showRepo struct{ s *Store }

func (r showRepo) FindByID(ctx context.Context, showID string) (domain.Show, error) {
	var out domain.Show
	err := r.s.read(ctx, func(st *state) error {
		show, ok := st.shows[showID]
		if !ok {
			return notFound("show", showID)
		}
		out = show
		return nil
	})
	return out, err
}

func (r showRepo) Upsert(ctx context.Context, show domain.Show) error {
	return r.s.write(ctx, func(st *state) error {
		st.shows[show.ID] = show
		return nil
	})
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Insert(ctx context.Context, ticket domain.Ticket) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.tickets[ticket.ID]; ok {
			return conflict("ticket", ticket.ID)
		}
		for _, existing := range st.tickets {
			if existing.QRCode == ticket.QRCode {
				return conflict("ticket qr", ticket.QRCode)
			}
		}
		st.tickets[ticket.ID] = ticket
		return nil
	})
}

func (r ticketRepo) Update(ctx context.Context, ticket domain.Ticket) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.tickets[ticket.ID]; !ok {
			return notFound("ticket", ticket.ID)
		}
		st.tickets[ticket.ID] = ticket
		return nil
	})
}

func (r ticketRepo) FindByID(ctx context.Context, ticketID string) (domain.Ticket, error) {
	var out domain.Ticket
	err := r.s.read(ctx, func(st *state) error {
		ticket, ok := st.tickets[ticketID]
		if !ok {
			return notFound("ticket", ticketID)
		}
		out = ticket
		return nil
	})
	return out, err
}

func (r ticketRepo) ListActiveByShow(ctx context.Context, showID string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := r.s.read(ctx, func(st *state) error {
		for _, ticket := range st.tickets {
			if ticket.ShowID == showID && ticket.Status == domain.TicketStatusActive {
				out = append(out, ticket)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r ticketRepo) ListHoldingByShow(ctx context.Context, showID string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := r.s.read(ctx, func(st *state) error {
		for _, ticket := range st.tickets {
			if ticket.ShowID == showID && ticket.Holding() {
				out = append(out, ticket)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r ticketRepo) ListExpiredUnpaid(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := r.s.read(ctx, func(st *state) error {
		for _, ticket := range st.tickets {
			if !ticket.AwaitingPayment() || ticket.ExpiresAt == nil || ticket.ExpiresAt.After(now) {
				continue
			}
			out = append(out, ticket)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type referralRepo struct{ s *Store }

func (r referralRepo) FindByID(ctx context.Context, referralID string) (domain.Referral, error) {
	var out domain.Referral
	err := r.s.read(ctx, func(st *state) error {
		referral, ok := st.referrals[referralID]
		if !ok {
			return notFound("referral", referralID)
		}
		out = referral
		return nil
	})
	return out, err
}

func (r referralRepo) FindByCode(ctx context.Context, code string) (domain.Referral, error) {
	var out domain.Referral
	err := r.s.read(ctx, func(st *state) error {
		for _, referral := range st.referrals {
			if referral.Code == code {
				out = referral
				return nil
			}
		}
		return notFound("referral", code)
	})
	return out, err
}

func (r referralRepo) Upsert(ctx context.Context, referral domain.Referral) error {
	return r.s.write(ctx, func(st *state) error {
		st.referrals[referral.ID] = referral
		return nil
	})
}

func (r referralRepo) RecordUsage(ctx context.Context, referralID string, commission decimal.Decimal, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		referral, ok := st.referrals[referralID]
		if !ok {
			return notFound("referral", referralID)
		}
		referral.UsedCount++
		referral.TotalCommission = referral.TotalCommission.Add(commission)
		referral.UpdatedAt = at
		st.referrals[referralID] = referral
		return nil
	})
}

func (r referralRepo) FindRedemption(ctx context.Context, buyerID string) (domain.ReferralRedemption, error) {
	var out domain.ReferralRedemption
	err := r.s.read(ctx, func(st *state) error {
		redemption, ok := st.redemptions[buyerID]
		if !ok {
			return notFound("referral redemption", buyerID)
		}
		out = redemption
		return nil
	})
	return out, err
}

func (r referralRepo) InsertRedemption(ctx context.Context, redemption domain.ReferralRedemption) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.redemptions[redemption.BuyerID]; ok {
			return conflict("referral redemption", redemption.BuyerID)
		}
		st.redemptions[redemption.BuyerID] = redemption
		return nil
	})
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	var next int64
	err := r.s.write(ctx, func(st *state) error {
		st.counters[counterID] += step
		next = st.counters[counterID]
		return nil
	})
	return next, err
}

type paymentEventRepo struct{ s *Store }

func (r paymentEventRepo) Insert(ctx context.Context, event domain.PaymentEvent) error {
	return r.s.write(ctx, func(st *state) error {
		st.paymentEvents = append(st.paymentEvents, event)
		return nil
	})
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page domain.Pagination) domain.CursorPage[T] {
	size := pagination.ClampPageSize(page.PageSize, pagination.Options{})
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		cursor = pagination.Cursor{}
	}
	if cursor.Offset >= len(items) {
		return domain.CursorPage[T]{}
	}
	end := cursor.Offset + size
	hasMore := end < len(items)
	if !hasMore {
		end = len(items)
	}
	return domain.CursorPage[T]{
		Items:         items[cursor.Offset:end],
		NextPageToken: cursor.Next(size, hasMore),
	}
}
