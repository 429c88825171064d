// Package firestore implements the repository registry on Cloud Firestore.
package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
	pfirestore "github.com/artisan-market/api/internal/platform/firestore"
)

const (
	listingsCollection      = "listings"
	couponsCollection       = "coupons"
	ordersCollection        = "orders"
	commissionsCollection   = "commissions"
	cartsCollection         = "carts"
	showsCollection         = "shows"
	ticketsCollection       = "tickets"
	referralsCollection     = "referrals"
	redemptionsCollection   = "referralRedemptions"
	countersCollection      = "counters"
	paymentEventsCollection = "paymentEvents"
)

// Registry wires Firestore-backed repositories that share one provider and unit of work.
type Registry struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork

	listings      *listingRepository
	coupons       *couponRepository
	orders        *orderRepository
	commissions   *commissionRepository
	carts         *cartRepository
	shows         *showRepository
	tickets       *ticketRepository
	referrals     *referralRepository
	counters      *counterRepository
	paymentEvents *paymentEventRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore registry.
func NewRegistry(provider *pfirestore.Provider, opts ...pfirestore.TxOption) *Registry {
	uow := pfirestore.NewUnitOfWork(provider, opts...)
	return &Registry{
		provider: provider,
		uow:      uow,
		listings: &listingRepository{base: pfirestore.NewBaseRepository[domain.Listing](provider, listingsCollection,
			func(l domain.Listing) (any, error) { return encodeListing(l), nil },
			decodeWith(decodeListing))},
		coupons: &couponRepository{base: pfirestore.NewBaseRepository[domain.Coupon](provider, couponsCollection,
			func(c domain.Coupon) (any, error) { return encodeCoupon(c), nil },
			decodeWith(decodeCoupon))},
		orders: &orderRepository{base: pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection,
			func(o domain.Order) (any, error) { return encodeOrder(o), nil },
			decodeWith(decodeOrder))},
		commissions: &commissionRepository{base: pfirestore.NewBaseRepository[domain.Commission](provider, commissionsCollection,
			func(c domain.Commission) (any, error) { return encodeCommission(c), nil },
			decodeWith(decodeCommission))},
		carts: &cartRepository{base: pfirestore.NewBaseRepository[domain.Cart](provider, cartsCollection,
			func(c domain.Cart) (any, error) { return encodeCart(c), nil },
			decodeWith(decodeCart))},
		shows: &showRepository{base: pfirestore.NewBaseRepository[domain.Show](provider, showsCollection,
			func(s domain.Show) (any, error) { return encodeShow(s), nil },
			decodeWith(decodeShow))},
		tickets: &ticketRepository{base: pfirestore.NewBaseRepository[domain.Ticket](provider, ticketsCollection,
			func(t domain.Ticket) (any, error) { return encodeTicket(t), nil },
			decodeWith(decodeTicket))},
		referrals: &referralRepository{
			base: pfirestore.NewBaseRepository[domain.Referral](provider, referralsCollection,
				func(r domain.Referral) (any, error) { return encodeReferral(r), nil },
				decodeWith(decodeReferral)),
			redemptions: pfirestore.NewBaseRepository[domain.ReferralRedemption](provider, redemptionsCollection,
				func(r domain.ReferralRedemption) (any, error) {
					return redemptionDocument{ReferralID: r.ReferralID, OrderID: r.OrderID, RedeemedAt: r.RedeemedAt.UTC()}, nil
				},
				decodeWith(func(id string, doc redemptionDocument) domain.ReferralRedemption {
					return domain.ReferralRedemption{BuyerID: id, ReferralID: doc.ReferralID, OrderID: doc.OrderID, RedeemedAt: doc.RedeemedAt}
				})),
		},
		counters: &counterRepository{
			uow:  uow,
			base: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil),
		},
		paymentEvents: &paymentEventRepository{base: pfirestore.NewBaseRepository[domain.PaymentEvent](provider, paymentEventsCollection,
			func(e domain.PaymentEvent) (any, error) {
				return paymentEventDocument{
					Provider:          e.Provider,
					PaymentID:         e.PaymentID,
					Status:            e.Status,
					Outcome:           string(e.Outcome),
					ExternalReference: e.ExternalReference,
					Applied:           e.Applied,
					ReceivedAt:        e.ReceivedAt.UTC(),
				}, nil
			}, nil)},
	}
}

func decodeWith[D any, T any](convert func(id string, doc D) T) pfirestore.Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var doc D
		if err := snap.DataTo(&doc); err != nil {
			var zero T
			return zero, err
		}
		return convert(snap.Ref.ID, doc), nil
	}
}

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Listings() repositories.ListingRepository           { return r.listings }
func (r *Registry) Coupons() repositories.CouponRepository             { return r.coupons }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Commissions() repositories.CommissionRepository     { return r.commissions }
func (r *Registry) Carts() repositories.CartRepository                 { return r.carts }
func (r *Registry) Shows() repositories.ShowRepository                 { return r.shows }
func (r *Registry) Tickets() repositories.TicketRepository             { return r.tickets }
func (r *Registry) Referrals() repositories.ReferralRepository         { return r.referrals }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }
func (r *Registry) PaymentEvents() repositories.PaymentEventRepository { return r.paymentEvents }
