package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/artisan-market/api/internal/domain"
	pfirestore "github.com/artisan-market/api/internal/platform/firestore"
	"github.com/shopspring/decimal"
)

type couponRepository struct {
	base *pfirestore.BaseRepository[domain.Coupon]
}

func (r *couponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	return r.base.Get(ctx, couponID)
}

func (r *couponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	coupons, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(coupons) == 0 {
		return domain.Coupon{}, pfirestore.NotFound(r.base.Op("findByCode"), "coupon %q not found", code)
	}
	return coupons[0], nil
}

// Insert creates the coupon after checking code uniqueness. Callers run it inside a
// unit of work so the check and the create share one transaction.
func (r *couponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	existing, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", coupon.Code).Limit(1)
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return pfirestore.Conflict(r.base.Op("insert"), "coupon code %q already exists", coupon.Code)
	}
	return r.base.Create(ctx, coupon.ID, coupon)
}

func (r *couponRepository) IncrementUsage(ctx context.Context, couponID string, updatedAt time.Time) error {
	return r.base.Update(ctx, couponID, []firestore.Update{
		{Path: "usedCount", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

type referralRepository struct {
	base        *pfirestore.BaseRepository[domain.Referral]
	redemptions *pfirestore.BaseRepository[domain.ReferralRedemption]
}

func (r *referralRepository) FindByID(ctx context.Context, referralID string) (domain.Referral, error) {
	return r.base.Get(ctx, referralID)
}

func (r *referralRepository) FindByCode(ctx context.Context, code string) (domain.Referral, error) {
	referrals, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Referral{}, err
	}
	if len(referrals) == 0 {
		return domain.Referral{}, pfirestore.NotFound(r.base.Op("findByCode"), "referral %q not found", code)
	}
	return referrals[0], nil
}

func (r *referralRepository) Upsert(ctx context.Context, referral domain.Referral) error {
	return r.base.Set(ctx, referral.ID, referral)
}

// RecordUsage reads the referral so the decimal total can be rewritten; usedCount is
// incremented server-side.
func (r *referralRepository) RecordUsage(ctx context.Context, referralID string, commission decimal.Decimal, at time.Time) error {
	referral, err := r.base.Get(ctx, referralID)
	if err != nil {
		return err
	}
	total := domain.RoundMoney(referral.TotalCommission.Add(commission))
	return r.base.Update(ctx, referralID, []firestore.Update{
		{Path: "usedCount", Value: firestore.Increment(1)},
		{Path: "totalCommission", Value: moneyString(total)},
		{Path: "updatedAt", Value: at.UTC()},
	})
}

func (r *referralRepository) FindRedemption(ctx context.Context, buyerID string) (domain.ReferralRedemption, error) {
	return r.redemptions.Get(ctx, buyerID)
}

func (r *referralRepository) InsertRedemption(ctx context.Context, redemption domain.ReferralRedemption) error {
	return r.redemptions.Create(ctx, redemption.BuyerID, redemption)
}

type counterRepository struct {
	uow  *pfirestore.UnitOfWork
	base *pfirestore.BaseRepository[counterDocument]
}

// Next reserves the next value of a named sequence. It joins the caller's transaction
// or opens its own.
func (r *counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	var next int64
	err := r.uow.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.base.Get(ctx, counterID)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			current = counterDocument{}
		}
		next = current.Value + step
		return r.base.Set(ctx, counterID, counterDocument{Value: next, UpdatedAt: time.Now().UTC()})
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

type paymentEventRepository struct {
	base *pfirestore.BaseRepository[domain.PaymentEvent]
}

func (r *paymentEventRepository) Insert(ctx context.Context, event domain.PaymentEvent) error {
	return r.base.Create(ctx, event.ID, event)
}
