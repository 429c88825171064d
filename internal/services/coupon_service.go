package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
)

var (
	// ErrCouponInvalid covers unknown, inactive or malformed codes.
	ErrCouponInvalid = errors.New("coupon: invalid code")
	// ErrCouponExpired indicates the coupon expiry has passed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponExhausted indicates the usage cap has been reached.
	ErrCouponExhausted = errors.New("coupon: usage limit reached")
	// ErrMinPurchaseNotMet indicates the subtotal is below the coupon minimum.
	ErrMinPurchaseNotMet = errors.New("coupon: minimum purchase not met")
	// ErrCouponAlreadyUsed indicates the buyer already redeemed the coupon on a live order.
	ErrCouponAlreadyUsed = errors.New("coupon: already used by buyer")
	// ErrCouponInvalidInput signals malformed admin input.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponCodeTaken indicates another coupon already owns the code.
	ErrCouponCodeTaken = errors.New("coupon: code already exists")
)

const maxCouponCodeLength = 32

var couponCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]*$`)

// CouponServiceDeps bundles collaborators for the coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type couponService struct {
	coupons repositories.CouponRepository
	orders  repositories.OrderRepository
	unit    repositories.UnitOfWork
	clock   func() time.Time
	newID   func() string
	logger  Logger
}

var _ CouponService = (*couponService)(nil)

// NewCouponService constructs the coupon validator.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("coupon service: order repository is required")
	}
	return &couponService{
		coupons: deps.Coupons,
		orders:  deps.Orders,
		unit:    defaultUnitOfWork(deps.UnitOfWork),
		clock:   defaultClock(deps.Clock),
		newID:   defaultIDGenerator(deps.IDGenerator),
		logger:  defaultLogger(deps.Logger),
	}, nil
}

// NormalizeCode folds compatibility characters and upper-cases a coupon or referral code.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(raw)))
}

func (s *couponService) Validate(ctx context.Context, cmd CouponValidationCommand) (CouponValidation, error) {
	code := NormalizeCode(cmd.Code)
	if code == "" {
		return CouponValidation{}, fmt.Errorf("%w: code is required", ErrCouponInvalid)
	}
	if cmd.Subtotal.IsNegative() {
		return CouponValidation{}, fmt.Errorf("%w: subtotal must not be negative", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return CouponValidation{}, mapRepositoryError(err, ErrCouponInvalid, nil, "coupon")
	}
	if !coupon.Active {
		return CouponValidation{}, fmt.Errorf("%w: %s is inactive", ErrCouponInvalid, code)
	}
	if coupon.ExpiresAt != nil && !s.clock().Before(*coupon.ExpiresAt) {
		return CouponValidation{}, ErrCouponExpired
	}
	if coupon.Exhausted() {
		return CouponValidation{}, ErrCouponExhausted
	}
	if coupon.MinPurchase != nil && cmd.Subtotal.LessThan(*coupon.MinPurchase) {
		return CouponValidation{}, fmt.Errorf("%w: minimum %s", ErrMinPurchaseNotMet, coupon.MinPurchase.StringFixed(2))
	}

	if buyerID := strings.TrimSpace(cmd.BuyerID); buyerID != "" {
		prior, err := s.orders.ListByBuyerAndCoupon(ctx, buyerID, coupon.ID)
		if err != nil {
			return CouponValidation{}, mapRepositoryError(err, nil, nil, "coupon")
		}
		for _, order := range prior {
			if !order.Status.Terminal() {
				return CouponValidation{}, ErrCouponAlreadyUsed
			}
		}
	}

	return CouponValidation{
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		DiscountAmount: couponDiscount(coupon, cmd.Subtotal),
	}, nil
}

// couponDiscount never exceeds the subtotal.
func couponDiscount(coupon Coupon, subtotal decimal.Decimal) decimal.Decimal {
	switch coupon.DiscountType {
	case domain.DiscountPercentage:
		return domain.RoundMoney(domain.PercentOf(subtotal, coupon.Value))
	case domain.DiscountFixed:
		return domain.RoundMoney(domain.MinMoney(coupon.Value, subtotal))
	default:
		return decimal.Zero
	}
}

func (s *couponService) Consume(ctx context.Context, couponID string) error {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	if err := s.coupons.IncrementUsage(ctx, couponID, s.clock()); err != nil {
		return mapRepositoryError(err, ErrCouponInvalid, nil, "coupon")
	}
	s.logger(ctx, "coupon.consumed", map[string]any{"couponId": couponID})
	return nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	code := NormalizeCode(cmd.Code)
	if code == "" || len(code) > maxCouponCodeLength || !couponCodePattern.MatchString(code) {
		return Coupon{}, fmt.Errorf("%w: code must be 1-%d letters, digits, '-' or '_'", ErrCouponInvalidInput, maxCouponCodeLength)
	}

	switch cmd.DiscountType {
	case domain.DiscountPercentage:
		if !cmd.Value.IsPositive() || cmd.Value.GreaterThan(decimal.NewFromInt(100)) {
			return Coupon{}, fmt.Errorf("%w: percentage must be within (0, 100]", ErrCouponInvalidInput)
		}
	case domain.DiscountFixed:
		if !cmd.Value.IsPositive() {
			return Coupon{}, fmt.Errorf("%w: fixed value must be positive", ErrCouponInvalidInput)
		}
	default:
		return Coupon{}, fmt.Errorf("%w: unsupported discount type %q", ErrCouponInvalidInput, cmd.DiscountType)
	}
	if cmd.MinPurchase != nil && cmd.MinPurchase.IsNegative() {
		return Coupon{}, fmt.Errorf("%w: minimum purchase must not be negative", ErrCouponInvalidInput)
	}
	if cmd.MaxUses != nil && *cmd.MaxUses <= 0 {
		return Coupon{}, fmt.Errorf("%w: max uses must be positive", ErrCouponInvalidInput)
	}

	now := s.clock()
	if cmd.ExpiresAt != nil && !cmd.ExpiresAt.After(now) {
		return Coupon{}, fmt.Errorf("%w: expiry must be in the future", ErrCouponInvalidInput)
	}

	coupon := Coupon{
		ID:           "cpn_" + s.newID(),
		Code:         code,
		DiscountType: cmd.DiscountType,
		Value:        domain.RoundMoney(cmd.Value),
		MaxUses:      cmd.MaxUses,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if cmd.MinPurchase != nil {
		min := domain.RoundMoney(*cmd.MinPurchase)
		coupon.MinPurchase = &min
	}
	if cmd.ExpiresAt != nil {
		expires := cmd.ExpiresAt.UTC()
		coupon.ExpiresAt = &expires
	}

	err := s.unit.RunInTx(ctx, func(txCtx context.Context) error {
		return s.coupons.Insert(txCtx, coupon)
	})
	if err != nil {
		return Coupon{}, mapRepositoryError(err, nil, ErrCouponCodeTaken, "coupon")
	}

	s.logger(ctx, "coupon.created", map[string]any{
		"couponId": coupon.ID,
		"code":     coupon.Code,
		"actorId":  strings.TrimSpace(cmd.ActorID),
	})
	return coupon, nil
}

func (s *couponService) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalid)
	}
	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		return Coupon{}, mapRepositoryError(err, ErrCouponInvalid, nil, "coupon")
	}
	if !coupon.Active {
		return Coupon{}, ErrCouponInvalid
	}
	return coupon, nil
}
