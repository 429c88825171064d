package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
)

const (
	orderIDPrefix         = "ord_"
	orderItemIDPrefix     = "itm_"
	customizationIDPrefix = "cus_"
	orderNumberCounter    = "orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrReferralInvalid indicates the referral code does not exist.
	ErrReferralInvalid = errors.New("order: invalid referral code")
	// ErrReferralSelf indicates the buyer tried to use their own referral code.
	ErrReferralSelf = errors.New("order: self referral is not allowed")
)

var rucPattern = regexp.MustCompile(`^\d{11}$`)

// PricingPolicy holds the platform pricing parameters applied at checkout.
type PricingPolicy struct {
	TaxRate               decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold *decimal.Decimal
	HoldDuration          time.Duration
}

// DefaultPricingPolicy returns the production defaults.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRate:      decimal.RequireFromString("0.18"),
		ShippingFee:  decimal.RequireFromString("15.00"),
		HoldDuration: 30 * time.Minute,
	}
}

func (p PricingPolicy) shippingFor(discounted decimal.Decimal) decimal.Decimal {
	if p.FreeShippingThreshold != nil && discounted.GreaterThanOrEqual(*p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFee
}

// OrderBuilderDeps bundles collaborators for checkout.
type OrderBuilderDeps struct {
	Listings    repositories.ListingRepository
	Carts       repositories.CartRepository
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Referrals   repositories.ReferralRepository
	Stock       StockLedger
	Coupons     CouponService
	UnitOfWork  repositories.UnitOfWork
	Pricing     PricingPolicy
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Metrics     Metrics
	Logger      Logger
}

type orderBuilder struct {
	listings  repositories.ListingRepository
	carts     repositories.CartRepository
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	referrals repositories.ReferralRepository
	stock     StockLedger
	coupons   CouponService
	unit      repositories.UnitOfWork
	pricing   PricingPolicy
	currency  string
	clock     func() time.Time
	newID     func() string
	metrics   Metrics
	logger    Logger
}

var _ OrderBuilder = (*orderBuilder)(nil)

// NewOrderBuilder validates dependencies and applies pricing defaults.
func NewOrderBuilder(deps OrderBuilderDeps) (OrderBuilder, error) {
	switch {
	case deps.Listings == nil:
		return nil, errors.New("order builder: listing repository is required")
	case deps.Carts == nil:
		return nil, errors.New("order builder: cart repository is required")
	case deps.Orders == nil:
		return nil, errors.New("order builder: order repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order builder: counter repository is required")
	case deps.Referrals == nil:
		return nil, errors.New("order builder: referral repository is required")
	case deps.Stock == nil:
		return nil, errors.New("order builder: stock ledger is required")
	case deps.Coupons == nil:
		return nil, errors.New("order builder: coupon service is required")
	}

	pricing := deps.Pricing
	defaults := DefaultPricingPolicy()
	if pricing.TaxRate.IsNegative() {
		return nil, errors.New("order builder: tax rate must not be negative")
	}
	if pricing.ShippingFee.IsNegative() {
		return nil, errors.New("order builder: shipping fee must not be negative")
	}
	if pricing.HoldDuration <= 0 {
		pricing.HoldDuration = defaults.HoldDuration
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "PEN"
	}

	return &orderBuilder{
		listings:  deps.Listings,
		carts:     deps.Carts,
		orders:    deps.Orders,
		counters:  deps.Counters,
		referrals: deps.Referrals,
		stock:     deps.Stock,
		coupons:   deps.Coupons,
		unit:      defaultUnitOfWork(deps.UnitOfWork),
		pricing:   pricing,
		currency:  currency,
		clock:     defaultClock(deps.Clock),
		newID:     defaultIDGenerator(deps.IDGenerator),
		metrics:   defaultMetrics(deps.Metrics),
		logger:    defaultLogger(deps.Logger),
	}, nil
}

// CreateOrder snapshots listings, reserves stock, redeems the coupon and persists a
// PENDING order in one transaction. Nothing is written when any step fails.
func (b *orderBuilder) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	shipping, err := normalizeShipping(cmd.Shipping)
	if err != nil {
		return Order{}, err
	}
	invoice, err := normalizeInvoice(cmd.Invoice)
	if err != nil {
		return Order{}, err
	}
	explicit, err := normalizeCheckoutItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	var created Order
	err = b.unit.RunInTx(ctx, func(txCtx context.Context) error {
		items := explicit
		fromCart := len(items) == 0
		if fromCart {
			cart, err := b.carts.Get(txCtx, buyerID)
			if err != nil {
				return err
			}
			items = cart.Items
		}
		if len(items) == 0 {
			return ErrCartEmpty
		}

		now := b.clock()
		orderItems, err := b.snapshotItems(txCtx, items)
		if err != nil {
			return err
		}
		if err := b.stock.ReserveLines(txCtx, itemStockLines(orderItems)); err != nil {
			return err
		}

		subtotal := decimal.Zero
		for _, item := range orderItems {
			subtotal = subtotal.Add(item.TotalPrice)
		}

		order := Order{
			ID:        orderIDPrefix + b.newID(),
			BuyerID:   buyerID,
			Status:    domain.OrderStatusPending,
			Currency:  b.currency,
			Shipping:  shipping,
			Invoice:   invoice,
			Items:     orderItems,
			CreatedAt: now,
			UpdatedAt: now,
		}

		discount := decimal.Zero
		if code := strings.TrimSpace(cmd.CouponCode); code != "" {
			validation, err := b.coupons.Validate(txCtx, CouponValidationCommand{Code: code, Subtotal: subtotal, BuyerID: buyerID})
			if err != nil {
				return err
			}
			if err := b.coupons.Consume(txCtx, validation.CouponID); err != nil {
				return err
			}
			discount = validation.DiscountAmount
			order.CouponID = validation.CouponID
			order.CouponCode = validation.Code
		}

		if code := strings.TrimSpace(cmd.ReferralCode); code != "" {
			referral, eligible, err := b.resolveReferral(txCtx, buyerID, code)
			if err != nil {
				return err
			}
			if eligible {
				order.ReferralID = referral.ID
				order.ReferralCode = referral.Code
			}
		}

		order.Totals = domain.PricingBreakdown{
			Subtotal: subtotal,
			Discount: discount,
			Shipping: b.pricing.shippingFor(subtotal.Sub(discount)),
			TaxRate:  b.pricing.TaxRate,
		}.Settle()

		number, err := b.generateOrderNumber(txCtx, now)
		if err != nil {
			return err
		}
		order.Number = number
		expires := now.Add(b.pricing.HoldDuration)
		order.ExpiresAt = &expires

		if err := b.orders.Insert(txCtx, order); err != nil {
			return err
		}
		if fromCart {
			if err := b.carts.Delete(txCtx, buyerID); err != nil && !isRepoNotFound(err) {
				return err
			}
		}
		created = order
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, nil, nil, "order")
	}

	b.metrics.OrderCreated()
	b.logger(ctx, "order.created", map[string]any{
		"orderId":  created.ID,
		"number":   created.Number,
		"buyerId":  created.BuyerID,
		"total":    created.Totals.Total.StringFixed(2),
		"coupon":   created.CouponCode,
		"referral": created.ReferralCode,
	})
	return created, nil
}

func (b *orderBuilder) snapshotItems(ctx context.Context, items []CartItem) ([]OrderItem, error) {
	out := make([]OrderItem, 0, len(items))
	for _, line := range items {
		listing, err := b.listings.FindByID(ctx, line.ListingID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, &StockError{Op: "order.create", Code: StockErrorNotFound, ListingID: line.ListingID, Requested: line.Quantity}
			}
			return nil, err
		}
		if !listing.Active {
			return nil, &StockError{Op: "order.create", Code: StockErrorInactive, ListingID: line.ListingID, Requested: line.Quantity}
		}

		unitPrice := domain.RoundMoney(listing.Price)
		total := unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		customizations := make([]domain.OrderItemCustomization, 0, len(line.Customizations))
		for _, custom := range line.Customizations {
			price, ok := listing.CustomizationOptions[custom]
			if !ok {
				return nil, fmt.Errorf("%w: customization %s not offered for listing %s", ErrOrderInvalidInput, custom, listing.ID)
			}
			price = domain.RoundMoney(price)
			total = total.Add(price)
			customizations = append(customizations, domain.OrderItemCustomization{
				ID:     customizationIDPrefix + b.newID(),
				Type:   custom,
				Price:  price,
				Status: domain.CustomizationPending,
			})
		}
		if len(customizations) == 0 {
			customizations = nil
		}

		out = append(out, OrderItem{
			ID:                orderItemIDPrefix + b.newID(),
			ListingID:         listing.ID,
			ArtistID:          listing.ArtistID,
			ProductID:         listing.ProductID,
			Title:             listing.Title,
			UnitPrice:         unitPrice,
			ManufacturingCost: domain.RoundMoney(listing.ManufacturingCost),
			CommissionRate:    listing.CommissionRate,
			Quantity:          line.Quantity,
			TotalPrice:        domain.RoundMoney(total),
			Variant:           line.Variant,
			Personalization:   line.Personalization,
			Customizations:    customizations,
		})
	}
	return out, nil
}

// resolveReferral rejects unknown and self referrals. A buyer who already purchased
// keeps the order but loses referral eligibility.
func (b *orderBuilder) resolveReferral(ctx context.Context, buyerID, code string) (Referral, bool, error) {
	referral, err := b.referrals.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return Referral{}, false, mapRepositoryError(err, ErrReferralInvalid, nil, "order")
	}
	if referral.OwnerID == buyerID {
		return Referral{}, false, ErrReferralSelf
	}
	if _, err := b.referrals.FindRedemption(ctx, buyerID); err == nil {
		return referral, false, nil
	} else if !isRepoNotFound(err) {
		return Referral{}, false, err
	}
	purchases, err := b.orders.CountPurchases(ctx, buyerID)
	if err != nil {
		return Referral{}, false, err
	}
	return referral, purchases == 0, nil
}

func (b *orderBuilder) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := b.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%04d-%06d", now.Year(), seq), nil
}

func itemStockLines(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ListingID: item.ListingID, Quantity: item.Quantity})
	}
	return lines
}

func normalizeShipping(addr ShippingAddress) (ShippingAddress, error) {
	out := ShippingAddress{
		FullName:     strings.TrimSpace(addr.FullName),
		Phone:        strings.TrimSpace(addr.Phone),
		AddressLine1: strings.TrimSpace(addr.AddressLine1),
		AddressLine2: strings.TrimSpace(addr.AddressLine2),
		City:         strings.TrimSpace(addr.City),
		Region:       strings.TrimSpace(addr.Region),
		PostalCode:   strings.TrimSpace(addr.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(addr.Country)),
		Reference:    strings.TrimSpace(addr.Reference),
	}
	required := []struct {
		name  string
		value string
	}{
		{"fullName", out.FullName},
		{"phone", out.Phone},
		{"addressLine1", out.AddressLine1},
		{"city", out.City},
		{"region", out.Region},
		{"country", out.Country},
	}
	var missing []string
	for _, field := range required {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return ShippingAddress{}, fmt.Errorf("%w: missing shipping fields: %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return out, nil
}

func normalizeInvoice(invoice Invoice) (Invoice, error) {
	out := Invoice{
		Type:        domain.InvoiceType(strings.ToUpper(strings.TrimSpace(string(invoice.Type)))),
		RUC:         strings.TrimSpace(invoice.RUC),
		CompanyName: strings.TrimSpace(invoice.CompanyName),
	}
	switch out.Type {
	case "", domain.InvoiceBoleta:
		return Invoice{Type: domain.InvoiceBoleta}, nil
	case domain.InvoiceFactura:
		if !rucPattern.MatchString(out.RUC) {
			return Invoice{}, fmt.Errorf("%w: factura requires an 11 digit RUC", ErrOrderInvalidInput)
		}
		return out, nil
	default:
		return Invoice{}, fmt.Errorf("%w: unsupported invoice type %q", ErrOrderInvalidInput, invoice.Type)
	}
}

func normalizeCheckoutItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]CartItem, 0, len(items))
	for _, item := range items {
		listingID := strings.TrimSpace(item.ListingID)
		if listingID == "" {
			return nil, fmt.Errorf("%w: item listing id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 || item.Quantity > maxCartItemQuantity {
			return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrOrderInvalidInput, maxCartItemQuantity)
		}
		personalization, err := sanitizePersonalization(item.Personalization)
		if err != nil {
			return nil, err
		}
		customizations, err := normalizeCustomizations(item.Customizations)
		if err != nil {
			return nil, err
		}
		out = append(out, CartItem{
			ListingID:       listingID,
			Quantity:        item.Quantity,
			Variant:         strings.TrimSpace(item.Variant),
			Personalization: personalization,
			Customizations:  customizations,
		})
	}
	return out, nil
}
