package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/artisan-market/api/internal/domain"
)

func TestCreateOrderPricesAndReserves(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	env.seedCoupon(t, domain.Coupon{Code: "TEN", DiscountType: domain.DiscountPercentage, Value: dec("10")})

	order, err := env.builder.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID:    "buyer-1",
		Shipping:   validShipping(),
		CouponCode: "ten",
		Items:      []CartItem{{ListingID: "lst-1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	want := OrderTotals{Subtotal: dec("100"), Discount: dec("10"), Shipping: dec("15"), Tax: dec("18.90"), Total: dec("123.90")}
	got := order.Totals
	if !got.Subtotal.Equal(want.Subtotal) || !got.Discount.Equal(want.Discount) || !got.Shipping.Equal(want.Shipping) ||
		!got.Tax.Equal(want.Tax) || !got.Total.Equal(want.Total) {
		t.Fatalf("unexpected totals %+v", got)
	}
	if order.Number != "ORD-2025-000001" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if order.Status != domain.OrderStatusPending || order.Currency != "PEN" || order.CouponCode != "TEN" {
		t.Fatalf("unexpected order header %+v", order)
	}
	if order.ExpiresAt == nil || !order.ExpiresAt.Equal(env.clock.Now().Add(DefaultPricingPolicy().HoldDuration)) {
		t.Fatalf("expected hold expiry 30 minutes out, got %v", order.ExpiresAt)
	}
	if order.Shipping.Country != "PE" || order.Invoice.Type != domain.InvoiceBoleta {
		t.Fatalf("expected normalized shipping and boleta invoice, got %+v %+v", order.Shipping, order.Invoice)
	}
	if got := env.stockOf(t, "lst-1"); got != 4 {
		t.Fatalf("expected stock 4, got %d", got)
	}
	if env.metrics.created != 1 {
		t.Fatalf("expected created metric, got %d", env.metrics.created)
	}

	second := env.placeOrder(t, "buyer-2", CartItem{ListingID: "lst-1", Quantity: 1})
	if second.Number != "ORD-2025-000002" {
		t.Fatalf("expected sequential order number, got %q", second.Number)
	}
}

func TestCreateOrderFromCartClearsCart(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "30", 5)
	ctx := context.Background()

	_, err := env.builder.CreateOrder(ctx, CreateOrderCommand{BuyerID: "buyer-1", Shipping: validShipping()})
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected ErrCartEmpty, got %v", err)
	}

	if _, err := env.carts.UpsertItem(ctx, UpsertCartItemCommand{BuyerID: "buyer-1", ListingID: "lst-1", Quantity: 2}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	order, err := env.builder.CreateOrder(ctx, CreateOrderCommand{BuyerID: "buyer-1", Shipping: validShipping()})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 2 || !order.Items[0].TotalPrice.Equal(dec("60")) {
		t.Fatalf("unexpected items %+v", order.Items)
	}
	cart, err := env.carts.GetCart(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected cart cleared, got %+v", cart.Items)
	}
}

func TestCreateOrderCustomizationPricedOncePerLine(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "50", 5)

	order := env.placeOrder(t, "buyer-1", CartItem{
		ListingID:      "lst-1",
		Quantity:       2,
		Customizations: []domain.CustomizationType{domain.CustomizationEngraving},
	})
	item := order.Items[0]
	if !item.TotalPrice.Equal(dec("120")) || !order.Totals.Subtotal.Equal(dec("120")) {
		t.Fatalf("expected 2 x 50 + 20 engraving, got item %s subtotal %s", item.TotalPrice, order.Totals.Subtotal)
	}
	if len(item.Customizations) != 1 || item.Customizations[0].Status != domain.CustomizationPending || item.Customizations[0].ID == "" {
		t.Fatalf("unexpected customization snapshot %+v", item.Customizations)
	}
	if item.ArtistID != "artist-lst-1" || !item.ManufacturingCost.Equal(dec("40")) || !item.CommissionRate.Equal(dec("20")) {
		t.Fatalf("listing snapshot missing commission inputs: %+v", item)
	}
}

func TestCreateOrderFreeShippingThreshold(t *testing.T) {
	threshold := dec("100")
	policy := DefaultPricingPolicy()
	policy.FreeShippingThreshold = &threshold
	env := newTestEnv(t, withPricing(policy))
	env.seedListing(t, "lst-1", "100", 5)
	env.seedListing(t, "lst-2", "99.99", 5)

	free := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})
	if !free.Totals.Shipping.IsZero() || !free.Totals.Total.Equal(dec("118")) {
		t.Fatalf("expected free shipping and total 118.00, got %+v", free.Totals)
	}
	paid := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-2", Quantity: 1})
	if !paid.Totals.Shipping.Equal(dec("15")) {
		t.Fatalf("expected shipping fee below threshold, got %s", paid.Totals.Shipping)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	ctx := context.Background()
	items := []CartItem{{ListingID: "lst-1", Quantity: 1}}

	if _, err := env.builder.CreateOrder(ctx, CreateOrderCommand{BuyerID: "buyer-1", Items: items}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected missing shipping to fail, got %v", err)
	}
	if _, err := env.builder.CreateOrder(ctx, CreateOrderCommand{
		BuyerID:  "buyer-1",
		Shipping: validShipping(),
		Invoice:  Invoice{Type: domain.InvoiceFactura, RUC: "123"},
		Items:    items,
	}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected short RUC to fail, got %v", err)
	}
	order, err := env.builder.CreateOrder(ctx, CreateOrderCommand{
		BuyerID:  "buyer-1",
		Shipping: validShipping(),
		Invoice:  Invoice{Type: "factura", RUC: "20123456789", CompanyName: "Taller SAC"},
		Items:    items,
	})
	if err != nil {
		t.Fatalf("factura order: %v", err)
	}
	if order.Invoice.Type != domain.InvoiceFactura || order.Invoice.RUC != "20123456789" {
		t.Fatalf("unexpected invoice %+v", order.Invoice)
	}
}

func TestCreateOrderRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	inactive := env.seedListing(t, "lst-off", "10", 5)
	inactive.Active = false
	if err := env.store.Listings().Upsert(context.Background(), inactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := env.builder.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID:    "buyer-1",
		Shipping:   validShipping(),
		CouponCode: "NOPE",
		Items:      []CartItem{{ListingID: "lst-1", Quantity: 2}},
	})
	if !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
	if got := env.stockOf(t, "lst-1"); got != 5 {
		t.Fatalf("stock must be restored after rollback, got %d", got)
	}

	_, err = env.builder.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID:  "buyer-1",
		Shipping: validShipping(),
		Items:    []CartItem{{ListingID: "lst-1", Quantity: 1}, {ListingID: "lst-off", Quantity: 1}},
	})
	if !errors.Is(err, ErrListingInactive) {
		t.Fatalf("expected ErrListingInactive, got %v", err)
	}
	if got := env.stockOf(t, "lst-1"); got != 5 {
		t.Fatalf("no stock may be reserved for a rejected order, got %d", got)
	}
	second := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})
	if second.Number != "ORD-2025-000001" {
		t.Fatalf("failed checkouts must not consume order numbers, got %q", second.Number)
	}
}

func TestCreateOrderConcurrentLastUnit(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		stockErrs int
	)
	for _, buyer := range []string{"buyer-1", "buyer-2"} {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			_, err := env.builder.CreateOrder(context.Background(), CreateOrderCommand{
				BuyerID:  buyer,
				Shipping: validShipping(),
				Items:    []CartItem{{ListingID: "lst-1", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientStock):
				stockErrs++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(buyer)
	}
	wg.Wait()

	if successes != 1 || stockErrs != 1 {
		t.Fatalf("expected one success and one stock failure, got %d and %d", successes, stockErrs)
	}
	if got := env.stockOf(t, "lst-1"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestCreateOrderConcurrentLastCouponUse(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	one := 1
	coupon := env.seedCoupon(t, domain.Coupon{Code: "LAST", DiscountType: domain.DiscountFixed, Value: dec("10"), MaxUses: &one})

	buyers := []string{"buyer-1", "buyer-2", "buyer-3", "buyer-4"}
	errs := make([]error, len(buyers))
	var wg sync.WaitGroup
	for i, buyer := range buyers {
		i := i
		buyer := buyer
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.builder.CreateOrder(context.Background(), CreateOrderCommand{
				BuyerID:    buyer,
				Shipping:   validShipping(),
				CouponCode: "LAST",
				Items:      []CartItem{{ListingID: "lst-1", Quantity: 1}},
			})
		}()
	}
	wg.Wait()

	successes := 0
	for i, err := range errs {
		switch {
		case err == nil:
			successes++
		case !errors.Is(err, ErrCouponExhausted):
			t.Fatalf("%s: expected ErrCouponExhausted, got %v", buyers[i], err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one checkout to redeem the coupon, got %d", successes)
	}
	stored, err := env.store.Coupons().FindByID(context.Background(), coupon.ID)
	if err != nil {
		t.Fatalf("find coupon: %v", err)
	}
	if stored.UsedCount != 1 {
		t.Fatalf("expected usedCount 1, got %d", stored.UsedCount)
	}
	if got := env.stockOf(t, "lst-1"); got != 4 {
		t.Fatalf("failed checkouts must not keep stock, got %d", got)
	}
}

func TestCreateOrderReferralRules(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 10)
	env.seedReferral(t, "FRIEND", "friend")
	ctx := context.Background()

	cmd := func(buyer, code string) CreateOrderCommand {
		return CreateOrderCommand{
			BuyerID:      buyer,
			Shipping:     validShipping(),
			ReferralCode: code,
			Items:        []CartItem{{ListingID: "lst-1", Quantity: 1}},
		}
	}

	if _, err := env.builder.CreateOrder(ctx, cmd("buyer-1", "MISSING")); !errors.Is(err, ErrReferralInvalid) {
		t.Fatalf("expected ErrReferralInvalid, got %v", err)
	}
	if _, err := env.builder.CreateOrder(ctx, cmd("friend", "friend")); !errors.Is(err, ErrReferralSelf) {
		t.Fatalf("expected ErrReferralSelf, got %v", err)
	}

	order, err := env.builder.CreateOrder(ctx, cmd("buyer-1", " friend "))
	if err != nil {
		t.Fatalf("referral order: %v", err)
	}
	if order.ReferralID != "ref_FRIEND" || order.ReferralCode != "FRIEND" {
		t.Fatalf("expected referral attached, got %q %q", order.ReferralID, order.ReferralCode)
	}

	prior := env.placeOrder(t, "buyer-2", CartItem{ListingID: "lst-1", Quantity: 1})
	env.approve(t, prior.ID)
	repeat, err := env.builder.CreateOrder(ctx, cmd("buyer-2", "FRIEND"))
	if err != nil {
		t.Fatalf("repeat buyer order: %v", err)
	}
	if repeat.ReferralID != "" {
		t.Fatalf("repeat buyers must not carry a referral, got %q", repeat.ReferralID)
	}
}
