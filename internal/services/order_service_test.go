package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
)

func commissionsByType(t *testing.T, env *testEnv, orderID string) map[domain.CommissionType][]Commission {
	t.Helper()
	rows, err := env.orders.ListCommissions(context.Background(), orderID)
	if err != nil {
		t.Fatalf("list commissions: %v", err)
	}
	out := make(map[domain.CommissionType][]Commission)
	for _, row := range rows {
		out[row.Type] = append(out[row.Type], row)
	}
	return out
}

func TestApplyApprovedOutcomeCreatesCommissions(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	env.seedCoupon(t, domain.Coupon{Code: "TEN", DiscountType: domain.DiscountPercentage, Value: dec("10")})
	order, err := env.builder.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID:    "buyer-1",
		Shipping:   validShipping(),
		CouponCode: "TEN",
		Items:      []CartItem{{ListingID: "lst-1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	result := env.approve(t, order.ID)
	if !result.Applied || result.Status != string(domain.OrderStatusPaid) {
		t.Fatalf("unexpected result %+v", result)
	}

	paid, err := env.orders.GetOrder(context.Background(), order.ID, Viewer{UserID: "buyer-1"})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if paid.PaidAt == nil || paid.ExpiresAt != nil || paid.PaymentID != "pay-"+order.ID || paid.PaymentMethod != "visa" {
		t.Fatalf("payment fields not recorded: %+v", paid)
	}

	rows := commissionsByType(t, env, order.ID)
	artist := rows[domain.CommissionArtist]
	if len(artist) != 1 || !artist[0].Amount.Equal(dec("10")) {
		t.Fatalf("expected one artist commission of 10.00, got %+v", artist)
	}
	if env.notifications.count(notificationOrderPaid) != 1 || env.notifications.count(notificationArtistSale) != 1 {
		t.Fatalf("expected paid and artist sale notifications, got %+v", env.notifications.sent)
	}
}

func TestApplyApprovedOutcomeConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	order := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})

	const deliveries = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.orders.ApplyPaymentOutcome(context.Background(), PaymentOutcomeCommand{
				ReferenceID: order.ID,
				PaymentID:   "pay-1",
				Provider:    "checkoutpro",
				Outcome:     domain.PaymentApproved,
			})
			if err != nil {
				t.Errorf("apply outcome: %v", err)
				return
			}
			if result.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one applied delivery, got %d", applied)
	}
	if rows := commissionsByType(t, env, order.ID); len(rows[domain.CommissionArtist]) != 1 {
		t.Fatalf("expected commissions written once, got %+v", rows)
	}
	if env.notifications.count(notificationOrderPaid) != 1 {
		t.Fatalf("expected one order.paid notification, got %d", env.notifications.count(notificationOrderPaid))
	}
	if env.metrics.applied["order/approved/true"] != 1 || env.metrics.applied["order/approved/false"] != deliveries-1 {
		t.Fatalf("unexpected outcome metrics %+v", env.metrics.applied)
	}
}

func TestApplyRejectedOutcomeRestoresStockOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	order := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 2})
	if got := env.stockOf(t, "lst-1"); got != 3 {
		t.Fatalf("expected stock 3 after checkout, got %d", got)
	}

	cmd := PaymentOutcomeCommand{ReferenceID: order.ID, PaymentID: "pay-1", Outcome: domain.PaymentRejected}
	first, err := env.orders.ApplyPaymentOutcome(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first reject: %v", err)
	}
	second, err := env.orders.ApplyPaymentOutcome(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second reject: %v", err)
	}
	if !first.Applied || second.Applied {
		t.Fatalf("expected only the first rejection applied, got %+v %+v", first, second)
	}
	if second.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("expected status CANCELLED, got %s", second.Status)
	}
	if got := env.stockOf(t, "lst-1"); got != 5 {
		t.Fatalf("expected stock restored exactly once to 5, got %d", got)
	}

	late, err := env.orders.ApplyPaymentOutcome(context.Background(), PaymentOutcomeCommand{ReferenceID: order.ID, Outcome: domain.PaymentApproved})
	if err != nil {
		t.Fatalf("late approval: %v", err)
	}
	if late.Applied {
		t.Fatalf("late approval must not revive a cancelled order")
	}
}

func TestApplyPendingOutcomeIsRecordedOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	order := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})

	result, err := env.orders.ApplyPaymentOutcome(context.Background(), PaymentOutcomeCommand{ReferenceID: order.ID, Outcome: domain.PaymentPending})
	if err != nil {
		t.Fatalf("apply pending: %v", err)
	}
	if result.Applied || result.Status != string(domain.OrderStatusPending) {
		t.Fatalf("pending outcome must not change state, got %+v", result)
	}
	if _, err := env.orders.ApplyPaymentOutcome(context.Background(), PaymentOutcomeCommand{ReferenceID: "ord_missing", Outcome: domain.PaymentApproved}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderTransitionTable(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	ctx := context.Background()
	order := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})

	transition := func(target domain.OrderStatus, carrier, tracking string) (Order, error) {
		return env.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:        order.ID,
			TargetStatus:   target,
			ActorID:        "staff-1",
			Carrier:        carrier,
			TrackingNumber: tracking,
		})
	}

	if _, err := transition(domain.OrderStatusPaid, "", ""); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("operators must not mark orders paid, got %v", err)
	}
	if _, err := transition("LOST", "", ""); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown status rejected, got %v", err)
	}
	env.approve(t, order.ID)
	paid, err := env.orders.GetOrder(ctx, order.ID, Viewer{Staff: true})
	if err != nil {
		t.Fatalf("get paid order: %v", err)
	}
	assertTotalsKept(t, order, paid)

	if _, err := transition(domain.OrderStatusShipped, "", ""); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("PAID cannot skip to SHIPPED, got %v", err)
	}
	processing, err := transition(domain.OrderStatusProcessing, "", "")
	if err != nil {
		t.Fatalf("to processing: %v", err)
	}
	assertTotalsKept(t, order, processing)
	if _, err := transition(domain.OrderStatusShipped, "Olva", ""); !errors.Is(err, ErrOrderMissingShippingInfo) {
		t.Fatalf("expected ErrOrderMissingShippingInfo, got %v", err)
	}
	if _, err := env.orders.UpdateShippingInfo(ctx, UpdateShippingInfoCommand{OrderID: order.ID, Carrier: "Olva", TrackingNumber: "OC-1"}); err != nil {
		t.Fatalf("update shipping info: %v", err)
	}
	shipped, err := transition(domain.OrderStatusShipped, "", "")
	if err != nil {
		t.Fatalf("to shipped: %v", err)
	}
	if shipped.ShippedAt == nil || shipped.TrackingNumber != "OC-1" {
		t.Fatalf("unexpected shipped order %+v", shipped)
	}
	assertTotalsKept(t, order, shipped)
	if _, err := transition(domain.OrderStatusCancelled, "", ""); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("shipped orders cannot be cancelled, got %v", err)
	}
	delivered, err := transition(domain.OrderStatusDelivered, "", "")
	if err != nil {
		t.Fatalf("to delivered: %v", err)
	}
	assertTotalsKept(t, order, delivered)
	if env.notifications.count(notificationOrderStatusChanged) != 3 {
		t.Fatalf("expected three status notifications, got %d", env.notifications.count(notificationOrderStatusChanged))
	}

	refunded, err := env.orders.ResolveReturn(ctx, ResolveReturnCommand{OrderID: order.ID, ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("resolve return: %v", err)
	}
	if refunded.Status != domain.OrderStatusRefunded || refunded.RefundedAt == nil || !refunded.Totals.Total.Equal(order.Totals.Total) {
		t.Fatalf("unexpected refunded order %+v", refunded)
	}
	for _, row := range commissionsByType(t, env, order.ID)[domain.CommissionArtist] {
		if row.Status != domain.CommissionCancelled {
			t.Fatalf("expected commissions cancelled on refund, got %+v", row)
		}
	}
	if _, err := env.orders.ResolveReturn(ctx, ResolveReturnCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("refund must be terminal, got %v", err)
	}
	if got := env.stockOf(t, "lst-1"); got != 4 {
		t.Fatalf("refunds do not restock, got %d", got)
	}
}

func TestCancelPaidOrderRestoresStockAndCommissions(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	order := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 2})
	env.approve(t, order.ID)

	cancelled, err := env.orders.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusCancelled,
		Reason:       "artist unavailable",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.CancelledAt == nil || cancelled.CancellationReason != "artist unavailable" {
		t.Fatalf("unexpected cancelled order %+v", cancelled)
	}
	if got := env.stockOf(t, "lst-1"); got != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got)
	}
	rows := commissionsByType(t, env, order.ID)[domain.CommissionArtist]
	if len(rows) != 1 || rows[0].Status != domain.CommissionCancelled || rows[0].CancelledAt == nil {
		t.Fatalf("expected artist commission cancelled, got %+v", rows)
	}
	if env.notifications.count(notificationOrderCancelled) != 1 {
		t.Fatalf("expected cancellation notification")
	}
}

func TestUpdateCustomizationStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	ctx := context.Background()
	order := env.placeOrder(t, "buyer-1", CartItem{
		ListingID:      "lst-1",
		Quantity:       1,
		Customizations: []domain.CustomizationType{domain.CustomizationEngraving},
	})
	item := order.Items[0]
	cmd := UpdateCustomizationStatusCommand{OrderID: order.ID, ItemID: item.ID, CustomizationID: item.Customizations[0].ID}

	cmd.Status = domain.CustomizationInProgress
	if _, err := env.orders.UpdateCustomizationStatus(ctx, cmd); !errors.Is(err, ErrCustomizationInvalidTransition) {
		t.Fatalf("unpaid orders cannot progress customizations, got %v", err)
	}
	env.approve(t, order.ID)

	cmd.Status = domain.CustomizationCompleted
	if _, err := env.orders.UpdateCustomizationStatus(ctx, cmd); !errors.Is(err, ErrCustomizationInvalidTransition) {
		t.Fatalf("expected PENDING -> COMPLETED rejected, got %v", err)
	}
	scheduled := env.clock.Now().Add(48 * time.Hour)
	cmd.Status = domain.CustomizationInProgress
	cmd.ScheduledAt = &scheduled
	cmd.DurationMinutes = 45
	updated, err := env.orders.UpdateCustomizationStatus(ctx, cmd)
	if err != nil {
		t.Fatalf("to in progress: %v", err)
	}
	custom := updated.Items[0].Customizations[0]
	if custom.Status != domain.CustomizationInProgress || custom.DurationMinutes != 45 || custom.ScheduledAt == nil {
		t.Fatalf("unexpected customization %+v", custom)
	}

	cmd.CustomizationID = "cus_missing"
	if _, err := env.orders.UpdateCustomizationStatus(ctx, cmd); !errors.Is(err, ErrCustomizationNotFound) {
		t.Fatalf("expected ErrCustomizationNotFound, got %v", err)
	}
}

func TestSimulatePayment(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	order := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})
	ctx := context.Background()

	if _, err := env.orders.SimulatePayment(ctx, SimulatePaymentCommand{ReferenceID: order.ID, BuyerID: "intruder"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	result, err := env.orders.SimulatePayment(ctx, SimulatePaymentCommand{ReferenceID: order.ID, BuyerID: "buyer-1"})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected simulated approval applied")
	}
	paid, err := env.orders.GetOrder(ctx, order.ID, Viewer{Staff: true})
	if err != nil {
		t.Fatalf("staff get: %v", err)
	}
	if paid.PaymentMethod != simulatedPaymentMethod || paid.PaymentProvider != simulatedPaymentProvider {
		t.Fatalf("unexpected simulated payment fields %+v", paid)
	}

	disabled := newTestEnv(t, withoutSimulation())
	disabled.seedListing(t, "lst-1", "100", 5)
	other := disabled.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})
	if _, err := disabled.orders.SimulatePayment(ctx, SimulatePaymentCommand{ReferenceID: other.ID, BuyerID: "buyer-1"}); !errors.Is(err, ErrPaymentSimulationDisabled) {
		t.Fatalf("expected ErrPaymentSimulationDisabled, got %v", err)
	}
}

func TestGetOrderOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	order := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})
	ctx := context.Background()

	if _, err := env.orders.GetOrder(ctx, order.ID, Viewer{UserID: "buyer-2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	if _, err := env.orders.GetOrder(ctx, "ord_missing", Viewer{UserID: "buyer-1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	page, err := env.orders.ListBuyerOrders(ctx, OrderListFilter{BuyerID: "buyer-1"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != order.ID {
		t.Fatalf("unexpected order page %+v", page)
	}
}

func TestExpireOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 5)
	order := env.placeOrder(t, "buyer-1", CartItem{ListingID: "lst-1", Quantity: 1})
	ctx := context.Background()

	expired, err := env.orders.ExpireOrder(ctx, order.ID, env.clock.Now())
	if err != nil || expired {
		t.Fatalf("hold has not lapsed yet: expired=%v err=%v", expired, err)
	}

	env.clock.Advance(31 * time.Minute)
	expired, err = env.orders.ExpireOrder(ctx, order.ID, env.clock.Now())
	if err != nil || !expired {
		t.Fatalf("expected expiry: expired=%v err=%v", expired, err)
	}
	if got := env.stockOf(t, "lst-1"); got != 5 {
		t.Fatalf("expected stock restored, got %d", got)
	}
	again, err := env.orders.ExpireOrder(ctx, order.ID, env.clock.Now())
	if err != nil || again {
		t.Fatalf("expiry must be idempotent: expired=%v err=%v", again, err)
	}

	late := env.approve(t, order.ID)
	if late.Applied || late.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("approval after expiry must be ignored, got %+v", late)
	}
}

func TestReferralCommissionOnlyOnFirstPaidOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedListing(t, "lst-1", "100", 10)
	env.seedReferral(t, "FRIEND", "friend")
	ctx := context.Background()

	var orders []Order
	for i := 0; i < 2; i++ {
		order, err := env.builder.CreateOrder(ctx, CreateOrderCommand{
			BuyerID:      "buyer-1",
			Shipping:     validShipping(),
			ReferralCode: "FRIEND",
			Items:        []CartItem{{ListingID: "lst-1", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
		if order.ReferralID == "" {
			t.Fatalf("both pending orders carry the referral before payment")
		}
		orders = append(orders, order)
	}

	env.approve(t, orders[1].ID)
	env.approve(t, orders[0].ID)

	first := commissionsByType(t, env, orders[1].ID)[domain.CommissionReferral]
	if len(first) != 1 || !first[0].Amount.Equal(dec("5")) || first[0].BeneficiaryID != "friend" {
		t.Fatalf("expected one referral commission of 5.00 on the first paid order, got %+v", first)
	}
	if rows := commissionsByType(t, env, orders[0].ID)[domain.CommissionReferral]; len(rows) != 0 {
		t.Fatalf("second paid order must not pay the referrer, got %+v", rows)
	}

	referral, err := env.store.Referrals().FindByID(ctx, "ref_FRIEND")
	if err != nil {
		t.Fatalf("find referral: %v", err)
	}
	if referral.UsedCount != 1 || !referral.TotalCommission.Equal(dec("5")) {
		t.Fatalf("expected usage recorded once, got %+v", referral)
	}
}

// assertTotalsKept checks that a status change left the creation-time totals intact.
func assertTotalsKept(t *testing.T, created, current Order) {
	t.Helper()
	if !current.Totals.Reconciles() {
		t.Fatalf("%s: totals do not reconcile: %+v", current.Status, current.Totals)
	}
	want, got := created.Totals, current.Totals
	if !got.Subtotal.Equal(want.Subtotal) || !got.Discount.Equal(want.Discount) ||
		!got.Shipping.Equal(want.Shipping) || !got.Tax.Equal(want.Tax) || !got.Total.Equal(want.Total) {
		t.Fatalf("%s: totals changed from %+v to %+v", current.Status, want, got)
	}
}
