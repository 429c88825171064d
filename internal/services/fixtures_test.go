package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequentialIDs) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%06d", s.next)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []Notification
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, notification Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, notification)
}

func (d *recordingDispatcher) count(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, notification := range d.sent {
		if notification.Type == kind {
			n++
		}
	}
	return n
}

type recordingMetrics struct {
	mu        sync.Mutex
	created   int
	applied   map[string]int
	expired   map[string]int
	dropped   map[string]int
	sent      int
	sendFails int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		applied: map[string]int{},
		expired: map[string]int{},
		dropped: map[string]int{},
	}
}

func (m *recordingMetrics) OrderCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *recordingMetrics) PaymentOutcomeApplied(kind string, outcome PaymentOutcome, applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[fmt.Sprintf("%s/%s/%t", kind, outcome, applied)]++
}

func (m *recordingMetrics) HoldsExpired(kind string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired[kind] += count
}

func (m *recordingMetrics) NotificationDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *recordingMetrics) NotificationSent(sink string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.sendFails++
		return
	}
	m.sent++
}

// testEnv wires every service against one in-memory store.
type testEnv struct {
	store         *memory.Store
	clock         *fakeClock
	ids           *sequentialIDs
	notifications *recordingDispatcher
	metrics       *recordingMetrics

	stock   StockLedger
	coupons CouponService
	carts   CartService
	builder OrderBuilder
	orders  OrderService
	tickets TicketService
}

type envOption func(*envConfig)

type envConfig struct {
	pricing    PricingPolicy
	simulation bool
}

func withPricing(p PricingPolicy) envOption {
	return func(c *envConfig) { c.pricing = p }
}

func withoutSimulation() envOption {
	return func(c *envConfig) { c.simulation = false }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{pricing: DefaultPricingPolicy(), simulation: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := memory.NewStore()
	env := &testEnv{
		store:         store,
		clock:         newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		ids:           &sequentialIDs{},
		notifications: &recordingDispatcher{},
		metrics:       newRecordingMetrics(),
	}

	var err error
	env.stock, err = NewStockLedger(StockLedgerDeps{Listings: store.Listings(), Clock: env.clock.Now})
	if err != nil {
		t.Fatalf("stock ledger: %v", err)
	}
	env.coupons, err = NewCouponService(CouponServiceDeps{
		Coupons:     store.Coupons(),
		Orders:      store.Orders(),
		UnitOfWork:  store,
		Clock:       env.clock.Now,
		IDGenerator: env.ids.New,
	})
	if err != nil {
		t.Fatalf("coupon service: %v", err)
	}
	env.carts, err = NewCartService(CartServiceDeps{
		Carts:      store.Carts(),
		Listings:   store.Listings(),
		UnitOfWork: store,
		Clock:      env.clock.Now,
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	env.builder, err = NewOrderBuilder(OrderBuilderDeps{
		Listings:    store.Listings(),
		Carts:       store.Carts(),
		Orders:      store.Orders(),
		Counters:    store.Counters(),
		Referrals:   store.Referrals(),
		Stock:       env.stock,
		Coupons:     env.coupons,
		UnitOfWork:  store,
		Pricing:     cfg.pricing,
		Clock:       env.clock.Now,
		IDGenerator: env.ids.New,
		Metrics:     env.metrics,
	})
	if err != nil {
		t.Fatalf("order builder: %v", err)
	}
	calculator := NewCommissionCalculator(CommissionCalculatorDeps{IDGenerator: env.ids.New, Clock: env.clock.Now})
	env.orders, err = NewOrderService(OrderServiceDeps{
		Orders:            store.Orders(),
		Commissions:       store.Commissions(),
		Referrals:         store.Referrals(),
		Stock:             env.stock,
		Calculator:        calculator,
		UnitOfWork:        store,
		Notifications:     env.notifications,
		Metrics:           env.metrics,
		SimulationEnabled: cfg.simulation,
		Clock:             env.clock.Now,
		IDGenerator:       env.ids.New,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	env.tickets, err = NewTicketService(TicketServiceDeps{
		Shows:             store.Shows(),
		Tickets:           store.Tickets(),
		Commissions:       store.Commissions(),
		Calculator:        calculator,
		UnitOfWork:        store,
		Notifications:     env.notifications,
		Metrics:           env.metrics,
		HoldDuration:      cfg.pricing.HoldDuration,
		SimulationEnabled: cfg.simulation,
		Clock:             env.clock.Now,
		IDGenerator:       env.ids.New,
	})
	if err != nil {
		t.Fatalf("ticket service: %v", err)
	}
	return env
}

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func (e *testEnv) seedListing(t *testing.T, id string, price string, stock int) domain.Listing {
	t.Helper()
	listing := domain.Listing{
		ID:                id,
		ArtistID:          "artist-" + id,
		ProductID:         "prod-" + id,
		Title:             "Listing " + id,
		Price:             dec(price),
		ManufacturingCost: dec("40"),
		CommissionRate:    dec("20"),
		Stock:             stock,
		Active:            true,
		CustomizationOptions: map[domain.CustomizationType]decimal.Decimal{
			domain.CustomizationEngraving: dec("20"),
			domain.CustomizationGiftWrap:  dec("5.50"),
		},
	}
	if err := e.store.Listings().Upsert(context.Background(), listing); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return listing
}

func (e *testEnv) seedCoupon(t *testing.T, coupon domain.Coupon) domain.Coupon {
	t.Helper()
	if coupon.ID == "" {
		coupon.ID = "cpn_" + coupon.Code
	}
	coupon.Active = true
	if err := e.store.Coupons().Insert(context.Background(), coupon); err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	return coupon
}

func (e *testEnv) seedShow(t *testing.T, id string, capacity int) domain.Show {
	t.Helper()
	show := domain.Show{
		ID:              id,
		OwnerID:         "owner-" + id,
		Title:           "Show " + id,
		StartsAt:        e.clock.Now().Add(72 * time.Hour),
		Capacity:        capacity,
		TicketPrice:     dec("50"),
		PlatformFeeRate: dec("10"),
		Status:          domain.ShowScheduled,
	}
	if err := e.store.Shows().Upsert(context.Background(), show); err != nil {
		t.Fatalf("seed show: %v", err)
	}
	return show
}

func (e *testEnv) seedReferral(t *testing.T, code, ownerID string) domain.Referral {
	t.Helper()
	referral := domain.Referral{
		ID:             "ref_" + code,
		Code:           code,
		OwnerID:        ownerID,
		CommissionRate: dec("5"),
	}
	if err := e.store.Referrals().Upsert(context.Background(), referral); err != nil {
		t.Fatalf("seed referral: %v", err)
	}
	return referral
}

func (e *testEnv) stockOf(t *testing.T, listingID string) int {
	t.Helper()
	listing, err := e.store.Listings().FindByID(context.Background(), listingID)
	if err != nil {
		t.Fatalf("find listing: %v", err)
	}
	return listing.Stock
}

func (e *testEnv) placeOrder(t *testing.T, buyerID string, items ...CartItem) Order {
	t.Helper()
	order, err := e.builder.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID:  buyerID,
		Shipping: validShipping(),
		Items:    items,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (e *testEnv) approve(t *testing.T, orderID string) PaymentOutcomeResult {
	t.Helper()
	result, err := e.orders.ApplyPaymentOutcome(context.Background(), PaymentOutcomeCommand{
		ReferenceID:   orderID,
		PaymentID:     "pay-" + orderID,
		PaymentMethod: "visa",
		Provider:      "checkoutpro",
		Outcome:       domain.PaymentApproved,
	})
	if err != nil {
		t.Fatalf("apply approved outcome: %v", err)
	}
	return result
}

func validShipping() ShippingAddress {
	return ShippingAddress{
		FullName:     "Ana Quispe",
		Phone:        "+51 999 888 777",
		AddressLine1: "Av. Larco 123",
		City:         "Lima",
		Region:       "Lima",
		Country:      "pe",
	}
}
