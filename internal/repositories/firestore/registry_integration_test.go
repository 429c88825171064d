//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	pconfig "github.com/artisan-market/api/internal/platform/config"
	pfirestore "github.com/artisan-market/api/internal/platform/firestore"
	"github.com/artisan-market/api/internal/platform/firestore/emulatortest"
	"github.com/artisan-market/api/internal/repositories"
	"github.com/shopspring/decimal"
)

func newEmulatorRegistry(t *testing.T, project string) *Registry {
	t.Helper()
	endpoint := emulatortest.Start(t)
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: endpoint})
	registry := NewRegistry(provider, pfirestore.WithTxAttempts(20))
	t.Cleanup(func() { _ = registry.Close(context.Background()) })
	return registry
}

func TestRegistryCountersAreGapFree(t *testing.T) {
	registry := newEmulatorRegistry(t, "counter-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			value, err := registry.Counters().Next(ctx, "orders:2024", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, value := range results {
		if value != int64(i+1) {
			t.Fatalf("expected contiguous sequence, got %v", results)
		}
	}
}

func TestRegistryStockReservationsSerialise(t *testing.T) {
	registry := newEmulatorRegistry(t, "stock-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := registry.Listings().Upsert(ctx, domain.Listing{
		ID: "lst-1", ArtistID: "artist-1", Title: "Mug", Price: decimal.RequireFromString("25.00"),
		CommissionRate: decimal.RequireFromString("0.10"), Stock: 3, Active: true, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed listing: %v", err)
	}

	errOutOfStock := errors.New("out of stock")
	reserve := func() error {
		return registry.RunInTx(ctx, func(ctx context.Context) error {
			listing, err := registry.Listings().FindByID(ctx, "lst-1")
			if err != nil {
				return err
			}
			if listing.Stock < 1 {
				return errOutOfStock
			}
			return registry.Listings().SetStock(ctx, "lst-1", listing.Stock-1, time.Now())
		})
	}

	const buyers = 6
	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = reserve()
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errOutOfStock):
		default:
			t.Fatalf("unexpected reservation error: %v", err)
		}
	}
	if succeeded != 3 {
		t.Fatalf("expected exactly three reservations, got %d", succeeded)
	}

	listing, err := registry.Listings().FindByID(ctx, "lst-1")
	if err != nil {
		t.Fatalf("reload listing: %v", err)
	}
	if listing.Stock != 0 {
		t.Fatalf("expected stock exhausted, got %d", listing.Stock)
	}

	boom := errors.New("boom")
	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		if err := registry.Listings().IncrementStock(ctx, "lst-1", 5, time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	listing, _ = registry.Listings().FindByID(ctx, "lst-1")
	if listing.Stock != 0 {
		t.Fatalf("writes of a failed transaction must be discarded, stock=%d", listing.Stock)
	}
}

func TestRegistryOrderQueries(t *testing.T) {
	registry := newEmulatorRegistry(t, "orders-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	orders := []domain.Order{
		{ID: "ord-1", Number: "ORD-2024-000001", BuyerID: "buyer-1", Status: domain.OrderStatusPending, Currency: "PEN", ExpiresAt: &past, CouponID: "cpn-1", CreatedAt: now.Add(-3 * time.Minute)},
		{ID: "ord-2", Number: "ORD-2024-000002", BuyerID: "buyer-1", Status: domain.OrderStatusPending, Currency: "PEN", ExpiresAt: &future, CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "ord-3", Number: "ORD-2024-000003", BuyerID: "buyer-1", Status: domain.OrderStatusPaid, Currency: "PEN", PaidAt: &now, CreatedAt: now.Add(-time.Minute)},
	}
	for _, order := range orders {
		order.UpdatedAt = order.CreatedAt
		if err := registry.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", order.ID, err)
		}
	}
	if err := registry.Orders().Insert(ctx, orders[0]); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	expired, err := registry.Orders().ListExpiredPending(ctx, now, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "ord-1" {
		t.Fatalf("expected only ord-1 expired, got %+v", expired)
	}

	purchases, err := registry.Orders().CountPurchases(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("count purchases: %v", err)
	}
	if purchases != 1 {
		t.Fatalf("expected one purchase, got %d", purchases)
	}

	withCoupon, err := registry.Orders().ListByBuyerAndCoupon(ctx, "buyer-1", "cpn-1")
	if err != nil || len(withCoupon) != 1 {
		t.Fatalf("expected one coupon order, got %d err=%v", len(withCoupon), err)
	}

	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{BuyerID: "buyer-1", Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "ord-3" || page.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	page, err = registry.Orders().List(ctx, repositories.OrderListFilter{BuyerID: "buyer-1", Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord-1" || page.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", page)
	}
}
