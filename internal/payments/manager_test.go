package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	lastOp     string
	lastPref   PreferenceRequest
	preference Preference
	payment    PaymentDetails
	err        error
}

func (f *fakeProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	f.lastOp = "create"
	f.lastPref = req
	return f.preference, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func TestManagerCreatePreferenceUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	checkout := &fakeProvider{preference: Preference{ID: "pref_cp"}}
	stripe := &fakeProvider{preference: Preference{ID: "cs_stripe"}}

	mgr, err := NewManager(map[string]Provider{
		CheckoutProName: checkout,
		StripeName:      stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	pref, err := mgr.CreatePreference(ctx, PaymentContext{PreferredProvider: "Stripe"}, PreferenceRequest{Currency: "PEN"})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.Provider != StripeName {
		t.Fatalf("expected provider stripe, got %q", pref.Provider)
	}
	if stripe.lastOp != "create" {
		t.Fatalf("expected stripe provider to handle call")
	}
	if checkout.lastOp != "" {
		t.Fatalf("expected checkout provider to remain unused")
	}
}

func TestManagerDefaultsToCheckoutPro(t *testing.T) {
	ctx := context.Background()
	checkout := &fakeProvider{payment: PaymentDetails{PaymentID: "123", Status: StatusApproved}}
	stripe := &fakeProvider{}

	mgr, err := NewManager(map[string]Provider{CheckoutProName: checkout, StripeName: stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.LookupPayment(ctx, PaymentContext{}, LookupRequest{PaymentID: "123"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if checkout.lastOp != "lookup" {
		t.Fatalf("expected default provider to handle lookup")
	}
	if details.Provider != CheckoutProName {
		t.Fatalf("expected provider stamped on details, got %q", details.Provider)
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	checkout := &fakeProvider{}
	stripe := &fakeProvider{}

	mgr, err := NewManager(
		map[string]Provider{CheckoutProName: checkout, StripeName: stripe},
		WithCurrencyRoutes(map[string]string{"usd": "stripe"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.CreatePreference(ctx, PaymentContext{Currency: "USD"}, PreferenceRequest{}); err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if stripe.lastOp != "create" {
		t.Fatalf("expected USD to route to stripe")
	}
}

func TestManagerUnknownPreferredProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{CheckoutProName: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.CreatePreference(context.Background(), PaymentContext{PreferredProvider: "paypal"}, PreferenceRequest{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestManagerNoDefaultAmongMany(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{"a": &fakeProvider{}, "b": &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.LookupPayment(context.Background(), PaymentContext{}, LookupRequest{}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestMinorUnitConversion(t *testing.T) {
	cases := map[string]int64{
		"123.90": 12390,
		"0.01":   1,
		"15":     1500,
		"10.005": 1001,
	}
	for raw, want := range cases {
		if got := ToMinorUnits(decimal.RequireFromString(raw)); got != want {
			t.Fatalf("ToMinorUnits(%s) = %d, want %d", raw, got, want)
		}
	}
	if got := FromMinorUnits(12390); !got.Equal(decimal.RequireFromString("123.90")) {
		t.Fatalf("FromMinorUnits = %s", got)
	}
}
