package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusApproved indicates the gateway accredited the payment.
	StatusApproved Status = "approved"
	// StatusRejected indicates the gateway declined the payment.
	StatusRejected Status = "rejected"
	// StatusCancelled indicates the payment was cancelled or expired at the gateway.
	StatusCancelled Status = "cancelled"
	// StatusRefunded indicates the payment has been refunded or charged back.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrPaymentNotFound is returned when the gateway has no payment for the id.
var ErrPaymentNotFound = errors.New("payments: payment not found")

// LineKind distinguishes merchandise from the extra lines mirrored into a preference.
type LineKind string

const (
	LineItem          LineKind = "item"
	LineCustomization LineKind = "customization"
	LineShipping      LineKind = "shipping"
	LineTax           LineKind = "tax"
	LineDiscount      LineKind = "discount"
)

// PreferenceItem is a single line on the gateway checkout page. Discount lines carry a
// negative unit amount.
type PreferenceItem struct {
	ID         string
	Kind       LineKind
	Title      string
	Quantity   int64
	UnitAmount decimal.Decimal
	Currency   string
}

// Amount returns quantity times unit amount.
func (i PreferenceItem) Amount() decimal.Decimal {
	return i.UnitAmount.Mul(decimal.NewFromInt(i.Quantity))
}

// PreferenceRequest captures the payload required to create a hosted checkout.
type PreferenceRequest struct {
	ExternalReference string
	Currency          string
	Total             decimal.Decimal
	PayerID           string
	Items             []PreferenceItem
	SuccessURL        string
	FailureURL        string
	PendingURL        string
	NotificationURL   string
	ExpiresAt         *time.Time
	IdempotencyKey    string
	Metadata          map[string]string
}

// Preference is the hosted checkout returned to the buyer.
type Preference struct {
	ID                string
	Provider          string
	RedirectURL       string
	SandboxURL        string
	ExternalReference string
	ExpiresAt         *time.Time
}

// LookupRequest identifies a gateway payment for reconciliation.
type LookupRequest struct {
	PaymentID string
}

// PaymentDetails normalises gateway specific fields.
type PaymentDetails struct {
	Provider          string
	PaymentID         string
	Status            Status
	RawStatus         string
	ExternalReference string
	Method            string
	Amount            decimal.Decimal
	Currency          string
	ApprovedAt        *time.Time
	Raw               map[string]any
}

// Provider defines the contract for gateway adapters to implement.
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{
		providers: registered,
	}
	if _, ok := registered[CheckoutProName]; ok {
		m.defaultProvider = CheckoutProName
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePreference delegates to the resolved provider.
func (m *Manager) CreatePreference(ctx context.Context, paymentCtx PaymentContext, req PreferenceRequest) (Preference, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Preference{}, err
	}
	pref, err := provider.CreatePreference(ctx, req)
	if err != nil {
		return Preference{}, err
	}
	pref.Provider = key
	return pref, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.LookupPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// ToMinorUnits converts a two decimal amount into integer cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// FromMinorUnits converts integer cents into a decimal amount.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

