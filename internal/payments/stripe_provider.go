package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/artisan-market/api/internal/platform/textutil"
)

// StripeName is the registry key of the Stripe provider.
const StripeName = "stripe"

const (
	metadataExternalReference = "external_reference"
	stripeMaxProductName      = 250
)

var stripeMetadataLimits = textutil.MapLimits{MaxEntries: 49, MaxKeyLength: 40, MaxValueLength: 500}

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	sessions       stripeSessionAPI
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements Provider with Checkout Sessions and Payment Intents.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions:       sc.CheckoutSessions,
			intents:        sc.PaymentIntents,
			paymentMethods: sc.PaymentMethods,
		}
	}
	if clients.sessions == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePreference creates a Stripe Checkout session carrying the external reference
// on both the session and its payment intent.
func (p *StripeProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if p == nil {
		return Preference{}, errors.New("stripe: provider is nil")
	}
	reference := strings.TrimSpace(req.ExternalReference)
	if reference == "" {
		return Preference{}, errors.New("stripe: external reference is required")
	}

	metadata := textutil.NormalizeStringMap(req.Metadata, stripeMetadataLimits)
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	metadata[metadataExternalReference] = reference

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(textutil.FirstNonEmpty(req.FailureURL, req.SuccessURL)),
		ClientReferenceID: stripe.String(reference),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
		LineItems: stripeLineItems(req),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.ExpiresAt != nil && req.ExpiresAt.After(p.clock().Add(30*time.Minute)) {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Preference{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"reference": reference,
	})

	var expires *time.Time
	if session.ExpiresAt != 0 {
		t := time.Unix(session.ExpiresAt, 0).UTC()
		expires = &t
	}
	return Preference{
		ID:                session.ID,
		Provider:          StripeName,
		RedirectURL:       session.URL,
		ExternalReference: reference,
		ExpiresAt:         expires,
	}, nil
}

// stripeLineItems mirrors the preference lines. Stripe rejects negative unit amounts,
// so a discounted preference collapses into one line for the total.
func stripeLineItems(req PreferenceRequest) []*stripe.CheckoutSessionLineItemParams {
	collapse := len(req.Items) == 0
	for _, item := range req.Items {
		if item.UnitAmount.IsNegative() {
			collapse = true
			break
		}
	}
	if collapse {
		return []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(ToMinorUnits(req.Total)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ExternalReference),
				},
			},
		}}
	}

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(textutil.FirstNonEmpty(item.Currency, req.Currency))),
				UnitAmount: stripe.Int64(ToMinorUnits(item.UnitAmount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(textutil.Truncate(item.Title, stripeMaxProductName)),
				},
			},
		}
		if item.ID != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.ID, "kind": string(item.Kind)}
		}
		lines = append(lines, line)
	}
	return lines
}

// LookupPayment retrieves a Payment Intent and resolves its payment method type.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(req.PaymentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return PaymentDetails{}, ErrPaymentNotFound
		}
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	details := stripePaymentDetails(intent)
	if details.Method == "" && intent.PaymentMethod != nil && intent.PaymentMethod.ID != "" {
		details.Method = p.paymentMethodLabel(ctx, intent.PaymentMethod.ID)
	}
	return details, nil
}

// paymentMethodLabel is best effort: an empty label never fails a lookup.
func (p *StripeProvider) paymentMethodLabel(ctx context.Context, id string) string {
	if p.api.paymentMethods == nil {
		return ""
	}
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	pm, err := p.api.paymentMethods.Get(id, params)
	if err != nil || pm == nil {
		p.logger(ctx, "payments.stripe.payment_method.lookup_failed", map[string]any{"paymentMethod": id})
		return ""
	}
	return paymentMethodLabel(pm)
}

func paymentMethodLabel(pm *stripe.PaymentMethod) string {
	if pm == nil || pm.Type == "" {
		return ""
	}
	if pm.Type == stripe.PaymentMethodTypeCard && pm.Card != nil && pm.Card.Brand != "" {
		return "card:" + strings.ToLower(string(pm.Card.Brand))
	}
	return string(pm.Type)
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusApproved
	case stripe.PaymentIntentStatusCanceled:
		status = StatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			status = StatusRejected
		}
	}

	var approvedAt *time.Time
	if charge := intent.LatestCharge; charge != nil {
		if charge.Refunded || (charge.Amount > 0 && charge.AmountRefunded >= charge.Amount) {
			status = StatusRefunded
		}
		if charge.Paid && charge.Created != 0 {
			t := time.Unix(charge.Created, 0).UTC()
			approvedAt = &t
		}
	}

	currency := strings.ToUpper(string(intent.Currency))
	method := ""
	if intent.PaymentMethod != nil {
		method = paymentMethodLabel(intent.PaymentMethod)
	}

	return PaymentDetails{
		Provider:          StripeName,
		PaymentID:         intent.ID,
		Status:            status,
		RawStatus:         string(intent.Status),
		ExternalReference: intent.Metadata[metadataExternalReference],
		Method:            method,
		Amount:            decimal.New(intent.Amount, -2),
		Currency:          currency,
		ApprovedAt:        approvedAt,
		Raw: map[string]any{
			"status": string(intent.Status),
		},
	}
}
