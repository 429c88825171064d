package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artisan-market/api/internal/platform/textutil"
)

// CheckoutProName is the registry key of the hosted checkout gateway.
const CheckoutProName = "checkoutpro"

const (
	defaultCheckoutProBaseURL = "https://api.mercadopago.com"
	maxGatewayErrorBody       = 4 << 10
	checkoutProMaxTitle       = 256
)

// CheckoutProLogger defines the logging contract for gateway operations.
type CheckoutProLogger func(ctx context.Context, event string, fields map[string]any)

// CheckoutProConfig configures the hosted checkout gateway client.
type CheckoutProConfig struct {
	AccessToken string
	BaseURL     string
	HTTPClient  *http.Client
	Logger      CheckoutProLogger
}

// CheckoutProProvider talks to a MercadoPago style preferences and payments API.
type CheckoutProProvider struct {
	token   string
	baseURL string
	hc      *http.Client
	logger  CheckoutProLogger
}

// NewCheckoutProProvider validates configuration and returns the provider.
func NewCheckoutProProvider(cfg CheckoutProConfig) (*CheckoutProProvider, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("checkoutpro: access token is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultCheckoutProBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("checkoutpro: invalid base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CheckoutProProvider{token: token, baseURL: base, hc: hc, logger: logger}, nil
}

type (
	preferenceItemPayload struct {
		ID         string      `json:"id,omitempty"`
		Title      string      `json:"title"`
		Quantity   int64       `json:"quantity"`
		UnitPrice  json.Number `json:"unit_price"`
		CurrencyID string      `json:"currency_id"`
		CategoryID string      `json:"category_id,omitempty"`
	}

	preferencePayload struct {
		Items             []preferenceItemPayload `json:"items"`
		ExternalReference string                  `json:"external_reference"`
		Payer             *preferencePayer        `json:"payer,omitempty"`
		BackURLs          *preferenceBackURLs     `json:"back_urls,omitempty"`
		AutoReturn        string                  `json:"auto_return,omitempty"`
		NotificationURL   string                  `json:"notification_url,omitempty"`
		Expires           bool                    `json:"expires"`
		ExpirationDateTo  string                  `json:"expiration_date_to,omitempty"`
		Metadata          map[string]string       `json:"metadata,omitempty"`
	}

	preferencePayer struct {
		ID string `json:"id,omitempty"`
	}

	preferenceBackURLs struct {
		Success string `json:"success,omitempty"`
		Failure string `json:"failure,omitempty"`
		Pending string `json:"pending,omitempty"`
	}

	preferenceReply struct {
		ID               string `json:"id"`
		InitPoint        string `json:"init_point"`
		SandboxInitPoint string `json:"sandbox_init_point"`
	}

	paymentReply struct {
		ID                int64           `json:"id"`
		Status            string          `json:"status"`
		StatusDetail      string          `json:"status_detail"`
		ExternalReference string          `json:"external_reference"`
		PaymentMethodID   string          `json:"payment_method_id"`
		PaymentTypeID     string          `json:"payment_type_id"`
		TransactionAmount decimal.Decimal `json:"transaction_amount"`
		CurrencyID        string          `json:"currency_id"`
		DateApproved      *time.Time      `json:"date_approved"`
	}
)

// CreatePreference posts a checkout preference and returns the init point.
func (p *CheckoutProProvider) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if p == nil {
		return Preference{}, errors.New("checkoutpro: provider is nil")
	}
	if strings.TrimSpace(req.ExternalReference) == "" {
		return Preference{}, errors.New("checkoutpro: external reference is required")
	}
	if len(req.Items) == 0 {
		return Preference{}, errors.New("checkoutpro: at least one item is required")
	}

	payload := preferencePayload{
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
		Metadata:          textutil.NormalizeStringMap(req.Metadata, textutil.MapLimits{}),
	}
	payload.Items = checkoutProItems(req)
	if req.PayerID != "" {
		payload.Payer = &preferencePayer{ID: req.PayerID}
	}
	if req.SuccessURL != "" || req.FailureURL != "" || req.PendingURL != "" {
		payload.BackURLs = &preferenceBackURLs{Success: req.SuccessURL, Failure: req.FailureURL, Pending: req.PendingURL}
		if req.SuccessURL != "" {
			payload.AutoReturn = "approved"
		}
	}
	if req.ExpiresAt != nil {
		payload.Expires = true
		payload.ExpirationDateTo = req.ExpiresAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}

	var reply preferenceReply
	if err := p.do(ctx, http.MethodPost, "/checkout/preferences", req.IdempotencyKey, payload, &reply); err != nil {
		return Preference{}, fmt.Errorf("checkoutpro: create preference: %w", err)
	}
	p.logger(ctx, "payments.checkoutpro.preference.created", map[string]any{
		"preferenceId": reply.ID,
		"reference":    req.ExternalReference,
	})
	return Preference{
		ID:                reply.ID,
		Provider:          CheckoutProName,
		RedirectURL:       reply.InitPoint,
		SandboxURL:        reply.SandboxInitPoint,
		ExternalReference: req.ExternalReference,
		ExpiresAt:         req.ExpiresAt,
	}, nil
}

// checkoutProItems maps request lines to preference items. Checkout Pro rejects negative
// unit prices, so a discounted request collapses into one line for the total.
func checkoutProItems(req PreferenceRequest) []preferenceItemPayload {
	collapse := false
	for _, item := range req.Items {
		if item.UnitAmount.IsNegative() {
			collapse = true
			break
		}
	}
	if collapse {
		return []preferenceItemPayload{{
			ID:         req.ExternalReference,
			Title:      textutil.Truncate(req.ExternalReference, checkoutProMaxTitle),
			Quantity:   1,
			UnitPrice:  json.Number(req.Total.StringFixed(2)),
			CurrencyID: strings.ToUpper(req.Currency),
			CategoryID: string(LineItem),
		}}
	}

	items := make([]preferenceItemPayload, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, preferenceItemPayload{
			ID:         item.ID,
			Title:      textutil.Truncate(item.Title, checkoutProMaxTitle),
			Quantity:   max64(item.Quantity, 1),
			UnitPrice:  json.Number(item.UnitAmount.StringFixed(2)),
			CurrencyID: strings.ToUpper(textutil.FirstNonEmpty(item.Currency, req.Currency)),
			CategoryID: string(item.Kind),
		})
	}
	return items
}

// LookupPayment fetches the payment so webhook payloads never have to be trusted.
func (p *CheckoutProProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("checkoutpro: provider is nil")
	}
	id := strings.TrimSpace(req.PaymentID)
	if id == "" {
		return PaymentDetails{}, errors.New("checkoutpro: payment id is required")
	}

	var reply paymentReply
	if err := p.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), "", nil, &reply); err != nil {
		return PaymentDetails{}, fmt.Errorf("checkoutpro: lookup payment: %w", err)
	}

	method := reply.PaymentMethodID
	if reply.PaymentTypeID != "" && reply.PaymentTypeID != method {
		method = reply.PaymentTypeID + ":" + method
	}
	var approved *time.Time
	if reply.DateApproved != nil {
		t := reply.DateApproved.UTC()
		approved = &t
	}
	return PaymentDetails{
		Provider:          CheckoutProName,
		PaymentID:         fmt.Sprintf("%d", reply.ID),
		Status:            mapCheckoutProStatus(reply.Status),
		RawStatus:         reply.Status,
		ExternalReference: reply.ExternalReference,
		Method:            method,
		Amount:            reply.TransactionAmount,
		Currency:          strings.ToUpper(reply.CurrencyID),
		ApprovedAt:        approved,
		Raw: map[string]any{
			"status":        reply.Status,
			"status_detail": reply.StatusDetail,
		},
	}, nil
}

func (p *CheckoutProProvider) do(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrPaymentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapCheckoutProStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return StatusApproved
	case "rejected":
		return StatusRejected
	case "cancelled", "canceled", "expired":
		return StatusCancelled
	case "refunded", "charged_back":
		return StatusRefunded
	default:
		return StatusPending
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
