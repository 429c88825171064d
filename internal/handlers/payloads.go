package handlers

import (
	"sort"
	"strings"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/services"
)

type orderTotalsPayload struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

type customizationPayload struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Price           string `json:"price"`
	Status          string `json:"status"`
	ScheduledAt     string `json:"scheduled_at,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type orderItemPayload struct {
	ID              string                 `json:"id"`
	ListingID       string                 `json:"listing_id"`
	ArtistID        string                 `json:"artist_id"`
	ProductID       string                 `json:"product_id,omitempty"`
	Title           string                 `json:"title"`
	UnitPrice       string                 `json:"unit_price"`
	Quantity        int                    `json:"quantity"`
	TotalPrice      string                 `json:"total_price"`
	Variant         string                 `json:"variant,omitempty"`
	Personalization string                 `json:"personalization,omitempty"`
	Customizations  []customizationPayload `json:"customizations,omitempty"`
}

type shippingPayload struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	Region       string `json:"region"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country"`
	Reference    string `json:"reference,omitempty"`
}

type invoicePayload struct {
	Type        string `json:"type"`
	RUC         string `json:"ruc,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	Number             string             `json:"number"`
	BuyerID            string             `json:"buyer_id"`
	Status             string             `json:"status"`
	Currency           string             `json:"currency"`
	Totals             orderTotalsPayload `json:"totals"`
	CouponCode         string             `json:"coupon_code,omitempty"`
	ReferralCode       string             `json:"referral_code,omitempty"`
	PaymentID          string             `json:"payment_id,omitempty"`
	PaymentMethod      string             `json:"payment_method,omitempty"`
	PaymentProvider    string             `json:"payment_provider,omitempty"`
	Shipping           shippingPayload    `json:"shipping"`
	Invoice            invoicePayload     `json:"invoice"`
	Carrier            string             `json:"carrier,omitempty"`
	TrackingNumber     string             `json:"tracking_number,omitempty"`
	Items              []orderItemPayload `json:"items"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	ExpiresAt          string             `json:"expires_at,omitempty"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at,omitempty"`
	PaidAt             string             `json:"paid_at,omitempty"`
	ShippedAt          string             `json:"shipped_at,omitempty"`
	DeliveredAt        string             `json:"delivered_at,omitempty"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
	RefundedAt         string             `json:"refunded_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderSummaryPayload struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	Currency  string `json:"currency"`
	Total     string `json:"total"`
	CreatedAt string `json:"created_at"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func buildOrderTotals(totals domain.OrderTotals) orderTotalsPayload {
	return orderTotalsPayload{
		Subtotal: formatMoney(totals.Subtotal),
		Discount: formatMoney(totals.Discount),
		Shipping: formatMoney(totals.Shipping),
		Tax:      formatMoney(totals.Tax),
		Total:    formatMoney(totals.Total),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Number:          order.Number,
		BuyerID:         order.BuyerID,
		Status:          string(order.Status),
		Currency:        strings.ToUpper(order.Currency),
		Totals:          buildOrderTotals(order.Totals),
		CouponCode:      order.CouponCode,
		ReferralCode:    order.ReferralCode,
		PaymentID:       order.PaymentID,
		PaymentMethod:   order.PaymentMethod,
		PaymentProvider: order.PaymentProvider,
		Shipping: shippingPayload{
			FullName:     order.Shipping.FullName,
			Phone:        order.Shipping.Phone,
			AddressLine1: order.Shipping.AddressLine1,
			AddressLine2: order.Shipping.AddressLine2,
			City:         order.Shipping.City,
			Region:       order.Shipping.Region,
			PostalCode:   order.Shipping.PostalCode,
			Country:      order.Shipping.Country,
			Reference:    order.Shipping.Reference,
		},
		Invoice: invoicePayload{
			Type:        string(order.Invoice.Type),
			RUC:         order.Invoice.RUC,
			CompanyName: order.Invoice.CompanyName,
		},
		Carrier:            order.Carrier,
		TrackingNumber:     order.TrackingNumber,
		Items:              make([]orderItemPayload, 0, len(order.Items)),
		CancellationReason: order.CancellationReason,
		ExpiresAt:          formatTimePtr(order.ExpiresAt),
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
		PaidAt:             formatTimePtr(order.PaidAt),
		ShippedAt:          formatTimePtr(order.ShippedAt),
		DeliveredAt:        formatTimePtr(order.DeliveredAt),
		CancelledAt:        formatTimePtr(order.CancelledAt),
		RefundedAt:         formatTimePtr(order.RefundedAt),
	}
	for _, item := range order.Items {
		entry := orderItemPayload{
			ID:              item.ID,
			ListingID:       item.ListingID,
			ArtistID:        item.ArtistID,
			ProductID:       item.ProductID,
			Title:           item.Title,
			UnitPrice:       formatMoney(item.UnitPrice),
			Quantity:        item.Quantity,
			TotalPrice:      formatMoney(item.TotalPrice),
			Variant:         item.Variant,
			Personalization: item.Personalization,
		}
		for _, c := range item.Customizations {
			entry.Customizations = append(entry.Customizations, customizationPayload{
				ID:              c.ID,
				Type:            string(c.Type),
				Price:           formatMoney(c.Price),
				Status:          string(c.Status),
				ScheduledAt:     formatTimePtr(c.ScheduledAt),
				DurationMinutes: c.DurationMinutes,
			})
		}
		payload.Items = append(payload.Items, entry)
	}
	return payload
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:        order.ID,
		Number:    order.Number,
		Status:    string(order.Status),
		Currency:  strings.ToUpper(order.Currency),
		Total:     formatMoney(order.Totals.Total),
		CreatedAt: formatTime(order.CreatedAt),
	}
}

type cartItemPayload struct {
	ListingID       string   `json:"listing_id"`
	Quantity        int      `json:"quantity"`
	Variant         string   `json:"variant,omitempty"`
	Personalization string   `json:"personalization,omitempty"`
	Customizations  []string `json:"customizations,omitempty"`
	AddedAt         string   `json:"added_at,omitempty"`
}

type cartPayload struct {
	BuyerID   string            `json:"buyer_id"`
	Items     []cartItemPayload `json:"items"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		BuyerID:   cart.BuyerID,
		Items:     make([]cartItemPayload, 0, len(cart.Items)),
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		entry := cartItemPayload{
			ListingID:       item.ListingID,
			Quantity:        item.Quantity,
			Variant:         item.Variant,
			Personalization: item.Personalization,
			AddedAt:         formatTime(item.AddedAt),
		}
		for _, c := range item.Customizations {
			entry.Customizations = append(entry.Customizations, string(c))
		}
		payload.Items = append(payload.Items, entry)
	}
	return payload
}

type couponPayload struct {
	ID           string `json:"id,omitempty"`
	Code         string `json:"code"`
	DiscountType string `json:"discount_type"`
	Value        string `json:"value"`
	MinPurchase  string `json:"min_purchase,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	MaxUses      *int   `json:"max_uses,omitempty"`
	UsedCount    int    `json:"used_count"`
	Active       bool   `json:"active"`
}

func buildCouponPayload(coupon services.Coupon) couponPayload {
	payload := couponPayload{
		ID:           coupon.ID,
		Code:         coupon.Code,
		DiscountType: string(coupon.DiscountType),
		Value:        formatMoney(coupon.Value),
		ExpiresAt:    formatTimePtr(coupon.ExpiresAt),
		UsedCount:    coupon.UsedCount,
		Active:       coupon.Active,
	}
	if coupon.MinPurchase != nil {
		payload.MinPurchase = formatMoney(*coupon.MinPurchase)
	}
	if coupon.MaxUses != nil {
		max := *coupon.MaxUses
		payload.MaxUses = &max
	}
	return payload
}

type ticketPayload struct {
	ID              string `json:"id"`
	ShowID          string `json:"show_id"`
	BuyerID         string `json:"buyer_id"`
	QRCode          string `json:"qr_code"`
	Price           string `json:"price"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	Paid            bool   `json:"paid"`
	PaymentID       string `json:"payment_id,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	PaymentProvider string `json:"payment_provider,omitempty"`
	PaidAt          string `json:"paid_at,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	UsedAt          string `json:"used_at,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type ticketResponse struct {
	Ticket ticketPayload `json:"ticket"`
}

func buildTicketPayload(ticket services.Ticket) ticketPayload {
	return ticketPayload{
		ID:              ticket.ID,
		ShowID:          ticket.ShowID,
		BuyerID:         ticket.BuyerID,
		QRCode:          ticket.QRCode,
		Price:           formatMoney(ticket.Price),
		Currency:        strings.ToUpper(ticket.Currency),
		Status:          string(ticket.Status),
		Paid:            ticket.Paid(),
		PaymentID:       ticket.PaymentID,
		PaymentMethod:   ticket.PaymentMethod,
		PaymentProvider: ticket.PaymentProvider,
		PaidAt:          formatTimePtr(ticket.PaidAt),
		ExpiresAt:       formatTimePtr(ticket.ExpiresAt),
		UsedAt:          formatTimePtr(ticket.UsedAt),
		CancelledAt:     formatTimePtr(ticket.CancelledAt),
		CreatedAt:       formatTime(ticket.CreatedAt),
	}
}

type showPayload struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	StartsAt    string `json:"starts_at"`
	Capacity    int    `json:"capacity"`
	TicketPrice string `json:"ticket_price"`
	Status      string `json:"status"`
}

func buildShowPayload(show services.Show) showPayload {
	return showPayload{
		ID:          show.ID,
		OwnerID:     show.OwnerID,
		Title:       show.Title,
		StartsAt:    formatTime(show.StartsAt),
		Capacity:    show.Capacity,
		TicketPrice: formatMoney(show.TicketPrice),
		Status:      string(show.Status),
	}
}

type commissionPayload struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id,omitempty"`
	TicketID        string `json:"ticket_id,omitempty"`
	OrderItemID     string `json:"order_item_id,omitempty"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	Rate            string `json:"rate"`
	Status          string `json:"status"`
	BeneficiaryID   string `json:"beneficiary_id"`
	BeneficiaryType string `json:"beneficiary_type"`
	CreatedAt       string `json:"created_at"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
}

func buildCommissionPayloads(commissions []services.Commission) []commissionPayload {
	out := make([]commissionPayload, 0, len(commissions))
	for _, c := range commissions {
		out = append(out, commissionPayload{
			ID:              c.ID,
			OrderID:         c.OrderID,
			TicketID:        c.TicketID,
			OrderItemID:     c.OrderItemID,
			Type:            string(c.Type),
			Amount:          formatMoney(c.Amount),
			Rate:            c.Rate.String(),
			Status:          string(c.Status),
			BeneficiaryID:   c.BeneficiaryID,
			BeneficiaryType: string(c.BeneficiaryType),
			CreatedAt:       formatTime(c.CreatedAt),
			CancelledAt:     formatTimePtr(c.CancelledAt),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type preferencePayload struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url"`
	Reference   string `json:"reference"`
}

func buildPreferencePayload(pref services.PaymentPreference) preferencePayload {
	return preferencePayload{
		ID:          pref.ID,
		Provider:    pref.Provider,
		RedirectURL: pref.RedirectURL,
		Reference:   pref.Reference,
	}
}

type paymentOutcomePayload struct {
	Applied bool   `json:"applied"`
	Status  string `json:"status"`
}
