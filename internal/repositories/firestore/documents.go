package firestore

import (
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/shopspring/decimal"
)

// Monetary values are persisted as canonical decimal strings so no float rounding
// enters stored state.

func moneyString(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyScale)
}

func rateString(d decimal.Decimal) string {
	return d.String()
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

type listingDocument struct {
	ArtistID             string            `firestore:"artistId"`
	ProductID            string            `firestore:"productId"`
	Title                string            `firestore:"title"`
	Price                string            `firestore:"price"`
	ManufacturingCost    string            `firestore:"manufacturingCost"`
	CommissionRate       string            `firestore:"commissionRate"`
	Stock                int               `firestore:"stock"`
	Active               bool              `firestore:"active"`
	CustomizationOptions map[string]string `firestore:"customizationOptions,omitempty"`
	UpdatedAt            time.Time         `firestore:"updatedAt"`
}

func encodeListing(l domain.Listing) listingDocument {
	doc := listingDocument{
		ArtistID:          l.ArtistID,
		ProductID:         l.ProductID,
		Title:             l.Title,
		Price:             moneyString(l.Price),
		ManufacturingCost: moneyString(l.ManufacturingCost),
		CommissionRate:    rateString(l.CommissionRate),
		Stock:             l.Stock,
		Active:            l.Active,
		UpdatedAt:         l.UpdatedAt.UTC(),
	}
	if len(l.CustomizationOptions) > 0 {
		doc.CustomizationOptions = make(map[string]string, len(l.CustomizationOptions))
		for kind, price := range l.CustomizationOptions {
			doc.CustomizationOptions[string(kind)] = moneyString(price)
		}
	}
	return doc
}

func decodeListing(id string, doc listingDocument) domain.Listing {
	l := domain.Listing{
		ID:                id,
		ArtistID:          doc.ArtistID,
		ProductID:         doc.ProductID,
		Title:             doc.Title,
		Price:             parseDecimal(doc.Price),
		ManufacturingCost: parseDecimal(doc.ManufacturingCost),
		CommissionRate:    parseDecimal(doc.CommissionRate),
		Stock:             doc.Stock,
		Active:            doc.Active,
		UpdatedAt:         doc.UpdatedAt,
	}
	if len(doc.CustomizationOptions) > 0 {
		l.CustomizationOptions = make(map[domain.CustomizationType]decimal.Decimal, len(doc.CustomizationOptions))
		for kind, price := range doc.CustomizationOptions {
			l.CustomizationOptions[domain.CustomizationType(kind)] = parseDecimal(price)
		}
	}
	return l
}

type couponDocument struct {
	Code         string     `firestore:"code"`
	DiscountType string     `firestore:"discountType"`
	Value        string     `firestore:"value"`
	MinPurchase  *string    `firestore:"minPurchase"`
	ExpiresAt    *time.Time `firestore:"expiresAt"`
	MaxUses      *int       `firestore:"maxUses"`
	UsedCount    int        `firestore:"usedCount"`
	Active       bool       `firestore:"active"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

func encodeCoupon(c domain.Coupon) couponDocument {
	doc := couponDocument{
		Code:         c.Code,
		DiscountType: string(c.DiscountType),
		Value:        moneyString(c.Value),
		ExpiresAt:    utcPtr(c.ExpiresAt),
		MaxUses:      c.MaxUses,
		UsedCount:    c.UsedCount,
		Active:       c.Active,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	if c.MinPurchase != nil {
		v := moneyString(*c.MinPurchase)
		doc.MinPurchase = &v
	}
	return doc
}

func decodeCoupon(id string, doc couponDocument) domain.Coupon {
	c := domain.Coupon{
		ID:           id,
		Code:         doc.Code,
		DiscountType: domain.DiscountType(doc.DiscountType),
		Value:        parseDecimal(doc.Value),
		ExpiresAt:    doc.ExpiresAt,
		MaxUses:      doc.MaxUses,
		UsedCount:    doc.UsedCount,
		Active:       doc.Active,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	if doc.MinPurchase != nil {
		v := parseDecimal(*doc.MinPurchase)
		c.MinPurchase = &v
	}
	return c
}

type customizationDocument struct {
	ID              string     `firestore:"id"`
	Type            string     `firestore:"type"`
	Price           string     `firestore:"price"`
	Status          string     `firestore:"status"`
	ScheduledAt     *time.Time `firestore:"scheduledAt"`
	DurationMinutes int        `firestore:"durationMinutes,omitempty"`
}

type orderItemDocument struct {
	ID                string                  `firestore:"id"`
	ListingID         string                  `firestore:"listingId"`
	ArtistID          string                  `firestore:"artistId"`
	ProductID         string                  `firestore:"productId"`
	Title             string                  `firestore:"title"`
	UnitPrice         string                  `firestore:"unitPrice"`
	ManufacturingCost string                  `firestore:"manufacturingCost"`
	CommissionRate    string                  `firestore:"commissionRate"`
	Quantity          int                     `firestore:"quantity"`
	TotalPrice        string                  `firestore:"totalPrice"`
	Variant           string                  `firestore:"variant,omitempty"`
	Personalization   string                  `firestore:"personalization,omitempty"`
	Customizations    []customizationDocument `firestore:"customizations,omitempty"`
}

type shippingDocument struct {
	FullName     string `firestore:"fullName"`
	Phone        string `firestore:"phone"`
	AddressLine1 string `firestore:"addressLine1"`
	AddressLine2 string `firestore:"addressLine2,omitempty"`
	City         string `firestore:"city"`
	Region       string `firestore:"region"`
	PostalCode   string `firestore:"postalCode,omitempty"`
	Country      string `firestore:"country"`
	Reference    string `firestore:"reference,omitempty"`
}

type invoiceDocument struct {
	Type        string `firestore:"type"`
	RUC         string `firestore:"ruc,omitempty"`
	CompanyName string `firestore:"companyName,omitempty"`
}

type orderDocument struct {
	Number             string              `firestore:"number"`
	BuyerID            string              `firestore:"buyerId"`
	Status             string              `firestore:"status"`
	Currency           string              `firestore:"currency"`
	Subtotal           string              `firestore:"subtotal"`
	Discount           string              `firestore:"discount"`
	Shipping           string              `firestore:"shipping"`
	Tax                string              `firestore:"tax"`
	Total              string              `firestore:"total"`
	CouponID           string              `firestore:"couponId,omitempty"`
	CouponCode         string              `firestore:"couponCode,omitempty"`
	ReferralID         string              `firestore:"referralId,omitempty"`
	ReferralCode       string              `firestore:"referralCode,omitempty"`
	PaymentID          string              `firestore:"paymentId,omitempty"`
	PaymentMethod      string              `firestore:"paymentMethod,omitempty"`
	PaymentProvider    string              `firestore:"paymentProvider,omitempty"`
	ExpiresAt          *time.Time          `firestore:"expiresAt"`
	ShippingAddress    shippingDocument    `firestore:"shippingAddress"`
	Invoice            invoiceDocument     `firestore:"invoice"`
	Carrier            string              `firestore:"carrier,omitempty"`
	TrackingNumber     string              `firestore:"trackingNumber,omitempty"`
	Items              []orderItemDocument `firestore:"items"`
	CancellationReason string              `firestore:"cancellationReason,omitempty"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
	PaidAt             *time.Time          `firestore:"paidAt"`
	ShippedAt          *time.Time          `firestore:"shippedAt"`
	DeliveredAt        *time.Time          `firestore:"deliveredAt"`
	CancelledAt        *time.Time          `firestore:"cancelledAt"`
	RefundedAt         *time.Time          `firestore:"refundedAt"`
}

func encodeOrder(o domain.Order) orderDocument {
	doc := orderDocument{
		Number:          o.Number,
		BuyerID:         o.BuyerID,
		Status:          string(o.Status),
		Currency:        o.Currency,
		Subtotal:        moneyString(o.Totals.Subtotal),
		Discount:        moneyString(o.Totals.Discount),
		Shipping:        moneyString(o.Totals.Shipping),
		Tax:             moneyString(o.Totals.Tax),
		Total:           moneyString(o.Totals.Total),
		CouponID:        o.CouponID,
		CouponCode:      o.CouponCode,
		ReferralID:      o.ReferralID,
		ReferralCode:    o.ReferralCode,
		PaymentID:       o.PaymentID,
		PaymentMethod:   o.PaymentMethod,
		PaymentProvider: o.PaymentProvider,
		ExpiresAt:       utcPtr(o.ExpiresAt),
		ShippingAddress: shippingDocument{
			FullName:     o.Shipping.FullName,
			Phone:        o.Shipping.Phone,
			AddressLine1: o.Shipping.AddressLine1,
			AddressLine2: o.Shipping.AddressLine2,
			City:         o.Shipping.City,
			Region:       o.Shipping.Region,
			PostalCode:   o.Shipping.PostalCode,
			Country:      o.Shipping.Country,
			Reference:    o.Shipping.Reference,
		},
		Invoice: invoiceDocument{
			Type:        string(o.Invoice.Type),
			RUC:         o.Invoice.RUC,
			CompanyName: o.Invoice.CompanyName,
		},
		Carrier:            o.Carrier,
		TrackingNumber:     o.TrackingNumber,
		CancellationReason: o.CancellationReason,
		CreatedAt:          o.CreatedAt.UTC(),
		UpdatedAt:          o.UpdatedAt.UTC(),
		PaidAt:             utcPtr(o.PaidAt),
		ShippedAt:          utcPtr(o.ShippedAt),
		DeliveredAt:        utcPtr(o.DeliveredAt),
		CancelledAt:        utcPtr(o.CancelledAt),
		RefundedAt:         utcPtr(o.RefundedAt),
	}
	doc.Items = make([]orderItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		itemDoc := orderItemDocument{
			ID:                item.ID,
			ListingID:         item.ListingID,
			ArtistID:          item.ArtistID,
			ProductID:         item.ProductID,
			Title:             item.Title,
			UnitPrice:         moneyString(item.UnitPrice),
			ManufacturingCost: moneyString(item.ManufacturingCost),
			CommissionRate:    rateString(item.CommissionRate),
			Quantity:          item.Quantity,
			TotalPrice:        moneyString(item.TotalPrice),
			Variant:           item.Variant,
			Personalization:   item.Personalization,
		}
		for _, c := range item.Customizations {
			itemDoc.Customizations = append(itemDoc.Customizations, customizationDocument{
				ID:              c.ID,
				Type:            string(c.Type),
				Price:           moneyString(c.Price),
				Status:          string(c.Status),
				ScheduledAt:     utcPtr(c.ScheduledAt),
				DurationMinutes: c.DurationMinutes,
			})
		}
		doc.Items = append(doc.Items, itemDoc)
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	o := domain.Order{
		ID:       id,
		Number:   doc.Number,
		BuyerID:  doc.BuyerID,
		Status:   domain.OrderStatus(doc.Status),
		Currency: doc.Currency,
		Totals: domain.OrderTotals{
			Subtotal: parseDecimal(doc.Subtotal),
			Discount: parseDecimal(doc.Discount),
			Shipping: parseDecimal(doc.Shipping),
			Tax:      parseDecimal(doc.Tax),
			Total:    parseDecimal(doc.Total),
		},
		CouponID:        doc.CouponID,
		CouponCode:      doc.CouponCode,
		ReferralID:      doc.ReferralID,
		ReferralCode:    doc.ReferralCode,
		PaymentID:       doc.PaymentID,
		PaymentMethod:   doc.PaymentMethod,
		PaymentProvider: doc.PaymentProvider,
		ExpiresAt:       doc.ExpiresAt,
		Shipping: domain.ShippingAddress{
			FullName:     doc.ShippingAddress.FullName,
			Phone:        doc.ShippingAddress.Phone,
			AddressLine1: doc.ShippingAddress.AddressLine1,
			AddressLine2: doc.ShippingAddress.AddressLine2,
			City:         doc.ShippingAddress.City,
			Region:       doc.ShippingAddress.Region,
			PostalCode:   doc.ShippingAddress.PostalCode,
			Country:      doc.ShippingAddress.Country,
			Reference:    doc.ShippingAddress.Reference,
		},
		Invoice: domain.Invoice{
			Type:        domain.InvoiceType(doc.Invoice.Type),
			RUC:         doc.Invoice.RUC,
			CompanyName: doc.Invoice.CompanyName,
		},
		Carrier:            doc.Carrier,
		TrackingNumber:     doc.TrackingNumber,
		CancellationReason: doc.CancellationReason,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
		PaidAt:             doc.PaidAt,
		ShippedAt:          doc.ShippedAt,
		DeliveredAt:        doc.DeliveredAt,
		CancelledAt:        doc.CancelledAt,
		RefundedAt:         doc.RefundedAt,
	}
	for _, itemDoc := range doc.Items {
		item := domain.OrderItem{
			ID:                itemDoc.ID,
			ListingID:         itemDoc.ListingID,
			ArtistID:          itemDoc.ArtistID,
			ProductID:         itemDoc.ProductID,
			Title:             itemDoc.Title,
			UnitPrice:         parseDecimal(itemDoc.UnitPrice),
			ManufacturingCost: parseDecimal(itemDoc.ManufacturingCost),
			CommissionRate:    parseDecimal(itemDoc.CommissionRate),
			Quantity:          itemDoc.Quantity,
			TotalPrice:        parseDecimal(itemDoc.TotalPrice),
			Variant:           itemDoc.Variant,
			Personalization:   itemDoc.Personalization,
		}
		for _, c := range itemDoc.Customizations {
			item.Customizations = append(item.Customizations, domain.OrderItemCustomization{
				ID:              c.ID,
				Type:            domain.CustomizationType(c.Type),
				Price:           parseDecimal(c.Price),
				Status:          domain.CustomizationStatus(c.Status),
				ScheduledAt:     c.ScheduledAt,
				DurationMinutes: c.DurationMinutes,
			})
		}
		o.Items = append(o.Items, item)
	}
	return o
}

type commissionDocument struct {
	OrderID         string     `firestore:"orderId,omitempty"`
	TicketID        string     `firestore:"ticketId,omitempty"`
	OrderItemID     string     `firestore:"orderItemId,omitempty"`
	Type            string     `firestore:"type"`
	Amount          string     `firestore:"amount"`
	Rate            string     `firestore:"rate"`
	Status          string     `firestore:"status"`
	BeneficiaryID   string     `firestore:"beneficiaryId"`
	BeneficiaryType string     `firestore:"beneficiaryType"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	CancelledAt     *time.Time `firestore:"cancelledAt"`
}

func encodeCommission(c domain.Commission) commissionDocument {
	return commissionDocument{
		OrderID:         c.OrderID,
		TicketID:        c.TicketID,
		OrderItemID:     c.OrderItemID,
		Type:            string(c.Type),
		Amount:          moneyString(c.Amount),
		Rate:            rateString(c.Rate),
		Status:          string(c.Status),
		BeneficiaryID:   c.BeneficiaryID,
		BeneficiaryType: string(c.BeneficiaryType),
		CreatedAt:       c.CreatedAt.UTC(),
		CancelledAt:     utcPtr(c.CancelledAt),
	}
}

func decodeCommission(id string, doc commissionDocument) domain.Commission {
	return domain.Commission{
		ID:              id,
		OrderID:         doc.OrderID,
		TicketID:        doc.TicketID,
		OrderItemID:     doc.OrderItemID,
		Type:            domain.CommissionType(doc.Type),
		Amount:          parseDecimal(doc.Amount),
		Rate:            parseDecimal(doc.Rate),
		Status:          domain.CommissionStatus(doc.Status),
		BeneficiaryID:   doc.BeneficiaryID,
		BeneficiaryType: domain.BeneficiaryType(doc.BeneficiaryType),
		CreatedAt:       doc.CreatedAt,
		CancelledAt:     doc.CancelledAt,
	}
}

type cartItemDocument struct {
	ListingID       string    `firestore:"listingId"`
	Quantity        int       `firestore:"quantity"`
	Variant         string    `firestore:"variant,omitempty"`
	Personalization string    `firestore:"personalization,omitempty"`
	Customizations  []string  `firestore:"customizations,omitempty"`
	AddedAt         time.Time `firestore:"addedAt"`
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

func encodeCart(c domain.Cart) cartDocument {
	doc := cartDocument{UpdatedAt: c.UpdatedAt.UTC(), Items: make([]cartItemDocument, 0, len(c.Items))}
	for _, item := range c.Items {
		itemDoc := cartItemDocument{
			ListingID:       item.ListingID,
			Quantity:        item.Quantity,
			Variant:         item.Variant,
			Personalization: item.Personalization,
			AddedAt:         item.AddedAt.UTC(),
		}
		for _, kind := range item.Customizations {
			itemDoc.Customizations = append(itemDoc.Customizations, string(kind))
		}
		doc.Items = append(doc.Items, itemDoc)
	}
	return doc
}

func decodeCart(buyerID string, doc cartDocument) domain.Cart {
	cart := domain.Cart{BuyerID: buyerID, UpdatedAt: doc.UpdatedAt}
	for _, itemDoc := range doc.Items {
		item := domain.CartItem{
			ListingID:       itemDoc.ListingID,
			Quantity:        itemDoc.Quantity,
			Variant:         itemDoc.Variant,
			Personalization: itemDoc.Personalization,
			AddedAt:         itemDoc.AddedAt,
		}
		for _, kind := range itemDoc.Customizations {
			item.Customizations = append(item.Customizations, domain.CustomizationType(kind))
		}
		cart.Items = append(cart.Items, item)
	}
	return cart
}

type showDocument struct {
	OwnerID         string    `firestore:"ownerId"`
	Title           string    `firestore:"title"`
	StartsAt        time.Time `firestore:"startsAt"`
	Capacity        int       `firestore:"capacity"`
	TicketPrice     string    `firestore:"ticketPrice"`
	PlatformFeeRate string    `firestore:"platformFeeRate"`
	Status          string    `firestore:"status"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func encodeShow(s domain.Show) showDocument {
	return showDocument{
		OwnerID:         s.OwnerID,
		Title:           s.Title,
		StartsAt:        s.StartsAt.UTC(),
		Capacity:        s.Capacity,
		TicketPrice:     moneyString(s.TicketPrice),
		PlatformFeeRate: rateString(s.PlatformFeeRate),
		Status:          string(s.Status),
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
	}
}

func decodeShow(id string, doc showDocument) domain.Show {
	return domain.Show{
		ID:              id,
		OwnerID:         doc.OwnerID,
		Title:           doc.Title,
		StartsAt:        doc.StartsAt,
		Capacity:        doc.Capacity,
		TicketPrice:     parseDecimal(doc.TicketPrice),
		PlatformFeeRate: parseDecimal(doc.PlatformFeeRate),
		Status:          domain.ShowStatus(doc.Status),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

type ticketDocument struct {
	ShowID          string     `firestore:"showId"`
	BuyerID         string     `firestore:"buyerId"`
	QRCode          string     `firestore:"qrCode"`
	Price           string     `firestore:"price"`
	Currency        string     `firestore:"currency"`
	Status          string     `firestore:"status"`
	PaymentID       string     `firestore:"paymentId,omitempty"`
	PaymentMethod   string     `firestore:"paymentMethod,omitempty"`
	PaymentProvider string     `firestore:"paymentProvider,omitempty"`
	PaidAt          *time.Time `firestore:"paidAt"`
	ExpiresAt       *time.Time `firestore:"expiresAt"`
	UsedAt          *time.Time `firestore:"usedAt"`
	CancelledAt     *time.Time `firestore:"cancelledAt"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func encodeTicket(t domain.Ticket) ticketDocument {
	return ticketDocument{
		ShowID:          t.ShowID,
		BuyerID:         t.BuyerID,
		QRCode:          t.QRCode,
		Price:           moneyString(t.Price),
		Currency:        t.Currency,
		Status:          string(t.Status),
		PaymentID:       t.PaymentID,
		PaymentMethod:   t.PaymentMethod,
		PaymentProvider: t.PaymentProvider,
		PaidAt:          utcPtr(t.PaidAt),
		ExpiresAt:       utcPtr(t.ExpiresAt),
		UsedAt:          utcPtr(t.UsedAt),
		CancelledAt:     utcPtr(t.CancelledAt),
		CreatedAt:       t.CreatedAt.UTC(),
		UpdatedAt:       t.UpdatedAt.UTC(),
	}
}

func decodeTicket(id string, doc ticketDocument) domain.Ticket {
	return domain.Ticket{
		ID:              id,
		ShowID:          doc.ShowID,
		BuyerID:         doc.BuyerID,
		QRCode:          doc.QRCode,
		Price:           parseDecimal(doc.Price),
		Currency:        doc.Currency,
		Status:          domain.TicketStatus(doc.Status),
		PaymentID:       doc.PaymentID,
		PaymentMethod:   doc.PaymentMethod,
		PaymentProvider: doc.PaymentProvider,
		PaidAt:          doc.PaidAt,
		ExpiresAt:       doc.ExpiresAt,
		UsedAt:          doc.UsedAt,
		CancelledAt:     doc.CancelledAt,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

type referralDocument struct {
	Code            string    `firestore:"code"`
	OwnerID         string    `firestore:"ownerId"`
	CommissionRate  string    `firestore:"commissionRate"`
	UsedCount       int       `firestore:"usedCount"`
	TotalCommission string    `firestore:"totalCommission"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func encodeReferral(r domain.Referral) referralDocument {
	return referralDocument{
		Code:            r.Code,
		OwnerID:         r.OwnerID,
		CommissionRate:  rateString(r.CommissionRate),
		UsedCount:       r.UsedCount,
		TotalCommission: moneyString(r.TotalCommission),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func decodeReferral(id string, doc referralDocument) domain.Referral {
	return domain.Referral{
		ID:              id,
		Code:            doc.Code,
		OwnerID:         doc.OwnerID,
		CommissionRate:  parseDecimal(doc.CommissionRate),
		UsedCount:       doc.UsedCount,
		TotalCommission: parseDecimal(doc.TotalCommission),
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

type redemptionDocument struct {
	ReferralID string    `firestore:"referralId"`
	OrderID    string    `firestore:"orderId"`
	RedeemedAt time.Time `firestore:"redeemedAt"`
}

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type paymentEventDocument struct {
	Provider          string    `firestore:"provider"`
	PaymentID         string    `firestore:"paymentId"`
	Status            string    `firestore:"status"`
	Outcome           string    `firestore:"outcome"`
	ExternalReference string    `firestore:"externalReference"`
	Applied           bool      `firestore:"applied"`
	ReceivedAt        time.Time `firestore:"receivedAt"`
}
