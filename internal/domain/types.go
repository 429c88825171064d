package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Order is the immutable snapshot of a checkout plus its payment and fulfilment state.
type Order struct {
	ID                 string
	Number             string
	BuyerID            string
	Status             OrderStatus
	Currency           string
	Totals             OrderTotals
	CouponID           string
	CouponCode         string
	ReferralID         string
	ReferralCode       string
	PaymentID          string
	PaymentMethod      string
	PaymentProvider    string
	ExpiresAt          *time.Time
	Shipping           ShippingAddress
	Invoice            Invoice
	Carrier            string
	TrackingNumber     string
	Items              []OrderItem
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	PaidAt             *time.Time
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	RefundedAt         *time.Time
}

// HasShippingInfo reports whether carrier and tracking number are both present.
func (o Order) HasShippingInfo() bool {
	return o.Carrier != "" && o.TrackingNumber != ""
}

// ArtistIDs returns the distinct artists whose listings appear in the order.
func (o Order) ArtistIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	out := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if item.ArtistID == "" {
			continue
		}
		if _, ok := seen[item.ArtistID]; ok {
			continue
		}
		seen[item.ArtistID] = struct{}{}
		out = append(out, item.ArtistID)
	}
	return out
}

// OrderItem snapshots a listing at purchase time. Live pricing is never re-read.
type OrderItem struct {
	ID                string
	ListingID         string
	ArtistID          string
	ProductID         string
	Title             string
	UnitPrice         decimal.Decimal
	ManufacturingCost decimal.Decimal
	CommissionRate    decimal.Decimal
	Quantity          int
	TotalPrice        decimal.Decimal
	Variant           string
	Personalization   string
	Customizations    []OrderItemCustomization
}

// CustomizationType enumerates the paid add-ons an item may carry.
type CustomizationType string

const (
	CustomizationEngraving    CustomizationType = "ENGRAVING"
	CustomizationGiftWrap     CustomizationType = "GIFT_WRAP"
	CustomizationPortrait     CustomizationType = "PORTRAIT"
	CustomizationConsultation CustomizationType = "CONSULTATION"
)

// OrderItemCustomization is a priced add-on with its own fulfilment sub-state.
type OrderItemCustomization struct {
	ID              string
	Type            CustomizationType
	Price           decimal.Decimal
	Status          CustomizationStatus
	ScheduledAt     *time.Time
	DurationMinutes int
}

// ShippingAddress is the delivery snapshot captured at checkout.
type ShippingAddress struct {
	FullName     string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	City         string
	Region       string
	PostalCode   string
	Country      string
	Reference    string
}

// InvoiceType selects the tax document issued for the order.
type InvoiceType string

const (
	InvoiceBoleta  InvoiceType = "BOLETA"
	InvoiceFactura InvoiceType = "FACTURA"
)

// Invoice captures the buyer's tax document preference.
type Invoice struct {
	Type        InvoiceType
	RUC         string
	CompanyName string
}

// CommissionType identifies why a commission is owed.
type CommissionType string

const (
	CommissionArtist        CommissionType = "ARTIST"
	CommissionCustomization CommissionType = "CUSTOMIZATION"
	CommissionReferral      CommissionType = "REFERRAL"
	CommissionTicket        CommissionType = "TICKET"
)

// CommissionStatus tracks settlement of a commission.
type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "PENDING"
	CommissionPaid      CommissionStatus = "PAID"
	CommissionCancelled CommissionStatus = "CANCELLED"
)

// BeneficiaryType identifies who receives a commission.
type BeneficiaryType string

const (
	BeneficiaryArtist   BeneficiaryType = "ARTIST"
	BeneficiaryReferrer BeneficiaryType = "REFERRER"
)

// Commission is a payable amount derived once when an order or ticket is paid.
// Exactly one of OrderID or TicketID is set.
type Commission struct {
	ID              string
	OrderID         string
	TicketID        string
	OrderItemID     string
	Type            CommissionType
	Amount          decimal.Decimal
	Rate            decimal.Decimal
	Status          CommissionStatus
	BeneficiaryID   string
	BeneficiaryType BeneficiaryType
	CreatedAt       time.Time
	CancelledAt     *time.Time
}

// DiscountType selects how a coupon value is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// Coupon is a redeemable discount code.
type Coupon struct {
	ID           string
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  *decimal.Decimal
	ExpiresAt    *time.Time
	MaxUses      *int
	UsedCount    int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Exhausted reports whether the usage cap has been reached.
func (c Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// Listing is an artist product offered for sale with its own stock counter.
type Listing struct {
	ID                   string
	ArtistID             string
	ProductID            string
	Title                string
	Price                decimal.Decimal
	ManufacturingCost    decimal.Decimal
	CommissionRate       decimal.Decimal
	Stock                int
	Active               bool
	CustomizationOptions map[CustomizationType]decimal.Decimal
	UpdatedAt            time.Time
}

// ShowStatus enumerates the lifecycle of a ticketed show.
type ShowStatus string

const (
	ShowScheduled ShowStatus = "SCHEDULED"
	ShowCancelled ShowStatus = "CANCELLED"
)

// Show is a capacity-bounded event sold through tickets.
type Show struct {
	ID              string
	OwnerID         string
	Title           string
	StartsAt        time.Time
	Capacity        int
	TicketPrice     decimal.Decimal
	PlatformFeeRate decimal.Decimal
	Status          ShowStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Ticket is a buyer's seat for a show, held unpaid until the gateway confirms payment.
type Ticket struct {
	ID              string
	ShowID          string
	BuyerID         string
	QRCode          string
	Price           decimal.Decimal
	Currency        string
	Status          TicketStatus
	PaymentID       string
	PaymentMethod   string
	PaymentProvider string
	PaidAt          *time.Time
	ExpiresAt       *time.Time
	UsedAt          *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Paid reports whether the gateway has confirmed payment for the ticket.
func (t Ticket) Paid() bool {
	return t.PaidAt != nil
}

// Referral is a shareable code rewarding its owner on a buyer's first purchase.
type Referral struct {
	ID              string
	Code            string
	OwnerID         string
	CommissionRate  decimal.Decimal
	UsedCount       int
	TotalCommission decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReferralRedemption records which paid order consumed a buyer's first-purchase referral.
type ReferralRedemption struct {
	BuyerID    string
	ReferralID string
	OrderID    string
	RedeemedAt time.Time
}

// Cart is the mutable pre-checkout basket. Prices are never stored on it.
type Cart struct {
	BuyerID   string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem references a listing plus buyer selections.
type CartItem struct {
	ListingID       string
	Quantity        int
	Variant         string
	Personalization string
	Customizations  []CustomizationType
	AddedAt         time.Time
}

// PaymentOutcome is the normalised result of a gateway payment.
type PaymentOutcome string

const (
	PaymentApproved PaymentOutcome = "approved"
	PaymentRejected PaymentOutcome = "rejected"
	PaymentPending  PaymentOutcome = "pending"
)

// PaymentEvent is the audit record of a processed gateway notification.
type PaymentEvent struct {
	ID                string
	Provider          string
	PaymentID         string
	Status            string
	Outcome           PaymentOutcome
	ExternalReference string
	Applied           bool
	ReceivedAt        time.Time
}
