package services

import (
	"context"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
	"github.com/shopspring/decimal"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	Commission         = domain.Commission
	Coupon             = domain.Coupon
	Listing            = domain.Listing
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Show               = domain.Show
	Ticket             = domain.Ticket
	Referral           = domain.Referral
	ShippingAddress    = domain.ShippingAddress
	Invoice            = domain.Invoice
	PaymentOutcome     = domain.PaymentOutcome
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// StockLedger mutates listing stock inside the caller's unit of work.
type StockLedger interface {
	Reserve(ctx context.Context, listingID string, quantity int) error
	Release(ctx context.Context, listingID string, quantity int) error
	ReserveLines(ctx context.Context, lines []StockLine) error
	ReleaseLines(ctx context.Context, lines []StockLine) error
}

// CouponService validates and redeems discount codes.
type CouponService interface {
	Validate(ctx context.Context, cmd CouponValidationCommand) (CouponValidation, error)
	Consume(ctx context.Context, couponID string) error
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	GetCoupon(ctx context.Context, code string) (Coupon, error)
}

// CommissionCalculator derives commission rows from paid orders and tickets.
type CommissionCalculator interface {
	ForOrder(order Order, referral *Referral, firstOrder bool) []Commission
	ForTicket(ticket Ticket, show Show) []Commission
}

// CartService manages the buyer's pre-checkout basket.
type CartService interface {
	GetCart(ctx context.Context, buyerID string) (Cart, error)
	UpsertItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, buyerID, listingID string) (Cart, error)
	Clear(ctx context.Context, buyerID string) error
}

// OrderBuilder turns a cart into a persisted PENDING order in a single transaction.
type OrderBuilder interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
}

// OrderService drives the order state machine.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, viewer Viewer) (Order, error)
	ListBuyerOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListCommissions(ctx context.Context, orderID string) ([]Commission, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	UpdateShippingInfo(ctx context.Context, cmd UpdateShippingInfoCommand) (Order, error)
	ApplyPaymentOutcome(ctx context.Context, cmd PaymentOutcomeCommand) (PaymentOutcomeResult, error)
	SimulatePayment(ctx context.Context, cmd SimulatePaymentCommand) (PaymentOutcomeResult, error)
	ResolveReturn(ctx context.Context, cmd ResolveReturnCommand) (Order, error)
	UpdateCustomizationStatus(ctx context.Context, cmd UpdateCustomizationStatusCommand) (Order, error)
	ExpireOrder(ctx context.Context, orderID string, now time.Time) (bool, error)
}

// TicketService drives the ticket sale state machine.
type TicketService interface {
	Purchase(ctx context.Context, cmd PurchaseTicketCommand) (Ticket, error)
	GetTicket(ctx context.Context, ticketID string, viewer Viewer) (Ticket, error)
	ApplyPaymentOutcome(ctx context.Context, cmd PaymentOutcomeCommand) (PaymentOutcomeResult, error)
	SimulatePayment(ctx context.Context, cmd SimulatePaymentCommand) (PaymentOutcomeResult, error)
	MarkUsed(ctx context.Context, cmd MarkTicketUsedCommand) (Ticket, error)
	CancelShow(ctx context.Context, cmd CancelShowCommand) (CancelShowResult, error)
	ExpireTicket(ctx context.Context, ticketID string, now time.Time) (bool, error)
}

// PaymentService bridges the gateway and the order/ticket state machines.
type PaymentService interface {
	CreateOrderPreference(ctx context.Context, cmd CreatePreferenceCommand) (PaymentPreference, error)
	CreateTicketPreference(ctx context.Context, cmd CreatePreferenceCommand) (PaymentPreference, error)
	HandleNotification(ctx context.Context, notification PaymentNotification) (NotificationResult, error)
}

// NotificationDispatcher delivers best-effort notifications after state is committed.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification Notification)
}

// ExpirySweeper cancels unpaid orders and tickets whose hold has lapsed.
type ExpirySweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// SweepMonitor exposes when the expiry sweep last completed.
type SweepMonitor interface {
	LastSweep() time.Time
}

// SystemService exposes readiness information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Viewer identifies the caller of a read operation. Staff may read any record.
type Viewer struct {
	UserID string
	Staff  bool
}

// StockLine is a quantity of one listing.
type StockLine struct {
	ListingID string
	Quantity  int
}

// CouponValidationCommand carries the inputs needed to price a coupon.
type CouponValidationCommand struct {
	Code     string
	Subtotal decimal.Decimal
	BuyerID  string
}

// CouponValidation is the result of a successful coupon validation.
type CouponValidation struct {
	CouponID       string
	Code           string
	DiscountAmount decimal.Decimal
}

// CreateCouponCommand creates a coupon from admin input.
type CreateCouponCommand struct {
	Code         string
	DiscountType domain.DiscountType
	Value        decimal.Decimal
	MinPurchase  *decimal.Decimal
	ExpiresAt    *time.Time
	MaxUses      *int
	ActorID      string
}

// UpsertCartItemCommand sets the quantity and selections for one cart line.
type UpsertCartItemCommand struct {
	BuyerID         string
	ListingID       string
	Quantity        int
	Variant         string
	Personalization string
	Customizations  []domain.CustomizationType
}

// CreateOrderCommand carries checkout input. When Items is empty the buyer cart is used.
type CreateOrderCommand struct {
	BuyerID      string
	Shipping     ShippingAddress
	Invoice      Invoice
	CouponCode   string
	ReferralCode string
	Items        []CartItem
}

// OrderStatusTransitionCommand requests an admin-driven status change.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	Carrier        string
	TrackingNumber string
	Reason         string
}

// UpdateShippingInfoCommand records the carrier and tracking number.
type UpdateShippingInfoCommand struct {
	OrderID        string
	Carrier        string
	TrackingNumber string
	ActorID        string
}

// ResolveReturnCommand refunds a delivered order after an accepted return.
type ResolveReturnCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// UpdateCustomizationStatusCommand moves one customization through fulfilment.
type UpdateCustomizationStatusCommand struct {
	OrderID         string
	ItemID          string
	CustomizationID string
	Status          domain.CustomizationStatus
	ScheduledAt     *time.Time
	DurationMinutes int
	ActorID         string
}

// PaymentOutcomeCommand applies a gateway result to an order or ticket.
type PaymentOutcomeCommand struct {
	ReferenceID   string
	PaymentID     string
	PaymentMethod string
	Provider      string
	Outcome       PaymentOutcome

	// Amount and Currency are what the gateway reports as charged. Approvals are checked
	// against the order or ticket total when they are set; simulated payments leave them
	// empty.
	Amount   decimal.Decimal
	Currency string
}

// PaymentOutcomeResult reports whether the outcome changed state. Applied is false for
// duplicate or late deliveries.
type PaymentOutcomeResult struct {
	Applied bool
	Status  string
}

// SimulatePaymentCommand drives the payment path without the gateway.
type SimulatePaymentCommand struct {
	ReferenceID string
	BuyerID     string
	Outcome     PaymentOutcome
}

// PurchaseTicketCommand reserves a seat for a show.
type PurchaseTicketCommand struct {
	ShowID  string
	BuyerID string
}

// MarkTicketUsedCommand checks a ticket in at the door.
type MarkTicketUsedCommand struct {
	TicketID string
	ActorID  string
	Staff    bool
}

// CancelShowCommand cancels a show and every active ticket.
type CancelShowCommand struct {
	ShowID  string
	ActorID string
	Staff   bool
}

// CancelShowResult reports how many tickets were cancelled.
type CancelShowResult struct {
	Show             Show
	TicketsCancelled int
}

// CreatePreferenceCommand asks the gateway for a checkout link.
type CreatePreferenceCommand struct {
	ReferenceID string
	BuyerID     string
	Provider    string
}

// PaymentPreference is the gateway checkout link returned to the buyer.
type PaymentPreference struct {
	ID          string
	Provider    string
	RedirectURL string
	Reference   string
}

// PaymentNotification is the parsed, signature-verified gateway webhook.
type PaymentNotification struct {
	Type     string
	DataID   string
	Provider string
}

// NotificationResult summarises webhook handling.
type NotificationResult struct {
	Ignored   bool
	Reference string
	Applied   bool
	Outcome   PaymentOutcome
}

// Notification is a best-effort message fanned out to sinks.
type Notification struct {
	Type        string         `json:"type"`
	RecipientID string         `json:"recipientId"`
	OrderID     string         `json:"orderId,omitempty"`
	TicketID    string         `json:"ticketId,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

// NotificationSink is a delivery channel for notifications.
type NotificationSink interface {
	Name() string
	Send(ctx context.Context, notification Notification) error
}

// SweepResult reports what an expiry sweep cancelled.
type SweepResult struct {
	OrdersExpired  int
	TicketsExpired int
	Failures       int
}
