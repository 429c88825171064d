package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/services"
)

var errStubNotImplemented = errors.New("not implemented")

type stubOrderBuilder struct {
	createFn func(context.Context, services.CreateOrderCommand) (services.Order, error)
}

func (s *stubOrderBuilder) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

type stubOrderService struct {
	getFn           func(context.Context, string, services.Viewer) (services.Order, error)
	listFn          func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	commissionsFn   func(context.Context, string) ([]services.Commission, error)
	transitionFn    func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	shippingFn      func(context.Context, services.UpdateShippingInfoCommand) (services.Order, error)
	simulateFn      func(context.Context, services.SimulatePaymentCommand) (services.PaymentOutcomeResult, error)
	returnFn        func(context.Context, services.ResolveReturnCommand) (services.Order, error)
	customizationFn func(context.Context, services.UpdateCustomizationStatusCommand) (services.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, viewer services.Viewer) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, viewer)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ListBuyerOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListCommissions(ctx context.Context, orderID string) ([]services.Commission, error) {
	if s.commissionsFn != nil {
		return s.commissionsFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) UpdateShippingInfo(ctx context.Context, cmd services.UpdateShippingInfoCommand) (services.Order, error) {
	if s.shippingFn != nil {
		return s.shippingFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ApplyPaymentOutcome(context.Context, services.PaymentOutcomeCommand) (services.PaymentOutcomeResult, error) {
	return services.PaymentOutcomeResult{}, errStubNotImplemented
}

func (s *stubOrderService) SimulatePayment(ctx context.Context, cmd services.SimulatePaymentCommand) (services.PaymentOutcomeResult, error) {
	if s.simulateFn != nil {
		return s.simulateFn(ctx, cmd)
	}
	return services.PaymentOutcomeResult{}, errStubNotImplemented
}

func (s *stubOrderService) ResolveReturn(ctx context.Context, cmd services.ResolveReturnCommand) (services.Order, error) {
	if s.returnFn != nil {
		return s.returnFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) UpdateCustomizationStatus(ctx context.Context, cmd services.UpdateCustomizationStatusCommand) (services.Order, error) {
	if s.customizationFn != nil {
		return s.customizationFn(ctx, cmd)
	}
	return services.Order{}, errStubNotImplemented
}

func (s *stubOrderService) ExpireOrder(context.Context, string, time.Time) (bool, error) {
	return false, errStubNotImplemented
}

type stubPaymentService struct {
	orderPrefFn  func(context.Context, services.CreatePreferenceCommand) (services.PaymentPreference, error)
	ticketPrefFn func(context.Context, services.CreatePreferenceCommand) (services.PaymentPreference, error)
	notifyFn     func(context.Context, services.PaymentNotification) (services.NotificationResult, error)
}

func (s *stubPaymentService) CreateOrderPreference(ctx context.Context, cmd services.CreatePreferenceCommand) (services.PaymentPreference, error) {
	if s.orderPrefFn != nil {
		return s.orderPrefFn(ctx, cmd)
	}
	return services.PaymentPreference{}, errStubNotImplemented
}

func (s *stubPaymentService) CreateTicketPreference(ctx context.Context, cmd services.CreatePreferenceCommand) (services.PaymentPreference, error) {
	if s.ticketPrefFn != nil {
		return s.ticketPrefFn(ctx, cmd)
	}
	return services.PaymentPreference{}, errStubNotImplemented
}

func (s *stubPaymentService) HandleNotification(ctx context.Context, n services.PaymentNotification) (services.NotificationResult, error) {
	if s.notifyFn != nil {
		return s.notifyFn(ctx, n)
	}
	return services.NotificationResult{}, errStubNotImplemented
}

type stubCartService struct {
	getFn    func(context.Context, string) (services.Cart, error)
	upsertFn func(context.Context, services.UpsertCartItemCommand) (services.Cart, error)
	removeFn func(context.Context, string, string) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, buyerID string) (services.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, buyerID)
	}
	return services.Cart{BuyerID: buyerID}, nil
}

func (s *stubCartService) UpsertItem(ctx context.Context, cmd services.UpsertCartItemCommand) (services.Cart, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cmd)
	}
	return services.Cart{}, errStubNotImplemented
}

func (s *stubCartService) RemoveItem(ctx context.Context, buyerID, listingID string) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, buyerID, listingID)
	}
	return services.Cart{}, errStubNotImplemented
}

func (s *stubCartService) Clear(context.Context, string) error {
	return nil
}

type stubCouponService struct {
	getFn      func(context.Context, string) (services.Coupon, error)
	validateFn func(context.Context, services.CouponValidationCommand) (services.CouponValidation, error)
	createFn   func(context.Context, services.CreateCouponCommand) (services.Coupon, error)
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.CouponValidationCommand) (services.CouponValidation, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return services.CouponValidation{}, errStubNotImplemented
}

func (s *stubCouponService) Consume(context.Context, string) error {
	return errStubNotImplemented
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Coupon{}, errStubNotImplemented
}

func (s *stubCouponService) GetCoupon(ctx context.Context, code string) (services.Coupon, error) {
	if s.getFn != nil {
		return s.getFn(ctx, code)
	}
	return services.Coupon{}, errStubNotImplemented
}

type stubTicketService struct {
	purchaseFn   func(context.Context, services.PurchaseTicketCommand) (services.Ticket, error)
	getFn        func(context.Context, string, services.Viewer) (services.Ticket, error)
	simulateFn   func(context.Context, services.SimulatePaymentCommand) (services.PaymentOutcomeResult, error)
	markUsedFn   func(context.Context, services.MarkTicketUsedCommand) (services.Ticket, error)
	cancelShowFn func(context.Context, services.CancelShowCommand) (services.CancelShowResult, error)
}

func (s *stubTicketService) Purchase(ctx context.Context, cmd services.PurchaseTicketCommand) (services.Ticket, error) {
	if s.purchaseFn != nil {
		return s.purchaseFn(ctx, cmd)
	}
	return services.Ticket{}, errStubNotImplemented
}

func (s *stubTicketService) GetTicket(ctx context.Context, id string, viewer services.Viewer) (services.Ticket, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id, viewer)
	}
	return services.Ticket{}, errStubNotImplemented
}

func (s *stubTicketService) ApplyPaymentOutcome(context.Context, services.PaymentOutcomeCommand) (services.PaymentOutcomeResult, error) {
	return services.PaymentOutcomeResult{}, errStubNotImplemented
}

func (s *stubTicketService) SimulatePayment(ctx context.Context, cmd services.SimulatePaymentCommand) (services.PaymentOutcomeResult, error) {
	if s.simulateFn != nil {
		return s.simulateFn(ctx, cmd)
	}
	return services.PaymentOutcomeResult{}, errStubNotImplemented
}

func (s *stubTicketService) MarkUsed(ctx context.Context, cmd services.MarkTicketUsedCommand) (services.Ticket, error) {
	if s.markUsedFn != nil {
		return s.markUsedFn(ctx, cmd)
	}
	return services.Ticket{}, errStubNotImplemented
}

func (s *stubTicketService) CancelShow(ctx context.Context, cmd services.CancelShowCommand) (services.CancelShowResult, error) {
	if s.cancelShowFn != nil {
		return s.cancelShowFn(ctx, cmd)
	}
	return services.CancelShowResult{}, errStubNotImplemented
}

func (s *stubTicketService) ExpireTicket(context.Context, string, time.Time) (bool, error) {
	return false, errStubNotImplemented
}

type stubSweeper struct {
	result services.SweepResult
	err    error
	calls  int
}

func (s *stubSweeper) Sweep(context.Context) (services.SweepResult, error) {
	s.calls++
	return s.result, s.err
}

var (
	_ services.OrderBuilder   = (*stubOrderBuilder)(nil)
	_ services.OrderService   = (*stubOrderService)(nil)
	_ services.PaymentService = (*stubPaymentService)(nil)
	_ services.CartService    = (*stubCartService)(nil)
	_ services.CouponService  = (*stubCouponService)(nil)
	_ services.TicketService  = (*stubTicketService)(nil)
	_ services.ExpirySweeper  = (*stubSweeper)(nil)
)

func newAuthedRequest(method, target, body, uid string, roles ...string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
	}
	return req
}
