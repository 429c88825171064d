package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/artisan-market/api/internal/domain"
	"github.com/artisan-market/api/internal/repositories"
)

const (
	notificationOrderPaid          = "order.paid"
	notificationOrderCancelled     = "order.cancelled"
	notificationOrderStatusChanged = "order.status_changed"
	notificationArtistSale         = "artist.sale"

	simulatedPaymentMethod   = "simulated"
	simulatedPaymentProvider = "simulation"
)

var (
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates the transition is not in the state table.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderMissingShippingInfo indicates SHIPPED was requested without carrier and tracking.
	ErrOrderMissingShippingInfo = errors.New("order: carrier and tracking number are required")
	// ErrOrderNotPending indicates the order is no longer awaiting payment.
	ErrOrderNotPending = errors.New("order: not pending payment")
	// ErrOrderConflict indicates concurrent modification or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrCustomizationNotFound indicates the item or customization does not exist on the order.
	ErrCustomizationNotFound = errors.New("order: customization not found")
	// ErrCustomizationInvalidTransition indicates the customization sub-state change is not allowed.
	ErrCustomizationInvalidTransition = errors.New("order: invalid customization transition")
	// ErrPaymentSimulationDisabled indicates the simulated payment path is switched off.
	ErrPaymentSimulationDisabled = errors.New("payment: simulation disabled")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders            repositories.OrderRepository
	Commissions       repositories.CommissionRepository
	Referrals         repositories.ReferralRepository
	Stock             StockLedger
	Calculator        CommissionCalculator
	UnitOfWork        repositories.UnitOfWork
	Notifications     NotificationDispatcher
	Metrics           Metrics
	SimulationEnabled bool
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            Logger
}

type orderService struct {
	orders      repositories.OrderRepository
	commissions repositories.CommissionRepository
	referrals   repositories.ReferralRepository
	stock       StockLedger
	calculator  CommissionCalculator
	unitOfWork  repositories.UnitOfWork
	notify      NotificationDispatcher
	metrics     Metrics
	simulation  bool
	clock       func() time.Time
	newID       func() string
	logger      Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Commissions == nil:
		return nil, errors.New("order service: commission repository is required")
	case deps.Referrals == nil:
		return nil, errors.New("order service: referral repository is required")
	case deps.Stock == nil:
		return nil, errors.New("order service: stock ledger is required")
	}

	calculator := deps.Calculator
	if calculator == nil {
		calculator = NewCommissionCalculator(CommissionCalculatorDeps{IDGenerator: deps.IDGenerator, Clock: deps.Clock})
	}

	return &orderService{
		orders:      deps.Orders,
		commissions: deps.Commissions,
		referrals:   deps.Referrals,
		stock:       deps.Stock,
		calculator:  calculator,
		unitOfWork:  defaultUnitOfWork(deps.UnitOfWork),
		notify:      defaultDispatcher(deps.Notifications),
		metrics:     defaultMetrics(deps.Metrics),
		simulation:  deps.SimulationEnabled,
		clock:       defaultClock(deps.Clock),
		newID:       defaultIDGenerator(deps.IDGenerator),
		logger:      defaultLogger(deps.Logger),
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, viewer Viewer) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !viewer.Staff && order.BuyerID != viewer.UserID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListBuyerOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.BuyerID = strings.TrimSpace(filter.BuyerID)
	if filter.BuyerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListCommissions(ctx context.Context, orderID string) ([]Commission, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return nil, s.mapRepositoryError(err)
	}
	rows, err := s.commissions.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return rows, nil
}

// TransitionStatus applies an operator transition. PENDING to PAID is never accepted
// here; payment confirmation goes through ApplyPaymentOutcome.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.TargetStatus))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	var (
		updated  Order
		previous OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status
		if !domain.CanTransitionOrder(order.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
		}

		now := s.now()
		switch target {
		case domain.OrderStatusShipped:
			if carrier := strings.TrimSpace(cmd.Carrier); carrier != "" {
				order.Carrier = carrier
			}
			if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
				order.TrackingNumber = tracking
			}
			if !order.HasShippingInfo() {
				return ErrOrderMissingShippingInfo
			}
			order.ShippedAt = &now
		case domain.OrderStatusDelivered:
			order.DeliveredAt = &now
		case domain.OrderStatusCancelled:
			if err := s.cancelInTx(txCtx, &order, cancellationReason(cmd.Reason, "cancelled by operator"), now); err != nil {
				return err
			}
		}
		order.Status = target
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.status_changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(updated.Status),
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	s.notifyStatus(ctx, updated, previous)
	return updated, nil
}

func (s *orderService) UpdateShippingInfo(ctx context.Context, cmd UpdateShippingInfoCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	carrier := strings.TrimSpace(cmd.Carrier)
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if carrier == "" || tracking == "" {
		return Order{}, ErrOrderMissingShippingInfo
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case domain.OrderStatusPaid, domain.OrderStatusProcessing, domain.OrderStatusShipped:
		default:
			return fmt.Errorf("%w: shipping info cannot change while %s", ErrOrderInvalidTransition, order.Status)
		}
		order.Carrier = carrier
		order.TrackingNumber = tracking
		order.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.shipping_updated", map[string]any{
		"orderId": updated.ID,
		"carrier": carrier,
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	return updated, nil
}

// ApplyPaymentOutcome is safe under at-least-once delivery: the PENDING check runs in
// the same transaction as the mutation, so a repeated outcome is a no-op.
func (s *orderService) ApplyPaymentOutcome(ctx context.Context, cmd PaymentOutcomeCommand) (PaymentOutcomeResult, error) {
	orderID := strings.TrimSpace(cmd.ReferenceID)
	if orderID == "" {
		return PaymentOutcomeResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		result      PaymentOutcomeResult
		updated     Order
		commissions []Commission
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		result = PaymentOutcomeResult{}
		commissions = nil

		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		result.Status = string(order.Status)
		if order.Status != domain.OrderStatusPending {
			return nil
		}

		now := s.now()
		switch cmd.Outcome {
		case domain.PaymentApproved:
			if err := verifyCharge(cmd, order.Totals.Total, order.Currency); err != nil {
				return err
			}
			order.Status = domain.OrderStatusPaid
			order.PaymentID = strings.TrimSpace(cmd.PaymentID)
			order.PaymentMethod = strings.TrimSpace(cmd.PaymentMethod)
			order.PaymentProvider = strings.TrimSpace(cmd.Provider)
			order.PaidAt = &now
			order.ExpiresAt = nil

			referral, firstOrder, err := s.redeemReferral(txCtx, order, now)
			if err != nil {
				return err
			}
			commissions = s.calculator.ForOrder(order, referral, firstOrder)
			if len(commissions) > 0 {
				if err := s.commissions.InsertMany(txCtx, commissions); err != nil {
					return err
				}
			}
			if referral != nil && firstOrder {
				for _, row := range commissions {
					if row.Type == domain.CommissionReferral {
						if err := s.referrals.RecordUsage(txCtx, referral.ID, row.Amount, now); err != nil {
							return err
						}
					}
				}
			}
		case domain.PaymentRejected:
			order.PaymentID = strings.TrimSpace(cmd.PaymentID)
			order.PaymentProvider = strings.TrimSpace(cmd.Provider)
			if err := s.cancelInTx(txCtx, &order, "payment rejected", now); err != nil {
				return err
			}
			order.Status = domain.OrderStatusCancelled
		default:
			return nil
		}

		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		result = PaymentOutcomeResult{Applied: true, Status: string(order.Status)}
		return nil
	})
	if err != nil {
		return PaymentOutcomeResult{}, s.mapRepositoryError(err)
	}

	s.metrics.PaymentOutcomeApplied("order", cmd.Outcome, result.Applied)
	if !result.Applied {
		s.logger(ctx, "order.payment_outcome_ignored", map[string]any{
			"orderId": orderID,
			"outcome": string(cmd.Outcome),
			"status":  result.Status,
		})
		return result, nil
	}

	s.logger(ctx, "order.payment_outcome_applied", map[string]any{
		"orderId":     updated.ID,
		"outcome":     string(cmd.Outcome),
		"status":      result.Status,
		"paymentId":   updated.PaymentID,
		"commissions": len(commissions),
	})
	if updated.Status == domain.OrderStatusPaid {
		s.notifyPaid(ctx, updated, commissions)
	} else {
		s.notifyStatus(ctx, updated, domain.OrderStatusPending)
	}
	return result, nil
}

func (s *orderService) SimulatePayment(ctx context.Context, cmd SimulatePaymentCommand) (PaymentOutcomeResult, error) {
	if !s.simulation {
		return PaymentOutcomeResult{}, ErrPaymentSimulationDisabled
	}
	order, err := s.GetOrder(ctx, cmd.ReferenceID, Viewer{UserID: strings.TrimSpace(cmd.BuyerID)})
	if err != nil {
		return PaymentOutcomeResult{}, err
	}
	outcome := cmd.Outcome
	if outcome == "" {
		outcome = domain.PaymentApproved
	}
	return s.ApplyPaymentOutcome(ctx, PaymentOutcomeCommand{
		ReferenceID:   order.ID,
		PaymentID:     "sim_" + s.newID(),
		PaymentMethod: simulatedPaymentMethod,
		Provider:      simulatedPaymentProvider,
		Outcome:       outcome,
	})
}

// ResolveReturn refunds a delivered order and cancels its commissions. Totals are
// left untouched.
func (s *orderService) ResolveReturn(ctx context.Context, cmd ResolveReturnCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if !domain.CanResolveReturn(order.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusRefunded)
		}
		now := s.now()
		if err := s.cancelCommissions(txCtx, order.ID, now); err != nil {
			return err
		}
		order.Status = domain.OrderStatusRefunded
		order.RefundedAt = &now
		order.CancellationReason = cancellationReason(cmd.Reason, "return accepted")
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.refunded", map[string]any{
		"orderId": updated.ID,
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	s.notifyStatus(ctx, updated, domain.OrderStatusDelivered)
	return updated, nil
}

func (s *orderService) UpdateCustomizationStatus(ctx context.Context, cmd UpdateCustomizationStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	customizationID := strings.TrimSpace(cmd.CustomizationID)
	if orderID == "" || itemID == "" || customizationID == "" {
		return Order{}, fmt.Errorf("%w: order, item and customization ids are required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseCustomizationStatus(string(cmd.Status))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown customization status %q", ErrOrderInvalidInput, cmd.Status)
	}
	if cmd.DurationMinutes < 0 {
		return Order{}, fmt.Errorf("%w: duration must not be negative", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusPending || order.Status.Terminal() {
			return fmt.Errorf("%w: customizations cannot change while %s", ErrCustomizationInvalidTransition, order.Status)
		}
		custom := findCustomization(&order, itemID, customizationID)
		if custom == nil {
			return ErrCustomizationNotFound
		}
		if custom.Status != target && !domain.CanTransitionCustomization(custom.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrCustomizationInvalidTransition, custom.Status, target)
		}
		custom.Status = target
		if cmd.ScheduledAt != nil {
			scheduled := cmd.ScheduledAt.UTC()
			custom.ScheduledAt = &scheduled
		}
		if cmd.DurationMinutes > 0 {
			custom.DurationMinutes = cmd.DurationMinutes
		}
		order.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.customization_updated", map[string]any{
		"orderId":         updated.ID,
		"itemId":          itemID,
		"customizationId": customizationID,
		"status":          string(target),
		"actorId":         strings.TrimSpace(cmd.ActorID),
	})
	return updated, nil
}

// ExpireOrder cancels the order only if it is still PENDING and its hold has lapsed.
func (s *orderService) ExpireOrder(ctx context.Context, orderID string, now time.Time) (bool, error) {
	var (
		expired bool
		updated Order
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		expired = false
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending || order.ExpiresAt == nil || now.Before(*order.ExpiresAt) {
			return nil
		}
		stamp := now.UTC()
		if err := s.cancelInTx(txCtx, &order, "payment window expired", stamp); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = stamp
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		expired = true
		return nil
	})
	if err != nil {
		return false, s.mapRepositoryError(err)
	}
	if expired {
		s.logger(ctx, "order.expired", map[string]any{"orderId": updated.ID})
		s.notifyStatus(ctx, updated, domain.OrderStatusPending)
	}
	return expired, nil
}

// cancelInTx restores stock and cancels commissions for an order that is about to
// become CANCELLED. Callers have already checked the source status in the same transaction.
func (s *orderService) cancelInTx(ctx context.Context, order *Order, reason string, now time.Time) error {
	if err := s.stock.ReleaseLines(ctx, itemStockLines(order.Items)); err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPending {
		if err := s.cancelCommissions(ctx, order.ID, now); err != nil {
			return err
		}
	}
	order.CancelledAt = &now
	order.CancellationReason = reason
	order.ExpiresAt = nil
	return nil
}

func (s *orderService) cancelCommissions(ctx context.Context, orderID string, now time.Time) error {
	rows, err := s.commissions.ListByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Status == domain.CommissionCancelled {
			continue
		}
		row.Status = domain.CommissionCancelled
		row.CancelledAt = &now
		if err := s.commissions.Update(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// redeemReferral re-checks first purchase eligibility at payment time. The redemption
// row keyed by buyer makes the check race free across concurrent pending orders.
func (s *orderService) redeemReferral(ctx context.Context, order Order, now time.Time) (*Referral, bool, error) {
	if order.ReferralID == "" {
		return nil, false, nil
	}
	if _, err := s.referrals.FindRedemption(ctx, order.BuyerID); err == nil {
		return nil, false, nil
	} else if !isRepoNotFound(err) {
		return nil, false, err
	}
	purchases, err := s.orders.CountPurchases(ctx, order.BuyerID)
	if err != nil {
		return nil, false, err
	}
	if purchases > 0 {
		return nil, false, nil
	}
	referral, err := s.referrals.FindByID(ctx, order.ReferralID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	redemption := domain.ReferralRedemption{
		BuyerID:    order.BuyerID,
		ReferralID: referral.ID,
		OrderID:    order.ID,
		RedeemedAt: now,
	}
	if err := s.referrals.InsertRedemption(ctx, redemption); err != nil {
		if isRepoConflict(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &referral, true, nil
}

func (s *orderService) notifyPaid(ctx context.Context, order Order, commissions []Commission) {
	now := s.now()
	s.notify.Dispatch(ctx, Notification{
		Type:        notificationOrderPaid,
		RecipientID: order.BuyerID,
		OrderID:     order.ID,
		Data: map[string]any{
			"number": order.Number,
			"total":  order.Totals.Total.StringFixed(2),
		},
		OccurredAt: now,
	})
	earned := make(map[string]Commission)
	for _, row := range commissions {
		if row.BeneficiaryType != domain.BeneficiaryArtist {
			continue
		}
		agg := earned[row.BeneficiaryID]
		agg.Amount = agg.Amount.Add(row.Amount)
		earned[row.BeneficiaryID] = agg
	}
	for _, artistID := range order.ArtistIDs() {
		s.notify.Dispatch(ctx, Notification{
			Type:        notificationArtistSale,
			RecipientID: artistID,
			OrderID:     order.ID,
			Data: map[string]any{
				"number":     order.Number,
				"commission": earned[artistID].Amount.StringFixed(2),
			},
			OccurredAt: now,
		})
	}
}

func (s *orderService) notifyStatus(ctx context.Context, order Order, previous OrderStatus) {
	kind := notificationOrderStatusChanged
	if order.Status == domain.OrderStatusCancelled {
		kind = notificationOrderCancelled
	}
	s.notify.Dispatch(ctx, Notification{
		Type:        kind,
		RecipientID: order.BuyerID,
		OrderID:     order.ID,
		Data: map[string]any{
			"number": order.Number,
			"from":   string(previous),
			"to":     string(order.Status),
			"reason": order.CancellationReason,
		},
		OccurredAt: s.now(),
	})
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict, "order")
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func findCustomization(order *Order, itemID, customizationID string) *domain.OrderItemCustomization {
	for i := range order.Items {
		if order.Items[i].ID != itemID {
			continue
		}
		for j := range order.Items[i].Customizations {
			if order.Items[i].Customizations[j].ID == customizationID {
				return &order.Items[i].Customizations[j]
			}
		}
	}
	return nil
}

func cancellationReason(reason, fallback string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return fallback
}
