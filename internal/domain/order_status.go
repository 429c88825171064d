package domain

import "strings"

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the unpaid hold created at checkout.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid is set only by a verified gateway confirmation or simulated payment.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusProcessing indicates artists are preparing the order.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped requires carrier and tracking number.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the carrier reported delivery.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal; stock has been restored.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded is terminal and reachable only from a resolved return.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return status, true
	default:
		return "", false
	}
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CountsAsPurchase reports whether an order in this status represents a completed purchase.
func (s OrderStatus) CountsAsPurchase() bool {
	switch s {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// CanTransitionOrder reports whether an operator may move an order from one status to another.
// Payment confirmation (PENDING to PAID) is deliberately absent: only the gateway path sets it.
func CanTransitionOrder(from, to OrderStatus) bool {
	switch from {
	case OrderStatusPending:
		return to == OrderStatusCancelled
	case OrderStatusPaid:
		return to == OrderStatusProcessing || to == OrderStatusCancelled
	case OrderStatusProcessing:
		return to == OrderStatusShipped || to == OrderStatusCancelled
	case OrderStatusShipped:
		return to == OrderStatusDelivered
	default:
		return false
	}
}

// CanResolveReturn reports whether a return may be resolved into a refund.
func CanResolveReturn(from OrderStatus) bool {
	return from == OrderStatusDelivered
}

// CustomizationStatus is the fulfilment sub-state of a customization.
type CustomizationStatus string

const (
	CustomizationPending    CustomizationStatus = "PENDING"
	CustomizationInProgress CustomizationStatus = "IN_PROGRESS"
	CustomizationCompleted  CustomizationStatus = "COMPLETED"
	CustomizationCancelled  CustomizationStatus = "CANCELLED"
)

// ParseCustomizationStatus normalises raw input into a known customization status.
func ParseCustomizationStatus(raw string) (CustomizationStatus, bool) {
	status := CustomizationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case CustomizationPending, CustomizationInProgress, CustomizationCompleted, CustomizationCancelled:
		return status, true
	default:
		return "", false
	}
}

// CanTransitionCustomization reports whether a customization may move between sub-states.
func CanTransitionCustomization(from, to CustomizationStatus) bool {
	switch from {
	case CustomizationPending:
		return to == CustomizationInProgress || to == CustomizationCancelled
	case CustomizationInProgress:
		return to == CustomizationCompleted || to == CustomizationCancelled
	default:
		return false
	}
}
