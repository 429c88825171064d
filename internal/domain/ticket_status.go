package domain

// TicketStatus enumerates ticket lifecycle states. Payment is tracked separately
// through Ticket.PaidAt so an ACTIVE ticket may be an unpaid hold or a paid seat.
type TicketStatus string

const (
	TicketStatusActive    TicketStatus = "ACTIVE"
	TicketStatusUsed      TicketStatus = "USED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
)

// Holding reports whether the ticket still occupies show capacity. Checked-in tickets
// keep their seat.
func (t Ticket) Holding() bool {
	return t.Status == TicketStatusActive || t.Status == TicketStatusUsed
}

// AwaitingPayment reports whether the ticket is an unpaid ACTIVE hold.
func (t Ticket) AwaitingPayment() bool {
	return t.Status == TicketStatusActive && t.PaidAt == nil
}

// CanUse reports whether the ticket may be checked in.
func (t Ticket) CanUse() bool {
	return t.Status == TicketStatusActive && t.PaidAt != nil
}
