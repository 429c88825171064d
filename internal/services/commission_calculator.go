package services

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/artisan-market/api/internal/domain"
)

var fullRate = decimal.NewFromInt(100)

// CommissionCalculatorDeps configures id and timestamp generation for commission rows.
type CommissionCalculatorDeps struct {
	IDGenerator func() string
	Clock       func() time.Time
}

type commissionCalculator struct {
	newID func() string
	clock func() time.Time
}

var _ CommissionCalculator = (*commissionCalculator)(nil)

// NewCommissionCalculator returns a calculator with no side effects beyond building rows.
func NewCommissionCalculator(deps CommissionCalculatorDeps) CommissionCalculator {
	return &commissionCalculator{
		newID: defaultIDGenerator(deps.IDGenerator),
		clock: defaultClock(deps.Clock),
	}
}

// ForOrder distributes the order discount proportionally across items and derives
// artist, customization and referral commissions. Rows with non-positive amounts are skipped.
func (c *commissionCalculator) ForOrder(order Order, referral *Referral, firstOrder bool) []Commission {
	createdAt := c.createdAt(order.PaidAt)
	ratio := order.Totals.DiscountRatio()
	keep := decimal.NewFromInt(1).Sub(ratio)

	var rows []Commission
	for _, item := range order.Items {
		effective := item.UnitPrice.Mul(keep)
		margin := effective.Sub(item.ManufacturingCost)
		amount := domain.RoundMoney(domain.PercentOf(margin, item.CommissionRate).Mul(decimal.NewFromInt(int64(item.Quantity))))
		if amount.IsPositive() && item.ArtistID != "" {
			rows = append(rows, Commission{
				ID:              "com_" + c.newID(),
				OrderID:         order.ID,
				OrderItemID:     item.ID,
				Type:            domain.CommissionArtist,
				Amount:          amount,
				Rate:            item.CommissionRate,
				Status:          domain.CommissionPending,
				BeneficiaryID:   item.ArtistID,
				BeneficiaryType: domain.BeneficiaryArtist,
				CreatedAt:       createdAt,
			})
		}

		for _, custom := range item.Customizations {
			price := domain.RoundMoney(custom.Price)
			if !price.IsPositive() || item.ArtistID == "" {
				continue
			}
			rows = append(rows, Commission{
				ID:              "com_" + c.newID(),
				OrderID:         order.ID,
				OrderItemID:     item.ID,
				Type:            domain.CommissionCustomization,
				Amount:          price,
				Rate:            fullRate,
				Status:          domain.CommissionPending,
				BeneficiaryID:   item.ArtistID,
				BeneficiaryType: domain.BeneficiaryArtist,
				CreatedAt:       createdAt,
			})
		}
	}

	if referral != nil && firstOrder {
		base := order.Totals.Subtotal.Sub(order.Totals.Discount)
		amount := domain.RoundMoney(domain.PercentOf(base, referral.CommissionRate))
		if amount.IsPositive() {
			rows = append(rows, Commission{
				ID:              "com_" + c.newID(),
				OrderID:         order.ID,
				Type:            domain.CommissionReferral,
				Amount:          amount,
				Rate:            referral.CommissionRate,
				Status:          domain.CommissionPending,
				BeneficiaryID:   referral.OwnerID,
				BeneficiaryType: domain.BeneficiaryReferrer,
				CreatedAt:       createdAt,
			})
		}
	}
	return rows
}

// ForTicket pays the show owner the ticket price net of the platform fee.
func (c *commissionCalculator) ForTicket(ticket Ticket, show Show) []Commission {
	rate := fullRate.Sub(show.PlatformFeeRate)
	amount := domain.RoundMoney(domain.PercentOf(ticket.Price, rate))
	if !amount.IsPositive() {
		return nil
	}
	return []Commission{{
		ID:              "com_" + c.newID(),
		TicketID:        ticket.ID,
		Type:            domain.CommissionTicket,
		Amount:          amount,
		Rate:            rate,
		Status:          domain.CommissionPending,
		BeneficiaryID:   show.OwnerID,
		BeneficiaryType: domain.BeneficiaryArtist,
		CreatedAt:       c.createdAt(ticket.PaidAt),
	}}
}

func (c *commissionCalculator) createdAt(paidAt *time.Time) time.Time {
	if paidAt != nil && !paidAt.IsZero() {
		return paidAt.UTC()
	}
	return c.clock()
}

// sumCommissions totals commission amounts.
func sumCommissions(rows []Commission) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	return total
}
