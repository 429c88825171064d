package domain

import "github.com/shopspring/decimal"

// OrderTotals holds the rolled-up monetary fields of an order, rounded to the money scale.
type OrderTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Reconciles reports whether Total == Subtotal - Discount + Shipping + Tax.
func (t OrderTotals) Reconciles() bool {
	return t.Subtotal.Sub(t.Discount).Add(t.Shipping).Add(t.Tax).Equal(t.Total)
}

// Taxable is the amount tax is levied on: the discounted subtotal plus shipping.
func (t OrderTotals) Taxable() decimal.Decimal {
	return t.Subtotal.Sub(t.Discount).Add(t.Shipping)
}

// DiscountRatio is Discount / Subtotal, or zero for an empty subtotal.
func (t OrderTotals) DiscountRatio() decimal.Decimal {
	if t.Subtotal.IsZero() {
		return decimal.Zero
	}
	return t.Discount.Div(t.Subtotal)
}

// PricingBreakdown is the input needed to settle an order's totals.
type PricingBreakdown struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	TaxRate  decimal.Decimal
}

// Settle rounds each component once and derives tax and total from the rounded values.
func (p PricingBreakdown) Settle() OrderTotals {
	totals := OrderTotals{
		Subtotal: RoundMoney(p.Subtotal),
		Discount: RoundMoney(p.Discount),
		Shipping: RoundMoney(p.Shipping),
	}
	totals.Tax = RoundMoney(totals.Taxable().Mul(p.TaxRate))
	totals.Total = totals.Taxable().Add(totals.Tax)
	return totals
}
