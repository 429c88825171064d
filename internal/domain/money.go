package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places kept for persisted monetary amounts.
const MoneyScale int32 = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney applies the single rounding rule used for every monetary amount:
// two decimal places, half away from zero.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// PercentOf returns amount * rate / 100 without rounding.
func PercentOf(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}

// ParseMoney parses a decimal string and rounds it to the money scale.
func ParseMoney(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundMoney(value), nil
}

// MinMoney returns the smaller of two amounts.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxMoney returns the larger of two amounts.
func MaxMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
