package model

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces number of fraction digits kept for currency amounts
const MoneyPlaces = 2

// RoundMoney rounds half away from zero to cents
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// LineTotal unit price times quantity, in cents
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// Totals order amounts derived from the cart snapshot
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals sums line totals and applies the tax rate
func ComputeTotals(lines []CartLine, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal)
	}
	subtotal = RoundMoney(subtotal)
	tax := RoundMoney(subtotal.Mul(taxRate))

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}
