//go:build property
// +build property

package model

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// TestTotalsInvariant checks that any cart priced through ComputeTotals
// yields a task that passes Validate.
func TestTotalsInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("computed totals always validate", prop.ForAll(
		func(cents []int64, quantities []int, taxBasisPoints int64) bool {
			n := len(cents)
			if len(quantities) < n {
				n = len(quantities)
			}
			if n == 0 {
				return true
			}

			lines := make([]CartLine, 0, n)
			for i := 0; i < n; i++ {
				price := decimal.New(cents[i], -2)
				lines = append(lines, CartLine{
					ProductID: uint64(i + 1),
					UnitPrice: price,
					Quantity:  quantities[i],
					LineTotal: LineTotal(price, quantities[i]),
				})
			}

			totals := ComputeTotals(lines, decimal.New(taxBasisPoints, -4))
			task := &OrderTask{
				OrderID:  "ORDP",
				UserID:   1,
				Items:    lines,
				Subtotal: totals.Subtotal,
				Tax:      totals.Tax,
				Total:    totals.Total,
			}
			return task.Validate() == nil
		},
		gen.SliceOf(gen.Int64Range(0, 1000000)),
		gen.SliceOf(gen.IntRange(1, 50)),
		gen.Int64Range(0, 2500),
	))

	properties.Property("perturbed total is rejected", prop.ForAll(
		func(cents int64, quantity int, deltaCents int64) bool {
			price := decimal.New(cents, -2)
			line := CartLine{ProductID: 1, UnitPrice: price, Quantity: quantity, LineTotal: LineTotal(price, quantity)}
			totals := ComputeTotals([]CartLine{line}, decimal.RequireFromString("0.08"))
			task := &OrderTask{
				OrderID:  "ORDP",
				UserID:   1,
				Items:    []CartLine{line},
				Subtotal: totals.Subtotal,
				Tax:      totals.Tax,
				Total:    totals.Total.Add(decimal.New(deltaCents, -2)),
			}
			return task.Validate() != nil
		},
		gen.Int64Range(1, 1000000),
		gen.IntRange(1, 50),
		gen.Int64Range(1, 10000),
	))

	properties.TestingRun(t)
}
