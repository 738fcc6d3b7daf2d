package surcharge

import "github.com/shopspring/decimal"

// Subtotal sums effective line totals exactly. Lines with zero quantity add
// nothing. No rounding is applied.
func Subtotal(items []LineItem, currency string) Money {
	sum := decimal.Zero
	for _, item := range items {
		if item.Removed() {
			continue
		}
		sum = sum.Add(item.Total())
	}
	return NewMoney(sum, currency)
}
