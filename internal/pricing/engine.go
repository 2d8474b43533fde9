package pricing

import "github.com/shopspring/decimal"

// Money represents a monetary value in the quote currency.
type Money = decimal.Decimal

// Fractional digits kept on stored values.
const (
	MoneyScale    = 2
	QuantityScale = 3
	PercentScale  = 4
	RateScale     = 6
)

var hundred = decimal.NewFromInt(100)

// LineItem describes the priced inputs of a single quote line.
type LineItem struct {
	Quantity  decimal.Decimal
	UnitPrice Money
	Discount  Discount
}

// LinePrice holds the derived values for a line item.
type LinePrice struct {
	Subtotal Money
	Discount Money
	Total    Money
	// Applied is the discount as it should be persisted on the line item.
	Applied Discount
}

// Tax selects between rate based tax and an operator supplied amount.
type Tax struct {
	Rate         decimal.Decimal
	Manual       bool
	ManualAmount Money
}

// RatePercent returns the rate for display, e.g. 0.0825 -> 8.25.
func (t Tax) RatePercent() decimal.Decimal {
	return t.Rate.Mul(hundred)
}

// Summary aggregates computed quote components.
type Summary struct {
	Subtotal           Money
	Discount           Money
	DiscountedSubtotal Money
	Tax                Money
	Total              Money
	// AppliedDiscount is the quote level discount as it should be persisted.
	AppliedDiscount Discount
}

// Negative reports whether a discount drove the total below zero.
func (s Summary) Negative() bool {
	return s.Total.IsNegative()
}

// PriceLineItem computes the total of a single line item. Negative totals are
// returned as computed.
func PriceLineItem(it LineItem) LinePrice {
	exact := it.Quantity.Mul(it.UnitPrice)
	return LinePrice{
		Subtotal: RoundMoney(exact),
		Discount: it.Discount.Resolve(exact),
		Total:    RoundMoney(exact.Sub(it.Discount.off(exact))),
		Applied:  it.Discount.Normalize(exact),
	}
}

// Aggregate recomputes the quote totals from the current line totals.
func Aggregate(lineTotals []Money, discount Discount, tax Tax) Summary {
	subtotal := decimal.Zero
	for _, total := range lineTotals {
		subtotal = subtotal.Add(total)
	}
	off := discount.Resolve(subtotal)
	discounted := subtotal.Sub(off)

	taxAmount := RoundMoney(discounted.Mul(tax.Rate))
	if tax.Manual {
		taxAmount = RoundMoney(tax.ManualAmount)
	}
	return Summary{
		Subtotal:           subtotal,
		Discount:           off,
		DiscountedSubtotal: discounted,
		Tax:                taxAmount,
		Total:              discounted.Add(taxAmount),
		AppliedDiscount:    discount.Normalize(subtotal),
	}
}

// RoundMoney rounds half away from zero to MoneyScale digits.
func RoundMoney(m Money) Money {
	return m.Round(MoneyScale)
}
