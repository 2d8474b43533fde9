package pricing

import "github.com/shopspring/decimal"

// Discount kinds reported by Discount.Kind.
const (
	KindNone    = "none"
	KindPercent = "percent"
	KindFixed   = "fixed_amount"
)

// Discount is an optional reduction expressed either as a percentage (0-100)
// or as a fixed amount. The percentage takes precedence whenever it is
// positive; the two are never combined.
type Discount struct {
	Percentage decimal.Decimal `json:"discountPercentage"`
	Amount     Money           `json:"discountAmount"`
}

// PercentOff builds a percentage discount.
func PercentOff(pct decimal.Decimal) Discount {
	return Discount{Percentage: pct}
}

// AmountOff builds a fixed amount discount.
func AmountOff(amount Money) Discount {
	return Discount{Amount: amount}
}

// Kind reports which rule Resolve will apply.
func (d Discount) Kind() string {
	switch {
	case d.Percentage.IsPositive():
		return KindPercent
	case d.Amount.IsPositive():
		return KindFixed
	default:
		return KindNone
	}
}

// Resolve returns the discount value for the given base amount, rounded to
// cents. It is not capped at base.
func (d Discount) Resolve(base Money) Money {
	return RoundMoney(d.off(base))
}

// off is the unrounded discount for base.
func (d Discount) off(base Money) Money {
	switch d.Kind() {
	case KindPercent:
		return base.Mul(d.Percentage).Div(hundred)
	case KindFixed:
		return d.Amount
	default:
		return decimal.Zero
	}
}

// Normalize rewrites the discount fields to the effective discount for base.
// A winning percentage gets its equivalent amount filled in; a fixed amount
// keeps a zero percentage.
func (d Discount) Normalize(base Money) Discount {
	switch d.Kind() {
	case KindPercent:
		return Discount{Percentage: d.Percentage, Amount: d.Resolve(base)}
	case KindFixed:
		return Discount{Percentage: decimal.Zero, Amount: RoundMoney(d.Amount)}
	default:
		return Discount{Percentage: decimal.Zero, Amount: decimal.Zero}
	}
}
