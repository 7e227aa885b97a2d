package coupon

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Cap names the clamp that limited a discount.
type Cap string

const (
	CapNone        Cap = ""
	CapMaxDiscount Cap = "max_discount"
	CapOrderAmount Cap = "order_amount"
)

// Breakdown explains how a discount amount was reached.
type Breakdown struct {
	// Raw is the amount before any clamp or rounding.
	Raw decimal.Decimal
	// CapApplied is the last clamp that changed the amount.
	CapApplied Cap
	// Final equals Discount.Amount.
	Final decimal.Decimal
	// ScopedAmount is the part of the order matching the coupon's product and
	// category restrictions. It is informational only.
	ScopedAmount decimal.Decimal
}

// Discount is the result of Calculate. Reason is advisory: a non-empty reason
// comes with a zero amount.
type Discount struct {
	Amount    decimal.Decimal
	Breakdown Breakdown
	Reason    Reason
}

// Calculate computes the discount the coupon grants on orderAmount. It is a
// pure function: identical inputs always yield identical results.
func Calculate(c *Coupon, orderAmount decimal.Decimal, items []Item) Discount {
	if orderAmount.LessThan(c.MinOrderAmount) {
		return Discount{
			Amount:    zero,
			Breakdown: Breakdown{Raw: zero, Final: zero, ScopedAmount: scopedAmount(c, items)},
			Reason:    ReasonMinOrderNotMet,
		}
	}
	d := compute(c, orderAmount)
	d.Breakdown.ScopedAmount = scopedAmount(c, items)
	return d
}

// compute applies the discount rule to base without the minimum order check.
// Rounding happens once, after every clamp.
func compute(c *Coupon, base decimal.Decimal) Discount {
	base = floorAtZero(base)

	var raw decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		raw = base.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		raw = c.Value
	default:
		return Discount{Amount: zero, Breakdown: Breakdown{Raw: zero, Final: zero}, Reason: ReasonUnsupportedType}
	}

	amount, capApplied := raw, CapNone
	if c.DiscountType == DiscountPercentage && c.MaxDiscount.Valid && amount.GreaterThan(c.MaxDiscount.Decimal) {
		amount, capApplied = c.MaxDiscount.Decimal, CapMaxDiscount
	}
	if amount.GreaterThan(base) {
		amount, capApplied = base, CapOrderAmount
	}
	amount = roundMoney(floorAtZero(amount))

	return Discount{
		Amount: amount,
		Breakdown: Breakdown{
			Raw:        raw,
			CapApplied: capApplied,
			Final:      amount,
		},
	}
}

// roundMoney rounds half-up to cents. Amounts are never negative here, so
// decimal's half-away-from-zero rounding is half-up.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func scopedAmount(c *Coupon, items []Item) decimal.Decimal {
	sum := zero
	for _, it := range items {
		if inScope(c, it) {
			sum = sum.Add(it.LineTotal())
		}
	}
	return sum
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
