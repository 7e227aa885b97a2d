package coupon

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// DefaultMaxExhaustive is the largest candidate set searched exhaustively.
const DefaultMaxExhaustive = 16

// Applied is a coupon selected by the Resolver together with its discount.
// Base is the amount the coupon was computed against.
type Applied struct {
	Coupon   *Coupon
	Base     decimal.Decimal
	Discount Discount
}

// Exclusion is a candidate the Resolver left out.
type Exclusion struct {
	Coupon *Coupon
	Reason Reason
}

// Resolution is the outcome of stacking several coupons on one order.
type Resolution struct {
	Selected []Applied
	Excluded []Exclusion
	Total    decimal.Decimal
}

// Resolver picks the combination of coupons that may be applied together.
//
// Selected coupons are applied in sequence order: priority descending, then
// start date ascending, then code. Each coupon is computed against the order
// amount minus the discounts granted before it, so the total can never exceed
// the order amount. Minimum order amounts are not re-checked here; candidates
// are expected to have passed the Evaluator against the full subtotal.
type Resolver struct {
	maxExhaustive int
}

// NewResolver returns a Resolver. maxExhaustive bounds the exhaustive search;
// larger candidate sets fall back to a greedy pass in sequence order.
func NewResolver(maxExhaustive int) *Resolver {
	if maxExhaustive <= 0 || maxExhaustive > 24 {
		maxExhaustive = DefaultMaxExhaustive
	}
	return &Resolver{maxExhaustive: maxExhaustive}
}

// Conflicts reports whether a and b may not be applied to the same order.
// Stacking is opt-in: both coupons must list each other in CanStackWith, and
// neither may list the other in CannotStackWith.
func Conflicts(a, b *Coupon) bool {
	if slices.Contains(a.CannotStackWith, b.ID) || slices.Contains(b.CannotStackWith, a.ID) {
		return true
	}
	return !slices.Contains(a.CanStackWith, b.ID) || !slices.Contains(b.CanStackWith, a.ID)
}

// Resolve selects the conflict-free subset of candidates with the largest
// total discount. Ties prefer higher priority, then earlier start date, then
// fewer coupons.
func (r *Resolver) Resolve(candidates []*Coupon, orderAmount decimal.Decimal, items []Item) Resolution {
	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, sequenceOrder)

	n := len(ordered)
	if n == 0 {
		return Resolution{Total: zero}
	}
	if n > r.maxExhaustive {
		return buildResolution(ordered, greedy(ordered), orderAmount, items)
	}

	conflicts := make([]uint32, n)
	for i := range n {
		for j := range n {
			if i != j && Conflicts(ordered[i], ordered[j]) {
				conflicts[i] |= 1 << j
			}
		}
	}

	best := r.exhaustive(ordered, conflicts, orderAmount)
	return buildResolution(ordered, func(i int) bool { return best&(1<<i) != 0 }, orderAmount, items)
}

func (r *Resolver) exhaustive(ordered []*Coupon, conflicts []uint32, orderAmount decimal.Decimal) uint32 {
	n := len(ordered)
	var (
		best      uint32
		bestTotal decimal.Decimal
	)
	for mask := uint32(1); mask < 1<<n; mask++ {
		if !independent(mask, conflicts) {
			continue
		}
		total := sequenceTotal(ordered, mask, orderAmount)
		if best == 0 || better(ordered, mask, total, best, bestTotal) {
			best, bestTotal = mask, total
		}
	}
	return best
}

// greedy walks the candidates in sequence order and keeps every coupon that
// does not conflict with the ones already kept.
func greedy(ordered []*Coupon) func(int) bool {
	kept := make([]bool, len(ordered))
	for i, c := range ordered {
		kept[i] = true
		for j := range i {
			if kept[j] && Conflicts(c, ordered[j]) {
				kept[i] = false
				break
			}
		}
	}
	return func(i int) bool { return kept[i] }
}

func independent(mask uint32, conflicts []uint32) bool {
	for i := range len(conflicts) {
		if mask&(1<<i) != 0 && conflicts[i]&mask != 0 {
			return false
		}
	}
	return true
}

func sequenceTotal(ordered []*Coupon, mask uint32, orderAmount decimal.Decimal) decimal.Decimal {
	base, total := orderAmount, zero
	for i, c := range ordered {
		if mask&(1<<i) == 0 {
			continue
		}
		d := compute(c, base)
		base = base.Sub(d.Amount)
		total = total.Add(d.Amount)
	}
	return total
}

// better reports whether subset a beats subset b.
func better(ordered []*Coupon, a uint32, aTotal decimal.Decimal, b uint32, bTotal decimal.Decimal) bool {
	if c := aTotal.Cmp(bTotal); c != 0 {
		return c > 0
	}
	am, bm := members(ordered, a), members(ordered, b)
	for i := range min(len(am), len(bm)) {
		if c := sequenceOrder(am[i], bm[i]); c != 0 {
			return c < 0
		}
	}
	return len(am) < len(bm)
}

func members(ordered []*Coupon, mask uint32) []*Coupon {
	out := make([]*Coupon, 0, len(ordered))
	for i, c := range ordered {
		if mask&(1<<i) != 0 {
			out = append(out, c)
		}
	}
	return out
}

func buildResolution(ordered []*Coupon, selected func(int) bool, orderAmount decimal.Decimal, items []Item) Resolution {
	res := Resolution{Total: zero}
	base := orderAmount
	for i, c := range ordered {
		if !selected(i) {
			res.Excluded = append(res.Excluded, Exclusion{Coupon: c, Reason: ReasonStackingConflict})
			continue
		}
		d := compute(c, base)
		d.Breakdown.ScopedAmount = scopedAmount(c, items)
		res.Selected = append(res.Selected, Applied{Coupon: c, Base: base, Discount: d})
		base = base.Sub(d.Amount)
		res.Total = res.Total.Add(d.Amount)
	}
	return res
}

// sequenceOrder sorts by priority descending, start date ascending, code.
func sequenceOrder(a, b *Coupon) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := a.StartDate.Compare(b.StartDate); c != 0 {
		return c
	}
	return cmp.Compare(a.Code, b.Code)
}
