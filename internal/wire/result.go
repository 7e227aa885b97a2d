package wire

import (
	"github.com/go-faster/jx"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

// EncodeDiscount writes a discount with its breakdown.
func EncodeDiscount(e *jx.Encoder, d coupon.Discount) {
	e.ObjStart()
	e.FieldStart("amount")
	Money(e, d.Amount)
	e.FieldStart("raw")
	Money(e, d.Breakdown.Raw)
	if d.Breakdown.CapApplied != coupon.CapNone {
		e.FieldStart("capApplied")
		e.Str(string(d.Breakdown.CapApplied))
	}
	e.FieldStart("scopedAmount")
	Money(e, d.Breakdown.ScopedAmount)
	if d.Reason != "" {
		e.FieldStart("reason")
		e.Str(string(d.Reason))
	}
	e.ObjEnd()
}

// couponRef writes the short identity of a coupon used inside results.
func couponRef(e *jx.Encoder, c *coupon.Coupon) {
	e.FieldStart("couponId")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
}

// EncodeOffers writes the available-coupons listing.
func EncodeOffers(e *jx.Encoder, offers []coupon.Offer) {
	e.ObjStart()
	e.FieldStart("coupons")
	e.ArrStart()
	for _, o := range offers {
		e.ObjStart()
		couponRef(e, o.Coupon)
		e.FieldStart("discountType")
		e.Str(string(o.Coupon.DiscountType))
		e.FieldStart("discount")
		EncodeDiscount(e, o.Discount)
		e.FieldStart("eligible")
		e.Bool(o.Eligible)
		e.FieldStart("meetsMinimum")
		e.Bool(o.MeetsMinimum)
		e.FieldStart("minOrderAmount")
		Money(e, o.Coupon.MinOrderAmount)
		if o.Reason != "" {
			e.FieldStart("reason")
			e.Str(string(o.Reason))
			e.FieldStart("message")
			e.Str(o.Reason.Message())
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// EncodeQuote writes the result of validating one code.
func EncodeQuote(e *jx.Encoder, q *coupon.Quote, order coupon.OrderContext) {
	e.ObjStart()
	couponRef(e, q.Coupon)
	e.FieldStart("discount")
	EncodeDiscount(e, q.Discount)
	e.FieldStart("subtotal")
	Money(e, order.Subtotal)
	e.FieldStart("payable")
	Money(e, order.Subtotal.Sub(q.Discount.Amount))
	e.ObjEnd()
}

// EncodeStackQuote writes the result of quoting several codes together.
func EncodeStackQuote(e *jx.Encoder, q *coupon.StackQuote) {
	e.ObjStart()
	e.FieldStart("subtotal")
	Money(e, q.Subtotal)
	e.FieldStart("selected")
	e.ArrStart()
	for _, a := range q.Selected {
		e.ObjStart()
		couponRef(e, a.Coupon)
		e.FieldStart("base")
		Money(e, a.Base)
		e.FieldStart("discount")
		EncodeDiscount(e, a.Discount)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("excluded")
	e.ArrStart()
	for _, x := range q.Excluded {
		e.ObjStart()
		couponRef(e, x.Coupon)
		e.FieldStart("reason")
		e.Str(string(x.Reason))
		e.FieldStart("message")
		e.Str(x.Reason.Message())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("totalDiscount")
	Money(e, q.Total)
	e.FieldStart("payable")
	Money(e, q.Payable)
	e.ObjEnd()
}

// EncodeUsage writes a ledger row.
func EncodeUsage(e *jx.Encoder, u *redemption.Usage) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(u.ID)
	e.FieldStart("couponId")
	e.Str(u.CouponID)
	e.FieldStart("couponCode")
	e.Str(u.CouponCode)
	e.FieldStart("userId")
	e.Str(u.UserID)
	e.FieldStart("orderId")
	e.Str(u.OrderID)
	e.FieldStart("discountAmount")
	Money(e, u.DiscountAmount)
	e.FieldStart("orderTotal")
	Money(e, u.OrderTotal)
	e.FieldStart("usedAt")
	Time(e, u.UsedAt)
	e.ObjEnd()
}

// EncodeRedemption writes the outcome of applying a coupon.
func EncodeRedemption(e *jx.Encoder, r *redemption.Redemption) {
	e.ObjStart()
	e.FieldStart("usage")
	EncodeUsage(e, &r.Usage)
	e.FieldStart("discount")
	EncodeDiscount(e, r.Discount)
	e.FieldStart("usedCount")
	e.Int(r.Coupon.UsedCount)
	e.FieldStart("remainingUses")
	e.Int(r.Coupon.RemainingUses())
	e.ObjEnd()
}

// EncodeReversal writes the outcome of removing a redemption.
func EncodeReversal(e *jx.Encoder, r *redemption.Reversal) {
	e.ObjStart()
	e.FieldStart("removed")
	e.Bool(r.Removed)
	if r.Usage != nil {
		e.FieldStart("usage")
		EncodeUsage(e, r.Usage)
	}
	e.ObjEnd()
}
