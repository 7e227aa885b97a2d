package coupon

import (
	"slices"
	"strings"
	"time"
)

// Eligibility is the result of evaluating a coupon for a user and order.
type Eligibility struct {
	Reason Reason
}

// Eligible reports whether no rule rejected the coupon.
func (e Eligibility) Eligible() bool {
	return e.Reason == ReasonNone
}

// EligibilityInput holds everything Evaluate needs. UserUsages is the number
// of existing usage rows for (coupon, user), read by the caller.
type EligibilityInput struct {
	UserID     string
	Coupon     *Coupon
	Order      *OrderContext
	UserUsages int
}

// Evaluator decides whether a coupon may be used. It performs no I/O and is
// safe for concurrent use.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator returns an Evaluator using the wall clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// NewEvaluatorAt returns an Evaluator with a fixed clock source.
func NewEvaluatorAt(now func() time.Time) *Evaluator {
	return &Evaluator{now: now}
}

// Now returns the evaluator's current time.
func (v *Evaluator) Now() time.Time {
	return v.now()
}

// Evaluate runs the eligibility rules in order and stops at the first failure.
func (v *Evaluator) Evaluate(in EligibilityInput) Eligibility {
	return Eligibility{Reason: v.check(in, v.now())}
}

func (v *Evaluator) check(in EligibilityInput, now time.Time) Reason {
	c, o := in.Coupon, in.Order

	if !c.IsActive {
		return ReasonNotActive
	}
	if now.Before(c.StartDate) {
		return ReasonNotStarted
	}
	if now.After(c.EndDate) {
		return ReasonExpired
	}
	if c.capReached() {
		return ReasonUsageCapReached
	}
	if in.UserUsages >= c.PerUserLimit() {
		return ReasonPerUserCapReached
	}
	if slices.Contains(c.ExcludeUsers, in.UserID) {
		return ReasonUserExcluded
	}
	if len(c.ApplicableUsers) > 0 && !slices.Contains(c.ApplicableUsers, in.UserID) {
		return ReasonUserNotAllowed
	}
	if !matchesContext(c, o) {
		return ReasonContextMismatch
	}
	if !matchesProducts(c, o.Items) || !matchesCategories(c, o.Items) {
		return ReasonProductCategoryMismatch
	}
	if o.Subtotal.LessThan(c.MinOrderAmount) {
		return ReasonMinOrderNotMet
	}
	return ReasonNone
}

func matchesContext(c *Coupon, o *OrderContext) bool {
	t, s := c.Targeting, c.SpecialDiscount
	if len(t.OrderTypes) > 0 && !slices.Contains(t.OrderTypes, o.OrderType) {
		return false
	}
	if !containsFold(t.PaymentMethods, o.PaymentMethod) {
		return false
	}
	addr := o.DeliveryAddress
	return containsFold(s.Cities, addr.City) &&
		containsFold(s.PostalCodes, addr.PostalCode) &&
		containsFold(s.AddressClasses, addr.Class)
}

// containsFold reports whether set is empty or holds v case-insensitively.
func containsFold(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	return slices.ContainsFunc(set, func(s string) bool {
		return strings.EqualFold(s, v)
	})
}

// Product and category restrictions are checked independently and both have
// to hold. See DESIGN.md before changing this to an OR.
func matchesProducts(c *Coupon, items []Item) bool {
	if len(c.ApplicableProducts) == 0 {
		return true
	}
	return slices.ContainsFunc(items, func(it Item) bool {
		return slices.Contains(c.ApplicableProducts, it.ProductID)
	})
}

func matchesCategories(c *Coupon, items []Item) bool {
	if len(c.ApplicableCategories) == 0 {
		return true
	}
	return slices.ContainsFunc(items, func(it Item) bool {
		return it.CategoryID != "" && slices.Contains(c.ApplicableCategories, it.CategoryID)
	})
}

// inScope reports whether a single line falls under the coupon's product and
// category restrictions.
func inScope(c *Coupon, it Item) bool {
	if len(c.ApplicableProducts) > 0 && !slices.Contains(c.ApplicableProducts, it.ProductID) {
		return false
	}
	if len(c.ApplicableCategories) > 0 && !slices.Contains(c.ApplicableCategories, it.CategoryID) {
		return false
	}
	return true
}
