package coupon

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Input errors.
var (
	ErrMissingCode    = errors.New("coupon code is required")
	ErrCouponNotFound = errors.New("coupon not found")
	ErrOrderNotFound  = errors.New("order not found")
)

// Admin errors.
var (
	ErrDuplicateCode = errors.New("coupon code already exists")
	ErrCouponInUse   = errors.New("coupon has redemptions and can only be deactivated")
)

// Reason is a machine-readable explanation of why a coupon cannot be used.
// The zero value means eligible.
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonNotActive               Reason = "not_active"
	ReasonNotStarted              Reason = "not_started"
	ReasonExpired                 Reason = "expired"
	ReasonUsageCapReached         Reason = "usage_cap_reached"
	ReasonPerUserCapReached       Reason = "per_user_cap_reached"
	ReasonUserExcluded            Reason = "user_excluded"
	ReasonUserNotAllowed          Reason = "user_not_allowed"
	ReasonContextMismatch         Reason = "context_mismatch"
	ReasonProductCategoryMismatch Reason = "product_category_mismatch"
	ReasonMinOrderNotMet          Reason = "min_order_not_met"
	ReasonStackingConflict        Reason = "stacking_conflict"
	ReasonUnsupportedType         Reason = "unsupported_discount_type"
)

var reasonMessages = map[Reason]string{
	ReasonNotActive:               "This coupon is no longer available.",
	ReasonNotStarted:              "This coupon is not valid yet.",
	ReasonExpired:                 "This coupon has expired.",
	ReasonUsageCapReached:         "This coupon has reached its usage limit.",
	ReasonPerUserCapReached:       "You have already used this coupon.",
	ReasonUserExcluded:            "This coupon is not available for your account.",
	ReasonUserNotAllowed:          "This coupon is not available for your account.",
	ReasonContextMismatch:         "This coupon does not apply to this order type, payment method or address.",
	ReasonProductCategoryMismatch: "Your cart has no items this coupon applies to.",
	ReasonMinOrderNotMet:          "Your order does not meet the minimum amount for this coupon.",
	ReasonStackingConflict:        "This coupon cannot be combined with the other coupons.",
	ReasonUnsupportedType:         "This coupon cannot be applied.",
}

// Message returns a short customer-facing description of the reason.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return ""
}

// IneligibleError is returned by operations that must reject a coupon for a
// business rule.
type IneligibleError struct {
	Code   string
	Reason Reason
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("coupon %s ineligible: %s", e.Code, e.Reason)
}

// Ineligible wraps a reason into an error.
func Ineligible(code string, reason Reason) error {
	return &IneligibleError{Code: code, Reason: reason}
}

// ReasonOf extracts the ineligibility reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ie *IneligibleError
	if errors.As(err, &ie) {
		return ie.Reason, true
	}
	return ReasonNone, false
}
