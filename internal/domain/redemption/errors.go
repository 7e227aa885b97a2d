package redemption

import (
	"github.com/go-faster/errors"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

var (
	// ErrConcurrencyConflict means the guarded increment lost the race for the
	// last slot. Callers treat it like coupon.ReasonUsageCapReached.
	ErrConcurrencyConflict = errors.New("coupon usage cap reached by a concurrent redemption")
	// ErrAlreadyRedeemed means the order already carries a coupon usage.
	ErrAlreadyRedeemed = errors.New("order already has a coupon redemption")
	// ErrUsageNotFound is returned by Ledger.FindUsageByOrder.
	ErrUsageNotFound = errors.New("usage not found")
	// ErrInvalidRequest reports missing identifiers in an ApplyRequest.
	ErrInvalidRequest = errors.New("invalid redemption request")
)

// PersistenceError wraps an infrastructure failure. Nothing was applied and
// the operation may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Retryable is always true.
func (e *PersistenceError) Retryable() bool {
	return true
}

// IsCapReached reports whether err means the coupon has no uses left, either
// because the evaluator saw the cap or because a concurrent redemption took
// the last slot.
func IsCapReached(err error) bool {
	if errors.Is(err, ErrConcurrencyConflict) {
		return true
	}
	r, ok := coupon.ReasonOf(err)
	return ok && r == coupon.ReasonUsageCapReached
}

// IsRetryable reports whether err is a PersistenceError.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Retryable()
}

// isBusiness reports whether err is an expected outcome rather than an
// infrastructure failure.
func isBusiness(err error) bool {
	if _, ok := coupon.ReasonOf(err); ok {
		return true
	}
	for _, target := range []error{
		ErrConcurrencyConflict,
		ErrAlreadyRedeemed,
		ErrInvalidRequest,
		coupon.ErrCouponNotFound,
		coupon.ErrInvalidOrder,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
