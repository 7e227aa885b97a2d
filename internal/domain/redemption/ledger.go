// Package redemption records coupon usage against orders and keeps each
// coupon's used count equal to its live usage rows.
package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// Usage is one ledger row: coupon C was used on order O by user U.
type Usage struct {
	ID             string
	CouponID       string
	CouponCode     string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	OrderTotal     decimal.Decimal
	UsedAt         time.Time
}

// Ledger is the transactional view of coupons and usage rows. Every method
// runs inside the Tx that produced it.
type Ledger interface {
	// GetCoupon returns coupon.ErrCouponNotFound for unknown ids.
	GetCoupon(ctx context.Context, id string) (*coupon.Coupon, error)
	CountUserUsages(ctx context.Context, couponID, userID string) (int, error)
	// IncrementUsedCount adds one use if the coupon is under its cap. It
	// reports false when the guard did not match.
	IncrementUsedCount(ctx context.Context, couponID string) (bool, error)
	// InsertUsage reports false when a row for the order already exists.
	InsertUsage(ctx context.Context, u *Usage) (bool, error)
	// FindUsageByOrder returns ErrUsageNotFound when the order has no usage.
	FindUsageByOrder(ctx context.Context, orderID string) (*Usage, error)
	// DeleteUsage returns ErrUsageNotFound when the row is already gone.
	DeleteUsage(ctx context.Context, id string) error
	DecrementUsedCount(ctx context.Context, couponID string) error
}

// Drift is a coupon whose used count disagrees with its live usage rows.
type Drift struct {
	CouponID   string
	Code       string
	UsedCount  int
	LiveUsages int
}

// Auditor reconciles used counts against usage rows. Repair returns the
// drifts it corrected.
type Auditor interface {
	Drift(ctx context.Context) ([]Drift, error)
	Repair(ctx context.Context) ([]Drift, error)
}

// Tx is a unit of work over the ledger.
type Tx interface {
	Ledger() Ledger
	Commit(ctx context.Context) error
	// Rollback is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// TxManager starts units of work.
type TxManager interface {
	Begin(ctx context.Context) (Tx, error)
}

// RunInTx runs fn in a new unit of work, committing when fn returns nil and
// rolling back otherwise.
func RunInTx(ctx context.Context, txm TxManager, fn func(ctx context.Context, l Ledger) error) (rerr error) {
	tx, err := txm.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if rerr == nil {
			return
		}
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			zctx.From(ctx).Warn("Rollback failed", zap.Error(err))
		}
	}()

	if err := fn(ctx, tx.Ledger()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}
