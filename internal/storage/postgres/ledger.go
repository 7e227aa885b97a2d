package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

const usageColumns = `id, coupon_id, coupon_code, user_id, order_id, discount_amount, order_total, used_at`

const (
	countUserUsagesSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	incrementUsedCountSQL = `UPDATE coupons SET used_count = used_count + 1
	WHERE id = $1 AND (max_usage IS NULL OR used_count < max_usage)`

	decrementUsedCountSQL = `UPDATE coupons SET used_count = used_count - 1
	WHERE id = $1 AND used_count > 0`

	insertUsageSQL = `INSERT INTO coupon_usages (` + usageColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (order_id) DO NOTHING`

	// Locking the row makes a concurrent remove of the same order wait and
	// then see the row gone.
	findUsageByOrderSQL = `SELECT ` + usageColumns + ` FROM coupon_usages
	WHERE order_id = $1 FOR UPDATE`

	deleteUsageSQL = `DELETE FROM coupon_usages WHERE id = $1`
)

var _ redemption.Ledger = (*ledger)(nil)

type ledger struct {
	q querier
}

func (l *ledger) GetCoupon(ctx context.Context, id string) (*coupon.Coupon, error) {
	return getCoupon(ctx, l.q, getCouponByIDSQL, id)
}

func (l *ledger) CountUserUsages(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	if err := l.q.QueryRow(ctx, countUserUsagesSQL, couponID, userID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count user usages")
	}
	return n, nil
}

func (l *ledger) IncrementUsedCount(ctx context.Context, couponID string) (bool, error) {
	tag, err := l.q.Exec(ctx, incrementUsedCountSQL, couponID)
	if err != nil {
		return false, errors.Wrap(err, "increment used count")
	}
	return tag.RowsAffected() == 1, nil
}

func (l *ledger) DecrementUsedCount(ctx context.Context, couponID string) error {
	if _, err := l.q.Exec(ctx, decrementUsedCountSQL, couponID); err != nil {
		return errors.Wrap(err, "decrement used count")
	}
	return nil
}

func (l *ledger) InsertUsage(ctx context.Context, u *redemption.Usage) (bool, error) {
	tag, err := l.q.Exec(ctx, insertUsageSQL,
		u.ID, u.CouponID, u.CouponCode, u.UserID, u.OrderID,
		u.DiscountAmount, u.OrderTotal, u.UsedAt,
	)
	if err != nil {
		return false, errors.Wrap(err, "insert usage")
	}
	return tag.RowsAffected() == 1, nil
}

func (l *ledger) FindUsageByOrder(ctx context.Context, orderID string) (*redemption.Usage, error) {
	rows, err := l.q.Query(ctx, findUsageByOrderSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query usage")
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUsage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, redemption.ErrUsageNotFound
		}
		return nil, errors.Wrapf(err, "get usage for order %q", orderID)
	}
	return &u, nil
}

func (l *ledger) DeleteUsage(ctx context.Context, id string) error {
	tag, err := l.q.Exec(ctx, deleteUsageSQL, id)
	if err != nil {
		return errors.Wrap(err, "delete usage")
	}
	if tag.RowsAffected() == 0 {
		return redemption.ErrUsageNotFound
	}
	return nil
}

func scanUsage(row pgx.CollectableRow) (redemption.Usage, error) {
	var u redemption.Usage
	err := row.Scan(
		&u.ID, &u.CouponID, &u.CouponCode, &u.UserID, &u.OrderID,
		&u.DiscountAmount, &u.OrderTotal, &u.UsedAt,
	)
	return u, err
}
