package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

const (
	driftSQL = `SELECT c.id, c.code, c.used_count, COUNT(u.id)::int
	FROM coupons c
	LEFT JOIN coupon_usages u ON u.coupon_id = c.id
	GROUP BY c.id, c.code, c.used_count
	HAVING c.used_count <> COUNT(u.id)
	ORDER BY c.code`

	// The coupon rows are locked first so concurrent redemptions wait.
	lockDriftedSQL = `SELECT c.id FROM coupons c
	WHERE c.used_count <> (SELECT COUNT(*) FROM coupon_usages u WHERE u.coupon_id = c.id)
	FOR UPDATE`

	repairSQL = `UPDATE coupons c
	SET used_count = (SELECT COUNT(*) FROM coupon_usages u WHERE u.coupon_id = c.id),
		updated_at = NOW()
	WHERE c.id = ANY($1)`
)

var _ redemption.Auditor = (*Auditor)(nil)

// Auditor compares used_count with the usage rows.
type Auditor struct {
	pool *pgxpool.Pool
}

// NewAuditor returns an Auditor that uses the given pool.
func NewAuditor(pool *pgxpool.Pool) *Auditor {
	return &Auditor{pool: pool}
}

// Drift lists coupons whose used_count differs from their usage rows.
func (a *Auditor) Drift(ctx context.Context) ([]redemption.Drift, error) {
	return drift(ctx, a.pool)
}

// Repair sets used_count to the usage row count for every drifted coupon.
func (a *Auditor) Repair(ctx context.Context) (_ []redemption.Drift, rerr error) {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	rows, err := tx.Query(ctx, lockDriftedSQL)
	if err != nil {
		return nil, errors.Wrap(err, "lock drifted coupons")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "collect drifted coupons")
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	out, err := drift(ctx, tx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, repairSQL, ids); err != nil {
		return nil, errors.Wrap(err, "repair used counts")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return out, nil
}

func drift(ctx context.Context, q querier) ([]redemption.Drift, error) {
	rows, err := q.Query(ctx, driftSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query drift")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (redemption.Drift, error) {
		var d redemption.Drift
		err := row.Scan(&d.CouponID, &d.Code, &d.UsedCount, &d.LiveUsages)
		return d, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect drift")
	}
	return out, nil
}
