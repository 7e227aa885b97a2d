package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const couponColumns = `id, code, description, discount_type, discount_value, max_discount,
	min_order_amount, max_usage, max_usage_per_user, used_count, start_date, end_date,
	applicable_products, applicable_categories, applicable_users, exclude_users,
	order_types, payment_methods, cities, postal_codes, address_classes,
	priority, can_stack_with, cannot_stack_with, is_active, created_at, updated_at`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	getCouponByIDSQL   = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listActiveCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
	WHERE is_active AND start_date <= $1 AND end_date >= $1
	ORDER BY code`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	updateCouponSQL = `UPDATE coupons SET
		code = $2, description = $3, discount_type = $4, discount_value = $5,
		max_discount = $6, min_order_amount = $7, max_usage = $8, max_usage_per_user = $9,
		start_date = $10, end_date = $11,
		applicable_products = $12, applicable_categories = $13,
		applicable_users = $14, exclude_users = $15,
		order_types = $16, payment_methods = $17,
		cities = $18, postal_codes = $19, address_classes = $20,
		priority = $21, can_stack_with = $22, cannot_stack_with = $23,
		is_active = $24, updated_at = $25
	WHERE id = $1`

	deleteCouponSQL    = `DELETE FROM coupons WHERE id = $1`
	setCouponActiveSQL = `UPDATE coupons SET is_active = $2, updated_at = $3 WHERE id = $1`

	userUsageCountsSQL = `SELECT coupon_id, COUNT(*) FROM coupon_usages
	WHERE user_id = $1 AND coupon_id = ANY($2)
	GROUP BY coupon_id`
)

var (
	_ coupon.Catalog     = (*CouponRepository)(nil)
	_ coupon.Store       = (*CouponRepository)(nil)
	_ coupon.UsageReader = (*CouponRepository)(nil)
)

// CouponRepository serves coupon definitions and per-user usage counts.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return getCoupon(ctx, r.pool, getCouponByCodeSQL, coupon.NormalizeCode(code))
}

// GetByID looks up a coupon by id.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return getCoupon(ctx, r.pool, getCouponByIDSQL, id)
}

// ListActive returns active coupons whose window contains now.
func (r *CouponRepository) ListActive(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL, now)
	if err != nil {
		return nil, errors.Wrap(err, "query active coupons")
	}
	out, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "collect active coupons")
	}
	return out, nil
}

// Create inserts a new coupon definition.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.Description, string(c.DiscountType), c.Value, c.MaxDiscount,
		c.MinOrderAmount, c.MaxUsage, c.MaxUsagePerUser, c.UsedCount, c.StartDate, c.EndDate,
		nonNil(c.ApplicableProducts), nonNil(c.ApplicableCategories),
		nonNil(c.ApplicableUsers), nonNil(c.ExcludeUsers),
		orderTypeStrings(c.Targeting.OrderTypes), nonNil(c.Targeting.PaymentMethods),
		nonNil(c.SpecialDiscount.Cities), nonNil(c.SpecialDiscount.PostalCodes),
		nonNil(c.SpecialDiscount.AddressClasses),
		c.Priority, nonNil(c.CanStackWith), nonNil(c.CannotStackWith),
		c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "insert coupon %q", c.Code)
	}
	return nil
}

// Update rewrites the definition. used_count and created_at are left alone.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Description, string(c.DiscountType), c.Value,
		c.MaxDiscount, c.MinOrderAmount, c.MaxUsage, c.MaxUsagePerUser,
		c.StartDate, c.EndDate,
		nonNil(c.ApplicableProducts), nonNil(c.ApplicableCategories),
		nonNil(c.ApplicableUsers), nonNil(c.ExcludeUsers),
		orderTypeStrings(c.Targeting.OrderTypes), nonNil(c.Targeting.PaymentMethods),
		nonNil(c.SpecialDiscount.Cities), nonNil(c.SpecialDiscount.PostalCodes),
		nonNil(c.SpecialDiscount.AddressClasses),
		c.Priority, nonNil(c.CanStackWith), nonNil(c.CannotStackWith),
		c.IsActive, c.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return coupon.ErrDuplicateCode
		}
		return errors.Wrapf(err, "update coupon %q", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponNotFound
	}
	return nil
}

// Delete removes a coupon. The usage foreign key rejects coupons that have
// been redeemed.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return coupon.ErrCouponInUse
		}
		return errors.Wrapf(err, "delete coupon %q", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponNotFound
	}
	return nil
}

// SetActive toggles the active flag.
func (r *CouponRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	tag, err := r.pool.Exec(ctx, setCouponActiveSQL, id, active, at)
	if err != nil {
		return errors.Wrapf(err, "set coupon %q active", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponNotFound
	}
	return nil
}

// UserUsageCounts counts the user's live usage rows per coupon.
func (r *CouponRepository) UserUsageCounts(ctx context.Context, userID string, couponIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(couponIDs))
	if len(couponIDs) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, userUsageCountsSQL, userID, couponIDs)
	if err != nil {
		return nil, errors.Wrap(err, "query user usage counts")
	}
	var (
		id string
		n  int
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &n}, func() error {
		out[id] = n
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan user usage counts")
	}
	return out, nil
}

func getCoupon(ctx context.Context, q querier, sql, arg string) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query coupon")
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, errors.Wrapf(err, "get coupon %q", arg)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		orderTypes   []string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.Value, &c.MaxDiscount,
		&c.MinOrderAmount, &c.MaxUsage, &c.MaxUsagePerUser, &c.UsedCount, &c.StartDate, &c.EndDate,
		&c.ApplicableProducts, &c.ApplicableCategories, &c.ApplicableUsers, &c.ExcludeUsers,
		&orderTypes, &c.Targeting.PaymentMethods,
		&c.SpecialDiscount.Cities, &c.SpecialDiscount.PostalCodes, &c.SpecialDiscount.AddressClasses,
		&c.Priority, &c.CanStackWith, &c.CannotStackWith, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return coupon.Coupon{}, err
	}
	c.DiscountType = coupon.DiscountType(discountType)
	for _, t := range orderTypes {
		c.Targeting.OrderTypes = append(c.Targeting.OrderTypes, coupon.OrderType(t))
	}
	return c, nil
}

func orderTypeStrings(types []coupon.OrderType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
