package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
)

const orderColumns = `id, user_id, items, order_type, payment_method,
	delivery_city, delivery_postal_code, delivery_class,
	subtotal, discount, total, coupon_id, coupon_code, status, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	transitionOrderSQL = `UPDATE orders SET status = $3, updated_at = $4
	WHERE id = $1 AND status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items
// are stored as a JSONB array.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, encodeItems(o.Items), string(o.OrderType), o.PaymentMethod,
		o.DeliveryAddress.City, o.DeliveryAddress.PostalCode, o.DeliveryAddress.Class,
		o.Subtotal, o.Discount, o.Total, o.CouponID, o.CouponCode, string(o.Status),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}
	return nil
}

// Get returns coupon.ErrOrderNotFound for unknown ids.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

// Transition moves the order between statuses and reports whether it was in
// the from status.
func (r *OrderRepository) Transition(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, transitionOrderSQL, id, string(from), string(to), at)
	if err != nil {
		return false, errors.Wrapf(err, "transition order %q", id)
	}
	return tag.RowsAffected() == 1, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                 order.Order
		items             []byte
		orderType, status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &orderType, &o.PaymentMethod,
		&o.DeliveryAddress.City, &o.DeliveryAddress.PostalCode, &o.DeliveryAddress.Class,
		&o.Subtotal, &o.Discount, &o.Total, &o.CouponID, &o.CouponCode, &status,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	o.OrderType = coupon.OrderType(orderType)
	o.Status = order.Status(status)
	if o.Items, err = decodeItems(items); err != nil {
		return order.Order{}, errors.Wrapf(err, "decode items of order %q", o.ID)
	}
	return o, nil
}

func encodeItems(items []order.OrderItem) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Str(it.Price.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeItems(data []byte) ([]order.OrderItem, error) {
	var out []order.OrderItem
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var it order.OrderItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "product_id":
				it.ProductID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "price":
				var s string
				if s, err = d.Str(); err == nil {
					it.Price, err = decimal.NewFromString(s)
				}
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		out = append(out, it)
		return nil
	})
	return out, err
}
