package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPlaced    Status = "placed"
	StatusCancelled Status = "cancelled"
)

// Order is a placed customer order with its pricing and coupon details.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	OrderType       coupon.OrderType
	PaymentMethod   string
	DeliveryAddress coupon.Address
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	CouponID        string
	CouponCode      string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a single line of an order. Price is filled from the product
// directory when the order is placed.
type OrderItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	// Get returns coupon.ErrOrderNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Order, error)
	// Transition moves the order from one status to another. It reports false
	// when the order is not in the from status.
	Transition(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
}
