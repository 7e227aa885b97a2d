package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/product"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrMissingUser     = errors.New("user id is required")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Is makes InvalidQuantityError match ErrInvalidQuantity.
func (e *InvalidQuantityError) Is(target error) bool {
	return target == ErrInvalidQuantity
}

// Redeemer commits and reverses coupon redemptions.
type Redeemer interface {
	Apply(ctx context.Context, req redemption.ApplyRequest) (*redemption.Redemption, error)
	Remove(ctx context.Context, orderID string) (*redemption.Reversal, error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID          string
	Items           []OrderItem
	CouponCode      string
	OrderType       string
	PaymentMethod   string
	DeliveryAddress coupon.Address
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order      *Order
	Products   []product.Product
	Redemption *redemption.Redemption
}

// CancelOrderResult holds the output of a cancellation.
type CancelOrderResult struct {
	Order    *Order
	Reversal *redemption.Reversal
}

// Service is the order lifecycle collaborator of the coupon engine: it
// redeems the coupon when an order is placed and reverses it on cancellation.
type Service struct {
	products product.Repository
	coupons  coupon.Catalog
	redeemer Redeemer
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	coupons coupon.Catalog,
	redeemer Redeemer,
	orders Repository,
) *Service {
	return &Service{
		products: products,
		coupons:  coupons,
		redeemer: redeemer,
		orders:   orders,
		now:      time.Now,
	}
}

// PlaceOrder validates items, fetches products in a single batch, redeems
// the coupon under the new order id and persists the order. If the order
// cannot be stored the redemption is reversed.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	// Validate quantities and collect product IDs.
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Verify every requested product was found and price the lines.
	products := make([]product.Product, 0, len(req.Items))
	lines := make([]OrderItem, len(req.Items))
	couponItems := make([]coupon.Item, len(req.Items))
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products = append(products, p)
		lines[i] = OrderItem{ProductID: p.ID, Quantity: item.Quantity, Price: p.Price}
		couponItems[i] = coupon.Item{
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			Quantity:   item.Quantity,
			Price:      p.Price,
		}
	}

	orderID := uuid.NewString()
	oc, err := coupon.NewOrderContext(coupon.OrderInput{
		OrderID:         orderID,
		Items:           couponItems,
		OrderType:       req.OrderType,
		PaymentMethod:   req.PaymentMethod,
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:              orderID,
		UserID:          req.UserID,
		Items:           lines,
		OrderType:       oc.OrderType,
		PaymentMethod:   oc.PaymentMethod,
		DeliveryAddress: oc.DeliveryAddress,
		Subtotal:        oc.Subtotal.Round(2),
		Discount:        decimal.Zero,
		Status:          StatusPlaced,
	}

	// Redeem the coupon when a code is provided.
	var red *redemption.Redemption
	if code := coupon.NormalizeCode(req.CouponCode); code != "" {
		c, err := s.coupons.FindByCode(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "find coupon")
		}
		red, err = s.redeemer.Apply(ctx, redemption.ApplyRequest{
			CouponID: c.ID,
			UserID:   req.UserID,
			OrderID:  orderID,
			Order:    oc,
		})
		if err != nil {
			return nil, errors.Wrap(err, "redeem coupon")
		}
		o.CouponID = red.Coupon.ID
		o.CouponCode = red.Coupon.Code
		o.Discount = red.Discount.Amount
	}

	// Total = subtotal - discount, floored at zero and rounded to 2 decimal places.
	total := o.Subtotal.Sub(o.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total.Round(2)

	now := s.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now

	if err := s.orders.Create(ctx, o); err != nil {
		if red != nil {
			s.compensate(ctx, orderID)
		}
		return nil, errors.Wrap(err, "create order")
	}

	return &PlaceOrderResult{
		Order:      o,
		Products:   products,
		Redemption: red,
	}, nil
}

// compensate reverses a redemption whose order was never stored.
func (s *Service) compensate(ctx context.Context, orderID string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.redeemer.Remove(ctx, orderID); err != nil {
		zctx.From(ctx).Error("Failed to reverse redemption of unsaved order",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

// CancelOrder marks the order cancelled and reverses its coupon redemption.
// Cancelling an already cancelled order only retries the reversal.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*CancelOrderResult, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	if o.Status != StatusCancelled {
		now := s.now().UTC()
		moved, err := s.orders.Transition(ctx, o.ID, o.Status, StatusCancelled, now)
		if err != nil {
			return nil, errors.Wrap(err, "cancel order")
		}
		if moved {
			o.Status = StatusCancelled
			o.UpdatedAt = now
		} else if o, err = s.orders.Get(ctx, orderID); err != nil {
			return nil, errors.Wrap(err, "get order")
		}
	}

	rev, err := s.redeemer.Remove(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reverse redemption")
	}

	return &CancelOrderResult{Order: o, Reversal: rev}, nil
}
