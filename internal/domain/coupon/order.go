package coupon

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// OrderType is the fulfilment mode of an order.
type OrderType string

const (
	OrderDelivery OrderType = "delivery"
	OrderPickup   OrderType = "pickup"
	OrderDineIn   OrderType = "dine_in"
)

// Item is an order line as seen by the engine.
type Item struct {
	ProductID  string
	CategoryID string
	Quantity   int
	Price      decimal.Decimal
}

// LineTotal returns price * quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is the delivery address fields coupons may target.
type Address struct {
	City       string
	PostalCode string
	Class      string
}

// OrderContext is the validated order snapshot used for eligibility and
// discount calculation. Build it with NewOrderContext.
type OrderContext struct {
	OrderID         string
	Subtotal        decimal.Decimal
	Items           []Item
	OrderType       OrderType
	PaymentMethod   string
	DeliveryAddress Address
}

// Order context validation errors.
var (
	ErrInvalidOrder = errors.New("invalid order context")
)

// OrderInput is the unvalidated order data received at the boundary.
type OrderInput struct {
	OrderID         string
	Subtotal        *decimal.Decimal
	Items           []Item
	OrderType       string
	PaymentMethod   string
	DeliveryAddress Address
}

// NewOrderContext validates in and returns an OrderContext. When the subtotal
// is omitted it is computed from the items.
func NewOrderContext(in OrderInput) (OrderContext, error) {
	oc := OrderContext{
		OrderID:       strings.TrimSpace(in.OrderID),
		OrderType:     OrderType(strings.ToLower(strings.TrimSpace(in.OrderType))),
		PaymentMethod: strings.ToLower(strings.TrimSpace(in.PaymentMethod)),
		DeliveryAddress: Address{
			City:       strings.TrimSpace(in.DeliveryAddress.City),
			PostalCode: strings.TrimSpace(in.DeliveryAddress.PostalCode),
			Class:      strings.ToLower(strings.TrimSpace(in.DeliveryAddress.Class)),
		},
	}

	switch oc.OrderType {
	case "", OrderDelivery, OrderPickup, OrderDineIn:
	default:
		return OrderContext{}, errors.Wrapf(ErrInvalidOrder, "unknown order type %q", in.OrderType)
	}

	itemsTotal := decimal.Zero
	oc.Items = make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == "" {
			return OrderContext{}, errors.Wrap(ErrInvalidOrder, "item product id is required")
		}
		if it.Quantity <= 0 {
			return OrderContext{}, errors.Wrapf(ErrInvalidOrder, "quantity must be greater than 0 for product %s", it.ProductID)
		}
		if it.Price.IsNegative() {
			return OrderContext{}, errors.Wrapf(ErrInvalidOrder, "price must not be negative for product %s", it.ProductID)
		}
		oc.Items = append(oc.Items, it)
		itemsTotal = itemsTotal.Add(it.LineTotal())
	}

	if in.Subtotal != nil {
		if in.Subtotal.IsNegative() {
			return OrderContext{}, errors.Wrap(ErrInvalidOrder, "subtotal must not be negative")
		}
		oc.Subtotal = *in.Subtotal
	} else {
		oc.Subtotal = itemsTotal
	}

	return oc, nil
}

// ProductIDs returns the distinct product ids in the order.
func (o *OrderContext) ProductIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

// needsCategories reports whether any item lacks a category id.
func (o *OrderContext) needsCategories() bool {
	for _, it := range o.Items {
		if it.CategoryID == "" {
			return true
		}
	}
	return false
}

// withCategories fills missing item categories from the given map.
func (o *OrderContext) withCategories(categories map[string]string) {
	for i := range o.Items {
		if o.Items[i].CategoryID == "" {
			o.Items[i].CategoryID = categories[o.Items[i].ProductID]
		}
	}
}
