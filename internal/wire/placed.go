package wire

import (
	"github.com/go-faster/jx"

	"github.com/xenking/coupon-engine/internal/domain/order"
	"github.com/xenking/coupon-engine/internal/domain/product"
)

// DecodePlaceOrder reads a place-order request.
func DecodePlaceOrder(d *jx.Decoder) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			req.UserID, err = d.Str()
		case "couponCode":
			req.CouponCode, err = d.Str()
		case "orderType":
			req.OrderType, err = d.Str()
		case "paymentMethod":
			req.PaymentMethod, err = d.Str()
		case "deliveryAddress":
			req.DeliveryAddress, err = DecodeAddress(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var it order.OrderItem
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "productId":
						it.ProductID, err = d.Str()
					case "quantity":
						it.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return field(key, err)
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		default:
			err = d.Skip()
		}
		return field(key, err)
	})
	return req, err
}

// EncodeOrder writes an order.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		Money(e, it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()
	if o.OrderType != "" {
		e.FieldStart("orderType")
		e.Str(string(o.OrderType))
	}
	if o.PaymentMethod != "" {
		e.FieldStart("paymentMethod")
		e.Str(o.PaymentMethod)
	}
	e.FieldStart("deliveryAddress")
	EncodeAddress(e, o.DeliveryAddress)
	e.FieldStart("subtotal")
	Money(e, o.Subtotal)
	e.FieldStart("discount")
	Money(e, o.Discount)
	e.FieldStart("total")
	Money(e, o.Total)
	if o.CouponCode != "" {
		e.FieldStart("couponId")
		e.Str(o.CouponID)
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("createdAt")
	Time(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	Time(e, o.UpdatedAt)
	e.ObjEnd()
}

// EncodePlacedOrder writes a placed order with the products it references.
func EncodePlacedOrder(e *jx.Encoder, res *order.PlaceOrderResult) {
	e.ObjStart()
	e.FieldStart("order")
	EncodeOrder(e, res.Order)
	e.FieldStart("products")
	e.ArrStart()
	for _, p := range res.Products {
		EncodeProduct(e, p)
	}
	e.ArrEnd()
	if res.Redemption != nil {
		e.FieldStart("redemption")
		EncodeRedemption(e, res.Redemption)
	}
	e.ObjEnd()
}

// EncodeCancelledOrder writes a cancelled order with its reversal.
func EncodeCancelledOrder(e *jx.Encoder, res *order.CancelOrderResult) {
	e.ObjStart()
	e.FieldStart("order")
	EncodeOrder(e, res.Order)
	e.FieldStart("reversal")
	EncodeReversal(e, res.Reversal)
	e.ObjEnd()
}

// EncodeProduct writes a product.
func EncodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	Money(e, p.Price)
	e.FieldStart("categoryId")
	e.Str(p.CategoryID)
	e.ObjEnd()
}

// DecodeProduct reads a product.
func DecodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = DecodeDecimal(d)
		case "categoryId":
			p.CategoryID, err = d.Str()
		default:
			err = d.Skip()
		}
		return field(key, err)
	})
	return p, err
}
