package wire

import (
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// DecodeOrderInput reads the order snapshot sent with preview and
// redemption requests.
func DecodeOrderInput(d *jx.Decoder) (coupon.OrderInput, error) {
	var in coupon.OrderInput
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			in.OrderID, err = d.Str()
		case "subtotal":
			if d.Next() == jx.Null {
				err = d.Null()
				break
			}
			var v decimal.Decimal
			if v, err = DecodeDecimal(d); err == nil {
				in.Subtotal = &v
			}
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				if err != nil {
					return err
				}
				in.Items = append(in.Items, it)
				return nil
			})
		case "orderType":
			in.OrderType, err = d.Str()
		case "paymentMethod":
			in.PaymentMethod, err = d.Str()
		case "deliveryAddress":
			in.DeliveryAddress, err = DecodeAddress(d)
		default:
			err = d.Skip()
		}
		return field(key, err)
	})
	return in, err
}

func decodeItem(d *jx.Decoder) (coupon.Item, error) {
	var it coupon.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			it.ProductID, err = d.Str()
		case "categoryId":
			it.CategoryID, err = d.Str()
		case "quantity":
			it.Quantity, err = d.Int()
		case "price":
			it.Price, err = DecodeDecimal(d)
		default:
			err = d.Skip()
		}
		return field(key, err)
	})
	return it, err
}

// DecodeAddress reads a delivery address. null yields the zero address.
func DecodeAddress(d *jx.Decoder) (coupon.Address, error) {
	var a coupon.Address
	if d.Next() == jx.Null {
		return a, d.Null()
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "city":
			a.City, err = d.Str()
		case "postalCode":
			a.PostalCode, err = d.Str()
		case "class":
			a.Class, err = d.Str()
		default:
			err = d.Skip()
		}
		return field(key, err)
	})
	return a, err
}

// EncodeAddress writes a delivery address.
func EncodeAddress(e *jx.Encoder, a coupon.Address) {
	e.ObjStart()
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("postalCode")
	e.Str(a.PostalCode)
	e.FieldStart("class")
	e.Str(a.Class)
	e.ObjEnd()
}
