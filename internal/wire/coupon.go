package wire

import (
	"github.com/go-faster/jx"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// EncodeCoupon writes c as a JSON object.
func EncodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	CouponFields(e, c)
	e.ObjEnd()
}

// CouponFields writes the fields of c into an object the caller has opened.
func CouponFields(e *jx.Encoder, c *coupon.Coupon) {
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	Decimal(e, c.Value)
	if c.MaxDiscount.Valid {
		e.FieldStart("maxDiscount")
		Money(e, c.MaxDiscount.Decimal)
	}
	e.FieldStart("minOrderAmount")
	Money(e, c.MinOrderAmount)
	e.FieldStart("maxUsage")
	if c.MaxUsage != nil {
		e.Int(*c.MaxUsage)
	} else {
		e.Null()
	}
	e.FieldStart("maxUsagePerUser")
	e.Int(c.MaxUsagePerUser)
	e.FieldStart("usedCount")
	e.Int(c.UsedCount)
	e.FieldStart("startDate")
	Time(e, c.StartDate)
	e.FieldStart("endDate")
	Time(e, c.EndDate)

	e.FieldStart("applicableProducts")
	Strings(e, c.ApplicableProducts)
	e.FieldStart("applicableCategories")
	Strings(e, c.ApplicableCategories)
	e.FieldStart("applicableUsers")
	Strings(e, c.ApplicableUsers)
	e.FieldStart("excludeUsers")
	Strings(e, c.ExcludeUsers)

	e.FieldStart("targeting")
	e.ObjStart()
	e.FieldStart("orderTypes")
	e.ArrStart()
	for _, t := range c.Targeting.OrderTypes {
		e.Str(string(t))
	}
	e.ArrEnd()
	e.FieldStart("paymentMethods")
	Strings(e, c.Targeting.PaymentMethods)
	e.ObjEnd()

	e.FieldStart("specialDiscount")
	e.ObjStart()
	e.FieldStart("cities")
	Strings(e, c.SpecialDiscount.Cities)
	e.FieldStart("postalCodes")
	Strings(e, c.SpecialDiscount.PostalCodes)
	e.FieldStart("addressClasses")
	Strings(e, c.SpecialDiscount.AddressClasses)
	e.ObjEnd()

	e.FieldStart("priority")
	e.Int(c.Priority)
	e.FieldStart("canStackWith")
	Strings(e, c.CanStackWith)
	e.FieldStart("cannotStackWith")
	Strings(e, c.CannotStackWith)
	e.FieldStart("isActive")
	e.Bool(c.IsActive)
	if !c.CreatedAt.IsZero() {
		e.FieldStart("createdAt")
		Time(e, c.CreatedAt)
	}
	if !c.UpdatedAt.IsZero() {
		e.FieldStart("updatedAt")
		Time(e, c.UpdatedAt)
	}
}

// DecodeCoupon reads a coupon definition. Unknown fields are skipped and an
// omitted isActive defaults to true.
func DecodeCoupon(d *jx.Decoder) (*coupon.Coupon, error) {
	c := &coupon.Coupon{IsActive: true}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "code":
			c.Code, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			c.DiscountType = coupon.DiscountType(s)
		case "discountValue":
			c.Value, err = DecodeDecimal(d)
		case "maxDiscount":
			if d.Next() == jx.Null {
				err = d.Null()
				break
			}
			c.MaxDiscount.Decimal, err = DecodeDecimal(d)
			c.MaxDiscount.Valid = err == nil
		case "minOrderAmount":
			c.MinOrderAmount, err = DecodeDecimal(d)
		case "maxUsage":
			if d.Next() == jx.Null {
				err = d.Null()
				break
			}
			var n int
			n, err = d.Int()
			c.MaxUsage = &n
		case "maxUsagePerUser":
			c.MaxUsagePerUser, err = d.Int()
		case "usedCount":
			c.UsedCount, err = d.Int()
		case "startDate":
			c.StartDate, err = DecodeTime(d)
		case "endDate":
			c.EndDate, err = DecodeTime(d)
		case "applicableProducts":
			c.ApplicableProducts, err = DecodeStrings(d)
		case "applicableCategories":
			c.ApplicableCategories, err = DecodeStrings(d)
		case "applicableUsers":
			c.ApplicableUsers, err = DecodeStrings(d)
		case "excludeUsers":
			c.ExcludeUsers, err = DecodeStrings(d)
		case "targeting":
			err = decodeTargeting(d, &c.Targeting)
		case "specialDiscount":
			err = decodeSpecialDiscount(d, &c.SpecialDiscount)
		case "priority":
			c.Priority, err = d.Int()
		case "canStackWith":
			c.CanStackWith, err = DecodeStrings(d)
		case "cannotStackWith":
			c.CannotStackWith, err = DecodeStrings(d)
		case "isActive":
			c.IsActive, err = d.Bool()
		case "createdAt":
			c.CreatedAt, err = DecodeTime(d)
		case "updatedAt":
			c.UpdatedAt, err = DecodeTime(d)
		default:
			err = d.Skip()
		}
		return field(key, err)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func decodeTargeting(d *jx.Decoder, t *coupon.Targeting) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "orderTypes":
			types, err := DecodeStrings(d)
			for _, s := range types {
				t.OrderTypes = append(t.OrderTypes, coupon.OrderType(s))
			}
			return field(key, err)
		case "paymentMethods":
			var err error
			t.PaymentMethods, err = DecodeStrings(d)
			return field(key, err)
		default:
			return d.Skip()
		}
	})
}

func decodeSpecialDiscount(d *jx.Decoder, s *coupon.SpecialDiscount) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "cities":
			s.Cities, err = DecodeStrings(d)
		case "postalCodes":
			s.PostalCodes, err = DecodeStrings(d)
		case "addressClasses":
			s.AddressClasses, err = DecodeStrings(d)
		default:
			err = d.Skip()
		}
		return field(key, err)
	})
}
