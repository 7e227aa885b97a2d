package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// baseCoupon returns an active, unrestricted 10% coupon valid around fixedNow.
func baseCoupon() *Coupon {
	return &Coupon{
		ID:              "c1",
		Code:            "SAVE10",
		DiscountType:    DiscountPercentage,
		Value:           decimal.NewFromInt(10),
		MaxUsagePerUser: 1,
		StartDate:       fixedNow.Add(-24 * time.Hour),
		EndDate:         fixedNow.Add(24 * time.Hour),
		IsActive:        true,
	}
}

func baseOrder(subtotal string) *OrderContext {
	return &OrderContext{
		OrderID:       "o1",
		Subtotal:      dec(subtotal),
		OrderType:     OrderDelivery,
		PaymentMethod: "card",
		DeliveryAddress: Address{
			City:       "Lisbon",
			PostalCode: "1000-001",
			Class:      "residential",
		},
		Items: []Item{
			{ProductID: "p1", CategoryID: "fruit", Quantity: 1, Price: dec(subtotal)},
		},
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	ev := NewEvaluatorAt(func() time.Time { return fixedNow })

	tests := []struct {
		name       string
		mutate     func(c *Coupon, o *OrderContext)
		userID     string
		userUsages int
		want       Reason
	}{
		{
			name: "eligible",
			want: ReasonNone,
		},
		{
			name:   "inactive",
			mutate: func(c *Coupon, _ *OrderContext) { c.IsActive = false },
			want:   ReasonNotActive,
		},
		{
			name:   "not started",
			mutate: func(c *Coupon, _ *OrderContext) { c.StartDate = fixedNow.Add(time.Minute) },
			want:   ReasonNotStarted,
		},
		{
			name:   "expired",
			mutate: func(c *Coupon, _ *OrderContext) { c.EndDate = fixedNow.Add(-time.Minute) },
			want:   ReasonExpired,
		},
		{
			name:   "end date is inclusive",
			mutate: func(c *Coupon, _ *OrderContext) { c.EndDate = fixedNow },
			want:   ReasonNone,
		},
		{
			name: "global cap reached",
			mutate: func(c *Coupon, _ *OrderContext) {
				c.MaxUsage = intPtr(5)
				c.UsedCount = 5
			},
			want: ReasonUsageCapReached,
		},
		{
			name: "global cap not reached",
			mutate: func(c *Coupon, _ *OrderContext) {
				c.MaxUsage = intPtr(5)
				c.UsedCount = 4
			},
			want: ReasonNone,
		},
		{
			name:       "per user cap reached",
			userUsages: 1,
			want:       ReasonPerUserCapReached,
		},
		{
			name:       "per user cap above one",
			mutate:     func(c *Coupon, _ *OrderContext) { c.MaxUsagePerUser = 3 },
			userUsages: 2,
			want:       ReasonNone,
		},
		{
			name:       "zero per user cap defaults to one",
			mutate:     func(c *Coupon, _ *OrderContext) { c.MaxUsagePerUser = 0 },
			userUsages: 1,
			want:       ReasonPerUserCapReached,
		},
		{
			name:   "user excluded",
			mutate: func(c *Coupon, _ *OrderContext) { c.ExcludeUsers = []string{"u1"} },
			want:   ReasonUserExcluded,
		},
		{
			name: "exclusion wins over allow list",
			mutate: func(c *Coupon, _ *OrderContext) {
				c.ExcludeUsers = []string{"u1"}
				c.ApplicableUsers = []string{"u1"}
			},
			want: ReasonUserExcluded,
		},
		{
			name:   "user not in allow list",
			mutate: func(c *Coupon, _ *OrderContext) { c.ApplicableUsers = []string{"u2"} },
			want:   ReasonUserNotAllowed,
		},
		{
			name:   "order type mismatch",
			mutate: func(c *Coupon, _ *OrderContext) { c.Targeting.OrderTypes = []OrderType{OrderPickup} },
			want:   ReasonContextMismatch,
		},
		{
			name:   "payment method matches case-insensitively",
			mutate: func(c *Coupon, _ *OrderContext) { c.Targeting.PaymentMethods = []string{"CARD"} },
			want:   ReasonNone,
		},
		{
			name:   "payment method mismatch",
			mutate: func(c *Coupon, _ *OrderContext) { c.Targeting.PaymentMethods = []string{"cash"} },
			want:   ReasonContextMismatch,
		},
		{
			name:   "city mismatch",
			mutate: func(c *Coupon, _ *OrderContext) { c.SpecialDiscount.Cities = []string{"Porto"} },
			want:   ReasonContextMismatch,
		},
		{
			name:   "address class mismatch",
			mutate: func(c *Coupon, _ *OrderContext) { c.SpecialDiscount.AddressClasses = []string{"office"} },
			want:   ReasonContextMismatch,
		},
		{
			name:   "postal code match",
			mutate: func(c *Coupon, _ *OrderContext) { c.SpecialDiscount.PostalCodes = []string{"1000-001"} },
			want:   ReasonNone,
		},
		{
			name:   "product restriction not met",
			mutate: func(c *Coupon, _ *OrderContext) { c.ApplicableProducts = []string{"p9"} },
			want:   ReasonProductCategoryMismatch,
		},
		{
			name:   "category restriction met",
			mutate: func(c *Coupon, _ *OrderContext) { c.ApplicableCategories = []string{"fruit"} },
			want:   ReasonNone,
		},
		{
			name: "product and category restrictions both required",
			mutate: func(c *Coupon, _ *OrderContext) {
				c.ApplicableProducts = []string{"p1"}
				c.ApplicableCategories = []string{"dairy"}
			},
			want: ReasonProductCategoryMismatch,
		},
		{
			name: "product and category restrictions met by different items",
			mutate: func(c *Coupon, o *OrderContext) {
				c.ApplicableProducts = []string{"p1"}
				c.ApplicableCategories = []string{"dairy"}
				o.Items = append(o.Items, Item{ProductID: "p2", CategoryID: "dairy", Quantity: 1, Price: dec("1")})
			},
			want: ReasonNone,
		},
		{
			name:   "item without category never matches a category restriction",
			mutate: func(c *Coupon, o *OrderContext) { c.ApplicableCategories = []string{""}; o.Items[0].CategoryID = "" },
			want:   ReasonProductCategoryMismatch,
		},
		{
			name:   "min order met at boundary",
			mutate: func(c *Coupon, o *OrderContext) { c.MinOrderAmount = dec("200"); o.Subtotal = dec("200") },
			want:   ReasonNone,
		},
		{
			name:   "min order not met",
			mutate: func(c *Coupon, o *OrderContext) { c.MinOrderAmount = dec("200"); o.Subtotal = dec("199.99") },
			want:   ReasonMinOrderNotMet,
		},
		{
			name: "earlier checks short-circuit",
			mutate: func(c *Coupon, o *OrderContext) {
				c.EndDate = fixedNow.Add(-time.Minute)
				c.MinOrderAmount = dec("500")
			},
			userUsages: 3,
			want:       ReasonExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, o := baseCoupon(), baseOrder("250")
			if tt.mutate != nil {
				tt.mutate(c, o)
			}
			userID := tt.userID
			if userID == "" {
				userID = "u1"
			}

			got := ev.Evaluate(EligibilityInput{
				UserID:     userID,
				Coupon:     c,
				Order:      o,
				UserUsages: tt.userUsages,
			})
			assert.Equal(t, tt.want, got.Reason)
			assert.Equal(t, tt.want == ReasonNone, got.Eligible())
		})
	}
}

func TestCoupon_Status(t *testing.T) {
	c := baseCoupon()
	assert.Equal(t, StatusActive, c.Status(fixedNow))
	assert.True(t, c.IsValid(fixedNow))
	assert.Equal(t, StatusScheduled, c.Status(c.StartDate.Add(-time.Second)))
	assert.Equal(t, StatusExpired, c.Status(c.EndDate.Add(time.Second)))

	c.MaxUsage = intPtr(2)
	c.UsedCount = 2
	assert.Equal(t, StatusExhausted, c.Status(fixedNow))
	assert.Equal(t, 0, c.RemainingUses())

	// Raising the cap makes an exhausted coupon active again.
	c.MaxUsage = intPtr(3)
	assert.Equal(t, StatusActive, c.Status(fixedNow))
	assert.Equal(t, 1, c.RemainingUses())

	c.IsActive = false
	assert.Equal(t, StatusDeactivated, c.Status(fixedNow))
	assert.False(t, c.IsValid(fixedNow))
}

func TestCoupon_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Coupon)
		wantField string
	}{
		{name: "valid"},
		{name: "missing code", mutate: func(c *Coupon) { c.Code = "  " }, wantField: "code"},
		{name: "unknown type", mutate: func(c *Coupon) { c.DiscountType = "bogo" }, wantField: "discountType"},
		{name: "zero value", mutate: func(c *Coupon) { c.Value = decimal.Zero }, wantField: "discountValue"},
		{name: "percentage over 100", mutate: func(c *Coupon) { c.Value = dec("100.01") }, wantField: "discountValue"},
		{
			name: "max discount on fixed coupon",
			mutate: func(c *Coupon) {
				c.DiscountType = DiscountFixed
				c.MaxDiscount = decimal.NewNullDecimal(dec("5"))
			},
			wantField: "maxDiscount",
		},
		{name: "negative cap", mutate: func(c *Coupon) { c.MaxUsage = intPtr(-1) }, wantField: "maxUsage"},
		{name: "end before start", mutate: func(c *Coupon) { c.EndDate = c.StartDate.Add(-time.Hour) }, wantField: "endDate"},
		{name: "stacks with itself", mutate: func(c *Coupon) { c.CanStackWith = []string{c.ID} }, wantField: "canStackWith"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseCoupon()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			c.Normalize()
			err := c.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidDefinition)
			var de *DefinitionError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.wantField, de.Field)
		})
	}
}

func TestNewOrderContext(t *testing.T) {
	t.Run("subtotal computed from items", func(t *testing.T) {
		oc, err := NewOrderContext(OrderInput{
			OrderType: " Delivery ",
			Items: []Item{
				{ProductID: "p1", Quantity: 2, Price: dec("10.25")},
				{ProductID: "p2", Quantity: 1, Price: dec("4.50")},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, OrderDelivery, oc.OrderType)
		assert.True(t, dec("25").Equal(oc.Subtotal), "got %s", oc.Subtotal)
	})

	t.Run("explicit subtotal wins", func(t *testing.T) {
		sub := dec("99")
		oc, err := NewOrderContext(OrderInput{Subtotal: &sub})
		require.NoError(t, err)
		assert.True(t, sub.Equal(oc.Subtotal))
	})

	bad := []struct {
		name string
		in   OrderInput
	}{
		{name: "unknown order type", in: OrderInput{OrderType: "drone"}},
		{name: "missing product id", in: OrderInput{Items: []Item{{Quantity: 1}}}},
		{name: "zero quantity", in: OrderInput{Items: []Item{{ProductID: "p1"}}}},
		{name: "negative price", in: OrderInput{Items: []Item{{ProductID: "p1", Quantity: 1, Price: dec("-1")}}}},
		{name: "negative subtotal", in: func() OrderInput {
			sub := dec("-1")
			return OrderInput{Subtotal: &sub}
		}()},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrderContext(tt.in)
			require.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestReasonOf(t *testing.T) {
	err := Ineligible("SAVE10", ReasonExpired)
	r, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonExpired, r)
	assert.NotEmpty(t, r.Message())

	_, ok = ReasonOf(ErrCouponNotFound)
	assert.False(t, ok)
}
