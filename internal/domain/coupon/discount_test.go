package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name    string
		coupon  Coupon
		amount  string
		want    string
		wantCap Cap
		wantRaw string
		wantWhy Reason
	}{
		{
			name:    "percentage",
			coupon:  Coupon{DiscountType: DiscountPercentage, Value: dec("10")},
			amount:  "250",
			want:    "25",
			wantRaw: "25",
		},
		{
			name: "percentage capped by max discount",
			coupon: Coupon{
				DiscountType: DiscountPercentage,
				Value:        dec("20"),
				MaxDiscount:  decimal.NewNullDecimal(dec("100")),
			},
			amount:  "1000",
			want:    "100",
			wantRaw: "200",
			wantCap: CapMaxDiscount,
		},
		{
			name: "max discount above computed amount is not applied",
			coupon: Coupon{
				DiscountType: DiscountPercentage,
				Value:        dec("20"),
				MaxDiscount:  decimal.NewNullDecimal(dec("100")),
			},
			amount:  "300",
			want:    "60",
			wantRaw: "60",
		},
		{
			name:    "hundred percent equals order amount",
			coupon:  Coupon{DiscountType: DiscountPercentage, Value: dec("100")},
			amount:  "42.42",
			want:    "42.42",
			wantRaw: "42.42",
		},
		{
			name:    "fixed",
			coupon:  Coupon{DiscountType: DiscountFixed, Value: dec("50")},
			amount:  "80",
			want:    "50",
			wantRaw: "50",
		},
		{
			name:    "fixed clamped to order amount",
			coupon:  Coupon{DiscountType: DiscountFixed, Value: dec("50")},
			amount:  "30",
			want:    "30",
			wantRaw: "50",
			wantCap: CapOrderAmount,
		},
		{
			name:    "rounds half up once at the end",
			coupon:  Coupon{DiscountType: DiscountPercentage, Value: dec("12.5")},
			amount:  "10.02",
			want:    "1.25",
			wantRaw: "1.2525",
		},
		{
			name:    "rounds half up on exact half cent",
			coupon:  Coupon{DiscountType: DiscountPercentage, Value: dec("15")},
			amount:  "0.1",
			want:    "0.02",
			wantRaw: "0.015",
		},
		{
			name:    "below min order",
			coupon:  Coupon{DiscountType: DiscountFixed, Value: dec("10"), MinOrderAmount: dec("200")},
			amount:  "199.99",
			want:    "0",
			wantRaw: "0",
			wantWhy: ReasonMinOrderNotMet,
		},
		{
			name:    "at min order",
			coupon:  Coupon{DiscountType: DiscountFixed, Value: dec("10"), MinOrderAmount: dec("200")},
			amount:  "200",
			want:    "10",
			wantRaw: "10",
		},
		{
			name:    "zero order",
			coupon:  Coupon{DiscountType: DiscountFixed, Value: dec("10")},
			amount:  "0",
			want:    "0",
			wantRaw: "10",
			wantCap: CapOrderAmount,
		},
		{
			name:    "unsupported type",
			coupon:  Coupon{DiscountType: "bogo", Value: dec("10")},
			amount:  "100",
			want:    "0",
			wantRaw: "0",
			wantWhy: ReasonUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(&tt.coupon, dec(tt.amount), nil)
			assert.True(t, dec(tt.want).Equal(got.Amount), "amount: want %s, got %s", tt.want, got.Amount)
			assert.True(t, got.Amount.Equal(got.Breakdown.Final))
			assert.True(t, dec(tt.wantRaw).Equal(got.Breakdown.Raw), "raw: want %s, got %s", tt.wantRaw, got.Breakdown.Raw)
			assert.Equal(t, tt.wantCap, got.Breakdown.CapApplied)
			assert.Equal(t, tt.wantWhy, got.Reason)
		})
	}
}

func TestCalculate_Deterministic(t *testing.T) {
	c := &Coupon{
		DiscountType:       DiscountPercentage,
		Value:              dec("17.5"),
		MaxDiscount:        decimal.NewNullDecimal(dec("30")),
		ApplicableProducts: []string{"p1"},
	}
	items := []Item{
		{ProductID: "p1", Quantity: 3, Price: dec("19.99")},
		{ProductID: "p2", Quantity: 1, Price: dec("5")},
	}

	first := Calculate(c, dec("64.97"), items)
	for range 100 {
		got := Calculate(c, dec("64.97"), items)
		require.True(t, first.Amount.Equal(got.Amount))
		require.True(t, first.Breakdown.Raw.Equal(got.Breakdown.Raw))
		require.True(t, first.Breakdown.ScopedAmount.Equal(got.Breakdown.ScopedAmount))
		require.Equal(t, first.Breakdown.CapApplied, got.Breakdown.CapApplied)
	}
}

func TestCalculate_ScopedAmount(t *testing.T) {
	c := &Coupon{
		DiscountType:         DiscountFixed,
		Value:                dec("5"),
		ApplicableCategories: []string{"fruit"},
	}
	items := []Item{
		{ProductID: "p1", CategoryID: "fruit", Quantity: 2, Price: dec("3.50")},
		{ProductID: "p2", CategoryID: "dairy", Quantity: 1, Price: dec("10")},
		{ProductID: "p3", CategoryID: "fruit", Quantity: 1, Price: dec("1")},
	}

	got := Calculate(c, dec("18"), items)
	assert.True(t, dec("8").Equal(got.Breakdown.ScopedAmount), "got %s", got.Breakdown.ScopedAmount)
	assert.True(t, dec("5").Equal(got.Amount))
}
