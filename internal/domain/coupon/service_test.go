package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCatalog struct {
	coupons []*Coupon
	err     error
}

func (m *mockCatalog) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, c := range m.coupons {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCouponNotFound
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*Coupon, error) {
	for _, c := range m.coupons {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCouponNotFound
}

func (m *mockCatalog) ListActive(_ context.Context, now time.Time) ([]Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []Coupon
	for _, c := range m.coupons {
		if c.IsActive && !now.Before(c.StartDate) && !now.After(c.EndDate) {
			out = append(out, *c)
		}
	}
	return out, nil
}

type mockUsages struct {
	counts map[string]int
	err    error
}

func (m *mockUsages) UserUsageCounts(_ context.Context, _ string, _ []string) (map[string]int, error) {
	return m.counts, m.err
}

type mockCategories struct {
	categories map[string]string
	calls      int
}

func (m *mockCategories) CategoriesByIDs(_ context.Context, _ []string) (map[string]string, error) {
	m.calls++
	return m.categories, nil
}

func newTestService(cat Catalog, usages UsageReader, categories CategoryResolver) *Service {
	return NewService(
		cat,
		usages,
		categories,
		NewEvaluatorAt(func() time.Time { return fixedNow }),
		NewResolver(DefaultMaxExhaustive),
	)
}

func TestService_Validate(t *testing.T) {
	minOrder := baseCoupon()
	minOrder.ID, minOrder.Code = "c2", "MIN200"
	minOrder.MinOrderAmount = dec("200")

	cat := &mockCatalog{coupons: []*Coupon{baseCoupon(), minOrder}}

	tests := []struct {
		name       string
		code       string
		subtotal   string
		usages     map[string]int
		catErr     error
		wantAmount string
		wantErr    error
		wantReason Reason
	}{
		{
			name:       "valid code is normalized",
			code:       "  save10 ",
			subtotal:   "250",
			wantAmount: "25",
		},
		{
			name:     "blank code",
			code:     "   ",
			subtotal: "250",
			wantErr:  ErrMissingCode,
		},
		{
			name:     "unknown code",
			code:     "NOPE",
			subtotal: "250",
			wantErr:  ErrCouponNotFound,
		},
		{
			name:       "per user cap",
			code:       "SAVE10",
			subtotal:   "250",
			usages:     map[string]int{"c1": 1},
			wantReason: ReasonPerUserCapReached,
		},
		{
			name:       "min order boundary accepted",
			code:       "MIN200",
			subtotal:   "200",
			wantAmount: "20",
		},
		{
			name:       "min order boundary rejected",
			code:       "MIN200",
			subtotal:   "199.99",
			wantReason: ReasonMinOrderNotMet,
		},
		{
			name:     "storage failure is wrapped",
			code:     "SAVE10",
			subtotal: "250",
			catErr:   errors.New("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat.err = tt.catErr
			svc := newTestService(cat, &mockUsages{counts: tt.usages}, nil)

			q, err := svc.Validate(context.Background(), "u1", tt.code, *baseOrder(tt.subtotal))
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantReason != ReasonNone:
				reason, ok := ReasonOf(err)
				require.True(t, ok, "expected ineligible error, got %v", err)
				assert.Equal(t, tt.wantReason, reason)
			case tt.catErr != nil:
				require.ErrorIs(t, err, tt.catErr)
				_, ok := ReasonOf(err)
				assert.False(t, ok)
			default:
				require.NoError(t, err)
				assert.True(t, dec(tt.wantAmount).Equal(q.Discount.Amount), "got %s", q.Discount.Amount)
			}
		})
	}
}

func TestService_ListAvailable(t *testing.T) {
	eligible := baseCoupon()

	bigger := baseCoupon()
	bigger.ID, bigger.Code = "c2", "FIXED40"
	bigger.DiscountType = DiscountFixed
	bigger.Value = dec("40")

	minOrder := baseCoupon()
	minOrder.ID, minOrder.Code = "c3", "MIN500"
	minOrder.MinOrderAmount = dec("500")

	targeted := baseCoupon()
	targeted.ID, targeted.Code = "c4", "VIPONLY"
	targeted.ApplicableUsers = []string{"vip"}

	used := baseCoupon()
	used.ID, used.Code = "c5", "ONCE"

	expired := baseCoupon()
	expired.ID, expired.Code = "c6", "OLD"
	expired.EndDate = fixedNow.Add(-time.Hour)

	cat := &mockCatalog{coupons: []*Coupon{eligible, bigger, minOrder, targeted, used, expired}}
	svc := newTestService(cat, &mockUsages{counts: map[string]int{"c5": 1}}, nil)

	offers, err := svc.ListAvailable(context.Background(), "u1", *baseOrder("250"))
	require.NoError(t, err)

	codes := make([]string, len(offers))
	for i, o := range offers {
		codes[i] = o.Coupon.Code
	}
	assert.Equal(t, []string{"FIXED40", "SAVE10", "MIN500", "ONCE"}, codes)

	assert.True(t, offers[0].Eligible)
	assert.True(t, dec("40").Equal(offers[0].Discount.Amount))

	var below Offer
	for _, o := range offers {
		if o.Coupon.Code == "MIN500" {
			below = o
		}
	}
	assert.False(t, below.Eligible)
	assert.False(t, below.MeetsMinimum)
	assert.Equal(t, ReasonMinOrderNotMet, below.Reason)
	assert.True(t, below.Discount.Amount.IsZero())

	last := offers[len(offers)-1]
	assert.Equal(t, ReasonPerUserCapReached, last.Reason)
	assert.True(t, last.MeetsMinimum)
}

func TestService_Quote(t *testing.T) {
	a := baseCoupon()
	b := baseCoupon()
	b.ID, b.Code = "c2", "FIVE"
	b.DiscountType = DiscountFixed
	b.Value = dec("5")
	b.Priority = -1
	allowStack(a, b)

	c := baseCoupon()
	c.ID, c.Code = "c3", "FIFTY"
	c.DiscountType = DiscountFixed
	c.Value = dec("50")

	gone := baseCoupon()
	gone.ID, gone.Code = "c4", "GONE"
	gone.IsActive = false

	cat := &mockCatalog{coupons: []*Coupon{a, b, c, gone}}
	svc := newTestService(cat, &mockUsages{}, nil)

	t.Run("opted-in pair stacks", func(t *testing.T) {
		q, err := svc.Quote(context.Background(), "u1", []string{"five", "SAVE10", "save10"}, *baseOrder("100"))
		require.NoError(t, err)
		require.Len(t, q.Selected, 2)
		assert.Equal(t, "SAVE10", q.Selected[0].Coupon.Code)
		assert.True(t, dec("15").Equal(q.Total), "got %s", q.Total)
		assert.True(t, dec("85").Equal(q.Payable))
		assert.Empty(t, q.Excluded)
	})

	t.Run("conflicting and ineligible codes are excluded", func(t *testing.T) {
		q, err := svc.Quote(context.Background(), "u1", []string{"SAVE10", "FIFTY", "GONE"}, *baseOrder("100"))
		require.NoError(t, err)
		require.Len(t, q.Selected, 1)
		assert.Equal(t, "FIFTY", q.Selected[0].Coupon.Code)

		reasons := map[string]Reason{}
		for _, e := range q.Excluded {
			reasons[e.Coupon.Code] = e.Reason
		}
		assert.Equal(t, map[string]Reason{
			"SAVE10": ReasonStackingConflict,
			"GONE":   ReasonNotActive,
		}, reasons)
	})

	t.Run("no codes", func(t *testing.T) {
		_, err := svc.Quote(context.Background(), "u1", []string{" "}, *baseOrder("100"))
		require.ErrorIs(t, err, ErrMissingCode)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := svc.Quote(context.Background(), "u1", []string{"SAVE10", "NOPE"}, *baseOrder("100"))
		require.ErrorIs(t, err, ErrCouponNotFound)
	})
}

func TestService_ResolvesCategories(t *testing.T) {
	c := baseCoupon()
	c.ApplicableCategories = []string{"bakery"}

	cats := &mockCategories{categories: map[string]string{"p1": "bakery"}}
	svc := newTestService(&mockCatalog{coupons: []*Coupon{c}}, &mockUsages{}, cats)

	order := *baseOrder("100")
	order.Items[0].CategoryID = ""

	q, err := svc.Validate(context.Background(), "u1", "SAVE10", order)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(q.Discount.Amount))
	assert.Equal(t, 1, cats.calls)
	assert.Empty(t, order.Items[0].CategoryID, "caller items must not be modified")
}
