package redemption_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
	"github.com/xenking/coupon-engine/internal/storage/memory"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func newCoupon(id string, maxUsage *int) *coupon.Coupon {
	return &coupon.Coupon{
		ID:              id,
		Code:            "CODE-" + id,
		DiscountType:    coupon.DiscountPercentage,
		Value:           decimal.NewFromInt(10),
		MaxUsage:        maxUsage,
		MaxUsagePerUser: 1,
		StartDate:       fixedNow.Add(-time.Hour),
		EndDate:         fixedNow.Add(time.Hour),
		IsActive:        true,
	}
}

func newOrder(subtotal string) coupon.OrderContext {
	oc, err := coupon.NewOrderContext(coupon.OrderInput{
		Items: []coupon.Item{
			{ProductID: "p1", CategoryID: "fruit", Quantity: 1, Price: decimal.RequireFromString(subtotal)},
		},
	})
	if err != nil {
		panic(err)
	}
	return oc
}

type fixture struct {
	store *memory.Store
	svc   *redemption.Service
}

func newFixture(t *testing.T, coupons ...*coupon.Coupon) *fixture {
	t.Helper()

	store := memory.New()
	for _, c := range coupons {
		require.NoError(t, store.Create(context.Background(), c))
	}
	svc, err := redemption.NewService(store, coupon.NewEvaluatorAt(func() time.Time { return fixedNow }), redemption.Options{})
	require.NoError(t, err)
	return &fixture{store: store, svc: svc}
}

// reconciled asserts the used count equals the live usage rows.
func (f *fixture) reconciled(t *testing.T, couponID string) int {
	t.Helper()

	c, err := f.store.GetByID(context.Background(), couponID)
	require.NoError(t, err)
	rows := f.store.Usages(couponID)
	require.Equal(t, len(rows), c.UsedCount, "used count must match usage rows")
	return c.UsedCount
}

func (f *fixture) apply(couponID, userID, orderID string) (*redemption.Redemption, error) {
	return f.svc.Apply(context.Background(), redemption.ApplyRequest{
		CouponID: couponID,
		UserID:   userID,
		OrderID:  orderID,
		Order:    newOrder("100"),
	})
}

func TestApply_CapSafety(t *testing.T) {
	f := newFixture(t, newCoupon("c1", intPtr(5)))

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		capped    int
		others    []error
	)
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.apply("c1", fmt.Sprintf("user-%d", i), fmt.Sprintf("order-%d", i))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case redemption.IsCapReached(err):
				capped++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 5, successes)
	assert.Equal(t, 15, capped)
	assert.Equal(t, 5, f.reconciled(t, "c1"))
}

func TestApply_RoundTrip(t *testing.T) {
	f := newFixture(t, newCoupon("c1", intPtr(3)))
	ctx := context.Background()

	red, err := f.apply("c1", "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "CODE-c1", red.Usage.CouponCode)
	assert.True(t, decimal.NewFromInt(10).Equal(red.Usage.DiscountAmount))
	assert.True(t, decimal.NewFromInt(100).Equal(red.Usage.OrderTotal))
	assert.Equal(t, fixedNow, red.Usage.UsedAt)
	assert.Equal(t, 1, red.Coupon.UsedCount)
	assert.Equal(t, 1, f.reconciled(t, "c1"))

	rev, err := f.svc.Remove(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, rev.Removed)
	assert.Equal(t, "c1", rev.Usage.CouponID)
	assert.Equal(t, 0, f.reconciled(t, "c1"))
	assert.Empty(t, f.store.Usages("c1"))
}

func TestRemove_Idempotent(t *testing.T) {
	f := newFixture(t, newCoupon("c1", nil))
	ctx := context.Background()

	_, err := f.apply("c1", "u1", "o1")
	require.NoError(t, err)

	rev, err := f.svc.Remove(ctx, "unknown-order")
	require.NoError(t, err)
	assert.False(t, rev.Removed)
	assert.Equal(t, 1, f.reconciled(t, "c1"))

	_, err = f.svc.Remove(ctx, "o1")
	require.NoError(t, err)
	rev, err = f.svc.Remove(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, rev.Removed)
	assert.Equal(t, 0, f.reconciled(t, "c1"))
}

func TestApply_AlreadyRedeemed(t *testing.T) {
	f := newFixture(t, newCoupon("c1", nil), newCoupon("c2", nil))

	_, err := f.apply("c1", "u1", "o1")
	require.NoError(t, err)

	_, err = f.apply("c2", "u2", "o1")
	require.ErrorIs(t, err, redemption.ErrAlreadyRedeemed)
	assert.Equal(t, 0, f.reconciled(t, "c2"))
	assert.Equal(t, 1, f.reconciled(t, "c1"))
}

func TestApply_Rejections(t *testing.T) {
	expired := newCoupon("expired", nil)
	expired.EndDate = fixedNow.Add(-time.Minute)

	minOrder := newCoupon("min", nil)
	minOrder.MinOrderAmount = decimal.NewFromInt(200)

	full := newCoupon("full", intPtr(0))

	f := newFixture(t, newCoupon("c1", nil), expired, minOrder, full)

	_, err := f.apply("c1", "u1", "o1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		couponID string
		userID   string
		orderID  string
		want     coupon.Reason
	}{
		{name: "per user cap", couponID: "c1", userID: "u1", orderID: "o2", want: coupon.ReasonPerUserCapReached},
		{name: "expired", couponID: "expired", userID: "u1", orderID: "o3", want: coupon.ReasonExpired},
		{name: "min order", couponID: "min", userID: "u1", orderID: "o4", want: coupon.ReasonMinOrderNotMet},
		{name: "cap", couponID: "full", userID: "u1", orderID: "o5", want: coupon.ReasonUsageCapReached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.apply(tt.couponID, tt.userID, tt.orderID)
			reason, ok := coupon.ReasonOf(err)
			require.True(t, ok, "expected ineligible error, got %v", err)
			assert.Equal(t, tt.want, reason)
			assert.False(t, redemption.IsRetryable(err))
			f.reconciled(t, tt.couponID)
		})
	}

	_, err = f.apply("missing", "u1", "o6")
	require.ErrorIs(t, err, coupon.ErrCouponNotFound)

	_, err = f.apply("c1", "", "o7")
	require.ErrorIs(t, err, redemption.ErrInvalidRequest)
}

func TestApply_SameUserRace(t *testing.T) {
	f := newFixture(t, newCoupon("c1", nil))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.apply("c1", "u1", fmt.Sprintf("o%d", i)); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.reconciled(t, "c1"))
}

func TestLedger_ReconcilesAfterMixedSequence(t *testing.T) {
	f := newFixture(t, newCoupon("c1", intPtr(4)))
	ctx := context.Background()

	steps := []struct {
		apply   bool
		user    string
		orderID string
	}{
		{apply: true, user: "u1", orderID: "o1"},
		{apply: true, user: "u2", orderID: "o2"},
		{apply: false, orderID: "o1"},
		{apply: true, user: "u1", orderID: "o3"},
		{apply: true, user: "u3", orderID: "o4"},
		{apply: true, user: "u4", orderID: "o5"},
		{apply: true, user: "u5", orderID: "o6"},
		{apply: false, orderID: "o404"},
		{apply: false, orderID: "o2"},
		{apply: true, user: "u5", orderID: "o7"},
	}
	for _, st := range steps {
		if st.apply {
			_, _ = f.apply("c1", st.user, st.orderID)
		} else {
			_, err := f.svc.Remove(ctx, st.orderID)
			require.NoError(t, err)
		}
		f.reconciled(t, "c1")
	}
	assert.Equal(t, 4, f.reconciled(t, "c1"))
}

func TestRemove_FreesSlotForNextRedemption(t *testing.T) {
	f := newFixture(t, newCoupon("c1", intPtr(1)))
	ctx := context.Background()

	_, err := f.apply("c1", "u1", "o1")
	require.NoError(t, err)
	_, err = f.apply("c1", "u2", "o2")
	require.True(t, redemption.IsCapReached(err))

	_, err = f.svc.Remove(ctx, "o1")
	require.NoError(t, err)
	_, err = f.apply("c1", "u2", "o2")
	require.NoError(t, err)
	assert.Equal(t, 1, f.reconciled(t, "c1"))
}
