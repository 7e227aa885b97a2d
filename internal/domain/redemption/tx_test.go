package redemption

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

type mockTx struct {
	ledger     *mockLedger
	commitErr  error
	committed  bool
	rolledBack bool
}

func (m *mockTx) Ledger() Ledger { return m.ledger }

func (m *mockTx) Commit(context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

func (m *mockTx) Rollback(context.Context) error {
	if !m.committed {
		m.rolledBack = true
	}
	return nil
}

type mockTxManager struct {
	tx       *mockTx
	beginErr error
}

func (m *mockTxManager) Begin(context.Context) (Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return m.tx, nil
}

// mockLedger serves a single coupon and fails the step named in failOn.
type mockLedger struct {
	coupon    *coupon.Coupon
	usage     *Usage
	failOn    string
	increment bool
	inserted  []*Usage
}

var errStorage = errors.New("connection reset by peer")

func (m *mockLedger) fail(step string) error {
	if m.failOn == step {
		return errStorage
	}
	return nil
}

func (m *mockLedger) GetCoupon(_ context.Context, id string) (*coupon.Coupon, error) {
	if err := m.fail("get"); err != nil {
		return nil, err
	}
	if m.coupon == nil || m.coupon.ID != id {
		return nil, coupon.ErrCouponNotFound
	}
	cp := *m.coupon
	return &cp, nil
}

func (m *mockLedger) CountUserUsages(context.Context, string, string) (int, error) {
	return 0, m.fail("count")
}

func (m *mockLedger) IncrementUsedCount(context.Context, string) (bool, error) {
	if err := m.fail("increment"); err != nil {
		return false, err
	}
	return m.increment, nil
}

func (m *mockLedger) InsertUsage(_ context.Context, u *Usage) (bool, error) {
	if err := m.fail("insert"); err != nil {
		return false, err
	}
	m.inserted = append(m.inserted, u)
	return true, nil
}

func (m *mockLedger) FindUsageByOrder(context.Context, string) (*Usage, error) {
	if err := m.fail("find"); err != nil {
		return nil, err
	}
	if m.usage == nil {
		return nil, ErrUsageNotFound
	}
	return m.usage, nil
}

func (m *mockLedger) DeleteUsage(context.Context, string) error {
	return m.fail("delete")
}

func (m *mockLedger) DecrementUsedCount(context.Context, string) error {
	return m.fail("decrement")
}

func testCoupon() *coupon.Coupon {
	now := time.Now()
	return &coupon.Coupon{
		ID:              "c1",
		Code:            "SAVE10",
		DiscountType:    coupon.DiscountFixed,
		Value:           decimal.NewFromInt(10),
		MaxUsagePerUser: 1,
		StartDate:       now.Add(-time.Hour),
		EndDate:         now.Add(time.Hour),
		IsActive:        true,
	}
}

func newMockService(t *testing.T, txm TxManager) *Service {
	t.Helper()
	svc, err := NewService(txm, coupon.NewEvaluator(), Options{TxTimeout: time.Second})
	require.NoError(t, err)
	return svc
}

func applyReq() ApplyRequest {
	return ApplyRequest{
		CouponID: "c1",
		UserID:   "u1",
		OrderID:  "o1",
		Order:    coupon.OrderContext{Subtotal: decimal.NewFromInt(50)},
	}
}

func TestApply_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		ledger        *mockLedger
		commitErr     error
		wantErr       error
		wantRetryable bool
		wantCommitted bool
	}{
		{
			name:          "success",
			ledger:        &mockLedger{coupon: testCoupon(), increment: true},
			wantCommitted: true,
		},
		{
			name:    "guard did not match",
			ledger:  &mockLedger{coupon: testCoupon(), increment: false},
			wantErr: ErrConcurrencyConflict,
		},
		{
			name:    "order already has usage",
			ledger:  &mockLedger{coupon: testCoupon(), increment: true, usage: &Usage{ID: "x"}},
			wantErr: ErrAlreadyRedeemed,
		},
		{
			name:          "read failure",
			ledger:        &mockLedger{coupon: testCoupon(), increment: true, failOn: "get"},
			wantErr:       errStorage,
			wantRetryable: true,
		},
		{
			name:          "insert failure",
			ledger:        &mockLedger{coupon: testCoupon(), increment: true, failOn: "insert"},
			wantErr:       errStorage,
			wantRetryable: true,
		},
		{
			name:          "commit failure",
			ledger:        &mockLedger{coupon: testCoupon(), increment: true},
			commitErr:     errStorage,
			wantErr:       errStorage,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &mockTx{ledger: tt.ledger, commitErr: tt.commitErr}
			svc := newMockService(t, &mockTxManager{tx: tx})

			red, err := svc.Apply(context.Background(), applyReq())
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.True(t, decimal.NewFromInt(10).Equal(red.Discount.Amount))
				assert.Len(t, tt.ledger.inserted, 1)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.wantRetryable, IsRetryable(err))
				assert.True(t, tx.rolledBack, "failed unit of work must roll back")
			}
			assert.Equal(t, tt.wantCommitted, tx.committed)
		})
	}
}

func TestApply_BeginFailure(t *testing.T) {
	svc := newMockService(t, &mockTxManager{beginErr: errStorage})

	_, err := svc.Apply(context.Background(), applyReq())
	require.ErrorIs(t, err, errStorage)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "apply coupon", pe.Op)
}

func TestRemove_Outcomes(t *testing.T) {
	usage := &Usage{ID: "u-1", CouponID: "c1", OrderID: "o1"}

	t.Run("decrement failure rolls back", func(t *testing.T) {
		tx := &mockTx{ledger: &mockLedger{usage: usage, failOn: "decrement"}}
		svc := newMockService(t, &mockTxManager{tx: tx})

		_, err := svc.Remove(context.Background(), "o1")
		require.ErrorIs(t, err, errStorage)
		assert.True(t, IsRetryable(err))
		assert.True(t, tx.rolledBack)
	})

	t.Run("no usage is a no-op", func(t *testing.T) {
		tx := &mockTx{ledger: &mockLedger{}}
		svc := newMockService(t, &mockTxManager{tx: tx})

		rev, err := svc.Remove(context.Background(), "o1")
		require.NoError(t, err)
		assert.False(t, rev.Removed)
		assert.True(t, tx.committed)
	})

	t.Run("missing order id", func(t *testing.T) {
		svc := newMockService(t, &mockTxManager{tx: &mockTx{ledger: &mockLedger{}}})

		_, err := svc.Remove(context.Background(), "")
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestIsCapReached(t *testing.T) {
	assert.True(t, IsCapReached(ErrConcurrencyConflict))
	assert.True(t, IsCapReached(errors.Wrap(coupon.Ineligible("X", coupon.ReasonUsageCapReached), "apply")))
	assert.False(t, IsCapReached(coupon.Ineligible("X", coupon.ReasonExpired)))
	assert.False(t, IsCapReached(&PersistenceError{Op: "apply coupon", Err: errStorage}))
}
