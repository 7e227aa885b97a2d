package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	byID   map[string]*Coupon
	usages map[string]int
}

func newMockStore() *mockStore {
	return &mockStore{byID: map[string]*Coupon{}, usages: map[string]int{}}
}

func (m *mockStore) GetByID(_ context.Context, id string) (*Coupon, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) codeTaken(code, exceptID string) bool {
	for id, c := range m.byID {
		if c.Code == code && id != exceptID {
			return true
		}
	}
	return false
}

func (m *mockStore) Create(_ context.Context, c *Coupon) error {
	if m.codeTaken(c.Code, "") {
		return ErrDuplicateCode
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *mockStore) Update(_ context.Context, c *Coupon) error {
	if _, ok := m.byID[c.ID]; !ok {
		return ErrCouponNotFound
	}
	if m.codeTaken(c.Code, c.ID) {
		return ErrDuplicateCode
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	if m.usages[id] > 0 {
		return ErrCouponInUse
	}
	delete(m.byID, id)
	return nil
}

func (m *mockStore) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	c, ok := m.byID[id]
	if !ok {
		return ErrCouponNotFound
	}
	c.IsActive = active
	c.UpdatedAt = at
	return nil
}

type recordingInvalidator struct {
	codes []string
	err   error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, c *Coupon) error {
	r.codes = append(r.codes, c.Code)
	return r.err
}

func newTestAdmin(store Store, inv ...Invalidator) *Admin {
	a := NewAdmin(store, inv...)
	a.now = func() time.Time { return fixedNow }
	return a
}

func TestAdmin_Create(t *testing.T) {
	store := newMockStore()
	inv := &recordingInvalidator{}
	admin := newTestAdmin(store, inv)
	ctx := context.Background()

	c := baseCoupon()
	c.ID = ""
	c.Code = " summer25 "
	c.UsedCount = 7

	created, err := admin.Create(ctx, c)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "SUMMER25", created.Code)
	assert.Zero(t, created.UsedCount)
	assert.Equal(t, fixedNow, created.CreatedAt)
	assert.Equal(t, []string{"SUMMER25"}, inv.codes)

	dup := baseCoupon()
	dup.ID = ""
	dup.Code = "Summer25"
	_, err = admin.Create(ctx, dup)
	require.ErrorIs(t, err, ErrDuplicateCode)

	bad := baseCoupon()
	bad.ID = ""
	bad.Code = "BAD"
	bad.EndDate = bad.StartDate.Add(-time.Hour)
	_, err = admin.Create(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestAdmin_Update(t *testing.T) {
	store := newMockStore()
	existing := baseCoupon()
	existing.UsedCount = 3
	existing.MaxUsage = intPtr(10)
	existing.CreatedAt = fixedNow.Add(-48 * time.Hour)
	store.byID[existing.ID] = existing

	inv := &recordingInvalidator{}
	admin := newTestAdmin(store, inv)
	ctx := context.Background()

	t.Run("system fields are preserved", func(t *testing.T) {
		upd := baseCoupon()
		upd.Code = "renamed"
		upd.UsedCount = 0
		upd.MaxUsage = intPtr(20)

		got, err := admin.Update(ctx, upd)
		require.NoError(t, err)
		assert.Equal(t, 3, got.UsedCount)
		assert.Equal(t, existing.CreatedAt, got.CreatedAt)
		assert.Equal(t, fixedNow, got.UpdatedAt)
		assert.Equal(t, []string{"SAVE10", "RENAMED"}, inv.codes)
	})

	t.Run("cap below usage is rejected", func(t *testing.T) {
		upd := baseCoupon()
		upd.MaxUsage = intPtr(2)
		_, err := admin.Update(ctx, upd)
		require.ErrorIs(t, err, ErrInvalidDefinition)
	})

	t.Run("unknown coupon", func(t *testing.T) {
		upd := baseCoupon()
		upd.ID = "missing"
		_, err := admin.Update(ctx, upd)
		require.ErrorIs(t, err, ErrCouponNotFound)
	})
}

func TestAdmin_DeleteAndDeactivate(t *testing.T) {
	store := newMockStore()
	fresh := baseCoupon()
	redeemed := baseCoupon()
	redeemed.ID, redeemed.Code = "c2", "USED"
	store.byID[fresh.ID] = fresh
	store.byID[redeemed.ID] = redeemed
	store.usages[redeemed.ID] = 1

	inv := &recordingInvalidator{err: errors.New("redis down")}
	admin := newTestAdmin(store, inv)
	ctx := context.Background()

	require.NoError(t, admin.Delete(ctx, fresh.ID), "cache failures must not fail the write")
	_, err := store.GetByID(ctx, fresh.ID)
	require.ErrorIs(t, err, ErrCouponNotFound)

	err = admin.Delete(ctx, redeemed.ID)
	require.ErrorIs(t, err, ErrCouponInUse)

	got, err := admin.Deactivate(ctx, redeemed.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, StatusDeactivated, got.Status(fixedNow))

	_, err = admin.Deactivate(ctx, "missing")
	require.ErrorIs(t, err, ErrCouponNotFound)
}
