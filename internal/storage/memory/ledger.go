package memory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

var errTxDone = errors.New("transaction already finished")

// Begin implements redemption.TxManager. It waits for the running unit of
// work to finish or for ctx to expire.
func (s *Store) Begin(ctx context.Context) (redemption.Tx, error) {
	select {
	case s.tx <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "wait for transaction slot")
	}
	return &tx{
		s:        s,
		deltas:   map[string]int{},
		inserted: map[string]*redemption.Usage{},
		deleted:  map[string]struct{}{},
	}, nil
}

// tx stages ledger writes. Only used-count deltas are staged for coupons, so
// admin edits committed meanwhile are not overwritten.
type tx struct {
	s    *Store
	done bool

	deltas   map[string]int
	inserted map[string]*redemption.Usage // by usage id
	deleted  map[string]struct{}          // usage ids
}

func (t *tx) Ledger() redemption.Ledger { return t }

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit")
	}

	s := t.s
	s.mu.Lock()
	for id, d := range t.deltas {
		if c, ok := s.coupons[id]; ok {
			c.UsedCount += d
		}
	}
	for id := range t.deleted {
		if u, ok := s.usages[id]; ok {
			delete(s.byOrder, u.OrderID)
			delete(s.usages, id)
		}
	}
	for id, u := range t.inserted {
		s.usages[id] = u
		s.byOrder[u.OrderID] = id
	}
	s.mu.Unlock()

	t.finish()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	<-t.s.tx
}

func (t *tx) GetCoupon(_ context.Context, id string) (*coupon.Coupon, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	c, ok := t.s.coupons[id]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	cp := cloneCoupon(c)
	cp.UsedCount += t.deltas[id]
	return cp, nil
}

// live calls fn for every usage visible inside the transaction.
func (t *tx) live(fn func(u *redemption.Usage) bool) {
	for id, u := range t.s.usages {
		if _, gone := t.deleted[id]; gone {
			continue
		}
		if !fn(u) {
			return
		}
	}
	for _, u := range t.inserted {
		if !fn(u) {
			return
		}
	}
}

func (t *tx) CountUserUsages(_ context.Context, couponID, userID string) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	n := 0
	t.live(func(u *redemption.Usage) bool {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
		return true
	})
	return n, nil
}

func (t *tx) IncrementUsedCount(_ context.Context, couponID string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	c, ok := t.s.coupons[couponID]
	if !ok {
		return false, coupon.ErrCouponNotFound
	}
	if c.MaxUsage != nil && c.UsedCount+t.deltas[couponID] >= *c.MaxUsage {
		return false, nil
	}
	t.deltas[couponID]++
	return true, nil
}

func (t *tx) DecrementUsedCount(_ context.Context, couponID string) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	c, ok := t.s.coupons[couponID]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	if c.UsedCount+t.deltas[couponID] > 0 {
		t.deltas[couponID]--
	}
	return nil
}

func (t *tx) InsertUsage(_ context.Context, u *redemption.Usage) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	exists := false
	t.live(func(cur *redemption.Usage) bool {
		exists = cur.OrderID == u.OrderID
		return !exists
	})
	if exists {
		return false, nil
	}
	cp := *u
	t.inserted[u.ID] = &cp
	return true, nil
}

func (t *tx) FindUsageByOrder(_ context.Context, orderID string) (*redemption.Usage, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var found *redemption.Usage
	t.live(func(u *redemption.Usage) bool {
		if u.OrderID == orderID {
			found = u
			return false
		}
		return true
	})
	if found == nil {
		return nil, redemption.ErrUsageNotFound
	}
	cp := *found
	return &cp, nil
}

func (t *tx) DeleteUsage(_ context.Context, id string) error {
	if _, ok := t.inserted[id]; ok {
		delete(t.inserted, id)
		return nil
	}
	t.deleted[id] = struct{}{}
	return nil
}
