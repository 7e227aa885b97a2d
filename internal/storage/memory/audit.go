package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

var _ redemption.Auditor = (*Store)(nil)

// Drift implements redemption.Auditor.
func (s *Store) Drift(context.Context) ([]redemption.Drift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drift(), nil
}

// Repair implements redemption.Auditor. It waits for the running unit of
// work so no staged delta is lost.
func (s *Store) Repair(ctx context.Context) ([]redemption.Drift, error) {
	select {
	case s.tx <- struct{}{}:
		defer func() { <-s.tx }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.drift()
	for _, d := range out {
		s.coupons[d.CouponID].UsedCount = d.LiveUsages
	}
	return out, nil
}

func (s *Store) drift() []redemption.Drift {
	live := make(map[string]int, len(s.coupons))
	for _, u := range s.usages {
		live[u.CouponID]++
	}
	var out []redemption.Drift
	for id, c := range s.coupons {
		if c.UsedCount != live[id] {
			out = append(out, redemption.Drift{
				CouponID:   id,
				Code:       c.Code,
				UsedCount:  c.UsedCount,
				LiveUsages: live[id],
			})
		}
	}
	slices.SortFunc(out, func(a, b redemption.Drift) int { return strings.Compare(a.Code, b.Code) })
	return out
}
