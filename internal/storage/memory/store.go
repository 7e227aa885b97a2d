// Package memory is a single-process storage driver. It implements every
// repository the engine needs and is used for development and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
	"github.com/xenking/coupon-engine/internal/domain/product"
	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

var (
	_ coupon.Catalog          = (*Store)(nil)
	_ coupon.Store            = (*Store)(nil)
	_ coupon.UsageReader      = (*Store)(nil)
	_ coupon.CategoryResolver = (*Store)(nil)
	_ product.Repository      = (*Store)(nil)
	_ product.Writer          = (*Store)(nil)
	_ order.Repository        = orderRepo{}
	_ auth.Repository         = (*Store)(nil)
	_ auth.Writer             = (*Store)(nil)
	_ redemption.TxManager    = (*Store)(nil)
)

// Store keeps all state in maps. Units of work are serialized by a
// single-slot semaphore and stage their writes until commit.
type Store struct {
	// tx admits one unit of work at a time.
	tx chan struct{}

	mu       sync.RWMutex
	coupons  map[string]*coupon.Coupon
	codes    map[string]string // code -> id
	usages   map[string]*redemption.Usage
	byOrder  map[string]string // order id -> usage id
	products map[string]product.Product
	orders   map[string]*order.Order
	apiKeys  map[string]*auth.APIKeyInfo // hash -> key
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tx:       make(chan struct{}, 1),
		coupons:  map[string]*coupon.Coupon{},
		codes:    map[string]string{},
		usages:   map[string]*redemption.Usage{},
		byOrder:  map[string]string{},
		products: map[string]product.Product{},
		orders:   map[string]*order.Order{},
		apiKeys:  map[string]*auth.APIKeyInfo{},
	}
}

func cloneCoupon(c *coupon.Coupon) *coupon.Coupon {
	cp := *c
	if c.MaxUsage != nil {
		v := *c.MaxUsage
		cp.MaxUsage = &v
	}
	cp.ApplicableProducts = slices.Clone(c.ApplicableProducts)
	cp.ApplicableCategories = slices.Clone(c.ApplicableCategories)
	cp.ApplicableUsers = slices.Clone(c.ApplicableUsers)
	cp.ExcludeUsers = slices.Clone(c.ExcludeUsers)
	cp.Targeting.OrderTypes = slices.Clone(c.Targeting.OrderTypes)
	cp.Targeting.PaymentMethods = slices.Clone(c.Targeting.PaymentMethods)
	cp.SpecialDiscount.Cities = slices.Clone(c.SpecialDiscount.Cities)
	cp.SpecialDiscount.PostalCodes = slices.Clone(c.SpecialDiscount.PostalCodes)
	cp.SpecialDiscount.AddressClasses = slices.Clone(c.SpecialDiscount.AddressClasses)
	cp.CanStackWith = slices.Clone(c.CanStackWith)
	cp.CannotStackWith = slices.Clone(c.CannotStackWith)
	return &cp
}

// FindByCode implements coupon.Catalog.
func (s *Store) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return cloneCoupon(s.coupons[id]), nil
}

// GetByID implements coupon.Catalog.
func (s *Store) GetByID(_ context.Context, id string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coupons[id]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return cloneCoupon(c), nil
}

// ListActive implements coupon.Catalog.
func (s *Store) ListActive(_ context.Context, now time.Time) ([]coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]coupon.Coupon, 0, len(s.coupons))
	for _, c := range s.coupons {
		if c.IsActive && !now.Before(c.StartDate) && !now.After(c.EndDate) {
			out = append(out, *cloneCoupon(c))
		}
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return 0
	})
	return out, nil
}

// Create implements coupon.Store.
func (s *Store) Create(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[c.Code]; ok {
		return coupon.ErrDuplicateCode
	}
	if _, ok := s.coupons[c.ID]; ok {
		return coupon.ErrDuplicateCode
	}
	s.coupons[c.ID] = cloneCoupon(c)
	s.codes[c.Code] = c.ID
	return nil
}

// Update implements coupon.Store. UsedCount and CreatedAt are kept.
func (s *Store) Update(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.coupons[c.ID]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	if id, ok := s.codes[c.Code]; ok && id != c.ID {
		return coupon.ErrDuplicateCode
	}

	next := cloneCoupon(c)
	next.UsedCount = cur.UsedCount
	next.CreatedAt = cur.CreatedAt
	delete(s.codes, cur.Code)
	s.codes[next.Code] = next.ID
	s.coupons[next.ID] = next
	return nil
}

// Delete implements coupon.Store. It waits for the running unit of work so
// that no staged usage can reference the deleted coupon.
func (s *Store) Delete(ctx context.Context, id string) error {
	select {
	case s.tx <- struct{}{}:
		defer func() { <-s.tx }()
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[id]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	for _, u := range s.usages {
		if u.CouponID == id {
			return coupon.ErrCouponInUse
		}
	}
	delete(s.codes, c.Code)
	delete(s.coupons, id)
	return nil
}

// SetActive implements coupon.Store.
func (s *Store) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[id]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	c.IsActive = active
	c.UpdatedAt = at
	return nil
}

// UserUsageCounts implements coupon.UsageReader.
func (s *Store) UserUsageCounts(_ context.Context, userID string, couponIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(couponIDs))
	for _, u := range s.usages {
		if u.UserID == userID && slices.Contains(couponIDs, u.CouponID) {
			out[u.CouponID]++
		}
	}
	return out, nil
}

// Usages returns the live usage rows of a coupon.
func (s *Store) Usages(couponID string) []redemption.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []redemption.Usage
	for _, u := range s.usages {
		if u.CouponID == couponID {
			out = append(out, *u)
		}
	}
	return out
}
