package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
	"github.com/xenking/coupon-engine/internal/domain/product"
)

// Upsert implements product.Writer.
func (s *Store) Upsert(_ context.Context, products []product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		s.products[p.ID] = p
	}
	return nil
}

// GetByIDs implements product.Repository.
func (s *Store) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// CategoriesByIDs implements coupon.CategoryResolver.
func (s *Store) CategoriesByIDs(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.CategoryID != "" {
			out[id] = p.CategoryID
		}
	}
	return out, nil
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}

// Orders returns the order repository view of the store.
func (s *Store) Orders() order.Repository {
	return orderRepo{s: s}
}

type orderRepo struct {
	s *Store
}

func (r orderRepo) Create(_ context.Context, o *order.Order) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r orderRepo) Get(_ context.Context, id string) (*order.Order, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, coupon.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r orderRepo) Transition(_ context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, coupon.ErrOrderNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	return true, nil
}

// Save implements auth.Writer.
func (s *Store) Save(_ context.Context, info *auth.APIKeyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, k := range s.apiKeys {
		if k.ID == info.ID {
			delete(s.apiKeys, hash)
		}
	}
	cp := *info
	cp.Scopes = slices.Clone(info.Scopes)
	s.apiKeys[cp.KeyHash] = &cp
	return nil
}

// FindByHash implements auth.Repository.
func (s *Store) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	cp := *k
	cp.Scopes = slices.Clone(k.Scopes)
	return &cp, nil
}
