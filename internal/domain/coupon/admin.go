package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the write side of the coupon catalog.
type Store interface {
	GetByID(ctx context.Context, id string) (*Coupon, error)
	// Create returns ErrDuplicateCode when the code is taken.
	Create(ctx context.Context, c *Coupon) error
	// Update rewrites the definition. It never touches used_count or
	// created_at. Returns ErrCouponNotFound or ErrDuplicateCode.
	Update(ctx context.Context, c *Coupon) error
	// Delete removes a coupon without usages. Returns ErrCouponInUse when
	// usage rows reference it.
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
}

// Invalidator drops cached copies of a coupon.
type Invalidator interface {
	Invalidate(ctx context.Context, c *Coupon) error
}

// Admin manages the coupon lifecycle.
type Admin struct {
	store        Store
	invalidators []Invalidator
	now          func() time.Time
}

// NewAdmin creates an Admin writing to store and invalidating the given caches
// after every successful write.
func NewAdmin(store Store, invalidators ...Invalidator) *Admin {
	return &Admin{
		store:        store,
		invalidators: invalidators,
		now:          time.Now,
	}
}

// Get returns a coupon by id.
func (a *Admin) Get(ctx context.Context, id string) (*Coupon, error) {
	c, err := a.store.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get coupon")
	}
	return c, nil
}

// Create validates and stores a new coupon. System-owned fields are reset.
func (a *Admin) Create(ctx context.Context, c *Coupon) (*Coupon, error) {
	c.Normalize()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	c.UsedCount = 0
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := a.store.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	a.invalidate(ctx, c)
	return c, nil
}

// Update replaces the definition of an existing coupon. UsedCount and
// CreatedAt are kept from the stored row.
func (a *Admin) Update(ctx context.Context, c *Coupon) (*Coupon, error) {
	current, err := a.store.GetByID(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "get coupon")
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.MaxUsage != nil && *c.MaxUsage < current.UsedCount {
		return nil, &DefinitionError{Field: "maxUsage", Message: "must not be below the current usage count"}
	}

	c.UsedCount = current.UsedCount
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = a.now().UTC()

	if err := a.store.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	a.invalidate(ctx, current)
	if current.Code != c.Code {
		a.invalidate(ctx, c)
	}
	return c, nil
}

// Delete hard-deletes a coupon that was never redeemed.
func (a *Admin) Delete(ctx context.Context, id string) error {
	current, err := a.store.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "get coupon")
	}
	if err := a.store.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete coupon")
	}
	a.invalidate(ctx, current)
	return nil
}

// Deactivate switches a coupon off. It is the only way to retire a coupon
// that has redemptions.
func (a *Admin) Deactivate(ctx context.Context, id string) (*Coupon, error) {
	current, err := a.store.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get coupon")
	}
	now := a.now().UTC()
	if err := a.store.SetActive(ctx, id, false, now); err != nil {
		return nil, errors.Wrap(err, "deactivate coupon")
	}
	current.IsActive = false
	current.UpdatedAt = now
	a.invalidate(ctx, current)
	return current, nil
}

func (a *Admin) invalidate(ctx context.Context, c *Coupon) {
	for _, inv := range a.invalidators {
		if err := inv.Invalidate(ctx, c); err != nil {
			zctx.From(ctx).Warn("Failed to invalidate coupon cache",
				zap.String("coupon_id", c.ID),
				zap.String("code", c.Code),
				zap.Error(err),
			)
		}
	}
}
