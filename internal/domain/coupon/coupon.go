package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount, optionally
	// capped by MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed monetary amount, never more than the order.
	DiscountFixed DiscountType = "fixed_amount"
)

// Status is the lifecycle state of a coupon. It is derived on read and never
// stored.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusActive      Status = "active"
	StatusExpired     Status = "expired"
	StatusExhausted   Status = "exhausted"
	StatusDeactivated Status = "deactivated"
)

// Targeting restricts a coupon to particular order types and payment methods.
// Empty lists are unrestricted.
type Targeting struct {
	OrderTypes     []OrderType
	PaymentMethods []string
}

// SpecialDiscount restricts a coupon to delivery addresses. Empty lists are
// unrestricted.
type SpecialDiscount struct {
	Cities         []string
	PostalCodes    []string
	AddressClasses []string
}

// Coupon is a discount code definition together with its usage counter.
type Coupon struct {
	ID          string
	Code        string
	Description string

	DiscountType   DiscountType
	Value          decimal.Decimal
	MaxDiscount    decimal.NullDecimal
	MinOrderAmount decimal.Decimal

	// MaxUsage is the global redemption cap; nil means unbounded.
	MaxUsage        *int
	MaxUsagePerUser int
	// UsedCount is owned by the redemption ledger.
	UsedCount int

	StartDate time.Time
	EndDate   time.Time

	ApplicableProducts   []string
	ApplicableCategories []string
	ApplicableUsers      []string
	ExcludeUsers         []string

	Targeting       Targeting
	SpecialDiscount SpecialDiscount

	Priority        int
	CanStackWith    []string
	CannotStackWith []string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status derives the lifecycle state at the given instant. Deactivation
// overrides every other state.
func (c *Coupon) Status(now time.Time) Status {
	switch {
	case !c.IsActive:
		return StatusDeactivated
	case now.Before(c.StartDate):
		return StatusScheduled
	case now.After(c.EndDate):
		return StatusExpired
	case c.capReached():
		return StatusExhausted
	default:
		return StatusActive
	}
}

// IsValid reports whether the coupon is active, inside its date window and
// under its global cap.
func (c *Coupon) IsValid(now time.Time) bool {
	return c.Status(now) == StatusActive
}

// RemainingUses returns the number of redemptions left, or -1 when unbounded.
func (c *Coupon) RemainingUses() int {
	if c.MaxUsage == nil {
		return -1
	}
	return max(*c.MaxUsage-c.UsedCount, 0)
}

func (c *Coupon) capReached() bool {
	return c.MaxUsage != nil && c.UsedCount >= *c.MaxUsage
}

// PerUserLimit returns MaxUsagePerUser, treating unset as 1.
func (c *Coupon) PerUserLimit() int {
	if c.MaxUsagePerUser <= 0 {
		return 1
	}
	return c.MaxUsagePerUser
}

// NormalizeCode canonicalizes a coupon code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validation errors returned by Coupon.Validate.
var (
	ErrInvalidDefinition = errors.New("invalid coupon definition")
)

// DefinitionError describes why a coupon definition was rejected.
type DefinitionError struct {
	Field   string
	Message string
}

func (e *DefinitionError) Error() string {
	return e.Field + ": " + e.Message
}

// Is makes every DefinitionError match ErrInvalidDefinition.
func (e *DefinitionError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

// Normalize fills defaults and canonicalizes identifiers in place.
func (c *Coupon) Normalize() {
	c.Code = NormalizeCode(c.Code)
	if c.MaxUsagePerUser <= 0 {
		c.MaxUsagePerUser = 1
	}
	if c.MinOrderAmount.IsNegative() {
		c.MinOrderAmount = decimal.Zero
	}
	c.StartDate = c.StartDate.UTC()
	c.EndDate = c.EndDate.UTC()
}

// Validate checks an admin-supplied definition. Call Normalize first.
func (c *Coupon) Validate() error {
	switch {
	case c.Code == "":
		return &DefinitionError{Field: "code", Message: "required"}
	case c.DiscountType != DiscountPercentage && c.DiscountType != DiscountFixed:
		return &DefinitionError{Field: "discountType", Message: "must be percentage or fixed_amount"}
	case !c.Value.IsPositive():
		return &DefinitionError{Field: "discountValue", Message: "must be greater than 0"}
	case c.DiscountType == DiscountPercentage && c.Value.GreaterThan(hundred):
		return &DefinitionError{Field: "discountValue", Message: "percentage must not exceed 100"}
	case c.MaxDiscount.Valid && c.DiscountType != DiscountPercentage:
		return &DefinitionError{Field: "maxDiscount", Message: "only applies to percentage coupons"}
	case c.MaxDiscount.Valid && !c.MaxDiscount.Decimal.IsPositive():
		return &DefinitionError{Field: "maxDiscount", Message: "must be greater than 0"}
	case c.MaxUsage != nil && *c.MaxUsage < 0:
		return &DefinitionError{Field: "maxUsage", Message: "must not be negative"}
	case c.StartDate.IsZero() || c.EndDate.IsZero():
		return &DefinitionError{Field: "startDate", Message: "start and end dates are required"}
	case c.EndDate.Before(c.StartDate):
		return &DefinitionError{Field: "endDate", Message: "must not be before startDate"}
	case c.ID != "" && slices.Contains(c.CanStackWith, c.ID):
		return &DefinitionError{Field: "canStackWith", Message: "coupon cannot stack with itself"}
	}
	return nil
}

// Catalog is the read side of the coupon store.
type Catalog interface {
	// FindByCode returns ErrCouponNotFound when no coupon has the code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// GetByID returns ErrCouponNotFound when the id is unknown.
	GetByID(ctx context.Context, id string) (*Coupon, error)
	// ListActive returns coupons that are active and inside their window at now.
	ListActive(ctx context.Context, now time.Time) ([]Coupon, error)
}

// UsageReader reports how many times a user has redeemed coupons.
type UsageReader interface {
	// UserUsageCounts returns the number of live usage rows per coupon id for
	// the user. Coupons without usage may be missing from the map.
	UserUsageCounts(ctx context.Context, userID string, couponIDs []string) (map[string]int, error)
}

// CategoryResolver maps product ids to category ids.
type CategoryResolver interface {
	CategoriesByIDs(ctx context.Context, productIDs []string) (map[string]string, error)
}
