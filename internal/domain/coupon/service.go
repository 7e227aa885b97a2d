package coupon

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Offer is one entry of the available-coupons preview.
type Offer struct {
	Coupon   *Coupon
	Discount Discount
	Eligible bool
	Reason   Reason
	// MeetsMinimum is false when the subtotal is below MinOrderAmount.
	MeetsMinimum bool
}

// Quote is the result of validating a single code.
type Quote struct {
	Coupon   *Coupon
	Discount Discount
}

// StackQuote is the result of quoting several codes together.
type StackQuote struct {
	Subtotal decimal.Decimal
	Selected []Applied
	// Excluded holds both ineligible codes and codes dropped by the Resolver.
	Excluded []Exclusion
	Total    decimal.Decimal
	Payable  decimal.Decimal
}

// Service answers the read-only preview questions: which coupons a user may
// use and how much they are worth. Nothing here mutates the ledger.
type Service struct {
	catalog    Catalog
	usages     UsageReader
	categories CategoryResolver
	evaluator  *Evaluator
	resolver   *Resolver
}

// NewService creates a preview Service. categories may be nil when callers
// always send category ids with the items.
func NewService(
	catalog Catalog,
	usages UsageReader,
	categories CategoryResolver,
	evaluator *Evaluator,
	resolver *Resolver,
) *Service {
	return &Service{
		catalog:    catalog,
		usages:     usages,
		categories: categories,
		evaluator:  evaluator,
		resolver:   resolver,
	}
}

// hiddenFromListing are reasons that must not reveal a targeted coupon to a
// user it is not meant for.
func hiddenFromListing(r Reason) bool {
	return r == ReasonUserExcluded || r == ReasonUserNotAllowed
}

// ListAvailable returns every active coupon the user could see for the order,
// eligible ones first and then by discount. Coupons below the minimum order
// amount are listed with a zero discount and MeetsMinimum=false.
func (s *Service) ListAvailable(ctx context.Context, userID string, order OrderContext) ([]Offer, error) {
	order, err := s.enrich(ctx, order)
	if err != nil {
		return nil, err
	}

	coupons, err := s.catalog.ListActive(ctx, s.evaluator.Now())
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}
	if len(coupons) == 0 {
		return []Offer{}, nil
	}

	ids := make([]string, len(coupons))
	for i := range coupons {
		ids[i] = coupons[i].ID
	}
	counts, err := s.usages.UserUsageCounts(ctx, userID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "count user usages")
	}

	offers := make([]Offer, 0, len(coupons))
	for i := range coupons {
		c := &coupons[i]
		elig := s.evaluator.Evaluate(EligibilityInput{
			UserID:     userID,
			Coupon:     c,
			Order:      &order,
			UserUsages: counts[c.ID],
		})
		if hiddenFromListing(elig.Reason) {
			continue
		}

		offer := Offer{
			Coupon:       c,
			Eligible:     elig.Eligible(),
			Reason:       elig.Reason,
			MeetsMinimum: !order.Subtotal.LessThan(c.MinOrderAmount),
			Discount:     Discount{Amount: zero, Reason: elig.Reason},
		}
		if offer.Eligible {
			offer.Discount = Calculate(c, order.Subtotal, order.Items)
		}
		offers = append(offers, offer)
	}

	slices.SortStableFunc(offers, func(a, b Offer) int {
		if a.Eligible != b.Eligible {
			if a.Eligible {
				return -1
			}
			return 1
		}
		if c := b.Discount.Amount.Cmp(a.Discount.Amount); c != 0 {
			return c
		}
		return sequenceOrder(a.Coupon, b.Coupon)
	})

	return offers, nil
}

// Validate checks a single code for the user and order and quotes its
// discount. Ineligibility is reported as *IneligibleError.
func (s *Service) Validate(ctx context.Context, userID, code string, order OrderContext) (*Quote, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrMissingCode
	}

	order, err := s.enrich(ctx, order)
	if err != nil {
		return nil, err
	}

	c, reason, err := s.check(ctx, userID, code, &order)
	if err != nil {
		return nil, err
	}
	if reason != ReasonNone {
		return nil, Ineligible(code, reason)
	}

	return &Quote{
		Coupon:   c,
		Discount: Calculate(c, order.Subtotal, order.Items),
	}, nil
}

// Quote evaluates several codes together. Ineligible codes are excluded with
// their reason, the rest go through the Resolver. Unknown codes fail the
// whole request with ErrCouponNotFound.
func (s *Service) Quote(ctx context.Context, userID string, codes []string, order OrderContext) (*StackQuote, error) {
	normalized := make([]string, 0, len(codes))
	for _, code := range codes {
		code = NormalizeCode(code)
		if code == "" || slices.Contains(normalized, code) {
			continue
		}
		normalized = append(normalized, code)
	}
	if len(normalized) == 0 {
		return nil, ErrMissingCode
	}

	order, err := s.enrich(ctx, order)
	if err != nil {
		return nil, err
	}

	var (
		candidates []*Coupon
		rejected   []Exclusion
	)
	for _, code := range normalized {
		c, reason, err := s.check(ctx, userID, code, &order)
		if err != nil {
			return nil, err
		}
		if reason != ReasonNone {
			rejected = append(rejected, Exclusion{Coupon: c, Reason: reason})
			continue
		}
		candidates = append(candidates, c)
	}

	res := s.resolver.Resolve(candidates, order.Subtotal, order.Items)
	excluded := append(rejected, res.Excluded...)
	slices.SortStableFunc(excluded, func(a, b Exclusion) int {
		return cmp.Compare(a.Coupon.Code, b.Coupon.Code)
	})

	return &StackQuote{
		Subtotal: order.Subtotal,
		Selected: res.Selected,
		Excluded: excluded,
		Total:    res.Total,
		Payable:  floorAtZero(order.Subtotal.Sub(res.Total)),
	}, nil
}

// Lookup resolves a code to its coupon without evaluating it.
func (s *Service) Lookup(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrMissingCode
	}
	return s.find(ctx, code)
}

func (s *Service) find(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.catalog.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, errors.Wrapf(ErrCouponNotFound, "code %s", code)
		}
		return nil, errors.Wrap(err, "find coupon")
	}
	return c, nil
}

// check looks up a code and evaluates it against the order.
func (s *Service) check(ctx context.Context, userID, code string, order *OrderContext) (*Coupon, Reason, error) {
	c, err := s.find(ctx, code)
	if err != nil {
		return nil, ReasonNone, err
	}

	counts, err := s.usages.UserUsageCounts(ctx, userID, []string{c.ID})
	if err != nil {
		return nil, ReasonNone, errors.Wrap(err, "count user usages")
	}

	elig := s.evaluator.Evaluate(EligibilityInput{
		UserID:     userID,
		Coupon:     c,
		Order:      order,
		UserUsages: counts[c.ID],
	})
	return c, elig.Reason, nil
}

// enrich fills in missing item categories from the product directory. The
// caller's items are never modified.
func (s *Service) enrich(ctx context.Context, order OrderContext) (OrderContext, error) {
	return EnrichCategories(ctx, s.categories, order)
}

// EnrichCategories returns a copy of order whose items carry category ids
// resolved through r. A nil resolver leaves the order unchanged.
func EnrichCategories(ctx context.Context, r CategoryResolver, order OrderContext) (OrderContext, error) {
	if r == nil || !order.needsCategories() {
		return order, nil
	}
	categories, err := r.CategoriesByIDs(ctx, order.ProductIDs())
	if err != nil {
		return OrderContext{}, errors.Wrap(err, "resolve categories")
	}
	order.Items = slices.Clone(order.Items)
	order.withCategories(categories)
	return order, nil
}
