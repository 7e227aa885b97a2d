package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const instrumentationName = "github.com/xenking/coupon-engine/internal/domain/redemption"

// ApplyRequest asks to redeem a coupon on an order.
type ApplyRequest struct {
	CouponID string
	UserID   string
	OrderID  string
	Order    coupon.OrderContext
}

// Redemption is a committed coupon use.
type Redemption struct {
	Usage    Usage
	Coupon   *coupon.Coupon
	Discount coupon.Discount
}

// Reversal is the outcome of Remove. Removed is false when the order had no
// usage and nothing changed.
type Reversal struct {
	Removed bool
	Usage   *Usage
}

// Options configures Service.
type Options struct {
	// TxTimeout bounds every unit of work.
	TxTimeout      time.Duration
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.TxTimeout <= 0 {
		o.TxTimeout = 5 * time.Second
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
}

type metrics struct {
	applied  metric.Int64Counter
	rejected metric.Int64Counter
	reversed metric.Int64Counter
	duration metric.Float64Histogram
}

// Service commits and reverses redemptions. Each call is one unit of work:
// either everything is applied or nothing is.
type Service struct {
	txm       TxManager
	evaluator *coupon.Evaluator
	txTimeout time.Duration
	tracer    trace.Tracer
	metrics   metrics
}

// NewService creates a Service.
func NewService(txm TxManager, evaluator *coupon.Evaluator, opts Options) (*Service, error) {
	opts.setDefaults()

	meter := opts.MeterProvider.Meter(instrumentationName)
	var (
		m   metrics
		err error
	)
	if m.applied, err = meter.Int64Counter("coupon.redemptions.applied",
		metric.WithDescription("Committed coupon redemptions"),
	); err != nil {
		return nil, errors.Wrap(err, "applied counter")
	}
	if m.rejected, err = meter.Int64Counter("coupon.redemptions.rejected",
		metric.WithDescription("Redemptions rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "rejected counter")
	}
	if m.reversed, err = meter.Int64Counter("coupon.redemptions.reversed",
		metric.WithDescription("Reversed coupon redemptions"),
	); err != nil {
		return nil, errors.Wrap(err, "reversed counter")
	}
	if m.duration, err = meter.Float64Histogram("coupon.redemption.duration",
		metric.WithDescription("Duration of redemption units of work"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}

	return &Service{
		txm:       txm,
		evaluator: evaluator,
		txTimeout: opts.TxTimeout,
		tracer:    opts.TracerProvider.Tracer(instrumentationName),
		metrics:   m,
	}, nil
}

// Apply re-validates the coupon against current state, takes one use with a
// guarded increment and records the usage row for the order.
//
// Business failures come back as *coupon.IneligibleError,
// ErrConcurrencyConflict, ErrAlreadyRedeemed or coupon.ErrCouponNotFound.
// Anything else is a *PersistenceError.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (_ *Redemption, rerr error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "redemption.Apply", trace.WithAttributes(
		attribute.String("coupon.id", req.CouponID),
		attribute.String("order.id", req.OrderID),
	))
	defer func() { s.observe(ctx, span, "apply", start, rerr) }()

	if req.CouponID == "" || req.UserID == "" || req.OrderID == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "coupon id, user id and order id are required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var out *Redemption
	err := RunInTx(ctx, s.txm, func(ctx context.Context, l Ledger) error {
		c, err := l.GetCoupon(ctx, req.CouponID)
		if err != nil {
			return errors.Wrap(err, "get coupon")
		}

		switch _, err := l.FindUsageByOrder(ctx, req.OrderID); {
		case err == nil:
			return ErrAlreadyRedeemed
		case !errors.Is(err, ErrUsageNotFound):
			return errors.Wrap(err, "find usage")
		}

		used, err := l.CountUserUsages(ctx, c.ID, req.UserID)
		if err != nil {
			return errors.Wrap(err, "count user usages")
		}
		elig := s.evaluator.Evaluate(coupon.EligibilityInput{
			UserID:     req.UserID,
			Coupon:     c,
			Order:      &req.Order,
			UserUsages: used,
		})
		if !elig.Eligible() {
			return coupon.Ineligible(c.Code, elig.Reason)
		}
		discount := coupon.Calculate(c, req.Order.Subtotal, req.Order.Items)

		ok, err := l.IncrementUsedCount(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "increment used count")
		}
		if !ok {
			return ErrConcurrencyConflict
		}

		// The increment holds the coupon row until commit, so a racing
		// redemption by the same user is visible from here on.
		used, err = l.CountUserUsages(ctx, c.ID, req.UserID)
		if err != nil {
			return errors.Wrap(err, "recount user usages")
		}
		if used >= c.PerUserLimit() {
			return coupon.Ineligible(c.Code, coupon.ReasonPerUserCapReached)
		}

		usage := &Usage{
			ID:             uuid.NewString(),
			CouponID:       c.ID,
			CouponCode:     c.Code,
			UserID:         req.UserID,
			OrderID:        req.OrderID,
			DiscountAmount: discount.Amount,
			OrderTotal:     req.Order.Subtotal,
			UsedAt:         s.evaluator.Now().UTC(),
		}
		inserted, err := l.InsertUsage(ctx, usage)
		if err != nil {
			return errors.Wrap(err, "insert usage")
		}
		if !inserted {
			return ErrAlreadyRedeemed
		}

		c.UsedCount++
		out = &Redemption{Usage: *usage, Coupon: c, Discount: discount}
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, "apply coupon", err)
	}
	return out, nil
}

// Remove reverses the redemption recorded for orderID. An order without a
// usage row is a successful no-op.
func (s *Service) Remove(ctx context.Context, orderID string) (_ *Reversal, rerr error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "redemption.Remove", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() { s.observe(ctx, span, "remove", start, rerr) }()

	if orderID == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "order id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	out := &Reversal{}
	err := RunInTx(ctx, s.txm, func(ctx context.Context, l Ledger) error {
		u, err := l.FindUsageByOrder(ctx, orderID)
		if errors.Is(err, ErrUsageNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "find usage")
		}
		if err := l.DeleteUsage(ctx, u.ID); err != nil {
			if errors.Is(err, ErrUsageNotFound) {
				return nil
			}
			return errors.Wrap(err, "delete usage")
		}
		if err := l.DecrementUsedCount(ctx, u.CouponID); err != nil {
			return errors.Wrap(err, "decrement used count")
		}
		out.Removed = true
		out.Usage = u
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, "remove coupon", err)
	}
	if out.Removed {
		s.metrics.reversed.Add(ctx, 1)
	}
	return out, nil
}

func (s *Service) classify(ctx context.Context, op string, err error) error {
	if isBusiness(err) {
		return err
	}
	zctx.From(ctx).Warn("Redemption storage failure", zap.String("op", op), zap.Error(err))
	return &PersistenceError{Op: op, Err: err}
}

// outcome maps an operation result to a low-cardinality label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if r, ok := coupon.ReasonOf(err); ok {
		return string(r)
	}
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, coupon.ErrCouponNotFound):
		return "coupon_not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}

func (s *Service) observe(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	defer span.End()

	result := outcome(err)
	s.metrics.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", result),
	))
	span.SetAttributes(attribute.String("outcome", result))

	switch {
	case err == nil && op == "apply":
		s.metrics.applied.Add(ctx, 1)
	case op == "apply" && isBusiness(err):
		s.metrics.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", result)))
	}

	if err != nil && !isBusiness(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
