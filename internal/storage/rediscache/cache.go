// Package rediscache is a read-through cache of coupon definitions in front
// of a coupon.Catalog. Entries expire after a TTL and are dropped on admin
// writes. The redemption ledger never reads through it.
package rediscache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/wire"
)

var (
	_ coupon.Catalog     = (*Catalog)(nil)
	_ coupon.Invalidator = (*Catalog)(nil)
)

// Options configures Catalog.
type Options struct {
	// TTL bounds how stale a cached definition may get. Defaults to 30s.
	TTL time.Duration
	// Prefix namespaces keys. Defaults to "coupon:".
	Prefix string
}

// Catalog caches FindByCode and GetByID. ListActive goes to the source.
type Catalog struct {
	next   coupon.Catalog
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	group  singleflight.Group
}

// New wraps next with a cache stored in client.
func New(next coupon.Catalog, client redis.UniversalClient, opts Options) *Catalog {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "coupon:"
	}
	return &Catalog{
		next:   next,
		client: client,
		ttl:    opts.TTL,
		prefix: opts.Prefix,
	}
}

func (c *Catalog) codeKey(code string) string { return c.prefix + "code:" + code }
func (c *Catalog) idKey(id string) string     { return c.prefix + "id:" + id }

// FindByCode implements coupon.Catalog.
func (c *Catalog) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	return c.load(ctx, c.codeKey(code), func(ctx context.Context) (*coupon.Coupon, error) {
		return c.next.FindByCode(ctx, code)
	})
}

// GetByID implements coupon.Catalog.
func (c *Catalog) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return c.load(ctx, c.idKey(id), func(ctx context.Context) (*coupon.Coupon, error) {
		return c.next.GetByID(ctx, id)
	})
}

// ListActive implements coupon.Catalog.
func (c *Catalog) ListActive(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	return c.next.ListActive(ctx, now)
}

// Invalidate implements coupon.Invalidator.
func (c *Catalog) Invalidate(ctx context.Context, cp *coupon.Coupon) error {
	if err := c.client.Del(ctx, c.codeKey(cp.Code), c.idKey(cp.ID)).Err(); err != nil {
		return errors.Wrapf(err, "invalidate coupon %q", cp.Code)
	}
	return nil
}

// load serves key from the cache, falling back to fetch. Concurrent misses
// of the same key share one fetch. A broken cache degrades to the source.
func (c *Catalog) load(ctx context.Context, key string, fetch func(context.Context) (*coupon.Coupon, error)) (*coupon.Coupon, error) {
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		cp, err := wire.DecodeCoupon(jx.DecodeBytes(data))
		if err == nil {
			return cp, nil
		}
		lg.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Coupon cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		cp, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return c.store(ctx, cp), nil
	})
	if err != nil {
		return nil, err
	}
	return wire.DecodeCoupon(jx.DecodeBytes(v.([]byte)))
}

// store writes the coupon under both keys and returns its encoding.
func (c *Catalog) store(ctx context.Context, cp *coupon.Coupon) []byte {
	var e jx.Encoder
	wire.EncodeCoupon(&e, cp)
	data := e.Bytes()

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.codeKey(cp.Code), data, c.ttl)
	pipe.Set(ctx, c.idKey(cp.ID), data, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		zctx.From(ctx).Warn("Coupon cache write failed", zap.String("code", cp.Code), zap.Error(err))
	}
	return data
}
