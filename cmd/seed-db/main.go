// Command seed-db loads a demo catalog, a set of example coupons and an API
// key into PostgreSQL.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/app"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/product"
	"github.com/xenking/coupon-engine/internal/storage/postgres"
	"github.com/xenking/coupon-engine/internal/wire"
)

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "", "optional JSON array of products to load instead of the demo catalog")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or COUPON_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPON_API_KEY_PEPPER env)")
	flag.Parse()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "COUPON_SEED_API_KEY")
	opts.apiKeyPepper = orEnv(opts.apiKeyPepper, "COUPON_API_KEY_PEPPER")

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		switch {
		case opts.databaseURL == "":
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		case opts.apiKey == "":
			return errors.New("API key is required: set --api-key or COUPON_SEED_API_KEY")
		case opts.apiKeyPepper == "":
			return errors.New("API key pepper is required: set --api-key-pepper or COUPON_API_KEY_PEPPER")
		}
		return run(ctx, lg, opts)
	})
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: opts.databaseURL})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}

	products := demoProducts
	if opts.productsFile != "" {
		if products, err = readProducts(opts.productsFile); err != nil {
			return err
		}
	}
	if err := postgres.NewProductRepository(pool).Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Seeded products", zap.Int("count", len(products)))

	admin := coupon.NewAdmin(postgres.NewCouponRepository(pool))
	if err := seedCoupons(ctx, lg, admin, time.Now()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	key := &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    "Default key",
		Scopes:  []string{auth.ScopeRedeem, auth.ScopeAdmin},
	}
	if err := postgres.NewAPIKeyRepository(pool).Save(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Seeded API key", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))

	lg.Info("Seed completed")
	return nil
}

func readProducts(path string) ([]product.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}
	var out []product.Product
	if err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p, err := wire.DecodeProduct(d)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "parse products file")
	}
	return out, nil
}

// seedCoupons creates the demo coupons. Codes that already exist are left
// untouched so the command can be rerun.
func seedCoupons(ctx context.Context, lg *zap.Logger, admin *coupon.Admin, now time.Time) error {
	for _, c := range demoCoupons(now) {
		_, err := admin.Create(ctx, c)
		switch {
		case err == nil:
			lg.Info("Seeded coupon", zap.String("code", c.Code), zap.String("description", c.Description))
		case errors.Is(err, coupon.ErrDuplicateCode):
			lg.Info("Coupon already exists", zap.String("code", c.Code))
		default:
			return errors.Wrapf(err, "create coupon %s", c.Code)
		}
	}
	return nil
}

var demoProducts = []product.Product{
	{ID: "1", Name: "Waffle with Berries", Price: decimal.RequireFromString("6.50"), CategoryID: "waffle"},
	{ID: "2", Name: "Vanilla Bean Crème Brûlée", Price: decimal.RequireFromString("7.00"), CategoryID: "creme-brulee"},
	{ID: "3", Name: "Macaron Mix of Five", Price: decimal.RequireFromString("8.00"), CategoryID: "macaron"},
	{ID: "4", Name: "Classic Tiramisu", Price: decimal.RequireFromString("5.50"), CategoryID: "tiramisu"},
	{ID: "5", Name: "Pistachio Baklava", Price: decimal.RequireFromString("4.00"), CategoryID: "baklava"},
	{ID: "6", Name: "Lemon Meringue Pie", Price: decimal.RequireFromString("5.00"), CategoryID: "pie"},
	{ID: "7", Name: "Red Velvet Cake", Price: decimal.RequireFromString("4.50"), CategoryID: "cake"},
	{ID: "8", Name: "Salted Caramel Brownie", Price: decimal.RequireFromString("4.50"), CategoryID: "brownie"},
	{ID: "9", Name: "Vanilla Panna Cotta", Price: decimal.RequireFromString("6.50"), CategoryID: "panna-cotta"},
}

func demoCoupons(now time.Time) []*coupon.Coupon {
	start := now.Add(-24 * time.Hour).UTC()
	end := now.AddDate(1, 0, 0).UTC()
	maxUsage := 1000
	return []*coupon.Coupon{
		{
			Code:           "WELCOME10",
			Description:    "10% off orders over 20.00, up to 15.00",
			DiscountType:   coupon.DiscountPercentage,
			Value:          decimal.NewFromInt(10),
			MaxDiscount:    decimal.NewNullDecimal(decimal.NewFromInt(15)),
			MinOrderAmount: decimal.NewFromInt(20),
			MaxUsage:       &maxUsage,
			StartDate:      start,
			EndDate:        end,
			Priority:       10,
			IsActive:       true,
		},
		{
			Code:                 "WAFFLE5",
			Description:          "5.00 off waffles",
			DiscountType:         coupon.DiscountFixed,
			Value:                decimal.NewFromInt(5),
			ApplicableCategories: []string{"waffle"},
			StartDate:            start,
			EndDate:              end,
			Priority:             5,
			IsActive:             true,
		},
		{
			Code:         "HAPPYHOURS",
			Description:  "18% off the entire order",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(18),
			StartDate:    start,
			EndDate:      end,
			IsActive:     true,
		},
	}
}
