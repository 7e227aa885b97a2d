// Command coupon-import loads coupon definitions from JSON-lines files,
// optionally gzip-compressed, into the catalog. Codes that occur more than
// once across the input are skipped, since no definition can be preferred.
package main

import (
	"context"
	"flag"
	"os"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/storage/postgres"
	"github.com/xenking/coupon-engine/internal/wire"
)

type options struct {
	databaseURL string
	workers     int
	expected    uint
	update      bool
	dryRun      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.workers, "workers", 4, "files imported concurrently")
	flag.UintVar(&opts.expected, "expected", 1_000_000, "expected codes per file, sizes the bloom filters")
	flag.BoolVar(&opts.update, "update", false, "overwrite coupons whose code already exists")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate without writing")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	files := flag.Args()

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if len(files) == 0 {
			return errors.New("no input files: pass one or more .jsonl or .jsonl.gz paths")
		}
		if opts.databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}

		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: opts.databaseURL})
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return err
		}

		repo := postgres.NewCouponRepository(pool)
		im := &importer{
			admin:   coupon.NewAdmin(repo),
			catalog: repo,
			update:  opts.update,
			dryRun:  opts.dryRun,
			lg:      lg,
		}
		return im.run(ctx, files, opts.workers, opts.expected)
	})
}

type counters struct {
	read, created, updated, existing, duplicate, invalid atomic.Int64
}

type importer struct {
	admin   *coupon.Admin
	catalog coupon.Catalog
	update  bool
	dryRun  bool
	lg      *zap.Logger

	stats counters
}

func (im *importer) run(ctx context.Context, files []string, workers int, expected uint) error {
	im.lg.Info("Scanning for duplicate codes", zap.Int("files", len(files)))
	dups, err := findDuplicates(ctx, files, expected)
	if err != nil {
		return errors.Wrap(err, "find duplicates")
	}
	for code, n := range dups {
		im.lg.Warn("Skipping duplicated code", zap.String("code", code), zap.Int("occurrences", n))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, path := range files {
		g.Go(func() error {
			return im.importFile(gctx, path, dups)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	im.lg.Info("Import finished",
		zap.Int64("read", im.stats.read.Load()),
		zap.Int64("created", im.stats.created.Load()),
		zap.Int64("updated", im.stats.updated.Load()),
		zap.Int64("existing", im.stats.existing.Load()),
		zap.Int64("duplicate", im.stats.duplicate.Load()),
		zap.Int64("invalid", im.stats.invalid.Load()),
		zap.Bool("dry_run", im.dryRun),
	)
	return nil
}

func (im *importer) importFile(ctx context.Context, path string, dups map[string]int) error {
	lg := im.lg.With(zap.String("file", path))
	line := 0
	err := streamLines(ctx, path, func(raw []byte) error {
		line++
		im.stats.read.Add(1)

		c, err := wire.DecodeCoupon(jx.DecodeBytes(raw))
		if err != nil {
			im.stats.invalid.Add(1)
			lg.Warn("Skipping undecodable line", zap.Int("line", line), zap.Error(err))
			return nil
		}
		if _, ok := dups[coupon.NormalizeCode(c.Code)]; ok {
			im.stats.duplicate.Add(1)
			return nil
		}
		return im.save(ctx, lg.With(zap.Int("line", line)), c)
	})
	if err != nil {
		return errors.Wrapf(err, "import %s", path)
	}
	return nil
}

// save creates c, or replaces the stored coupon with the same code when
// updates are enabled.
func (im *importer) save(ctx context.Context, lg *zap.Logger, c *coupon.Coupon) error {
	existing, err := im.catalog.FindByCode(ctx, c.Code)
	switch {
	case err == nil:
		if !im.update {
			im.stats.existing.Add(1)
			return nil
		}
		c.ID = existing.ID
	case !errors.Is(err, coupon.ErrCouponNotFound):
		return errors.Wrapf(err, "find coupon %q", c.Code)
	}

	if im.dryRun {
		c.Normalize()
		if err := c.Validate(); err != nil {
			im.stats.invalid.Add(1)
			lg.Warn("Invalid definition", zap.String("code", c.Code), zap.Error(err))
		}
		return nil
	}

	if existing != nil {
		_, err = im.admin.Update(ctx, c)
	} else {
		_, err = im.admin.Create(ctx, c)
	}
	switch {
	case err == nil:
		if existing != nil {
			im.stats.updated.Add(1)
		} else {
			im.stats.created.Add(1)
		}
		return nil
	case errors.Is(err, coupon.ErrInvalidDefinition):
		im.stats.invalid.Add(1)
		lg.Warn("Invalid definition", zap.String("code", c.Code), zap.Error(err))
		return nil
	case errors.Is(err, coupon.ErrDuplicateCode):
		im.stats.existing.Add(1)
		return nil
	default:
		return errors.Wrapf(err, "save coupon %q", c.Code)
	}
}
