// Command coupon-audit compares each coupon's used count with its live
// usage rows and, with --repair, rewrites drifted counts.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/redemption"
	"github.com/xenking/coupon-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		repair      bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&repair, "repair", false, "set drifted used counts to the live usage count")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: databaseURL, MaxConns: 2})
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		_, err = audit(ctx, lg, postgres.NewAuditor(pool), repair)
		return err
	})
}

// audit logs every drifted coupon and returns how many were found.
func audit(ctx context.Context, lg *zap.Logger, a redemption.Auditor, repair bool) (int, error) {
	var (
		drift []redemption.Drift
		err   error
	)
	if repair {
		drift, err = a.Repair(ctx)
	} else {
		drift, err = a.Drift(ctx)
	}
	if err != nil {
		return 0, errors.Wrap(err, "audit")
	}

	msg := "Used count drift"
	if repair {
		msg = "Used count repaired"
	}
	for _, d := range drift {
		lg.Warn(msg,
			zap.String("coupon_id", d.CouponID),
			zap.String("code", d.Code),
			zap.Int("used_count", d.UsedCount),
			zap.Int("live_usages", d.LiveUsages),
		)
	}
	lg.Info("Audit finished", zap.Int("drifted", len(drift)), zap.Bool("repair", repair))
	return len(drift), nil
}
