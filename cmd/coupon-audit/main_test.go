package main

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/coupon-engine/internal/domain/redemption"
)

type stubAuditor struct {
	drift    []redemption.Drift
	err      error
	repaired bool
}

func (s *stubAuditor) Drift(context.Context) ([]redemption.Drift, error) {
	return s.drift, s.err
}

func (s *stubAuditor) Repair(context.Context) ([]redemption.Drift, error) {
	s.repaired = true
	return s.drift, s.err
}

func TestAudit(t *testing.T) {
	drift := []redemption.Drift{
		{CouponID: "c1", Code: "SAVE10", UsedCount: 3, LiveUsages: 2},
		{CouponID: "c2", Code: "FIVE", UsedCount: 0, LiveUsages: 1},
	}

	tests := []struct {
		name    string
		repair  bool
		message string
	}{
		{name: "report", repair: false, message: "Used count drift"},
		{name: "repair", repair: true, message: "Used count repaired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			a := &stubAuditor{drift: drift}

			n, err := audit(context.Background(), zap.New(core), a, tt.repair)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, tt.repair, a.repaired)
			assert.Equal(t, 2, logs.FilterMessage(tt.message).Len())
			assert.Equal(t, 1, logs.FilterMessage("Audit finished").Len())
		})
	}
}

func TestAudit_Error(t *testing.T) {
	a := &stubAuditor{err: errors.New("boom")}
	_, err := audit(context.Background(), zap.NewNop(), a, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
