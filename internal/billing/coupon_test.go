package billing_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestCoupons_ConcurrentRedeemHonoursLimit(t *testing.T) {
	ts := testutil.NewTestContext(t)
	ctx := testutil.TestContext(t)
	coupons := billing.NewCoupons(ts.DB, nil)
	testutil.CreateTestCoupon(t, ts.DB, "LAUNCH", intPtr(1))

	const workers = 10
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		redeemed    int
		unavailable int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coupons.Redeem(ctx, "launch")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				redeemed++
			case errors.Is(err, billing.ErrCouponUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, redeemed)
	assert.Equal(t, workers-1, unavailable)

	var coupon models.Coupon
	require.NoError(t, ts.DB.Where("code = ?", "LAUNCH").First(&coupon).Error)
	assert.Equal(t, 1, coupon.UsageCount)
}

func TestCoupons_Validate(t *testing.T) {
	ts := testutil.NewTestContext(t)
	ctx := testutil.TestContext(t)
	coupons := billing.NewCoupons(ts.DB, nil)

	testutil.CreateTestCoupon(t, ts.DB, "OPEN", nil)

	expired := testutil.CreateTestCoupon(t, ts.DB, "EXPIRED", nil)
	require.NoError(t, ts.DB.Model(expired).Update("expires_at", time.Now().UTC().Add(-time.Hour)).Error)

	inactive := testutil.CreateTestCoupon(t, ts.DB, "OFF", nil)
	require.NoError(t, ts.DB.Model(inactive).Update("active", false).Error)

	used := testutil.CreateTestCoupon(t, ts.DB, "USED", intPtr(2))
	require.NoError(t, ts.DB.Model(used).Update("usage_count", 2).Error)

	unsynced := testutil.CreateTestCoupon(t, ts.DB, "LOCAL", nil)
	require.NoError(t, ts.DB.Model(unsynced).Update("external_coupon_id", nil).Error)

	tests := []struct {
		code string
		ok   bool
	}{
		{"OPEN", true},
		{" open ", true},
		{"EXPIRED", false},
		{"OFF", false},
		{"USED", false},
		{"LOCAL", false},
		{"NOPE", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c, err := coupons.Validate(ctx, tt.code)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "OPEN", c.Code)
				return
			}
			assert.ErrorIs(t, err, billing.ErrCouponUnavailable)
		})
	}
}

func TestCoupons_Release(t *testing.T) {
	ts := testutil.NewTestContext(t)
	ctx := testutil.TestContext(t)
	coupons := billing.NewCoupons(ts.DB, nil)
	testutil.CreateTestCoupon(t, ts.DB, "ONCE", intPtr(1))

	_, err := coupons.Redeem(ctx, "ONCE")
	require.NoError(t, err)
	_, err = coupons.Redeem(ctx, "ONCE")
	require.ErrorIs(t, err, billing.ErrCouponUnavailable)

	require.NoError(t, coupons.Release(ctx, "ONCE"))
	_, err = coupons.Redeem(ctx, "ONCE")
	require.NoError(t, err)

	// Releasing below zero is a no-op.
	require.NoError(t, coupons.Release(ctx, "ONCE"))
	require.NoError(t, coupons.Release(ctx, "ONCE"))
	var coupon models.Coupon
	require.NoError(t, ts.DB.Where("code = ?", "ONCE").First(&coupon).Error)
	assert.Zero(t, coupon.UsageCount)
}
