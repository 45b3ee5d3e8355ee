package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/metrics"
	"gorm.io/gorm"
)

// Coupons validates and redeems promotion codes. Redemption is a single
// conditional UPDATE, so the usage limit holds under concurrent checkouts.
type Coupons struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCoupons(db *gorm.DB, m *metrics.Metrics) *Coupons {
	return &Coupons{db: db, metrics: m, now: time.Now}
}

// NormalizeCode is the canonical form coupon codes are stored and looked up in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// redeemable restricts a coupon query to codes that can be applied now.
func redeemable(q *gorm.DB, code string, now time.Time) *gorm.DB {
	return q.Where("code = ?", NormalizeCode(code)).
		Where("active = ?", true).
		Where("external_coupon_id IS NOT NULL").
		Where("expires_at IS NULL OR expires_at > ?", now.UTC())
}

// Validate returns the coupon if it could be redeemed right now. It does
// not reserve a use; a later Redeem can still lose the race for the last one.
func (c *Coupons) Validate(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := redeemable(c.db.WithContext(ctx), code, c.now()).
		Where("usage_limit IS NULL OR usage_count < usage_limit").
		First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCouponUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("querying coupon: %w", err)
	}
	return &coupon, nil
}

// Redeem consumes one use of the coupon. It fails with ErrCouponUnavailable
// when the code is unknown, inactive, expired or used up.
func (c *Coupons) Redeem(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := redeemable(tx.Model(&models.Coupon{}), code, c.now()).
			Where("usage_limit IS NULL OR usage_count < usage_limit").
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("redeeming coupon: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrCouponUnavailable
		}
		return tx.Where("code = ?", NormalizeCode(code)).First(&coupon).Error
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrCouponUnavailable) {
			outcome = "unavailable"
		}
		c.metrics.CouponRedemption(outcome)
		return nil, err
	}
	c.metrics.CouponRedemption("redeemed")
	return &coupon, nil
}

// Release gives back one use taken by Redeem when the checkout it was
// taken for could not be created.
func (c *Coupons) Release(ctx context.Context, code string) error {
	res := c.db.WithContext(ctx).Model(&models.Coupon{}).
		Where("code = ? AND usage_count > 0", NormalizeCode(code)).
		UpdateColumn("usage_count", gorm.Expr("usage_count - ?", 1))
	if res.Error != nil {
		return fmt.Errorf("releasing coupon: %w", res.Error)
	}
	c.metrics.CouponRedemption("released")
	return nil
}
