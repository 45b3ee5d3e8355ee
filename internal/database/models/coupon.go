package models

import "time"

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// Coupon is a promotion code. Value is a percentage for PERCENTAGE coupons
// and an amount in minor units for FIXED ones. UsageCount only ever moves
// through a conditional increment so it cannot pass UsageLimit.
type Coupon struct {
	Base
	Code         string       `gorm:"uniqueIndex;not null" json:"code"`
	DiscountType DiscountType `gorm:"not null" json:"discount_type"`
	Value        int64        `gorm:"not null" json:"value"`
	Currency     string       `gorm:"not null;default:'usd'" json:"currency"`
	UsageLimit   *int         `json:"usage_limit,omitempty"`
	UsageCount   int          `gorm:"not null;default:0" json:"usage_count"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	Active       bool         `gorm:"not null" json:"active"`

	ExternalCouponID *string `gorm:"uniqueIndex" json:"external_coupon_id,omitempty"`
}

func (Coupon) TableName() string {
	return "coupons"
}
