package dto

import (
	"time"

	"github.com/hugh/go-tenant/internal/database/models"
)

type CreateProductRequest struct {
	Name        string             `json:"name" validate:"required,max=128"`
	Description string             `json:"description,omitempty" validate:"max=1024"`
	Permissions models.Permissions `json:"permissions" validate:"required"`
}

type CreatePriceRequest struct {
	AmountCents   int64  `json:"amount_cents" validate:"gt=0"`
	Currency      string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Interval      string `json:"interval" validate:"required,interval"`
	IntervalCount int    `json:"interval_count,omitempty" validate:"omitempty,gte=1,lte=12"`
}

type CreateCouponRequest struct {
	Code         string     `json:"code" validate:"required,max=64,alphanum"`
	DiscountType string     `json:"discount_type" validate:"required,oneof=PERCENTAGE FIXED"`
	Value        int64      `json:"value" validate:"gt=0"`
	Currency     string     `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	UsageLimit   *int       `json:"usage_limit,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// CatalogResponse is returned by admin writes. SyncTaskID names the queued
// provider sync, empty when no queue is configured.
type CatalogResponse struct {
	ID         string `json:"id"`
	SyncTaskID string `json:"sync_task_id,omitempty"`
}

// UpdateProductRequest changes only the fields that are present.
type UpdateProductRequest struct {
	Name        *string             `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	Description *string             `json:"description,omitempty" validate:"omitempty,max=1024"`
	Permissions *models.Permissions `json:"permissions,omitempty"`
	Active      *bool               `json:"active,omitempty"`
}

// UpdateCouponRequest toggles whether a coupon can still be redeemed.
type UpdateCouponRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type PriceResponse struct {
	ID            string `json:"id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Interval      string `json:"interval"`
	IntervalCount int    `json:"interval_count"`
}

type ProductResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Permissions models.Permissions `json:"permissions"`
	Prices      []PriceResponse    `json:"prices"`
}

// ProductToResponse expects Prices to be preloaded with the purchasable
// prices only.
func ProductToResponse(p *models.Product) ProductResponse {
	resp := ProductResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		Permissions: p.Permissions.Data(),
		Prices:      []PriceResponse{},
	}
	for _, price := range p.Prices {
		resp.Prices = append(resp.Prices, PriceResponse{
			ID:            price.ID.String(),
			AmountCents:   price.AmountCents,
			Currency:      price.Currency,
			Interval:      string(price.Interval),
			IntervalCount: price.IntervalCount,
		})
	}
	return resp
}

// CouponResponse is what a member learns about a code before checkout.
type CouponResponse struct {
	Code         string     `json:"code"`
	DiscountType string     `json:"discount_type"`
	Value        int64      `json:"value"`
	Currency     string     `json:"currency,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func CouponToResponse(c *models.Coupon) CouponResponse {
	resp := CouponResponse{
		Code:         c.Code,
		DiscountType: string(c.DiscountType),
		Value:        c.Value,
		ExpiresAt:    c.ExpiresAt,
	}
	if c.DiscountType == models.DiscountFixed {
		resp.Currency = c.Currency
	}
	return resp
}
