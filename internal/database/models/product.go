package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Product is a purchasable bundle of permissions. Products are deactivated,
// never hard deleted, once anyone has subscribed to them.
type Product struct {
	Base
	Name        string                          `gorm:"not null" json:"name"`
	Description string                          `json:"description"`
	Active      bool                            `gorm:"not null" json:"active"`
	Archived    bool                            `gorm:"not null" json:"archived"`
	Permissions datatypes.JSONType[Permissions] `gorm:"not null" json:"permissions"`

	ExternalProductID *string `gorm:"uniqueIndex" json:"external_product_id,omitempty"`

	Prices []ProductPrice `gorm:"foreignKey:ProductID" json:"prices,omitempty"`
}

func (Product) TableName() string {
	return "products"
}

// Purchasable reports whether new subscriptions may be sold for the product.
func (p *Product) Purchasable() bool {
	return p.Active && !p.Archived
}

type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

func (i BillingInterval) Valid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// ProductPrice is one recurring price point of a product. Amount is in the
// currency's minor unit.
type ProductPrice struct {
	Base
	ProductID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	AmountCents   int64           `gorm:"not null" json:"amount_cents"`
	Currency      string          `gorm:"not null;default:'usd'" json:"currency"`
	Interval      BillingInterval `gorm:"not null" json:"interval"`
	IntervalCount int             `gorm:"not null;default:1" json:"interval_count"`
	Active        bool            `gorm:"not null" json:"active"`
	Archived      bool            `gorm:"not null" json:"archived"`

	ExternalPriceID *string `gorm:"uniqueIndex" json:"external_price_id,omitempty"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (ProductPrice) TableName() string {
	return "product_prices"
}
