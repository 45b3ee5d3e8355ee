package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "ACTIVE"
	SubscriptionCanceled   SubscriptionStatus = "CANCELED"
	SubscriptionPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionIncomplete SubscriptionStatus = "INCOMPLETE"
	SubscriptionTrialing   SubscriptionStatus = "TRIALING"
)

// Subscription is the local mirror of a provider subscription. Rows are
// written only by the billing reconciler and are never deleted.
// LastCheckedAt is sweep bookkeeping, stamped whenever the sweeper refetches
// the row from the provider.
type Subscription struct {
	Record
	OrganizationID     uuid.UUID          `gorm:"type:uuid;not null;index" json:"organization_id"`
	ProductID          uuid.UUID          `gorm:"type:uuid;not null;index" json:"product_id"`
	ProductPriceID     uuid.UUID          `gorm:"type:uuid;not null" json:"product_price_id"`
	UserID             *uuid.UUID         `gorm:"type:uuid" json:"user_id,omitempty"`
	Status             SubscriptionStatus `gorm:"not null;index" json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `gorm:"index" json:"current_period_end"`
	CancelAtPeriodEnd  bool               `gorm:"not null" json:"cancel_at_period_end"`
	LastCheckedAt      *time.Time         `gorm:"index" json:"-"`

	ExternalSubscriptionID string `gorm:"uniqueIndex;not null" json:"external_subscription_id"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

type TransactionStatus string

const (
	TransactionSucceeded TransactionStatus = "SUCCEEDED"
)

// Transaction is an append-only payment record. ExternalPaymentID is the
// provider payment intent id, or the invoice id when the invoice settled
// without one; its uniqueness makes redelivered invoices a no-op.
type Transaction struct {
	Record
	OrganizationID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"organization_id"`
	SubscriptionID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"subscription_id"`
	UserID            *uuid.UUID        `gorm:"type:uuid" json:"user_id,omitempty"`
	AmountCents       int64             `gorm:"not null" json:"amount_cents"`
	Currency          string            `gorm:"not null" json:"currency"`
	Status            TransactionStatus `gorm:"not null" json:"status"`
	ExternalPaymentID string            `gorm:"uniqueIndex;not null" json:"external_payment_id"`
	ExternalInvoiceID string            `gorm:"index" json:"external_invoice_id"`
}

func (Transaction) TableName() string {
	return "transactions"
}
