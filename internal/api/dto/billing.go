package dto

import (
	"time"

	"github.com/hugh/go-tenant/internal/database/models"
)

type CheckoutRequest struct {
	ProductPriceID string `json:"product_price_id" validate:"required,uuid"`
	PromotionCode  string `json:"promotion_code,omitempty" validate:"omitempty,max=64,alphanum"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

type SubscriptionResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	ProductID          string `json:"product_id"`
	ProductName        string `json:"product_name,omitempty"`
	ProductPriceID     string `json:"product_price_id"`
	CurrentPeriodStart string `json:"current_period_start"`
	CurrentPeriodEnd   string `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
}

func SubscriptionToResponse(sub *models.Subscription) SubscriptionResponse {
	resp := SubscriptionResponse{
		ID:                 sub.ID.String(),
		Status:             string(sub.Status),
		ProductID:          sub.ProductID.String(),
		ProductPriceID:     sub.ProductPriceID.String(),
		CurrentPeriodStart: sub.CurrentPeriodStart.UTC().Format(time.RFC3339),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Product != nil {
		resp.ProductName = sub.Product.Name
	}
	return resp
}

type TransactionResponse struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	InvoiceID   string `json:"invoice_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func TransactionToResponse(txn *models.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:          txn.ID.String(),
		AmountCents: txn.AmountCents,
		Currency:    txn.Currency,
		Status:      string(txn.Status),
		InvoiceID:   txn.ExternalInvoiceID,
		CreatedAt:   txn.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type RolePermissionsRequest struct {
	Permissions models.Permissions `json:"permissions" validate:"required"`
}

type RolePermissionsResponse struct {
	Role        string             `json:"role"`
	Permissions models.Permissions `json:"permissions"`
}
