package tasks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeSyncProduct       = "catalog:sync_product"
	TypeSyncPrice         = "catalog:sync_price"
	TypeDeactivatePrice   = "catalog:deactivate_price"
	TypeSyncCoupon        = "catalog:sync_coupon"
	TypeDeleteCoupon      = "catalog:delete_coupon"
	TypeSubscriptionSweep = "billing:subscription_sweep"
)

// Enqueuer is the part of *asynq.Client the API needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ Enqueuer = (*asynq.Client)(nil)

// ProductPayload names a product to push to the payment provider.
type ProductPayload struct {
	ProductID uuid.UUID `json:"product_id"`
}

// PricePayload names a product price to push to or retire at the provider.
type PricePayload struct {
	PriceID uuid.UUID `json:"price_id"`
}

// CouponPayload names a coupon to push to or delete at the provider.
type CouponPayload struct {
	CouponID uuid.UUID `json:"coupon_id"`
}

// Catalog tasks are keyed by the row they sync so that a double submit
// while one is still queued collapses into a single task.
func catalogTask(typename string, id uuid.UUID, payload interface{}) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, data,
		asynq.TaskID(typename+":"+id.String()),
		asynq.MaxRetry(10),
		asynq.Queue("default"),
	), nil
}

func NewSyncProductTask(productID uuid.UUID) (*asynq.Task, error) {
	return catalogTask(TypeSyncProduct, productID, ProductPayload{ProductID: productID})
}

func NewSyncPriceTask(priceID uuid.UUID) (*asynq.Task, error) {
	return catalogTask(TypeSyncPrice, priceID, PricePayload{PriceID: priceID})
}

func NewDeactivatePriceTask(priceID uuid.UUID) (*asynq.Task, error) {
	return catalogTask(TypeDeactivatePrice, priceID, PricePayload{PriceID: priceID})
}

func NewSyncCouponTask(couponID uuid.UUID) (*asynq.Task, error) {
	return catalogTask(TypeSyncCoupon, couponID, CouponPayload{CouponID: couponID})
}

func NewDeleteCouponTask(couponID uuid.UUID) (*asynq.Task, error) {
	return catalogTask(TypeDeleteCoupon, couponID, CouponPayload{CouponID: couponID})
}

// NewSubscriptionSweepTask is empty - the sweep checks every overdue subscription
func NewSubscriptionSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSubscriptionSweep, nil, asynq.MaxRetry(0), asynq.Queue("low"))
}
