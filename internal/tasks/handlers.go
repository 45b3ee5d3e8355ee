package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/pkg/util"
)

// Catalog is the provider sync the catalog tasks drive.
type Catalog interface {
	SyncProduct(ctx context.Context, productID uuid.UUID) (string, error)
	SyncPrice(ctx context.Context, priceID uuid.UUID) (string, error)
	DeactivatePrice(ctx context.Context, priceID uuid.UUID) error
	SyncCoupon(ctx context.Context, couponID uuid.UUID) (string, error)
	DeleteCoupon(ctx context.Context, couponID uuid.UUID) error
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*billing.SweepResult, error)
}

type Handler struct {
	catalog Catalog
	sweeper Sweeper
	logger  *slog.Logger
	now     func() time.Time
}

func NewHandler(catalog Catalog, sweeper Sweeper, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Handler{
		catalog: catalog,
		sweeper: sweeper,
		logger:  logger,
		now:     time.Now,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSyncProduct, h.HandleSyncProduct)
	mux.HandleFunc(TypeSyncPrice, h.HandleSyncPrice)
	mux.HandleFunc(TypeDeactivatePrice, h.HandleDeactivatePrice)
	mux.HandleFunc(TypeSyncCoupon, h.HandleSyncCoupon)
	mux.HandleFunc(TypeDeleteCoupon, h.HandleDeleteCoupon)
	mux.HandleFunc(TypeSubscriptionSweep, h.HandleSubscriptionSweep)
}

func decode(t *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// finish maps a sync error onto asynq's retry semantics. A row that no
// longer exists will not appear on retry.
func (h *Handler) finish(op string, id uuid.UUID, externalID string, err error) error {
	if errors.Is(err, billing.ErrNotFound) {
		h.logger.Warn("catalog row gone, dropping task", "op", op, "id", id)
		return fmt.Errorf("%s %s: %v: %w", op, id, err, asynq.SkipRetry)
	}
	if err != nil {
		h.logger.Error("catalog sync failed", "op", op, "id", id, "error", err)
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	h.logger.Info("catalog synced", "op", op, "id", id, "external_id", externalID)
	return nil
}

func (h *Handler) HandleSyncProduct(ctx context.Context, t *asynq.Task) error {
	var payload ProductPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	externalID, err := h.catalog.SyncProduct(ctx, payload.ProductID)
	return h.finish("sync product", payload.ProductID, externalID, err)
}

func (h *Handler) HandleSyncPrice(ctx context.Context, t *asynq.Task) error {
	var payload PricePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	externalID, err := h.catalog.SyncPrice(ctx, payload.PriceID)
	return h.finish("sync price", payload.PriceID, externalID, err)
}

func (h *Handler) HandleDeactivatePrice(ctx context.Context, t *asynq.Task) error {
	var payload PricePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	err := h.catalog.DeactivatePrice(ctx, payload.PriceID)
	return h.finish("deactivate price", payload.PriceID, "", err)
}

func (h *Handler) HandleSyncCoupon(ctx context.Context, t *asynq.Task) error {
	var payload CouponPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	externalID, err := h.catalog.SyncCoupon(ctx, payload.CouponID)
	return h.finish("sync coupon", payload.CouponID, externalID, err)
}

func (h *Handler) HandleDeleteCoupon(ctx context.Context, t *asynq.Task) error {
	var payload CouponPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	err := h.catalog.DeleteCoupon(ctx, payload.CouponID)
	return h.finish("delete coupon", payload.CouponID, "", err)
}

// HandleSubscriptionSweep runs one sweep. Per-subscription failures are
// counted, not returned; the next scheduled run picks them up.
func (h *Handler) HandleSubscriptionSweep(ctx context.Context, t *asynq.Task) error {
	res, err := h.sweeper.Sweep(ctx, h.now())
	if err != nil {
		h.logger.Error("subscription sweep failed", "error", err)
		return err
	}
	h.logger.Info("subscription sweep finished",
		"checked", res.Checked,
		"updated", res.Updated,
		"failed", res.Failed,
	)
	return nil
}
