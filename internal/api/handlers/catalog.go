package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-tenant/internal/api/dto"
	"github.com/hugh/go-tenant/internal/api/middleware"
	"github.com/hugh/go-tenant/internal/api/validation"
	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/hugh/go-tenant/internal/tasks"
	"github.com/hugh/go-tenant/pkg/util"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CatalogHandler serves the platform admin catalog. Writes are local; each
// one queues a task that pushes the row to the payment provider.
type CatalogHandler struct {
	db       *gorm.DB
	registry *entitlement.Registry
	queue    tasks.Enqueuer
	logger   *slog.Logger
}

// NewCatalogHandler accepts a nil queue, in which case nothing is synced.
func NewCatalogHandler(db *gorm.DB, registry *entitlement.Registry, queue tasks.Enqueuer, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &CatalogHandler{db: db, registry: registry, queue: queue, logger: logger}
}

func (h *CatalogHandler) enqueue(ctx context.Context, task *asynq.Task, err error) string {
	if err != nil {
		h.logger.Error("building sync task", "error", err)
		return ""
	}
	if h.queue == nil {
		return ""
	}
	info, err := h.queue.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return ""
	}
	if err != nil {
		h.logger.Error("failed to enqueue sync task", "type", task.Type(), "error", err)
		return ""
	}
	return info.ID
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

// CreateProduct handles POST /api/v1/admin/products
func (h *CatalogHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); errs != nil {
		writeValidationError(w, errs)
		return
	}
	if errs := validation.ValidatePermissions(req.Permissions); errs != nil {
		writeValidationError(w, errs)
		return
	}
	// Products grant tenants; anything past the tenant tier would never apply.
	if !h.registry.Tenant().Covers(req.Permissions) {
		writeValidationError(w, map[string]string{"permissions": "includes capabilities an organization cannot hold"})
		return
	}

	product := models.Product{
		Name:        validation.SanitizeString(req.Name),
		Description: validation.SanitizeString(req.Description),
		Active:      true,
		Permissions: datatypes.NewJSONType(req.Permissions),
	}
	if err := h.db.WithContext(r.Context()).Create(&product).Error; err != nil {
		h.logger.Error("creating product", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	task, err := tasks.NewSyncProductTask(product.ID)
	writeJSON(w, http.StatusCreated, dto.CatalogResponse{
		ID:         product.ID.String(),
		SyncTaskID: h.enqueue(r.Context(), task, err),
	})
}

// UpdateProduct handles PUT /api/v1/admin/products/{id}. Setting active to
// false stops new sales and suspends the grants of current subscribers
// until the product is reactivated.
func (h *CatalogHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseID(w, r)
	if !ok {
		return
	}

	var req dto.UpdateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); errs != nil {
		writeValidationError(w, errs)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = validation.SanitizeString(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = validation.SanitizeString(*req.Description)
	}
	if req.Permissions != nil {
		if errs := validation.ValidatePermissions(*req.Permissions); errs != nil {
			writeValidationError(w, errs)
			return
		}
		if !h.registry.Tenant().Covers(*req.Permissions) {
			writeValidationError(w, map[string]string{"permissions": "includes capabilities an organization cannot hold"})
			return
		}
		updates["permissions"] = datatypes.NewJSONType(*req.Permissions)
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		writeValidationError(w, map[string]string{"body": "no fields to update"})
		return
	}

	product, ok := h.loadProduct(w, r, productID)
	if !ok {
		return
	}
	if product.Archived {
		writeError(w, http.StatusConflict, "Product is archived")
		return
	}
	if err := h.db.WithContext(r.Context()).Model(product).Updates(updates).Error; err != nil {
		h.logger.Error("updating product", "product_id", product.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("product updated", "product_id", product.ID, "by", middleware.GetUserID(r.Context()))
	task, err := tasks.NewSyncProductTask(product.ID)
	writeJSON(w, http.StatusOK, dto.CatalogResponse{
		ID:         product.ID.String(),
		SyncTaskID: h.enqueue(r.Context(), task, err),
	})
}

// ArchiveProduct handles DELETE /api/v1/admin/products/{id}. The row is
// kept for the subscriptions that reference it, and its grants stop.
func (h *CatalogHandler) ArchiveProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseID(w, r)
	if !ok {
		return
	}

	result := h.db.WithContext(r.Context()).Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{"active": false, "archived": true})
	if result.Error != nil {
		h.logger.Error("archiving product", "product_id", productID, "error", result.Error)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}

	h.logger.Info("product archived", "product_id", productID, "by", middleware.GetUserID(r.Context()))
	task, err := tasks.NewSyncProductTask(productID)
	writeJSON(w, http.StatusOK, dto.CatalogResponse{
		ID:         productID.String(),
		SyncTaskID: h.enqueue(r.Context(), task, err),
	})
}

// ListProducts handles GET /api/v1/billing/products: the products an
// organization can subscribe to, each with its purchasable prices.
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	pagination := paginationFromRequest(r)
	query := h.db.WithContext(r.Context()).Model(&models.Product{}).
		Where("active = ? AND archived = ?", true, false)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("counting products", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var products []models.Product
	err := query.
		Preload("Prices", func(db *gorm.DB) *gorm.DB {
			return db.Where("active = ? AND archived = ? AND external_price_id IS NOT NULL", true, false).
				Order("amount_cents ASC")
		}).
		Order("name ASC").Order("id ASC").
		Offset(pagination.Offset()).
		Limit(pagination.PerPage).
		Find(&products).Error
	if err != nil {
		h.logger.Error("listing products", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	data := make([]dto.ProductResponse, len(products))
	for i := range products {
		data[i] = dto.ProductToResponse(&products[i])
	}
	writeJSON(w, http.StatusOK, dto.NewPage(pagination, data, total))
}

func (h *CatalogHandler) loadProduct(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*models.Product, bool) {
	var product models.Product
	if err := h.db.WithContext(r.Context()).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Product not found")
			return nil, false
		}
		h.logger.Error("loading product", "product_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return &product, true
}

// CreatePrice handles POST /api/v1/admin/products/{id}/prices
func (h *CatalogHandler) CreatePrice(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseID(w, r)
	if !ok {
		return
	}

	var req dto.CreatePriceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); errs != nil {
		writeValidationError(w, errs)
		return
	}

	product, ok := h.loadProduct(w, r, productID)
	if !ok {
		return
	}
	if product.Archived {
		writeError(w, http.StatusConflict, "Product is archived")
		return
	}

	price := models.ProductPrice{
		ProductID:     product.ID,
		AmountCents:   req.AmountCents,
		Currency:      currencyOrDefault(req.Currency),
		Interval:      models.BillingInterval(req.Interval),
		IntervalCount: max(req.IntervalCount, 1),
		Active:        true,
	}
	if err := h.db.WithContext(r.Context()).Create(&price).Error; err != nil {
		h.logger.Error("creating price", "product_id", product.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	task, err := tasks.NewSyncPriceTask(price.ID)
	writeJSON(w, http.StatusCreated, dto.CatalogResponse{
		ID:         price.ID.String(),
		SyncTaskID: h.enqueue(r.Context(), task, err),
	})
}

// DeactivatePrice handles DELETE /api/v1/admin/prices/{id}. Existing
// subscriptions keep the price; it can no longer be bought.
func (h *CatalogHandler) DeactivatePrice(w http.ResponseWriter, r *http.Request) {
	priceID, ok := parseID(w, r)
	if !ok {
		return
	}

	result := h.db.WithContext(r.Context()).Model(&models.ProductPrice{}).
		Where("id = ?", priceID).
		Updates(map[string]interface{}{"active": false, "archived": true})
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "Price not found")
		return
	}

	task, err := tasks.NewDeactivatePriceTask(priceID)
	writeJSON(w, http.StatusOK, dto.CatalogResponse{
		ID:         priceID.String(),
		SyncTaskID: h.enqueue(r.Context(), task, err),
	})
}

// CreateCoupon handles POST /api/v1/admin/coupons
func (h *CatalogHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); errs != nil {
		writeValidationError(w, errs)
		return
	}
	discount := models.DiscountType(req.DiscountType)
	if discount == models.DiscountPercentage && req.Value > 100 {
		writeValidationError(w, map[string]string{"value": "must be at most 100 for a percentage coupon"})
		return
	}

	code := billing.NormalizeCode(req.Code)
	var existing int64
	if err := h.db.WithContext(r.Context()).Unscoped().Model(&models.Coupon{}).
		Where("code = ?", code).Count(&existing).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if existing > 0 {
		writeError(w, http.StatusConflict, "Coupon code already exists")
		return
	}

	coupon := models.Coupon{
		Code:         code,
		DiscountType: discount,
		Value:        req.Value,
		Currency:     currencyOrDefault(req.Currency),
		UsageLimit:   req.UsageLimit,
		ExpiresAt:    req.ExpiresAt,
		Active:       true,
	}
	if err := h.db.WithContext(r.Context()).Create(&coupon).Error; err != nil {
		h.logger.Error("creating coupon", "code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("coupon created", "code", code, "by", middleware.GetUserID(r.Context()))
	task, err := tasks.NewSyncCouponTask(coupon.ID)
	writeJSON(w, http.StatusCreated, dto.CatalogResponse{
		ID:         coupon.ID.String(),
		SyncTaskID: h.enqueue(r.Context(), task, err),
	})
}

// UpdateCoupon handles PUT /api/v1/admin/coupons/{id}. An inactive coupon
// is refused at checkout; uses already counted stay counted.
func (h *CatalogHandler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	couponID, ok := parseID(w, r)
	if !ok {
		return
	}

	var req dto.UpdateCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); errs != nil {
		writeValidationError(w, errs)
		return
	}

	result := h.db.WithContext(r.Context()).Model(&models.Coupon{}).
		Where("id = ?", couponID).
		Update("active", *req.Active)
	if result.Error != nil {
		h.logger.Error("updating coupon", "coupon_id", couponID, "error", result.Error)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "Coupon not found")
		return
	}

	h.logger.Info("coupon updated", "coupon_id", couponID, "active", *req.Active, "by", middleware.GetUserID(r.Context()))
	task, err := tasks.NewSyncCouponTask(couponID)
	writeJSON(w, http.StatusOK, dto.CatalogResponse{
		ID:         couponID.String(),
		SyncTaskID: h.enqueue(r.Context(), task, err),
	})
}

// DeleteCoupon handles DELETE /api/v1/admin/coupons/{id}
func (h *CatalogHandler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	couponID, ok := parseID(w, r)
	if !ok {
		return
	}

	result := h.db.WithContext(r.Context()).Delete(&models.Coupon{}, "id = ?", couponID)
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "Coupon not found")
		return
	}

	task, err := tasks.NewDeleteCouponTask(couponID)
	writeJSON(w, http.StatusOK, dto.CatalogResponse{
		ID:         couponID.String(),
		SyncTaskID: h.enqueue(r.Context(), task, err),
	})
}

func currencyOrDefault(c string) string {
	if c == "" {
		return "usd"
	}
	return strings.ToLower(c)
}
