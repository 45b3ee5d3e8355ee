package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/metrics"
	"github.com/hugh/go-tenant/pkg/util"
	"gorm.io/gorm"
)

// CatalogSync mirrors products, prices and coupons to the provider and is
// the only writer of their external id columns. Every method is safe to
// rerun: creations carry idempotency keys derived from local ids and the
// external id is only ever written into an empty column.
type CatalogSync struct {
	db       *gorm.DB
	provider CatalogProvider
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewCatalogSync(db *gorm.DB, provider CatalogProvider, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *CatalogSync {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &CatalogSync{db: db, provider: provider, timeout: timeout, logger: logger, metrics: m}
}

func (c *CatalogSync) call(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	id, err := providerCall(ctx, c.timeout, fn)
	c.metrics.ProviderCall(op, err)
	return id, err
}

// setExternalID writes column on the row only while it is still empty.
func (c *CatalogSync) setExternalID(ctx context.Context, model interface{}, id uuid.UUID, column, value string) error {
	err := c.db.WithContext(ctx).Model(model).
		Where("id = ? AND "+column+" IS NULL", id).
		Update(column, value).Error
	if err != nil {
		return fmt.Errorf("storing %s: %w", column, err)
	}
	return nil
}

// SyncProduct creates the provider product for productID, or pushes its
// name, description and active flag when it already exists there. A
// product that is inactive or archived locally is inactive at the provider.
func (c *CatalogSync) SyncProduct(ctx context.Context, productID uuid.UUID) (string, error) {
	product, err := c.loadProduct(ctx, productID)
	if err != nil {
		return "", err
	}
	if product.ExternalProductID == nil {
		return c.createProduct(ctx, product)
	}

	_, err = c.call(ctx, "update_product", func(ctx context.Context) (string, error) {
		return "", c.provider.UpdateProduct(ctx, *product.ExternalProductID, productParams(product))
	})
	if err != nil {
		return "", fmt.Errorf("updating provider product: %w", err)
	}
	c.logger.Info("product updated", "product_id", product.ID, "active", product.Purchasable())
	return *product.ExternalProductID, nil
}

// ensureProduct returns the provider id of productID, creating the
// product there if it has none. An existing product is not touched.
func (c *CatalogSync) ensureProduct(ctx context.Context, productID uuid.UUID) (string, error) {
	product, err := c.loadProduct(ctx, productID)
	if err != nil {
		return "", err
	}
	if product.ExternalProductID != nil {
		return *product.ExternalProductID, nil
	}
	return c.createProduct(ctx, product)
}

func (c *CatalogSync) loadProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := c.db.WithContext(ctx).First(&product, "id = ?", productID).Error; err != nil {
		return nil, notFound(err, "product")
	}
	return &product, nil
}

func (c *CatalogSync) createProduct(ctx context.Context, product *models.Product) (string, error) {
	params := productParams(product)
	params.IdempotencyKey = "product-" + product.ID.String()

	externalID, err := c.call(ctx, "create_product", func(ctx context.Context) (string, error) {
		return c.provider.CreateProduct(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("creating provider product: %w", err)
	}
	if err := c.setExternalID(context.WithoutCancel(ctx), &models.Product{}, product.ID, "external_product_id", externalID); err != nil {
		return "", err
	}

	c.logger.Info("product synced", "product_id", product.ID, "external_id", externalID)
	return externalID, nil
}

func productParams(product *models.Product) ProductParams {
	return ProductParams{
		Name:        product.Name,
		Description: product.Description,
		Active:      product.Purchasable(),
		Metadata:    map[string]string{"product_id": product.ID.String()},
	}
}

// SyncPrice creates the provider price for priceID, syncing its product
// first when needed.
func (c *CatalogSync) SyncPrice(ctx context.Context, priceID uuid.UUID) (string, error) {
	var price models.ProductPrice
	if err := c.db.WithContext(ctx).First(&price, "id = ?", priceID).Error; err != nil {
		return "", notFound(err, "price")
	}
	if price.ExternalPriceID != nil {
		return *price.ExternalPriceID, nil
	}

	externalProductID, err := c.ensureProduct(ctx, price.ProductID)
	if err != nil {
		return "", err
	}

	externalID, err := c.call(ctx, "create_price", func(ctx context.Context) (string, error) {
		return c.provider.CreatePrice(ctx, PriceParams{
			ExternalProductID: externalProductID,
			AmountCents:       price.AmountCents,
			Currency:          price.Currency,
			Interval:          price.Interval,
			IntervalCount:     price.IntervalCount,
			Metadata:          map[string]string{MetadataProductPriceID: price.ID.String()},
			IdempotencyKey:    "price-" + price.ID.String(),
		})
	})
	if err != nil {
		return "", fmt.Errorf("creating provider price: %w", err)
	}
	if err := c.setExternalID(context.WithoutCancel(ctx), &models.ProductPrice{}, price.ID, "external_price_id", externalID); err != nil {
		return "", err
	}

	c.logger.Info("price synced", "price_id", price.ID, "external_id", externalID)
	return externalID, nil
}

// DeactivatePrice stops the provider price from being sold. Prices that
// were never synced need nothing.
func (c *CatalogSync) DeactivatePrice(ctx context.Context, priceID uuid.UUID) error {
	var price models.ProductPrice
	if err := c.db.WithContext(ctx).Unscoped().First(&price, "id = ?", priceID).Error; err != nil {
		return notFound(err, "price")
	}
	if price.ExternalPriceID == nil {
		return nil
	}

	_, err := c.call(ctx, "deactivate_price", func(ctx context.Context) (string, error) {
		return "", c.provider.DeactivatePrice(ctx, *price.ExternalPriceID)
	})
	if err != nil {
		return fmt.Errorf("deactivating provider price: %w", err)
	}
	return nil
}

// SyncCoupon creates the provider coupon, or pushes name and metadata
// changes to an existing one. The provider has no active flag on coupons,
// so the local one travels as metadata.
func (c *CatalogSync) SyncCoupon(ctx context.Context, couponID uuid.UUID) (string, error) {
	var coupon models.Coupon
	if err := c.db.WithContext(ctx).First(&coupon, "id = ?", couponID).Error; err != nil {
		return "", notFound(err, "coupon")
	}

	params := CouponParams{
		Code:         coupon.Code,
		DiscountType: coupon.DiscountType,
		Value:        coupon.Value,
		Currency:     coupon.Currency,
		RedeemBy:     coupon.ExpiresAt,
		Metadata: map[string]string{
			"coupon_id": coupon.ID.String(),
			"active":    strconv.FormatBool(coupon.Active),
		},
	}
	if coupon.UsageLimit != nil {
		params.MaxRedemptions = *coupon.UsageLimit
	}

	if coupon.ExternalCouponID != nil {
		_, err := c.call(ctx, "update_coupon", func(ctx context.Context) (string, error) {
			return "", c.provider.UpdateCoupon(ctx, *coupon.ExternalCouponID, params)
		})
		if err != nil {
			return "", fmt.Errorf("updating provider coupon: %w", err)
		}
		return *coupon.ExternalCouponID, nil
	}

	externalID, err := c.call(ctx, "create_coupon", func(ctx context.Context) (string, error) {
		return c.provider.CreateCoupon(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("creating provider coupon: %w", err)
	}
	if err := c.setExternalID(context.WithoutCancel(ctx), &models.Coupon{}, coupon.ID, "external_coupon_id", externalID); err != nil {
		return "", err
	}

	c.logger.Info("coupon synced", "coupon_id", coupon.ID, "external_id", externalID)
	return externalID, nil
}

// DeleteCoupon removes the provider coupon of a (soft deleted) coupon.
func (c *CatalogSync) DeleteCoupon(ctx context.Context, couponID uuid.UUID) error {
	var coupon models.Coupon
	if err := c.db.WithContext(ctx).Unscoped().First(&coupon, "id = ?", couponID).Error; err != nil {
		return notFound(err, "coupon")
	}
	if coupon.ExternalCouponID == nil {
		return nil
	}

	_, err := c.call(ctx, "delete_coupon", func(ctx context.Context) (string, error) {
		return "", c.provider.DeleteCoupon(ctx, *coupon.ExternalCouponID)
	})
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		return fmt.Errorf("deleting provider coupon: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("loading %s: %w", what, err)
}
