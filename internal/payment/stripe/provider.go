// Package stripe adapts the Stripe API to the billing engine's provider
// interfaces.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/database/models"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Provider implements billing.Provider on top of a Stripe API client.
type Provider struct {
	api *client.API
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider builds a client for secretKey. The SDK does not retry on its
// own: a failed call is reported so that the caller, or the provider's own
// webhook redelivery, decides what happens next.
func NewProvider(secretKey string, timeout time.Duration) *Provider {
	return newProvider(secretKey, &stripelib.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripelib.Int64(0),
	})
}

func newProvider(secretKey string, cfg *stripelib.BackendConfig) *Provider {
	api := &client.API{}
	api.Init(secretKey, stripelib.NewBackendsWithConfig(cfg))
	return &Provider{api: api}
}

func (p *Provider) RetrieveSubscription(ctx context.Context, externalSubscriptionID string) (*billing.ProviderSubscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(externalSubscriptionID, params)
	if err != nil {
		return nil, mapError("retrieve subscription", err)
	}
	return toProviderSubscription(sub), nil
}

func toProviderSubscription(sub *stripelib.Subscription) *billing.ProviderSubscription {
	out := &billing.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodStart > 0 {
			out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return out
}

func (p *Provider) CreateCustomer(ctx context.Context, in billing.CustomerParams) (string, error) {
	params := &stripelib.CustomerParams{
		Email: stripelib.String(in.Email),
	}
	if in.Name != "" {
		params.Name = stripelib.String(in.Name)
	}
	params.Context = ctx
	params.AddMetadata("user_id", in.UserID)
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", mapError("create customer", err)
	}
	return cust.ID, nil
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, in billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	params := &stripelib.CheckoutSessionParams{
		Customer:   stripelib.String(in.CustomerID),
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL: stripelib.String(in.SuccessURL),
		CancelURL:  stripelib.String(in.CancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(in.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Metadata,
		},
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.CouponID != "" {
		params.Discounts = []*stripelib.CheckoutSessionDiscountParams{
			{Coupon: stripelib.String(in.CouponID)},
		}
	}
	params.Context = ctx

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapError("create checkout session", err)
	}
	return &billing.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (p *Provider) CancelAtPeriodEnd(ctx context.Context, externalSubscriptionID string) error {
	params := &stripelib.SubscriptionParams{
		CancelAtPeriodEnd: stripelib.Bool(true),
	}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Update(externalSubscriptionID, params); err != nil {
		return mapError("cancel subscription", err)
	}
	return nil
}

func (p *Provider) CreateProduct(ctx context.Context, in billing.ProductParams) (string, error) {
	params := &stripelib.ProductParams{
		Name:   stripelib.String(in.Name),
		Active: stripelib.Bool(in.Active),
	}
	if in.Description != "" {
		params.Description = stripelib.String(in.Description)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	prod, err := p.api.Products.New(params)
	if err != nil {
		return "", mapError("create product", err)
	}
	return prod.ID, nil
}

// UpdateProduct pushes name, description and the active flag. Prices are
// left alone; they are retired one by one through DeactivatePrice.
func (p *Provider) UpdateProduct(ctx context.Context, externalProductID string, in billing.ProductParams) error {
	params := &stripelib.ProductParams{
		Name:        stripelib.String(in.Name),
		Description: stripelib.String(in.Description),
		Active:      stripelib.Bool(in.Active),
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if _, err := p.api.Products.Update(externalProductID, params); err != nil {
		return mapError("update product", err)
	}
	return nil
}

func (p *Provider) CreatePrice(ctx context.Context, in billing.PriceParams) (string, error) {
	count := in.IntervalCount
	if count <= 0 {
		count = 1
	}
	params := &stripelib.PriceParams{
		Product:    stripelib.String(in.ExternalProductID),
		UnitAmount: stripelib.Int64(in.AmountCents),
		Currency:   stripelib.String(in.Currency),
		Recurring: &stripelib.PriceRecurringParams{
			Interval:      stripelib.String(string(in.Interval)),
			IntervalCount: stripelib.Int64(int64(count)),
		},
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	price, err := p.api.Prices.New(params)
	if err != nil {
		return "", mapError("create price", err)
	}
	return price.ID, nil
}

func (p *Provider) DeactivatePrice(ctx context.Context, externalPriceID string) error {
	params := &stripelib.PriceParams{Active: stripelib.Bool(false)}
	params.Context = ctx
	if _, err := p.api.Prices.Update(externalPriceID, params); err != nil {
		return mapError("deactivate price", err)
	}
	return nil
}

func (p *Provider) CreateCoupon(ctx context.Context, in billing.CouponParams) (string, error) {
	params := &stripelib.CouponParams{
		ID:       stripelib.String(in.Code),
		Name:     stripelib.String(in.Code),
		Duration: stripelib.String(string(stripelib.CouponDurationOnce)),
	}
	switch in.DiscountType {
	case models.DiscountPercentage:
		params.PercentOff = stripelib.Float64(float64(in.Value))
	case models.DiscountFixed:
		params.AmountOff = stripelib.Int64(in.Value)
		params.Currency = stripelib.String(in.Currency)
	default:
		return "", fmt.Errorf("create coupon: unknown discount type %q", in.DiscountType)
	}
	if in.MaxRedemptions > 0 {
		params.MaxRedemptions = stripelib.Int64(int64(in.MaxRedemptions))
	}
	if in.RedeemBy != nil {
		params.RedeemBy = stripelib.Int64(in.RedeemBy.Unix())
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey("coupon-" + in.Code)

	c, err := p.api.Coupons.New(params)
	if err != nil {
		return "", mapError("create coupon", err)
	}
	return c.ID, nil
}

// UpdateCoupon pushes the mutable fields. Stripe coupons only allow their
// name and metadata to change after creation.
func (p *Provider) UpdateCoupon(ctx context.Context, externalCouponID string, in billing.CouponParams) error {
	params := &stripelib.CouponParams{Name: stripelib.String(in.Code)}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if _, err := p.api.Coupons.Update(externalCouponID, params); err != nil {
		return mapError("update coupon", err)
	}
	return nil
}

func (p *Provider) DeleteCoupon(ctx context.Context, externalCouponID string) error {
	params := &stripelib.CouponParams{}
	params.Context = ctx
	if _, err := p.api.Coupons.Del(externalCouponID, params); err != nil {
		return mapError("delete coupon", err)
	}
	return nil
}

// mapError folds SDK errors into the billing sentinels: server-side and
// transport failures become ErrProviderUnavailable, missing resources
// ErrProviderNotFound. Anything else is passed through wrapped.
func mapError(op string, err error) error {
	var serr *stripelib.Error
	if errors.As(err, &serr) {
		switch {
		case serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripelib.ErrorCodeResourceMissing:
			return fmt.Errorf("%s: %w: %w", op, billing.ErrProviderNotFound, err)
		case serr.HTTPStatusCode >= http.StatusInternalServerError || serr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, billing.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, billing.ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
