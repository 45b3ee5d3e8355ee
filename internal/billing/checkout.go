package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/hugh/go-tenant/internal/metrics"
	"github.com/hugh/go-tenant/pkg/util"
)

type CheckoutRequest struct {
	ProductPriceID uuid.UUID
	PromotionCode  string
}

// Initiator forwards checkout and cancellation commands to the provider.
// It never writes subscription rows; those arrive through the reconciler.
type Initiator struct {
	store      Store
	coupons    *Coupons
	provider   CheckoutProvider
	successURL string
	cancelURL  string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type InitiatorConfig struct {
	Store      Store
	Coupons    *Coupons
	Provider   CheckoutProvider
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

func NewInitiator(cfg InitiatorConfig) *Initiator {
	logger := cfg.Logger
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Initiator{
		store:      cfg.Store,
		coupons:    cfg.Coupons,
		provider:   cfg.Provider,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		timeout:    cfg.Timeout,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// Checkout opens a hosted checkout session for the actor's organization
// and returns it. The session carries the organization, user and price ids
// as metadata so the completed event can be attributed.
func (i *Initiator) Checkout(ctx context.Context, actor entitlement.Actor, req CheckoutRequest) (*CheckoutSession, error) {
	price, err := i.store.FindPrice(ctx, req.ProductPriceID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPriceNotPurchasable
	}
	if err != nil {
		return nil, err
	}
	if !price.Active || price.Archived || price.ExternalPriceID == nil ||
		price.Product == nil || !price.Product.Purchasable() {
		return nil, ErrPriceNotPurchasable
	}

	customerID, err := i.customerID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	params := CheckoutSessionParams{
		CustomerID: customerID,
		PriceID:    *price.ExternalPriceID,
		SuccessURL: i.successURL,
		CancelURL:  i.cancelURL,
		Metadata: map[string]string{
			MetadataOrganizationID: actor.OrganizationID.String(),
			MetadataUserID:         actor.UserID.String(),
			MetadataProductPriceID: price.ID.String(),
		},
	}

	var redeemed string
	if req.PromotionCode != "" {
		coupon, err := i.coupons.Redeem(ctx, req.PromotionCode)
		if err != nil {
			return nil, err
		}
		redeemed = coupon.Code
		params.CouponID = *coupon.ExternalCouponID
	}

	session, err := providerCall(ctx, i.timeout, func(ctx context.Context) (*CheckoutSession, error) {
		return i.provider.CreateCheckoutSession(ctx, params)
	})
	i.metrics.ProviderCall("create_checkout_session", err)
	if err != nil {
		if redeemed != "" {
			if relErr := i.coupons.Release(context.WithoutCancel(ctx), redeemed); relErr != nil {
				i.logger.Error("failed to release coupon", "code", redeemed, "error", relErr)
			}
		}
		return nil, fmt.Errorf("creating checkout session: %w", err)
	}

	i.logger.Info("checkout session created",
		"session_id", session.ID,
		"org_id", actor.OrganizationID,
		"user_id", actor.UserID,
		"price_id", price.ID,
	)
	return session, nil
}

// customerID returns the user's provider customer, creating it on first
// use. The creation carries an idempotency key derived from the user id so
// concurrent first checkouts converge on one customer.
func (i *Initiator) customerID(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := i.store.FindUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading user: %w", err)
	}
	if user.ExternalCustomerID != nil {
		return *user.ExternalCustomerID, nil
	}

	created, err := providerCall(ctx, i.timeout, func(ctx context.Context) (string, error) {
		return i.provider.CreateCustomer(ctx, CustomerParams{
			Email:          user.Email,
			Name:           user.Name,
			UserID:         user.ID.String(),
			IdempotencyKey: "customer-" + user.ID.String(),
		})
	})
	i.metrics.ProviderCall("create_customer", err)
	if err != nil {
		return "", fmt.Errorf("creating customer: %w", err)
	}

	// Persist even if the caller has gone away; the customer exists now.
	return i.store.SetCustomerID(context.WithoutCancel(ctx), user.ID, created)
}

// Cancel schedules the organization's active subscription to end at the
// close of its current period. Local state changes once the provider
// reports the update.
func (i *Initiator) Cancel(ctx context.Context, actor entitlement.Actor) error {
	sub, err := i.store.FindActiveSubscription(ctx, actor.OrganizationID)
	if err != nil {
		return err
	}

	_, err = providerCall(ctx, i.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, i.provider.CancelAtPeriodEnd(ctx, sub.ExternalSubscriptionID)
	})
	i.metrics.ProviderCall("cancel_subscription", err)
	if err != nil {
		return fmt.Errorf("canceling subscription: %w", err)
	}

	i.logger.Info("subscription cancellation requested",
		"subscription_id", sub.ID,
		"org_id", actor.OrganizationID,
		"user_id", actor.UserID,
	)
	return nil
}
