package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hugh/go-tenant/internal/database/models"
)

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ID                 string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

type CustomerParams struct {
	Email          string
	Name           string
	UserID         string
	IdempotencyKey string
}

type CheckoutSessionParams struct {
	CustomerID string
	PriceID    string
	// CouponID is the provider coupon to apply, if any.
	CouponID   string
	SuccessURL string
	CancelURL  string
	// Metadata is attached to both the session and the subscription it
	// creates so later events can be attributed.
	Metadata map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type ProductParams struct {
	Name        string
	Description string
	// Active false hides the product from new checkouts at the provider.
	Active         bool
	Metadata       map[string]string
	IdempotencyKey string
}

type PriceParams struct {
	ExternalProductID string
	AmountCents       int64
	Currency          string
	Interval          models.BillingInterval
	IntervalCount     int
	Metadata          map[string]string
	IdempotencyKey    string
}

type CouponParams struct {
	Code         string
	DiscountType models.DiscountType
	Value        int64
	Currency     string
	// MaxRedemptions is zero for unlimited.
	MaxRedemptions int
	RedeemBy       *time.Time
	Metadata       map[string]string
}

// SubscriptionReader is the only provider capability the reconciler and
// the sweeper use. It never mutates provider state.
type SubscriptionReader interface {
	RetrieveSubscription(ctx context.Context, externalSubscriptionID string) (*ProviderSubscription, error)
}

type CheckoutProvider interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	CancelAtPeriodEnd(ctx context.Context, externalSubscriptionID string) error
}

type CatalogProvider interface {
	CreateProduct(ctx context.Context, params ProductParams) (string, error)
	UpdateProduct(ctx context.Context, externalProductID string, params ProductParams) error
	CreatePrice(ctx context.Context, params PriceParams) (string, error)
	DeactivatePrice(ctx context.Context, externalPriceID string) error
	CreateCoupon(ctx context.Context, params CouponParams) (string, error)
	UpdateCoupon(ctx context.Context, externalCouponID string, params CouponParams) error
	DeleteCoupon(ctx context.Context, externalCouponID string) error
}

// Provider is the full payment provider surface the engine uses.
type Provider interface {
	SubscriptionReader
	CheckoutProvider
	CatalogProvider
}

// VerifiedEvent is a webhook delivery whose signature has been checked.
type VerifiedEvent struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// EventVerifier authenticates a raw delivery. It returns ErrSignatureInvalid
// when the signature does not match, before interpreting the payload.
type EventVerifier interface {
	Verify(payload []byte, signature string) (*VerifiedEvent, error)
}

const defaultProviderTimeout = 10 * time.Second

// providerCall runs fn with a bounded timeout on a context detached from
// the caller's cancellation: once issued, a provider call is left to finish
// even if the client goes away. A timeout surfaces as ErrProviderUnavailable.
func providerCall[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrProviderUnavailable) {
		err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return v, err
}
