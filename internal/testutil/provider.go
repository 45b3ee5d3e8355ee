package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hugh/go-tenant/internal/billing"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// WebhookSecret signs every payload built by SignedEvent.
const WebhookSecret = "whsec_test_secret"

// Provider operation names, used as keys for FakeProvider errors and counts.
const (
	OpRetrieveSubscription  = "retrieve_subscription"
	OpCreateCustomer        = "create_customer"
	OpCreateCheckoutSession = "create_checkout_session"
	OpCancelAtPeriodEnd     = "cancel_at_period_end"
	OpCreateProduct         = "create_product"
	OpUpdateProduct         = "update_product"
	OpCreatePrice           = "create_price"
	OpDeactivatePrice       = "deactivate_price"
	OpCreateCoupon          = "create_coupon"
	OpUpdateCoupon          = "update_coupon"
	OpDeleteCoupon          = "delete_coupon"
)

// FakeProvider is an in-memory billing.Provider. Creations honour
// idempotency keys the way the real provider does.
type FakeProvider struct {
	mu sync.Mutex

	subscriptions map[string]*billing.ProviderSubscription
	errs          map[string]error
	calls         map[string]int
	idempotent    map[string]string
	seq           int

	LastCustomer billing.CustomerParams
	LastCheckout billing.CheckoutSessionParams
	LastProduct  billing.ProductParams
	LastPrice    billing.PriceParams
	LastCoupon   billing.CouponParams
	Canceled     []string
	Deactivated  []string
	Deleted      []string
}

var _ billing.Provider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		subscriptions: make(map[string]*billing.ProviderSubscription),
		errs:          make(map[string]error),
		calls:         make(map[string]int),
		idempotent:    make(map[string]string),
	}
}

// PutSubscription makes sub retrievable by its id.
func (f *FakeProvider) PutSubscription(sub *billing.ProviderSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sub
	f.subscriptions[sub.ID] = &cp
}

// RemoveSubscription makes later retrievals return ErrProviderNotFound.
func (f *FakeProvider) RemoveSubscription(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscriptions, id)
}

// FailWith makes op return err until cleared with a nil err.
func (f *FakeProvider) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Calls returns how many times op was invoked.
func (f *FakeProvider) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeProvider) begin(op string) error {
	f.calls[op]++
	return f.errs[op]
}

func (f *FakeProvider) newID(prefix, idempotencyKey string) string {
	if idempotencyKey != "" {
		if id, ok := f.idempotent[idempotencyKey]; ok {
			return id
		}
	}
	f.seq++
	id := fmt.Sprintf("%s_test_%d", prefix, f.seq)
	if idempotencyKey != "" {
		f.idempotent[idempotencyKey] = id
	}
	return id
}

func (f *FakeProvider) RetrieveSubscription(ctx context.Context, id string) (*billing.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpRetrieveSubscription); err != nil {
		return nil, err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, billing.ErrProviderNotFound)
	}
	cp := *sub
	return &cp, nil
}

func (f *FakeProvider) CreateCustomer(ctx context.Context, params billing.CustomerParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateCustomer); err != nil {
		return "", err
	}
	f.LastCustomer = params
	return f.newID("cus", params.IdempotencyKey), nil
}

func (f *FakeProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateCheckoutSession); err != nil {
		return nil, err
	}
	f.LastCheckout = params
	id := f.newID("cs", "")
	return &billing.CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (f *FakeProvider) CancelAtPeriodEnd(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCancelAtPeriodEnd); err != nil {
		return err
	}
	f.Canceled = append(f.Canceled, id)
	if sub, ok := f.subscriptions[id]; ok {
		sub.CancelAtPeriodEnd = true
	}
	return nil
}

func (f *FakeProvider) CreateProduct(ctx context.Context, params billing.ProductParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateProduct); err != nil {
		return "", err
	}
	f.LastProduct = params
	return f.newID("prod", params.IdempotencyKey), nil
}

func (f *FakeProvider) UpdateProduct(ctx context.Context, id string, params billing.ProductParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpUpdateProduct); err != nil {
		return err
	}
	f.LastProduct = params
	return nil
}

func (f *FakeProvider) CreatePrice(ctx context.Context, params billing.PriceParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreatePrice); err != nil {
		return "", err
	}
	f.LastPrice = params
	return f.newID("price", params.IdempotencyKey), nil
}

func (f *FakeProvider) DeactivatePrice(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDeactivatePrice); err != nil {
		return err
	}
	f.Deactivated = append(f.Deactivated, id)
	return nil
}

func (f *FakeProvider) CreateCoupon(ctx context.Context, params billing.CouponParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateCoupon); err != nil {
		return "", err
	}
	f.LastCoupon = params
	return params.Code, nil
}

func (f *FakeProvider) UpdateCoupon(ctx context.Context, id string, params billing.CouponParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpUpdateCoupon); err != nil {
		return err
	}
	f.LastCoupon = params
	return nil
}

func (f *FakeProvider) DeleteCoupon(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDeleteCoupon); err != nil {
		return err
	}
	f.Deleted = append(f.Deleted, id)
	return nil
}

// EventPayload builds the JSON body of a provider event wrapping object.
func EventPayload(t *testing.T, id, eventType string, object interface{}) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

// SignedEvent builds an event body and a valid Stripe-Signature header for
// it under WebhookSecret.
func SignedEvent(t *testing.T, id, eventType string, object interface{}) ([]byte, string) {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   EventPayload(t, id, eventType, object),
		Secret:    WebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

// SubscriptionObject is a provider subscription as it appears in events.
func SubscriptionObject(id, status, priceID string, start, end time.Time, cancelAtPeriodEnd bool) map[string]interface{} {
	return map[string]interface{}{
		"id":                   id,
		"object":               "subscription",
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"price":                map[string]interface{}{"id": priceID},
					"current_period_start": start.Unix(),
					"current_period_end":   end.Unix(),
				},
			},
		},
	}
}
