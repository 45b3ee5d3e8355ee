package handlers_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hugh/go-tenant/internal/api/handlers"
	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/internal/metrics"
	stripeprovider "github.com/hugh/go-tenant/internal/payment/stripe"
	"github.com/hugh/go-tenant/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type webhookEnv struct {
	*testutil.TestSetup
	provider *testutil.FakeProvider
	handler  http.HandlerFunc
	registry *prometheus.Registry
}

func setupWebhookHandler(t *testing.T) *webhookEnv {
	t.Helper()

	tc := testutil.NewTestContext(t)
	product := testutil.CreateTestProduct(t, tc.DB, models.Permissions{"billing": {"create"}})
	price := testutil.CreateTestPrice(t, tc.DB, product, "price_pro")

	provider := testutil.NewFakeProvider()
	start := time.Now().UTC().Truncate(time.Second)
	for _, id := range []string{"sub_1", "sub_2"} {
		provider.PutSubscription(&billing.ProviderSubscription{
			ID: id, Status: "active", PriceID: *price.ExternalPriceID,
			CurrentPeriodStart: start, CurrentPeriodEnd: start.AddDate(0, 1, 0),
		})
	}

	reg := prometheus.NewRegistry()
	reconciler := billing.NewReconciler(billing.ReconcilerConfig{
		Verifier:      stripeprovider.NewVerifier(testutil.WebhookSecret),
		Subscriptions: provider,
		Store:         billing.NewGormStore(tc.DB),
	})
	h := handlers.NewWebhookHandler(reconciler, metrics.New(reg), nil)

	return &webhookEnv{TestSetup: tc, provider: provider, handler: h.Stripe, registry: reg}
}

func (e *webhookEnv) checkout(subscriptionID string) map[string]interface{} {
	return map[string]interface{}{
		"id":           "cs_" + subscriptionID,
		"object":       "checkout.session",
		"mode":         "subscription",
		"subscription": subscriptionID,
		"customer":     "cus_1",
		"metadata": map[string]string{
			billing.MetadataOrganizationID: e.Org.ID.String(),
			billing.MetadataUserID:         e.User.ID.String(),
		},
	}
}

func (e *webhookEnv) post(body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rr := httptest.NewRecorder()
	e.handler(rr, req)
	return rr
}

func (e *webhookEnv) subscriptions(t *testing.T) int64 {
	t.Helper()
	var n int64
	e.DB.Model(&models.Subscription{}).Count(&n)
	return n
}

func TestWebhookHandler_AcknowledgesAndDedupes(t *testing.T) {
	env := setupWebhookHandler(t)
	body, sig := testutil.SignedEvent(t, "evt_1", "checkout.session.completed", env.checkout("sub_1"))

	for i := 0; i < 2; i++ {
		rr := env.post(body, sig)
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	}
	assert.Equal(t, int64(1), env.subscriptions(t))

	// Event types the engine does not consume are acknowledged too.
	body, sig = testutil.SignedEvent(t, "evt_2", "customer.created", map[string]interface{}{"id": "cus_1", "object": "customer"})
	testutil.AssertStatus(t, env.post(body, sig), http.StatusOK)
}

func TestWebhookHandler_RejectsBadSignatures(t *testing.T) {
	env := setupWebhookHandler(t)
	body, sig := testutil.SignedEvent(t, "evt_1", "checkout.session.completed", env.checkout("sub_1"))

	for name, signature := range map[string]string{
		"missing": "",
		"garbage": "not-a-signature",
		"other":   strings.Replace(sig, "v1=", "v1=00", 1),
	} {
		t.Run(name, func(t *testing.T) {
			testutil.AssertStatus(t, env.post(body, signature), http.StatusBadRequest)
		})
	}

	assert.Zero(t, env.subscriptions(t))
	assert.Zero(t, env.provider.Calls(testutil.OpRetrieveSubscription))
}

func TestWebhookHandler_RetryAndMalformed(t *testing.T) {
	env := setupWebhookHandler(t)

	env.provider.FailWith(testutil.OpRetrieveSubscription, billing.ErrProviderUnavailable)
	body, sig := testutil.SignedEvent(t, "evt_1", "checkout.session.completed", env.checkout("sub_2"))
	rr := env.post(body, sig)
	testutil.AssertStatus(t, rr, http.StatusInternalServerError)
	assert.JSONEq(t, `{"error":"retry"}`, rr.Body.String())

	// Redelivery after the outage succeeds.
	env.provider.FailWith(testutil.OpRetrieveSubscription, nil)
	testutil.AssertStatus(t, env.post(body, sig), http.StatusOK)

	// An invoice for a subscription not yet recorded asks for redelivery.
	body, sig = testutil.SignedEvent(t, "evt_2", "invoice.paid", map[string]interface{}{
		"id": "in_1", "object": "invoice", "amount_paid": 2900, "currency": "usd",
		"payment_intent": "pi_1",
		"parent": map[string]interface{}{
			"subscription_details": map[string]interface{}{"subscription": "sub_unknown"},
		},
	})
	testutil.AssertStatus(t, env.post(body, sig), http.StatusInternalServerError)

	body, sig = testutil.SignedEvent(t, "evt_3", "invoice.paid", map[string]interface{}{"object": "invoice"})
	testutil.AssertStatus(t, env.post(body, sig), http.StatusBadRequest)

	// Oversized bodies are refused before verification.
	testutil.AssertStatus(t, env.post(bytes.Repeat([]byte("a"), 2<<20), sig), http.StatusBadRequest)

	expected := `
# HELP gotenant_billing_webhook_events_total Payment provider webhook deliveries by event type and outcome.
# TYPE gotenant_billing_webhook_events_total counter
gotenant_billing_webhook_events_total{event_type="checkout.session.completed",outcome="applied"} 1
gotenant_billing_webhook_events_total{event_type="checkout.session.completed",outcome="retry"} 1
gotenant_billing_webhook_events_total{event_type="invoice.paid",outcome="malformed"} 1
gotenant_billing_webhook_events_total{event_type="invoice.paid",outcome="retry"} 1
gotenant_billing_webhook_events_total{event_type="unverified",outcome="unreadable"} 1
`
	assert.NoError(t, promtest.GatherAndCompare(env.registry, strings.NewReader(expected),
		"gotenant_billing_webhook_events_total"))
}
