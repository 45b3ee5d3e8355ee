package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WebhookEvent("invoice.paid", "handled")
	m.WebhookEvent("invoice.paid", "handled")
	m.AuthorizationDecision("role-grant", true)
	m.ProviderCall("create_customer", errors.New("boom"))
	m.CouponRedemption("exhausted")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("invoice.paid", "handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authzDecisions.WithLabelValues("role-grant", "grant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("create_customer", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.couponRedeems.WithLabelValues("exhausted")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WebhookEvent("x", "y")
		m.AuthorizationDecision("x", false)
		m.ProviderCall("x", nil)
		m.CouponRedemption("x")
	})
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "unknown", sanitizeLabel(""))
	assert.Equal(t, "a_b", sanitizeLabel("a b"))
	assert.Len(t, sanitizeLabel(strings.Repeat("x", 100)), maxLabelLen)
}
