package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const maxLabelLen = 64

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// Metrics is the Prometheus instrumentation of the billing engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	webhookEvents  *prometheus.CounterVec
	authzDecisions *prometheus.CounterVec
	providerCalls  *prometheus.CounterVec
	couponRedeems  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gotenant",
				Subsystem: "billing",
				Name:      "webhook_events_total",
				Help:      "Payment provider webhook deliveries by event type and outcome.",
			},
			[]string{"event_type", "outcome"},
		),
		authzDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gotenant",
				Subsystem: "entitlement",
				Name:      "decisions_total",
				Help:      "Authorization decisions by deciding cascade step.",
			},
			[]string{"step", "decision"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gotenant",
				Subsystem: "billing",
				Name:      "provider_calls_total",
				Help:      "Outbound payment provider calls by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		couponRedeems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gotenant",
				Subsystem: "billing",
				Name:      "coupon_redemptions_total",
				Help:      "Coupon redemption attempts by outcome.",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.webhookEvents, m.authzDecisions, m.providerCalls, m.couponRedeems)
	return m
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(sanitizeLabel(eventType), sanitizeLabel(outcome)).Inc()
}

func (m *Metrics) AuthorizationDecision(step string, granted bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if granted {
		decision = "grant"
	}
	m.authzDecisions.WithLabelValues(sanitizeLabel(step), decision).Inc()
}

func (m *Metrics) ProviderCall(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(sanitizeLabel(operation), outcome).Inc()
}

func (m *Metrics) CouponRedemption(outcome string) {
	if m == nil {
		return
	}
	m.couponRedeems.WithLabelValues(sanitizeLabel(outcome)).Inc()
}
