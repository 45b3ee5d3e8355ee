package billing

import (
	"strings"

	"github.com/hugh/go-tenant/internal/database/models"
)

// providerStatuses maps every subscription status Stripe documents onto the
// internal enum.
var providerStatuses = map[string]models.SubscriptionStatus{
	"active":             models.SubscriptionActive,
	"trialing":           models.SubscriptionTrialing,
	"past_due":           models.SubscriptionPastDue,
	"unpaid":             models.SubscriptionPastDue,
	"paused":             models.SubscriptionPastDue,
	"canceled":           models.SubscriptionCanceled,
	"incomplete_expired": models.SubscriptionCanceled,
	"incomplete":         models.SubscriptionIncomplete,
}

// MapProviderStatus is total: statuses it does not know map to INCOMPLETE,
// which grants nothing.
func MapProviderStatus(status string) models.SubscriptionStatus {
	if s, ok := providerStatuses[strings.ToLower(strings.TrimSpace(status))]; ok {
		return s
	}
	return models.SubscriptionIncomplete
}
