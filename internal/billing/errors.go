package billing

import "errors"

var (
	// ErrSignatureInvalid rejects a webhook delivery whose signature does not
	// verify. Nothing in the payload has been read when it is returned.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrMalformedEvent rejects a verified delivery whose payload cannot be
	// decoded.
	ErrMalformedEvent = errors.New("malformed event payload")

	// ErrReferenceRetryable means an invoice arrived for a subscription that
	// has not been recorded yet. The provider should redeliver it.
	ErrReferenceRetryable = errors.New("subscription not recorded yet")
	// ErrReferenceBenign means an update or deletion named a subscription
	// with no local row. The delivery is acknowledged.
	ErrReferenceBenign = errors.New("subscription not recorded")

	ErrPriceNotPurchasable  = errors.New("price is not purchasable")
	ErrNoActiveSubscription = errors.New("organization has no active subscription")
	ErrCouponUnavailable    = errors.New("coupon is not valid")

	// ErrProviderUnavailable covers provider timeouts and 5xx responses.
	// Callers may retry; the engine never retries provider calls itself.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderNotFound is returned by providers for missing resources.
	ErrProviderNotFound = errors.New("payment provider resource not found")

	// ErrSubscriptionNotFound is returned by the store when a change names
	// an external subscription id with no row.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotFound             = errors.New("not found")
)

// IsPermanent reports whether a webhook delivery failed in a way a
// redelivery cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrSignatureInvalid) || errors.Is(err, ErrMalformedEvent)
}

// IsRetryable reports whether err should be surfaced as "try again" to
// whoever triggered the operation.
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err) && !errors.Is(err, ErrReferenceBenign)
}
