package stripe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hugh/go-tenant/internal/billing"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Verifier checks Stripe-Signature headers against the endpoint secret.
type Verifier struct {
	secret string
}

var _ billing.EventVerifier = (*Verifier)(nil)

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Verify(payload []byte, signature string) (*billing.VerifiedEvent, error) {
	if strings.TrimSpace(v.secret) == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", billing.ErrSignatureInvalid)
	}
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing signature", billing.ErrSignatureInvalid)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrNoValidSignature), errors.Is(err, webhook.ErrTooOld):
		return nil, fmt.Errorf("%w: %v", billing.ErrSignatureInvalid, err)
	case err != nil:
		// Signed, but not an event the SDK can parse.
		return nil, fmt.Errorf("%w: %v", billing.ErrMalformedEvent, err)
	}

	out := &billing.VerifiedEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		out.Object = event.Data.Raw
	}
	return out, nil
}
