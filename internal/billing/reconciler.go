package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/pkg/util"
)

// Result describes what a delivery did to local state.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultIgnored   Result = "ignored"
	ResultBenign    Result = "benign_miss"
	ResultDuplicate Result = "duplicate"
)

type Outcome struct {
	EventID   string
	EventType string
	Kind      EventKind
	Result    Result
}

// Reconciler turns verified provider events into subscription writes. It
// reads from the provider but never changes provider state.
type Reconciler struct {
	verifier      EventVerifier
	subscriptions SubscriptionReader
	store         Store
	timeout       time.Duration
	logger        *slog.Logger
}

type ReconcilerConfig struct {
	Verifier      EventVerifier
	Subscriptions SubscriptionReader
	Store         Store
	// Timeout bounds each provider read.
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &Reconciler{
		verifier:      cfg.Verifier,
		subscriptions: cfg.Subscriptions,
		store:         cfg.Store,
		timeout:       cfg.Timeout,
		logger:        logger,
	}
}

// Handle verifies and applies one delivery. A nil error means the delivery
// should be acknowledged. IsPermanent errors should be rejected; anything
// else asks the provider to redeliver later.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	verified, err := r.verifier.Verify(payload, signature)
	if err != nil {
		return nil, err
	}

	ev, err := DecodeEvent(verified)
	if err != nil {
		return &Outcome{EventID: verified.ID, EventType: verified.Type}, err
	}

	out := &Outcome{EventID: ev.ID, EventType: ev.Type, Kind: ev.Kind}
	switch ev.Kind {
	case KindCheckoutCompleted:
		out.Result, err = r.checkoutCompleted(ctx, ev.Checkout)
	case KindInvoicePaid:
		out.Result, err = r.invoicePaid(ctx, ev.Invoice)
	case KindSubscriptionDeleted:
		out.Result, err = r.subscriptionDeleted(ctx, ev.Subscription)
	case KindSubscriptionUpdated:
		out.Result, err = r.subscriptionUpdated(ctx, ev.Subscription)
	default:
		out.Result = ResultIgnored
	}

	if errors.Is(err, ErrReferenceBenign) {
		out.Result, err = ResultBenign, nil
	}
	if err != nil {
		r.logger.Warn("webhook event not applied",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"retryable", IsRetryable(err),
			"error", err,
		)
		return out, err
	}

	r.logger.Info("webhook event reconciled",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"result", out.Result,
	)
	return out, nil
}

func (r *Reconciler) retrieve(ctx context.Context, externalSubscriptionID string) (*ProviderSubscription, error) {
	sub, err := providerCall(ctx, r.timeout, func(ctx context.Context) (*ProviderSubscription, error) {
		return r.subscriptions.RetrieveSubscription(ctx, externalSubscriptionID)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving subscription %s: %w", externalSubscriptionID, err)
	}
	return sub, nil
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, c *CheckoutCompleted) (Result, error) {
	// One-off payments and sessions not started by this service carry no
	// subscription or no organization and are outside entitlement scope.
	if c.SubscriptionID == "" || c.OrganizationID == uuid.Nil {
		return ResultIgnored, nil
	}

	ps, err := r.retrieve(ctx, c.SubscriptionID)
	if errors.Is(err, ErrProviderNotFound) {
		return ResultIgnored, nil
	}
	if err != nil {
		return "", err
	}

	price, err := r.store.FindPriceByExternalID(ctx, ps.PriceID)
	if errors.Is(err, ErrNotFound) {
		r.logger.Info("checkout for unknown price ignored", "session_id", c.SessionID, "price_id", ps.PriceID)
		return ResultIgnored, nil
	}
	if err != nil {
		return "", err
	}

	active := models.SubscriptionActive
	_, err = r.store.ApplySubscriptionChange(ctx, SubscriptionChange{
		ExternalSubscriptionID: c.SubscriptionID,
		Create: &SubscriptionOwner{
			OrganizationID: c.OrganizationID,
			ProductID:      price.ProductID,
			ProductPriceID: price.ID,
			UserID:         c.UserID,
		},
		Status:      &active,
		PeriodStart: periodPtr(ps.CurrentPeriodStart),
		PeriodEnd:   periodPtr(ps.CurrentPeriodEnd),
	})
	if err != nil {
		return "", err
	}
	return ResultApplied, nil
}

func (r *Reconciler) invoicePaid(ctx context.Context, inv *InvoicePaid) (Result, error) {
	if inv.SubscriptionID == "" {
		return ResultIgnored, nil
	}

	// The checkout event may not have landed yet. Surface that so the
	// provider redelivers instead of dropping the payment.
	if _, err := r.store.FindSubscriptionByExternalID(ctx, inv.SubscriptionID); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return "", fmt.Errorf("invoice %s: %w", inv.InvoiceID, ErrReferenceRetryable)
		}
		return "", err
	}

	// Period bounds come from the provider subscription; the invoice may
	// describe a period that has already been superseded.
	ps, err := r.retrieve(ctx, inv.SubscriptionID)
	if err != nil {
		return "", err
	}

	active := models.SubscriptionActive
	res, err := r.store.ApplySubscriptionChange(ctx, SubscriptionChange{
		ExternalSubscriptionID: inv.SubscriptionID,
		Status:                 &active,
		PeriodStart:            periodPtr(ps.CurrentPeriodStart),
		PeriodEnd:              periodPtr(ps.CurrentPeriodEnd),
		Payment: &PaymentRecord{
			ExternalPaymentID: inv.PaymentKey(),
			ExternalInvoiceID: inv.InvoiceID,
			AmountCents:       inv.AmountPaid,
			Currency:          inv.Currency,
			UserID:            inv.UserID,
		},
	})
	if errors.Is(err, ErrSubscriptionNotFound) {
		return "", fmt.Errorf("invoice %s: %w", inv.InvoiceID, ErrReferenceRetryable)
	}
	if err != nil {
		return "", err
	}
	if !res.PaymentRecorded {
		return ResultDuplicate, nil
	}
	return ResultApplied, nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, ps *ProviderSubscription) (Result, error) {
	canceled := models.SubscriptionCanceled
	return r.applyBenign(ctx, SubscriptionChange{
		ExternalSubscriptionID: ps.ID,
		Status:                 &canceled,
	})
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, ps *ProviderSubscription) (Result, error) {
	return r.applyBenign(ctx, ChangeFromProvider(ps))
}

// applyBenign applies a change for which a missing row is an expected race.
func (r *Reconciler) applyBenign(ctx context.Context, change SubscriptionChange) (Result, error) {
	_, err := r.store.ApplySubscriptionChange(ctx, change)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return "", fmt.Errorf("subscription %s: %w", change.ExternalSubscriptionID, ErrReferenceBenign)
	}
	if err != nil {
		return "", err
	}
	return ResultApplied, nil
}

// ChangeFromProvider copies status, period bounds and the cancellation flag
// from a provider subscription.
func ChangeFromProvider(ps *ProviderSubscription) SubscriptionChange {
	status := MapProviderStatus(ps.Status)
	cancelAtPeriodEnd := ps.CancelAtPeriodEnd
	return SubscriptionChange{
		ExternalSubscriptionID: ps.ID,
		Status:                 &status,
		PeriodStart:            periodPtr(ps.CurrentPeriodStart),
		PeriodEnd:              periodPtr(ps.CurrentPeriodEnd),
		CancelAtPeriodEnd:      &cancelAtPeriodEnd,
	}
}

func periodPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
