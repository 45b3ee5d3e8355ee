package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of provider events the reconciler acts on.
type EventKind int

const (
	KindUnhandled EventKind = iota
	KindCheckoutCompleted
	KindInvoicePaid
	KindSubscriptionDeleted
	KindSubscriptionUpdated
)

func (k EventKind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindInvoicePaid:
		return "invoice_paid"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	}
	return "unhandled"
}

// ClassifyEvent maps a provider event type onto a kind. Types the engine
// does not act on are KindUnhandled.
func ClassifyEvent(eventType string) EventKind {
	switch eventType {
	case "checkout.session.completed":
		return KindCheckoutCompleted
	case "invoice.payment_succeeded", "invoice.paid":
		return KindInvoicePaid
	case "customer.subscription.deleted":
		return KindSubscriptionDeleted
	case "customer.subscription.updated":
		return KindSubscriptionUpdated
	}
	return KindUnhandled
}

// Metadata keys attached to checkout sessions and the subscriptions they
// create.
const (
	MetadataOrganizationID = "organization_id"
	MetadataUserID         = "user_id"
	MetadataProductPriceID = "product_price_id"
)

// Event is a verified, decoded delivery. Exactly one of the payload fields
// is set for a handled kind; none for KindUnhandled.
type Event struct {
	ID   string
	Type string
	Kind EventKind

	Checkout     *CheckoutCompleted
	Invoice      *InvoicePaid
	Subscription *ProviderSubscription
}

type CheckoutCompleted struct {
	SessionID      string
	Mode           string
	SubscriptionID string
	CustomerID     string
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
}

type InvoicePaid struct {
	InvoiceID       string
	SubscriptionID  string
	PaymentIntentID string
	AmountPaid      int64
	Currency        string
	UserID          *uuid.UUID
}

// PaymentKey is the idempotency key of the payment this invoice records.
// Invoices settled without a payment intent (credit balance, zero total)
// fall back to the invoice id, which is just as unique per payment.
func (i *InvoicePaid) PaymentKey() string {
	if i.PaymentIntentID != "" {
		return i.PaymentIntentID
	}
	return i.InvoiceID
}

// DecodeEvent decodes the payload of a verified event according to its kind.
func DecodeEvent(v *VerifiedEvent) (*Event, error) {
	ev := &Event{ID: v.ID, Type: v.Type, Kind: ClassifyEvent(v.Type)}

	var err error
	switch ev.Kind {
	case KindCheckoutCompleted:
		ev.Checkout, err = decodeCheckout(v.Object)
	case KindInvoicePaid:
		ev.Invoice, err = decodeInvoice(v.Object)
	case KindSubscriptionDeleted, KindSubscriptionUpdated:
		ev.Subscription, err = DecodeSubscription(v.Object)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, v.Type, err)
	}
	return ev, nil
}

// expandable is a provider reference that is either an id string or an
// expanded object with an id.
type expandable string

func (e *expandable) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*e = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*e = expandable(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Subscription expandable        `json:"subscription"`
	Customer     expandable        `json:"customer"`
	Metadata     map[string]string `json:"metadata"`
}

func decodeCheckout(raw json.RawMessage) (*CheckoutCompleted, error) {
	var obj checkoutSessionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	out := &CheckoutCompleted{
		SessionID:      obj.ID,
		Mode:           obj.Mode,
		SubscriptionID: string(obj.Subscription),
		CustomerID:     string(obj.Customer),
		UserID:         parseOptionalUUID(obj.Metadata[MetadataUserID]),
	}
	if id := parseOptionalUUID(obj.Metadata[MetadataOrganizationID]); id != nil {
		out.OrganizationID = *id
	}
	return out, nil
}

type invoiceObject struct {
	ID            string     `json:"id"`
	AmountPaid    int64      `json:"amount_paid"`
	Currency      string     `json:"currency"`
	Subscription  expandable `json:"subscription"`
	PaymentIntent expandable `json:"payment_intent"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandable        `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Subscription expandable        `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
}

func decodeInvoice(raw json.RawMessage) (*InvoicePaid, error) {
	var obj invoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("invoice id missing")
	}

	out := &InvoicePaid{
		InvoiceID:       obj.ID,
		PaymentIntentID: string(obj.PaymentIntent),
		AmountPaid:      obj.AmountPaid,
		Currency:        obj.Currency,
	}

	// Newer API versions move the subscription under parent; older ones
	// carry it at the top level or on the first line item.
	var metadata map[string]string
	if p := obj.Parent; p != nil && p.SubscriptionDetails != nil {
		out.SubscriptionID = string(p.SubscriptionDetails.Subscription)
		metadata = p.SubscriptionDetails.Metadata
	}
	if out.SubscriptionID == "" {
		out.SubscriptionID = string(obj.Subscription)
	}
	if len(obj.Lines.Data) > 0 {
		line := obj.Lines.Data[0]
		if out.SubscriptionID == "" {
			out.SubscriptionID = string(line.Subscription)
		}
		if metadata == nil {
			metadata = line.Metadata
		}
	}
	out.UserID = parseOptionalUUID(metadata[MetadataUserID])
	return out, nil
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// DecodeSubscription decodes a provider subscription object. Period bounds
// are read from the first item and fall back to the top-level fields older
// API versions use.
func DecodeSubscription(raw json.RawMessage) (*ProviderSubscription, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("subscription id missing")
	}

	start, end := obj.CurrentPeriodStart, obj.CurrentPeriodEnd
	var priceID string
	if len(obj.Items.Data) > 0 {
		item := obj.Items.Data[0]
		priceID = item.Price.ID
		if item.CurrentPeriodStart != 0 {
			start = item.CurrentPeriodStart
		}
		if item.CurrentPeriodEnd != 0 {
			end = item.CurrentPeriodEnd
		}
	}

	return &ProviderSubscription{
		ID:                 obj.ID,
		Status:             obj.Status,
		PriceID:            priceID,
		CurrentPeriodStart: unixTime(start),
		CurrentPeriodEnd:   unixTime(end),
		CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		Metadata:           obj.Metadata,
	}, nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func parseOptionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
