// Package lifecycle applies payment-processor events to merchants and their
// subscriptions.
package lifecycle

import (
	"errors"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
)

type EventType string

const (
	CheckoutCompleted   EventType = "checkout_completed"
	SubscriptionUpdated EventType = "subscription_updated"
	SubscriptionDeleted EventType = "subscription_deleted"
	PaymentSucceeded    EventType = "payment_succeeded"
	PaymentFailed       EventType = "payment_failed"
)

// Event is a processor notification translated out of the processor's own
// types. Fields not relevant to Type are left empty.
type Event struct {
	ID         string
	Type       EventType
	RawType    string
	OccurredAt time.Time

	// Reference is the processor's subscription id. One-time checkouts use
	// the checkout session id so duplicates are still detectable.
	Reference   string
	CustomerRef string

	Email  string
	Name   string
	Phone  string
	Locale string
	Plan   model.Plan

	// Status is the processor's own status string.
	Status            string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
}

type Outcome string

const (
	Applied   Outcome = "applied"
	Duplicate Outcome = "duplicate"
	Ignored   Outcome = "ignored"
	NoOp      Outcome = "no_op"
)

var ErrInvalidEvent = errors.New("invalid event")

// Retryable reports whether the processor should redeliver the event.
func Retryable(err error) bool {
	return errors.Is(err, backend.ErrBackendUnavailable)
}
