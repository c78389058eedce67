package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/mise/internal/lifecycle"
	"github.com/dukerupert/mise/internal/model"
)

// Checkout session metadata keys.
const (
	MetaPlan           = "plan"
	MetaMerchantName   = "merchant_name"
	MetaRestaurantName = "restaurant_name"
	MetaPhone          = "phone"
	MetaLocale         = "locale"
)

// TranslateEvent converts a verified Stripe event into a lifecycle event.
// Unhandled types come back with Type set to the raw Stripe type so the
// state machine can log and ignore them. A payload that cannot be decoded
// is an error.
func TranslateEvent(ev stripe.Event) (lifecycle.Event, error) {
	out := lifecycle.Event{
		ID:         ev.ID,
		Type:       lifecycle.EventType(ev.Type),
		RawType:    string(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil {
		return out, fmt.Errorf("event %s has no data", ev.ID)
	}

	var err error
	switch ev.Type {
	case "checkout.session.completed":
		err = translateCheckout(ev.Data.Raw, &out)
	case "customer.subscription.updated":
		out.Type = lifecycle.SubscriptionUpdated
		err = translateSubscription(ev.Data.Raw, &out)
	case "customer.subscription.deleted":
		out.Type = lifecycle.SubscriptionDeleted
		err = translateSubscription(ev.Data.Raw, &out)
	case "invoice.paid":
		out.Type = lifecycle.PaymentSucceeded
		err = translateInvoice(ev.Data.Raw, &out)
	case "invoice.payment_failed":
		out.Type = lifecycle.PaymentFailed
		err = translateInvoice(ev.Data.Raw, &out)
	}
	return out, err
}

func translateCheckout(raw json.RawMessage, out *lifecycle.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}
	out.Type = lifecycle.CheckoutCompleted

	out.Reference = sess.ID
	if sess.Subscription != nil && sess.Subscription.ID != "" {
		out.Reference = sess.Subscription.ID
	}
	if sess.Customer != nil {
		out.CustomerRef = sess.Customer.ID
	}

	meta := sess.Metadata
	out.Email = sess.CustomerEmail
	if sess.CustomerDetails != nil {
		if sess.CustomerDetails.Email != "" {
			out.Email = sess.CustomerDetails.Email
		}
		out.Name = sess.CustomerDetails.Name
		out.Phone = sess.CustomerDetails.Phone
	}
	out.Name = first(meta[MetaMerchantName], meta[MetaRestaurantName], out.Name)
	out.Phone = first(meta[MetaPhone], out.Phone)
	out.Locale = first(meta[MetaLocale], string(sess.Locale))

	out.Plan = model.Plan(meta[MetaPlan])
	if out.Plan == "" {
		out.Plan = model.PlanMonthly
		if sess.Mode == stripe.CheckoutSessionModePayment {
			out.Plan = model.PlanSetup
		}
	}
	return nil
}

func translateSubscription(raw json.RawMessage, out *lifecycle.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	out.Reference = sub.ID
	out.Status = string(sub.Status)
	out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	// Periods live on the items since the 2025 API versions.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.PeriodStart = unixTime(item.CurrentPeriodStart)
		out.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return nil
}

func translateInvoice(raw json.RawMessage, out *lifecycle.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	out.Reference = subscriptionIDFromInvoice(invoice)
	if invoice.Customer != nil {
		out.CustomerRef = invoice.Customer.ID
	}
	return nil
}

// subscriptionIDFromInvoice extracts the subscription ID from an invoice's parent.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func first(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
