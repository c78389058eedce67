package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/email"
	"github.com/dukerupert/mise/internal/identity"
	"github.com/dukerupert/mise/internal/model"
	"github.com/dukerupert/mise/internal/store"
	"github.com/dukerupert/mise/internal/websocket"
)

// Notifier receives a copy of every applied transition.
type Notifier interface {
	Broadcast(websocket.Event)
}

type Machine struct {
	priv   backend.Privileged
	idp    identity.Provider
	mailer email.Sender
	notify Notifier
	logger *slog.Logger
	now    func() time.Time
}

// NewMachine returns a state machine. notify may be nil.
func NewMachine(priv backend.Privileged, idp identity.Provider, mailer email.Sender, notify Notifier, logger *slog.Logger) *Machine {
	return &Machine{
		priv:   priv,
		idp:    idp,
		mailer: mailer,
		notify: notify,
		logger: logger.With("component", "lifecycle"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Apply processes one event. The returned error is non-nil only when the
// event should be redelivered (see Retryable); every other failure is logged
// and reported as Ignored. Processed event ids are remembered so a
// redelivery is acknowledged without side effects.
func (m *Machine) Apply(ctx context.Context, ev Event) (Outcome, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = m.now()
	}
	log := m.logger.With("event_id", ev.ID, "type", ev.Type, "reference", ev.Reference)

	events := store.NewWebhookEventStore(m.priv.For("lifecycle: event dedupe"))
	if ev.ID != "" {
		seen, err := events.Seen(ctx, ev.ID)
		if err != nil {
			log.Warn("event dedupe lookup failed", "error", err)
		}
		if seen {
			log.Info("duplicate event acknowledged")
			return Duplicate, nil
		}
	}

	var (
		out Outcome
		err error
	)
	switch ev.Type {
	case CheckoutCompleted:
		out, err = m.checkoutCompleted(ctx, ev)
	case SubscriptionUpdated, PaymentSucceeded, PaymentFailed:
		out, err = m.statusChanged(ctx, ev)
	case SubscriptionDeleted:
		out, err = m.subscriptionDeleted(ctx, ev)
	default:
		log.Info("event ignored", "raw_type", ev.RawType)
		out = Ignored
	}

	if err != nil {
		if Retryable(err) {
			log.Error("event failed, awaiting redelivery", "error", err)
			return out, err
		}
		log.Error("event rejected", "error", err)
		out = Ignored
	}

	if ev.ID != "" {
		if err := events.Record(ctx, ev.ID, string(ev.Type)); err != nil {
			log.Warn("record event", "error", err)
		}
	}
	return out, nil
}

func (m *Machine) checkoutCompleted(ctx context.Context, ev Event) (Outcome, error) {
	if ev.Email == "" {
		return Ignored, fmt.Errorf("%w: checkout without email", ErrInvalidEvent)
	}
	if _, ok := model.ParsePlan(string(ev.Plan)); !ok {
		return Ignored, fmt.Errorf("%w: unknown plan %q", ErrInvalidEvent, ev.Plan)
	}

	// 1. Merchant, one per email.
	merchant, err := store.NewMerchantStore(m.priv.For("lifecycle: upsert merchant")).UpsertByEmail(ctx, store.MerchantUpsert{
		Email:            ev.Email,
		Name:             ev.Name,
		Phone:            ev.Phone,
		StripeCustomerID: ev.CustomerRef,
		Locale:           email.NormalizeLocale(ev.Locale),
	})
	if err != nil {
		return Ignored, fmt.Errorf("provision merchant: %w", err)
	}

	// 2. Subscription, one per (merchant, reference).
	sub, created, err := m.createSubscription(ctx, merchant, ev)
	if err != nil {
		return Ignored, err
	}

	// 3. Identity and invitation. Each step logs and continues. A replayed
	// checkout only retries the identity; the invitation went out the first time.
	if merchant.IdentityID == nil {
		m.provisionIdentity(ctx, merchant, created)
	}

	if !created {
		m.logger.Info("checkout already provisioned", "merchant_id", merchant.ID, "subscription_id", sub.ID)
		return Duplicate, nil
	}

	// 4. Payment confirmation, regardless of the identity outcome.
	m.send(ctx, email.PaymentConfirmation(merchant.Email, merchant.Name, string(sub.Plan), merchant.Locale), "payment confirmation")

	m.broadcast("subscription", "created", sub.ID, map[string]any{
		"merchant_id": merchant.ID,
		"email":       merchant.Email,
		"plan":        sub.Plan,
		"status":      sub.Status,
	})
	m.logger.Info("checkout provisioned", "merchant_id", merchant.ID, "subscription_id", sub.ID, "plan", sub.Plan)
	return Applied, nil
}

// createSubscription reports created=false when the merchant already holds a
// subscription for the reference, including when a concurrent delivery won
// the insert.
func (m *Machine) createSubscription(ctx context.Context, merchant *model.Merchant, ev Event) (*model.Subscription, bool, error) {
	subs := store.NewSubscriptionStore(m.priv.For("lifecycle: create subscription"))

	if ev.Reference != "" {
		existing, err := subs.GetByMerchantAndRef(ctx, merchant.ID, ev.Reference)
		if err != nil {
			return nil, false, fmt.Errorf("check existing subscription: %w", err)
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	start := m.now()
	if ev.PeriodStart != nil {
		start = *ev.PeriodStart
	}
	eventAt := ev.OccurredAt
	sub, err := subs.Create(ctx, store.NewSubscription{
		MerchantID:   merchant.ID,
		Plan:         ev.Plan,
		Status:       model.StatusActive,
		ProcessorRef: ev.Reference,
		PeriodStart:  &start,
		PeriodEnd:    ev.PeriodEnd,
		EventAt:      &eventAt,
	})
	if errors.Is(err, backend.ErrConstraintViolation) && ev.Reference != "" {
		existing, getErr := subs.GetByMerchantAndRef(ctx, merchant.ID, ev.Reference)
		if getErr == nil && existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("provision subscription: %w", err)
	}
	return sub, true, nil
}

func (m *Machine) provisionIdentity(ctx context.Context, merchant *model.Merchant, invite bool) {
	log := m.logger.With("merchant_id", merchant.ID, "email", merchant.Email)

	ident, err := m.idp.CreateIdentity(ctx, merchant.Email, "", true)
	if errors.Is(err, identity.ErrAlreadyExists) {
		ident, err = m.idp.FindByEmail(ctx, merchant.Email)
		if err == nil && ident == nil {
			err = identity.ErrNotFound
		}
	}
	if err != nil {
		log.Error("provision identity", "error", err)
		return
	}

	if err := identity.ReconcileLink(ctx, m.priv, merchant, ident.ID); err != nil {
		// Password setup links the merchant again, so the invitation still goes out.
		log.Error("link identity", "identity_id", ident.ID, "error", err)
	}
	if !invite {
		return
	}

	link, err := m.idp.GenerateRecoveryLink(ctx, merchant.Email, model.PurposeInvite)
	if err != nil {
		log.Error("generate invitation link", "error", err)
		return
	}
	m.send(ctx, email.Welcome(merchant.Email, merchant.Name, link, merchant.Locale), "welcome")
}

func (m *Machine) statusChanged(ctx context.Context, ev Event) (Outcome, error) {
	subs := store.NewSubscriptionStore(m.priv.For("lifecycle: " + string(ev.Type)))
	sub, err := m.lookup(ctx, subs, ev)
	if err != nil || sub == nil {
		return NoOp, err
	}

	change := store.StatusChange{
		PeriodStart: ev.PeriodStart,
		PeriodEnd:   ev.PeriodEnd,
		EventAt:     ev.OccurredAt,
	}
	switch ev.Type {
	case SubscriptionUpdated:
		change.Status = model.StatusPastDue
		if ev.Status == string(model.StatusActive) {
			change.Status = model.StatusActive
		}
		cancel := ev.CancelAtPeriodEnd
		change.CancelAtPeriodEnd = &cancel
	case PaymentSucceeded:
		change.Status = model.StatusActive
	case PaymentFailed:
		change.Status = model.StatusPastDue
	}

	ok, err := subs.ApplyStatus(ctx, sub.ID, change)
	if err != nil {
		return Ignored, err
	}
	if !ok {
		m.logger.Info("stale or terminal subscription event ignored",
			"subscription_id", sub.ID, "status", sub.Status, "type", ev.Type, "occurred_at", ev.OccurredAt)
		return Ignored, nil
	}

	m.broadcast("subscription", "updated", sub.ID, map[string]any{
		"merchant_id": sub.MerchantID,
		"status":      change.Status,
	})
	return Applied, nil
}

func (m *Machine) subscriptionDeleted(ctx context.Context, ev Event) (Outcome, error) {
	subs := store.NewSubscriptionStore(m.priv.For("lifecycle: subscription deleted"))
	sub, err := m.lookup(ctx, subs, ev)
	if err != nil || sub == nil {
		return NoOp, err
	}

	ok, err := subs.Cancel(ctx, sub.ID, ev.OccurredAt)
	if err != nil {
		return Ignored, err
	}
	if !ok {
		return Ignored, nil
	}

	m.broadcast("subscription", "canceled", sub.ID, map[string]any{"merchant_id": sub.MerchantID})
	return Applied, nil
}

// lookup returns nil, nil for events that name no known subscription.
func (m *Machine) lookup(ctx context.Context, subs *store.SubscriptionStore, ev Event) (*model.Subscription, error) {
	if ev.Reference == "" {
		m.logger.Info("event without subscription reference", "type", ev.Type, "event_id", ev.ID)
		return nil, nil
	}
	sub, err := subs.GetByRef(ctx, ev.Reference)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		m.logger.Info("event for unknown subscription", "type", ev.Type, "reference", ev.Reference)
	}
	return sub, nil
}

func (m *Machine) send(ctx context.Context, msg email.Message, kind string) {
	if err := m.mailer.Send(ctx, msg); err != nil {
		m.logger.Error("send email", "kind", kind, "to", msg.To, "error", err)
	}
}

func (m *Machine) broadcast(entity, action, id string, fields map[string]any) {
	if m.notify == nil {
		return
	}
	m.notify.Broadcast(websocket.NewEvent(entity, action, id, fields))
}
