package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/mise/internal/backend"
	"github.com/dukerupert/mise/internal/model"
)

const subscriptionsTable = "subscriptions"

var newestFirst = []backend.Order{{Column: "created_at", Desc: true}, {Column: "id", Desc: true}}

type SubscriptionStore struct {
	s backend.Store
}

func NewSubscriptionStore(s backend.Store) *SubscriptionStore {
	return &SubscriptionStore{s: s}
}

func SubscriptionFromRow(r backend.Row) *model.Subscription {
	return &model.Subscription{
		ID:                 r.String("id"),
		MerchantID:         r.String("merchant_id"),
		Plan:               model.Plan(r.String("plan")),
		Status:             model.Status(r.String("status")),
		ProcessorRef:       r.StringPtr("processor_ref"),
		CurrentPeriodStart: r.TimePtr("current_period_start"),
		CurrentPeriodEnd:   r.TimePtr("current_period_end"),
		CancelAtPeriodEnd:  r.Bool("cancel_at_period_end"),
		LastEventAt:        r.TimePtr("last_event_at"),
		CreatedAt:          r.Time("created_at"),
		UpdatedAt:          r.Time("updated_at"),
	}
}

func (s *SubscriptionStore) findOne(ctx context.Context, filter backend.Filter) (*model.Subscription, error) {
	row, err := backend.FindOne(ctx, s.s, subscriptionsTable, filter, newestFirst...)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return SubscriptionFromRow(row), nil
}

// NewSubscription describes a row to insert.
type NewSubscription struct {
	MerchantID   string
	Plan         model.Plan
	Status       model.Status
	ProcessorRef string
	PeriodStart  *time.Time
	PeriodEnd    *time.Time
	EventAt      *time.Time
}

// Create fails with backend.ErrConstraintViolation when the merchant already
// has a subscription for the processor reference.
func (s *SubscriptionStore) Create(ctx context.Context, in NewSubscription) (*model.Subscription, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	row := backend.Row{
		"id":          id,
		"merchant_id": in.MerchantID,
		"plan":        string(in.Plan),
		"status":      string(in.Status),
		"created_at":  now,
		"updated_at":  now,
	}
	if in.ProcessorRef != "" {
		row["processor_ref"] = in.ProcessorRef
	}
	if in.PeriodStart != nil {
		row["current_period_start"] = in.PeriodStart.UTC()
	}
	if in.PeriodEnd != nil {
		row["current_period_end"] = in.PeriodEnd.UTC()
	}
	if in.EventAt != nil {
		row["last_event_at"] = in.EventAt.UTC()
	}

	if err := s.s.Insert(ctx, subscriptionsTable, row); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	sub, err := s.findOne(ctx, backend.Filter{backend.Eq("id", id)})
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// Current returns the merchant's most recently created subscription.
func (s *SubscriptionStore) Current(ctx context.Context, merchantID string) (*model.Subscription, error) {
	sub, err := s.findOne(ctx, backend.Filter{backend.Eq("merchant_id", merchantID)})
	if err != nil {
		return nil, fmt.Errorf("get current subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByRef(ctx context.Context, ref string) (*model.Subscription, error) {
	sub, err := s.findOne(ctx, backend.Filter{backend.Eq("processor_ref", ref)})
	if err != nil {
		return nil, fmt.Errorf("get subscription by ref: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByMerchantAndRef(ctx context.Context, merchantID, ref string) (*model.Subscription, error) {
	sub, err := s.findOne(ctx, backend.Filter{
		backend.Eq("merchant_id", merchantID),
		backend.Eq("processor_ref", ref),
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription by merchant and ref: %w", err)
	}
	return sub, nil
}

// StatusChange is a processor-reported state for one subscription.
type StatusChange struct {
	Status            model.Status
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	EventAt           time.Time
}

// ApplyStatus writes change unless the subscription is canceled or has
// already seen a newer event. It reports whether a row changed. Both guards
// are part of the UPDATE filter so concurrent deliveries cannot interleave.
func (s *SubscriptionStore) ApplyStatus(ctx context.Context, id string, change StatusChange) (bool, error) {
	eventAt := change.EventAt.UTC()
	patch := backend.Row{
		"status":        string(change.Status),
		"last_event_at": eventAt,
		"updated_at":    time.Now().UTC(),
	}
	if change.PeriodStart != nil {
		patch["current_period_start"] = change.PeriodStart.UTC()
	}
	if change.PeriodEnd != nil {
		patch["current_period_end"] = change.PeriodEnd.UTC()
	}
	if change.CancelAtPeriodEnd != nil {
		patch["cancel_at_period_end"] = *change.CancelAtPeriodEnd
	}

	n, err := s.s.Update(ctx, subscriptionsTable, backend.Filter{
		backend.Eq("id", id),
		backend.Neq("status", string(model.StatusCanceled)),
		backend.Or(
			backend.Eq("last_event_at", nil),
			backend.NotAfter("last_event_at", eventAt),
		),
	}, patch)
	if err != nil {
		return false, fmt.Errorf("apply subscription status: %w", err)
	}
	return n > 0, nil
}

// Cancel moves the subscription to the terminal status. Cancellation is final
// at the processor, so it is applied regardless of event ordering.
func (s *SubscriptionStore) Cancel(ctx context.Context, id string, eventAt time.Time) (bool, error) {
	n, err := s.s.Update(ctx, subscriptionsTable, backend.Filter{
		backend.Eq("id", id),
		backend.Neq("status", string(model.StatusCanceled)),
	}, backend.Row{
		"status":        string(model.StatusCanceled),
		"last_event_at": eventAt.UTC(),
		"updated_at":    time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("cancel subscription: %w", err)
	}
	return n > 0, nil
}

func (s *SubscriptionStore) CountByStatus(ctx context.Context, status model.Status) (int, error) {
	n, err := s.s.Count(ctx, subscriptionsTable, backend.Filter{backend.Eq("status", string(status))})
	if err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}
