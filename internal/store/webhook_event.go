package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/mise/internal/backend"
)

const webhookEventsTable = "webhook_events"

// WebhookEventStore remembers processed processor event ids.
type WebhookEventStore struct {
	s backend.Store
}

func NewWebhookEventStore(s backend.Store) *WebhookEventStore {
	return &WebhookEventStore{s: s}
}

func (s *WebhookEventStore) Seen(ctx context.Context, id string) (bool, error) {
	n, err := s.s.Count(ctx, webhookEventsTable, backend.Filter{backend.Eq("id", id)})
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return n > 0, nil
}

// Record is idempotent.
func (s *WebhookEventStore) Record(ctx context.Context, id, eventType string) error {
	err := s.s.Insert(ctx, webhookEventsTable, backend.Row{
		"id":          id,
		"type":        eventType,
		"received_at": time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, backend.ErrConstraintViolation) {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}
