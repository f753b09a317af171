package rent

import (
	"context"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// notification builds a lease notification addressed to its tenant.
func notification(l *domain.Lease, typ domain.NotificationType, amount int64, due *types.Date) *domain.Notification {
	tenantID, leaseID := l.TenantID, l.ID
	return &domain.Notification{
		AgencyID: l.AgencyID,
		TenantID: &tenantID,
		LeaseID:  &leaseID,
		Type:     typ,
		Amount:   amount,
		DueDate:  due,
	}
}

// notify persists n. With a dedupe key, a notification already written under
// the same key is kept and nil is returned.
func notify(ctx context.Context, c *store.Conn, n *domain.Notification, dedupeKey string) (*domain.Notification, error) {
	created, err := c.CreateNotification(ctx, n, dedupeKey)
	if err != nil || !created {
		return nil, err
	}
	return n, nil
}

func notificationEvents(ns ...*domain.Notification) []event.DomainEvent {
	var out []event.DomainEvent
	for _, n := range ns {
		if n != nil {
			out = append(out, event.NewNotificationCreated(n))
		}
	}
	return out
}

// ListNotifications lists the agency's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, tc domain.TenantContext, f store.NotificationFilter) ([]*domain.Notification, error) {
	return s.read().ListNotifications(ctx, tc.AgencyID, f)
}

// MarkNotificationRead flags a notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, tc domain.TenantContext, id uuid.UUID) error {
	return s.read().MarkNotificationRead(ctx, tc.AgencyID, id)
}
