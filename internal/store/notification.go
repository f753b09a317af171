package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
)

var notificationColumns = []string{
	"id", "agency_id", "tenant_id", "lease_id", "type", "amount", "due_date", "is_read", "created_at",
}

// CreateNotification inserts a notification. When dedupeKey is set and a
// notification with the same key exists, nothing is written and created is
// false.
func (c *Conn) CreateNotification(ctx context.Context, n *domain.Notification, dedupeKey string) (created bool, err error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := nowText()
	n.CreatedAt = parseTime(now)
	ins := c.b().Insert("payment_notifications").
		Columns("id", "agency_id", "tenant_id", "lease_id", "type", "amount", "due_date", "dedupe_key", "is_read", "created_at").
		Values(n.ID.String(), n.AgencyID.String(), uuidArg(n.TenantID), uuidArg(n.LeaseID), string(n.Type),
			n.Amount, dateArg(n.DueDate), nullString(dedupeKey), false, now)
	if dedupeKey != "" {
		ins.OnConflict(entsql.ConflictColumns("dedupe_key"), entsql.DoNothing())
	}
	q, args := ins.Query()
	res, err := c.exec(ctx, q, args)
	if err != nil {
		return false, fmt.Errorf("inserting notification: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	TenantID   *uuid.UUID
	LeaseID    *uuid.UUID
	UnreadOnly bool
	Limit      int
}

// ListNotifications returns an agency's notifications, newest first.
func (c *Conn) ListNotifications(ctx context.Context, agencyID uuid.UUID, f NotificationFilter) ([]*domain.Notification, error) {
	preds := []*entsql.Predicate{entsql.EQ("agency_id", agencyID.String())}
	if f.TenantID != nil {
		preds = append(preds, entsql.EQ("tenant_id", f.TenantID.String()))
	}
	if f.LeaseID != nil {
		preds = append(preds, entsql.EQ("lease_id", f.LeaseID.String()))
	}
	if f.UnreadOnly {
		preds = append(preds, entsql.EQ("is_read", false))
	}
	sel := c.b().Select(notificationColumns...).From(c.b().Table("payment_notifications")).
		Where(entsql.And(preds...)).
		OrderExpr(descending("created_at"))
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	q, args := sel.Query()
	var out []*domain.Notification
	err := c.query(ctx, q, args, func(s scanner) error {
		var (
			n                          domain.Notification
			tenantID, leaseID, dueDate sql.NullString
			typ, created               string
		)
		if err := s.Scan(&n.ID, &n.AgencyID, &tenantID, &leaseID, &typ, &n.Amount, &dueDate, &n.IsRead, &created); err != nil {
			return err
		}
		n.TenantID = parseNullUUID(tenantID)
		n.LeaseID = parseNullUUID(leaseID)
		n.Type = domain.NotificationType(typ)
		n.DueDate = parseNullDate(dueDate)
		n.CreatedAt = parseTime(created)
		out = append(out, &n)
		return nil
	})
	return out, err
}

// MarkNotificationRead flips is_read. Notifications are otherwise immutable.
func (c *Conn) MarkNotificationRead(ctx context.Context, agencyID, id uuid.UUID) error {
	q, args := c.b().Update("payment_notifications").
		Set("is_read", true).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("agency_id", agencyID.String()))).
		Query()
	err := c.execOne(ctx, q, args)
	if errors.Is(err, ErrConflict) {
		return ErrNotFound
	}
	return err
}
