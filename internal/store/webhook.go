package store

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

// ClaimWebhookEvent records that a gateway callback is being processed. It
// returns false when the same (gateway, eventKey) was already claimed, which
// marks the callback as a replay. Run it inside the transaction that applies
// the callback so a rolled-back mutation also releases the claim.
func (c *Conn) ClaimWebhookEvent(ctx context.Context, gateway, eventKey, status string) (bool, error) {
	q, args := c.b().Insert("webhook_events").
		Columns("id", "gateway", "event_key", "status", "received_at").
		Values(uuid.NewString(), gateway, eventKey, status, nowText()).
		OnConflict(entsql.ConflictColumns("gateway", "event_key"), entsql.DoNothing()).
		Query()
	res, err := c.exec(ctx, q, args)
	if err != nil {
		return false, fmt.Errorf("claiming webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountWebhookEvents counts the claimed events of a gateway.
func (c *Conn) CountWebhookEvents(ctx context.Context, gateway string) (int, error) {
	return c.count(ctx, "webhook_events", entsql.EQ("gateway", gateway))
}
