package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
)

var paymentColumns = []string{
	"id", "agency_id", "lease_id", "amount", "payment_date", "due_date", "status", "payment_method",
	"payment_type", "payment_status_type", "idempotency_key", "gateway", "gateway_reference",
	"created_at", "created_by",
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var (
		p                              domain.Payment
		leaseID, dueDate, statusType   sql.NullString
		key, gateway, gatewayRef       sql.NullString
		paymentDate, status, typ, crAt string
	)
	err := s.Scan(&p.ID, &p.AgencyID, &leaseID, &p.Amount, &paymentDate, &dueDate, &status, &p.PaymentMethod,
		&typ, &statusType, &key, &gateway, &gatewayRef, &crAt, &p.CreatedBy)
	if err != nil {
		return nil, err
	}
	p.LeaseID = parseNullUUID(leaseID)
	p.PaymentDate = parseDate(paymentDate)
	p.DueDate = parseNullDate(dueDate)
	p.Status = domain.PaymentStatus(status)
	p.PaymentType = domain.PaymentType(typ)
	p.PaymentStatusType = domain.PaymentStatusType(statusType.String)
	p.IdempotencyKey = key.String
	p.Gateway = gateway.String
	p.GatewayReference = gatewayRef.String
	p.CreatedAt = parseTime(crAt)
	return &p, nil
}

// CreatePayment inserts a payment row. The idempotency key, when set, is
// unique per agency and a duplicate fails the insert.
func (c *Conn) CreatePayment(ctx context.Context, p *domain.Payment, a domain.Audit) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	created := nowText()
	p.CreatedAt = parseTime(created)
	p.CreatedBy = a.Actor
	q, args := c.b().Insert("payments").
		Columns("id", "agency_id", "lease_id", "amount", "payment_date", "due_date", "status",
			"payment_method", "payment_type", "payment_status_type", "idempotency_key", "gateway",
			"gateway_reference", "created_at", "created_by", "source", "correlation_id").
		Values(p.ID.String(), p.AgencyID.String(), uuidArg(p.LeaseID), p.Amount, p.PaymentDate.String(),
			dateArg(p.DueDate), string(p.Status), p.PaymentMethod, string(p.PaymentType),
			nullString(string(p.PaymentStatusType)), nullString(p.IdempotencyKey), nullString(p.Gateway),
			nullString(p.GatewayReference), created, a.Actor, nullString(a.Source), nullString(a.CorrelationID)).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func (c *Conn) onePayment(ctx context.Context, where *entsql.Predicate) (*domain.Payment, error) {
	q, args := c.b().Select(paymentColumns...).From(c.b().Table("payments")).Where(where).Query()
	var p *domain.Payment
	err := c.queryOne(ctx, q, args, func(s scanner) (err error) {
		p, err = scanPayment(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPayment loads a payment within an agency.
func (c *Conn) GetPayment(ctx context.Context, agencyID, id uuid.UUID) (*domain.Payment, error) {
	return c.onePayment(ctx, entsql.And(entsql.EQ("id", id.String()), entsql.EQ("agency_id", agencyID.String())))
}

// FindPayment loads a payment by id alone. Only gateway callbacks use it:
// they carry a payment id but no caller identity.
func (c *Conn) FindPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return c.onePayment(ctx, entsql.EQ("id", id.String()))
}

// PaymentByIdempotencyKey finds the payment recorded under key.
func (c *Conn) PaymentByIdempotencyKey(ctx context.Context, agencyID uuid.UUID, key string) (*domain.Payment, error) {
	return c.onePayment(ctx, entsql.And(entsql.EQ("agency_id", agencyID.String()), entsql.EQ("idempotency_key", key)))
}

// PaymentFilter narrows ListPayments.
type PaymentFilter struct {
	LeaseID *uuid.UUID
	Types   []domain.PaymentType
	Status  domain.PaymentStatus
	Limit   int
	Offset  int
}

// ListPayments returns an agency's payments, most recent payment date first.
func (c *Conn) ListPayments(ctx context.Context, agencyID uuid.UUID, f PaymentFilter) ([]*domain.Payment, error) {
	preds := []*entsql.Predicate{entsql.EQ("agency_id", agencyID.String())}
	if f.LeaseID != nil {
		preds = append(preds, entsql.EQ("lease_id", f.LeaseID.String()))
	}
	if len(f.Types) > 0 {
		vals := make([]any, len(f.Types))
		for i, t := range f.Types {
			vals[i] = string(t)
		}
		preds = append(preds, entsql.In("payment_type", vals...))
	}
	if f.Status != "" {
		preds = append(preds, entsql.EQ("status", string(f.Status)))
	}
	sel := c.b().Select(paymentColumns...).From(c.b().Table("payments")).
		Where(entsql.And(preds...)).
		OrderExpr(descending("payment_date"), descending("created_at"))
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sel.Offset(f.Offset)
	}
	q, args := sel.Query()
	var out []*domain.Payment
	err := c.query(ctx, q, args, func(s scanner) error {
		p, err := scanPayment(s)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// TransitionPayment moves a payment between states. The update is guarded by
// the current status.
func (c *Conn) TransitionPayment(ctx context.Context, p *domain.Payment, to domain.PaymentStatus, gatewayRef string) error {
	if err := domain.ValidateTransition(domain.ValidPaymentTransitions, p.Status, to); err != nil {
		return err
	}
	u := c.b().Update("payments").Set("status", string(to))
	if gatewayRef != "" {
		u.Set("gateway_reference", gatewayRef)
	}
	q, args := u.Where(entsql.And(
		entsql.EQ("id", p.ID.String()),
		entsql.EQ("agency_id", p.AgencyID.String()),
		entsql.EQ("status", string(p.Status)),
	)).Query()
	if err := c.execOne(ctx, q, args); err != nil {
		return err
	}
	p.Status = to
	if gatewayRef != "" {
		p.GatewayReference = gatewayRef
	}
	return nil
}
