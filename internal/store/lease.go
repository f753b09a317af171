package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/types"
)

var leaseColumns = []string{
	"id", "agency_id", "tenant_id", "unit_id", "start_date", "end_date", "rent_amount",
	"deposit_amount", "agency_fees", "currency", "payment_frequency", "duration_type", "status",
	"payment_type", "initial_fees_paid", "initial_payments_completed", "deposit_return_date",
	"deposit_return_amount", "deposit_return_notes", "created_at", "updated_at", "created_by", "updated_by",
}

func scanLease(s scanner) (*domain.Lease, error) {
	var (
		l                                domain.Lease
		startDate, created, updated      string
		freq, duration, status           string
		endDate, paymentType, returnDate sql.NullString
		returnNotes                      sql.NullString
		returnAmount                     sql.NullInt64
	)
	err := s.Scan(&l.ID, &l.AgencyID, &l.TenantID, &l.UnitID, &startDate, &endDate, &l.RentAmount,
		&l.DepositAmount, &l.AgencyFees, &l.Currency, &freq, &duration, &status,
		&paymentType, &l.InitialFeesPaid, &l.InitialPaymentsCompleted, &returnDate,
		&returnAmount, &returnNotes, &created, &updated, &l.CreatedBy, &l.UpdatedBy)
	if err != nil {
		return nil, err
	}
	l.StartDate = parseDate(startDate)
	l.EndDate = parseNullDate(endDate)
	l.PaymentFrequency = domain.Frequency(freq)
	l.DurationType = domain.DurationType(duration)
	l.Status = domain.LeaseStatus(status)
	l.PaymentType = paymentType.String
	l.DepositReturnDate = parseNullDate(returnDate)
	if returnAmount.Valid {
		v := returnAmount.Int64
		l.DepositReturnAmount = &v
	}
	l.DepositReturnNotes = returnNotes.String
	l.CreatedAt = parseTime(created)
	l.UpdatedAt = parseTime(updated)
	return &l, nil
}

// CreateLease inserts a lease in the pending state.
func (c *Conn) CreateLease(ctx context.Context, l *domain.Lease, a domain.Audit) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = domain.LeasePending
	}
	if l.Currency == "" {
		l.Currency = "XOF"
	}
	now := nowText()
	l.CreatedAt, l.UpdatedAt = parseTime(now), parseTime(now)
	l.CreatedBy, l.UpdatedBy = a.Actor, a.Actor
	q, args := c.b().Insert("leases").
		Columns("id", "agency_id", "tenant_id", "unit_id", "start_date", "end_date", "rent_amount",
			"deposit_amount", "agency_fees", "currency", "payment_frequency", "duration_type", "status",
			"payment_type", "initial_fees_paid", "initial_payments_completed",
			"created_at", "updated_at", "created_by", "updated_by", "source", "correlation_id").
		Values(l.ID.String(), l.AgencyID.String(), l.TenantID.String(), l.UnitID.String(),
			l.StartDate.String(), dateArg(l.EndDate), l.RentAmount, l.DepositAmount, l.AgencyFees,
			l.Currency, string(l.PaymentFrequency), string(l.DurationType), string(l.Status),
			nullString(l.PaymentType), l.InitialFeesPaid, l.InitialPaymentsCompleted,
			now, now, a.Actor, a.Actor, nullString(a.Source), nullString(a.CorrelationID)).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting lease: %w", err)
	}
	return nil
}

// GetLease loads a lease within an agency.
func (c *Conn) GetLease(ctx context.Context, agencyID, id uuid.UUID) (*domain.Lease, error) {
	q, args := c.b().Select(leaseColumns...).From(c.b().Table("leases")).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("agency_id", agencyID.String()))).Query()
	var l *domain.Lease
	err := c.queryOne(ctx, q, args, func(s scanner) (err error) {
		l, err = scanLease(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// LeaseFilter narrows ListLeases.
type LeaseFilter struct {
	Status   domain.LeaseStatus
	TenantID *uuid.UUID
	UnitID   *uuid.UUID
	Limit    int
	Offset   int
}

// ListLeases returns an agency's leases, newest first.
func (c *Conn) ListLeases(ctx context.Context, agencyID uuid.UUID, f LeaseFilter) ([]*domain.Lease, error) {
	preds := []*entsql.Predicate{entsql.EQ("agency_id", agencyID.String())}
	if f.Status != "" {
		preds = append(preds, entsql.EQ("status", string(f.Status)))
	}
	if f.TenantID != nil {
		preds = append(preds, entsql.EQ("tenant_id", f.TenantID.String()))
	}
	if f.UnitID != nil {
		preds = append(preds, entsql.EQ("unit_id", f.UnitID.String()))
	}
	sel := c.b().Select(leaseColumns...).From(c.b().Table("leases")).
		Where(entsql.And(preds...)).
		OrderExpr(descending("created_at")).
		OrderBy("id")
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sel.Offset(f.Offset)
	}
	q, args := sel.Query()
	var out []*domain.Lease
	err := c.query(ctx, q, args, func(s scanner) error {
		l, err := scanLease(s)
		if err != nil {
			return err
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

func (c *Conn) leaseUpdate(a domain.Audit) *entsql.UpdateBuilder {
	return c.b().Update("leases").
		Set("updated_at", nowText()).
		Set("updated_by", a.Actor).
		Set("source", nullString(a.Source)).
		Set("correlation_id", nullString(a.CorrelationID))
}

func leaseGuard(agencyID, id uuid.UUID, status domain.LeaseStatus) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("id", id.String()),
		entsql.EQ("agency_id", agencyID.String()),
		entsql.EQ("status", string(status)),
	)
}

// TransitionLease moves a lease between states after validating the
// transition. The update is guarded by the current status.
func (c *Conn) TransitionLease(ctx context.Context, l *domain.Lease, to domain.LeaseStatus, a domain.Audit) error {
	if err := domain.ValidateTransition(domain.ValidLeaseTransitions, l.Status, to); err != nil {
		return err
	}
	q, args := c.leaseUpdate(a).Set("status", string(to)).
		Where(leaseGuard(l.AgencyID, l.ID, l.Status)).Query()
	if err := c.execOne(ctx, q, args); err != nil {
		return err
	}
	l.Status = to
	return nil
}

// CompleteInitialPayments flags the initial payments as done and activates
// the lease in the same statement.
func (c *Conn) CompleteInitialPayments(ctx context.Context, l *domain.Lease, a domain.Audit) error {
	if err := domain.ValidateTransition(domain.ValidLeaseTransitions, l.Status, domain.LeaseActive); err != nil {
		return err
	}
	q, args := c.leaseUpdate(a).
		Set("initial_fees_paid", true).
		Set("initial_payments_completed", true).
		Set("status", string(domain.LeaseActive)).
		Where(entsql.And(
			leaseGuard(l.AgencyID, l.ID, l.Status),
			entsql.EQ("initial_payments_completed", false),
		)).Query()
	if err := c.execOne(ctx, q, args); err != nil {
		return err
	}
	l.InitialFeesPaid = true
	l.InitialPaymentsCompleted = true
	l.Status = domain.LeaseActive
	return nil
}

// EndLease expires an active lease and records its end date.
func (c *Conn) EndLease(ctx context.Context, l *domain.Lease, end types.Date, a domain.Audit) error {
	if err := domain.ValidateTransition(domain.ValidLeaseTransitions, l.Status, domain.LeaseExpired); err != nil {
		return err
	}
	q, args := c.leaseUpdate(a).
		Set("status", string(domain.LeaseExpired)).
		Set("end_date", end.String()).
		Where(leaseGuard(l.AgencyID, l.ID, l.Status)).Query()
	if err := c.execOne(ctx, q, args); err != nil {
		return err
	}
	l.Status = domain.LeaseExpired
	l.EndDate = &end
	return nil
}

// SetDepositReturn records the returned deposit once. A second call reports
// ErrConflict.
func (c *Conn) SetDepositReturn(ctx context.Context, l *domain.Lease, date types.Date, amount int64, notes string, a domain.Audit) error {
	q, args := c.leaseUpdate(a).
		Set("deposit_return_date", date.String()).
		Set("deposit_return_amount", amount).
		Set("deposit_return_notes", nullString(notes)).
		Where(entsql.And(
			entsql.EQ("id", l.ID.String()),
			entsql.EQ("agency_id", l.AgencyID.String()),
			entsql.IsNull("deposit_return_date"),
		)).Query()
	if err := c.execOne(ctx, q, args); err != nil {
		return err
	}
	l.DepositReturnDate = &date
	l.DepositReturnAmount = &amount
	l.DepositReturnNotes = notes
	return nil
}

// LeasesEndedBy returns an agency's active leases whose end date is before asOf.
func (c *Conn) LeasesEndedBy(ctx context.Context, agencyID uuid.UUID, asOf types.Date) ([]*domain.Lease, error) {
	q, args := c.b().Select(leaseColumns...).From(c.b().Table("leases")).
		Where(entsql.And(
			entsql.EQ("agency_id", agencyID.String()),
			entsql.EQ("status", string(domain.LeaseActive)),
			entsql.NotNull("end_date"),
			entsql.LT("end_date", asOf.String()),
		)).OrderBy("id").Query()
	var out []*domain.Lease
	err := c.query(ctx, q, args, func(s scanner) error {
		l, err := scanLease(s)
		if err != nil {
			return err
		}
		out = append(out, l)
		return nil
	})
	return out, err
}
