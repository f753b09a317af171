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

var periodColumns = []string{
	"id", "agency_id", "lease_id", "sequence", "start_date", "end_date", "due_date", "amount", "status", "payment_id",
}

func scanPeriod(s scanner) (*domain.PaymentPeriod, error) {
	var (
		p               domain.PaymentPeriod
		start, end, due string
		status          string
		paymentID       sql.NullString
	)
	if err := s.Scan(&p.ID, &p.AgencyID, &p.LeaseID, &p.Sequence, &start, &end, &due, &p.Amount, &status, &paymentID); err != nil {
		return nil, err
	}
	p.StartDate = parseDate(start)
	p.EndDate = parseDate(end)
	p.DueDate = parseDate(due)
	p.Status = domain.PeriodStatus(status)
	p.PaymentID = parseNullUUID(paymentID)
	return &p, nil
}

// insertBatch bounds the rows per INSERT so bind parameters stay under the
// SQLite limit.
const insertBatch = 500

// InsertPeriods persists generated periods for a lease. A period that
// already exists for the same start date violates the unique constraint.
func (c *Conn) InsertPeriods(ctx context.Context, periods []*domain.PaymentPeriod) error {
	now := nowText()
	for len(periods) > 0 {
		n := min(len(periods), insertBatch)
		ins := c.b().Insert("payment_periods").
			Columns("id", "agency_id", "lease_id", "sequence", "start_date", "end_date", "due_date", "amount", "status", "updated_at")
		for _, p := range periods[:n] {
			if p.ID == uuid.Nil {
				p.ID = uuid.New()
			}
			ins.Values(p.ID.String(), p.AgencyID.String(), p.LeaseID.String(), p.Sequence,
				p.StartDate.String(), p.EndDate.String(), p.DueDate.String(), p.Amount, string(p.Status), now)
		}
		q, args := ins.Query()
		if _, err := c.exec(ctx, q, args); err != nil {
			return fmt.Errorf("inserting periods: %w", err)
		}
		periods = periods[n:]
	}
	return nil
}

// CountPeriods counts the periods of a lease.
func (c *Conn) CountPeriods(ctx context.Context, agencyID, leaseID uuid.UUID) (int, error) {
	return c.count(ctx, "payment_periods", entsql.And(
		entsql.EQ("agency_id", agencyID.String()),
		entsql.EQ("lease_id", leaseID.String()),
	))
}

// PeriodFilter narrows ListPeriods.
type PeriodFilter struct {
	LeaseID  *uuid.UUID
	Statuses []domain.PeriodStatus
	// DueBy keeps periods due on or before the date.
	DueBy *types.Date
}

// ListPeriods returns an agency's periods in lease and sequence order.
func (c *Conn) ListPeriods(ctx context.Context, agencyID uuid.UUID, f PeriodFilter) ([]*domain.PaymentPeriod, error) {
	preds := []*entsql.Predicate{entsql.EQ("agency_id", agencyID.String())}
	if f.LeaseID != nil {
		preds = append(preds, entsql.EQ("lease_id", f.LeaseID.String()))
	}
	if len(f.Statuses) > 0 {
		vals := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		preds = append(preds, entsql.In("status", vals...))
	}
	if f.DueBy != nil {
		preds = append(preds, entsql.LTE("due_date", f.DueBy.String()))
	}
	q, args := c.b().Select(periodColumns...).From(c.b().Table("payment_periods")).
		Where(entsql.And(preds...)).
		OrderBy("lease_id", "sequence").Query()
	var out []*domain.PaymentPeriod
	err := c.query(ctx, q, args, func(s scanner) error {
		p, err := scanPeriod(s)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// GetPeriods loads the given periods of an agency in sequence order. Unknown
// ids are silently absent from the result.
func (c *Conn) GetPeriods(ctx context.Context, agencyID uuid.UUID, periodIDs []uuid.UUID) ([]*domain.PaymentPeriod, error) {
	if len(periodIDs) == 0 {
		return nil, nil
	}
	q, args := c.b().Select(periodColumns...).From(c.b().Table("payment_periods")).
		Where(entsql.And(
			entsql.EQ("agency_id", agencyID.String()),
			entsql.In("id", ids(periodIDs)...),
		)).
		OrderBy("sequence").Query()
	var out []*domain.PaymentPeriod
	err := c.query(ctx, q, args, func(s scanner) error {
		p, err := scanPeriod(s)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// EarliestUnpaidPeriod returns the lowest-sequence payable period of a lease.
func (c *Conn) EarliestUnpaidPeriod(ctx context.Context, agencyID, leaseID uuid.UUID) (*domain.PaymentPeriod, error) {
	q, args := c.b().Select(periodColumns...).From(c.b().Table("payment_periods")).
		Where(entsql.And(
			entsql.EQ("agency_id", agencyID.String()),
			entsql.EQ("lease_id", leaseID.String()),
			entsql.In("status", string(domain.PeriodFuture), string(domain.PeriodPending), string(domain.PeriodLate)),
		)).
		OrderBy("sequence").Limit(1).Query()
	var p *domain.PaymentPeriod
	err := c.queryOne(ctx, q, args, func(s scanner) (err error) {
		p, err = scanPeriod(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TransitionPeriod moves a period between states, optionally linking the
// payment that settled it. The update is guarded by the current status.
func (c *Conn) TransitionPeriod(ctx context.Context, p *domain.PaymentPeriod, to domain.PeriodStatus, paymentID *uuid.UUID) error {
	if err := domain.ValidateTransition(domain.ValidPeriodTransitions, p.Status, to); err != nil {
		return err
	}
	u := c.b().Update("payment_periods").
		Set("status", string(to)).
		Set("updated_at", nowText())
	if paymentID != nil {
		u.Set("payment_id", paymentID.String())
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
	if paymentID != nil {
		id := *paymentID
		p.PaymentID = &id
	}
	return nil
}

// PeriodsByPayment returns the periods settled by a payment.
func (c *Conn) PeriodsByPayment(ctx context.Context, agencyID, paymentID uuid.UUID) ([]*domain.PaymentPeriod, error) {
	q, args := c.b().Select(periodColumns...).From(c.b().Table("payment_periods")).
		Where(entsql.And(
			entsql.EQ("agency_id", agencyID.String()),
			entsql.EQ("payment_id", paymentID.String()),
		)).
		OrderBy("sequence").Query()
	var out []*domain.PaymentPeriod
	err := c.query(ctx, q, args, func(s scanner) error {
		p, err := scanPeriod(s)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// LinkPeriodsToPayment records which pending payment is meant to settle the
// given periods, without changing their status. Gateway checkouts use it so
// the webhook knows what to flip.
func (c *Conn) LinkPeriodsToPayment(ctx context.Context, agencyID uuid.UUID, periodIDs []uuid.UUID, paymentID uuid.UUID) error {
	if len(periodIDs) == 0 {
		return nil
	}
	q, args := c.b().Update("payment_periods").
		Set("payment_id", paymentID.String()).
		Set("updated_at", nowText()).
		Where(entsql.And(
			entsql.EQ("agency_id", agencyID.String()),
			entsql.In("id", ids(periodIDs)...),
		)).Query()
	_, err := c.exec(ctx, q, args)
	return err
}

// UnlinkPeriods clears a pending payment link from every unpaid period.
func (c *Conn) UnlinkPeriods(ctx context.Context, agencyID, paymentID uuid.UUID) error {
	q, args := c.b().Update("payment_periods").
		SetNull("payment_id").
		Set("updated_at", nowText()).
		Where(entsql.And(
			entsql.EQ("agency_id", agencyID.String()),
			entsql.EQ("payment_id", paymentID.String()),
			entsql.NEQ("status", string(domain.PeriodPaid)),
		)).Query()
	_, err := c.exec(ctx, q, args)
	return err
}
