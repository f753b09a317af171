package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
)

var lateFeeColumns = []string{
	"id", "agency_id", "lease_id", "period_id", "amount", "days_late", "status", "created_at", "resolved_at",
}

func scanLateFee(s scanner) (*domain.LateFee, error) {
	var (
		f               domain.LateFee
		status, created string
		resolved        sql.NullString
	)
	if err := s.Scan(&f.ID, &f.AgencyID, &f.LeaseID, &f.PeriodID, &f.Amount, &f.DaysLate, &status, &created, &resolved); err != nil {
		return nil, err
	}
	f.Status = domain.LateFeeStatus(status)
	f.CreatedAt = parseTime(created)
	f.ResolvedAt = parseNullTime(resolved)
	return &f, nil
}

// CreateLateFee inserts a pending late fee. Each period carries at most one.
func (c *Conn) CreateLateFee(ctx context.Context, f *domain.LateFee) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Status == "" {
		f.Status = domain.LateFeePending
	}
	created := nowText()
	f.CreatedAt = parseTime(created)
	q, args := c.b().Insert("late_fees").
		Columns("id", "agency_id", "lease_id", "period_id", "amount", "days_late", "status", "created_at").
		Values(f.ID.String(), f.AgencyID.String(), f.LeaseID.String(), f.PeriodID.String(),
			f.Amount, f.DaysLate, string(f.Status), created).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting late fee: %w", err)
	}
	return nil
}

// GetLateFee loads a late fee within an agency.
func (c *Conn) GetLateFee(ctx context.Context, agencyID, id uuid.UUID) (*domain.LateFee, error) {
	return c.oneLateFee(ctx, entsql.And(entsql.EQ("id", id.String()), entsql.EQ("agency_id", agencyID.String())))
}

// LateFeeForPeriod returns the late fee attached to a period.
func (c *Conn) LateFeeForPeriod(ctx context.Context, agencyID, periodID uuid.UUID) (*domain.LateFee, error) {
	return c.oneLateFee(ctx, entsql.And(entsql.EQ("period_id", periodID.String()), entsql.EQ("agency_id", agencyID.String())))
}

func (c *Conn) oneLateFee(ctx context.Context, where *entsql.Predicate) (*domain.LateFee, error) {
	q, args := c.b().Select(lateFeeColumns...).From(c.b().Table("late_fees")).Where(where).Query()
	var f *domain.LateFee
	err := c.queryOne(ctx, q, args, func(s scanner) (err error) {
		f, err = scanLateFee(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListLateFees returns an agency's late fees, optionally for one lease and
// one status, newest first.
func (c *Conn) ListLateFees(ctx context.Context, agencyID uuid.UUID, leaseID *uuid.UUID, status domain.LateFeeStatus) ([]*domain.LateFee, error) {
	preds := []*entsql.Predicate{entsql.EQ("agency_id", agencyID.String())}
	if leaseID != nil {
		preds = append(preds, entsql.EQ("lease_id", leaseID.String()))
	}
	if status != "" {
		preds = append(preds, entsql.EQ("status", string(status)))
	}
	q, args := c.b().Select(lateFeeColumns...).From(c.b().Table("late_fees")).
		Where(entsql.And(preds...)).
		OrderExpr(descending("created_at")).Query()
	var out []*domain.LateFee
	err := c.query(ctx, q, args, func(s scanner) error {
		f, err := scanLateFee(s)
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// RefreshLateFee updates the amount and days of a pending late fee. It is a
// no-op for resolved fees.
func (c *Conn) RefreshLateFee(ctx context.Context, f *domain.LateFee, amount int64, daysLate int) error {
	q, args := c.b().Update("late_fees").
		Set("amount", amount).
		Set("days_late", daysLate).
		Where(entsql.And(
			entsql.EQ("id", f.ID.String()),
			entsql.EQ("agency_id", f.AgencyID.String()),
			entsql.EQ("status", string(domain.LateFeePending)),
		)).Query()
	if err := c.execOne(ctx, q, args); err != nil {
		return err
	}
	f.Amount = amount
	f.DaysLate = daysLate
	return nil
}

// ResolveLateFee marks a pending late fee paid or cancelled.
func (c *Conn) ResolveLateFee(ctx context.Context, f *domain.LateFee, to domain.LateFeeStatus) error {
	if err := domain.ValidateTransition(domain.ValidLateFeeTransitions, f.Status, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	q, args := c.b().Update("late_fees").
		Set("status", string(to)).
		Set("resolved_at", timeText(now)).
		Where(entsql.And(
			entsql.EQ("id", f.ID.String()),
			entsql.EQ("agency_id", f.AgencyID.String()),
			entsql.EQ("status", string(f.Status)),
		)).Query()
	if err := c.execOne(ctx, q, args); err != nil {
		return err
	}
	f.Status = to
	f.ResolvedAt = &now
	return nil
}
