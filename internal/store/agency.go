package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/types"
)

var agencyColumns = []string{
	"id", "name", "phone", "address", "status", "subscription_plan_id", "subscription_expires_at",
	"current_properties_count", "current_tenants_count", "current_profiles_count", "created_at",
}

func scanAgency(s scanner) (*domain.Agency, error) {
	var (
		a                      domain.Agency
		phone, address, planID sql.NullString
		expires                sql.NullString
		status, created        string
	)
	err := s.Scan(&a.ID, &a.Name, &phone, &address, &status, &planID, &expires,
		&a.CurrentPropertiesCount, &a.CurrentTenantsCount, &a.CurrentProfilesCount, &created)
	if err != nil {
		return nil, err
	}
	a.Phone = phone.String
	a.Address = address.String
	a.Status = domain.AgencyStatus(status)
	a.SubscriptionPlanID = parseNullUUID(planID)
	a.SubscriptionExpiresAt = parseNullDate(expires)
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// CreateAgency inserts a new agency. ID and CreatedAt are filled in when zero.
func (c *Conn) CreateAgency(ctx context.Context, a *domain.Agency) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = domain.AgencyPending
	}
	created := nowText()
	a.CreatedAt = parseTime(created)
	q, args := c.b().Insert("agencies").
		Columns("id", "name", "phone", "address", "status", "subscription_plan_id", "subscription_expires_at", "created_at").
		Values(a.ID.String(), a.Name, nullString(a.Phone), nullString(a.Address), string(a.Status),
			uuidArg(a.SubscriptionPlanID), dateArg(a.SubscriptionExpiresAt), created).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting agency: %w", err)
	}
	return nil
}

// GetAgency loads one agency.
func (c *Conn) GetAgency(ctx context.Context, id uuid.UUID) (*domain.Agency, error) {
	q, args := c.b().Select(agencyColumns...).From(c.b().Table("agencies")).
		Where(entsql.EQ("id", id.String())).Query()
	var a *domain.Agency
	err := c.queryOne(ctx, q, args, func(s scanner) (err error) {
		a, err = scanAgency(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAgencies returns every agency, oldest first.
func (c *Conn) ListAgencies(ctx context.Context) ([]*domain.Agency, error) {
	q, args := c.b().Select(agencyColumns...).From(c.b().Table("agencies")).
		OrderBy("created_at", "id").Query()
	var out []*domain.Agency
	err := c.query(ctx, q, args, func(s scanner) error {
		a, err := scanAgency(s)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// UpdateAgencyStatus moves an agency from one status to another. It reports
// ErrConflict if the agency is no longer in from.
func (c *Conn) UpdateAgencyStatus(ctx context.Context, id uuid.UUID, from, to domain.AgencyStatus) error {
	q, args := c.b().Update("agencies").
		Set("status", string(to)).
		Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("status", string(from)))).
		Query()
	return c.execOne(ctx, q, args)
}

// SetAgencySubscription records the plan and expiry date of an agency.
func (c *Conn) SetAgencySubscription(ctx context.Context, id uuid.UUID, planID *uuid.UUID, expires types.Date) error {
	u := c.b().Update("agencies").Set("subscription_expires_at", expires.String())
	if planID != nil {
		u.Set("subscription_plan_id", planID.String())
	}
	q, args := u.Where(entsql.EQ("id", id.String())).Query()
	return c.execOne(ctx, q, args)
}

// RecomputeAgencyCounts recounts properties, tenants and profiles and writes
// the totals back onto the agency row.
func (c *Conn) RecomputeAgencyCounts(ctx context.Context, agencyID uuid.UUID) (*domain.Agency, error) {
	where := func() *entsql.Predicate { return entsql.EQ("agency_id", agencyID.String()) }
	props, err := c.count(ctx, "properties", where())
	if err != nil {
		return nil, fmt.Errorf("counting properties: %w", err)
	}
	tenants, err := c.count(ctx, "tenants", where())
	if err != nil {
		return nil, fmt.Errorf("counting tenants: %w", err)
	}
	profiles, err := c.count(ctx, "profiles", where())
	if err != nil {
		return nil, fmt.Errorf("counting profiles: %w", err)
	}
	q, args := c.b().Update("agencies").
		Set("current_properties_count", props).
		Set("current_tenants_count", tenants).
		Set("current_profiles_count", profiles).
		Where(entsql.EQ("id", agencyID.String())).
		Query()
	if err := c.execOne(ctx, q, args); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c.GetAgency(ctx, agencyID)
}

// CountAgencyRows counts one agency-scoped table. Used for subscription limits.
func (c *Conn) CountAgencyRows(ctx context.Context, table string, agencyID uuid.UUID) (int, error) {
	switch table {
	case "properties", "tenants", "profiles":
	default:
		return 0, fmt.Errorf("counting %s: not an agency resource", table)
	}
	return c.count(ctx, table, entsql.EQ("agency_id", agencyID.String()))
}

// CreatePlan inserts a subscription plan.
func (c *Conn) CreatePlan(ctx context.Context, p *domain.SubscriptionPlan) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("encoding plan features: %w", err)
	}
	if p.Features == nil {
		features = []byte("[]")
	}
	q, args := c.b().Insert("subscription_plans").
		Columns("id", "name", "max_properties", "max_tenants", "max_users", "price", "duration_days", "features").
		Values(p.ID.String(), p.Name, p.MaxProperties, p.MaxTenants, p.MaxUsers, p.Price, p.DurationDays, string(features)).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting plan: %w", err)
	}
	return nil
}

// GetPlan loads one subscription plan.
func (c *Conn) GetPlan(ctx context.Context, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	q, args := c.b().Select("id", "name", "max_properties", "max_tenants", "max_users", "price", "duration_days", "features").
		From(c.b().Table("subscription_plans")).
		Where(entsql.EQ("id", id.String())).Query()
	var p domain.SubscriptionPlan
	err := c.queryOne(ctx, q, args, func(s scanner) error {
		var features string
		if err := s.Scan(&p.ID, &p.Name, &p.MaxProperties, &p.MaxTenants, &p.MaxUsers, &p.Price, &p.DurationDays, &features); err != nil {
			return err
		}
		return json.Unmarshal([]byte(features), &p.Features)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateSubscriptionPayment appends to an agency's subscription payment history.
func (c *Conn) CreateSubscriptionPayment(ctx context.Context, p *domain.SubscriptionPayment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = parseTime(nowText())
	}
	q, args := c.b().Insert("subscription_payments").
		Columns("id", "agency_id", "plan_id", "amount", "gateway", "token", "status", "paid_at").
		Values(p.ID.String(), p.AgencyID.String(), uuidArg(p.PlanID), p.Amount, p.Gateway, p.Token, p.Status, timeText(p.PaidAt)).
		Query()
	if _, err := c.exec(ctx, q, args); err != nil {
		return fmt.Errorf("inserting subscription payment: %w", err)
	}
	return nil
}

// ListSubscriptionPayments returns an agency's subscription history, newest first.
func (c *Conn) ListSubscriptionPayments(ctx context.Context, agencyID uuid.UUID) ([]*domain.SubscriptionPayment, error) {
	q, args := c.b().Select("id", "agency_id", "plan_id", "amount", "gateway", "token", "status", "paid_at").
		From(c.b().Table("subscription_payments")).
		Where(entsql.EQ("agency_id", agencyID.String())).
		OrderExpr(descending("paid_at")).Query()
	var out []*domain.SubscriptionPayment
	err := c.query(ctx, q, args, func(s scanner) error {
		var (
			p      domain.SubscriptionPayment
			planID sql.NullString
			paidAt string
		)
		if err := s.Scan(&p.ID, &p.AgencyID, &planID, &p.Amount, &p.Gateway, &p.Token, &p.Status, &paidAt); err != nil {
			return err
		}
		p.PlanID = parseNullUUID(planID)
		p.PaidAt = parseTime(paidAt)
		out = append(out, &p)
		return nil
	})
	return out, err
}
