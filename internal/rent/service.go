// Package rent implements the rent-payment lifecycle of a lease: initial
// payments, period generation, recurring and late payments, late fees,
// termination with deposit return, and payment notifications.
//
// Every operation takes an explicit domain.TenantContext and runs its writes
// in a single store transaction. Domain events are emitted after commit.
package rent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/billing"
	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// Options configures a Service.
type Options struct {
	LateFeePolicy types.LateFeePolicy
	// AgencyFeeMonths is the rent multiple charged as agency fees by the
	// computed initial payment mode.
	AgencyFeeMonths float64
	// UpcomingWindowDays is how far ahead upcoming-rent notifications look.
	UpcomingWindowDays int
	// SubscriptionWarningDays is how early agencies are told their
	// subscription is about to expire.
	SubscriptionWarningDays int
	// Today returns the current calendar date. Tests pin it.
	Today func() types.Date
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		LateFeePolicy:           billing.DefaultLateFeePolicy(),
		AgencyFeeMonths:         1,
		UpcomingWindowDays:      5,
		SubscriptionWarningDays: 7,
		Today:                   types.Today,
	}
}

// Service runs rent operations against the store.
type Service struct {
	store    *store.Store
	recorder event.Recorder
	opts     Options
}

// New creates a Service. recorder may be nil, in which case events are dropped.
func New(s *store.Store, recorder event.Recorder, opts Options) *Service {
	def := DefaultOptions()
	if opts.LateFeePolicy.FeeType == "" {
		opts.LateFeePolicy = def.LateFeePolicy
	}
	if opts.AgencyFeeMonths <= 0 {
		opts.AgencyFeeMonths = def.AgencyFeeMonths
	}
	if opts.UpcomingWindowDays <= 0 {
		opts.UpcomingWindowDays = def.UpcomingWindowDays
	}
	if opts.SubscriptionWarningDays <= 0 {
		opts.SubscriptionWarningDays = def.SubscriptionWarningDays
	}
	if opts.Today == nil {
		opts.Today = def.Today
	}
	return &Service{store: s, recorder: recorder, opts: opts}
}

// Policy returns the late fee policy in force.
func (s *Service) Policy() types.LateFeePolicy { return s.opts.LateFeePolicy }

func (s *Service) emit(ctx context.Context, evts ...event.DomainEvent) {
	event.Emit(ctx, s.recorder, evts...)
}

// write runs fn in a transaction after checking that the caller's agency
// exists and is not blocked.
func (s *Service) write(ctx context.Context, tc domain.TenantContext, fn func(c *store.Conn, a *domain.Agency) error) error {
	return s.store.WithTx(ctx, func(c *store.Conn) error {
		a, err := c.GetAgency(ctx, tc.AgencyID)
		if err != nil {
			return fmt.Errorf("loading agency: %w", err)
		}
		if a.Status == domain.AgencyBlocked {
			return domain.Rule(domain.CodeAgencyBlocked, "agency is blocked")
		}
		return fn(c, a)
	})
}

func (s *Service) read() *store.Conn { return s.store.Conn() }

func (s *Service) today(d types.Date) types.Date {
	if d.IsZero() {
		return s.opts.Today()
	}
	return d
}

// limitFor returns the plan ceiling of a counted resource. Agencies without
// a plan are not limited.
func limitFor(ctx context.Context, c *store.Conn, a *domain.Agency, resource string) (int, error) {
	if a.SubscriptionPlanID == nil {
		return domain.Unlimited, nil
	}
	plan, err := c.GetPlan(ctx, *a.SubscriptionPlanID)
	if err != nil {
		return 0, fmt.Errorf("loading plan: %w", err)
	}
	switch resource {
	case "properties":
		return plan.MaxProperties, nil
	case "tenants":
		return plan.MaxTenants, nil
	case "profiles":
		return plan.MaxUsers, nil
	}
	return 0, fmt.Errorf("unknown counted resource %q", resource)
}

func checkLimit(ctx context.Context, c *store.Conn, a *domain.Agency, resource string) error {
	max, err := limitFor(ctx, c, a, resource)
	if err != nil {
		return err
	}
	current, err := c.CountAgencyRows(ctx, resource, a.ID)
	if err != nil {
		return err
	}
	if !domain.CheckLimit(max, current) {
		return domain.Rule(domain.CodeLimitReached, "subscription limit of %d %s reached", max, resource)
	}
	return nil
}

// ── Parties ─────────────────────────────────────────────────────────────────

// CreateProperty adds a property within the plan's property limit.
func (s *Service) CreateProperty(ctx context.Context, tc domain.TenantContext, p *domain.Property) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.Invalid("property name is required")
	}
	p.AgencyID = tc.AgencyID
	return s.write(ctx, tc, func(c *store.Conn, a *domain.Agency) error {
		if err := checkLimit(ctx, c, a, "properties"); err != nil {
			return err
		}
		if err := c.CreateProperty(ctx, p); err != nil {
			return err
		}
		_, err := c.RecomputeAgencyCounts(ctx, a.ID)
		return err
	})
}

// CreateUnit adds a unit to one of the agency's properties.
func (s *Service) CreateUnit(ctx context.Context, tc domain.TenantContext, u *domain.Unit) error {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return domain.Invalid("unit name is required")
	}
	if u.RentAmount < 0 {
		return domain.Invalid("rent amount must not be negative")
	}
	u.AgencyID = tc.AgencyID
	return s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		if _, err := c.GetProperty(ctx, tc.AgencyID, u.PropertyID); err != nil {
			return fmt.Errorf("loading property: %w", err)
		}
		return c.CreateUnit(ctx, u)
	})
}

// CreateTenant adds a tenant within the plan's tenant limit.
func (s *Service) CreateTenant(ctx context.Context, tc domain.TenantContext, t *domain.Tenant) error {
	t.FirstName = strings.TrimSpace(t.FirstName)
	t.LastName = strings.TrimSpace(t.LastName)
	if t.FirstName == "" || t.LastName == "" {
		return domain.Invalid("tenant first and last name are required")
	}
	t.AgencyID = tc.AgencyID
	return s.write(ctx, tc, func(c *store.Conn, a *domain.Agency) error {
		if err := checkLimit(ctx, c, a, "tenants"); err != nil {
			return err
		}
		if err := c.CreateTenant(ctx, t); err != nil {
			return err
		}
		_, err := c.RecomputeAgencyCounts(ctx, a.ID)
		return err
	})
}

// ListProperties lists the agency's properties.
func (s *Service) ListProperties(ctx context.Context, tc domain.TenantContext) ([]*domain.Property, error) {
	return s.read().ListProperties(ctx, tc.AgencyID)
}

// ListUnits lists the units of one of the agency's properties.
func (s *Service) ListUnits(ctx context.Context, tc domain.TenantContext, propertyID uuid.UUID) ([]*domain.Unit, error) {
	c := s.read()
	if _, err := c.GetProperty(ctx, tc.AgencyID, propertyID); err != nil {
		return nil, err
	}
	return c.ListUnits(ctx, tc.AgencyID, propertyID)
}

func (s *Service) GetTenant(ctx context.Context, tc domain.TenantContext, id uuid.UUID) (*domain.Tenant, error) {
	return s.read().GetTenant(ctx, tc.AgencyID, id)
}

func (s *Service) ListTenants(ctx context.Context, tc domain.TenantContext) ([]*domain.Tenant, error) {
	return s.read().ListTenants(ctx, tc.AgencyID)
}

// RecomputeCounts refreshes the agency's cached resource counts.
func (s *Service) RecomputeCounts(ctx context.Context, tc domain.TenantContext) (*domain.Agency, error) {
	var a *domain.Agency
	err := s.store.WithTx(ctx, func(c *store.Conn) (err error) {
		a, err = c.RecomputeAgencyCounts(ctx, tc.AgencyID)
		return err
	})
	return a, err
}

// ── Leases ──────────────────────────────────────────────────────────────────

// LeaseInput is the data needed to create a lease.
type LeaseInput struct {
	TenantID         uuid.UUID           `json:"tenant_id"`
	UnitID           uuid.UUID           `json:"unit_id"`
	StartDate        types.Date          `json:"start_date"`
	EndDate          *types.Date         `json:"end_date,omitempty"`
	RentAmount       int64               `json:"rent_amount"`
	DepositAmount    int64               `json:"deposit_amount"`
	AgencyFees       int64               `json:"agency_fees"`
	Currency         string              `json:"currency"`
	PaymentFrequency domain.Frequency    `json:"payment_frequency"`
	DurationType     domain.DurationType `json:"duration_type"`
	PaymentType      string              `json:"payment_type"`
}

func (in LeaseInput) validate() error {
	if in.TenantID == uuid.Nil || in.UnitID == uuid.Nil {
		return domain.Invalid("tenant_id and unit_id are required")
	}
	if in.StartDate.IsZero() {
		return domain.Invalid("start_date is required")
	}
	if !in.PaymentFrequency.Valid() {
		return domain.Invalid("unknown payment frequency %q", in.PaymentFrequency)
	}
	if !in.DurationType.Valid() {
		return domain.Invalid("unknown duration type %q", in.DurationType)
	}
	if in.DurationType == domain.DurationFixed && in.EndDate == nil {
		return domain.Invalid("a fixed lease needs an end_date")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return domain.Invalid("end_date is before start_date")
	}
	if in.RentAmount < 0 || in.DepositAmount < 0 || in.AgencyFees < 0 {
		return domain.Invalid("amounts must not be negative")
	}
	return nil
}

// CreateLease creates a pending lease. A zero rent amount takes the unit's
// listed rent.
func (s *Service) CreateLease(ctx context.Context, tc domain.TenantContext, in LeaseInput, audit domain.Audit) (*domain.Lease, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	l := &domain.Lease{
		AgencyID:         tc.AgencyID,
		TenantID:         in.TenantID,
		UnitID:           in.UnitID,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		RentAmount:       in.RentAmount,
		DepositAmount:    in.DepositAmount,
		AgencyFees:       in.AgencyFees,
		Currency:         in.Currency,
		PaymentFrequency: in.PaymentFrequency,
		DurationType:     in.DurationType,
		PaymentType:      in.PaymentType,
	}
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		if _, err := c.GetTenant(ctx, tc.AgencyID, in.TenantID); err != nil {
			return fmt.Errorf("loading tenant: %w", err)
		}
		unit, err := c.GetUnit(ctx, tc.AgencyID, in.UnitID)
		if err != nil {
			return fmt.Errorf("loading unit: %w", err)
		}
		if l.RentAmount == 0 {
			l.RentAmount = unit.RentAmount
		}
		if l.RentAmount <= 0 {
			return domain.Invalid("rent amount must be positive")
		}
		return c.CreateLease(ctx, l, audit)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, event.NewLeaseCreated(l))
	return l, nil
}

// GetLease loads one of the agency's leases.
func (s *Service) GetLease(ctx context.Context, tc domain.TenantContext, id uuid.UUID) (*domain.Lease, error) {
	return s.read().GetLease(ctx, tc.AgencyID, id)
}

// ListLeases lists the agency's leases.
func (s *Service) ListLeases(ctx context.Context, tc domain.TenantContext, f store.LeaseFilter) ([]*domain.Lease, error) {
	return s.read().ListLeases(ctx, tc.AgencyID, f)
}

// ListPayments lists the agency's payments.
func (s *Service) ListPayments(ctx context.Context, tc domain.TenantContext, f store.PaymentFilter) ([]*domain.Payment, error) {
	return s.read().ListPayments(ctx, tc.AgencyID, f)
}

// isUniqueViolation reports whether err came from a unique constraint. Both
// SQLite and Postgres name the constraint kind in the message.
func isUniqueViolation(err error) bool {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func isConflict(err error) bool { return errors.Is(err, store.ErrConflict) }
