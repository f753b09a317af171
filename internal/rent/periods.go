package rent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/billing"
	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
)

// GeneratePeriods computes and persists the payment periods of an active
// lease. Fixed-term leases get every period up to their end date; open-ended
// leases get count periods. A lease's periods are generated once.
func (s *Service) GeneratePeriods(ctx context.Context, tc domain.TenantContext, leaseID uuid.UUID, count int) ([]*domain.PaymentPeriod, error) {
	var (
		lease *domain.Lease
		out   []*domain.PaymentPeriod
	)
	asOf := s.opts.Today()
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		l, err := c.GetLease(ctx, tc.AgencyID, leaseID)
		if err != nil {
			return err
		}
		lease = l
		if !l.InitialPaymentsCompleted {
			return domain.Rule(domain.CodeInitialIncomplete, "initial payments must be recorded before rent periods")
		}
		if l.Status != domain.LeaseActive {
			return domain.Rule(domain.CodeLeaseNotActive, "lease is %s", l.Status)
		}
		n, err := c.CountPeriods(ctx, tc.AgencyID, l.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.Rule(domain.CodePeriodsExist, "lease already has %d periods", n)
		}

		var computed []billing.Period
		switch {
		case l.DurationType == domain.DurationFixed && l.EndDate != nil && count <= 0:
			computed, err = billing.PeriodsUntil(l.RentAmount, l.PaymentFrequency, l.StartDate, *l.EndDate)
		case count > 0:
			computed, err = billing.Periods(l.RentAmount, l.PaymentFrequency, l.StartDate, count)
		default:
			return domain.Invalid("count must be positive for an open-ended lease")
		}
		if err != nil {
			return domain.Invalid("%v", err)
		}

		out = make([]*domain.PaymentPeriod, len(computed))
		for i, p := range computed {
			out[i] = &domain.PaymentPeriod{
				ID:        uuid.New(),
				AgencyID:  l.AgencyID,
				LeaseID:   l.ID,
				Sequence:  p.Sequence,
				StartDate: p.Start,
				EndDate:   p.End,
				DueDate:   p.Due,
				Amount:    p.Amount,
				Status:    p.InitialStatus(asOf),
			}
		}
		if err := c.InsertPeriods(ctx, out); err != nil {
			return fmt.Errorf("persisting periods: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, event.NewPeriodsGenerated(lease, out))
	return out, nil
}

// ListPeriods lists the periods of a lease in sequence order.
func (s *Service) ListPeriods(ctx context.Context, tc domain.TenantContext, leaseID uuid.UUID, statuses ...domain.PeriodStatus) ([]*domain.PaymentPeriod, error) {
	c := s.read()
	if _, err := c.GetLease(ctx, tc.AgencyID, leaseID); err != nil {
		return nil, err
	}
	return c.ListPeriods(ctx, tc.AgencyID, store.PeriodFilter{LeaseID: &leaseID, Statuses: statuses})
}
