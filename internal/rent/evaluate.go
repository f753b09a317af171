package rent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/billing"
	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// Evaluation counts what one evaluation pass changed.
type Evaluation struct {
	PeriodsStarted    int `json:"periods_started"`
	PeriodsLate       int `json:"periods_late"`
	FeesCreated       int `json:"fees_created"`
	FeesRefreshed     int `json:"fees_refreshed"`
	Notifications     int `json:"notifications"`
	LeasesExpired     int `json:"leases_expired"`
	AgenciesBlocked   int `json:"agencies_blocked"`
	LeasesEvaluated   int `json:"leases_evaluated"`
	AgenciesEvaluated int `json:"agencies_evaluated"`
}

// Add accumulates o into e.
func (e *Evaluation) Add(o Evaluation) {
	e.PeriodsStarted += o.PeriodsStarted
	e.PeriodsLate += o.PeriodsLate
	e.FeesCreated += o.FeesCreated
	e.FeesRefreshed += o.FeesRefreshed
	e.Notifications += o.Notifications
	e.LeasesExpired += o.LeasesExpired
	e.AgenciesBlocked += o.AgenciesBlocked
	e.LeasesEvaluated += o.LeasesEvaluated
	e.AgenciesEvaluated += o.AgenciesEvaluated
}

// Changes is the number of rows the pass wrote.
func (e Evaluation) Changes() int {
	return e.PeriodsStarted + e.PeriodsLate + e.FeesCreated + e.FeesRefreshed +
		e.Notifications + e.LeasesExpired + e.AgenciesBlocked
}

var evaluatorAudit = domain.SystemAudit("evaluator")

// EvaluateAgency applies the date-driven rules of one agency as of asOf:
// subscription expiry, ended leases, started and late periods, late fees
// and reminders. Each lease is evaluated in its own transaction. Running it
// twice for the same date changes nothing the second time.
func (s *Service) EvaluateAgency(ctx context.Context, agencyID uuid.UUID, asOf types.Date) (Evaluation, error) {
	ev := Evaluation{AgenciesEvaluated: 1}

	agencyEv, err := s.evaluateSubscription(ctx, agencyID, asOf)
	if err != nil {
		return ev, err
	}
	ev.Add(agencyEv)

	ended, err := s.read().LeasesEndedBy(ctx, agencyID, asOf)
	if err != nil {
		return ev, fmt.Errorf("listing ended leases: %w", err)
	}
	for _, l := range ended {
		var res *TerminationResult
		err := s.store.WithTx(ctx, func(c *store.Conn) (err error) {
			res, err = endLease(ctx, c, l, *l.EndDate, evaluatorAudit)
			return err
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return ev, fmt.Errorf("expiring lease %s: %w", l.ID, err)
		}
		ev.LeasesExpired++
		s.emit(ctx, event.NewLeaseExpired(res.Lease, res.CancelledPeriods))
	}

	active, err := s.read().ListLeases(ctx, agencyID, store.LeaseFilter{Status: domain.LeaseActive})
	if err != nil {
		return ev, fmt.Errorf("listing active leases: %w", err)
	}
	for _, l := range active {
		var (
			leaseEv Evaluation
			evts    []event.DomainEvent
		)
		err := s.store.WithTx(ctx, func(c *store.Conn) (err error) {
			leaseEv, evts, err = s.evaluateLease(ctx, c, l, asOf)
			return err
		})
		if err != nil {
			return ev, fmt.Errorf("evaluating lease %s: %w", l.ID, err)
		}
		ev.Add(leaseEv)
		s.emit(ctx, evts...)
	}
	return ev, nil
}

func (s *Service) evaluateLease(ctx context.Context, c *store.Conn, l *domain.Lease, asOf types.Date) (Evaluation, []event.DomainEvent, error) {
	ev := Evaluation{LeasesEvaluated: 1}
	var evts []event.DomainEvent
	policy := s.opts.LateFeePolicy
	upcomingBy := asOf.AddDays(s.opts.UpcomingWindowDays)

	leaseID := l.ID
	periods, err := c.ListPeriods(ctx, l.AgencyID, store.PeriodFilter{
		LeaseID:  &leaseID,
		Statuses: []domain.PeriodStatus{domain.PeriodFuture, domain.PeriodPending, domain.PeriodLate},
	})
	if err != nil {
		return ev, nil, err
	}

	for _, p := range periods {
		if p.Status == domain.PeriodFuture && !p.StartDate.After(asOf) {
			if err := c.TransitionPeriod(ctx, p, domain.PeriodPending, nil); err != nil {
				return ev, nil, err
			}
			ev.PeriodsStarted++
		}

		if p.Status != domain.PeriodLate && !p.DueDate.Before(asOf) && !p.DueDate.After(upcomingBy) {
			due := p.DueDate
			n, err := notify(ctx, c, notification(l, domain.NotifyUpcoming, p.Amount, &due), "upcoming:"+p.ID.String())
			if err != nil {
				return ev, nil, err
			}
			if n != nil {
				ev.Notifications++
				evts = append(evts, event.NewNotificationCreated(n))
			}
		}

		if p.Status == domain.PeriodPending && billing.IsLate(p.DueDate, asOf, policy) {
			if err := c.TransitionPeriod(ctx, p, domain.PeriodLate, nil); err != nil {
				return ev, nil, err
			}
			ev.PeriodsLate++
			fee, created, _, err := s.chargeLateFee(ctx, c, p, asOf)
			if err != nil {
				return ev, nil, err
			}
			if created {
				ev.FeesCreated++
			}
			evts = append(evts, event.NewPeriodMarkedLate(l, p, fee))
		} else if p.Status == domain.PeriodLate {
			fee, created, refreshed, err := s.chargeLateFee(ctx, c, p, asOf)
			if err != nil {
				return ev, nil, err
			}
			switch {
			case created:
				ev.FeesCreated++
				evts = append(evts, event.NewPeriodMarkedLate(l, p, fee))
			case refreshed:
				ev.FeesRefreshed++
			}
		}

		if p.Status == domain.PeriodLate {
			due := p.DueDate
			n, err := notify(ctx, c, notification(l, domain.NotifyLate, p.Amount, &due), "late:"+p.ID.String())
			if err != nil {
				return ev, nil, err
			}
			if n != nil {
				ev.Notifications++
				evts = append(evts, event.NewNotificationCreated(n))
			}
		}
	}
	return ev, evts, nil
}

// chargeLateFee creates the late fee of a late period, or brings a pending
// one up to date with the days elapsed on asOf. Resolved fees are left alone.
func (s *Service) chargeLateFee(ctx context.Context, c *store.Conn, p *domain.PaymentPeriod, asOf types.Date) (fee *domain.LateFee, created, refreshed bool, err error) {
	days := billing.DaysLate(p.DueDate, asOf)
	amount := billing.LateFee(days, p.Amount, s.opts.LateFeePolicy)

	f, err := c.LateFeeForPeriod(ctx, p.AgencyID, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		if amount <= 0 {
			return nil, false, false, nil
		}
		f = &domain.LateFee{
			AgencyID: p.AgencyID,
			LeaseID:  p.LeaseID,
			PeriodID: p.ID,
			Amount:   amount,
			DaysLate: days,
			Status:   domain.LateFeePending,
		}
		if err := c.CreateLateFee(ctx, f); err != nil {
			return nil, false, false, err
		}
		return f, true, false, nil
	}
	if err != nil {
		return nil, false, false, err
	}
	if f.Status != domain.LateFeePending || (f.Amount == amount && f.DaysLate == days) {
		return f, false, false, nil
	}
	if err := c.RefreshLateFee(ctx, f, amount, days); err != nil {
		return nil, false, false, err
	}
	return f, false, true, nil
}

// evaluateSubscription recounts the agency's resources, blocks it once its
// subscription has lapsed and warns it shortly before that.
func (s *Service) evaluateSubscription(ctx context.Context, agencyID uuid.UUID, asOf types.Date) (Evaluation, error) {
	var (
		ev   Evaluation
		evts []event.DomainEvent
	)
	err := s.store.WithTx(ctx, func(c *store.Conn) error {
		a, err := c.RecomputeAgencyCounts(ctx, agencyID)
		if err != nil {
			return fmt.Errorf("recounting agency: %w", err)
		}
		if a.SubscriptionExpiresAt == nil || a.Status != domain.AgencyActive {
			return nil
		}
		expires := *a.SubscriptionExpiresAt
		if expires.Before(asOf) {
			if err := c.UpdateAgencyStatus(ctx, a.ID, domain.AgencyActive, domain.AgencyBlocked); err != nil {
				return fmt.Errorf("blocking agency: %w", err)
			}
			a.Status = domain.AgencyBlocked
			ev.AgenciesBlocked++
			evts = append(evts, event.NewAgencyBlocked(a))
			return nil
		}
		if expires.After(asOf.AddDays(s.opts.SubscriptionWarningDays)) {
			return nil
		}
		n := &domain.Notification{
			AgencyID: a.ID,
			Type:     domain.NotifySubscriptionExpiring,
			DueDate:  &expires,
		}
		n, err = notify(ctx, c, n, "subscription:"+a.ID.String()+":"+expires.String())
		if err != nil {
			return err
		}
		if n != nil {
			ev.Notifications++
			evts = append(evts, event.NewNotificationCreated(n))
		}
		return nil
	})
	if err != nil {
		return ev, err
	}
	s.emit(ctx, evts...)
	return ev, nil
}
