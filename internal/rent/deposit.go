package rent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// TerminationResult is the outcome of TerminateLease.
type TerminationResult struct {
	Lease            *domain.Lease `json:"lease"`
	CancelledPeriods int           `json:"cancelled_periods"`
	CancelledFees    int           `json:"cancelled_fees"`
}

// TerminateLease ends an active lease on end (today when zero). Periods that
// start after the end date are cancelled together with their pending fees.
func (s *Service) TerminateLease(ctx context.Context, tc domain.TenantContext, leaseID uuid.UUID, end types.Date, audit domain.Audit) (*TerminationResult, error) {
	end = s.today(end)
	var res *TerminationResult
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		l, err := c.GetLease(ctx, tc.AgencyID, leaseID)
		if err != nil {
			return err
		}
		if l.Status != domain.LeaseActive {
			return domain.Rule(domain.CodeLeaseNotActive, "lease is %s", l.Status)
		}
		if end.Before(l.StartDate) {
			return domain.Invalid("end date is before the lease start")
		}
		res, err = endLease(ctx, c, l, end, audit)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, event.NewLeaseTerminated(res.Lease, res.CancelledPeriods))
	return res, nil
}

// endLease expires l on end and cancels the periods that start after it.
func endLease(ctx context.Context, c *store.Conn, l *domain.Lease, end types.Date, audit domain.Audit) (*TerminationResult, error) {
	if err := c.EndLease(ctx, l, end, audit); err != nil {
		return nil, err
	}
	leaseID := l.ID
	periods, err := c.ListPeriods(ctx, l.AgencyID, store.PeriodFilter{
		LeaseID:  &leaseID,
		Statuses: []domain.PeriodStatus{domain.PeriodFuture, domain.PeriodPending, domain.PeriodLate},
	})
	if err != nil {
		return nil, err
	}
	res := &TerminationResult{Lease: l}
	for _, p := range periods {
		if !p.StartDate.After(end) {
			continue
		}
		if err := c.TransitionPeriod(ctx, p, domain.PeriodCancelled, nil); err != nil {
			return nil, fmt.Errorf("cancelling period %d: %w", p.Sequence, err)
		}
		res.CancelledPeriods++

		f, err := c.LateFeeForPeriod(ctx, l.AgencyID, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.Status == domain.LateFeePending {
			if err := c.ResolveLateFee(ctx, f, domain.LateFeeCancelled); err != nil {
				return nil, err
			}
			res.CancelledFees++
		}
	}
	return res, nil
}

// DepositReturnResult is the outcome of ReturnDeposit.
type DepositReturnResult struct {
	Lease        *domain.Lease        `json:"lease"`
	Deposit      int64                `json:"deposit"`
	Returned     int64                `json:"returned"`
	Deduction    int64                `json:"deduction"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

// ReturnDeposit records the deposit handed back at the end of a lease. The
// returned amount must lie between zero and the deposit.
func (s *Service) ReturnDeposit(ctx context.Context, tc domain.TenantContext, leaseID uuid.UUID, returned int64, notes string, audit domain.Audit) (*DepositReturnResult, error) {
	if returned < 0 {
		return nil, domain.Invalid("returned amount must not be negative")
	}
	today := s.opts.Today()
	var res *DepositReturnResult
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		l, err := c.GetLease(ctx, tc.AgencyID, leaseID)
		if err != nil {
			return err
		}
		if l.Status != domain.LeaseExpired {
			return domain.Rule(domain.CodeLeaseNotTerminated, "deposit can only be returned once the lease has ended")
		}
		if l.DepositReturnDate != nil {
			return domain.Rule(domain.CodeDepositReturned, "deposit was already returned on %s", l.DepositReturnDate)
		}
		if returned > l.DepositAmount {
			return domain.Rule(domain.CodeDepositExceeded, "returned amount %d exceeds the deposit of %d", returned, l.DepositAmount)
		}
		if err := c.SetDepositReturn(ctx, l, today, returned, notes, audit); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domain.Rule(domain.CodeDepositReturned, "deposit was already returned")
			}
			return err
		}
		n, err := notify(ctx, c, notification(l, domain.NotifyDepositReturn, returned, &today), "deposit:"+l.ID.String())
		if err != nil {
			return err
		}
		res = &DepositReturnResult{
			Lease:        l,
			Deposit:      l.DepositAmount,
			Returned:     returned,
			Deduction:    l.DepositAmount - returned,
			Notification: n,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, append([]event.DomainEvent{event.NewDepositReturned(res.Lease, returned, notes)}, notificationEvents(res.Notification)...)...)
	return res, nil
}
