package rent

import (
	"context"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/store"
)

// PaymentStats summarises the payment state of a lease.
type PaymentStats struct {
	LeaseID         uuid.UUID                   `json:"lease_id"`
	RentPaid        int64                       `json:"rent_paid"`
	InitialPaid     int64                       `json:"initial_paid"`
	LateFeesPaid    int64                       `json:"late_fees_paid"`
	Outstanding     int64                       `json:"outstanding"`
	PendingLateFees int64                       `json:"pending_late_fees"`
	Periods         map[domain.PeriodStatus]int `json:"periods"`
	NextDue         *domain.PaymentPeriod       `json:"next_due,omitempty"`
}

// PaymentStats computes the payment summary of a lease from its persisted
// payments, periods and late fees.
func (s *Service) PaymentStats(ctx context.Context, tc domain.TenantContext, leaseID uuid.UUID) (*PaymentStats, error) {
	c := s.read()
	l, err := c.GetLease(ctx, tc.AgencyID, leaseID)
	if err != nil {
		return nil, err
	}
	st := &PaymentStats{LeaseID: l.ID, Periods: make(map[domain.PeriodStatus]int)}

	payments, err := c.ListPayments(ctx, tc.AgencyID, store.PaymentFilter{LeaseID: &leaseID, Status: domain.PaymentPaid})
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		switch p.PaymentType {
		case domain.PaymentTypeRent:
			st.RentPaid += p.Amount
		case domain.PaymentTypeDeposit, domain.PaymentTypeAgencyFees:
			st.InitialPaid += p.Amount
		case domain.PaymentTypeLateFee:
			st.LateFeesPaid += p.Amount
		}
	}

	periods, err := c.ListPeriods(ctx, tc.AgencyID, store.PeriodFilter{LeaseID: &leaseID})
	if err != nil {
		return nil, err
	}
	for _, p := range periods {
		st.Periods[p.Status]++
		if p.Status == domain.PeriodPending || p.Status == domain.PeriodLate {
			st.Outstanding += p.Amount
		}
		if st.NextDue == nil && p.Status.Payable() {
			st.NextDue = p
		}
	}

	fees, err := c.ListLateFees(ctx, tc.AgencyID, &leaseID, domain.LateFeePending)
	if err != nil {
		return nil, err
	}
	for _, f := range fees {
		st.PendingLateFees += f.Amount
	}
	return st, nil
}
