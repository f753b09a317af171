package rent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/billing"
	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// InitialMode selects how the agency fee of the initial payments is found.
type InitialMode string

const (
	// ModeComputed charges AgencyFeeMonths times the rent.
	ModeComputed InitialMode = "handle_initial_payments"
	// ModeSimple takes the agency fee from the caller, or from the lease.
	ModeSimple InitialMode = "handle_simple_initial_payments"
)

// InitialPaymentsInput records the deposit and agency fees of a lease.
type InitialPaymentsInput struct {
	LeaseID uuid.UUID   `json:"lease_id"`
	Mode    InitialMode `json:"mode"`
	// DepositAmount defaults to the lease's deposit when zero.
	DepositAmount int64      `json:"deposit_amount"`
	AgencyFees    *int64     `json:"agency_fees,omitempty"`
	Method        string     `json:"payment_method"`
	Date          types.Date `json:"payment_date"`
}

// InitialPaymentsResult is the outcome of RecordInitialPayments.
type InitialPaymentsResult struct {
	Lease      *domain.Lease   `json:"lease"`
	Deposit    *domain.Payment `json:"deposit"`
	AgencyFees *domain.Payment `json:"agency_fees"`
	// AlreadyCompleted is set when the payments were recorded by an earlier
	// call and nothing was written.
	AlreadyCompleted bool     `json:"already_completed"`
	Stale            []string `json:"stale"`
}

var initialStale = []string{domain.StaleLease, domain.StalePaymentStats, domain.StalePropertyUnits}

// RecordInitialPayments records the deposit and agency fee payments of a
// pending lease and activates it. Calling it again for the same lease
// returns the existing payments without writing.
func (s *Service) RecordInitialPayments(ctx context.Context, tc domain.TenantContext, in InitialPaymentsInput, audit domain.Audit) (*InitialPaymentsResult, error) {
	if in.Mode == "" {
		in.Mode = ModeSimple
	}
	if in.Mode != ModeComputed && in.Mode != ModeSimple {
		return nil, domain.Invalid("unknown initial payment mode %q", in.Mode)
	}
	if in.Method == "" {
		return nil, domain.Invalid("payment_method is required")
	}
	if in.DepositAmount < 0 || (in.AgencyFees != nil && *in.AgencyFees < 0) {
		return nil, domain.Invalid("amounts must not be negative")
	}
	date := s.today(in.Date)

	res := &InitialPaymentsResult{Stale: initialStale}
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		l, err := c.GetLease(ctx, tc.AgencyID, in.LeaseID)
		if err != nil {
			return err
		}
		res.Lease = l
		if l.InitialPaymentsCompleted {
			res.AlreadyCompleted = true
			return loadInitialPayments(ctx, c, res)
		}
		if err := domain.ValidateTransition(domain.ValidLeaseTransitions, l.Status, domain.LeaseActive); err != nil {
			return err
		}

		deposit := in.DepositAmount
		if deposit == 0 {
			deposit = l.DepositAmount
		}
		var fees int64
		switch {
		case in.Mode == ModeComputed:
			fees = billing.AgencyFees(l.RentAmount, s.opts.AgencyFeeMonths)
		case in.AgencyFees != nil:
			fees = *in.AgencyFees
		default:
			fees = l.AgencyFees
		}

		start := l.StartDate
		res.Deposit = initialPayment(l, domain.PaymentTypeDeposit, deposit, in.Method, date, &start)
		res.AgencyFees = initialPayment(l, domain.PaymentTypeAgencyFees, fees, in.Method, date, &start)
		for _, p := range []*domain.Payment{res.Deposit, res.AgencyFees} {
			if err := c.CreatePayment(ctx, p, audit); err != nil {
				return err
			}
		}
		return c.CompleteInitialPayments(ctx, l, audit)
	})
	if err != nil {
		// A concurrent call may have won the partial unique index or the
		// lease guard. Report its result instead of the conflict.
		if isUniqueViolation(err) || isConflict(err) {
			if done, lerr := s.completedInitial(ctx, tc, in.LeaseID); lerr == nil && done != nil {
				return done, nil
			}
		}
		return nil, err
	}
	if !res.AlreadyCompleted {
		s.emit(ctx, event.NewInitialPaymentsRecorded(res.Lease, res.Deposit.Amount, res.AgencyFees.Amount, string(in.Mode)))
	}
	return res, nil
}

func initialPayment(l *domain.Lease, typ domain.PaymentType, amount int64, method string, date types.Date, due *types.Date) *domain.Payment {
	leaseID := l.ID
	return &domain.Payment{
		ID:                uuid.New(),
		AgencyID:          l.AgencyID,
		LeaseID:           &leaseID,
		Amount:            amount,
		PaymentDate:       date,
		DueDate:           due,
		Status:            domain.PaymentPaid,
		PaymentMethod:     method,
		PaymentType:       typ,
		PaymentStatusType: domain.PaymentInitial,
	}
}

func loadInitialPayments(ctx context.Context, c *store.Conn, res *InitialPaymentsResult) error {
	leaseID := res.Lease.ID
	payments, err := c.ListPayments(ctx, res.Lease.AgencyID, store.PaymentFilter{
		LeaseID: &leaseID,
		Types:   []domain.PaymentType{domain.PaymentTypeDeposit, domain.PaymentTypeAgencyFees},
	})
	if err != nil {
		return fmt.Errorf("loading initial payments: %w", err)
	}
	for _, p := range payments {
		if p.Status == domain.PaymentCancelled {
			continue
		}
		switch p.PaymentType {
		case domain.PaymentTypeDeposit:
			res.Deposit = p
		case domain.PaymentTypeAgencyFees:
			res.AgencyFees = p
		}
	}
	return nil
}

func (s *Service) completedInitial(ctx context.Context, tc domain.TenantContext, leaseID uuid.UUID) (*InitialPaymentsResult, error) {
	c := s.read()
	l, err := c.GetLease(ctx, tc.AgencyID, leaseID)
	if err != nil {
		return nil, err
	}
	if !l.InitialPaymentsCompleted {
		return nil, nil
	}
	res := &InitialPaymentsResult{Lease: l, AlreadyCompleted: true, Stale: initialStale}
	if err := loadInitialPayments(ctx, c, res); err != nil {
		return nil, err
	}
	return res, nil
}
