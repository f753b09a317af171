package rent

import (
	"context"

	"github.com/google/uuid"

	"github.com/matthewbaird/rentflow/internal/billing"
	"github.com/matthewbaird/rentflow/internal/domain"
	"github.com/matthewbaird/rentflow/internal/event"
	"github.com/matthewbaird/rentflow/internal/store"
	"github.com/matthewbaird/rentflow/internal/types"
)

// ListLateFees lists late fees, optionally for one lease and one status.
func (s *Service) ListLateFees(ctx context.Context, tc domain.TenantContext, leaseID *uuid.UUID, status domain.LateFeeStatus) ([]*domain.LateFee, error) {
	return s.read().ListLateFees(ctx, tc.AgencyID, leaseID, status)
}

// PayLateFee records a late_fee payment for a pending fee and marks it paid.
func (s *Service) PayLateFee(ctx context.Context, tc domain.TenantContext, feeID uuid.UUID, method string, date types.Date, audit domain.Audit) (*domain.LateFee, *domain.Payment, error) {
	if method == "" {
		return nil, nil, domain.Invalid("payment_method is required")
	}
	date = s.today(date)
	var (
		fee     *domain.LateFee
		payment *domain.Payment
	)
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		f, err := c.GetLateFee(ctx, tc.AgencyID, feeID)
		if err != nil {
			return err
		}
		fee = f
		if err := domain.ValidateTransition(domain.ValidLateFeeTransitions, f.Status, domain.LateFeePaid); err != nil {
			return err
		}
		leaseID := f.LeaseID
		payment = &domain.Payment{
			ID:                uuid.New(),
			AgencyID:          f.AgencyID,
			LeaseID:           &leaseID,
			Amount:            f.Amount,
			PaymentDate:       date,
			Status:            domain.PaymentPaid,
			PaymentMethod:     method,
			PaymentType:       domain.PaymentTypeLateFee,
			PaymentStatusType: domain.PaymentLateArr,
		}
		if err := c.CreatePayment(ctx, payment, audit); err != nil {
			return err
		}
		return c.ResolveLateFee(ctx, f, domain.LateFeePaid)
	})
	if err != nil {
		return nil, nil, err
	}
	s.emit(ctx, event.NewLateFeeResolved(fee))
	return fee, payment, nil
}

// CancelLateFee waives a pending late fee.
func (s *Service) CancelLateFee(ctx context.Context, tc domain.TenantContext, feeID uuid.UUID) (*domain.LateFee, error) {
	var fee *domain.LateFee
	err := s.write(ctx, tc, func(c *store.Conn, _ *domain.Agency) error {
		f, err := c.GetLateFee(ctx, tc.AgencyID, feeID)
		if err != nil {
			return err
		}
		fee = f
		return c.ResolveLateFee(ctx, f, domain.LateFeeCancelled)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, event.NewLateFeeResolved(fee))
	return fee, nil
}

// LateFeePreview is what a period would be charged if it were settled on AsOf.
type LateFeePreview struct {
	PeriodID        uuid.UUID  `json:"period_id"`
	DueDate         types.Date `json:"due_date"`
	AsOf            types.Date `json:"as_of"`
	DaysLate        int        `json:"days_late"`
	GracePeriodDays int        `json:"grace_period_days"`
	RentAmount      int64      `json:"rent_amount"`
	FeeAmount       int64      `json:"fee_amount"`
	TotalDue        int64      `json:"total_due"`
}

// PreviewLateFee computes the late fee of a period without writing anything.
func (s *Service) PreviewLateFee(ctx context.Context, tc domain.TenantContext, periodID uuid.UUID, asOf types.Date) (*LateFeePreview, error) {
	asOf = s.today(asOf)
	periods, err := s.read().GetPeriods(ctx, tc.AgencyID, []uuid.UUID{periodID})
	if err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return nil, store.ErrNotFound
	}
	p := periods[0]
	policy := s.opts.LateFeePolicy
	days := billing.DaysLate(p.DueDate, asOf)
	fee := billing.LateFee(days, p.Amount, policy)
	return &LateFeePreview{
		PeriodID:        p.ID,
		DueDate:         p.DueDate,
		AsOf:            asOf,
		DaysLate:        days,
		GracePeriodDays: policy.GracePeriodDays,
		RentAmount:      p.Amount,
		FeeAmount:       fee,
		TotalDue:        p.Amount + fee,
	}, nil
}
